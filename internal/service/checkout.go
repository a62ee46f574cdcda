package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fifoshop/backend/internal/costing"
	"fifoshop/backend/internal/domain"
	"fifoshop/backend/internal/fifo"
	"fifoshop/backend/internal/store"
	"fifoshop/backend/internal/xid"
)

// Sell records a single-item sale. The stock check, FIFO allocation and
// batch debits run in one unit of work.
func (s *Service) Sell(ctx context.Context, shopID int64, req domain.SellRequest) (domain.SaleResponse, error) {
	actor, err := s.authorize(ctx, shopID)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	line := domain.LineItem{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
		Note:      strings.TrimSpace(req.Note),
	}
	if err := validateLine(line); err != nil {
		return domain.SaleResponse{}, err
	}
	soldOn, err := s.parseDay(req.SoldOn)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	var sale domain.Sale
	err = s.repo.WithinTx(ctx, func(tx store.LedgerTx) error {
		sales, err := s.recordLines(ctx, tx, shopID, soldOn, 0, []domain.LineItem{line})
		if err != nil {
			return err
		}
		sale = sales[0]
		return nil
	})
	if err != nil {
		s.logRejected(actor, shopID, "sale", err)
		return domain.SaleResponse{}, err
	}

	s.event(actor, shopID).
		Int64("sale_id", sale.ID).
		Int64("product_id", sale.ProductID).
		Int("qty", sale.Quantity).
		Str("cost_basis", sale.CostBasis.String()).
		Msg("sale recorded")
	return domain.SaleResponse{Sale: sale, RealizedMargin: costing.RealizedMargin(sale)}, nil
}

// Checkout records a multi-item invoice. Either every line is allocated and
// debited or nothing is written.
func (s *Service) Checkout(ctx context.Context, shopID int64, req domain.CheckoutRequest) (domain.InvoiceResponse, error) {
	actor, err := s.authorize(ctx, shopID)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}
	if len(req.LineItems) == 0 {
		return domain.InvoiceResponse{}, fmt.Errorf("%w: checkout needs at least one line item", domain.ErrInvalidInput)
	}
	for i, line := range req.LineItems {
		if err := validateLine(line); err != nil {
			return domain.InvoiceResponse{}, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	issuedOn, err := s.parseDay(req.IssuedOn)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}

	header := domain.Invoice{
		ShopID:   shopID,
		Number:   xid.New("inv"),
		IssuedOn: issuedOn,
		Customer: domain.Customer{
			Name:    strings.TrimSpace(req.Customer.Name),
			Details: strings.TrimSpace(req.Customer.Details),
		},
	}

	var invoice domain.Invoice
	err = s.repo.WithinTx(ctx, func(tx store.LedgerTx) error {
		created, err := tx.CreateInvoice(ctx, header)
		if err != nil {
			return err
		}
		invoice = *created

		lines, err := s.recordLines(ctx, tx, shopID, issuedOn, invoice.ID, req.LineItems)
		if err != nil {
			return err
		}
		invoice.Lines = lines
		invoice.TotalAmount = decimal.Zero
		invoice.CostBasis = decimal.Zero
		for _, line := range lines {
			invoice.TotalAmount = invoice.TotalAmount.Add(line.TotalPrice)
			invoice.CostBasis = invoice.CostBasis.Add(line.CostBasis)
		}
		return tx.FinalizeInvoice(ctx, invoice)
	})
	if err != nil {
		s.logRejected(actor, shopID, "checkout", err)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.InvoiceResponse{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		return domain.InvoiceResponse{}, err
	}

	s.event(actor, shopID).
		Int64("invoice_id", invoice.ID).
		Str("number", invoice.Number).
		Int("lines", len(invoice.Lines)).
		Str("total", invoice.TotalAmount.String()).
		Str("cost_basis", invoice.CostBasis.String()).
		Msg("checkout recorded")
	return domain.InvoiceResponse{Invoice: invoice, RealizedMargin: costing.InvoiceMargin(invoice)}, nil
}

func validateLine(line domain.LineItem) error {
	if line.ProductID < 1 {
		return fmt.Errorf("%w: product id is required", domain.ErrInvalidInput)
	}
	if line.Quantity < 1 || !line.UnitPrice.IsPositive() {
		return domain.ErrInvalidQuantity
	}
	return checkMoneyScale("unit price", line.UnitPrice)
}

func checkMoneyScale(field string, value decimal.Decimal) error {
	if !domain.FitsMoneyScale(value) {
		return fmt.Errorf("%w: %s has more than %d decimal places", domain.ErrInvalidQuantity, field, domain.MoneyScale)
	}
	return nil
}

// recordLines locks every batch the lines may touch, then allocates and
// debits line by line against that locked snapshot. A product appearing on
// several lines sees the debits of the earlier ones.
func (s *Service) recordLines(ctx context.Context, tx store.LedgerTx, shopID int64, day time.Time, invoiceID int64, lines []domain.LineItem) ([]domain.Sale, error) {
	productIDs := make([]int64, 0, len(lines))
	for _, line := range lines {
		productIDs = append(productIDs, line.ProductID)
	}
	slices.Sort(productIDs)
	productIDs = slices.Compact(productIDs)

	products := make(map[int64]domain.Product, len(productIDs))
	for _, id := range productIDs {
		product, err := tx.GetProduct(ctx, shopID, id)
		if err != nil {
			return nil, fmt.Errorf("product %d: %w", id, err)
		}
		if !product.Active {
			return nil, fmt.Errorf("product %d: %w", id, domain.ErrProductArchived)
		}
		products[id] = *product
	}

	batches, err := tx.LockAvailableBatches(ctx, shopID, productIDs)
	if err != nil {
		return nil, err
	}

	sales := make([]domain.Sale, 0, len(lines))
	for i, line := range lines {
		plan, err := fifo.Allocate(line.ProductID, line.Quantity, batches)
		if err != nil {
			return nil, lineError(i, len(lines), err)
		}
		if err := fifo.Apply(plan, batches); err != nil {
			return nil, lineError(i, len(lines), err)
		}

		allocations := make([]domain.SaleAllocation, 0, len(plan.Lines))
		for _, step := range plan.Lines {
			// Apply checked the snapshot; DebitBatch re-checks the stored row.
			if err := tx.DebitBatch(ctx, shopID, step.BatchID, step.Quantity); err != nil {
				return nil, lineError(i, len(lines), err)
			}
			allocations = append(allocations, domain.SaleAllocation{
				BatchID:  step.BatchID,
				Quantity: step.Quantity,
				UnitCost: step.UnitCost,
			})
		}

		sale, err := tx.CreateSale(ctx, domain.Sale{
			ShopID:      shopID,
			ProductID:   line.ProductID,
			InvoiceID:   invoiceID,
			SoldOn:      day,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			TotalPrice:  line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))),
			CostBasis:   plan.CostBasis,
			Note:        strings.TrimSpace(line.Note),
			Allocations: allocations,
		})
		if err != nil {
			return nil, lineError(i, len(lines), err)
		}
		sale.ProductName = products[line.ProductID].Name
		sales = append(sales, *sale)
	}
	return sales, nil
}

func lineError(index int, total int, err error) error {
	if total == 1 {
		return err
	}
	return fmt.Errorf("line %d: %w", index+1, err)
}

func (s *Service) logRejected(actor domain.Actor, shopID int64, what string, err error) {
	ev := s.log.Warn()
	if errors.Is(err, domain.ErrStorageFailure) {
		ev = s.log.Error()
	}
	ev.Err(err).Str("actor", actor.Username).Int64("shop_id", shopID).Msg(what + " rejected")
}

func (s *Service) GetSale(ctx context.Context, shopID int64, saleID int64) (domain.SaleResponse, error) {
	if _, err := s.authorize(ctx, shopID); err != nil {
		return domain.SaleResponse{}, err
	}
	sale, err := s.repo.GetSale(ctx, shopID, saleID)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	return domain.SaleResponse{Sale: *sale, RealizedMargin: costing.RealizedMargin(*sale)}, nil
}

func (s *Service) GetInvoice(ctx context.Context, shopID int64, invoiceID int64) (domain.InvoiceResponse, error) {
	if _, err := s.authorize(ctx, shopID); err != nil {
		return domain.InvoiceResponse{}, err
	}
	invoice, err := s.repo.GetInvoice(ctx, shopID, invoiceID)
	if err != nil {
		return domain.InvoiceResponse{}, err
	}
	return domain.InvoiceResponse{Invoice: *invoice, RealizedMargin: costing.InvoiceMargin(*invoice)}, nil
}

// ListSales returns the sales recorded between from and to inclusive.
func (s *Service) ListSales(ctx context.Context, shopID int64, from string, to string) ([]domain.Sale, error) {
	if _, err := s.authorize(ctx, shopID); err != nil {
		return nil, err
	}
	start, end, err := s.parseRange(from, to)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSales(ctx, shopID, start, end)
}
