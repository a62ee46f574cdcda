package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"fifoshop/backend/internal/costing"
	"fifoshop/backend/internal/domain"
	"fifoshop/backend/internal/store"
)

// ReceiveStock records a delivery as a new batch with its full quantity
// remaining.
func (s *Service) ReceiveStock(ctx context.Context, shopID int64, req domain.ReceiveStockRequest) (domain.InventoryBatch, error) {
	actor, err := s.authorize(ctx, shopID)
	if err != nil {
		return domain.InventoryBatch{}, err
	}
	if req.Quantity < 1 || !req.UnitCost.IsPositive() {
		return domain.InventoryBatch{}, domain.ErrInvalidQuantity
	}
	if err := checkMoneyScale("unit cost", req.UnitCost); err != nil {
		return domain.InventoryBatch{}, err
	}
	receivedOn, err := s.parseDay(req.ReceivedOn)
	if err != nil {
		return domain.InventoryBatch{}, err
	}

	product, err := s.repo.GetProduct(ctx, shopID, req.ProductID)
	if err != nil {
		return domain.InventoryBatch{}, err
	}
	if !product.Active {
		return domain.InventoryBatch{}, domain.ErrProductArchived
	}

	created, err := s.repo.CreateBatch(ctx, domain.InventoryBatch{
		ShopID:     shopID,
		ProductID:  product.ID,
		ReceivedOn: receivedOn,
		InitialQty: req.Quantity,
		UnitCost:   req.UnitCost,
	})
	if err != nil {
		return domain.InventoryBatch{}, err
	}

	s.event(actor, shopID).
		Int64("batch_id", created.ID).
		Int64("product_id", created.ProductID).
		Int("qty", created.InitialQty).
		Str("unit_cost", created.UnitCost.String()).
		Msg("batch received")
	return *created, nil
}

// EditBatch applies an administrative correction. By default units already
// sold stay sold: remaining becomes the new quantity minus what was
// consumed. With Reset the batch starts over at the new quantity.
func (s *Service) EditBatch(ctx context.Context, shopID int64, batchID int64, req domain.EditBatchRequest) (domain.InventoryBatch, error) {
	actor, err := s.authorize(ctx, shopID, domain.RoleAdmin)
	if err != nil {
		return domain.InventoryBatch{}, err
	}
	if req.Quantity < 1 || !req.UnitCost.IsPositive() {
		return domain.InventoryBatch{}, domain.ErrInvalidQuantity
	}
	if err := checkMoneyScale("unit cost", req.UnitCost); err != nil {
		return domain.InventoryBatch{}, err
	}

	var edited domain.InventoryBatch
	var consumed int
	err = s.repo.WithinTx(ctx, func(tx store.LedgerTx) error {
		current, err := tx.LockBatch(ctx, shopID, batchID)
		if err != nil {
			return err
		}
		edited = *current
		consumed = current.Consumed()

		if req.Reset {
			edited.InitialQty = req.Quantity
			edited.RemainingQty = req.Quantity
		} else {
			if req.Quantity < consumed {
				return fmt.Errorf("%w: %d units of batch %d are already sold", domain.ErrInvalidQuantity, consumed, batchID)
			}
			edited.InitialQty = req.Quantity
			edited.RemainingQty = req.Quantity - consumed
		}
		edited.UnitCost = req.UnitCost
		return tx.UpdateBatch(ctx, edited)
	})
	if err != nil {
		return domain.InventoryBatch{}, err
	}

	ev := s.event(actor, shopID).
		Int64("batch_id", batchID).
		Int("qty", edited.InitialQty).
		Int("remaining", edited.RemainingQty).
		Str("unit_cost", edited.UnitCost.String())
	if req.Reset && consumed > 0 {
		ev = ev.Int("discarded_consumption", consumed)
	}
	ev.Msg("batch edited")
	return edited, nil
}

// DeleteBatch removes a batch only while none of it has been sold.
func (s *Service) DeleteBatch(ctx context.Context, shopID int64, batchID int64) error {
	actor, err := s.authorize(ctx, shopID, domain.RoleAdmin)
	if err != nil {
		return err
	}

	err = s.repo.WithinTx(ctx, func(tx store.LedgerTx) error {
		current, err := tx.LockBatch(ctx, shopID, batchID)
		if err != nil {
			return err
		}
		if !current.Untouched() {
			return domain.ErrBatchInUse
		}
		return tx.DeleteBatch(ctx, shopID, batchID)
	})
	if err != nil {
		return err
	}

	s.event(actor, shopID).Int64("batch_id", batchID).Msg("batch deleted")
	return nil
}

func (s *Service) ListBatches(ctx context.Context, shopID int64, filter domain.BatchFilter) ([]domain.InventoryBatch, error) {
	if _, err := s.authorize(ctx, shopID); err != nil {
		return nil, err
	}
	return s.repo.ListBatches(ctx, shopID, filter)
}

func (s *Service) CurrentStock(ctx context.Context, shopID int64, productID int64) (int, error) {
	if _, err := s.authorize(ctx, shopID); err != nil {
		return 0, err
	}
	totals, err := s.repo.ProductStock(ctx, shopID, productID)
	if err != nil {
		return 0, err
	}
	return totals.Remaining, nil
}

// AverageCost returns nil when the product has no stock.
func (s *Service) AverageCost(ctx context.Context, shopID int64, productID int64) (*decimal.Decimal, error) {
	if _, err := s.authorize(ctx, shopID); err != nil {
		return nil, err
	}
	totals, err := s.repo.ProductStock(ctx, shopID, productID)
	if err != nil {
		return nil, err
	}
	avg, ok := costing.AverageFromTotals(totals)
	if !ok {
		return nil, nil
	}
	return &avg, nil
}

// ProductStock reports the stock figures of one product.
func (s *Service) ProductStock(ctx context.Context, shopID int64, productID int64) (domain.StockStatusRow, error) {
	if _, err := s.authorize(ctx, shopID); err != nil {
		return domain.StockStatusRow{}, err
	}
	totals, err := s.repo.ProductStock(ctx, shopID, productID)
	if err != nil {
		return domain.StockStatusRow{}, err
	}
	return s.stockRow(totals), nil
}

func (s *Service) stockRow(totals domain.StockTotals) domain.StockStatusRow {
	row := domain.StockStatusRow{
		ProductID:   totals.ProductID,
		ProductName: totals.ProductName,
		Stock:       totals.Remaining,
		Level:       costing.ClassifyStock(totals.Remaining, s.lowStockThreshold),
	}
	if avg, ok := costing.AverageFromTotals(totals); ok {
		row.AverageUnitCost = &avg
	}
	return row
}
