package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"fifoshop/backend/internal/domain"
	"fifoshop/backend/internal/fifo"
)

// ledgerTx stages batch, sale and invoice writes. The owning Store's write
// lock is held for its whole lifetime, so it never locks on its own.
type ledgerTx struct {
	s        *Store
	batches  map[int64]domain.InventoryBatch
	deleted  map[int64]bool
	invoices map[int64]domain.Invoice
	sales    []domain.Sale
}

func (tx *ledgerTx) batch(shopID int64, batchID int64) (domain.InventoryBatch, error) {
	if tx.deleted[batchID] {
		return domain.InventoryBatch{}, domain.ErrNotFound
	}
	b, staged := tx.batches[batchID]
	if !staged {
		var exists bool
		b, exists = tx.s.batches[batchID]
		if !exists {
			return domain.InventoryBatch{}, domain.ErrNotFound
		}
	}
	if b.ShopID != shopID {
		return domain.InventoryBatch{}, domain.ErrNotFound
	}
	return b, nil
}

func (tx *ledgerTx) GetProduct(_ context.Context, shopID int64, productID int64) (*domain.Product, error) {
	return tx.s.product(shopID, productID)
}

func (tx *ledgerTx) LockAvailableBatches(_ context.Context, shopID int64, productIDs []int64) ([]domain.InventoryBatch, error) {
	wanted := make(map[int64]bool, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = true
	}

	result := make([]domain.InventoryBatch, 0, 16)
	for id := range tx.s.batches {
		b, err := tx.batch(shopID, id)
		if err != nil || !wanted[b.ProductID] || b.RemainingQty < 1 {
			continue
		}
		result = append(result, b)
	}
	slices.SortFunc(result, func(a, b domain.InventoryBatch) int {
		if c := cmp.Compare(a.ProductID, b.ProductID); c != 0 {
			return c
		}
		return fifo.Compare(a, b)
	})
	return result, nil
}

func (tx *ledgerTx) LockBatch(_ context.Context, shopID int64, batchID int64) (*domain.InventoryBatch, error) {
	b, err := tx.batch(shopID, batchID)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (tx *ledgerTx) DebitBatch(_ context.Context, shopID int64, batchID int64, amount int) error {
	b, err := tx.batch(shopID, batchID)
	if err != nil {
		return err
	}
	if amount < 1 {
		return domain.ErrInvalidQuantity
	}
	if amount > b.RemainingQty {
		return domain.ErrOverDebit
	}
	b.RemainingQty -= amount
	tx.batches[batchID] = b
	return nil
}

func (tx *ledgerTx) UpdateBatch(_ context.Context, batch domain.InventoryBatch) error {
	current, err := tx.batch(batch.ShopID, batch.ID)
	if err != nil {
		return err
	}
	if batch.InitialQty < 1 || batch.RemainingQty < 0 || batch.RemainingQty > batch.InitialQty || !batch.UnitCost.IsPositive() {
		return domain.ErrInvalidQuantity
	}
	current.InitialQty = batch.InitialQty
	current.RemainingQty = batch.RemainingQty
	current.UnitCost = batch.UnitCost
	tx.batches[batch.ID] = current
	return nil
}

func (tx *ledgerTx) DeleteBatch(_ context.Context, shopID int64, batchID int64) error {
	if _, err := tx.batch(shopID, batchID); err != nil {
		return err
	}
	delete(tx.batches, batchID)
	tx.deleted[batchID] = true
	return nil
}

func (tx *ledgerTx) CreateInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if _, exists := tx.s.shops[invoice.ShopID]; !exists {
		return nil, domain.ErrNotFound
	}
	invoice.ID = tx.s.newID()
	invoice.IssuedOn = domain.DateUTC(invoice.IssuedOn)
	invoice.CreatedAt = time.Now().UTC()
	invoice.Lines = nil
	tx.invoices[invoice.ID] = invoice
	return &invoice, nil
}

func (tx *ledgerTx) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if _, err := tx.s.product(sale.ShopID, sale.ProductID); err != nil {
		return nil, err
	}
	if sale.InvoiceID != 0 {
		if _, staged := tx.invoices[sale.InvoiceID]; !staged {
			return nil, domain.ErrNotFound
		}
	}
	sale.ID = tx.s.newID()
	sale.SoldOn = domain.DateUTC(sale.SoldOn)
	sale.CreatedAt = time.Now().UTC()
	sale.Allocations = slices.Clone(sale.Allocations)
	for i := range sale.Allocations {
		sale.Allocations[i].SaleID = sale.ID
	}
	tx.sales = append(tx.sales, sale)
	created := cloneSale(sale)
	return &created, nil
}

func (tx *ledgerTx) FinalizeInvoice(_ context.Context, invoice domain.Invoice) error {
	staged, exists := tx.invoices[invoice.ID]
	if !exists || staged.ShopID != invoice.ShopID {
		return domain.ErrNotFound
	}
	staged.TotalAmount = invoice.TotalAmount
	staged.CostBasis = invoice.CostBasis
	tx.invoices[invoice.ID] = staged
	return nil
}

func (tx *ledgerTx) apply() {
	s := tx.s
	for id, b := range tx.batches {
		s.batches[id] = b
	}
	for id, inv := range tx.invoices {
		s.invoices[id] = inv
	}
	for _, sale := range tx.sales {
		s.sales[sale.ID] = sale
	}
	if len(tx.deleted) == 0 {
		return
	}
	for id := range tx.deleted {
		delete(s.batches, id)
	}
	// Allocations keep their quantity and cost but lose the batch link.
	for saleID, sale := range s.sales {
		changed := false
		for i := range sale.Allocations {
			if tx.deleted[sale.Allocations[i].BatchID] {
				sale.Allocations[i].BatchID = 0
				changed = true
			}
		}
		if changed {
			s.sales[saleID] = sale
		}
	}
}
