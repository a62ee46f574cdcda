package postgres

import (
	"context"
	"database/sql"

	"fifoshop/backend/internal/domain"
)

type ledgerTx struct {
	tx *sql.Tx
}

func (t *ledgerTx) GetProduct(ctx context.Context, shopID int64, productID int64) (*domain.Product, error) {
	return getProduct(ctx, t.tx, shopID, productID, " FOR SHARE")
}

// LockAvailableBatches locks rows in (product_id, received_on, id) order so
// two carts touching overlapping products always acquire locks in the same
// sequence.
func (t *ledgerTx) LockAvailableBatches(ctx context.Context, shopID int64, productIDs []int64) ([]domain.InventoryBatch, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM inventory_batches
		WHERE shop_id = $1 AND product_id = ANY($2) AND remaining_qty > 0
		ORDER BY product_id, received_on, id
		FOR UPDATE
	`, shopID, productIDs)
	if err != nil {
		return nil, mapError("lock batches", err)
	}
	return collectBatches(rows, "lock batches")
}

func (t *ledgerTx) LockBatch(ctx context.Context, shopID int64, batchID int64) (*domain.InventoryBatch, error) {
	return getBatch(ctx, t.tx, shopID, batchID, " FOR UPDATE")
}

func (t *ledgerTx) DebitBatch(ctx context.Context, shopID int64, batchID int64, amount int) error {
	if amount < 1 {
		return domain.ErrInvalidQuantity
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE inventory_batches
		SET remaining_qty = remaining_qty - $3
		WHERE shop_id = $1 AND id = $2 AND remaining_qty >= $3
	`, shopID, batchID, amount)
	if err != nil {
		return mapError("debit batch", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapError("debit batch", err)
	}
	if affected == 1 {
		return nil
	}
	if _, err := getBatch(ctx, t.tx, shopID, batchID, ""); err != nil {
		return err
	}
	return domain.ErrOverDebit
}

func (t *ledgerTx) UpdateBatch(ctx context.Context, batch domain.InventoryBatch) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE inventory_batches
		SET initial_qty = $3, remaining_qty = $4, unit_cost = $5
		WHERE shop_id = $1 AND id = $2
	`, batch.ShopID, batch.ID, batch.InitialQty, batch.RemainingQty, batch.UnitCost)
	return expectOneRow("update batch", res, err)
}

func (t *ledgerTx) DeleteBatch(ctx context.Context, shopID int64, batchID int64) error {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM inventory_batches
		WHERE shop_id = $1 AND id = $2
	`, shopID, batchID)
	return expectOneRow("delete batch", res, err)
}

func (t *ledgerTx) CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	invoice.IssuedOn = domain.DateUTC(invoice.IssuedOn)
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO invoices (shop_id, number, issued_on, customer_name, customer_details)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at
	`, invoice.ShopID, invoice.Number, invoice.IssuedOn, invoice.Customer.Name, invoice.Customer.Details).Scan(&invoice.ID, &invoice.CreatedAt)
	if err != nil {
		return nil, mapError("create invoice", err)
	}
	invoice.CreatedAt = invoice.CreatedAt.UTC()
	invoice.Lines = nil
	return &invoice, nil
}

func (t *ledgerTx) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	sale.SoldOn = domain.DateUTC(sale.SoldOn)
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO sales (shop_id, product_id, invoice_id, sold_on, quantity, unit_price, total_price, cost_basis, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id, created_at
	`, sale.ShopID, sale.ProductID, nullID(sale.InvoiceID), sale.SoldOn, sale.Quantity,
		sale.UnitPrice, sale.TotalPrice, sale.CostBasis, sale.Note,
	).Scan(&sale.ID, &sale.CreatedAt)
	if err != nil {
		return nil, mapError("create sale", err)
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	allocations := make([]domain.SaleAllocation, len(sale.Allocations))
	for i, a := range sale.Allocations {
		a.SaleID = sale.ID
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_allocations (sale_id, position, batch_id, quantity, unit_cost)
			VALUES ($1,$2,$3,$4,$5)
		`, a.SaleID, i, nullID(a.BatchID), a.Quantity, a.UnitCost); err != nil {
			return nil, mapError("create sale allocation", err)
		}
		allocations[i] = a
	}
	sale.Allocations = allocations
	return &sale, nil
}

func (t *ledgerTx) FinalizeInvoice(ctx context.Context, invoice domain.Invoice) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE invoices
		SET total_amount = $3, cost_basis = $4
		WHERE shop_id = $1 AND id = $2
	`, invoice.ShopID, invoice.ID, invoice.TotalAmount, invoice.CostBasis)
	return expectOneRow("finalize invoice", res, err)
}

func expectOneRow(op string, res sql.Result, err error) error {
	if err != nil {
		return mapError(op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapError(op, err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
