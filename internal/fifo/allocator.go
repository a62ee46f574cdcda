// Package fifo turns a requested sale quantity into an ordered set of batch
// debits. It performs no I/O; callers hand it a ledger snapshot taken
// inside their own transaction.
package fifo

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"

	"fifoshop/backend/internal/domain"
)

// Compare orders batches oldest first: received date, then ID. IDs are
// assigned in insertion order, so the ordering is total.
func Compare(a domain.InventoryBatch, b domain.InventoryBatch) int {
	if c := a.ReceivedOn.Compare(b.ReceivedOn); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Available returns the batches of productID that still hold stock, in
// FIFO order. The input slice is not modified.
func Available(productID int64, batches []domain.InventoryBatch) []domain.InventoryBatch {
	result := make([]domain.InventoryBatch, 0, len(batches))
	for _, b := range batches {
		if b.ProductID != productID || b.RemainingQty < 1 {
			continue
		}
		result = append(result, b)
	}
	slices.SortFunc(result, Compare)
	return result
}

// Stock sums the remaining quantity of productID across batches.
func Stock(productID int64, batches []domain.InventoryBatch) int {
	total := 0
	for _, b := range batches {
		if b.ProductID == productID && b.RemainingQty > 0 {
			total += b.RemainingQty
		}
	}
	return total
}

// Allocate plans a debit of qty units of productID. Either the plan covers
// qty exactly or an *domain.InsufficientStockError is returned and no plan
// is produced.
func Allocate(productID int64, qty int, batches []domain.InventoryBatch) (domain.AllocationPlan, error) {
	if qty < 1 {
		return domain.AllocationPlan{}, domain.ErrInvalidQuantity
	}

	available := Stock(productID, batches)
	if available < qty {
		return domain.AllocationPlan{}, &domain.InsufficientStockError{
			ProductID: productID,
			Available: available,
			Requested: qty,
		}
	}

	plan := domain.AllocationPlan{
		ProductID: productID,
		Requested: qty,
		CostBasis: decimal.Zero,
	}
	needed := qty
	for _, b := range Available(productID, batches) {
		if needed == 0 {
			break
		}
		take := min(needed, b.RemainingQty)
		line := domain.AllocationLine{
			BatchID:  b.ID,
			Quantity: take,
			UnitCost: b.UnitCost,
		}
		plan.Lines = append(plan.Lines, line)
		plan.CostBasis = plan.CostBasis.Add(line.Cost())
		needed -= take
	}
	return plan, nil
}

// Apply subtracts a plan from a batch snapshot in place, so a second line
// for the same product within one checkout sees the earlier debit.
func Apply(plan domain.AllocationPlan, batches []domain.InventoryBatch) error {
	index := make(map[int64]int, len(batches))
	for i, b := range batches {
		index[b.ID] = i
	}
	for _, line := range plan.Lines {
		i, ok := index[line.BatchID]
		if !ok {
			return domain.ErrNotFound
		}
		if line.Quantity > batches[i].RemainingQty {
			return domain.ErrOverDebit
		}
	}
	for _, line := range plan.Lines {
		batches[index[line.BatchID]].RemainingQty -= line.Quantity
	}
	return nil
}
