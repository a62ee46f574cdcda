// Package costing holds the read-side formulas derived from the batch ledger
// and recorded sales. Nothing here mutates state.
package costing

import (
	"github.com/shopspring/decimal"

	"fifoshop/backend/internal/domain"
)

const marginPlaces = 1

var hundred = decimal.NewFromInt(100)

// AverageUnitCost is Σ(remaining × unit cost) / Σ(remaining) over batches
// that still hold stock. ok is false when there is no stock.
func AverageUnitCost(batches []domain.InventoryBatch) (avg decimal.Decimal, ok bool) {
	totalQty := 0
	totalCost := decimal.Zero
	for _, b := range batches {
		if b.RemainingQty < 1 {
			continue
		}
		totalQty += b.RemainingQty
		totalCost = totalCost.Add(b.UnitCost.Mul(decimal.NewFromInt(int64(b.RemainingQty))))
	}
	return averageOf(totalCost, totalQty)
}

// AverageFromTotals is AverageUnitCost for callers that already summed the
// ledger in storage.
func AverageFromTotals(totals domain.StockTotals) (decimal.Decimal, bool) {
	return averageOf(totals.RemainingCost, totals.Remaining)
}

func averageOf(totalCost decimal.Decimal, totalQty int) (decimal.Decimal, bool) {
	if totalQty < 1 {
		return decimal.Zero, false
	}
	return totalCost.DivRound(decimal.NewFromInt(int64(totalQty)), 4), true
}

// Margin is (price - cost) / price × 100, rounded to one decimal place.
// It is zero when price is not positive.
func Margin(price decimal.Decimal, cost decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return price.Sub(cost).Div(price).Mul(hundred).Round(marginPlaces)
}

// ProjectedMargin compares the recommended price against the current
// average cost. ok is false unless both are positive.
func ProjectedMargin(recommendedPrice decimal.Decimal, averageCost decimal.Decimal) (decimal.Decimal, bool) {
	if !recommendedPrice.IsPositive() || !averageCost.IsPositive() {
		return decimal.Zero, false
	}
	return Margin(recommendedPrice, averageCost), true
}

// RealizedMargin uses the cost basis frozen on the sale, never the ledger.
func RealizedMargin(sale domain.Sale) decimal.Decimal {
	return Margin(sale.TotalPrice, sale.CostBasis)
}

func InvoiceMargin(invoice domain.Invoice) decimal.Decimal {
	return Margin(invoice.TotalAmount, invoice.CostBasis)
}

// ClassifyStock maps a stock figure onto ok, low or out. Out blocks new
// sales; low is a warning below threshold.
func ClassifyStock(stock int, threshold int) domain.StockLevel {
	switch {
	case stock <= 0:
		return domain.StockLevelOut
	case stock < threshold:
		return domain.StockLevelLow
	default:
		return domain.StockLevelOK
	}
}
