package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fifoshop/backend/internal/domain"
	"fifoshop/backend/internal/store/memory"
)

type harness struct {
	svc      *Service
	repo     *memory.Store
	shopID   int64
	admin    context.Context
	operator context.Context
}

func newHarness(t *testing.T) harness {
	t.Helper()
	repo := memory.New()
	shop, err := repo.CreateShop(context.Background(), "Corner Shop")
	require.NoError(t, err)

	svc := New(repo, 5)
	svc.now = func() time.Time { return time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC) }

	return harness{
		svc:      svc,
		repo:     repo,
		shopID:   shop.ID,
		admin:    WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin, ShopID: shop.ID}),
		operator: WithActor(context.Background(), domain.Actor{Username: "operator", Role: domain.RoleOperator, ShopID: shop.ID}),
	}
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func (h harness) product(t *testing.T, name string, price string) domain.Product {
	t.Helper()
	p, err := h.svc.CreateProduct(h.admin, h.shopID, domain.ProductCreateRequest{Name: name, RecommendedPrice: dec(price)})
	require.NoError(t, err)
	return p
}

func (h harness) receive(t *testing.T, productID int64, day string, qty int, cost string) domain.InventoryBatch {
	t.Helper()
	b, err := h.svc.ReceiveStock(h.operator, h.shopID, domain.ReceiveStockRequest{
		ProductID:  productID,
		ReceivedOn: day,
		Quantity:   qty,
		UnitCost:   dec(cost),
	})
	require.NoError(t, err)
	return b
}

func (h harness) remaining(t *testing.T, batchID int64) int {
	t.Helper()
	b, err := h.repo.GetBatch(context.Background(), h.shopID, batchID)
	require.NoError(t, err)
	return b.RemainingQty
}

func TestSellConsumesOldestBatchFirst(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "Rice 1kg", "5.00")
	late := h.receive(t, p.ID, "2024-01-05", 10, "3.00")
	early := h.receive(t, p.ID, "2024-01-01", 10, "2.00")

	resp, err := h.svc.Sell(h.operator, h.shopID, domain.SellRequest{
		ProductID: p.ID,
		Quantity:  15,
		UnitPrice: dec("4.00"),
		SoldOn:    "2024-01-10",
		Note:      "walk-in",
	})
	require.NoError(t, err)

	sale := resp.Sale
	assert.True(t, sale.CostBasis.Equal(dec("35.00")), "cost basis %s", sale.CostBasis)
	assert.True(t, sale.TotalPrice.Equal(dec("60.00")))
	assert.Equal(t, "41.7", resp.RealizedMargin.String())
	require.Len(t, sale.Allocations, 2)
	assert.Equal(t, early.ID, sale.Allocations[0].BatchID)
	assert.Equal(t, 10, sale.Allocations[0].Quantity)
	assert.Equal(t, late.ID, sale.Allocations[1].BatchID)
	assert.Equal(t, 5, sale.Allocations[1].Quantity)

	assert.Equal(t, 0, h.remaining(t, early.ID))
	assert.Equal(t, 5, h.remaining(t, late.ID))

	stock, err := h.svc.CurrentStock(h.operator, h.shopID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stock)
}

func TestSellInsufficientStockLeavesLedgerUnchanged(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "Soap", "2.00")
	a := h.receive(t, p.ID, "2024-01-01", 5, "1.00")
	b := h.receive(t, p.ID, "2024-01-02", 3, "1.10")

	_, err := h.svc.Sell(h.operator, h.shopID, domain.SellRequest{ProductID: p.ID, Quantity: 9, UnitPrice: dec("2.00")})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 8, stockErr.Available)
	assert.Equal(t, 9, stockErr.Requested)

	assert.Equal(t, 5, h.remaining(t, a.ID))
	assert.Equal(t, 3, h.remaining(t, b.ID))
	sales, err := h.svc.ListSales(h.operator, h.shopID, "2024-01-01", "2024-12-31")
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestSellRejectsBadInputBeforeStorage(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "Soap", "2.00")
	h.receive(t, p.ID, "2024-01-01", 5, "1.00")

	_, err := h.svc.Sell(h.operator, h.shopID, domain.SellRequest{ProductID: p.ID, Quantity: 0, UnitPrice: dec("2.00")})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	_, err = h.svc.Sell(h.operator, h.shopID, domain.SellRequest{ProductID: p.ID, Quantity: 1, UnitPrice: dec("0")})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	_, err = h.svc.Sell(h.operator, h.shopID, domain.SellRequest{ProductID: p.ID, Quantity: 1, UnitPrice: dec("2"), SoldOn: "10/01/2024"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = h.svc.Sell(h.operator, h.shopID, domain.SellRequest{ProductID: p.ID + 1000, Quantity: 1, UnitPrice: dec("2")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSellArchivedProduct(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "Old Stock", "2.00")
	h.receive(t, p.ID, "2024-01-01", 5, "1.00")

	_, err := h.svc.ArchiveProduct(h.admin, h.shopID, p.ID)
	require.NoError(t, err)

	_, err = h.svc.Sell(h.operator, h.shopID, domain.SellRequest{ProductID: p.ID, Quantity: 1, UnitPrice: dec("2.00")})
	assert.ErrorIs(t, err, domain.ErrProductArchived)

	reactivated, err := h.svc.ReactivateProduct(h.admin, h.shopID, p.ID)
	require.NoError(t, err)
	assert.True(t, reactivated.Active)
	_, err = h.svc.Sell(h.operator, h.shopID, domain.SellRequest{ProductID: p.ID, Quantity: 1, UnitPrice: dec("2.00")})
	assert.NoError(t, err)
}

func TestCheckoutIsAllOrNothing(t *testing.T) {
	h := newHarness(t)
	tea := h.product(t, "Tea", "3.00")
	milk := h.product(t, "Milk", "1.50")
	teaBatch := h.receive(t, tea.ID, "2024-01-01", 10, "1.00")
	milkBatch := h.receive(t, milk.ID, "2024-01-01", 2, "0.80")

	_, err := h.svc.Checkout(h.operator, h.shopID, domain.CheckoutRequest{
		Customer: domain.Customer{Name: "Ana"},
		LineItems: []domain.LineItem{
			{ProductID: tea.ID, Quantity: 4, UnitPrice: dec("3.00")},
			{ProductID: milk.ID, Quantity: 3, UnitPrice: dec("1.50")},
		},
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "line 2")

	assert.Equal(t, 10, h.remaining(t, teaBatch.ID))
	assert.Equal(t, 2, h.remaining(t, milkBatch.ID))
	sales, err := h.svc.ListSales(h.operator, h.shopID, "", "")
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestCheckoutTotalsEqualSumOfLines(t *testing.T) {
	h := newHarness(t)
	tea := h.product(t, "Tea", "3.00")
	milk := h.product(t, "Milk", "1.50")
	h.receive(t, tea.ID, "2024-01-01", 3, "1.00")
	h.receive(t, tea.ID, "2024-01-02", 10, "1.20")
	h.receive(t, milk.ID, "2024-01-01", 5, "0.80")

	resp, err := h.svc.Checkout(h.operator, h.shopID, domain.CheckoutRequest{
		Customer: domain.Customer{Name: "Ana", Details: "Table 4"},
		IssuedOn: "2024-03-09",
		LineItems: []domain.LineItem{
			{ProductID: tea.ID, Quantity: 2, UnitPrice: dec("3.00")},
			{ProductID: milk.ID, Quantity: 5, UnitPrice: dec("1.50")},
			// Same product again: sees the two units already taken.
			{ProductID: tea.ID, Quantity: 2, UnitPrice: dec("2.50")},
		},
	})
	require.NoError(t, err)

	inv := resp.Invoice
	require.Len(t, inv.Lines, 3)
	assert.True(t, inv.Lines[0].CostBasis.Equal(dec("2.00")))
	assert.True(t, inv.Lines[1].CostBasis.Equal(dec("4.00")))
	assert.True(t, inv.Lines[2].CostBasis.Equal(dec("2.20")), "third line %s", inv.Lines[2].CostBasis)
	assert.True(t, inv.TotalAmount.Equal(dec("18.50")))
	assert.True(t, inv.CostBasis.Equal(dec("8.20")))
	assert.NotEmpty(t, inv.Number)
	assert.Equal(t, "2024-03-09", inv.IssuedOn.Format(domain.DateLayout))

	stored, err := h.svc.GetInvoice(h.operator, h.shopID, inv.ID)
	require.NoError(t, err)
	require.Len(t, stored.Invoice.Lines, 3)
	sum := decimal.Zero
	cost := decimal.Zero
	for _, line := range stored.Invoice.Lines {
		assert.Equal(t, inv.ID, line.InvoiceID)
		sum = sum.Add(line.TotalPrice)
		cost = cost.Add(line.CostBasis)
	}
	assert.True(t, stored.Invoice.TotalAmount.Equal(sum))
	assert.True(t, stored.Invoice.CostBasis.Equal(cost))
	assert.Equal(t, "Table 4", stored.Invoice.Customer.Details)
}

func TestCheckoutValidatesLines(t *testing.T) {
	h := newHarness(t)
	tea := h.product(t, "Tea", "3.00")

	_, err := h.svc.Checkout(h.operator, h.shopID, domain.CheckoutRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.svc.Checkout(h.operator, h.shopID, domain.CheckoutRequest{LineItems: []domain.LineItem{
		{ProductID: tea.ID, Quantity: -1, UnitPrice: dec("3.00")},
	}})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = h.svc.Checkout(h.operator, h.shopID, domain.CheckoutRequest{LineItems: []domain.LineItem{
		{ProductID: 9999, Quantity: 1, UnitPrice: dec("3.00")},
	}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDeleteBatchGuard(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "Flour", "2.00")
	touched := h.receive(t, p.ID, "2024-01-01", 10, "1.00")
	untouched := h.receive(t, p.ID, "2024-01-02", 10, "1.00")

	_, err := h.svc.Sell(h.operator, h.shopID, domain.SellRequest{ProductID: p.ID, Quantity: 3, UnitPrice: dec("2.00")})
	require.NoError(t, err)
	assert.Equal(t, 7, h.remaining(t, touched.ID))

	assert.ErrorIs(t, h.svc.DeleteBatch(h.admin, h.shopID, touched.ID), domain.ErrBatchInUse)
	require.NoError(t, h.svc.DeleteBatch(h.admin, h.shopID, untouched.ID))

	_, err = h.repo.GetBatch(context.Background(), h.shopID, untouched.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, h.svc.DeleteBatch(h.operator, h.shopID, touched.ID), domain.ErrForbidden)
}

func TestAverageCost(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "Sugar", "2.00")

	avg, err := h.svc.AverageCost(h.operator, h.shopID, p.ID)
	require.NoError(t, err)
	assert.Nil(t, avg)

	h.receive(t, p.ID, "2024-01-01", 4, "1.00")
	h.receive(t, p.ID, "2024-01-02", 6, "2.00")

	first, err := h.svc.AverageCost(h.operator, h.shopID, p.ID)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, first.Equal(dec("1.60")))

	second, err := h.svc.AverageCost(h.operator, h.shopID, p.ID)
	require.NoError(t, err)
	assert.True(t, first.Equal(*second))
}

func TestCostBasisSurvivesBatchEditAndDelete(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "Coffee", "10.00")
	b := h.receive(t, p.ID, "2024-01-01", 10, "4.00")

	resp, err := h.svc.Sell(h.operator, h.shopID, domain.SellRequest{ProductID: p.ID, Quantity: 2, UnitPrice: dec("10.00")})
	require.NoError(t, err)
	recorded := resp.Sale
	require.True(t, recorded.CostBasis.Equal(dec("8.00")))

	_, err = h.svc.EditBatch(h.admin, h.shopID, b.ID, domain.EditBatchRequest{Quantity: 10, UnitCost: dec("9.00"), Reset: true})
	require.NoError(t, err)
	require.NoError(t, h.svc.DeleteBatch(h.admin, h.shopID, b.ID))

	after, err := h.svc.GetSale(h.operator, h.shopID, recorded.ID)
	require.NoError(t, err)
	assert.True(t, after.Sale.CostBasis.Equal(dec("8.00")))
	assert.Equal(t, resp.RealizedMargin.String(), after.RealizedMargin.String())
	require.Len(t, after.Sale.Allocations, 1)
	assert.Zero(t, after.Sale.Allocations[0].BatchID)
	assert.True(t, after.Sale.Allocations[0].UnitCost.Equal(dec("4.00")))
}

func TestEditBatchPreservesConsumptionByDefault(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "Oil", "6.00")
	b := h.receive(t, p.ID, "2024-01-01", 10, "3.00")

	_, err := h.svc.Sell(h.operator, h.shopID, domain.SellRequest{ProductID: p.ID, Quantity: 4, UnitPrice: dec("6.00")})
	require.NoError(t, err)

	edited, err := h.svc.EditBatch(h.admin, h.shopID, b.ID, domain.EditBatchRequest{Quantity: 12, UnitCost: dec("3.50")})
	require.NoError(t, err)
	assert.Equal(t, 12, edited.InitialQty)
	assert.Equal(t, 8, edited.RemainingQty)
	assert.True(t, edited.UnitCost.Equal(dec("3.50")))

	_, err = h.svc.EditBatch(h.admin, h.shopID, b.ID, domain.EditBatchRequest{Quantity: 3, UnitCost: dec("3.50")})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	assert.Equal(t, 8, h.remaining(t, b.ID))

	reset, err := h.svc.EditBatch(h.admin, h.shopID, b.ID, domain.EditBatchRequest{Quantity: 3, UnitCost: dec("3.50"), Reset: true})
	require.NoError(t, err)
	assert.Equal(t, 3, reset.InitialQty)
	assert.Equal(t, 3, reset.RemainingQty)
	assert.True(t, reset.Untouched())

	_, err = h.svc.EditBatch(h.operator, h.shopID, b.ID, domain.EditBatchRequest{Quantity: 3, UnitCost: dec("3.50")})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestConcurrentSellsNeverOversell(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "Bread", "2.00")
	h.receive(t, p.ID, "2024-01-01", 6, "1.00")
	h.receive(t, p.ID, "2024-01-02", 4, "1.50")

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Sell(h.operator, h.shopID, domain.SellRequest{ProductID: p.ID, Quantity: 2, UnitPrice: dec("2.00")})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	}
	assert.Equal(t, 5, succeeded)

	stock, err := h.svc.CurrentStock(h.operator, h.shopID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stock)

	sales, err := h.svc.ListSales(h.operator, h.shopID, "", "")
	require.NoError(t, err)
	total := decimal.Zero
	for _, sale := range sales {
		total = total.Add(sale.CostBasis)
	}
	assert.True(t, total.Equal(dec("12.00")), "total cost %s", total)
}

func TestShopScopeIsEnforced(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "Eggs", "3.00")
	h.receive(t, p.ID, "2024-01-01", 5, "1.00")

	other, err := h.repo.CreateShop(context.Background(), "Other Shop")
	require.NoError(t, err)
	stranger := WithActor(context.Background(), domain.Actor{Username: "x", Role: domain.RoleAdmin, ShopID: other.ID})

	_, err = h.svc.Sell(stranger, h.shopID, domain.SellRequest{ProductID: p.ID, Quantity: 1, UnitPrice: dec("3.00")})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = h.svc.Sell(stranger, other.ID, domain.SellRequest{ProductID: p.ID, Quantity: 1, UnitPrice: dec("3.00")})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.Sell(context.Background(), h.shopID, domain.SellRequest{ProductID: p.ID, Quantity: 1, UnitPrice: dec("3.00")})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestProductCatalog(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "Green Tea", "4.50")

	_, err := h.svc.CreateProduct(h.admin, h.shopID, domain.ProductCreateRequest{Name: "green tea"})
	assert.ErrorIs(t, err, domain.ErrDuplicateName)
	_, err = h.svc.CreateProduct(h.admin, h.shopID, domain.ProductCreateRequest{Name: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = h.svc.CreateProduct(h.admin, h.shopID, domain.ProductCreateRequest{Name: "Cheap", RecommendedPrice: dec("-1")})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	_, err = h.svc.CreateProduct(h.operator, h.shopID, domain.ProductCreateRequest{Name: "Black Tea"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	name := "Jasmine Tea"
	price := dec("5.25")
	updated, err := h.svc.UpdateProduct(h.admin, h.shopID, p.ID, domain.ProductUpdateRequest{Name: &name, RecommendedPrice: &price})
	require.NoError(t, err)
	assert.Equal(t, "Jasmine Tea", updated.Name)
	assert.True(t, updated.RecommendedPrice.Equal(price))

	h.product(t, "Biscuits", "1.00")
	_, err = h.svc.ArchiveProduct(h.admin, h.shopID, p.ID)
	require.NoError(t, err)

	active, err := h.svc.ListProducts(h.operator, h.shopID, domain.ProductFilter{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Biscuits", active[0].Name)

	found, err := h.svc.ListProducts(h.operator, h.shopID, domain.ProductFilter{IncludeArchived: true, Search: "JASMINE"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.False(t, found[0].Active)
}

func TestReceiveStockValidation(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "Salt", "1.00")

	_, err := h.svc.ReceiveStock(h.operator, h.shopID, domain.ReceiveStockRequest{ProductID: p.ID, Quantity: 0, UnitCost: dec("1")})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	_, err = h.svc.ReceiveStock(h.operator, h.shopID, domain.ReceiveStockRequest{ProductID: p.ID, Quantity: 2, UnitCost: dec("0")})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	b, err := h.svc.ReceiveStock(h.operator, h.shopID, domain.ReceiveStockRequest{ProductID: p.ID, Quantity: 2, UnitCost: dec("0.40")})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10", b.ReceivedOn.Format(domain.DateLayout))
	assert.Equal(t, 2, b.RemainingQty)
}

func TestMoneyBeyondStoredScaleIsRejected(t *testing.T) {
	h := newHarness(t)
	p := h.product(t, "Saffron", "9.00")
	b := h.receive(t, p.ID, "2024-01-01", 4, "2.5")

	_, err := h.svc.Checkout(h.operator, h.shopID, domain.CheckoutRequest{LineItems: []domain.LineItem{
		{ProductID: p.ID, Quantity: 1, UnitPrice: dec("0.00005")},
		{ProductID: p.ID, Quantity: 1, UnitPrice: dec("0.00005")},
	}})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	_, err = h.svc.Sell(h.operator, h.shopID, domain.SellRequest{ProductID: p.ID, Quantity: 1, UnitPrice: dec("9.12345")})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	assert.Equal(t, 4, h.remaining(t, b.ID))

	_, err = h.svc.ReceiveStock(h.operator, h.shopID, domain.ReceiveStockRequest{ProductID: p.ID, Quantity: 1, UnitCost: dec("1.00001")})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	_, err = h.svc.EditBatch(h.admin, h.shopID, b.ID, domain.EditBatchRequest{Quantity: 4, UnitCost: dec("2.49999")})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	_, err = h.svc.CreateProduct(h.admin, h.shopID, domain.ProductCreateRequest{Name: "Vanilla", RecommendedPrice: dec("3.00001")})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	price := dec("9.00009")
	_, err = h.svc.UpdateProduct(h.admin, h.shopID, p.ID, domain.ProductUpdateRequest{RecommendedPrice: &price})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	// Trailing zeros past the stored scale round-trip unchanged.
	sold, err := h.svc.Sell(h.operator, h.shopID, domain.SellRequest{ProductID: p.ID, Quantity: 2, UnitPrice: dec("9.500000")})
	require.NoError(t, err)
	assert.True(t, sold.Sale.TotalPrice.Equal(dec("19")))
	assert.True(t, sold.Sale.CostBasis.Equal(dec("5")))
}
