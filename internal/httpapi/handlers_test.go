package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fifoshop/backend/internal/cache"
	"fifoshop/backend/internal/domain"
	"fifoshop/backend/internal/service"
	"fifoshop/backend/internal/store/memory"
)

// newTestAPI builds a full API with a seeded in-memory store, real
// AuthManager and real Service so handler tests exercise the complete
// request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_OPERATOR_PASSWORD", "operator123")

	repo := memory.NewSeeded("Test Shop")
	svc := service.New(repo, 5)
	auth := NewAuthManager("test-secret-key-test-secret-key!", time.Hour, repo, cache.NewMemoryTokenBlocklist())

	return New(svc, auth, "*")
}

func call(t *testing.T, api *API, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	rec := call(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var payload domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	require.NotEmpty(t, strings.TrimSpace(payload.AccessToken))
	return payload.AccessToken
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

// stockedProduct creates a product with two batches: 2 units at 10 and then
// 5 units at 5.
func stockedProduct(t *testing.T, api *API, token string) domain.Product {
	t.Helper()

	rec := call(t, api, http.MethodPost, "/api/v1/products", token, map[string]any{
		"name":              "Olive Oil 1L",
		"recommended_price": "12.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	product := decodeBody[struct {
		Product domain.Product `json:"product"`
	}](t, rec).Product

	for _, batch := range []map[string]any{
		{"product_id": product.ID, "received_on": "2024-01-01", "quantity": 2, "unit_cost": "10"},
		{"product_id": product.ID, "received_on": "2024-01-02", "quantity": 5, "unit_cost": "5"},
	} {
		rec := call(t, api, http.MethodPost, "/api/v1/batches", token, batch)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	return product
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := call(t, api, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestHandleLogin(t *testing.T) {
	api := newTestAPI(t)

	rec := call(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[domain.LoginResponse](t, rec)
	assert.Equal(t, domain.RoleAdmin, resp.Role)
	assert.Positive(t, resp.ShopID)

	rec = call(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "ghost", Password: "admin123"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)

	rec := call(t, api, http.MethodGet, "/api/v1/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, api, http.MethodGet, "/api/v1/products", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOperatorCannotManageCatalog(t *testing.T) {
	api := newTestAPI(t)
	token := login(t, api, "operator", "operator123")

	rec := call(t, api, http.MethodPost, "/api/v1/products", token, map[string]any{"name": "Salt", "recommended_price": "1"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, api, http.MethodDelete, "/api/v1/batches/1", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSellUsesOldestBatchFirst(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")
	operator := login(t, api, "operator", "operator123")
	product := stockedProduct(t, api, admin)

	rec := call(t, api, http.MethodPost, "/api/v1/sales", operator, map[string]any{
		"product_id": product.ID,
		"quantity":   5,
		"unit_price": "12",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeBody[domain.SaleResponse](t, rec)
	assert.True(t, resp.Sale.CostBasis.Equal(decimal.NewFromInt(35)), resp.Sale.CostBasis.String())
	assert.True(t, resp.Sale.TotalPrice.Equal(decimal.NewFromInt(60)))
	require.Len(t, resp.Sale.Allocations, 2)
	assert.Equal(t, 2, resp.Sale.Allocations[0].Quantity)
	assert.Equal(t, 3, resp.Sale.Allocations[1].Quantity)

	rec = call(t, api, http.MethodGet, "/api/v1/products/"+itoa(product.ID)+"/stock", operator, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stock := decodeBody[struct {
		Stock domain.StockStatusRow `json:"stock"`
	}](t, rec).Stock
	assert.Equal(t, 2, stock.Stock)
	assert.Equal(t, domain.StockLevelLow, stock.Level)

	rec = call(t, api, http.MethodGet, "/api/v1/sales/"+itoa(resp.Sale.ID), operator, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSellShortfallReportsFigures(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")
	product := stockedProduct(t, api, admin)

	rec := call(t, api, http.MethodPost, "/api/v1/sales", admin, map[string]any{
		"product_id": product.ID,
		"quantity":   8,
		"unit_price": "12",
	})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	body := decodeBody[map[string]any](t, rec)
	assert.EqualValues(t, 7, body["available"])
	assert.EqualValues(t, 8, body["requested"])
	assert.EqualValues(t, product.ID, body["product_id"])

	rec = call(t, api, http.MethodGet, "/api/v1/batches?product_id="+itoa(product.ID), admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	batches := decodeBody[struct {
		Batches []domain.InventoryBatch `json:"batches"`
	}](t, rec).Batches
	for _, b := range batches {
		assert.Equal(t, b.InitialQty, b.RemainingQty, "batch %d must be untouched", b.ID)
	}
}

func TestSellRejectsBadQuantity(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")
	product := stockedProduct(t, api, admin)

	rec := call(t, api, http.MethodPost, "/api/v1/sales", admin, map[string]any{
		"product_id": product.ID,
		"quantity":   0,
		"unit_price": "12",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, api, http.MethodPost, "/api/v1/sales", admin, map[string]any{
		"product_id": 9999,
		"quantity":   1,
		"unit_price": "12",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckoutAndInvoiceLookup(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")
	product := stockedProduct(t, api, admin)

	rec := call(t, api, http.MethodPost, "/api/v1/checkout", admin, map[string]any{
		"line_items": []map[string]any{
			{"product_id": product.ID, "quantity": 1, "unit_price": "12"},
			{"product_id": product.ID, "quantity": 3, "unit_price": "11"},
		},
		"customer": map[string]any{"name": "Ana"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decodeBody[domain.InvoiceResponse](t, rec)
	require.Len(t, resp.Invoice.Lines, 2)
	assert.True(t, resp.Invoice.TotalAmount.Equal(decimal.NewFromInt(45)), resp.Invoice.TotalAmount.String())
	// 2@10 + 2@5
	assert.True(t, resp.Invoice.CostBasis.Equal(decimal.NewFromInt(30)), resp.Invoice.CostBasis.String())

	rec = call(t, api, http.MethodGet, "/api/v1/invoices/"+itoa(resp.Invoice.ID), admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fetched := decodeBody[domain.InvoiceResponse](t, rec)
	assert.Equal(t, resp.Invoice.Number, fetched.Invoice.Number)

	rec = call(t, api, http.MethodGet, "/api/v1/invoices/9999", admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckoutRejectsEmptyCart(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")

	rec := call(t, api, http.MethodPost, "/api/v1/checkout", admin, map[string]any{"line_items": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteBatchInUseConflicts(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")
	product := stockedProduct(t, api, admin)

	rec := call(t, api, http.MethodPost, "/api/v1/sales", admin, map[string]any{
		"product_id": product.ID,
		"quantity":   1,
		"unit_price": "12",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	sale := decodeBody[domain.SaleResponse](t, rec).Sale
	usedBatch := sale.Allocations[0].BatchID

	rec = call(t, api, http.MethodDelete, "/api/v1/batches/"+itoa(usedBatch), admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, api, http.MethodPatch, "/api/v1/batches/"+itoa(usedBatch), admin, map[string]any{
		"quantity":  1,
		"unit_cost": "10",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	batch := decodeBody[struct {
		Batch domain.InventoryBatch `json:"batch"`
	}](t, rec).Batch
	assert.Equal(t, 0, batch.RemainingQty)
}

func TestReportsEndpoints(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")
	product := stockedProduct(t, api, admin)
	today := time.Now().UTC().Format(domain.DateLayout)

	rec := call(t, api, http.MethodPost, "/api/v1/sales", admin, map[string]any{
		"product_id": product.ID,
		"quantity":   2,
		"unit_price": "12",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = call(t, api, http.MethodGet, "/api/v1/reports/stock", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stock := decodeBody[domain.StockReport](t, rec)
	require.Len(t, stock.Rows, 1)
	assert.Equal(t, 5, stock.Rows[0].Stock)

	rec = call(t, api, http.MethodGet, "/api/v1/reports/price-list", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, api, http.MethodGet, "/api/v1/reports/daily?from="+today+"&to="+today, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	daily := decodeBody[domain.DailyReport](t, rec)
	assert.True(t, daily.TotalRevenue.Equal(decimal.NewFromInt(24)))
	assert.True(t, daily.TotalProfit.Equal(decimal.NewFromInt(4)))

	rec = call(t, api, http.MethodGet, "/api/v1/reports/daily?format=csv&from="+today+"&to="+today, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Body.String(), "summary,total_revenue,24.00")

	rec = call(t, api, http.MethodGet, "/api/v1/reports/items?from="+today+"&to="+today, admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody[domain.ItemSalesReport](t, rec)
	require.Len(t, items.Items, 1)
	assert.Equal(t, 2, items.Items[0].Quantity)

	rec = call(t, api, http.MethodGet, "/api/v1/reports/daily?from=yesterday", admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArchivedProductCannotReceiveStock(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")
	product := stockedProduct(t, api, admin)

	rec := call(t, api, http.MethodPost, "/api/v1/products/"+itoa(product.ID)+"/archive", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, api, http.MethodPost, "/api/v1/batches", admin, map[string]any{
		"product_id": product.ID, "quantity": 1, "unit_cost": "1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, api, http.MethodGet, "/api/v1/products", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[struct {
		Products []domain.Product `json:"products"`
	}](t, rec).Products
	assert.Empty(t, listed)

	rec = call(t, api, http.MethodPost, "/api/v1/products/"+itoa(product.ID)+"/reactivate", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDuplicateProductNameConflicts(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")

	body := map[string]any{"name": "Sugar", "recommended_price": "3"}
	require.Equal(t, http.StatusCreated, call(t, api, http.MethodPost, "/api/v1/products", admin, body).Code)
	assert.Equal(t, http.StatusConflict, call(t, api, http.MethodPost, "/api/v1/products", admin, body).Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
