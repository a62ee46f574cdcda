package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

// MoneyScale is the number of decimal places kept for prices and costs.
const MoneyScale = 4

// FitsMoneyScale reports whether d survives storage at MoneyScale places
// without rounding.
func FitsMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

type Shop struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Product struct {
	ID               int64           `json:"id"`
	ShopID           int64           `json:"shop_id"`
	Name             string          `json:"name"`
	RecommendedPrice decimal.Decimal `json:"recommended_price"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
}

type ProductCreateRequest struct {
	Name             string          `json:"name" validate:"required,max=200"`
	RecommendedPrice decimal.Decimal `json:"recommended_price"`
}

type ProductUpdateRequest struct {
	Name             *string          `json:"name,omitempty" validate:"omitempty,max=200"`
	RecommendedPrice *decimal.Decimal `json:"recommended_price,omitempty"`
}

type ProductFilter struct {
	IncludeArchived bool
	Search          string
}

// InventoryBatch is one dated stock receipt. UnitCost is locked in at
// receipt; RemainingQty only decreases through FIFO debits.
type InventoryBatch struct {
	ID           int64           `json:"id"`
	ShopID       int64           `json:"shop_id"`
	ProductID    int64           `json:"product_id"`
	ReceivedOn   time.Time       `json:"received_on"`
	InitialQty   int             `json:"initial_qty"`
	RemainingQty int             `json:"remaining_qty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Untouched reports whether no unit of the batch has been consumed.
func (b InventoryBatch) Untouched() bool {
	return b.RemainingQty == b.InitialQty
}

func (b InventoryBatch) Consumed() int {
	return b.InitialQty - b.RemainingQty
}

type BatchFilter struct {
	ProductID     int64
	OnlyAvailable bool
	Limit         int
}

type ReceiveStockRequest struct {
	ProductID  int64           `json:"product_id" validate:"required,gt=0"`
	ReceivedOn string          `json:"received_on" validate:"omitempty,datetime=2006-01-02"`
	Quantity   int             `json:"quantity"`
	UnitCost   decimal.Decimal `json:"unit_cost"`
}

// EditBatchRequest corrects a batch. Without Reset, units already sold stay
// sold and RemainingQty becomes Quantity minus the consumed count. Reset
// sets both InitialQty and RemainingQty to Quantity, discarding the
// consumption history of the batch.
type EditBatchRequest struct {
	Quantity int             `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Reset    bool            `json:"reset"`
}

// AllocationLine is one step of a FIFO allocation plan.
type AllocationLine struct {
	BatchID  int64           `json:"batch_id"`
	Quantity int             `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

func (l AllocationLine) Cost() decimal.Decimal {
	return l.UnitCost.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type AllocationPlan struct {
	ProductID int64            `json:"product_id"`
	Requested int              `json:"requested"`
	Lines     []AllocationLine `json:"lines"`
	CostBasis decimal.Decimal  `json:"cost_basis"`
}

// SaleAllocation is the persisted copy of an allocation line. BatchID is
// zero once the originating batch has been deleted.
type SaleAllocation struct {
	SaleID   int64           `json:"sale_id"`
	BatchID  int64           `json:"batch_id,omitempty"`
	Quantity int             `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// Sale is a single-item sale, or an invoice line item when InvoiceID is set.
// CostBasis is fixed when the sale is recorded.
type Sale struct {
	ID          int64            `json:"id"`
	ShopID      int64            `json:"shop_id"`
	ProductID   int64            `json:"product_id"`
	ProductName string           `json:"product_name,omitempty"`
	InvoiceID   int64            `json:"invoice_id,omitempty"`
	SoldOn      time.Time        `json:"sold_on"`
	Quantity    int              `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	TotalPrice  decimal.Decimal  `json:"total_price"`
	CostBasis   decimal.Decimal  `json:"cost_basis"`
	Note        string           `json:"note,omitempty"`
	Allocations []SaleAllocation `json:"allocations,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

type SellRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	SoldOn    string          `json:"sold_on" validate:"omitempty,datetime=2006-01-02"`
	Note      string          `json:"note" validate:"max=500"`
}

type LineItem struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Note      string          `json:"note,omitempty" validate:"max=500"`
}

type Customer struct {
	Name    string `json:"name" validate:"max=200"`
	Details string `json:"details,omitempty" validate:"max=1000"`
}

type CheckoutRequest struct {
	LineItems []LineItem `json:"line_items" validate:"required,min=1,dive"`
	Customer  Customer   `json:"customer"`
	IssuedOn  string     `json:"issued_on" validate:"omitempty,datetime=2006-01-02"`
}

// Invoice groups line items sold together. TotalAmount and CostBasis always
// equal the sums over Lines.
type Invoice struct {
	ID          int64           `json:"id"`
	ShopID      int64           `json:"shop_id"`
	Number      string          `json:"number"`
	IssuedOn    time.Time       `json:"issued_on"`
	Customer    Customer        `json:"customer"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CostBasis   decimal.Decimal `json:"cost_basis"`
	Lines       []Sale          `json:"lines"`
	CreatedAt   time.Time       `json:"created_at"`
}

type SaleResponse struct {
	Sale           Sale            `json:"sale"`
	RealizedMargin decimal.Decimal `json:"realized_margin"`
}

type InvoiceResponse struct {
	Invoice        Invoice         `json:"invoice"`
	RealizedMargin decimal.Decimal `json:"realized_margin"`
}

type StockLevel string

const (
	StockLevelOK  StockLevel = "ok"
	StockLevelLow StockLevel = "low"
	StockLevelOut StockLevel = "out"
)

// StockTotals is the raw ledger sum for one product.
type StockTotals struct {
	ProductID     int64
	ProductName   string
	Remaining     int
	RemainingCost decimal.Decimal
}

type StockStatusRow struct {
	ProductID       int64            `json:"product_id"`
	ProductName     string           `json:"product_name"`
	Stock           int              `json:"stock"`
	AverageUnitCost *decimal.Decimal `json:"average_unit_cost,omitempty"`
	Level           StockLevel       `json:"level"`
}

type StockReport struct {
	Threshold int              `json:"threshold"`
	Rows      []StockStatusRow `json:"rows"`
}

type PriceListRow struct {
	ProductID        int64            `json:"product_id"`
	ProductName      string           `json:"product_name"`
	RecommendedPrice decimal.Decimal  `json:"recommended_price"`
	AverageUnitCost  *decimal.Decimal `json:"average_unit_cost,omitempty"`
	ProjectedMargin  *decimal.Decimal `json:"projected_margin,omitempty"`
	Active           bool             `json:"active"`
}

type DailyReportRow struct {
	Date     string          `json:"date"`
	Revenue  decimal.Decimal `json:"revenue"`
	Cost     decimal.Decimal `json:"cost"`
	Quantity int             `json:"quantity"`
	Profit   decimal.Decimal `json:"profit"`
	Margin   decimal.Decimal `json:"margin"`
}

type DailyReport struct {
	From          string           `json:"from"`
	To            string           `json:"to"`
	Days          []DailyReportRow `json:"days"`
	TotalRevenue  decimal.Decimal  `json:"total_revenue"`
	TotalProfit   decimal.Decimal  `json:"total_profit"`
	AverageMargin decimal.Decimal  `json:"average_margin"`
}

type ItemSalesRow struct {
	ProductID     int64           `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Quantity      int             `json:"quantity"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	TotalSales    decimal.Decimal `json:"total_sales"`
	UnitSellPrice decimal.Decimal `json:"unit_sell_price"`
	Profit        decimal.Decimal `json:"profit"`
	Margin        decimal.Decimal `json:"margin"`
}

type ItemSalesReport struct {
	From  string         `json:"from"`
	To    string         `json:"to"`
	Items []ItemSalesRow `json:"items"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ShopID      int64  `json:"shop_id"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated caller of a request.
type Actor struct {
	Username string
	Role     string
	ShopID   int64
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username     string
	PasswordHash string
	Role         string
	ShopID       int64
	Active       bool
	CreatedAt    time.Time
}

type UserCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=64"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Role     string `json:"role" validate:"omitempty,oneof=admin operator"`
}

// UserView is the public shape of a UserAccount.
type UserView struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ShopID    int64     `json:"shop_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

// DateUTC truncates t to its calendar day in UTC.
func DateUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
