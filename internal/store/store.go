package store

import (
	"context"
	"time"

	"fifoshop/backend/internal/domain"
)

// Repository is the durable state behind the service. Every ledger and sale
// query is scoped by shop.
type Repository interface {
	// WithinTx runs fn as one atomic unit of work. Writes made through tx are
	// visible only to fn until it returns nil; any error discards them all.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error

	CreateShop(ctx context.Context, name string) (*domain.Shop, error)
	GetShopByName(ctx context.Context, name string) (*domain.Shop, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, shopID int64, productID int64) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListProducts(ctx context.Context, shopID int64, filter domain.ProductFilter) ([]domain.Product, error)

	CreateBatch(ctx context.Context, batch domain.InventoryBatch) (*domain.InventoryBatch, error)
	GetBatch(ctx context.Context, shopID int64, batchID int64) (*domain.InventoryBatch, error)
	ListBatches(ctx context.Context, shopID int64, filter domain.BatchFilter) ([]domain.InventoryBatch, error)
	// ProductStock sums the remaining quantity and remaining cost of one
	// product's batches.
	ProductStock(ctx context.Context, shopID int64, productID int64) (domain.StockTotals, error)
	// StockTotals returns one row per product matching filter, including
	// products with no stock.
	StockTotals(ctx context.Context, shopID int64, filter domain.ProductFilter) ([]domain.StockTotals, error)

	GetSale(ctx context.Context, shopID int64, saleID int64) (*domain.Sale, error)
	ListSales(ctx context.Context, shopID int64, from time.Time, to time.Time) ([]domain.Sale, error)
	GetInvoice(ctx context.Context, shopID int64, invoiceID int64) (*domain.Invoice, error)
}

// LedgerTx exposes the batch ledger mutation primitives inside a unit of
// work opened by Repository.WithinTx.
type LedgerTx interface {
	GetProduct(ctx context.Context, shopID int64, productID int64) (*domain.Product, error)
	// LockAvailableBatches returns the batches with stock left for the given
	// products and keeps them locked against concurrent debits until the
	// unit of work ends.
	LockAvailableBatches(ctx context.Context, shopID int64, productIDs []int64) ([]domain.InventoryBatch, error)
	LockBatch(ctx context.Context, shopID int64, batchID int64) (*domain.InventoryBatch, error)
	// DebitBatch fails with domain.ErrOverDebit when amount exceeds the
	// batch's remaining quantity.
	DebitBatch(ctx context.Context, shopID int64, batchID int64, amount int) error
	UpdateBatch(ctx context.Context, batch domain.InventoryBatch) error
	DeleteBatch(ctx context.Context, shopID int64, batchID int64) error

	CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
	// CreateSale stores the sale together with its allocations.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	FinalizeInvoice(ctx context.Context, invoice domain.Invoice) error
}
