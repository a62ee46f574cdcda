package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fifoshop/backend/internal/domain"
	"fifoshop/backend/internal/store"
)

//go:embed schema.sql
var schema string

var _ store.Repository = (*Store)(nil)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return domain.NewStorageError("migrate", err)
	}
	return nil
}

// WithinTx runs fn in a READ COMMITTED transaction. Writers serialize on
// the batch rows they lock with SELECT ... FOR UPDATE.
func (s *Store) WithinTx(ctx context.Context, fn func(tx store.LedgerTx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return domain.NewStorageError("begin", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&ledgerTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return domain.NewStorageError("commit", err)
	}
	return nil
}

func (s *Store) CreateShop(ctx context.Context, name string) (*domain.Shop, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidInput
	}

	shop := domain.Shop{Name: name}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO shops (name) VALUES ($1)
		RETURNING id, created_at
	`, name).Scan(&shop.ID, &shop.CreatedAt)
	if err != nil {
		return nil, mapError("create shop", err)
	}
	shop.CreatedAt = shop.CreatedAt.UTC()
	return &shop, nil
}

func (s *Store) GetShopByName(ctx context.Context, name string) (*domain.Shop, error) {
	var shop domain.Shop
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at
		FROM shops
		WHERE lower(name) = lower($1)
	`, strings.TrimSpace(name)).Scan(&shop.ID, &shop.Name, &shop.CreatedAt)
	if err != nil {
		return nil, mapError("get shop", err)
	}
	shop.CreatedAt = shop.CreatedAt.UTC()
	return &shop, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.PasswordHash) == "" {
		return domain.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleOperator
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password_hash, role, shop_id, active, created_at)
		VALUES ($1,$2,$3,$4,true,$5)
	`, user.Username, user.PasswordHash, user.Role, user.ShopID, user.CreatedAt)
	return mapError("create user", err)
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, role, shop_id, active, created_at
		FROM app_users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(
		&user.Username, &user.PasswordHash, &user.Role, &user.ShopID, &user.Active, &user.CreatedAt,
	)
	if err != nil {
		return nil, mapError("get user", err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

const productColumns = `id, shop_id, name, recommended_price, active, created_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.ShopID, &p.Name, &p.RecommendedPrice, &p.Active, &p.CreatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, err
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	created, err := scanProduct(s.db.QueryRowContext(ctx, `
		INSERT INTO products (shop_id, name, recommended_price, active)
		VALUES ($1,$2,$3,true)
		RETURNING `+productColumns,
		product.ShopID, product.Name, product.RecommendedPrice,
	))
	if err != nil {
		return nil, mapError("create product", err)
	}
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, shopID int64, productID int64) (*domain.Product, error) {
	return getProduct(ctx, s.db, shopID, productID, "")
}

func getProduct(ctx context.Context, q querier, shopID int64, productID int64, lockClause string) (*domain.Product, error) {
	product, err := scanProduct(q.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE shop_id = $1 AND id = $2
	`+lockClause, shopID, productID))
	if err != nil {
		return nil, mapError("get product", err)
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $3, recommended_price = $4, active = $5
		WHERE shop_id = $1 AND id = $2
		RETURNING `+productColumns,
		product.ShopID, product.ID, product.Name, product.RecommendedPrice, product.Active,
	))
	if err != nil {
		return nil, mapError("update product", err)
	}
	return &updated, nil
}

func (s *Store) ListProducts(ctx context.Context, shopID int64, filter domain.ProductFilter) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE shop_id = $1
		  AND ($2 OR active)
		  AND ($3 = '' OR name ILIKE '%' || $3 || '%')
		ORDER BY lower(name), id
	`, shopID, filter.IncludeArchived, likePattern(filter.Search))
	if err != nil {
		return nil, mapError("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, mapError("list products", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list products", err)
	}
	return products, nil
}

const batchColumns = `id, shop_id, product_id, received_on, initial_qty, remaining_qty, unit_cost, created_at`

func scanBatch(row rowScanner) (domain.InventoryBatch, error) {
	var b domain.InventoryBatch
	err := row.Scan(&b.ID, &b.ShopID, &b.ProductID, &b.ReceivedOn, &b.InitialQty, &b.RemainingQty, &b.UnitCost, &b.CreatedAt)
	b.ReceivedOn = domain.DateUTC(b.ReceivedOn)
	b.CreatedAt = b.CreatedAt.UTC()
	return b, err
}

func (s *Store) CreateBatch(ctx context.Context, batch domain.InventoryBatch) (*domain.InventoryBatch, error) {
	if batch.InitialQty < 1 || !batch.UnitCost.IsPositive() {
		return nil, domain.ErrInvalidQuantity
	}

	created, err := scanBatch(s.db.QueryRowContext(ctx, `
		INSERT INTO inventory_batches (shop_id, product_id, received_on, initial_qty, remaining_qty, unit_cost)
		SELECT p.shop_id, p.id, $3::date, $4::integer, $4::integer, $5::numeric
		FROM products p
		WHERE p.shop_id = $1 AND p.id = $2
		RETURNING `+batchColumns,
		batch.ShopID, batch.ProductID, domain.DateUTC(batch.ReceivedOn), batch.InitialQty, batch.UnitCost,
	))
	if err != nil {
		return nil, mapError("create batch", err)
	}
	return &created, nil
}

func (s *Store) GetBatch(ctx context.Context, shopID int64, batchID int64) (*domain.InventoryBatch, error) {
	return getBatch(ctx, s.db, shopID, batchID, "")
}

func getBatch(ctx context.Context, q querier, shopID int64, batchID int64, lockClause string) (*domain.InventoryBatch, error) {
	b, err := scanBatch(q.QueryRowContext(ctx, `
		SELECT `+batchColumns+`
		FROM inventory_batches
		WHERE shop_id = $1 AND id = $2
	`+lockClause, shopID, batchID))
	if err != nil {
		return nil, mapError("get batch", err)
	}
	return &b, nil
}

func (s *Store) ListBatches(ctx context.Context, shopID int64, filter domain.BatchFilter) ([]domain.InventoryBatch, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM inventory_batches
		WHERE shop_id = $1
		  AND ($2 = 0 OR product_id = $2)
		  AND (NOT $3 OR remaining_qty > 0)
		ORDER BY received_on DESC, id DESC
		LIMIT $4
	`, shopID, filter.ProductID, filter.OnlyAvailable, limit)
	if err != nil {
		return nil, mapError("list batches", err)
	}
	return collectBatches(rows, "list batches")
}

func collectBatches(rows *sql.Rows, op string) ([]domain.InventoryBatch, error) {
	defer rows.Close()

	batches := make([]domain.InventoryBatch, 0, 32)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return batches, nil
}

const stockTotalsQuery = `
	SELECT p.id, p.name,
	       COALESCE(SUM(b.remaining_qty), 0),
	       COALESCE(SUM(b.remaining_qty * b.unit_cost), 0)
	FROM products p
	LEFT JOIN inventory_batches b ON b.product_id = p.id AND b.remaining_qty > 0
`

func scanTotals(row rowScanner) (domain.StockTotals, error) {
	var t domain.StockTotals
	err := row.Scan(&t.ProductID, &t.ProductName, &t.Remaining, &t.RemainingCost)
	return t, err
}

func (s *Store) ProductStock(ctx context.Context, shopID int64, productID int64) (domain.StockTotals, error) {
	totals, err := scanTotals(s.db.QueryRowContext(ctx, stockTotalsQuery+`
		WHERE p.shop_id = $1 AND p.id = $2
		GROUP BY p.id, p.name
	`, shopID, productID))
	if err != nil {
		return domain.StockTotals{}, mapError("product stock", err)
	}
	return totals, nil
}

func (s *Store) StockTotals(ctx context.Context, shopID int64, filter domain.ProductFilter) ([]domain.StockTotals, error) {
	rows, err := s.db.QueryContext(ctx, stockTotalsQuery+`
		WHERE p.shop_id = $1
		  AND ($2 OR p.active)
		  AND ($3 = '' OR p.name ILIKE '%' || $3 || '%')
		GROUP BY p.id, p.name
		ORDER BY lower(p.name), p.id
	`, shopID, filter.IncludeArchived, likePattern(filter.Search))
	if err != nil {
		return nil, mapError("stock totals", err)
	}
	defer rows.Close()

	result := make([]domain.StockTotals, 0, 64)
	for rows.Next() {
		t, err := scanTotals(rows)
		if err != nil {
			return nil, mapError("stock totals", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("stock totals", err)
	}
	return result, nil
}

const saleColumns = `s.id, s.shop_id, s.product_id, p.name, COALESCE(s.invoice_id, 0), s.sold_on,
	s.quantity, s.unit_price, s.total_price, s.cost_basis, s.note, s.created_at`

const saleFrom = `FROM sales s JOIN products p ON p.id = s.product_id`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(
		&sale.ID, &sale.ShopID, &sale.ProductID, &sale.ProductName, &sale.InvoiceID, &sale.SoldOn,
		&sale.Quantity, &sale.UnitPrice, &sale.TotalPrice, &sale.CostBasis, &sale.Note, &sale.CreatedAt,
	)
	sale.SoldOn = domain.DateUTC(sale.SoldOn)
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, err
}

func (s *Store) GetSale(ctx context.Context, shopID int64, saleID int64) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+` `+saleFrom+`
		WHERE s.shop_id = $1 AND s.id = $2
	`, shopID, saleID))
	if err != nil {
		return nil, mapError("get sale", err)
	}
	sales := []domain.Sale{sale}
	if err := attachAllocations(ctx, s.db, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, shopID int64, from time.Time, to time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+` `+saleFrom+`
		WHERE s.shop_id = $1 AND s.sold_on BETWEEN $2 AND $3
		ORDER BY s.sold_on, s.id
	`, shopID, domain.DateUTC(from), domain.DateUTC(to))
	if err != nil {
		return nil, mapError("list sales", err)
	}
	sales, err := collectSales(rows, "list sales")
	if err != nil {
		return nil, err
	}
	if err := attachAllocations(ctx, s.db, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func collectSales(rows *sql.Rows, op string) ([]domain.Sale, error) {
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return sales, nil
}

func attachAllocations(ctx context.Context, q querier, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(sales))
	index := make(map[int64]int, len(sales))
	for i, sale := range sales {
		ids = append(ids, sale.ID)
		index[sale.ID] = i
	}

	rows, err := q.QueryContext(ctx, `
		SELECT sale_id, COALESCE(batch_id, 0), quantity, unit_cost
		FROM sale_allocations
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, ids)
	if err != nil {
		return mapError("list allocations", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a domain.SaleAllocation
		if err := rows.Scan(&a.SaleID, &a.BatchID, &a.Quantity, &a.UnitCost); err != nil {
			return mapError("list allocations", err)
		}
		i := index[a.SaleID]
		sales[i].Allocations = append(sales[i].Allocations, a)
	}
	if err := rows.Err(); err != nil {
		return mapError("list allocations", err)
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, shopID int64, invoiceID int64) (*domain.Invoice, error) {
	var inv domain.Invoice
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, number, issued_on, customer_name, customer_details, total_amount, cost_basis, created_at
		FROM invoices
		WHERE shop_id = $1 AND id = $2
	`, shopID, invoiceID).Scan(
		&inv.ID, &inv.ShopID, &inv.Number, &inv.IssuedOn, &inv.Customer.Name, &inv.Customer.Details,
		&inv.TotalAmount, &inv.CostBasis, &inv.CreatedAt,
	)
	if err != nil {
		return nil, mapError("get invoice", err)
	}
	inv.IssuedOn = domain.DateUTC(inv.IssuedOn)
	inv.CreatedAt = inv.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+` `+saleFrom+`
		WHERE s.shop_id = $1 AND s.invoice_id = $2
		ORDER BY s.id
	`, shopID, invoiceID)
	if err != nil {
		return nil, mapError("get invoice lines", err)
	}
	inv.Lines, err = collectSales(rows, "get invoice lines")
	if err != nil {
		return nil, err
	}
	if err := attachAllocations(ctx, s.db, inv.Lines); err != nil {
		return nil, err
	}
	return &inv, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// mapError turns driver errors into domain outcomes. Anything it does not
// recognize becomes a StorageError.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrNotFound
	case isUniqueViolation(err):
		return domain.ErrDuplicateName
	case isForeignKeyViolation(err):
		return domain.ErrNotFound
	case isCheckViolation(err):
		return domain.ErrInvalidQuantity
	default:
		return domain.NewStorageError(op, err)
	}
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgCode(err) == "23503"
}

func isCheckViolation(err error) bool {
	return pgCode(err) == "23514"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(search string) string {
	return likeEscaper.Replace(strings.TrimSpace(search))
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
