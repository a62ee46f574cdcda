package memory

import (
	"cmp"
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"fifoshop/backend/internal/domain"
	"fifoshop/backend/internal/fifo"
	"fifoshop/backend/internal/logger"
	"fifoshop/backend/internal/store"
)

var _ store.Repository = (*Store)(nil)

// Store keeps the whole ledger in process memory. A single mutex guards it;
// WithinTx holds the write lock for the duration of a unit of work.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	shops    map[int64]domain.Shop
	users    map[string]domain.UserAccount
	products map[int64]domain.Product
	batches  map[int64]domain.InventoryBatch
	sales    map[int64]domain.Sale
	invoices map[int64]domain.Invoice
}

func New() *Store {
	return &Store{
		shops:    make(map[int64]domain.Shop),
		users:    make(map[string]domain.UserAccount),
		products: make(map[int64]domain.Product),
		batches:  make(map[int64]domain.InventoryBatch),
		sales:    make(map[int64]domain.Sale),
		invoices: make(map[int64]domain.Invoice),
	}
}

// NewSeeded builds a dev/demo store with one shop and an admin and an
// operator account. Passwords come from SEED_ADMIN_PASSWORD and
// SEED_OPERATOR_PASSWORD; unset values fall back to dev defaults.
func NewSeeded(shopName string) *Store {
	log := logger.WithComponent("memory")
	s := New()

	shop, err := s.CreateShop(context.Background(), shopName)
	if err != nil {
		log.Fatal().Err(err).Str("shop", shopName).Msg("failed to seed shop")
	}

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	operatorPwd := envOr("SEED_OPERATOR_PASSWORD", "operator123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OPERATOR_PASSWORD") == "" {
		log.Warn().Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD to override")
	}

	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"operator", operatorPwd, domain.RoleOperator},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		if err := s.CreateUser(context.Background(), domain.UserAccount{
			Username:     u.username,
			PasswordHash: string(hash),
			Role:         u.role,
			ShopID:       shop.ID,
		}); err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to seed user")
		}
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) newID() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("begin", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &ledgerTx{
		s:        s,
		batches:  make(map[int64]domain.InventoryBatch),
		deleted:  make(map[int64]bool),
		invoices: make(map[int64]domain.Invoice),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("commit", err)
	}
	tx.apply()
	return nil
}

func (s *Store) CreateShop(_ context.Context, name string) (*domain.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidInput
	}
	for _, shop := range s.shops {
		if strings.EqualFold(shop.Name, name) {
			return nil, domain.ErrDuplicateName
		}
	}

	shop := domain.Shop{ID: s.newID(), Name: name, CreatedAt: time.Now().UTC()}
	s.shops[shop.ID] = shop
	return &shop, nil
}

func (s *Store) GetShopByName(_ context.Context, name string) (*domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, shop := range s.shops {
		if strings.EqualFold(shop.Name, strings.TrimSpace(name)) {
			found := shop
			return &found, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.PasswordHash) == "" {
		return domain.ErrInvalidInput
	}
	if _, exists := s.users[username]; exists {
		return domain.ErrDuplicateName
	}
	if _, exists := s.shops[user.ShopID]; !exists {
		return domain.ErrNotFound
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleOperator
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.users[username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[strings.ToLower(strings.TrimSpace(username))]
	if !exists {
		return nil, domain.ErrNotFound
	}
	return &user, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.shops[product.ShopID]; !exists {
		return nil, domain.ErrNotFound
	}
	if s.productNameTaken(product.ShopID, product.Name, 0) {
		return nil, domain.ErrDuplicateName
	}

	product.ID = s.newID()
	product.Active = true
	product.CreatedAt = time.Now().UTC()
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) productNameTaken(shopID int64, name string, exceptID int64) bool {
	for _, p := range s.products {
		if p.ShopID == shopID && p.ID != exceptID && strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

func (s *Store) GetProduct(_ context.Context, shopID int64, productID int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.product(shopID, productID)
}

func (s *Store) product(shopID int64, productID int64) (*domain.Product, error) {
	product, exists := s.products[productID]
	if !exists || product.ShopID != shopID {
		return nil, domain.ErrNotFound
	}
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.product(product.ShopID, product.ID)
	if err != nil {
		return nil, err
	}
	if s.productNameTaken(product.ShopID, product.Name, product.ID) {
		return nil, domain.ErrDuplicateName
	}
	product.CreatedAt = current.CreatedAt
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context, shopID int64, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterProducts(shopID, filter), nil
}

func (s *Store) filterProducts(shopID int64, filter domain.ProductFilter) []domain.Product {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.ShopID != shopID {
			continue
		}
		if !p.Active && !filter.IncludeArchived {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return products
}

func (s *Store) CreateBatch(_ context.Context, batch domain.InventoryBatch) (*domain.InventoryBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.product(batch.ShopID, batch.ProductID); err != nil {
		return nil, err
	}
	if batch.InitialQty < 1 || !batch.UnitCost.IsPositive() {
		return nil, domain.ErrInvalidQuantity
	}

	batch.ID = s.newID()
	batch.ReceivedOn = domain.DateUTC(batch.ReceivedOn)
	batch.RemainingQty = batch.InitialQty
	batch.CreatedAt = time.Now().UTC()
	s.batches[batch.ID] = batch
	return &batch, nil
}

func (s *Store) GetBatch(_ context.Context, shopID int64, batchID int64) (*domain.InventoryBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, exists := s.batches[batchID]
	if !exists || batch.ShopID != shopID {
		return nil, domain.ErrNotFound
	}
	return &batch, nil
}

func (s *Store) ListBatches(_ context.Context, shopID int64, filter domain.BatchFilter) ([]domain.InventoryBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryBatch, 0, 32)
	for _, b := range s.batches {
		if b.ShopID != shopID {
			continue
		}
		if filter.ProductID > 0 && b.ProductID != filter.ProductID {
			continue
		}
		if filter.OnlyAvailable && b.RemainingQty < 1 {
			continue
		}
		result = append(result, b)
	}
	// Delivery history reads newest first.
	slices.SortFunc(result, func(a, b domain.InventoryBatch) int {
		return fifo.Compare(b, a)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) ProductStock(_ context.Context, shopID int64, productID int64) (domain.StockTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, err := s.product(shopID, productID)
	if err != nil {
		return domain.StockTotals{}, err
	}
	return s.totalsFor(*product), nil
}

func (s *Store) StockTotals(_ context.Context, shopID int64, filter domain.ProductFilter) ([]domain.StockTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := s.filterProducts(shopID, filter)
	totals := make([]domain.StockTotals, 0, len(products))
	for _, p := range products {
		totals = append(totals, s.totalsFor(p))
	}
	return totals, nil
}

func (s *Store) totalsFor(product domain.Product) domain.StockTotals {
	totals := domain.StockTotals{
		ProductID:     product.ID,
		ProductName:   product.Name,
		RemainingCost: decimal.Zero,
	}
	for _, b := range s.batches {
		if b.ProductID != product.ID || b.RemainingQty < 1 {
			continue
		}
		totals.Remaining += b.RemainingQty
		totals.RemainingCost = totals.RemainingCost.Add(b.UnitCost.Mul(decimal.NewFromInt(int64(b.RemainingQty))))
	}
	return totals
}

func (s *Store) GetSale(_ context.Context, shopID int64, saleID int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[saleID]
	if !exists || sale.ShopID != shopID {
		return nil, domain.ErrNotFound
	}
	found := s.withProductName(cloneSale(sale))
	return &found, nil
}

func (s *Store) ListSales(_ context.Context, shopID int64, from time.Time, to time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from = domain.DateUTC(from)
	to = domain.DateUTC(to)
	result := make([]domain.Sale, 0, 64)
	for _, sale := range s.sales {
		if sale.ShopID != shopID || sale.SoldOn.Before(from) || sale.SoldOn.After(to) {
			continue
		}
		result = append(result, s.withProductName(cloneSale(sale)))
	}
	slices.SortFunc(result, compareSales)
	return result, nil
}

func (s *Store) GetInvoice(_ context.Context, shopID int64, invoiceID int64) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, exists := s.invoices[invoiceID]
	if !exists || invoice.ShopID != shopID {
		return nil, domain.ErrNotFound
	}
	invoice.Lines = make([]domain.Sale, 0, 4)
	for _, sale := range s.sales {
		if sale.InvoiceID == invoiceID {
			invoice.Lines = append(invoice.Lines, s.withProductName(cloneSale(sale)))
		}
	}
	slices.SortFunc(invoice.Lines, compareSales)
	return &invoice, nil
}

func (s *Store) withProductName(sale domain.Sale) domain.Sale {
	if p, exists := s.products[sale.ProductID]; exists {
		sale.ProductName = p.Name
	}
	return sale
}

func compareSales(a domain.Sale, b domain.Sale) int {
	if c := a.SoldOn.Compare(b.SoldOn); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func cloneSale(src domain.Sale) domain.Sale {
	dst := src
	dst.Allocations = slices.Clone(src.Allocations)
	return dst
}
