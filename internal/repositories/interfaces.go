package repositories

import (
	"context"
	"time"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/pagination"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
// The process entry point owns the registry and must call Close on shutdown.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Orders() OrderRepository
	Sellers() SellerRepository
	Notifications() NotificationRepository
	Ledger() LedgerStore
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// LedgerStore runs read-modify-write units over products and orders. The function may be
// invoked more than once when the backend retries on contention, so it must not have side
// effects outside the transaction.
type LedgerStore interface {
	RunLedgerTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
}

// LedgerTx is bound to a single transaction. All reads must happen before the first write.
type LedgerTx interface {
	// GetProducts loads every requested product. A missing product yields a LedgerError with
	// LedgerErrorProductNotFound naming the first absent id.
	GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	// UpdateProductCounters writes stock, reservedStock and soldCount only; catalog fields on
	// the product document belong to other writers.
	UpdateProductCounters(product domain.Product) error
	// CreateOrder fails with LedgerErrorConflict when the id is taken.
	CreateOrder(order domain.Order) error
	PutOrder(order domain.Order) error
}

// ProductRepository reads product ledger documents outside of transactions.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	ListBySeller(ctx context.Context, sellerID string) ([]domain.Product, error)
	Scan(ctx context.Context, fn func(domain.Product) error) error
}

// ErrInvalidPageToken is returned for page tokens a repository did not issue.
var ErrInvalidPageToken = pagination.ErrInvalidPageToken

// OrderListFilter narrows buyer or seller order listings.
type OrderListFilter struct {
	BuyerID    string
	SellerID   string
	Statuses   []domain.OrderStatus
	Pagination domain.Pagination
}

// CompletedOrderFilter selects completed orders by completion time, optionally for one seller.
type CompletedOrderFilter struct {
	SellerID      string
	CompletedFrom time.Time
	CompletedTo   time.Time
}

// OrderRepository reads order documents. Mutations go through LedgerStore.
type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListCompleted(ctx context.Context, filter CompletedOrderFilter) ([]domain.Order, error)
	ScanCompleted(ctx context.Context, fn func(domain.Order) error) error
}

// SellerMetrics is the recomputed aggregate written onto a seller document.
type SellerMetrics struct {
	TotalSales        int
	TotalRevenueMinor int64
	TotalProducts     int
}

// SellerRepository persists seller aggregates.
type SellerRepository interface {
	FindByID(ctx context.Context, sellerID string) (domain.Seller, error)
	Scan(ctx context.Context, fn func(domain.Seller) error) error
	// ApplyMetrics overwrites the aggregates inside a transaction on the seller document.
	ApplyMetrics(ctx context.Context, sellerID string, metrics SellerMetrics, syncedAt time.Time) (domain.Seller, error)
}

// NotificationRepository stores in-app notifications.
type NotificationRepository interface {
	Insert(ctx context.Context, notification domain.Notification) error
}

// HealthRepository reports the status of backing dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
