// Package memory implements the repository contracts in process. It backs local development
// and the ledger property tests, and keeps the same transactional discipline as Firestore:
// ledger units run one at a time, reads precede writes, and nothing is applied unless the unit
// returns nil.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/pagination"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
)

// Registry stores products, orders, sellers and notifications in maps guarded by one mutex.
type Registry struct {
	mu            sync.Mutex
	products      map[string]domain.Product
	orders        map[string]domain.Order
	sellers       map[string]domain.Seller
	notifications []domain.Notification
	health        repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	reg := &Registry{
		products: make(map[string]domain.Product),
		orders:   make(map[string]domain.Order),
		sellers:  make(map[string]domain.Seller),
	}
	health, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "memory", Check: func(context.Context) error { return nil }},
	})
	reg.health = health
	return reg
}

// PutProduct stores or replaces a product document.
func (r *Registry) PutProduct(p domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
}

// PutSeller stores or replaces a seller document.
func (r *Registry) PutSeller(s domain.Seller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sellers[s.ID] = s
}

// PutOrder stores or replaces an order document outside the ledger.
func (r *Registry) PutOrder(o domain.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = cloneOrder(o)
}

// StoredNotifications returns a copy of every stored notification, oldest first.
func (r *Registry) StoredNotifications() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.notifications...)
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Products() repositories.ProductRepository { return productRepo{r} }

func (r *Registry) Orders() repositories.OrderRepository { return orderRepo{r} }

func (r *Registry) Sellers() repositories.SellerRepository { return sellerRepo{r} }

func (r *Registry) Notifications() repositories.NotificationRepository { return notificationRepo{r} }

func (r *Registry) Ledger() repositories.LedgerStore { return ledgerStore{r} }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

type productRepo struct{ r *Registry }

func (p productRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	product, ok := p.r.products[productID]
	if !ok {
		return domain.Product{}, productNotFound(productID)
	}
	return product, nil
}

func (p productRepo) ListBySeller(ctx context.Context, sellerID string) ([]domain.Product, error) {
	var out []domain.Product
	err := p.Scan(ctx, func(product domain.Product) error {
		if product.SellerID == sellerID {
			out = append(out, product)
		}
		return nil
	})
	return out, err
}

func (p productRepo) Scan(ctx context.Context, fn func(domain.Product) error) error {
	p.r.mu.Lock()
	snapshot := make([]domain.Product, 0, len(p.r.products))
	for _, product := range p.r.products {
		snapshot = append(snapshot, product)
	}
	p.r.mu.Unlock()
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	for _, product := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(product); err != nil {
			return err
		}
	}
	return nil
}

type orderRepo struct{ r *Registry }

func (o orderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	o.r.mu.Lock()
	defer o.r.mu.Unlock()
	order, ok := o.r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewLedgerError(repositories.LedgerErrorOrderNotFound, fmt.Sprintf("order %s not found", orderID), nil)
	}
	return cloneOrder(order), nil
}

func (o orderRepo) snapshot(match func(domain.Order) bool) []domain.Order {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()
	var out []domain.Order
	for _, order := range o.r.orders {
		if match(order) {
			out = append(out, cloneOrder(order))
		}
	}
	return out
}

func (o orderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if err := ctx.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	pageSize := pagination.ClampPageSize(filter.Pagination.PageSize)
	var cursor *pagination.Cursor
	if raw := strings.TrimSpace(filter.Pagination.PageToken); raw != "" {
		token, err := pagination.DecodeCursor(raw)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		cursor = &token
	}

	orders := o.snapshot(func(order domain.Order) bool {
		if filter.BuyerID != "" && order.BuyerID != filter.BuyerID {
			return false
		}
		if filter.SellerID != "" && !containsString(order.SellerIDs, filter.SellerID) {
			return false
		}
		if len(filter.Statuses) > 0 {
			matched := false
			for _, status := range filter.Statuses {
				if order.Status == status {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		}
		return true
	})
	sort.Slice(orders, func(i, j int) bool { return newerFirst(orders[i].CreatedAt, orders[i].ID, orders[j].CreatedAt, orders[j].ID) })

	if cursor != nil {
		start := len(orders)
		for i, order := range orders {
			if newerFirst(cursor.CreatedAt, cursor.ID, order.CreatedAt, order.ID) {
				start = i
				break
			}
		}
		orders = orders[start:]
	}

	var next string
	if len(orders) > pageSize {
		orders = orders[:pageSize]
		last := orders[len(orders)-1]
		token, err := pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		next = token
	}
	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: next}, nil
}

// newerFirst orders by createdAt desc then id desc.
func newerFirst(aAt time.Time, aID string, bAt time.Time, bID string) bool {
	if !aAt.Equal(bAt) {
		return aAt.After(bAt)
	}
	return aID > bID
}

func (o orderRepo) ListCompleted(ctx context.Context, filter repositories.CompletedOrderFilter) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	orders := o.snapshot(func(order domain.Order) bool {
		if order.Status != domain.OrderStatusCompleted || order.CompletedAt == nil {
			return false
		}
		if filter.SellerID != "" && !containsString(order.SellerIDs, filter.SellerID) {
			return false
		}
		if !filter.CompletedFrom.IsZero() && order.CompletedAt.Before(filter.CompletedFrom) {
			return false
		}
		if !filter.CompletedTo.IsZero() && !order.CompletedAt.Before(filter.CompletedTo) {
			return false
		}
		return true
	})
	sort.Slice(orders, func(i, j int) bool { return orders[i].CompletedAt.Before(*orders[j].CompletedAt) })
	return orders, nil
}

func (o orderRepo) ScanCompleted(ctx context.Context, fn func(domain.Order) error) error {
	orders := o.snapshot(func(order domain.Order) bool { return order.Status == domain.OrderStatusCompleted })
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(order); err != nil {
			return err
		}
	}
	return nil
}

type sellerRepo struct{ r *Registry }

func (s sellerRepo) FindByID(ctx context.Context, sellerID string) (domain.Seller, error) {
	if err := ctx.Err(); err != nil {
		return domain.Seller{}, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	seller, ok := s.r.sellers[sellerID]
	if !ok {
		return domain.Seller{}, sellerNotFound(sellerID)
	}
	return seller, nil
}

func (s sellerRepo) Scan(ctx context.Context, fn func(domain.Seller) error) error {
	s.r.mu.Lock()
	snapshot := make([]domain.Seller, 0, len(s.r.sellers))
	for _, seller := range s.r.sellers {
		snapshot = append(snapshot, seller)
	}
	s.r.mu.Unlock()
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	for _, seller := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(seller); err != nil {
			return err
		}
	}
	return nil
}

func (s sellerRepo) ApplyMetrics(ctx context.Context, sellerID string, metrics repositories.SellerMetrics, syncedAt time.Time) (domain.Seller, error) {
	if err := ctx.Err(); err != nil {
		return domain.Seller{}, err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	seller, ok := s.r.sellers[sellerID]
	if !ok {
		return domain.Seller{}, sellerNotFound(sellerID)
	}
	syncedAt = syncedAt.UTC()
	seller.TotalSales = metrics.TotalSales
	seller.TotalRevenueMinor = metrics.TotalRevenueMinor
	seller.TotalProducts = metrics.TotalProducts
	seller.LastMetricsSync = &syncedAt
	seller.UpdatedAt = syncedAt
	s.r.sellers[sellerID] = seller
	return seller, nil
}

type notificationRepo struct{ r *Registry }

func (n notificationRepo) Insert(ctx context.Context, notification domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.r.mu.Lock()
	defer n.r.mu.Unlock()
	n.r.notifications = append(n.r.notifications, notification)
	return nil
}

func productNotFound(productID string) *repositories.LedgerError {
	return &repositories.LedgerError{
		Code:      repositories.LedgerErrorProductNotFound,
		Message:   fmt.Sprintf("product %s not found", productID),
		ProductID: productID,
	}
}

func sellerNotFound(sellerID string) *repositories.LedgerError {
	return repositories.NewLedgerError(repositories.LedgerErrorSellerNotFound, fmt.Sprintf("seller %s not found", sellerID), nil)
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	o.SellerIDs = append([]string(nil), o.SellerIDs...)
	if o.PaymentProof != nil {
		proof := *o.PaymentProof
		o.PaymentProof = &proof
	}
	if o.VerifiedAt != nil {
		t := *o.VerifiedAt
		o.VerifiedAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		o.CompletedAt = &t
	}
	return o
}
