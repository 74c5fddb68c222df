package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	pfirestore "github.com/add-to-Cart/porma-marketplace/internal/platform/firestore"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/pagination"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
)

// OrderRepository serves order reads. Listing needs composite indexes on
// (buyerId, createdAt desc) and (sellerIds array-contains, createdAt desc), plus
// (status, completedAt) for the completed-order scans.
type OrderRepository struct {
	orders *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{orders: pfirestore.NewCollection[orderDocument](provider, ordersCollection)}, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.Order{}, repositories.NewLedgerError(repositories.LedgerErrorOrderNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.Order{}, wrapLedgerError("orders.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	pageSize := pagination.ClampPageSize(filter.Pagination.PageSize)

	var cursor *pagination.Cursor
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		cursor = &decoded
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.BuyerID != "" {
			q = q.Where("buyerId", "==", filter.BuyerID)
		}
		if filter.SellerID != "" {
			q = q.Where("sellerIds", "array-contains", filter.SellerID)
		}
		if len(filter.Statuses) > 0 {
			statuses := make([]string, len(filter.Statuses))
			for i, status := range filter.Statuses {
				statuses[i] = string(status)
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if cursor != nil {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapLedgerError("orders.list", err)
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	var next string
	if len(orders) > pageSize {
		orders = orders[:pageSize]
		last := orders[len(orders)-1]
		next, err = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
	}
	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: next}, nil
}

func (r *OrderRepository) ListCompleted(ctx context.Context, filter repositories.CompletedOrderFilter) ([]domain.Order, error) {
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.OrderStatusCompleted))
		if filter.SellerID != "" {
			q = q.Where("sellerIds", "array-contains", filter.SellerID)
		}
		if !filter.CompletedFrom.IsZero() {
			q = q.Where("completedAt", ">=", filter.CompletedFrom.UTC())
		}
		if !filter.CompletedTo.IsZero() {
			q = q.Where("completedAt", "<", filter.CompletedTo.UTC())
		}
		return q.OrderBy("completedAt", firestore.Asc)
	})
	if err != nil {
		return nil, wrapLedgerError("orders.list_completed", err)
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

func (r *OrderRepository) ScanCompleted(ctx context.Context, fn func(domain.Order) error) error {
	err := r.orders.Each(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", string(domain.OrderStatusCompleted))
	}, func(doc pfirestore.Document[orderDocument]) error {
		return fn(doc.Data.toDomain(doc.ID))
	})
	return wrapLedgerError("orders.scan_completed", err)
}
