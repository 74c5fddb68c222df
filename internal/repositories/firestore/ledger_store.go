package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	pfirestore "github.com/add-to-Cart/porma-marketplace/internal/platform/firestore"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
)

// LedgerStore runs ledger units as Firestore transactions spanning every product and order
// document they touch. Firestore retries the unit on contention, which is what prevents two
// concurrent reservations from both spending the same stock.
type LedgerStore struct {
	provider *pfirestore.Provider
	products *pfirestore.Collection[productDocument]
	orders   *pfirestore.Collection[orderDocument]
}

var _ repositories.LedgerStore = (*LedgerStore)(nil)

func NewLedgerStore(provider *pfirestore.Provider) (*LedgerStore, error) {
	if provider == nil {
		return nil, errors.New("ledger store requires firestore provider")
	}
	return &LedgerStore{
		provider: provider,
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
	}, nil
}

func (s *LedgerStore) RunLedgerTx(ctx context.Context, fn func(ctx context.Context, tx repositories.LedgerTx) error) error {
	if fn == nil {
		return errors.New("ledger store: transaction function is required")
	}
	err := s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &ledgerTx{ctx: ctx, tx: tx, store: s})
	})
	return wrapLedgerError("ledger.tx", err)
}

type ledgerTx struct {
	ctx   context.Context
	tx    *firestore.Transaction
	store *LedgerStore
	wrote bool
}

func (t *ledgerTx) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if t.wrote {
		return nil, repositories.ErrReadAfterWrite
	}
	ids := make([]string, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		ref, err := t.store.products.Doc(ctx, id)
		if err != nil {
			return nil, err
		}
		refs[i] = ref
	}
	snaps, err := t.tx.GetAll(refs)
	if err != nil {
		return nil, err
	}

	products := make(map[string]domain.Product, len(snaps))
	for i, snap := range snaps {
		if !snap.Exists() {
			return nil, &repositories.LedgerError{
				Op:        "ledger.get_products",
				Code:      repositories.LedgerErrorProductNotFound,
				Message:   fmt.Sprintf("product %s not found", ids[i]),
				ProductID: ids[i],
			}
		}
		doc, err := t.store.products.Decode(snap)
		if err != nil {
			return nil, err
		}
		products[doc.ID] = doc.Data.toDomain(doc.ID)
	}
	return products, nil
}

func (t *ledgerTx) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if t.wrote {
		return domain.Order{}, repositories.ErrReadAfterWrite
	}
	ref, err := t.store.orders.Doc(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := t.tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.Order{}, repositories.NewLedgerError(repositories.LedgerErrorOrderNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.Order{}, err
	}
	doc, err := t.store.orders.Decode(snap)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (t *ledgerTx) UpdateProductCounters(product domain.Product) error {
	ref, err := t.store.products.Doc(t.ctx, product.ID)
	if err != nil {
		return err
	}
	t.wrote = true
	return t.tx.Update(ref, productCounterUpdates(product))
}

func (t *ledgerTx) CreateOrder(order domain.Order) error {
	ref, err := t.store.orders.Doc(t.ctx, order.ID)
	if err != nil {
		return err
	}
	t.wrote = true
	return t.tx.Create(ref, newOrderDocument(order))
}

func (t *ledgerTx) PutOrder(order domain.Order) error {
	ref, err := t.store.orders.Doc(t.ctx, order.ID)
	if err != nil {
		return err
	}
	t.wrote = true
	return t.tx.Set(ref, newOrderDocument(order))
}
