package memory

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
)

type ledgerStore struct{ r *Registry }

// RunLedgerTx serialises ledger units behind the registry lock. Writes are staged and only
// applied when fn returns nil.
func (s ledgerStore) RunLedgerTx(ctx context.Context, fn func(ctx context.Context, tx repositories.LedgerTx) error) error {
	if fn == nil {
		return errors.New("ledger store: transaction function is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()

	tx := &ledgerTx{
		r:        s.r,
		products: make(map[string]domain.Product),
		created:  make(map[string]domain.Order),
		put:      make(map[string]domain.Order),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for id, product := range tx.products {
		s.r.products[id] = product
	}
	for id, order := range tx.created {
		s.r.orders[id] = order
	}
	for id, order := range tx.put {
		s.r.orders[id] = order
	}
	return nil
}

type ledgerTx struct {
	r        *Registry
	wrote    bool
	products map[string]domain.Product
	created  map[string]domain.Order
	put      map[string]domain.Order
}

func (t *ledgerTx) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if t.wrote {
		return nil, repositories.ErrReadAfterWrite
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		product, ok := t.r.products[id]
		if !ok {
			err := productNotFound(id)
			err.Op = "ledger.get_products"
			return nil, err
		}
		out[id] = product
	}
	return out, nil
}

func (t *ledgerTx) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if t.wrote {
		return domain.Order{}, repositories.ErrReadAfterWrite
	}
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	order, ok := t.r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewLedgerError(repositories.LedgerErrorOrderNotFound, fmt.Sprintf("order %s not found", orderID), nil)
	}
	return cloneOrder(order), nil
}

func (t *ledgerTx) UpdateProductCounters(product domain.Product) error {
	t.wrote = true
	current, ok := t.products[product.ID]
	if !ok {
		current, ok = t.r.products[product.ID]
	}
	if !ok {
		return productNotFound(product.ID)
	}
	current.Stock = product.Stock
	current.ReservedStock = product.ReservedStock
	current.SoldCount = product.SoldCount
	current.UpdatedAt = product.UpdatedAt
	t.products[product.ID] = current
	return nil
}

func (t *ledgerTx) CreateOrder(order domain.Order) error {
	t.wrote = true
	_, exists := t.r.orders[order.ID]
	_, staged := t.created[order.ID]
	if exists || staged {
		return repositories.NewLedgerError(repositories.LedgerErrorConflict, fmt.Sprintf("order %s already exists", order.ID), nil)
	}
	t.created[order.ID] = cloneOrder(order)
	return nil
}

func (t *ledgerTx) PutOrder(order domain.Order) error {
	t.wrote = true
	t.put[order.ID] = cloneOrder(order)
	return nil
}
