package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
)

// errOrderUnchanged lets a mutation short-circuit a transaction without writing.
var errOrderUnchanged = errors.New("order unchanged")

// ReservationCoordinatorDeps bundles the collaborators required by the coordinator.
type ReservationCoordinatorDeps struct {
	Ledger repositories.LedgerStore
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type reservationCoordinator struct {
	ledger repositories.LedgerStore
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

func NewReservationCoordinator(deps ReservationCoordinatorDeps) (ReservationCoordinator, error) {
	if deps.Ledger == nil {
		return nil, errors.New("reservation coordinator: ledger store is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &reservationCoordinator{
		ledger: deps.Ledger,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// ReserveForOrder checks every line against one snapshot, then reserves all of them and
// creates the order document. Any failure aborts the transaction, so nothing is written.
func (c *reservationCoordinator) ReserveForOrder(ctx context.Context, order Order) (Order, error) {
	if len(order.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order has no items", ErrOrderInvalidInput)
	}
	quantities, ids := aggregateQuantities(order.Items)

	ctx, span := tracer.Start(ctx, "ledger.reserve_order", trace.WithAttributes(
		attribute.String("order.id", order.ID),
		attribute.Int("order.products", len(ids)),
	))
	defer span.End()

	created := order
	err := c.ledger.RunLedgerTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		products, err := tx.GetProducts(ctx, ids)
		if err != nil {
			return err
		}
		for _, item := range order.Items {
			if products[item.ProductID].SellerID != item.SellerID {
				return fmt.Errorf("%w: item %s is not sold by %s", ErrOrderInvalidInput, item.ProductID, item.SellerID)
			}
		}
		for _, id := range ids {
			product := products[id]
			if product.Stock < quantities[id] {
				return &repositories.LedgerError{
					Op:        "reserve_order",
					Code:      repositories.LedgerErrorInsufficientStock,
					Message:   fmt.Sprintf("product %s has %d available, %d requested", id, product.Stock, quantities[id]),
					ProductID: id,
					Requested: quantities[id],
					Available: product.Stock,
				}
			}
		}

		now := c.clock()
		for _, id := range ids {
			product := products[id]
			if err := repositories.ReserveUnits(&product, quantities[id]); err != nil {
				return err
			}
			product.UpdatedAt = now
			if err := tx.UpdateProductCounters(product); err != nil {
				return err
			}
		}
		created = order
		created.StockReserved = true
		created.StockReleased = false
		return tx.CreateOrder(created)
	})
	if err != nil {
		endSpan(span, err)
		return Order{}, mapLedgerError(err)
	}
	return created, nil
}

func (c *reservationCoordinator) ReleaseForOrder(ctx context.Context, orderID string, mutate OrderMutation) (Order, error) {
	return c.settle(ctx, "ledger.release_order", orderID, mutate, repositories.ReleaseUnits)
}

func (c *reservationCoordinator) FinalizeForOrder(ctx context.Context, orderID string, mutate OrderMutation) (Order, error) {
	return c.settle(ctx, "ledger.finalize_order", orderID, mutate, repositories.FinalizeUnits)
}

// settle reads the order, applies mutate and moves reserved units with op. StockReleased marks
// an order whose reservation has already been released or finalized; such orders are written
// without touching product counters.
func (c *reservationCoordinator) settle(ctx context.Context, spanName, orderID string, mutate OrderMutation, op func(*domain.Product, int) error) (Order, error) {
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	ctx, span := tracer.Start(ctx, spanName, trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	var result Order
	settled := false
	err := c.ledger.RunLedgerTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		settled = false
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		result = order
		if mutate != nil {
			if err := mutate(&order); err != nil {
				return err
			}
		}

		var products map[string]domain.Product
		quantities, ids := aggregateQuantities(order.Items)
		needsLedger := order.StockReserved && !order.StockReleased
		if needsLedger {
			if products, err = tx.GetProducts(ctx, ids); err != nil {
				return err
			}
		}

		now := c.clock()
		if needsLedger {
			for _, id := range ids {
				product := products[id]
				if err := op(&product, quantities[id]); err != nil {
					return err
				}
				product.UpdatedAt = now
				if err := tx.UpdateProductCounters(product); err != nil {
					return err
				}
			}
			order.StockReleased = true
			settled = true
		}
		order.UpdatedAt = now
		result = order
		return tx.PutOrder(order)
	})
	span.SetAttributes(attribute.Bool("ledger.applied", settled))
	if errors.Is(err, errOrderUnchanged) {
		return result, nil
	}
	if err != nil {
		endSpan(span, err)
		mapped := mapLedgerError(err)
		if errors.Is(mapped, ErrInconsistentLedgerState) {
			c.logger(ctx, "ledger_inconsistent", map[string]any{"op": spanName, "orderId": orderID, "error": err.Error()})
		}
		return Order{}, mapped
	}
	return result, nil
}

// aggregateQuantities sums quantities per product, keeping first-seen order.
func aggregateQuantities(items []OrderItem) (map[string]int, []string) {
	quantities := make(map[string]int, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, seen := quantities[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}
	return quantities, ids
}
