package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
)

func pendingOrder(id string, items ...OrderItem) Order {
	sellers := []string{}
	for _, it := range items {
		if !slices.Contains(sellers, it.SellerID) {
			sellers = append(sellers, it.SellerID)
		}
	}
	return Order{
		ID:            id,
		BuyerID:       "buyer1",
		Items:         items,
		SellerIDs:     sellers,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusCOD,
		PaymentMethod: domain.PaymentMethodCOD,
		CreatedAt:     fixtureNow,
		UpdatedAt:     fixtureNow,
	}
}

func TestReserveForOrder_ConcurrentCreationsDoNotOversell(t *testing.T) {
	f := newLedgerFixture(t)
	f.reg.PutProduct(domain.Product{ID: "P1", SellerID: "seller1", Stock: 5})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.coordinator.ReserveForOrder(context.Background(), pendingOrder(fmt.Sprintf("ord_%d", i), item("P1", "seller1", 3, 1000)))
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	succeeded, short := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, short)

	p := f.product(t, "P1")
	assert.Equal(t, 2, p.Stock)
	assert.Equal(t, 3, p.ReservedStock)
}

func TestReserveForOrder_AllOrNothing(t *testing.T) {
	f := newLedgerFixture(t)
	f.reg.PutProduct(domain.Product{ID: "P1", SellerID: "seller1", Stock: 10})
	f.reg.PutProduct(domain.Product{ID: "P2", SellerID: "seller2", Stock: 1})

	_, err := f.coordinator.ReserveForOrder(context.Background(), pendingOrder("ord_1",
		item("P1", "seller1", 4, 1000),
		item("P2", "seller2", 2, 2500),
	))
	var shortfall *InsufficientStockError
	require.ErrorAs(t, err, &shortfall)
	assert.Equal(t, "P2", shortfall.ProductID)
	assert.Equal(t, 2, shortfall.Requested)
	assert.Equal(t, 1, shortfall.Available)

	assert.Equal(t, domain.Product{ID: "P1", SellerID: "seller1", Stock: 10}, f.product(t, "P1"))
	assert.Equal(t, domain.Product{ID: "P2", SellerID: "seller2", Stock: 1}, f.product(t, "P2"))
	_, err = f.reg.Orders().FindByID(context.Background(), "ord_1")
	require.Error(t, err)
}

func TestReserveForOrder_AggregatesRepeatedProducts(t *testing.T) {
	f := newLedgerFixture(t)
	f.reg.PutProduct(domain.Product{ID: "P1", SellerID: "seller1", Stock: 5})

	_, err := f.coordinator.ReserveForOrder(context.Background(), pendingOrder("ord_1",
		item("P1", "seller1", 3, 1000),
		item("P1", "seller1", 3, 1000),
	))
	require.ErrorIs(t, err, ErrInsufficientStock)

	created, err := f.coordinator.ReserveForOrder(context.Background(), pendingOrder("ord_2",
		item("P1", "seller1", 2, 1000),
		item("P1", "seller1", 3, 1000),
	))
	require.NoError(t, err)
	assert.True(t, created.StockReserved)
	p := f.product(t, "P1")
	assert.Equal(t, 0, p.Stock)
	assert.Equal(t, 5, p.ReservedStock)
}

func TestReserveForOrder_RejectsSellerMismatchAndMissingProduct(t *testing.T) {
	f := newLedgerFixture(t)
	f.reg.PutProduct(domain.Product{ID: "P1", SellerID: "seller1", Stock: 5})
	ctx := context.Background()

	_, err := f.coordinator.ReserveForOrder(ctx, pendingOrder("ord_1", item("P1", "impostor", 1, 1000)))
	require.ErrorIs(t, err, ErrOrderInvalidInput)

	_, err = f.coordinator.ReserveForOrder(ctx, pendingOrder("ord_2", item("P1", "seller1", 1, 1000), item("ghost", "seller1", 1, 1000)))
	require.ErrorIs(t, err, ErrLedgerProductNotFound)

	assert.Equal(t, 5, f.product(t, "P1").Stock)
}

func TestReleaseForOrder_OnlyOnce(t *testing.T) {
	f := newLedgerFixture(t)
	f.reg.PutProduct(domain.Product{ID: "P1", SellerID: "seller1", Stock: 10})
	ctx := context.Background()

	_, err := f.coordinator.ReserveForOrder(ctx, pendingOrder("ord_1", item("P1", "seller1", 4, 1000)))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		released, err := f.coordinator.ReleaseForOrder(ctx, "ord_1", nil)
		require.NoError(t, err)
		assert.True(t, released.StockReleased)
	}
	p := f.product(t, "P1")
	assert.Equal(t, 10, p.Stock)
	assert.Equal(t, 0, p.ReservedStock)
}

func TestSettle_MutationErrorLeavesEverythingUntouched(t *testing.T) {
	f := newLedgerFixture(t)
	f.reg.PutProduct(domain.Product{ID: "P1", SellerID: "seller1", Stock: 10})
	ctx := context.Background()
	_, err := f.coordinator.ReserveForOrder(ctx, pendingOrder("ord_1", item("P1", "seller1", 4, 1000)))
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = f.coordinator.FinalizeForOrder(ctx, "ord_1", func(*Order) error { return boom })
	require.ErrorIs(t, err, boom)

	p := f.product(t, "P1")
	assert.Equal(t, 4, p.ReservedStock)
	assert.Equal(t, 0, p.SoldCount)
	assert.False(t, f.order(t, "ord_1").StockReleased)

	_, err = f.coordinator.FinalizeForOrder(ctx, "missing", nil)
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestSettle_ReportsInconsistentLedger(t *testing.T) {
	f := newLedgerFixture(t)
	f.reg.PutProduct(domain.Product{ID: "P1", SellerID: "seller1", Stock: 10, ReservedStock: 1})
	order := pendingOrder("ord_1", item("P1", "seller1", 4, 1000))
	order.StockReserved = true
	f.reg.PutOrder(order)

	_, err := f.coordinator.FinalizeForOrder(context.Background(), "ord_1", nil)
	require.ErrorIs(t, err, ErrInconsistentLedgerState)
	assert.True(t, f.log.has("ledger_inconsistent"))
	assert.Equal(t, 1, f.product(t, "P1").ReservedStock)
}
