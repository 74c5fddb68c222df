package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
)

func reserve(ctx context.Context, store repositories.LedgerStore, order domain.Order) error {
	return store.RunLedgerTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		ids := make([]string, 0, len(order.Items))
		for _, item := range order.Items {
			ids = append(ids, item.ProductID)
		}
		products, err := tx.GetProducts(ctx, ids)
		if err != nil {
			return err
		}
		for _, item := range order.Items {
			p := products[item.ProductID]
			if err := repositories.ReserveUnits(&p, item.Quantity); err != nil {
				return err
			}
			products[item.ProductID] = p
		}
		for _, p := range products {
			if err := tx.UpdateProductCounters(p); err != nil {
				return err
			}
		}
		return tx.CreateOrder(order)
	})
}

func TestLedgerTxAppliesNothingOnError(t *testing.T) {
	reg := NewRegistry()
	reg.PutProduct(domain.Product{ID: "P1", Stock: 10})
	reg.PutProduct(domain.Product{ID: "P2", Stock: 1})
	ctx := context.Background()

	err := reserve(ctx, reg.Ledger(), domain.Order{ID: "o1", Items: []domain.OrderItem{
		{ProductID: "P1", Quantity: 4},
		{ProductID: "P2", Quantity: 2},
	}})
	ledgerErr, ok := repositories.AsLedgerError(err)
	require.True(t, ok)
	assert.Equal(t, repositories.LedgerErrorInsufficientStock, ledgerErr.Code)
	assert.Equal(t, "P2", ledgerErr.ProductID)

	p1, err := reg.Products().FindByID(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 10, p1.Stock)
	assert.Equal(t, 0, p1.ReservedStock)

	_, err = reg.Orders().FindByID(ctx, "o1")
	var repoErr repositories.RepositoryError
	require.True(t, errors.As(err, &repoErr))
	assert.True(t, repoErr.IsNotFound())
}

func TestLedgerTxRejectsReadAfterWrite(t *testing.T) {
	reg := NewRegistry()
	reg.PutProduct(domain.Product{ID: "P1", Stock: 1})

	err := reg.Ledger().RunLedgerTx(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		if err := tx.PutOrder(domain.Order{ID: "o1"}); err != nil {
			return err
		}
		_, err := tx.GetProducts(ctx, []string{"P1"})
		return err
	})
	require.ErrorIs(t, err, repositories.ErrReadAfterWrite)
	_, err = reg.Orders().FindByID(context.Background(), "o1")
	assert.Error(t, err)
}

func TestLedgerTxCreateOrderConflict(t *testing.T) {
	reg := NewRegistry()
	reg.PutOrder(domain.Order{ID: "o1"})

	err := reg.Ledger().RunLedgerTx(context.Background(), func(ctx context.Context, tx repositories.LedgerTx) error {
		return tx.CreateOrder(domain.Order{ID: "o1"})
	})
	ledgerErr, ok := repositories.AsLedgerError(err)
	require.True(t, ok)
	assert.True(t, ledgerErr.IsConflict())
}

func TestLedgerTxConcurrentReservationsDoNotOversell(t *testing.T) {
	reg := NewRegistry()
	reg.PutProduct(domain.Product{ID: "P1", Stock: 5})
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := reserve(ctx, reg.Ledger(), domain.Order{
				ID:    fmt.Sprintf("o%d", i),
				Items: []domain.OrderItem{{ProductID: "P1", Quantity: 3}},
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			ledgerErr, ok := repositories.AsLedgerError(err)
			if assert.True(t, ok) {
				assert.Equal(t, repositories.LedgerErrorInsufficientStock, ledgerErr.Code)
			}
			failures++
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 19, failures)
	p1, err := reg.Products().FindByID(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 2, p1.Stock)
	assert.Equal(t, 3, p1.ReservedStock)
}

func TestOrderListPagingAndFilters(t *testing.T) {
	reg := NewRegistry()
	base := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		status := domain.OrderStatusPending
		if i%2 == 1 {
			status = domain.OrderStatusCompleted
		}
		reg.PutOrder(domain.Order{
			ID:        fmt.Sprintf("o%d", i),
			BuyerID:   "buyer1",
			SellerIDs: []string{"seller1"},
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	reg.PutOrder(domain.Order{ID: "other", BuyerID: "buyer2", SellerIDs: []string{"seller2"}, CreatedAt: base})
	ctx := context.Background()

	page, err := reg.Orders().List(ctx, repositories.OrderListFilter{BuyerID: "buyer1", Pagination: domain.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "o4", page.Items[0].ID)
	assert.Equal(t, "o3", page.Items[1].ID)
	require.NotEmpty(t, page.NextPageToken)

	page, err = reg.Orders().List(ctx, repositories.OrderListFilter{BuyerID: "buyer1", Pagination: domain.Pagination{PageSize: 2, PageToken: page.NextPageToken}})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "o2", page.Items[0].ID)

	page, err = reg.Orders().List(ctx, repositories.OrderListFilter{
		SellerID: "seller1",
		Statuses: []domain.OrderStatus{domain.OrderStatusCompleted},
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Empty(t, page.NextPageToken)

	_, err = reg.Orders().List(ctx, repositories.OrderListFilter{Pagination: domain.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, repositories.ErrInvalidPageToken)
}

func TestListCompletedWindow(t *testing.T) {
	reg := NewRegistry()
	day := time.Date(2025, time.April, 10, 12, 0, 0, 0, time.UTC)
	early, mid, late := day.Add(-48*time.Hour), day, day.Add(48*time.Hour)
	reg.PutOrder(domain.Order{ID: "a", SellerIDs: []string{"s1"}, Status: domain.OrderStatusCompleted, CompletedAt: &late})
	reg.PutOrder(domain.Order{ID: "b", SellerIDs: []string{"s1"}, Status: domain.OrderStatusCompleted, CompletedAt: &mid})
	reg.PutOrder(domain.Order{ID: "c", SellerIDs: []string{"s1"}, Status: domain.OrderStatusCompleted, CompletedAt: &early})
	reg.PutOrder(domain.Order{ID: "d", SellerIDs: []string{"s2"}, Status: domain.OrderStatusCompleted, CompletedAt: &mid})

	orders, err := reg.Orders().ListCompleted(context.Background(), repositories.CompletedOrderFilter{
		SellerID:      "s1",
		CompletedFrom: day.Add(-24 * time.Hour),
		CompletedTo:   day.Add(72 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "b", orders[0].ID)
	assert.Equal(t, "a", orders[1].ID)
}

func TestSellerApplyMetrics(t *testing.T) {
	reg := NewRegistry()
	reg.PutSeller(domain.Seller{ID: "s1", StoreName: "Warung", TotalSales: 40})
	synced := time.Date(2025, time.May, 5, 0, 0, 0, 0, time.UTC)

	seller, err := reg.Sellers().ApplyMetrics(context.Background(), "s1", repositories.SellerMetrics{TotalSales: 3, TotalRevenueMinor: 4500, TotalProducts: 2}, synced)
	require.NoError(t, err)
	assert.Equal(t, 3, seller.TotalSales)
	assert.Equal(t, "Warung", seller.StoreName)
	require.NotNil(t, seller.LastMetricsSync)
	assert.True(t, seller.LastMetricsSync.Equal(synced))

	_, err = reg.Sellers().ApplyMetrics(context.Background(), "ghost", repositories.SellerMetrics{}, synced)
	ledgerErr, ok := repositories.AsLedgerError(err)
	require.True(t, ok)
	assert.Equal(t, repositories.LedgerErrorSellerNotFound, ledgerErr.Code)
}

func TestHealthReportsOK(t *testing.T) {
	report, err := NewRegistry().Health().Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusOK, report.Status)
	assert.Contains(t, report.Checks, "memory")
}
