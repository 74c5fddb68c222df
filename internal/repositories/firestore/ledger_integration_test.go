//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	pfirestore "github.com/add-to-Cart/porma-marketplace/internal/platform/firestore"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/firestore/firestoretest"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
)

func newIntegrationRegistry(t *testing.T) (*Registry, *pfirestore.Provider) {
	t.Helper()
	cfg := firestoretest.StartEmulator(t, "porma-ledger-test")
	provider := pfirestore.NewProvider(cfg, pfirestore.WithDefaultTxOptions(pfirestore.WithTxAttempts(20)))
	reg, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return reg, provider
}

func seedProduct(t *testing.T, ctx context.Context, provider *pfirestore.Provider, p domain.Product) {
	t.Helper()
	coll := pfirestore.NewCollection[productDocument](provider, productsCollection)
	if err := coll.Set(ctx, p.ID, newProductDocument(p)); err != nil {
		t.Fatalf("seed product %s: %v", p.ID, err)
	}
}

func reserveOrder(ctx context.Context, store repositories.LedgerStore, order domain.Order) error {
	return store.RunLedgerTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		ids := make([]string, len(order.Items))
		for i, item := range order.Items {
			ids[i] = item.ProductID
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

func TestLedgerStoreConcurrentReservationsDoNotOversell(t *testing.T) {
	reg, provider := newIntegrationRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Now().UTC()
	seedProduct(t, ctx, provider, domain.Product{ID: "P1", SellerID: "seller1", PriceMinor: 1500, Stock: 5, CreatedAt: now, UpdatedAt: now})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order := domain.Order{
				ID:            fmt.Sprintf("ord_%d", i),
				BuyerID:       "buyer",
				Items:         []domain.OrderItem{{ProductID: "P1", SellerID: "seller1", Quantity: 3, PriceMinor: 1500}},
				SellerIDs:     []string{"seller1"},
				Status:        domain.OrderStatusPending,
				StockReserved: true,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			err := reserveOrder(ctx, reg.Ledger(), order)
			mu.Lock()
			outcomes = append(outcomes, err)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	var successes, insufficient int
	for _, err := range outcomes {
		if err == nil {
			successes++
			continue
		}
		if ledgerErr, ok := repositories.AsLedgerError(err); ok && ledgerErr.Code == repositories.LedgerErrorInsufficientStock {
			insufficient++
			continue
		}
		t.Fatalf("unexpected error: %v", err)
	}
	if successes != 1 || insufficient != 1 {
		t.Fatalf("expected one success and one insufficient stock, got %d/%d", successes, insufficient)
	}

	product, err := reg.Products().FindByID(ctx, "P1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if product.Stock != 2 || product.ReservedStock != 3 {
		t.Fatalf("unexpected counters after race: %+v", product)
	}
}

func TestLedgerStoreMissingProductAbortsWholeOrder(t *testing.T) {
	reg, provider := newIntegrationRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	seedProduct(t, ctx, provider, domain.Product{ID: "P1", SellerID: "seller1", Stock: 10, CreatedAt: now, UpdatedAt: now})

	err := reserveOrder(ctx, reg.Ledger(), domain.Order{
		ID: "ord_missing",
		Items: []domain.OrderItem{
			{ProductID: "P1", Quantity: 2},
			{ProductID: "nope", Quantity: 1},
		},
		CreatedAt: now,
	})
	ledgerErr, ok := repositories.AsLedgerError(err)
	if !ok || ledgerErr.Code != repositories.LedgerErrorProductNotFound || ledgerErr.ProductID != "nope" {
		t.Fatalf("expected product_not_found for nope, got %v", err)
	}

	product, err := reg.Products().FindByID(ctx, "P1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if product.Stock != 10 || product.ReservedStock != 0 {
		t.Fatalf("expected untouched counters, got %+v", product)
	}
	if _, err := reg.Orders().FindByID(ctx, "ord_missing"); err == nil {
		t.Fatal("expected no order document")
	} else if repoErr, ok := err.(repositories.RepositoryError); !ok || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderRepositoryListPagesNewestFirst(t *testing.T) {
	reg, _ := newIntegrationRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	base := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		order := domain.Order{
			ID:        fmt.Sprintf("ord_%d", i),
			BuyerID:   "buyer1",
			SellerIDs: []string{"seller1"},
			Status:    domain.OrderStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
			UpdatedAt: base,
		}
		if err := reg.Ledger().RunLedgerTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
			return tx.CreateOrder(order)
		}); err != nil {
			t.Fatalf("create order %d: %v", i, err)
		}
	}

	page, err := reg.Orders().List(ctx, repositories.OrderListFilter{BuyerID: "buyer1", Pagination: domain.Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != "ord_2" || page.NextPageToken == "" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	next, err := reg.Orders().List(ctx, repositories.OrderListFilter{BuyerID: "buyer1", Pagination: domain.Pagination{PageSize: 2, PageToken: page.NextPageToken}})
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if len(next.Items) != 1 || next.Items[0].ID != "ord_0" || next.NextPageToken != "" {
		t.Fatalf("unexpected second page: %+v", next)
	}

	err = reg.Ledger().RunLedgerTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		return tx.CreateOrder(domain.Order{ID: "ord_0", CreatedAt: base})
	})
	if ledgerErr, ok := repositories.AsLedgerError(err); !ok || ledgerErr.Code != repositories.LedgerErrorConflict {
		t.Fatalf("expected conflict creating duplicate order, got %v", err)
	}

	if _, err := reg.Orders().List(ctx, repositories.OrderListFilter{Pagination: domain.Pagination{PageToken: "garbage!"}}); !errors.Is(err, repositories.ErrInvalidPageToken) {
		t.Fatalf("expected invalid page token, got %v", err)
	}
}

func TestSellerRepositoryApplyMetrics(t *testing.T) {
	reg, provider := newIntegrationRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sellers := pfirestore.NewCollection[sellerDocument](provider, sellersCollection)
	if err := sellers.Set(ctx, "seller1", sellerDocument{StoreName: "Kopi Corner", TotalSales: 99}); err != nil {
		t.Fatalf("seed seller: %v", err)
	}

	syncedAt := time.Date(2025, time.June, 2, 3, 4, 5, 0, time.UTC)
	seller, err := reg.Sellers().ApplyMetrics(ctx, "seller1", repositories.SellerMetrics{TotalSales: 7, TotalRevenueMinor: 10550, TotalProducts: 2}, syncedAt)
	if err != nil {
		t.Fatalf("ApplyMetrics: %v", err)
	}
	if seller.TotalSales != 7 || seller.TotalRevenueMinor != 10550 || seller.StoreName != "Kopi Corner" {
		t.Fatalf("unexpected seller: %+v", seller)
	}

	stored, err := reg.Sellers().FindByID(ctx, "seller1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.TotalRevenueMinor != 10550 || stored.LastMetricsSync == nil || !stored.LastMetricsSync.Equal(syncedAt) {
		t.Fatalf("unexpected stored seller: %+v", stored)
	}

	if _, err := reg.Sellers().ApplyMetrics(ctx, "seller1", repositories.SellerMetrics{TotalRevenueMinor: unrepresentableMinor}, syncedAt); err != nil {
		t.Fatalf("ApplyMetrics large revenue: %v", err)
	}
	if stored, err = reg.Sellers().FindByID(ctx, "seller1"); err != nil || stored.TotalRevenueMinor != unrepresentableMinor {
		t.Fatalf("expected exact revenue %d, got %+v (%v)", unrepresentableMinor, stored, err)
	}

	_, err = reg.Sellers().ApplyMetrics(ctx, "ghost", repositories.SellerMetrics{}, syncedAt)
	if ledgerErr, ok := repositories.AsLedgerError(err); !ok || ledgerErr.Code != repositories.LedgerErrorSellerNotFound {
		t.Fatalf("expected seller_not_found, got %v", err)
	}
}
