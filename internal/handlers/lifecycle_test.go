package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories/memory"
	"github.com/add-to-Cart/porma-marketplace/internal/services"
)

// lifecycle wires the real services over the in-memory registry behind the full router.
type lifecycle struct {
	reg    *memory.Registry
	router http.Handler
}

func newLifecycle(t *testing.T) *lifecycle {
	t.Helper()
	now := time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	seq := 0
	ids := func() string {
		seq++
		return fmt.Sprintf("%04d", seq)
	}

	reg := memory.NewRegistry()
	reg.PutSeller(domain.Seller{ID: "seller1", StoreName: "Kopi Corner"})
	reg.PutProduct(domain.Product{ID: "P1", SellerID: "seller1", Name: "Kopi Susu", PriceMinor: 1500, Stock: 10, CreatedAt: now, UpdatedAt: now})

	ledger, err := services.NewStockLedger(services.StockLedgerDeps{Ledger: reg.Ledger(), Products: reg.Products(), Clock: clock})
	if err != nil {
		t.Fatalf("NewStockLedger: %v", err)
	}
	coordinator, err := services.NewReservationCoordinator(services.ReservationCoordinatorDeps{Ledger: reg.Ledger(), Clock: clock})
	if err != nil {
		t.Fatalf("NewReservationCoordinator: %v", err)
	}
	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      reg.Orders(),
		Ledger:      reg.Ledger(),
		Reservation: coordinator,
		Clock:       clock,
		IDGenerator: ids,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	metrics, err := services.NewMetricsReconciler(services.MetricsReconcilerDeps{
		Products:    reg.Products(),
		Orders:      reg.Orders(),
		Sellers:     reg.Sellers(),
		Clock:       clock,
		IDGenerator: ids,
	})
	if err != nil {
		t.Fatalf("NewMetricsReconciler: %v", err)
	}

	authn := testAuthenticator()
	router := NewRouter(
		WithOrderRoutes(NewOrderHandlers(authn, orders).Routes),
		WithProductRoutes(NewProductHandlers(ledger).Routes),
		WithAdminRoutes(NewAdminHandlers(authn, metrics, WithAdminStockLedger(ledger)).Routes),
	)
	return &lifecycle{reg: reg, router: router}
}

func (l *lifecycle) product(t *testing.T, id string) domain.Product {
	t.Helper()
	p, err := l.reg.Products().FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID(%s): %v", id, err)
	}
	return p
}

func (l *lifecycle) createOrder(t *testing.T, method string) orderPayload {
	t.Helper()
	body := strings.Replace(createBody, `"paymentMethod": "cod"`, fmt.Sprintf(`"paymentMethod": %q`, method), 1)
	rr := doRequest(t, l.router, http.MethodPost, "/api/v1/orders", "buyer1", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create %s order: expected 201, got %d: %s", method, rr.Code, rr.Body.String())
	}
	var order orderPayload
	decodeJSON(t, rr, &order)
	return order
}

func TestLifecycleCreateReservesStock(t *testing.T) {
	l := newLifecycle(t)

	order := l.createOrder(t, "cod")
	if order.ID != "ord_0001" || order.Status != "pending" || !order.StockReserved {
		t.Fatalf("unexpected order %+v", order)
	}
	p := l.product(t, "P1")
	if p.Stock != 6 || p.ReservedStock != 4 {
		t.Fatalf("expected stock 6 reserved 4, got %+v", p)
	}

	rr := doRequest(t, l.router, http.MethodGet, "/api/v1/products/P1/availability?qty=7", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("availability: expected 200, got %d", rr.Code)
	}
	var avail availabilityPayload
	decodeJSON(t, rr, &avail)
	if avail.Available || avail.AvailableStock != 6 {
		t.Fatalf("expected 7 units to be unavailable with 6 left, got %+v", avail)
	}

	rr = doRequest(t, l.router, http.MethodPost, "/api/v1/orders", "buyer1", strings.Replace(createBody, `"quantity": 4`, `"quantity": 7`, 1))
	if rr.Code != http.StatusBadRequest || errorBody(t, rr)["error"] != "insufficient_stock" {
		t.Fatalf("expected insufficient_stock, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestLifecycleRejectReleasesStock(t *testing.T) {
	l := newLifecycle(t)
	order := l.createOrder(t, "bank_transfer")
	if order.Status != "awaiting_payment" {
		t.Fatalf("expected awaiting_payment, got %s", order.Status)
	}

	rr := doRequest(t, l.router, http.MethodPost, "/api/v1/orders/"+order.ID+"/payment-proof", "buyer1",
		`{"proofUrl":"https://cdn.example.com/proof.jpg","referenceNumber":"trx-88"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("payment proof: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	reject := `{"verified":false,"sellerId":"seller1","rejectionReason":"amount mismatch"}`
	rr = doRequest(t, l.router, http.MethodPost, "/api/v1/orders/"+order.ID+"/verify-payment", "seller1", reject)
	if rr.Code != http.StatusOK {
		t.Fatalf("reject: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var rejected orderPayload
	decodeJSON(t, rr, &rejected)
	if rejected.Status != "payment_rejected" || !rejected.StockReleased {
		t.Fatalf("unexpected rejected order %+v", rejected)
	}
	if p := l.product(t, "P1"); p.Stock != 10 || p.ReservedStock != 0 {
		t.Fatalf("expected stock restored to 10/0, got %+v", p)
	}

	rr = doRequest(t, l.router, http.MethodPost, "/api/v1/orders/"+order.ID+"/verify-payment", "seller1", reject)
	if rr.Code != http.StatusOK {
		t.Fatalf("second reject: expected 200, got %d", rr.Code)
	}
	if p := l.product(t, "P1"); p.Stock != 10 || p.ReservedStock != 0 {
		t.Fatalf("second reject must not release again, got %+v", p)
	}

	rr = doRequest(t, l.router, http.MethodPost, "/api/v1/orders/"+order.ID+"/verify-payment", "buyer1", reject)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("buyer rejecting: expected 403, got %d", rr.Code)
	}
}

func TestLifecycleCompleteFinalizesStock(t *testing.T) {
	l := newLifecycle(t)
	order := l.createOrder(t, "cod")

	rr := doRequest(t, l.router, http.MethodPatch, "/api/v1/orders/"+order.ID+"/complete", "buyer1", "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("buyer completing: expected 403, got %d", rr.Code)
	}

	rr = doRequest(t, l.router, http.MethodPatch, "/api/v1/orders/"+order.ID+"/complete", "seller1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var completed orderPayload
	decodeJSON(t, rr, &completed)
	if completed.Status != "completed" || completed.CompletedAt == "" {
		t.Fatalf("unexpected completed order %+v", completed)
	}
	p := l.product(t, "P1")
	if p.Stock != 6 || p.ReservedStock != 0 || p.SoldCount != 4 {
		t.Fatalf("expected stock 6 reserved 0 sold 4, got %+v", p)
	}

	rr = doRequest(t, l.router, http.MethodPost, "/api/v1/admin/sync-seller/seller1", "ops", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("sync seller: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var metrics sellerMetricsPayload
	decodeJSON(t, rr, &metrics)
	if metrics.TotalSales != 4 || metrics.TotalRevenue.String() != "60.00" || metrics.TotalProducts != 1 {
		t.Fatalf("unexpected seller metrics %+v", metrics)
	}

	rr = doRequest(t, l.router, http.MethodGet, "/api/v1/admin/verify-consistency", "ops", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("verify consistency: expected 200, got %d", rr.Code)
	}
	var report consistencyPayload
	decodeJSON(t, rr, &report)
	if !report.Consistent || report.CompletedOrderQuantity != 4 || report.ProductSoldCount != 4 || report.SellerTotalSales != 4 {
		t.Fatalf("expected consistent report after sync, got %+v", report)
	}

	if rr := doRequest(t, l.router, http.MethodGet, "/api/v1/admin/verify-consistency", "seller1", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("seller on admin route: expected 403, got %d", rr.Code)
	}
}

func TestLifecycleReadsAreScopedToParticipants(t *testing.T) {
	l := newLifecycle(t)
	order := l.createOrder(t, "cod")

	if rr := doRequest(t, l.router, http.MethodGet, "/api/v1/orders/"+order.ID, "seller1", ""); rr.Code != http.StatusOK {
		t.Fatalf("seller read: expected 200, got %d", rr.Code)
	}
	if rr := doRequest(t, l.router, http.MethodGet, "/api/v1/orders/"+order.ID, "buyer2", ""); rr.Code != http.StatusForbidden {
		t.Fatalf("stranger read: expected 403, got %d", rr.Code)
	}
	if rr := doRequest(t, l.router, http.MethodGet, "/api/v1/orders/ord_missing", "buyer1", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("missing order: expected 404, got %d", rr.Code)
	}

	rr := doRequest(t, l.router, http.MethodGet, "/api/v1/orders/buyer/buyer1", "buyer1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("buyer list: expected 200, got %d", rr.Code)
	}
	var list orderListPayload
	decodeJSON(t, rr, &list)
	if len(list.Items) != 1 || list.Items[0].ID != order.ID {
		t.Fatalf("unexpected buyer list %+v", list)
	}
}

func TestLifecycleAdminStockAdjustment(t *testing.T) {
	l := newLifecycle(t)
	l.createOrder(t, "cod")
	target := "/api/v1/admin/products/P1/stock-adjustments"
	release := `{"operation":"release","quantity":4,"reason":"order lost in migration"}`

	rr := doRequest(t, l.router, http.MethodPost, target, "ops", release)
	if rr.Code != http.StatusOK {
		t.Fatalf("release: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var counters productCountersPayload
	decodeJSON(t, rr, &counters)
	if counters.ProductID != "P1" || counters.Stock != 10 || counters.ReservedStock != 0 {
		t.Fatalf("unexpected counters %+v", counters)
	}

	rr = doRequest(t, l.router, http.MethodPost, target, "ops", release)
	if rr.Code != http.StatusInternalServerError || errorBody(t, rr)["error"] != "inconsistent_ledger_state" {
		t.Fatalf("second release: expected inconsistent_ledger_state, got %d %s", rr.Code, rr.Body.String())
	}
	if p := l.product(t, "P1"); p.Stock != 10 || p.ReservedStock != 0 {
		t.Fatalf("failed release must not move counters, got %+v", p)
	}

	rr = doRequest(t, l.router, http.MethodPost, target, "ops", `{"operation":"reserve","quantity":11,"reason":"hold"}`)
	if rr.Code != http.StatusBadRequest || errorBody(t, rr)["error"] != "insufficient_stock" {
		t.Fatalf("over-reserve: expected insufficient_stock, got %d %s", rr.Code, rr.Body.String())
	}

	cases := []struct {
		name   string
		target string
		token  string
		body   string
		status int
	}{
		{"seller is not admin", target, "seller1", release, http.StatusForbidden},
		{"unknown operation", target, "ops", `{"operation":"restock","quantity":1,"reason":"x"}`, http.StatusBadRequest},
		{"missing reason", target, "ops", `{"operation":"reserve","quantity":1}`, http.StatusBadRequest},
		{"zero quantity", target, "ops", `{"operation":"reserve","quantity":0,"reason":"x"}`, http.StatusBadRequest},
		{"unknown product", "/api/v1/admin/products/ghost/stock-adjustments", "ops", release, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rr := doRequest(t, l.router, http.MethodPost, tc.target, tc.token, tc.body); rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}
