package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories/memory"
)

var fixtureNow = time.Date(2025, time.June, 10, 9, 30, 0, 0, time.UTC)

type recordingNotifier struct {
	mu       sync.Mutex
	requests []NotificationRequest
}

func (n *recordingNotifier) Notify(_ context.Context, req NotificationRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
}

func (n *recordingNotifier) sent() []NotificationRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]NotificationRequest(nil), n.requests...)
}

type logEntry struct {
	event  string
	fields map[string]any
}

type recordingLog struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLog) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{event: event, fields: fields})
}

func (l *recordingLog) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.event == event {
			return true
		}
	}
	return false
}

type ledgerFixture struct {
	reg         *memory.Registry
	ledger      StockLedger
	coordinator ReservationCoordinator
	orders      OrderService
	metrics     MetricsReconciler
	notifier    *recordingNotifier
	log         *recordingLog
	now         time.Time
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	f := &ledgerFixture{
		reg:      memory.NewRegistry(),
		notifier: &recordingNotifier{},
		log:      &recordingLog{},
		now:      fixtureNow,
	}
	clock := func() time.Time { return f.now }
	var seq atomic.Int64
	ids := func() string { return fmt.Sprintf("%04d", seq.Add(1)) }

	var err error
	f.ledger, err = NewStockLedger(StockLedgerDeps{Ledger: f.reg.Ledger(), Products: f.reg.Products(), Clock: clock, Logger: f.log.log})
	if err != nil {
		t.Fatalf("NewStockLedger: %v", err)
	}
	f.coordinator, err = NewReservationCoordinator(ReservationCoordinatorDeps{Ledger: f.reg.Ledger(), Clock: clock, Logger: f.log.log})
	if err != nil {
		t.Fatalf("NewReservationCoordinator: %v", err)
	}
	f.orders, err = NewOrderService(OrderServiceDeps{
		Orders:      f.reg.Orders(),
		Ledger:      f.reg.Ledger(),
		Reservation: f.coordinator,
		Notifier:    f.notifier,
		Clock:       clock,
		IDGenerator: ids,
		Logger:      f.log.log,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	f.metrics, err = NewMetricsReconciler(MetricsReconcilerDeps{
		Products:    f.reg.Products(),
		Orders:      f.reg.Orders(),
		Sellers:     f.reg.Sellers(),
		Clock:       clock,
		IDGenerator: ids,
		Logger:      f.log.log,
	})
	if err != nil {
		t.Fatalf("NewMetricsReconciler: %v", err)
	}
	return f
}

func (f *ledgerFixture) product(t *testing.T, id string) domain.Product {
	t.Helper()
	p, err := f.reg.Products().FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find product %s: %v", id, err)
	}
	return p
}

func (f *ledgerFixture) order(t *testing.T, id string) domain.Order {
	t.Helper()
	o, err := f.reg.Orders().FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find order %s: %v", id, err)
	}
	return o
}

func checkoutCommand(buyerID, method string, items ...OrderItem) CreateOrderCommand {
	var subtotal int64
	for _, item := range items {
		subtotal += item.PriceMinor * int64(item.Quantity)
	}
	return CreateOrderCommand{
		Actor:            Actor{ID: buyerID},
		BuyerID:          buyerID,
		Items:            items,
		SubtotalMinor:    subtotal,
		DeliveryFeeMinor: 500,
		TotalMinor:       subtotal + 500,
		PaymentMethod:    method,
		DeliveryDetails:  DeliveryDetails{RecipientName: "Ana Cruz", Phone: "0917 555 0101", Address: "12 Mabini St"},
	}
}

func item(productID, sellerID string, qty int, price int64) OrderItem {
	return OrderItem{ProductID: productID, SellerID: sellerID, Name: "Item " + productID, Quantity: qty, PriceMinor: price}
}
