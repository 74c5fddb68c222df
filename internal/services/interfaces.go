package services

import (
	"context"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
)

// Type aliases expose domain models to handlers without importing domain everywhere.
type (
	Pagination          = domain.Pagination
	Product             = domain.Product
	Order               = domain.Order
	OrderItem           = domain.OrderItem
	DeliveryDetails     = domain.DeliveryDetails
	Seller              = domain.Seller
	Notification        = domain.Notification
	SellerMetricsResult = domain.SellerMetricsResult
	ConsistencyReport   = domain.ConsistencyReport
	SellerTrend         = domain.SellerTrend
	SystemHealthReport  = domain.SystemHealthReport
)

// Actor identifies the authenticated caller driving a transition.
type Actor struct {
	ID    string
	Admin bool
}

func (a Actor) canActAsBuyer(order domain.Order) bool {
	return a.Admin || (a.ID != "" && order.BuyerID == a.ID)
}

func (a Actor) canActAsSeller(order domain.Order) bool {
	return a.Admin || order.HasSeller(a.ID)
}

// StockLedger exposes single-product counter operations, each in its own transaction.
type StockLedger interface {
	CheckAvailability(ctx context.Context, productID string, qty int) (Availability, error)
	Reserve(ctx context.Context, productID string, qty int) (Product, error)
	Release(ctx context.Context, productID string, qty int) (Product, error)
	Finalize(ctx context.Context, productID string, qty int) (Product, error)
}

// Availability answers whether qty units of a product can be reserved right now.
type Availability struct {
	ProductID      string
	Requested      int
	Available      bool
	AvailableStock int
	Reason         string
}

// OrderMutation adjusts an order read inside a ledger transaction. It may run more than once.
type OrderMutation func(order *Order) error

// ReservationCoordinator applies ledger operations across every item of an order atomically.
type ReservationCoordinator interface {
	// ReserveForOrder reserves every item and creates the order in one transaction.
	ReserveForOrder(ctx context.Context, order Order) (Order, error)
	// ReleaseForOrder applies mutate and, unless already done, returns reserved units to stock.
	ReleaseForOrder(ctx context.Context, orderID string, mutate OrderMutation) (Order, error)
	// FinalizeForOrder applies mutate and, unless already done, turns reserved units into sold units.
	FinalizeForOrder(ctx context.Context, orderID string, mutate OrderMutation) (Order, error)
}

// OrderService drives the order state machine.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	SubmitPaymentProof(ctx context.Context, cmd SubmitPaymentProofCommand) (Order, error)
	VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (Order, error)
	CompleteOrder(ctx context.Context, cmd CompleteOrderCommand) (Order, error)
	UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error)
	ListBuyerOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error)
	ListSellerOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error)
}

// CreateOrderCommand carries a checkout. Item prices are stored as submitted.
type CreateOrderCommand struct {
	Actor            Actor
	BuyerID          string
	Items            []OrderItem
	SubtotalMinor    int64
	DeliveryFeeMinor int64
	TotalMinor       int64
	PaymentMethod    string
	DeliveryDetails  DeliveryDetails
}

type SubmitPaymentProofCommand struct {
	Actor           Actor
	OrderID         string
	BuyerID         string
	ProofURL        string
	ReferenceNumber string
}

type VerifyPaymentCommand struct {
	Actor           Actor
	OrderID         string
	SellerID        string
	Verified        bool
	RejectionReason string
}

type CompleteOrderCommand struct {
	Actor   Actor
	OrderID string
}

// UpdateOrderCommand patches an order. Status only accepts completed.
type UpdateOrderCommand struct {
	Actor          Actor
	OrderID        string
	Status         *string
	DeliveryStatus *string
	BuyerNotified  *bool
}

// OrderListQuery lists a buyer's or seller's orders, newest first.
type OrderListQuery struct {
	Actor      Actor
	OwnerID    string
	Statuses   []domain.OrderStatus
	Pagination Pagination
}

// MetricsReconciler rebuilds seller aggregates and audits cross-collection consistency.
type MetricsReconciler interface {
	RecalculateSellerMetrics(ctx context.Context, sellerID string) (SellerMetricsResult, error)
	SyncAllSellerMetrics(ctx context.Context) ([]SellerMetricsResult, error)
	VerifyDataConsistency(ctx context.Context) (ConsistencyReport, error)
	SellerTrend(ctx context.Context, sellerID string, days int) (SellerTrend, error)
}

// NotificationRequest is what a transition asks the dispatcher to deliver.
type NotificationRequest struct {
	UserID  string
	Type    domain.NotificationType
	Title   string
	Message string
	Data    map[string]any
}

// Notifier accepts notifications without blocking or failing the caller.
type Notifier interface {
	Notify(ctx context.Context, req NotificationRequest)
}

// NotificationSink delivers one notification to a backend.
type NotificationSink interface {
	Name() string
	Deliver(ctx context.Context, notification Notification) error
}

// SystemService reports dependency health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}
