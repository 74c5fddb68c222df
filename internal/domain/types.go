package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Product is the per-product stock ledger document. Stock is available for new reservations,
// ReservedStock is held by open orders and SoldCount has left inventory through completed orders.
type Product struct {
	ID            string
	SellerID      string
	Name          string
	PriceMinor    int64
	Stock         int
	ReservedStock int
	SoldCount     int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusAwaitingPayment is the initial state for non-cod orders until proof is submitted.
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	// OrderStatusPending is the initial state for cod orders and the state after payment verification.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaymentSubmitted indicates the buyer uploaded payment proof awaiting seller review.
	OrderStatusPaymentSubmitted OrderStatus = "payment_submitted"
	// OrderStatusPaymentRejected is terminal; reserved stock has been released.
	OrderStatusPaymentRejected OrderStatus = "payment_rejected"
	// OrderStatusCompleted is terminal; reserved stock has been finalized into sold units.
	OrderStatusCompleted OrderStatus = "completed"
)

// PaymentStatus tracks the buyer/seller payment verification handshake.
type PaymentStatus string

const (
	PaymentStatusCOD                 PaymentStatus = "cod"
	PaymentStatusPendingProof        PaymentStatus = "pending_proof"
	PaymentStatusPendingVerification PaymentStatus = "pending_verification"
	PaymentStatusVerified            PaymentStatus = "verified"
	PaymentStatusRejected            PaymentStatus = "rejected"
	PaymentStatusCODCompleted        PaymentStatus = "cod_completed"
	PaymentStatusVerifiedCompleted   PaymentStatus = "verified_completed"
)

// DeliveryStatus tracks fulfilment progress independently of payment.
type DeliveryStatus string

const (
	DeliveryStatusProcessing     DeliveryStatus = "processing"
	DeliveryStatusPacked         DeliveryStatus = "packed"
	DeliveryStatusShipped        DeliveryStatus = "shipped"
	DeliveryStatusOutForDelivery DeliveryStatus = "out_for_delivery"
	DeliveryStatusDelivered      DeliveryStatus = "delivered"
)

// PaymentMethodCOD is the only payment method that skips the proof handshake.
const PaymentMethodCOD = "cod"

// OrderItem is embedded in an order and never changes after creation.
type OrderItem struct {
	ProductID  string
	SellerID   string
	Name       string
	StoreName  string
	ImageURL   string
	Quantity   int
	PriceMinor int64
}

// DeliveryDetails holds the shipping contact captured at checkout.
type DeliveryDetails struct {
	RecipientName string
	Phone         string
	Address       string
	City          string
	PostalCode    string
	Notes         string
}

// PaymentProof is attached by the buyer for non-cod orders.
type PaymentProof struct {
	URL             string
	ReferenceNumber string
	SubmittedAt     time.Time
}

// Order is the order document. Items and monetary fields are immutable once created;
// StockReserved/StockReleased form the ledger audit trail.
type Order struct {
	ID               string
	BuyerID          string
	Items            []OrderItem
	SellerIDs        []string
	Status           OrderStatus
	PaymentStatus    PaymentStatus
	DeliveryStatus   DeliveryStatus
	PaymentMethod    string
	SubtotalMinor    int64
	DeliveryFeeMinor int64
	TotalMinor       int64
	DeliveryDetails  DeliveryDetails
	PaymentProof     *PaymentProof
	RejectionReason  string
	VerifiedBy       string
	StockReserved    bool
	StockReleased    bool
	BuyerNotified    bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	VerifiedAt       *time.Time
	CompletedAt      *time.Time
}

// IsCOD reports whether the order is paid on delivery.
func (o Order) IsCOD() bool {
	return o.PaymentMethod == PaymentMethodCOD
}

// HasSeller reports whether the seller owns at least one item on the order.
func (o Order) HasSeller(sellerID string) bool {
	if sellerID == "" {
		return false
	}
	for _, item := range o.Items {
		if item.SellerID == sellerID {
			return true
		}
	}
	return false
}

// Seller holds aggregates derived from the seller's products. The values are a cache over
// Product.SoldCount and are rebuilt by the metrics reconciler.
type Seller struct {
	ID                string
	StoreName         string
	TotalSales        int
	TotalRevenueMinor int64
	TotalProducts     int
	LastMetricsSync   *time.Time
	UpdatedAt         time.Time
}

// NotificationType enumerates the buyer/seller notifications emitted by order transitions.
type NotificationType string

const (
	NotificationOrderPlaced      NotificationType = "order_placed"
	NotificationPaymentSubmitted NotificationType = "payment_submitted"
	NotificationPaymentVerified  NotificationType = "payment_verified"
	NotificationPaymentRejected  NotificationType = "payment_rejected"
	NotificationOrderShipped     NotificationType = "order_shipped"
	NotificationOrderCompleted   NotificationType = "order_completed"
)

// Notification is a fire-and-forget message addressed to one user.
type Notification struct {
	ID        string
	UserID    string
	Type      NotificationType
	Title     string
	Message   string
	Data      map[string]any
	CreatedAt time.Time
}

// SellerMetricsResult reports the outcome of rebuilding one seller's aggregates.
type SellerMetricsResult struct {
	SellerID          string
	TotalSales        int
	TotalRevenueMinor int64
	TotalProducts     int
	SyncedAt          time.Time
	Error             string
}

// ConsistencyCheck names the pair of totals compared by an inconsistency entry.
type ConsistencyCheck string

const (
	CheckOrdersVsProducts  ConsistencyCheck = "completed_orders_vs_product_sold"
	CheckProductsVsSellers ConsistencyCheck = "product_sold_vs_seller_sales"
	CheckOrdersVsSellers   ConsistencyCheck = "completed_orders_vs_seller_sales"
)

// ConsistencyIssue describes one divergence found by the audit.
type ConsistencyIssue struct {
	Check       ConsistencyCheck
	Expected    int
	Actual      int
	Difference  int
	Description string
}

// SellerDrift lists a seller whose cached aggregates differ from its products.
type SellerDrift struct {
	SellerID            string
	TotalSales          int
	ProductSoldCount    int
	TotalRevenueMinor   int64
	ProductRevenueMinor int64
	TotalProducts       int
	ProductCount        int
}

// ConsistencyReport is the read-only audit result across orders, products and sellers.
type ConsistencyReport struct {
	ID                        string
	GeneratedAt               time.Time
	CompletedOrderQuantity    int
	ProductSoldCount          int
	SellerTotalSales          int
	CompletedOrders           int
	Products                  int
	Sellers                   int
	Consistent                bool
	Issues                    []ConsistencyIssue
	SellerDrift               []SellerDrift
	NegativeCounterProductIDs []string
	ArchiveURI                string
}

// SellerTrendPoint aggregates one UTC day of completed sales for a seller.
type SellerTrendPoint struct {
	Date         time.Time
	Orders       int
	UnitsSold    int
	RevenueMinor int64
}

// SellerTrend is the daily sales series for a seller.
type SellerTrend struct {
	SellerID          string
	From              time.Time
	To                time.Time
	Points            []SellerTrendPoint
	TotalUnits        int
	TotalRevenueMinor int64
}

// HealthStatus summarises dependency readiness.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusError means a dependency the ledger cannot run without is unreachable.
	HealthStatusError HealthStatus = "error"
)

// DependencyHealth is the outcome of probing one backing service.
type DependencyHealth struct {
	Status    HealthStatus
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probes for the readiness endpoint.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]DependencyHealth
	Version     string
	GeneratedAt time.Time
}
