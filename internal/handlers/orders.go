package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/auth"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/httpx"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/money"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/pagination"
	"github.com/add-to-Cart/porma-marketplace/internal/services"
)

const (
	maxCreateOrderBodySize = 64 * 1024
	maxOrderActionBodySize = 8 * 1024
)

type createOrderItemRequest struct {
	ID        string      `json:"id" validate:"required,max=128"`
	Name      string      `json:"name" validate:"max=200"`
	Quantity  int         `json:"quantity" validate:"gt=0,lte=10000"`
	Price     json.Number `json:"price" validate:"required"`
	ImageURL  string      `json:"imageUrl" validate:"omitempty,url,max=2048"`
	SellerID  string      `json:"sellerId" validate:"required,max=128"`
	StoreName string      `json:"storeName" validate:"max=200"`
}

type createOrderRequest struct {
	BuyerID         string                   `json:"buyerId" validate:"required,max=128"`
	Items           []createOrderItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
	Subtotal        json.Number              `json:"subtotal" validate:"required"`
	DeliveryFee     json.Number              `json:"deliveryFee"`
	Total           json.Number              `json:"total" validate:"required"`
	PaymentMethod   string                   `json:"paymentMethod" validate:"required,max=32"`
	DeliveryDetails deliveryDetailsPayload   `json:"deliveryDetails"`
}

type verifyPaymentRequest struct {
	Verified        *bool  `json:"verified" validate:"required"`
	SellerID        string `json:"sellerId" validate:"required,max=128"`
	RejectionReason string `json:"rejectionReason" validate:"max=1000"`
}

type paymentProofRequest struct {
	BuyerID         string `json:"buyerId" validate:"max=128"`
	ProofURL        string `json:"proofUrl" validate:"required,url,max=2048"`
	ReferenceNumber string `json:"referenceNumber" validate:"required,max=64"`
}

type updateOrderRequest struct {
	Status         *string `json:"status" validate:"omitempty,oneof=completed"`
	DeliveryStatus *string `json:"deliveryStatus" validate:"omitempty,oneof=processing packed shipped out_for_delivery delivered"`
	BuyerNotified  *bool   `json:"buyerNotified"`
}

// OrderHandlers serves the buyer and seller order endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	limiter     rateLimiter
	idempotency func(http.Handler) http.Handler
}

// OrderHandlerOption customises order handlers.
type OrderHandlerOption func(*OrderHandlers)

// WithCreateOrderRateLimit throttles POST /orders per authenticated buyer.
func WithCreateOrderRateLimit(perMinute, burst int, clock func() time.Time) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.limiter = newKeyedRateLimiter(perMinute, burst, clock)
	}
}

// WithIdempotency guards order creation and proof submission with mw.
func WithIdempotency(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{authn: authn, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	guarded := r
	if h.idempotency != nil {
		guarded = r.With(h.idempotency)
	}
	guarded.Post("/", h.createOrder)
	r.Get("/buyer/{buyerID}", h.listBuyerOrders)
	r.Get("/seller/{sellerID}", h.listSellerOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}", h.updateOrder)
	r.Post("/{orderID}/verify-payment", h.verifyPayment)
	guarded.Post("/{orderID}/payment-proof", h.submitPaymentProof)
	r.Patch("/{orderID}/complete", h.completeOrder)
}

func (h *OrderHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.orders == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		w.Header().Set("Retry-After", "60")
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many orders, try again shortly", http.StatusTooManyRequests))
		return
	}

	var req createOrderRequest
	if !decodeBody(w, r, maxCreateOrderBodySize, &req) {
		return
	}
	cmd, err := req.command(actorFor(identity))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	httpx.WriteJSON(w, http.StatusCreated, buildOrderPayload(order))
}

func (req createOrderRequest) command(actor services.Actor) (services.CreateOrderCommand, error) {
	subtotal, err := money.FromNumber(req.Subtotal)
	if err != nil {
		return services.CreateOrderCommand{}, fmt.Errorf("subtotal: %w", err)
	}
	total, err := money.FromNumber(req.Total)
	if err != nil {
		return services.CreateOrderCommand{}, fmt.Errorf("total: %w", err)
	}
	var fee int64
	if req.DeliveryFee != "" {
		if fee, err = money.FromNumber(req.DeliveryFee); err != nil {
			return services.CreateOrderCommand{}, fmt.Errorf("deliveryFee: %w", err)
		}
	}
	items := make([]services.OrderItem, 0, len(req.Items))
	for i, item := range req.Items {
		price, err := money.FromNumber(item.Price)
		if err != nil {
			return services.CreateOrderCommand{}, fmt.Errorf("items[%d].price: %w", i, err)
		}
		items = append(items, services.OrderItem{
			ProductID:  item.ID,
			SellerID:   item.SellerID,
			Name:       item.Name,
			StoreName:  item.StoreName,
			ImageURL:   item.ImageURL,
			Quantity:   item.Quantity,
			PriceMinor: price,
		})
	}
	return services.CreateOrderCommand{
		Actor:            actor,
		BuyerID:          req.BuyerID,
		Items:            items,
		SubtotalMinor:    subtotal,
		DeliveryFeeMinor: fee,
		TotalMinor:       total,
		PaymentMethod:    req.PaymentMethod,
		DeliveryDetails: services.DeliveryDetails{
			RecipientName: req.DeliveryDetails.RecipientName,
			Phone:         req.DeliveryDetails.Phone,
			Address:       req.DeliveryDetails.Address,
			City:          req.DeliveryDetails.City,
			PostalCode:    req.DeliveryDetails.PostalCode,
			Notes:         req.DeliveryDetails.Notes,
		},
	}, nil
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req verifyPaymentRequest
	if !decodeBody(w, r, maxOrderActionBodySize, &req) {
		return
	}
	order, err := h.orders.VerifyPayment(ctx, services.VerifyPaymentCommand{
		Actor:           actorFor(identity),
		OrderID:         chi.URLParam(r, "orderID"),
		SellerID:        req.SellerID,
		Verified:        *req.Verified,
		RejectionReason: req.RejectionReason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) submitPaymentProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req paymentProofRequest
	if !decodeBody(w, r, maxOrderActionBodySize, &req) {
		return
	}
	order, err := h.orders.SubmitPaymentProof(ctx, services.SubmitPaymentProofCommand{
		Actor:           actorFor(identity),
		OrderID:         chi.URLParam(r, "orderID"),
		BuyerID:         req.BuyerID,
		ProofURL:        req.ProofURL,
		ReferenceNumber: req.ReferenceNumber,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) completeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	order, err := h.orders.CompleteOrder(ctx, services.CompleteOrderCommand{
		Actor:   actorFor(identity),
		OrderID: chi.URLParam(r, "orderID"),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req updateOrderRequest
	if !decodeBody(w, r, maxOrderActionBodySize, &req) {
		return
	}
	if req.Status == nil && req.DeliveryStatus == nil && req.BuyerNotified == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one of status, deliveryStatus or buyerNotified is required", http.StatusBadRequest))
		return
	}
	order, err := h.orders.UpdateOrder(ctx, services.UpdateOrderCommand{
		Actor:          actorFor(identity),
		OrderID:        chi.URLParam(r, "orderID"),
		Status:         req.Status,
		DeliveryStatus: req.DeliveryStatus,
		BuyerNotified:  req.BuyerNotified,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, actorFor(identity), chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) listBuyerOrders(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, chi.URLParam(r, "buyerID"), h.orders.ListBuyerOrders)
}

func (h *OrderHandlers) listSellerOrders(w http.ResponseWriter, r *http.Request) {
	h.listOrders(w, r, chi.URLParam(r, "sellerID"), h.orders.ListSellerOrders)
}

type listOrdersFunc func(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error)

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request, ownerID string, list listOrdersFunc) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	query := r.URL.Query()
	page, err := pagination.Parse(query)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	var statuses []domain.OrderStatus
	for _, raw := range splitQueryValues(query["status"]) {
		statuses = append(statuses, domain.OrderStatus(strings.ToLower(raw)))
	}

	result, err := list(ctx, services.OrderListQuery{
		Actor:      actorFor(identity),
		OwnerID:    ownerID,
		Statuses:   statuses,
		Pagination: page,
	})
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_token is invalid", http.StatusBadRequest))
			return
		}
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderListPayload(result))
}
