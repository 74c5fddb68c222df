package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/idempotency"
	"github.com/add-to-Cart/porma-marketplace/internal/services"
)

type stubOrderService struct {
	createFn   func(context.Context, services.CreateOrderCommand) (services.Order, error)
	proofFn    func(context.Context, services.SubmitPaymentProofCommand) (services.Order, error)
	verifyFn   func(context.Context, services.VerifyPaymentCommand) (services.Order, error)
	completeFn func(context.Context, services.CompleteOrderCommand) (services.Order, error)
	updateFn   func(context.Context, services.UpdateOrderCommand) (services.Order, error)
	getFn      func(context.Context, services.Actor, string) (services.Order, error)
	listFn     func(context.Context, services.OrderListQuery) (domain.CursorPage[services.Order], error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn == nil {
		return services.Order{}, errors.New("unexpected CreateOrder")
	}
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) SubmitPaymentProof(ctx context.Context, cmd services.SubmitPaymentProofCommand) (services.Order, error) {
	if s.proofFn == nil {
		return services.Order{}, errors.New("unexpected SubmitPaymentProof")
	}
	return s.proofFn(ctx, cmd)
}

func (s *stubOrderService) VerifyPayment(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
	if s.verifyFn == nil {
		return services.Order{}, errors.New("unexpected VerifyPayment")
	}
	return s.verifyFn(ctx, cmd)
}

func (s *stubOrderService) CompleteOrder(ctx context.Context, cmd services.CompleteOrderCommand) (services.Order, error) {
	if s.completeFn == nil {
		return services.Order{}, errors.New("unexpected CompleteOrder")
	}
	return s.completeFn(ctx, cmd)
}

func (s *stubOrderService) UpdateOrder(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
	if s.updateFn == nil {
		return services.Order{}, errors.New("unexpected UpdateOrder")
	}
	return s.updateFn(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, actor services.Actor, orderID string) (services.Order, error) {
	if s.getFn == nil {
		return services.Order{}, errors.New("unexpected GetOrder")
	}
	return s.getFn(ctx, actor, orderID)
}

func (s *stubOrderService) ListBuyerOrders(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error) {
	return s.list(ctx, query)
}

func (s *stubOrderService) ListSellerOrders(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error) {
	return s.list(ctx, query)
}

func (s *stubOrderService) list(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.Order]{}, errors.New("unexpected list")
	}
	return s.listFn(ctx, query)
}

func orderRouter(svc services.OrderService, opts ...OrderHandlerOption) http.Handler {
	h := NewOrderHandlers(testAuthenticator(), svc, opts...)
	return NewRouter(WithOrderRoutes(h.Routes))
}

const createBody = `{
	"buyerId": "buyer1",
	"items": [{"id": "P1", "name": "Kopi Susu", "quantity": 4, "price": 15.00, "sellerId": "seller1", "storeName": "Kopi Corner"}],
	"subtotal": 60.00,
	"deliveryFee": 5,
	"total": 65.00,
	"paymentMethod": "cod",
	"deliveryDetails": {"recipientName": "Sari", "phone": "0812", "address": "Jl. Melati 3"}
}`

func TestOrderHandlersCreateMapsRequest(t *testing.T) {
	var got services.CreateOrderCommand
	svc := &stubOrderService{createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
		got = cmd
		return services.Order{
			ID:            "ord_1",
			BuyerID:       cmd.BuyerID,
			Items:         cmd.Items,
			Status:        domain.OrderStatusPending,
			PaymentMethod: cmd.PaymentMethod,
			SubtotalMinor: cmd.SubtotalMinor,
			TotalMinor:    cmd.TotalMinor,
			CreatedAt:     time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC),
		}, nil
	}}

	rr := doRequest(t, orderRouter(svc), http.MethodPost, "/api/v1/orders", "buyer1", createBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Location") != "/api/v1/orders/ord_1" {
		t.Fatalf("unexpected location %q", rr.Header().Get("Location"))
	}
	if got.Actor.ID != "buyer1" || got.Actor.Admin {
		t.Fatalf("unexpected actor %+v", got.Actor)
	}
	if got.SubtotalMinor != 6000 || got.DeliveryFeeMinor != 500 || got.TotalMinor != 6500 {
		t.Fatalf("unexpected amounts %+v", got)
	}
	if len(got.Items) != 1 || got.Items[0].PriceMinor != 1500 || got.Items[0].ProductID != "P1" || got.Items[0].Quantity != 4 {
		t.Fatalf("unexpected items %+v", got.Items)
	}
	if got.DeliveryDetails.RecipientName != "Sari" {
		t.Fatalf("unexpected delivery details %+v", got.DeliveryDetails)
	}

	var body orderPayload
	decodeJSON(t, rr, &body)
	if body.Status != "pending" || body.Total.String() != "65.00" || body.Items[0].Price.String() != "15.00" {
		t.Fatalf("unexpected payload %+v", body)
	}
	if body.CreatedAt != "2025-06-10T09:30:00Z" {
		t.Fatalf("unexpected createdAt %q", body.CreatedAt)
	}
}

func TestOrderHandlersCreateRejectsBadRequests(t *testing.T) {
	svc := &stubOrderService{createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
		t.Fatalf("service must not be called")
		return services.Order{}, nil
	}}
	router := orderRouter(svc)

	cases := map[string]string{
		"empty body":        "",
		"malformed":         `{"buyerId":`,
		"no items":          `{"buyerId":"buyer1","items":[],"subtotal":0,"total":0,"paymentMethod":"cod","deliveryDetails":{"recipientName":"a","phone":"1","address":"x"}}`,
		"zero quantity":     strings.Replace(createBody, `"quantity": 4`, `"quantity": 0`, 1),
		"missing recipient": strings.Replace(createBody, `"recipientName": "Sari", `, "", 1),
		"negative price":    strings.Replace(createBody, `"price": 15.00`, `"price": -1`, 1),
		"oversized price":   strings.Replace(createBody, `"price": 15.00`, `"price": 100000000000000000000`, 1),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := doRequest(t, router, http.MethodPost, "/api/v1/orders", "buyer1", body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
			if code := errorBody(t, rr)["error"]; code != "invalid_request" {
				t.Fatalf("expected invalid_request, got %v", code)
			}
		})
	}

	if rr := doRequest(t, router, http.MethodPost, "/api/v1/orders", "", createBody); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
}

func TestOrderHandlersErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"insufficient stock", &services.InsufficientStockError{ProductID: "P1", Requested: 4, Available: 2}, http.StatusBadRequest, "insufficient_stock"},
		{"product missing", services.ErrLedgerProductNotFound, http.StatusNotFound, "product_not_found"},
		{"forbidden", services.ErrOrderForbidden, http.StatusForbidden, "forbidden"},
		{"conflict", services.ErrOrderConflict, http.StatusConflict, "order_conflict"},
		{"inconsistent ledger", services.ErrInconsistentLedgerState, http.StatusInternalServerError, "inconsistent_ledger_state"},
		{"unexpected", errors.New("firestore down"), http.StatusInternalServerError, "order_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
				return services.Order{}, tc.err
			}}
			rr := doRequest(t, orderRouter(svc), http.MethodPost, "/api/v1/orders", "buyer1", createBody)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			body := errorBody(t, rr)
			if body["error"] != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, body["error"])
			}
			if tc.code == "insufficient_stock" && (body["product_id"] != "P1" || body["available"] != float64(2)) {
				t.Fatalf("expected shortfall details, got %v", body)
			}
		})
	}
}

func TestOrderHandlersCreateRateLimited(t *testing.T) {
	calls := 0
	svc := &stubOrderService{createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
		calls++
		return services.Order{ID: "ord_1", BuyerID: cmd.BuyerID}, nil
	}}
	now := time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)
	router := orderRouter(svc, WithCreateOrderRateLimit(1, 1, func() time.Time { return now }))

	if rr := doRequest(t, router, http.MethodPost, "/api/v1/orders", "buyer1", createBody); rr.Code != http.StatusCreated {
		t.Fatalf("first create: expected 201, got %d", rr.Code)
	}
	rr := doRequest(t, router, http.MethodPost, "/api/v1/orders", "buyer1", createBody)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodPost, "/api/v1/orders", "buyer2", strings.Replace(createBody, "buyer1", "buyer2", 1)); rr.Code != http.StatusCreated {
		t.Fatalf("other buyer should have its own bucket, got %d", rr.Code)
	}
	now = now.Add(time.Minute)
	if rr := doRequest(t, router, http.MethodPost, "/api/v1/orders", "buyer1", createBody); rr.Code != http.StatusCreated {
		t.Fatalf("expected bucket to refill after a minute, got %d", rr.Code)
	}
	if calls != 3 {
		t.Fatalf("expected 3 service calls, got %d", calls)
	}
}

func TestOrderHandlersCreateReplaysIdempotentRequest(t *testing.T) {
	calls := 0
	svc := &stubOrderService{createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
		calls++
		return services.Order{ID: "ord_1", BuyerID: cmd.BuyerID, Status: domain.OrderStatusPending}, nil
	}}
	mw := idempotency.Middleware(idempotency.NewMemoryStore(), idempotency.WithOptionalKey())
	router := orderRouter(svc, WithIdempotency(mw))

	send := func(body string) int {
		req := newAuthedRequest(http.MethodPost, "/api/v1/orders", "buyer1", body)
		req.Header.Set("Idempotency-Key", "checkout-7")
		rr := serveRequest(router, req)
		return rr.Code
	}
	if code := send(createBody); code != http.StatusCreated {
		t.Fatalf("first: expected 201, got %d", code)
	}
	if code := send(createBody); code != http.StatusCreated {
		t.Fatalf("replay: expected 201, got %d", code)
	}
	if calls != 1 {
		t.Fatalf("expected a single order creation, got %d", calls)
	}
	if code := send(strings.Replace(createBody, `"quantity": 4`, `"quantity": 2`, 1)); code != http.StatusConflict {
		t.Fatalf("reused key with another body: expected 409, got %d", code)
	}
}

func TestOrderHandlersVerifyPayment(t *testing.T) {
	var got services.VerifyPaymentCommand
	svc := &stubOrderService{verifyFn: func(_ context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
		got = cmd
		return services.Order{ID: cmd.OrderID, Status: domain.OrderStatusPaymentRejected, RejectionReason: cmd.RejectionReason}, nil
	}}
	router := orderRouter(svc)

	rr := doRequest(t, router, http.MethodPost, "/api/v1/orders/ord_9/verify-payment", "seller1", `{"verified":false,"sellerId":"seller1","rejectionReason":"blurry"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.OrderID != "ord_9" || got.Verified || got.SellerID != "seller1" || got.Actor.ID != "seller1" {
		t.Fatalf("unexpected command %+v", got)
	}

	rr = doRequest(t, router, http.MethodPost, "/api/v1/orders/ord_9/verify-payment", "seller1", `{"sellerId":"seller1"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing verified flag: expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlersUpdateOrder(t *testing.T) {
	var got services.UpdateOrderCommand
	svc := &stubOrderService{updateFn: func(_ context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
		got = cmd
		return services.Order{ID: cmd.OrderID, DeliveryStatus: domain.DeliveryStatus(*cmd.DeliveryStatus)}, nil
	}}
	router := orderRouter(svc)

	rr := doRequest(t, router, http.MethodPatch, "/api/v1/orders/ord_3", "seller1", `{"deliveryStatus":"shipped"}`)
	if rr.Code != http.StatusOK || got.DeliveryStatus == nil || *got.DeliveryStatus != "shipped" || got.Status != nil {
		t.Fatalf("unexpected result %d %+v", rr.Code, got)
	}
	if rr := doRequest(t, router, http.MethodPatch, "/api/v1/orders/ord_3", "seller1", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty patch: expected 400, got %d", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodPatch, "/api/v1/orders/ord_3", "seller1", `{"status":"pending"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("status other than completed: expected 400, got %d", rr.Code)
	}
	if rr := doRequest(t, router, http.MethodPatch, "/api/v1/orders/ord_3", "seller1", `{"deliveryStatus":"teleported"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown delivery status: expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	var got services.OrderListQuery
	svc := &stubOrderService{listFn: func(_ context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error) {
		got = query
		return domain.CursorPage[services.Order]{Items: []services.Order{{ID: "ord_2"}, {ID: "ord_1"}}, NextPageToken: "next"}, nil
	}}
	router := orderRouter(svc)

	rr := doRequest(t, router, http.MethodGet, "/api/v1/orders/seller/seller1?status=pending,Completed&pageSize=2", "seller1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.OwnerID != "seller1" || got.Pagination.PageSize != 2 {
		t.Fatalf("unexpected query %+v", got)
	}
	if len(got.Statuses) != 2 || got.Statuses[1] != domain.OrderStatusCompleted {
		t.Fatalf("unexpected statuses %v", got.Statuses)
	}
	var body orderListPayload
	decodeJSON(t, rr, &body)
	if len(body.Items) != 2 || body.NextPageToken != "next" {
		t.Fatalf("unexpected list %+v", body)
	}

	if rr := doRequest(t, router, http.MethodGet, "/api/v1/orders/buyer/buyer1?pageSize=abc", "buyer1", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad page size: expected 400, got %d", rr.Code)
	}
}

func TestOrderHandlersUnavailableWithoutService(t *testing.T) {
	router := NewRouter(WithOrderRoutes(NewOrderHandlers(testAuthenticator(), nil).Routes))
	rr := doRequest(t, router, http.MethodGet, "/api/v1/orders/ord_1", "buyer1", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
