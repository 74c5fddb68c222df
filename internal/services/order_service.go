package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/money"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/textutil"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	maxOrderItems      = 100
	maxFreeTextLength  = 500
	maxShortTextLength = 120
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Ledger      repositories.LedgerStore
	Reservation ReservationCoordinator
	Notifier    Notifier
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders      repositories.OrderRepository
	ledger      repositories.LedgerStore
	reservation ReservationCoordinator
	notifier    Notifier
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("order service: ledger store is required")
	}
	if deps.Reservation == nil {
		return nil, errors.New("order service: reservation coordinator is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &orderService{
		orders:      deps.Orders,
		ledger:      deps.Ledger,
		reservation: deps.Reservation,
		notifier:    deps.Notifier,
		clock:       func() time.Time { return clock().UTC() },
		newID:       idGen,
		logger:      logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	order, err := s.buildOrder(cmd)
	if err != nil {
		return Order{}, err
	}
	if !cmd.Actor.canActAsBuyer(order) {
		return Order{}, ErrOrderForbidden
	}

	ctx, span := tracer.Start(ctx, "order.create", trace.WithAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.payment_method", order.PaymentMethod),
	))
	defer span.End()

	created, err := s.reservation.ReserveForOrder(ctx, order)
	if err != nil {
		endSpan(span, err)
		return Order{}, err
	}

	s.logger(ctx, "order_created", map[string]any{
		"orderId":   created.ID,
		"buyerId":   created.BuyerID,
		"items":     len(created.Items),
		"total":     money.String(created.TotalMinor),
		"sellerIds": created.SellerIDs,
	})
	for _, sellerID := range created.SellerIDs {
		s.notify(ctx, NotificationRequest{
			UserID:  sellerID,
			Type:    domain.NotificationOrderPlaced,
			Title:   "New order received",
			Message: fmt.Sprintf("Order %s has %d item(s) from your store.", created.ID, countSellerUnits(created, sellerID)),
			Data:    map[string]any{"orderId": created.ID, "buyerId": created.BuyerID},
		})
	}
	return created, nil
}

func (s *orderService) SubmitPaymentProof(ctx context.Context, cmd SubmitPaymentProofCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	proofURL := strings.TrimSpace(cmd.ProofURL)
	if !isHTTPURL(proofURL) {
		return Order{}, fmt.Errorf("%w: proof url must be an http(s) url", ErrOrderInvalidInput)
	}
	reference := textutil.ReferenceNumber(cmd.ReferenceNumber)
	if reference == "" {
		return Order{}, fmt.Errorf("%w: reference number is required", ErrOrderInvalidInput)
	}
	buyerID := strings.TrimSpace(cmd.BuyerID)

	updated, err := s.updateOrder(ctx, orderID, func(order *Order) error {
		if !cmd.Actor.canActAsBuyer(*order) || (buyerID != "" && buyerID != order.BuyerID) {
			return ErrOrderForbidden
		}
		if order.IsCOD() {
			return fmt.Errorf("%w: cash on delivery orders take no payment proof", ErrOrderInvalidState)
		}
		if order.Status != domain.OrderStatusAwaitingPayment || order.PaymentStatus != domain.PaymentStatusPendingProof {
			return fmt.Errorf("%w: cannot submit proof while order is %s/%s", ErrOrderInvalidState, order.Status, order.PaymentStatus)
		}
		now := s.clock()
		order.PaymentProof = &domain.PaymentProof{URL: proofURL, ReferenceNumber: reference, SubmittedAt: now}
		order.PaymentStatus = domain.PaymentStatusPendingVerification
		order.Status = domain.OrderStatusPaymentSubmitted
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	for _, sellerID := range updated.SellerIDs {
		s.notify(ctx, NotificationRequest{
			UserID:  sellerID,
			Type:    domain.NotificationPaymentSubmitted,
			Title:   "Payment proof submitted",
			Message: fmt.Sprintf("The buyer submitted payment proof for order %s (ref %s).", updated.ID, reference),
			Data:    map[string]any{"orderId": updated.ID, "referenceNumber": reference},
		})
	}
	return updated, nil
}

func (s *orderService) VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	sellerID := strings.TrimSpace(cmd.SellerID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if sellerID == "" {
		return Order{}, fmt.Errorf("%w: seller id is required", ErrOrderInvalidInput)
	}
	if !cmd.Actor.Admin && cmd.Actor.ID != sellerID {
		return Order{}, ErrOrderForbidden
	}

	authorize := func(order Order) error {
		if !order.HasSeller(sellerID) {
			return ErrOrderForbidden
		}
		return nil
	}

	if cmd.Verified {
		updated, err := s.updateOrder(ctx, orderID, func(order *Order) error {
			if err := authorize(*order); err != nil {
				return err
			}
			if order.PaymentStatus != domain.PaymentStatusPendingVerification {
				return fmt.Errorf("%w: payment is %s, not awaiting verification", ErrOrderInvalidState, order.PaymentStatus)
			}
			now := s.clock()
			order.PaymentStatus = domain.PaymentStatusVerified
			order.Status = domain.OrderStatusPending
			order.VerifiedBy = sellerID
			order.VerifiedAt = &now
			return nil
		})
		if err != nil {
			return Order{}, err
		}
		s.notify(ctx, NotificationRequest{
			UserID:  updated.BuyerID,
			Type:    domain.NotificationPaymentVerified,
			Title:   "Payment verified",
			Message: fmt.Sprintf("Your payment for order %s was verified.", updated.ID),
			Data:    map[string]any{"orderId": updated.ID},
		})
		return updated, nil
	}

	reason := textutil.PlainText(cmd.RejectionReason, maxFreeTextLength)
	alreadyRejected := false
	updated, err := s.reservation.ReleaseForOrder(ctx, orderID, func(order *Order) error {
		alreadyRejected = false
		if err := authorize(*order); err != nil {
			return err
		}
		if order.Status == domain.OrderStatusPaymentRejected {
			alreadyRejected = true
			return errOrderUnchanged
		}
		if order.PaymentStatus != domain.PaymentStatusPendingVerification {
			return fmt.Errorf("%w: payment is %s, not awaiting verification", ErrOrderInvalidState, order.PaymentStatus)
		}
		now := s.clock()
		order.PaymentStatus = domain.PaymentStatusRejected
		order.Status = domain.OrderStatusPaymentRejected
		order.RejectionReason = reason
		order.VerifiedBy = sellerID
		order.VerifiedAt = &now
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if alreadyRejected {
		return updated, nil
	}

	message := fmt.Sprintf("Your payment for order %s was rejected.", updated.ID)
	if reason != "" {
		message += " Reason: " + reason
	}
	s.notify(ctx, NotificationRequest{
		UserID:  updated.BuyerID,
		Type:    domain.NotificationPaymentRejected,
		Title:   "Payment rejected",
		Message: message,
		Data:    map[string]any{"orderId": updated.ID, "reason": reason},
	})
	return updated, nil
}

func (s *orderService) CompleteOrder(ctx context.Context, cmd CompleteOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	alreadyCompleted := false
	updated, err := s.reservation.FinalizeForOrder(ctx, orderID, func(order *Order) error {
		alreadyCompleted = false
		if !cmd.Actor.canActAsSeller(*order) {
			return ErrOrderForbidden
		}
		switch order.Status {
		case domain.OrderStatusCompleted:
			alreadyCompleted = true
			return errOrderUnchanged
		case domain.OrderStatusPaymentRejected:
			return fmt.Errorf("%w: order payment was rejected", ErrOrderInvalidState)
		}
		now := s.clock()
		order.Status = domain.OrderStatusCompleted
		order.DeliveryStatus = domain.DeliveryStatusDelivered
		if order.IsCOD() {
			order.PaymentStatus = domain.PaymentStatusCODCompleted
		} else {
			order.PaymentStatus = domain.PaymentStatusVerifiedCompleted
		}
		order.CompletedAt = &now
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if alreadyCompleted {
		return updated, nil
	}

	s.logger(ctx, "order_completed", map[string]any{"orderId": updated.ID, "actorId": cmd.Actor.ID})
	s.notify(ctx, NotificationRequest{
		UserID:  updated.BuyerID,
		Type:    domain.NotificationOrderCompleted,
		Title:   "Order completed",
		Message: fmt.Sprintf("Order %s has been delivered and completed.", updated.ID),
		Data:    map[string]any{"orderId": updated.ID},
	})
	return updated, nil
}

func (s *orderService) UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if cmd.Status == nil && cmd.DeliveryStatus == nil && cmd.BuyerNotified == nil {
		return Order{}, fmt.Errorf("%w: nothing to update", ErrOrderInvalidInput)
	}
	if cmd.Status != nil && domain.OrderStatus(strings.TrimSpace(*cmd.Status)) != domain.OrderStatusCompleted {
		return Order{}, fmt.Errorf("%w: status may only be set to completed", ErrOrderInvalidInput)
	}
	var delivery domain.DeliveryStatus
	if cmd.DeliveryStatus != nil {
		delivery = domain.DeliveryStatus(strings.TrimSpace(*cmd.DeliveryStatus))
		if !validDeliveryStatus(delivery) {
			return Order{}, fmt.Errorf("%w: unknown delivery status %q", ErrOrderInvalidInput, delivery)
		}
	}

	var (
		order   Order
		shipped bool
		err     error
	)
	if cmd.DeliveryStatus != nil || cmd.BuyerNotified != nil {
		order, err = s.updateOrder(ctx, orderID, func(o *Order) error {
			shipped = false
			if !cmd.Actor.canActAsSeller(*o) {
				return ErrOrderForbidden
			}
			if cmd.DeliveryStatus != nil && o.DeliveryStatus != delivery {
				switch o.Status {
				case domain.OrderStatusPaymentRejected:
					return fmt.Errorf("%w: order payment was rejected", ErrOrderInvalidState)
				case domain.OrderStatusCompleted:
					return fmt.Errorf("%w: order is already completed", ErrOrderInvalidState)
				}
				shipped = delivery == domain.DeliveryStatusShipped
				o.DeliveryStatus = delivery
			}
			if cmd.BuyerNotified != nil {
				o.BuyerNotified = *cmd.BuyerNotified
			}
			return nil
		})
		if err != nil {
			return Order{}, err
		}
	}
	if shipped {
		s.notify(ctx, NotificationRequest{
			UserID:  order.BuyerID,
			Type:    domain.NotificationOrderShipped,
			Title:   "Order shipped",
			Message: fmt.Sprintf("Order %s is on its way.", order.ID),
			Data:    map[string]any{"orderId": order.ID},
		})
	}
	if cmd.Status != nil {
		return s.CompleteOrder(ctx, CompleteOrderCommand{Actor: cmd.Actor, OrderID: orderID})
	}
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapError(err)
	}
	if !actor.canActAsBuyer(order) && !actor.canActAsSeller(order) {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

func (s *orderService) ListBuyerOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error) {
	buyerID := strings.TrimSpace(query.OwnerID)
	if buyerID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	if !query.Actor.Admin && query.Actor.ID != buyerID {
		return domain.CursorPage[Order]{}, ErrOrderForbidden
	}
	return s.list(ctx, repositories.OrderListFilter{BuyerID: buyerID, Statuses: query.Statuses, Pagination: query.Pagination})
}

func (s *orderService) ListSellerOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error) {
	sellerID := strings.TrimSpace(query.OwnerID)
	if sellerID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: seller id is required", ErrOrderInvalidInput)
	}
	if !query.Actor.Admin && query.Actor.ID != sellerID {
		return domain.CursorPage[Order]{}, ErrOrderForbidden
	}
	return s.list(ctx, repositories.OrderListFilter{SellerID: sellerID, Statuses: query.Statuses, Pagination: query.Pagination})
}

func (s *orderService) list(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[Order], error) {
	for _, status := range filter.Statuses {
		if !validOrderStatus(status) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		if errors.Is(err, repositories.ErrInvalidPageToken) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return domain.CursorPage[Order]{}, s.mapError(err)
	}
	return page, nil
}

// updateOrder runs a read-modify-write of the order document without touching stock.
func (s *orderService) updateOrder(ctx context.Context, orderID string, mutate OrderMutation) (Order, error) {
	var result Order
	err := s.ledger.RunLedgerTx(ctx, func(ctx context.Context, tx repositories.LedgerTx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := mutate(&order); err != nil {
			return err
		}
		order.UpdatedAt = s.clock()
		result = order
		return tx.PutOrder(order)
	})
	if err != nil {
		return Order{}, s.mapError(err)
	}
	return result, nil
}

func (s *orderService) buildOrder(cmd CreateOrderCommand) (Order, error) {
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return Order{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) > maxOrderItems {
		return Order{}, fmt.Errorf("%w: at most %d items per order", ErrOrderInvalidInput, maxOrderItems)
	}
	method := strings.ToLower(strings.TrimSpace(cmd.PaymentMethod))
	if method == "" {
		return Order{}, fmt.Errorf("%w: payment method is required", ErrOrderInvalidInput)
	}

	items := make([]OrderItem, len(cmd.Items))
	sellerIDs := make([]string, 0, 1)
	var subtotal int64
	for i, item := range cmd.Items {
		item.ProductID = strings.TrimSpace(item.ProductID)
		item.SellerID = strings.TrimSpace(item.SellerID)
		if item.ProductID == "" || item.SellerID == "" {
			return Order{}, fmt.Errorf("%w: item %d needs a product id and a seller id", ErrOrderInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: quantity for %s must be positive", ErrOrderInvalidInput, item.ProductID)
		}
		if item.PriceMinor < 0 {
			return Order{}, fmt.Errorf("%w: price for %s must not be negative", ErrOrderInvalidInput, item.ProductID)
		}
		item.Name = textutil.PlainText(item.Name, maxShortTextLength)
		item.StoreName = textutil.PlainText(item.StoreName, maxShortTextLength)
		item.ImageURL = strings.TrimSpace(item.ImageURL)
		items[i] = item
		line, err := addLine(subtotal, item.PriceMinor, item.Quantity)
		if err != nil {
			return Order{}, fmt.Errorf("%w: amount for %s is out of range", ErrOrderInvalidInput, item.ProductID)
		}
		subtotal = line
		if !slices.Contains(sellerIDs, item.SellerID) {
			sellerIDs = append(sellerIDs, item.SellerID)
		}
	}
	if cmd.SubtotalMinor != subtotal {
		return Order{}, fmt.Errorf("%w: subtotal %s does not match items %s", ErrOrderInvalidInput, money.String(cmd.SubtotalMinor), money.String(subtotal))
	}
	if cmd.DeliveryFeeMinor < 0 {
		return Order{}, fmt.Errorf("%w: delivery fee must not be negative", ErrOrderInvalidInput)
	}
	if total, err := money.Add(cmd.SubtotalMinor, cmd.DeliveryFeeMinor); err != nil || cmd.TotalMinor != total {
		return Order{}, fmt.Errorf("%w: total must equal subtotal plus delivery fee", ErrOrderInvalidInput)
	}

	details := DeliveryDetails{
		RecipientName: textutil.PlainText(cmd.DeliveryDetails.RecipientName, maxShortTextLength),
		Phone:         textutil.PlainText(cmd.DeliveryDetails.Phone, 32),
		Address:       textutil.PlainText(cmd.DeliveryDetails.Address, maxFreeTextLength),
		City:          textutil.PlainText(cmd.DeliveryDetails.City, maxShortTextLength),
		PostalCode:    textutil.PlainText(cmd.DeliveryDetails.PostalCode, 16),
		Notes:         textutil.PlainText(cmd.DeliveryDetails.Notes, maxFreeTextLength),
	}
	if details.RecipientName == "" || details.Phone == "" || details.Address == "" {
		return Order{}, fmt.Errorf("%w: delivery recipient, phone and address are required", ErrOrderInvalidInput)
	}

	now := s.clock()
	order := Order{
		ID:               orderIDPrefix + s.newID(),
		BuyerID:          buyerID,
		Items:            items,
		SellerIDs:        sellerIDs,
		DeliveryStatus:   domain.DeliveryStatusProcessing,
		PaymentMethod:    method,
		SubtotalMinor:    cmd.SubtotalMinor,
		DeliveryFeeMinor: cmd.DeliveryFeeMinor,
		TotalMinor:       cmd.TotalMinor,
		DeliveryDetails:  details,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if order.IsCOD() {
		order.Status = domain.OrderStatusPending
		order.PaymentStatus = domain.PaymentStatusCOD
	} else {
		order.Status = domain.OrderStatusAwaitingPayment
		order.PaymentStatus = domain.PaymentStatusPendingProof
	}
	return order, nil
}

func (s *orderService) notify(ctx context.Context, req NotificationRequest) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, req)
}

func (s *orderService) mapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := repositories.AsLedgerError(err); ok {
		return mapLedgerError(err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
	}
	return err
}

// addLine adds unitMinor×qty to total, failing instead of wrapping past int64.
func addLine(total, unitMinor int64, qty int) (int64, error) {
	line, err := money.Mul(unitMinor, qty)
	if err != nil {
		return 0, err
	}
	return money.Add(total, line)
}

func countSellerUnits(order Order, sellerID string) int {
	total := 0
	for _, item := range order.Items {
		if item.SellerID == sellerID {
			total += item.Quantity
		}
	}
	return total
}

func validDeliveryStatus(status domain.DeliveryStatus) bool {
	switch status {
	case domain.DeliveryStatusProcessing, domain.DeliveryStatusPacked, domain.DeliveryStatusShipped,
		domain.DeliveryStatusOutForDelivery, domain.DeliveryStatusDelivered:
		return true
	}
	return false
}

func validOrderStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusAwaitingPayment, domain.OrderStatusPending, domain.OrderStatusPaymentSubmitted,
		domain.OrderStatusPaymentRejected, domain.OrderStatusCompleted:
		return true
	}
	return false
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
