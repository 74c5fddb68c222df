package handlers

import (
	"encoding/json"
	"time"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/money"
	"github.com/add-to-Cart/porma-marketplace/internal/services"
)

type orderItemPayload struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Quantity  int         `json:"quantity"`
	Price     json.Number `json:"price"`
	ImageURL  string      `json:"imageUrl,omitempty"`
	SellerID  string      `json:"sellerId"`
	StoreName string      `json:"storeName,omitempty"`
}

type deliveryDetailsPayload struct {
	RecipientName string `json:"recipientName" validate:"required,max=120"`
	Phone         string `json:"phone" validate:"required,max=32"`
	Address       string `json:"address" validate:"required,max=500"`
	City          string `json:"city,omitempty" validate:"max=120"`
	PostalCode    string `json:"postalCode,omitempty" validate:"max=16"`
	Notes         string `json:"notes,omitempty" validate:"max=500"`
}

type paymentProofPayload struct {
	URL             string `json:"url"`
	ReferenceNumber string `json:"referenceNumber"`
	SubmittedAt     string `json:"submittedAt"`
}

type orderPayload struct {
	ID              string                 `json:"id"`
	BuyerID         string                 `json:"buyerId"`
	Items           []orderItemPayload     `json:"items"`
	SellerIDs       []string               `json:"sellerIds"`
	Status          string                 `json:"status"`
	PaymentStatus   string                 `json:"paymentStatus"`
	DeliveryStatus  string                 `json:"deliveryStatus"`
	PaymentMethod   string                 `json:"paymentMethod"`
	Subtotal        json.Number            `json:"subtotal"`
	DeliveryFee     json.Number            `json:"deliveryFee"`
	Total           json.Number            `json:"total"`
	DeliveryDetails deliveryDetailsPayload `json:"deliveryDetails"`
	PaymentProof    *paymentProofPayload   `json:"paymentProof,omitempty"`
	RejectionReason string                 `json:"rejectionReason,omitempty"`
	VerifiedBy      string                 `json:"verifiedBy,omitempty"`
	StockReserved   bool                   `json:"stockReserved"`
	StockReleased   bool                   `json:"stockReleased"`
	BuyerNotified   bool                   `json:"buyerNotified"`
	CreatedAt       string                 `json:"createdAt"`
	UpdatedAt       string                 `json:"updatedAt"`
	VerifiedAt      string                 `json:"verifiedAt,omitempty"`
	CompletedAt     string                 `json:"completedAt,omitempty"`
}

type orderListPayload struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ID:        item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     money.Number(item.PriceMinor),
			ImageURL:  item.ImageURL,
			SellerID:  item.SellerID,
			StoreName: item.StoreName,
		})
	}
	payload := orderPayload{
		ID:             order.ID,
		BuyerID:        order.BuyerID,
		Items:          items,
		SellerIDs:      append([]string{}, order.SellerIDs...),
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		DeliveryStatus: string(order.DeliveryStatus),
		PaymentMethod:  order.PaymentMethod,
		Subtotal:       money.Number(order.SubtotalMinor),
		DeliveryFee:    money.Number(order.DeliveryFeeMinor),
		Total:          money.Number(order.TotalMinor),
		DeliveryDetails: deliveryDetailsPayload{
			RecipientName: order.DeliveryDetails.RecipientName,
			Phone:         order.DeliveryDetails.Phone,
			Address:       order.DeliveryDetails.Address,
			City:          order.DeliveryDetails.City,
			PostalCode:    order.DeliveryDetails.PostalCode,
			Notes:         order.DeliveryDetails.Notes,
		},
		RejectionReason: order.RejectionReason,
		VerifiedBy:      order.VerifiedBy,
		StockReserved:   order.StockReserved,
		StockReleased:   order.StockReleased,
		BuyerNotified:   order.BuyerNotified,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
		VerifiedAt:      formatTimePtr(order.VerifiedAt),
		CompletedAt:     formatTimePtr(order.CompletedAt),
	}
	if proof := order.PaymentProof; proof != nil {
		payload.PaymentProof = &paymentProofPayload{
			URL:             proof.URL,
			ReferenceNumber: proof.ReferenceNumber,
			SubmittedAt:     formatTime(proof.SubmittedAt),
		}
	}
	return payload
}

func buildOrderListPayload(page domain.CursorPage[services.Order]) orderListPayload {
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	return orderListPayload{Items: items, NextPageToken: page.NextPageToken}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
