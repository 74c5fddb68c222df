package firestore

import (
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/add-to-Cart/porma-marketplace/internal/domain"
	pfirestore "github.com/add-to-Cart/porma-marketplace/internal/platform/firestore"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/money"
	"github.com/add-to-Cart/porma-marketplace/internal/repositories"
)

const (
	productsCollection      = "products"
	ordersCollection        = "orders"
	sellersCollection       = "sellers"
	notificationsCollection = "notifications"
)

// Field names are camelCase to match documents written by the storefront and catalog services.
// Money is stored as plain numbers for those readers, with exact minor units alongside. Documents
// that only carry the plain number are converted on read.

type productDocument struct {
	SellerID      string    `firestore:"sellerId"`
	Name          string    `firestore:"name"`
	Price         float64   `firestore:"price"`
	PriceMinor    *int64    `firestore:"priceMinor,omitempty"`
	Stock         int       `firestore:"stock"`
	ReservedStock int       `firestore:"reservedStock"`
	SoldCount     int       `firestore:"soldCount"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:            id,
		SellerID:      d.SellerID,
		Name:          d.Name,
		PriceMinor:    minorAmount(d.PriceMinor, d.Price),
		Stock:         d.Stock,
		ReservedStock: d.ReservedStock,
		SoldCount:     d.SoldCount,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		SellerID:      p.SellerID,
		Name:          p.Name,
		Price:         money.ToFloat(p.PriceMinor),
		PriceMinor:    minorPtr(p.PriceMinor),
		Stock:         p.Stock,
		ReservedStock: p.ReservedStock,
		SoldCount:     p.SoldCount,
		CreatedAt:     p.CreatedAt.UTC(),
		UpdatedAt:     p.UpdatedAt.UTC(),
	}
}

func productCounterUpdates(p domain.Product) []firestore.Update {
	return []firestore.Update{
		{Path: "stock", Value: p.Stock},
		{Path: "reservedStock", Value: p.ReservedStock},
		{Path: "soldCount", Value: p.SoldCount},
		{Path: "updatedAt", Value: p.UpdatedAt.UTC()},
	}
}

type orderItemDocument struct {
	ProductID  string  `firestore:"id"`
	SellerID   string  `firestore:"sellerId"`
	Name       string  `firestore:"name"`
	StoreName  string  `firestore:"storeName"`
	ImageURL   string  `firestore:"imageUrl,omitempty"`
	Quantity   int     `firestore:"quantity"`
	Price      float64 `firestore:"price"`
	PriceMinor *int64  `firestore:"priceMinor,omitempty"`
}

type deliveryDocument struct {
	RecipientName string `firestore:"recipientName"`
	Phone         string `firestore:"phone"`
	Address       string `firestore:"address"`
	City          string `firestore:"city,omitempty"`
	PostalCode    string `firestore:"postalCode,omitempty"`
	Notes         string `firestore:"notes,omitempty"`
}

type paymentProofDocument struct {
	URL             string    `firestore:"url"`
	ReferenceNumber string    `firestore:"referenceNumber"`
	SubmittedAt     time.Time `firestore:"submittedAt"`
}

type orderDocument struct {
	BuyerID          string                `firestore:"buyerId"`
	Items            []orderItemDocument   `firestore:"items"`
	SellerIDs        []string              `firestore:"sellerIds"`
	Status           string                `firestore:"status"`
	PaymentStatus    string                `firestore:"paymentStatus"`
	DeliveryStatus   string                `firestore:"deliveryStatus"`
	PaymentMethod    string                `firestore:"paymentMethod"`
	Subtotal         float64               `firestore:"subtotal"`
	DeliveryFee      float64               `firestore:"deliveryFee"`
	Total            float64               `firestore:"total"`
	SubtotalMinor    *int64                `firestore:"subtotalMinor,omitempty"`
	DeliveryFeeMinor *int64                `firestore:"deliveryFeeMinor,omitempty"`
	TotalMinor       *int64                `firestore:"totalMinor,omitempty"`
	DeliveryDetails  deliveryDocument      `firestore:"deliveryDetails"`
	PaymentProof     *paymentProofDocument `firestore:"paymentProof,omitempty"`
	RejectionReason  string                `firestore:"rejectionReason,omitempty"`
	VerifiedBy       string                `firestore:"verifiedBy,omitempty"`
	StockReserved    bool                  `firestore:"stockReserved"`
	StockReleased    bool                  `firestore:"stockReleased"`
	BuyerNotified    bool                  `firestore:"buyerNotified"`
	CreatedAt        time.Time             `firestore:"createdAt"`
	UpdatedAt        time.Time             `firestore:"updatedAt"`
	VerifiedAt       *time.Time            `firestore:"verifiedAt,omitempty"`
	CompletedAt      *time.Time            `firestore:"completedAt,omitempty"`
}

func newOrderDocument(o domain.Order) orderDocument {
	items := make([]orderItemDocument, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemDocument{
			ProductID:  item.ProductID,
			SellerID:   item.SellerID,
			Name:       item.Name,
			StoreName:  item.StoreName,
			ImageURL:   item.ImageURL,
			Quantity:   item.Quantity,
			Price:      money.ToFloat(item.PriceMinor),
			PriceMinor: minorPtr(item.PriceMinor),
		}
	}
	doc := orderDocument{
		BuyerID:          o.BuyerID,
		Items:            items,
		SellerIDs:        append([]string(nil), o.SellerIDs...),
		Status:           string(o.Status),
		PaymentStatus:    string(o.PaymentStatus),
		DeliveryStatus:   string(o.DeliveryStatus),
		PaymentMethod:    o.PaymentMethod,
		Subtotal:         money.ToFloat(o.SubtotalMinor),
		DeliveryFee:      money.ToFloat(o.DeliveryFeeMinor),
		Total:            money.ToFloat(o.TotalMinor),
		SubtotalMinor:    minorPtr(o.SubtotalMinor),
		DeliveryFeeMinor: minorPtr(o.DeliveryFeeMinor),
		TotalMinor:       minorPtr(o.TotalMinor),
		DeliveryDetails: deliveryDocument{
			RecipientName: o.DeliveryDetails.RecipientName,
			Phone:         o.DeliveryDetails.Phone,
			Address:       o.DeliveryDetails.Address,
			City:          o.DeliveryDetails.City,
			PostalCode:    o.DeliveryDetails.PostalCode,
			Notes:         o.DeliveryDetails.Notes,
		},
		RejectionReason: o.RejectionReason,
		VerifiedBy:      o.VerifiedBy,
		StockReserved:   o.StockReserved,
		StockReleased:   o.StockReleased,
		BuyerNotified:   o.BuyerNotified,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
		VerifiedAt:      utcPtr(o.VerifiedAt),
		CompletedAt:     utcPtr(o.CompletedAt),
	}
	if o.PaymentProof != nil {
		doc.PaymentProof = &paymentProofDocument{
			URL:             o.PaymentProof.URL,
			ReferenceNumber: o.PaymentProof.ReferenceNumber,
			SubmittedAt:     o.PaymentProof.SubmittedAt.UTC(),
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID:  item.ProductID,
			SellerID:   item.SellerID,
			Name:       item.Name,
			StoreName:  item.StoreName,
			ImageURL:   item.ImageURL,
			Quantity:   item.Quantity,
			PriceMinor: minorAmount(item.PriceMinor, item.Price),
		}
	}
	order := domain.Order{
		ID:               id,
		BuyerID:          d.BuyerID,
		Items:            items,
		SellerIDs:        append([]string(nil), d.SellerIDs...),
		Status:           domain.OrderStatus(d.Status),
		PaymentStatus:    domain.PaymentStatus(d.PaymentStatus),
		DeliveryStatus:   domain.DeliveryStatus(d.DeliveryStatus),
		PaymentMethod:    d.PaymentMethod,
		SubtotalMinor:    minorAmount(d.SubtotalMinor, d.Subtotal),
		DeliveryFeeMinor: minorAmount(d.DeliveryFeeMinor, d.DeliveryFee),
		TotalMinor:       minorAmount(d.TotalMinor, d.Total),
		DeliveryDetails: domain.DeliveryDetails{
			RecipientName: d.DeliveryDetails.RecipientName,
			Phone:         d.DeliveryDetails.Phone,
			Address:       d.DeliveryDetails.Address,
			City:          d.DeliveryDetails.City,
			PostalCode:    d.DeliveryDetails.PostalCode,
			Notes:         d.DeliveryDetails.Notes,
		},
		RejectionReason: d.RejectionReason,
		VerifiedBy:      d.VerifiedBy,
		StockReserved:   d.StockReserved,
		StockReleased:   d.StockReleased,
		BuyerNotified:   d.BuyerNotified,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		VerifiedAt:      d.VerifiedAt,
		CompletedAt:     d.CompletedAt,
	}
	if d.PaymentProof != nil {
		order.PaymentProof = &domain.PaymentProof{
			URL:             d.PaymentProof.URL,
			ReferenceNumber: d.PaymentProof.ReferenceNumber,
			SubmittedAt:     d.PaymentProof.SubmittedAt,
		}
	}
	return order
}

type sellerDocument struct {
	StoreName         string     `firestore:"storeName"`
	TotalSales        int        `firestore:"totalSales"`
	TotalRevenue      float64    `firestore:"totalRevenue"`
	TotalRevenueMinor *int64     `firestore:"totalRevenueMinor,omitempty"`
	TotalProducts     int        `firestore:"totalProducts"`
	LastMetricsSync   *time.Time `firestore:"lastMetricsSync,omitempty"`
	UpdatedAt         time.Time  `firestore:"updatedAt"`
}

func (d sellerDocument) toDomain(id string) domain.Seller {
	return domain.Seller{
		ID:                id,
		StoreName:         d.StoreName,
		TotalSales:        d.TotalSales,
		TotalRevenueMinor: minorAmount(d.TotalRevenueMinor, d.TotalRevenue),
		TotalProducts:     d.TotalProducts,
		LastMetricsSync:   d.LastMetricsSync,
		UpdatedAt:         d.UpdatedAt,
	}
}

type notificationDocument struct {
	UserID    string         `firestore:"userId"`
	Type      string         `firestore:"type"`
	Title     string         `firestore:"title"`
	Message   string         `firestore:"message"`
	Data      map[string]any `firestore:"data,omitempty"`
	Read      bool           `firestore:"read"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

func minorAmount(minor *int64, legacy float64) int64 {
	if minor != nil {
		return *minor
	}
	return money.FromFloat(legacy)
}

func minorPtr(v int64) *int64 {
	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// wrapLedgerError keeps typed ledger errors intact and maps Firestore status codes onto ledger
// codes so services see a single error vocabulary.
func wrapLedgerError(op string, err error) error {
	if err == nil {
		return nil
	}
	if ledgerErr, ok := repositories.AsLedgerError(err); ok {
		if ledgerErr.Op == "" {
			ledgerErr.Op = op
		}
		return ledgerErr
	}
	wrapped := pfirestore.WrapError(op, err)
	var fsErr *pfirestore.Error
	if !errors.As(wrapped, &fsErr) {
		return wrapped
	}
	switch {
	case fsErr.IsConflict():
		return &repositories.LedgerError{Op: op, Code: repositories.LedgerErrorConflict, Message: fsErr.Error(), Err: fsErr}
	case fsErr.IsUnavailable():
		return &repositories.LedgerError{Op: op, Code: repositories.LedgerErrorUnavailable, Message: fsErr.Error(), Err: fsErr}
	}
	return fsErr
}
