package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/add-to-Cart/porma-marketplace/internal/platform/auth"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/httpx"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/requestctx"
	"github.com/add-to-Cart/porma-marketplace/internal/services"
)

const (
	stockOpReserve  = "reserve"
	stockOpRelease  = "release"
	stockOpFinalize = "finalize"
)

type stockAdjustmentRequest struct {
	Operation string `json:"operation" validate:"required,oneof=reserve release finalize"`
	Quantity  int    `json:"quantity" validate:"gt=0,lte=10000"`
	Reason    string `json:"reason" validate:"required,max=500"`
}

type productCountersPayload struct {
	ProductID     string `json:"productId"`
	SellerID      string `json:"sellerId"`
	Stock         int    `json:"stock"`
	ReservedStock int    `json:"reservedStock"`
	SoldCount     int    `json:"soldCount"`
	UpdatedAt     string `json:"updatedAt"`
}

// adjustStock applies one counter move to a single product. Operators use it to repair drift
// reported by the consistency audit; order flows never go through it.
func (h *AdminHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("ledger_unavailable", "stock ledger unavailable", http.StatusServiceUnavailable))
		return
	}
	var req stockAdjustmentRequest
	if !decodeBody(w, r, defaultMaxBodySize, &req) {
		return
	}

	var apply func(context.Context, string, int) (services.Product, error)
	switch req.Operation {
	case stockOpReserve:
		apply = h.ledger.Reserve
	case stockOpRelease:
		apply = h.ledger.Release
	case stockOpFinalize:
		apply = h.ledger.Finalize
	}

	productID := chi.URLParam(r, "productID")
	product, err := apply(ctx, productID, req.Quantity)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	operator := ""
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		operator = identity.UID
	}
	requestctx.Logger(ctx).Info("stock adjusted",
		zap.String("product_id", productID),
		zap.String("operation", req.Operation),
		zap.Int("quantity", req.Quantity),
		zap.String("operator", operator),
		zap.String("reason", req.Reason),
	)
	httpx.WriteJSON(w, http.StatusOK, productCountersPayload{
		ProductID:     product.ID,
		SellerID:      product.SellerID,
		Stock:         product.Stock,
		ReservedStock: product.ReservedStock,
		SoldCount:     product.SoldCount,
		UpdatedAt:     formatTime(product.UpdatedAt),
	})
}
