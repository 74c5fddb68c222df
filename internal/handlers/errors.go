package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/add-to-Cart/porma-marketplace/internal/platform/httpx"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/requestctx"
	"github.com/add-to-Cart/porma-marketplace/internal/services"
)

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var shortfall *services.InsufficientStockError
	switch {
	case errors.As(err, &shortfall):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", "not enough stock for "+shortfall.ProductID, http.StatusBadRequest).
			WithDetails(map[string]any{
				"product_id": shortfall.ProductID,
				"requested":  shortfall.Requested,
				"available":  shortfall.Available,
			}))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrLedgerProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "forbidden", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInconsistentLedgerState):
		requestctx.Logger(ctx).Error("ledger inconsistency surfaced to client", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("inconsistent_ledger_state", "stock ledger is inconsistent", http.StatusInternalServerError))
	default:
		requestctx.Logger(ctx).Error("order request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writeMetricsError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrMetricsInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrMetricsSellerNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("seller_not_found", "seller not found", http.StatusNotFound))
	default:
		requestctx.Logger(ctx).Error("maintenance request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("maintenance_error", "failed to run maintenance task", http.StatusInternalServerError))
	}
}
