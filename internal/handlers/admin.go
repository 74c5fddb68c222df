package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/add-to-Cart/porma-marketplace/internal/platform/auth"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/httpx"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/money"
	"github.com/add-to-Cart/porma-marketplace/internal/services"
)

// AdminHandlers exposes seller metrics maintenance and manual stock corrections to platform
// administrators.
type AdminHandlers struct {
	authn   *auth.Authenticator
	metrics services.MetricsReconciler
	ledger  services.StockLedger
}

// AdminOption customises AdminHandlers.
type AdminOption func(*AdminHandlers)

// WithAdminStockLedger enables the per-product stock adjustment route.
func WithAdminStockLedger(ledger services.StockLedger) AdminOption {
	return func(h *AdminHandlers) { h.ledger = ledger }
}

func NewAdminHandlers(authn *auth.Authenticator, metrics services.MetricsReconciler, opts ...AdminOption) *AdminHandlers {
	h := &AdminHandlers{authn: authn, metrics: metrics}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Post("/sync-all-sellers", h.syncAllSellers)
	r.Post("/sync-seller/{sellerID}", h.syncSeller)
	r.Get("/verify-consistency", h.verifyConsistency)
	r.Get("/seller-trend/{sellerID}", h.sellerTrend)
	r.Post("/products/{productID}/stock-adjustments", h.adjustStock)
}

func (h *AdminHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.metrics == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("metrics_unavailable", "metrics reconciler unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *AdminHandlers) syncAllSellers(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	writeSyncAll(w, r, h.metrics)
}

func (h *AdminHandlers) syncSeller(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	result, err := h.metrics.RecalculateSellerMetrics(ctx, chi.URLParam(r, "sellerID"))
	if err != nil {
		writeMetricsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildSellerMetricsPayload(result))
}

func (h *AdminHandlers) verifyConsistency(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	writeConsistency(w, r, h.metrics)
}

func (h *AdminHandlers) sellerTrend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(w, r) {
		return
	}
	days := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "days must be an integer", http.StatusBadRequest))
			return
		}
		days = n
	}
	trend, err := h.metrics.SellerTrend(ctx, chi.URLParam(r, "sellerID"), days)
	if err != nil {
		writeMetricsError(ctx, w, err)
		return
	}
	points := make([]trendPointPayload, 0, len(trend.Points))
	for _, p := range trend.Points {
		points = append(points, trendPointPayload{
			Date:      p.Date.UTC().Format("2006-01-02"),
			Orders:    p.Orders,
			UnitsSold: p.UnitsSold,
			Revenue:   money.Number(p.RevenueMinor),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, sellerTrendPayload{
		SellerID:     trend.SellerID,
		From:         formatTime(trend.From),
		To:           formatTime(trend.To),
		Points:       points,
		TotalUnits:   trend.TotalUnits,
		TotalRevenue: money.Number(trend.TotalRevenueMinor),
	})
}

func writeSyncAll(w http.ResponseWriter, r *http.Request, metrics services.MetricsReconciler) {
	ctx := r.Context()
	results, err := metrics.SyncAllSellerMetrics(ctx)
	if err != nil {
		writeMetricsError(ctx, w, err)
		return
	}
	payload := syncAllPayload{Results: make([]sellerMetricsPayload, 0, len(results))}
	for _, result := range results {
		if result.Error != "" {
			payload.Failed++
		} else {
			payload.Synced++
		}
		payload.Results = append(payload.Results, buildSellerMetricsPayload(result))
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func writeConsistency(w http.ResponseWriter, r *http.Request, metrics services.MetricsReconciler) {
	ctx := r.Context()
	report, err := metrics.VerifyDataConsistency(ctx)
	if err != nil {
		writeMetricsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildConsistencyPayload(report))
}
