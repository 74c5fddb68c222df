package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/add-to-Cart/porma-marketplace/internal/platform/auth"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/httpx"
	"github.com/add-to-Cart/porma-marketplace/internal/platform/requestctx"
	"github.com/add-to-Cart/porma-marketplace/internal/services"
)

// MaintenanceHandlers serves scheduler-triggered jobs under /internal. Callers
// authenticate with a Google-signed OIDC token, enforced by the group middleware.
type MaintenanceHandlers struct {
	metrics services.MetricsReconciler
}

func NewMaintenanceHandlers(metrics services.MetricsReconciler) *MaintenanceHandlers {
	return &MaintenanceHandlers{metrics: metrics}
}

func (h *MaintenanceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/maintenance/sync-all-sellers", h.syncAllSellers)
	r.Post("/maintenance/verify-consistency", h.verifyConsistency)
}

func (h *MaintenanceHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.metrics == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("metrics_unavailable", "metrics reconciler unavailable", http.StatusServiceUnavailable))
		return false
	}
	if svc, ok := auth.ServiceIdentityFromContext(r.Context()); ok {
		requestctx.Logger(r.Context()).Info("maintenance job triggered",
			zap.String("path", r.URL.Path),
			zap.String("caller", svc.Email),
		)
	}
	return true
}

func (h *MaintenanceHandlers) syncAllSellers(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	writeSyncAll(w, r, h.metrics)
}

func (h *MaintenanceHandlers) verifyConsistency(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	writeConsistency(w, r, h.metrics)
}
