package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/add-to-Cart/porma-marketplace/internal/platform/httpx"
	"github.com/add-to-Cart/porma-marketplace/internal/services"
)

// ProductHandlers exposes read-only stock checks used by the cart before checkout.
type ProductHandlers struct {
	ledger services.StockLedger
}

func NewProductHandlers(ledger services.StockLedger) *ProductHandlers {
	return &ProductHandlers{ledger: ledger}
}

func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{productID}/availability", h.availability)
}

type availabilityPayload struct {
	ProductID      string `json:"productId"`
	Requested      int    `json:"requested"`
	Available      bool   `json:"available"`
	AvailableStock int    `json:"availableStock"`
	Reason         string `json:"reason,omitempty"`
}

func (h *ProductHandlers) availability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ledger == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stock_ledger_unavailable", "stock ledger unavailable", http.StatusServiceUnavailable))
		return
	}
	qty := 1
	if raw := strings.TrimSpace(r.URL.Query().Get("qty")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "qty must be a positive integer", http.StatusBadRequest))
			return
		}
		qty = n
	}

	result, err := h.ledger.CheckAvailability(ctx, chi.URLParam(r, "productID"), qty)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, availabilityPayload{
		ProductID:      result.ProductID,
		Requested:      result.Requested,
		Available:      result.Available,
		AvailableStock: result.AvailableStock,
		Reason:         result.Reason,
	})
}
