package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tradepost/api/internal/platform/httpx"
	"github.com/tradepost/api/internal/services"
)

const maxInternalBodySize = 4 * 1024

// InternalHandlers hosts operator endpoints. The router applies OIDC
// verification to this group; nothing here is buyer or seller facing.
type InternalHandlers struct {
	payment services.PaymentService
	labels  services.LabelService
}

// NewInternalHandlers constructs the internal endpoint group.
func NewInternalHandlers(payment services.PaymentService, labels services.LabelService) *InternalHandlers {
	return &InternalHandlers{
		payment: payment,
		labels:  labels,
	}
}

// Routes wires the /internal endpoints onto the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/reconcile", h.reconcile)
}

type reconcileRequest struct {
	Limit int `json:"limit,omitempty"`
}

// reconcile sweeps pending payment intents against the processor and pending
// label refunds against the carrier. Webhook redelivery remains the primary
// path; this is the safety net behind it.
func (h *InternalHandlers) reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payment == nil || h.labels == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "reconciliation is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req reconcileRequest
	body, err := readLimitedBody(r, maxInternalBodySize)
	switch {
	case err == nil:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	case errors.Is(err, errEmptyBody):
	default:
		writeBodyError(ctx, w, err)
		return
	}

	paymentReport, err := h.payment.Reconcile(ctx, req.Limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	labelReport, err := h.labels.ResolvePending(ctx, req.Limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"payments": buildReconcilePayload(paymentReport),
		"labels":   buildReconcilePayload(labelReport),
	})
}

func buildReconcilePayload(report services.ReconcileReport) map[string]any {
	return map[string]any{
		"scanned":  report.Scanned,
		"resolved": report.Resolved,
		"failed":   report.Failed,
	}
}
