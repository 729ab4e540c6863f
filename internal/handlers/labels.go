package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/tradepost/api/internal/domain"
	"github.com/tradepost/api/internal/platform/auth"
	"github.com/tradepost/api/internal/platform/httpx"
	"github.com/tradepost/api/internal/services"
)

const maxLabelBodySize = 16 * 1024

// LabelHandlers exposes seller-facing shipping label endpoints.
type LabelHandlers struct {
	authn  *auth.Authenticator
	labels services.LabelService
}

// NewLabelHandlers constructs the label endpoint group.
func NewLabelHandlers(authn *auth.Authenticator, labels services.LabelService) *LabelHandlers {
	return &LabelHandlers{
		authn:  authn,
		labels: labels,
	}
}

// Routes wires the /labels endpoints onto the provided router.
func (h *LabelHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleSeller, auth.RoleAdmin))
	}
	r.Get("/{labelID}", h.getLabel)
	r.Post("/{labelID}:cancel", h.cancelLabel)
}

func (h *LabelHandlers) getLabel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.labels == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "label service is unavailable", http.StatusServiceUnavailable))
		return
	}

	label, err := h.labels.GetLabel(ctx, chi.URLParam(r, "labelID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.IsSeller() && identity.SellerID != label.SellerID {
		writeServiceError(ctx, w, services.ErrNotFound)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"label": buildLabelPayload(label)})
}

type cancelLabelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *LabelHandlers) cancelLabel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.labels == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "label service is unavailable", http.StatusServiceUnavailable))
		return
	}

	// The body is optional: a bare cancel carries no reason.
	var req cancelLabelRequest
	body, err := readLimitedBody(r, maxLabelBodySize)
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

	cmd := services.CancelLabelCommand{
		LabelID: chi.URLParam(r, "labelID"),
		Reason:  strings.TrimSpace(req.Reason),
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.IsSeller() {
		cmd.SellerID = identity.SellerID
	}

	result, err := h.labels.Cancel(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"label":  buildLabelPayload(result.Label),
		"refund": buildLabelRefundPayload(result.Refund),
	})
}

type labelPayload struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	SellerID       string `json:"seller_id"`
	Carrier        string `json:"carrier"`
	Service        string `json:"service"`
	TrackingNumber string `json:"tracking_number"`
	LabelURL       string `json:"label_url,omitempty"`
	BaseCost       string `json:"base_cost"`
	MarkupPercent  int64  `json:"markup_percent"`
	TotalCharged   string `json:"total_charged"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

func buildLabelPayload(label domain.ShippingLabel) labelPayload {
	return labelPayload{
		ID:             label.ID,
		OrderID:        label.OrderID,
		SellerID:       label.SellerID,
		Carrier:        label.Carrier,
		Service:        label.Service,
		TrackingNumber: label.TrackingNumber,
		LabelURL:       label.LabelURL,
		BaseCost:       money(label.BaseCost, label.Currency),
		MarkupPercent:  label.MarkupPercent,
		TotalCharged:   money(label.TotalCharged, label.Currency),
		Currency:       strings.ToUpper(label.Currency),
		Status:         string(label.Status),
		CreatedAt:      formatTime(label.CreatedAt),
	}
}

type labelRefundPayload struct {
	ID         string `json:"id"`
	LabelID    string `json:"label_id"`
	Amount     string `json:"amount"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	CreatedAt  string `json:"created_at"`
	ResolvedAt string `json:"resolved_at,omitempty"`
}

func buildLabelRefundPayload(refund domain.LabelRefund) labelRefundPayload {
	return labelRefundPayload{
		ID:         refund.ID,
		LabelID:    refund.LabelID,
		Amount:     money(refund.Amount, ""),
		Status:     string(refund.Status),
		Reason:     refund.Reason,
		CreatedAt:  formatTime(refund.CreatedAt),
		ResolvedAt: formatTimePointer(refund.ResolvedAt),
	}
}
