package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tradepost/api/internal/payments"
	"github.com/tradepost/api/internal/platform/httpx"
	"github.com/tradepost/api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// stripeSignatureHeader carries the Stripe webhook signature.
const stripeSignatureHeader = "Stripe-Signature"

// WebhookParser verifies a raw webhook payload and returns the normalised event.
type WebhookParser interface {
	Parse(payload []byte, signatureHeader string) (payments.WebhookEvent, error)
}

// WebhookHandlers receives processor and carrier notifications. Handlers
// answer 200 for anything already applied so providers stop redelivering.
type WebhookHandlers struct {
	parser  WebhookParser
	payment services.PaymentService
	labels  services.LabelService
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// WebhookOption customises webhook handler construction.
type WebhookOption func(*WebhookHandlers)

// WithWebhookParser injects the signature-verifying parser for /webhooks/stripe.
func WithWebhookParser(parser WebhookParser) WebhookOption {
	return func(h *WebhookHandlers) {
		h.parser = parser
	}
}

// WithWebhookPaymentService injects the payment capture service.
func WithWebhookPaymentService(payment services.PaymentService) WebhookOption {
	return func(h *WebhookHandlers) {
		h.payment = payment
	}
}

// WithWebhookLabelService injects the label service used for carrier refunds.
func WithWebhookLabelService(labels services.LabelService) WebhookOption {
	return func(h *WebhookHandlers) {
		h.labels = labels
	}
}

// WithWebhookLogger injects the structured event logger.
func WithWebhookLogger(logger func(ctx context.Context, event string, fields map[string]any)) WebhookOption {
	return func(h *WebhookHandlers) {
		h.logger = logger
	}
}

// NewWebhookHandlers constructs the webhook endpoint group.
func NewWebhookHandlers(opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = func(context.Context, string, map[string]any) {}
	}
	return h
}

// Routes wires the webhook endpoints onto the provided router. The carrier
// endpoint expects HMAC middleware applied at the group level.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripeWebhook)
	r.Post("/carrier", h.carrierWebhook)
}

func (h *WebhookHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.parser == nil || h.payment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "webhook processing is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	event, err := h.parser.Parse(body, r.Header.Get(stripeSignatureHeader))
	if err != nil {
		if errors.Is(err, payments.ErrInvalidSignature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook payload could not be parsed", http.StatusBadRequest))
		return
	}

	if event.Type == payments.WebhookIgnored {
		h.logger(ctx, "webhook_ignored", map[string]any{"eventId": event.ID})
		writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	if err := h.payment.HandleWebhookEvent(ctx, event); err != nil {
		// Taxonomy failures are terminal for this delivery; redelivery cannot
		// fix them, so acknowledge and keep the detail in the logs.
		if errors.Is(err, services.ErrValidation) || errors.Is(err, services.ErrConflict) || errors.Is(err, services.ErrNotFound) {
			h.logger(ctx, "webhook_discarded", map[string]any{"eventId": event.ID, "error": err.Error()})
			writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
			return
		}
		h.logger(ctx, "webhook_failed", map[string]any{"eventId": event.ID, "error": err.Error()})
		httpx.WriteError(ctx, w, httpx.NewError("webhook_failed", "event could not be applied", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
}

type carrierWebhookRequest struct {
	LabelID string `json:"label_id"`
	Event   string `json:"event,omitempty"`
}

// carrierWebhook is the Shippo track/refund callback: the carrier resolved an
// async label void, so re-check and settle it.
func (h *WebhookHandlers) carrierWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.labels == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "webhook processing is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req carrierWebhookRequest
	if err := decodeJSONBody(r, maxWebhookBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	labelID := strings.TrimSpace(req.LabelID)
	if labelID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "label_id is required", http.StatusBadRequest))
		return
	}

	refund, err := h.labels.ResolveRefund(ctx, labelID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			h.logger(ctx, "carrier_webhook_unknown_label", map[string]any{"labelId": labelID})
			writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
			return
		}
		h.logger(ctx, "carrier_webhook_failed", map[string]any{"labelId": labelID, "error": err.Error()})
		httpx.WriteError(ctx, w, httpx.NewError("webhook_failed", "refund could not be resolved", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"received": true,
		"status":   string(refund.Status),
	})
}
