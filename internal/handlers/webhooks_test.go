package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/tradepost/api/internal/domain"
	"github.com/tradepost/api/internal/payments"
	"github.com/tradepost/api/internal/services"
)

type stubWebhookParser struct {
	event payments.WebhookEvent
	err   error

	gotPayload   []byte
	gotSignature string
}

func (s *stubWebhookParser) Parse(payload []byte, signatureHeader string) (payments.WebhookEvent, error) {
	s.gotPayload = payload
	s.gotSignature = signatureHeader
	if s.err != nil {
		return payments.WebhookEvent{}, s.err
	}
	return s.event, nil
}

func stripeRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	return req
}

func TestStripeWebhookApplied(t *testing.T) {
	parser := &stubWebhookParser{event: payments.WebhookEvent{
		ID:       "evt_1",
		Provider: "stripe",
		Type:     payments.WebhookPaymentSucceeded,
		IntentID: "pi_123",
		OrderID:  "order-1",
		Stage:    string(domain.PaymentStageDeposit),
		Amount:   6000,
		Currency: "usd",
	}}
	payment := &stubPaymentService{}
	handlers := NewWebhookHandlers(
		WithWebhookParser(parser),
		WithWebhookPaymentService(payment),
	)

	rr := httptest.NewRecorder()
	handlers.stripeWebhook(rr, stripeRequest(`{"id":"evt_1"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if parser.gotSignature != "t=1,v1=abc" {
		t.Fatalf("expected signature header to reach parser, got %q", parser.gotSignature)
	}
	if payment.gotEvent.ID != "evt_1" || payment.gotEvent.IntentID != "pi_123" {
		t.Fatalf("unexpected event %+v", payment.gotEvent)
	}
	var resp struct {
		Received bool `json:"received"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Received {
		t.Fatalf("expected received true")
	}
}

func TestStripeWebhookInvalidSignature(t *testing.T) {
	parser := &stubWebhookParser{err: payments.ErrInvalidSignature}
	handlers := NewWebhookHandlers(
		WithWebhookParser(parser),
		WithWebhookPaymentService(&stubPaymentService{}),
	)

	rr := httptest.NewRecorder()
	handlers.stripeWebhook(rr, stripeRequest(`{"id":"evt_1"}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Error != "invalid_signature" {
		t.Fatalf("expected code invalid_signature, got %s", body.Error)
	}
}

func TestStripeWebhookParseError(t *testing.T) {
	parser := &stubWebhookParser{err: errors.New("malformed envelope")}
	handlers := NewWebhookHandlers(
		WithWebhookParser(parser),
		WithWebhookPaymentService(&stubPaymentService{}),
	)

	rr := httptest.NewRecorder()
	handlers.stripeWebhook(rr, stripeRequest(`not json`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestStripeWebhookIgnoredEventType(t *testing.T) {
	parser := &stubWebhookParser{event: payments.WebhookEvent{ID: "evt_2", Type: payments.WebhookIgnored}}
	payment := &stubPaymentService{}
	var logged string
	handlers := NewWebhookHandlers(
		WithWebhookParser(parser),
		WithWebhookPaymentService(payment),
		WithWebhookLogger(func(_ context.Context, event string, _ map[string]any) {
			logged = event
		}),
	)

	rr := httptest.NewRecorder()
	handlers.stripeWebhook(rr, stripeRequest(`{"id":"evt_2"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if logged != "webhook_ignored" {
		t.Fatalf("expected webhook_ignored log, got %q", logged)
	}
	if payment.gotEvent.ID != "" {
		t.Fatalf("expected service untouched for ignored event")
	}
}

func TestStripeWebhookDiscardsTerminalFailures(t *testing.T) {
	parser := &stubWebhookParser{event: payments.WebhookEvent{ID: "evt_3", Type: payments.WebhookPaymentSucceeded}}
	payment := &stubPaymentService{err: services.ErrConflict}
	var logged string
	handlers := NewWebhookHandlers(
		WithWebhookParser(parser),
		WithWebhookPaymentService(payment),
		WithWebhookLogger(func(_ context.Context, event string, _ map[string]any) {
			logged = event
		}),
	)

	rr := httptest.NewRecorder()
	handlers.stripeWebhook(rr, stripeRequest(`{"id":"evt_3"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for terminal failure, got %d", rr.Code)
	}
	if logged != "webhook_discarded" {
		t.Fatalf("expected webhook_discarded log, got %q", logged)
	}
}

func TestStripeWebhookRetriableFailure(t *testing.T) {
	parser := &stubWebhookParser{event: payments.WebhookEvent{ID: "evt_4", Type: payments.WebhookPaymentSucceeded}}
	payment := &stubPaymentService{err: errors.New("firestore unavailable")}
	handlers := NewWebhookHandlers(
		WithWebhookParser(parser),
		WithWebhookPaymentService(payment),
	)

	rr := httptest.NewRecorder()
	handlers.stripeWebhook(rr, stripeRequest(`{"id":"evt_4"}`))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 for retriable failure, got %d", rr.Code)
	}
}

func TestCarrierWebhookResolved(t *testing.T) {
	labels := &stubLabelService{refund: domain.LabelRefund{
		ID:      "lr-1",
		LabelID: "label-1",
		Status:  domain.LabelRefundStatusSucceeded,
	}}
	handlers := NewWebhookHandlers(WithWebhookLabelService(labels))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/carrier", strings.NewReader(`{"label_id":"label-1","event":"refund.updated"}`))
	rr := httptest.NewRecorder()

	handlers.carrierWebhook(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if labels.gotLabelID != "label-1" {
		t.Fatalf("expected label id label-1, got %q", labels.gotLabelID)
	}
	var resp struct {
		Received bool   `json:"received"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Received || resp.Status != "succeeded" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCarrierWebhookUnknownLabel(t *testing.T) {
	labels := &stubLabelService{err: services.ErrNotFound}
	handlers := NewWebhookHandlers(WithWebhookLabelService(labels))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/carrier", strings.NewReader(`{"label_id":"label-9"}`))
	rr := httptest.NewRecorder()

	handlers.carrierWebhook(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for unknown label, got %d", rr.Code)
	}
}

func TestCarrierWebhookMissingLabelID(t *testing.T) {
	handlers := NewWebhookHandlers(WithWebhookLabelService(&stubLabelService{}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/carrier", strings.NewReader(`{"event":"refund.updated"}`))
	rr := httptest.NewRecorder()

	handlers.carrierWebhook(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Message != "label_id is required" {
		t.Fatalf("unexpected message %q", body.Message)
	}
}
