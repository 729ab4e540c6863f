package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// WebhookEvent is the provider-neutral form of a processor notification.
type WebhookEvent struct {
	ID         string
	Provider   string
	Type       string
	IntentID   string
	OrderID    string
	Stage      string
	Amount     int64
	Currency   string
	ReceivedAt time.Time
}

// Webhook event types shared by providers after normalisation.
const (
	WebhookPaymentSucceeded = "payment.succeeded"
	WebhookPaymentFailed    = "payment.failed"
	WebhookRefundUpdated    = "refund.updated"
	WebhookIgnored          = "ignored"
)

// ErrInvalidSignature indicates the webhook payload failed signature verification.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// StripeWebhookParser verifies Stripe webhook signatures and normalises events.
type StripeWebhookParser struct {
	secret string
	clock  func() time.Time
}

// NewStripeWebhookParser constructs a parser for the given endpoint secret.
func NewStripeWebhookParser(secret string, clock func() time.Time) (*StripeWebhookParser, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("stripe: webhook secret is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &StripeWebhookParser{secret: strings.TrimSpace(secret), clock: clock}, nil
}

// Parse verifies the payload signature and maps the Stripe event onto the
// normalised form. Event types outside the payment lifecycle come back with
// Type set to WebhookIgnored so callers can acknowledge them without work.
func (p *StripeWebhookParser) Parse(payload []byte, signatureHeader string) (WebhookEvent, error) {
	if p == nil {
		return WebhookEvent{}, errors.New("stripe: webhook parser is nil")
	}

	event, err := webhook.ConstructEvent(payload, signatureHeader, p.secret)
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	normalised := WebhookEvent{
		ID:         event.ID,
		Provider:   "stripe",
		ReceivedAt: p.clock().UTC(),
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode payment intent event: %w", err)
		}
		normalised.IntentID = intent.ID
		normalised.Amount = intent.Amount
		normalised.Currency = strings.ToUpper(string(intent.Currency))
		normalised.OrderID = intent.Metadata["order_id"]
		normalised.Stage = intent.Metadata["stage"]
		if event.Type == "payment_intent.succeeded" {
			normalised.Type = WebhookPaymentSucceeded
			normalised.Amount = intent.AmountReceived
		} else {
			normalised.Type = WebhookPaymentFailed
		}
	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return WebhookEvent{}, fmt.Errorf("stripe: decode charge event: %w", err)
		}
		normalised.Type = WebhookRefundUpdated
		if charge.PaymentIntent != nil {
			normalised.IntentID = charge.PaymentIntent.ID
		}
		normalised.Amount = charge.AmountRefunded
		normalised.Currency = strings.ToUpper(string(charge.Currency))
		normalised.OrderID = charge.Metadata["order_id"]
	default:
		normalised.Type = WebhookIgnored
	}

	return normalised, nil
}
