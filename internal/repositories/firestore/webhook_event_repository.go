package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/tradepost/api/internal/domain"
	pfirestore "github.com/tradepost/api/internal/platform/firestore"
)

const webhookEventCollection = "webhook_events"

// WebhookEventRepository records processed provider events for dedupe.
type WebhookEventRepository struct {
	base *pfirestore.BaseRepository[webhookEventDocument]
}

// NewWebhookEventRepository constructs a Firestore-backed webhook event repository.
func NewWebhookEventRepository(provider *pfirestore.Provider) (*WebhookEventRepository, error) {
	if provider == nil {
		return nil, errors.New("webhook event repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[webhookEventDocument](provider, webhookEventCollection, nil, nil)
	return &WebhookEventRepository{base: base}, nil
}

// Record creates the dedupe document keyed by the provider event ID. A second
// delivery of the same event surfaces as a conflict error.
func (r *WebhookEventRepository) Record(ctx context.Context, event domain.WebhookEvent) error {
	if r == nil || r.base == nil {
		return errors.New("webhook event repository not initialised")
	}
	id := strings.TrimSpace(event.ID)
	if id == "" {
		return errors.New("webhook event id is required")
	}
	_, err := r.base.Create(ctx, id, webhookEventDocument{
		Provider:   strings.TrimSpace(event.Provider),
		Type:       strings.TrimSpace(event.Type),
		OrderID:    strings.TrimSpace(event.OrderID),
		ReceivedAt: event.ReceivedAt,
	})
	return err
}

// Find loads a processed event record.
func (r *WebhookEventRepository) Find(ctx context.Context, eventID string) (domain.WebhookEvent, error) {
	if r == nil || r.base == nil {
		return domain.WebhookEvent{}, errors.New("webhook event repository not initialised")
	}
	id := strings.TrimSpace(eventID)
	if id == "" {
		return domain.WebhookEvent{}, errors.New("webhook event id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.WebhookEvent{}, err
	}
	return domain.WebhookEvent{
		ID:         doc.ID,
		Provider:   doc.Data.Provider,
		Type:       doc.Data.Type,
		OrderID:    doc.Data.OrderID,
		ReceivedAt: doc.Data.ReceivedAt,
	}, nil
}

type webhookEventDocument struct {
	Provider   string    `firestore:"provider"`
	Type       string    `firestore:"type"`
	OrderID    string    `firestore:"orderId,omitempty"`
	ReceivedAt time.Time `firestore:"receivedAt"`
}
