package services

import (
	"context"
	"time"
)

// Order lifecycle event names published to the events topic.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderDepositPaid   = "order.deposit_paid"
	EventOrderBalanceDue    = "order.balance_due"
	EventOrderFullyPaid     = "order.fully_paid"
	EventOrderCancelled     = "order.cancelled"
	EventOrderRefunded      = "order.refunded"
	EventLabelPurchased     = "label.purchased"
	EventLabelVoided        = "label.voided"
)

// OrderEventMessage is the envelope published for order domain events.
type OrderEventMessage struct {
	Event      string         `json:"event"`
	OrderID    string         `json:"orderId,omitempty"`
	SellerID   string         `json:"sellerId,omitempty"`
	LabelID    string         `json:"labelId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// OrderEventPublisher publishes order domain events for downstream consumers.
// Publishing is best-effort from the caller's perspective: failures are logged,
// never surfaced to the buyer.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEventMessage) (string, error)
}
