// Package shipping integrates carrier label purchasing behind a narrow
// interface so services stay independent of the Shippo wire format.
package shipping

import (
	"context"
	"errors"

	domain "github.com/tradepost/api/internal/domain"
)

// RefundState is the carrier-side status of a label refund request.
type RefundState string

const (
	// RefundQueued means the carrier accepted the request and will decide later.
	RefundQueued RefundState = "queued"
	// RefundSucceeded means the carrier refunded the label cost.
	RefundSucceeded RefundState = "succeeded"
	// RefundRejected means the carrier declined the refund.
	RefundRejected RefundState = "rejected"
)

// ErrNoRates indicates the carrier returned no usable rates for the shipment.
var ErrNoRates = errors.New("shipping: no rates available")

// Parcel describes the package being shipped.
type Parcel struct {
	WeightGrams int
	LengthCM    float64
	WidthCM     float64
	HeightCM    float64
}

// RateRequest asks the carrier for available service levels.
type RateRequest struct {
	From   domain.Address
	To     domain.Address
	Parcel Parcel
}

// Rate is a single purchasable service level quote. Amount is in minor units
// of Currency.
type Rate struct {
	ObjectID      string
	Carrier       string
	Service       string
	Amount        int64
	Currency      string
	EstimatedDays int
}

// PurchaseRequest buys a label for a previously quoted rate.
type PurchaseRequest struct {
	RateObjectID string
	LabelFormat  string
}

// Label is the carrier artifact returned from a purchase.
type Label struct {
	TransactionID  string
	TrackingNumber string
	LabelURL       string
	Carrier        string
	Service        string
	Amount         int64
	Currency       string
}

// RefundRequest asks the carrier to void a purchased label.
type RefundRequest struct {
	TransactionID string
}

// RefundOutcome reports the carrier decision, which may still be pending.
type RefundOutcome struct {
	RefundID string
	State    RefundState
}

// Carrier is the label purchasing contract implemented by carrier adapters.
type Carrier interface {
	Rates(ctx context.Context, req RateRequest) ([]Rate, error)
	Purchase(ctx context.Context, req PurchaseRequest) (Label, error)
	RequestRefund(ctx context.Context, req RefundRequest) (RefundOutcome, error)
	RefundStatus(ctx context.Context, refundID string) (RefundOutcome, error)
}
