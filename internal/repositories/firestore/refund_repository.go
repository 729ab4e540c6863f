package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/tradepost/api/internal/domain"
	pfirestore "github.com/tradepost/api/internal/platform/firestore"
)

const refundCollection = "refunds"

// RefundRepository stores immutable refund audit records in Firestore.
type RefundRepository struct {
	base *pfirestore.BaseRepository[refundDocument]
}

// NewRefundRepository constructs a Firestore-backed refund repository.
func NewRefundRepository(provider *pfirestore.Provider) (*RefundRepository, error) {
	if provider == nil {
		return nil, errors.New("refund repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[refundDocument](provider, refundCollection, nil, nil)
	return &RefundRepository{base: base}, nil
}

// Insert creates the refund record, failing on ID collision.
func (r *RefundRepository) Insert(ctx context.Context, refund domain.Refund) error {
	if r == nil || r.base == nil {
		return errors.New("refund repository not initialised")
	}
	if strings.TrimSpace(refund.ID) == "" {
		return errors.New("refund id is required")
	}
	_, err := r.base.Create(ctx, refund.ID, fromDomainRefund(refund))
	return err
}

// ListByOrder returns refunds recorded against an order, oldest first.
func (r *RefundRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Refund, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("refund repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, errors.New("order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", id)
	})
	if err != nil {
		return nil, err
	}

	refunds := make([]domain.Refund, 0, len(docs))
	for _, doc := range docs {
		refund := toDomainRefund(doc.Data)
		refund.ID = doc.ID
		refunds = append(refunds, refund)
	}
	sort.Slice(refunds, func(i, j int) bool {
		return refunds[i].CreatedAt.Before(refunds[j].CreatedAt)
	})
	return refunds, nil
}

type refundDocument struct {
	OrderID           string               `firestore:"orderId"`
	Amount            int64                `firestore:"amount"`
	Currency          string               `firestore:"currency"`
	Status            string               `firestore:"status"`
	Reason            string               `firestore:"reason"`
	Full              bool                 `firestore:"full"`
	Lines             []refundLineDocument `firestore:"lines"`
	ProviderRefundIDs []string             `firestore:"providerRefundIds"`
	CreatedAt         time.Time            `firestore:"createdAt"`
}

type refundLineDocument struct {
	ItemID   string `firestore:"itemId"`
	Quantity int    `firestore:"quantity"`
	Amount   int64  `firestore:"amount"`
}

func fromDomainRefund(refund domain.Refund) refundDocument {
	doc := refundDocument{
		OrderID:           strings.TrimSpace(refund.OrderID),
		Amount:            refund.Amount,
		Currency:          strings.ToUpper(strings.TrimSpace(refund.Currency)),
		Status:            string(refund.Status),
		Reason:            strings.TrimSpace(refund.Reason),
		Full:              refund.Full,
		ProviderRefundIDs: refund.ProviderRefundIDs,
		CreatedAt:         refund.CreatedAt,
	}
	for _, line := range refund.Lines {
		doc.Lines = append(doc.Lines, refundLineDocument{
			ItemID:   line.ItemID,
			Quantity: line.Quantity,
			Amount:   line.Amount,
		})
	}
	return doc
}

func toDomainRefund(doc refundDocument) domain.Refund {
	refund := domain.Refund{
		OrderID:           doc.OrderID,
		Amount:            doc.Amount,
		Currency:          doc.Currency,
		Status:            domain.RefundStatus(doc.Status),
		Reason:            doc.Reason,
		Full:              doc.Full,
		ProviderRefundIDs: doc.ProviderRefundIDs,
		CreatedAt:         doc.CreatedAt,
	}
	for _, line := range doc.Lines {
		refund.Lines = append(refund.Lines, domain.RefundLine{
			ItemID:   line.ItemID,
			Quantity: line.Quantity,
			Amount:   line.Amount,
		})
	}
	return refund
}
