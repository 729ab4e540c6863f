package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/tradepost/api/internal/domain"
	pfirestore "github.com/tradepost/api/internal/platform/firestore"
)

const paymentIntentCollection = "payment_intents"

// PaymentIntentRepository mirrors processor payment intents in Firestore.
type PaymentIntentRepository struct {
	base *pfirestore.BaseRepository[paymentIntentDocument]
}

// NewPaymentIntentRepository constructs a Firestore-backed payment intent repository.
func NewPaymentIntentRepository(provider *pfirestore.Provider) (*PaymentIntentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment intent repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[paymentIntentDocument](provider, paymentIntentCollection, nil, nil)
	return &PaymentIntentRepository{base: base}, nil
}

// Insert creates the payment record, failing on ID collision.
func (r *PaymentIntentRepository) Insert(ctx context.Context, record domain.PaymentRecord) error {
	if r == nil || r.base == nil {
		return errors.New("payment intent repository not initialised")
	}
	if strings.TrimSpace(record.ID) == "" {
		return errors.New("payment record id is required")
	}
	_, err := r.base.Create(ctx, record.ID, fromDomainPaymentRecord(record))
	return err
}

// Update replaces the payment record document.
func (r *PaymentIntentRepository) Update(ctx context.Context, record domain.PaymentRecord) error {
	if r == nil || r.base == nil {
		return errors.New("payment intent repository not initialised")
	}
	if strings.TrimSpace(record.ID) == "" {
		return errors.New("payment record id is required")
	}
	_, err := r.base.Set(ctx, record.ID, fromDomainPaymentRecord(record))
	return err
}

// FindByIntentID looks a record up by the processor intent identifier.
func (r *PaymentIntentRepository) FindByIntentID(ctx context.Context, intentID string) (domain.PaymentRecord, error) {
	if r == nil || r.base == nil {
		return domain.PaymentRecord{}, errors.New("payment intent repository not initialised")
	}
	id := strings.TrimSpace(intentID)
	if id == "" {
		return domain.PaymentRecord{}, errors.New("intent id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("intentId", "==", id).Limit(1)
	})
	if err != nil {
		return domain.PaymentRecord{}, err
	}
	if len(docs) == 0 {
		return domain.PaymentRecord{}, pfirestore.WrapError("payment_intents.find", status.Error(codes.NotFound, "payment intent not found"))
	}
	record := toDomainPaymentRecord(docs[0].Data)
	record.ID = docs[0].ID
	return record, nil
}

// ListByOrder returns all payment records for an order, newest first.
func (r *PaymentIntentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentRecord, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("payment intent repository not initialised")
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

	records := make([]domain.PaymentRecord, 0, len(docs))
	for _, doc := range docs {
		record := toDomainPaymentRecord(doc.Data)
		record.ID = doc.ID
		records = append(records, record)
	}
	// Sort client-side so transactional queries avoid a composite index.
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// ListPending returns records still awaiting processor confirmation, oldest
// first, for the reconciliation sweep.
func (r *PaymentIntentRepository) ListPending(ctx context.Context, limit int) ([]domain.PaymentRecord, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("payment intent repository not initialised")
	}
	if limit <= 0 {
		limit = 50
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "in", []string{"pending", "processing", "requires_action"}).Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	records := make([]domain.PaymentRecord, 0, len(docs))
	for _, doc := range docs {
		record := toDomainPaymentRecord(doc.Data)
		record.ID = doc.ID
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

type paymentIntentDocument struct {
	OrderID        string    `firestore:"orderId"`
	Provider       string    `firestore:"provider"`
	IntentID       string    `firestore:"intentId"`
	Stage          string    `firestore:"stage"`
	Status         string    `firestore:"status"`
	Amount         int64     `firestore:"amount"`
	RefundedAmount int64     `firestore:"refundedAmount"`
	Currency       string    `firestore:"currency"`
	EventID        string    `firestore:"eventId,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func fromDomainPaymentRecord(record domain.PaymentRecord) paymentIntentDocument {
	return paymentIntentDocument{
		OrderID:        strings.TrimSpace(record.OrderID),
		Provider:       strings.TrimSpace(record.Provider),
		IntentID:       strings.TrimSpace(record.IntentID),
		Stage:          string(record.Stage),
		Status:         strings.TrimSpace(record.Status),
		Amount:         record.Amount,
		RefundedAmount: record.RefundedAmount,
		Currency:       strings.ToUpper(strings.TrimSpace(record.Currency)),
		EventID:        strings.TrimSpace(record.EventID),
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}

func toDomainPaymentRecord(doc paymentIntentDocument) domain.PaymentRecord {
	return domain.PaymentRecord{
		OrderID:        doc.OrderID,
		Provider:       doc.Provider,
		IntentID:       doc.IntentID,
		Stage:          domain.PaymentStage(doc.Stage),
		Status:         doc.Status,
		Amount:         doc.Amount,
		RefundedAmount: doc.RefundedAmount,
		Currency:       doc.Currency,
		EventID:        doc.EventID,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}
