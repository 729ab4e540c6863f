package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/tradepost/api/internal/domain"
	pfirestore "github.com/tradepost/api/internal/platform/firestore"
)

const labelRefundCollection = "label_refunds"

// LabelRefundRepository tracks label void requests in Firestore.
type LabelRefundRepository struct {
	base *pfirestore.BaseRepository[labelRefundDocument]
}

// NewLabelRefundRepository constructs a Firestore-backed label refund repository.
func NewLabelRefundRepository(provider *pfirestore.Provider) (*LabelRefundRepository, error) {
	if provider == nil {
		return nil, errors.New("label refund repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[labelRefundDocument](provider, labelRefundCollection, nil, nil)
	return &LabelRefundRepository{base: base}, nil
}

// Insert creates the refund request, failing on ID collision.
func (r *LabelRefundRepository) Insert(ctx context.Context, refund domain.LabelRefund) error {
	if r == nil || r.base == nil {
		return errors.New("label refund repository not initialised")
	}
	if strings.TrimSpace(refund.ID) == "" {
		return errors.New("label refund id is required")
	}
	_, err := r.base.Create(ctx, refund.ID, fromDomainLabelRefund(refund))
	return err
}

// Update replaces the refund request document.
func (r *LabelRefundRepository) Update(ctx context.Context, refund domain.LabelRefund) error {
	if r == nil || r.base == nil {
		return errors.New("label refund repository not initialised")
	}
	if strings.TrimSpace(refund.ID) == "" {
		return errors.New("label refund id is required")
	}
	_, err := r.base.Set(ctx, refund.ID, fromDomainLabelRefund(refund))
	return err
}

// FindByID loads a single refund request.
func (r *LabelRefundRepository) FindByID(ctx context.Context, refundID string) (domain.LabelRefund, error) {
	if r == nil || r.base == nil {
		return domain.LabelRefund{}, errors.New("label refund repository not initialised")
	}
	id := strings.TrimSpace(refundID)
	if id == "" {
		return domain.LabelRefund{}, errors.New("label refund id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.LabelRefund{}, err
	}
	refund := toDomainLabelRefund(doc.Data)
	refund.ID = doc.ID
	return refund, nil
}

// FindPendingByLabel returns the open refund request for a label, if any.
func (r *LabelRefundRepository) FindPendingByLabel(ctx context.Context, labelID string) (domain.LabelRefund, error) {
	if r == nil || r.base == nil {
		return domain.LabelRefund{}, errors.New("label refund repository not initialised")
	}
	id := strings.TrimSpace(labelID)
	if id == "" {
		return domain.LabelRefund{}, errors.New("label id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("labelId", "==", id).
			Where("status", "==", string(domain.LabelRefundStatusPending)).
			Limit(1)
	})
	if err != nil {
		return domain.LabelRefund{}, err
	}
	if len(docs) == 0 {
		return domain.LabelRefund{}, pfirestore.WrapError("label_refunds.find", status.Error(codes.NotFound, "pending label refund not found"))
	}
	refund := toDomainLabelRefund(docs[0].Data)
	refund.ID = docs[0].ID
	return refund, nil
}

// ListPending pages through refund requests awaiting a carrier decision.
func (r *LabelRefundRepository) ListPending(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.LabelRefund], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.LabelRefund]{}, errors.New("label refund repository not initialised")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		ts, docID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.LabelRefund]{}, fmt.Errorf("label refund repository: invalid page token: %w", err)
		}
		startAfter = []any{ts, docID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.LabelRefundStatusPending))
		q = q.OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.LabelRefund]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		ts := last.Data.CreatedAt
		if ts.IsZero() {
			ts = last.CreateTime
		}
		nextToken = encodeListToken(ts, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.LabelRefund, 0, len(docs))
	for _, doc := range docs {
		refund := toDomainLabelRefund(doc.Data)
		refund.ID = doc.ID
		items = append(items, refund)
	}
	return domain.CursorPage[domain.LabelRefund]{Items: items, NextPageToken: nextToken}, nil
}

type labelRefundDocument struct {
	LabelID         string     `firestore:"labelId"`
	SellerID        string     `firestore:"sellerId"`
	CarrierRefundID string     `firestore:"carrierRefundId,omitempty"`
	Amount          int64      `firestore:"amount"`
	Status          string     `firestore:"status"`
	Reason          string     `firestore:"reason"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	ResolvedAt      *time.Time `firestore:"resolvedAt,omitempty"`
}

func fromDomainLabelRefund(refund domain.LabelRefund) labelRefundDocument {
	return labelRefundDocument{
		LabelID:         strings.TrimSpace(refund.LabelID),
		SellerID:        strings.TrimSpace(refund.SellerID),
		CarrierRefundID: strings.TrimSpace(refund.CarrierRefundID),
		Amount:          refund.Amount,
		Status:          string(refund.Status),
		Reason:          strings.TrimSpace(refund.Reason),
		CreatedAt:       refund.CreatedAt,
		ResolvedAt:      refund.ResolvedAt,
	}
}

func toDomainLabelRefund(doc labelRefundDocument) domain.LabelRefund {
	return domain.LabelRefund{
		LabelID:         doc.LabelID,
		SellerID:        doc.SellerID,
		CarrierRefundID: doc.CarrierRefundID,
		Amount:          doc.Amount,
		Status:          domain.LabelRefundStatus(doc.Status),
		Reason:          doc.Reason,
		CreatedAt:       doc.CreatedAt,
		ResolvedAt:      doc.ResolvedAt,
	}
}
