package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/tradepost/api/internal/domain"
	pfirestore "github.com/tradepost/api/internal/platform/firestore"
)

const labelCollection = "shipping_labels"

// LabelRepository stores purchased shipping labels in Firestore.
type LabelRepository struct {
	base *pfirestore.BaseRepository[labelDocument]
}

// NewLabelRepository constructs a Firestore-backed label repository.
func NewLabelRepository(provider *pfirestore.Provider) (*LabelRepository, error) {
	if provider == nil {
		return nil, errors.New("label repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[labelDocument](provider, labelCollection, nil, nil)
	return &LabelRepository{base: base}, nil
}

// Insert creates the label document, failing on ID collision.
func (r *LabelRepository) Insert(ctx context.Context, label domain.ShippingLabel) error {
	if r == nil || r.base == nil {
		return errors.New("label repository not initialised")
	}
	if strings.TrimSpace(label.ID) == "" {
		return errors.New("label id is required")
	}
	_, err := r.base.Create(ctx, label.ID, fromDomainLabel(label))
	return err
}

// Update replaces the label document.
func (r *LabelRepository) Update(ctx context.Context, label domain.ShippingLabel) error {
	if r == nil || r.base == nil {
		return errors.New("label repository not initialised")
	}
	if strings.TrimSpace(label.ID) == "" {
		return errors.New("label id is required")
	}
	_, err := r.base.Set(ctx, label.ID, fromDomainLabel(label))
	return err
}

// FindByID loads a single shipping label.
func (r *LabelRepository) FindByID(ctx context.Context, labelID string) (domain.ShippingLabel, error) {
	if r == nil || r.base == nil {
		return domain.ShippingLabel{}, errors.New("label repository not initialised")
	}
	id := strings.TrimSpace(labelID)
	if id == "" {
		return domain.ShippingLabel{}, errors.New("label id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.ShippingLabel{}, err
	}
	label := toDomainLabel(doc.Data)
	label.ID = doc.ID
	return label, nil
}

// ListByOrder returns labels purchased for an order, oldest first.
func (r *LabelRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.ShippingLabel, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("label repository not initialised")
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

	labels := make([]domain.ShippingLabel, 0, len(docs))
	for _, doc := range docs {
		label := toDomainLabel(doc.Data)
		label.ID = doc.ID
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		return labels[i].CreatedAt.Before(labels[j].CreatedAt)
	})
	return labels, nil
}

// ListBySeller returns labels charged to a seller wallet, newest first.
func (r *LabelRepository) ListBySeller(ctx context.Context, sellerID string, pager domain.Pagination) (domain.CursorPage[domain.ShippingLabel], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.ShippingLabel]{}, errors.New("label repository not initialised")
	}
	id := strings.TrimSpace(sellerID)
	if id == "" {
		return domain.CursorPage[domain.ShippingLabel]{}, errors.New("seller id is required")
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
			return domain.CursorPage[domain.ShippingLabel]{}, fmt.Errorf("label repository: invalid page token: %w", err)
		}
		startAfter = []any{ts, docID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("sellerId", "==", id)
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.ShippingLabel]{}, err
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

	items := make([]domain.ShippingLabel, 0, len(docs))
	for _, doc := range docs {
		label := toDomainLabel(doc.Data)
		label.ID = doc.ID
		items = append(items, label)
	}
	return domain.CursorPage[domain.ShippingLabel]{Items: items, NextPageToken: nextToken}, nil
}

type labelDocument struct {
	OrderID              string    `firestore:"orderId"`
	SellerID             string    `firestore:"sellerId"`
	Carrier              string    `firestore:"carrier"`
	Service              string    `firestore:"service"`
	TrackingNumber       string    `firestore:"trackingNumber"`
	LabelURL             string    `firestore:"labelUrl"`
	CarrierTransactionID string    `firestore:"carrierTransactionId"`
	BaseCost             int64     `firestore:"baseCost"`
	MarkupPercent        int64     `firestore:"markupPercent"`
	TotalCharged         int64     `firestore:"totalCharged"`
	Currency             string    `firestore:"currency"`
	Status               string    `firestore:"status"`
	CreatedAt            time.Time `firestore:"createdAt"`
	UpdatedAt            time.Time `firestore:"updatedAt"`
}

func fromDomainLabel(label domain.ShippingLabel) labelDocument {
	return labelDocument{
		OrderID:              strings.TrimSpace(label.OrderID),
		SellerID:             strings.TrimSpace(label.SellerID),
		Carrier:              strings.TrimSpace(label.Carrier),
		Service:              strings.TrimSpace(label.Service),
		TrackingNumber:       strings.TrimSpace(label.TrackingNumber),
		LabelURL:             strings.TrimSpace(label.LabelURL),
		CarrierTransactionID: strings.TrimSpace(label.CarrierTransactionID),
		BaseCost:             label.BaseCost,
		MarkupPercent:        label.MarkupPercent,
		TotalCharged:         label.TotalCharged,
		Currency:             strings.ToUpper(strings.TrimSpace(label.Currency)),
		Status:               string(label.Status),
		CreatedAt:            label.CreatedAt,
		UpdatedAt:            label.UpdatedAt,
	}
}

func toDomainLabel(doc labelDocument) domain.ShippingLabel {
	return domain.ShippingLabel{
		OrderID:              doc.OrderID,
		SellerID:             doc.SellerID,
		Carrier:              doc.Carrier,
		Service:              doc.Service,
		TrackingNumber:       doc.TrackingNumber,
		LabelURL:             doc.LabelURL,
		CarrierTransactionID: doc.CarrierTransactionID,
		BaseCost:             doc.BaseCost,
		MarkupPercent:        doc.MarkupPercent,
		TotalCharged:         doc.TotalCharged,
		Currency:             doc.Currency,
		Status:               domain.LabelStatus(doc.Status),
		CreatedAt:            doc.CreatedAt,
		UpdatedAt:            doc.UpdatedAt,
	}
}
