package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/tradepost/api/internal/domain"
	pfirestore "github.com/tradepost/api/internal/platform/firestore"
	"github.com/tradepost/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository persists order aggregates in Firestore.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{base: base}, nil
}

// Insert creates the order document, failing on ID collision.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	_, err := r.base.Create(ctx, order.ID, fromDomainOrder(order))
	return err
}

// Update replaces the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	_, err := r.base.Set(ctx, order.ID, fromDomainOrder(order))
	return err
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	order := toDomainOrder(doc.Data)
	order.ID = doc.ID
	return order, nil
}

// List returns orders matching the filter ordered by most recent first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		ts, id, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{ts, id}
	}

	statuses := make([]string, 0, len(filter.Status))
	for _, s := range filter.Status {
		trimmed := strings.TrimSpace(string(s))
		if trimmed != "" {
			statuses = append(statuses, trimmed)
		}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			q = q.Where("userId", "==", userID)
		}
		if sellerID := strings.TrimSpace(filter.SellerID); sellerID != "" {
			q = q.Where("sellerId", "==", sellerID)
		}
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statuses) > 10 {
				statuses = statuses[:10]
			}
			q = q.Where("status", "in", statuses)
		}
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
		return domain.CursorPage[domain.Order]{}, err
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

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order := toDomainOrder(doc.Data)
		order.ID = doc.ID
		items = append(items, order)
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: nextToken}, nil
}

type orderDocument struct {
	OrderNumber   string `firestore:"orderNumber"`
	SellerID      string `firestore:"sellerId"`
	UserID        string `firestore:"userId"`
	CustomerEmail string `firestore:"customerEmail"`
	Status        string `firestore:"status"`
	PaymentStatus string `firestore:"paymentStatus"`
	PaymentType   string `firestore:"paymentType"`
	Currency      string `firestore:"currency"`

	Items []orderItemDocument `firestore:"items"`

	Subtotal         int64 `firestore:"subtotal"`
	ShippingAmount   int64 `firestore:"shippingAmount"`
	TaxAmount        int64 `firestore:"taxAmount"`
	Total            int64 `firestore:"total"`
	DepositAmount    int64 `firestore:"depositAmount"`
	AmountPaid       int64 `firestore:"amountPaid"`
	RemainingBalance int64 `firestore:"remainingBalance"`
	RefundedAmount   int64 `firestore:"refundedAmount"`

	ShippingAddress addressDocument  `firestore:"shippingAddress"`
	BillingAddress  *addressDocument `firestore:"billingAddress,omitempty"`
	ShippingMethod  string           `firestore:"shippingMethod"`
	Metadata        map[string]any   `firestore:"metadata,omitempty"`

	CancelReason *string `firestore:"cancelReason,omitempty"`

	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
	PaidAt      *time.Time `firestore:"paidAt,omitempty"`
	ShippedAt   *time.Time `firestore:"shippedAt,omitempty"`
	DeliveredAt *time.Time `firestore:"deliveredAt,omitempty"`
	CancelledAt *time.Time `firestore:"cancelledAt,omitempty"`
}

type orderItemDocument struct {
	ID               string `firestore:"id"`
	ProductID        string `firestore:"productId"`
	Name             string `firestore:"name"`
	Kind             string `firestore:"kind"`
	VariantID        string `firestore:"variantId,omitempty"`
	Size             string `firestore:"size,omitempty"`
	Color            string `firestore:"color,omitempty"`
	Type             string `firestore:"type"`
	UnitPrice        int64  `firestore:"unitPrice"`
	Quantity         int    `firestore:"quantity"`
	RefundedQuantity int    `firestore:"refundedQuantity"`
	RefundedAmount   int64  `firestore:"refundedAmount"`
	Status           string `firestore:"status"`
	WeightGrams      int    `firestore:"weightGrams"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:      strings.TrimSpace(order.OrderNumber),
		SellerID:         strings.TrimSpace(order.SellerID),
		UserID:           strings.TrimSpace(order.UserID),
		CustomerEmail:    strings.TrimSpace(order.CustomerEmail),
		Status:           string(order.Status),
		PaymentStatus:    string(order.PaymentStatus),
		PaymentType:      string(order.PaymentType),
		Currency:         strings.ToUpper(strings.TrimSpace(order.Currency)),
		Subtotal:         order.Subtotal,
		ShippingAmount:   order.ShippingAmount,
		TaxAmount:        order.TaxAmount,
		Total:            order.Total,
		DepositAmount:    order.DepositAmount,
		AmountPaid:       order.AmountPaid,
		RemainingBalance: order.RemainingBalance,
		RefundedAmount:   order.RefundedAmount,
		ShippingAddress:  fromDomainAddress(order.ShippingAddress),
		ShippingMethod:   strings.TrimSpace(order.ShippingMethod),
		Metadata:         order.Metadata,
		CancelReason:     order.CancelReason,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
		PaidAt:           order.PaidAt,
		ShippedAt:        order.ShippedAt,
		DeliveredAt:      order.DeliveredAt,
		CancelledAt:      order.CancelledAt,
	}
	if order.BillingAddress != nil {
		billing := fromDomainAddress(*order.BillingAddress)
		doc.BillingAddress = &billing
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ID:               item.ID,
			ProductID:        item.ProductID,
			Name:             item.Name,
			Kind:             string(item.Kind),
			VariantID:        item.VariantID,
			Size:             item.Size,
			Color:            item.Color,
			Type:             string(item.Type),
			UnitPrice:        item.UnitPrice,
			Quantity:         item.Quantity,
			RefundedQuantity: item.RefundedQuantity,
			RefundedAmount:   item.RefundedAmount,
			Status:           string(item.Status),
			WeightGrams:      item.WeightGrams,
		})
	}
	return doc
}

func toDomainOrder(doc orderDocument) domain.Order {
	order := domain.Order{
		OrderNumber:      doc.OrderNumber,
		SellerID:         doc.SellerID,
		UserID:           doc.UserID,
		CustomerEmail:    doc.CustomerEmail,
		Status:           domain.OrderStatus(doc.Status),
		PaymentStatus:    domain.PaymentStatus(doc.PaymentStatus),
		PaymentType:      domain.PaymentType(doc.PaymentType),
		Currency:         doc.Currency,
		Subtotal:         doc.Subtotal,
		ShippingAmount:   doc.ShippingAmount,
		TaxAmount:        doc.TaxAmount,
		Total:            doc.Total,
		DepositAmount:    doc.DepositAmount,
		AmountPaid:       doc.AmountPaid,
		RemainingBalance: doc.RemainingBalance,
		RefundedAmount:   doc.RefundedAmount,
		ShippingAddress:  toDomainAddress(doc.ShippingAddress),
		ShippingMethod:   doc.ShippingMethod,
		Metadata:         doc.Metadata,
		CancelReason:     doc.CancelReason,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
		PaidAt:           doc.PaidAt,
		ShippedAt:        doc.ShippedAt,
		DeliveredAt:      doc.DeliveredAt,
		CancelledAt:      doc.CancelledAt,
	}
	if doc.BillingAddress != nil {
		billing := toDomainAddress(*doc.BillingAddress)
		order.BillingAddress = &billing
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:               item.ID,
			ProductID:        item.ProductID,
			Name:             item.Name,
			Kind:             domain.LineItemKind(item.Kind),
			VariantID:        item.VariantID,
			Size:             item.Size,
			Color:            item.Color,
			Type:             domain.ProductType(item.Type),
			UnitPrice:        item.UnitPrice,
			Quantity:         item.Quantity,
			RefundedQuantity: item.RefundedQuantity,
			RefundedAmount:   item.RefundedAmount,
			Status:           domain.ItemStatus(item.Status),
			WeightGrams:      item.WeightGrams,
		})
	}
	return order
}
