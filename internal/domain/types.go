package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results together with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// ProductType distinguishes fulfillment models that change pricing behaviour.
type ProductType string

const (
	// ProductTypeInStock is stocked inventory shipped on payment.
	ProductTypeInStock ProductType = "in_stock"
	// ProductTypePreOrder is announced inventory sold ahead of availability.
	ProductTypePreOrder ProductType = "pre_order"
	// ProductTypeMadeToOrder is produced after the order is placed.
	ProductTypeMadeToOrder ProductType = "made_to_order"
	// ProductTypeWholesale is bulk inventory sold with quantity minimums.
	ProductTypeWholesale ProductType = "wholesale"
)

// ValidProductType reports whether the value matches a known product type.
func ValidProductType(t ProductType) bool {
	switch t {
	case ProductTypeInStock, ProductTypePreOrder, ProductTypeMadeToOrder, ProductTypeWholesale:
		return true
	default:
		return false
	}
}

// ProductVariant captures a purchasable variation of a product.
type ProductVariant struct {
	ID         string
	Size       string
	Color      string
	PriceDelta int64
	Stock      int
}

// Product is the seller catalog entry referenced by cart lines. Monetary
// amounts are stored in minor units of the product currency.
type Product struct {
	ID               string
	SellerID         string
	Name             string
	Type             ProductType
	Price            int64
	Currency         string
	Stock            int
	Active           bool
	DiscountPercent  int64
	PromotionActive  bool
	DepositPercent   int64
	MinOrderQuantity int
	WeightGrams      int
	Variants         []ProductVariant
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Variant returns the variant with the given ID, if present.
func (p Product) Variant(id string) (ProductVariant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return ProductVariant{}, false
}

// RequiresDeposit reports whether orders containing this product start with a
// deposit charge instead of a full payment.
func (p Product) RequiresDeposit() bool {
	return p.DepositPercent > 0 && (p.Type == ProductTypeMadeToOrder || p.Type == ProductTypeWholesale || p.Type == ProductTypePreOrder)
}

// Address describes a shipping or billing destination.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// ShippingZone is a seller-configured rate row. Zones are matched most
// specific first: city+country, then country, then continent.
type ShippingZone struct {
	Continent     string
	Country       string
	City          string
	Rate          int64
	Method        string
	EstimatedDays int
}

// WarehouseAddress is a seller origin used when purchasing labels.
type WarehouseAddress struct {
	ID      string
	Label   string
	Address Address
}

// Seller holds the merchant profile together with shipping configuration.
type Seller struct {
	ID               string
	Name             string
	Currency         string
	FlatShippingRate *int64
	ShippingZones    []ShippingZone
	Warehouses       []WarehouseAddress
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Warehouse returns the warehouse address with the given ID, if present.
func (s Seller) Warehouse(id string) (WarehouseAddress, bool) {
	for _, w := range s.Warehouses {
		if w.ID == id {
			return w, true
		}
	}
	return WarehouseAddress{}, false
}

// OrderStatus tracks physical fulfillment progress.
type OrderStatus string

const (
	// OrderStatusPending is the initial state before the seller starts work.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the seller accepted and is preparing the order.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the parcel left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the carrier confirmed delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ValidOrderStatus reports whether the value matches a known fulfillment status.
func ValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// PaymentStatus tracks money collected against the order, independent of
// fulfillment progress.
type PaymentStatus string

const (
	// PaymentStatusPending means no successful charge has been recorded yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusDepositPaid means the deposit stage succeeded and a balance remains.
	PaymentStatusDepositPaid PaymentStatus = "deposit_paid"
	// PaymentStatusFullyPaid means the full order total has been collected.
	PaymentStatusFullyPaid PaymentStatus = "fully_paid"
	// PaymentStatusRefunded means every collected unit has been returned.
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// PaymentType records whether the order was priced as a single charge or a
// deposit followed by a balance.
type PaymentType string

const (
	// PaymentTypeFull collects the entire total in one charge.
	PaymentTypeFull PaymentType = "full"
	// PaymentTypeDeposit collects a deposit now and the balance later.
	PaymentTypeDeposit PaymentType = "deposit"
)

// PaymentStage names which slice of the order total a processor charge covers.
type PaymentStage string

const (
	// PaymentStageDeposit is the up-front portion of a deposit order.
	PaymentStageDeposit PaymentStage = "deposit"
	// PaymentStageBalance is the remainder collected after the deposit.
	PaymentStageBalance PaymentStage = "balance"
	// PaymentStageFull is the single charge of a non-deposit order.
	PaymentStageFull PaymentStage = "full"
)

// LineItemKind tags whether an order line references a bare product or a
// specific variant.
type LineItemKind string

const (
	// LineItemKindSimple references the product itself.
	LineItemKindSimple LineItemKind = "simple"
	// LineItemKindVariant references a product variant.
	LineItemKindVariant LineItemKind = "variant"
)

// ItemStatus reflects per-line refund state.
type ItemStatus string

const (
	// ItemStatusActive is the default state.
	ItemStatusActive ItemStatus = "active"
	// ItemStatusPartiallyRefunded means part of the line quantity was refunded.
	ItemStatusPartiallyRefunded ItemStatus = "partially_refunded"
	// ItemStatusRefunded means the entire line quantity was refunded.
	ItemStatusRefunded ItemStatus = "refunded"
)

// OrderItem is a priced line frozen at order creation. UnitPrice is the
// discounted per-unit price in order currency minor units.
type OrderItem struct {
	ID               string
	ProductID        string
	Name             string
	Kind             LineItemKind
	VariantID        string
	Size             string
	Color            string
	Type             ProductType
	UnitPrice        int64
	Quantity         int
	RefundedQuantity int
	RefundedAmount   int64
	Status           ItemStatus
	WeightGrams      int
}

// RemainingQuantity returns the quantity still eligible for refund.
func (i OrderItem) RemainingQuantity() int {
	return i.Quantity - i.RefundedQuantity
}

// Order is the aggregate priced and persisted by the checkout pipeline.
// Invariant: AmountPaid + RemainingBalance == Total whenever Total > 0.
type Order struct {
	ID            string
	OrderNumber   string
	SellerID      string
	UserID        string
	CustomerEmail string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	PaymentType   PaymentType
	Currency      string

	Items []OrderItem

	Subtotal         int64
	ShippingAmount   int64
	TaxAmount        int64
	Total            int64
	DepositAmount    int64
	AmountPaid       int64
	RemainingBalance int64
	RefundedAmount   int64

	ShippingAddress Address
	BillingAddress  *Address
	ShippingMethod  string
	Metadata        map[string]any

	CancelReason *string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	PaidAt      *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
}

// Item returns the order line with the given ID, if present.
func (o Order) Item(id string) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.ID == id {
			return item, true
		}
	}
	return OrderItem{}, false
}

// Terminal reports whether the order can no longer change state.
func (o Order) Terminal() bool {
	if o.Status == OrderStatusCancelled {
		return true
	}
	return o.Status == OrderStatusDelivered && o.PaymentStatus == PaymentStatusRefunded
}

// PaymentRecord mirrors a processor payment intent attached to an order.
type PaymentRecord struct {
	ID             string
	OrderID        string
	Provider       string
	IntentID       string
	Stage          PaymentStage
	Status         string
	Amount         int64
	RefundedAmount int64
	Currency       string
	EventID        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RefundableAmount returns the captured amount not yet refunded on this intent.
func (p PaymentRecord) RefundableAmount() int64 {
	return p.Amount - p.RefundedAmount
}

// RefundStatus is the terminal outcome of a refund request.
type RefundStatus string

const (
	// RefundStatusSucceeded means the processor accepted every allocation.
	RefundStatusSucceeded RefundStatus = "succeeded"
	// RefundStatusFailed means the processor rejected the request.
	RefundStatusFailed RefundStatus = "failed"
)

// RefundLine records the per-item slice of a refund.
type RefundLine struct {
	ItemID   string
	Quantity int
	Amount   int64
}

// Refund is the audit record for money returned to the buyer.
type Refund struct {
	ID                string
	OrderID           string
	Amount            int64
	Currency          string
	Status            RefundStatus
	Reason            string
	Full              bool
	Lines             []RefundLine
	ProviderRefundIDs []string
	CreatedAt         time.Time
}

// LabelStatus tracks the lifecycle of a purchased shipping label.
type LabelStatus string

const (
	// LabelStatusPurchased is the initial state after a successful carrier purchase.
	LabelStatusPurchased LabelStatus = "purchased"
	// LabelStatusRefundRequested means a void was submitted and is pending at the carrier.
	LabelStatusRefundRequested LabelStatus = "refund_requested"
	// LabelStatusVoided means the carrier accepted the void and the wallet was credited.
	LabelStatusVoided LabelStatus = "voided"
)

// ShippingLabel records a carrier label charged against the seller wallet.
type ShippingLabel struct {
	ID                   string
	OrderID              string
	SellerID             string
	Carrier              string
	Service              string
	TrackingNumber       string
	LabelURL             string
	CarrierTransactionID string
	BaseCost             int64
	MarkupPercent        int64
	TotalCharged         int64
	Currency             string
	Status               LabelStatus
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// LabelRefundStatus is the carrier-side outcome of a label void request.
type LabelRefundStatus string

const (
	// LabelRefundStatusPending means the carrier queued the void.
	LabelRefundStatusPending LabelRefundStatus = "pending"
	// LabelRefundStatusSucceeded means the carrier refunded the label cost.
	LabelRefundStatusSucceeded LabelRefundStatus = "succeeded"
	// LabelRefundStatusRejected means the carrier declined the void.
	LabelRefundStatusRejected LabelRefundStatus = "rejected"
)

// LabelRefund tracks a void request until the carrier resolves it.
type LabelRefund struct {
	ID              string
	LabelID         string
	SellerID        string
	CarrierRefundID string
	Amount          int64
	Status          LabelRefundStatus
	Reason          string
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

// WalletEntryType distinguishes ledger directions.
type WalletEntryType string

const (
	// WalletEntryDebit removes funds from the seller wallet.
	WalletEntryDebit WalletEntryType = "debit"
	// WalletEntryCredit adds funds to the seller wallet.
	WalletEntryCredit WalletEntryType = "credit"
)

// WalletEntry is an immutable ledger row. Amount is always positive; the
// direction lives in Type. Balance is the sum of credits minus debits.
type WalletEntry struct {
	ID        string
	SellerID  string
	Type      WalletEntryType
	Amount    int64
	Currency  string
	Reference string
	Note      string
	CreatedAt time.Time
}

// Signed returns the amount with the ledger sign applied.
func (e WalletEntry) Signed() int64 {
	if e.Type == WalletEntryDebit {
		return -e.Amount
	}
	return e.Amount
}

// WebhookEvent is the dedupe record for processed provider notifications.
// ID is the provider event identifier.
type WebhookEvent struct {
	ID         string
	Provider   string
	Type       string
	OrderID    string
	ReceivedAt time.Time
}
