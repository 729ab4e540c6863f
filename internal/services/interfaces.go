package services

import (
	"context"
	"time"

	domain "github.com/tradepost/api/internal/domain"
	"github.com/tradepost/api/internal/payments"
	"github.com/tradepost/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination       = domain.Pagination
	Address          = domain.Address
	Product          = domain.Product
	Seller           = domain.Seller
	WarehouseAddress = domain.WarehouseAddress
	Order            = domain.Order
	OrderItem        = domain.OrderItem
	OrderStatus      = domain.OrderStatus
	PaymentStatus    = domain.PaymentStatus
	PaymentStage     = domain.PaymentStage
	PaymentRecord    = domain.PaymentRecord
	Refund           = domain.Refund
	RefundLine       = domain.RefundLine
	ShippingLabel    = domain.ShippingLabel
	LabelRefund      = domain.LabelRefund
	WalletEntry      = domain.WalletEntry
)

// CartValidator re-fetches authoritative product data for client-submitted
// cart lines and rejects anything inconsistent. Client amounts are discarded.
type CartValidator interface {
	ValidateCart(ctx context.Context, lines []CartLine) (ValidatedCart, error)
}

// ShippingResolver maps a validated cart and destination to a shipping cost.
type ShippingResolver interface {
	Resolve(ctx context.Context, req ShippingRequest) (ShippingQuote, error)
}

// TaxEstimator computes the tax owed on a taxable amount shipped to a
// destination. Implementations return zero when no regime applies.
type TaxEstimator interface {
	Estimate(ctx context.Context, amount int64, currency string, destination Address) (int64, error)
}

// OrderService orchestrates checkout pricing, order persistence and the
// fulfillment status machine.
type OrderService interface {
	CalculateSummary(ctx context.Context, cmd SummaryCommand) (OrderSummary, error)
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	RequestBalancePayment(ctx context.Context, cmd BalancePaymentCommand) (BalancePaymentLink, error)
}

// PaymentService creates processor charges for order stages and folds
// processor webhook confirmations back into order state.
type PaymentService interface {
	CreateIntent(ctx context.Context, cmd CreateIntentCommand) (PaymentRecord, error)
	CreateBalanceLink(ctx context.Context, cmd BalancePaymentCommand) (BalancePaymentLink, error)
	HandleWebhookEvent(ctx context.Context, event payments.WebhookEvent) error
	ListPayments(ctx context.Context, orderID string) ([]PaymentRecord, error)
	Reconcile(ctx context.Context, limit int) (ReconcileReport, error)
}

// RefundService computes and executes line-item or full-order refunds.
type RefundService interface {
	ProcessRefund(ctx context.Context, cmd RefundCommand) (Refund, error)
	ListRefunds(ctx context.Context, orderID string) ([]Refund, error)
}

// LabelService purchases and voids carrier labels against the seller wallet.
type LabelService interface {
	Purchase(ctx context.Context, cmd PurchaseLabelCommand) (ShippingLabel, error)
	Cancel(ctx context.Context, cmd CancelLabelCommand) (LabelCancelResult, error)
	ResolveRefund(ctx context.Context, labelID string) (LabelRefund, error)
	ResolvePending(ctx context.Context, limit int) (ReconcileReport, error)
	GetLabel(ctx context.Context, labelID string) (ShippingLabel, error)
	ListByOrder(ctx context.Context, orderID string) ([]ShippingLabel, error)
}

// WalletService exposes the seller ledger: derived balance, statement, top-ups.
type WalletService interface {
	Balance(ctx context.Context, sellerID string) (WalletBalance, error)
	ListEntries(ctx context.Context, sellerID string, pager Pagination) (domain.CursorPage[WalletEntry], error)
	TopUp(ctx context.Context, cmd TopUpCommand) (WalletEntry, error)
}

// CounterService issues monotonically increasing formatted sequence values.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService aggregates utility endpoints such as health probes.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

// PaymentProcessor is the slice of the payments manager the services consume.
type PaymentProcessor interface {
	CreateIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.PaymentDetails, error)
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.RefundResult, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// Command and DTO definitions ------------------------------------------------

// CartLine is the untrusted client-submitted cart row.
type CartLine struct {
	ProductID string
	VariantID string
	Quantity  int
}

// ValidatedLine is a cart row with server-resolved pricing.
type ValidatedLine struct {
	ProductID      string
	Name           string
	Kind           domain.LineItemKind
	VariantID      string
	Size           string
	Color          string
	Type           domain.ProductType
	UnitPrice      int64
	Quantity       int
	DepositPercent int64
	WeightGrams    int
}

// ValidatedCart is the output of cart validation: one seller, one fulfillment
// type, server-resolved prices.
type ValidatedCart struct {
	SellerID        string
	Currency        string
	ProductType     domain.ProductType
	Lines           []ValidatedLine
	Subtotal        int64
	DepositRequired bool
}

// TotalWeightGrams sums line weights for parcel sizing.
func (c ValidatedCart) TotalWeightGrams() int {
	total := 0
	for _, line := range c.Lines {
		total += line.WeightGrams * line.Quantity
	}
	return total
}

// ShippingRequest carries everything the resolver needs to price delivery.
type ShippingRequest struct {
	Seller      Seller
	Destination Address
	WeightGrams int
	Currency    string
}

// ShippingQuote is the resolved delivery price. CarrierRateID is set only when
// the quote came from a live carrier lookup.
type ShippingQuote struct {
	Cost          int64
	Method        string
	EstimatedDays int
	CarrierRateID string
}

// PricingInput feeds the pure pricing computation.
type PricingInput struct {
	Cart     ValidatedCart
	Shipping int64
	Tax      int64
}

// PricingBreakdown is the deterministic monetary result of pricing a cart.
type PricingBreakdown struct {
	Currency         string
	Subtotal         int64
	Shipping         int64
	Tax              int64
	Total            int64
	PaymentType      domain.PaymentType
	DepositAmount    int64
	RemainingBalance int64
}

// SummaryCommand prices a cart without persisting anything.
type SummaryCommand struct {
	Lines       []CartLine
	Destination Address
}

// OrderSummary is the quote returned by the summary endpoint.
type OrderSummary struct {
	SellerID string
	Pricing  PricingBreakdown
	Shipping ShippingQuote
}

// CreateOrderCommand creates a priced order. UserID is empty for guest
// checkout; CustomerEmail is then required.
type CreateOrderCommand struct {
	UserID          string
	CustomerEmail   string
	Lines           []CartLine
	ShippingAddress Address
	BillingAddress  *Address
	Metadata        map[string]any
}

type OrderListFilter = repositories.OrderListFilter

// UpdateOrderStatusCommand moves an order along the fulfillment axis.
type UpdateOrderStatusCommand struct {
	OrderID string
	Status  OrderStatus
	ActorID string
	Reason  string
}

// CancelOrderCommand cancels a non-terminal order.
type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Reason  string
}

// BalancePaymentCommand requests a hosted payment link for the remaining
// balance of a deposit order.
type BalancePaymentCommand struct {
	OrderID    string
	SuccessURL string
	CancelURL  string
}

// BalancePaymentLink is the hosted checkout handle returned to the buyer.
type BalancePaymentLink struct {
	OrderID   string
	Amount    int64
	Currency  string
	URL       string
	SessionID string
	ExpiresAt time.Time
}

// CreateIntentCommand opens a processor intent for one stage of an order.
type CreateIntentCommand struct {
	OrderID string
	Stage   PaymentStage
}

// RefundSelection names a line and quantity to refund.
type RefundSelection struct {
	ItemID   string
	Quantity int
}

// RefundCommand requests a refund; Full and Selections are mutually exclusive.
type RefundCommand struct {
	OrderID    string
	Full       bool
	Selections []RefundSelection
	Reason     string
	ActorID    string
}

// PurchaseLabelCommand buys a carrier label for a paid order.
type PurchaseLabelCommand struct {
	OrderID            string
	SellerID           string
	WarehouseAddressID string
}

// CancelLabelCommand requests a carrier void for a purchased label.
type CancelLabelCommand struct {
	LabelID  string
	SellerID string
	Reason   string
}

// LabelCancelResult reports the carrier decision for a void request.
type LabelCancelResult struct {
	Label  ShippingLabel
	Refund LabelRefund
}

// WalletBalance is the derived ledger aggregate for a seller.
type WalletBalance struct {
	SellerID string
	Balance  int64
	Currency string
}

// TopUpCommand credits the seller ledger.
type TopUpCommand struct {
	SellerID  string
	Amount    int64
	Currency  string
	Reference string
	Note      string
}

// ReconcileReport summarises a reconciliation sweep.
type ReconcileReport struct {
	Scanned  int
	Resolved int
	Failed   int
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
	Prefix       string
	Suffix       string
	PadLength    int
	Formatter    func(now time.Time, value int64) string
}

// CounterValue pairs the raw sequence value with its formatted presentation.
type CounterValue struct {
	Value     int64
	Formatted string
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
