package repositories

import (
	"context"

	domain "github.com/tradepost/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Sellers() SellerRepository
	Products() ProductRepository
	Orders() OrderRepository
	PaymentIntents() PaymentIntentRepository
	Refunds() RefundRepository
	Labels() LabelRepository
	LabelRefunds() LabelRefundRepository
	Wallet() WalletRepository
	WebhookEvents() WebhookEventRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repository
// calls made with the callback context participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SellerRepository persists merchant profiles together with shipping configuration.
type SellerRepository interface {
	FindByID(ctx context.Context, sellerID string) (domain.Seller, error)
	Upsert(ctx context.Context, seller domain.Seller) (domain.Seller, error)
}

// ProductRepository persists catalog entries referenced by cart lines.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	Update(ctx context.Context, product domain.Product) error
}

// OrderRepository persists order aggregates and provides buyer and seller queries.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows order listings for buyer and seller views.
type OrderListFilter struct {
	UserID     string
	SellerID   string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// PaymentIntentRepository mirrors processor payment intents attached to orders.
type PaymentIntentRepository interface {
	Insert(ctx context.Context, record domain.PaymentRecord) error
	Update(ctx context.Context, record domain.PaymentRecord) error
	FindByIntentID(ctx context.Context, intentID string) (domain.PaymentRecord, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentRecord, error)
	ListPending(ctx context.Context, limit int) ([]domain.PaymentRecord, error)
}

// RefundRepository stores immutable refund audit records.
type RefundRepository interface {
	Insert(ctx context.Context, refund domain.Refund) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.Refund, error)
}

// LabelRepository stores purchased shipping labels.
type LabelRepository interface {
	Insert(ctx context.Context, label domain.ShippingLabel) error
	Update(ctx context.Context, label domain.ShippingLabel) error
	FindByID(ctx context.Context, labelID string) (domain.ShippingLabel, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.ShippingLabel, error)
	ListBySeller(ctx context.Context, sellerID string, pager domain.Pagination) (domain.CursorPage[domain.ShippingLabel], error)
}

// LabelRefundRepository tracks label void requests until the carrier resolves them.
type LabelRefundRepository interface {
	Insert(ctx context.Context, refund domain.LabelRefund) error
	Update(ctx context.Context, refund domain.LabelRefund) error
	FindByID(ctx context.Context, refundID string) (domain.LabelRefund, error)
	FindPendingByLabel(ctx context.Context, labelID string) (domain.LabelRefund, error)
	ListPending(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.LabelRefund], error)
}

// WalletRepository is the append-only seller wallet ledger. Balance derives from
// the entry history and is never stored as a mutable field.
type WalletRepository interface {
	Append(ctx context.Context, entry domain.WalletEntry) error
	Balance(ctx context.Context, sellerID string) (int64, error)
	List(ctx context.Context, sellerID string, pager domain.Pagination) (domain.CursorPage[domain.WalletEntry], error)
}

// WebhookEventRepository records processed provider events for dedupe. Record
// returns a conflict-categorised RepositoryError when the event was already seen.
type WebhookEventRepository interface {
	Record(ctx context.Context, event domain.WebhookEvent) error
	Find(ctx context.Context, eventID string) (domain.WebhookEvent, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
