package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/tradepost/api/internal/platform/firestore"
	"github.com/tradepost/api/internal/repositories"
)

// Registry bundles all Firestore repositories behind the repositories.Registry
// interface and provides the transactional unit of work.
type Registry struct {
	provider *pfirestore.Provider

	sellers        *SellerRepository
	products       *ProductRepository
	orders         *OrderRepository
	paymentIntents *PaymentIntentRepository
	refunds        *RefundRepository
	labels         *LabelRepository
	labelRefunds   *LabelRefundRepository
	wallet         *WalletRepository
	webhookEvents  *WebhookEventRepository
	counters       *CounterRepository
	health         repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every Firestore repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	sellers, err := NewSellerRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	paymentIntents, err := NewPaymentIntentRepository(provider)
	if err != nil {
		return nil, err
	}
	refunds, err := NewRefundRepository(provider)
	if err != nil {
		return nil, err
	}
	labels, err := NewLabelRepository(provider)
	if err != nil {
		return nil, err
	}
	labelRefunds, err := NewLabelRefundRepository(provider)
	if err != nil {
		return nil, err
	}
	wallet, err := NewWalletRepository(provider)
	if err != nil {
		return nil, err
	}
	webhookEvents, err := NewWebhookEventRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:       provider,
		sellers:        sellers,
		products:       products,
		orders:         orders,
		paymentIntents: paymentIntents,
		refunds:        refunds,
		labels:         labels,
		labelRefunds:   labelRefunds,
		wallet:         wallet,
		webhookEvents:  webhookEvents,
		counters:       counters,
		health:         health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// RunInTx executes fn inside a Firestore transaction. Repository calls made
// with the callback context are routed through that transaction. Firestore
// requires every read to happen before the first write.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("transaction function is required")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(pfirestore.WithTransaction(ctx, tx))
	})
}

func (r *Registry) Sellers() repositories.SellerRepository { return r.sellers }

func (r *Registry) Products() repositories.ProductRepository { return r.products }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) PaymentIntents() repositories.PaymentIntentRepository { return r.paymentIntents }

func (r *Registry) Refunds() repositories.RefundRepository { return r.refunds }

func (r *Registry) Labels() repositories.LabelRepository { return r.labels }

func (r *Registry) LabelRefunds() repositories.LabelRefundRepository { return r.labelRefunds }

func (r *Registry) Wallet() repositories.WalletRepository { return r.wallet }

func (r *Registry) WebhookEvents() repositories.WebhookEventRepository { return r.webhookEvents }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
