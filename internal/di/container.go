package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tradepost/api/internal/platform/config"
	"github.com/tradepost/api/internal/repositories"
	"github.com/tradepost/api/internal/services"
	"github.com/tradepost/api/internal/shipping"
	"github.com/tradepost/api/internal/tax"
)

// External collects adapters that live outside the repository registry:
// payment processors, the shipping carrier, tax estimation, and the event
// publisher. Tests can substitute fakes here without touching persistence.
type External struct {
	Processor services.PaymentProcessor
	Carrier   shipping.Carrier
	Tax       services.TaxEstimator
	Events    services.OrderEventPublisher
	Build     services.BuildInfo
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Validator services.CartValidator
	Orders    services.OrderService
	Payments  services.PaymentService
	Refunds   services.RefundService
	Labels    services.LabelService
	Wallet    services.WalletService
	Counters  services.CounterService
	System    services.SystemService
}

// Container wires repositories, services, and external adapters for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries and fakes.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, ext External) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, cfg, reg, ext)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, ext External) (Services, error) {
	var svc Services

	if ext.Processor == nil {
		return Services{}, errors.New("payment processor is required")
	}
	if ext.Carrier == nil {
		return Services{}, errors.New("shipping carrier is required")
	}

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            time.Now,
			Build:            ext.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	validator, err := services.NewCartValidator(services.CartValidatorDeps{
		Products: reg.Products(),
		Logger:   ext.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart validator: %w", err)
	}
	svc.Validator = validator

	// Without live carrier rates the resolver prices from seller zones only.
	rateCarrier := ext.Carrier
	if !cfg.Features.EnableCarrierRates {
		rateCarrier = nil
	}
	resolver, err := services.NewShippingResolver(services.ShippingResolverDeps{
		Carrier: rateCarrier,
		Logger:  ext.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build shipping resolver: %w", err)
	}

	estimator := ext.Tax
	if estimator == nil {
		estimator, err = buildTaxEstimator(cfg.Tax, cfg.Features.EnableLiveTax)
		if err != nil {
			return Services{}, fmt.Errorf("build tax estimator: %w", err)
		}
	}

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:        reg.Orders(),
		Products:      reg.Products(),
		Intents:       reg.PaymentIntents(),
		WebhookEvents: reg.WebhookEvents(),
		UnitOfWork:    reg,
		Processor:     ext.Processor,
		Events:        ext.Events,
		Clock:         time.Now,
		Logger:        ext.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}
	svc.Payments = paymentSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Sellers:    reg.Sellers(),
		Products:   reg.Products(),
		Orders:     reg.Orders(),
		Validator:  validator,
		Shipping:   resolver,
		Tax:        estimator,
		Pricing:    services.NewPricingCalculator(),
		Counters:   counterSvc,
		Payments:   paymentSvc,
		UnitOfWork: reg,
		Events:     ext.Events,
		Clock:      time.Now,
		Logger:     ext.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	refundSvc, err := services.NewRefundService(services.RefundServiceDeps{
		Orders:     reg.Orders(),
		Refunds:    reg.Refunds(),
		Intents:    reg.PaymentIntents(),
		UnitOfWork: reg,
		Processor:  ext.Processor,
		Events:     ext.Events,
		Clock:      time.Now,
		Logger:     ext.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build refund service: %w", err)
	}
	svc.Refunds = refundSvc

	labelSvc, err := services.NewLabelService(services.LabelServiceDeps{
		Orders:       reg.Orders(),
		Sellers:      reg.Sellers(),
		Labels:       reg.Labels(),
		LabelRefunds: reg.LabelRefunds(),
		Wallet:       reg.Wallet(),
		UnitOfWork:   reg,
		Carrier:      ext.Carrier,
		Events:       ext.Events,
		Policy:       cfg.Labels,
		Clock:        time.Now,
		Logger:       ext.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build label service: %w", err)
	}
	svc.Labels = labelSvc

	walletSvc, err := services.NewWalletService(services.WalletServiceDeps{
		Sellers:  reg.Sellers(),
		Wallet:   reg.Wallet(),
		Currency: cfg.Labels.Currency,
		Clock:    time.Now,
		Logger:   ext.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build wallet service: %w", err)
	}
	svc.Wallet = walletSvc

	return svc, nil
}

// buildTaxEstimator prefers the external tax service when an endpoint is
// configured and keeps the static table as the outage fallback.
func buildTaxEstimator(cfg config.TaxConfig, live bool) (services.TaxEstimator, error) {
	if !live || strings.TrimSpace(cfg.Endpoint) == "" {
		return tax.NewStaticCalculator(), nil
	}
	return tax.NewHTTPCalculator(cfg, tax.NewStaticCalculator())
}
