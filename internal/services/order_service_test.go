package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/tradepost/api/internal/domain"
	"github.com/tradepost/api/internal/payments"
	"github.com/tradepost/api/internal/repositories"
)

type taxStub struct {
	estimateFunc func(ctx context.Context, amount int64, currency string, destination Address) (int64, error)
}

func (s *taxStub) Estimate(ctx context.Context, amount int64, currency string, destination Address) (int64, error) {
	return s.estimateFunc(ctx, amount, currency, destination)
}

type stubPaymentService struct {
	balanceLinkFunc func(ctx context.Context, cmd BalancePaymentCommand) (BalancePaymentLink, error)
}

func (s *stubPaymentService) CreateIntent(ctx context.Context, cmd CreateIntentCommand) (PaymentRecord, error) {
	return PaymentRecord{}, errors.New("not implemented")
}

func (s *stubPaymentService) CreateBalanceLink(ctx context.Context, cmd BalancePaymentCommand) (BalancePaymentLink, error) {
	return s.balanceLinkFunc(ctx, cmd)
}

func (s *stubPaymentService) HandleWebhookEvent(ctx context.Context, event payments.WebhookEvent) error {
	return errors.New("not implemented")
}

func (s *stubPaymentService) ListPayments(ctx context.Context, orderID string) ([]PaymentRecord, error) {
	return nil, errors.New("not implemented")
}

func (s *stubPaymentService) Reconcile(ctx context.Context, limit int) (ReconcileReport, error) {
	return ReconcileReport{}, errors.New("not implemented")
}

type orderServiceFixture struct {
	products  *stubProductRepository
	sellers   *stubSellerRepository
	orders    *stubOrderRepository
	publisher *recordingPublisher
	now       time.Time
	inserted  []domain.Order
	updated   []domain.Order
}

func newOrderServiceFixture(t *testing.T) *orderServiceFixture {
	t.Helper()
	f := &orderServiceFixture{
		publisher: &recordingPublisher{},
		now:       time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
	}

	catalog := map[string]domain.Product{
		"prod-1": {
			ID: "prod-1", SellerID: "seller-1", Name: "Mug", Type: domain.ProductTypeInStock,
			Price: 5000, Currency: "usd", Stock: 10, Active: true, WeightGrams: 400,
		},
	}
	f.products = &stubProductRepository{
		findFunc: func(ctx context.Context, id string) (domain.Product, error) {
			p, ok := catalog[id]
			if !ok {
				return domain.Product{}, &repositoryErrorStub{notFound: true}
			}
			return p, nil
		},
		findManyFunc: func(ctx context.Context, ids []string) (map[string]domain.Product, error) {
			return catalog, nil
		},
	}
	f.sellers = &stubSellerRepository{
		findFunc: func(ctx context.Context, id string) (domain.Seller, error) {
			return domain.Seller{ID: "seller-1", Currency: "usd", FlatShippingRate: int64Ptr(1000)}, nil
		},
	}
	f.orders = &stubOrderRepository{
		insertFunc: func(ctx context.Context, order domain.Order) error {
			f.inserted = append(f.inserted, order)
			return nil
		},
		updateFunc: func(ctx context.Context, order domain.Order) error {
			f.updated = append(f.updated, order)
			return nil
		},
	}
	return f
}

func (f *orderServiceFixture) service(t *testing.T, payments PaymentService) OrderService {
	t.Helper()
	validator, err := NewCartValidator(CartValidatorDeps{Products: f.products})
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	resolver, err := NewShippingResolver(ShippingResolverDeps{})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	counters, err := NewCounterService(CounterServiceDeps{
		Repository: &stubCounterRepository{
			nextFunc: func(ctx context.Context, counterID string, step int64) (int64, error) {
				return 42, nil
			},
		},
		Clock: func() time.Time { return f.now },
	})
	if err != nil {
		t.Fatalf("counters: %v", err)
	}

	service, err := NewOrderService(OrderServiceDeps{
		Sellers:   f.sellers,
		Products:  f.products,
		Orders:    f.orders,
		Validator: validator,
		Shipping:  resolver,
		Tax: &taxStub{estimateFunc: func(ctx context.Context, amount int64, currency string, destination Address) (int64, error) {
			return 480, nil
		}},
		Pricing:     NewPricingCalculator(),
		Counters:    counters,
		Payments:    payments,
		Events:      f.publisher,
		Clock:       func() time.Time { return f.now },
		IDGenerator: sequentialIDs("id"),
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	return service
}

func testDestination() domain.Address {
	return domain.Address{Recipient: "Ada", Line1: "1 Main St", City: "Portland", PostalCode: "97201", Country: "US"}
}

func TestCreateOrderMatchesSummary(t *testing.T) {
	f := newOrderServiceFixture(t)
	service := f.service(t, nil)
	ctx := context.Background()
	lines := []CartLine{{ProductID: "prod-1", Quantity: 2}}

	summary, err := service.CalculateSummary(ctx, SummaryCommand{Lines: lines, Destination: testDestination()})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	order, err := service.CreateOrder(ctx, CreateOrderCommand{
		UserID:          "user-1",
		Lines:           lines,
		ShippingAddress: testDestination(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if order.Subtotal != summary.Pricing.Subtotal || order.Total != summary.Pricing.Total || order.TaxAmount != summary.Pricing.Tax {
		t.Fatalf("order pricing diverges from summary: order %+v summary %+v", order, summary.Pricing)
	}
	if order.Total != 10000+1000+480 {
		t.Fatalf("expected total 11480, got %d", order.Total)
	}
	if order.AmountPaid != 0 || order.RemainingBalance != order.Total {
		t.Fatalf("expected untouched balance, got paid=%d remaining=%d", order.AmountPaid, order.RemainingBalance)
	}
	if order.OrderNumber != "TP-2025-000042" {
		t.Fatalf("unexpected order number %q", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("unexpected initial statuses %s/%s", order.Status, order.PaymentStatus)
	}
	if len(f.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(f.inserted))
	}

	events := f.publisher.published()
	if len(events) != 1 || events[0].Event != EventOrderCreated {
		t.Fatalf("expected order.created event, got %+v", events)
	}
}

func TestCreateOrderGuestRequiresEmail(t *testing.T) {
	f := newOrderServiceFixture(t)
	service := f.service(t, nil)

	_, err := service.CreateOrder(context.Background(), CreateOrderCommand{
		Lines:           []CartLine{{ProductID: "prod-1", Quantity: 1}},
		ShippingAddress: testDestination(),
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateOrderStockRecheckConflict(t *testing.T) {
	f := newOrderServiceFixture(t)
	// Validation sees stock, the transactional re-read does not.
	calls := 0
	f.products.findFunc = func(ctx context.Context, id string) (domain.Product, error) {
		calls++
		return domain.Product{
			ID: "prod-1", SellerID: "seller-1", Type: domain.ProductTypeInStock,
			Price: 5000, Currency: "usd", Stock: 0, Active: true,
		}, nil
	}
	service := f.service(t, nil)

	_, err := service.CreateOrder(context.Background(), CreateOrderCommand{
		UserID:          "user-1",
		Lines:           []CartLine{{ProductID: "prod-1", Quantity: 1}},
		ShippingAddress: testDestination(),
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if calls == 0 {
		t.Fatalf("expected transactional stock re-read")
	}
	if len(f.inserted) != 0 {
		t.Fatalf("expected no insert after stock conflict")
	}
	if len(f.publisher.published()) != 0 {
		t.Fatalf("expected no events after failed create")
	}
}

func TestUpdateStatusDirectWrites(t *testing.T) {
	cases := []struct {
		name    string
		from    domain.OrderStatus
		to      domain.OrderStatus
		wantErr error
	}{
		{name: "pending to processing", from: domain.OrderStatusPending, to: domain.OrderStatusProcessing},
		{name: "processing to shipped", from: domain.OrderStatusProcessing, to: domain.OrderStatusShipped},
		{name: "shipped to delivered", from: domain.OrderStatusShipped, to: domain.OrderStatusDelivered},
		{name: "pending straight to shipped", from: domain.OrderStatusPending, to: domain.OrderStatusShipped},
		{name: "backwards correction", from: domain.OrderStatusShipped, to: domain.OrderStatusProcessing},
		{name: "delivered reopened", from: domain.OrderStatusDelivered, to: domain.OrderStatusProcessing},
		{name: "unknown status rejected", from: domain.OrderStatusPending, to: domain.OrderStatus("archived"), wantErr: ErrValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newOrderServiceFixture(t)
			f.orders.findFunc = func(ctx context.Context, id string) (domain.Order, error) {
				return domain.Order{ID: id, SellerID: "seller-1", Status: tc.from}, nil
			}
			service := f.service(t, nil)

			order, err := service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord-1", Status: tc.to})
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if order.Status != tc.to {
				t.Fatalf("expected status %s, got %s", tc.to, order.Status)
			}
			events := f.publisher.published()
			if len(events) != 1 || events[0].Event != EventOrderStatusChanged {
				t.Fatalf("expected status change event, got %+v", events)
			}
		})
	}
}

func TestUpdateStatusSetsTimestamps(t *testing.T) {
	f := newOrderServiceFixture(t)
	f.orders.findFunc = func(ctx context.Context, id string) (domain.Order, error) {
		return domain.Order{ID: id, Status: domain.OrderStatusProcessing}, nil
	}
	service := f.service(t, nil)

	order, err := service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{OrderID: "ord-1", Status: domain.OrderStatusShipped})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.ShippedAt == nil || !order.ShippedAt.Equal(f.now) {
		t.Fatalf("expected shippedAt %v, got %v", f.now, order.ShippedAt)
	}
}

func TestCancelOrder(t *testing.T) {
	f := newOrderServiceFixture(t)
	f.orders.findFunc = func(ctx context.Context, id string) (domain.Order, error) {
		return domain.Order{ID: id, SellerID: "seller-1", Status: domain.OrderStatusProcessing}, nil
	}
	service := f.service(t, nil)

	order, err := service.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID: "ord-1", Status: domain.OrderStatusCancelled, Reason: "buyer request",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}
	if order.CancelledAt == nil || order.CancelReason == nil || *order.CancelReason != "buyer request" {
		t.Fatalf("expected cancellation details, got %+v", order)
	}
	events := f.publisher.published()
	if len(events) != 1 || events[0].Event != EventOrderCancelled {
		t.Fatalf("expected order.cancelled event, got %+v", events)
	}
}

func TestCancelOrderIdempotent(t *testing.T) {
	f := newOrderServiceFixture(t)
	f.orders.findFunc = func(ctx context.Context, id string) (domain.Order, error) {
		return domain.Order{ID: id, Status: domain.OrderStatusCancelled}, nil
	}
	service := f.service(t, nil)

	order, err := service.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", order.Status)
	}
	if len(f.updated) != 0 {
		t.Fatalf("expected no write for already cancelled order")
	}
	if len(f.publisher.published()) != 0 {
		t.Fatalf("expected no event for already cancelled order")
	}
}

func TestCancelDeliveredOrderRejected(t *testing.T) {
	f := newOrderServiceFixture(t)
	f.orders.findFunc = func(ctx context.Context, id string) (domain.Order, error) {
		return domain.Order{ID: id, Status: domain.OrderStatusDelivered}, nil
	}
	service := f.service(t, nil)

	if _, err := service.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord-1"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestRequestBalancePayment(t *testing.T) {
	f := newOrderServiceFixture(t)
	f.orders.findFunc = func(ctx context.Context, id string) (domain.Order, error) {
		return domain.Order{
			ID: id, SellerID: "seller-1",
			PaymentStatus: domain.PaymentStatusDepositPaid, RemainingBalance: 145000, Currency: "USD",
		}, nil
	}
	payments := &stubPaymentService{
		balanceLinkFunc: func(ctx context.Context, cmd BalancePaymentCommand) (BalancePaymentLink, error) {
			return BalancePaymentLink{OrderID: cmd.OrderID, Amount: 145000, Currency: "USD", URL: "https://pay.example/s1"}, nil
		},
	}
	service := f.service(t, payments)

	link, err := service.RequestBalancePayment(context.Background(), BalancePaymentCommand{OrderID: "ord-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if link.Amount != 145000 || link.URL == "" {
		t.Fatalf("unexpected link %+v", link)
	}
	events := f.publisher.published()
	if len(events) != 1 || events[0].Event != EventOrderBalanceDue {
		t.Fatalf("expected balance due event, got %+v", events)
	}
}

func TestRequestBalancePaymentGuards(t *testing.T) {
	cases := []struct {
		name  string
		order domain.Order
	}{
		{name: "no deposit paid", order: domain.Order{PaymentStatus: domain.PaymentStatusPending, RemainingBalance: 100}},
		{name: "nothing outstanding", order: domain.Order{PaymentStatus: domain.PaymentStatusDepositPaid, RemainingBalance: 0}},
		{name: "fully paid", order: domain.Order{PaymentStatus: domain.PaymentStatusFullyPaid, RemainingBalance: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newOrderServiceFixture(t)
			f.orders.findFunc = func(ctx context.Context, id string) (domain.Order, error) {
				order := tc.order
				order.ID = id
				return order, nil
			}
			service := f.service(t, &stubPaymentService{})

			if _, err := service.RequestBalancePayment(context.Background(), BalancePaymentCommand{OrderID: "ord-1"}); !errors.Is(err, ErrConflict) {
				t.Fatalf("expected conflict, got %v", err)
			}
		})
	}
}

var _ repositories.UnitOfWork = noopUnitOfWork{}
