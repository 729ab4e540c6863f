package services

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/tradepost/api/internal/domain"
	"github.com/tradepost/api/internal/payments"
	"github.com/tradepost/api/internal/repositories"
	"github.com/tradepost/api/internal/shipping"
)

type repositoryErrorStub struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repositoryErrorStub) Error() string {
	switch {
	case e.notFound:
		return "stub: not found"
	case e.conflict:
		return "stub: conflict"
	case e.unavailable:
		return "stub: unavailable"
	default:
		return "stub: repository error"
	}
}

func (e *repositoryErrorStub) IsNotFound() bool    { return e.notFound }
func (e *repositoryErrorStub) IsConflict() bool    { return e.conflict }
func (e *repositoryErrorStub) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = (*repositoryErrorStub)(nil)

type stubSellerRepository struct {
	findFunc   func(ctx context.Context, sellerID string) (domain.Seller, error)
	upsertFunc func(ctx context.Context, seller domain.Seller) (domain.Seller, error)
}

func (s *stubSellerRepository) FindByID(ctx context.Context, sellerID string) (domain.Seller, error) {
	return s.findFunc(ctx, sellerID)
}

func (s *stubSellerRepository) Upsert(ctx context.Context, seller domain.Seller) (domain.Seller, error) {
	return s.upsertFunc(ctx, seller)
}

type stubProductRepository struct {
	findFunc     func(ctx context.Context, productID string) (domain.Product, error)
	findManyFunc func(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	updateFunc   func(ctx context.Context, product domain.Product) error
}

func (s *stubProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	return s.findFunc(ctx, productID)
}

func (s *stubProductRepository) FindMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	return s.findManyFunc(ctx, productIDs)
}

func (s *stubProductRepository) Update(ctx context.Context, product domain.Product) error {
	return s.updateFunc(ctx, product)
}

type stubOrderRepository struct {
	insertFunc func(ctx context.Context, order domain.Order) error
	updateFunc func(ctx context.Context, order domain.Order) error
	findFunc   func(ctx context.Context, orderID string) (domain.Order, error)
	listFunc   func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return s.insertFunc(ctx, order)
}

func (s *stubOrderRepository) Update(ctx context.Context, order domain.Order) error {
	return s.updateFunc(ctx, order)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return s.findFunc(ctx, orderID)
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return s.listFunc(ctx, filter)
}

type stubIntentRepository struct {
	insertFunc      func(ctx context.Context, record domain.PaymentRecord) error
	updateFunc      func(ctx context.Context, record domain.PaymentRecord) error
	findFunc        func(ctx context.Context, intentID string) (domain.PaymentRecord, error)
	listByOrderFunc func(ctx context.Context, orderID string) ([]domain.PaymentRecord, error)
	listPendingFunc func(ctx context.Context, limit int) ([]domain.PaymentRecord, error)
}

func (s *stubIntentRepository) Insert(ctx context.Context, record domain.PaymentRecord) error {
	return s.insertFunc(ctx, record)
}

func (s *stubIntentRepository) Update(ctx context.Context, record domain.PaymentRecord) error {
	return s.updateFunc(ctx, record)
}

func (s *stubIntentRepository) FindByIntentID(ctx context.Context, intentID string) (domain.PaymentRecord, error) {
	return s.findFunc(ctx, intentID)
}

func (s *stubIntentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.PaymentRecord, error) {
	return s.listByOrderFunc(ctx, orderID)
}

func (s *stubIntentRepository) ListPending(ctx context.Context, limit int) ([]domain.PaymentRecord, error) {
	return s.listPendingFunc(ctx, limit)
}

type stubRefundRepository struct {
	insertFunc func(ctx context.Context, refund domain.Refund) error
	listFunc   func(ctx context.Context, orderID string) ([]domain.Refund, error)
}

func (s *stubRefundRepository) Insert(ctx context.Context, refund domain.Refund) error {
	return s.insertFunc(ctx, refund)
}

func (s *stubRefundRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Refund, error) {
	return s.listFunc(ctx, orderID)
}

type stubLabelRepository struct {
	insertFunc       func(ctx context.Context, label domain.ShippingLabel) error
	updateFunc       func(ctx context.Context, label domain.ShippingLabel) error
	findFunc         func(ctx context.Context, labelID string) (domain.ShippingLabel, error)
	listByOrderFunc  func(ctx context.Context, orderID string) ([]domain.ShippingLabel, error)
	listBySellerFunc func(ctx context.Context, sellerID string, pager domain.Pagination) (domain.CursorPage[domain.ShippingLabel], error)
}

func (s *stubLabelRepository) Insert(ctx context.Context, label domain.ShippingLabel) error {
	return s.insertFunc(ctx, label)
}

func (s *stubLabelRepository) Update(ctx context.Context, label domain.ShippingLabel) error {
	return s.updateFunc(ctx, label)
}

func (s *stubLabelRepository) FindByID(ctx context.Context, labelID string) (domain.ShippingLabel, error) {
	return s.findFunc(ctx, labelID)
}

func (s *stubLabelRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.ShippingLabel, error) {
	return s.listByOrderFunc(ctx, orderID)
}

func (s *stubLabelRepository) ListBySeller(ctx context.Context, sellerID string, pager domain.Pagination) (domain.CursorPage[domain.ShippingLabel], error) {
	return s.listBySellerFunc(ctx, sellerID, pager)
}

type stubLabelRefundRepository struct {
	insertFunc      func(ctx context.Context, refund domain.LabelRefund) error
	updateFunc      func(ctx context.Context, refund domain.LabelRefund) error
	findFunc        func(ctx context.Context, refundID string) (domain.LabelRefund, error)
	findPendingFunc func(ctx context.Context, labelID string) (domain.LabelRefund, error)
	listPendingFunc func(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.LabelRefund], error)
}

func (s *stubLabelRefundRepository) Insert(ctx context.Context, refund domain.LabelRefund) error {
	return s.insertFunc(ctx, refund)
}

func (s *stubLabelRefundRepository) Update(ctx context.Context, refund domain.LabelRefund) error {
	return s.updateFunc(ctx, refund)
}

func (s *stubLabelRefundRepository) FindByID(ctx context.Context, refundID string) (domain.LabelRefund, error) {
	return s.findFunc(ctx, refundID)
}

func (s *stubLabelRefundRepository) FindPendingByLabel(ctx context.Context, labelID string) (domain.LabelRefund, error) {
	return s.findPendingFunc(ctx, labelID)
}

func (s *stubLabelRefundRepository) ListPending(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.LabelRefund], error) {
	return s.listPendingFunc(ctx, pager)
}

type stubWalletRepository struct {
	appendFunc  func(ctx context.Context, entry domain.WalletEntry) error
	balanceFunc func(ctx context.Context, sellerID string) (int64, error)
	listFunc    func(ctx context.Context, sellerID string, pager domain.Pagination) (domain.CursorPage[domain.WalletEntry], error)
}

func (s *stubWalletRepository) Append(ctx context.Context, entry domain.WalletEntry) error {
	return s.appendFunc(ctx, entry)
}

func (s *stubWalletRepository) Balance(ctx context.Context, sellerID string) (int64, error) {
	return s.balanceFunc(ctx, sellerID)
}

func (s *stubWalletRepository) List(ctx context.Context, sellerID string, pager domain.Pagination) (domain.CursorPage[domain.WalletEntry], error) {
	return s.listFunc(ctx, sellerID, pager)
}

type stubWebhookEventRepository struct {
	recordFunc func(ctx context.Context, event domain.WebhookEvent) error
	findFunc   func(ctx context.Context, eventID string) (domain.WebhookEvent, error)
}

func (s *stubWebhookEventRepository) Record(ctx context.Context, event domain.WebhookEvent) error {
	return s.recordFunc(ctx, event)
}

func (s *stubWebhookEventRepository) Find(ctx context.Context, eventID string) (domain.WebhookEvent, error) {
	return s.findFunc(ctx, eventID)
}

type stubCounterRepository struct {
	nextFunc      func(ctx context.Context, counterID string, step int64) (int64, error)
	configureFunc func(ctx context.Context, counterID string, cfg repositories.CounterConfig) error
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	return s.nextFunc(ctx, counterID, step)
}

func (s *stubCounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if s.configureFunc == nil {
		return nil
	}
	return s.configureFunc(ctx, counterID, cfg)
}

type stubCarrier struct {
	ratesFunc         func(ctx context.Context, req shipping.RateRequest) ([]shipping.Rate, error)
	purchaseFunc      func(ctx context.Context, req shipping.PurchaseRequest) (shipping.Label, error)
	requestRefundFunc func(ctx context.Context, req shipping.RefundRequest) (shipping.RefundOutcome, error)
	refundStatusFunc  func(ctx context.Context, refundID string) (shipping.RefundOutcome, error)
}

func (s *stubCarrier) Rates(ctx context.Context, req shipping.RateRequest) ([]shipping.Rate, error) {
	return s.ratesFunc(ctx, req)
}

func (s *stubCarrier) Purchase(ctx context.Context, req shipping.PurchaseRequest) (shipping.Label, error) {
	return s.purchaseFunc(ctx, req)
}

func (s *stubCarrier) RequestRefund(ctx context.Context, req shipping.RefundRequest) (shipping.RefundOutcome, error) {
	return s.requestRefundFunc(ctx, req)
}

func (s *stubCarrier) RefundStatus(ctx context.Context, refundID string) (shipping.RefundOutcome, error) {
	return s.refundStatusFunc(ctx, refundID)
}

type stubPaymentProcessor struct {
	createIntentFunc func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.PaymentDetails, error)
	checkoutFunc     func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	refundFunc       func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.RefundResult, error)
	lookupFunc       func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

func (s *stubPaymentProcessor) CreateIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.IntentRequest) (payments.PaymentDetails, error) {
	return s.createIntentFunc(ctx, paymentCtx, req)
}

func (s *stubPaymentProcessor) CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	return s.checkoutFunc(ctx, paymentCtx, req)
}

func (s *stubPaymentProcessor) Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.RefundResult, error) {
	return s.refundFunc(ctx, paymentCtx, req)
}

func (s *stubPaymentProcessor) LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error) {
	return s.lookupFunc(ctx, paymentCtx, req)
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEventMessage
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(ctx context.Context, event OrderEventMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, event)
	return "msg-" + event.Event, nil
}

func (p *recordingPublisher) published() []OrderEventMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OrderEventMessage, len(p.events))
	copy(out, p.events)
	return out
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}
