package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tradepost/api/internal/domain"
	"github.com/tradepost/api/internal/payments"
	"github.com/tradepost/api/internal/repositories"
)

const paymentIDPrefix = "pay_"

// errEventAlreadyProcessed aborts the webhook transaction when the event id or
// intent was applied before. Surfaced to the caller as a logged no-op.
var errEventAlreadyProcessed = errors.New("payment: event already processed")

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders        repositories.OrderRepository
	Products      repositories.ProductRepository
	Intents       repositories.PaymentIntentRepository
	WebhookEvents repositories.WebhookEventRepository
	UnitOfWork    repositories.UnitOfWork
	Processor     PaymentProcessor
	Events        OrderEventPublisher
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders        repositories.OrderRepository
	products      repositories.ProductRepository
	intents       repositories.PaymentIntentRepository
	webhookEvents repositories.WebhookEventRepository
	unitOfWork    repositories.UnitOfWork
	processor     PaymentProcessor
	events        OrderEventPublisher
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Intents == nil {
		return nil, errors.New("payment service: payment intent repository is required")
	}
	if deps.WebhookEvents == nil {
		return nil, errors.New("payment service: webhook event repository is required")
	}
	if deps.Processor == nil {
		return nil, errors.New("payment service: payment processor is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return strings.ToLower(ulid.Make().String())
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		orders:        deps.Orders,
		products:      deps.Products,
		intents:       deps.Intents,
		webhookEvents: deps.WebhookEvents,
		unitOfWork:    unit,
		processor:     deps.Processor,
		events:        deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *paymentService) CreateIntent(ctx context.Context, cmd CreateIntentCommand) (PaymentRecord, error) {
	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return PaymentRecord{}, translateRepoError("payment.load order", err)
	}

	amount, err := stageAmount(order, cmd.Stage)
	if err != nil {
		return PaymentRecord{}, err
	}

	details, err := s.processor.CreateIntent(ctx, payments.PaymentContext{Currency: order.Currency}, payments.IntentRequest{
		Amount:         amount,
		Currency:       order.Currency,
		OrderID:        order.ID,
		Stage:          string(cmd.Stage),
		CustomerEmail:  order.CustomerEmail,
		Description:    fmt.Sprintf("Order %s %s payment", order.OrderNumber, cmd.Stage),
		IdempotencyKey: order.ID + "|" + string(cmd.Stage),
	})
	if err != nil {
		s.logger(ctx, "payment_intent_create_failed", map[string]any{"orderId": order.ID, "stage": string(cmd.Stage), "amount": amount, "error": err.Error()})
		return PaymentRecord{}, fmt.Errorf("%w: create intent: %v", ErrExternalService, err)
	}

	now := s.clock()
	record := PaymentRecord{
		ID:        paymentIDPrefix + s.newID(),
		OrderID:   order.ID,
		Provider:  details.Provider,
		IntentID:  details.IntentID,
		Stage:     cmd.Stage,
		Status:    string(details.Status),
		Amount:    amount,
		Currency:  order.Currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.intents.Insert(ctx, record); err != nil {
		return PaymentRecord{}, translateRepoError("payment.insert record", err)
	}
	return record, nil
}

func (s *paymentService) CreateBalanceLink(ctx context.Context, cmd BalancePaymentCommand) (BalancePaymentLink, error) {
	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return BalancePaymentLink{}, translateRepoError("payment.load order", err)
	}
	if order.PaymentStatus != domain.PaymentStatusDepositPaid || order.RemainingBalance <= 0 {
		return BalancePaymentLink{}, fmt.Errorf("%w: balance payment requires a paid deposit and an outstanding balance", ErrConflict)
	}

	session, err := s.processor.CreateCheckoutSession(ctx, payments.PaymentContext{Currency: order.Currency}, payments.CheckoutSessionRequest{
		Amount:         order.RemainingBalance,
		Currency:       order.Currency,
		OrderID:        order.ID,
		Stage:          string(domain.PaymentStageBalance),
		CustomerEmail:  order.CustomerEmail,
		SuccessURL:     cmd.SuccessURL,
		CancelURL:      cmd.CancelURL,
		IdempotencyKey: order.ID + "|balance_link",
		Items: []payments.CheckoutLineItem{{
			Name:     fmt.Sprintf("Balance for order %s", order.OrderNumber),
			Quantity: 1,
			Amount:   order.RemainingBalance,
			Currency: order.Currency,
		}},
	})
	if err != nil {
		s.logger(ctx, "balance_link_create_failed", map[string]any{"orderId": order.ID, "amount": order.RemainingBalance, "error": err.Error()})
		return BalancePaymentLink{}, fmt.Errorf("%w: create checkout session: %v", ErrExternalService, err)
	}

	return BalancePaymentLink{
		OrderID:   order.ID,
		Amount:    order.RemainingBalance,
		Currency:  order.Currency,
		URL:       session.RedirectURL,
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (s *paymentService) HandleWebhookEvent(ctx context.Context, event payments.WebhookEvent) error {
	switch event.Type {
	case payments.WebhookPaymentSucceeded:
		return s.applyCapture(ctx, event)
	case payments.WebhookPaymentFailed:
		return s.markFailed(ctx, event)
	case payments.WebhookRefundUpdated:
		// Refunds are executed synchronously by the refund flow; the
		// processor echo carries nothing new to apply.
		s.logger(ctx, "payment_refund_event_observed", map[string]any{"eventId": event.ID, "intentId": event.IntentID})
		return nil
	default:
		s.logger(ctx, "payment_event_ignored", map[string]any{"eventId": event.ID, "type": event.Type})
		return nil
	}
}

// applyCapture folds a successful processor charge into the order atomically.
// Dedupe is double layered: the event id is recorded with a create-only write,
// and a mirror record already marked succeeded for the same intent short
// circuits reconciliation replays that carry a different event id.
func (s *paymentService) applyCapture(ctx context.Context, event payments.WebhookEvent) error {
	orderID, err := s.resolveOrderID(ctx, event)
	if err != nil {
		s.logger(ctx, "payment_event_unknown_order", map[string]any{"eventId": event.ID, "intentId": event.IntentID})
		return nil
	}

	var (
		updated     Order
		firstCharge bool
		fullyPaid   bool
	)
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return translateRepoError("payment.load order", err)
		}

		record, haveRecord := s.findRecord(txCtx, event.IntentID)
		if haveRecord && record.Status == string(payments.StatusSucceeded) {
			return errEventAlreadyProcessed
		}

		amount := event.Amount
		if amount <= 0 {
			amount = order.RemainingBalance
		}
		if amount > order.RemainingBalance {
			amount = order.RemainingBalance
		}

		firstCharge = order.AmountPaid == 0
		var stockUpdates []Product
		if firstCharge && s.products != nil {
			stockUpdates, err = s.decrementedProducts(txCtx, order)
			if err != nil {
				return err
			}
		}

		now := s.clock()
		order.AmountPaid += amount
		order.RemainingBalance = order.Total - order.AmountPaid
		if order.RemainingBalance < 0 {
			order.RemainingBalance = 0
		}
		if order.RemainingBalance == 0 {
			order.PaymentStatus = domain.PaymentStatusFullyPaid
			order.PaidAt = &now
		} else {
			order.PaymentStatus = domain.PaymentStatusDepositPaid
		}
		order.UpdatedAt = now
		fullyPaid = order.PaymentStatus == domain.PaymentStatusFullyPaid

		// Writes begin here; the event record doubles as the dedupe guard
		// because a replayed id fails the create with a conflict.
		if err := s.webhookEvents.Record(txCtx, domain.WebhookEvent{
			ID:         event.ID,
			Provider:   event.Provider,
			Type:       event.Type,
			OrderID:    order.ID,
			ReceivedAt: now,
		}); err != nil {
			if repositories.IsConflict(err) {
				return errEventAlreadyProcessed
			}
			return translateRepoError("payment.record event", err)
		}

		if haveRecord {
			record.Status = string(payments.StatusSucceeded)
			record.EventID = event.ID
			record.UpdatedAt = now
			if err := s.intents.Update(txCtx, record); err != nil {
				return translateRepoError("payment.update record", err)
			}
		} else {
			record = PaymentRecord{
				ID:        paymentIDPrefix + s.newID(),
				OrderID:   order.ID,
				Provider:  event.Provider,
				IntentID:  event.IntentID,
				Stage:     domain.PaymentStage(event.Stage),
				Status:    string(payments.StatusSucceeded),
				Amount:    amount,
				Currency:  order.Currency,
				EventID:   event.ID,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.intents.Insert(txCtx, record); err != nil {
				return translateRepoError("payment.insert record", err)
			}
		}

		for _, product := range stockUpdates {
			if err := s.products.Update(txCtx, product); err != nil {
				return translateRepoError("payment.update stock", err)
			}
		}

		if err := s.orders.Update(txCtx, order); err != nil {
			return translateRepoError("payment.update order", err)
		}
		updated = order
		return nil
	})
	if err != nil {
		if errors.Is(err, errEventAlreadyProcessed) || errors.Is(err, ErrConflict) {
			s.logger(ctx, "payment_event_duplicate", map[string]any{"eventId": event.ID, "orderId": orderID})
			return nil
		}
		return err
	}

	eventName := EventOrderDepositPaid
	if fullyPaid {
		eventName = EventOrderFullyPaid
	}
	s.publishEvent(ctx, OrderEventMessage{
		Event:      eventName,
		OrderID:    updated.ID,
		SellerID:   updated.SellerID,
		OccurredAt: updated.UpdatedAt,
		Payload:    map[string]any{"amountPaid": updated.AmountPaid, "remainingBalance": updated.RemainingBalance, "firstCharge": firstCharge},
	})
	s.logger(ctx, "payment_captured", map[string]any{"orderId": updated.ID, "eventId": event.ID, "amountPaid": updated.AmountPaid})
	return nil
}

func (s *paymentService) markFailed(ctx context.Context, event payments.WebhookEvent) error {
	record, ok := s.findRecord(ctx, event.IntentID)
	if !ok {
		s.logger(ctx, "payment_failed_unknown_intent", map[string]any{"eventId": event.ID, "intentId": event.IntentID})
		return nil
	}
	if record.Status == string(payments.StatusSucceeded) {
		s.logger(ctx, "payment_failed_after_success_ignored", map[string]any{"eventId": event.ID, "intentId": event.IntentID})
		return nil
	}

	record.Status = string(payments.StatusFailed)
	record.EventID = event.ID
	record.UpdatedAt = s.clock()
	if err := s.intents.Update(ctx, record); err != nil {
		return translateRepoError("payment.update record", err)
	}
	s.logger(ctx, "payment_failed", map[string]any{"orderId": record.OrderID, "intentId": event.IntentID})
	return nil
}

func (s *paymentService) ListPayments(ctx context.Context, orderID string) ([]PaymentRecord, error) {
	records, err := s.intents.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, translateRepoError("payment.list", err)
	}
	return records, nil
}

// Reconcile sweeps intents still marked pending locally and replays any the
// processor reports as captured. Webhook redelivery remains the primary path;
// this covers the window where a confirmation was delivered but the local
// commit failed.
func (s *paymentService) Reconcile(ctx context.Context, limit int) (ReconcileReport, error) {
	pending, err := s.intents.ListPending(ctx, limit)
	if err != nil {
		return ReconcileReport{}, translateRepoError("payment.list pending", err)
	}

	report := ReconcileReport{Scanned: len(pending)}
	for _, record := range pending {
		details, err := s.processor.LookupPayment(ctx, payments.PaymentContext{PreferredProvider: record.Provider, Currency: record.Currency}, payments.LookupRequest{IntentID: record.IntentID})
		if err != nil {
			report.Failed++
			s.logger(ctx, "payment_reconcile_lookup_failed", map[string]any{"intentId": record.IntentID, "error": err.Error()})
			continue
		}

		switch details.Status {
		case payments.StatusSucceeded:
			synthetic := payments.WebhookEvent{
				ID:       "recon_" + record.IntentID,
				Provider: record.Provider,
				Type:     payments.WebhookPaymentSucceeded,
				IntentID: record.IntentID,
				OrderID:  record.OrderID,
				Stage:    string(record.Stage),
				Amount:   details.Amount,
				Currency: details.Currency,
			}
			if err := s.applyCapture(ctx, synthetic); err != nil {
				report.Failed++
				s.logger(ctx, "payment_reconcile_apply_failed", map[string]any{"intentId": record.IntentID, "error": err.Error()})
				continue
			}
			report.Resolved++
		case payments.StatusFailed:
			record.Status = string(payments.StatusFailed)
			record.UpdatedAt = s.clock()
			if err := s.intents.Update(ctx, record); err != nil {
				report.Failed++
				continue
			}
			report.Resolved++
		}
	}
	return report, nil
}

func (s *paymentService) resolveOrderID(ctx context.Context, event payments.WebhookEvent) (string, error) {
	if id := strings.TrimSpace(event.OrderID); id != "" {
		return id, nil
	}
	record, ok := s.findRecord(ctx, event.IntentID)
	if !ok {
		return "", fmt.Errorf("%w: no order for intent %s", ErrNotFound, event.IntentID)
	}
	return record.OrderID, nil
}

func (s *paymentService) findRecord(ctx context.Context, intentID string) (PaymentRecord, bool) {
	if strings.TrimSpace(intentID) == "" {
		return PaymentRecord{}, false
	}
	record, err := s.intents.FindByIntentID(ctx, intentID)
	if err != nil {
		return PaymentRecord{}, false
	}
	return record, true
}

// decrementedProducts reads every product on the order and returns copies with
// stock reduced by the purchased quantities. Reads happen here, before any
// transaction write.
func (s *paymentService) decrementedProducts(ctx context.Context, order Order) ([]Product, error) {
	byProduct := make(map[string][]domain.OrderItem)
	for _, item := range order.Items {
		if !requiresStock(item.Type) {
			continue
		}
		byProduct[item.ProductID] = append(byProduct[item.ProductID], item)
	}

	updates := make([]Product, 0, len(byProduct))
	for productID, items := range byProduct {
		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			if repositories.IsNotFound(err) {
				continue
			}
			return nil, translateRepoError("payment.load product", err)
		}
		for _, item := range items {
			if item.VariantID != "" {
				for i := range product.Variants {
					if product.Variants[i].ID == item.VariantID {
						product.Variants[i].Stock -= item.Quantity
						if product.Variants[i].Stock < 0 {
							product.Variants[i].Stock = 0
						}
					}
				}
				continue
			}
			product.Stock -= item.Quantity
			if product.Stock < 0 {
				product.Stock = 0
			}
		}
		updates = append(updates, product)
	}
	return updates, nil
}

func (s *paymentService) publishEvent(ctx context.Context, event OrderEventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{"event": event.Event, "orderId": event.OrderID, "error": err.Error()})
	}
}

func stageAmount(order Order, stage PaymentStage) (int64, error) {
	switch stage {
	case domain.PaymentStageDeposit:
		if order.PaymentType != domain.PaymentTypeDeposit || order.PaymentStatus != domain.PaymentStatusPending {
			return 0, fmt.Errorf("%w: order %s does not accept a deposit charge", ErrConflict, order.ID)
		}
		return order.DepositAmount, nil
	case domain.PaymentStageFull:
		if order.PaymentType != domain.PaymentTypeFull || order.PaymentStatus != domain.PaymentStatusPending {
			return 0, fmt.Errorf("%w: order %s does not accept a full charge", ErrConflict, order.ID)
		}
		return order.Total, nil
	case domain.PaymentStageBalance:
		if order.PaymentStatus != domain.PaymentStatusDepositPaid || order.RemainingBalance <= 0 {
			return 0, fmt.Errorf("%w: order %s has no balance due", ErrConflict, order.ID)
		}
		return order.RemainingBalance, nil
	default:
		return 0, fmt.Errorf("%w: unknown payment stage %q", ErrValidation, stage)
	}
}

