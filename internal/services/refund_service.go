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

const refundIDPrefix = "ref_"

// RefundServiceDeps bundles collaborators required to construct the refund service.
type RefundServiceDeps struct {
	Orders      repositories.OrderRepository
	Refunds     repositories.RefundRepository
	Intents     repositories.PaymentIntentRepository
	UnitOfWork  repositories.UnitOfWork
	Processor   PaymentProcessor
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type refundService struct {
	orders     repositories.OrderRepository
	refunds    repositories.RefundRepository
	intents    repositories.PaymentIntentRepository
	unitOfWork repositories.UnitOfWork
	processor  PaymentProcessor
	events     OrderEventPublisher
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewRefundService wires dependencies into a concrete RefundService implementation.
func NewRefundService(deps RefundServiceDeps) (RefundService, error) {
	if deps.Orders == nil {
		return nil, errors.New("refund service: order repository is required")
	}
	if deps.Refunds == nil {
		return nil, errors.New("refund service: refund repository is required")
	}
	if deps.Intents == nil {
		return nil, errors.New("refund service: payment intent repository is required")
	}
	if deps.Processor == nil {
		return nil, errors.New("refund service: payment processor is required")
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

	return &refundService{
		orders:     deps.Orders,
		refunds:    deps.Refunds,
		intents:    deps.Intents,
		unitOfWork: unit,
		processor:  deps.Processor,
		events:     deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// refundPlan is the computed allocation for one refund attempt.
type refundPlan struct {
	amount int64
	lines  []RefundLine
	full   bool
}

func (s *refundService) ProcessRefund(ctx context.Context, cmd RefundCommand) (Refund, error) {
	if !cmd.Full && len(cmd.Selections) == 0 {
		return Refund{}, fmt.Errorf("%w: refund requires item selections or the full flag", ErrValidation)
	}
	if cmd.Full && len(cmd.Selections) > 0 {
		return Refund{}, fmt.Errorf("%w: full refund cannot carry item selections", ErrValidation)
	}

	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return Refund{}, translateRepoError("refund.load order", err)
	}

	plan, err := buildRefundPlan(order, cmd)
	if err != nil {
		return Refund{}, err
	}

	// The processor refund runs before the ledger transaction, so a race
	// loser can move money at the processor and still fail the in-tx clamp
	// further down. The plan check above keeps that window small and the
	// idempotent processor keys make a retry safe; the conflict is logged,
	// not auto-reversed.
	providerRefundIDs, err := s.refundViaProcessor(ctx, order, plan.amount)
	if err != nil {
		return Refund{}, err
	}

	now := s.clock()
	refund := Refund{
		ID:                refundIDPrefix + s.newID(),
		OrderID:           order.ID,
		Amount:            plan.amount,
		Currency:          order.Currency,
		Status:            domain.RefundStatusSucceeded,
		Reason:            strings.TrimSpace(cmd.Reason),
		Full:              plan.full,
		Lines:             plan.lines,
		ProviderRefundIDs: providerRefundIDs,
		CreatedAt:         now,
	}

	var updated Order
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		fresh, err := s.orders.FindByID(txCtx, cmd.OrderID)
		if err != nil {
			return translateRepoError("refund.load order", err)
		}
		// Re-validate against the freshly read order: a racing refund that
		// committed first must fail this one rather than over-refund.
		if fresh.RefundedAmount+plan.amount > fresh.AmountPaid {
			return fmt.Errorf("%w: refund of %d exceeds refundable amount %d", ErrConflict, plan.amount, fresh.AmountPaid-fresh.RefundedAmount)
		}
		for _, line := range plan.lines {
			item, ok := fresh.Item(line.ItemID)
			if !ok {
				return fmt.Errorf("%w: order item %s", ErrNotFound, line.ItemID)
			}
			if line.Quantity > item.RemainingQuantity() {
				return fmt.Errorf("%w: item %s has %d refundable units, requested %d", ErrConflict, line.ItemID, item.RemainingQuantity(), line.Quantity)
			}
		}

		applyRefundToOrder(&fresh, plan, now)
		if err := s.refunds.Insert(txCtx, refund); err != nil {
			return translateRepoError("refund.insert", err)
		}
		if err := s.orders.Update(txCtx, fresh); err != nil {
			return translateRepoError("refund.update order", err)
		}
		updated = fresh
		return nil
	})
	if err != nil {
		// Processor money already moved; surface loudly for manual follow-up.
		s.logger(ctx, "refund_ledger_write_failed", map[string]any{"orderId": order.ID, "amount": plan.amount, "providerRefundIds": providerRefundIDs, "error": err.Error()})
		return Refund{}, err
	}

	if updated.PaymentStatus == domain.PaymentStatusRefunded {
		s.publishEvent(ctx, OrderEventMessage{
			Event:      EventOrderRefunded,
			OrderID:    updated.ID,
			SellerID:   updated.SellerID,
			OccurredAt: now,
			Payload:    map[string]any{"amount": plan.amount, "full": plan.full},
		})
	}
	s.logger(ctx, "refund_processed", map[string]any{"orderId": updated.ID, "refundId": refund.ID, "amount": plan.amount, "full": plan.full})
	return refund, nil
}

func (s *refundService) ListRefunds(ctx context.Context, orderID string) ([]Refund, error) {
	refunds, err := s.refunds.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, translateRepoError("refund.list", err)
	}
	return refunds, nil
}

// buildRefundPlan clamps the request against the order's refundable state.
func buildRefundPlan(order Order, cmd RefundCommand) (refundPlan, error) {
	refundable := order.AmountPaid - order.RefundedAmount
	if refundable <= 0 {
		return refundPlan{}, fmt.Errorf("%w: order %s has nothing left to refund", ErrConflict, order.ID)
	}

	if cmd.Full {
		lines := make([]RefundLine, 0, len(order.Items))
		for _, item := range order.Items {
			remaining := item.RemainingQuantity()
			if remaining <= 0 {
				continue
			}
			lines = append(lines, RefundLine{
				ItemID:   item.ID,
				Quantity: remaining,
				Amount:   item.UnitPrice * int64(remaining),
			})
		}
		return refundPlan{amount: refundable, lines: lines, full: true}, nil
	}

	seen := make(map[string]bool, len(cmd.Selections))
	lines := make([]RefundLine, 0, len(cmd.Selections))
	var total int64
	for _, selection := range cmd.Selections {
		if selection.Quantity <= 0 {
			return refundPlan{}, fmt.Errorf("%w: refund quantity must be positive", ErrValidation)
		}
		if seen[selection.ItemID] {
			return refundPlan{}, fmt.Errorf("%w: item %s selected twice", ErrValidation, selection.ItemID)
		}
		seen[selection.ItemID] = true

		item, ok := order.Item(selection.ItemID)
		if !ok {
			return refundPlan{}, fmt.Errorf("%w: order item %s", ErrNotFound, selection.ItemID)
		}
		if selection.Quantity > item.RemainingQuantity() {
			return refundPlan{}, fmt.Errorf("%w: item %s has %d refundable units, requested %d", ErrConflict, selection.ItemID, item.RemainingQuantity(), selection.Quantity)
		}

		amount := item.UnitPrice * int64(selection.Quantity)
		lines = append(lines, RefundLine{ItemID: selection.ItemID, Quantity: selection.Quantity, Amount: amount})
		total += amount
	}
	if total > refundable {
		return refundPlan{}, fmt.Errorf("%w: refund of %d exceeds refundable amount %d", ErrConflict, total, refundable)
	}
	return refundPlan{amount: total, lines: lines}, nil
}

// refundViaProcessor returns the captured amount newest intent first until the
// requested total is covered. Intent mirror rows record their RefundedAmount
// as each slice succeeds, so a sequence that fails midway leaves the mirrors
// reflecting what the processor actually refunded and a retry cannot refund
// the same slice twice. The order and Refund ledger stay untouched until the
// caller's transaction commits.
func (s *refundService) refundViaProcessor(ctx context.Context, order Order, amount int64) ([]string, error) {
	records, err := s.intents.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, translateRepoError("refund.list intents", err)
	}

	remaining := amount
	refundIDs := make([]string, 0, 2)
	for _, record := range records {
		if remaining <= 0 {
			break
		}
		if record.Status != string(payments.StatusSucceeded) {
			continue
		}
		slice := record.RefundableAmount()
		if slice <= 0 {
			continue
		}
		if slice > remaining {
			slice = remaining
		}

		sliceAmount := slice
		result, err := s.processor.Refund(ctx, payments.PaymentContext{PreferredProvider: record.Provider, Currency: order.Currency}, payments.RefundRequest{
			IntentID:       record.IntentID,
			Amount:         &sliceAmount,
			IdempotencyKey: record.IntentID + "|refund|" + s.newID(),
		})
		if err != nil {
			s.logger(ctx, "refund_processor_failed", map[string]any{"orderId": order.ID, "intentId": record.IntentID, "amount": sliceAmount, "error": err.Error()})
			return nil, fmt.Errorf("%w: processor refund: %v", ErrExternalService, err)
		}
		if result.Status == payments.StatusFailed {
			return nil, fmt.Errorf("%w: processor rejected refund for intent %s", ErrExternalService, record.IntentID)
		}

		refundIDs = append(refundIDs, result.RefundID)
		record.RefundedAmount += sliceAmount
		record.UpdatedAt = s.clock()
		if err := s.intents.Update(ctx, record); err != nil {
			s.logger(ctx, "refund_intent_update_failed", map[string]any{"intentId": record.IntentID, "error": err.Error()})
		}
		remaining -= sliceAmount
	}

	if remaining > 0 {
		return nil, fmt.Errorf("%w: captured intents cover only %d of %d", ErrConflict, amount-remaining, amount)
	}
	return refundIDs, nil
}

// applyRefundToOrder mutates the fresh order copy inside the transaction.
func applyRefundToOrder(order *Order, plan refundPlan, now time.Time) {
	for _, line := range plan.lines {
		for i := range order.Items {
			if order.Items[i].ID != line.ItemID {
				continue
			}
			order.Items[i].RefundedQuantity += line.Quantity
			order.Items[i].RefundedAmount += line.Amount
			if order.Items[i].RefundedQuantity >= order.Items[i].Quantity {
				order.Items[i].Status = domain.ItemStatusRefunded
			} else {
				order.Items[i].Status = domain.ItemStatusPartiallyRefunded
			}
		}
	}

	order.RefundedAmount += plan.amount
	if order.RefundedAmount >= order.AmountPaid {
		order.PaymentStatus = domain.PaymentStatusRefunded
	}
	order.UpdatedAt = now
}

func (s *refundService) publishEvent(ctx context.Context, event OrderEventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{"event": event.Event, "orderId": event.OrderID, "error": err.Error()})
	}
}
