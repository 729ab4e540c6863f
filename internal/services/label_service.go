package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tradepost/api/internal/domain"
	config "github.com/tradepost/api/internal/platform/config"
	"github.com/tradepost/api/internal/repositories"
	"github.com/tradepost/api/internal/shipping"
)

const (
	labelIDPrefix       = "lbl_"
	labelRefundIDPrefix = "lrf_"
	walletEntryIDPrefix = "wle_"
)

// LabelServiceDeps bundles collaborators required to construct the label service.
type LabelServiceDeps struct {
	Orders       repositories.OrderRepository
	Sellers      repositories.SellerRepository
	Labels       repositories.LabelRepository
	LabelRefunds repositories.LabelRefundRepository
	Wallet       repositories.WalletRepository
	UnitOfWork   repositories.UnitOfWork
	Carrier      shipping.Carrier
	Events       OrderEventPublisher
	Policy       config.LabelConfig
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type labelService struct {
	orders       repositories.OrderRepository
	sellers      repositories.SellerRepository
	labels       repositories.LabelRepository
	labelRefunds repositories.LabelRefundRepository
	wallet       repositories.WalletRepository
	unitOfWork   repositories.UnitOfWork
	carrier      shipping.Carrier
	events       OrderEventPublisher
	policy       config.LabelConfig
	clock        func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

// NewLabelService wires dependencies into a concrete LabelService implementation.
func NewLabelService(deps LabelServiceDeps) (LabelService, error) {
	if deps.Orders == nil {
		return nil, errors.New("label service: order repository is required")
	}
	if deps.Sellers == nil {
		return nil, errors.New("label service: seller repository is required")
	}
	if deps.Labels == nil {
		return nil, errors.New("label service: label repository is required")
	}
	if deps.LabelRefunds == nil {
		return nil, errors.New("label service: label refund repository is required")
	}
	if deps.Wallet == nil {
		return nil, errors.New("label service: wallet repository is required")
	}
	if deps.Carrier == nil {
		return nil, errors.New("label service: carrier is required")
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

	return &labelService{
		orders:       deps.Orders,
		sellers:      deps.Sellers,
		labels:       deps.Labels,
		labelRefunds: deps.LabelRefunds,
		wallet:       deps.Wallet,
		unitOfWork:   unit,
		carrier:      deps.Carrier,
		events:       deps.Events,
		policy:       deps.Policy,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *labelService) Purchase(ctx context.Context, cmd PurchaseLabelCommand) (ShippingLabel, error) {
	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return ShippingLabel{}, translateRepoError("label.load order", err)
	}
	if cmd.SellerID != "" && order.SellerID != cmd.SellerID {
		return ShippingLabel{}, fmt.Errorf("%w: order %s", ErrNotFound, cmd.OrderID)
	}
	if order.Status == domain.OrderStatusCancelled {
		return ShippingLabel{}, fmt.Errorf("%w: cancelled orders cannot be labelled", ErrConflict)
	}

	seller, err := s.sellers.FindByID(ctx, order.SellerID)
	if err != nil {
		return ShippingLabel{}, translateRepoError("label.load seller", err)
	}
	warehouse, ok := seller.Warehouse(cmd.WarehouseAddressID)
	if !ok {
		return ShippingLabel{}, fmt.Errorf("%w: warehouse address %s", ErrNotFound, cmd.WarehouseAddressID)
	}

	weight := 0
	for _, item := range order.Items {
		weight += item.WeightGrams * item.Quantity
	}
	rates, err := s.carrier.Rates(ctx, shipping.RateRequest{
		From:   warehouse.Address,
		To:     order.ShippingAddress,
		Parcel: shipping.Parcel{WeightGrams: weight},
	})
	if err != nil {
		if err == shipping.ErrNoRates {
			return ShippingLabel{}, fmt.Errorf("%w: carrier offers no rates for this shipment", ErrValidation)
		}
		return ShippingLabel{}, fmt.Errorf("%w: carrier rates: %v", ErrExternalService, err)
	}
	rate := rates[0]
	for _, candidate := range rates[1:] {
		if candidate.Amount < rate.Amount {
			rate = candidate
		}
	}

	totalCharged := rate.Amount + domain.ApplyPercent(rate.Amount, s.policy.MarkupPercent)

	// Pre-check before paying the carrier so an obviously underfunded wallet
	// never triggers an external purchase.
	balance, err := s.wallet.Balance(ctx, seller.ID)
	if err != nil {
		return ShippingLabel{}, translateRepoError("label.wallet balance", err)
	}
	if balance-totalCharged < s.policy.MinBalance {
		return ShippingLabel{}, fmt.Errorf("%w: wallet balance %d cannot cover label charge %d", ErrInsufficientFunds, balance, totalCharged)
	}

	purchased, err := s.carrier.Purchase(ctx, shipping.PurchaseRequest{RateObjectID: rate.ObjectID})
	if err != nil {
		s.logger(ctx, "label_purchase_failed", map[string]any{"orderId": order.ID, "sellerId": seller.ID, "error": err.Error()})
		return ShippingLabel{}, fmt.Errorf("%w: carrier purchase: %v", ErrExternalService, err)
	}

	now := s.clock()
	label := ShippingLabel{
		ID:                   labelIDPrefix + s.newID(),
		OrderID:              order.ID,
		SellerID:             seller.ID,
		Carrier:              purchased.Carrier,
		Service:              purchased.Service,
		TrackingNumber:       purchased.TrackingNumber,
		LabelURL:             purchased.LabelURL,
		CarrierTransactionID: purchased.TransactionID,
		BaseCost:             purchased.Amount,
		MarkupPercent:        s.policy.MarkupPercent,
		TotalCharged:         purchased.Amount + domain.ApplyPercent(purchased.Amount, s.policy.MarkupPercent),
		Currency:             s.policy.Currency,
		Status:               domain.LabelStatusPurchased,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		// Re-read the ledger inside the transaction: a racing purchase must
		// not drive the balance under the floor.
		current, err := s.wallet.Balance(txCtx, seller.ID)
		if err != nil {
			return translateRepoError("label.wallet balance", err)
		}
		if current-label.TotalCharged < s.policy.MinBalance {
			return fmt.Errorf("%w: wallet balance %d cannot cover label charge %d", ErrInsufficientFunds, current, label.TotalCharged)
		}

		if err := s.wallet.Append(txCtx, WalletEntry{
			ID:        walletEntryIDPrefix + s.newID(),
			SellerID:  seller.ID,
			Type:      domain.WalletEntryDebit,
			Amount:    label.TotalCharged,
			Currency:  label.Currency,
			Reference: label.ID,
			Note:      fmt.Sprintf("Label %s for order %s", label.TrackingNumber, order.OrderNumber),
			CreatedAt: now,
		}); err != nil {
			return translateRepoError("label.wallet debit", err)
		}
		return translateRepoError("label.insert", s.labels.Insert(txCtx, label))
	})
	if err != nil {
		// The carrier got paid but the debit failed; the void path reclaims it.
		s.logger(ctx, "label_debit_failed_after_purchase", map[string]any{"orderId": order.ID, "transactionId": purchased.TransactionID, "error": err.Error()})
		return ShippingLabel{}, err
	}

	s.publishEvent(ctx, OrderEventMessage{
		Event:      EventLabelPurchased,
		OrderID:    order.ID,
		SellerID:   seller.ID,
		LabelID:    label.ID,
		OccurredAt: now,
		Payload:    map[string]any{"trackingNumber": label.TrackingNumber, "totalCharged": label.TotalCharged},
	})
	s.logger(ctx, "label_purchased", map[string]any{"labelId": label.ID, "orderId": order.ID, "totalCharged": label.TotalCharged})
	return label, nil
}

func (s *labelService) Cancel(ctx context.Context, cmd CancelLabelCommand) (LabelCancelResult, error) {
	label, err := s.labels.FindByID(ctx, cmd.LabelID)
	if err != nil {
		return LabelCancelResult{}, translateRepoError("label.get", err)
	}
	if cmd.SellerID != "" && label.SellerID != cmd.SellerID {
		return LabelCancelResult{}, fmt.Errorf("%w: label %s", ErrNotFound, cmd.LabelID)
	}
	if label.Status != domain.LabelStatusPurchased {
		return LabelCancelResult{}, fmt.Errorf("%w: label %s is %s, only purchased labels can be cancelled", ErrConflict, label.ID, label.Status)
	}

	outcome, err := s.carrier.RequestRefund(ctx, shipping.RefundRequest{TransactionID: label.CarrierTransactionID})
	if err != nil {
		return LabelCancelResult{}, fmt.Errorf("%w: carrier refund request: %v", ErrExternalService, err)
	}

	now := s.clock()
	refund := LabelRefund{
		ID:              labelRefundIDPrefix + s.newID(),
		LabelID:         label.ID,
		SellerID:        label.SellerID,
		CarrierRefundID: outcome.RefundID,
		Amount:          label.TotalCharged,
		Reason:          strings.TrimSpace(cmd.Reason),
		CreatedAt:       now,
	}

	switch outcome.State {
	case shipping.RefundRejected:
		// Carrier said no (label already scanned). Recorded, not retried.
		refund.Status = domain.LabelRefundStatusRejected
		refund.ResolvedAt = &now
		if err := s.labelRefunds.Insert(ctx, refund); err != nil {
			return LabelCancelResult{}, translateRepoError("label.refund insert", err)
		}
		s.logger(ctx, "label_refund_rejected", map[string]any{"labelId": label.ID})
		return LabelCancelResult{Label: label, Refund: refund}, nil

	case shipping.RefundSucceeded:
		refund.Status = domain.LabelRefundStatusSucceeded
		refund.ResolvedAt = &now
		updatedLabel, err := s.settleVoid(ctx, label, refund, now)
		if err != nil {
			return LabelCancelResult{}, err
		}
		return LabelCancelResult{Label: updatedLabel, Refund: refund}, nil

	default:
		refund.Status = domain.LabelRefundStatusPending
		label.Status = domain.LabelStatusRefundRequested
		label.UpdatedAt = now
		err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
			if err := s.labelRefunds.Insert(txCtx, refund); err != nil {
				return translateRepoError("label.refund insert", err)
			}
			return translateRepoError("label.update", s.labels.Update(txCtx, label))
		})
		if err != nil {
			return LabelCancelResult{}, err
		}
		s.logger(ctx, "label_refund_queued", map[string]any{"labelId": label.ID, "refundId": refund.ID})
		return LabelCancelResult{Label: label, Refund: refund}, nil
	}
}

// ResolveRefund re-checks a queued void with the carrier and applies the
// outcome. Driven by the carrier webhook and the internal sweep.
func (s *labelService) ResolveRefund(ctx context.Context, labelID string) (LabelRefund, error) {
	label, err := s.labels.FindByID(ctx, labelID)
	if err != nil {
		return LabelRefund{}, translateRepoError("label.get", err)
	}
	refund, err := s.labelRefunds.FindPendingByLabel(ctx, label.ID)
	if err != nil {
		return LabelRefund{}, translateRepoError("label.pending refund", err)
	}

	outcome, err := s.carrier.RefundStatus(ctx, refund.CarrierRefundID)
	if err != nil {
		return LabelRefund{}, fmt.Errorf("%w: carrier refund status: %v", ErrExternalService, err)
	}

	now := s.clock()
	switch outcome.State {
	case shipping.RefundSucceeded:
		refund.Status = domain.LabelRefundStatusSucceeded
		refund.ResolvedAt = &now
		if _, err := s.settleVoid(ctx, label, refund, now); err != nil {
			return LabelRefund{}, err
		}
		return refund, nil

	case shipping.RefundRejected:
		refund.Status = domain.LabelRefundStatusRejected
		refund.ResolvedAt = &now
		label.Status = domain.LabelStatusPurchased
		label.UpdatedAt = now
		err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
			if err := s.labelRefunds.Update(txCtx, refund); err != nil {
				return translateRepoError("label.refund update", err)
			}
			return translateRepoError("label.update", s.labels.Update(txCtx, label))
		})
		if err != nil {
			return LabelRefund{}, err
		}
		s.logger(ctx, "label_refund_rejected", map[string]any{"labelId": label.ID, "refundId": refund.ID})
		return refund, nil

	default:
		// Still queued at the carrier.
		return refund, nil
	}
}

// ResolvePending sweeps queued label refunds, used by the internal
// reconciliation endpoint.
func (s *labelService) ResolvePending(ctx context.Context, limit int) (ReconcileReport, error) {
	if limit <= 0 {
		limit = 50
	}
	page, err := s.labelRefunds.ListPending(ctx, Pagination{PageSize: limit})
	if err != nil {
		return ReconcileReport{}, translateRepoError("label.list pending", err)
	}

	report := ReconcileReport{Scanned: len(page.Items)}
	for _, pending := range page.Items {
		resolved, err := s.ResolveRefund(ctx, pending.LabelID)
		if err != nil {
			report.Failed++
			s.logger(ctx, "label_refund_resolve_failed", map[string]any{"labelId": pending.LabelID, "error": err.Error()})
			continue
		}
		if resolved.Status != domain.LabelRefundStatusPending {
			report.Resolved++
		}
	}
	return report, nil
}

func (s *labelService) GetLabel(ctx context.Context, labelID string) (ShippingLabel, error) {
	label, err := s.labels.FindByID(ctx, labelID)
	if err != nil {
		return ShippingLabel{}, translateRepoError("label.get", err)
	}
	return label, nil
}

func (s *labelService) ListByOrder(ctx context.Context, orderID string) ([]ShippingLabel, error) {
	labels, err := s.labels.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, translateRepoError("label.list", err)
	}
	return labels, nil
}

// settleVoid marks the label voided, persists the refund outcome and credits
// the wallet, all in one transaction.
func (s *labelService) settleVoid(ctx context.Context, label ShippingLabel, refund LabelRefund, now time.Time) (ShippingLabel, error) {
	existing := refund.Status == domain.LabelRefundStatusSucceeded && label.Status == domain.LabelStatusRefundRequested

	label.Status = domain.LabelStatusVoided
	label.UpdatedAt = now

	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		var err error
		if existing {
			err = s.labelRefunds.Update(txCtx, refund)
		} else {
			err = s.labelRefunds.Insert(txCtx, refund)
		}
		if err != nil {
			return translateRepoError("label.refund persist", err)
		}

		if err := s.wallet.Append(txCtx, WalletEntry{
			ID:        walletEntryIDPrefix + s.newID(),
			SellerID:  label.SellerID,
			Type:      domain.WalletEntryCredit,
			Amount:    label.TotalCharged,
			Currency:  label.Currency,
			Reference: label.ID,
			Note:      fmt.Sprintf("Void refund for label %s", label.TrackingNumber),
			CreatedAt: now,
		}); err != nil {
			return translateRepoError("label.wallet credit", err)
		}
		return translateRepoError("label.update", s.labels.Update(txCtx, label))
	})
	if err != nil {
		return ShippingLabel{}, err
	}

	s.publishEvent(ctx, OrderEventMessage{
		Event:      EventLabelVoided,
		OrderID:    label.OrderID,
		SellerID:   label.SellerID,
		LabelID:    label.ID,
		OccurredAt: now,
		Payload:    map[string]any{"credited": label.TotalCharged},
	})
	s.logger(ctx, "label_voided", map[string]any{"labelId": label.ID, "credited": label.TotalCharged})
	return label, nil
}

func (s *labelService) publishEvent(ctx context.Context, event OrderEventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{"event": event.Event, "orderId": event.OrderID, "error": err.Error()})
	}
}
