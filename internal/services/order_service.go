package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tradepost/api/internal/domain"
	"github.com/tradepost/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"
	itemIDPrefix  = "itm_"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Sellers     repositories.SellerRepository
	Products    repositories.ProductRepository
	Orders      repositories.OrderRepository
	Validator   CartValidator
	Shipping    ShippingResolver
	Tax         TaxEstimator
	Pricing     *PricingCalculator
	Counters    CounterService
	Payments    PaymentService
	UnitOfWork  repositories.UnitOfWork
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	sellers    repositories.SellerRepository
	products   repositories.ProductRepository
	orders     repositories.OrderRepository
	validator  CartValidator
	shipping   ShippingResolver
	tax        TaxEstimator
	pricing    *PricingCalculator
	counters   CounterService
	payments   PaymentService
	unitOfWork repositories.UnitOfWork
	events     OrderEventPublisher
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Sellers == nil {
		return nil, errors.New("order service: seller repository is required")
	}
	if deps.Validator == nil {
		return nil, errors.New("order service: cart validator is required")
	}
	if deps.Shipping == nil {
		return nil, errors.New("order service: shipping resolver is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing calculator is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
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

	return &orderService{
		sellers:    deps.Sellers,
		products:   deps.Products,
		orders:     deps.Orders,
		validator:  deps.Validator,
		shipping:   deps.Shipping,
		tax:        deps.Tax,
		pricing:    deps.Pricing,
		counters:   deps.Counters,
		payments:   deps.Payments,
		unitOfWork: unit,
		events:     deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// priceCart runs the full quote pipeline without persisting anything.
func (s *orderService) priceCart(ctx context.Context, lines []CartLine, destination Address) (ValidatedCart, ShippingQuote, PricingBreakdown, error) {
	cart, err := s.validator.ValidateCart(ctx, lines)
	if err != nil {
		return ValidatedCart{}, ShippingQuote{}, PricingBreakdown{}, err
	}

	seller, err := s.sellers.FindByID(ctx, cart.SellerID)
	if err != nil {
		return ValidatedCart{}, ShippingQuote{}, PricingBreakdown{}, translateRepoError("order.load seller", err)
	}

	quote, err := s.shipping.Resolve(ctx, ShippingRequest{
		Seller:      seller,
		Destination: destination,
		WeightGrams: cart.TotalWeightGrams(),
		Currency:    cart.Currency,
	})
	if err != nil {
		return ValidatedCart{}, ShippingQuote{}, PricingBreakdown{}, err
	}

	taxAmount := int64(0)
	if s.tax != nil {
		taxAmount, err = s.tax.Estimate(ctx, cart.Subtotal+quote.Cost, cart.Currency, destination)
		if err != nil {
			return ValidatedCart{}, ShippingQuote{}, PricingBreakdown{}, fmt.Errorf("%w: tax estimate: %v", ErrExternalService, err)
		}
	}

	breakdown, err := s.pricing.Calculate(PricingInput{Cart: cart, Shipping: quote.Cost, Tax: taxAmount})
	if err != nil {
		return ValidatedCart{}, ShippingQuote{}, PricingBreakdown{}, err
	}
	return cart, quote, breakdown, nil
}

func (s *orderService) CalculateSummary(ctx context.Context, cmd SummaryCommand) (OrderSummary, error) {
	cart, quote, breakdown, err := s.priceCart(ctx, cmd.Lines, cmd.Destination)
	if err != nil {
		return OrderSummary{}, err
	}
	return OrderSummary{SellerID: cart.SellerID, Pricing: breakdown, Shipping: quote}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	email := strings.TrimSpace(cmd.CustomerEmail)
	if strings.TrimSpace(cmd.UserID) == "" && email == "" {
		return Order{}, fmt.Errorf("%w: guest checkout requires a customer email", ErrValidation)
	}
	if err := validateDestination(cmd.ShippingAddress); err != nil {
		return Order{}, err
	}

	cart, quote, breakdown, err := s.priceCart(ctx, cmd.Lines, cmd.ShippingAddress)
	if err != nil {
		return Order{}, err
	}

	orderNumber, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("order.number: %w", err)
	}

	now := s.clock()
	order := Order{
		ID:            orderIDPrefix + s.newID(),
		OrderNumber:   orderNumber,
		SellerID:      cart.SellerID,
		UserID:        strings.TrimSpace(cmd.UserID),
		CustomerEmail: email,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		PaymentType:   breakdown.PaymentType,
		Currency:      breakdown.Currency,
		Items:         s.buildItems(cart.Lines),

		Subtotal:         breakdown.Subtotal,
		ShippingAmount:   breakdown.Shipping,
		TaxAmount:        breakdown.Tax,
		Total:            breakdown.Total,
		DepositAmount:    breakdown.DepositAmount,
		AmountPaid:       0,
		RemainingBalance: breakdown.Total,

		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  cloneAddress(cmd.BillingAddress),
		ShippingMethod:  quote.Method,
		Metadata:        cloneMetadata(cmd.Metadata),

		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		// Reads first: re-check stock inside the transaction so two carts
		// cannot both claim the last unit.
		if s.products != nil {
			for _, line := range cart.Lines {
				product, err := s.products.FindByID(txCtx, line.ProductID)
				if err != nil {
					return translateRepoError("order.recheck product", err)
				}
				stock := product.Stock
				if line.VariantID != "" {
					if variant, ok := product.Variant(line.VariantID); ok {
						stock = variant.Stock
					}
				}
				if requiresStock(line.Type) && line.Quantity > stock {
					return fmt.Errorf("%w: product %s sold out during checkout", ErrConflict, line.ProductID)
				}
			}
		}
		return translateRepoError("order.insert", s.orders.Insert(txCtx, order))
	})
	if err != nil {
		return Order{}, err
	}

	s.publish(ctx, OrderEventMessage{
		Event:      EventOrderCreated,
		OrderID:    order.ID,
		SellerID:   order.SellerID,
		OccurredAt: now,
		Payload:    map[string]any{"orderNumber": order.OrderNumber, "total": order.Total, "paymentType": string(order.PaymentType)},
	})
	s.logger(ctx, "order_created", map[string]any{"orderId": order.ID, "sellerId": order.SellerID, "total": order.Total})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, translateRepoError("order.get", err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, translateRepoError("order.list", err)
	}
	return page, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	if !domain.ValidOrderStatus(cmd.Status) {
		return Order{}, fmt.Errorf("%w: unknown order status %q", ErrValidation, cmd.Status)
	}
	if cmd.Status == domain.OrderStatusCancelled {
		return s.CancelOrder(ctx, CancelOrderCommand{OrderID: cmd.OrderID, ActorID: cmd.ActorID, Reason: cmd.Reason})
	}

	var (
		updated  Order
		previous domain.OrderStatus
		changed  bool
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		changed = false
		order, err := s.orders.FindByID(txCtx, cmd.OrderID)
		if err != nil {
			return translateRepoError("order.get", err)
		}
		if order.Status == cmd.Status {
			updated = order
			return nil
		}

		// Fulfillment status is a direct seller write. Any known status is
		// accepted so back-office corrections and skip moves (pending
		// straight to shipped for a local pickup) stay possible. Only
		// cancellation carries extra rules, via CancelOrder.
		now := s.clock()
		previous = order.Status
		order.Status = cmd.Status
		order.UpdatedAt = now
		switch cmd.Status {
		case domain.OrderStatusShipped:
			order.ShippedAt = &now
		case domain.OrderStatusDelivered:
			order.DeliveredAt = &now
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return translateRepoError("order.update", err)
		}
		updated = order
		changed = true
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if changed {
		s.publish(ctx, OrderEventMessage{
			Event:      EventOrderStatusChanged,
			OrderID:    updated.ID,
			SellerID:   updated.SellerID,
			OccurredAt: updated.UpdatedAt,
			Payload:    map[string]any{"from": string(previous), "to": string(cmd.Status), "actorId": cmd.ActorID},
		})
	}
	return updated, nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	var (
		updated  Order
		previous domain.OrderStatus
		changed  bool
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		changed = false
		order, err := s.orders.FindByID(txCtx, cmd.OrderID)
		if err != nil {
			return translateRepoError("order.get", err)
		}
		if order.Status == domain.OrderStatusCancelled {
			updated = order
			return nil
		}
		if order.Status == domain.OrderStatusDelivered {
			return fmt.Errorf("%w: delivered orders cannot be cancelled", ErrConflict)
		}

		now := s.clock()
		previous = order.Status
		order.Status = domain.OrderStatusCancelled
		order.CancelledAt = &now
		order.UpdatedAt = now
		if reason := strings.TrimSpace(cmd.Reason); reason != "" {
			order.CancelReason = &reason
		}
		if err := s.orders.Update(txCtx, order); err != nil {
			return translateRepoError("order.update", err)
		}
		updated = order
		changed = true
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if changed {
		s.publish(ctx, OrderEventMessage{
			Event:      EventOrderCancelled,
			OrderID:    updated.ID,
			SellerID:   updated.SellerID,
			OccurredAt: updated.UpdatedAt,
			Payload:    map[string]any{"from": string(previous), "reason": cmd.Reason, "actorId": cmd.ActorID},
		})
	}
	return updated, nil
}

func (s *orderService) RequestBalancePayment(ctx context.Context, cmd BalancePaymentCommand) (BalancePaymentLink, error) {
	if s.payments == nil {
		return BalancePaymentLink{}, errors.New("order service: payment service not configured")
	}

	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return BalancePaymentLink{}, translateRepoError("order.get", err)
	}
	if order.PaymentStatus != domain.PaymentStatusDepositPaid || order.RemainingBalance <= 0 {
		return BalancePaymentLink{}, fmt.Errorf("%w: balance payment requires a paid deposit and an outstanding balance", ErrConflict)
	}

	link, err := s.payments.CreateBalanceLink(ctx, cmd)
	if err != nil {
		return BalancePaymentLink{}, err
	}

	s.publish(ctx, OrderEventMessage{
		Event:      EventOrderBalanceDue,
		OrderID:    order.ID,
		SellerID:   order.SellerID,
		OccurredAt: s.clock(),
		Payload:    map[string]any{"amount": link.Amount},
	})
	return link, nil
}

func (s *orderService) buildItems(lines []ValidatedLine) []OrderItem {
	items := make([]OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, OrderItem{
			ID:          itemIDPrefix + s.newID(),
			ProductID:   line.ProductID,
			Name:        line.Name,
			Kind:        line.Kind,
			VariantID:   line.VariantID,
			Size:        line.Size,
			Color:       line.Color,
			Type:        line.Type,
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
			Status:      domain.ItemStatusActive,
			WeightGrams: line.WeightGrams,
		})
	}
	return items
}

func (s *orderService) publish(ctx context.Context, event OrderEventMessage) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{"event": event.Event, "orderId": event.OrderID, "error": err.Error()})
	}
}

func requiresStock(t domain.ProductType) bool {
	return t == domain.ProductTypeInStock || t == domain.ProductTypeWholesale
}

func validateDestination(addr Address) error {
	switch {
	case strings.TrimSpace(addr.Recipient) == "":
		return fmt.Errorf("%w: shipping address recipient is required", ErrValidation)
	case strings.TrimSpace(addr.Line1) == "":
		return fmt.Errorf("%w: shipping address line is required", ErrValidation)
	case strings.TrimSpace(addr.City) == "":
		return fmt.Errorf("%w: shipping address city is required", ErrValidation)
	case strings.TrimSpace(addr.Country) == "":
		return fmt.Errorf("%w: shipping address country is required", ErrValidation)
	}
	return nil
}

func cloneAddress(addr *Address) *Address {
	if addr == nil {
		return nil
	}
	copied := *addr
	return &copied
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return nil
	}
	return maps.Clone(metadata)
}
