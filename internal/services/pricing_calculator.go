package services

import (
	"fmt"
	"math"

	domain "github.com/tradepost/api/internal/domain"
)

// PricingCalculator turns a validated cart plus shipping and tax into the
// deterministic monetary breakdown persisted on the order. Pure computation,
// no I/O.
type PricingCalculator struct{}

// NewPricingCalculator returns the calculator.
func NewPricingCalculator() *PricingCalculator {
	return &PricingCalculator{}
}

// Calculate computes subtotal, total and the deposit/balance split. All
// amounts are integer minor units; per-unit deposit rounding happens once per
// line so refund math never drifts from the charged amounts.
func (c *PricingCalculator) Calculate(input PricingInput) (PricingBreakdown, error) {
	cart := input.Cart
	if len(cart.Lines) == 0 {
		return PricingBreakdown{}, fmt.Errorf("%w: no lines to price", ErrValidation)
	}
	if input.Shipping < 0 || input.Tax < 0 {
		return PricingBreakdown{}, fmt.Errorf("%w: shipping and tax cannot be negative", ErrValidation)
	}

	var subtotal int64
	for _, line := range cart.Lines {
		quantity := int64(line.Quantity)
		if line.UnitPrice > 0 && quantity > 0 && line.UnitPrice > math.MaxInt64/quantity {
			return PricingBreakdown{}, fmt.Errorf("%w: line subtotal overflow for product %s", ErrValidation, line.ProductID)
		}
		subtotal += line.UnitPrice * quantity
	}

	total := subtotal + input.Shipping + input.Tax
	if total <= 0 {
		return PricingBreakdown{}, fmt.Errorf("%w: order total must be positive", ErrValidation)
	}

	breakdown := PricingBreakdown{
		Currency:    cart.Currency,
		Subtotal:    subtotal,
		Shipping:    input.Shipping,
		Tax:         input.Tax,
		Total:       total,
		PaymentType: domain.PaymentTypeFull,
	}

	if cart.DepositRequired {
		var deposit int64
		for _, line := range cart.Lines {
			if line.DepositPercent <= 0 {
				continue
			}
			perUnit := domain.ApplyPercent(line.UnitPrice, line.DepositPercent)
			deposit += perUnit * int64(line.Quantity)
		}
		if deposit > 0 && deposit < total {
			breakdown.PaymentType = domain.PaymentTypeDeposit
			breakdown.DepositAmount = deposit
			breakdown.RemainingBalance = total - deposit
		}
	}

	return breakdown, nil
}
