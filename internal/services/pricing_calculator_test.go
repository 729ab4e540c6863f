package services

import (
	"errors"
	"testing"

	domain "github.com/tradepost/api/internal/domain"
)

func TestCalculateFullPayment(t *testing.T) {
	calc := NewPricingCalculator()

	breakdown, err := calc.Calculate(PricingInput{
		Cart: ValidatedCart{
			Currency: "USD",
			Lines: []ValidatedLine{
				{ProductID: "prod-1", UnitPrice: 5000, Quantity: 2},
			},
		},
		Shipping: 1000,
		Tax:      480,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if breakdown.Subtotal != 10000 {
		t.Fatalf("expected subtotal 10000, got %d", breakdown.Subtotal)
	}
	if breakdown.Total != 11480 {
		t.Fatalf("expected total 11480, got %d", breakdown.Total)
	}
	if breakdown.PaymentType != domain.PaymentTypeFull {
		t.Fatalf("expected full payment, got %s", breakdown.PaymentType)
	}
	if breakdown.DepositAmount != 0 || breakdown.RemainingBalance != 0 {
		t.Fatalf("expected no deposit split, got %+v", breakdown)
	}
}

func TestCalculateDepositSplit(t *testing.T) {
	calc := NewPricingCalculator()

	breakdown, err := calc.Calculate(PricingInput{
		Cart: ValidatedCart{
			Currency:        "USD",
			DepositRequired: true,
			Lines: []ValidatedLine{
				{ProductID: "prod-1", UnitPrice: 2000, Quantity: 100, DepositPercent: 30},
			},
		},
		Shipping: 5000,
		Tax:      0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if breakdown.Total != 205000 {
		t.Fatalf("expected total 205000, got %d", breakdown.Total)
	}
	if breakdown.PaymentType != domain.PaymentTypeDeposit {
		t.Fatalf("expected deposit payment, got %s", breakdown.PaymentType)
	}
	if breakdown.DepositAmount != 60000 {
		t.Fatalf("expected deposit 60000, got %d", breakdown.DepositAmount)
	}
	if breakdown.RemainingBalance != 145000 {
		t.Fatalf("expected remaining 145000, got %d", breakdown.RemainingBalance)
	}
	if breakdown.DepositAmount+breakdown.RemainingBalance != breakdown.Total {
		t.Fatalf("deposit split does not sum to total: %+v", breakdown)
	}
}

func TestCalculateDepositRoundsPerUnit(t *testing.T) {
	calc := NewPricingCalculator()

	// 33% of 999 is 329.67, rounded half-up to 330 once per unit.
	breakdown, err := calc.Calculate(PricingInput{
		Cart: ValidatedCart{
			Currency:        "USD",
			DepositRequired: true,
			Lines: []ValidatedLine{
				{ProductID: "prod-1", UnitPrice: 999, Quantity: 3, DepositPercent: 33},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if breakdown.DepositAmount != 990 {
		t.Fatalf("expected deposit 990, got %d", breakdown.DepositAmount)
	}
}

func TestCalculateDepositCoveringTotalBecomesFull(t *testing.T) {
	calc := NewPricingCalculator()

	breakdown, err := calc.Calculate(PricingInput{
		Cart: ValidatedCart{
			Currency:        "USD",
			DepositRequired: true,
			Lines: []ValidatedLine{
				{ProductID: "prod-1", UnitPrice: 1000, Quantity: 1, DepositPercent: 100},
			},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if breakdown.PaymentType != domain.PaymentTypeFull {
		t.Fatalf("expected full payment when deposit covers total, got %s", breakdown.PaymentType)
	}
}

func TestCalculateRejectsBadInput(t *testing.T) {
	calc := NewPricingCalculator()

	cases := []struct {
		name  string
		input PricingInput
	}{
		{name: "no lines", input: PricingInput{Cart: ValidatedCart{Currency: "USD"}}},
		{
			name: "negative shipping",
			input: PricingInput{
				Cart:     ValidatedCart{Currency: "USD", Lines: []ValidatedLine{{UnitPrice: 100, Quantity: 1}}},
				Shipping: -1,
			},
		},
		{
			name: "zero total",
			input: PricingInput{
				Cart: ValidatedCart{Currency: "USD", Lines: []ValidatedLine{{UnitPrice: 0, Quantity: 1}}},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := calc.Calculate(tc.input); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
