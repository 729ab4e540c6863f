// Package tax estimates tax for an order total. An external tax API is used
// when configured and a static jurisdiction table covers the rest.
package tax

import (
	"context"
	"strings"

	domain "github.com/tradepost/api/internal/domain"
)

// Calculator estimates tax in minor units for a taxable amount shipped to a
// destination. Implementations return 0 when no tax regime applies.
type Calculator interface {
	Estimate(ctx context.Context, amount int64, currency string, destination domain.Address) (int64, error)
}

// rateBasisPoints maps an upper-case country code to a flat rate in basis
// points. Countries with regional rates use countryRegionRates instead.
var rateBasisPoints = map[string]int64{
	"DE": 1900,
	"FR": 2000,
	"GB": 2000,
	"IT": 2200,
	"ES": 2100,
	"NL": 2100,
	"JP": 1000,
	"AU": 1000,
	"NZ": 1500,
	"CA": 500,
}

// countryRegionRates holds per-region rates for countries where tax varies by
// state or province. Keys are "COUNTRY/REGION".
var countryRegionRates = map[string]int64{
	"US/CA": 725,
	"US/NY": 400,
	"US/TX": 625,
	"US/WA": 650,
	"US/FL": 600,
	"CA/ON": 1300,
	"CA/QC": 1498,
	"CA/BC": 1200,
}

// StaticCalculator resolves rates from the built-in jurisdiction table.
type StaticCalculator struct{}

// NewStaticCalculator returns the table-backed calculator.
func NewStaticCalculator() *StaticCalculator {
	return &StaticCalculator{}
}

// Estimate applies the destination rate to the amount, rounding half up.
// Destinations outside the table are untaxed.
func (c *StaticCalculator) Estimate(_ context.Context, amount int64, _ string, destination domain.Address) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}
	return applyBasisPoints(amount, lookupRate(destination)), nil
}

func lookupRate(destination domain.Address) int64 {
	country := strings.ToUpper(strings.TrimSpace(destination.Country))
	if country == "" {
		return 0
	}
	if destination.State != nil {
		region := strings.ToUpper(strings.TrimSpace(*destination.State))
		if rate, ok := countryRegionRates[country+"/"+region]; ok {
			return rate
		}
	}
	return rateBasisPoints[country]
}

func applyBasisPoints(amount, bps int64) int64 {
	if bps <= 0 {
		return 0
	}
	product := amount * bps
	return (product + 5000) / 10000
}
