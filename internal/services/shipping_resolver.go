package services

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/tradepost/api/internal/domain"
	"github.com/tradepost/api/internal/shipping"
)

// ErrNoShippingRoute indicates no zone matched and no carrier rate could be
// obtained for the destination.
var ErrNoShippingRoute = fmt.Errorf("%w: no shipping route to destination", ErrValidation)

// countryContinent maps ISO country codes to the continent keys used in
// seller zone matrices. Countries absent from the table never match a
// continent zone.
var countryContinent = map[string]string{
	"US": "north_america", "CA": "north_america", "MX": "north_america",
	"BR": "south_america", "AR": "south_america", "CL": "south_america", "CO": "south_america",
	"GB": "europe", "DE": "europe", "FR": "europe", "IT": "europe", "ES": "europe",
	"NL": "europe", "BE": "europe", "SE": "europe", "PL": "europe", "PT": "europe",
	"CH": "europe", "AT": "europe", "IE": "europe", "DK": "europe", "NO": "europe", "FI": "europe",
	"JP": "asia", "CN": "asia", "KR": "asia", "IN": "asia", "SG": "asia", "TH": "asia",
	"VN": "asia", "MY": "asia", "PH": "asia", "ID": "asia", "TW": "asia", "HK": "asia",
	"AU": "oceania", "NZ": "oceania",
	"ZA": "africa", "NG": "africa", "EG": "africa", "KE": "africa", "MA": "africa",
}

// ShippingResolverDeps bundles collaborators for the rate resolver.
type ShippingResolverDeps struct {
	Carrier shipping.Carrier
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type shippingResolver struct {
	carrier shipping.Carrier
	logger  func(context.Context, string, map[string]any)
}

// NewShippingResolver builds the resolver. Carrier is optional; without it the
// live-rate fallback is skipped.
func NewShippingResolver(deps ShippingResolverDeps) (ShippingResolver, error) {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &shippingResolver{carrier: deps.Carrier, logger: logger}, nil
}

// Resolve prices delivery: seller flat rate first, then the most specific
// matching zone, then the cheapest live carrier rate.
func (r *shippingResolver) Resolve(ctx context.Context, req ShippingRequest) (ShippingQuote, error) {
	if strings.TrimSpace(req.Destination.Country) == "" {
		return ShippingQuote{}, fmt.Errorf("%w: destination country is required", ErrValidation)
	}

	if req.Seller.FlatShippingRate != nil {
		return ShippingQuote{Cost: *req.Seller.FlatShippingRate, Method: "flat_rate"}, nil
	}

	if zone, ok := matchZone(req.Seller.ShippingZones, req.Destination); ok {
		method := zone.Method
		if method == "" {
			method = "zone_rate"
		}
		return ShippingQuote{Cost: zone.Rate, Method: method, EstimatedDays: zone.EstimatedDays}, nil
	}

	quote, err := r.carrierQuote(ctx, req)
	if err != nil {
		return ShippingQuote{}, err
	}
	return quote, nil
}

// matchZone returns the most specific zone covering the destination:
// city+country beats country beats continent.
func matchZone(zones []domain.ShippingZone, dest Address) (domain.ShippingZone, bool) {
	country := strings.ToUpper(strings.TrimSpace(dest.Country))
	city := strings.ToLower(strings.TrimSpace(dest.City))
	continent := countryContinent[country]

	best := domain.ShippingZone{}
	bestRank := 0
	for _, zone := range zones {
		rank := 0
		zoneCountry := strings.ToUpper(strings.TrimSpace(zone.Country))
		zoneCity := strings.ToLower(strings.TrimSpace(zone.City))
		switch {
		case zoneCity != "" && zoneCountry != "":
			if zoneCountry == country && zoneCity == city {
				rank = 3
			}
		case zoneCountry != "":
			if zoneCountry == country {
				rank = 2
			}
		case zone.Continent != "":
			if continent != "" && strings.EqualFold(zone.Continent, continent) {
				rank = 1
			}
		}
		if rank > bestRank {
			best = zone
			bestRank = rank
		}
	}
	return best, bestRank > 0
}

func (r *shippingResolver) carrierQuote(ctx context.Context, req ShippingRequest) (ShippingQuote, error) {
	if r.carrier == nil || len(req.Seller.Warehouses) == 0 {
		return ShippingQuote{}, ErrNoShippingRoute
	}

	origin := req.Seller.Warehouses[0].Address
	rates, err := r.carrier.Rates(ctx, shipping.RateRequest{
		From:   origin,
		To:     req.Destination,
		Parcel: shipping.Parcel{WeightGrams: req.WeightGrams},
	})
	if err != nil {
		if err == shipping.ErrNoRates {
			return ShippingQuote{}, ErrNoShippingRoute
		}
		r.logger(ctx, "carrier_rate_lookup_failed", map[string]any{"sellerId": req.Seller.ID, "error": err.Error()})
		return ShippingQuote{}, fmt.Errorf("%w: carrier rate lookup: %v", ErrExternalService, err)
	}

	cheapest := rates[0]
	for _, rate := range rates[1:] {
		if rate.Amount < cheapest.Amount {
			cheapest = rate
		}
	}
	return ShippingQuote{
		Cost:          cheapest.Amount,
		Method:        fmt.Sprintf("%s %s", cheapest.Carrier, cheapest.Service),
		EstimatedDays: cheapest.EstimatedDays,
		CarrierRateID: cheapest.ObjectID,
	}, nil
}
