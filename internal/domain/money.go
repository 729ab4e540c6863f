package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAmount is returned when a decimal amount string cannot be parsed
// or does not fit the currency's minor unit scale.
var ErrInvalidAmount = errors.New("domain: invalid amount")

// zeroDecimalCurrencies lists ISO 4217 currencies whose minor unit equals the
// major unit. Everything else is treated as two decimal places.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {},
	"KRW": {}, "MGA": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {},
	"VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// CurrencyExponent returns the number of decimal places used by the currency.
func CurrencyExponent(currency string) int {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		return 0
	}
	return 2
}

// FormatAmount renders minor units as the decimal string used on the wire,
// e.g. 11480 USD -> "114.80", 500 JPY -> "500".
func FormatAmount(minor int64, currency string) string {
	exp := CurrencyExponent(currency)
	if exp == 0 {
		return fmt.Sprintf("%d", minor)
	}

	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	scale := int64(1)
	for i := 0; i < exp; i++ {
		scale *= 10
	}
	return fmt.Sprintf("%s%d.%0*d", sign, minor/scale, exp, minor%scale)
}

// ParseAmount converts a decimal amount string into minor units. It rejects
// more fractional digits than the currency supports.
func ParseAmount(value, currency string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	negative := false
	if strings.HasPrefix(value, "-") {
		negative = true
		value = value[1:]
	}

	wholePart := value
	fracPart := ""
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		wholePart = value[:idx]
		fracPart = value[idx+1:]
	}
	if wholePart == "" && fracPart == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}

	exp := CurrencyExponent(currency)
	if len(fracPart) > exp {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, value, exp)
	}
	for len(fracPart) < exp {
		fracPart += "0"
	}

	var minor int64
	for _, r := range wholePart + fracPart {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
		}
		minor = minor*10 + int64(r-'0')
	}
	if negative {
		minor = -minor
	}
	return minor, nil
}

// ApplyPercent computes amount * percent / 100 in minor units, rounding half
// up. Used for discount, deposit and markup math so every caller rounds the
// same way.
func ApplyPercent(amount, percent int64) int64 {
	product := amount * percent
	if product >= 0 {
		return (product + 50) / 100
	}
	return -((-product + 50) / 100)
}
