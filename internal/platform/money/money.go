// Package money converts decimal prices into payment provider minor units.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var (
	// ErrUnknownCurrency indicates the code is not an ISO 4217 currency.
	ErrUnknownCurrency = errors.New("money: unknown currency")
	// ErrNegativeAmount indicates a negative amount was supplied for conversion.
	ErrNegativeAmount = errors.New("money: amount must not be negative")
)

// zeroDecimal lists currencies charged without a minor unit by the payment provider.
var zeroDecimal = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

var hundred = decimal.NewFromInt(100)

// NormalizeCurrency validates code against ISO 4217 and returns it upper-cased.
func NormalizeCurrency(code string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrUnknownCurrency)
	}
	unit, err := currency.ParseISO(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownCurrency, trimmed)
	}
	return unit.String(), nil
}

// IsZeroDecimal reports whether the currency has no minor unit.
func IsZeroDecimal(code string) bool {
	_, ok := zeroDecimal[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

// ToMinorUnits converts amount to an integer in the smallest unit of the currency,
// rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal, code string) (int64, error) {
	normalized, err := NormalizeCurrency(code)
	if err != nil {
		return 0, err
	}
	if amount.IsNegative() {
		return 0, ErrNegativeAmount
	}
	if IsZeroDecimal(normalized) {
		return amount.Round(0).IntPart(), nil
	}
	return amount.Mul(hundred).Round(0).IntPart(), nil
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(minor int64, code string) decimal.Decimal {
	value := decimal.NewFromInt(minor)
	if IsZeroDecimal(code) {
		return value
	}
	return value.Div(hundred)
}
