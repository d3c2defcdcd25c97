// Package core provides money parsing and sign normalization.
//
// Amounts are shopspring decimals rounded to two places. Users always enter a
// positive magnitude; the stored sign is derived from the movement type.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// AmountPlaces is the number of fractional digits kept on every amount.
const AmountPlaces = 2

// ParseAmount converts a user-entered magnitude to a decimal.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and rounds
// half-up on the third decimal place. Signs, exponents and zero are rejected.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,34")  -> 12.34, nil
//	ParseAmount("12.345") -> 12.35, nil
//	ParseAmount("0")      -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, part := range parts {
		for _, r := range part {
			if !unicode.IsDigit(r) {
				return decimal.Zero, ErrInvalidAmount
			}
		}
	}
	if parts[0] == "" {
		s = "0" + s
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(s, "."))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	d = d.Round(AmountPlaces)
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// HasAmountScale reports whether d carries no more than AmountPlaces
// significant fractional digits. Trailing zeros do not count.
func HasAmountScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(AmountPlaces))
}

// Normalize turns a positive magnitude into the signed amount stored on the
// ledger: expenses become negative, incomes stay positive. Magnitudes finer
// than AmountPlaces are rejected.
func Normalize(magnitude decimal.Decimal, t MovementType) (decimal.Decimal, error) {
	if !magnitude.IsPositive() || !HasAmountScale(magnitude) {
		return decimal.Zero, ErrInvalidAmount
	}
	switch t {
	case Expense:
		return magnitude.Round(AmountPlaces).Neg(), nil
	case Income:
		return magnitude.Round(AmountPlaces), nil
	default:
		return decimal.Zero, ErrInvalidMovementType
	}
}

// FormatAmount renders an amount with exactly two decimals.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(AmountPlaces)
}
