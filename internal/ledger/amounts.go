package ledger

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Bounds on client-supplied quantities, prices and amounts. Derived values
// (totals, balances, average cost) stay well inside the stored column width.
const (
	maxScale         = 8
	maxIntegerDigits = 12
)

var (
	errTooPrecise = errors.New("more than 8 decimal places")
	errTooLarge   = errors.New("more than 12 integer digits")

	maxMagnitude = decimal.New(1, maxIntegerDigits)
)

// checkBounds rejects values that do not fit the ledger's fixed-point range.
// The exponent is inspected before any arithmetic so extreme inputs such as
// 1e-2000000 are refused without being expanded.
func checkBounds(d decimal.Decimal) error {
	exp := d.Exponent()
	if exp > maxIntegerDigits {
		return errTooLarge
	}
	// A written fraction this long is refused even if it is all trailing zeros.
	if exp < -(maxScale + maxIntegerDigits + maxScale) {
		return errTooPrecise
	}
	if !d.Equal(d.Truncate(maxScale)) {
		return errTooPrecise
	}
	if d.Abs().GreaterThanOrEqual(maxMagnitude) {
		return errTooLarge
	}
	return nil
}
