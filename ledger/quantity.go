/*
quantity.go - Quantity normalization

PURPOSE:
  Validates and rounds movement quantities to the fixed two-decimal unit
  the ledger operates in. This single function gates both the live
  mutation path and historical replay, so the two paths cannot diverge
  on precision rules.

RULES:
  1. The raw value must be a finite number
  2. It must be strictly greater than zero (a zero or negative movement
     is invalid, not a no-op)
  3. It must carry at most two decimal digits; the check compares the
     value scaled by 100 to its rounded integer within a small epsilon
     to tolerate floating-point noise in the input
  4. The result is the value rounded to the nearest 0.01, held as a
     decimal so later arithmetic cannot drift
*/
package ledger

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// precisionEpsilon tolerates float noise when checking implied decimals.
const precisionEpsilon = 1e-8

// maxQuantity bounds a single movement. Anything larger is a data error,
// not a plausible stock movement.
const maxQuantity = 1e12

// Normalize validates raw and returns it as a two-decimal quantity.
// The field name is carried into the ValidationError for reporting.
func Normalize(field string, raw float64) (decimal.Decimal, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return decimal.Zero, &ValidationError{Field: field, Reason: "not a finite number"}
	}
	if raw <= 0 {
		return decimal.Zero, &ValidationError{Field: field, Reason: fmt.Sprintf("must be greater than zero, got %v", raw)}
	}
	if raw > maxQuantity {
		return decimal.Zero, &ValidationError{Field: field, Reason: fmt.Sprintf("exceeds maximum supported quantity, got %v", raw)}
	}

	scaled := raw * 100
	if math.Abs(scaled-math.Round(scaled)) > precisionEpsilon {
		return decimal.Zero, &ValidationError{Field: field, Reason: fmt.Sprintf("at most 2 decimal places allowed, got %v", raw)}
	}

	return decimal.New(int64(math.Round(scaled)), -2), nil
}

// round2 fixes a running total back to two decimals after an update.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
