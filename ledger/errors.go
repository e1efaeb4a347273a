/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.

ERROR CATEGORIES:
  1. Validation errors - Malformed quantities, keys, or event types.
     Fatal to the single leg; in replay they abort only the owning unit.
  2. Insufficient balance - An OUT leg would drive on-hand negative.
     This is the core invariant guard and is never bypassed.
  3. Duplicate transaction - The dedup key already exists. Expected
     during idempotent replay and live retries; treated as a no-op
     duplicate, not a failure.

USAGE:
  Callers match with errors.Is():

    if errors.Is(err, ledger.ErrInsufficientBalance) {
        ...
    }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all input validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientBalance is returned when an OUT leg would drive
	// on-hand negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateTransaction is returned when a transaction with the
	// same dedup key already exists. This is expected behavior for
	// replay re-runs and live retries.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrMissingActor is returned when a transaction has no performer
	// and no default actor is configured. The actor field is mandatory.
	ErrMissingActor = errors.New("missing performer identity")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientBalanceError reports the shortage on one key.
type InsufficientBalanceError struct {
	Key       BalanceKey
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s",
		e.Key, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is due to invalid caller input
// rather than an infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrMissingActor)
}
