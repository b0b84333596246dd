package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrRFQClosed        = errors.New("rfq no longer open")
	ErrCapacityExceeded = errors.New("vault capacity exceeded")
	ErrEpochNotSettled  = errors.New("epoch not settled")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrConvergence      = errors.New("iteration did not converge")
	ErrInsufficientData = errors.New("insufficient data")
	ErrLedgerRejected   = errors.New("ledger rejected transaction")
	ErrRelayDown        = errors.New("relay session down")
	ErrRateLimited      = errors.New("rate limited")
	ErrSigningFailed    = errors.New("signing failed")
	ErrLockHeld         = errors.New("lock already held")
	ErrContextDone      = errors.New("context cancelled")
)

// ValidationError reports a rejected input field. Callers must fix the field
// and resubmit; validation failures are never retried as-is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match a ValidationError against ErrInvalidParameter.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidParameter
}

// NewValidationError builds a field-named validation error.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
