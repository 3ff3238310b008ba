/*
errors.go - Centralized error types for the record store contract

PURPOSE:
  All store-level error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Condition errors - A precondition did not hold (expected under contention)
  2. Validation errors - The request itself is malformed
  3. Availability errors - Transport or infrastructure failure

USAGE:
  Domain packages translate condition failures into business outcomes:

    if errors.Is(err, generic.ErrConditionFailed) {
        return &deals.TransitionError{...}
    }

SEE ALSO:
  - store.go: Uses these errors
  - deals/errors.go: Wraps these errors with domain context
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConditionFailed is returned when a write precondition does not hold.
	// Under concurrency this is the normal way to lose a race.
	ErrConditionFailed = errors.New("conditional check failed")

	// ErrTransactionTooLarge is returned when a transaction exceeds MaxTransactItems.
	ErrTransactionTooLarge = errors.New("transaction exceeds item limit")

	// ErrDuplicateTransactItem is returned when one transaction names a key twice.
	ErrDuplicateTransactItem = errors.New("transaction targets the same item twice")

	// ErrValidation is returned for malformed operations.
	ErrValidation = errors.New("invalid store operation")

	// ErrStoreUnavailable wraps transport and infrastructure failures.
	ErrStoreUnavailable = errors.New("record store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Cancellation reason codes, one per transaction operation.
const (
	ReasonNone            = "None"
	ReasonConditionFailed = "ConditionalCheckFailed"
)

// CancellationReason explains the outcome of one operation of an aborted transaction.
type CancellationReason struct {
	Key       Key
	Code      string
	Condition string
}

// TransactionCanceledError is returned when any condition of a transaction failed.
// Reasons has one entry per operation, in submission order.
type TransactionCanceledError struct {
	Reasons []CancellationReason
}

func (e *TransactionCanceledError) Error() string {
	var failed []string
	for _, r := range e.Reasons {
		if r.Code != ReasonNone {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Key, r.Condition))
		}
	}
	return fmt.Sprintf("transaction canceled: [%s]", strings.Join(failed, "; "))
}

func (e *TransactionCanceledError) Unwrap() error {
	return ErrConditionFailed
}

// Failed reports whether the operation at index i had its condition fail.
func (e *TransactionCanceledError) Failed(i int) bool {
	return i >= 0 && i < len(e.Reasons) && e.Reasons[i].Code == ReasonConditionFailed
}

// Unavailable wraps a transport error so callers can classify it.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConditionFailed returns true if the error is a lost precondition,
// whether on a single item or inside a transaction.
func IsConditionFailed(err error) bool {
	return errors.Is(err, ErrConditionFailed)
}

// IsUnavailable returns true if the error is an infrastructure failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
