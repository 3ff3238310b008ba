package deals

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCannotComplete is the single caller-facing failure of a transition.
	// Guard violations, exhausted capacity and lost races all unwrap to it.
	ErrCannotComplete = errors.New("operation cannot be completed")

	// ErrDealNotFound is returned when the referenced deal doesn't exist.
	ErrDealNotFound = errors.New("deal not found")

	// ErrRequestNotFound is returned when no live request exists for the key.
	ErrRequestNotFound = errors.New("deal request not found")

	// ErrAccountNotFound is returned when the account lookup finds nothing.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidInput is returned for malformed inputs (empty ids, negative hours).
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// TRANSITION ERROR
// =============================================================================

// FailureKind records why a transition failed. It is logged and counted but
// never changes how the failure is surfaced: every kind is ErrCannotComplete.
type FailureKind string

const (
	FailureInvalidTransition FailureKind = "invalid_transition"
	FailureCapacityExhausted FailureKind = "capacity_exhausted"
	FailureRaceLost          FailureKind = "race_lost"
)

// TransitionError explains a failed or disallowed transition.
type TransitionError struct {
	Kind      FailureKind
	DealID    string
	AccountID string
	From      Status
	To        Status
	Reason    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s/%s %s -> %s: %s",
		ErrCannotComplete, e.DealID, e.AccountID, e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrCannotComplete
}

func invalid(dealID, accountID string, from, to Status, format string, args ...any) *TransitionError {
	return &TransitionError{
		Kind:      FailureInvalidTransition,
		DealID:    dealID,
		AccountID: accountID,
		From:      from,
		To:        to,
		Reason:    fmt.Sprintf(format, args...),
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsCannotComplete returns true for guard, capacity and race failures.
func IsCannotComplete(err error) bool {
	return errors.Is(err, ErrCannotComplete)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDealNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrAccountNotFound)
}

// FailureKindOf returns the failure kind carried by err, or "".
func FailureKindOf(err error) FailureKind {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
