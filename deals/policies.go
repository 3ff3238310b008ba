/*
policies.go - Pure transition predicates

PURPOSE:
  Decides whether a transition is allowed from already-loaded state. The
  predicates never touch the store, so the HTTP layer can call them for
  pre-flight validation and the state machine calls them again right before
  committing.

GUARDS:
  Unknown -> Invited|Requested      CanBeRequested
  Requested|Invited -> InProgress   CanBeApproved (Cancelled too, with override)
  Requested|Invited -> Denied       CanBeDenied
  InProgress -> Redeemed            CanBeRedeemed
  InProgress|Redeemed -> Completed  CanBeCompleted
  non-terminal -> Cancelled         CanBeCancelled
  InProgress|Redeemed -> Delinquent CanBeDelinquent (time threshold)

SOFT CAPACITY CHECK:
  CanBeRequested and CanBeApproved reject when the approval counter has
  already reached the limit. That is a courtesy: the limiter's transaction is
  the real check.

SEE ALSO:
  - lifecycle.go: Loads the context and commits the transition
*/
package deals

import (
	"time"
)

// TransitionContext is the loaded state a predicate decides on.
type TransitionContext struct {
	Deal      *Deal
	Request   *DealRequest // nil when the account never requested the deal
	AccountID string

	// Value of the deal's ApprovalCounter when the context was loaded
	ApprovalCount int64

	// The owner (or the system) is inviting the account
	FromInvite bool
	// Allows Cancelled -> InProgress
	OverrideCancelled bool

	Now time.Time
}

func (tc TransitionContext) from() Status {
	if tc.Request.Live() {
		return tc.Request.Status
	}
	return StatusUnknown
}

func (tc TransitionContext) fail(to Status, format string, args ...any) *TransitionError {
	return invalid(tc.Deal.ID, tc.AccountID, tc.from(), to, format, args...)
}

// CanTransition dispatches to the predicate for target.
func CanTransition(tc TransitionContext, target Status) *TransitionError {
	switch target {
	case StatusInvited, StatusRequested:
		return CanBeRequested(tc)
	case StatusInProgress:
		return CanBeApproved(tc)
	case StatusDenied:
		return CanBeDenied(tc)
	case StatusRedeemed:
		return CanBeRedeemed(tc)
	case StatusCompleted:
		return CanBeCompleted(tc)
	case StatusCancelled:
		return CanBeCancelled(tc)
	case StatusDelinquent:
		return CanBeDelinquent(tc)
	default:
		return tc.fail(target, "unsupported target status %q", target)
	}
}

// CanBeRequested guards request creation (Unknown -> Invited|Requested).
func CanBeRequested(tc TransitionContext) *TransitionError {
	to := StatusRequested
	if tc.FromInvite {
		to = StatusInvited
	}
	if tc.Request.Live() {
		return tc.fail(to, "deal already requested by this account")
	}
	if tc.Deal.Status != DealPublished {
		return tc.fail(to, "deal is %s, not published", tc.Deal.Status)
	}
	if err := checkDealRules(tc, to); err != nil {
		return err
	}
	// Requests stay open while the deal is exactly at its limit; the approval
	// is what gets refused.
	if tc.ApprovalCount > tc.Deal.ApprovalLimit {
		return capacityExhausted(tc, to)
	}
	return nil
}

// CanBeApproved guards approval. The deal rules are checked again because the
// deal may have changed since the request was created.
func CanBeApproved(tc TransitionContext) *TransitionError {
	to := StatusInProgress
	if err := requireLive(tc, to); err != nil {
		return err
	}
	switch tc.Request.Status {
	case StatusRequested, StatusInvited:
	case StatusCancelled:
		if !tc.OverrideCancelled {
			return tc.fail(to, "cancelled requests need an explicit override to be approved")
		}
	case StatusInProgress:
		return tc.fail(to, "request is already approved")
	default:
		return tc.fail(to, "cannot approve a %s request", tc.Request.Status)
	}

	switch tc.Deal.Status {
	case DealPublished, DealPaused, DealCompleted:
	default:
		return tc.fail(to, "deal is %s", tc.Deal.Status)
	}
	if err := checkDealRules(tc, to); err != nil {
		return err
	}
	if tc.ApprovalCount >= tc.Deal.ApprovalLimit {
		return capacityExhausted(tc, to)
	}
	return nil
}

// CanBeDenied guards Requested|Invited -> Denied.
func CanBeDenied(tc TransitionContext) *TransitionError {
	return requireFrom(tc, StatusDenied, StatusRequested, StatusInvited)
}

// CanBeRedeemed guards InProgress -> Redeemed.
func CanBeRedeemed(tc TransitionContext) *TransitionError {
	return requireFrom(tc, StatusRedeemed, StatusInProgress)
}

// CanBeCompleted guards InProgress|Redeemed -> Completed.
func CanBeCompleted(tc TransitionContext) *TransitionError {
	return requireFrom(tc, StatusCompleted, StatusInProgress, StatusRedeemed)
}

// CanBeCancelled guards any non-terminal status -> Cancelled.
func CanBeCancelled(tc TransitionContext) *TransitionError {
	return requireFrom(tc, StatusCancelled, StatusInvited, StatusRequested, StatusInProgress, StatusRedeemed)
}

// CanBeDelinquent guards InProgress|Redeemed -> Delinquent once the request
// has sat in its status longer than the hours it was allowed.
func CanBeDelinquent(tc TransitionContext) *TransitionError {
	to := StatusDelinquent
	if err := requireFrom(tc, to, StatusInProgress, StatusRedeemed); err != nil {
		return err
	}
	deadline, ok := DelinquentAfter(tc.Request)
	if !ok {
		return tc.fail(to, "no time limit for %s", tc.Request.Status)
	}
	now := tc.Now
	if now.IsZero() {
		now = time.Now()
	}
	if now.Before(deadline) {
		return tc.fail(to, "not delinquent until %s", deadline.Format(time.RFC3339))
	}
	return nil
}

// DelinquentAfter returns when r becomes delinquent in its current status.
// ok is false when the status has no time limit.
func DelinquentAfter(r *DealRequest) (time.Time, bool) {
	var hours int
	switch r.Status {
	case StatusInProgress:
		hours = r.HoursAllowedInProgress
	case StatusRedeemed:
		hours = r.HoursAllowedRedeemed
	}
	if hours <= 0 || r.StatusChangedAt.IsZero() {
		return time.Time{}, false
	}
	return r.StatusChangedAt.Add(time.Duration(hours) * time.Hour), true
}

func requireLive(tc TransitionContext, to Status) *TransitionError {
	if !tc.Request.Live() {
		return tc.fail(to, "no request exists for this account")
	}
	if tc.Request.Status == to {
		return tc.fail(to, "request is already %s", to)
	}
	return nil
}

func requireFrom(tc TransitionContext, to Status, allowed ...Status) *TransitionError {
	if err := requireLive(tc, to); err != nil {
		return err
	}
	for _, s := range allowed {
		if tc.Request.Status == s {
			return nil
		}
	}
	return tc.fail(to, "cannot move a %s request to %s", tc.Request.Status, to)
}

// checkDealRules are the deal-level rules shared by creation and approval.
func checkDealRules(tc TransitionContext, to Status) *TransitionError {
	d := tc.Deal
	if d.OwnerAccountID == tc.AccountID {
		return tc.fail(to, "deal owners cannot request their own deal")
	}
	if d.Private && !tc.FromInvite && !d.IsInvitee(tc.AccountID) &&
		!(tc.Request.Live() && tc.Request.Status == StatusInvited) {
		return tc.fail(to, "deal is private and the account is not invited")
	}
	return nil
}

func capacityExhausted(tc TransitionContext, to Status) *TransitionError {
	te := tc.fail(to, "deal approval limit of %d reached", tc.Deal.ApprovalLimit)
	te.Kind = FailureCapacityExhausted
	return te
}
