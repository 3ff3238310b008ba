/*
Package deals implements the deal-request lifecycle.

PURPOSE:
  Brands ("deal owners") publish deals; creators request them, get approved,
  redeem, and complete. This package moves a DealRequest through its states
  while enforcing the per-deal approval cap and keeping the denormalized
  statistics in step with the transitions that produced them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Status:      DealRequest state (invited, requested, in_progress, ...)
  - DealStatus:  Catalog state of a Deal (published, paused, ...)
  - Deal:        The offer, with its ApprovalLimit and ReturnedApprovals
  - DealRequest: One account's claim against one deal
  - Account:     Minimal profile used for notification payloads

STATE MACHINE:

	Unknown ──▶ Invited ──┬──▶ InProgress ──▶ Redeemed ──▶ Completed
	        └─▶ Requested ┘        │  │            │  │
	               │               │  └────────────┼──┴──▶ Delinquent
	               ▼               ▼               ▼
	            Denied         Cancelled ◀─────────┘

	Cancelled ──(override)──▶ InProgress

NO LOCKS:
  Nothing in this package takes a mutex. Every invariant is expressed as a
  store precondition (generic.Condition) or a store transaction.

SEE ALSO:
  - lifecycle.go:   The state machine (Service)
  - limiter.go:     Approval cap transaction
  - compensator.go: Cancellation of slot-holding requests
  - stats.go:       Total/Current counters
*/
package deals

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REQUEST STATUS
// =============================================================================

type Status string

const (
	StatusUnknown    Status = "unknown"
	StatusInvited    Status = "invited"
	StatusRequested  Status = "requested"
	StatusInProgress Status = "in_progress"
	StatusRedeemed   Status = "redeemed"
	StatusCompleted  Status = "completed"
	StatusDenied     Status = "denied"
	StatusCancelled  Status = "cancelled"
	StatusDelinquent Status = "delinquent"
)

// AllStatuses lists every real status (Unknown excluded).
var AllStatuses = []Status{
	StatusInvited,
	StatusRequested,
	StatusInProgress,
	StatusRedeemed,
	StatusCompleted,
	StatusDenied,
	StatusCancelled,
	StatusDelinquent,
}

// ParseStatus converts a wire value into a Status.
func ParseStatus(s string) (Status, bool) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return StatusUnknown, false
}

// IsTerminal reports whether no further transition leaves this status
// (Cancelled can still be approved with an explicit override).
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusDenied, StatusCancelled, StatusDelinquent:
		return true
	}
	return false
}

// HoldsApprovalSlot reports whether a request in this status consumed an approval.
func (s Status) HoldsApprovalSlot() bool {
	return s == StatusInProgress || s == StatusRedeemed
}

// =============================================================================
// DEAL
// =============================================================================

type DealStatus string

const (
	DealDraft     DealStatus = "draft"
	DealPublished DealStatus = "published"
	DealPaused    DealStatus = "paused"
	DealCompleted DealStatus = "completed"
	DealArchived  DealStatus = "archived"
)

// Deal is a brand-published offer. The catalog owns it; this package only
// reads ApprovalLimit and writes ReturnedApprovals.
type Deal struct {
	ID             string
	OwnerAccountID string
	Title          string
	Status         DealStatus

	// Private deals can only be requested by invitees
	Private  bool
	Invitees []string

	// Maximum number of approvals over the deal's lifetime
	ApprovalLimit int64
	// Incremented whenever a slot-holding request is cancelled (reporting only)
	ReturnedApprovals int64

	// Defaults copied onto new requests when the caller gives none
	HoursAllowedInProgress int
	HoursAllowedRedeemed   int

	// Compensation offered to the creator
	Value decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsInvitee reports whether accountID is on the deal's invite list.
func (d *Deal) IsInvitee(accountID string) bool {
	for _, id := range d.Invitees {
		if id == accountID {
			return true
		}
	}
	return false
}

// =============================================================================
// DEAL REQUEST
// =============================================================================

// DealRequest is one account's claim against one deal, keyed (DealID, AccountID).
type DealRequest struct {
	DealID    string
	AccountID string

	Status         Status
	PreviousStatus Status

	// Refreshed on every transition
	ReferenceID string

	HoursAllowedInProgress int
	HoursAllowedRedeemed   int
	CompletionMediaIDs     []string

	// Soft delete; requests are never physically removed
	Deleted bool

	CreatedAt       time.Time
	UpdatedAt       time.Time
	StatusChangedAt time.Time

	// Store version the request was read at
	Version int64
}

// Live reports whether the request exists and is not soft-deleted.
func (r *DealRequest) Live() bool {
	return r != nil && !r.Deleted
}

// =============================================================================
// ACCOUNT
// =============================================================================

// Account is the minimal profile the lifecycle needs for notifications.
type Account struct {
	ID          string
	DisplayName string
	Email       string
}
