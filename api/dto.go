/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the deals domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Deals:     DealDTO (deal definitions use factory.DealJSON as the request body)
  Accounts:  AccountDTO, CreateAccountRequest
  Requests:  DealRequestDTO, RequestDealRequest, UpdateStatusRequest, CheckDTO
  Counters:  StatsDTO, AccountStatsDTO, ApprovalsDTO
  History:   HistoryEntryDTO
  Admin:     SweepDTO
  Scenarios: ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and in the deals package, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/deal.go: DealJSON type
*/
package api

import (
	"time"

	"github.com/warp/deal-engine/deals"
)

// =============================================================================
// DEALS
// =============================================================================

// DealDTO represents a deal in API responses.
type DealDTO struct {
	ID                     string    `json:"id"`
	OwnerAccountID         string    `json:"owner_account_id"`
	Title                  string    `json:"title"`
	Status                 string    `json:"status"`
	Private                bool      `json:"private"`
	Invitees               []string  `json:"invitees,omitempty"`
	ApprovalLimit          int64     `json:"approval_limit"`
	ReturnedApprovals      int64     `json:"returned_approvals"`
	HoursAllowedInProgress int       `json:"hours_allowed_in_progress"`
	HoursAllowedRedeemed   int       `json:"hours_allowed_redeemed"`
	Value                  string    `json:"value"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func toDealDTO(d *deals.Deal) DealDTO {
	return DealDTO{
		ID:                     d.ID,
		OwnerAccountID:         d.OwnerAccountID,
		Title:                  d.Title,
		Status:                 string(d.Status),
		Private:                d.Private,
		Invitees:               d.Invitees,
		ApprovalLimit:          d.ApprovalLimit,
		ReturnedApprovals:      d.ReturnedApprovals,
		HoursAllowedInProgress: d.HoursAllowedInProgress,
		HoursAllowedRedeemed:   d.HoursAllowedRedeemed,
		Value:                  d.Value.StringFixed(2),
		CreatedAt:              d.CreatedAt,
		UpdatedAt:              d.UpdatedAt,
	}
}

// ApprovalsDTO reports a deal's lifetime approval slots.
type ApprovalsDTO struct {
	DealID            string `json:"deal_id"`
	ApprovalLimit     int64  `json:"approval_limit"`
	Approved          int64  `json:"approved"`
	Remaining         int64  `json:"remaining"`
	ReturnedApprovals int64  `json:"returned_approvals"`
}

// =============================================================================
// ACCOUNTS
// =============================================================================

type AccountDTO struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

type CreateAccountRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
}

// =============================================================================
// DEAL REQUESTS
// =============================================================================

// DealRequestDTO represents one account's request in API responses.
type DealRequestDTO struct {
	DealID                 string    `json:"deal_id"`
	AccountID              string    `json:"account_id"`
	Status                 string    `json:"status"`
	PreviousStatus         string    `json:"previous_status,omitempty"`
	ReferenceID            string    `json:"reference_id"`
	HoursAllowedInProgress int       `json:"hours_allowed_in_progress"`
	HoursAllowedRedeemed   int       `json:"hours_allowed_redeemed"`
	CompletionMediaIDs     []string  `json:"completion_media_ids,omitempty"`
	DelinquentAt           *string   `json:"delinquent_at,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	StatusChangedAt        time.Time `json:"status_changed_at"`
	Version                int64     `json:"version"`
}

func toDealRequestDTO(r *deals.DealRequest) DealRequestDTO {
	dto := DealRequestDTO{
		DealID:                 r.DealID,
		AccountID:              r.AccountID,
		Status:                 string(r.Status),
		PreviousStatus:         string(r.PreviousStatus),
		ReferenceID:            r.ReferenceID,
		HoursAllowedInProgress: r.HoursAllowedInProgress,
		HoursAllowedRedeemed:   r.HoursAllowedRedeemed,
		CompletionMediaIDs:     r.CompletionMediaIDs,
		CreatedAt:              r.CreatedAt,
		StatusChangedAt:        r.StatusChangedAt,
		Version:                r.Version,
	}
	if deadline, ok := deals.DelinquentAfter(r); ok {
		dto.DelinquentAt = strPtr(deadline.Format(time.RFC3339))
	}
	return dto
}

// RequestDealRequest is the body of POST /api/deals/{dealID}/requests.
type RequestDealRequest struct {
	AccountID              string `json:"account_id"`
	FromInvite             bool   `json:"from_invite,omitempty"`
	HoursAllowedInProgress int    `json:"hours_allowed_in_progress,omitempty"`
	HoursAllowedRedeemed   int    `json:"hours_allowed_redeemed,omitempty"`
}

// UpdateStatusRequest is the body of PUT .../requests/{accountID}/status.
type UpdateStatusRequest struct {
	Status             string   `json:"status"`
	OverrideCancelled  bool     `json:"override_cancelled,omitempty"`
	CompletionMediaIDs []string `json:"completion_media_ids,omitempty"`
}

// CheckDTO answers "can this request move to status?".
type CheckDTO struct {
	Status  string `json:"status"`
	Allowed bool   `json:"allowed"`
	Kind    string `json:"kind,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// =============================================================================
// COUNTERS AND HISTORY
// =============================================================================

type StatsDTO struct {
	EntityID string           `json:"entity_id"`
	Scope    string           `json:"scope"`
	Counters map[string]int64 `json:"counters"`
}

// AccountStatsDTO holds an account's counters as a creator and as a publisher.
type AccountStatsDTO struct {
	AccountID string   `json:"account_id"`
	Creator   StatsDTO `json:"creator"`
	Publisher StatsDTO `json:"publisher"`
}

type HistoryEntryDTO struct {
	AccountID      string    `json:"account_id"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	ReferenceID    string    `json:"reference_id"`
	At             time.Time `json:"at"`
}

// HistoryDTO is the response of GET /api/deals/{dealID}/history.
type HistoryDTO struct {
	DealID   string            `json:"deal_id"`
	Status   string            `json:"status,omitempty"`
	Accounts []string          `json:"accounts"`
	Entries  []HistoryEntryDTO `json:"entries"`
}

// =============================================================================
// ADMIN AND SCENARIOS
// =============================================================================

// SweepDTO reports one delinquency sweep across deals.
type SweepDTO struct {
	Deals     int      `json:"deals"`
	Checked   int      `json:"checked"`
	Moved     []string `json:"moved"`
	Conflicts int      `json:"conflicts"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	// Set on 409: invalid_transition, capacity_exhausted or race_lost
	Kind string `json:"kind,omitempty"`
}
