/*
Package factory provides JSON to Go deal conversion.

PURPOSE:
  Converts JSON deal definitions into deals.Deal values. The API and the
  demo scenarios both go through it, so every deal that reaches the catalog
  was validated and defaulted the same way.

JSON SCHEMA:
  {
    "id": "spring-launch",
    "owner_account_id": "brand-acme",
    "title": "Spring launch",
    "status": "published",
    "private": true,
    "invitees": ["creator-kim"],
    "approval_limit": 3,
    "hours_allowed_in_progress": 72,
    "hours_allowed_redeemed": 48,
    "value": "150.00"
  }

DEFAULTS:
  status                     published
  hours_allowed_in_progress  DefaultHoursInProgress
  hours_allowed_redeemed     DefaultHoursRedeemed
  value                      0

USAGE:
  factory := NewDealFactory()
  deal, err := factory.ParseDeal(jsonString)
  catalog.SaveDeal(ctx, deal)

SEE ALSO:
  - deals/types.go: Deal type definition
  - api/scenarios.go: Demo deals defined in this format
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/deal-engine/deals"
)

// Defaults for deals that do not set their own allowances.
const (
	DefaultHoursInProgress = 72
	DefaultHoursRedeemed   = 48
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// DealJSON is the JSON representation of a deal.
type DealJSON struct {
	ID             string   `json:"id"`
	OwnerAccountID string   `json:"owner_account_id"`
	Title          string   `json:"title"`
	Status         string   `json:"status,omitempty"`
	Private        bool     `json:"private,omitempty"`
	Invitees       []string `json:"invitees,omitempty"`
	ApprovalLimit  int64    `json:"approval_limit"`

	// nil takes the default; 0 disables the delinquency deadline
	HoursAllowedInProgress *int `json:"hours_allowed_in_progress,omitempty"`
	HoursAllowedRedeemed   *int `json:"hours_allowed_redeemed,omitempty"`

	Value string `json:"value,omitempty"` // Decimal string, e.g. "150.00"
}

// =============================================================================
// DEAL FACTORY
// =============================================================================

// DealFactory converts JSON deals to Go structs.
type DealFactory struct{}

func NewDealFactory() *DealFactory {
	return &DealFactory{}
}

// ParseDeal parses a JSON string into a Deal.
func (f *DealFactory) ParseDeal(jsonStr string) (*deals.Deal, error) {
	var dj DealJSON
	if err := json.Unmarshal([]byte(jsonStr), &dj); err != nil {
		return nil, fmt.Errorf("%w: failed to parse deal JSON: %v", deals.ErrInvalidInput, err)
	}
	return f.FromJSON(dj)
}

// FromJSON validates dj and converts it to a Deal.
func (f *DealFactory) FromJSON(dj DealJSON) (*deals.Deal, error) {
	if strings.TrimSpace(dj.ID) == "" {
		return nil, fmt.Errorf("%w: deal id is required", deals.ErrInvalidInput)
	}
	if strings.TrimSpace(dj.OwnerAccountID) == "" {
		return nil, fmt.Errorf("%w: deal %s has no owner", deals.ErrInvalidInput, dj.ID)
	}
	if dj.ApprovalLimit <= 0 {
		return nil, fmt.Errorf("%w: deal %s approval_limit must be positive", deals.ErrInvalidInput, dj.ID)
	}

	status, err := parseDealStatus(dj.Status)
	if err != nil {
		return nil, err
	}

	hoursInProgress, err := parseHours("hours_allowed_in_progress", dj.HoursAllowedInProgress, DefaultHoursInProgress)
	if err != nil {
		return nil, err
	}
	hoursRedeemed, err := parseHours("hours_allowed_redeemed", dj.HoursAllowedRedeemed, DefaultHoursRedeemed)
	if err != nil {
		return nil, err
	}

	value := decimal.Zero
	if dj.Value != "" {
		value, err = decimal.NewFromString(dj.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: deal %s value %q: %v", deals.ErrInvalidInput, dj.ID, dj.Value, err)
		}
		if value.IsNegative() {
			return nil, fmt.Errorf("%w: deal %s value cannot be negative", deals.ErrInvalidInput, dj.ID)
		}
	}

	return &deals.Deal{
		ID:                     dj.ID,
		OwnerAccountID:         dj.OwnerAccountID,
		Title:                  dj.Title,
		Status:                 status,
		Private:                dj.Private,
		Invitees:               dedupe(dj.Invitees),
		ApprovalLimit:          dj.ApprovalLimit,
		HoursAllowedInProgress: hoursInProgress,
		HoursAllowedRedeemed:   hoursRedeemed,
		Value:                  value,
	}, nil
}

// ToJSON is the inverse of FromJSON.
func ToJSON(d *deals.Deal) DealJSON {
	inProgress, redeemed := d.HoursAllowedInProgress, d.HoursAllowedRedeemed
	return DealJSON{
		ID:                     d.ID,
		OwnerAccountID:         d.OwnerAccountID,
		Title:                  d.Title,
		Status:                 string(d.Status),
		Private:                d.Private,
		Invitees:               d.Invitees,
		ApprovalLimit:          d.ApprovalLimit,
		HoursAllowedInProgress: &inProgress,
		HoursAllowedRedeemed:   &redeemed,
		Value:                  d.Value.StringFixed(2),
	}
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseDealStatus(s string) (deals.DealStatus, error) {
	switch deals.DealStatus(s) {
	case "":
		return deals.DealPublished, nil
	case deals.DealDraft, deals.DealPublished, deals.DealPaused, deals.DealCompleted, deals.DealArchived:
		return deals.DealStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown deal status %q", deals.ErrInvalidInput, s)
}

func parseHours(field string, v *int, def int) (int, error) {
	if v == nil {
		return def, nil
	}
	if *v < 0 {
		return 0, fmt.Errorf("%w: %s cannot be negative", deals.ErrInvalidInput, field)
	}
	return *v, nil
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
