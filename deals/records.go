package deals

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/deal-engine/generic"
)

// =============================================================================
// KEYS
// =============================================================================

const (
	dealsPartition    = "deals"
	accountsPartition = "accounts"

	approvalCounterSort = "InterlockedApproved"
	requestPrefix       = "request#"
	statPrefix          = "stat#"
	historyPrefix       = "history#"
)

// Attribute names shared by the codecs and the conditions built on them.
const (
	attrStatus            = "status"
	attrValue             = "value"
	attrReturnedApprovals = "returned_approvals"
	attrDeleted           = "deleted"
)

func DealKey(dealID string) generic.Key {
	return generic.NewKey(dealsPartition, dealID)
}

func AccountKey(accountID string) generic.Key {
	return generic.NewKey(accountsPartition, accountID)
}

func ApprovalCounterKey(dealID string) generic.Key {
	return generic.NewKey(dealID, approvalCounterSort)
}

func RequestKey(dealID, accountID string) generic.Key {
	return generic.NewKey(dealID, requestPrefix+accountID)
}

// StatKey addresses one counter row. The scope is part of the sort key so a
// deal and an account sharing an id never share a row.
func StatKey(scope StatScope, entityID string, stat StatType) generic.Key {
	return generic.NewKey(entityID, statSortPrefix(scope)+string(stat))
}

func statSortPrefix(scope StatScope) string {
	return statPrefix + string(scope) + "#"
}

func newReferenceID() string {
	return uuid.NewString()
}

// =============================================================================
// DEAL REQUEST CODEC
// =============================================================================

func requestToItem(r *DealRequest) generic.Item {
	attrs := generic.Attributes{
		"deal_id":                   generic.S(r.DealID),
		"account_id":                generic.S(r.AccountID),
		attrStatus:                  generic.S(string(r.Status)),
		"reference_id":              generic.S(r.ReferenceID),
		"hours_allowed_in_progress": generic.NInt(int64(r.HoursAllowedInProgress)),
		"hours_allowed_redeemed":    generic.NInt(int64(r.HoursAllowedRedeemed)),
		attrDeleted:                 generic.Bool(r.Deleted),
		"created_at":                generic.S(formatTime(r.CreatedAt)),
		"updated_at":                generic.S(formatTime(r.UpdatedAt)),
		"status_changed_at":         generic.S(formatTime(r.StatusChangedAt)),
	}
	if r.PreviousStatus != "" {
		attrs["previous_status"] = generic.S(string(r.PreviousStatus))
	}
	if len(r.CompletionMediaIDs) > 0 {
		attrs["completion_media_ids"] = generic.SS(r.CompletionMediaIDs...)
	}
	return generic.Item{Key: RequestKey(r.DealID, r.AccountID), Attributes: attrs, Version: r.Version}
}

func requestFromItem(item *generic.Item) *DealRequest {
	if item == nil {
		return nil
	}
	a := item.Attributes
	return &DealRequest{
		DealID:                 a.String("deal_id"),
		AccountID:              a.String("account_id"),
		Status:                 Status(a.String(attrStatus)),
		PreviousStatus:         Status(a.String("previous_status")),
		ReferenceID:            a.String("reference_id"),
		HoursAllowedInProgress: int(a.Int("hours_allowed_in_progress")),
		HoursAllowedRedeemed:   int(a.Int("hours_allowed_redeemed")),
		CompletionMediaIDs:     a.Strings("completion_media_ids"),
		Deleted:                a.Bool(attrDeleted),
		CreatedAt:              parseTime(a.String("created_at")),
		UpdatedAt:              parseTime(a.String("updated_at")),
		StatusChangedAt:        parseTime(a.String("status_changed_at")),
		Version:                item.Version,
	}
}

// =============================================================================
// DEAL CODEC
// =============================================================================

func dealToItem(d *Deal) generic.Item {
	attrs := generic.Attributes{
		"id":                        generic.S(d.ID),
		"owner_account_id":          generic.S(d.OwnerAccountID),
		"title":                     generic.S(d.Title),
		attrStatus:                  generic.S(string(d.Status)),
		"private":                   generic.Bool(d.Private),
		"approval_limit":            generic.NInt(d.ApprovalLimit),
		attrReturnedApprovals:       generic.NInt(d.ReturnedApprovals),
		"hours_allowed_in_progress": generic.NInt(int64(d.HoursAllowedInProgress)),
		"hours_allowed_redeemed":    generic.NInt(int64(d.HoursAllowedRedeemed)),
		"value":                     generic.N(d.Value),
		"created_at":                generic.S(formatTime(d.CreatedAt)),
		"updated_at":                generic.S(formatTime(d.UpdatedAt)),
	}
	if len(d.Invitees) > 0 {
		attrs["invitees"] = generic.SS(d.Invitees...)
	}
	return generic.Item{Key: DealKey(d.ID), Attributes: attrs}
}

func dealFromItem(item *generic.Item) *Deal {
	if item == nil {
		return nil
	}
	a := item.Attributes
	return &Deal{
		ID:                     a.String("id"),
		OwnerAccountID:         a.String("owner_account_id"),
		Title:                  a.String("title"),
		Status:                 DealStatus(a.String(attrStatus)),
		Private:                a.Bool("private"),
		Invitees:               a.Strings("invitees"),
		ApprovalLimit:          a.Int("approval_limit"),
		ReturnedApprovals:      a.Int(attrReturnedApprovals),
		HoursAllowedInProgress: int(a.Int("hours_allowed_in_progress")),
		HoursAllowedRedeemed:   int(a.Int("hours_allowed_redeemed")),
		Value:                  a.Number("value"),
		CreatedAt:              parseTime(a.String("created_at")),
		UpdatedAt:              parseTime(a.String("updated_at")),
	}
}

// =============================================================================
// ACCOUNT CODEC
// =============================================================================

func accountToItem(acc *Account) generic.Item {
	return generic.Item{
		Key: AccountKey(acc.ID),
		Attributes: generic.Attributes{
			"id":           generic.S(acc.ID),
			"display_name": generic.S(acc.DisplayName),
			"email":        generic.S(acc.Email),
		},
	}
}

func accountFromItem(item *generic.Item) *Account {
	if item == nil {
		return nil
	}
	return &Account{
		ID:          item.Attributes.String("id"),
		DisplayName: item.Attributes.String("display_name"),
		Email:       item.Attributes.String("email"),
	}
}

// =============================================================================
// TIME
// =============================================================================

// Timestamps are stored as fixed-width UTC strings so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func statusValue(s Status) generic.Value {
	return generic.S(string(s))
}

func statusValues(ss ...Status) []generic.Value {
	out := make([]generic.Value, len(ss))
	for i, s := range ss {
		out[i] = statusValue(s)
	}
	return out
}

func limitDecimal(limit int64) decimal.Decimal {
	return decimal.NewFromInt(limit)
}

func describeRequest(r *DealRequest) string {
	if r == nil {
		return "<absent>"
	}
	return fmt.Sprintf("%s/%s status=%s ref=%s v=%d deleted=%t",
		r.DealID, r.AccountID, r.Status, r.ReferenceID, r.Version, r.Deleted)
}
