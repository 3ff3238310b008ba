package deals

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/deal-engine/generic"
)

// =============================================================================
// STATUS HISTORY - append-only, keyed (status, timestamp)
// =============================================================================

// HistoryEntry records one committed status change.
type HistoryEntry struct {
	DealID         string
	AccountID      string
	Status         Status
	PreviousStatus Status
	ReferenceID    string
	At             time.Time
}

// History stores entries under the deal's partition with sort key
// "history#<status>#<timestamp>#<account>#<reference>". Fixed-width UTC timestamps make a
// range over one status a prefix query plus a lexical bound.
type History struct {
	store generic.RecordStore
}

func NewHistory(store generic.RecordStore) *History {
	return &History{store: store}
}

func historyKey(e HistoryEntry) generic.Key {
	return generic.NewKey(e.DealID, historyStatusPrefix(e.Status)+formatTime(e.At)+"#"+e.AccountID+"#"+e.ReferenceID)
}

func historyStatusPrefix(s Status) string {
	if s == "" {
		return historyPrefix
	}
	return historyPrefix + string(s) + "#"
}

// Append writes e. Entries are never updated, so an existing key is an error.
func (h *History) Append(ctx context.Context, e HistoryEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	attrs := generic.Attributes{
		"deal_id":      generic.S(e.DealID),
		"account_id":   generic.S(e.AccountID),
		attrStatus:     statusValue(e.Status),
		"reference_id": generic.S(e.ReferenceID),
		"at":           generic.S(formatTime(e.At)),
	}
	if e.PreviousStatus != "" {
		attrs["previous_status"] = statusValue(e.PreviousStatus)
	}
	item := generic.Item{Key: historyKey(e), Attributes: attrs}
	if _, err := h.store.Put(ctx, item, generic.NotExists()); err != nil {
		return fmt.Errorf("append history %s: %w", item.Key, err)
	}
	return nil
}

// EverInStatus lists the entries of dealID that moved a request into status
// within [from, to). A zero bound is open. An empty status lists every entry.
func (h *History) EverInStatus(ctx context.Context, dealID string, status Status, from, to time.Time) ([]HistoryEntry, error) {
	items, err := h.store.Query(ctx, dealID, historyStatusPrefix(status))
	if err != nil {
		return nil, err
	}

	lower, upper := formatTime(from), formatTime(to)
	var out []HistoryEntry
	for i := range items {
		a := items[i].Attributes
		at := a.String("at")
		if lower != "" && at < lower {
			continue
		}
		if upper != "" && at >= upper {
			continue
		}
		out = append(out, HistoryEntry{
			DealID:         a.String("deal_id"),
			AccountID:      a.String("account_id"),
			Status:         Status(a.String(attrStatus)),
			PreviousStatus: Status(a.String("previous_status")),
			ReferenceID:    a.String("reference_id"),
			At:             parseTime(at),
		})
	}
	return out, nil
}

// Accounts returns the distinct accounts in entries, in first-seen order.
func Accounts(entries []HistoryEntry) []string {
	seen := make(map[string]bool, len(entries))
	var out []string
	for _, e := range entries {
		if seen[e.AccountID] {
			continue
		}
		seen[e.AccountID] = true
		out = append(out, e.AccountID)
	}
	return out
}
