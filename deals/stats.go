package deals

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/warp/deal-engine/generic"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// STAT TYPES
// =============================================================================

// StatType names one counter. Total* counters only ever grow; Current*
// counters go up when a request enters the state and down when it leaves.
type StatType string

const (
	StatTotalInvited    StatType = "TotalInvited"
	StatTotalRequested  StatType = "TotalRequested"
	StatTotalApproved   StatType = "TotalApproved"
	StatTotalRedeemed   StatType = "TotalRedeemed"
	StatTotalCompleted  StatType = "TotalCompleted"
	StatTotalDenied     StatType = "TotalDenied"
	StatTotalCancelled  StatType = "TotalCancelled"
	StatTotalDelinquent StatType = "TotalDelinquent"

	StatCurrentInvited    StatType = "CurrentInvited"
	StatCurrentRequested  StatType = "CurrentRequested"
	StatCurrentInProgress StatType = "CurrentInProgress"
	StatCurrentRedeemed   StatType = "CurrentRedeemed"
)

// IsCurrent reports whether the counter is a releasable in-flight count.
func (t StatType) IsCurrent() bool {
	return strings.HasPrefix(string(t), "Current")
}

// TotalStatFor returns the lifetime counter incremented on entering s.
func TotalStatFor(s Status) (StatType, bool) {
	switch s {
	case StatusInvited:
		return StatTotalInvited, true
	case StatusRequested:
		return StatTotalRequested, true
	case StatusInProgress:
		return StatTotalApproved, true
	case StatusRedeemed:
		return StatTotalRedeemed, true
	case StatusCompleted:
		return StatTotalCompleted, true
	case StatusDenied:
		return StatTotalDenied, true
	case StatusCancelled:
		return StatTotalCancelled, true
	case StatusDelinquent:
		return StatTotalDelinquent, true
	}
	return "", false
}

// CurrentStatFor returns the in-flight counter for s; terminal statuses have none.
func CurrentStatFor(s Status) (StatType, bool) {
	switch s {
	case StatusInvited:
		return StatCurrentInvited, true
	case StatusRequested:
		return StatCurrentRequested, true
	case StatusInProgress:
		return StatCurrentInProgress, true
	case StatusRedeemed:
		return StatCurrentRedeemed, true
	}
	return "", false
}

// StatScope separates the counter families kept for one transition.
type StatScope string

const (
	// ScopeDeal counts requests of one deal.
	ScopeDeal StatScope = "deal"
	// ScopeAccount counts the requesting creator's requests.
	ScopeAccount StatScope = "account"
	// ScopePublisher mirrors the counts on the deal owner's account.
	ScopePublisher StatScope = "publisher"
)

// StatCounter is one Total*/Current* row.
type StatCounter struct {
	EntityID string
	Scope    StatScope
	Type     StatType
	Value    int64
}

// StatChange describes the membership change one committed transition causes.
type StatChange struct {
	DealID         string
	AccountID      string
	OwnerAccountID string
	From           Status
	To             Status
	At             time.Time
}

// ReleasesCurrent reports whether the change leaves a Current* bucket.
func (c StatChange) ReleasesCurrent() bool {
	_, ok := CurrentStatFor(c.From)
	return ok
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator keeps the Total*/Current* counters of deals and accounts.
type Aggregator struct {
	store   generic.RecordStore
	logger  *log.Logger
	metrics *Metrics
}

func NewAggregator(store generic.RecordStore, logger *log.Logger, metrics *Metrics) *Aggregator {
	if logger == nil {
		logger = log.Default()
	}
	return &Aggregator{store: store, logger: logger, metrics: metrics}
}

type statTarget struct {
	scope    StatScope
	entityID string
}

func (c StatChange) targets() []statTarget {
	targets := []statTarget{
		{scope: ScopeDeal, entityID: c.DealID},
		{scope: ScopeAccount, entityID: c.AccountID},
	}
	if c.OwnerAccountID != "" && c.OwnerAccountID != c.AccountID {
		targets = append(targets, statTarget{scope: ScopePublisher, entityID: c.OwnerAccountID})
	}
	return targets
}

// Ops returns one upsert per affected counter row: the destination total and
// current counters (+1) and the source current counter (-1).
func (a *Aggregator) Ops(change StatChange) []generic.TxOp {
	var ops []generic.TxOp
	targets := change.targets()
	at := change.At
	if at.IsZero() {
		at = time.Now()
	}

	add := func(stat StatType, delta int64) {
		for _, t := range targets {
			upd := generic.NewUpdate().
				SetIfAbsent("entity_id", generic.S(t.entityID)).
				SetIfAbsent("scope", generic.S(string(t.scope))).
				SetIfAbsent("stat_type", generic.S(string(stat))).
				SetIfAbsent("created_at", generic.S(formatTime(at))).
				AddInt(attrValue, delta)
			ops = append(ops, generic.UpdateOp(StatKey(t.scope, t.entityID, stat), upd, nil))
		}
	}

	if stat, ok := TotalStatFor(change.To); ok {
		add(stat, 1)
	}
	if stat, ok := CurrentStatFor(change.To); ok {
		add(stat, 1)
	}
	if stat, ok := CurrentStatFor(change.From); ok {
		add(stat, -1)
	}
	return ops
}

// Apply writes the counters for change. When a Current* bucket is released the
// rows are written in one transaction so the pair never drifts; otherwise the
// rows are independent and are written as a concurrent batch.
func (a *Aggregator) Apply(ctx context.Context, change StatChange) error {
	ops := a.Ops(change)
	if len(ops) == 0 {
		return nil
	}

	if change.ReleasesCurrent() {
		if err := a.store.Transact(ctx, ops); err != nil {
			a.logger.Printf("[Stats] ERROR: counter transaction for %s/%s %s -> %s aborted: %v",
				change.DealID, change.AccountID, change.From, change.To, err)
			a.metrics.IncStatFailure("transaction")
			return fmt.Errorf("stat transaction: %w", err)
		}
		return nil
	}

	// No shared context cancellation: one failed row must not abort the others.
	var g errgroup.Group
	for _, op := range ops {
		op := op
		g.Go(func() error {
			_, err := a.store.Update(ctx, op.Key, op.Update, op.Condition)
			if err != nil {
				return fmt.Errorf("stat update %s: %w", op.Key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.logger.Printf("[Stats] WARN: counter batch for %s/%s -> %s incomplete: %v",
			change.DealID, change.AccountID, change.To, err)
		a.metrics.IncStatFailure("batch")
		return err
	}
	return nil
}

// Get reads one counter; a missing row reads as zero.
func (a *Aggregator) Get(ctx context.Context, scope StatScope, entityID string, stat StatType) (StatCounter, error) {
	item, err := a.store.Get(ctx, StatKey(scope, entityID, stat))
	if err != nil {
		return StatCounter{}, err
	}
	counter := StatCounter{EntityID: entityID, Scope: scope, Type: stat}
	if item != nil {
		counter.Value = item.Attributes.Int(attrValue)
	}
	return counter, nil
}

// Snapshot reads every counter of one entity within scope.
func (a *Aggregator) Snapshot(ctx context.Context, scope StatScope, entityID string) (map[StatType]int64, error) {
	prefix := statSortPrefix(scope)
	items, err := a.store.Query(ctx, entityID, prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[StatType]int64, len(items))
	for _, item := range items {
		stat := StatType(strings.TrimPrefix(item.Key.Sort, prefix))
		out[stat] = item.Attributes.Int(attrValue)
	}
	return out, nil
}
