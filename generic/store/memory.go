// Package store provides RecordStore implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/deal-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a RecordStore kept in process memory. A single mutex serializes
// writes, which gives Transact the same all-or-nothing isolation a real store
// provides.
type Memory struct {
	mu    sync.RWMutex
	items map[generic.Key]*generic.Item
}

func NewMemory() *Memory {
	return &Memory{items: make(map[generic.Key]*generic.Item)}
}

var _ generic.RecordStore = (*Memory)(nil)

func (m *Memory) Get(_ context.Context, key generic.Key) (*generic.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.items[key].Clone(), nil
}

// Put writes item if cond holds, returning the replaced item.
func (m *Memory) Put(_ context.Context, item generic.Item, cond generic.Condition) (*generic.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.items[item.Key]
	if !generic.Check(cond, current) {
		return nil, generic.ErrConditionFailed
	}
	next, err := generic.ApplyOp(current, generic.PutOp(item, cond))
	if err != nil {
		return nil, err
	}
	m.items[item.Key] = next
	return current.Clone(), nil
}

func (m *Memory) Update(_ context.Context, key generic.Key, upd *generic.Update, cond generic.Condition) (*generic.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.items[key]
	if !generic.Check(cond, current) {
		return nil, generic.ErrConditionFailed
	}
	next, err := generic.ApplyOp(current, generic.UpdateOp(key, upd, cond))
	if err != nil {
		return nil, err
	}
	m.items[key] = next
	return next.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, key generic.Key, cond generic.Condition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !generic.Check(cond, m.items[key]) {
		return generic.ErrConditionFailed
	}
	delete(m.items, key)
	return nil
}

func (m *Memory) Query(_ context.Context, partition, sortPrefix string) ([]generic.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.Item
	for k, item := range m.items {
		if k.Partition == partition && strings.HasPrefix(k.Sort, sortPrefix) {
			result = append(result, *item.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key.Sort < result[j].Key.Sort
	})
	return result, nil
}

// Transact checks every condition first, then applies every write.
func (m *Memory) Transact(_ context.Context, ops []generic.TxOp) error {
	if err := generic.ValidateTransaction(ops); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all conditions first (atomic check)
	reasons := make([]generic.CancellationReason, len(ops))
	canceled := false
	for i, op := range ops {
		reasons[i] = generic.CancellationReason{Key: op.Key, Code: generic.ReasonNone}
		if !generic.Check(op.Condition, m.items[op.Key]) {
			reasons[i].Code = generic.ReasonConditionFailed
			reasons[i].Condition = op.Condition.String()
			canceled = true
		}
	}
	if canceled {
		return &generic.TransactionCanceledError{Reasons: reasons}
	}

	// Compute every result before touching state so a bad update aborts cleanly
	next := make([]*generic.Item, len(ops))
	for i, op := range ops {
		item, err := generic.ApplyOp(m.items[op.Key], op)
		if err != nil {
			return err
		}
		next[i] = item
	}

	// Apply all (atomic write)
	for i, op := range ops {
		switch {
		case op.Kind == generic.TxConditionCheck:
		case next[i] == nil:
			delete(m.items, op.Key)
		default:
			m.items[op.Key] = next[i]
		}
	}
	return nil
}

// Len returns the number of stored items.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Reset drops every item.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[generic.Key]*generic.Item)
	return nil
}
