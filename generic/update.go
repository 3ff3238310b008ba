package generic

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// UPDATE - Update expression applied to an existing (or absent) item
// =============================================================================

type updateKind int

const (
	updateSet updateKind = iota
	updateSetIfAbsent
	updateAdd
	updateRemove
)

type updateAction struct {
	kind  updateKind
	name  string
	value Value
	delta decimal.Decimal
}

// Update is an ordered list of attribute actions. Build it with the chained
// helpers:
//
//	generic.NewUpdate().SetIfAbsent("deal_id", generic.S(id)).Add("value", decimal.NewFromInt(1))
type Update struct {
	actions []updateAction
}

func NewUpdate() *Update {
	return &Update{}
}

// Set overwrites an attribute.
func (u *Update) Set(name string, v Value) *Update {
	u.actions = append(u.actions, updateAction{kind: updateSet, name: name, value: v})
	return u
}

// SetIfAbsent writes an attribute only when it does not exist yet.
func (u *Update) SetIfAbsent(name string, v Value) *Update {
	u.actions = append(u.actions, updateAction{kind: updateSetIfAbsent, name: name, value: v})
	return u
}

// Add adds delta to a numeric attribute; a missing attribute counts as zero.
func (u *Update) Add(name string, delta decimal.Decimal) *Update {
	u.actions = append(u.actions, updateAction{kind: updateAdd, name: name, delta: delta})
	return u
}

// AddInt is Add with an integral delta.
func (u *Update) AddInt(name string, delta int64) *Update {
	return u.Add(name, decimal.NewFromInt(delta))
}

func (u *Update) Remove(name string) *Update {
	u.actions = append(u.actions, updateAction{kind: updateRemove, name: name})
	return u
}

// Empty reports whether the update has no actions.
func (u *Update) Empty() bool {
	return u == nil || len(u.actions) == 0
}

// Apply returns the attributes that result from applying u to current.
// current may be nil (upsert). It fails with ErrValidation when Add targets a
// non-numeric attribute.
func (u *Update) Apply(current Attributes) (Attributes, error) {
	out := Attributes{}
	if current != nil {
		out = current.Clone()
	}
	if u == nil {
		return out, nil
	}
	for _, a := range u.actions {
		switch a.kind {
		case updateSet:
			out[a.name] = a.value.clone()
		case updateSetIfAbsent:
			if _, ok := out[a.name]; !ok {
				out[a.name] = a.value.clone()
			}
		case updateAdd:
			existing, ok := out[a.name]
			if ok && existing.N == nil {
				return nil, fmt.Errorf("%w: add on non-numeric attribute %q", ErrValidation, a.name)
			}
			base := decimal.Zero
			if ok {
				base = *existing.N
			}
			out[a.name] = N(base.Add(a.delta))
		case updateRemove:
			delete(out, a.name)
		}
	}
	return out, nil
}

func (u *Update) String() string {
	if u == nil {
		return ""
	}
	parts := make([]string, 0, len(u.actions))
	for _, a := range u.actions {
		switch a.kind {
		case updateSet:
			parts = append(parts, fmt.Sprintf("SET %s = %s", a.name, a.value))
		case updateSetIfAbsent:
			parts = append(parts, fmt.Sprintf("SET %s = if_not_exists(%s, %s)", a.name, a.name, a.value))
		case updateAdd:
			parts = append(parts, fmt.Sprintf("ADD %s %s", a.name, a.delta))
		case updateRemove:
			parts = append(parts, fmt.Sprintf("REMOVE %s", a.name))
		}
	}
	return strings.Join(parts, ", ")
}
