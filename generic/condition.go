package generic

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONDITION - Precondition evaluated against the stored item
// =============================================================================

// Condition is a precondition on the currently stored item (nil when absent).
// A nil Condition always holds.
type Condition interface {
	Holds(current *Item) bool
	String() string
}

type notExists struct{}

func (notExists) Holds(current *Item) bool { return current == nil }
func (notExists) String() string           { return "not_exists()" }

// NotExists holds when no item is stored under the key.
func NotExists() Condition { return notExists{} }

type exists struct{}

func (exists) Holds(current *Item) bool { return current != nil }
func (exists) String() string           { return "exists()" }

// Exists holds when an item is stored under the key.
func Exists() Condition { return exists{} }

type versionEquals struct{ version int64 }

func (c versionEquals) Holds(current *Item) bool {
	return current != nil && current.Version == c.version
}
func (c versionEquals) String() string { return fmt.Sprintf("version = %d", c.version) }

// VersionEquals holds when the stored item exists at exactly this version.
func VersionEquals(v int64) Condition { return versionEquals{version: v} }

type attrEquals struct {
	name  string
	value Value
	not   bool
}

func (c attrEquals) Holds(current *Item) bool {
	var eq bool
	if current != nil {
		if v, ok := current.Attributes[c.name]; ok {
			eq = v.Equal(c.value)
		}
	}
	if c.not {
		return !eq
	}
	return eq
}

func (c attrEquals) String() string {
	op := "="
	if c.not {
		op = "<>"
	}
	return fmt.Sprintf("%s %s %s", c.name, op, c.value)
}

// AttrEquals holds when the attribute exists and equals v.
func AttrEquals(name string, v Value) Condition { return attrEquals{name: name, value: v} }

// AttrNotEquals holds when the attribute is absent or differs from v.
func AttrNotEquals(name string, v Value) Condition {
	return attrEquals{name: name, value: v, not: true}
}

type attrIn struct {
	name   string
	values []Value
}

func (c attrIn) Holds(current *Item) bool {
	if current == nil {
		return false
	}
	v, ok := current.Attributes[c.name]
	if !ok {
		return false
	}
	for _, candidate := range c.values {
		if v.Equal(candidate) {
			return true
		}
	}
	return false
}

func (c attrIn) String() string {
	parts := make([]string, len(c.values))
	for i, v := range c.values {
		parts[i] = v.String()
	}
	return fmt.Sprintf("%s in (%s)", c.name, strings.Join(parts, ", "))
}

// AttrIn holds when the attribute equals one of values.
func AttrIn(name string, values ...Value) Condition { return attrIn{name: name, values: values} }

type attrLessThan struct {
	name  string
	limit decimal.Decimal
}

func (c attrLessThan) Holds(current *Item) bool {
	if current == nil {
		return false
	}
	v, ok := current.Attributes[c.name]
	if !ok || v.N == nil {
		return false
	}
	return v.N.LessThan(c.limit)
}

func (c attrLessThan) String() string { return fmt.Sprintf("%s < %s", c.name, c.limit) }

// AttrLessThan holds when the numeric attribute exists and is below limit.
func AttrLessThan(name string, limit decimal.Decimal) Condition {
	return attrLessThan{name: name, limit: limit}
}

type attrNotExists struct{ name string }

func (c attrNotExists) Holds(current *Item) bool {
	if current == nil {
		return true
	}
	_, ok := current.Attributes[c.name]
	return !ok
}

func (c attrNotExists) String() string { return fmt.Sprintf("attribute_not_exists(%s)", c.name) }

// AttrNotExists holds when the item or the attribute is absent.
func AttrNotExists(name string) Condition { return attrNotExists{name: name} }

type and []Condition

func (c and) Holds(current *Item) bool {
	for _, cond := range c {
		if cond != nil && !cond.Holds(current) {
			return false
		}
	}
	return true
}

func (c and) String() string { return join(c, " AND ") }

// And holds when every condition holds.
func And(conds ...Condition) Condition { return and(conds) }

type or []Condition

func (c or) Holds(current *Item) bool {
	for _, cond := range c {
		if cond == nil || cond.Holds(current) {
			return true
		}
	}
	return false
}

func (c or) String() string { return join(c, " OR ") }

// Or holds when at least one condition holds.
func Or(conds ...Condition) Condition { return or(conds) }

func join(conds []Condition, sep string) string {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		if c == nil {
			continue
		}
		parts = append(parts, c.String())
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// Check evaluates cond against current; a nil condition always holds.
func Check(cond Condition, current *Item) bool {
	if cond == nil {
		return true
	}
	return cond.Holds(current)
}
