/*
Package generic provides the partitioned record store contract.

PURPOSE:
  This package contains the domain-agnostic types the deal engine persists
  through. Records are addressed by a (partition, sort) key pair, carry a bag
  of typed attributes, and are written only through conditional operations.
  The deal lifecycle never takes an in-process lock: every invariant is
  pushed into a store precondition.

KEY CONCEPTS IN THIS FILE (types.go):
  - Key:        (Partition, Sort) address of a record
  - Value:      A typed attribute (string, decimal number, string set, bool)
  - Attributes: Named values of one record
  - Item:       A stored record with its optimistic-concurrency Version

VERSIONS:
  The store sets Version to 1 when an item is created and increments it on
  every successful write. Callers that read an item and want to write it back
  pass VersionEquals(observed) as the precondition. This is the portable form
  of "compare what you replaced": a lost race fails the condition and nothing
  is written.

NUMBERS:
  Numeric attributes are decimal.Decimal. Counters are integral in practice
  but the store does not care.

SEE ALSO:
  - condition.go: Preconditions
  - update.go:    Update expressions
  - store.go:     RecordStore interface and transactions
*/
package generic

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// KEY
// =============================================================================

// Key addresses one record.
type Key struct {
	Partition string `json:"pk"`
	Sort      string `json:"sk"`
}

func NewKey(partition, sort string) Key {
	return Key{Partition: partition, Sort: sort}
}

func (k Key) String() string {
	return k.Partition + "/" + k.Sort
}

// =============================================================================
// VALUE - Typed attribute
// =============================================================================

// Value is a single typed attribute. Exactly one field is set.
type Value struct {
	S    *string          `json:"s,omitempty"`
	N    *decimal.Decimal `json:"n,omitempty"`
	SS   []string         `json:"ss,omitempty"`
	BOOL *bool            `json:"bool,omitempty"`
}

func S(s string) Value {
	return Value{S: &s}
}

func N(d decimal.Decimal) Value {
	return Value{N: &d}
}

func NInt(n int64) Value {
	return N(decimal.NewFromInt(n))
}

func SS(ss ...string) Value {
	out := make([]string, len(ss))
	copy(out, ss)
	return Value{SS: out}
}

func Bool(b bool) Value {
	return Value{BOOL: &b}
}

// IsNumber reports whether v holds a number.
func (v Value) IsNumber() bool { return v.N != nil }

// Equal compares two values by kind and content.
func (v Value) Equal(o Value) bool {
	switch {
	case v.S != nil:
		return o.S != nil && *v.S == *o.S
	case v.N != nil:
		return o.N != nil && v.N.Equal(*o.N)
	case v.BOOL != nil:
		return o.BOOL != nil && *v.BOOL == *o.BOOL
	case v.SS != nil:
		if o.SS == nil || len(v.SS) != len(o.SS) {
			return false
		}
		a := append([]string(nil), v.SS...)
		b := append([]string(nil), o.SS...)
		sort.Strings(a)
		sort.Strings(b)
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	default:
		return o.S == nil && o.N == nil && o.BOOL == nil && o.SS == nil
	}
}

func (v Value) String() string {
	switch {
	case v.S != nil:
		return *v.S
	case v.N != nil:
		return v.N.String()
	case v.BOOL != nil:
		return fmt.Sprintf("%t", *v.BOOL)
	case v.SS != nil:
		return "[" + strings.Join(v.SS, ",") + "]"
	default:
		return "<null>"
	}
}

func (v Value) clone() Value {
	out := Value{}
	if v.S != nil {
		s := *v.S
		out.S = &s
	}
	if v.N != nil {
		n := *v.N
		out.N = &n
	}
	if v.BOOL != nil {
		b := *v.BOOL
		out.BOOL = &b
	}
	if v.SS != nil {
		out.SS = append([]string{}, v.SS...)
	}
	return out
}

// =============================================================================
// ATTRIBUTES / ITEM
// =============================================================================

type Attributes map[string]Value

// String returns the string attribute name, or "" when absent or not a string.
func (a Attributes) String(name string) string {
	if v, ok := a[name]; ok && v.S != nil {
		return *v.S
	}
	return ""
}

// Number returns the numeric attribute name, or zero.
func (a Attributes) Number(name string) decimal.Decimal {
	if v, ok := a[name]; ok && v.N != nil {
		return *v.N
	}
	return decimal.Zero
}

// Int returns the numeric attribute name truncated to int64.
func (a Attributes) Int(name string) int64 {
	return a.Number(name).IntPart()
}

func (a Attributes) Strings(name string) []string {
	if v, ok := a[name]; ok && v.SS != nil {
		return append([]string{}, v.SS...)
	}
	return nil
}

func (a Attributes) Bool(name string) bool {
	if v, ok := a[name]; ok && v.BOOL != nil {
		return *v.BOOL
	}
	return false
}

func (a Attributes) Has(name string) bool {
	_, ok := a[name]
	return ok
}

func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v.clone()
	}
	return out
}

// Item is one stored record.
type Item struct {
	Key        Key        `json:"key"`
	Attributes Attributes `json:"attributes"`
	Version    int64      `json:"version"`
}

// Clone returns a deep copy so callers never alias store state.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	return &Item{Key: i.Key, Attributes: i.Attributes.Clone(), Version: i.Version}
}
