/*
store.go - Persistence interface for partitioned, conditionally-written records

PURPOSE:
  Defines the interface between the deal lifecycle and the database.
  The store offers single-item conditional writes plus one bounded,
  all-or-nothing, multi-item conditional transaction. That transaction is the
  only strong-consistency primitive the domain relies on.

KEY INTERFACES:
  RecordStore: Get / Put / Update / Delete / Query / Transact

CONDITIONAL WRITES:
  Every write takes an optional Condition evaluated against the stored item.
  A failed condition returns ErrConditionFailed and writes nothing.

TRANSACTIONS:
  Transact() takes at most MaxTransactItems operations, each on a distinct key.
  Either every condition holds and every write is applied, or none are and a
  *TransactionCanceledError lists a reason per operation.

  ┌────────────────────────────────────────────────────────────────┐
  │  Transact([update counter IF value < limit,                   │
  │            put request    IF status IN (requested, invited)])  │
  │                                                                │
  │      all conditions hold ──▶ all writes applied, versions +1   │
  │      any condition fails ──▶ nothing applied, canceled error   │
  └────────────────────────────────────────────────────────────────┘

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory for tests and local runs
  - store/sqlite/sqlite.go:  SQLite, one SQL transaction per call

SEE ALSO:
  - condition.go: Preconditions
  - update.go:    Update expressions
  - errors.go:    Error values
*/
package generic

import (
	"context"
	"fmt"
)

// MaxTransactItems bounds the number of operations in one Transact call.
const MaxTransactItems = 25

// =============================================================================
// RECORD STORE
// =============================================================================

// RecordStore persists items addressed by (partition, sort) keys.
type RecordStore interface {
	// Get returns the item, or nil when absent.
	Get(ctx context.Context, key Key) (*Item, error)

	// Put writes item if cond holds and returns the item it replaced (nil when
	// there was none). The stored version becomes previous+1.
	Put(ctx context.Context, item Item, cond Condition) (*Item, error)

	// Update applies upd to the stored item (or to an empty item when absent)
	// if cond holds, and returns the resulting item.
	Update(ctx context.Context, key Key, upd *Update, cond Condition) (*Item, error)

	// Delete removes the item if cond holds. Deleting an absent item is not an error.
	Delete(ctx context.Context, key Key, cond Condition) error

	// Query returns the items of one partition whose sort key starts with
	// sortPrefix, ordered by sort key.
	Query(ctx context.Context, partition, sortPrefix string) ([]Item, error)

	// Transact applies ops atomically.
	Transact(ctx context.Context, ops []TxOp) error
}

// =============================================================================
// TRANSACTION OPERATIONS
// =============================================================================

type TxOpKind int

const (
	TxPut TxOpKind = iota
	TxUpdate
	TxDelete
	TxConditionCheck
)

func (k TxOpKind) String() string {
	switch k {
	case TxPut:
		return "put"
	case TxUpdate:
		return "update"
	case TxDelete:
		return "delete"
	case TxConditionCheck:
		return "condition_check"
	default:
		return "unknown"
	}
}

// TxOp is one operation of a transaction.
type TxOp struct {
	Kind       TxOpKind
	Key        Key
	Attributes Attributes // TxPut
	Update     *Update    // TxUpdate
	Condition  Condition
}

func PutOp(item Item, cond Condition) TxOp {
	return TxOp{Kind: TxPut, Key: item.Key, Attributes: item.Attributes, Condition: cond}
}

func UpdateOp(key Key, upd *Update, cond Condition) TxOp {
	return TxOp{Kind: TxUpdate, Key: key, Update: upd, Condition: cond}
}

func DeleteOp(key Key, cond Condition) TxOp {
	return TxOp{Kind: TxDelete, Key: key, Condition: cond}
}

func ConditionCheckOp(key Key, cond Condition) TxOp {
	return TxOp{Kind: TxConditionCheck, Key: key, Condition: cond}
}

func (op TxOp) String() string {
	s := fmt.Sprintf("%s %s", op.Kind, op.Key)
	if op.Condition != nil {
		s += " IF " + op.Condition.String()
	}
	return s
}

// ValidateTransaction checks the structural rules every implementation shares.
func ValidateTransaction(ops []TxOp) error {
	if len(ops) == 0 {
		return fmt.Errorf("%w: empty transaction", ErrValidation)
	}
	if len(ops) > MaxTransactItems {
		return fmt.Errorf("%w: %d operations", ErrTransactionTooLarge, len(ops))
	}
	seen := make(map[Key]bool, len(ops))
	for _, op := range ops {
		if seen[op.Key] {
			return fmt.Errorf("%w: %s", ErrDuplicateTransactItem, op.Key)
		}
		seen[op.Key] = true
	}
	return nil
}

// ApplyOp computes what op leaves behind given the currently stored item.
// It does not evaluate op.Condition. A nil result means "no item".
func ApplyOp(current *Item, op TxOp) (*Item, error) {
	nextVersion := int64(1)
	if current != nil {
		nextVersion = current.Version + 1
	}
	switch op.Kind {
	case TxPut:
		return &Item{Key: op.Key, Attributes: op.Attributes.Clone(), Version: nextVersion}, nil
	case TxUpdate:
		var base Attributes
		if current != nil {
			base = current.Attributes
		}
		attrs, err := op.Update.Apply(base)
		if err != nil {
			return nil, err
		}
		return &Item{Key: op.Key, Attributes: attrs, Version: nextVersion}, nil
	case TxDelete:
		return nil, nil
	case TxConditionCheck:
		return current.Clone(), nil
	default:
		return nil, fmt.Errorf("%w: unknown op kind %d", ErrValidation, op.Kind)
	}
}
