/*
Package sqlite provides a SQLite-backed implementation of generic.RecordStore.

PURPOSE:
  Implements the partitioned record store on a single SQLite table. In
  production the same contract is served by a partitioned key-value store
  with native conditional transactions; SQLite gives us a durable local
  equivalent with identical semantics.

KEY TABLE:
  items: (partition_key, sort_key) primary key, JSON attributes, version

CONDITIONAL WRITES:
  Each write runs inside a SQL transaction: read the current row, evaluate
  the generic.Condition against it, then write the row with version+1.
  Transact() evaluates every condition of the batch before writing any row,
  and commits or rolls back the whole SQL transaction.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so ":memory:"
  databases are shared by every caller. In production with a server-side
  store, the store's own isolation handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/deals.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := deals.NewService(store, catalog, accounts, notifier)

SEE ALSO:
  - generic/store.go: Interface definition
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/deal-engine/generic"
)

// Store implements generic.RecordStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ generic.RecordStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		partition_key TEXT NOT NULL,
		sort_key TEXT NOT NULL,
		attributes_json TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (partition_key, sort_key)
	);

	-- Prefix queries within a partition (request listings, history ranges)
	CREATE INDEX IF NOT EXISTS idx_items_partition_sort
		ON items(partition_key, sort_key);
	`

	_, err := s.db.Exec(schema)
	return err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SINGLE-ITEM OPERATIONS
// =============================================================================

// Get returns the item stored under key, or nil.
func (s *Store) Get(ctx context.Context, key generic.Key) (*generic.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, err := s.getTx(ctx, s.db, key)
	if err != nil {
		return nil, generic.Unavailable("get", err)
	}
	return item, nil
}

// Put writes item if cond holds and returns the replaced item.
func (s *Store) Put(ctx context.Context, item generic.Item, cond generic.Condition) (*generic.Item, error) {
	var previous *generic.Item
	err := s.withTx(ctx, "put", func(tx *sql.Tx) error {
		current, err := s.getTx(ctx, tx, item.Key)
		if err != nil {
			return err
		}
		if !generic.Check(cond, current) {
			return generic.ErrConditionFailed
		}
		next, err := generic.ApplyOp(current, generic.PutOp(item, cond))
		if err != nil {
			return err
		}
		previous = current
		return s.writeTx(ctx, tx, next)
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

// Update applies upd to the item under key if cond holds.
func (s *Store) Update(ctx context.Context, key generic.Key, upd *generic.Update, cond generic.Condition) (*generic.Item, error) {
	var result *generic.Item
	err := s.withTx(ctx, "update", func(tx *sql.Tx) error {
		current, err := s.getTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if !generic.Check(cond, current) {
			return generic.ErrConditionFailed
		}
		next, err := generic.ApplyOp(current, generic.UpdateOp(key, upd, cond))
		if err != nil {
			return err
		}
		result = next
		return s.writeTx(ctx, tx, next)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes the item under key if cond holds.
func (s *Store) Delete(ctx context.Context, key generic.Key, cond generic.Condition) error {
	return s.withTx(ctx, "delete", func(tx *sql.Tx) error {
		current, err := s.getTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if !generic.Check(cond, current) {
			return generic.ErrConditionFailed
		}
		return s.deleteTx(ctx, tx, key)
	})
}

// Query returns items of partition whose sort key starts with sortPrefix.
func (s *Store) Query(ctx context.Context, partition, sortPrefix string) ([]generic.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT partition_key, sort_key, attributes_json, version
		FROM items
		WHERE partition_key = ? AND substr(sort_key, 1, ?) = ?
		ORDER BY sort_key ASC
	`

	rows, err := s.db.QueryContext(ctx, query, partition, len(sortPrefix), sortPrefix)
	if err != nil {
		return nil, generic.Unavailable("query", err)
	}
	defer rows.Close()

	var items []generic.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, generic.Unavailable("query", err)
	}
	return items, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// Transact applies ops atomically inside one SQL transaction.
func (s *Store) Transact(ctx context.Context, ops []generic.TxOp) error {
	if err := generic.ValidateTransaction(ops); err != nil {
		return err
	}

	return s.withTx(ctx, "transact", func(tx *sql.Tx) error {
		currents := make([]*generic.Item, len(ops))
		reasons := make([]generic.CancellationReason, len(ops))
		canceled := false

		for i, op := range ops {
			current, err := s.getTx(ctx, tx, op.Key)
			if err != nil {
				return err
			}
			currents[i] = current
			reasons[i] = generic.CancellationReason{Key: op.Key, Code: generic.ReasonNone}
			if !generic.Check(op.Condition, current) {
				reasons[i].Code = generic.ReasonConditionFailed
				reasons[i].Condition = op.Condition.String()
				canceled = true
			}
		}
		if canceled {
			return &generic.TransactionCanceledError{Reasons: reasons}
		}

		for i, op := range ops {
			if op.Kind == generic.TxConditionCheck {
				continue
			}
			next, err := generic.ApplyOp(currents[i], op)
			if err != nil {
				return err
			}
			if next == nil {
				if err := s.deleteTx(ctx, tx, op.Key); err != nil {
					return err
				}
				continue
			}
			if err := s.writeTx(ctx, tx, next); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reset deletes every item. Only for demos and tests.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM items"); err != nil {
		return generic.Unavailable("reset", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// withTx runs fn in a SQL transaction under the write lock. Condition and
// validation errors pass through untouched; everything else is reported as
// the store being unavailable.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return generic.Unavailable(op, err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		if generic.IsConditionFailed(err) || generic.IsUnavailable(err) ||
			isValidation(err) {
			return err
		}
		return generic.Unavailable(op, err)
	}

	if err := sqlTx.Commit(); err != nil {
		return generic.Unavailable(op, err)
	}
	return nil
}

func (s *Store) getTx(ctx context.Context, q queryer, key generic.Key) (*generic.Item, error) {
	var attrsJSON string
	var version int64
	err := q.QueryRowContext(ctx,
		"SELECT attributes_json, version FROM items WHERE partition_key = ? AND sort_key = ?",
		key.Partition, key.Sort,
	).Scan(&attrsJSON, &version)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read item %s: %w", key, err)
	}

	attrs := generic.Attributes{}
	if err := json.Unmarshal([]byte(attrsJSON), &attrs); err != nil {
		return nil, fmt.Errorf("failed to decode item %s: %w", key, err)
	}
	return &generic.Item{Key: key, Attributes: attrs, Version: version}, nil
}

func (s *Store) writeTx(ctx context.Context, q queryer, item *generic.Item) error {
	attrsJSON, err := json.Marshal(item.Attributes)
	if err != nil {
		return fmt.Errorf("%w: encode attributes: %v", generic.ErrValidation, err)
	}

	query := `
		INSERT INTO items (partition_key, sort_key, attributes_json, version, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(partition_key, sort_key) DO UPDATE SET
			attributes_json = excluded.attributes_json,
			version = excluded.version,
			updated_at = excluded.updated_at
	`

	_, err = q.ExecContext(ctx, query,
		item.Key.Partition,
		item.Key.Sort,
		string(attrsJSON),
		item.Version,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to write item %s: %w", item.Key, err)
	}
	return nil
}

func (s *Store) deleteTx(ctx context.Context, q queryer, key generic.Key) error {
	_, err := q.ExecContext(ctx,
		"DELETE FROM items WHERE partition_key = ? AND sort_key = ?",
		key.Partition, key.Sort,
	)
	if err != nil {
		return fmt.Errorf("failed to delete item %s: %w", key, err)
	}
	return nil
}

func scanItem(rows *sql.Rows) (*generic.Item, error) {
	var (
		item      generic.Item
		attrsJSON string
	)
	if err := rows.Scan(&item.Key.Partition, &item.Key.Sort, &attrsJSON, &item.Version); err != nil {
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}
	item.Attributes = generic.Attributes{}
	if err := json.Unmarshal([]byte(attrsJSON), &item.Attributes); err != nil {
		return nil, fmt.Errorf("failed to decode item %s: %w", item.Key, err)
	}
	return &item, nil
}

func isValidation(err error) bool {
	return errors.Is(err, generic.ErrValidation) ||
		errors.Is(err, generic.ErrTransactionTooLarge) ||
		errors.Is(err, generic.ErrDuplicateTransactItem)
}
