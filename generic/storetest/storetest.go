// Package storetest checks a generic.RecordStore implementation against the
// behaviour the deal lifecycle relies on. Every implementation's tests call Run.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deal-engine/generic"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) generic.RecordStore

// Run executes the shared suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("PutVersions", func(t *testing.T) { testPutVersions(t, newStore(t)) })
	t.Run("PutConditions", func(t *testing.T) { testPutConditions(t, newStore(t)) })
	t.Run("UpdateExpressions", func(t *testing.T) { testUpdateExpressions(t, newStore(t)) })
	t.Run("UpdateNonNumber", func(t *testing.T) { testUpdateNonNumber(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("QueryPrefix", func(t *testing.T) { testQueryPrefix(t, newStore(t)) })
	t.Run("TransactAllOrNothing", func(t *testing.T) { testTransactAllOrNothing(t, newStore(t)) })
	t.Run("TransactValidation", func(t *testing.T) { testTransactValidation(t, newStore(t)) })
	t.Run("TransactCappedCounter", func(t *testing.T) { testTransactCappedCounter(t, newStore(t)) })
}

func key(sort string) generic.Key {
	return generic.NewKey("p", sort)
}

func testGetMissing(t *testing.T, s generic.RecordStore) {
	item, err := s.Get(context.Background(), key("missing"))
	require.NoError(t, err)
	assert.Nil(t, item)
}

func testPutVersions(t *testing.T, s generic.RecordStore) {
	ctx := context.Background()
	item := generic.Item{Key: key("a"), Attributes: generic.Attributes{"status": generic.S("requested")}}

	replaced, err := s.Put(ctx, item, generic.NotExists())
	require.NoError(t, err)
	assert.Nil(t, replaced)

	item.Attributes["status"] = generic.S("in_progress")
	replaced, err = s.Put(ctx, item, generic.VersionEquals(1))
	require.NoError(t, err)
	require.NotNil(t, replaced)
	assert.Equal(t, "requested", replaced.Attributes.String("status"))

	stored, err := s.Get(ctx, key("a"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	assert.Equal(t, "in_progress", stored.Attributes.String("status"))
}

func testPutConditions(t *testing.T, s generic.RecordStore) {
	ctx := context.Background()
	item := generic.Item{Key: key("a"), Attributes: generic.Attributes{"status": generic.S("requested")}}
	_, err := s.Put(ctx, item, nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		cond generic.Condition
		ok   bool
	}{
		{"not exists", generic.NotExists(), false},
		{"exists", generic.Exists(), true},
		{"stale version", generic.VersionEquals(7), false},
		{"status in", generic.AttrIn("status", generic.S("requested"), generic.S("invited")), true},
		{"status not in", generic.AttrIn("status", generic.S("denied")), false},
		{"status not equals target", generic.AttrNotEquals("status", generic.S("requested")), false},
		{"or", generic.Or(generic.VersionEquals(7), generic.AttrEquals("status", generic.S("requested"))), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, err := s.Get(ctx, key("a"))
			require.NoError(t, err)

			_, err = s.Put(ctx, generic.Item{Key: key("a"), Attributes: before.Attributes}, generic.And(tt.cond, generic.VersionEquals(before.Version)))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, generic.ErrConditionFailed)
				after, err := s.Get(ctx, key("a"))
				require.NoError(t, err)
				assert.Equal(t, before.Version, after.Version, "failed condition writes nothing")
			}
		})
	}
}

func testUpdateExpressions(t *testing.T, s generic.RecordStore) {
	ctx := context.Background()
	upd := generic.NewUpdate().
		SetIfAbsent("created", generic.S("first")).
		Set("label", generic.S("x")).
		AddInt("value", 1)

	item, err := s.Update(ctx, key("counter"), upd, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), item.Attributes.Int("value"))
	assert.Equal(t, int64(1), item.Version)

	upd = generic.NewUpdate().
		SetIfAbsent("created", generic.S("second")).
		Add("value", decimal.NewFromInt(-3)).
		Remove("label")
	item, err = s.Update(ctx, key("counter"), upd, generic.Exists())
	require.NoError(t, err)
	assert.Equal(t, "first", item.Attributes.String("created"))
	assert.Equal(t, int64(-2), item.Attributes.Int("value"))
	assert.False(t, item.Attributes.Has("label"))
	assert.Equal(t, int64(2), item.Version)

	_, err = s.Update(ctx, key("other"), generic.NewUpdate().AddInt("value", 1), generic.Exists())
	assert.ErrorIs(t, err, generic.ErrConditionFailed)
}

func testUpdateNonNumber(t *testing.T, s generic.RecordStore) {
	ctx := context.Background()
	_, err := s.Put(ctx, generic.Item{Key: key("a"), Attributes: generic.Attributes{"value": generic.S("text")}}, nil)
	require.NoError(t, err)

	_, err = s.Update(ctx, key("a"), generic.NewUpdate().AddInt("value", 1), nil)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func testDelete(t *testing.T, s generic.RecordStore) {
	ctx := context.Background()
	_, err := s.Put(ctx, generic.Item{Key: key("a"), Attributes: generic.Attributes{}}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Delete(ctx, key("a"), generic.VersionEquals(9)), generic.ErrConditionFailed)
	require.NoError(t, s.Delete(ctx, key("a"), generic.VersionEquals(1)))
	require.NoError(t, s.Delete(ctx, key("a"), nil), "deleting an absent item is not an error")

	item, err := s.Get(ctx, key("a"))
	require.NoError(t, err)
	assert.Nil(t, item)
}

func testQueryPrefix(t *testing.T, s generic.RecordStore) {
	ctx := context.Background()
	for _, sort := range []string{"request#b", "request#a", "stat#deal#x", "request_x"} {
		_, err := s.Put(ctx, generic.Item{Key: key(sort), Attributes: generic.Attributes{}}, nil)
		require.NoError(t, err)
	}
	_, err := s.Put(ctx, generic.Item{Key: generic.NewKey("other", "request#c"), Attributes: generic.Attributes{}}, nil)
	require.NoError(t, err)

	items, err := s.Query(ctx, "p", "request#")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "request#a", items[0].Key.Sort)
	assert.Equal(t, "request#b", items[1].Key.Sort)

	all, err := s.Query(ctx, "p", "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func testTransactAllOrNothing(t *testing.T, s generic.RecordStore) {
	ctx := context.Background()
	_, err := s.Put(ctx, generic.Item{Key: key("req"), Attributes: generic.Attributes{"status": generic.S("denied")}}, nil)
	require.NoError(t, err)

	err = s.Transact(ctx, []generic.TxOp{
		generic.UpdateOp(key("counter"), generic.NewUpdate().AddInt("value", 1), nil),
		generic.PutOp(generic.Item{Key: key("req"), Attributes: generic.Attributes{"status": generic.S("in_progress")}},
			generic.AttrIn("status", generic.S("requested"))),
	})

	var canceled *generic.TransactionCanceledError
	require.ErrorAs(t, err, &canceled)
	assert.ErrorIs(t, err, generic.ErrConditionFailed)
	assert.False(t, canceled.Failed(0))
	assert.True(t, canceled.Failed(1))

	counter, err := s.Get(ctx, key("counter"))
	require.NoError(t, err)
	assert.Nil(t, counter, "no partial state after an aborted transaction")

	err = s.Transact(ctx, []generic.TxOp{
		generic.UpdateOp(key("counter"), generic.NewUpdate().AddInt("value", 1), nil),
		generic.PutOp(generic.Item{Key: key("req"), Attributes: generic.Attributes{"status": generic.S("in_progress")}},
			generic.AttrIn("status", generic.S("denied"))),
		generic.ConditionCheckOp(key("missing"), generic.NotExists()),
	})
	require.NoError(t, err)

	req, err := s.Get(ctx, key("req"))
	require.NoError(t, err)
	assert.Equal(t, "in_progress", req.Attributes.String("status"))
	assert.Equal(t, int64(2), req.Version)

	missing, err := s.Get(ctx, key("missing"))
	require.NoError(t, err)
	assert.Nil(t, missing, "condition checks write nothing")
}

func testTransactValidation(t *testing.T, s generic.RecordStore) {
	ctx := context.Background()

	assert.ErrorIs(t, s.Transact(ctx, nil), generic.ErrValidation)

	dup := []generic.TxOp{
		generic.ConditionCheckOp(key("a"), nil),
		generic.ConditionCheckOp(key("a"), nil),
	}
	assert.ErrorIs(t, s.Transact(ctx, dup), generic.ErrDuplicateTransactItem)

	var big []generic.TxOp
	for i := 0; i <= generic.MaxTransactItems; i++ {
		big = append(big, generic.ConditionCheckOp(key(fmt.Sprintf("k%d", i)), nil))
	}
	assert.ErrorIs(t, s.Transact(ctx, big), generic.ErrTransactionTooLarge)
}

func testTransactCappedCounter(t *testing.T, s generic.RecordStore) {
	// GIVEN: A counter capped at 5
	// WHEN: 20 writers race to bump it
	// THEN: Exactly 5 succeed

	const limit, writers = 5, 20
	ctx := context.Background()
	cond := generic.Or(
		generic.AttrNotExists("value"),
		generic.AttrLessThan("value", decimal.NewFromInt(limit)),
	)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Transact(ctx, []generic.TxOp{
				generic.UpdateOp(key("cap"), generic.NewUpdate().AddInt("value", 1), cond),
				generic.PutOp(generic.Item{Key: key(fmt.Sprintf("w%d", i)), Attributes: generic.Attributes{}}, generic.NotExists()),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, limit, succeeded)
	counter, err := s.Get(ctx, key("cap"))
	require.NoError(t, err)
	assert.Equal(t, int64(limit), counter.Attributes.Int("value"))
}
