package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deal-engine/generic"
	"github.com/warp/deal-engine/generic/storetest"
	"github.com/warp/deal-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) generic.RecordStore {
		return newTestStore(t)
	})
}

func TestSQLite_ValuesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := generic.NewKey("deals", "deal-1")
	attrs := generic.Attributes{
		"title":    generic.S("Spring launch"),
		"value":    generic.N(decimal.RequireFromString("149.99")),
		"invitees": generic.SS("b", "a"),
		"private":  generic.Bool(true),
	}

	_, err := s.Put(ctx, generic.Item{Key: key, Attributes: attrs}, nil)
	require.NoError(t, err)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "Spring launch", got.Attributes.String("title"))
	assert.True(t, got.Attributes.Number("value").Equal(decimal.RequireFromString("149.99")))
	assert.ElementsMatch(t, []string{"a", "b"}, got.Attributes.Strings("invitees"))
	assert.True(t, got.Attributes.Bool("private"))
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	// GIVEN: An item written to a file-backed store
	// WHEN: The store is closed and reopened
	// THEN: The item and its version are still there

	path := filepath.Join(t.TempDir(), "deals.db")
	ctx := context.Background()
	key := generic.NewKey("deal-1", "InterlockedApproved")

	s, err := sqlite.New(path)
	require.NoError(t, err)
	_, err = s.Update(ctx, key, generic.NewUpdate().AddInt("value", 1), nil)
	require.NoError(t, err)
	_, err = s.Update(ctx, key, generic.NewUpdate().AddInt("value", 1), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	item, err := reopened.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, int64(2), item.Attributes.Int("value"))
	assert.Equal(t, int64(2), item.Version)
}

func TestSQLite_ClosedStore_IsUnavailable(t *testing.T) {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Get(context.Background(), generic.NewKey("p", "a"))
	assert.ErrorIs(t, err, generic.ErrStoreUnavailable)
	assert.True(t, generic.IsUnavailable(err))
}
