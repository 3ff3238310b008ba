package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deal-engine/generic"
	"github.com/warp/deal-engine/generic/store"
	"github.com/warp/deal-engine/generic/storetest"
)

func TestMemory_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) generic.RecordStore {
		return store.NewMemory()
	})
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	// GIVEN: A stored item
	// WHEN: The caller mutates what Get returned
	// THEN: The stored item is unchanged

	mem := store.NewMemory()
	ctx := context.Background()
	key := generic.NewKey("p", "a")
	_, err := mem.Put(ctx, generic.Item{Key: key, Attributes: generic.Attributes{"status": generic.S("requested")}}, nil)
	require.NoError(t, err)

	got, err := mem.Get(ctx, key)
	require.NoError(t, err)
	got.Attributes["status"] = generic.S("tampered")

	again, err := mem.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "requested", again.Attributes.String("status"))
}

func TestMemory_Reset(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	_, err := mem.Put(ctx, generic.Item{Key: generic.NewKey("p", "a"), Attributes: generic.Attributes{}}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, mem.Len())

	require.NoError(t, mem.Reset(ctx))
	assert.Equal(t, 0, mem.Len())
}
