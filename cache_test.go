package pivot_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/pivot"
)

func TestCacheKey(t *testing.T) {
	key := pivot.CacheKey{Join: "user_things", Related: "things", Owner: 1000}
	assert.Equal(t, "m2m:user_things:things:", key.Prefix())
	assert.Equal(t, "m2m:user_things:things:1000", key.String())
}

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m := pivot.NewMemory()

	v, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))
	v, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	m := pivot.NewMemory()

	require.NoError(t, m.Set(ctx, "short", []byte("v"), time.Millisecond))
	require.NoError(t, m.Set(ctx, "forever", []byte("v"), 0))
	time.Sleep(5 * time.Millisecond)

	v, err := m.Get(ctx, "short")
	require.NoError(t, err)
	assert.Nil(t, v, "expired entries read as missing")

	v, err = m.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := pivot.NewMemory()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, m.Delete(ctx, "k"))
	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, v)

	// Deleting a missing key is a no-op.
	require.NoError(t, m.Delete(ctx, "k"))
}

func TestMemoryDeletePrefix(t *testing.T) {
	ctx := context.Background()
	m := pivot.NewMemory()

	require.NoError(t, m.Set(ctx, "m2m:user_things:things:1000", []byte("a"), 0))
	require.NoError(t, m.Set(ctx, "m2m:user_things:things:2000", []byte("b"), 0))
	require.NoError(t, m.Set(ctx, "m2m:user_tags:tags:1000", []byte("c"), 0))

	require.NoError(t, m.DeletePrefix(ctx, "m2m:user_things:things:"))

	v, err := m.Get(ctx, "m2m:user_things:things:1000")
	require.NoError(t, err)
	assert.Nil(t, v)
	v, err = m.Get(ctx, "m2m:user_things:things:2000")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = m.Get(ctx, "m2m:user_tags:tags:1000")
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), v, "other associations keep their entries")
}

func TestMemoryClear(t *testing.T) {
	ctx := context.Background()
	m := pivot.NewMemory()

	require.NoError(t, m.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, m.Clear(ctx))

	for _, key := range []string{"a", "b"} {
		v, err := m.Get(ctx, key)
		require.NoError(t, err)
		assert.Nil(t, v)
	}
}
