package checksum_test

import (
	"context"
	"testing"

	"github.com/marmos91/dittosync/pkg/checksum"
	checksummemory "github.com/marmos91/dittosync/pkg/checksum/memory"
	"github.com/marmos91/dittosync/pkg/content"
	contentmemory "github.com/marmos91/dittosync/pkg/content/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver(t *testing.T) (*checksum.Resolver, *contentmemory.MemoryContentStore, *checksummemory.Cache) {
	t.Helper()
	store, err := contentmemory.NewMemoryContentStore(context.Background(), contentmemory.Config{})
	require.NoError(t, err)
	cache := checksummemory.New()
	return checksum.NewResolver(store, cache), store, cache
}

func TestResolver_Checksum(t *testing.T) {
	ctx := context.Background()

	t.Run("MissingFile", func(t *testing.T) {
		r, _, cache := newResolver(t)

		sum, exists, err := r.Checksum(ctx, "nope.txt")
		require.NoError(t, err)
		assert.False(t, exists)
		assert.Zero(t, sum)
		assert.Zero(t, cache.Len())
	})

	t.Run("ComputesAndCaches", func(t *testing.T) {
		r, store, cache := newResolver(t)
		require.NoError(t, store.Put("a.txt", []byte("123456789")))

		sum, exists, err := r.Checksum(ctx, "a.txt")
		require.NoError(t, err)
		assert.True(t, exists)
		assert.Equal(t, uint32(0xCBF43926), sum)
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("ReusesValidRecord", func(t *testing.T) {
		r, store, cache := newResolver(t)
		require.NoError(t, store.Put("a.txt", []byte("abc")))

		info, err := store.Stat(ctx, "a.txt")
		require.NoError(t, err)

		// A record matching size and mtime wins over the real content.
		require.NoError(t, cache.Put(ctx, "a.txt", checksum.Record{Sum: 0xFEED, Size: info.Size, ModTime: info.ModTime}))

		sum, _, err := r.Checksum(ctx, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, uint32(0xFEED), sum)
	})

	t.Run("StaleRecordIsRecomputed", func(t *testing.T) {
		r, store, cache := newResolver(t)
		require.NoError(t, store.Put("a.txt", []byte("abc")))
		require.NoError(t, cache.Put(ctx, "a.txt", checksum.Record{Sum: 0xFEED, Size: 99}))

		sum, _, err := r.Checksum(ctx, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, checksum.Sum([]byte("abc")), sum)

		rec, ok, err := cache.Get(ctx, "a.txt")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, sum, rec.Sum)
		assert.Equal(t, int64(3), rec.Size)
	})

	t.Run("WithoutCache", func(t *testing.T) {
		store, err := contentmemory.NewMemoryContentStore(ctx, contentmemory.Config{})
		require.NoError(t, err)
		require.NoError(t, store.Put("x", []byte("x")))

		r := checksum.NewResolver(store, nil)
		sum, exists, err := r.Checksum(ctx, "x")
		require.NoError(t, err)
		assert.True(t, exists)
		assert.Equal(t, checksum.Sum([]byte("x")), sum)
		assert.NoError(t, r.Remember(ctx, "x", 1))
		r.Invalidate(ctx, "x")
	})
}

func TestResolver_RememberAndInvalidate(t *testing.T) {
	ctx := context.Background()
	r, store, cache := newResolver(t)

	require.NoError(t, content.WriteAll(ctx, store, "up/c.txt", []byte("uploaded")))
	require.NoError(t, r.Remember(ctx, "up/c.txt", 0xCCCC))

	sum, exists, err := r.Checksum(ctx, "up/c.txt")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, uint32(0xCCCC), sum, "remembered checksum is trusted while the file is unchanged")

	r.Invalidate(ctx, "up/c.txt")
	assert.Zero(t, cache.Len())

	sum, _, err = r.Checksum(ctx, "up/c.txt")
	require.NoError(t, err)
	assert.Equal(t, checksum.Sum([]byte("uploaded")), sum)

	assert.Error(t, r.Remember(ctx, "missing.txt", 1))
}
