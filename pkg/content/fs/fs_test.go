package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittosync/pkg/content"
	contenttesting "github.com/marmos91/dittosync/pkg/content/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFSContentStore runs the complete Store test suite against the
// filesystem implementation, each test in its own temporary root.
func TestFSContentStore(t *testing.T) {
	suite := &contenttesting.StoreTestSuite{
		NewStore: func() content.Store {
			store, err := NewFSContentStore(context.Background(), Config{Path: t.TempDir()})
			if err != nil {
				t.Fatalf("Failed to create FSContentStore: %v", err)
			}
			return store
		},
	}

	suite.Run(t)
}

func TestFSContentStore_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "root")

	store, err := NewFSContentStore(context.Background(), Config{Path: root})
	require.NoError(t, err)

	info, err := os.Stat(store.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFSContentStore_ReadOnly(t *testing.T) {
	ctx := context.Background()

	t.Run("MissingRootIsAnError", func(t *testing.T) {
		_, err := NewFSContentStore(ctx, Config{Path: filepath.Join(t.TempDir(), "missing"), ReadOnly: true})
		assert.Error(t, err)
	})

	t.Run("StoreFlag", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0644))

		store, err := NewFSContentStore(ctx, Config{Path: root, ReadOnly: true})
		require.NoError(t, err)

		assert.False(t, store.IsWritable(ctx, "a.txt"))
		_, err = store.Create(ctx, "a.txt")
		assert.ErrorIs(t, err, content.ErrReadOnly)

		data, err := content.ReadAll(ctx, store, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, []byte("a"), data)
	})

	t.Run("FilePermissionBits", func(t *testing.T) {
		root := t.TempDir()
		locked := filepath.Join(root, "locked.txt")
		require.NoError(t, os.WriteFile(locked, []byte("x"), 0444))

		store, err := NewFSContentStore(ctx, Config{Path: root})
		require.NoError(t, err)

		assert.False(t, store.IsWritable(ctx, "locked.txt"))
		assert.True(t, store.IsWritable(ctx, "unlocked.txt"))

		_, err = store.Create(ctx, "locked.txt")
		assert.ErrorIs(t, err, content.ErrReadOnly)
	})

	t.Run("FileInTheWayOfParent", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, "file"), []byte("x"), 0644))

		store, err := NewFSContentStore(ctx, Config{Path: root})
		require.NoError(t, err)
		assert.False(t, store.IsWritable(ctx, "file/child.txt"))
	})
}

func TestFSContentStore_DirectoryIsNotContent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dir"), 0755))

	store, err := NewFSContentStore(ctx, Config{Path: root})
	require.NoError(t, err)

	_, err = store.Stat(ctx, "dir")
	assert.ErrorIs(t, err, content.ErrContentNotFound)

	_, _, err = store.Open(ctx, "dir")
	assert.ErrorIs(t, err, content.ErrContentNotFound)

	files, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
}
