package testing

import (
	"context"
	"io"
	"testing"

	"github.com/marmos91/dittosync/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunReadTests executes Stat, Open and List tests.
func (suite *StoreTestSuite) RunReadTests(t *testing.T) {
	t.Run("Stat_Basic", suite.testStatBasic)
	t.Run("Stat_NotFound", suite.testStatNotFound)
	t.Run("Open_Basic", suite.testOpenBasic)
	t.Run("Open_NotFound", suite.testOpenNotFound)
	t.Run("Open_CancelledContext", suite.testOpenCancelledContext)
	t.Run("List_Empty", suite.testListEmpty)
	t.Run("List_SortedAndNested", suite.testListSortedAndNested)
}

func (suite *StoreTestSuite) testStatBasic(t *testing.T) {
	store := suite.NewStore()
	data := generateTestData(1500)
	mustWrite(t, store, "textures/rock.dds", data)

	info := mustStat(t, store, "textures/rock.dds")
	assert.Equal(t, "textures/rock.dds", info.Path)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.False(t, info.ModTime.IsZero(), "ModTime should be set")
}

func (suite *StoreTestSuite) testStatNotFound(t *testing.T) {
	store := suite.NewStore()

	_, err := store.Stat(testContext(), "missing.txt")
	AssertErrorIs(t, content.ErrContentNotFound, err)
}

func (suite *StoreTestSuite) testOpenBasic(t *testing.T) {
	store := suite.NewStore()
	data := []byte("mission script")
	mustWrite(t, store, "missions/intro.cs", data)

	r, info, err := store.Open(testContext(), "missions/intro.cs")
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, "missions/intro.cs", info.Path)
}

func (suite *StoreTestSuite) testOpenNotFound(t *testing.T) {
	store := suite.NewStore()

	_, _, err := store.Open(testContext(), "nope.bin")
	AssertErrorIs(t, content.ErrContentNotFound, err)
}

func (suite *StoreTestSuite) testOpenCancelledContext(t *testing.T) {
	store := suite.NewStore()
	mustWrite(t, store, "a.txt", []byte("a"))

	ctx, cancel := context.WithCancel(testContext())
	cancel()

	_, _, err := store.Open(ctx, "a.txt")
	AssertErrorIs(t, context.Canceled, err)
}

func (suite *StoreTestSuite) testListEmpty(t *testing.T) {
	store := suite.NewStore()
	assert.Empty(t, listPaths(t, store))
}

func (suite *StoreTestSuite) testListSortedAndNested(t *testing.T) {
	store := suite.NewStore()
	mustWrite(t, store, "b.txt", []byte("b"))
	mustWrite(t, store, "a.txt", []byte("aa"))
	mustWrite(t, store, "levels/desert/terrain.ter", []byte("ttt"))

	assert.Equal(t, []string{"a.txt", "b.txt", "levels/desert/terrain.ter"}, listPaths(t, store))

	files, err := store.List(testContext())
	require.NoError(t, err)
	assert.Equal(t, int64(2), files[0].Size)
}
