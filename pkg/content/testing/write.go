package testing

import (
	"testing"

	"github.com/marmos91/dittosync/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunWriteTests executes Create and IsWritable tests.
func (suite *StoreTestSuite) RunWriteTests(t *testing.T) {
	t.Run("Create_Basic", suite.testCreateBasic)
	t.Run("Create_Overwrite", suite.testCreateOverwrite)
	t.Run("Create_NestedPath", suite.testCreateNestedPath)
	t.Run("Create_StreamedChunks", suite.testCreateStreamedChunks)
	t.Run("Create_EmptyFile", suite.testCreateEmptyFile)
	t.Run("IsWritable_NewPath", suite.testIsWritableNewPath)
}

func (suite *StoreTestSuite) testCreateBasic(t *testing.T) {
	store := suite.NewStore()
	data := []byte("Hello, World!")

	mustWrite(t, store, "hello.txt", data)

	assertContentEquals(t, store, "hello.txt", data)
	assert.Equal(t, int64(len(data)), mustStat(t, store, "hello.txt").Size)
}

func (suite *StoreTestSuite) testCreateOverwrite(t *testing.T) {
	store := suite.NewStore()

	mustWrite(t, store, "over.txt", []byte("New data that is longer"))
	mustWrite(t, store, "over.txt", []byte("short"))

	assertContentEquals(t, store, "over.txt", []byte("short"))
	assert.Equal(t, int64(5), mustStat(t, store, "over.txt").Size)
}

func (suite *StoreTestSuite) testCreateNestedPath(t *testing.T) {
	store := suite.NewStore()

	mustWrite(t, store, "deep/nested/dir/file.bin", []byte{1, 2, 3})
	assertContentEquals(t, store, "deep/nested/dir/file.bin", []byte{1, 2, 3})
}

func (suite *StoreTestSuite) testCreateStreamedChunks(t *testing.T) {
	store := suite.NewStore()
	data := generateTestData(64 * 1024)

	w, err := store.Create(testContext(), "big.bin")
	require.NoError(t, err)
	for off := 0; off < len(data); off += 1000 {
		end := min(off+1000, len(data))
		_, err := w.Write(data[off:end])
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	assertContentEquals(t, store, "big.bin", data)
}

func (suite *StoreTestSuite) testCreateEmptyFile(t *testing.T) {
	store := suite.NewStore()

	w, err := store.Create(testContext(), "empty.txt")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, int64(0), mustStat(t, store, "empty.txt").Size)
	assert.Empty(t, mustRead(t, store, "empty.txt"))
}

func (suite *StoreTestSuite) testIsWritableNewPath(t *testing.T) {
	store := suite.NewStore()
	assert.True(t, store.IsWritable(testContext(), "fresh/new.txt"))
}

// RunPathTests executes path validation tests.
func (suite *StoreTestSuite) RunPathTests(t *testing.T) {
	t.Run("EscapingPathRejected", suite.testEscapingPathRejected)
	t.Run("PathsAreCleaned", suite.testPathsAreCleaned)
}

func (suite *StoreTestSuite) testEscapingPathRejected(t *testing.T) {
	store := suite.NewStore()

	for _, p := range []string{"../etc/passwd", "a/../../b", ""} {
		_, err := store.Create(testContext(), p)
		AssertErrorIs(t, content.ErrInvalidPath, err)

		_, err = store.Stat(testContext(), p)
		AssertErrorIs(t, content.ErrInvalidPath, err)

		assert.False(t, store.IsWritable(testContext(), p), p)
	}
}

func (suite *StoreTestSuite) testPathsAreCleaned(t *testing.T) {
	store := suite.NewStore()

	mustWrite(t, store, "/dir/./x.txt", []byte("x"))
	assertContentEquals(t, store, "dir/x.txt", []byte("x"))
	assert.Equal(t, "dir/x.txt", mustStat(t, store, "dir//x.txt").Path)
}
