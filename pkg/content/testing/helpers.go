package testing

import (
	"errors"
	"testing"

	"github.com/marmos91/dittosync/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorIs checks if the error matches the expected error using errors.Is.
func AssertErrorIs(t *testing.T, expected error, actual error) {
	t.Helper()
	if !errors.Is(actual, expected) {
		t.Errorf("Expected error %v, got %v", expected, actual)
	}
}

// mustWrite replaces path with data and fails the test if it errors.
func mustWrite(t *testing.T, store content.Store, path string, data []byte) {
	t.Helper()
	err := content.WriteAll(testContext(), store, path, data)
	require.NoError(t, err, "WriteAll should succeed")
}

// mustRead reads path and fails the test if it errors.
func mustRead(t *testing.T, store content.Store, path string) []byte {
	t.Helper()
	data, err := content.ReadAll(testContext(), store, path)
	require.NoError(t, err, "ReadAll should succeed")
	return data
}

// mustStat stats path and fails the test if it errors.
func mustStat(t *testing.T, store content.Store, path string) content.FileInfo {
	t.Helper()
	info, err := store.Stat(testContext(), path)
	require.NoError(t, err, "Stat should succeed")
	return info
}

// assertContentEquals checks if content matches expected data.
func assertContentEquals(t *testing.T, store content.Store, path string, expected []byte) {
	t.Helper()
	actual := mustRead(t, store, path)
	assert.Equal(t, expected, actual, "Content data mismatch")
}

// generateTestData creates test data of specified size.
func generateTestData(size int) []byte {
	data := make([]byte, size)
	for i := 0; i < size; i++ {
		data[i] = byte(i % 256)
	}
	return data
}

// listPaths returns the paths reported by List.
func listPaths(t *testing.T, store content.Store) []string {
	t.Helper()
	files, err := store.List(testContext())
	require.NoError(t, err, "List should succeed")

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths
}
