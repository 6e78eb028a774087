package testing

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunWriteTests verifies WriteContent and Delete.
func (suite *StoreTestSuite) RunWriteTests(t *testing.T) {
	t.Run("Overwrite", suite.testOverwrite)
	t.Run("NonSeekableReader", suite.testNonSeekable)
	t.Run("Delete", suite.testDelete)
	t.Run("IndependentIDs", suite.testIndependentIDs)
}

func (suite *StoreTestSuite) testOverwrite(t *testing.T) {
	store := suite.NewStore(t)
	mustWriteContent(t, store, "blob", pattern(100))

	// Prime any read-side caching before the rewrite.
	_, err := store.ReadAt(testContext(), "blob", make([]byte, 10), 0)
	require.NoError(t, err)

	mustWriteContent(t, store, "blob", []byte("short"))
	assert.Equal(t, uint64(5), mustGetSize(t, store, "blob"))

	buf := make([]byte, 5)
	n, err := store.ReadAt(testContext(), "blob", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "short", string(buf[:n]))
}

func (suite *StoreTestSuite) testNonSeekable(t *testing.T) {
	store := suite.NewStore(t)

	// io.MultiReader hides Seek from the store.
	r := io.MultiReader(strings.NewReader("hello "), bytes.NewReader([]byte("world")))
	n, err := store.WriteContent(testContext(), "blob", r)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	buf := make([]byte, 11)
	_, err = store.ReadAt(testContext(), "blob", buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf))
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	store := suite.NewStore(t)
	mustWriteContent(t, store, "blob", pattern(10))

	require.NoError(t, store.Delete(testContext(), "blob"))
	assert.False(t, mustExist(t, store, "blob"))

	// Deleting again is fine.
	assert.NoError(t, store.Delete(testContext(), "blob"))
}

func (suite *StoreTestSuite) testIndependentIDs(t *testing.T) {
	store := suite.NewStore(t)
	mustWriteContent(t, store, "a", []byte("aaaa"))
	mustWriteContent(t, store, "b", []byte("bb"))

	assert.Equal(t, uint64(4), mustGetSize(t, store, "a"))
	assert.Equal(t, uint64(2), mustGetSize(t, store, "b"))

	require.NoError(t, store.Delete(testContext(), "a"))
	assert.True(t, mustExist(t, store, "b"))
}
