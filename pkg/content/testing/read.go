package testing

import (
	"context"
	"io"
	"testing"

	"github.com/marmos91/h5fs/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunReadAtTests verifies io.ReaderAt semantics of ReadAt.
func (suite *StoreTestSuite) RunReadAtTests(t *testing.T) {
	t.Run("FullAndPartial", suite.testReadAtWindows)
	t.Run("ShortReadAtEnd", suite.testReadAtShort)
	t.Run("PastEnd", suite.testReadAtPastEnd)
	t.Run("NotFound", suite.testReadAtNotFound)
	t.Run("NegativeOffset", suite.testReadAtNegative)
	t.Run("EmptyBuffer", suite.testReadAtEmptyBuffer)
	t.Run("CancelledContext", suite.testReadAtCancelled)
}

func (suite *StoreTestSuite) testReadAtWindows(t *testing.T) {
	store := suite.NewStore(t)
	data := pattern(1000)
	mustWriteContent(t, store, "blob", data)

	windows := []struct{ off, n int }{{0, 1000}, {0, 1}, {999, 1}, {100, 250}, {512, 488}}
	for _, w := range windows {
		buf := make([]byte, w.n)
		n, err := store.ReadAt(testContext(), "blob", buf, int64(w.off))
		require.NoError(t, err, "window %+v", w)
		assert.Equal(t, w.n, n)
		assert.Equal(t, data[w.off:w.off+w.n], buf)
	}
}

func (suite *StoreTestSuite) testReadAtShort(t *testing.T) {
	store := suite.NewStore(t)
	data := pattern(100)
	mustWriteContent(t, store, "blob", data)

	buf := make([]byte, 50)
	n, err := store.ReadAt(testContext(), "blob", buf, 80)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 20, n)
	assert.Equal(t, data[80:], buf[:n])
}

func (suite *StoreTestSuite) testReadAtPastEnd(t *testing.T) {
	store := suite.NewStore(t)
	mustWriteContent(t, store, "blob", pattern(10))

	buf := make([]byte, 4)
	n, err := store.ReadAt(testContext(), "blob", buf, 10)
	assert.Equal(t, io.EOF, err)
	assert.Zero(t, n)

	n, err = store.ReadAt(testContext(), "blob", buf, 1<<40)
	assert.Equal(t, io.EOF, err)
	assert.Zero(t, n)
}

func (suite *StoreTestSuite) testReadAtNotFound(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.ReadAt(testContext(), "missing", make([]byte, 4), 0)
	assert.ErrorIs(t, err, content.ErrContentNotFound)
}

func (suite *StoreTestSuite) testReadAtNegative(t *testing.T) {
	store := suite.NewStore(t)
	mustWriteContent(t, store, "blob", pattern(10))

	_, err := store.ReadAt(testContext(), "blob", make([]byte, 4), -1)
	assert.ErrorIs(t, err, content.ErrInvalidOffset)
}

func (suite *StoreTestSuite) testReadAtEmptyBuffer(t *testing.T) {
	store := suite.NewStore(t)
	mustWriteContent(t, store, "blob", pattern(10))

	n, err := store.ReadAt(testContext(), "blob", nil, 3)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func (suite *StoreTestSuite) testReadAtCancelled(t *testing.T) {
	store := suite.NewStore(t)
	mustWriteContent(t, store, "blob", pattern(10))

	ctx, cancel := context.WithCancel(testContext())
	cancel()

	_, err := store.ReadAt(ctx, "blob", make([]byte, 4), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

// RunMetadataTests verifies GetContentSize and ContentExists.
func (suite *StoreTestSuite) RunMetadataTests(t *testing.T) {
	store := suite.NewStore(t)

	assert.False(t, mustExist(t, store, "blob"))
	_, err := store.GetContentSize(testContext(), "blob")
	assert.ErrorIs(t, err, content.ErrContentNotFound)

	mustWriteContent(t, store, "blob", pattern(321))
	assert.True(t, mustExist(t, store, "blob"))
	assert.Equal(t, uint64(321), mustGetSize(t, store, "blob"))

	mustWriteContent(t, store, "empty", nil)
	assert.True(t, mustExist(t, store, "empty"))
	assert.Zero(t, mustGetSize(t, store, "empty"))
}
