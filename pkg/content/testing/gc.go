package testing

import (
	"context"
	"sort"
	"testing"

	"github.com/marmos91/h5fs/pkg/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunGCTests verifies GarbageCollectableStore. Stores that do not implement
// it are skipped.
func (suite *StoreTestSuite) RunGCTests(t *testing.T) {
	t.Run("ListAllContent", suite.testListAllContent)
	t.Run("DeleteBatch", suite.testDeleteBatch)
	t.Run("DeleteBatchMissing", suite.testDeleteBatchMissing)
	t.Run("DeleteBatchCancelled", suite.testDeleteBatchCancelled)
}

func (suite *StoreTestSuite) gcStore(t *testing.T) (content.WritableContentStore, content.GarbageCollectableStore) {
	t.Helper()
	store := suite.NewStore(t)
	gc, ok := store.(content.GarbageCollectableStore)
	if !ok {
		t.Skip("store does not implement GarbageCollectableStore")
	}
	return store, gc
}

func sortedIDs(ids []content.ContentID) []content.ContentID {
	out := append([]content.ContentID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (suite *StoreTestSuite) testListAllContent(t *testing.T) {
	store, gc := suite.gcStore(t)

	ids, err := gc.ListAllContent(testContext())
	require.NoError(t, err)
	assert.Empty(t, ids)

	for _, id := range []content.ContentID{"c", "a", "b", "d", "e"} {
		mustWriteContent(t, store, id, pattern(8))
	}

	ids, err = gc.ListAllContent(testContext())
	require.NoError(t, err)
	assert.Equal(t, []content.ContentID{"a", "b", "c", "d", "e"}, sortedIDs(ids))
}

func (suite *StoreTestSuite) testDeleteBatch(t *testing.T) {
	store, gc := suite.gcStore(t)

	for _, id := range []content.ContentID{"keep", "drop-1", "drop-2"} {
		mustWriteContent(t, store, id, pattern(16))
	}

	failures, err := gc.DeleteBatch(testContext(), []content.ContentID{"drop-1", "drop-2"})
	require.NoError(t, err)
	assert.Empty(t, failures)

	assert.True(t, mustExist(t, store, "keep"))
	assert.False(t, mustExist(t, store, "drop-1"))
	assert.False(t, mustExist(t, store, "drop-2"))

	ids, err := gc.ListAllContent(testContext())
	require.NoError(t, err)
	assert.Equal(t, []content.ContentID{"keep"}, ids)
}

func (suite *StoreTestSuite) testDeleteBatchMissing(t *testing.T) {
	_, gc := suite.gcStore(t)

	failures, err := gc.DeleteBatch(testContext(), []content.ContentID{"never-written"})
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func (suite *StoreTestSuite) testDeleteBatchCancelled(t *testing.T) {
	store, gc := suite.gcStore(t)
	mustWriteContent(t, store, "blob", pattern(4))

	ctx, cancel := context.WithCancel(testContext())
	cancel()

	failures, err := gc.DeleteBatch(ctx, []content.ContentID{"blob"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, failures, content.ContentID("blob"))
	assert.True(t, mustExist(t, store, "blob"))
}
