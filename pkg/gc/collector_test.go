package gc

import (
	"bytes"
	"context"
	"testing"

	"github.com/marmos91/h5fs/pkg/content"
	"github.com/marmos91/h5fs/pkg/content/memory"
	"github.com/marmos91/h5fs/pkg/store/badger"
	storetesting "github.com/marmos91/h5fs/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStoreWithOrphans returns a store holding the fixture tree plus two
// blobs no dataset references.
func newStoreWithOrphans(t *testing.T) (*badger.BadgerStore, *memory.MemoryContentStore) {
	t.Helper()
	ctx := context.Background()

	blobs, err := memory.NewMemoryContentStore(ctx, memory.MemoryContentStoreConfig{})
	require.NoError(t, err)

	s, err := badger.NewBadgerStore(ctx, badger.BadgerStoreConfig{InMemory: true, Content: blobs})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	storetesting.Fixture(t, s)

	for _, id := range []content.ContentID{"orphan-1", "orphan-2"} {
		_, err := blobs.WriteContent(ctx, id, bytes.NewReader([]byte("left behind")))
		require.NoError(t, err)
	}
	return s, blobs
}

func TestCollector_DeletesOrphans(t *testing.T) {
	ctx := context.Background()
	s, blobs := newStoreWithOrphans(t)

	c, err := NewCollector(s, s.ContentStore(), Config{BatchSize: 1})
	require.NoError(t, err)

	stats, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.ReferencedCount)
	assert.Equal(t, uint64(4), stats.ExistingCount)
	assert.Equal(t, uint64(2), stats.OrphanedCount)
	assert.Equal(t, uint64(2), stats.DeletedCount)
	assert.Zero(t, stats.FailedCount)
	assert.ElementsMatch(t, []content.ContentID{"orphan-1", "orphan-2"}, stats.Orphaned)

	remaining, err := blobs.ListAllContent(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)

	// The tree still reads back intact.
	melu, err := s.Lookup(ctx, "/grp/melu")
	require.NoError(t, err)
	p := make([]byte, 38)
	n, err := s.ReadAt(ctx, melu, p, 0)
	require.NoError(t, err)
	assert.Equal(t, storetesting.MeluPayload(), p[:n])

	// A second pass finds nothing.
	stats, err = c.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.OrphanedCount)
}

func TestCollector_DryRun(t *testing.T) {
	ctx := context.Background()
	s, blobs := newStoreWithOrphans(t)

	c, err := NewCollector(s, s.ContentStore(), Config{DryRun: true})
	require.NoError(t, err)

	stats, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.OrphanedCount)
	assert.Zero(t, stats.DeletedCount)

	remaining, err := blobs.ListAllContent(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 4)
}

func TestCollector_Cancelled(t *testing.T) {
	s, _ := newStoreWithOrphans(t)

	c, err := NewCollector(s, s.ContentStore(), Config{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type readOnlyContent struct {
	content.ContentStore
}

func TestNewCollector_RequiresCollectableStore(t *testing.T) {
	s, _ := newStoreWithOrphans(t)

	_, err := NewCollector(s, readOnlyContent{s.ContentStore()}, Config{})
	assert.Error(t, err)
}

func TestStats_Summary(t *testing.T) {
	s := &Stats{ReferencedCount: 3, ExistingCount: 5, OrphanedCount: 2, DeletedCount: 2}
	assert.Contains(t, s.Summary(), "referenced=3 existing=5 orphaned=2 deleted=2 failed=0")
}
