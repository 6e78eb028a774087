package fs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/h5fs/pkg/content"
	contenttesting "github.com/marmos91/h5fs/pkg/content/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, fdCacheSize int) *FSContentStore {
	t.Helper()
	store, err := NewFSContentStore(context.Background(), FSContentStoreConfig{
		Path:        filepath.Join(t.TempDir(), "content"),
		FDCacheSize: fdCacheSize,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestFSContentStore(t *testing.T) {
	suite := &contenttesting.StoreTestSuite{
		NewStore: func(t *testing.T) content.WritableContentStore {
			return newTestStore(t, 0)
		},
	}

	suite.Run(t)
}

func TestFSContentStore_TinyDescriptorCache(t *testing.T) {
	suite := &contenttesting.StoreTestSuite{
		NewStore: func(t *testing.T) content.WritableContentStore {
			return newTestStore(t, 1)
		},
	}

	suite.Run(t)
}

func TestNewFSContentStore_RequiresPath(t *testing.T) {
	_, err := NewFSContentStore(context.Background(), FSContentStoreConfig{})
	assert.Error(t, err)
}

func TestFSContentStore_NoTemporaryLeftovers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 4)

	_, err := store.WriteContent(ctx, "a/b", bytes.NewReader([]byte("payload")))
	require.NoError(t, err)

	entries, err := os.ReadDir(store.basePath)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "612f62", entries[0].Name())
}

func TestFDCache_EvictionKeepsInUseDescriptorOpen(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a")
	pathB := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(pathA, []byte("aaaa"), 0644))
	require.NoError(t, os.WriteFile(pathB, []byte("bbbb"), 0644))

	cache := NewFDCache(1)
	defer func() { _ = cache.Close() }()

	fa, releaseA, err := cache.Acquire("a", pathA)
	require.NoError(t, err)

	// Opening b evicts a while it is still held.
	_, releaseB, err := cache.Acquire("b", pathB)
	require.NoError(t, err)
	releaseB()

	size, maxSize := cache.Stats()
	assert.Equal(t, 1, size)
	assert.Equal(t, 1, maxSize)

	buf := make([]byte, 4)
	_, err = fa.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "aaaa", string(buf))

	releaseA()
	releaseA() // second call is a no-op

	_, err = fa.ReadAt(buf, 0)
	assert.Error(t, err, "descriptor closed after last release")
}
