package cache

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/h5fs/pkg/store"
	"github.com/marmos91/h5fs/pkg/store/memory"
	storetesting "github.com/marmos91/h5fs/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts the calls that reach the wrapped store.
type countingStore struct {
	store.Store
	lookups  atomic.Int32
	listings atomic.Int32
}

func (s *countingStore) Lookup(ctx context.Context, nativePath string) (*store.Entry, error) {
	s.lookups.Add(1)
	return s.Store.Lookup(ctx, nativePath)
}

func (s *countingStore) Children(ctx context.Context, group *store.Entry) iter.Seq2[*store.Entry, error] {
	s.listings.Add(1)
	return s.Store.Children(ctx, group)
}

func newCounting(t *testing.T) *countingStore {
	t.Helper()
	m := memory.New()
	storetesting.Fixture(t, m)
	return &countingStore{Store: m}
}

func names(t *testing.T, seq iter.Seq2[*store.Entry, error]) []string {
	t.Helper()
	var out []string
	for e, err := range seq {
		require.NoError(t, err)
		out = append(out, e.Path)
	}
	return out
}

func TestCachedStore_Lookup(t *testing.T) {
	ctx := context.Background()
	inner := newCounting(t)
	c := New(inner, CacheConfig{Enabled: true})

	e, err := c.Lookup(ctx, "/grp/melu")
	require.NoError(t, err)
	assert.True(t, e.IsDataset())

	again, err := c.Lookup(ctx, "grp/melu/")
	require.NoError(t, err)
	assert.Equal(t, e, again)

	assert.EqualValues(t, 1, inner.lookups.Load())
	hits, misses, size := c.GetCacheStats()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 1, misses)
	assert.Equal(t, 1, size)
}

func TestCachedStore_LookupErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	inner := newCounting(t)
	c := New(inner, CacheConfig{Enabled: true})

	for range 2 {
		_, err := c.Lookup(ctx, "/missing")
		code, ok := store.CodeOf(err)
		require.True(t, ok)
		assert.Equal(t, store.ErrNotFound, code)
	}
	assert.EqualValues(t, 2, inner.lookups.Load())
}

func TestCachedStore_Children(t *testing.T) {
	ctx := context.Background()
	inner := newCounting(t)
	c := New(inner, CacheConfig{Enabled: true})

	grp, err := c.Lookup(ctx, "/grp")
	require.NoError(t, err)

	want := names(t, inner.Store.Children(ctx, grp))
	inner.listings.Store(0)

	assert.Equal(t, want, names(t, c.Children(ctx, grp)))
	assert.Equal(t, want, names(t, c.Children(ctx, grp)))
	assert.EqualValues(t, 1, inner.listings.Load())
}

func TestCachedStore_ChildrenEarlyBreak(t *testing.T) {
	ctx := context.Background()
	inner := newCounting(t)
	c := New(inner, CacheConfig{Enabled: true})

	grp, err := c.Lookup(ctx, "/grp")
	require.NoError(t, err)

	for _, err := range c.Children(ctx, grp) {
		require.NoError(t, err)
		break
	}

	assert.Len(t, names(t, c.Children(ctx, grp)), 2)
	assert.EqualValues(t, 1, inner.listings.Load())
}

func TestCachedStore_ChildrenCancelled(t *testing.T) {
	inner := newCounting(t)
	c := New(inner, CacheConfig{Enabled: true})

	grp, err := c.Lookup(context.Background(), "/grp")
	require.NoError(t, err)
	_ = names(t, c.Children(context.Background(), grp))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	for _, err := range c.Children(ctx, grp) {
		gotErr = err
	}
	assert.ErrorIs(t, gotErr, context.Canceled)
}

// failingStore lists one child and then fails.
type failingStore struct {
	store.Store
	listings int
}

var errListing = errors.New("listing failed")

func (s *failingStore) Children(ctx context.Context, group *store.Entry) iter.Seq2[*store.Entry, error] {
	s.listings++
	return func(yield func(*store.Entry, error) bool) {
		if !yield(&store.Entry{Kind: store.KindGroup, Path: "/grp/inner"}, nil) {
			return
		}
		yield(nil, errListing)
	}
}

func TestCachedStore_FailedListingIsNotCached(t *testing.T) {
	ctx := context.Background()
	inner := &failingStore{Store: memory.New()}
	c := New(inner, CacheConfig{Enabled: true})
	grp := &store.Entry{Kind: store.KindGroup, Path: "/grp"}

	for range 2 {
		var got []string
		var gotErr error
		for e, err := range c.Children(ctx, grp) {
			if err != nil {
				gotErr = err
				break
			}
			got = append(got, e.Path)
		}
		assert.Equal(t, []string{"/grp/inner"}, got)
		assert.ErrorIs(t, gotErr, errListing)
	}
	assert.Equal(t, 2, inner.listings)
}

func TestCachedStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	inner := newCounting(t)
	c := New(inner, CacheConfig{Enabled: true, TTL: 10 * time.Millisecond})

	_, err := c.Lookup(ctx, "/scalar")
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	_, err = c.Lookup(ctx, "/scalar")
	require.NoError(t, err)

	assert.EqualValues(t, 2, inner.lookups.Load())
}

func TestCachedStore_LRUEviction(t *testing.T) {
	ctx := context.Background()
	inner := newCounting(t)
	c := New(inner, CacheConfig{Enabled: true, MaxEntries: 2})

	for _, p := range []string{"/grp", "/scalar", "/grp", "/grp/melu"} {
		_, err := c.Lookup(ctx, p)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, inner.lookups.Load())

	// /scalar was least recently used when /grp/melu came in.
	_, err := c.Lookup(ctx, "/grp")
	require.NoError(t, err)
	assert.EqualValues(t, 3, inner.lookups.Load())

	_, err = c.Lookup(ctx, "/scalar")
	require.NoError(t, err)
	assert.EqualValues(t, 4, inner.lookups.Load())

	_, _, size := c.GetCacheStats()
	assert.Equal(t, 2, size)
}

func TestCachedStore_ReturnedEntriesAreCopies(t *testing.T) {
	ctx := context.Background()
	c := New(newCounting(t), CacheConfig{Enabled: true})

	e, err := c.Lookup(ctx, "/grp/melu")
	require.NoError(t, err)
	e.Dataset.Shape[0] = 99
	e.Path = "/elsewhere"

	again, err := c.Lookup(ctx, "/grp/melu")
	require.NoError(t, err)
	assert.Equal(t, "/grp/melu", again.Path)
	assert.Equal(t, []uint64{2}, again.Dataset.Shape)
}

func TestCachedStore_ReturnedDTypesAreCopies(t *testing.T) {
	ctx := context.Background()
	inner := memory.New()
	defer func() { _ = inner.Close() }()

	nested := func() store.DType {
		return store.Record(
			store.Field{Name: "id", DType: store.Scalar(store.LittleEndian, store.TypeInt, 4)},
			store.Field{Name: "pos", DType: store.Record(
				store.Field{Name: "xy", DType: store.Scalar(store.LittleEndian, store.TypeFloat, 8), Shape: []uint64{2}},
			)},
		)
	}
	require.NoError(t, inner.CreateDataset(ctx, "/rec", nested(), []uint64{1}, bytes.NewReader(make([]byte, 20))))

	c := New(inner, CacheConfig{Enabled: true})
	e, err := c.Lookup(ctx, "/rec")
	require.NoError(t, err)

	fields := e.Dataset.DType.Fields
	fields[0].Name = "renamed"
	fields[1].DType.Fields[0].Name = "zz"
	fields[1].DType.Fields[0].Shape[0] = 99

	again, err := c.Lookup(ctx, "/rec")
	require.NoError(t, err)
	assert.Equal(t, nested(), again.Dataset.DType)

	root, err := c.Lookup(ctx, "/")
	require.NoError(t, err)
	for child, err := range c.Children(ctx, root) {
		require.NoError(t, err)
		child.Dataset.DType.Fields[1].DType.Fields[0].Shape[0] = 7
	}
	for child, err := range c.Children(ctx, root) {
		require.NoError(t, err)
		assert.Equal(t, nested(), child.Dataset.DType)
	}
}

func TestCachedStore_ReadAtPassesThrough(t *testing.T) {
	ctx := context.Background()
	c := New(newCounting(t), CacheConfig{Enabled: true})

	e, err := c.Lookup(ctx, "/grp/melu")
	require.NoError(t, err)

	buf := make([]byte, 38)
	n, err := c.ReadAt(ctx, e, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 38, n)
	assert.Equal(t, storetesting.MeluPayload(), buf)
}

func TestCachedStore_Close(t *testing.T) {
	ctx := context.Background()
	inner := newCounting(t)
	c := New(inner, CacheConfig{Enabled: true})

	_, err := c.Lookup(ctx, "/grp")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, _, size := c.GetCacheStats()
	assert.Zero(t, size)

	_, err = c.Lookup(ctx, "/grp")
	assert.Error(t, err)
}
