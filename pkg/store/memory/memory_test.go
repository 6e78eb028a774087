package memory

import (
	"context"
	"testing"

	"github.com/marmos91/h5fs/pkg/store"
	storetesting "github.com/marmos91/h5fs/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryStore runs the complete Data Store suite against MemoryStore.
func TestMemoryStore(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) store.WritableStore {
			return New()
		},
		OrderedChildren: true,
	}

	suite.Run(t)
}

func TestMemoryStore_CloseTwice(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	assert.Error(t, s.Close())
}

func TestMemoryStore_LookupAfterClose(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	_, err := s.Lookup(context.Background(), "/")
	code, ok := store.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, store.ErrIOError, code)
}

func TestMemoryStore_ReturnedEntriesAreCopies(t *testing.T) {
	s := New()
	storetesting.Fixture(t, s)

	e, err := s.Lookup(context.Background(), "/grp/melu")
	require.NoError(t, err)
	e.Dataset.Shape[0] = 99

	again, err := s.Lookup(context.Background(), "/grp/melu")
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, again.Dataset.Shape)
}
