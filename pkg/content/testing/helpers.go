package testing

import (
	"bytes"
	"testing"

	"github.com/marmos91/h5fs/pkg/content"
	"github.com/stretchr/testify/require"
)

// mustWriteContent writes content and fails the test if it errors.
func mustWriteContent(t *testing.T, store content.WritableContentStore, id content.ContentID, data []byte) {
	t.Helper()
	n, err := store.WriteContent(testContext(), id, bytes.NewReader(data))
	require.NoError(t, err, "WriteContent should succeed")
	require.Equal(t, int64(len(data)), n)
}

// mustGetSize gets content size and fails the test if it errors.
func mustGetSize(t *testing.T, store content.ContentStore, id content.ContentID) uint64 {
	t.Helper()
	size, err := store.GetContentSize(testContext(), id)
	require.NoError(t, err, "GetContentSize should succeed")
	return size
}

// mustExist reports ContentExists and fails the test if it errors.
func mustExist(t *testing.T, store content.ContentStore, id content.ContentID) bool {
	t.Helper()
	ok, err := store.ContentExists(testContext(), id)
	require.NoError(t, err, "ContentExists should succeed")
	return ok
}

// pattern returns n deterministic bytes.
func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + 3)
	}
	return data
}
