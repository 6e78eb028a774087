package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/marmos91/h5fs/pkg/content"
)

// MemoryContentStore implements WritableContentStore using in-memory storage.
//
// This implementation stores all content in memory using a map. It's designed for:
//   - Testing and development
//   - Small ephemeral mounts built with `h5fs import --content memory`
//
// Thread Safety:
// All operations are protected by a sync.RWMutex. Blobs are immutable once
// stored (a rewrite swaps the slice), so readers copy out under the shared
// lock without racing writers.
type MemoryContentStore struct {
	// data stores the blob bytes keyed by ContentID
	data map[content.ContentID][]byte

	// maxSize bounds the total bytes held (0 = unlimited)
	maxSize uint64
	used    uint64

	mu sync.RWMutex
}

// MemoryContentStoreConfig configures a MemoryContentStore.
type MemoryContentStoreConfig struct {
	// MaxSizeBytes bounds the total bytes held; 0 disables the limit.
	MaxSizeBytes uint64 `mapstructure:"max_size_bytes"`
}

// NewMemoryContentStore creates a new, empty in-memory content store.
//
// Parameters:
//   - ctx: Context for cancellation (checked before initialization)
//   - cfg: Optional size limit
//
// Returns:
//   - *MemoryContentStore: Initialized store
//   - error: Only context cancellation errors
func NewMemoryContentStore(ctx context.Context, cfg MemoryContentStoreConfig) (*MemoryContentStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &MemoryContentStore{
		data:    make(map[content.ContentID][]byte),
		maxSize: cfg.MaxSizeBytes,
	}, nil
}

// ReadAt copies blob bytes starting at offset into p.
func (s *MemoryContentStore) ReadAt(ctx context.Context, id content.ContentID, p []byte, offset int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := content.CheckOffset(offset); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.data[id]
	if !ok {
		return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if offset >= int64(len(data)) {
		return 0, io.EOF
	}

	n := copy(p, data[offset:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// GetContentSize returns the size of the content in bytes.
func (s *MemoryContentStore) GetContentSize(ctx context.Context, id content.ContentID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.data[id]
	if !ok {
		return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
	}
	return uint64(len(data)), nil
}

// ContentExists checks if content with the given ID exists.
func (s *MemoryContentStore) ContentExists(ctx context.Context, id content.ContentID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[id]
	return ok, nil
}

// WriteContent buffers r and stores it under id.
func (s *MemoryContentStore) WriteContent(ctx context.Context, id content.ContentID, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, r)
	if err != nil {
		return n, fmt.Errorf("failed to read content: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.used - uint64(len(s.data[id])) + uint64(n)
	if s.maxSize > 0 && used > s.maxSize {
		return 0, fmt.Errorf("memory content store full: %d of %d bytes used", s.used, s.maxSize)
	}

	s.data[id] = buf.Bytes()
	s.used = used
	return n, nil
}

// Delete removes the blob. A missing blob is not an error.
func (s *MemoryContentStore) Delete(ctx context.Context, id content.ContentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.used -= uint64(len(s.data[id]))
	delete(s.data, id)
	return nil
}

// ListAllContent returns every stored ID.
func (s *MemoryContentStore) ListAllContent(ctx context.Context) ([]content.ContentID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]content.ContentID, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteBatch removes every listed blob under one lock.
func (s *MemoryContentStore) DeleteBatch(ctx context.Context, ids []content.ContentID) (map[content.ContentID]error, error) {
	if err := ctx.Err(); err != nil {
		failures := make(map[content.ContentID]error, len(ids))
		for _, id := range ids {
			failures[id] = err
		}
		return failures, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		s.used -= uint64(len(s.data[id]))
		delete(s.data, id)
	}
	return map[content.ContentID]error{}, nil
}
