// Package fs implements filesystem-based content storage.
//
// Each blob is one regular file under a base directory, named by the
// hex-encoded ContentID.
package fs

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marmos91/h5fs/pkg/content"
)

const defaultFDCacheSize = 512

// FSContentStore implements WritableContentStore using the local filesystem.
//
// Thread Safety:
// Reads use pread on shared descriptors and are safe for concurrent use.
// Writes go to a temporary file that is renamed into place, so readers
// observe either the old or the new blob, never a partial one.
type FSContentStore struct {
	basePath string
	fdCache  *FDCache
}

// FSContentStoreConfig configures an FSContentStore.
type FSContentStoreConfig struct {
	// Path is the directory holding blobs. Created if missing.
	Path string `mapstructure:"path"`

	// FDCacheSize bounds the number of descriptors kept open (default 512).
	FDCacheSize int `mapstructure:"fd_cache_size"`
}

// NewFSContentStore creates a new filesystem-based content store.
//
// This initializes the store by creating the base directory if it doesn't
// exist. The base directory will be created with permissions 0755.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: Base path and descriptor cache size
//
// Returns:
//   - *FSContentStore: Initialized store
//   - error: Returns error if directory creation fails or context is cancelled
func NewFSContentStore(ctx context.Context, cfg FSContentStoreConfig) (*FSContentStore, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Path == "" {
		return nil, fmt.Errorf("filesystem content store: path is required")
	}

	// ========================================================================
	// Step 2: Create the base directory if it doesn't exist
	// ========================================================================

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	size := cfg.FDCacheSize
	if size <= 0 {
		size = defaultFDCacheSize
	}

	return &FSContentStore{
		basePath: cfg.Path,
		fdCache:  NewFDCache(size),
	}, nil
}

// getFilePath returns the full path for a given content ID.
//
// Hex encoding keeps arbitrary IDs filesystem-safe.
func (r *FSContentStore) getFilePath(id content.ContentID) string {
	return filepath.Join(r.basePath, hex.EncodeToString([]byte(id)))
}

// Close releases cached file descriptors.
func (r *FSContentStore) Close() error {
	return r.fdCache.Close()
}
