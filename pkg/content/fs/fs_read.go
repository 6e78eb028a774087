package fs

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/marmos91/h5fs/pkg/content"
)

// ============================================================================
// ContentStore Interface Implementation
// ============================================================================

// ReadAt reads len(p) bytes of the blob starting at offset.
//
// The descriptor comes from the LRU cache; a short read at the end of the
// file is reported as (n, io.EOF) exactly like os.File.ReadAt.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - id: Content identifier to read
//   - p: Destination buffer
//   - offset: Byte offset within the blob
//
// Returns:
//   - int: Number of bytes read
//   - error: ErrContentNotFound, ErrInvalidOffset, io.EOF, or I/O errors
func (r *FSContentStore) ReadAt(ctx context.Context, id content.ContentID, p []byte, offset int64) (int, error) {
	// ========================================================================
	// Step 1: Check context and arguments
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := content.CheckOffset(offset); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	// ========================================================================
	// Step 2: Acquire a cached descriptor and pread
	// ========================================================================

	file, release, err := r.fdCache.Acquire(id, r.getFilePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
		}
		return 0, fmt.Errorf("failed to open content: %w", err)
	}
	defer release()

	n, err := file.ReadAt(p, offset)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("failed to read content: %w", err)
	}
	return n, err
}

// GetContentSize returns the size of the content in bytes.
//
// This performs a filesystem stat operation to retrieve the file size without
// reading the entire file content.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - id: Content identifier
//
// Returns:
//   - uint64: Size of the content in bytes
//   - error: Returns error if content not found, stat fails, or context is cancelled
func (r *FSContentStore) GetContentSize(ctx context.Context, id content.ContentID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	info, err := os.Stat(r.getFilePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("content %s: %w", id, content.ErrContentNotFound)
		}
		return 0, fmt.Errorf("failed to stat content: %w", err)
	}

	return uint64(info.Size()), nil
}

// ContentExists checks if content with the given ID exists.
//
// Returns:
//   - bool: True if content exists, false otherwise
//   - error: Returns error on filesystem errors (excluding not-exists) or
//     context cancellation
func (r *FSContentStore) ContentExists(ctx context.Context, id content.ContentID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(r.getFilePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check content existence: %w", err)
	}

	return true, nil
}
