package fs

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/marmos91/h5fs/pkg/content"
)

// ============================================================================
// WritableContentStore Interface Implementation
// ============================================================================

// WriteContent stores the bytes of r under id, replacing any existing blob.
//
// The data is streamed into a temporary file in the base directory and
// renamed over the final path once complete.
//
// Parameters:
//   - ctx: Context for cancellation (checked before and after the copy)
//   - id: Content identifier
//   - src: Source of the blob bytes
//
// Returns:
//   - int64: Number of bytes written
//   - error: Context, read or filesystem errors
func (r *FSContentStore) WriteContent(ctx context.Context, id content.ContentID, src io.Reader) (int64, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// ========================================================================
	// Step 2: Stream into a temporary file
	// ========================================================================

	tmp, err := os.CreateTemp(r.basePath, ".incoming-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, src)
	if err != nil {
		_ = tmp.Close()
		return n, fmt.Errorf("failed to write content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("failed to close content: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return n, err
	}

	// ========================================================================
	// Step 3: Rename into place and drop any stale descriptor
	// ========================================================================

	if err := os.Rename(tmpPath, r.getFilePath(id)); err != nil {
		return n, fmt.Errorf("failed to commit content: %w", err)
	}
	committed = true
	r.fdCache.Remove(id)

	return n, nil
}

// Delete removes the blob. A missing blob is not an error.
func (r *FSContentStore) Delete(ctx context.Context, id content.ContentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.fdCache.Remove(id)

	if err := os.Remove(r.getFilePath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return nil
}
