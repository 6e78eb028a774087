package fs

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/marmos91/h5fs/internal/logger"
	"github.com/marmos91/h5fs/pkg/content"
)

// ============================================================================
// GarbageCollectableStore Interface Implementation
// ============================================================================

// ListAllContent returns the ID of every blob file in the base directory.
//
// Names that are not hex-encoded IDs (temporary upload files, anything an
// operator dropped in the directory) are not blobs and are skipped.
//
// Returns:
//   - []content.ContentID: All stored IDs, in directory order
//   - error: Context cancellation or directory read errors
func (r *FSContentStore) ListAllContent(ctx context.Context) ([]content.ContentID, error) {
	// ========================================================================
	// Step 1: Check context before filesystem operation
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 2: Read directory entries
	// ========================================================================

	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read content directory: %w", err)
	}

	// ========================================================================
	// Step 3: Decode file names back to content IDs
	// ========================================================================

	ids := make([]content.ContentID, 0, len(entries))
	for i, entry := range entries {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !entry.Type().IsRegular() {
			continue
		}

		raw, err := hex.DecodeString(entry.Name())
		if err != nil || len(raw) == 0 {
			logger.Debug("Content directory: ignoring %s", entry.Name())
			continue
		}
		ids = append(ids, content.ContentID(raw))
	}

	return ids, nil
}

// DeleteBatch removes blobs one file at a time.
//
// Returns:
//   - map[content.ContentID]error: Per-blob failures (empty = all deleted)
//   - error: Context cancellation; remaining IDs are reported as failed
func (r *FSContentStore) DeleteBatch(ctx context.Context, ids []content.ContentID) (map[content.ContentID]error, error) {
	failures := make(map[content.ContentID]error)

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			for _, rest := range ids[i:] {
				failures[rest] = err
			}
			return failures, err
		}

		if err := r.Delete(ctx, id); err != nil {
			failures[id] = err
		}
	}

	return failures, nil
}
