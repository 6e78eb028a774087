package content

import (
	"context"
	"io"
)

// ContentID is an opaque identifier of one payload blob. Only the content
// store that issued it interprets its format.
type ContentID string

// ============================================================================
// ContentStore Interface
// ============================================================================

// ContentStore provides random-access reads over dataset payloads.
//
// Separation of Concerns:
//
// The content store manages only raw payload bytes. It does NOT manage:
//   - Dataset metadata (dtype, shape) → handled by the Data Store
//   - The group hierarchy → handled by the Data Store
//   - Header synthesis and virtual file layout → handled by pkg/vfs
//
// The persistent Data Store keeps a ContentID per dataset and delegates
// payload reads here, so a small metadata database can front payloads held
// on local disk or in an S3 bucket.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
type ContentStore interface {
	// ReadAt reads len(p) bytes starting at offset without loading the
	// whole blob.
	//
	// Semantics follow io.ReaderAt: when fewer than len(p) bytes are
	// available, the bytes that exist are copied and io.EOF is returned.
	// An offset at or beyond the end yields (0, io.EOF).
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - id: Content identifier to read
	//   - p: Destination buffer
	//   - offset: Byte offset within the blob (must be >= 0)
	//
	// Returns:
	//   - int: Number of bytes copied into p
	//   - error: ErrContentNotFound, ErrInvalidOffset, io.EOF, or context/IO errors
	ReadAt(ctx context.Context, id ContentID, p []byte, offset int64) (int, error)

	// GetContentSize returns the blob size in bytes without reading it.
	//
	// Returns:
	//   - uint64: Size of the blob
	//   - error: ErrContentNotFound if absent, or context/IO errors
	GetContentSize(ctx context.Context, id ContentID) (uint64, error)

	// ContentExists reports whether a blob is stored under id.
	//
	// Returns:
	//   - bool: True if the blob exists
	//   - error: Only context or infrastructure errors; absence is (false, nil)
	ContentExists(ctx context.Context, id ContentID) (bool, error)
}

// ============================================================================
// WritableContentStore Interface
// ============================================================================

// WritableContentStore adds the operations the importer needs to populate a
// store. Mounted filesystems only ever use the ContentStore side.
type WritableContentStore interface {
	ContentStore

	// WriteContent stores everything read from r under id, replacing any
	// existing blob.
	//
	// Implementations that upload (S3) need the total size up front; they
	// use io.Seeker when r provides it and buffer otherwise.
	//
	// Returns:
	//   - int64: Number of bytes stored
	//   - error: Context, read or storage errors
	WriteContent(ctx context.Context, id ContentID, r io.Reader) (int64, error)

	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, id ContentID) error
}

// ============================================================================
// GarbageCollectableStore Interface
// ============================================================================

// GarbageCollectableStore lets pkg/gc find and remove blobs that no dataset
// references.
//
// Orphans appear when an import is interrupted between uploading a payload
// and committing its dataset record. Mounted filesystems never create them.
type GarbageCollectableStore interface {
	ContentStore

	// ListAllContent returns the ID of every stored blob, referenced or
	// not. Cost is proportional to the number of blobs.
	ListAllContent(ctx context.Context) ([]ContentID, error)

	// DeleteBatch removes the given blobs, best-effort.
	//
	// Missing blobs count as deleted. Per-item failures are reported in the
	// map; the error is reserved for cancellation or a failure that stopped
	// the whole batch.
	DeleteBatch(ctx context.Context, ids []ContentID) (failures map[ContentID]error, err error)
}

// CheckOffset validates a read offset. Shared by implementations.
func CheckOffset(offset int64) error {
	if offset < 0 {
		return ErrInvalidOffset
	}
	return nil
}
