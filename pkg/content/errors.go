package content

import "errors"

// ============================================================================
// Standard Content Store Errors
// ============================================================================
//
// These errors are returned by ContentStore implementations. The Data Store
// maps them onto StoreError codes; the virtual filesystem surfaces anything
// it cannot classify as an I/O error.

var (
	// ErrContentNotFound indicates the requested content does not exist.
	//
	// This error is returned when:
	//   - ReadAt() called with a ContentID that was never written
	//   - GetContentSize() called with a non-existent ContentID
	//   - A dataset record references a blob that has been deleted
	//
	// A dataset whose blob is missing is a broken store, not a missing
	// path: the filesystem reports EIO rather than ENOENT for it.
	ErrContentNotFound = errors.New("content not found")

	// ErrInvalidOffset indicates the offset is invalid for the operation.
	//
	// This error is returned when:
	//   - Offset is negative
	//   - Offset would overflow the backend's range arithmetic
	//
	// Offsets beyond the end of the content are NOT an error: ReadAt
	// returns io.EOF for those, mirroring io.ReaderAt.
	ErrInvalidOffset = errors.New("invalid offset")
)
