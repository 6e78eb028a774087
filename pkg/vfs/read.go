package vfs

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/marmos91/h5fs/internal/logger"
	"github.com/marmos91/h5fs/pkg/store"
)

// ============================================================================
// Open Gate
// ============================================================================

// AssertReadable rejects data access to anything but a dataset.
func AssertReadable(e *store.Entry) error {
	return requireDataset("open", e)
}

// CheckAccess rejects every open mode except plain read-only.
//
// Parameters:
//   - flags: open(2) flags (os.O_RDONLY, os.O_WRONLY, ...)
//
// Returns:
//   - error: *Error with CodePermissionDenied for write, create, truncate
//     or append requests
func CheckAccess(flags int) error {
	return checkAccess("", flags)
}

func checkAccess(path string, flags int) error {
	const mutating = os.O_WRONLY | os.O_RDWR | os.O_CREATE | os.O_TRUNC | os.O_APPEND
	if flags&mutating != 0 {
		return newError(CodePermissionDenied, "open", path, nil)
	}
	return nil
}

// Open resolves a virtual path for reading.
//
// Access flags are checked before the path is resolved, so a write request
// is denied even for a path that does not exist.
func (fs *FS) Open(ctx context.Context, virtualPath string, flags int) (*store.Entry, error) {
	if err := checkAccess(store.CleanPath(virtualPath), flags); err != nil {
		return nil, err
	}

	e, err := fs.Resolve(ctx, virtualPath)
	if err != nil {
		return nil, err
	}
	if err := AssertReadable(e); err != nil {
		return nil, err
	}
	return e, nil
}

// ============================================================================
// Range Reader
// ============================================================================

// ReadAt copies bytes [off, off+len(p)) of the dataset's virtual file into p.
//
// Ranges extending past the end are clipped and a range starting at or past
// the end yields 0 bytes. A short count is NOT an error: the caller asked
// for bytes that do not exist. Work is proportional to len(p), never to the
// payload size.
//
// Returns:
//   - int: Bytes copied into p
//   - error: *Error with CodeIsADirectory for groups, CodeIO on store failure
func (fs *FS) ReadAt(ctx context.Context, e *store.Entry, p []byte, off uint64) (n int, err error) {
	start := time.Now()
	defer func() { fs.metrics.ObserveOperation("read", time.Since(start), err) }()

	if err := AssertReadable(e); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, newError(CodeIO, "read", e.Path, err)
	}

	header, payload, rerr := fs.presenter.ReadAt(ctx, fs.store, e, p, off)
	fs.metrics.RecordRead(header, payload)
	n = header + payload
	if rerr != nil {
		logger.Debug("read %s [%d, +%d): %v", e.Path, off, len(p), rerr)
		return n, fromStore("read", e.Path, rerr)
	}
	return n, nil
}

// Read returns the bytes of [off, off+length) clipped to the file. Only the
// clipped length is allocated.
func (fs *FS) Read(ctx context.Context, e *store.Entry, off, length uint64) ([]byte, error) {
	total, err := fs.TotalSize(e)
	if err != nil {
		return nil, err
	}
	if off >= total || length == 0 {
		return []byte{}, nil
	}
	if length > total-off {
		length = total - off
	}

	buf := make([]byte, length)
	n, err := fs.ReadAt(ctx, e, buf, off)
	return buf[:n], err
}

// ReadPath resolves a virtual path and reads a range of it.
func (fs *FS) ReadPath(ctx context.Context, virtualPath string, off, length uint64) ([]byte, error) {
	e, err := fs.Open(ctx, virtualPath, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	return fs.Read(ctx, e, off, length)
}

// NewReader returns a reader over the whole virtual file of a dataset. It
// implements io.ReaderAt (with io.EOF at the end) for use with io.Copy and
// io.SectionReader.
func (fs *FS) NewReader(ctx context.Context, e *store.Entry) (*io.SectionReader, error) {
	total, err := fs.TotalSize(e)
	if err != nil {
		return nil, err
	}
	return io.NewSectionReader(&readerAt{fs: fs, ctx: ctx, entry: e}, 0, int64(min(total, 1<<63-1))), nil
}

type readerAt struct {
	fs    *FS
	ctx   context.Context
	entry *store.Entry
}

func (r *readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, os.ErrInvalid
	}
	n, err := r.fs.ReadAt(r.ctx, r.entry, p, uint64(off))
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
