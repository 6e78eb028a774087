package vfs

import (
	"context"
	"os"
	"time"

	"github.com/marmos91/h5fs/pkg/store"
)

const (
	// DirMode is the permission of every group: read and traverse.
	DirMode = os.ModeDir | 0o555

	// FileMode is the permission of every dataset file: read only.
	FileMode os.FileMode = 0o444
)

// Attr is the filesystem metadata of one entry.
type Attr struct {
	Kind  store.EntryKind
	Mode  os.FileMode
	Size  uint64
	Nlink uint32
	UID   uint32
	GID   uint32
}

// IsDir reports whether the entry is a group.
func (a *Attr) IsDir() bool {
	return a.Kind == store.KindGroup
}

// ============================================================================
// Stat Generator
// ============================================================================

// Stat produces the attributes of an entry.
//
// Groups have size 0. Datasets have the size of their virtual file. Both
// report a link count of 1.
//
// Returns:
//   - *Attr: Attributes
//   - error: *Error with CodeUnsupportedEntry for unknown entry kinds and
//     for datasets whose header cannot be encoded
func (fs *FS) Stat(e *store.Entry) (attr *Attr, err error) {
	start := time.Now()
	defer func() { fs.metrics.ObserveOperation("stat", time.Since(start), err) }()

	attr = &Attr{Kind: e.Kind, Nlink: 1, UID: fs.uid, GID: fs.gid}

	switch e.Kind {
	case store.KindGroup:
		attr.Mode = DirMode
		return attr, nil

	case store.KindDataset:
		size, err := fs.TotalSize(e)
		if err != nil {
			return nil, err
		}
		attr.Mode = FileMode
		attr.Size = size
		return attr, nil

	default:
		return nil, newError(CodeUnsupportedEntry, "stat", e.Path, nil)
	}
}

// StatPath resolves a virtual path and stats the entry.
func (fs *FS) StatPath(ctx context.Context, virtualPath string) (*store.Entry, *Attr, error) {
	e, err := fs.Resolve(ctx, virtualPath)
	if err != nil {
		return nil, nil, err
	}
	attr, err := fs.Stat(e)
	if err != nil {
		return nil, nil, err
	}
	return e, attr, nil
}
