// Package store defines the Data Store contract: a read-mostly hierarchical
// array store made of groups (containers) and datasets (typed,
// multi-dimensional arrays with a contiguous payload).
//
// The virtual filesystem layer (pkg/vfs) consumes a Store and never
// mutates it. Implementations live in subpackages: memory for tests and
// ephemeral trees, badger for persistent trees whose payloads are kept in
// a content store.
package store

import (
	"context"
	"io"
	"iter"
	"path"
	"strings"
)

// EntryKind discriminates the variants of Entry.
type EntryKind int

const (
	// KindUnknown is the zero value. No valid entry carries it.
	KindUnknown EntryKind = iota
	KindGroup
	KindDataset
)

func (k EntryKind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindDataset:
		return "dataset"
	default:
		return "unknown"
	}
}

// Entry is a handle to one node of the store tree.
//
// Entries are plain values owned by the caller; holding one does not pin
// any store resources. Dataset is non-nil exactly when Kind is KindDataset.
type Entry struct {
	Kind    EntryKind
	Path    string
	Dataset *Dataset
}

// Dataset carries the metadata of a dataset entry.
type Dataset struct {
	DType DType    `json:"dtype"`
	Shape []uint64 `json:"shape"`

	// ContentID locates the payload in the implementation's backing storage.
	// Opaque to consumers.
	ContentID string `json:"content_id,omitempty"`
}

// PayloadSize returns product(shape) × item width.
func (d *Dataset) PayloadSize() uint64 {
	return PayloadSize(d.DType, d.Shape)
}

// Name returns the native name of the entry (the last path segment).
// The root group is named "/".
func (e *Entry) Name() string {
	return path.Base(e.Path)
}

func (e *Entry) IsGroup() bool {
	return e != nil && e.Kind == KindGroup
}

func (e *Entry) IsDataset() bool {
	return e != nil && e.Kind == KindDataset && e.Dataset != nil
}

// Store is the read side of the Data Store.
//
// Implementations must be safe for concurrent use; every method may be
// called from many dispatcher goroutines at once.
type Store interface {
	// Lookup resolves a native path ("/", "/a/b") to an entry.
	//
	// Returns a StoreError with code ErrNotFound when nothing exists there.
	Lookup(ctx context.Context, nativePath string) (*Entry, error)

	// Children enumerates the direct children of a group in store order.
	// Each call starts a fresh enumeration. The sequence yields a non-nil
	// error at most once, as its final element.
	Children(ctx context.Context, group *Entry) iter.Seq2[*Entry, error]

	// ReadAt copies payload bytes of a dataset starting at off into p.
	//
	// Follows io.ReaderAt conventions: a short count is returned together
	// with io.EOF when the payload ends before p is filled.
	ReadAt(ctx context.Context, dataset *Entry, p []byte, off uint64) (int, error)

	// Close releases the store. It must be called exactly once.
	Close() error
}

// WritableStore is implemented by stores that can be populated, either by
// the importer or by tests.
type WritableStore interface {
	Store

	// CreateGroup adds an empty group. The parent must exist and be a group.
	CreateGroup(ctx context.Context, nativePath string) error

	// CreateDataset adds a dataset whose payload is read from r. The number
	// of bytes in r must equal product(shape) × dtype.Size().
	CreateDataset(ctx context.Context, nativePath string, dtype DType, shape []uint64, r io.Reader) error
}

// CleanPath normalizes a native path to its absolute, slash-separated form.
func CleanPath(p string) string {
	return path.Clean("/" + p)
}

// Split returns the parent path and name of a cleaned native path.
func Split(p string) (parent, name string) {
	p = CleanPath(p)
	if p == "/" {
		return "/", ""
	}
	idx := strings.LastIndexByte(p, '/')
	parent = p[:idx]
	if parent == "" {
		parent = "/"
	}
	return parent, p[idx+1:]
}

// Join appends a child name to a parent path.
func Join(parent, name string) string {
	return path.Join(CleanPath(parent), name)
}
