package vfs

import (
	"context"
	"iter"
	"time"

	"github.com/marmos91/h5fs/pkg/store"
)

// DefaultSyntheticNames are listed before a group's children.
var DefaultSyntheticNames = []string{".", ".."}

// DirEntry is one child of a listed group.
type DirEntry struct {
	// Name is the virtual name; it resolves back to Entry.
	Name  string
	Entry *store.Entry
}

// ============================================================================
// Directory Lister
// ============================================================================

// List yields synthetic (in the given order) and then the virtual name of
// every child of group, in store order.
//
// The sequence is lazy and restartable: each range over it queries the
// store afresh. An error is yielded once and ends the sequence.
func (fs *FS) List(ctx context.Context, group *store.Entry, synthetic []string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, name := range synthetic {
			if !yield(name, nil) {
				return
			}
		}
		for child, err := range fs.ReadDir(ctx, group) {
			if err != nil {
				yield("", err)
				return
			}
			if !yield(child.Name, nil) {
				return
			}
		}
	}
}

// ReadDir yields the children of group with their virtual names. Unlike
// List it carries the entries, so callers can stat children without
// resolving each name again.
func (fs *FS) ReadDir(ctx context.Context, group *store.Entry) iter.Seq2[DirEntry, error] {
	return func(yield func(DirEntry, error) bool) {
		start := time.Now()
		var err error
		defer func() { fs.metrics.ObserveOperation("list", time.Since(start), err) }()

		if group.Kind != store.KindGroup {
			err = newError(CodeNotADirectory, "list", group.Path, nil)
			yield(DirEntry{}, err)
			return
		}

		for child, cerr := range fs.store.Children(ctx, group) {
			if cerr != nil {
				err = fromStore("list", group.Path, cerr)
				yield(DirEntry{}, err)
				return
			}
			if child.Kind != store.KindGroup && child.Kind != store.KindDataset {
				// No file type to present it as.
				continue
			}
			if !yield(DirEntry{Name: fs.VirtualName(child), Entry: child}, nil) {
				return
			}
		}
	}
}

// ListPath resolves a virtual path to a group and lists it with the
// default synthetic names.
func (fs *FS) ListPath(ctx context.Context, virtualPath string) (iter.Seq2[string, error], error) {
	e, err := fs.Resolve(ctx, virtualPath)
	if err != nil {
		return nil, err
	}
	if e.Kind != store.KindGroup {
		return nil, newError(CodeNotADirectory, "list", virtualPath, nil)
	}
	return fs.List(ctx, e, DefaultSyntheticNames), nil
}
