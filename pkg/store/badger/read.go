package badger

import (
	"context"
	"errors"
	"io"
	"iter"
	"math"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/h5fs/pkg/content"
	"github.com/marmos91/h5fs/pkg/store"
)

// Lookup resolves a native path to its entry.
func (s *BadgerStore) Lookup(ctx context.Context, nativePath string) (*store.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := store.CleanPath(nativePath)
	if err := s.checkOpen(p); err != nil {
		return nil, err
	}

	var entry *store.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		entry, err = getNode(txn, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Children enumerates the direct children of group in byte order of their
// names.
//
// The sequence runs inside one read transaction per iteration, so a
// listing observes a single consistent snapshot even while an import is
// writing. Stopping early releases the transaction.
func (s *BadgerStore) Children(ctx context.Context, group *store.Entry) iter.Seq2[*store.Entry, error] {
	return func(yield func(*store.Entry, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}

		parent := store.CleanPath(group.Path)
		if err := s.checkOpen(parent); err != nil {
			yield(nil, err)
			return
		}

		// Errors inside View are yielded directly; stop only ends the loop.
		_ = s.db.View(func(txn *badger.Txn) error {
			self, err := getNode(txn, parent)
			if err != nil {
				yield(nil, err)
				return nil
			}
			if !self.IsGroup() {
				yield(nil, store.NewError(store.ErrNotGroup, parent, "not a group"))
				return nil
			}

			prefix := keyChildrenPrefix(parent)
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = prefix

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return nil
				}

				name := string(it.Item().Key()[len(prefix):])
				child, err := getNode(txn, store.Join(parent, name))
				if !yield(child, err) || err != nil {
					return nil
				}
			}
			return nil
		})
	}
}

// ReadAt reads payload bytes of dataset from its content blob.
func (s *BadgerStore) ReadAt(ctx context.Context, dataset *store.Entry, p []byte, off uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	path := store.CleanPath(dataset.Path)
	if err := s.checkOpen(path); err != nil {
		return 0, err
	}

	ds := dataset.Dataset
	if ds == nil || ds.ContentID == "" {
		// Entry did not come from this store; resolve it.
		e, err := s.Lookup(ctx, path)
		if err != nil {
			return 0, err
		}
		if !e.IsDataset() {
			return 0, store.NewError(store.ErrNotDataset, path, "not a dataset")
		}
		ds = e.Dataset
	}

	size := ds.PayloadSize()
	if off >= size || off > math.MaxInt64 {
		return 0, io.EOF
	}
	want := len(p)
	if uint64(want) > size-off {
		p = p[:size-off]
	}

	n, err := s.content.ReadAt(ctx, content.ContentID(ds.ContentID), p, int64(off))
	switch {
	case err == nil || err == io.EOF:
	case errors.Is(err, content.ErrContentNotFound):
		return n, store.NewError(store.ErrIOError, path, "payload %s missing", ds.ContentID)
	default:
		return n, store.NewError(store.ErrIOError, path, "payload read failed: %v", err)
	}

	// A blob shorter than its declared layout is a broken store; returning
	// io.EOF here would silently truncate the file.
	if n < len(p) {
		return n, store.NewError(store.ErrIOError, path,
			"payload %s truncated at %d of %d bytes", ds.ContentID, off+uint64(n), size)
	}
	if n < want {
		return n, io.EOF
	}
	return n, nil
}
