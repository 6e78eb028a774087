package badger

import (
	"context"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/h5fs/pkg/content"
	"github.com/marmos91/h5fs/pkg/store"
)

// ContentStore returns the payload store the records point into.
func (s *BadgerStore) ContentStore() content.ContentStore {
	return s.content
}

// ContentIDs returns the ContentID of every dataset record, scanning one
// read transaction so the result is a consistent snapshot.
//
// Returns:
//   - []content.ContentID: Referenced IDs, in path order
//   - error: Context cancellation, closed store or corrupt records
func (s *BadgerStore) ContentIDs(ctx context.Context) ([]content.ContentID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.checkOpen("/"); err != nil {
		return nil, err
	}

	var ids []content.ContentID
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixNode)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			path := string(item.Key()[len(prefix):])
			err := item.Value(func(val []byte) error {
				e, err := decodeNode(path, val)
				if err != nil {
					return err
				}
				if e.IsDataset() && e.Dataset.ContentID != "" {
					ids = append(ids, content.ContentID(e.Dataset.ContentID))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if _, ok := store.CodeOf(err); ok {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, store.NewError(store.ErrIOError, "/", "failed to scan records: %v", err)
	}
	return ids, nil
}
