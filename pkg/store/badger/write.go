package badger

import (
	"context"
	"io"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/marmos91/h5fs/pkg/content"
	"github.com/marmos91/h5fs/pkg/store"
)

// CreateGroup adds an empty group under an existing parent group.
func (s *BadgerStore) CreateGroup(ctx context.Context, nativePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := store.CleanPath(nativePath)
	if err := s.checkWritable(p); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return insert(txn, &store.Entry{Kind: store.KindGroup, Path: p})
	})
}

// CreateDataset uploads the payload under a fresh ContentID and commits
// the dataset record.
//
// The payload is written before the record, so a crash in between leaves
// an unreferenced blob rather than a dataset without data.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - nativePath: Path of the new dataset; its parent must be a group
//   - dtype: Element type
//   - shape: Dimension lengths (nil for a scalar)
//   - r: Exactly PayloadSize(dtype, shape) bytes
//
// Returns:
//   - error: StoreError with ErrInvalidArgument, ErrAlreadyExists,
//     ErrNotFound, ErrNotGroup or ErrReadOnly; or content store errors
func (s *BadgerStore) CreateDataset(ctx context.Context, nativePath string, dtype store.DType, shape []uint64, r io.Reader) error {
	// ========================================================================
	// Step 1: Validate the layout
	// ========================================================================

	if err := ctx.Err(); err != nil {
		return err
	}

	p := store.CleanPath(nativePath)
	if err := dtype.Validate(); err != nil {
		return store.NewError(store.ErrInvalidArgument, p, "invalid dtype: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWritable(p); err != nil {
		return err
	}

	writable, ok := s.content.(content.WritableContentStore)
	if !ok {
		return store.NewError(store.ErrReadOnly, p, "content store is not writable")
	}

	// Fail fast on path problems before uploading anything.
	entry := &store.Entry{
		Kind: store.KindDataset,
		Path: p,
		Dataset: &store.Dataset{
			DType:     dtype,
			Shape:     append([]uint64(nil), shape...),
			ContentID: uuid.NewString(),
		},
	}
	if err := s.db.View(func(txn *badger.Txn) error { return checkInsert(txn, p) }); err != nil {
		return err
	}

	// ========================================================================
	// Step 2: Upload the payload
	// ========================================================================

	id := content.ContentID(entry.Dataset.ContentID)
	n, err := writable.WriteContent(ctx, id, r)
	if err != nil {
		_ = writable.Delete(ctx, id)
		return err
	}

	want := store.PayloadSize(dtype, shape)
	if uint64(n) != want {
		_ = writable.Delete(ctx, id)
		return store.NewError(store.ErrInvalidArgument, p,
			"payload is %d bytes, shape and dtype require %d", n, want)
	}

	// ========================================================================
	// Step 3: Commit the record
	// ========================================================================

	err = s.db.Update(func(txn *badger.Txn) error {
		return insert(txn, entry)
	})
	if err != nil {
		_ = writable.Delete(ctx, id)
		return err
	}
	return nil
}

func (s *BadgerStore) checkWritable(path string) error {
	if err := s.checkOpen(path); err != nil {
		return err
	}
	if s.readOnly {
		return store.NewError(store.ErrReadOnly, path, "store opened read-only")
	}
	return nil
}

// checkInsert verifies that path is free and its parent is a group.
func checkInsert(txn *badger.Txn, path string) error {
	parentPath, name := store.Split(path)
	if name == "" {
		return store.NewError(store.ErrAlreadyExists, path, "root group always exists")
	}

	if _, err := txn.Get(keyNode(path)); err == nil {
		return store.NewError(store.ErrAlreadyExists, path, "entry already exists")
	} else if err != badger.ErrKeyNotFound {
		return store.NewError(store.ErrIOError, path, "failed to check entry: %v", err)
	}

	parent, err := getNode(txn, parentPath)
	if err != nil {
		return err
	}
	if !parent.IsGroup() {
		return store.NewError(store.ErrNotGroup, parentPath, "parent is not a group")
	}
	return nil
}

// insert writes the node record and links it into its parent.
func insert(txn *badger.Txn, e *store.Entry) error {
	if err := checkInsert(txn, e.Path); err != nil {
		return err
	}

	data, err := encodeNode(e)
	if err != nil {
		return err
	}
	if err := txn.Set(keyNode(e.Path), data); err != nil {
		return store.NewError(store.ErrIOError, e.Path, "failed to store node: %v", err)
	}

	parentPath, name := store.Split(e.Path)
	if err := txn.Set(keyChild(parentPath, name), nil); err != nil {
		return store.NewError(store.ErrIOError, e.Path, "failed to link child: %v", err)
	}
	return nil
}
