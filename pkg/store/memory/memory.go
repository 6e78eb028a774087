// Package memory implements an in-memory Data Store.
//
// The whole tree, payloads included, lives in process memory. It is used
// by tests and for small ephemeral mounts; children are enumerated in
// insertion order.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"sync"

	"github.com/marmos91/h5fs/pkg/store"
)

type node struct {
	entry    store.Entry
	children []string
	payload  []byte
}

// MemoryStore is a WritableStore backed by maps.
//
// Thread Safety:
// All methods are safe for concurrent use. Reads take a shared lock only
// while copying out of the tree.
type MemoryStore struct {
	mu     sync.RWMutex
	nodes  map[string]*node
	closed bool
}

// New returns a store holding only the root group.
func New() *MemoryStore {
	return &MemoryStore{
		nodes: map[string]*node{
			"/": {entry: store.Entry{Kind: store.KindGroup, Path: "/"}},
		},
	}
}

func (s *MemoryStore) Lookup(ctx context.Context, nativePath string) (*store.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := store.CleanPath(nativePath)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.NewError(store.ErrIOError, p, "store closed")
	}

	n, ok := s.nodes[p]
	if !ok {
		return nil, store.NotFound(p)
	}
	return cloneEntry(&n.entry), nil
}

func (s *MemoryStore) Children(ctx context.Context, group *store.Entry) iter.Seq2[*store.Entry, error] {
	return func(yield func(*store.Entry, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}

		parent := store.CleanPath(group.Path)

		s.mu.RLock()
		n, ok := s.nodes[parent]
		var names []string
		if ok {
			names = append(names, n.children...)
		}
		isGroup := ok && n.entry.Kind == store.KindGroup
		s.mu.RUnlock()

		if !ok {
			yield(nil, store.NotFound(parent))
			return
		}
		if !isGroup {
			yield(nil, store.NewError(store.ErrNotGroup, parent, "not a group"))
			return
		}

		for _, name := range names {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			s.mu.RLock()
			child, ok := s.nodes[store.Join(parent, name)]
			var e *store.Entry
			if ok {
				e = cloneEntry(&child.entry)
			}
			s.mu.RUnlock()

			if !ok {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (s *MemoryStore) ReadAt(ctx context.Context, dataset *store.Entry, p []byte, off uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	path := store.CleanPath(dataset.Path)

	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[path]
	if !ok {
		return 0, store.NotFound(path)
	}
	if n.entry.Kind != store.KindDataset {
		return 0, store.NewError(store.ErrNotDataset, path, "not a dataset")
	}

	if off >= uint64(len(n.payload)) {
		return 0, io.EOF
	}

	copied := copy(p, n.payload[off:])
	if copied < len(p) {
		return copied, io.EOF
	}
	return copied, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("memory store already closed")
	}
	s.closed = true
	return nil
}

func (s *MemoryStore) CreateGroup(ctx context.Context, nativePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.insert(store.Entry{Kind: store.KindGroup, Path: store.CleanPath(nativePath)})
	return err
}

func (s *MemoryStore) CreateDataset(ctx context.Context, nativePath string, dtype store.DType, shape []uint64, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := store.CleanPath(nativePath)
	if err := dtype.Validate(); err != nil {
		return store.NewError(store.ErrInvalidArgument, p, "invalid dtype: %v", err)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return fmt.Errorf("read payload for %s: %w", p, err)
	}

	want := store.PayloadSize(dtype, shape)
	if uint64(buf.Len()) != want {
		return store.NewError(store.ErrInvalidArgument, p,
			"payload is %d bytes, shape and dtype require %d", buf.Len(), want)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.insert(store.Entry{
		Kind: store.KindDataset,
		Path: p,
		Dataset: &store.Dataset{
			DType: dtype,
			Shape: append([]uint64{}, shape...),
		},
	})
	if err != nil {
		return err
	}
	n.payload = buf.Bytes()
	return nil
}

// insert links a new node under its parent. Caller holds the write lock.
func (s *MemoryStore) insert(e store.Entry) (*node, error) {
	if s.closed {
		return nil, store.NewError(store.ErrIOError, e.Path, "store closed")
	}

	parentPath, name := store.Split(e.Path)
	if name == "" {
		return nil, store.NewError(store.ErrAlreadyExists, e.Path, "root group always exists")
	}
	if _, exists := s.nodes[e.Path]; exists {
		return nil, store.NewError(store.ErrAlreadyExists, e.Path, "entry already exists")
	}

	parent, ok := s.nodes[parentPath]
	if !ok {
		return nil, store.NotFound(parentPath)
	}
	if parent.entry.Kind != store.KindGroup {
		return nil, store.NewError(store.ErrNotGroup, parentPath, "parent is not a group")
	}

	n := &node{entry: e}
	s.nodes[e.Path] = n
	parent.children = append(parent.children, name)
	return n, nil
}

func cloneEntry(e *store.Entry) *store.Entry {
	out := *e
	if e.Dataset != nil {
		ds := *e.Dataset
		ds.Shape = append([]uint64(nil), e.Dataset.Shape...)
		out.Dataset = &ds
	}
	return &out
}
