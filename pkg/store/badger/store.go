// Package badger implements a persistent Data Store on BadgerDB.
//
// Group and dataset records live in badger; dataset payloads live in a
// content store (local directory, memory or S3) and are referenced by
// ContentID. Trees are populated by `h5fs import` and mounted read-only.
package badger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/h5fs/pkg/content"
	"github.com/marmos91/h5fs/pkg/store"
)

// BadgerStore implements store.WritableStore using BadgerDB for the
// hierarchy and a content store for payloads.
//
// Thread Safety:
// Reads use badger's MVCC read transactions and are safe for concurrent
// use. Creates are serialised by mu so that the parent check, payload
// upload and record commit happen as one step from the caller's view.
type BadgerStore struct {
	db       *badger.DB
	content  content.ContentStore
	readOnly bool

	mu     sync.Mutex
	closed atomic.Bool
}

// BadgerStoreConfig contains configuration for creating a BadgerStore.
type BadgerStoreConfig struct {
	// DBPath is the directory where BadgerDB stores its files.
	DBPath string `mapstructure:"db_path"`

	// ReadOnly opens the database without write access. Mounting always
	// uses read-only mode; importing never does.
	ReadOnly bool `mapstructure:"read_only"`

	// InMemory keeps the database in memory only (DBPath is ignored).
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`

	// Content holds dataset payloads. The store takes ownership: Close
	// closes it when it implements io.Closer. Creating datasets requires a
	// content.WritableContentStore.
	Content content.ContentStore `mapstructure:"-"`
}

// NewBadgerStore opens (or creates) a BadgerDB-backed Data Store.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - cfg: Database location, mode and payload store
//
// Returns:
//   - *BadgerStore: A store ready for use
//   - error: Error if the database cannot be opened or context is cancelled
func NewBadgerStore(ctx context.Context, cfg BadgerStoreConfig) (*BadgerStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Content == nil {
		return nil, fmt.Errorf("badger store: content store is required")
	}
	if cfg.DBPath == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger store: db_path is required")
	}

	opts := badger.DefaultOptions(cfg.DBPath)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	// Records are a few hundred bytes and the tree is scanned a directory
	// at a time; compression buys nothing here.
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)
	opts = opts.WithReadOnly(cfg.ReadOnly && !cfg.InMemory)

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	return &BadgerStore{
		db:       db,
		content:  cfg.Content,
		readOnly: cfg.ReadOnly,
	}, nil
}

// Close closes the database and the owned content store. A second call
// returns an error.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("badger store already closed")
	}

	var errs []error
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close BadgerDB: %w", err))
	}
	if closer, ok := s.content.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close content store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *BadgerStore) checkOpen(path string) error {
	if s.closed.Load() {
		return store.NewError(store.ErrIOError, path, "store closed")
	}
	return nil
}

// getNode reads one node record inside txn. The root is synthesised.
func getNode(txn *badger.Txn, path string) (*store.Entry, error) {
	if path == "/" {
		return &store.Entry{Kind: store.KindGroup, Path: "/"}, nil
	}

	item, err := txn.Get(keyNode(path))
	if err == badger.ErrKeyNotFound {
		return nil, store.NotFound(path)
	}
	if err != nil {
		return nil, store.NewError(store.ErrIOError, path, "failed to get node: %v", err)
	}

	var entry *store.Entry
	err = item.Value(func(val []byte) error {
		var derr error
		entry, derr = decodeNode(path, val)
		return derr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}
