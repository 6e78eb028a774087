// Package vfs composes a Data Store into a read-only virtual filesystem.
//
// Groups are directories. A dataset is a file whose bytes are a header
// synthesized from its dtype and shape followed by its raw payload; under
// the default npy presentation the file is named "<dataset>.npy" and is a
// valid NPY 1.0 array.
//
// The package is the addressing layer only. It resolves virtual paths,
// computes sizes and attributes, lists groups and serves byte ranges. It
// holds no state between calls: headers are recomputed per request and
// entries are never cached, so it is safe to call from any number of
// goroutines as long as the underlying store is.
//
// The Data Store handle is injected by the caller, who owns its lifetime
// (open for the duration of a mount, closed exactly once afterwards).
package vfs

import (
	"fmt"
	"os"

	"github.com/marmos91/h5fs/pkg/store"
)

// FS is the virtual filesystem over one Data Store.
type FS struct {
	store     store.Store
	presenter Presenter
	uid, gid  uint32
	metrics   Metrics
}

// Config configures an FS.
type Config struct {
	// Presentation selects npy (default) or raw dataset files.
	Presentation Presentation

	// UID and GID own every entry. Zero values are replaced by the
	// current process's ids unless ExplicitOwner is set.
	UID, GID      uint32
	ExplicitOwner bool

	// Metrics is optional; nil disables collection.
	Metrics Metrics
}

// New builds an FS over st. st is borrowed, not owned: FS never closes it.
//
// Parameters:
//   - st: Open Data Store
//   - cfg: Presentation, ownership and metrics
//
// Returns:
//   - *FS: The filesystem
//   - error: Unknown presentation or nil store
func New(st store.Store, cfg Config) (*FS, error) {
	if st == nil {
		return nil, fmt.Errorf("vfs: data store is required")
	}

	presentation, err := ParsePresentation(string(cfg.Presentation))
	if err != nil {
		return nil, err
	}

	uid, gid := cfg.UID, cfg.GID
	if !cfg.ExplicitOwner {
		uid, gid = uint32(os.Getuid()), uint32(os.Getgid())
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &FS{
		store:     st,
		presenter: NewPresenter(presentation),
		uid:       uid,
		gid:       gid,
		metrics:   metrics,
	}, nil
}

// Presenter returns the dataset presentation in use.
func (fs *FS) Presenter() Presenter {
	return fs.presenter
}
