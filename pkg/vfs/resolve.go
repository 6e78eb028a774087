package vfs

import (
	"context"
	"strings"
	"time"

	"github.com/marmos91/h5fs/internal/logger"
	"github.com/marmos91/h5fs/pkg/store"
)

// ============================================================================
// Entry Resolver
// ============================================================================

// Resolve maps a virtual path to its Data Store entry.
//
// When the final segment carries the dataset suffix (".npy"), the suffix is
// stripped and the native path is tried first; that attempt succeeds only
// if it names a dataset. Otherwise, or if it fails, the path is tried as
// is, which succeeds only for groups, because a dataset's only virtual name
// is the suffixed one.
//
// Known limitation: a group literally named "a.npy" next to a dataset "a"
// is shadowed by the dataset.
//
// Returns:
//   - *store.Entry: The resolved entry
//   - error: *Error with CodeNotFound, or CodeIO on store failure
func (fs *FS) Resolve(ctx context.Context, virtualPath string) (entry *store.Entry, err error) {
	start := time.Now()
	defer func() { fs.metrics.ObserveOperation("resolve", time.Since(start), err) }()

	p := store.CleanPath(virtualPath)

	// ========================================================================
	// Step 1: Mangled form
	// ========================================================================

	if native, ok := fs.nativeName(p); ok {
		e, err := fs.store.Lookup(ctx, native)
		switch {
		case err == nil && e.Kind == store.KindDataset:
			return e, nil
		case err != nil && !store.IsNotFound(err):
			return nil, fromStore("resolve", p, err)
		}
	}

	// ========================================================================
	// Step 2: Path as is
	// ========================================================================

	e, err := fs.store.Lookup(ctx, p)
	if err != nil {
		logger.Debug("resolve %s: %v", p, err)
		return nil, fromStore("resolve", p, err)
	}
	if e.Kind == store.KindDataset && fs.presenter.Extension() != "" {
		logger.Debug("resolve %s: dataset requested without .%s suffix", p, fs.presenter.Extension())
		return nil, newError(CodeNotFound, "resolve", p, nil)
	}
	return e, nil
}

// nativeName strips the dataset suffix from the last segment. ok is false
// when there is no suffix to strip.
func (fs *FS) nativeName(p string) (string, bool) {
	ext := fs.presenter.Extension()
	if ext == "" {
		return "", false
	}

	parent, name := store.Split(p)
	suffix := "." + ext
	if len(name) <= len(suffix) || !strings.HasSuffix(name, suffix) {
		return "", false
	}
	return store.Join(parent, strings.TrimSuffix(name, suffix)), true
}

// VirtualName is the name under which e appears in its parent's listing.
func (fs *FS) VirtualName(e *store.Entry) string {
	name := e.Name()
	if e.Kind == store.KindDataset {
		if ext := fs.presenter.Extension(); ext != "" {
			name += "." + ext
		}
	}
	return name
}

// VirtualPath is the absolute path that resolves back to e.
func (fs *FS) VirtualPath(e *store.Entry) string {
	parent, _ := store.Split(e.Path)
	if e.Path == "/" {
		return "/"
	}
	return store.Join(parent, fs.VirtualName(e))
}
