// Package importer builds a Data Store from a directory tree of .npy files.
//
// Directories become groups and every readable .npy file becomes a dataset
// named after the file without its extension. The header is parsed to
// recover dtype and shape; only the payload bytes are stored.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/h5fs/internal/logger"
	"github.com/marmos91/h5fs/pkg/npy"
	"github.com/marmos91/h5fs/pkg/store"
)

const npyExt = ".npy"

// Options controls an import.
type Options struct {
	// Into is the native group the tree is imported under. Missing groups
	// on the way are created. Default "/".
	Into string

	// Strict fails the import on files that cannot be imported (not NPY,
	// unsupported dtype, Fortran order). When false they are skipped with a
	// warning.
	Strict bool
}

// Stats summarises a finished import.
type Stats struct {
	Groups       int
	Datasets     int
	PayloadBytes uint64
	Skipped      []string
}

// Import walks srcDir and creates the corresponding entries in dst.
//
// Entries are created parents first, in lexical order. Files without the
// .npy extension and symlinks are ignored.
//
// Parameters:
//   - ctx: Context for cancellation, checked between files
//   - dst: Writable Data Store
//   - srcDir: Root of the tree to import
//   - opts: Destination group and strictness
//
// Returns:
//   - *Stats: What was imported
//   - error: Walk, parse (in strict mode) or store errors
func Import(ctx context.Context, dst store.WritableStore, srcDir string, opts Options) (*Stats, error) {
	into := "/"
	if opts.Into != "" {
		into = store.CleanPath(opts.Into)
	}

	info, err := os.Stat(srcDir)
	if err != nil {
		return nil, fmt.Errorf("import source: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("import source %s: not a directory", srcDir)
	}

	stats := &Stats{}

	// ========================================================================
	// Step 1: Ensure the destination group exists
	// ========================================================================

	created, err := ensureGroup(ctx, dst, into)
	if err != nil {
		return nil, err
	}
	stats.Groups += created

	// ========================================================================
	// Step 2: Walk the tree
	// ========================================================================

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		native := store.Join(into, filepath.ToSlash(rel))

		switch {
		case d.IsDir():
			if err := dst.CreateGroup(ctx, native); err != nil {
				return fmt.Errorf("creating group %s: %w", native, err)
			}
			logger.Debug("import: group %s", native)
			stats.Groups++
			return nil

		case d.Type().IsRegular() && strings.HasSuffix(d.Name(), npyExt) && len(d.Name()) > len(npyExt):
			native = strings.TrimSuffix(native, npyExt)
			size, err := importFile(ctx, dst, path, native)
			if err == nil {
				logger.Debug("import: dataset %s (%d payload bytes)", native, size)
				stats.Datasets++
				stats.PayloadBytes += size
				return nil
			}
			if !opts.Strict && (errors.Is(err, npy.ErrNotNPY) || errors.Is(err, npy.ErrUnsupported)) {
				logger.Warn("import: skipping %s: %v", path, err)
				stats.Skipped = append(stats.Skipped, path)
				return nil
			}
			return err

		default:
			logger.Debug("import: ignoring %s", path)
			return nil
		}
	})
	if err != nil {
		return stats, err
	}

	logger.Info("Imported %s into %s: %d groups, %d datasets, %d payload bytes, %d skipped",
		srcDir, into, stats.Groups, stats.Datasets, stats.PayloadBytes, len(stats.Skipped))
	return stats, nil
}

// importFile parses one .npy file and stores its payload as a dataset.
func importFile(ctx context.Context, dst store.WritableStore, path, native string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	header, err := npy.ReadHeader(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := header.PayloadSize()
	if available := fi.Size() - header.HeaderLen; available < 0 || uint64(available) < size {
		return 0, fmt.Errorf("%s: %w: payload truncated (%d bytes after header, want %d)",
			path, npy.ErrNotNPY, max(available, 0), size)
	}

	payload := io.NewSectionReader(f, header.HeaderLen, int64(size))
	if err := dst.CreateDataset(ctx, native, header.DType, header.Shape, payload); err != nil {
		return 0, fmt.Errorf("creating dataset %s: %w", native, err)
	}
	return size, nil
}

// ensureGroup creates p and its missing ancestors. It returns how many
// groups were created.
func ensureGroup(ctx context.Context, dst store.WritableStore, p string) (int, error) {
	if p == "/" {
		return 0, nil
	}

	e, err := dst.Lookup(ctx, p)
	switch {
	case err == nil && e.Kind == store.KindGroup:
		return 0, nil
	case err == nil:
		return 0, fmt.Errorf("import destination %s is not a group", p)
	case !store.IsNotFound(err):
		return 0, err
	}

	parent, _ := store.Split(p)
	created, err := ensureGroup(ctx, dst, parent)
	if err != nil {
		return created, err
	}
	if err := dst.CreateGroup(ctx, p); err != nil {
		return created, fmt.Errorf("creating group %s: %w", p, err)
	}
	return created + 1, nil
}
