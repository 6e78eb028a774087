// Package hdf5 implements a read-only Data Store over an HDF5 file.
//
// Groups of the file are groups of the store and datasets are datasets,
// with their element type and shape taken from the datatype and dataspace
// messages. Payload reads go straight to the file: contiguous and compact
// datasets are sliced in place, chunked datasets are assembled from their
// chunks with any deflate, shuffle, fletcher32, LZ4 or zstd filters undone.
//
// Objects the presentation cannot express (variable-length, reference and
// time types, null dataspaces, committed datatypes) are left out of
// listings and are not found by Lookup. Soft and external links are not
// followed.
package hdf5

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/marmos91/h5fs/internal/logger"
	"github.com/marmos91/h5fs/pkg/store"
)

// HDF5Store implements store.WritableStore over one HDF5 file. Every
// mutation fails with ErrReadOnly.
//
// Thread Safety:
// Decoded object headers are memoised by address under mu; group listings
// and chunk indexes are built once per object. Reads use ReadAt on the
// file and are safe for concurrent use.
type HDF5Store struct {
	file   *file
	closer io.Closer
	name   string

	mu      sync.Mutex
	objects map[uint64]*object

	chunks *chunkCache
	closed atomic.Bool
}

// HDF5StoreConfig contains configuration for opening an HDF5Store.
type HDF5StoreConfig struct {
	// Path is the .h5 file to serve.
	Path string `mapstructure:"path"`

	// ChunkCacheSize is the number of decoded chunks kept in memory
	// (default: 64, negative disables the cache).
	ChunkCacheSize int `mapstructure:"chunk_cache_size"`
}

const defaultChunkCacheSize = 64

// NewHDF5Store opens the file named by cfg.Path.
//
// Parameters:
//   - ctx: Context for cancellation
//   - cfg: File location and cache size
//
// Returns:
//   - *HDF5Store: A store ready for use; Close closes the file
//   - error: Error if the file cannot be opened or is not HDF5
func NewHDF5Store(ctx context.Context, cfg HDF5StoreConfig) (*HDF5Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("hdf5 store: path is required")
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("hdf5 store: %w", err)
	}

	s, err := New(f, cfg)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("hdf5 store %s: %w", cfg.Path, err)
	}
	s.closer = f
	return s, nil
}

// New serves an HDF5 image read through r. cfg.Path is only used in log
// messages. The caller keeps ownership of r.
func New(r io.ReaderAt, cfg HDF5StoreConfig) (*HDF5Store, error) {
	f, err := openFile(r)
	if err != nil {
		return nil, err
	}

	size := cfg.ChunkCacheSize
	if size == 0 {
		size = defaultChunkCacheSize
	}

	s := &HDF5Store{
		file:    f,
		name:    cfg.Path,
		objects: make(map[uint64]*object),
		chunks:  newChunkCache(size),
	}

	root, err := s.object(f.root)
	if err != nil {
		return nil, err
	}
	if !root.isGroup {
		return nil, fmt.Errorf("hdf5: root object 0x%x is not a group", f.root)
	}

	logger.Debug("HDF5 file %s: superblock v%d, offsets %d bytes, root at 0x%x",
		cfg.Path, f.superblockVersion, f.offsetSize, f.root)
	return s, nil
}

// Close releases the file. A second call returns an error.
func (s *HDF5Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("hdf5 store already closed")
	}
	s.chunks.clear()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

func (s *HDF5Store) checkOpen(path string) error {
	if s.closed.Load() {
		return store.NewError(store.ErrIOError, path, "store closed")
	}
	return nil
}

// object returns the decoded header at addr, decoding it on first use.
func (s *HDF5Store) object(addr uint64) (*object, error) {
	s.mu.Lock()
	o := s.objects[addr]
	s.mu.Unlock()
	if o != nil {
		return o, nil
	}

	o, err := s.file.readObject(addr, 0)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.objects[addr]; existing != nil {
		return existing, nil
	}
	s.objects[addr] = o
	return o, nil
}

// entryFor presents a decoded object at path. The second result is false
// for objects that are neither a group nor a presentable dataset.
func entryFor(path string, o *object) (*store.Entry, bool) {
	if o.isGroup {
		return &store.Entry{Kind: store.KindGroup, Path: path}, true
	}
	if !o.isDataset() || o.typeErr != nil || o.nullSpace {
		return nil, false
	}

	shape := make([]uint64, 0, len(o.shape)+len(o.typeDims))
	shape = append(shape, o.shape...)
	shape = append(shape, o.typeDims...)

	return &store.Entry{
		Kind: store.KindDataset,
		Path: path,
		Dataset: &store.Dataset{
			DType:     o.dtype,
			Shape:     shape,
			ContentID: fmt.Sprintf("%#x", o.addr),
		},
	}, true
}

// skipReason explains why entryFor rejected an object.
func skipReason(o *object) string {
	switch {
	case o.typeErr != nil:
		return o.typeErr.Error()
	case o.nullSpace:
		return "null dataspace"
	default:
		return "not a group or dataset"
	}
}

// resolve walks p from the root group.
func (s *HDF5Store) resolve(p string) (*object, error) {
	o, err := s.object(s.file.root)
	if err != nil {
		return nil, store.NewError(store.ErrIOError, "/", "%v", err)
	}
	if p == "/" {
		return o, nil
	}

	for _, name := range strings.Split(p[1:], "/") {
		if !o.isGroup {
			return nil, store.NotFound(p)
		}
		links, err := s.file.groupLinks(o)
		if err != nil {
			return nil, store.NewError(store.ErrIOError, p, "%v", err)
		}

		i := sort.Search(len(links), func(i int) bool { return links[i].name >= name })
		if i == len(links) || links[i].name != name {
			return nil, store.NotFound(p)
		}
		if o, err = s.object(links[i].addr); err != nil {
			return nil, store.NewError(store.ErrIOError, p, "%v", err)
		}
	}
	return o, nil
}

// Lookup resolves a native path to its entry.
func (s *HDF5Store) Lookup(ctx context.Context, nativePath string) (*store.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := store.CleanPath(nativePath)
	if err := s.checkOpen(p); err != nil {
		return nil, err
	}

	o, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	e, ok := entryFor(p, o)
	if !ok {
		return nil, store.NotFound(p)
	}
	return e, nil
}

// Children enumerates the direct children of group in byte order of their
// names, which is the order of the file's name index.
func (s *HDF5Store) Children(ctx context.Context, group *store.Entry) iter.Seq2[*store.Entry, error] {
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

		o, err := s.resolve(parent)
		if err != nil {
			yield(nil, err)
			return
		}
		if !o.isGroup {
			yield(nil, store.NewError(store.ErrNotGroup, parent, "not a group"))
			return
		}

		links, err := s.file.groupLinks(o)
		if err != nil {
			yield(nil, store.NewError(store.ErrIOError, parent, "%v", err))
			return
		}

		for _, l := range links {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			path := store.Join(parent, l.name)
			child, err := s.object(l.addr)
			if err != nil {
				yield(nil, store.NewError(store.ErrIOError, path, "%v", err))
				return
			}

			e, ok := entryFor(path, child)
			if !ok {
				logger.Debug("HDF5: skipping %s: %s", path, skipReason(child))
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// ReadAt reads payload bytes of dataset from the file.
func (s *HDF5Store) ReadAt(ctx context.Context, dataset *store.Entry, p []byte, off uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	path := store.CleanPath(dataset.Path)
	if err := s.checkOpen(path); err != nil {
		return 0, err
	}

	o, err := s.datasetObject(dataset, path)
	if err != nil {
		return 0, err
	}
	e, ok := entryFor(path, o)
	if !ok || !e.IsDataset() {
		return 0, store.NewError(store.ErrNotDataset, path, "not a dataset")
	}

	size := e.Dataset.PayloadSize()
	if off >= size {
		return 0, io.EOF
	}
	want := len(p)
	if uint64(want) > size-off {
		p = p[:size-off]
	}

	if err := s.readPayload(ctx, o, size, p, off); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, store.NewError(store.ErrIOError, path, "payload read failed: %v", err)
	}

	if len(p) < want {
		return len(p), io.EOF
	}
	return len(p), nil
}

// datasetObject finds the object behind a dataset entry, by the header
// address this store put in ContentID or else by path.
func (s *HDF5Store) datasetObject(dataset *store.Entry, path string) (*object, error) {
	if dataset.Dataset != nil && dataset.Dataset.ContentID != "" {
		if addr, err := strconv.ParseUint(dataset.Dataset.ContentID, 0, 64); err == nil {
			o, err := s.object(addr)
			if err != nil {
				return nil, store.NewError(store.ErrIOError, path, "%v", err)
			}
			return o, nil
		}
	}
	return s.resolve(path)
}

// readPayload fills p with payload bytes starting at off. p never extends
// past size.
func (s *HDF5Store) readPayload(ctx context.Context, o *object, size uint64, p []byte, off uint64) error {
	l := o.layout
	switch l.class {
	case layoutCompact:
		if uint64(len(l.data)) < size {
			return fmt.Errorf("compact data is %d bytes, dataset needs %d", len(l.data), size)
		}
		copy(p, l.data[off:])
		return nil

	case layoutContiguous:
		if l.address == undefinedAddress {
			clear(p)
			return nil
		}
		if l.size < size {
			return fmt.Errorf("contiguous storage is %d bytes, dataset needs %d", l.size, size)
		}
		b, err := s.file.readAt(l.address+off, len(p))
		if err != nil {
			return err
		}
		copy(p, b)
		return nil

	case layoutChunked:
		return s.readChunked(ctx, o, p, off)
	}
	return unsupported("layout class %d", l.class)
}

// readChunked copies the byte range [off, off+len(p)) of the row-major
// payload out of the chunks that hold it. Each step copies the longest run
// that is contiguous in both the payload and one chunk: at most the rest
// of a chunk row along the last dimension.
func (s *HDF5Store) readChunked(ctx context.Context, o *object, p []byte, off uint64) error {
	l := o.layout
	o.chunksOnce.Do(func() {
		o.chunks, o.chunksErr = s.file.loadChunks(o)
	})
	if o.chunksErr != nil {
		return o.chunksErr
	}

	shape, dims, elem := o.shape, l.chunkDims, l.elemSize
	if want := o.dtype.Size() * store.Count(o.typeDims); elem != want {
		return fmt.Errorf("chunk element size %d, datatype size %d", elem, want)
	}
	rank := len(shape)
	if rank == 0 || elem == 0 {
		return fmt.Errorf("chunked dataset of rank %d", rank)
	}

	idx := make([]uint64, rank)
	for done := 0; done < len(p); {
		if err := ctx.Err(); err != nil {
			return err
		}

		pos := off + uint64(done)
		rest := pos / elem
		within := pos % elem
		for i := rank - 1; i >= 0; i-- {
			idx[i] = rest % shape[i]
			rest /= shape[i]
		}

		var chunkNo, inChunk uint64
		for i := range rank {
			chunkNo = chunkNo*o.chunks.grid[i] + idx[i]/dims[i]
			inChunk = inChunk*dims[i] + idx[i]%dims[i]
		}

		last := rank - 1
		run := min(dims[last]-idx[last]%dims[last], shape[last]-idx[last])*elem - within
		n := int(min(run, uint64(len(p)-done)))

		data, err := s.chunk(o, chunkNo)
		if err != nil {
			return err
		}
		if data == nil {
			clear(p[done : done+n])
		} else {
			copy(p[done:done+n], data[inChunk*elem+within:])
		}
		done += n
	}
	return nil
}

// chunk returns the decoded bytes of chunk n, or nil when it was never
// written.
func (s *HDF5Store) chunk(o *object, n uint64) ([]byte, error) {
	entry, ok := o.chunks.entries[n]
	if !ok || entry.addr == undefinedAddress {
		return nil, nil
	}
	if data := s.chunks.get(entry.addr); data != nil {
		return data, nil
	}

	want := o.layout.chunkBytes()
	if entry.size > 1<<32 || want > 1<<32 {
		return nil, fmt.Errorf("chunk of %d bytes at 0x%x is too large", entry.size, entry.addr)
	}
	raw, err := s.file.readAt(entry.addr, int(entry.size))
	if err != nil {
		return nil, err
	}

	data := raw
	if len(o.filters) > 0 {
		if data, err = unfilter(o.filters, entry.mask, raw, want); err != nil {
			return nil, fmt.Errorf("chunk at 0x%x: %w", entry.addr, err)
		}
	} else if uint64(len(raw)) != want {
		return nil, fmt.Errorf("chunk at 0x%x is %d bytes, want %d", entry.addr, len(raw), want)
	}

	s.chunks.put(entry.addr, data)
	return data, nil
}

// CreateGroup always fails: HDF5 files are served read-only.
func (s *HDF5Store) CreateGroup(ctx context.Context, nativePath string) error {
	return store.NewError(store.ErrReadOnly, store.CleanPath(nativePath), "hdf5 files are read-only")
}

// CreateDataset always fails: HDF5 files are served read-only.
func (s *HDF5Store) CreateDataset(ctx context.Context, nativePath string, dtype store.DType, shape []uint64, r io.Reader) error {
	return store.NewError(store.ErrReadOnly, store.CleanPath(nativePath), "hdf5 files are read-only")
}

var _ store.WritableStore = (*HDF5Store)(nil)
