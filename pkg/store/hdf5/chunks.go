package hdf5

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/marmos91/h5fs/pkg/store"
)

// chunkEntry locates one stored chunk.
type chunkEntry struct {
	addr uint64
	size uint64 // stored (possibly filtered) size
	mask uint32 // filters skipped for this chunk
}

// chunkIndex maps row-major chunk numbers to stored chunks. Chunks that
// were never written are absent and read as zeros.
type chunkIndex struct {
	grid    []uint64
	entries map[uint64]chunkEntry
}

// chunkGrid returns the number of chunks along each dimension.
func chunkGrid(shape, chunk []uint64) ([]uint64, error) {
	if len(shape) != len(chunk) {
		return nil, fmt.Errorf("hdf5: chunk rank %d does not match dataset rank %d", len(chunk), len(shape))
	}
	grid := make([]uint64, len(shape))
	for i, n := range shape {
		if chunk[i] == 0 {
			return nil, fmt.Errorf("hdf5: zero chunk dimension")
		}
		grid[i] = (n + chunk[i] - 1) / chunk[i]
	}
	return grid, nil
}

// chunkBytes is the decoded size of one full chunk.
func (l *layout) chunkBytes() uint64 {
	return store.Count(l.chunkDims) * l.elemSize
}

// loadChunks builds the chunk index of a chunked dataset.
func (f *file) loadChunks(o *object) (*chunkIndex, error) {
	l := o.layout
	grid, err := chunkGrid(o.shape, l.chunkDims)
	if err != nil {
		return nil, err
	}
	idx := &chunkIndex{grid: grid, entries: make(map[uint64]chunkEntry)}
	if l.address == undefinedAddress {
		return idx, nil
	}

	switch l.indexType {
	case chunkIndexBTreeV1:
		err = f.walkChunkTree(l.address, len(l.chunkDims), l.chunkDims, idx, 0)
	case chunkIndexSingle:
		size := l.singleSize
		if len(o.filters) == 0 {
			size = l.chunkBytes()
		}
		idx.entries[0] = chunkEntry{addr: l.address, size: size, mask: l.singleMask}
	case chunkIndexImplicit:
		total := store.Count(grid)
		for n := range total {
			idx.entries[n] = chunkEntry{addr: l.address + n*l.chunkBytes(), size: l.chunkBytes()}
		}
	default:
		return nil, unsupported("chunk index type %d", l.indexType)
	}
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// maxTreeDepth bounds version 1 B-tree recursion on corrupt files.
const maxTreeDepth = 64

// walkChunkTree collects the leaves of a version 1 B-tree of raw data
// chunks (node type 1).
func (f *file) walkChunkTree(addr uint64, rank int, chunk []uint64, idx *chunkIndex, depth int) error {
	if depth > maxTreeDepth {
		return fmt.Errorf("hdf5: chunk b-tree deeper than %d", maxTreeDepth)
	}

	headSize := 8 + 2*f.offsetSize
	head, err := f.readAt(addr, headSize)
	if err != nil {
		return err
	}
	d := f.decoder(head)
	if err := d.signature("TREE"); err != nil {
		return err
	}
	if typ := d.u8(); typ != 1 {
		return fmt.Errorf("hdf5: chunk b-tree node of type %d", typ)
	}
	level := d.u8()
	entries := int(d.u16())

	keySize := 8 + 8*(rank+1)
	body, err := f.readAt(addr+uint64(headSize), entries*(keySize+f.offsetSize)+keySize)
	if err != nil {
		return err
	}
	d = f.decoder(body)
	for range entries {
		size := uint64(d.u32())
		mask := d.u32()
		offsets := make([]uint64, rank)
		for i := range offsets {
			offsets[i] = d.u64()
		}
		d.skip(8) // element offset, always zero
		child := d.addr()
		if d.err != nil {
			return d.err
		}

		if level > 0 {
			if err := f.walkChunkTree(child, rank, chunk, idx, depth+1); err != nil {
				return err
			}
			continue
		}

		var n uint64
		for i, off := range offsets {
			n = n*idx.grid[i] + off/chunk[i]
		}
		idx.entries[n] = chunkEntry{addr: child, size: size, mask: mask}
	}
	return d.err
}

// ============================================================================
// Decoded Chunk Cache
// ============================================================================

// chunkCache keeps recently decoded chunks so that sequential reads
// through a file do not decompress the same chunk once per request.
type chunkCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint64]*list.Element
	lru      *list.List
}

type cachedChunk struct {
	addr uint64
	data []byte
}

func newChunkCache(capacity int) *chunkCache {
	return &chunkCache{capacity: capacity, entries: make(map[uint64]*list.Element), lru: list.New()}
}

func (c *chunkCache) get(addr uint64) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[addr]
	if !ok {
		return nil
	}
	c.lru.MoveToFront(el)
	return el.Value.(*cachedChunk).data
}

func (c *chunkCache) put(addr uint64, data []byte) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[addr]; ok {
		c.lru.MoveToFront(el)
		return
	}
	for c.lru.Len() >= c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cachedChunk).addr)
	}
	c.entries[addr] = c.lru.PushFront(&cachedChunk{addr: addr, data: data})
}

func (c *chunkCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*list.Element)
	c.lru.Init()
}
