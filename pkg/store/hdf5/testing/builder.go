// Package testing builds small HDF5 file images for tests of the hdf5
// store, without the HDF5 C library.
//
// Images use the structures libhdf5 writes: symbol-table groups under a
// version 0 superblock, or link messages under a version 2 superblock,
// with contiguous, compact or chunked datasets. Checksum fields of version
// 2 structures are written as zero.
package testing

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"
)

const (
	signature = "\x89HDF\r\n\x1a\n"
	undefined = ^uint64(0)
)

var le = binary.LittleEndian

// Format selects the generation of metadata structures in an image.
type Format int

const (
	// FormatV0 writes a version 0 superblock, version 1 object headers and
	// symbol-table groups.
	FormatV0 Format = iota

	// FormatV2 writes a version 2 superblock, version 2 object headers and
	// groups made of link messages.
	FormatV2
)

// Options controls the layout of an image.
type Options struct {
	Format Format

	// UserBlock reserves that many leading bytes before the superblock.
	// It must be 0 or a power of two of at least 512.
	UserBlock uint64
}

// Node is a *Group, *Dataset or *SoftLink.
type Node interface {
	nodeName() string
}

// Group is a directory of nodes.
type Group struct {
	Name     string
	Children []Node

	// DenseLinks marks a FormatV2 group as keeping its links in a fractal
	// heap. No heap is written.
	DenseLinks bool
}

// Layout is the storage layout of a dataset.
type Layout int

const (
	Contiguous Layout = iota
	Compact
	Chunked
)

// Index is the chunk index of a Chunked dataset.
type Index int

const (
	// IndexBTree is a version 1 B-tree under a version 3 layout message.
	IndexBTree Index = iota
	// IndexSingle stores one chunk covering the whole dataset.
	IndexSingle
	// IndexImplicit stores every chunk, unfiltered, back to back.
	IndexImplicit
)

// Filter is one stage of a chunk filter pipeline.
type Filter int

const (
	Deflate Filter = iota
	Shuffle
	Fletcher32
	LZ4
	Zstd
)

// Dataset is an array of Type elements.
type Dataset struct {
	Name string
	Type Type

	// Shape is the dataspace. Nil is a scalar.
	Shape []uint64

	// Data is the row-major payload. Nil leaves storage unallocated.
	Data []byte

	Layout  Layout
	Chunk   []uint64
	Index   Index
	Filters []Filter

	// Skip lists row-major chunk numbers that are not written.
	Skip []uint64

	// SplitHeader moves the storage messages into a continuation block.
	SplitHeader bool
}

// SoftLink is a named path to another object.
type SoftLink struct {
	Name   string
	Target string
}

func (g *Group) nodeName() string    { return g.Name }
func (d *Dataset) nodeName() string  { return d.Name }
func (l *SoftLink) nodeName() string { return l.Name }

// Build lays out root as a complete HDF5 image.
func Build(root *Group, opts Options) []byte {
	w := &writer{format: opts.Format}
	if opts.Format == FormatV2 {
		w.buf = make([]byte, 48)
		addr := w.group(root)
		copy(w.buf, superblockV2(opts.UserBlock, uint64(len(w.buf)), addr))
	} else {
		w.buf = make([]byte, 96)
		addr, st := w.groupV0(root)
		copy(w.buf, superblockV0(opts.UserBlock, uint64(len(w.buf)), addr, st))
	}
	return append(make([]byte, opts.UserBlock), w.buf...)
}

// WriteFile builds root into a file under t.TempDir and returns its path.
func WriteFile(t *testing.T, root *Group, opts Options) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.h5")
	require.NoError(t, os.WriteFile(path, Build(root, opts), 0o644))
	return path
}

func superblockV0(base, eof, root uint64, st symbolTable) []byte {
	b := []byte(signature)
	b = append(b, 0, 0, 0, 0, 0, 8, 8, 0)
	b = le.AppendUint16(b, 4)
	b = le.AppendUint16(b, 16)
	b = le.AppendUint32(b, 0)
	b = le.AppendUint64(b, base)
	b = le.AppendUint64(b, undefined)
	b = le.AppendUint64(b, eof)
	b = le.AppendUint64(b, undefined)

	// Root group symbol table entry, caching its B-tree and heap.
	b = le.AppendUint64(b, 0)
	b = le.AppendUint64(b, root)
	b = le.AppendUint32(b, 1)
	b = le.AppendUint32(b, 0)
	b = le.AppendUint64(b, st.btree)
	return le.AppendUint64(b, st.heap)
}

func superblockV2(base, eof, root uint64) []byte {
	b := []byte(signature)
	b = append(b, 2, 8, 8, 0)
	b = le.AppendUint64(b, base)
	b = le.AppendUint64(b, undefined)
	b = le.AppendUint64(b, eof)
	b = le.AppendUint64(b, root)
	return le.AppendUint32(b, 0)
}

// ============================================================================
// Object Headers
// ============================================================================

type writer struct {
	format Format
	buf    []byte
}

// alloc appends b at the next 8-byte boundary and returns its address.
func (w *writer) alloc(b []byte) uint64 {
	for len(w.buf)%8 != 0 {
		w.buf = append(w.buf, 0)
	}
	addr := uint64(len(w.buf))
	w.buf = append(w.buf, b...)
	return addr
}

type message struct {
	typ  uint16
	data []byte
}

const (
	msgDataspace    = 0x01
	msgLinkInfo     = 0x02
	msgDatatype     = 0x03
	msgLink         = 0x06
	msgLayout       = 0x08
	msgGroupInfo    = 0x0A
	msgFilters      = 0x0B
	msgContinuation = 0x10
	msgSymbolTable  = 0x11
)

// header writes an object header holding msgs. Messages from split on go
// to a continuation block; split < 0 keeps them all in the first block.
func (w *writer) header(msgs []message, split int) uint64 {
	if split < 0 || split >= len(msgs) {
		split = len(msgs)
	}
	first, rest := msgs[:split], msgs[split:]

	if w.format == FormatV2 {
		var block []byte
		if len(rest) > 0 {
			cont := []byte("OCHK")
			for _, m := range rest {
				cont = appendMessageV2(cont, m)
			}
			cont = le.AppendUint32(cont, 0)
			addr := w.alloc(cont)
			first = append(slices.Clone(first), message{typ: msgContinuation, data: continuation(addr, len(cont))})
		}
		for _, m := range first {
			block = appendMessageV2(block, m)
		}
		b := []byte("OHDR")
		b = append(b, 2, 0x02)
		b = le.AppendUint32(b, uint32(len(block)))
		b = append(b, block...)
		return w.alloc(le.AppendUint32(b, 0))
	}

	nmsgs := len(msgs)
	if len(rest) > 0 {
		var cont []byte
		for _, m := range rest {
			cont = appendMessageV1(cont, m)
		}
		addr := w.alloc(cont)
		first = append(slices.Clone(first), message{typ: msgContinuation, data: continuation(addr, len(cont))})
		nmsgs++
	}
	var block []byte
	for _, m := range first {
		block = appendMessageV1(block, m)
	}
	b := []byte{1, 0}
	b = le.AppendUint16(b, uint16(nmsgs))
	b = le.AppendUint32(b, 1)
	b = le.AppendUint32(b, uint32(len(block)))
	b = append(b, 0, 0, 0, 0)
	return w.alloc(append(b, block...))
}

func continuation(addr uint64, n int) []byte {
	b := le.AppendUint64(nil, addr)
	return le.AppendUint64(b, uint64(n))
}

func appendMessageV1(b []byte, m message) []byte {
	data := pad8(slices.Clone(m.data))
	b = le.AppendUint16(b, m.typ)
	b = le.AppendUint16(b, uint16(len(data)))
	b = append(b, 0, 0, 0, 0)
	return append(b, data...)
}

func appendMessageV2(b []byte, m message) []byte {
	b = append(b, byte(m.typ))
	b = le.AppendUint16(b, uint16(len(m.data)))
	b = append(b, 0)
	return append(b, m.data...)
}

// ============================================================================
// Groups
// ============================================================================

type symbolTable struct {
	btree uint64
	heap  uint64
}

// group writes g and its subtree and returns the address of its header.
func (w *writer) group(g *Group) uint64 {
	if w.format == FormatV2 {
		return w.groupV2(g)
	}
	addr, _ := w.groupV0(g)
	return addr
}

// child writes one node and returns the address of its header.
func (w *writer) child(n Node) uint64 {
	switch n := n.(type) {
	case *Group:
		return w.group(n)
	case *Dataset:
		return w.dataset(n)
	}
	return undefined
}

// groupV0 writes a symbol-table group: a local heap of names, one symbol
// table node and a single-leaf B-tree pointing at it.
func (w *writer) groupV0(g *Group) (uint64, symbolTable) {
	children := slices.Clone(g.Children)
	slices.SortFunc(children, func(a, b Node) int {
		return bytes.Compare([]byte(a.nodeName()), []byte(b.nodeName()))
	})

	heap := make([]byte, 8)
	var entries []byte
	var lastName uint64
	for _, c := range children {
		nameOff := uint64(len(heap))
		heap = pad8(append(heap, c.nodeName()+"\x00"...))
		lastName = nameOff

		entries = le.AppendUint64(entries, nameOff)
		if sl, ok := c.(*SoftLink); ok {
			valueOff := uint64(len(heap))
			heap = pad8(append(heap, sl.Target+"\x00"...))
			entries = le.AppendUint64(entries, undefined)
			entries = le.AppendUint32(entries, 2)
			entries = le.AppendUint32(entries, 0)
			entries = le.AppendUint32(entries, uint32(valueOff))
			entries = append(entries, make([]byte, 12)...)
			continue
		}
		entries = le.AppendUint64(entries, w.child(c))
		entries = le.AppendUint32(entries, 0)
		entries = le.AppendUint32(entries, 0)
		entries = append(entries, make([]byte, 16)...)
	}

	heapData := w.alloc(heap)
	h := []byte("HEAP")
	h = append(h, 0, 0, 0, 0)
	h = le.AppendUint64(h, uint64(len(heap)))
	h = le.AppendUint64(h, undefined)
	h = le.AppendUint64(h, heapData)
	st := symbolTable{heap: w.alloc(h)}

	tree := []byte("TREE")
	tree = append(tree, 0, 0)
	if len(children) == 0 {
		tree = le.AppendUint16(tree, 0)
		tree = le.AppendUint64(tree, undefined)
		tree = le.AppendUint64(tree, undefined)
		tree = le.AppendUint64(tree, 0)
	} else {
		snod := []byte("SNOD")
		snod = append(snod, 1, 0)
		snod = le.AppendUint16(snod, uint16(len(children)))
		snodAddr := w.alloc(append(snod, entries...))

		tree = le.AppendUint16(tree, 1)
		tree = le.AppendUint64(tree, undefined)
		tree = le.AppendUint64(tree, undefined)
		tree = le.AppendUint64(tree, 0)
		tree = le.AppendUint64(tree, snodAddr)
		tree = le.AppendUint64(tree, lastName)
	}
	st.btree = w.alloc(tree)

	msg := le.AppendUint64(nil, st.btree)
	msg = le.AppendUint64(msg, st.heap)
	return w.header([]message{{typ: msgSymbolTable, data: msg}}, -1), st
}

// groupV2 writes a group of link messages in child order.
func (w *writer) groupV2(g *Group) uint64 {
	heap := undefined
	if g.DenseLinks {
		heap = 0x1000
	}
	info := []byte{0, 0}
	info = le.AppendUint64(info, heap)
	info = le.AppendUint64(info, undefined)

	msgs := []message{
		{typ: msgLinkInfo, data: info},
		{typ: msgGroupInfo, data: []byte{0, 0}},
	}
	for _, c := range g.Children {
		name := c.nodeName()
		if sl, ok := c.(*SoftLink); ok {
			b := []byte{1, 0x08, 1, byte(len(name))}
			b = append(b, name...)
			b = le.AppendUint16(b, uint16(len(sl.Target)))
			msgs = append(msgs, message{typ: msgLink, data: append(b, sl.Target...)})
			continue
		}
		b := []byte{1, 0, byte(len(name))}
		b = append(b, name...)
		msgs = append(msgs, message{typ: msgLink, data: le.AppendUint64(b, w.child(c))})
	}
	return w.header(msgs, -1)
}

// ============================================================================
// Datasets
// ============================================================================

func (w *writer) dataset(ds *Dataset) uint64 {
	msgs := []message{
		{typ: msgDataspace, data: w.dataspace(ds.Shape)},
		{typ: msgDatatype, data: ds.Type.enc},
	}
	split := len(msgs)
	if len(ds.Filters) > 0 {
		msgs = append(msgs, message{typ: msgFilters, data: w.pipeline(ds)})
	}
	msgs = append(msgs, message{typ: msgLayout, data: w.layout(ds)})
	if !ds.SplitHeader {
		split = -1
	}
	return w.header(msgs, split)
}

func (w *writer) dataspace(shape []uint64) []byte {
	var b []byte
	if w.format == FormatV2 {
		kind := byte(1)
		if len(shape) == 0 {
			kind = 0
		}
		b = []byte{2, byte(len(shape)), 0, kind}
	} else {
		b = []byte{1, byte(len(shape)), 0, 0, 0, 0, 0, 0}
	}
	for _, n := range shape {
		b = le.AppendUint64(b, n)
	}
	return b
}

func (w *writer) layout(ds *Dataset) []byte {
	switch ds.Layout {
	case Compact:
		b := []byte{3, 0}
		b = le.AppendUint16(b, uint16(len(ds.Data)))
		return append(b, ds.Data...)

	case Chunked:
		return w.chunked(ds)
	}

	size := uint64(ds.Type.size) * count(ds.Shape)
	addr := undefined
	if ds.Data != nil {
		addr = w.alloc(ds.Data)
	}
	b := []byte{3, 1}
	b = le.AppendUint64(b, addr)
	return le.AppendUint64(b, size)
}

// Filter identifiers and client data as h5py and hdf5plugin record them.
func (w *writer) pipeline(ds *Dataset) []byte {
	version := byte(1)
	if w.format == FormatV2 {
		version = 2
	}
	b := []byte{version, byte(len(ds.Filters))}
	if version == 1 {
		b = append(b, 0, 0, 0, 0, 0, 0)
	}
	for _, fl := range ds.Filters {
		id, values := filterID(fl, ds.Type.size)
		b = le.AppendUint16(b, id)
		if version == 1 || id >= 256 {
			b = le.AppendUint16(b, 0)
		}
		b = le.AppendUint16(b, 0)
		b = le.AppendUint16(b, uint16(len(values)))
		for _, v := range values {
			b = le.AppendUint32(b, v)
		}
		if version == 1 && len(values)%2 == 1 {
			b = append(b, 0, 0, 0, 0)
		}
	}
	return b
}

func filterID(fl Filter, elem uint32) (uint16, []uint32) {
	switch fl {
	case Deflate:
		return 1, []uint32{6}
	case Shuffle:
		return 2, []uint32{elem}
	case Fletcher32:
		return 3, nil
	case LZ4:
		return 32004, nil
	default:
		return 32015, nil
	}
}

// ============================================================================
// Chunked Storage
// ============================================================================

// lz4BlockSize splits chunks into several LZ4 blocks.
const lz4BlockSize = 64

func (w *writer) chunked(ds *Dataset) []byte {
	rank := len(ds.Shape)
	elem := uint64(ds.Type.size)
	grid := make([]uint64, rank)
	for i := range grid {
		grid[i] = (ds.Shape[i] + ds.Chunk[i] - 1) / ds.Chunk[i]
	}

	type stored struct {
		n    uint64
		addr uint64
		size int
	}
	var chunks []stored
	switch {
	case ds.Data == nil:
	case ds.Index == IndexImplicit:
		// Implicit chunks sit back to back with no alignment between them.
		var all []byte
		for n := range count(grid) {
			all = append(all, chunkData(ds, grid, n)...)
		}
		chunks = append(chunks, stored{addr: w.alloc(all), size: len(all)})
	default:
		for n := range count(grid) {
			if slices.Contains(ds.Skip, n) {
				continue
			}
			enc := encode(ds.Filters, chunkData(ds, grid, n), elem)
			chunks = append(chunks, stored{n: n, addr: w.alloc(enc), size: len(enc)})
		}
	}

	dims := append(slices.Clone(ds.Chunk), elem)
	switch ds.Index {
	case IndexSingle, IndexImplicit:
		flags, typ := byte(0), byte(2)
		if ds.Index == IndexSingle {
			typ = 1
			if len(ds.Filters) > 0 {
				flags = 0x02
			}
		}
		b := []byte{4, 2, flags, byte(len(dims)), 4}
		for _, d := range dims {
			b = le.AppendUint32(b, uint32(d))
		}
		b = append(b, typ)
		addr := undefined
		if len(chunks) > 0 {
			addr = chunks[0].addr
		}
		if flags&0x02 != 0 {
			size := 0
			if len(chunks) > 0 {
				size = chunks[0].size
			}
			b = le.AppendUint64(b, uint64(size))
			b = le.AppendUint32(b, 0)
		}
		return le.AppendUint64(b, addr)
	}

	btree := undefined
	if len(chunks) > 0 {
		key := func(b []byte, size int, offsets []uint64) []byte {
			b = le.AppendUint32(b, uint32(size))
			b = le.AppendUint32(b, 0)
			for _, o := range offsets {
				b = le.AppendUint64(b, o)
			}
			return le.AppendUint64(b, 0)
		}
		tree := []byte("TREE")
		tree = append(tree, 1, 0)
		tree = le.AppendUint16(tree, uint16(len(chunks)))
		tree = le.AppendUint64(tree, undefined)
		tree = le.AppendUint64(tree, undefined)
		for _, c := range chunks {
			tree = key(tree, c.size, chunkOrigin(ds.Chunk, grid, c.n))
			tree = le.AppendUint64(tree, c.addr)
		}
		end := make([]uint64, rank)
		for i := range end {
			end[i] = grid[i] * ds.Chunk[i]
		}
		btree = w.alloc(key(tree, 0, end))
	}

	b := []byte{3, 2, byte(len(dims))}
	b = le.AppendUint64(b, btree)
	for _, d := range dims {
		b = le.AppendUint32(b, uint32(d))
	}
	return b
}

// chunkOrigin returns the element coordinates of chunk n.
func chunkOrigin(chunk, grid []uint64, n uint64) []uint64 {
	origin := make([]uint64, len(grid))
	for i := len(grid) - 1; i >= 0; i-- {
		origin[i] = (n % grid[i]) * chunk[i]
		n /= grid[i]
	}
	return origin
}

// chunkData cuts chunk n out of the payload. Elements past the edge of the
// dataset are zero.
func chunkData(ds *Dataset, grid []uint64, n uint64) []byte {
	elem := uint64(ds.Type.size)
	origin := chunkOrigin(ds.Chunk, grid, n)
	out := make([]byte, count(ds.Chunk)*elem)

	pos := make([]uint64, len(grid))
	for k := range count(ds.Chunk) {
		rest := k
		inside := true
		for i := len(pos) - 1; i >= 0; i-- {
			pos[i] = origin[i] + rest%ds.Chunk[i]
			rest /= ds.Chunk[i]
			if pos[i] >= ds.Shape[i] {
				inside = false
			}
		}
		if !inside {
			continue
		}
		var src uint64
		for i := range pos {
			src = src*ds.Shape[i] + pos[i]
		}
		copy(out[k*elem:(k+1)*elem], ds.Data[src*elem:])
	}
	return out
}

// encode runs the filter pipeline forwards over one chunk.
func encode(filters []Filter, b []byte, elem uint64) []byte {
	for _, fl := range filters {
		switch fl {
		case Deflate:
			var buf bytes.Buffer
			zw, _ := zlib.NewWriterLevel(&buf, 6)
			_, _ = zw.Write(b)
			_ = zw.Close()
			b = buf.Bytes()
		case Shuffle:
			b = shuffle(b, elem)
		case Fletcher32:
			// The reader strips the checksum without verifying it.
			b = append(slices.Clone(b), 0, 0, 0, 0)
		case LZ4:
			b = encodeLZ4(b)
		case Zstd:
			enc, _ := zstd.NewWriter(nil)
			b = enc.EncodeAll(b, nil)
			_ = enc.Close()
		}
	}
	return b
}

func shuffle(b []byte, size uint64) []byte {
	if size <= 1 {
		return b
	}
	n := uint64(len(b)) / size
	out := make([]byte, len(b))
	for j := range size {
		for i := range n {
			out[j*n+i] = b[i*size+j]
		}
	}
	copy(out[n*size:], b[n*size:])
	return out
}

// encodeLZ4 writes the HDF5 LZ4 filter framing. Blocks that do not
// compress are stored raw.
func encodeLZ4(b []byte) []byte {
	out := binary.BigEndian.AppendUint64(nil, uint64(len(b)))
	out = binary.BigEndian.AppendUint32(out, lz4BlockSize)
	for len(b) > 0 {
		src := b[:min(len(b), lz4BlockSize)]
		b = b[len(src):]

		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, dst, nil)
		if err != nil || n == 0 || n >= len(src) {
			out = binary.BigEndian.AppendUint32(out, uint32(len(src)))
			out = append(out, src...)
			continue
		}
		out = binary.BigEndian.AppendUint32(out, uint32(n))
		out = append(out, dst[:n]...)
	}
	return out
}

func count(shape []uint64) uint64 {
	n := uint64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
