package hdf5

import (
	"fmt"
)

// Storage layout classes.
const (
	layoutCompact    = 0
	layoutContiguous = 1
	layoutChunked    = 2
)

// Chunk index types of version 4 layouts.
const (
	chunkIndexBTreeV1    = 0
	chunkIndexSingle     = 1
	chunkIndexImplicit   = 2
	chunkIndexFixedArray = 3
	chunkIndexExtensible = 4
	chunkIndexBTreeV2    = 5
)

// layout says where a dataset's raw data lives.
type layout struct {
	class uint8

	// compact
	data []byte

	// contiguous: address and size; chunked: index address
	address uint64
	size    uint64

	// chunked
	chunkDims  []uint64 // chunk shape in elements, without the element size
	elemSize   uint64
	indexType  uint8
	singleSize uint64 // filtered size of a single-chunk index
	singleMask uint32
}

func (f *file) decodeLayout(data []byte) (*layout, error) {
	d := f.decoder(data)
	version := d.u8()
	l := &layout{address: undefinedAddress}

	switch version {
	case 1, 2:
		rank := int(d.u8())
		l.class = d.u8()
		d.skip(5)
		if l.class != layoutCompact {
			l.address = d.addr()
		}
		dims := make([]uint64, rank)
		for i := range dims {
			dims[i] = uint64(d.u32())
		}
		switch l.class {
		case layoutCompact:
			n := int(d.u32())
			l.data = d.take(n)
		case layoutChunked:
			l.elemSize = uint64(d.u32())
			l.chunkDims = dims
		}

	case 3, 4:
		l.class = d.u8()
		switch l.class {
		case layoutCompact:
			n := int(d.u16())
			l.data = d.take(n)
		case layoutContiguous:
			l.address = d.addr()
			l.size = d.length()
		case layoutChunked:
			if err := f.decodeChunkedLayout(d, version, l); err != nil {
				return nil, err
			}
		default:
			return nil, unsupported("layout class %d", l.class)
		}

	default:
		return nil, unsupported("layout version %d", version)
	}

	if d.err != nil {
		return nil, d.err
	}
	return l, nil
}

func (f *file) decodeChunkedLayout(d *decoder, version uint8, l *layout) error {
	if version == 3 {
		rank := int(d.u8())
		l.address = d.addr()
		if rank < 1 {
			return fmt.Errorf("hdf5: chunked layout of rank %d", rank)
		}
		dims := make([]uint64, rank)
		for i := range dims {
			dims[i] = uint64(d.u32())
		}
		l.chunkDims, l.elemSize = dims[:rank-1], dims[rank-1]
		l.indexType = chunkIndexBTreeV1
		return nil
	}

	flags := d.u8()
	rank := int(d.u8())
	width := int(d.u8())
	if rank < 1 || width < 1 || width > 8 {
		return fmt.Errorf("hdf5: chunked layout of rank %d, width %d", rank, width)
	}
	dims := make([]uint64, rank)
	for i := range dims {
		dims[i] = d.uvar(width)
	}
	l.chunkDims, l.elemSize = dims[:rank-1], dims[rank-1]

	l.indexType = d.u8()
	switch l.indexType {
	case chunkIndexSingle:
		if flags&0x02 != 0 {
			l.singleSize = d.length()
			l.singleMask = d.u32()
		}
	case chunkIndexImplicit:
	case chunkIndexFixedArray:
		d.skip(1)
	case chunkIndexExtensible:
		d.skip(5)
	case chunkIndexBTreeV2:
		d.skip(6)
	default:
		return fmt.Errorf("hdf5: chunk index type %d", l.indexType)
	}
	l.address = d.addr()
	return nil
}

// filter is one stage of a filter pipeline.
type filter struct {
	id     uint16
	flags  uint16
	values []uint32
}

// Filters this reader can undo.
const (
	filterDeflate    = 1
	filterShuffle    = 2
	filterFletcher32 = 3
	filterLZ4        = 32004
	filterZstd       = 32015
)

func decodeFilters(data []byte) ([]filter, error) {
	d := &decoder{b: data}
	version := d.u8()
	count := int(d.u8())
	if version == 1 {
		d.skip(6)
	} else if version != 2 {
		return nil, unsupported("filter pipeline version %d", version)
	}

	filters := make([]filter, count)
	for i := range filters {
		fl := &filters[i]
		fl.id = d.u16()
		nameLen := 0
		if version == 1 || fl.id >= 256 {
			nameLen = int(d.u16())
		}
		fl.flags = d.u16()
		nvalues := int(d.u16())
		d.skip(nameLen)
		fl.values = make([]uint32, nvalues)
		for j := range fl.values {
			fl.values[j] = d.u32()
		}
		if version == 1 && nvalues%2 == 1 {
			d.skip(4)
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return filters, nil
}
