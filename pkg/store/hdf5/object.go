package hdf5

import (
	"fmt"
	"sync"

	"github.com/marmos91/h5fs/pkg/store"
)

// Header message types this reader understands.
const (
	msgDataspace    = 0x0001
	msgLinkInfo     = 0x0002
	msgDatatype     = 0x0003
	msgLink         = 0x0006
	msgLayout       = 0x0008
	msgGroupInfo    = 0x000A
	msgFilters      = 0x000B
	msgContinuation = 0x0010
	msgSymbolTable  = 0x0011
)

// Message flag bits.
const (
	msgFlagShared = 0x02
)

// maxHeaderBlock bounds one object header block on corrupt files.
const maxHeaderBlock = 1 << 24

// maxSharedDepth bounds chains of shared messages pointing at other
// object headers.
const maxSharedDepth = 8

// object is one decoded object header.
type object struct {
	addr  uint64
	depth int

	// Group side. A group has a symbol table (old format) or link
	// messages and link info (new format).
	isGroup   bool
	symtab    *symbolTable
	links     []link
	denseHeap uint64

	// Dataset side.
	hasSpace  bool
	nullSpace bool
	shape     []uint64

	hasType  bool
	dtype    store.DType
	typeDims []uint64
	typeErr  error

	layout  *layout
	filters []filter

	childrenOnce sync.Once
	children     []link
	childrenErr  error

	chunksOnce sync.Once
	chunks     *chunkIndex
	chunksErr  error
}

// isDataset reports whether the header describes a dataset, whatever its
// element type.
func (o *object) isDataset() bool {
	return o.layout != nil && o.hasSpace && o.hasType
}

// chunkRef is an unparsed span of header messages.
type chunkRef struct {
	addr   uint64
	length uint64
}

// readObject decodes the object header at addr, following continuation
// blocks and resolving shared datatype, dataspace and filter messages.
func (f *file) readObject(addr uint64, depth int) (*object, error) {
	if depth > maxSharedDepth {
		return nil, fmt.Errorf("hdf5: shared message chain too deep at 0x%x", addr)
	}

	if addr == undefinedAddress {
		return nil, fmt.Errorf("hdf5: object header at undefined address")
	}
	// The last header in a file may be shorter than a v1 prefix.
	prefix, err := f.readAtMost(f.base+addr, 16)
	if err != nil {
		return nil, err
	}
	if len(prefix) < 4 {
		return nil, fmt.Errorf("object header 0x%x: %w", addr, errTruncated)
	}

	o := &object{addr: addr, depth: depth, denseHeap: undefinedAddress}
	if string(prefix[:4]) == "OHDR" {
		err = f.readObjectV2(o)
	} else {
		err = f.readObjectV1(o, prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("object header 0x%x: %w", addr, err)
	}
	return o, nil
}

// readObjectV1 decodes a version 1 header: a 16-byte prefix followed by
// 8-byte aligned messages.
func (f *file) readObjectV1(o *object, prefix []byte) error {
	d := f.decoder(prefix)
	if v := d.u8(); v != 1 {
		return unsupported("object header version %d", v)
	}
	d.skip(1)
	count := int(d.u16())
	d.skip(4) // reference count
	size := uint64(d.u32())

	pending := []chunkRef{{addr: o.addr + 16, length: size}}
	seen := 0
	for len(pending) > 0 && seen < count {
		ref := pending[0]
		pending = pending[1:]
		if ref.length > maxHeaderBlock {
			return fmt.Errorf("hdf5: header block of %d bytes", ref.length)
		}

		b, err := f.readAt(ref.addr, int(ref.length))
		if err != nil {
			return err
		}
		d := f.decoder(b)
		for d.remaining() >= 8 && seen < count {
			typ := d.u16()
			n := int(d.u16())
			flags := d.u8()
			d.skip(3)
			data := d.take(n)
			if d.err != nil {
				return d.err
			}
			seen++

			more, err := f.applyMessage(o, typ, flags, data)
			if err != nil {
				return err
			}
			pending = append(pending, more...)
		}
	}
	return nil
}

// readObjectV2 decodes a version 2 header ("OHDR") and its "OCHK"
// continuation blocks. Checksums are not verified.
func (f *file) readObjectV2(o *object) error {
	head, err := f.readAtMost(f.base+o.addr, 4+1+1+16+4+8)
	if err != nil {
		return err
	}
	d := f.decoder(head)
	d.skip(4)
	if v := d.u8(); v != 2 {
		return unsupported("object header version %d", v)
	}
	flags := d.u8()
	if flags&0x20 != 0 {
		d.skip(16) // access, modification, change and birth times
	}
	if flags&0x10 != 0 {
		d.skip(4) // attribute phase change values
	}
	chunk0 := d.uvar(1 << (flags & 0x03))
	if d.err != nil {
		return d.err
	}

	trackOrder := flags&0x04 != 0
	pending := []chunkRef{{addr: o.addr + uint64(d.off), length: chunk0}}
	first := true
	visited := make(map[uint64]bool)
	for len(pending) > 0 {
		ref := pending[0]
		pending = pending[1:]
		if visited[ref.addr] {
			return fmt.Errorf("hdf5: header continuation loop at 0x%x", ref.addr)
		}
		visited[ref.addr] = true
		if ref.length > maxHeaderBlock {
			return fmt.Errorf("hdf5: header block of %d bytes", ref.length)
		}

		b, err := f.readAt(ref.addr, int(ref.length))
		if err != nil {
			return err
		}
		if !first {
			// Continuation blocks carry their own signature and a
			// trailing checksum.
			cd := f.decoder(b)
			if err := cd.signature("OCHK"); err != nil {
				return err
			}
			if len(b) < 8 {
				return errTruncated
			}
			b = b[4 : len(b)-4]
		}
		first = false

		md := f.decoder(b)
		headerSize := 4
		if trackOrder {
			headerSize += 2
		}
		// A tail shorter than a message header is a gap.
		for md.remaining() >= headerSize {
			typ := uint16(md.u8())
			n := int(md.u16())
			mflags := md.u8()
			if trackOrder {
				md.skip(2)
			}
			data := md.take(n)
			if md.err != nil {
				return md.err
			}

			more, err := f.applyMessage(o, typ, mflags, data)
			if err != nil {
				return err
			}
			pending = append(pending, more...)
		}
	}
	return nil
}

// applyMessage records one header message into o and returns any
// continuation blocks it names.
func (f *file) applyMessage(o *object, typ uint16, flags uint8, data []byte) ([]chunkRef, error) {
	if flags&msgFlagShared != 0 {
		switch typ {
		case msgDatatype, msgDataspace, msgFilters:
			return nil, f.applyShared(o, typ, data)
		}
		return nil, nil
	}

	switch typ {
	case msgContinuation:
		d := f.decoder(data)
		ref := chunkRef{addr: d.addr(), length: d.length()}
		if d.err != nil {
			return nil, d.err
		}
		return []chunkRef{ref}, nil

	case msgDataspace:
		shape, null, err := f.decodeDataspace(data)
		if err != nil {
			return nil, err
		}
		o.hasSpace, o.nullSpace, o.shape = true, null, shape

	case msgDatatype:
		o.hasType = true
		o.dtype, o.typeDims, o.typeErr = decodeDatatypeMessage(data)

	case msgLayout:
		l, err := f.decodeLayout(data)
		if err != nil {
			return nil, err
		}
		o.layout = l

	case msgFilters:
		fs, err := decodeFilters(data)
		if err != nil {
			return nil, err
		}
		o.filters = fs

	case msgSymbolTable:
		d := f.decoder(data)
		st := &symbolTable{btree: d.addr(), heap: d.addr()}
		if d.err != nil {
			return nil, d.err
		}
		o.isGroup, o.symtab = true, st

	case msgLink:
		l, err := f.decodeLink(data)
		if err != nil {
			return nil, err
		}
		o.isGroup = true
		o.links = append(o.links, l)

	case msgLinkInfo:
		d := f.decoder(data)
		d.skip(1) // version
		if lflags := d.u8(); lflags&0x01 != 0 {
			d.skip(8) // maximum creation index
		}
		o.isGroup = true
		o.denseHeap = d.addr()
		if d.err != nil {
			return nil, d.err
		}

	case msgGroupInfo:
		o.isGroup = true
	}
	return nil, nil
}

// applyShared resolves a shared message stored in another object header.
// Messages in the shared message heap are not supported.
func (f *file) applyShared(o *object, typ uint16, data []byte) error {
	d := f.decoder(data)
	version := d.u8()
	kind := d.u8()
	var target uint64
	switch version {
	case 1:
		d.skip(6)
		target = d.addr()
	case 2:
		target = d.addr()
	case 3:
		if kind != 2 {
			return unsupported("shared message in the shared message heap")
		}
		target = d.addr()
	default:
		return unsupported("shared message version %d", version)
	}
	if d.err != nil {
		return d.err
	}

	shared, err := f.readObject(target, o.depth+1)
	if err != nil {
		return err
	}

	switch typ {
	case msgDatatype:
		o.hasType, o.dtype, o.typeDims, o.typeErr = shared.hasType, shared.dtype, shared.typeDims, shared.typeErr
	case msgDataspace:
		o.hasSpace, o.nullSpace, o.shape = shared.hasSpace, shared.nullSpace, shared.shape
	case msgFilters:
		o.filters = shared.filters
	}
	return nil
}

// decodeDataspace returns the current dimensions. Maximum dimensions and
// permutation indices are skipped. A null dataspace holds no elements.
func (f *file) decodeDataspace(data []byte) (shape []uint64, null bool, err error) {
	d := f.decoder(data)
	version := d.u8()
	rank := int(d.u8())
	d.u8() // flags

	switch version {
	case 1:
		d.skip(5)
	case 2:
		if kind := d.u8(); kind == 2 {
			return nil, true, d.err
		}
	default:
		return nil, false, unsupported("dataspace version %d", version)
	}

	shape = make([]uint64, rank)
	for i := range shape {
		shape[i] = d.length()
	}
	if d.err != nil {
		return nil, false, d.err
	}
	return shape, false, nil
}
