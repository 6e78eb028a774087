package hdf5

import (
	"fmt"
	"sort"

	"github.com/marmos91/h5fs/pkg/store"
)

// Datatype classes.
const (
	classFixed    = 0
	classFloat    = 1
	classTime     = 2
	classString   = 3
	classBitfield = 4
	classOpaque   = 5
	classCompound = 6
	classRef      = 7
	classEnum     = 8
	classVarLen   = 9
	classArray    = 10
)

// elementType is a decoded datatype. dims is non-empty for array types;
// at the top level those dimensions extend the dataset shape.
type elementType struct {
	dt   store.DType
	dims []uint64
}

// decodeDatatypeMessage maps a datatype message to an element type and
// the trailing array dimensions it adds to the shape.
func decodeDatatypeMessage(data []byte) (store.DType, []uint64, error) {
	d := &decoder{b: data}
	t, err := decodeDatatype(d)
	if err == nil {
		err = d.err
	}
	if err != nil {
		return store.DType{}, nil, err
	}
	return t.dt, t.dims, nil
}

func decodeDatatype(d *decoder) (elementType, error) {
	head := d.u8()
	class, version := head&0x0f, head>>4
	bits := uint32(d.u8()) | uint32(d.u8())<<8 | uint32(d.u8())<<16
	size := uint64(d.u32())
	if d.err != nil {
		return elementType{}, d.err
	}

	order := store.LittleEndian
	if bits&0x01 != 0 {
		order = store.BigEndian
	}
	if size == 1 {
		order = store.NotApplicable
	}

	switch class {
	case classFixed, classBitfield:
		d.skip(4) // bit offset and precision
		if !intSize(size) {
			return elementType{}, unsupported("%d-byte integer", size)
		}
		base := store.TypeUint
		if class == classFixed && bits&0x08 != 0 {
			base = store.TypeInt
		}
		return elementType{dt: store.Scalar(order, base, size)}, nil

	case classFloat:
		d.skip(12) // bit layout and exponent bias
		if bits&0x40 != 0 {
			return elementType{}, unsupported("VAX float byte order")
		}
		switch size {
		case 2, 4, 8:
		default:
			return elementType{}, unsupported("%d-byte float", size)
		}
		return elementType{dt: store.Scalar(order, store.TypeFloat, size)}, nil

	case classString:
		return elementType{dt: store.Scalar(store.NotApplicable, store.TypeBytes, size)}, nil

	case classOpaque:
		d.skip(int(bits & 0xff)) // tag, already padded to 8
		return elementType{dt: store.Scalar(store.NotApplicable, store.TypeVoid, size)}, nil

	case classCompound:
		return decodeCompound(d, version, int(bits&0xffff), size)

	case classEnum:
		return decodeEnum(d, version, int(bits&0xffff))

	case classArray:
		return decodeArray(d, version)

	case classTime, classRef, classVarLen:
		return elementType{}, unsupported("datatype class %d", class)
	}
	return elementType{}, unsupported("datatype class %d", class)
}

func intSize(n uint64) bool {
	switch n {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

type member struct {
	name   string
	offset uint64
	t      elementType
}

// decodeCompound builds a record. Members are ordered by byte offset and
// gaps become unnamed void fields so the record width matches the
// declared size.
func decodeCompound(d *decoder, version uint8, count int, size uint64) (elementType, error) {
	members := make([]member, 0, count)
	for range count {
		var m member
		switch version {
		case 1:
			m.name = d.cstring(8)
			m.offset = uint64(d.u32())
			rank := int(d.u8())
			d.skip(3)
			d.skip(4) // permutation
			d.skip(4)
			dims := make([]uint64, 4)
			for i := range dims {
				dims[i] = uint64(d.u32())
			}
			t, err := decodeDatatype(d)
			if err != nil {
				return elementType{}, fmt.Errorf("member %q: %w", m.name, err)
			}
			if rank > 4 {
				return elementType{}, fmt.Errorf("member %q: rank %d", m.name, rank)
			}
			if rank > 0 {
				t.dims = append(append([]uint64(nil), dims[:rank]...), t.dims...)
			}
			m.t = t
		case 2:
			m.name = d.cstring(8)
			m.offset = uint64(d.u32())
		case 3:
			m.name = d.cstring(0)
			m.offset = d.uvar(offsetWidth(size))
		default:
			return elementType{}, unsupported("compound datatype version %d", version)
		}

		if version != 1 {
			t, err := decodeDatatype(d)
			if err != nil {
				return elementType{}, fmt.Errorf("member %q: %w", m.name, err)
			}
			m.t = t
		}
		if d.err != nil {
			return elementType{}, d.err
		}
		members = append(members, m)
	}

	sort.SliceStable(members, func(i, j int) bool { return members[i].offset < members[j].offset })

	var fields []store.Field
	var at uint64
	for _, m := range members {
		if m.offset < at {
			return elementType{}, unsupported("overlapping compound member %q", m.name)
		}
		if m.offset > at {
			fields = append(fields, padding(m.offset-at))
		}
		f := store.Field{Name: m.name, DType: m.t.dt, Shape: m.t.dims}
		fields = append(fields, f)
		at = m.offset + f.DType.Size()*store.Count(f.Shape)
	}
	if at > size {
		return elementType{}, fmt.Errorf("compound members span %d bytes of %d", at, size)
	}
	if at < size {
		fields = append(fields, padding(size-at))
	}
	if len(fields) == 0 {
		return elementType{dt: store.Scalar(store.NotApplicable, store.TypeVoid, size)}, nil
	}
	return elementType{dt: store.Record(fields...)}, nil
}

func padding(n uint64) store.Field {
	return store.Field{DType: store.Scalar(store.NotApplicable, store.TypeVoid, n)}
}

// offsetWidth is the byte width of member offsets in a version 3
// compound of the given size.
func offsetWidth(size uint64) int {
	switch {
	case size < 1<<8:
		return 1
	case size < 1<<16:
		return 2
	case size < 1<<24:
		return 3
	}
	return 4
}

// decodeEnum presents an enumeration as its base integer type, except the
// two-member FALSE/TRUE enum over a byte, which is a boolean.
func decodeEnum(d *decoder, version uint8, count int) (elementType, error) {
	base, err := decodeDatatype(d)
	if err != nil {
		return elementType{}, err
	}

	pad := 8
	if version >= 3 {
		pad = 0
	}
	names := make([]string, count)
	for i := range names {
		names[i] = d.cstring(pad)
	}
	d.skip(count * int(base.dt.Size()))
	if d.err != nil {
		return elementType{}, d.err
	}

	if count == 2 && base.dt.Size() == 1 && !base.dt.IsRecord() &&
		names[0] == "FALSE" && names[1] == "TRUE" {
		return elementType{dt: store.Scalar(store.NotApplicable, store.TypeBool, 1)}, nil
	}
	return base, nil
}

// decodeArray flattens nested arrays into one list of dimensions.
func decodeArray(d *decoder, version uint8) (elementType, error) {
	rank := int(d.u8())
	switch version {
	case 2:
		d.skip(3)
	case 3:
	default:
		return elementType{}, unsupported("array datatype version %d", version)
	}

	dims := make([]uint64, rank)
	for i := range dims {
		dims[i] = uint64(d.u32())
	}
	if version == 2 {
		d.skip(4 * rank) // permutation
	}

	base, err := decodeDatatype(d)
	if err != nil {
		return elementType{}, err
	}
	base.dims = append(dims, base.dims...)
	return base, nil
}
