package testing

import (
	"encoding/binary"
)

// Type is an encoded HDF5 datatype message.
type Type struct {
	enc  []byte
	size uint32
}

// Size returns the element width in bytes.
func (t Type) Size() uint32 { return t.size }

func typeHeader(class, version uint8, bits uint32, size uint32) []byte {
	b := []byte{version<<4 | class, byte(bits), byte(bits >> 8), byte(bits >> 16)}
	return binary.LittleEndian.AppendUint32(b, size)
}

// Int is a fixed-point type.
func Int(size uint32, signed, bigEndian bool) Type {
	var bits uint32
	if bigEndian {
		bits |= 0x01
	}
	if signed {
		bits |= 0x08
	}
	b := typeHeader(0, 1, bits, size)
	b = binary.LittleEndian.AppendUint16(b, 0)
	b = binary.LittleEndian.AppendUint16(b, uint16(size*8))
	return Type{enc: b, size: size}
}

// Float is an IEEE floating-point type of 2, 4 or 8 bytes.
func Float(size uint32, bigEndian bool) Type {
	bits := uint32(2<<4) | (size*8-1)<<8
	if bigEndian {
		bits |= 0x01
	}
	var expLoc, expSize, mantSize uint8
	var bias uint32
	switch size {
	case 2:
		expLoc, expSize, mantSize, bias = 10, 5, 10, 15
	case 4:
		expLoc, expSize, mantSize, bias = 23, 8, 23, 127
	default:
		expLoc, expSize, mantSize, bias = 52, 11, 52, 1023
	}
	b := typeHeader(1, 1, bits, size)
	b = binary.LittleEndian.AppendUint16(b, 0)
	b = binary.LittleEndian.AppendUint16(b, uint16(size*8))
	b = append(b, expLoc, expSize, 0, mantSize)
	b = binary.LittleEndian.AppendUint32(b, bias)
	return Type{enc: b, size: size}
}

// String is a fixed-length, NUL-padded ASCII string.
func String(size uint32) Type {
	return Type{enc: typeHeader(3, 1, 0, size), size: size}
}

// Opaque is an uninterpreted blob with an optional tag.
func Opaque(size uint32, tag string) Type {
	padded := pad8([]byte(tag + "\x00"))
	if tag == "" {
		padded = nil
	}
	b := typeHeader(5, 1, uint32(len(padded)), size)
	return Type{enc: append(b, padded...), size: size}
}

// Bool is the FALSE/TRUE enumeration over a signed byte that h5py writes
// for numpy booleans.
func Bool() Type {
	b := typeHeader(8, 1, 2, 1)
	b = append(b, Int(1, true, false).enc...)
	b = append(b, pad8([]byte("FALSE\x00"))...)
	b = append(b, pad8([]byte("TRUE\x00"))...)
	b = append(b, 0, 1)
	return Type{enc: b, size: 1}
}

// VarLenString is a variable-length string, which has no fixed-width
// presentation.
func VarLenString() Type {
	b := typeHeader(9, 1, 1, 16)
	b = append(b, Int(1, false, false).enc...)
	return Type{enc: b, size: 16}
}

// Array is a fixed-size array of base.
func Array(base Type, dims ...uint32) Type {
	size := base.size
	for _, d := range dims {
		size *= d
	}
	b := typeHeader(10, 2, 0, size)
	b = append(b, byte(len(dims)), 0, 0, 0)
	for _, d := range dims {
		b = binary.LittleEndian.AppendUint32(b, d)
	}
	for i := range dims {
		b = binary.LittleEndian.AppendUint32(b, uint32(i))
	}
	return Type{enc: append(b, base.enc...), size: size}
}

// Member is one field of a compound type.
type Member struct {
	Name   string
	Offset uint32
	Type   Type
}

// Compound is a record of members at explicit byte offsets. It is written
// as version 1, or version 2 when a member is an array.
func Compound(size uint32, members ...Member) Type {
	version := uint8(1)
	for _, m := range members {
		if m.Type.enc[0]&0x0f == 10 {
			version = 2
		}
	}

	b := typeHeader(6, version, uint32(len(members)), size)
	for _, m := range members {
		b = append(b, pad8([]byte(m.Name+"\x00"))...)
		b = binary.LittleEndian.AppendUint32(b, m.Offset)
		if version == 1 {
			b = append(b, 0, 0, 0, 0)          // rank and reserved
			b = append(b, make([]byte, 8)...)  // permutation and reserved
			b = append(b, make([]byte, 16)...) // dimension sizes
		}
		b = append(b, m.Type.enc...)
	}
	return Type{enc: b, size: size}
}

// CompoundV3 is Compound in the packed version 3 encoding.
func CompoundV3(size uint32, members ...Member) Type {
	width := 4
	switch {
	case size < 1<<8:
		width = 1
	case size < 1<<16:
		width = 2
	case size < 1<<24:
		width = 3
	}

	b := typeHeader(6, 3, uint32(len(members)), size)
	for _, m := range members {
		b = append(b, m.Name...)
		b = append(b, 0)
		for i := range width {
			b = append(b, byte(m.Offset>>(8*i)))
		}
		b = append(b, m.Type.enc...)
	}
	return Type{enc: b, size: size}
}

// Bytes returns the encoded datatype message.
func (t Type) Bytes() []byte { return t.enc }

func pad8(b []byte) []byte {
	for len(b)%8 != 0 {
		b = append(b, 0)
	}
	return b
}
