package store

import (
	"fmt"
	"math/bits"
)

// ByteOrder is the single-character byte order tag of an element type.
type ByteOrder byte

const (
	LittleEndian  ByteOrder = '<'
	BigEndian     ByteOrder = '>'
	NotApplicable ByteOrder = '|'
)

// BaseType is the single-character base type code of an element type.
type BaseType byte

const (
	TypeBool      BaseType = 'b'
	TypeInt       BaseType = 'i'
	TypeUint      BaseType = 'u'
	TypeFloat     BaseType = 'f'
	TypeComplex   BaseType = 'c'
	TypeBytes     BaseType = 'S'
	TypeUnicode   BaseType = 'U'
	TypeVoid      BaseType = 'V'
	TypeDatetime  BaseType = 'M'
	TypeTimedelta BaseType = 'm'
)

func (b BaseType) valid() bool {
	switch b {
	case TypeBool, TypeInt, TypeUint, TypeFloat, TypeComplex,
		TypeBytes, TypeUnicode, TypeVoid, TypeDatetime, TypeTimedelta:
		return true
	}
	return false
}

// DType describes the element type of a dataset.
//
// A scalar type carries ByteOrder, Base and ItemSize. A record (compound)
// type carries Fields instead; its item size is the sum of its field sizes
// and Base is TypeVoid.
type DType struct {
	ByteOrder ByteOrder `json:"byte_order"`
	Base      BaseType  `json:"base"`
	ItemSize  uint64    `json:"item_size"`
	Fields    []Field   `json:"fields,omitempty"`
}

// Field is one named member of a record type. Shape is non-empty for
// sub-array members.
type Field struct {
	Name  string   `json:"name"`
	DType DType    `json:"dtype"`
	Shape []uint64 `json:"shape,omitempty"`
}

// Scalar builds a non-record element type.
func Scalar(order ByteOrder, base BaseType, itemSize uint64) DType {
	return DType{ByteOrder: order, Base: base, ItemSize: itemSize}
}

// Record builds a compound element type from its fields.
func Record(fields ...Field) DType {
	return DType{ByteOrder: NotApplicable, Base: TypeVoid, Fields: fields}
}

// IsRecord reports whether the type is a compound of named fields.
func (d DType) IsRecord() bool {
	return len(d.Fields) > 0
}

// Size returns the width of one element in bytes.
func (d DType) Size() uint64 {
	if !d.IsRecord() {
		return d.ItemSize
	}

	var total uint64
	for _, f := range d.Fields {
		total += f.DType.Size() * Count(f.Shape)
	}
	return total
}

// Validate checks that the type is well formed.
func (d DType) Validate() error {
	if d.IsRecord() {
		seen := make(map[string]struct{}, len(d.Fields))
		for _, f := range d.Fields {
			// Unnamed void members are alignment padding and may repeat.
			if f.Name == "" {
				if f.DType.Base != TypeVoid || f.DType.IsRecord() {
					return fmt.Errorf("record field with empty name")
				}
			} else {
				if _, dup := seen[f.Name]; dup {
					return fmt.Errorf("duplicate record field %q", f.Name)
				}
				seen[f.Name] = struct{}{}
			}
			if err := f.DType.Validate(); err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
		}
		return nil
	}

	switch d.ByteOrder {
	case LittleEndian, BigEndian, NotApplicable:
	default:
		return fmt.Errorf("invalid byte order %q", rune(d.ByteOrder))
	}
	if !d.Base.valid() {
		return fmt.Errorf("invalid base type %q", rune(d.Base))
	}
	if d.Base == TypeUnicode && d.ItemSize%4 != 0 {
		return fmt.Errorf("unicode item size %d is not a multiple of 4", d.ItemSize)
	}
	return nil
}

// Count returns the number of elements in an array of the given shape.
// The empty shape is a scalar and holds one element. Any zero dimension
// makes the count zero; otherwise overflow saturates at the maximum uint64.
func Count(shape []uint64) uint64 {
	for _, dim := range shape {
		if dim == 0 {
			return 0
		}
	}

	n := uint64(1)
	for _, dim := range shape {
		hi, lo := bits.Mul64(n, dim)
		if hi != 0 {
			return ^uint64(0)
		}
		n = lo
	}
	return n
}

// PayloadSize returns product(shape) × item width without touching the payload.
func PayloadSize(dt DType, shape []uint64) uint64 {
	hi, lo := bits.Mul64(Count(shape), dt.Size())
	if hi != 0 {
		return ^uint64(0)
	}
	return lo
}
