// Package npy synthesizes and parses NPY format headers.
//
// Only version 1.0 headers are produced: the 6-byte magic "\x93NUMPY",
// major 1, minor 0, a little-endian uint16 length, then a Python dict
// literal padded with spaces and terminated by a newline so the total
// header length is a multiple of 16.
package npy

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/marmos91/h5fs/pkg/store"
)

// Extension is the file extension carried by files in this format.
const Extension = "npy"

// Magic is the 6-byte prefix of every NPY file.
const Magic = "\x93NUMPY"

const (
	// Alignment is the boundary the full header length is padded to.
	Alignment = 16

	// prefixLen covers magic, version bytes and the uint16 length field.
	prefixLen = len(Magic) + 2 + 2

	maxRecordLen = 1<<16 - 1
)

// Header returns the version 1.0 header for an array of the given element
// type and shape. The result is a pure function of its arguments.
func Header(dt store.DType, shape []uint64) ([]byte, error) {
	record := Record(dt, shape)

	padding := Alignment - (prefixLen+len(record)+1)%Alignment
	recordLen := len(record) + padding + 1
	if recordLen > maxRecordLen {
		return nil, fmt.Errorf("npy header record is %d bytes, version 1.0 allows %d", recordLen, maxRecordLen)
	}

	buf := make([]byte, 0, prefixLen+recordLen)
	buf = append(buf, Magic...)
	buf = append(buf, 1, 0)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(recordLen))
	buf = append(buf, record...)
	for range padding {
		buf = append(buf, ' ')
	}
	buf = append(buf, '\n')
	return buf, nil
}

// Record returns the unpadded dict literal describing the array, with keys
// in sorted order:
//
//	{'descr': '<f8', 'fortran_order': False, 'shape': (4, 3), }
func Record(dt store.DType, shape []uint64) string {
	var b strings.Builder
	b.WriteString("{'descr': ")
	b.WriteString(Descr(dt))
	b.WriteString(", 'fortran_order': False, 'shape': ")
	b.WriteString(ShapeRepr(shape))
	b.WriteString(", }")
	return b.String()
}

// Descr renders an element type the way numpy's dtype_to_descr does: a
// quoted type string for scalar types, a list of field tuples for records.
func Descr(dt store.DType) string {
	if !dt.IsRecord() {
		return quote(typeString(dt))
	}

	var b strings.Builder
	b.WriteByte('[')
	for i, f := range dt.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		b.WriteString(quote(f.Name))
		b.WriteString(", ")
		b.WriteString(Descr(f.DType))
		if len(f.Shape) > 0 {
			b.WriteString(", ")
			b.WriteString(ShapeRepr(f.Shape))
		}
		b.WriteByte(')')
	}
	b.WriteByte(']')
	return b.String()
}

// typeString renders "<f8", "|S7", "<U3" (unicode counts code points).
func typeString(dt store.DType) string {
	size := dt.ItemSize
	if dt.Base == store.TypeUnicode {
		size /= 4
	}
	return string([]byte{byte(dt.ByteOrder), byte(dt.Base)}) + strconv.FormatUint(size, 10)
}

// ShapeRepr renders a shape as a Python tuple: (), (2,), (4, 3).
func ShapeRepr(shape []uint64) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return "(" + strconv.FormatUint(shape[0], 10) + ",)"
	}

	parts := make([]string, len(shape))
	for i, dim := range shape {
		parts[i] = strconv.FormatUint(dim, 10)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// quote renders s as a Python 3 str repr.
func quote(s string) string {
	q := byte('\'')
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}

	var b strings.Builder
	b.WriteByte(q)
	for _, r := range s {
		switch {
		case r == rune(q) || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte(q)
	return b.String()
}
