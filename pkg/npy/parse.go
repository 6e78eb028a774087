package npy

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/marmos91/h5fs/pkg/store"
)

var (
	// ErrNotNPY indicates the input does not start with the NPY magic.
	ErrNotNPY = errors.New("not an npy file")

	// ErrUnsupported indicates a well-formed header this package cannot map
	// onto a store.DType (object arrays, Fortran order, unknown versions).
	ErrUnsupported = errors.New("unsupported npy header")
)

// Info is the decoded content of an NPY header.
type Info struct {
	Major, Minor int
	DType        store.DType
	Shape        []uint64
	FortranOrder bool

	// HeaderLen is the byte offset of the first payload byte.
	HeaderLen int64
}

// PayloadSize returns the number of payload bytes following the header.
func (i *Info) PayloadSize() uint64 {
	return store.PayloadSize(i.DType, i.Shape)
}

// ReadHeader consumes and decodes an NPY header from r. Versions 1.0, 2.0
// and 3.0 are accepted.
func ReadHeader(r io.Reader) (*Info, error) {
	var prefix [8]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("read npy prefix: %w", err)
	}
	if string(prefix[:6]) != Magic {
		return nil, ErrNotNPY
	}

	info := &Info{Major: int(prefix[6]), Minor: int(prefix[7])}

	var recordLen int64
	switch info.Major {
	case 1:
		var n [2]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return nil, fmt.Errorf("read npy header length: %w", err)
		}
		recordLen = int64(binary.LittleEndian.Uint16(n[:]))
		info.HeaderLen = 10 + recordLen
	case 2, 3:
		var n [4]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return nil, fmt.Errorf("read npy header length: %w", err)
		}
		recordLen = int64(binary.LittleEndian.Uint32(n[:]))
		info.HeaderLen = 12 + recordLen
	default:
		return nil, fmt.Errorf("%w: version %d.%d", ErrUnsupported, info.Major, info.Minor)
	}

	record := make([]byte, recordLen)
	if _, err := io.ReadFull(r, record); err != nil {
		return nil, fmt.Errorf("read npy header record: %w", err)
	}

	if err := info.decodeRecord(bytes.TrimRight(record, " \n\x00")); err != nil {
		return nil, err
	}
	return info, nil
}

func (info *Info) decodeRecord(record []byte) error {
	p := &literalParser{src: string(record)}
	v, err := p.parse()
	if err != nil {
		return fmt.Errorf("parse npy header: %w", err)
	}

	dict, ok := v.(map[string]any)
	if !ok {
		return fmt.Errorf("parse npy header: record is not a dict")
	}

	descr, ok := dict["descr"]
	if !ok {
		return fmt.Errorf("parse npy header: missing 'descr'")
	}
	if info.DType, err = descrToDType(descr); err != nil {
		return err
	}
	if err := info.DType.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	fortran, ok := dict["fortran_order"].(bool)
	if !ok {
		return fmt.Errorf("parse npy header: 'fortran_order' is not a bool")
	}
	if fortran {
		return fmt.Errorf("%w: fortran-ordered arrays", ErrUnsupported)
	}
	info.FortranOrder = fortran

	if info.Shape, err = toShape(dict["shape"]); err != nil {
		return fmt.Errorf("parse npy header: shape: %w", err)
	}
	return nil
}

var typeStringRE = regexp.MustCompile(`^([<>|=]?)([biufcSUVMm])(\d+)(\[\w+\])?$`)

func descrToDType(v any) (store.DType, error) {
	switch d := v.(type) {
	case string:
		return parseTypeString(d)
	case []any:
		fields := make([]store.Field, 0, len(d))
		for _, item := range d {
			f, err := toField(item)
			if err != nil {
				return store.DType{}, err
			}
			fields = append(fields, f)
		}
		if len(fields) == 0 {
			return store.DType{}, fmt.Errorf("%w: empty record descr", ErrUnsupported)
		}
		return store.Record(fields...), nil
	default:
		return store.DType{}, fmt.Errorf("%w: descr of type %T", ErrUnsupported, v)
	}
}

func parseTypeString(s string) (store.DType, error) {
	m := typeStringRE.FindStringSubmatch(s)
	if m == nil {
		return store.DType{}, fmt.Errorf("%w: type string %q", ErrUnsupported, s)
	}

	if m[4] != "" {
		return store.DType{}, fmt.Errorf("%w: datetime unit in %q", ErrUnsupported, s)
	}

	size, err := strconv.ParseUint(m[3], 10, 64)
	if err != nil {
		return store.DType{}, fmt.Errorf("%w: type string %q", ErrUnsupported, s)
	}

	base := store.BaseType(m[2][0])
	if base == store.TypeUnicode {
		size *= 4
	}

	var order store.ByteOrder
	switch m[1] {
	case "<", "=":
		order = store.LittleEndian
	case ">":
		order = store.BigEndian
	default:
		order = store.NotApplicable
	}

	dt := store.Scalar(order, base, size)
	return dt, dt.Validate()
}

func toField(v any) (store.Field, error) {
	t, ok := v.(tuple)
	if !ok || len(t) < 2 || len(t) > 3 {
		return store.Field{}, fmt.Errorf("%w: malformed record field %v", ErrUnsupported, v)
	}

	var name string
	switch n := t[0].(type) {
	case string:
		name = n
	case tuple:
		// (title, name) pairs
		if len(n) != 2 {
			return store.Field{}, fmt.Errorf("%w: malformed field title %v", ErrUnsupported, n)
		}
		name, _ = n[1].(string)
	}

	dt, err := descrToDType(t[1])
	if err != nil {
		return store.Field{}, fmt.Errorf("field %q: %w", name, err)
	}

	f := store.Field{Name: name, DType: dt}
	if len(t) == 3 {
		if f.Shape, err = toShape(t[2]); err != nil {
			return store.Field{}, fmt.Errorf("field %q: %w", name, err)
		}
	}
	return f, nil
}

func toShape(v any) ([]uint64, error) {
	switch s := v.(type) {
	case tuple:
		shape := make([]uint64, len(s))
		for i, dim := range s {
			n, ok := dim.(int64)
			if !ok || n < 0 {
				return nil, fmt.Errorf("invalid dimension %v", dim)
			}
			shape[i] = uint64(n)
		}
		return shape, nil
	case int64:
		if s < 0 {
			return nil, fmt.Errorf("invalid dimension %d", s)
		}
		return []uint64{uint64(s)}, nil
	default:
		return nil, fmt.Errorf("not a tuple: %v", v)
	}
}
