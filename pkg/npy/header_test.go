package npy

import (
	"bytes"
	"strings"
	"testing"

	"github.com/marmos91/h5fs/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func meluDType() store.DType {
	return store.Record(
		store.Field{Name: "f0", DType: store.Scalar(store.BigEndian, store.TypeUint, 8)},
		store.Field{Name: "f1", DType: store.Scalar(store.BigEndian, store.TypeFloat, 4)},
		store.Field{Name: "f2", DType: store.Scalar(store.NotApplicable, store.TypeBytes, 7)},
	)
}

func TestHeader_StructuredRecord(t *testing.T) {
	h, err := Header(meluDType(), []uint64{2})
	require.NoError(t, err)

	require.Len(t, h, 112)
	assert.Equal(t, []byte("\x93NUMPY\x01\x00\x66\x00"), h[:10])
	assert.Equal(t, "{'descr': ", string(h[10:20]))
	assert.Equal(t, "(2,), }    \n", string(h[100:]))
	assert.Equal(t,
		"{'descr': [('f0', '>u8'), ('f1', '>f4'), ('f2', '|S7')], 'fortran_order': False, 'shape': (2,), }",
		strings.TrimRight(string(h[10:]), " \n"))
}

func TestHeader_Scalars(t *testing.T) {
	tests := []struct {
		name   string
		dtype  store.DType
		shape  []uint64
		record string
	}{
		{"float32 vector", store.Scalar(store.LittleEndian, store.TypeFloat, 4), []uint64{2},
			"{'descr': '<f4', 'fortran_order': False, 'shape': (2,), }"},
		{"float64 scalar", store.Scalar(store.LittleEndian, store.TypeFloat, 8), nil,
			"{'descr': '<f8', 'fortran_order': False, 'shape': (), }"},
		{"int64 matrix", store.Scalar(store.LittleEndian, store.TypeInt, 8), []uint64{4, 3},
			"{'descr': '<i8', 'fortran_order': False, 'shape': (4, 3), }"},
		{"bool", store.Scalar(store.NotApplicable, store.TypeBool, 1), []uint64{5},
			"{'descr': '|b1', 'fortran_order': False, 'shape': (5,), }"},
		{"unicode counts code points", store.Scalar(store.LittleEndian, store.TypeUnicode, 12), []uint64{1},
			"{'descr': '<U3', 'fortran_order': False, 'shape': (1,), }"},
		{"big-endian complex", store.Scalar(store.BigEndian, store.TypeComplex, 16), []uint64{0},
			"{'descr': '>c16', 'fortran_order': False, 'shape': (0,), }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.record, Record(tt.dtype, tt.shape))

			h, err := Header(tt.dtype, tt.shape)
			require.NoError(t, err)
			assert.Zero(t, len(h)%Alignment)
			assert.Equal(t, byte('\n'), h[len(h)-1])
			assert.Equal(t, tt.record, strings.TrimRight(string(h[10:]), " \n"))
		})
	}
}

func TestHeader_Deterministic(t *testing.T) {
	a, err := Header(meluDType(), []uint64{2})
	require.NoError(t, err)
	b, err := Header(meluDType(), []uint64{2})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHeader_PaddingRange(t *testing.T) {
	// Padding is always between 1 and 16 spaces, whatever the record length.
	for n := 0; n < 40; n++ {
		shape := make([]uint64, 0, n)
		for i := 0; i < n; i++ {
			shape = append(shape, uint64(i%11))
		}
		record := Record(store.Scalar(store.LittleEndian, store.TypeInt, 2), shape)

		h, err := Header(store.Scalar(store.LittleEndian, store.TypeInt, 2), shape)
		require.NoError(t, err)

		padding := len(h) - 10 - len(record) - 1
		assert.GreaterOrEqual(t, padding, 1)
		assert.LessOrEqual(t, padding, 16)
		assert.Zero(t, len(h)%Alignment)
	}
}

func TestDescr_Nested(t *testing.T) {
	dt := store.Record(
		store.Field{Name: "id", DType: store.Scalar(store.LittleEndian, store.TypeInt, 4)},
		store.Field{Name: "m", DType: store.Scalar(store.LittleEndian, store.TypeFloat, 8), Shape: []uint64{2, 3}},
		store.Field{Name: "pos", DType: store.Record(
			store.Field{Name: "x", DType: store.Scalar(store.LittleEndian, store.TypeFloat, 4)},
		)},
		store.Field{Name: "it's", DType: store.Scalar(store.NotApplicable, store.TypeBytes, 1)},
	)

	assert.Equal(t,
		`[('id', '<i4'), ('m', '<f8', (2, 3)), ('pos', [('x', '<f4')]), ("it's", '|S1')]`,
		Descr(dt))
}

func TestShapeRepr(t *testing.T) {
	assert.Equal(t, "()", ShapeRepr(nil))
	assert.Equal(t, "(7,)", ShapeRepr([]uint64{7}))
	assert.Equal(t, "(1, 2, 3)", ShapeRepr([]uint64{1, 2, 3}))
}

func TestReadHeader_RoundTrip(t *testing.T) {
	dtypes := []store.DType{
		meluDType(),
		store.Scalar(store.LittleEndian, store.TypeFloat, 8),
		store.Scalar(store.LittleEndian, store.TypeUnicode, 20),
		store.Record(
			store.Field{Name: "a", DType: store.Scalar(store.LittleEndian, store.TypeInt, 2), Shape: []uint64{3}},
			store.Field{Name: "b", DType: store.Record(
				store.Field{Name: "c", DType: store.Scalar(store.NotApplicable, store.TypeUint, 1)},
			)},
		),
	}

	for _, dt := range dtypes {
		h, err := Header(dt, []uint64{4, 5})
		require.NoError(t, err)

		info, err := ReadHeader(bytes.NewReader(append(h, 0xAA)))
		require.NoError(t, err)
		assert.Equal(t, dt, info.DType)
		assert.Equal(t, []uint64{4, 5}, info.Shape)
		assert.Equal(t, int64(len(h)), info.HeaderLen)
		assert.Equal(t, 1, info.Major)
		assert.False(t, info.FortranOrder)
	}
}

func TestReadHeader_Version2(t *testing.T) {
	record := "{'descr': '<i4', 'fortran_order': False, 'shape': (3,), }"
	var buf bytes.Buffer
	buf.WriteString(Magic)
	buf.Write([]byte{2, 0})
	l := len(record) + 1
	buf.Write([]byte{byte(l), byte(l >> 8), 0, 0})
	buf.WriteString(record)
	buf.WriteByte('\n')

	info, err := ReadHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Major)
	assert.Equal(t, int64(12+l), info.HeaderLen)
	assert.Equal(t, uint64(12), info.PayloadSize())
}

func TestReadHeader_Rejects(t *testing.T) {
	_, err := ReadHeader(strings.NewReader("PK\x03\x04not npy at all"))
	assert.ErrorIs(t, err, ErrNotNPY)

	fortran := "{'descr': '<f8', 'fortran_order': True, 'shape': (2, 2), }"
	_, err = ReadHeader(bytes.NewReader(v1(fortran)))
	assert.ErrorIs(t, err, ErrUnsupported)

	object := "{'descr': '|O', 'fortran_order': False, 'shape': (2,), }"
	_, err = ReadHeader(bytes.NewReader(v1(object)))
	assert.ErrorIs(t, err, ErrUnsupported)

	datetime := "{'descr': '<M8[ns]', 'fortran_order': False, 'shape': (2,), }"
	_, err = ReadHeader(bytes.NewReader(v1(datetime)))
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = ReadHeader(bytes.NewReader(v1("{'descr': '<f8', ")))
	assert.Error(t, err)
}

func TestReadHeader_Python2Style(t *testing.T) {
	record := "{'descr': '<i8', 'fortran_order': False, 'shape': (3L, 2L), }"
	info, err := ReadHeader(bytes.NewReader(v1(record)))
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 2}, info.Shape)
}

func v1(record string) []byte {
	var buf bytes.Buffer
	buf.WriteString(Magic)
	buf.Write([]byte{1, 0})
	l := len(record) + 1
	buf.Write([]byte{byte(l), byte(l >> 8)})
	buf.WriteString(record)
	buf.WriteByte('\n')
	return buf.Bytes()
}
