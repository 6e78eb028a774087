package testing

import (
	storetesting "github.com/marmos91/h5fs/pkg/store/testing"
)

// MeluType is the compound type of storetesting.MeluDType.
func MeluType() Type {
	return Compound(19,
		Member{Name: "f0", Offset: 0, Type: Int(8, false, true)},
		Member{Name: "f1", Offset: 8, Type: Float(4, true)},
		Member{Name: "f2", Offset: 12, Type: String(7)},
	)
}

// Fixture is the storetesting.Fixture tree as an HDF5 file, with melu
// stored contiguously and the scalar stored compactly.
func Fixture() *Group {
	return &Group{Children: []Node{
		&Group{Name: "grp", Children: []Node{
			&Dataset{Name: "melu", Type: MeluType(), Shape: []uint64{2}, Data: storetesting.MeluPayload()},
			&Group{Name: "inner"},
		}},
		&Dataset{Name: "scalar", Type: Float(8, false), Layout: Compact,
			Data: []byte{0, 0, 0, 0, 0, 0, 0xf8, 0x3f}},
	}}
}
