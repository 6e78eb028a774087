package hdf5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// undefinedAddress is the all-ones address HDF5 uses for "not allocated",
// normalised to 64 bits whatever the file's offset size.
const undefinedAddress = ^uint64(0)

var (
	errTruncated   = errors.New("hdf5: structure truncated")
	errUnsupported = errors.New("hdf5: unsupported feature")
)

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUnsupported, fmt.Sprintf(format, args...))
}

// decoder walks a little-endian metadata block. The first short read
// sticks in err and every later read returns zero.
type decoder struct {
	b   []byte
	off int
	err error

	offsetSize int
	lengthSize int
}

func (f *file) decoder(b []byte) *decoder {
	return &decoder{b: b, offsetSize: f.offsetSize, lengthSize: f.lengthSize}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > len(d.b)-d.off {
		d.err = errTruncated
		return nil
	}
	out := d.b[d.off : d.off+n]
	d.off += n
	return out
}

func (d *decoder) remaining() int { return len(d.b) - d.off }

func (d *decoder) skip(n int) { d.take(n) }

func (d *decoder) u8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if b := d.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// uvar reads an n-byte little-endian unsigned integer, n <= 8.
func (d *decoder) uvar(n int) uint64 {
	b := d.take(n)
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// addr reads a file address, mapping the all-ones value to undefinedAddress.
func (d *decoder) addr() uint64 {
	v := d.uvar(d.offsetSize)
	if d.offsetSize < 8 && v == 1<<(8*d.offsetSize)-1 {
		return undefinedAddress
	}
	return v
}

func (d *decoder) length() uint64 {
	v := d.uvar(d.lengthSize)
	if d.lengthSize < 8 && v == 1<<(8*d.lengthSize)-1 {
		return undefinedAddress
	}
	return v
}

// cstring reads a NUL-terminated string. With pad > 1 the terminator is
// followed by zero bytes up to a multiple of pad from the string start.
func (d *decoder) cstring(pad int) string {
	if d.err != nil {
		return ""
	}
	start := d.off
	for d.off < len(d.b) && d.b[d.off] != 0 {
		d.off++
	}
	if d.off >= len(d.b) {
		d.err = errTruncated
		return ""
	}
	s := string(d.b[start:d.off])
	d.off++
	if pad > 1 {
		if n := (d.off - start) % pad; n != 0 {
			d.skip(pad - n)
		}
	}
	return s
}

func (d *decoder) signature(want string) error {
	got := d.take(len(want))
	if d.err != nil {
		return d.err
	}
	if string(got) != want {
		return fmt.Errorf("hdf5: expected %q signature, found %q", want, got)
	}
	return nil
}

// ============================================================================
// File and Superblock
// ============================================================================

// signature is the 8-byte format signature that starts every superblock.
const signature = "\x89HDF\r\n\x1a\n"

// file holds what the superblock says about the address space.
type file struct {
	r io.ReaderAt

	// base is added to every address read from the file
	base uint64

	offsetSize int
	lengthSize int

	superblockVersion uint8
	root              uint64
}

// readAt reads exactly n bytes at the file-relative address addr.
func (f *file) readAt(addr uint64, n int) ([]byte, error) {
	if addr == undefinedAddress {
		return nil, fmt.Errorf("hdf5: read at undefined address")
	}
	b := make([]byte, n)
	got, err := f.r.ReadAt(b, int64(f.base+addr))
	if got == n {
		return b, nil
	}
	if err == nil || err == io.EOF {
		err = errTruncated
	}
	return nil, fmt.Errorf("hdf5: read %d bytes at 0x%x: %w", n, addr, err)
}

// readAtMost reads up to n bytes at addr, stopping early at end of file.
func (f *file) readAtMost(abs uint64, n int) ([]byte, error) {
	b := make([]byte, n)
	got, err := f.r.ReadAt(b, int64(abs))
	if err != nil && err != io.EOF {
		return nil, err
	}
	return b[:got], nil
}

// openFile locates and decodes the superblock. A user block may precede
// it, so the signature is searched at 0, 512, 1024, 2048 and so on.
func openFile(r io.ReaderAt) (*file, error) {
	for at := uint64(0); at < 1<<40; {
		b, err := (&file{r: r}).readAtMost(at, 256)
		if err != nil {
			return nil, fmt.Errorf("hdf5: read superblock: %w", err)
		}
		if len(b) < len(signature) {
			break
		}
		if string(b[:len(signature)]) == signature {
			return decodeSuperblock(r, at, b[len(signature):])
		}

		if at == 0 {
			at = 512
		} else {
			at *= 2
		}
	}
	return nil, fmt.Errorf("hdf5: no superblock signature found")
}

func decodeSuperblock(r io.ReaderAt, at uint64, b []byte) (*file, error) {
	if len(b) < 3 {
		return nil, errTruncated
	}

	f := &file{r: r, superblockVersion: b[0]}

	switch f.superblockVersion {
	case 0, 1:
		d := &decoder{b: b}
		d.skip(5) // version and the free-space, root group and shared header versions
		f.offsetSize = int(d.u8())
		f.lengthSize = int(d.u8())
		d.skip(1)
		d.skip(4) // group leaf and internal node K
		d.skip(4) // consistency flags
		if f.superblockVersion == 1 {
			d.skip(4) // indexed storage K and reserved
		}
		if err := f.checkSizes(); err != nil {
			return nil, err
		}
		d.offsetSize, d.lengthSize = f.offsetSize, f.lengthSize

		f.base = d.addr()
		d.addr() // free-space info
		d.addr() // end of file
		d.addr() // driver info

		// Root group symbol table entry
		d.addr() // link name offset
		f.root = d.addr()
		if d.err != nil {
			return nil, d.err
		}

	case 2, 3:
		d := &decoder{b: b}
		d.skip(1)
		f.offsetSize = int(d.u8())
		f.lengthSize = int(d.u8())
		d.skip(1) // consistency flags
		if err := f.checkSizes(); err != nil {
			return nil, err
		}
		d.offsetSize, d.lengthSize = f.offsetSize, f.lengthSize

		f.base = d.addr()
		d.addr() // superblock extension
		d.addr() // end of file
		f.root = d.addr()
		if d.err != nil {
			return nil, d.err
		}

	default:
		return nil, unsupported("superblock version %d", f.superblockVersion)
	}

	if f.base == undefinedAddress {
		f.base = at
	}
	if f.root == undefinedAddress {
		return nil, fmt.Errorf("hdf5: superblock has no root group")
	}
	return f, nil
}

func (f *file) checkSizes() error {
	for _, n := range []int{f.offsetSize, f.lengthSize} {
		switch n {
		case 2, 4, 8:
		default:
			return unsupported("address or length size %d", n)
		}
	}
	return nil
}
