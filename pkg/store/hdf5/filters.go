package hdf5

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// zstdDecoder is shared by every store; zstd.Decoder.DecodeAll is safe
// for concurrent use.
var zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
	return zstd.NewReader(nil)
})

// unfilter undoes a filter pipeline on one stored chunk. Filters run in
// reverse pipeline order; bit i of mask skips filter i.
func unfilter(pipeline []filter, mask uint32, raw []byte, want uint64) ([]byte, error) {
	b := raw
	for i := len(pipeline) - 1; i >= 0; i-- {
		if i < 32 && mask&(1<<i) != 0 {
			continue
		}

		fl := pipeline[i]
		var err error
		switch fl.id {
		case filterDeflate:
			b, err = inflate(b, want)
		case filterShuffle:
			size := uint64(1)
			if len(fl.values) > 0 {
				size = uint64(fl.values[0])
			}
			b = unshuffle(b, size)
		case filterFletcher32:
			if len(b) < 4 {
				return nil, fmt.Errorf("hdf5: fletcher32 chunk of %d bytes", len(b))
			}
			b = b[:len(b)-4]
		case filterLZ4:
			b, err = unLZ4(b)
		case filterZstd:
			var dec *zstd.Decoder
			if dec, err = zstdDecoder(); err == nil {
				b, err = dec.DecodeAll(b, make([]byte, 0, want))
			}
		default:
			return nil, unsupported("filter %d", fl.id)
		}
		if err != nil {
			return nil, fmt.Errorf("hdf5: filter %d: %w", fl.id, err)
		}
	}

	if uint64(len(b)) != want {
		return nil, fmt.Errorf("hdf5: chunk decoded to %d bytes, want %d", len(b), want)
	}
	return b, nil
}

func inflate(b []byte, want uint64) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out := bytes.NewBuffer(make([]byte, 0, want))
	if _, err := io.Copy(out, zr); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// unshuffle reverses the byte transposition of the shuffle filter. Bytes
// beyond the last whole element were left in place.
func unshuffle(b []byte, size uint64) []byte {
	if size <= 1 || uint64(len(b)) < size {
		return b
	}
	n := uint64(len(b)) / size
	out := make([]byte, len(b))
	for j := range size {
		for i := range n {
			out[i*size+j] = b[j*n+i]
		}
	}
	copy(out[n*size:], b[n*size:])
	return out
}

// unLZ4 decodes the HDF5 LZ4 filter framing: a big-endian total size and
// block size, then blocks each prefixed with their compressed size. A
// block whose compressed size equals its raw size is stored raw.
func unLZ4(b []byte) ([]byte, error) {
	if len(b) < 12 {
		return nil, fmt.Errorf("lz4 header truncated")
	}
	total := binary.BigEndian.Uint64(b[0:8])
	block := uint64(binary.BigEndian.Uint32(b[8:12]))
	if block == 0 && total > 0 {
		return nil, fmt.Errorf("lz4 block size is zero")
	}
	b = b[12:]

	out := make([]byte, total)
	for at := uint64(0); at < total; {
		if len(b) < 4 {
			return nil, fmt.Errorf("lz4 block header truncated")
		}
		n := uint64(binary.BigEndian.Uint32(b[:4]))
		b = b[4:]
		if n > uint64(len(b)) {
			return nil, fmt.Errorf("lz4 block truncated")
		}

		raw := min(block, total-at)
		if n == raw {
			copy(out[at:at+raw], b[:n])
		} else {
			got, err := lz4.UncompressBlock(b[:n], out[at:at+raw])
			if err != nil {
				return nil, err
			}
			if uint64(got) != raw {
				return nil, fmt.Errorf("lz4 block decoded to %d bytes, want %d", got, raw)
			}
		}
		b = b[n:]
		at += raw
	}
	return out, nil
}
