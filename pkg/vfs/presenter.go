package vfs

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/marmos91/h5fs/pkg/npy"
	"github.com/marmos91/h5fs/pkg/store"
)

// Presentation selects how datasets are exposed as files.
type Presentation string

const (
	// PresentationNPY exposes "<name>.npy": an NPY 1.0 header followed by the
	// raw payload.
	PresentationNPY Presentation = "npy"

	// PresentationRaw exposes "<name>": the raw payload only.
	PresentationRaw Presentation = "raw"
)

// ParsePresentation validates a presentation name. Empty means npy.
func ParsePresentation(s string) (Presentation, error) {
	switch Presentation(s) {
	case "", PresentationNPY:
		return PresentationNPY, nil
	case PresentationRaw:
		return PresentationRaw, nil
	default:
		return "", fmt.Errorf("unknown presentation %q (expected npy or raw)", s)
	}
}

// Presenter turns a dataset into the bytes of its virtual file.
//
// A presenter is stateless: every method derives its answer from the
// dataset's metadata, plus payload reads for ReadAt. Nothing is cached.
type Presenter interface {
	// Extension is the token appended (after a dot) to every dataset's
	// virtual name. Empty means datasets keep their native names.
	Extension() string

	// HeaderBytes returns the bytes that precede the payload. Raw
	// presentation has none.
	HeaderBytes(ds *store.Dataset) ([]byte, error)

	// PayloadSize is product(shape) × item width, from metadata alone.
	PayloadSize(ds *store.Dataset) uint64

	// Size is the total virtual file size.
	Size(ds *store.Dataset) (uint64, error)

	// ReadAt fills p with virtual file bytes starting at off and reports how
	// many came from the header and how many from the payload. Ranges past
	// the end are clipped: a short count is not an error.
	ReadAt(ctx context.Context, src store.Store, e *store.Entry, p []byte, off uint64) (header, payload int, err error)
}

// NewPresenter returns the presenter for a presentation.
func NewPresenter(p Presentation) Presenter {
	if p == PresentationRaw {
		return RawPresenter{}
	}
	return NewHeaderedPresenter(RawPresenter{})
}

// ============================================================================
// RawPresenter
// ============================================================================

// RawPresenter exposes the payload bytes unchanged.
type RawPresenter struct{}

func (RawPresenter) Extension() string { return "" }

func (RawPresenter) HeaderBytes(*store.Dataset) ([]byte, error) { return nil, nil }

func (RawPresenter) PayloadSize(ds *store.Dataset) uint64 {
	return ds.PayloadSize()
}

func (r RawPresenter) Size(ds *store.Dataset) (uint64, error) {
	return r.PayloadSize(ds), nil
}

// ReadAt reads payload bytes at native offset off, clipped to the payload.
func (r RawPresenter) ReadAt(ctx context.Context, src store.Store, e *store.Entry, p []byte, off uint64) (int, int, error) {
	size := r.PayloadSize(e.Dataset)
	if off >= size || len(p) == 0 {
		return 0, 0, nil
	}
	if uint64(len(p)) > size-off {
		p = p[:size-off]
	}

	// The store follows io.ReaderAt, but tolerate backends that return
	// short counts without an error.
	n := 0
	for n < len(p) {
		m, err := src.ReadAt(ctx, e, p[n:], off+uint64(n))
		n += m
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, n, err
		}
		if m == 0 {
			break
		}
	}
	return 0, n, nil
}

// ============================================================================
// HeaderedPresenter
// ============================================================================

// HeaderedPresenter prepends a synthesized NPY 1.0 header to the payload of
// the wrapped presenter and shifts offsets past it.
type HeaderedPresenter struct {
	payload   Presenter
	extension string
}

// NewHeaderedPresenter wraps payload (normally RawPresenter) with NPY headers.
func NewHeaderedPresenter(payload Presenter) *HeaderedPresenter {
	return &HeaderedPresenter{payload: payload, extension: npy.Extension}
}

func (h *HeaderedPresenter) Extension() string { return h.extension }

// HeaderBytes recomputes the header on every call.
func (h *HeaderedPresenter) HeaderBytes(ds *store.Dataset) ([]byte, error) {
	return npy.Header(ds.DType, ds.Shape)
}

func (h *HeaderedPresenter) PayloadSize(ds *store.Dataset) uint64 {
	return h.payload.PayloadSize(ds)
}

func (h *HeaderedPresenter) Size(ds *store.Dataset) (uint64, error) {
	header, err := h.HeaderBytes(ds)
	if err != nil {
		return 0, err
	}
	payload := h.PayloadSize(ds)
	if payload > math.MaxUint64-uint64(len(header)) {
		return math.MaxUint64, nil
	}
	return uint64(len(header)) + payload, nil
}

// ReadAt serves [off, off+len(p)) of header ++ payload.
//
// With H the header length, the header contributes header[off:min(end,H)]
// when off < H. The payload contributes from native offset max(0, off-H)
// for (end - max(off,H)) bytes, clipped to what the payload still holds.
// Only those two slices are ever touched.
func (h *HeaderedPresenter) ReadAt(ctx context.Context, src store.Store, e *store.Entry, p []byte, off uint64) (int, int, error) {
	// ========================================================================
	// Step 1: Header slice
	// ========================================================================

	header, err := h.HeaderBytes(e.Dataset)
	if err != nil {
		return 0, 0, err
	}
	H := uint64(len(header))

	length := uint64(len(p))
	if length > math.MaxUint64-off {
		length = math.MaxUint64 - off
	}
	end := off + length

	fromHeader := 0
	if off < H {
		fromHeader = copy(p, header[off:min(end, H)])
	}

	// ========================================================================
	// Step 2: Payload slice
	// ========================================================================

	payloadOff := uint64(0)
	if off > H {
		payloadOff = off - H
	}

	var remaining uint64
	if start := max(off, H); end > start {
		remaining = end - start
	}

	payloadSize := h.PayloadSize(e.Dataset)
	if payloadOff >= payloadSize {
		remaining = 0
	} else if remaining > payloadSize-payloadOff {
		remaining = payloadSize - payloadOff
	}

	if remaining == 0 {
		return fromHeader, 0, nil
	}

	dst := p[fromHeader : uint64(fromHeader)+remaining]
	_, fromPayload, err := h.payload.ReadAt(ctx, src, e, dst, payloadOff)
	return fromHeader, fromPayload, err
}
