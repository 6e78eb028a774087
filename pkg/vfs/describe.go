package vfs

import (
	"github.com/marmos91/h5fs/pkg/npy"
	"github.com/marmos91/h5fs/pkg/store"
)

// ============================================================================
// Metadata Describer
// ============================================================================

// HeaderBytes returns the synthesized header of a dataset's virtual file.
// The header is recomputed on every call and is a pure function of the
// dataset's dtype and shape. A dataset whose header cannot be encoded is
// an unsupported entry.
func (fs *FS) HeaderBytes(e *store.Entry) ([]byte, error) {
	if err := requireDataset("describe", e); err != nil {
		return nil, err
	}
	header, err := fs.presenter.HeaderBytes(e.Dataset)
	if err != nil {
		return nil, newError(CodeUnsupportedEntry, "describe", e.Path, err)
	}
	return header, nil
}

// PayloadSize returns product(shape) × item width without touching the
// payload.
func (fs *FS) PayloadSize(e *store.Entry) (uint64, error) {
	if err := requireDataset("describe", e); err != nil {
		return 0, err
	}
	return fs.presenter.PayloadSize(e.Dataset), nil
}

// TotalSize returns len(HeaderBytes) + PayloadSize.
func (fs *FS) TotalSize(e *store.Entry) (uint64, error) {
	if err := requireDataset("describe", e); err != nil {
		return 0, err
	}
	total, err := fs.presenter.Size(e.Dataset)
	if err != nil {
		return 0, newError(CodeUnsupportedEntry, "describe", e.Path, err)
	}
	return total, nil
}

// Description summarises a dataset for inspection tools.
type Description struct {
	// Descr is the NPY dtype literal, e.g. "'<f4'" or a list of fields.
	Descr string

	// Shape is the Python tuple literal, e.g. "(2, 3)".
	Shape string

	ItemSize    uint64
	Count       uint64
	HeaderSize  uint64
	PayloadSize uint64
	TotalSize   uint64
}

// Describe computes every metadata-derived figure of a dataset.
func (fs *FS) Describe(e *store.Entry) (*Description, error) {
	header, err := fs.HeaderBytes(e)
	if err != nil {
		return nil, err
	}
	ds := e.Dataset
	payload := fs.presenter.PayloadSize(ds)
	total, err := fs.TotalSize(e)
	if err != nil {
		return nil, err
	}

	return &Description{
		Descr:       npy.Descr(ds.DType),
		Shape:       npy.ShapeRepr(ds.Shape),
		ItemSize:    ds.DType.Size(),
		Count:       store.Count(ds.Shape),
		HeaderSize:  uint64(len(header)),
		PayloadSize: payload,
		TotalSize:   total,
	}, nil
}

func requireDataset(op string, e *store.Entry) error {
	switch e.Kind {
	case store.KindDataset:
		if e.Dataset == nil {
			return newError(CodeUnsupportedEntry, op, e.Path, nil)
		}
		return nil
	case store.KindGroup:
		return newError(CodeIsADirectory, op, e.Path, nil)
	default:
		return newError(CodeUnsupportedEntry, op, e.Path, nil)
	}
}
