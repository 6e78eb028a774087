package badger

import (
	"encoding/json"
	"fmt"

	"github.com/marmos91/h5fs/pkg/store"
)

// nodeRecord is the persisted form of one group or dataset.
type nodeRecord struct {
	Kind    store.EntryKind `json:"kind"`
	Dataset *store.Dataset  `json:"dataset,omitempty"`
}

func encodeNode(e *store.Entry) ([]byte, error) {
	data, err := json.Marshal(nodeRecord{Kind: e.Kind, Dataset: e.Dataset})
	if err != nil {
		return nil, fmt.Errorf("failed to encode node %s: %w", e.Path, err)
	}
	return data, nil
}

func decodeNode(path string, data []byte) (*store.Entry, error) {
	var rec nodeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, store.NewError(store.ErrIOError, path, "corrupt node record: %v", err)
	}
	if rec.Kind == store.KindDataset && rec.Dataset == nil {
		return nil, store.NewError(store.ErrIOError, path, "dataset record without layout")
	}
	return &store.Entry{Kind: rec.Kind, Path: path, Dataset: rec.Dataset}, nil
}
