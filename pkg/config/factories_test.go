package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/h5fs/pkg/npy"
	"github.com/marmos91/h5fs/pkg/store"
	hdf5testing "github.com/marmos91/h5fs/pkg/store/hdf5/testing"
	storetesting "github.com/marmos91/h5fs/pkg/store/testing"
)

func TestCreateContentStore_Filesystem(t *testing.T) {
	ctx := context.Background()
	cfg := &ContentConfig{
		Type: "filesystem",
		Filesystem: map[string]any{
			"path":          t.TempDir(),
			"fd_cache_size": 8,
		},
	}

	store, err := CreateContentStore(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create filesystem content store: %v", err)
	}

	if store == nil {
		t.Fatal("Expected non-nil store")
	}
}

func TestCreateContentStore_FilesystemMissingPath(t *testing.T) {
	ctx := context.Background()
	cfg := &ContentConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{},
	}

	_, err := CreateContentStore(ctx, cfg, nil)
	if err == nil {
		t.Fatal("Expected error for missing path")
	}
	if !strings.Contains(err.Error(), "path is required") {
		t.Errorf("Expected 'path is required' error, got: %v", err)
	}
}

func TestCreateContentStore_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := &ContentConfig{
		Type:   "memory",
		Memory: map[string]any{"max_size_bytes": uint64(1024)},
	}

	store, err := CreateContentStore(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create memory content store: %v", err)
	}
	if store == nil {
		t.Fatal("Expected non-nil store")
	}
}

func TestCreateContentStore_S3MissingBucket(t *testing.T) {
	ctx := context.Background()
	cfg := &ContentConfig{
		Type: "s3",
		S3:   map[string]any{"region": "us-east-1"},
	}

	_, err := CreateContentStore(ctx, cfg, nil)
	if err == nil || !strings.Contains(err.Error(), "bucket is required") {
		t.Fatalf("Expected 'bucket is required' error, got: %v", err)
	}
}

func TestCreateContentStore_UnknownType(t *testing.T) {
	ctx := context.Background()
	cfg := &ContentConfig{Type: "tape"}

	_, err := CreateContentStore(ctx, cfg, nil)
	if err == nil {
		t.Fatal("Expected error for unknown content store type")
	}
	if !strings.Contains(err.Error(), "unknown content store type") {
		t.Errorf("Expected 'unknown content store type' error, got: %v", err)
	}
}

func TestCreateContentStore_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := &ContentConfig{
		Type:       "filesystem",
		Filesystem: map[string]any{"path": t.TempDir()},
	}

	if _, err := CreateContentStore(ctx, cfg, nil); err == nil {
		t.Fatal("Expected error for cancelled context")
	}
}

func TestCreateStore_BadgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := GetDefaultConfig()
	cfg.Store.Badger = map[string]any{"db_path": filepath.Join(dir, "db")}
	cfg.Content.Filesystem = map[string]any{"path": filepath.Join(dir, "content")}

	// Import phase: read-write
	rw, err := CreateStore(ctx, cfg, OpenReadWrite, nil)
	if err != nil {
		t.Fatalf("Failed to open store read-write: %v", err)
	}
	storetesting.Fixture(t, rw)
	if err := rw.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	// Mount phase: read-only
	ro, err := CreateStore(ctx, cfg, OpenReadOnly, nil)
	if err != nil {
		t.Fatalf("Failed to open store read-only: %v", err)
	}
	defer func() { _ = ro.Close() }()

	e, err := ro.Lookup(ctx, "/grp/melu")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if e.Kind != store.KindDataset {
		t.Fatalf("Expected dataset, got %v", e.Kind)
	}

	err = ro.CreateGroup(ctx, "/new")
	if code, ok := store.CodeOf(err); !ok || code != store.ErrReadOnly {
		t.Errorf("Expected ErrReadOnly from read-only store, got: %v", err)
	}
}

func TestCreateStore_MemorySeededFromSource(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()

	header, err := npy.Header(storetesting.MeluDType(), []uint64{2})
	if err != nil {
		t.Fatalf("Header failed: %v", err)
	}
	data := append(header, storetesting.MeluPayload()...)
	if err := os.WriteFile(filepath.Join(src, "melu.npy"), data, 0644); err != nil {
		t.Fatalf("Failed to write npy file: %v", err)
	}

	cfg := GetDefaultConfig()
	cfg.Store.Type = "memory"
	cfg.Store.Memory = map[string]any{"source": src}

	st, err := CreateStore(ctx, cfg, OpenReadOnly, nil)
	if err != nil {
		t.Fatalf("Failed to create memory store: %v", err)
	}
	defer func() { _ = st.Close() }()

	fs, err := CreateFilesystem(st, cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create filesystem: %v", err)
	}

	got, err := fs.ReadPath(ctx, "/melu.npy", 0, uint64(len(data)))
	if err != nil {
		t.Fatalf("ReadPath failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("Expected the mounted file to reproduce the source file byte for byte")
	}
}

func TestCreateStore_HDF5(t *testing.T) {
	ctx := context.Background()
	path := hdf5testing.WriteFile(t, hdf5testing.Fixture(), hdf5testing.Options{})

	cfg := GetDefaultConfig()
	cfg.Store.Type = "hdf5"
	cfg.Store.HDF5 = map[string]any{"path": path, "chunk_cache_size": 8}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Expected hdf5 config to be valid, got: %v", err)
	}

	if _, err := CreateStore(ctx, cfg, OpenReadWrite, nil); err == nil {
		t.Fatal("Expected hdf5 store to refuse read-write mode")
	}

	st, err := CreateStore(ctx, cfg, OpenReadOnly, nil)
	if err != nil {
		t.Fatalf("Failed to create hdf5 store: %v", err)
	}
	defer func() { _ = st.Close() }()

	fs, err := CreateFilesystem(st, cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create filesystem: %v", err)
	}

	header, err := npy.Header(storetesting.MeluDType(), []uint64{2})
	if err != nil {
		t.Fatalf("Header failed: %v", err)
	}
	want := append(header, storetesting.MeluPayload()...)

	got, err := fs.ReadPath(ctx, "/grp/melu.npy", 0, uint64(len(want)))
	if err != nil {
		t.Fatalf("ReadPath failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Error("Expected the mounted melu.npy to be the NPY rendering of the HDF5 dataset")
	}

	err = st.CreateGroup(ctx, "/new")
	if code, ok := store.CodeOf(err); !ok || code != store.ErrReadOnly {
		t.Errorf("Expected ErrReadOnly from hdf5 store, got: %v", err)
	}
}

func TestCreateStore_HDF5MissingFile(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store.Type = "hdf5"
	cfg.Store.HDF5 = map[string]any{"path": filepath.Join(t.TempDir(), "missing.h5")}

	if _, err := CreateStore(context.Background(), cfg, OpenReadOnly, nil); err == nil {
		t.Fatal("Expected error for missing hdf5 file")
	}
}

func TestCreateStore_UnknownType(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store.Type = "zarr"

	if _, err := CreateStore(context.Background(), cfg, OpenReadOnly, nil); err == nil {
		t.Fatal("Expected error for unknown store type")
	}
}

func TestCreateFilesystem_Owner(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Mount.Presentation = "raw"
	cfg.Mount.Owner = &OwnerConfig{UID: 1234, GID: 5678}

	st := newFixture(t)
	fs, err := CreateFilesystem(st, cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create filesystem: %v", err)
	}

	_, attr, err := fs.StatPath(context.Background(), "/grp/melu")
	if err != nil {
		t.Fatalf("StatPath failed: %v", err)
	}
	if attr.UID != 1234 || attr.GID != 5678 {
		t.Errorf("Expected owner 1234:5678, got %d:%d", attr.UID, attr.GID)
	}
	if attr.Size != 38 {
		t.Errorf("Expected raw size 38, got %d", attr.Size)
	}
}

func TestCreateAdapters(t *testing.T) {
	cfg := GetDefaultConfig()

	if _, err := CreateAdapters(cfg); err == nil {
		t.Fatal("Expected error without a mountpoint")
	}

	cfg.Mount.Mountpoint = t.TempDir()
	adapters, err := CreateAdapters(cfg)
	if err != nil {
		t.Fatalf("Failed to create adapters: %v", err)
	}
	if len(adapters) != 1 || adapters[0].Protocol() != "FUSE" {
		t.Errorf("Expected a single FUSE adapter, got %v", adapters)
	}
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	result := InitializeMetrics(GetDefaultConfig())

	if result.Server != nil {
		t.Error("Expected no metrics server when disabled")
	}
	if result.VFSMetrics != nil || result.S3Metrics != nil {
		t.Error("Expected nil collectors when disabled")
	}
}

func newFixture(t *testing.T) store.WritableStore {
	t.Helper()
	cfg := GetDefaultConfig()
	cfg.Store.Type = "memory"

	st, err := CreateStore(context.Background(), cfg, OpenReadWrite, nil)
	if err != nil {
		t.Fatalf("Failed to create memory store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	storetesting.Fixture(t, st)
	return st
}


func TestCreateFilesystem_Cache(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Mount.Cache.Enabled = true

	st := newFixture(t)
	fs, err := CreateFilesystem(st, cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create filesystem: %v", err)
	}

	for range 2 {
		_, attr, err := fs.StatPath(context.Background(), "/grp/melu.npy")
		if err != nil {
			t.Fatalf("StatPath failed: %v", err)
		}
		if attr.Size != 150 {
			t.Errorf("Expected npy size 150, got %d", attr.Size)
		}
	}

	// The filesystem borrows the store; it must still be open.
	if _, err := st.Lookup(context.Background(), "/grp"); err != nil {
		t.Errorf("Expected the store to stay open, got %v", err)
	}
}
