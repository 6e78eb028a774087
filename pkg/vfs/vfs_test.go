package vfs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/h5fs/pkg/store"
	"github.com/marmos91/h5fs/pkg/store/memory"
	storetesting "github.com/marmos91/h5fs/pkg/store/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const meluHeaderLen = 112

// countingStore records payload reads so tests can check that ranges only
// touch the bytes they need.
type countingStore struct {
	store.Store
	mu    sync.Mutex
	calls int
	bytes int
}

func (c *countingStore) ReadAt(ctx context.Context, e *store.Entry, p []byte, off uint64) (int, error) {
	c.mu.Lock()
	c.calls++
	c.bytes += len(p)
	c.mu.Unlock()
	return c.Store.ReadAt(ctx, e, p, off)
}

func newFixtureStore(t *testing.T) *memory.MemoryStore {
	t.Helper()
	s := memory.New()
	storetesting.Fixture(t, s)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestFS(t *testing.T, presentation Presentation) (*FS, *countingStore) {
	t.Helper()
	cs := &countingStore{Store: newFixtureStore(t)}
	fs, err := New(cs, Config{Presentation: presentation, UID: 1000, GID: 100, ExplicitOwner: true})
	require.NoError(t, err)
	return fs, cs
}

func mustResolve(t *testing.T, fs *FS, p string) *store.Entry {
	t.Helper()
	e, err := fs.Resolve(context.Background(), p)
	require.NoError(t, err)
	return e
}

func meluVirtualFile(t *testing.T, fs *FS) []byte {
	t.Helper()
	h, err := fs.HeaderBytes(mustResolve(t, fs, "/grp/melu.npy"))
	require.NoError(t, err)
	return append(h, storetesting.MeluPayload()...)
}

func TestNew(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)

	_, err = New(memory.New(), Config{Presentation: "hdf5"})
	assert.Error(t, err)

	fs, err := New(memory.New(), Config{})
	require.NoError(t, err)
	assert.Equal(t, "npy", fs.Presenter().Extension())
	assert.Equal(t, uint32(os.Getuid()), fs.uid)
}

// ============================================================================
// Entry Resolver
// ============================================================================

func TestResolve(t *testing.T) {
	fs, _ := newTestFS(t, PresentationNPY)
	ctx := context.Background()

	t.Run("MangledDataset", func(t *testing.T) {
		e := mustResolve(t, fs, "/grp/melu.npy")
		assert.True(t, e.IsDataset())
		assert.Equal(t, "/grp/melu", e.Path)
	})

	t.Run("Group", func(t *testing.T) {
		e := mustResolve(t, fs, "/grp/inner")
		assert.True(t, e.IsGroup())

		root := mustResolve(t, fs, "/")
		assert.True(t, root.IsGroup())
	})

	t.Run("DatasetWithoutSuffix", func(t *testing.T) {
		_, err := fs.Resolve(ctx, "/grp/melu")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("GroupWithSuffix", func(t *testing.T) {
		_, err := fs.Resolve(ctx, "/grp/inner.npy")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("BareSuffix", func(t *testing.T) {
		_, err := fs.Resolve(ctx, "/grp/.npy")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("MissingPath", func(t *testing.T) {
		_, err := fs.Resolve(ctx, "/missing/path")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotFound)

		code, ok := CodeOf(err)
		require.True(t, ok)
		assert.Equal(t, CodeNotFound, code)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		for _, p := range []string{"/grp", "/grp/melu", "/grp/inner", "/scalar"} {
			native, err := fs.store.Lookup(ctx, p)
			require.NoError(t, err)

			e := mustResolve(t, fs, fs.VirtualPath(native))
			assert.Equal(t, native.Path, e.Path)
		}
	})
}

func TestResolve_RawPresentation(t *testing.T) {
	fs, _ := newTestFS(t, PresentationRaw)

	e := mustResolve(t, fs, "/grp/melu")
	assert.True(t, e.IsDataset())

	_, err := fs.Resolve(context.Background(), "/grp/melu.npy")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_CollisionPrefersDataset(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.CreateGroup(ctx, "/a.npy"))
	require.NoError(t, s.CreateDataset(ctx, "/a",
		store.Scalar(store.LittleEndian, store.TypeInt, 1), []uint64{1}, bytes.NewReader([]byte{7})))

	fs, err := New(s, Config{})
	require.NoError(t, err)

	e := mustResolve(t, fs, "/a.npy")
	assert.True(t, e.IsDataset())
	assert.Equal(t, "/a", e.Path)
}

// ============================================================================
// Metadata Describer
// ============================================================================

func TestDescribe(t *testing.T) {
	fs, cs := newTestFS(t, PresentationNPY)
	melu := mustResolve(t, fs, "/grp/melu.npy")

	h1, err := fs.HeaderBytes(melu)
	require.NoError(t, err)
	h2, err := fs.HeaderBytes(melu)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, meluHeaderLen)

	payload, err := fs.PayloadSize(melu)
	require.NoError(t, err)
	assert.Equal(t, uint64(38), payload)

	total, err := fs.TotalSize(melu)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(h1))+payload, total)

	d, err := fs.Describe(melu)
	require.NoError(t, err)
	assert.Equal(t, "[('f0', '>u8'), ('f1', '>f4'), ('f2', '|S7')]", d.Descr)
	assert.Equal(t, "(2,)", d.Shape)
	assert.Equal(t, uint64(19), d.ItemSize)
	assert.Equal(t, uint64(2), d.Count)
	assert.Equal(t, uint64(meluHeaderLen), d.HeaderSize)
	assert.Equal(t, uint64(150), d.TotalSize)

	assert.Zero(t, cs.calls, "sizes come from metadata only")

	_, err = fs.HeaderBytes(mustResolve(t, fs, "/grp"))
	assert.ErrorIs(t, err, ErrIsADirectory)
}

func TestDescribe_HeaderLengthIsSmallestMultipleOf16(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.CreateDataset(context.Background(), "/v",
		store.Scalar(store.LittleEndian, store.TypeFloat, 4), []uint64{2}, bytes.NewReader(make([]byte, 8))))
	fs, err := New(s, Config{})
	require.NoError(t, err)

	h, err := fs.HeaderBytes(mustResolve(t, fs, "/v.npy"))
	require.NoError(t, err)

	record := "{'descr': '<f4', 'fortran_order': False, 'shape': (2,), }"
	minLen := 10 + len(record)
	want := (minLen + 15) / 16 * 16
	assert.Len(t, h, want)
	assert.Equal(t, 80, want)
}

// ============================================================================
// Stat Generator
// ============================================================================

func TestStat(t *testing.T) {
	fs, _ := newTestFS(t, PresentationNPY)

	attr, err := fs.Stat(mustResolve(t, fs, "/grp"))
	require.NoError(t, err)
	assert.True(t, attr.IsDir())
	assert.Equal(t, DirMode, attr.Mode)
	assert.Zero(t, attr.Size)
	assert.Equal(t, uint32(1), attr.Nlink)
	assert.Equal(t, uint32(1000), attr.UID)
	assert.Equal(t, uint32(100), attr.GID)

	attr, err = fs.Stat(mustResolve(t, fs, "/grp/melu.npy"))
	require.NoError(t, err)
	assert.False(t, attr.IsDir())
	assert.Equal(t, FileMode, attr.Mode)
	assert.Equal(t, uint64(150), attr.Size)
	assert.Equal(t, uint32(1), attr.Nlink)

	_, err = fs.Stat(&store.Entry{Kind: store.KindUnknown, Path: "/odd"})
	assert.ErrorIs(t, err, ErrUnsupportedEntry)
}

func TestStat_HeaderTooLargeIsUnsupported(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	t.Cleanup(func() { _ = s.Close() })

	// Each field adds about 23 bytes of descr, well past the 65535-byte
	// limit of a version 1.0 header.
	fields := make([]store.Field, 4000)
	for i := range fields {
		fields[i] = store.Field{Name: fmt.Sprintf("field_%04d", i), DType: store.Scalar(store.LittleEndian, store.TypeFloat, 8)}
	}
	dt := store.Record(fields...)
	require.NoError(t, s.CreateDataset(ctx, "/huge", dt, []uint64{1}, bytes.NewReader(make([]byte, dt.Size()))))

	fs, err := New(s, Config{Presentation: PresentationNPY})
	require.NoError(t, err)

	e := mustResolve(t, fs, "/huge.npy")

	_, err = fs.Stat(e)
	assert.ErrorIs(t, err, ErrUnsupportedEntry)
	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnsupportedEntry, code)

	_, err = fs.TotalSize(e)
	assert.ErrorIs(t, err, ErrUnsupportedEntry)
	_, err = fs.HeaderBytes(e)
	assert.ErrorIs(t, err, ErrUnsupportedEntry)
	_, err = fs.Describe(e)
	assert.ErrorIs(t, err, ErrUnsupportedEntry)

	raw, err := New(s, Config{Presentation: PresentationRaw})
	require.NoError(t, err)
	_, attr, err := raw.StatPath(ctx, "/huge")
	require.NoError(t, err)
	assert.Equal(t, dt.Size(), attr.Size)
}

func TestStat_RawSizeIsPayload(t *testing.T) {
	fs, _ := newTestFS(t, PresentationRaw)

	_, attr, err := fs.StatPath(context.Background(), "/grp/melu")
	require.NoError(t, err)
	assert.Equal(t, uint64(38), attr.Size)
}

// ============================================================================
// Directory Lister
// ============================================================================

func collect(t *testing.T, fs *FS, group *store.Entry, synthetic []string) []string {
	t.Helper()
	var names []string
	for name, err := range fs.List(context.Background(), group, synthetic) {
		require.NoError(t, err)
		names = append(names, name)
	}
	return names
}

func TestList(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	require.NoError(t, s.CreateDataset(ctx, "/a",
		store.Scalar(store.LittleEndian, store.TypeInt, 4), []uint64{1}, bytes.NewReader(make([]byte, 4))))
	require.NoError(t, s.CreateGroup(ctx, "/b"))

	fs, err := New(s, Config{})
	require.NoError(t, err)
	root := mustResolve(t, fs, "/")

	names := collect(t, fs, root, DefaultSyntheticNames)
	assert.Equal(t, []string{".", ".."}, names[:2])
	assert.ElementsMatch(t, []string{".", "..", "a.npy", "b"}, names)

	// Restartable.
	assert.Equal(t, names, collect(t, fs, root, DefaultSyntheticNames))

	// Every listed child resolves back.
	for _, name := range names[2:] {
		mustResolve(t, fs, store.Join("/", name))
	}

	assert.Equal(t, []string{"x", "a.npy", "b"}, collect(t, fs, root, []string{"x"}))
	assert.Equal(t, []string{"a.npy", "b"}, collect(t, fs, root, nil))
}

func TestList_EarlyStopAndErrors(t *testing.T) {
	fs, _ := newTestFS(t, PresentationNPY)
	ctx := context.Background()

	count := 0
	for range fs.List(ctx, mustResolve(t, fs, "/"), DefaultSyntheticNames) {
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)

	for _, err := range fs.ReadDir(ctx, mustResolve(t, fs, "/scalar.npy")) {
		assert.ErrorIs(t, err, ErrNotADirectory)
	}

	_, err := fs.ListPath(ctx, "/nope")
	assert.ErrorIs(t, err, ErrNotFound)

	seq, err := fs.ListPath(ctx, "/grp")
	require.NoError(t, err)
	var names []string
	for name, err := range seq {
		require.NoError(t, err)
		names = append(names, name)
	}
	assert.Equal(t, []string{".", "..", "melu.npy", "inner"}, names)
}

func TestReadDir_CarriesEntries(t *testing.T) {
	fs, _ := newTestFS(t, PresentationNPY)

	for d, err := range fs.ReadDir(context.Background(), mustResolve(t, fs, "/grp")) {
		require.NoError(t, err)
		assert.Equal(t, fs.VirtualName(d.Entry), d.Name)
	}
}

// ============================================================================
// Open Gate
// ============================================================================

func TestOpen(t *testing.T) {
	fs, _ := newTestFS(t, PresentationNPY)
	ctx := context.Background()

	e, err := fs.Open(ctx, "/grp/melu.npy", os.O_RDONLY)
	require.NoError(t, err)
	assert.Equal(t, "/grp/melu", e.Path)

	_, err = fs.Open(ctx, "/grp", os.O_RDONLY)
	assert.ErrorIs(t, err, ErrIsADirectory)

	for _, flags := range []int{os.O_WRONLY, os.O_RDWR, os.O_RDONLY | os.O_TRUNC, os.O_RDONLY | os.O_APPEND, os.O_RDONLY | os.O_CREATE} {
		_, err = fs.Open(ctx, "/grp/melu.npy", flags)
		assert.ErrorIs(t, err, ErrPermissionDenied, "flags %#x", flags)
	}

	// Write requests are denied before the path is even looked up.
	_, err = fs.Open(ctx, "/missing", os.O_WRONLY)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = fs.Open(ctx, "/missing", os.O_RDONLY)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssertReadable(t *testing.T) {
	assert.ErrorIs(t, AssertReadable(&store.Entry{Kind: store.KindGroup, Path: "/"}), ErrIsADirectory)
	assert.ErrorIs(t, AssertReadable(&store.Entry{Kind: store.KindUnknown, Path: "/x"}), ErrUnsupportedEntry)
	assert.NoError(t, AssertReadable(&store.Entry{Kind: store.KindDataset, Path: "/x", Dataset: &store.Dataset{}}))
	assert.NoError(t, CheckAccess(os.O_RDONLY))
}

// ============================================================================
// Metrics
// ============================================================================

type recordingMetrics struct {
	mu      sync.Mutex
	ops     map[string]int
	header  int
	payload int
}

func (m *recordingMetrics) ObserveOperation(op string, _ time.Duration, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op]++
}

func (m *recordingMetrics) RecordRead(header, payload int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.header += header
	m.payload += payload
}

func TestMetrics(t *testing.T) {
	m := &recordingMetrics{ops: map[string]int{}}
	fs, err := New(newFixtureStore(t), Config{Metrics: m})
	require.NoError(t, err)

	_, err = fs.ReadPath(context.Background(), "/grp/melu.npy", meluHeaderLen-3, 6)
	require.NoError(t, err)

	assert.Equal(t, 3, m.header)
	assert.Equal(t, 3, m.payload)
	assert.Equal(t, 1, m.ops["read"])
	assert.Equal(t, 1, m.ops["resolve"])
}
