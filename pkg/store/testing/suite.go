package testing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"sort"
	"testing"

	"github.com/marmos91/h5fs/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite is a conformance suite for Store implementations.
// It tests the interface contract, not implementation details, so the same
// suite runs against the memory and badger stores and, through OpenFixture,
// against read-only stores such as an HDF5 file.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &storetesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) store.WritableStore {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each subtest. The suite
	// closes it. Leave nil for read-only stores; the Create tests are then
	// skipped.
	NewStore func(t *testing.T) store.WritableStore

	// OpenFixture opens a store that already holds the Fixture tree. When
	// nil, the suite populates a NewStore store with Fixture instead.
	OpenFixture func(t *testing.T) store.Store

	// OrderedChildren asserts that Children preserves insertion order.
	// Leave false for stores whose order is by key.
	OrderedChildren bool
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Lookup", suite.RunLookupTests)
	t.Run("Children", suite.RunChildrenTests)
	t.Run("ReadAt", suite.RunReadAtTests)
	if suite.NewStore != nil {
		t.Run("Create", suite.RunCreateTests)
	}
}

func testContext() context.Context {
	return context.Background()
}

func (suite *StoreTestSuite) open(t *testing.T) store.WritableStore {
	t.Helper()
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fixture returns a store holding the Fixture tree.
func (suite *StoreTestSuite) fixture(t *testing.T) store.Store {
	t.Helper()
	if suite.OpenFixture != nil {
		s := suite.OpenFixture(t)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	s := suite.open(t)
	Fixture(t, s)
	return s
}

// bare returns a store for tests that only need the root group.
func (suite *StoreTestSuite) bare(t *testing.T) store.Store {
	t.Helper()
	if suite.NewStore == nil {
		return suite.fixture(t)
	}
	return suite.open(t)
}

// Fixture builds a small tree:
//
//	/
//	├── grp/
//	│   ├── melu   structured [('f0','>u8'),('f1','>f4'),('f2','|S7')], shape (2,)
//	│   └── inner/
//	└── scalar     <f8, shape ()
func Fixture(t *testing.T, s store.WritableStore) {
	t.Helper()
	ctx := testContext()

	require.NoError(t, s.CreateGroup(ctx, "/grp"))
	require.NoError(t, s.CreateDataset(ctx, "/grp/melu", MeluDType(), []uint64{2}, bytes.NewReader(MeluPayload())))
	require.NoError(t, s.CreateGroup(ctx, "/grp/inner"))
	require.NoError(t, s.CreateDataset(ctx, "/scalar",
		store.Scalar(store.LittleEndian, store.TypeFloat, 8), nil,
		bytes.NewReader([]byte{0, 0, 0, 0, 0, 0, 0xf8, 0x3f})))
}

// MeluDType is a record of an unsigned 64-bit, a float32 and a 7-byte string,
// all big-endian where applicable.
func MeluDType() store.DType {
	return store.Record(
		store.Field{Name: "f0", DType: store.Scalar(store.BigEndian, store.TypeUint, 8)},
		store.Field{Name: "f1", DType: store.Scalar(store.BigEndian, store.TypeFloat, 4)},
		store.Field{Name: "f2", DType: store.Scalar(store.NotApplicable, store.TypeBytes, 7)},
	)
}

// MeluPayload is two MeluDType records: (2**64-1, 4.0, "Hello") and (0, 1.5, "World!!").
func MeluPayload() []byte {
	var b []byte
	b = append(b, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
	b = append(b, 0x40, 0x80, 0x00, 0x00)
	b = append(b, 'H', 'e', 'l', 'l', 'o', 0, 0)
	b = append(b, 0, 0, 0, 0, 0, 0, 0, 0)
	b = append(b, 0x3f, 0xc0, 0x00, 0x00)
	b = append(b, 'W', 'o', 'r', 'l', 'd', '!', '!')
	return b
}

func (suite *StoreTestSuite) RunLookupTests(t *testing.T) {
	t.Run("Root", func(t *testing.T) {
		s := suite.bare(t)
		e, err := s.Lookup(testContext(), "/")
		require.NoError(t, err)
		assert.Equal(t, store.KindGroup, e.Kind)
		assert.Equal(t, "/", e.Path)
	})

	t.Run("Dataset", func(t *testing.T) {
		s := suite.fixture(t)

		e, err := s.Lookup(testContext(), "/grp/melu")
		require.NoError(t, err)
		require.True(t, e.IsDataset())
		assert.Equal(t, "melu", e.Name())
		assert.Equal(t, []uint64{2}, e.Dataset.Shape)
		assert.Equal(t, uint64(19), e.Dataset.DType.Size())
		assert.Equal(t, uint64(38), e.Dataset.PayloadSize())
		assert.Equal(t, MeluDType(), e.Dataset.DType)
	})

	t.Run("UncleanPath", func(t *testing.T) {
		s := suite.fixture(t)

		e, err := s.Lookup(testContext(), "grp//inner/")
		require.NoError(t, err)
		assert.True(t, e.IsGroup())
		assert.Equal(t, "/grp/inner", e.Path)
	})

	t.Run("Missing", func(t *testing.T) {
		s := suite.fixture(t)

		_, err := s.Lookup(testContext(), "/missing/path")
		require.Error(t, err)
		assert.True(t, store.IsNotFound(err))
	})

	t.Run("CancelledContext", func(t *testing.T) {
		s := suite.bare(t)
		ctx, cancel := context.WithCancel(testContext())
		cancel()

		_, err := s.Lookup(ctx, "/")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func (suite *StoreTestSuite) RunChildrenTests(t *testing.T) {
	t.Run("RootAndNested", func(t *testing.T) {
		s := suite.fixture(t)

		root, err := s.Lookup(testContext(), "/")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"grp", "scalar"}, collectNames(t, s, root))

		grp, err := s.Lookup(testContext(), "/grp")
		require.NoError(t, err)
		names := collectNames(t, s, grp)
		if suite.OrderedChildren {
			assert.Equal(t, []string{"melu", "inner"}, names)
		} else {
			assert.ElementsMatch(t, []string{"melu", "inner"}, names)
		}
	})

	t.Run("Restartable", func(t *testing.T) {
		s := suite.fixture(t)

		grp, err := s.Lookup(testContext(), "/grp")
		require.NoError(t, err)

		seq := s.Children(testContext(), grp)
		first := drain(t, seq)
		second := drain(t, seq)
		assert.Equal(t, first, second)
	})

	t.Run("EarlyStop", func(t *testing.T) {
		s := suite.fixture(t)

		root, err := s.Lookup(testContext(), "/")
		require.NoError(t, err)

		count := 0
		for _, err := range s.Children(testContext(), root) {
			require.NoError(t, err)
			count++
			break
		}
		assert.Equal(t, 1, count)
	})

	t.Run("ChildEntriesCarryKinds", func(t *testing.T) {
		s := suite.fixture(t)

		grp, err := s.Lookup(testContext(), "/grp")
		require.NoError(t, err)

		kinds := map[string]store.EntryKind{}
		for e, err := range s.Children(testContext(), grp) {
			require.NoError(t, err)
			kinds[e.Name()] = e.Kind
			if e.Kind == store.KindDataset {
				require.NotNil(t, e.Dataset)
				assert.Equal(t, "/grp/melu", e.Path)
			}
		}
		assert.Equal(t, store.KindDataset, kinds["melu"])
		assert.Equal(t, store.KindGroup, kinds["inner"])
	})

	t.Run("EmptyGroup", func(t *testing.T) {
		s := suite.fixture(t)

		inner, err := s.Lookup(testContext(), "/grp/inner")
		require.NoError(t, err)
		assert.Empty(t, collectNames(t, s, inner))
	})
}

func (suite *StoreTestSuite) RunReadAtTests(t *testing.T) {
	t.Run("FullPayload", func(t *testing.T) {
		s := suite.fixture(t)

		e, err := s.Lookup(testContext(), "/grp/melu")
		require.NoError(t, err)

		buf := make([]byte, 38)
		n, err := s.ReadAt(testContext(), e, buf, 0)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
		}
		assert.Equal(t, 38, n)
		assert.Equal(t, MeluPayload(), buf)
	})

	t.Run("Slice", func(t *testing.T) {
		s := suite.fixture(t)

		e, err := s.Lookup(testContext(), "/grp/melu")
		require.NoError(t, err)

		buf := make([]byte, 12)
		n, err := s.ReadAt(testContext(), e, buf, 7)
		require.NoError(t, err)
		assert.Equal(t, 12, n)
		assert.Equal(t, []byte("\xff@\x80\x00\x00Hello\x00\x00"), buf)
	})

	t.Run("ShortReadAtEnd", func(t *testing.T) {
		s := suite.fixture(t)

		e, err := s.Lookup(testContext(), "/grp/melu")
		require.NoError(t, err)

		buf := make([]byte, 10)
		n, err := s.ReadAt(testContext(), e, buf, 33)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, 5, n)
		assert.Equal(t, []byte("rld!!"), buf[:n])
	})

	t.Run("PastEnd", func(t *testing.T) {
		s := suite.fixture(t)

		e, err := s.Lookup(testContext(), "/grp/melu")
		require.NoError(t, err)

		n, err := s.ReadAt(testContext(), e, make([]byte, 4), 38)
		assert.ErrorIs(t, err, io.EOF)
		assert.Zero(t, n)
	})

	t.Run("ScalarDataset", func(t *testing.T) {
		s := suite.fixture(t)

		e, err := s.Lookup(testContext(), "/scalar")
		require.NoError(t, err)
		assert.Empty(t, e.Dataset.Shape)
		assert.Equal(t, uint64(8), e.Dataset.PayloadSize())

		buf := make([]byte, 8)
		n, err := s.ReadAt(testContext(), e, buf, 0)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
		}
		assert.Equal(t, 8, n)
		assert.Equal(t, byte(0x3f), buf[7])
	})
}

func (suite *StoreTestSuite) RunCreateTests(t *testing.T) {
	t.Run("Duplicate", func(t *testing.T) {
		s := suite.open(t)
		Fixture(t, s)

		err := s.CreateGroup(testContext(), "/grp")
		code, ok := store.CodeOf(err)
		require.True(t, ok, "expected StoreError, got %v", err)
		assert.Equal(t, store.ErrAlreadyExists, code)
	})

	t.Run("MissingParent", func(t *testing.T) {
		s := suite.open(t)

		err := s.CreateGroup(testContext(), "/a/b")
		assert.True(t, store.IsNotFound(err), "got %v", err)
	})

	t.Run("ParentIsDataset", func(t *testing.T) {
		s := suite.open(t)
		Fixture(t, s)

		err := s.CreateGroup(testContext(), "/scalar/child")
		code, ok := store.CodeOf(err)
		require.True(t, ok, "expected StoreError, got %v", err)
		assert.Equal(t, store.ErrNotGroup, code)
	})

	t.Run("PayloadSizeMismatch", func(t *testing.T) {
		s := suite.open(t)

		err := s.CreateDataset(testContext(), "/bad",
			store.Scalar(store.LittleEndian, store.TypeInt, 4), []uint64{3},
			bytes.NewReader(make([]byte, 11)))
		code, ok := store.CodeOf(err)
		require.True(t, ok, "expected StoreError, got %v", err)
		assert.Equal(t, store.ErrInvalidArgument, code)

		_, err = s.Lookup(testContext(), "/bad")
		assert.True(t, store.IsNotFound(err))
	})

	t.Run("InvalidDType", func(t *testing.T) {
		s := suite.open(t)

		err := s.CreateDataset(testContext(), "/bad",
			store.Scalar('?', store.TypeInt, 4), []uint64{1},
			bytes.NewReader(make([]byte, 4)))
		code, ok := store.CodeOf(err)
		require.True(t, ok, "expected StoreError, got %v", err)
		assert.Equal(t, store.ErrInvalidArgument, code)
	})

	t.Run("ZeroSizedDataset", func(t *testing.T) {
		s := suite.open(t)

		require.NoError(t, s.CreateDataset(testContext(), "/empty",
			store.Scalar(store.LittleEndian, store.TypeInt, 2), []uint64{0, 5},
			bytes.NewReader(nil)))

		e, err := s.Lookup(testContext(), "/empty")
		require.NoError(t, err)
		assert.Zero(t, e.Dataset.PayloadSize())

		n, err := s.ReadAt(testContext(), e, make([]byte, 4), 0)
		assert.ErrorIs(t, err, io.EOF)
		assert.Zero(t, n)
	})
}

func collectNames(t *testing.T, s store.Store, group *store.Entry) []string {
	t.Helper()
	var names []string
	for e, err := range s.Children(testContext(), group) {
		require.NoError(t, err)
		names = append(names, e.Name())
	}
	return names
}

func drain(t *testing.T, seq iter.Seq2[*store.Entry, error]) []string {
	t.Helper()
	var names []string
	for e, err := range seq {
		if errors.Is(err, context.Canceled) {
			break
		}
		require.NoError(t, err)
		names = append(names, e.Path)
	}
	sort.Strings(names)
	return names
}
