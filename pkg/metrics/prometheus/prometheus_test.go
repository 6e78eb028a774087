package prometheus

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/h5fs/pkg/vfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestVFSMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newVFSMetrics(reg)

	m.ObserveOperation("resolve", time.Millisecond, nil)
	m.ObserveOperation("resolve", time.Millisecond, &vfs.Error{Code: vfs.CodeNotFound})
	m.ObserveOperation("read", time.Millisecond, errors.New("boom"))
	m.RecordRead(112, 38)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("resolve", "success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("resolve", "error", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("read", "error", "io")))
	assert.Equal(t, 112.0, testutil.ToFloat64(m.bytesRead.WithLabelValues("header")))
	assert.Equal(t, 38.0, testutil.ToFloat64(m.bytesRead.WithLabelValues("payload")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.operationDuration))
}

func TestS3Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newS3Metrics(reg)

	m.ObserveOperation("ReadAt", 20*time.Millisecond, nil)
	m.ObserveOperation("PutObject", time.Second, errors.New("denied"))
	m.RecordBytes("read", 4096)
	m.RecordBytes("read", 100)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("ReadAt", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("PutObject", "error")))
	assert.Equal(t, 4196.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues("read")))
}

func TestConstructors_DisabledRegistry(t *testing.T) {
	// InitRegistry is never called in this package's tests.
	assert.Nil(t, NewVFSMetrics())
	assert.Nil(t, NewS3Metrics())
	assert.NoError(t, RegisterCacheStats(fakeCacheStats{}))
}

type fakeCacheStats struct{ hits, misses uint64 }

func (f fakeCacheStats) GetCacheStats() (uint64, uint64, int) { return f.hits, f.misses, 2 }

func TestCacheCollector(t *testing.T) {
	c := newCacheCollector(fakeCacheStats{hits: 5, misses: 3})

	expected := `
# HELP h5fs_lookup_cache_entries Entries currently held by the cache.
# TYPE h5fs_lookup_cache_entries gauge
h5fs_lookup_cache_entries 2
# HELP h5fs_lookup_cache_hits_total Lookups and listings served from the cache.
# TYPE h5fs_lookup_cache_hits_total counter
h5fs_lookup_cache_hits_total 5
# HELP h5fs_lookup_cache_misses_total Lookups and listings that went to the data store.
# TYPE h5fs_lookup_cache_misses_total counter
h5fs_lookup_cache_misses_total 3
`
	assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected)))
}
