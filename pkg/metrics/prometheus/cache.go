package prometheus

import (
	"github.com/marmos91/h5fs/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// CacheStatsSource is implemented by the lookup cache (pkg/store/cache).
type CacheStatsSource interface {
	GetCacheStats() (hits, misses uint64, size int)
}

// cacheCollector reads the cache counters at scrape time, so the cache
// itself carries no Prometheus types.
type cacheCollector struct {
	src CacheStatsSource

	hits    *prometheus.Desc
	misses  *prometheus.Desc
	entries *prometheus.Desc
}

func newCacheCollector(src CacheStatsSource) *cacheCollector {
	return &cacheCollector{
		src: src,
		hits: prometheus.NewDesc("h5fs_lookup_cache_hits_total",
			"Lookups and listings served from the cache.", nil, nil),
		misses: prometheus.NewDesc("h5fs_lookup_cache_misses_total",
			"Lookups and listings that went to the data store.", nil, nil),
		entries: prometheus.NewDesc("h5fs_lookup_cache_entries",
			"Entries currently held by the cache.", nil, nil),
	}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.entries
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	hits, misses, size := c.src.GetCacheStats()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(misses))
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(size))
}

// RegisterCacheStats exports src on the global registry. It does nothing
// when metrics are disabled.
func RegisterCacheStats(src CacheStatsSource) error {
	if !metrics.IsEnabled() {
		return nil
	}
	return metrics.Register(newCacheCollector(src))
}
