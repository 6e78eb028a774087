// Package cache provides a caching layer for Data Store lookups.
//
// File browsers and shells resolve the same paths and list the same groups
// over and over. Against the badger store each of those is a read
// transaction; against a remote content store nothing is fetched, but the
// metadata round trips still add up. A mounted store never changes, so
// results can be served from memory for as long as the TTL allows.
package cache

import (
	"container/list"
	"context"
	"iter"
	"sync"
	"time"

	"github.com/marmos91/h5fs/internal/logger"
	"github.com/marmos91/h5fs/pkg/store"
)

// CachedStore wraps a Store with caching for Lookup and Children.
//
// Cache Strategy:
//   - LRU eviction when cache is full
//   - TTL-based expiration
//   - Only successful results are cached; errors always reach the store
//
// ReadAt and Close pass through unchanged.
//
// Thread Safety:
// All operations are protected by a mutex for safe concurrent use.
type CachedStore struct {
	store store.Store

	ttl        time.Duration
	maxEntries int

	cache   map[string]*cacheEntry
	lruList *list.List
	mu      sync.Mutex

	hits   uint64
	misses uint64
}

// cacheEntry is one cached Lookup result or Children listing.
type cacheEntry struct {
	key      string
	entry    *store.Entry
	children []*store.Entry

	timestamp time.Time
	lruNode   *list.Element
}

// CacheConfig holds configuration for the lookup cache.
type CacheConfig struct {
	// Enabled controls whether caching is active
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// TTL is how long cached entries remain valid
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`

	// MaxEntries limits the cache size (LRU eviction)
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries"`
}

// DefaultCacheConfig returns the configuration used for mounts.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:    true,
		TTL:        time.Minute,
		MaxEntries: 10000,
	}
}

// New wraps st with caching. Closing the CachedStore closes st.
func New(st store.Store, config CacheConfig) *CachedStore {
	defaults := DefaultCacheConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = defaults.MaxEntries
	}

	logger.Debug("Lookup cache enabled: ttl=%v max_entries=%d", config.TTL, config.MaxEntries)

	return &CachedStore{
		store:      st,
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
		cache:      make(map[string]*cacheEntry),
		lruList:    list.New(),
	}
}

func lookupKey(nativePath string) string { return "l:" + nativePath }
func childrenKey(group string) string    { return "c:" + group }

// Lookup resolves a native path, from the cache when possible.
func (c *CachedStore) Lookup(ctx context.Context, nativePath string) (*store.Entry, error) {
	key := lookupKey(store.CleanPath(nativePath))
	if cached := c.get(key); cached != nil {
		return copyEntry(cached.entry), nil
	}

	e, err := c.store.Lookup(ctx, nativePath)
	if err != nil {
		return nil, err
	}
	c.put(&cacheEntry{key: key, entry: copyEntry(e)})
	return e, nil
}

// Children lists a group, from the cache when possible.
//
// On a miss the whole listing is read before the first child is yielded,
// so it can be cached; a listing that fails part way is not cached.
func (c *CachedStore) Children(ctx context.Context, group *store.Entry) iter.Seq2[*store.Entry, error] {
	return func(yield func(*store.Entry, error) bool) {
		key := childrenKey(store.CleanPath(group.Path))

		cached := c.get(key)
		if cached == nil {
			var children []*store.Entry
			for child, err := range c.store.Children(ctx, group) {
				if err != nil {
					// Yield what was read so far, then the error.
					for _, ch := range children {
						if !yield(ch, nil) {
							return
						}
					}
					yield(nil, err)
					return
				}
				children = append(children, child)
			}

			cached = &cacheEntry{key: key, children: children}
			c.put(cached)
		}

		for _, child := range cached.children {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(copyEntry(child), nil) {
				return
			}
		}
	}
}

// ReadAt passes through to the wrapped store.
func (c *CachedStore) ReadAt(ctx context.Context, dataset *store.Entry, p []byte, off uint64) (int, error) {
	return c.store.ReadAt(ctx, dataset, p, off)
}

// Close drops the cache and closes the wrapped store.
func (c *CachedStore) Close() error {
	c.ClearCache()
	return c.store.Close()
}

// get retrieves a cached entry if present and not expired, updating the LRU
// order and the hit counters.
func (c *CachedStore) get(key string) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.cache[key]
	if !exists || time.Since(entry.timestamp) > c.ttl {
		c.misses++
		return nil
	}

	c.hits++
	c.lruList.MoveToFront(entry.lruNode)
	return entry
}

// put stores an entry, replacing any previous one under the same key and
// evicting the least recently used entry when full.
func (c *CachedStore) put(entry *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.timestamp = time.Now()

	if existing, exists := c.cache[entry.key]; exists {
		c.lruList.Remove(existing.lruNode)
		delete(c.cache, entry.key)
	}

	for len(c.cache) >= c.maxEntries {
		c.evictOldest()
	}

	entry.lruNode = c.lruList.PushFront(entry)
	c.cache[entry.key] = entry
}

// evictOldest removes the least recently used entry. Caller holds c.mu.
func (c *CachedStore) evictOldest() {
	oldest := c.lruList.Back()
	if oldest == nil {
		return
	}
	c.lruList.Remove(oldest)

	key := oldest.Value.(*cacheEntry).key
	delete(c.cache, key)

	logger.Debug("Evicted lookup cache entry: %s", key)
}

// GetCacheStats returns cache hit/miss statistics.
func (c *CachedStore) GetCacheStats() (hits, misses uint64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.cache)
}

// ClearCache removes all cached entries.
func (c *CachedStore) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[string]*cacheEntry)
	c.lruList = list.New()
}

// copyEntry hands out a fresh Entry so callers cannot alter cached state
// through the pointer.
func copyEntry(e *store.Entry) *store.Entry {
	if e == nil {
		return nil
	}
	dup := *e
	if e.Dataset != nil {
		ds := *e.Dataset
		ds.Shape = append([]uint64(nil), e.Dataset.Shape...)
		ds.DType = copyDType(e.Dataset.DType)
		dup.Dataset = &ds
	}
	return &dup
}

// copyDType copies the field list of a record type, recursing into nested
// records and copying each field's subarray shape.
func copyDType(dt store.DType) store.DType {
	if dt.Fields == nil {
		return dt
	}
	fields := make([]store.Field, len(dt.Fields))
	for i, f := range dt.Fields {
		f.DType = copyDType(f.DType)
		if f.Shape != nil {
			f.Shape = append([]uint64(nil), f.Shape...)
		}
		fields[i] = f
	}
	dt.Fields = fields
	return dt
}

var _ store.Store = (*CachedStore)(nil)
