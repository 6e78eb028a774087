package fs

import (
	"container/list"
	"os"
	"sync"

	"github.com/marmos91/h5fs/pkg/content"
)

// FDCache provides an LRU cache of read-only file descriptors.
//
// Mounted datasets are read with many small pread calls; reopening the blob
// for every request would dominate the cost. Descriptors are reference
// counted so that eviction never closes a file another goroutine is reading:
// an evicted entry is closed when its last reader releases it.
type FDCache struct {
	maxSize int
	mu      sync.Mutex
	cache   map[content.ContentID]*list.Element
	lru     *list.List
}

type cacheEntry struct {
	id      content.ContentID
	file    *os.File
	refs    int
	evicted bool
}

func NewFDCache(maxSize int) *FDCache {
	if maxSize < 1 {
		maxSize = 256
	}
	return &FDCache{
		maxSize: maxSize,
		cache:   make(map[content.ContentID]*list.Element),
		lru:     list.New(),
	}
}

// Acquire returns an open descriptor for id, opening path on a miss. The
// returned release function must be called exactly once when the caller is
// done with the file.
func (c *FDCache) Acquire(id content.ContentID, path string) (*os.File, func(), error) {
	c.mu.Lock()
	if elem, ok := c.cache[id]; ok {
		c.lru.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.refs++
		c.mu.Unlock()
		return entry.file, c.releaser(entry), nil
	}
	c.mu.Unlock()

	// Open outside the lock; a racing opener may win, in which case our
	// descriptor is closed and theirs is shared.
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[id]; ok {
		_ = file.Close()
		c.lru.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.refs++
		return entry.file, c.releaser(entry), nil
	}

	for c.lru.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{id: id, file: file, refs: 1}
	c.cache[id] = c.lru.PushFront(entry)
	return file, c.releaser(entry), nil
}

func (c *FDCache) releaser(entry *cacheEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()

			entry.refs--
			if entry.evicted && entry.refs == 0 {
				_ = entry.file.Close()
			}
		})
	}
}

// Remove drops id from the cache, e.g. after its blob was replaced.
func (c *FDCache) Remove(id content.ContentID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[id]; ok {
		c.detach(elem)
	}
}

// Close drops every cached descriptor. Descriptors still in use are closed
// by their last release.
func (c *FDCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.lru.Len() > 0 {
		c.detach(c.lru.Back())
	}
	return nil
}

func (c *FDCache) evictLRU() {
	if elem := c.lru.Back(); elem != nil {
		c.detach(elem)
	}
}

// detach unlinks an element and closes its file if unused. Caller holds mu.
func (c *FDCache) detach(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.lru.Remove(elem)
	delete(c.cache, entry.id)

	entry.evicted = true
	if entry.refs == 0 {
		_ = entry.file.Close()
	}
}

func (c *FDCache) Stats() (size int, maxSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len(), c.maxSize
}
