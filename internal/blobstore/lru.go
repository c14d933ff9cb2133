package blobstore

import (
	"container/list"
	"sync"
)

// lruCache is a thread-safe LRU keyed by string, backed by a doubly-linked
// list and a map for O(1) lookup. Front of the list = most recently used.
type lruCache struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
}

// lruEntry wraps a cached value with its key for eviction.
type lruEntry struct {
	key   string
	value []byte
}

// newLRUCache creates an LRU with the given max entry count.
// If maxSize <= 0, defaults to 512.
func newLRUCache(maxSize int) *lruCache {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &lruCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// get retrieves a value and promotes it to MRU.
func (c *lruCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(lruEntry).value, true
}

// put inserts or updates a key, evicting the LRU entry when over capacity.
func (c *lruCache) put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value = lruEntry{key, value}
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(lruEntry{key, value})
	c.items[key] = elem

	if c.order.Len() > c.maxSize {
		lru := c.order.Back()
		c.order.Remove(lru)
		delete(c.items, lru.Value.(lruEntry).key)
	}
}

// remove drops a key if present.
func (c *lruCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.Remove(elem)
		delete(c.items, key)
	}
}

// clear empties the cache.
func (c *lruCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order = list.New()
}

// len returns the current number of entries.
func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
