package embedding

import (
	"container/list"
	"sync"
)

// Cache is an LRU cache of embeddings keyed by the exact input text.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	lru      *list.List
}

type cacheEntry struct {
	key   string
	value []float32
}

// NewCache creates a cache holding at most capacity embeddings. A capacity
// of zero or less disables caching: Get always misses and Set is a no-op.
func NewCache(capacity int) *Cache {
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached embedding for key and marks it recently used.
// Callers must not mutate the returned slice.
func (c *Cache) Get(key string) ([]float32, bool) {
	if c.capacity <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.lru.MoveToFront(elem)
	return elem.Value.(*cacheEntry).value, true
}

// Set stores the embedding for key, evicting the least recently used entry
// when over capacity.
func (c *Cache) Set(key string, value []float32) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	elem := c.lru.PushFront(&cacheEntry{key: key, value: value})
	c.entries[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of cached embeddings.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
