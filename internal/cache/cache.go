package cache

import "sync"

// Cache is a thread-safe LRU cache bounded by the total cost of its entries.
// When the total exceeds softLimit, least recently used entries are evicted.
//
// Cache must not be copied after creation (has mutex).
type Cache[K comparable, V any] struct {
	mu        sync.Mutex
	entries   map[K]*cacheEntry[K, V]
	order     lruList[K]
	cost      func(V) int64
	softLimit int64
	size      int64

	hits      uint64
	misses    uint64
	evictions uint64
}

// cacheEntry holds a cached value with its cost and recency node.
type cacheEntry[K comparable, V any] struct {
	value V
	cost  int64
	node  *lruNode[K]
}

// New creates a cache with the given soft limit on total cost.
// A softLimit of 0 means unlimited. A nil cost function counts every entry as 1.
func New[K comparable, V any](softLimit int64, cost func(V) int64) *Cache[K, V] {
	if cost == nil {
		cost = func(V) int64 { return 1 }
	}
	return &Cache[K, V]{
		entries:   make(map[K]*cacheEntry[K, V]),
		cost:      cost,
		softLimit: softLimit,
	}
}

// Get retrieves a value from the cache and marks it recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.order.MoveToFront(e.node)
	return e.value, true
}

// Set stores a value, replacing any previous value for key.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.set(key, value)
}

// GetOrCreate returns the cached value or stores the result of create.
// create runs under the lock, so concurrent callers never create twice.
func (c *Cache[K, V]) GetOrCreate(key K, create func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.hits++
		c.order.MoveToFront(e.node)
		return e.value
	}
	c.misses++
	value := create()
	c.set(key, value)
	return value
}

// Delete removes an entry. It returns true if the entry was present.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.remove(key, e)
	return true
}

// Clear removes all entries. Statistics are kept.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*cacheEntry[K, V])
	c.order = lruList[K]{}
	c.size = 0
}

// Len returns the number of entries in the cache.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Size returns the total cost of the cached entries.
func (c *Cache[K, V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.size
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Len:       len(c.entries),
		Size:      c.size,
		Capacity:  c.softLimit,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// set stores value and evicts down to the soft limit. Caller must hold c.mu.
func (c *Cache[K, V]) set(key K, value V) {
	if old, ok := c.entries[key]; ok {
		c.remove(key, old)
	}
	e := &cacheEntry[K, V]{value: value, cost: c.cost(value), node: c.order.PushFront(key)}
	c.entries[key] = e
	c.size += e.cost
	c.evictOldest(key)
}

// remove drops an entry. Caller must hold c.mu.
func (c *Cache[K, V]) remove(key K, e *cacheEntry[K, V]) {
	c.order.Remove(e.node)
	delete(c.entries, key)
	c.size -= e.cost
}

// evictOldest removes least recently used entries until the total cost is
// within the soft limit. The entry for keep is never evicted.
// Caller must hold c.mu.
func (c *Cache[K, V]) evictOldest(keep K) {
	if c.softLimit <= 0 {
		return
	}
	for c.size > c.softLimit {
		node := c.order.Oldest()
		if node == nil || node.key == keep {
			return
		}
		c.remove(node.key, c.entries[node.key])
		c.evictions++
	}
}

// Stats contains cache statistics.
type Stats struct {
	// Len is the current number of entries.
	Len int
	// Size is the total cost of the entries.
	Size int64
	// Capacity is the soft limit on total cost; 0 means unlimited.
	Capacity int64
	// Hits is the number of successful lookups.
	Hits uint64
	// Misses is the number of failed lookups.
	Misses uint64
	// HitRate is Hits / (Hits + Misses), 0.0 to 1.0.
	HitRate float64
	// Evictions is the number of entries evicted to respect the soft limit.
	Evictions uint64
}
