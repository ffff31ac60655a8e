// Package cache provides the size-bounded LRU cache used for converted
// sprite pixels.
//
// Entries carry a cost (usually their size in bytes). When the total cost
// exceeds the soft limit the least recently used entries are evicted, never
// the entry that was just stored:
//
//	c := cache.New[uint64, []byte](64<<20, func(b []byte) int64 { return int64(len(b)) })
//	c.Set(id, pixels)
//	pixels, ok := c.Get(id)
//
// Cache is safe for concurrent use and must not be copied after creation.
package cache
