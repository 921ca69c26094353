// Package lru provides the two fixed-capacity caches spec.md names: the
// top-level engine's scan-cursor cache (capacity 5000, spec.md §3.1) and
// each engine's per-key write-count cache used by the small-compaction
// heuristic (spec.md §4.4, capacity statistics_max_size).
//
// Both wrap github.com/hashicorp/golang-lru/v2.Cache rather than
// hand-rolling a container/list-backed cache (see DESIGN.md): the
// teacher's go.mod already pulls golang-lru in indirectly, and these are
// small, single-purpose caches rather than a sharded block cache.
package lru

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// CursorEntry is the resume point CursorCache maps an opaque scan cursor
// to: the next start-key plus the engine tag the cursor resumes from (spec.md §4.7 "single-character tag
// of the current engine").
type CursorEntry struct {
	NextKey []byte
	Engine  byte // 'k' | 'h' | 's' | 'l' | 'z'
}

// CursorCache is the top-level engine's scan-cursor cache.
type CursorCache struct {
	cache *lru.Cache[int64, CursorEntry]
}

// NewCursorCache creates a cursor cache with the given capacity (spec.md
// §3.1 default is 5000).
func NewCursorCache(capacity int) *CursorCache {
	if capacity <= 0 {
		capacity = 5000
	}
	c, _ := lru.New[int64, CursorEntry](capacity)
	return &CursorCache{cache: c}
}

// Get resolves a cursor; ok is false if the cursor was never stored or was
// evicted.
func (c *CursorCache) Get(cursor int64) (CursorEntry, bool) {
	return c.cache.Get(cursor)
}

// Put stores the resume point for a cursor.
func (c *CursorCache) Put(cursor int64, entry CursorEntry) {
	c.cache.Add(cursor, entry)
}

// WriteCountCache tracks per-key write counts for the small-compaction
// heuristic. Only the sets engine uses it: each SPOP increments the key's
// counter, and once one of the sets engine's own fixed thresholds is
// crossed a compact_key background task is enqueued and the counter reset.
type WriteCountCache struct {
	cache *lru.Cache[string, uint64]
}

// NewWriteCountCache creates a write-count cache with the given capacity
// (spec.md §6 statistics_max_size).
func NewWriteCountCache(capacity int) *WriteCountCache {
	if capacity <= 0 {
		capacity = 1 << 20
	}
	c, _ := lru.New[string, uint64](capacity)
	return &WriteCountCache{cache: c}
}

// Increment bumps key's write counter and returns the new value.
func (c *WriteCountCache) Increment(key string) uint64 {
	n, _ := c.cache.Get(key)
	n++
	c.cache.Add(key, n)
	return n
}

// Reset zeroes key's write counter, called after a small compaction has
// been scheduled for it.
func (c *WriteCountCache) Reset(key string) {
	c.cache.Remove(key)
}
