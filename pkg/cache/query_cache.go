// Package cache keeps parsed queries so repeated query text skips the parser.
//
// Features:
//   - LRU eviction for bounded memory
//   - TTL expiration
//   - Safe for concurrent use
//   - Hit/miss statistics
//
// Usage:
//
//	c := cache.NewQueryCache[*query.Expr](1000, 5*time.Minute)
//	key := c.Key(text)
//	if expr, ok := c.Get(key); ok {
//		return expr
//	}
//	expr, err := query.Parse(text)
//	c.Put(key, expr)
package cache

import (
	"container/list"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// QueryCache is a thread-safe LRU cache keyed by query text hash.
type QueryCache[V any] struct {
	mu sync.Mutex

	maxSize int
	ttl     time.Duration

	list  *list.List
	items map[uint64]*list.Element

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	now func() time.Time
}

type entry[V any] struct {
	key       uint64
	value     V
	expiresAt time.Time
}

// NewQueryCache creates a cache holding up to maxSize entries for ttl each.
// maxSize <= 0 means 1000; ttl 0 disables expiry.
func NewQueryCache[V any](maxSize int, ttl time.Duration) *QueryCache[V] {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &QueryCache[V]{
		maxSize: maxSize,
		ttl:     ttl,
		list:    list.New(),
		items:   make(map[uint64]*list.Element, maxSize),
		now:     time.Now,
	}
}

// Key hashes query text. Surrounding whitespace does not matter.
func (c *QueryCache[V]) Key(query string) uint64 {
	return xxhash.Sum64String(strings.TrimSpace(query))
}

// Get returns the value under key if present and not expired.
func (c *QueryCache[V]) Get(key uint64) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	e := elem.Value.(*entry[V])
	if c.ttl > 0 && c.now().After(e.expiresAt) {
		c.removeElement(elem)
		c.misses.Add(1)
		return zero, false
	}
	c.list.MoveToFront(elem)
	c.hits.Add(1)
	return e.value, true
}

// Put stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *QueryCache[V]) Put(key uint64, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[V])
		e.value = value
		e.expiresAt = c.expiry()
		c.list.MoveToFront(elem)
		return
	}
	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}
	c.items[key] = c.list.PushFront(&entry[V]{key: key, value: value, expiresAt: c.expiry()})
}

func (c *QueryCache[V]) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(c.ttl)
}

// Len is the number of entries.
func (c *QueryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Stats holds cache statistics.
type Stats struct {
	Size      int
	MaxSize   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	HitRate   float64 // percent
}

// Stats returns counters since creation.
func (c *QueryCache[V]) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{
		Size:      c.Len(),
		MaxSize:   c.maxSize,
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total) * 100
	}
	return s
}

// Caller holds mu.
func (c *QueryCache[V]) evictOldest() {
	if elem := c.list.Back(); elem != nil {
		c.removeElement(elem)
		c.evictions.Add(1)
	}
}

// Caller holds mu.
func (c *QueryCache[V]) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*entry[V]).key)
}
