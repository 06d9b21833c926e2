package graph

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheEntry holds a materialized query result with its insertion time.
type CacheEntry struct {
	Result     ResultSet
	InsertedAt time.Time
}

// QueryCache is a TTL-bounded, size-bounded cache of query results keyed by
// the canonical query string. Each entry records a dependency fingerprint;
// a write whose (subject, predicate) matches any recorded pair evicts the
// entry, so invalidation is selective rather than a global flush.
type QueryCache struct {
	entries *expirable.LRU[string, CacheEntry]

	mu       sync.Mutex
	deps     map[string][]FingerprintPair
	capacity int
}

// NewQueryCache creates a cache with the given maximum entries and TTL.
func NewQueryCache(size int, ttl time.Duration) *QueryCache {
	if size <= 0 {
		size = 1024
	}
	return &QueryCache{
		entries:  expirable.NewLRU[string, CacheEntry](size, nil, ttl),
		deps:     make(map[string][]FingerprintPair),
		capacity: size,
	}
}

// Get returns the cached result for the canonical key, if fresh.
func (c *QueryCache) Get(key string) (ResultSet, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		return ResultSet{}, false
	}
	return entry.Result, true
}

// Put stores a result together with its dependency fingerprint.
func (c *QueryCache) Put(key string, result ResultSet, fingerprint []FingerprintPair) {
	c.mu.Lock()
	c.deps[key] = fingerprint
	if len(c.deps) > 2*c.capacity {
		c.sweepLocked()
	}
	c.mu.Unlock()
	c.entries.Add(key, CacheEntry{Result: result, InsertedAt: time.Now()})
}

// InvalidateWrite evicts every entry whose fingerprint matches the written
// (subject, predicate). Called inside the store's write critical section so
// eviction completes before the write is acknowledged.
func (c *QueryCache) InvalidateWrite(subject, predicate string) int {
	c.mu.Lock()
	var stale []string
	for key, pairs := range c.deps {
		for _, pair := range pairs {
			if pair.Matches(subject, predicate) {
				stale = append(stale, key)
				break
			}
		}
	}
	for _, key := range stale {
		delete(c.deps, key)
	}
	c.mu.Unlock()

	for _, key := range stale {
		c.entries.Remove(key)
	}
	return len(stale)
}

// Purge drops every entry. Used by rollback, which changes arbitrary triples.
func (c *QueryCache) Purge() {
	c.mu.Lock()
	c.deps = make(map[string][]FingerprintPair)
	c.mu.Unlock()
	c.entries.Purge()
}

// Len returns the number of live entries.
func (c *QueryCache) Len() int {
	return c.entries.Len()
}

// sweepLocked drops fingerprints for keys the LRU has already evicted.
func (c *QueryCache) sweepLocked() {
	for key := range c.deps {
		if !c.entries.Contains(key) {
			delete(c.deps, key)
		}
	}
}
