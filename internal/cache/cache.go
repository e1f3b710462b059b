// Package cache provides a small in-memory TTL cache for search result rows,
// keyed by normalized query. Rendered text is never cached: rows re-number on
// every call, so continuous numbering across queries stays correct when some
// queries hit the cache and others miss.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/kagibridge/kagi-search-mcp-server/internal/scrape"
)

// entry is a cached set of rows with its expiry time.
type entry struct {
	rows      []scrape.Result
	expiresAt time.Time
}

// ResultCache is a thread-safe per-query result cache with a fixed TTL.
type ResultCache struct {
	ttl     time.Duration
	entries map[string]entry
	mu      sync.RWMutex
}

// NewResultCache creates a result cache with the given TTL.
// A non-positive TTL disables caching: the constructor returns nil, and all
// methods are safe to call on a nil receiver.
func NewResultCache(ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		return nil
	}
	return &ResultCache{
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

// normalizeKey folds whitespace and case so trivially equivalent queries
// share a cache slot.
func normalizeKey(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Get returns the cached rows for a query if present and unexpired.
func (c *ResultCache) Get(query string) ([]scrape.Result, bool) {
	if c == nil {
		return nil, false
	}

	key := normalizeKey(query)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		// Lazy prune of the expired entry.
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	rows := make([]scrape.Result, len(e.rows))
	copy(rows, e.rows)
	return rows, true
}

// Put stores rows for a query. The rows are copied so later mutation by the
// caller cannot corrupt the cache.
func (c *ResultCache) Put(query string, rows []scrape.Result) {
	if c == nil {
		return
	}

	stored := make([]scrape.Result, len(rows))
	copy(stored, rows)

	c.mu.Lock()
	c.entries[normalizeKey(query)] = entry{
		rows:      stored,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Len returns the number of unexpired entries, pruning expired ones.
func (c *ResultCache) Len() int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	return len(c.entries)
}
