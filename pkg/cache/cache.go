// Package cache implements the in-memory response cache for single-turn chat
// requests. Entries expire after a fixed TTL and the oldest-inserted entry is
// evicted when the cache is full; reads never change eviction order.
package cache

import (
	"container/list"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/homer-bot/homerbot/pkg/models"
	"k8s.io/utils/clock"
)

// Defaults used when the configuration does not override them.
const (
	DefaultCapacity = 100
	DefaultTTL      = 30 * time.Minute
)

var (
	// ErrInvalidCapacity is returned by New for a capacity below one.
	ErrInvalidCapacity = errors.New("cache capacity must be positive")
	// ErrInvalidTTL is returned by New for a non-positive TTL.
	ErrInvalidTTL = errors.New("cache ttl must be positive")
)

// Cache is an exact-match, insertion-ordered reply cache. It is safe for
// concurrent use.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front is the oldest insertion
	capacity int
	ttl      time.Duration
	clock    clock.PassiveClock

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.PassiveClock) Option {
	return func(cache *Cache) {
		cache.clock = c
	}
}

// New creates a Cache holding at most capacity entries, each valid for ttl.
func New(capacity int, ttl time.Duration, opts ...Option) (*Cache, error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	c := &Cache{
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NormalizeKey trims and case-folds a message into its cache key.
func NormalizeKey(message string) string {
	return strings.ToLower(strings.TrimSpace(message))
}

// Lookup returns the cached reply for message. Requests with history never
// hit the cache. An expired entry is removed and reported as absent.
func (c *Cache) Lookup(message string, hasHistory bool) (models.CacheEntry, bool) {
	if hasHistory {
		return models.CacheEntry{}, false
	}
	key := NormalizeKey(message)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return models.CacheEntry{}, false
	}
	entry := el.Value.(*models.CacheEntry)
	if c.expired(entry) {
		c.remove(el)
		c.misses.Add(1)
		return models.CacheEntry{}, false
	}

	c.hits.Add(1)
	out := *entry
	out.Usage = entry.Usage.Clone()
	return out, true
}

// Store caches responseText for message. Storing an existing key replaces it
// with a fresh timestamp and makes it the newest insertion. When a new key
// arrives at capacity the oldest-inserted entry is evicted first.
func (c *Cache) Store(message, responseText string, usage models.Usage) {
	key := NormalizeKey(message)
	entry := &models.CacheEntry{
		Key:          key,
		ResponseText: responseText,
		Usage:        usage.Clone(),
		CreatedAt:    c.clock.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
	for c.order.Len() >= c.capacity {
		c.remove(c.order.Front())
	}
	c.entries[key] = c.order.PushBack(entry)
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns cache performance metrics.
func (c *Cache) Stats() models.CacheStats {
	return models.CacheStats{
		Entries:    int64(c.Len()),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Capacity:   c.capacity,
		TTLSeconds: int64(c.ttl / time.Second),
	}
}

// Clear removes entries and returns how many were dropped. If expiredOnly is
// true, only expired entries are removed.
func (c *Cache) Clear(expiredOnly bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !expiredOnly {
		n := c.order.Len()
		c.entries = make(map[string]*list.Element, c.capacity)
		c.order.Init()
		return n
	}

	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if c.expired(el.Value.(*models.CacheEntry)) {
			c.remove(el)
			removed++
		}
		el = next
	}
	return removed
}

func (c *Cache) expired(e *models.CacheEntry) bool {
	return c.clock.Since(e.CreatedAt) >= c.ttl
}

// remove must be called with mu held.
func (c *Cache) remove(el *list.Element) {
	entry := c.order.Remove(el).(*models.CacheEntry)
	delete(c.entries, entry.Key)
}
