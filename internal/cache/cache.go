package cache

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"
)

// MaxKeyLength is the longest fingerprint the cache accepts.
const MaxKeyLength = 1024

// ErrInvalidKey is logged when a key is empty, too long, or not valid UTF-8.
var ErrInvalidKey = errors.New("invalid cache key")

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Size        int   `json:"size"`
	MaxSize     int   `json:"max_size"`
	TTLSeconds  int64 `json:"ttl_seconds"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
}

// entry is the value stored in each list element.
type entry struct {
	key       string
	value     any
	expiresAt time.Time // zero means the entry never expires
}

// expired reports whether the entry is no longer visible at now.
func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// Cache is a bounded, TTL-expiring LRU cache safe for concurrent use.
type Cache struct {
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	logger  *slog.Logger

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front = most recently used

	// earliest is a lower bound on the soonest expiry among stored entries.
	// Zero when no stored entry can expire.
	earliest time.Time

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// New creates a cache holding at most maxSize live entries, each visible for ttl.
// A ttl <= 0 disables expiry. maxSize is clamped to at least 1.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}

	c := &Cache{
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		logger:  slog.Default(),
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger.Info("cache initialized", "ttl", ttl, "max_size", maxSize)

	return c
}

// Get returns the value stored under key if it has not expired.
// A hit refreshes the entry's recency but never its expiry.
func (c *Cache) Get(key string) (any, bool) {
	defer c.guard("get", key)

	if err := validateKey(key); err != nil {
		c.logger.Warn("cache get rejected", "key", key, "error", err)
		return nil, false
	}

	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	ent := el.Value.(*entry)
	if ent.expired(now) {
		c.removeLocked(el)
		c.expirations++
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(el)
	c.hits++
	return ent.value, true
}

// Set stores value under key using the cache's TTL.
func (c *Cache) Set(key string, value any) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key with an explicit TTL, overwriting any
// previous entry and resetting its expiry. If the cache is full, expired
// entries are purged first and then least-recently-used entries are evicted.
func (c *Cache) SetWithTTL(key string, value any, ttl time.Duration) {
	defer c.guard("set", key)

	if err := validateKey(key); err != nil {
		c.logger.Warn("cache set rejected", "key", key, "error", err)
		return
	}

	now := c.now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry)
		ent.value = value
		ent.expiresAt = expiresAt
		c.noteExpiryLocked(expiresAt)
		c.order.MoveToFront(el)
		return
	}

	if len(c.items) >= c.maxSize {
		c.expirations += int64(c.purgeLocked(now))
	}

	for len(c.items) >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.logger.Debug("cache evicting entry", "key", oldest.Value.(*entry).key)
		c.removeLocked(oldest)
		c.evictions++
	}

	c.items[key] = c.order.PushFront(&entry{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	})
	c.noteExpiryLocked(expiresAt)
}

// Delete removes key. Reports whether a live entry was removed.
func (c *Cache) Delete(key string) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	live := !el.Value.(*entry).expired(now)
	c.removeLocked(el)
	return live
}

// Clear removes every entry unconditionally.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.earliest = time.Time{}
	c.mu.Unlock()

	c.logger.Info("cache cleared")
}

// Size returns the number of live entries. Expired entries are purged first.
func (c *Cache) Size() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.expirations += int64(c.purgeLocked(now))
	return len(c.items)
}

// Purge physically removes expired entries and returns how many were removed.
func (c *Cache) Purge() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.purgeLocked(now)
	c.expirations += int64(n)
	return n
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.expirations += int64(c.purgeLocked(now))

	return Stats{
		Size:        len(c.items),
		MaxSize:     c.maxSize,
		TTLSeconds:  int64(c.ttl / time.Second),
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}

// Run purges expired entries every interval until ctx is cancelled.
// Expiry is enforced on read regardless; this only releases memory sooner.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Purge(); n > 0 {
				c.logger.Debug("purged expired cache entries", "count", n)
			}
		}
	}
}

// removeLocked unlinks el from both the list and the index.
func (c *Cache) removeLocked(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

// noteExpiryLocked lowers the earliest-expiry bound if needed.
func (c *Cache) noteExpiryLocked(expiresAt time.Time) {
	if expiresAt.IsZero() {
		return
	}
	if c.earliest.IsZero() || expiresAt.Before(c.earliest) {
		c.earliest = expiresAt
	}
}

// purgeLocked removes all expired entries. It is a no-op until the earliest
// known expiry has passed, so a full cache with only live entries stays O(1).
func (c *Cache) purgeLocked(now time.Time) int {
	if c.earliest.IsZero() || now.Before(c.earliest) {
		return 0
	}

	removed := 0
	var earliest time.Time
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		ent := el.Value.(*entry)
		switch {
		case ent.expired(now):
			c.removeLocked(el)
			removed++
		case !ent.expiresAt.IsZero() && (earliest.IsZero() || ent.expiresAt.Before(earliest)):
			earliest = ent.expiresAt
		}
		el = next
	}
	c.earliest = earliest

	return removed
}

// guard converts a panic inside a cache operation into a logged miss/no-op.
func (c *Cache) guard(op, key string) {
	if r := recover(); r != nil {
		c.logger.Error("cache fault", "op", op, "key", key, "panic", r)
	}
}

func validateKey(key string) error {
	if key == "" || len(key) > MaxKeyLength || !utf8.ValidString(key) {
		return ErrInvalidKey
	}
	return nil
}
