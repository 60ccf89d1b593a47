package cache

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"mkts/internal/market"
)

const (
	// DefaultCapacity is the default maximum number of cached series
	DefaultCapacity = 128
	// DefaultFreshness is one trading day
	DefaultFreshness = 24 * time.Hour
)

// Key identifies a cached series by provider, symbol and canonical range text
type Key struct {
	Provider string
	Symbol   market.Symbol
	Range    string
}

// NewKey builds the key for symbol and rng as served by provider
func NewKey(provider string, symbol market.Symbol, rng market.DateRange) Key {
	return Key{Provider: provider, Symbol: symbol, Range: rng.Key()}
}

func (k Key) String() string {
	return k.Provider + ":" + k.Symbol.String() + ":" + k.Range
}

// Entry is one cached fetch result
type Entry struct {
	Provider  string
	Symbol    market.Symbol
	Range     market.DateRange
	FetchedAt time.Time
	Series    *market.Series
}

// Key returns the entry's key
func (e Entry) Key() Key { return NewKey(e.Provider, e.Symbol, e.Range) }

// Store persists cache entries across invocations
type Store interface {
	Save(e Entry) error
	Delete(k Key) error
	// LoadRecent returns up to limit entries fetched from provider, most
	// recently fetched first
	LoadRecent(provider string, limit int) ([]Entry, error)
}

// Cache is a bounded LRU of fetched series with a freshness window. Entries
// older than the window read as absent but stay in place until capacity
// pressure evicts them.
type Cache struct {
	mu        sync.Mutex
	lru       *lru.Cache[Key, Entry]
	capacity  int
	freshness time.Duration
	now       func() time.Time
	store     Store
	provider  string

	// keys evicted during the current Put, flushed to the store afterwards
	evicted []Key
}

// Option configures a Cache
type Option func(*Cache)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithStore persists entries to s
func WithStore(s Store) Option {
	return func(c *Cache) { c.store = s }
}

// WithProvider scopes every key to the named provider, so a shared store
// never serves one provider's bars as another's
func WithProvider(name string) Option {
	return func(c *Cache) { c.provider = name }
}

// New creates a cache holding at most capacity entries
func New(capacity int, freshness time.Duration, opts ...Option) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if freshness <= 0 {
		freshness = DefaultFreshness
	}

	c := &Cache{capacity: capacity, freshness: freshness, now: time.Now}
	l, err := lru.NewWithEvict[Key, Entry](capacity, func(k Key, _ Entry) {
		// Runs inside lru.Add, which is only called with c.mu held
		c.evicted = append(c.evicted, k)
	})
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c.lru = l

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the fresh series cached for (symbol, rng). A stale entry is
// reported as absent and is neither promoted nor evicted.
func (c *Cache) Get(symbol market.Symbol, rng market.DateRange) (*market.Series, bool) {
	k := NewKey(c.provider, symbol, rng)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(k)
	if !ok || c.stale(e) {
		return nil, false
	}
	c.lru.Get(k)
	return e.Series, true
}

// GetCovering looks for a fresh entry of the same symbol whose range
// contains rng and returns the matching slice of it
func (c *Cache) GetCovering(symbol market.Symbol, rng market.DateRange) (*market.Series, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.lru.Keys()
	for i := len(keys) - 1; i >= 0; i-- {
		k := keys[i]
		if k.Provider != c.provider || k.Symbol != symbol {
			continue
		}
		e, ok := c.lru.Peek(k)
		if !ok || c.stale(e) || !e.Range.Covers(rng) {
			continue
		}
		sub, ok := sliceWithin(e.Series, rng)
		if !ok {
			continue
		}
		c.lru.Get(k)
		return sub, true
	}
	return nil, false
}

// Put stores series under (symbol, rng), stamped with the current time.
// The cache never holds more than its capacity once Put returns.
func (c *Cache) Put(symbol market.Symbol, rng market.DateRange, series *market.Series) {
	e := Entry{Provider: c.provider, Symbol: symbol, Range: rng, FetchedAt: c.now(), Series: series}

	c.mu.Lock()
	c.lru.Add(e.Key(), e)
	evicted := c.evicted
	c.evicted = nil
	c.mu.Unlock()

	for _, k := range evicted {
		slog.Debug("cache eviction", "key", k.String())
	}

	if c.store == nil {
		return
	}
	if err := c.store.Save(e); err != nil {
		slog.Warn("failed to persist cache entry", "key", e.Key().String(), "error", err)
	}
	for _, k := range evicted {
		if err := c.store.Delete(k); err != nil {
			slog.Warn("failed to delete evicted cache entry", "key", k.String(), "error", err)
		}
	}
}

// Len returns the number of entries, fresh or stale
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys returns the cached keys from least to most recently used
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Warm fills the cache from its store, newest entries ending up most
// recently used. It returns the number of entries loaded.
func (c *Cache) Warm() (int, error) {
	if c.store == nil {
		return 0, nil
	}

	entries, err := c.store.LoadRecent(c.provider, c.capacity)
	if err != nil {
		return 0, fmt.Errorf("load cache entries: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(entries) - 1; i >= 0; i-- {
		c.lru.Add(entries[i].Key(), entries[i])
	}
	c.evicted = nil
	return len(entries), nil
}

func (c *Cache) stale(e Entry) bool {
	return c.now().Sub(e.FetchedAt) > c.freshness
}

// sliceWithin slices s to rng clamped to the stored dates
func sliceWithin(s *market.Series, rng market.DateRange) (*market.Series, bool) {
	first, ok := s.First()
	if !ok {
		return nil, false
	}
	last, _ := s.Last()

	from, to := rng.From, rng.To
	if from.Before(first.Date) {
		from = first.Date
	}
	if to.After(last.Date) {
		to = last.Date
	}
	sub, err := s.Slice(from, to)
	if err != nil {
		return nil, false
	}
	return sub, true
}
