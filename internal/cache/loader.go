package cache

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"mkts/internal/fetcher"
	"mkts/internal/market"
)

// Loader serves series from the cache and fetches misses from a provider.
// At most one fetch per (symbol, range) is in flight; concurrent requests
// for the same key wait for that fetch instead of issuing their own.
type Loader struct {
	provider fetcher.Provider
	cache    *Cache
	group    singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context shared by everyone waiting on one key. It is
// cancelled only once the last waiter has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewLoader creates a loader in front of p
func NewLoader(p fetcher.Provider, c *Cache) *Loader {
	return &Loader{provider: p, cache: c, flights: map[string]*flight{}}
}

// Fetch validates raw, then returns the series for it within rng. cached
// reports whether the series came from the cache rather than the network.
func (l *Loader) Fetch(ctx context.Context, raw string, rng market.DateRange) (series *market.Series, cached bool, err error) {
	symbol, err := market.ParseSymbol(raw)
	if err != nil {
		return nil, false, err
	}
	return l.FetchSymbol(ctx, symbol, rng)
}

// FetchSymbol is Fetch for an already validated symbol
func (l *Loader) FetchSymbol(ctx context.Context, symbol market.Symbol, rng market.DateRange) (*market.Series, bool, error) {
	if err := symbol.Validate(); err != nil {
		return nil, false, err
	}

	if s, ok := l.cache.Get(symbol, rng); ok {
		slog.Debug("cache hit", "symbol", symbol.String(), "range", rng.Key())
		return s, true, nil
	}
	if s, ok := l.cache.GetCovering(symbol, rng); ok {
		slog.Debug("cache hit on covering range", "symbol", symbol.String(), "range", rng.Key())
		return s, true, nil
	}
	slog.Debug("cache miss", "symbol", symbol.String(), "range", rng.Key())

	s, err := l.load(ctx, symbol, rng, true)
	return s, false, err
}

// RefreshSymbol fetches symbol from the provider even when a fresh copy is
// cached, and stores the result
func (l *Loader) RefreshSymbol(ctx context.Context, symbol market.Symbol, rng market.DateRange) (*market.Series, bool, error) {
	if err := symbol.Validate(); err != nil {
		return nil, false, err
	}
	slog.Debug("cache refresh", "symbol", symbol.String(), "range", rng.Key())

	s, err := l.load(ctx, symbol, rng, false)
	return s, false, err
}

func (l *Loader) load(ctx context.Context, symbol market.Symbol, rng market.DateRange, useCache bool) (*market.Series, error) {
	key := fetcher.Key(l.provider.Name(), symbol, rng)
	if !useCache {
		key += "/refresh"
	}

	s, err := l.wait(ctx, key, symbol, rng, useCache)
	// A flight abandoned by every earlier waiter ends Cancelled; a caller
	// that is still live starts over once
	if market.KindOf(err) == market.Cancelled && ctx.Err() == nil {
		slog.Debug("rejoining cancelled fetch", "symbol", symbol.String(), "range", rng.Key())
		s, err = l.wait(ctx, key, symbol, rng, useCache)
	}
	return s, err
}

func (l *Loader) wait(ctx context.Context, key string, symbol market.Symbol, rng market.DateRange, useCache bool) (*market.Series, error) {
	f := l.join(ctx, key)
	defer l.leave(key, f)

	ch := l.group.DoChan(key, func() (any, error) {
		// An earlier flight may have filled the cache after our miss
		if useCache {
			if s, ok := l.cache.Get(symbol, rng); ok {
				return s, nil
			}
		}

		raw, err := l.provider.FetchSeries(f.ctx, symbol, rng)
		if err != nil {
			return nil, err
		}
		s, err := market.Build(symbol, raw)
		if err != nil {
			return nil, err
		}
		l.cache.Put(symbol, rng, s)
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, market.NewCancelledError(symbol.String(), ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*market.Series), nil
	}
}

// join registers the caller as a waiter on key. The flight context keeps
// the first caller's values but not its cancellation.
func (l *Loader) join(ctx context.Context, key string) *flight {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, ok := l.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		l.flights[key] = f
	}
	f.waiters++
	return f
}

func (l *Loader) leave(key string, f *flight) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if l.flights[key] == f {
		delete(l.flights, key)
	}
}
