package ratelimit

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// API represents the different external APIs we interact with
type API string

const (
	// APIAlphaVantage represents the AlphaVantage API
	APIAlphaVantage API = "alphavantage"
	// APIYahoo represents the Yahoo Finance chart API
	APIYahoo API = "yahoo"
)

// Limit is a request budget for one API
type Limit struct {
	// PerMinute is the sustained request rate; zero or less means unlimited
	PerMinute float64
	// Burst is the number of requests allowed back to back
	Burst int
}

// DefaultLimits are conservative production limits
var DefaultLimits = map[API]Limit{
	// AlphaVantage: 5 requests per minute on free tier = 1 request every 12 seconds
	APIAlphaVantage: {PerMinute: 5, Burst: 1},
	// Yahoo: undocumented, stay well below the observed throttle
	APIYahoo: {PerMinute: 60, Burst: 2},
}

// Limiter manages rate limits for different APIs. It is created once per
// process and passed to every provider client that needs it.
type Limiter struct {
	limiters map[API]*rate.Limiter
	mu       sync.RWMutex
}

// New creates a limiter with the given per-API limits
func New(limits map[API]Limit) *Limiter {
	l := &Limiter{limiters: make(map[API]*rate.Limiter, len(limits))}
	for api, lim := range limits {
		l.Set(api, lim)
	}
	return l
}

// Set installs or replaces the limit for api
func (l *Limiter) Set(api API, lim Limit) {
	burst := lim.Burst
	if burst <= 0 {
		burst = 1
	}
	r := rate.Inf
	if lim.PerMinute > 0 {
		r = rate.Limit(lim.PerMinute / 60.0)
	}

	l.mu.Lock()
	l.limiters[api] = rate.NewLimiter(r, burst)
	l.mu.Unlock()
}

// Wait blocks until the rate limiter permits an event for the given API
// It returns an error if the context is canceled before the event can proceed
func (l *Limiter) Wait(ctx context.Context, api API) error {
	l.mu.RLock()
	limiter, exists := l.limiters[api]
	l.mu.RUnlock()

	if !exists {
		// If no limiter exists for this API, allow the request without limiting
		return ctx.Err()
	}

	return limiter.Wait(ctx)
}

// Allow reports whether an event for the given API may happen now
func (l *Limiter) Allow(api API) bool {
	l.mu.RLock()
	limiter, exists := l.limiters[api]
	l.mu.RUnlock()

	if !exists {
		// If no limiter exists for this API, allow the request
		return true
	}

	return limiter.Allow()
}

// Gate binds the limiter to one API so it can be handed to a provider client
type Gate struct {
	Limiter *Limiter
	API     API
}

// For returns the gate for api
func (l *Limiter) For(api API) Gate {
	return Gate{Limiter: l, API: api}
}

// Wait blocks until a request to the gate's API is permitted
func (g Gate) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.Limiter.Allow(g.API) {
		return nil
	}
	slog.Debug("rate limit reached, waiting", "api", string(g.API))
	return g.Limiter.Wait(ctx, g.API)
}
