package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"mkts/internal/alphavantage"
	"mkts/internal/cache"
	"mkts/internal/config"
	"mkts/internal/coordinator"
	"mkts/internal/fetcher"
	"mkts/internal/market"
	"mkts/internal/metrics"
	"mkts/internal/presenter"
	"mkts/internal/ratelimit"
	"mkts/internal/yahoo"
)

// Exit codes
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	// Cancel in-flight requests on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// providerClient is a quote provider that owns an HTTP client
type providerClient interface {
	fetcher.Provider
	Close() error
}

// run executes one invocation and returns the process exit code
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := config.NewFlagSet("mkts")
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: mkts [flags] [SYMBOL...]\n\nFlags:\n")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "mkts: %v\n", err)
		flags.Usage()
		return exitUsage
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(stderr, "mkts: %v\n", err)
		return exitUsage
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	// Both were checked by Validate; resolving them here keeps every usage
	// error ahead of the first network call
	format, _ := presenter.ParseFormat(cfg.Format)
	rng, _ := cfg.DateRange(time.Now())

	provider, err := newProvider(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "mkts: %v\n", err)
		return exitUsage
	}
	defer provider.Close()

	c, closeCache, err := newCache(cfg, provider.Name())
	if err != nil {
		fmt.Fprintf(stderr, "mkts: %v\n", err)
		return exitUsage
	}
	defer closeCache()

	coord := coordinator.New(
		cache.NewLoader(provider, c),
		coordinator.WithConcurrency(cfg.Concurrency),
		coordinator.WithProvider(provider.Name()),
		coordinator.WithParams(metrics.Params{
			SMAWindow:      cfg.SMAWindow,
			EMAWindow:      cfg.EMAWindow,
			VolWindow:      cfg.VolWindow,
			PeriodsPerYear: cfg.PeriodsPerYear,
		}),
	)

	slog.Info("starting", "provider", provider.Name(), "symbols", cfg.Symbols, "range", rng.Key())

	if cfg.Watch != "" {
		rangeFor := func(now time.Time) market.DateRange {
			r, err := cfg.DateRange(now)
			if err != nil {
				return rng
			}
			return r
		}
		err := coord.Watch(ctx, cfg.Watch, cfg.Symbols, rangeFor, func(results []coordinator.Result) {
			fmt.Fprintf(stdout, "--- %s\n", time.Now().Format(time.DateTime))
			report(results, format, stdout, stderr)
		})
		if err != nil {
			fmt.Fprintf(stderr, "mkts: %v\n", err)
			return exitUsage
		}
		return exitOK
	}

	return report(coord.Run(ctx, cfg.Symbols, rng), format, stdout, stderr)
}

// report writes successful results to stdout and one line per failure to
// stderr, returning the exit code for the batch
func report(results []coordinator.Result, format presenter.Format, stdout, stderr io.Writer) int {
	if reports := coordinator.Reports(results); len(reports) > 0 {
		out, err := presenter.RenderBatch(reports, format)
		if err != nil {
			fmt.Fprintf(stderr, "mkts: %v\n", err)
			return exitFailed
		}
		fmt.Fprint(stdout, out)
	}

	failed := coordinator.Failed(results)
	for _, r := range failed {
		fmt.Fprintf(stderr, "mkts: %s: %v\n", r.Input, r.Err)
	}
	if len(failed) > 0 {
		return exitFailed
	}
	return exitOK
}

func newProvider(cfg *config.Config) (providerClient, error) {
	limiter := ratelimit.New(ratelimit.DefaultLimits)
	policy := fetcher.RetryPolicy{
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}

	switch cfg.Provider {
	case config.ProviderAlphaVantage:
		if cfg.RequestsPerMinute > 0 {
			limiter.Set(ratelimit.APIAlphaVantage, ratelimit.Limit{PerMinute: cfg.RequestsPerMinute, Burst: 1})
		}
		return alphavantage.NewClient(cfg.AlphavantageAPIKey, cfg.AlphavantageBaseURL, cfg.RequestTimeout,
			alphavantage.WithLimiter(limiter.For(ratelimit.APIAlphaVantage)),
			alphavantage.WithRetryPolicy(policy),
		), nil
	case config.ProviderYahoo:
		if cfg.RequestsPerMinute > 0 {
			limiter.Set(ratelimit.APIYahoo, ratelimit.Limit{PerMinute: cfg.RequestsPerMinute, Burst: 1})
		}
		return yahoo.NewClient(cfg.YahooBaseURL, cfg.RequestTimeout,
			yahoo.WithLimiter(limiter.For(ratelimit.APIYahoo)),
			yahoo.WithRetryPolicy(policy),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// newCache builds the LRU scoped to provider and, when a cache path is
// configured, backs it with SQLite and warms it from disk
func newCache(cfg *config.Config, provider string) (*cache.Cache, func(), error) {
	if cfg.CachePath == "" {
		c, err := cache.New(cfg.CacheCapacity, cfg.CacheTTL, cache.WithProvider(provider))
		return c, func() {}, err
	}

	store, err := cache.OpenSQLite(cfg.CachePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cache: %w", err)
	}
	c, err := cache.New(cfg.CacheCapacity, cfg.CacheTTL, cache.WithProvider(provider), cache.WithStore(store))
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	if n, err := c.Warm(); err != nil {
		slog.Warn("failed to warm cache", "path", cfg.CachePath, "error", err)
	} else {
		slog.Debug("cache warmed", "entries", n, "path", cfg.CachePath)
	}

	return c, func() {
		if err := store.Close(); err != nil {
			slog.Warn("failed to close cache", "error", err)
		}
	}, nil
}
