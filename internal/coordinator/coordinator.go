package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc/pool"

	"mkts/internal/market"
	"mkts/internal/metrics"
	"mkts/internal/presenter"
)

// DefaultConcurrency bounds in-flight symbol pipelines
const DefaultConcurrency = 4

// Loader resolves a symbol to a series, from cache or network
type Loader interface {
	FetchSymbol(ctx context.Context, symbol market.Symbol, rng market.DateRange) (*market.Series, bool, error)
	// RefreshSymbol skips the cache read but still stores the result
	RefreshSymbol(ctx context.Context, symbol market.Symbol, rng market.DateRange) (*market.Series, bool, error)
}

// RangeFunc resolves the date range for a batch at the time it runs
type RangeFunc func(now time.Time) market.DateRange

// Result is the outcome of one symbol's pipeline. Exactly one of Report
// and Err is set.
type Result struct {
	Input  string
	Report *presenter.Report
	Err    error
}

// Coordinator runs the fetch, analyse pipeline for batches of symbols
type Coordinator struct {
	loader      Loader
	provider    string
	params      metrics.Params
	concurrency int
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithConcurrency bounds how many symbols are processed at once
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithParams sets the metric windows
func WithParams(p metrics.Params) Option {
	return func(c *Coordinator) { c.params = p }
}

// WithProvider records the provider name on each report
func WithProvider(name string) Option {
	return func(c *Coordinator) { c.provider = name }
}

// New creates a new Coordinator on top of loader
func New(loader Loader, opts ...Option) *Coordinator {
	c := &Coordinator{
		loader:      loader,
		params:      metrics.DefaultParams(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run processes every symbol, at most the configured number at a time.
// Results come back in input order; one symbol failing never stops the
// others.
func (c *Coordinator) Run(ctx context.Context, symbols []string, rng market.DateRange) []Result {
	return c.run(ctx, symbols, rng, c.loader.FetchSymbol)
}

// Refresh is Run with every series fetched from the provider, fresh cache
// entries included
func (c *Coordinator) Refresh(ctx context.Context, symbols []string, rng market.DateRange) []Result {
	return c.run(ctx, symbols, rng, c.loader.RefreshSymbol)
}

type loadFunc func(ctx context.Context, symbol market.Symbol, rng market.DateRange) (*market.Series, bool, error)

func (c *Coordinator) run(ctx context.Context, symbols []string, rng market.DateRange, load loadFunc) []Result {
	results := make([]Result, len(symbols))

	p := pool.New().WithMaxGoroutines(c.concurrency)
	for i, raw := range symbols {
		p.Go(func() {
			results[i] = c.runOne(ctx, raw, rng, load)
		})
	}
	p.Wait()

	return results
}

func (c *Coordinator) runOne(ctx context.Context, raw string, rng market.DateRange, load loadFunc) Result {
	res := Result{Input: raw}

	symbol, err := market.ParseSymbol(raw)
	if err != nil {
		res.Err = err
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Err = market.NewCancelledError(symbol.String(), err)
		return res
	}

	series, cached, err := load(ctx, symbol, rng)
	if err != nil {
		slog.Debug("fetch failed", "symbol", symbol.String(), "error", err)
		res.Err = err
		return res
	}

	m, err := metrics.Compute(series, c.params)
	if err != nil {
		res.Err = err
		return res
	}

	slog.Debug("symbol processed", "symbol", symbol.String(), "points", series.Len(), "cached", cached)
	res.Report = &presenter.Report{
		Symbol:   symbol,
		Provider: c.provider,
		Range:    rng,
		Series:   series,
		Metrics:  m,
		Cached:   cached,
	}
	return res
}

// Failed returns the results that carry an error
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Reports returns the successful reports in order
func Reports(results []Result) []presenter.Report {
	var out []presenter.Report
	for _, r := range results {
		if r.Report != nil {
			out = append(out, *r.Report)
		}
	}
	return out
}

// ErrInvalidSchedule is returned by Watch for a spec cron cannot parse
var ErrInvalidSchedule = errors.New("invalid watch schedule")

var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule checks a watch schedule. It accepts five or six field cron
// expressions (seconds optional) and descriptors such as "@every 30s".
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidSchedule, spec, err)
	}
	return s, nil
}

// Watch runs the batch once immediately and then on every tick of spec
// until ctx ends, handing each batch's results to fn. The first batch may
// be served from the cache; every tick refetches. rangeFor is resolved
// again for each batch so a trailing range follows the calendar. A tick
// that fires while the previous batch is still running is skipped.
func (c *Coordinator) Watch(ctx context.Context, spec string, symbols []string, rangeFor RangeFunc, fn func([]Result)) error {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return err
	}

	logger := cronLogger{}
	cr := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	cr.Schedule(schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		fn(c.Refresh(ctx, symbols, rangeFor(time.Now())))
	}))

	fn(c.Run(ctx, symbols, rangeFor(time.Now())))

	cr.Start()
	slog.Info("watching", "symbols", len(symbols), "schedule", spec)

	<-ctx.Done()
	<-cr.Stop().Done()
	slog.Info("watch stopped")
	return nil
}

// cronLogger routes cron's logging through slog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
