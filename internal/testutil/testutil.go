package testutil

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"mkts/internal/fetcher"
	"mkts/internal/market"
)

// StubProvider is a func-backed implementation of fetcher.Provider
type StubProvider struct {
	NameValue string
	FetchFunc func(ctx context.Context, symbol market.Symbol, rng market.DateRange) ([]market.PricePoint, error)

	calls atomic.Int32
}

// FetchSeries implements fetcher.Provider
func (s *StubProvider) FetchSeries(ctx context.Context, symbol market.Symbol, rng market.DateRange) ([]market.PricePoint, error) {
	s.calls.Add(1)
	if s.FetchFunc != nil {
		return s.FetchFunc(ctx, symbol, rng)
	}
	return nil, nil
}

// Name implements fetcher.Provider
func (s *StubProvider) Name() string {
	if s.NameValue != "" {
		return s.NameValue
	}
	return "stub"
}

// Calls returns how many times FetchSeries ran
func (s *StubProvider) Calls() int {
	return int(s.calls.Load())
}

// NewStubProvider returns a provider that answers every symbol with the
// same points, or with err when it is non-nil
func NewStubProvider(points []market.PricePoint, err error) *StubProvider {
	return &StubProvider{
		FetchFunc: func(ctx context.Context, symbol market.Symbol, rng market.DateRange) ([]market.PricePoint, error) {
			if err != nil {
				return nil, err
			}
			return points, nil
		},
	}
}

var _ fetcher.Provider = (*StubProvider)(nil)

// Bars builds one valid daily bar per close, starting at start and
// advancing one calendar day at a time. Open equals close, the high and
// low sit one unit either side and volume is 1000 per bar.
func Bars(start time.Time, closes ...float64) []market.PricePoint {
	points := make([]market.PricePoint, len(closes))
	for i, c := range closes {
		v := decimal.NewFromFloat(c)
		points[i] = market.PricePoint{
			Date:   market.Date(start.AddDate(0, 0, i)),
			Open:   v,
			High:   v.Add(decimal.NewFromInt(1)),
			Low:    decimal.Max(v.Sub(decimal.NewFromInt(1)), decimal.NewFromFloat(0.0001)),
			Close:  v,
			Volume: 1000,
		}
	}
	return points
}

// Series builds a validated series from Bars, panicking on bad input
func Series(symbol market.Symbol, start time.Time, closes ...float64) *market.Series {
	s, err := market.Build(symbol, Bars(start, closes...))
	if err != nil {
		panic(err)
	}
	return s
}
