package fetcher

import (
	"context"
	"fmt"

	"mkts/internal/market"
)

//go:generate mockgen -destination=../testutil/mock_provider.go -package=testutil mkts/internal/fetcher Provider

// Provider is the contract every quote provider client implements. Each
// provider knows how to retrieve a symbol's daily history from one upstream
// API and translate that API's schema into price points.
type Provider interface {
	// FetchSeries retrieves the raw daily bars for symbol within rng.
	// The bars are not yet validated; market.Build does that.
	// Errors are *market.Error values classified per the pipeline taxonomy.
	FetchSeries(ctx context.Context, symbol market.Symbol, rng market.DateRange) ([]market.PricePoint, error)

	// Name returns the provider's short name, used in cache keys and logs
	Name() string
}

// Key returns a hierarchical key for a provider request.
// Format: mkts:{provider}:{symbol}:{from}..{to}
// Examples:
//   - mkts:alphavantage:VOO:2024-01-01..2024-12-31
//   - mkts:yahoo:BRK.B:2023-06-01..2023-06-30
func Key(provider string, symbol market.Symbol, rng market.DateRange) string {
	return fmt.Sprintf("mkts:%s:%s:%s", provider, symbol, rng.Key())
}
