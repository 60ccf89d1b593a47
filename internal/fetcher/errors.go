package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"mkts/internal/market"
)

// NewNetworkError creates a retryable transport error
func NewNetworkError(symbol market.Symbol, cause error) *market.Error {
	return &market.Error{
		Kind:      market.ProviderUnavailable,
		Symbol:    symbol.String(),
		Retryable: true,
		Message:   "network request failed",
		Cause:     cause,
	}
}

// NewRateLimitError creates a retryable rate limit error carrying the
// provider's back-off hint, if any
func NewRateLimitError(symbol market.Symbol, statusCode int, retryAfter time.Duration) *market.Error {
	return &market.Error{
		Kind:       market.RateLimited,
		Symbol:     symbol.String(),
		Retryable:  true,
		StatusCode: statusCode,
		RetryAfter: retryAfter,
		Message:    "rate limit exceeded",
	}
}

// NewServerError creates a retryable server error
func NewServerError(symbol market.Symbol, statusCode int) *market.Error {
	return &market.Error{
		Kind:       market.ProviderUnavailable,
		Symbol:     symbol.String(),
		Retryable:  true,
		StatusCode: statusCode,
		Message:    "server returned an error",
	}
}

// NewClientError creates a non-retryable client error
func NewClientError(symbol market.Symbol, statusCode int, message string) *market.Error {
	return &market.Error{
		Kind:       market.UnknownSymbol,
		Symbol:     symbol.String(),
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewMalformedError creates a non-retryable payload error
func NewMalformedError(symbol market.Symbol, format string, args ...any) *market.Error {
	return market.Errorf(market.MalformedResponse, symbol.String(), format, args...)
}

// ClassifyHTTPError classifies a non-2xx HTTP response into the taxonomy
func ClassifyHTTPError(symbol market.Symbol, statusCode int, header http.Header, now time.Time) *market.Error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(symbol, statusCode, ParseRetryAfter(header.Get("Retry-After"), now))
	case statusCode >= 500:
		return NewServerError(symbol, statusCode)
	case statusCode >= 400:
		return NewClientError(symbol, statusCode, fmt.Sprintf("provider rejected request: HTTP %d", statusCode))
	default:
		return &market.Error{
			Kind:       market.MalformedResponse,
			Symbol:     symbol.String(),
			StatusCode: statusCode,
			Message:    fmt.Sprintf("unexpected status code: %d", statusCode),
		}
	}
}

// ClassifyTransportError turns a failed round trip into either Cancelled,
// when the caller's context has ended, or a retryable network error
func ClassifyTransportError(ctx context.Context, symbol market.Symbol, err error) *market.Error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return market.NewCancelledError(symbol.String(), ctxErr)
	}
	var merr *market.Error
	if errors.As(err, &merr) {
		return merr
	}
	return NewNetworkError(symbol, err)
}

// ParseRetryAfter reads a Retry-After header in either delta-seconds or
// HTTP-date form. It returns zero when the header is absent or unusable.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
