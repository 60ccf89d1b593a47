package fetcher

import (
	"context"
	"log/slog"
	"time"

	"resty.dev/v3"

	"mkts/internal/market"
)

const (
	// Default per-request timeout
	defaultTimeout = 10 * time.Second

	userAgent = "mkts/1.0"
)

// NewHTTPClient creates a new HTTP client with a bounded per-request timeout.
// Retries are not delegated to resty: Caller drives them through RetryPolicy
// so that every failure is classified before deciding to try again.
func NewHTTPClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent).
		SetTimeout(timeout)

	return client
}

// Waiter gates outbound requests; *rate.Limiter and ratelimit.Gate satisfy it
type Waiter interface {
	Wait(ctx context.Context) error
}

// Caller issues rate-limited, retried requests against one provider
type Caller struct {
	Client  *resty.Client
	Policy  RetryPolicy
	Limiter Waiter

	// Now is the clock used for Retry-After dates, time.Now when nil
	Now func() time.Time
}

// Call runs send under the retry machine. Each attempt waits on the limiter,
// sends, classifies transport and status failures, and hands 2xx responses to
// decode. decode returns *market.Error values for payload problems; a
// retryable one (e.g. an in-band throttle notice) triggers another attempt.
func (c *Caller) Call(
	ctx context.Context,
	symbol market.Symbol,
	send func(r *resty.Request) (*resty.Response, error),
	decode func(resp *resty.Response) error,
) error {
	now := c.Now
	if now == nil {
		now = time.Now
	}

	return c.Policy.Run(ctx, symbol, func(ctx context.Context, attempt int) error {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return market.NewCancelledError(symbol.String(), err)
			}
		}

		resp, err := send(c.Client.R().SetContext(ctx))
		if err != nil {
			slog.Debug("request failed",
				"symbol", symbol.String(),
				"attempt", attempt,
				"error", err.Error())
			return ClassifyTransportError(ctx, symbol, err)
		}

		if !resp.IsSuccess() {
			slog.Debug("request returned error status",
				"symbol", symbol.String(),
				"url", resp.Request.URL,
				"attempt", attempt,
				"status_code", resp.StatusCode())
			return ClassifyHTTPError(symbol, resp.StatusCode(), resp.Header(), now())
		}

		return decode(resp)
	}, nil)
}
