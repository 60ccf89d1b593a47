package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"resty.dev/v3"

	"mkts/internal/fetcher"
	"mkts/internal/market"
)

// CompactDays is the calendar span safely inside the 100 trading days
// returned by outputsize=compact
const CompactDays = 140

const compactWindow = CompactDays * 24 * time.Hour

// DailyResponse represents the AlphaVantage TIME_SERIES_DAILY response
type DailyResponse struct {
	MetaData struct {
		Information   string `json:"1. Information"`
		Symbol        string `json:"2. Symbol"`
		LastRefreshed string `json:"3. Last Refreshed"`
		OutputSize    string `json:"4. Output Size"`
		TimeZone      string `json:"5. Time Zone"`
	} `json:"Meta Data"`
	TimeSeries map[string]DailyBar `json:"Time Series (Daily)"`

	// In-band notices AlphaVantage returns with HTTP 200
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

// DailyBar is one row of the daily time series
type DailyBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

// Client fetches daily price history from AlphaVantage
type Client struct {
	apiKey string
	caller *fetcher.Caller
	now    func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithLimiter gates every attempt on w
func WithLimiter(w fetcher.Waiter) Option {
	return func(c *Client) { c.caller.Limiter = w }
}

// WithRetryPolicy replaces the default retry budget
func WithRetryPolicy(p fetcher.RetryPolicy) Option {
	return func(c *Client) { c.caller.Policy = p }
}

// WithClock replaces time.Now, used to pick the output size
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
		c.caller.Now = now
	}
}

// NewClient creates a new AlphaVantage client
func NewClient(apiKey, baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		apiKey: apiKey,
		caller: &fetcher.Caller{
			Client: fetcher.NewHTTPClient(baseURL, timeout),
			Policy: fetcher.DefaultRetry,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements fetcher.Provider
func (c *Client) Name() string { return "alphavantage" }

// Close releases the underlying HTTP client
func (c *Client) Close() error {
	return c.caller.Client.Close()
}

// FetchSeries retrieves the daily bars for symbol within rng
func (c *Client) FetchSeries(ctx context.Context, symbol market.Symbol, rng market.DateRange) ([]market.PricePoint, error) {
	if err := symbol.Validate(); err != nil {
		return nil, err
	}

	size := c.outputSize(rng)
	var points []market.PricePoint
	err := c.caller.Call(ctx, symbol,
		func(r *resty.Request) (*resty.Response, error) {
			return r.SetQueryParams(map[string]string{
				"apikey":     c.apiKey,
				"function":   "TIME_SERIES_DAILY",
				"symbol":     symbol.String(),
				"outputsize": size,
				"datatype":   "json",
			}).Get("")
		},
		func(resp *resty.Response) error {
			var err error
			points, err = decodeDaily(symbol, rng, size, resp.Bytes())
			return err
		},
	)
	if err != nil {
		return nil, err
	}
	return points, nil
}

// outputSize picks compact when the range starts within the last ~100
// trading days, full otherwise
func (c *Client) outputSize(rng market.DateRange) string {
	if rng.From.After(c.now().Add(-compactWindow)) {
		return "compact"
	}
	return "full"
}

func decodeDaily(symbol market.Symbol, rng market.DateRange, size string, body []byte) ([]market.PricePoint, error) {
	var result DailyResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fetcher.NewMalformedError(symbol, "decode body: %v", err)
	}

	switch {
	case result.ErrorMessage != "":
		return nil, fetcher.NewClientError(symbol, http.StatusOK, result.ErrorMessage)
	case result.Note != "":
		return nil, fetcher.NewRateLimitError(symbol, http.StatusOK, 0)
	case result.Information != "":
		if isThrottleNotice(result.Information) {
			return nil, fetcher.NewRateLimitError(symbol, http.StatusOK, 0)
		}
		if size == "full" && isPremiumNotice(result.Information) {
			return nil, &market.Error{
				Kind:   market.ProviderUnavailable,
				Symbol: symbol.String(),
				Message: fmt.Sprintf("history before %s needs a premium Alpha Vantage key; "+
					"ask for at most %d days or use --provider yahoo",
					market.FormatDate(rng.From), CompactDays),
			}
		}
		return nil, &market.Error{
			Kind:    market.ProviderUnavailable,
			Symbol:  symbol.String(),
			Message: result.Information,
		}
	case result.TimeSeries == nil:
		return nil, fetcher.NewMalformedError(symbol, "time series not found in response")
	}

	points := make([]market.PricePoint, 0, len(result.TimeSeries))
	for date, bar := range result.TimeSeries {
		d, err := market.ParseDate(date)
		if err != nil {
			return nil, fetcher.NewMalformedError(symbol, "bad row date %q", date)
		}
		if !rng.Contains(d) {
			continue
		}
		p, err := bar.toPoint(d)
		if err != nil {
			return nil, &market.Error{
				Kind:    market.MalformedResponse,
				Symbol:  symbol.String(),
				Date:    d,
				Message: err.Error(),
			}
		}
		points = append(points, p)
	}
	return points, nil
}

func (b DailyBar) toPoint(date time.Time) (market.PricePoint, error) {
	p := market.PricePoint{Date: date}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"open", b.Open, &p.Open},
		{"high", b.High, &p.High},
		{"low", b.Low, &p.Low},
		{"close", b.Close, &p.Close},
	}
	for _, f := range fields {
		if f.raw == "" {
			return p, &fieldError{field: f.name, reason: "missing"}
		}
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return p, &fieldError{field: f.name, reason: "not a number: " + f.raw}
		}
		*f.dst = v
	}
	if b.Volume == "" {
		return p, &fieldError{field: "volume", reason: "missing"}
	}
	vol, err := strconv.ParseInt(b.Volume, 10, 64)
	if err != nil {
		return p, &fieldError{field: "volume", reason: "not an integer: " + b.Volume}
	}
	p.Volume = vol
	return p, nil
}

type fieldError struct {
	field  string
	reason string
}

func (e *fieldError) Error() string { return e.field + " " + e.reason }

func isPremiumNotice(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "premium")
}

func isThrottleNotice(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "rate limit") ||
		strings.Contains(m, "call frequency") ||
		strings.Contains(m, "requests per day")
}
