package yahoo

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"resty.dev/v3"

	"mkts/internal/fetcher"
	"mkts/internal/market"
)

// chartResponse is the response structure from the Yahoo Finance chart API
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				Currency  string `json:"currency"`
				GMTOffset int64  `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Client fetches daily bars from the Yahoo Finance chart API
type Client struct {
	caller *fetcher.Caller
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

// NewClient creates a new Yahoo chart client
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	httpClient := fetcher.NewHTTPClient(baseURL, timeout).
		SetHeader("User-Agent", "Mozilla/5.0")

	c := &Client{
		caller: &fetcher.Caller{
			Client: httpClient,
			Policy: fetcher.DefaultRetry,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name implements fetcher.Provider
func (c *Client) Name() string { return "yahoo" }

// Close releases the underlying HTTP client
func (c *Client) Close() error {
	return c.caller.Client.Close()
}

// FetchSeries retrieves the daily bars for symbol within rng
func (c *Client) FetchSeries(ctx context.Context, symbol market.Symbol, rng market.DateRange) ([]market.PricePoint, error) {
	if err := symbol.Validate(); err != nil {
		return nil, err
	}

	var points []market.PricePoint
	err := c.caller.Call(ctx, symbol,
		func(r *resty.Request) (*resty.Response, error) {
			return r.
				SetPathParam("symbol", symbol.String()).
				SetQueryParams(map[string]string{
					"period1":  strconv.FormatInt(rng.From.Unix(), 10),
					"period2":  strconv.FormatInt(rng.To.AddDate(0, 0, 1).Unix(), 10),
					"interval": "1d",
				}).
				Get("/v8/finance/chart/{symbol}")
		},
		func(resp *resty.Response) error {
			var err error
			points, err = decodeChart(symbol, rng, resp.Bytes())
			return err
		},
	)
	if err != nil {
		return nil, err
	}
	return points, nil
}

func decodeChart(symbol market.Symbol, rng market.DateRange, body []byte) ([]market.PricePoint, error) {
	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fetcher.NewMalformedError(symbol, "decode body: %v", err)
	}
	if e := chart.Chart.Error; e != nil {
		if e.Code == "Not Found" {
			return nil, fetcher.NewClientError(symbol, 0, e.Description)
		}
		return nil, fetcher.NewMalformedError(symbol, "yahoo api error: %s", e.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return nil, fetcher.NewMalformedError(symbol, "no chart result")
	}

	result := chart.Chart.Result[0]
	n := len(result.Timestamp)
	if n == 0 {
		// No trading days in the range
		return []market.PricePoint{}, nil
	}
	if len(result.Indicators.Quote) == 0 {
		return nil, fetcher.NewMalformedError(symbol, "no quote indicators")
	}
	q := result.Indicators.Quote[0]
	if len(q.Open) != n || len(q.High) != n || len(q.Low) != n || len(q.Close) != n || len(q.Volume) != n {
		return nil, fetcher.NewMalformedError(symbol, "indicator arrays do not match %d timestamps", n)
	}

	points := make([]market.PricePoint, 0, n)
	for i, ts := range result.Timestamp {
		date := market.Date(time.Unix(ts+result.Meta.GMTOffset, 0).UTC())
		if !rng.Contains(date) {
			continue
		}

		fields := []*float64{q.Open[i], q.High[i], q.Low[i], q.Close[i], q.Volume[i]}
		nulls := 0
		for _, f := range fields {
			if f == nil {
				nulls++
			}
		}
		if nulls == len(fields) {
			// Non-trading row (holiday or halted session)
			continue
		}
		if nulls > 0 {
			return nil, &market.Error{
				Kind:    market.MalformedResponse,
				Symbol:  symbol.String(),
				Date:    date,
				Message: "incomplete row",
			}
		}

		points = append(points, market.PricePoint{
			Date:   date,
			Open:   price(*q.Open[i]),
			High:   price(*q.High[i]),
			Low:    price(*q.Low[i]),
			Close:  price(*q.Close[i]),
			Volume: int64(math.Round(*q.Volume[i])),
		})
	}
	return points, nil
}

// price converts Yahoo's float32-derived values to four decimal places
func price(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(4)
}
