package metrics

import (
	"time"

	"github.com/shopspring/decimal"

	"mkts/internal/market"
)

// Summary is the quote panel for a series: where the last close sits
// relative to the previous one and to the period's trading range
type Summary struct {
	LastDate  time.Time       `json:"-" yaml:"-"`
	Last      decimal.Decimal `json:"last" yaml:"last"`
	PrevClose decimal.Decimal `json:"prev_close" yaml:"prev_close"`
	Change    decimal.Decimal `json:"change" yaml:"change"`
	ChangePct float64         `json:"change_pct" yaml:"change_pct"`
	Open      decimal.Decimal `json:"open" yaml:"open"`
	High      decimal.Decimal `json:"high" yaml:"high"`
	Low       decimal.Decimal `json:"low" yaml:"low"`
	// Position of the last close within [Low, High], 0 when the range is flat
	Position float64         `json:"position" yaml:"position"`
	Volume   int64           `json:"volume" yaml:"volume"`
	VWAP     decimal.Decimal `json:"vwap" yaml:"vwap"`
}

var three = decimal.NewFromInt(3)

// Summarize builds the quote summary. A single-point series has itself as
// the previous close.
func Summarize(s *market.Series) (Summary, error) {
	last, ok := s.Last()
	if !ok {
		return Summary{}, insufficient(s, "no price points")
	}
	prev := last
	if n := s.Len(); n > 1 {
		prev = s.At(n - 2)
	}

	sum := Summary{
		LastDate:  last.Date,
		Last:      last.Close,
		PrevClose: prev.Close,
		Change:    last.Close.Sub(prev.Close),
		Open:      last.Open,
		High:      last.High,
		Low:       last.Low,
	}
	sum.ChangePct = sum.Change.Div(prev.Close).Mul(decimal.NewFromInt(100)).InexactFloat64()

	weighted := decimal.Zero
	typicalSum := decimal.Zero
	for _, p := range s.Points() {
		if p.High.GreaterThan(sum.High) {
			sum.High = p.High
		}
		if p.Low.LessThan(sum.Low) {
			sum.Low = p.Low
		}
		typical := p.High.Add(p.Low).Add(p.Close).Div(three)
		typicalSum = typicalSum.Add(typical)
		weighted = weighted.Add(typical.Mul(decimal.NewFromInt(p.Volume)))
		sum.Volume += p.Volume
	}

	if sum.Volume > 0 {
		sum.VWAP = weighted.Div(decimal.NewFromInt(sum.Volume)).Round(4)
	} else {
		sum.VWAP = typicalSum.Div(decimal.NewFromInt(int64(s.Len()))).Round(4)
	}

	if span := sum.High.Sub(sum.Low); span.IsPositive() {
		pos := last.Close.Sub(sum.Low).Div(span).InexactFloat64()
		sum.Position = min(max(pos, 0), 1)
	}
	return sum, nil
}

const (
	// SparklineWidth is the number of trailing closes a sparkline shows
	SparklineWidth = 64
	sparklineFloor = 1e-4
)

// Sparkline scales the trailing closes onto 1..101. A flat window uses a
// unit span so every bar reads 1.
func Sparkline(closes []float64) []int {
	if len(closes) == 0 {
		return []int{0}
	}
	if len(closes) > SparklineWidth {
		closes = closes[len(closes)-SparklineWidth:]
	}

	lo, hi := closes[0], closes[0]
	for _, c := range closes[1:] {
		lo = min(lo, c)
		hi = max(hi, c)
	}
	span := hi - lo
	if span <= sparklineFloor {
		span = 1
	}

	out := make([]int, len(closes))
	for i, c := range closes {
		out[i] = int((c-lo)/span*100) + 1
	}
	return out
}
