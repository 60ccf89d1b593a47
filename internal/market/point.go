package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one daily OHLCV bar
type PricePoint struct {
	Date   time.Time       `json:"date" yaml:"date"`
	Open   decimal.Decimal `json:"open" yaml:"open"`
	High   decimal.Decimal `json:"high" yaml:"high"`
	Low    decimal.Decimal `json:"low" yaml:"low"`
	Close  decimal.Decimal `json:"close" yaml:"close"`
	Volume int64           `json:"volume" yaml:"volume"`
}

// Validate checks low <= open,close <= high, positive prices and a
// non-negative volume
func (p PricePoint) Validate(symbol string) error {
	fail := func(reason string) error {
		return NewPricePointError(symbol, p.Date, reason)
	}
	switch {
	case p.Date.IsZero():
		return fail("missing date")
	case !p.Low.IsPositive() || !p.Open.IsPositive() || !p.High.IsPositive() || !p.Close.IsPositive():
		return fail("prices must be positive")
	case p.Low.GreaterThan(p.High):
		return fail("low " + p.Low.String() + " is above high " + p.High.String())
	case p.Open.LessThan(p.Low) || p.Open.GreaterThan(p.High):
		return fail("open " + p.Open.String() + " is outside low/high")
	case p.Close.LessThan(p.Low) || p.Close.GreaterThan(p.High):
		return fail("close " + p.Close.String() + " is outside low/high")
	case p.Volume < 0:
		return fail("volume is negative")
	}
	return nil
}

// sameValues reports whether two bars agree within tol on every price and
// exactly on volume
func (p PricePoint) sameValues(o PricePoint, tol decimal.Decimal) bool {
	near := func(a, b decimal.Decimal) bool {
		return a.Sub(b).Abs().LessThanOrEqual(tol)
	}
	return near(p.Open, o.Open) && near(p.High, o.High) && near(p.Low, o.Low) &&
		near(p.Close, o.Close) && p.Volume == o.Volume
}
