package metrics

import (
	"mkts/internal/market"
)

const (
	// DefaultWindow is the default SMA, EMA and volatility window
	DefaultWindow = 20
	// DefaultPeriodsPerYear annualises daily volatility
	DefaultPeriodsPerYear = 252
)

// Params selects the windows for one computation
type Params struct {
	SMAWindow      int     `json:"sma_window" yaml:"sma_window"`
	EMAWindow      int     `json:"ema_window" yaml:"ema_window"`
	VolWindow      int     `json:"vol_window" yaml:"vol_window"`
	PeriodsPerYear float64 `json:"periods_per_year" yaml:"periods_per_year"`
}

// DefaultParams returns the windows used when none are configured
func DefaultParams() Params {
	return Params{
		SMAWindow:      DefaultWindow,
		EMAWindow:      DefaultWindow,
		VolWindow:      DefaultWindow,
		PeriodsPerYear: DefaultPeriodsPerYear,
	}
}

// Result holds every metric derived from one series with one Params.
// It is never updated; recompute with new Params instead.
type Result struct {
	Params     Params        `json:"params" yaml:"params"`
	Summary    Summary       `json:"summary" yaml:"summary"`
	Returns    []Observation `json:"returns" yaml:"returns"`
	SMA        []Observation `json:"sma" yaml:"sma"`
	EMA        []Observation `json:"ema" yaml:"ema"`
	Volatility float64       `json:"volatility" yaml:"volatility"`
	Sparkline  []int         `json:"sparkline" yaml:"sparkline"`
}

// Compute derives every metric. It fails with InsufficientData when the
// series is shorter than any requested window.
func Compute(s *market.Series, p Params) (*Result, error) {
	if p.PeriodsPerYear <= 0 {
		p.PeriodsPerYear = DefaultPeriodsPerYear
	}

	summary, err := Summarize(s)
	if err != nil {
		return nil, err
	}
	returns, err := Returns(s)
	if err != nil {
		return nil, err
	}
	sma, err := SMA(s, p.SMAWindow)
	if err != nil {
		return nil, err
	}
	ema, err := EMA(s, p.EMAWindow)
	if err != nil {
		return nil, err
	}
	vol, err := Volatility(s, p.VolWindow, p.PeriodsPerYear)
	if err != nil {
		return nil, err
	}

	return &Result{
		Params:     p,
		Summary:    summary,
		Returns:    returns,
		SMA:        sma,
		EMA:        ema,
		Volatility: vol,
		Sparkline:  Sparkline(s.Closes()),
	}, nil
}

// Last returns the final defined value of obs
func Last(obs []Observation) (Observation, bool) {
	for i := len(obs) - 1; i >= 0; i-- {
		if obs[i].Defined {
			return obs[i], true
		}
	}
	return Observation{}, false
}
