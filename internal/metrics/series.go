package metrics

import (
	"encoding/json"
	"math"
	"time"

	"mkts/internal/market"
)

// Observation is one dated value of a derived series. Points before a
// window fills are present but not Defined.
type Observation struct {
	Date    time.Time
	Value   float64
	Defined bool
}

type observationJSON struct {
	Date  string   `json:"date" yaml:"date"`
	Value *float64 `json:"value" yaml:"value"`
}

func (o Observation) wire() observationJSON {
	w := observationJSON{Date: market.FormatDate(o.Date)}
	if o.Defined {
		v := o.Value
		w.Value = &v
	}
	return w
}

// MarshalJSON renders undefined observations as a null value
func (o Observation) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.wire())
}

// MarshalYAML implements yaml.Marshaler
func (o Observation) MarshalYAML() (any, error) {
	return o.wire(), nil
}

// Returns computes simple close-to-close returns. The result has one
// observation per point after the first.
func Returns(s *market.Series) ([]Observation, error) {
	if s.Len() == 0 {
		return nil, insufficient(s, "no price points")
	}
	closes := s.Closes()
	dates := s.Dates()
	out := make([]Observation, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		out = append(out, Observation{
			Date:    dates[i],
			Value:   (closes[i] - closes[i-1]) / closes[i-1],
			Defined: true,
		})
	}
	return out, nil
}

// SMA computes the simple moving average of closes over window points
func SMA(s *market.Series, window int) ([]Observation, error) {
	if err := checkWindow(s, window, s.Len(), "SMA"); err != nil {
		return nil, err
	}
	closes := s.Closes()
	dates := s.Dates()
	out := make([]Observation, len(closes))

	var sum float64
	for i, c := range closes {
		sum += c
		if i >= window {
			sum -= closes[i-window]
		}
		out[i] = Observation{Date: dates[i]}
		if i >= window-1 {
			out[i].Value = sum / float64(window)
			out[i].Defined = true
		}
	}
	return out, nil
}

// EMA computes the exponential moving average of closes, seeded with the
// simple average of the first window points
func EMA(s *market.Series, window int) ([]Observation, error) {
	if err := checkWindow(s, window, s.Len(), "EMA"); err != nil {
		return nil, err
	}
	closes := s.Closes()
	dates := s.Dates()
	out := make([]Observation, len(closes))
	alpha := 2 / float64(window+1)

	var seed float64
	for i := 0; i < window; i++ {
		seed += closes[i]
		out[i] = Observation{Date: dates[i]}
	}
	prev := seed / float64(window)
	out[window-1].Value = prev
	out[window-1].Defined = true

	for i := window; i < len(closes); i++ {
		prev = alpha*closes[i] + (1-alpha)*prev
		out[i] = Observation{Date: dates[i], Value: prev, Defined: true}
	}
	return out, nil
}

// Volatility is the sample standard deviation of the trailing window
// returns, annualised by sqrt(periodsPerYear)
func Volatility(s *market.Series, window int, periodsPerYear float64) (float64, error) {
	if window < 2 {
		return 0, insufficient(s, "volatility window %d needs at least 2 returns", window)
	}
	returns, err := Returns(s)
	if err != nil {
		return 0, err
	}
	if len(returns) < window {
		return 0, insufficient(s, "volatility window %d exceeds %d available returns", window, len(returns))
	}
	if periodsPerYear <= 0 {
		periodsPerYear = DefaultPeriodsPerYear
	}

	tail := returns[len(returns)-window:]
	var mean float64
	for _, r := range tail {
		mean += r.Value
	}
	mean /= float64(window)

	var ss float64
	for _, r := range tail {
		d := r.Value - mean
		ss += d * d
	}
	return math.Sqrt(ss/float64(window-1)) * math.Sqrt(periodsPerYear), nil
}

func checkWindow(s *market.Series, window, n int, name string) error {
	if window <= 0 {
		return insufficient(s, "%s window must be positive, got %d", name, window)
	}
	if window > n {
		return insufficient(s, "%s window %d exceeds %d price points", name, window, n)
	}
	return nil
}

func insufficient(s *market.Series, format string, args ...any) error {
	return market.Errorf(market.InsufficientData, s.Symbol().String(), format, args...)
}
