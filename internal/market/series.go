package market

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// duplicateTolerance is the largest per-field price disagreement accepted
// between two rows for the same date
var duplicateTolerance = decimal.New(1, -6)

// Series is an ordered, duplicate-free daily history for one symbol. It is
// read-only once built.
type Series struct {
	symbol Symbol
	points []PricePoint
}

// Build sorts raw by date, drops repeated dates (keeping the first row) and
// validates every row. One bad row fails the whole build.
func Build(symbol Symbol, raw []PricePoint) (*Series, error) {
	points := make([]PricePoint, len(raw))
	copy(points, raw)
	for i := range points {
		points[i].Date = Date(points[i].Date)
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})

	out := points[:0]
	for _, p := range points {
		if n := len(out); n > 0 && out[n-1].Date.Equal(p.Date) {
			if !out[n-1].sameValues(p, duplicateTolerance) {
				return nil, &Error{
					Kind:    MalformedResponse,
					Symbol:  symbol.String(),
					Date:    p.Date,
					Message: "duplicate rows disagree",
				}
			}
			continue
		}
		if err := p.Validate(symbol.String()); err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	return &Series{symbol: symbol, points: out}, nil
}

// Symbol returns the series' symbol
func (s *Series) Symbol() Symbol { return s.symbol }

// Len returns the number of points
func (s *Series) Len() int { return len(s.points) }

// Points returns a copy of the points in date order
func (s *Series) Points() []PricePoint {
	out := make([]PricePoint, len(s.points))
	copy(out, s.points)
	return out
}

// At returns the i-th point
func (s *Series) At(i int) PricePoint { return s.points[i] }

// First returns the earliest point; ok is false for an empty series
func (s *Series) First() (p PricePoint, ok bool) {
	if len(s.points) == 0 {
		return PricePoint{}, false
	}
	return s.points[0], true
}

// Last returns the latest point; ok is false for an empty series
func (s *Series) Last() (p PricePoint, ok bool) {
	if len(s.points) == 0 {
		return PricePoint{}, false
	}
	return s.points[len(s.points)-1], true
}

// Closes returns the closing prices as float64 in date order
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.points))
	for i, p := range s.points {
		out[i] = p.Close.InexactFloat64()
	}
	return out
}

// Dates returns the point dates in order
func (s *Series) Dates() []time.Time {
	out := make([]time.Time, len(s.points))
	for i, p := range s.points {
		out[i] = p.Date
	}
	return out
}

// Slice returns the points dated within [from, to]. Both ends must lie
// inside the stored range; nothing is truncated silently.
func (s *Series) Slice(from, to time.Time) (*Series, error) {
	from, to = Date(from), Date(to)
	first, ok := s.First()
	if !ok {
		return nil, Errorf(RangeNotCovered, s.symbol.String(), "series is empty")
	}
	last, _ := s.Last()
	if to.Before(from) {
		return nil, Errorf(RangeNotCovered, s.symbol.String(), "end %s is before start %s", FormatDate(to), FormatDate(from))
	}
	if from.Before(first.Date) || to.After(last.Date) {
		return nil, Errorf(RangeNotCovered, s.symbol.String(), "%s..%s is outside stored %s..%s",
			FormatDate(from), FormatDate(to), FormatDate(first.Date), FormatDate(last.Date))
	}

	lo := sort.Search(len(s.points), func(i int) bool { return !s.points[i].Date.Before(from) })
	hi := sort.Search(len(s.points), func(i int) bool { return s.points[i].Date.After(to) })
	return &Series{symbol: s.symbol, points: s.points[lo:hi:hi]}, nil
}
