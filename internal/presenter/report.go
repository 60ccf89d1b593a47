package presenter

import (
	"mkts/internal/market"
	"mkts/internal/metrics"
)

// Report is everything known about one symbol after a pipeline run
type Report struct {
	Symbol   market.Symbol
	Provider string
	Range    market.DateRange
	Series   *market.Series
	Metrics  *metrics.Result
	Cached   bool
}

type rangeDoc struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

type pointDoc struct {
	Date   string `json:"date" yaml:"date"`
	Open   string `json:"open" yaml:"open"`
	High   string `json:"high" yaml:"high"`
	Low    string `json:"low" yaml:"low"`
	Close  string `json:"close" yaml:"close"`
	Volume int64  `json:"volume" yaml:"volume"`
}

// document is the structured (JSON and YAML) form of a Report
type document struct {
	Symbol   string          `json:"symbol" yaml:"symbol"`
	Provider string          `json:"provider,omitempty" yaml:"provider,omitempty"`
	Range    rangeDoc        `json:"range" yaml:"range"`
	Cached   bool            `json:"cached" yaml:"cached"`
	AsOf     string          `json:"as_of,omitempty" yaml:"as_of,omitempty"`
	Points   []pointDoc      `json:"points" yaml:"points"`
	Metrics  *metrics.Result `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

func newDocument(r Report) document {
	d := document{
		Symbol:   r.Symbol.String(),
		Provider: r.Provider,
		Range:    rangeDoc{From: market.FormatDate(r.Range.From), To: market.FormatDate(r.Range.To)},
		Cached:   r.Cached,
		Points:   []pointDoc{},
		Metrics:  r.Metrics,
	}
	if r.Series != nil {
		for _, p := range r.Series.Points() {
			d.Points = append(d.Points, pointDoc{
				Date:   market.FormatDate(p.Date),
				Open:   p.Open.String(),
				High:   p.High.String(),
				Low:    p.Low.String(),
				Close:  p.Close.String(),
				Volume: p.Volume,
			})
		}
	}
	if r.Metrics != nil {
		d.AsOf = market.FormatDate(r.Metrics.Summary.LastDate)
	}
	return d
}
