package presenter

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"mkts/internal/metrics"
)

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

func renderTable(r Report) (string, error) {
	var b strings.Builder

	header := fmt.Sprintf("%s  %s", r.Symbol, r.Range)
	if r.Series != nil {
		header += fmt.Sprintf("  %s bars", humanize.Comma(int64(r.Series.Len())))
	}
	if r.Provider != "" {
		header += "  via " + r.Provider
	}
	if r.Cached {
		header += "  (cached)"
	}
	b.WriteString(header + "\n")

	m := r.Metrics
	if m == nil {
		return b.String(), nil
	}
	s := m.Summary

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AS OF\tLAST\tCHG\tCHG%\tOPEN\tHIGH\tLOW\tVWAP\tVOLUME")
	fmt.Fprintf(tw, "%s\t%s\t%s\t%+.2f%%\t%s\t%s\t%s\t%s\t%s\n",
		s.LastDate.Format("2006-01-02"),
		s.Last.StringFixed(2),
		signed(s.Change),
		s.ChangePct,
		s.Open.StringFixed(2),
		s.High.StringFixed(2),
		s.Low.StringFixed(2),
		s.VWAP.StringFixed(2),
		humanize.Comma(s.Volume),
	)
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "SMA(%d)\tEMA(%d)\tVOL(%d)\tRANGE\n", m.Params.SMAWindow, m.Params.EMAWindow, m.Params.VolWindow)
	fmt.Fprintf(tw, "%s\t%s\t%.2f%%\t%s %.0f%%\n",
		lastValue(m.SMA),
		lastValue(m.EMA),
		m.Volatility*100,
		gauge(s.Position, 10),
		s.Position*100,
	)
	if err := tw.Flush(); err != nil {
		return "", err
	}

	b.WriteString(spark(m.Sparkline) + "\n")
	return b.String(), nil
}

func signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}

func lastValue(obs []metrics.Observation) string {
	o, ok := metrics.Last(obs)
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.2f", o.Value)
}

// gauge draws pos (0..1) as a bar of the given width
func gauge(pos float64, width int) string {
	filled := int(pos*float64(width) + 0.5)
	filled = min(max(filled, 0), width)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

// spark maps 1..101 sparkline levels onto block runes; 0 is blank
func spark(levels []int) string {
	var b strings.Builder
	for _, v := range levels {
		if v <= 0 {
			b.WriteRune(' ')
			continue
		}
		i := (v - 1) * (len(sparkRunes) - 1) / 100
		b.WriteRune(sparkRunes[min(i, len(sparkRunes)-1)])
	}
	return b.String()
}
