package presenter

import (
	"encoding/csv"
	"strconv"
	"strings"

	"mkts/internal/market"
	"mkts/internal/metrics"
)

var csvHeader = []string{"symbol", "date", "open", "high", "low", "close", "volume", "return", "sma", "ema"}

// renderCSV writes one row per price point. Metric columns are empty
// where the metric is undefined.
func renderCSV(reports []Report) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(csvHeader); err != nil {
		return "", err
	}

	for _, r := range reports {
		if r.Series == nil {
			continue
		}
		var returns, sma, ema []metrics.Observation
		if r.Metrics != nil {
			returns, sma, ema = r.Metrics.Returns, r.Metrics.SMA, r.Metrics.EMA
		}

		for i, p := range r.Series.Points() {
			row := []string{
				r.Symbol.String(),
				market.FormatDate(p.Date),
				p.Open.String(),
				p.High.String(),
				p.Low.String(),
				p.Close.String(),
				strconv.FormatInt(p.Volume, 10),
				// returns[i-1] belongs to point i
				cell(returns, i-1),
				cell(sma, i),
				cell(ema, i),
			}
			if err := w.Write(row); err != nil {
				return "", err
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return b.String(), nil
}

func cell(obs []metrics.Observation, i int) string {
	if i < 0 || i >= len(obs) || !obs[i].Defined {
		return ""
	}
	return strconv.FormatFloat(obs[i].Value, 'f', -1, 64)
}
