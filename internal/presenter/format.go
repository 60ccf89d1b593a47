package presenter

import (
	"strings"

	"mkts/internal/market"
)

// Format selects an output rendering
type Format string

const (
	// FormatTable is the aligned terminal panel with a sparkline
	FormatTable Format = "table"
	// FormatJSON is an indented JSON document
	FormatJSON Format = "json"
	// FormatYAML is a YAML document
	FormatYAML Format = "yaml"
	// FormatCSV is one row per bar with the per-bar metrics
	FormatCSV Format = "csv"
)

// Formats lists every supported format
var Formats = []Format{FormatTable, FormatJSON, FormatYAML, FormatCSV}

// ParseFormat resolves a user-supplied format name, case-insensitively
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	names := make([]string, len(Formats))
	for i, known := range Formats {
		names[i] = string(known)
	}
	return "", market.Errorf(market.UnsupportedFormat, "", "%q (want one of %s)", s, strings.Join(names, ", "))
}
