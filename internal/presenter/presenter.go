// Package presenter turns pipeline reports into text. Rendering never
// writes anywhere; callers print the returned string.
package presenter

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"mkts/internal/market"
)

// Render formats a single report
func Render(r Report, f Format) (string, error) {
	switch f {
	case FormatTable:
		return renderTable(r)
	case FormatJSON:
		return renderJSON(newDocument(r))
	case FormatYAML:
		return renderYAML(newDocument(r))
	case FormatCSV:
		return renderCSV([]Report{r})
	default:
		return "", market.Errorf(market.UnsupportedFormat, r.Symbol.String(), "%q", string(f))
	}
}

// RenderBatch formats several reports as one document: a JSON array, a
// YAML sequence, one CSV with a single header, or tables separated by a
// blank line
func RenderBatch(reports []Report, f Format) (string, error) {
	switch f {
	case FormatTable:
		parts := make([]string, 0, len(reports))
		for _, r := range reports {
			s, err := renderTable(r)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, "\n"), nil
	case FormatJSON, FormatYAML:
		docs := make([]document, len(reports))
		for i, r := range reports {
			docs[i] = newDocument(r)
		}
		if f == FormatJSON {
			return renderJSON(docs)
		}
		return renderYAML(docs)
	case FormatCSV:
		return renderCSV(reports)
	default:
		return "", market.Errorf(market.UnsupportedFormat, "", "%q", string(f))
	}
}

func renderJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(b) + "\n", nil
}

func renderYAML(v any) (string, error) {
	var b strings.Builder
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode yaml: %w", err)
	}
	return b.String(), nil
}
