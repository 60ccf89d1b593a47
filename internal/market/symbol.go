package market

import (
	"strings"
)

const maxSymbolLen = 10

// Symbol is a validated, upper-case ticker symbol such as "VOO"
type Symbol string

// ParseSymbol trims and upper-cases raw and validates it. Letters, digits,
// dot and hyphen are accepted, 1 to 10 characters long.
func ParseSymbol(raw string) (Symbol, error) {
	s := Symbol(strings.ToUpper(strings.TrimSpace(raw)))
	if reason := s.check(); reason != "" {
		return "", NewInvalidSymbolError(raw, reason)
	}
	return s, nil
}

// Validate checks the charset and length rule
func (s Symbol) Validate() error {
	if reason := s.check(); reason != "" {
		return NewInvalidSymbolError(string(s), reason)
	}
	return nil
}

func (s Symbol) check() string {
	if len(s) == 0 {
		return "symbol is empty"
	}
	if len(s) > maxSymbolLen {
		return "symbol is longer than 10 characters"
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
		default:
			return "only letters, digits, '.' and '-' are allowed"
		}
	}
	return ""
}

// String returns the symbol text
func (s Symbol) String() string { return string(s) }
