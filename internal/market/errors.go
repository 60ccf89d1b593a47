package market

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the category of a pipeline failure. Kinds are themselves errors so
// callers can match them with errors.Is.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	// InvalidSymbol indicates the symbol failed the charset/length check
	InvalidSymbol Kind = "invalid symbol"
	// UnknownSymbol indicates the provider rejected the request (HTTP 4xx except 429)
	UnknownSymbol Kind = "unknown symbol"
	// RateLimited indicates the provider kept throttling past the retry budget
	RateLimited Kind = "rate limited"
	// ProviderUnavailable indicates transport failures or 5xx past the retry budget
	ProviderUnavailable Kind = "provider unavailable"
	// MalformedResponse indicates the provider payload could not be turned into a series
	MalformedResponse Kind = "malformed response"
	// InvalidPricePoint indicates a row violated the OHLC invariants
	InvalidPricePoint Kind = "invalid price point"
	// RangeNotCovered indicates a slice outside the stored date range
	RangeNotCovered Kind = "range not covered"
	// InsufficientData indicates a window longer than the available data
	InsufficientData Kind = "insufficient data"
	// UnsupportedFormat indicates an unknown output format
	UnsupportedFormat Kind = "unsupported format"
	// Cancelled indicates the caller's context ended before a result was available
	Cancelled Kind = "cancelled"
)

// Error is the structured error returned by every stage of the pipeline
type Error struct {
	Kind       Kind
	Symbol     string
	Date       time.Time
	StatusCode int
	// RetryAfter is the provider's back-off hint, zero when absent
	RetryAfter time.Duration
	Retryable  bool
	Message    string
	Cause      error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Symbol != "" {
		fmt.Fprintf(&b, " %s", e.Symbol)
	}
	if !e.Date.IsZero() {
		fmt.Fprintf(&b, " on %s", FormatDate(e.Date))
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Errorf creates a non-retryable error of the given kind
func Errorf(kind Kind, symbol string, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Symbol:  symbol,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewInvalidSymbolError creates an InvalidSymbol error
func NewInvalidSymbolError(raw, reason string) *Error {
	return &Error{Kind: InvalidSymbol, Symbol: fmt.Sprintf("%q", raw), Message: reason}
}

// NewPricePointError creates an InvalidPricePoint error naming the offending date
func NewPricePointError(symbol string, date time.Time, reason string) *Error {
	return &Error{Kind: InvalidPricePoint, Symbol: symbol, Date: date, Message: reason}
}

// NewCancelledError wraps a context error
func NewCancelledError(symbol string, cause error) *Error {
	return &Error{Kind: Cancelled, Symbol: symbol, Message: "request cancelled", Cause: cause}
}

// KindOf returns the kind of the outermost pipeline error in err's chain, or
// "" when there is none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return ""
}
