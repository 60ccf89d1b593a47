package market

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-date layout used on the wire and in cache keys
const DateLayout = "2006-01-02"

// Date truncates t to midnight UTC of its calendar day
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate formats a date as YYYY-MM-DD
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DateRange is an inclusive range of calendar dates
type DateRange struct {
	From time.Time `json:"from" yaml:"from"`
	To   time.Time `json:"to" yaml:"to"`
}

// NewDateRange normalises both ends to calendar dates and checks ordering
func NewDateRange(from, to time.Time) (DateRange, error) {
	r := DateRange{From: Date(from), To: Date(to)}
	if r.To.Before(r.From) {
		return DateRange{}, fmt.Errorf("date range end %s is before start %s", FormatDate(r.To), FormatDate(r.From))
	}
	return r, nil
}

// TrailingRange returns the range of the given number of days ending on today
func TrailingRange(today time.Time, days int) DateRange {
	to := Date(today)
	return DateRange{From: to.AddDate(0, 0, -days), To: to}
}

// Contains reports whether t falls inside the range
func (r DateRange) Contains(t time.Time) bool {
	d := Date(t)
	return !d.Before(r.From) && !d.After(r.To)
}

// Covers reports whether other lies entirely inside r
func (r DateRange) Covers(other DateRange) bool {
	return !other.From.Before(r.From) && !other.To.After(r.To)
}

// Key returns the canonical cache-key form, e.g. 2024-01-01..2024-12-31
func (r DateRange) Key() string {
	return FormatDate(r.From) + ".." + FormatDate(r.To)
}

// String implements fmt.Stringer
func (r DateRange) String() string { return r.Key() }
