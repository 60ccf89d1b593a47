package market

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func bar(date string, o, h, l, c float64, v int64) PricePoint {
	return PricePoint{
		Date:   day(date),
		Open:   decimal.NewFromFloat(o),
		High:   decimal.NewFromFloat(h),
		Low:    decimal.NewFromFloat(l),
		Close:  decimal.NewFromFloat(c),
		Volume: v,
	}
}

func TestParseSymbol(t *testing.T) {
	tests := []struct {
		raw     string
		want    Symbol
		wantErr bool
	}{
		{"VOO", "VOO", false},
		{" voo ", "VOO", false},
		{"brk.b", "BRK.B", false},
		{"BF-B", "BF-B", false},
		{"ABCDEFGHIJ", "ABCDEFGHIJ", false},
		{"vo o", "", true},
		{"", "", true},
		{"ABCDEFGHIJK", "", true},
		{"AAPL$", "", true},
		{"ÄPL", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseSymbol(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, InvalidSymbol)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSymbol_ValidateZero(t *testing.T) {
	assert.ErrorIs(t, Symbol("").Validate(), InvalidSymbol)
}

func TestDateRange(t *testing.T) {
	_, err := NewDateRange(day("2024-02-01"), day("2024-01-01"))
	require.Error(t, err)

	r, err := NewDateRange(time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC), day("2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01..2024-01-31", r.Key())
	assert.True(t, r.Contains(day("2024-01-15")))
	assert.False(t, r.Contains(day("2024-02-01")))
	assert.True(t, r.Covers(DateRange{From: day("2024-01-02"), To: day("2024-01-31")}))
	assert.False(t, r.Covers(DateRange{From: day("2023-12-31"), To: day("2024-01-31")}))

	tr := TrailingRange(time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC), 10)
	assert.Equal(t, "2024-02-29..2024-03-10", tr.Key())
}

func TestBuild_SortsAndDeduplicates(t *testing.T) {
	raw := []PricePoint{
		bar("2024-01-03", 101, 103, 100, 102, 300),
		bar("2024-01-01", 99, 101, 98, 100, 100),
		bar("2024-01-02", 100, 111, 99, 110, 200),
		bar("2024-01-02", 100, 111, 99, 110, 200),
	}

	s, err := Build("VOO", raw)
	require.NoError(t, err)
	require.Equal(t, 3, s.Len())
	assert.Equal(t, []float64{100, 110, 102}, s.Closes())

	first, ok := s.First()
	require.True(t, ok)
	assert.Equal(t, day("2024-01-01"), first.Date)
}

func TestBuild_DuplicateDisagreement(t *testing.T) {
	raw := []PricePoint{
		bar("2024-01-01", 99, 101, 98, 100, 100),
		bar("2024-01-01", 99, 101, 98, 100.5, 100),
	}

	_, err := Build("VOO", raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, MalformedResponse)
	assert.Contains(t, err.Error(), "2024-01-01")
}

func TestBuild_LowAboveHighFailsWholeBuild(t *testing.T) {
	raw := []PricePoint{
		bar("2024-01-01", 99, 101, 98, 100, 100),
		bar("2024-01-02", 100, 99, 101, 100, 100),
		bar("2024-01-03", 101, 103, 100, 102, 300),
	}

	s, err := Build("VOO", raw)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, InvalidPricePoint)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, day("2024-01-02"), perr.Date)
	assert.Contains(t, err.Error(), "2024-01-02")
}

func TestBuild_Invariants(t *testing.T) {
	tests := []struct {
		name string
		p    PricePoint
	}{
		{"open above high", bar("2024-01-01", 102, 101, 98, 100, 1)},
		{"close below low", bar("2024-01-01", 99, 101, 98, 97, 1)},
		{"zero price", bar("2024-01-01", 0, 101, 0, 100, 1)},
		{"negative volume", bar("2024-01-01", 99, 101, 98, 100, -1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build("VOO", []PricePoint{tt.p})
			assert.ErrorIs(t, err, InvalidPricePoint)
		})
	}
}

func TestBuild_DoesNotAliasInput(t *testing.T) {
	raw := []PricePoint{bar("2024-01-01", 99, 101, 98, 100, 100)}
	s, err := Build("VOO", raw)
	require.NoError(t, err)

	raw[0].Close = decimal.NewFromInt(1)
	assert.Equal(t, 100.0, s.Closes()[0])

	pts := s.Points()
	pts[0].Close = decimal.NewFromInt(1)
	assert.Equal(t, 100.0, s.At(0).Close.InexactFloat64())
}

func TestSeries_Slice(t *testing.T) {
	s, err := Build("VOO", []PricePoint{
		bar("2024-01-01", 99, 101, 98, 100, 100),
		bar("2024-01-02", 100, 111, 99, 110, 200),
		bar("2024-01-03", 101, 103, 100, 102, 300),
		bar("2024-01-04", 101, 103, 100, 101, 300),
	})
	require.NoError(t, err)

	sub, err := s.Slice(day("2024-01-02"), day("2024-01-03"))
	require.NoError(t, err)
	assert.Equal(t, []float64{110, 102}, sub.Closes())
	assert.Equal(t, Symbol("VOO"), sub.Symbol())

	_, err = s.Slice(day("2023-12-31"), day("2024-01-03"))
	assert.ErrorIs(t, err, RangeNotCovered)

	_, err = s.Slice(day("2024-01-02"), day("2024-01-05"))
	assert.ErrorIs(t, err, RangeNotCovered)

	_, err = s.Slice(day("2024-01-03"), day("2024-01-02"))
	assert.ErrorIs(t, err, RangeNotCovered)

	empty, err := Build("VOO", nil)
	require.NoError(t, err)
	_, err = empty.Slice(day("2024-01-01"), day("2024-01-02"))
	assert.ErrorIs(t, err, RangeNotCovered)
}

func TestError_Matching(t *testing.T) {
	err := NewCancelledError("VOO", context.Canceled)
	wrapped := fmt.Errorf("pipeline: %w", err)

	assert.ErrorIs(t, wrapped, Cancelled)
	assert.ErrorIs(t, wrapped, context.Canceled)
	assert.NotErrorIs(t, wrapped, RateLimited)
	assert.Equal(t, Cancelled, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, "cancelled VOO: request cancelled", err.Error())

	withStatus := &Error{Kind: UnknownSymbol, Symbol: "ZZZZ", StatusCode: 404, Message: "not found"}
	assert.Equal(t, "unknown symbol ZZZZ (status 404): not found", withStatus.Error())
}
