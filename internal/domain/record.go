package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedLine is returned when a raw line does not carry the expected number of fields.
	ErrMalformedLine = errors.New("malformed line")

	// ErrInvalidRainfall is returned when a rainfall reading is not numeric.
	ErrInvalidRainfall = errors.New("invalid rainfall reading")

	// ErrMalformedKey is returned when an aggregate key does not split into uf, year and month.
	ErrMalformedKey = errors.New("malformed aggregate key")
)

// RawLine is one undecoded text line handed over by a source adapter.
type RawLine struct {
	Source string // dataset name or file path, used in error messages
	Number int    // 1-based line number in the source, header lines included
	Text   string
}

// AggregateKey identifies one state and calendar month, e.g. "CE-2015-01".
type AggregateKey string

// NewAggregateKey builds the join key from a state code and a year-month string.
func NewAggregateKey(uf, anoMes string) AggregateKey {
	return AggregateKey(uf + "-" + anoMes)
}

// Split decomposes the key into its state, year and month components.
func (k AggregateKey) Split() (uf, year, month string, err error) {
	parts := strings.Split(string(k), "-")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("%w: %q", ErrMalformedKey, string(k))
	}
	return parts[0], parts[1], parts[2], nil
}

// YearMonth returns the first two "-" separated tokens of a date string
// joined by "-". Dates with fewer tokens are returned as far as they go.
func YearMonth(date string) string {
	parts := strings.SplitN(date, "-", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, "-")
}
