package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// RainDelimiter separates fields in a rainfall input line.
const RainDelimiter = ","

// RainColumns is the positional layout of a rainfall input line.
var RainColumns = []string{"data", "mm", "uf"}

// RainReading is one rainfall reading keyed for aggregation.
type RainReading struct {
	Key     AggregateKey
	MM      float64
	Clamped bool // the source value was negative and was replaced by zero
}

// SplitRainLine splits a raw rainfall line into its positional fields.
func SplitRainLine(line string) []string {
	return strings.Split(line, RainDelimiter)
}

// ParseMillimeters parses a rainfall value in millimeters.
func ParseMillimeters(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRainfall, s)
	}
	return v, nil
}

// ParseRainFields derives the aggregate key and clamped value of a reading.
func ParseRainFields(fields []string) (RainReading, error) {
	if len(fields) != len(RainColumns) {
		return RainReading{}, fmt.Errorf("%w: want %d rain fields, got %d",
			ErrMalformedLine, len(RainColumns), len(fields))
	}
	data, mm, uf := fields[0], fields[1], fields[2]

	v, err := ParseMillimeters(mm)
	if err != nil {
		return RainReading{Key: NewAggregateKey(uf, YearMonth(data))}, err
	}

	reading := RainReading{Key: NewAggregateKey(uf, YearMonth(data)), MM: v}
	if v < 0 {
		reading.MM = 0
		reading.Clamped = true
	}
	if reading.MM == 0 {
		// normalizes -0 so an all-zero month prints as "0.0"
		reading.MM = 0
	}
	return reading, nil
}

// ParseRainLine splits and parses a raw rainfall line.
func ParseRainLine(line string) (RainReading, error) {
	return ParseRainFields(SplitRainLine(line))
}

// SumRainfall combines two partial rainfall totals.
func SumRainfall(a, b float64) float64 {
	return a + b
}

// RoundRainfall rounds a rainfall total to one decimal place. Rounding is
// decided on the exact binary value with ties to even, so 950.8000000000028
// becomes 950.8 and 0.25 becomes 0.2.
func RoundRainfall(v float64) float64 {
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 1, 64), 64)
	if err != nil {
		return v
	}
	return rounded
}
