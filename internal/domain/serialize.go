package domain

import (
	"math"
	"strconv"
	"strings"
)

const (
	// OutputDelimiter separates fields in an output row.
	OutputDelimiter = ";"

	// Header is the first line of every output file.
	Header = "uf;ano;mes;chuva;dengue"
)

// Fields returns the row in output column order.
func (r OutputRow) Fields() []string {
	return []string{r.UF, r.Year, r.Month, r.Chuva, r.Dengue}
}

// FormatRow serializes a row as one delimited output line, without a trailing newline.
func FormatRow(r OutputRow) string {
	return strings.Join(r.Fields(), OutputDelimiter)
}

// FormatRainfall renders a rainfall total in its shortest round-trip form,
// always carrying a fractional part ("504.0", "950.8"). Magnitudes of 1e16
// and above, or below 1e-4, switch to exponent notation ("1e+16").
func FormatRainfall(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}

	if abs := math.Abs(v); abs != 0 && (abs >= 1e16 || abs < 1e-4) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}

	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
