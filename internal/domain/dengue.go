package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DengueDelimiter separates fields in a dengue input line.
const DengueDelimiter = "|"

// DengueColumns is the positional layout of a dengue input line.
var DengueColumns = []string{
	"id", "data_iniSE", "casos", "ibge_code", "cidade", "uf", "cep", "latitude", "longitude",
}

// DengueRecord is one dengue notification row with its columns named.
type DengueRecord struct {
	ID        string `json:"id"`
	DataIniSE string `json:"data_iniSE"`
	Casos     string `json:"casos"`
	IBGECode  string `json:"ibge_code"`
	Cidade    string `json:"cidade"`
	UF        string `json:"uf"`
	CEP       string `json:"cep"`
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

// EnrichedDengueRecord is a DengueRecord with its year-month derived.
type EnrichedDengueRecord struct {
	DengueRecord
	AnoMes string `json:"ano_mes"`
}

// CaseCount is the case total contributed by one record to an aggregate key.
type CaseCount struct {
	Key   AggregateKey
	Cases int64
}

// SplitDengueLine splits a raw dengue line into its positional fields.
func SplitDengueLine(line string) []string {
	return strings.Split(line, DengueDelimiter)
}

// NewDengueRecord zips DengueColumns against the positional fields.
func NewDengueRecord(fields []string) (DengueRecord, error) {
	if len(fields) != len(DengueColumns) {
		return DengueRecord{}, fmt.Errorf("%w: want %d dengue fields, got %d",
			ErrMalformedLine, len(DengueColumns), len(fields))
	}

	var rec DengueRecord
	for i, col := range DengueColumns {
		rec.set(col, fields[i])
	}
	return rec, nil
}

func (r *DengueRecord) set(column, value string) {
	switch column {
	case "id":
		r.ID = value
	case "data_iniSE":
		r.DataIniSE = value
	case "casos":
		r.Casos = value
	case "ibge_code":
		r.IBGECode = value
	case "cidade":
		r.Cidade = value
	case "uf":
		r.UF = value
	case "cep":
		r.CEP = value
	case "latitude":
		r.Latitude = value
	case "longitude":
		r.Longitude = value
	}
}

// ParseDengueLine splits and names a raw dengue line.
func ParseDengueLine(line string) (DengueRecord, error) {
	return NewDengueRecord(SplitDengueLine(line))
}

// EnrichMonth derives the year-month of the notification week.
func EnrichMonth(rec DengueRecord) EnrichedDengueRecord {
	return EnrichedDengueRecord{
		DengueRecord: rec,
		AnoMes:       YearMonth(rec.DataIniSE),
	}
}

// StateKey returns the grouping key used before per-month expansion.
func StateKey(rec EnrichedDengueRecord) string {
	return rec.UF
}

// ParseCases parses a case count. Numeric text, fractional included, is
// truncated toward zero. The second result is false when s is not a finite
// number representable as int64.
func ParseCases(s string) (int64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	v = math.Trunc(v)
	if v >= math.MaxInt64 || v < math.MinInt64 {
		return 0, false
	}
	return int64(v), true
}

// CaseCounts expands one state group into per-month case counts. Records
// whose casos field does not parse count as zero; the number of such records
// is returned alongside.
func CaseCounts(uf string, records []EnrichedDengueRecord) ([]CaseCount, int) {
	counts := make([]CaseCount, 0, len(records))
	defaulted := 0
	for _, rec := range records {
		cases, ok := ParseCases(rec.Casos)
		if !ok {
			cases = 0
			defaulted++
		}
		counts = append(counts, CaseCount{Key: NewAggregateKey(uf, rec.AnoMes), Cases: cases})
	}
	return counts, defaulted
}

// SumCases combines two partial case totals.
func SumCases(a, b int64) int64 {
	return a + b
}
