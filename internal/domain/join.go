package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// errIncompleteRecord is returned by Decompose for records missing either side.
var errIncompleteRecord = errors.New("joined record is missing rain or dengue totals")

// JoinedRecord holds both totals for one key. Each slice is empty when the
// corresponding dataset has no total for the key and holds one value otherwise.
type JoinedRecord struct {
	Key    AggregateKey `json:"key"`
	Chuvas []float64    `json:"chuvas"`
	Dengue []int64      `json:"dengue"`
}

// NewJoinedRecord assembles the co-grouped totals of key. Missing sides
// become empty, never nil, slices.
func NewJoinedRecord(key AggregateKey, chuvas []float64, dengue []int64) JoinedRecord {
	if chuvas == nil {
		chuvas = []float64{}
	}
	if dengue == nil {
		dengue = []int64{}
	}
	return JoinedRecord{Key: key, Chuvas: chuvas, Dengue: dengue}
}

// Complete reports whether both totals are present.
func (j JoinedRecord) Complete() bool {
	return len(j.Chuvas) > 0 && len(j.Dengue) > 0
}

// OutputRow is the decomposed, stringified form of a complete JoinedRecord.
type OutputRow struct {
	UF     string
	Year   string
	Month  string
	Chuva  string
	Dengue string
}

// Key rebuilds the aggregate key the row was decomposed from.
func (r OutputRow) Key() AggregateKey {
	return AggregateKey(r.UF + "-" + r.Year + "-" + r.Month)
}

// Decompose splits the key of a complete record and stringifies both totals.
func Decompose(rec JoinedRecord) (OutputRow, error) {
	if !rec.Complete() {
		return OutputRow{}, fmt.Errorf("decompose %q: %w", string(rec.Key), errIncompleteRecord)
	}
	uf, year, month, err := rec.Key.Split()
	if err != nil {
		return OutputRow{}, fmt.Errorf("decompose: %w", err)
	}
	return OutputRow{
		UF:     uf,
		Year:   year,
		Month:  month,
		Chuva:  FormatRainfall(rec.Chuvas[0]),
		Dengue: strconv.FormatInt(rec.Dengue[0], 10),
	}, nil
}
