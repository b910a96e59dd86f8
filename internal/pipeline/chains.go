package pipeline

import (
	"errors"

	"github.com/apache/beam/sdks/v2/go/pkg/beam"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/register"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/transforms/filter"

	"github.com/couchcryptid/dengue-rain-etl/internal/domain"
)

// Events are tallied next to the data and folded into the run stats.
const (
	eventCasesDefaulted = "cases_defaulted"
	eventRainClamped    = "rain_clamped"
	eventRainDefaulted  = "rain_defaulted"
	eventDengueKey      = "dengue_key"
	eventRainKey        = "rain_key"
	eventJoinKey        = "join_key"
	eventJoinIncomplete = "join_incomplete"
)

func init() {
	register.Function3x0(decodeDengue)
	register.Function1x2(keyByState)
	register.Function4x0(stateCaseCounts)
	register.Function2x1(domain.SumCases)
	register.DoFn4x0[domain.RawLine, func(string, float64), func(domain.Failure), func(string)](&parseRainFn{})
	register.Function2x1(domain.SumRainfall)
	register.Function2x2(roundTotal)
	register.Function5x0(joinTotals)
	register.Function1x1(isComplete)
	register.Function3x0(decomposeRow)

	register.Emitter1[domain.EnrichedDengueRecord]()
	register.Emitter1[domain.Failure]()
	register.Emitter1[domain.JoinedRecord]()
	register.Emitter1[domain.OutputRow]()
	register.Emitter1[string]()
	register.Emitter2[string, int64]()
	register.Emitter2[string, float64]()
	register.Iter1[domain.EnrichedDengueRecord]()
	register.Iter1[float64]()
	register.Iter1[int64]()
}

// DengueOutput holds the collections produced by DengueChain.
type DengueOutput struct {
	Totals   beam.PCollection // KV<string, int64>, case total per aggregate key
	Failures beam.PCollection // domain.Failure
	Events   beam.PCollection // string
}

// DengueChain turns raw dengue lines into per-key case totals: decode and
// enrich every line, group by state, expand each state group into per-month
// case counts, then sum per key.
func DengueChain(s beam.Scope, lines beam.PCollection) DengueOutput {
	s = s.Scope("DengueChain")

	enriched, failures := beam.ParDo2(s, decodeDengue, lines)
	byState := beam.GroupByKey(s, beam.ParDo(s, keyByState, enriched))
	counts, events := beam.ParDo2(s, stateCaseCounts, byState)

	return DengueOutput{
		Totals:   beam.CombinePerKey(s, domain.SumCases, counts),
		Failures: failures,
		Events:   events,
	}
}

func decodeDengue(line domain.RawLine, emit func(domain.EnrichedDengueRecord), fail func(domain.Failure)) {
	rec, err := domain.ParseDengueLine(line.Text)
	if err != nil {
		fail(domain.LineFailure(line, err))
		return
	}
	emit(domain.EnrichMonth(rec))
}

func keyByState(rec domain.EnrichedDengueRecord) (string, domain.EnrichedDengueRecord) {
	return domain.StateKey(rec), rec
}

func stateCaseCounts(uf string, records func(*domain.EnrichedDengueRecord) bool, emit func(string, int64), emitEvent func(string)) {
	var (
		group []domain.EnrichedDengueRecord
		rec   domain.EnrichedDengueRecord
	)
	for records(&rec) {
		group = append(group, rec)
	}

	counts, defaulted := domain.CaseCounts(uf, group)
	for _, c := range counts {
		emit(string(c.Key), c.Cases)
	}
	for range defaulted {
		emitEvent(eventCasesDefaulted)
	}
}

// RainOutput holds the collections produced by RainChain.
type RainOutput struct {
	Totals   beam.PCollection // KV<string, float64>, rounded millimeters per aggregate key
	Failures beam.PCollection // domain.Failure
	Events   beam.PCollection // string
}

// RainChain turns raw rainfall lines into per-key totals rounded to one
// decimal. With strict set, a non-numeric reading is a failure; otherwise
// it counts as zero.
func RainChain(s beam.Scope, lines beam.PCollection, strict bool) RainOutput {
	s = s.Scope("RainChain")

	readings, failures, events := beam.ParDo3(s, &parseRainFn{Strict: strict}, lines)
	sums := beam.CombinePerKey(s, domain.SumRainfall, readings)

	return RainOutput{
		Totals:   beam.ParDo(s, roundTotal, sums),
		Failures: failures,
		Events:   events,
	}
}

type parseRainFn struct {
	Strict bool `json:"strict"`
}

func (f *parseRainFn) ProcessElement(line domain.RawLine, emit func(string, float64), fail func(domain.Failure), emitEvent func(string)) {
	reading, err := domain.ParseRainLine(line.Text)
	if err != nil {
		if f.Strict || !errors.Is(err, domain.ErrInvalidRainfall) {
			fail(domain.LineFailure(line, err))
			return
		}
		emitEvent(eventRainDefaulted)
		reading = domain.RainReading{Key: reading.Key}
	}
	if reading.Clamped {
		emitEvent(eventRainClamped)
	}
	emit(string(reading.Key), reading.MM)
}

func roundTotal(key string, mm float64) (string, float64) {
	return key, domain.RoundRainfall(mm)
}

// JoinOutput holds the collections produced by Join.
type JoinOutput struct {
	Rows     beam.PCollection // domain.OutputRow
	Failures beam.PCollection // domain.Failure
	Events   beam.PCollection // string
}

// Join co-groups both totals by key, keeps the keys present on both sides
// and decomposes them into output rows.
func Join(s beam.Scope, rain, dengue beam.PCollection) JoinOutput {
	s = s.Scope("Join")

	joined, events := beam.ParDo2(s, joinTotals, beam.CoGroupByKey(s, rain, dengue))
	complete := filter.Include(s, joined, isComplete)
	rows, failures := beam.ParDo2(s, decomposeRow, complete)

	return JoinOutput{Rows: rows, Failures: failures, Events: events}
}

func joinTotals(key string, chuvas func(*float64) bool, dengue func(*int64) bool, emit func(domain.JoinedRecord), emitEvent func(string)) {
	var (
		rain  []float64
		cases []int64
		mm    float64
		n     int64
	)
	for chuvas(&mm) {
		rain = append(rain, mm)
	}
	for dengue(&n) {
		cases = append(cases, n)
	}

	rec := domain.NewJoinedRecord(domain.AggregateKey(key), rain, cases)
	emitEvent(eventJoinKey)
	if len(rec.Chuvas) > 0 {
		emitEvent(eventRainKey)
	}
	if len(rec.Dengue) > 0 {
		emitEvent(eventDengueKey)
	}
	if !rec.Complete() {
		emitEvent(eventJoinIncomplete)
	}
	emit(rec)
}

func isComplete(rec domain.JoinedRecord) bool {
	return rec.Complete()
}

func decomposeRow(rec domain.JoinedRecord, emit func(domain.OutputRow), fail func(domain.Failure)) {
	row, err := domain.Decompose(rec)
	if err != nil {
		fail(domain.KeyFailure(rec.Key, err))
		return
	}
	emit(row)
}
