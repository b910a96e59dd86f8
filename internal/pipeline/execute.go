package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/apache/beam/sdks/v2/go/pkg/beam"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/register"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/runners/direct"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/transforms/stats"

	"github.com/couchcryptid/dengue-rain-etl/internal/domain"
)

func init() {
	registerJSONCoder[domain.RawLine]()
	registerJSONCoder[domain.EnrichedDengueRecord]()
	registerJSONCoder[domain.JoinedRecord]()
	registerJSONCoder[domain.OutputRow]()
	registerJSONCoder[domain.Failure]()

	register.DoFn1x1[domain.OutputRow, error](&collectRowsFn{})
	register.DoFn1x1[domain.Failure, error](&collectFailuresFn{})
	register.DoFn2x1[string, int, error](&collectTallyFn{})
}

// Result is the outcome of one execution of the job graph.
type Result struct {
	Rows     []domain.OutputRow // ordered by key
	Failures []domain.Failure   // ordered by source and line
	Dengue   DengueStats
	Rain     RainStats
	Join     JoinStats
}

// DengueStats counts what the dengue chain saw.
type DengueStats struct {
	Lines          int `json:"lines"`
	CasesDefaulted int `json:"cases_defaulted"`
	Keys           int `json:"keys"`
}

// RainStats counts what the rain chain saw.
type RainStats struct {
	Lines     int `json:"lines"`
	Clamped   int `json:"clamped"`
	Defaulted int `json:"defaulted"`
	Keys      int `json:"keys"`
}

// JoinStats counts the outcome of the join.
type JoinStats struct {
	Keys       int `json:"keys"`       // keys present in either aggregate
	Incomplete int `json:"incomplete"` // keys dropped for missing one side
	Rows       int `json:"rows"`
}

// Err returns the first failure, or nil when every element was accepted.
func (r Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return r.Failures[0].Err()
}

// Execute builds the job graph over both datasets and runs it on the
// direct runner.
func Execute(ctx context.Context, dengue, rain []domain.RawLine, strict bool) (Result, error) {
	id, out := startRun()
	defer finishRun(id)

	p, s := beam.NewPipelineWithRoot()

	d := DengueChain(s, beam.CreateList(s.Scope("ReadDengue"), dengue))
	r := RainChain(s, beam.CreateList(s.Scope("ReadRain"), rain), strict)
	j := Join(s, r.Totals, d.Totals)

	collect := s.Scope("Collect")
	beam.ParDo0(collect, &collectRowsFn{RunID: id}, j.Rows)
	beam.ParDo0(collect, &collectFailuresFn{RunID: id}, beam.Flatten(collect, d.Failures, r.Failures, j.Failures))
	beam.ParDo0(collect, &collectTallyFn{RunID: id}, stats.Count(collect, beam.Flatten(collect, d.Events, r.Events, j.Events)))

	if _, err := direct.Execute(ctx, p); err != nil {
		return Result{}, fmt.Errorf("execute job graph: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return out.result(len(dengue), len(rain)), nil
}

// runOutput gathers what the collecting stages of one execution observe.
// Stages find their run through the package registry by ID.
type runOutput struct {
	mu       sync.Mutex
	rows     []domain.OutputRow
	failures []domain.Failure
	tallies  map[string]int
}

var (
	runSeq atomic.Uint64
	runs   sync.Map // run ID -> *runOutput
)

func startRun() (string, *runOutput) {
	id := "run-" + strconv.FormatUint(runSeq.Add(1), 10)
	out := &runOutput{tallies: make(map[string]int)}
	runs.Store(id, out)
	return id, out
}

func finishRun(id string) {
	runs.Delete(id)
}

func lookupRun(id string) (*runOutput, error) {
	v, ok := runs.Load(id)
	if !ok {
		return nil, fmt.Errorf("no active run %q", id)
	}
	return v.(*runOutput), nil
}

func (o *runOutput) result(dengueLines, rainLines int) Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	rows := append([]domain.OutputRow(nil), o.rows...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key() < rows[j].Key() })
	failures := append([]domain.Failure(nil), o.failures...)
	sort.Slice(failures, func(i, j int) bool { return failures[i].Less(failures[j]) })

	t := o.tallies
	return Result{
		Rows:     rows,
		Failures: failures,
		Dengue:   DengueStats{Lines: dengueLines, CasesDefaulted: t[eventCasesDefaulted], Keys: t[eventDengueKey]},
		Rain:     RainStats{Lines: rainLines, Clamped: t[eventRainClamped], Defaulted: t[eventRainDefaulted], Keys: t[eventRainKey]},
		Join:     JoinStats{Keys: t[eventJoinKey], Incomplete: t[eventJoinIncomplete], Rows: len(rows)},
	}
}

type collectRowsFn struct {
	RunID string `json:"run_id"`
}

func (f *collectRowsFn) ProcessElement(row domain.OutputRow) error {
	out, err := lookupRun(f.RunID)
	if err != nil {
		return err
	}
	out.mu.Lock()
	out.rows = append(out.rows, row)
	out.mu.Unlock()
	return nil
}

type collectFailuresFn struct {
	RunID string `json:"run_id"`
}

func (f *collectFailuresFn) ProcessElement(failure domain.Failure) error {
	out, err := lookupRun(f.RunID)
	if err != nil {
		return err
	}
	out.mu.Lock()
	out.failures = append(out.failures, failure)
	out.mu.Unlock()
	return nil
}

type collectTallyFn struct {
	RunID string `json:"run_id"`
}

func (f *collectTallyFn) ProcessElement(event string, n int) error {
	out, err := lookupRun(f.RunID)
	if err != nil {
		return err
	}
	out.mu.Lock()
	out.tallies[event] += n
	out.mu.Unlock()
	return nil
}

// registerJSONCoder encodes T with its JSON form wherever the runner needs
// to materialize it.
func registerJSONCoder[T any]() {
	beam.RegisterCoder(reflect.TypeFor[T](), encodeJSON[T], decodeJSON[T])
}

func encodeJSON[T any](v T) ([]byte, error) {
	return json.Marshal(v)
}

func decodeJSON[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
