package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/apache/beam/sdks/v2/go/pkg/beam"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/register"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/runners/direct"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/testing/passert"
	"github.com/apache/beam/sdks/v2/go/pkg/beam/testing/ptest"
	"github.com/couchcryptid/dengue-rain-etl/internal/domain"
	"github.com/couchcryptid/dengue-rain-etl/internal/observability"
	"github.com/couchcryptid/dengue-rain-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	ptest.Main(m)
}

// --- mocks ---

type mockSource struct {
	lines []domain.RawLine
	err   error
}

func (m *mockSource) ReadLines(ctx context.Context) ([]domain.RawLine, error) {
	if m.err != nil {
		return nil, m.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.lines, nil
}

func sourceOf(name string, texts ...string) *mockSource {
	lines := make([]domain.RawLine, len(texts))
	for i, text := range texts {
		lines[i] = domain.RawLine{Source: name, Number: i + 2, Text: text}
	}
	return &mockSource{lines: lines}
}

type mockLoader struct {
	name   string
	err    error
	loaded []domain.OutputRow
	calls  int
}

func (m *mockLoader) Name() string { return m.name }

func (m *mockLoader) LoadBatch(_ context.Context, rows []domain.OutputRow) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.loaded = append(m.loaded, rows...)
	return nil
}

func newPipeline(dengue, rain pipeline.LineSource, loaders ...pipeline.BatchLoader) (*pipeline.Pipeline, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	p := pipeline.New(dengue, rain, loaders, slog.Default(), metrics, pipeline.Options{RainStrict: true})
	return p, metrics
}

// --- tests ---

func TestPipeline_Run_EndToEnd(t *testing.T) {
	start := time.Date(2024, time.April, 26, 15, 0, 0, 0, time.UTC)
	pipeline.SetClock(clockwork.NewFakeClockAt(start))
	t.Cleanup(func() { pipeline.SetClock(nil) })

	dengue := sourceOf("dengue",
		"1|2015-01-03|10|230010|Abaiara|CE|63240-000|-7.3|-39.0",
		"2|2015-01-10|abc|230010|Abaiara|CE|63240-000|-7.3|-39.0",
		"3|2015-02-07|4.0|230020|Acarape|CE|62785-000|-4.2|-38.7",
		"4|2016-08-01|7|355030|Sao Paulo|SP|01000-000|-23.5|-46.6",
	)
	rain := sourceOf("rain",
		"2015-01-15,504.0,CE",
		"2015-02-01,-5.0,CE",
		"2015-02-02,1.25,CE",
		"2019-04-10,-3.0,RO",
	)
	ldr := &mockLoader{name: "file"}

	p, metrics := newPipeline(dengue, rain, ldr)
	require.Error(t, p.CheckReadiness(context.Background()))
	_, ok := p.LastSummary()
	require.False(t, ok)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	expected := []domain.OutputRow{
		{UF: "CE", Year: "2015", Month: "01", Chuva: "504.0", Dengue: "10"},
		{UF: "CE", Year: "2015", Month: "02", Chuva: "1.2", Dengue: "4"},
	}
	if diff := cmp.Diff(expected, ldr.loaded); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, pipeline.DengueStats{Lines: 4, CasesDefaulted: 1, Keys: 3}, summary.Dengue)
	assert.Equal(t, pipeline.RainStats{Lines: 4, Clamped: 2, Keys: 3}, summary.Rain)
	assert.Equal(t, pipeline.JoinStats{Keys: 4, Incomplete: 2, Rows: 2}, summary.Join)
	assert.Equal(t, start, summary.StartedAt)
	assert.Equal(t, start, summary.CompletedAt)

	assert.NoError(t, p.CheckReadiness(context.Background()))
	last, ok := p.LastSummary()
	require.True(t, ok)
	assert.Equal(t, summary, last)
	assert.InDelta(t, 4, testutil.ToFloat64(metrics.LinesRead.WithLabelValues("dengue")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.CasesDefaulted), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.RainClamped), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.JoinIncomplete), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.RowsWritten.WithLabelValues("file")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.PipelineRunning), 0)
}

func TestPipeline_Run_RainOnlyKeyAbsent(t *testing.T) {
	dengue := sourceOf("dengue", "1|2015-01-03|10|230010|Abaiara|CE|63240-000|-7.3|-39.0")
	rain := sourceOf("rain", "2015-01-15,504.0,CE", "2019-04-10,-3.0,RO")
	ldr := &mockLoader{name: "file"}

	p, _ := newPipeline(dengue, rain, ldr)
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, ldr.loaded, 1)
	for _, row := range ldr.loaded {
		assert.NotEqual(t, domain.AggregateKey("RO-2019-04"), row.Key())
	}
	assert.Equal(t, "CE;2015;01;504.0;10", domain.FormatRow(ldr.loaded[0]))
}

func TestPipeline_Run_LoadsEverySink(t *testing.T) {
	dengue := sourceOf("dengue", "1|2015-01-03|10|230010|Abaiara|CE|63240-000|-7.3|-39.0")
	rain := sourceOf("rain", "2015-01-15,504.0,CE")
	file := &mockLoader{name: "file"}
	sqlite := &mockLoader{name: "sqlite"}

	p, _ := newPipeline(dengue, rain, file, sqlite)
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, file.loaded, sqlite.loaded)
	assert.Len(t, sqlite.loaded, 1)
}

func TestPipeline_Run_MalformedDengueLineFails(t *testing.T) {
	dengue := sourceOf("dengue", "1|2015-01-03|10")
	rain := sourceOf("rain", "2015-01-15,504.0,CE")
	ldr := &mockLoader{name: "file"}

	p, _ := newPipeline(dengue, rain, ldr)
	_, err := p.Run(context.Background())

	require.ErrorIs(t, err, domain.ErrMalformedLine)
	assert.Contains(t, err.Error(), "dengue:2")
	assert.Zero(t, ldr.calls)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_NonNumericRainfall(t *testing.T) {
	dengue := sourceOf("dengue", "1|2015-01-03|10|230010|Abaiara|CE|63240-000|-7.3|-39.0")
	rain := sourceOf("rain", "2015-01-15,504.0,CE", "2015-01-16,n/a,CE")

	t.Run("strict fails the run", func(t *testing.T) {
		ldr := &mockLoader{name: "file"}
		p, _ := newPipeline(dengue, rain, ldr)

		_, err := p.Run(context.Background())
		require.ErrorIs(t, err, domain.ErrInvalidRainfall)
		assert.Contains(t, err.Error(), "rain:3")
		assert.Zero(t, ldr.calls)
	})

	t.Run("lenient counts zero", func(t *testing.T) {
		ldr := &mockLoader{name: "file"}
		metrics := observability.NewMetricsForTesting()
		p := pipeline.New(dengue, rain, []pipeline.BatchLoader{ldr}, slog.Default(), metrics,
			pipeline.Options{RainStrict: false})

		summary, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Rain.Defaulted)
		assert.InDelta(t, 1, testutil.ToFloat64(metrics.RainDefaulted), 0)
		require.Len(t, ldr.loaded, 1)
		assert.Equal(t, "504.0", ldr.loaded[0].Chuva)
	})
}

func TestPipeline_Run_SourceError(t *testing.T) {
	dengue := &mockSource{err: errors.New("disk on fire")}
	rain := sourceOf("rain", "2015-01-15,504.0,CE")

	p, _ := newPipeline(dengue, rain, &mockLoader{name: "file"})
	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read dengue")
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestPipeline_Run_SinkError(t *testing.T) {
	dengue := sourceOf("dengue", "1|2015-01-03|10|230010|Abaiara|CE|63240-000|-7.3|-39.0")
	rain := sourceOf("rain", "2015-01-15,504.0,CE")
	broken := &mockLoader{name: "kafka", err: errors.New("broker down")}
	after := &mockLoader{name: "sqlite"}

	p, metrics := newPipeline(dengue, rain, broken, after)
	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load kafka")
	assert.Zero(t, after.calls)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.SinkErrors.WithLabelValues("kafka")), 0)
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	dengue := sourceOf("dengue", "1|2015-01-03|10|230010|Abaiara|CE|63240-000|-7.3|-39.0")
	rain := sourceOf("rain", "2015-01-15,504.0,CE")
	ldr := &mockLoader{name: "file"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, _ := newPipeline(dengue, rain, ldr)
	_, err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, ldr.calls)
}

func TestPipeline_Run_ReportsEveryRejectedLine(t *testing.T) {
	dengue := sourceOf("dengue",
		"1|2015-01-03|10|230010|Abaiara|CE|63240-000|-7.3|-39.0",
		"2|2015-01-03",
		"3|2015-01-03|10|230010",
	)
	rain := sourceOf("rain", "2015-01-15,504.0,CE")
	ldr := &mockLoader{name: "file"}

	p, _ := newPipeline(dengue, rain, ldr)
	_, err := p.Run(context.Background())

	require.ErrorIs(t, err, domain.ErrMalformedLine)
	assert.Contains(t, err.Error(), "dengue:3")
	assert.Zero(t, ldr.calls)
}

// --- job graph ---

func init() {
	register.Function2x1(formatCaseTotal)
	register.Function2x1(formatRainTotal)
}

func formatCaseTotal(key string, cases int64) string {
	return fmt.Sprintf("%s=%d", key, cases)
}

func formatRainTotal(key string, mm float64) string {
	return key + "=" + domain.FormatRainfall(mm)
}

func rawLines(texts ...string) []domain.RawLine {
	lines := make([]domain.RawLine, len(texts))
	for i, text := range texts {
		lines[i] = domain.RawLine{Source: "test", Number: i + 1, Text: text}
	}
	return lines
}

func runGraph(t *testing.T, p *beam.Pipeline) {
	t.Helper()
	_, err := direct.Execute(context.Background(), p)
	require.NoError(t, err)
}

func TestDengueChain_SumsPerStateMonth(t *testing.T) {
	p, s := beam.NewPipelineWithRoot()
	lines := beam.CreateList(s, rawLines(
		"1|2015-01-03|3|x|x|CE|x|x|x",
		"2|2015-01-10|5|x|x|CE|x|x|x",
		"3|2015-01-17|2.9|x|x|CE|x|x|x",
		"4|2015-01-17||x|x|CE|x|x|x",
		"5|2015-01-17|9|x|x|RJ|x|x|x",
		"6|2015-02-01|1|x|x|RJ|x|x|x",
	))

	out := pipeline.DengueChain(s, lines)

	passert.Equals(s, beam.ParDo(s, formatCaseTotal, out.Totals), "CE-2015-01=10", "RJ-2015-01=9", "RJ-2015-02=1")
	passert.Count(s, out.Events, "cases defaulted", 1)
	passert.Empty(s, out.Failures)
	runGraph(t, p)
}

func TestDengueChain_MalformedLineIsFailure(t *testing.T) {
	p, s := beam.NewPipelineWithRoot()
	out := pipeline.DengueChain(s, beam.CreateList(s, rawLines(
		"1|2015-01-03|3|x|x|CE|x|x|x",
		"2|2015-01-03|3",
	)))

	passert.Equals(s, beam.ParDo(s, formatCaseTotal, out.Totals), "CE-2015-01=3")
	passert.Count(s, out.Failures, "failures", 1)
	runGraph(t, p)
}

func TestRainChain_RoundsSummedTotals(t *testing.T) {
	texts := []string{"2015-01-15,-2.0,CE"}
	// ten readings of 95.08 accumulate floating point error
	for range 10 {
		texts = append(texts, "2019-04-10,95.08,RO")
	}

	p, s := beam.NewPipelineWithRoot()
	out := pipeline.RainChain(s, beam.CreateList(s, rawLines(texts...)), true)

	passert.Equals(s, beam.ParDo(s, formatRainTotal, out.Totals), "RO-2019-04=950.8", "CE-2015-01=0.0")
	passert.Equals(s, out.Events, "rain_clamped")
	passert.Empty(s, out.Failures)
	runGraph(t, p)
}

func TestRainChain_NonNumericReading(t *testing.T) {
	texts := []string{"2015-01-15,504.0,CE", "2015-01-16,n/a,CE"}

	t.Run("strict", func(t *testing.T) {
		p, s := beam.NewPipelineWithRoot()
		out := pipeline.RainChain(s, beam.CreateList(s, rawLines(texts...)), true)

		passert.Equals(s, beam.ParDo(s, formatRainTotal, out.Totals), "CE-2015-01=504.0")
		passert.Count(s, out.Failures, "failures", 1)
		runGraph(t, p)
	})

	t.Run("lenient", func(t *testing.T) {
		p, s := beam.NewPipelineWithRoot()
		out := pipeline.RainChain(s, beam.CreateList(s, rawLines(texts...)), false)

		passert.Equals(s, beam.ParDo(s, formatRainTotal, out.Totals), "CE-2015-01=504.0")
		passert.Equals(s, out.Events, "rain_defaulted")
		passert.Empty(s, out.Failures)
		runGraph(t, p)
	})
}

func TestExecute_OrdersRowsAndDropsIncomplete(t *testing.T) {
	res, err := pipeline.Execute(context.Background(),
		rawLines(
			"1|2016-08-01|7|x|x|SP|x|x|x",
			"2|2015-01-03|10|x|x|CE|x|x|x",
			"3|2015-01-03|1|x|x|AC|x|x|x",
		),
		rawLines(
			"2016-08-01,80.2,SP",
			"2015-01-15,504.0,CE",
			"2019-04-10,-3.0,RO",
		),
		true)
	require.NoError(t, err)
	require.NoError(t, res.Err())

	var lines []string
	for _, r := range res.Rows {
		lines = append(lines, domain.FormatRow(r))
	}
	assert.Equal(t, "CE;2015;01;504.0;10\nSP;2016;08;80.2;7", strings.Join(lines, "\n"))
	assert.Equal(t, pipeline.JoinStats{Keys: 4, Incomplete: 2, Rows: 2}, res.Join)
	assert.Equal(t, pipeline.DengueStats{Lines: 3, Keys: 3}, res.Dengue)
	assert.Equal(t, pipeline.RainStats{Lines: 3, Clamped: 1, Keys: 3}, res.Rain)
}

func TestExecute_MalformedKeyIsFailure(t *testing.T) {
	res, err := pipeline.Execute(context.Background(),
		rawLines("1|2015|1|x|x|CE|x|x|x"),
		rawLines("2015,1.0,CE"),
		true)
	require.NoError(t, err)

	assert.Empty(t, res.Rows)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "CE-2015", res.Failures[0].Source)
	require.ErrorIs(t, res.Err(), domain.ErrMalformedKey)
}

func TestExecute_FailuresOrderedBySourceAndLine(t *testing.T) {
	res, err := pipeline.Execute(context.Background(),
		[]domain.RawLine{
			{Source: "dengue", Number: 9, Text: "bad"},
			{Source: "dengue", Number: 3, Text: "also bad"},
		},
		[]domain.RawLine{{Source: "chuvas", Number: 5, Text: "2015-01-15,x,CE"}},
		true)
	require.NoError(t, err)

	require.Len(t, res.Failures, 3)
	assert.Equal(t, "chuvas", res.Failures[0].Source)
	assert.Equal(t, 3, res.Failures[1].Number)
	assert.Equal(t, 9, res.Failures[2].Number)
	require.ErrorIs(t, res.Err(), domain.ErrInvalidRainfall)
}
