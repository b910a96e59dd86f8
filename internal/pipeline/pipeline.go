package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/dengue-rain-etl/internal/domain"
	"github.com/couchcryptid/dengue-rain-etl/internal/observability"
)

// LineSource reads every raw line of one dataset, header excluded.
type LineSource interface {
	ReadLines(ctx context.Context) ([]domain.RawLine, error)
}

// BatchLoader writes the joined output rows to one destination.
type BatchLoader interface {
	Name() string
	LoadBatch(ctx context.Context, rows []domain.OutputRow) error
}

// Options tunes a Pipeline run.
type Options struct {
	RainStrict bool
}

// Summary describes a completed run.
type Summary struct {
	Dengue      DengueStats `json:"dengue"`
	Rain        RainStats   `json:"rain"`
	Join        JoinStats   `json:"join"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt time.Time   `json:"completed_at"`
}

// Duration is the wall time of the run.
func (s Summary) Duration() time.Duration {
	return s.CompletedAt.Sub(s.StartedAt)
}

// Pipeline orchestrates the read, aggregate, join and write run.
type Pipeline struct {
	dengue  LineSource
	rain    LineSource
	loaders []BatchLoader
	logger  *slog.Logger
	metrics *observability.Metrics
	opts    Options
	ready   atomic.Bool
	last    atomic.Pointer[Summary]
}

// New creates a Pipeline with the given sources, sinks and observability.
func New(dengue, rain LineSource, loaders []BatchLoader, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	return &Pipeline{
		dengue:  dengue,
		rain:    rain,
		loaders: loaders,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
	}
}

// CheckReadiness returns nil once a run has completed successfully, or an
// error describing why the job is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// LastSummary returns the summary of the most recent successful run.
func (p *Pipeline) LastSummary() (Summary, bool) {
	s := p.last.Load()
	if s == nil {
		return Summary{}, false
	}
	return *s, true
}

// Run executes one complete run. Both datasets are read concurrently, then
// the job graph aggregates and joins them and the rows go to every sink.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	summary := Summary{StartedAt: clock.Now()}
	p.logger.Info("pipeline started", "rain_strict", p.opts.RainStrict)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	dengueLines, rainLines, err := p.read(ctx)
	if err != nil {
		return summary, err
	}
	p.metrics.LinesRead.WithLabelValues("dengue").Add(float64(len(dengueLines)))
	p.metrics.LinesRead.WithLabelValues("rain").Add(float64(len(rainLines)))

	res, err := Execute(ctx, dengueLines, rainLines, p.opts.RainStrict)
	if err != nil {
		return summary, err
	}
	summary.Dengue, summary.Rain, summary.Join = res.Dengue, res.Rain, res.Join
	if err := res.Err(); err != nil {
		p.logger.Error("input rejected", "failures", len(res.Failures), "first", err)
		return summary, err
	}
	p.observe(res)

	if err := p.load(ctx, res.Rows); err != nil {
		return summary, err
	}

	summary.CompletedAt = clock.Now()
	p.metrics.RunDuration.Observe(summary.Duration().Seconds())
	p.last.Store(&summary)
	p.ready.Store(true)
	p.logger.Info("pipeline completed", "rows", len(res.Rows), "duration", summary.Duration())
	return summary, nil
}

// read loads both datasets concurrently. A failure on one side cancels the
// other.
func (p *Pipeline) read(ctx context.Context) (dengue, rain []domain.RawLine, err error) {
	var (
		wg                  sync.WaitGroup
		dengueErr, rainErr  error
		readCtx, cancelRead = context.WithCancel(ctx)
	)
	defer cancelRead()

	wg.Add(2)
	go func() {
		defer wg.Done()
		if dengue, dengueErr = p.dengue.ReadLines(readCtx); dengueErr != nil {
			dengueErr = fmt.Errorf("read dengue: %w", dengueErr)
			cancelRead()
		}
	}()
	go func() {
		defer wg.Done()
		if rain, rainErr = p.rain.ReadLines(readCtx); rainErr != nil {
			rainErr = fmt.Errorf("read rain: %w", rainErr)
			cancelRead()
		}
	}()
	wg.Wait()

	if err := firstCause(dengueErr, rainErr); err != nil {
		return nil, nil, err
	}
	return dengue, rain, nil
}

func (p *Pipeline) observe(res Result) {
	p.metrics.CasesDefaulted.Add(float64(res.Dengue.CasesDefaulted))
	p.metrics.RainClamped.Add(float64(res.Rain.Clamped))
	p.metrics.RainDefaulted.Add(float64(res.Rain.Defaulted))
	p.metrics.AggregateKeys.WithLabelValues("dengue").Set(float64(res.Dengue.Keys))
	p.metrics.AggregateKeys.WithLabelValues("rain").Set(float64(res.Rain.Keys))
	p.metrics.JoinIncomplete.Add(float64(res.Join.Incomplete))

	p.logger.Info("dengue aggregated", "lines", res.Dengue.Lines, "keys", res.Dengue.Keys, "cases_defaulted", res.Dengue.CasesDefaulted)
	p.logger.Info("rain aggregated", "lines", res.Rain.Lines, "keys", res.Rain.Keys, "clamped", res.Rain.Clamped, "defaulted", res.Rain.Defaulted)
	p.logger.Info("join complete", "keys", res.Join.Keys, "incomplete", res.Join.Incomplete, "rows", res.Join.Rows)
}

// load writes rows to every sink in order and stops at the first failure.
func (p *Pipeline) load(ctx context.Context, rows []domain.OutputRow) error {
	for _, l := range p.loaders {
		if err := l.LoadBatch(ctx, rows); err != nil {
			p.metrics.SinkErrors.WithLabelValues(l.Name()).Inc()
			return fmt.Errorf("load %s: %w", l.Name(), err)
		}
		p.metrics.RowsWritten.WithLabelValues(l.Name()).Add(float64(len(rows)))
	}
	return nil
}

// firstCause prefers a real failure over the cancellation it triggered in
// the sibling read.
func firstCause(errs ...error) error {
	var cancelled error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) {
			if cancelled == nil {
				cancelled = err
			}
			continue
		}
		return err
	}
	return cancelled
}
