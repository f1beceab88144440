package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/waterdata/internal/observability"
	"github.com/couchcryptid/waterdata/internal/source"
	"github.com/couchcryptid/waterdata/internal/table"
)

// Fetcher retrieves a raw table of observations from a remote source.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) (*table.Table, source.Report, error)
}

// Normalizer cleans a raw table into the canonical column shape.
type Normalizer interface {
	Normalize(t *table.Table) (*table.Table, error)
}

// Storer persists a normalized table under a dataset name and returns the
// path it was written to.
type Storer interface {
	Store(ctx context.Context, dataset string, t *table.Table) (string, error)
}

// Publisher pushes normalized rows to a downstream sink. Optional stage;
// pass nil to New to skip it.
type Publisher interface {
	Publish(ctx context.Context, dataset string, t *table.Table) error
}

// Pipeline orchestrates the fetch-normalize-store cycle for one dataset.
type Pipeline struct {
	fetcher    Fetcher
	normalizer Normalizer
	storer     Storer
	publisher  Publisher
	dataset    string
	interval   time.Duration
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
}

// New creates a Pipeline with the given stages and observability. A zero
// interval makes Run execute a single cycle and return.
func New(f Fetcher, n Normalizer, s Storer, p Publisher, dataset string, interval time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		fetcher:    f,
		normalizer: n,
		storer:     s,
		publisher:  p,
		dataset:    dataset,
		interval:   interval,
		logger:     logger,
		metrics:    metrics,
	}
}

// CheckReadiness returns nil once the pipeline has completed at least one
// cycle, or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a cycle yet")
	}
	return nil
}

// Run executes fetch-normalize-store cycles until the context is cancelled.
// With a zero interval it runs one cycle and returns its error.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "source", p.fetcher.Name(), "dataset", p.dataset, "interval", p.interval)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	if p.interval <= 0 {
		return p.runCycle(ctx)
	}

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if err := p.runCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Error("pipeline cycle failed", "error", err, "dataset", p.dataset)
			if !sleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = 200 * time.Millisecond

		if !sleepWithContext(ctx, p.interval) {
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		}
	}
}

// runCycle executes one fetch-normalize-store(-publish) pass.
func (p *Pipeline) runCycle(ctx context.Context) error {
	raw, report, err := p.timedFetch(ctx)
	if err != nil {
		return err
	}
	if raw.NumRows() == 0 {
		p.logger.Info("no rows fetched, skipping cycle", "source", p.fetcher.Name())
		return nil
	}
	p.logger.Info("fetched raw table",
		"source", p.fetcher.Name(),
		"rows", raw.NumRows(),
		"dropped", report.Dropped(),
	)

	clean, err := p.timedNormalize(raw)
	if err != nil {
		return err
	}

	path, err := p.timedStore(ctx, clean)
	if err != nil {
		return err
	}
	p.logger.Info("stored dataset", "dataset", p.dataset, "path", path, "rows", clean.NumRows())

	if p.publisher != nil {
		if err := p.timedPublish(ctx, clean); err != nil {
			return err
		}
	}

	p.ready.Store(true)
	return nil
}

func (p *Pipeline) timedFetch(ctx context.Context) (*table.Table, source.Report, error) {
	start := time.Now()
	t, report, err := p.fetcher.Fetch(ctx)
	p.metrics.StageDuration.WithLabelValues("fetch").Observe(time.Since(start).Seconds())
	return t, report, err
}

func (p *Pipeline) timedNormalize(raw *table.Table) (*table.Table, error) {
	start := time.Now()
	t, err := p.normalizer.Normalize(raw)
	p.metrics.StageDuration.WithLabelValues("normalize").Observe(time.Since(start).Seconds())
	return t, err
}

func (p *Pipeline) timedStore(ctx context.Context, t *table.Table) (string, error) {
	start := time.Now()
	path, err := p.storer.Store(ctx, p.dataset, t)
	p.metrics.StageDuration.WithLabelValues("store").Observe(time.Since(start).Seconds())
	return path, err
}

func (p *Pipeline) timedPublish(ctx context.Context, t *table.Table) error {
	start := time.Now()
	err := p.publisher.Publish(ctx, p.dataset, t)
	p.metrics.StageDuration.WithLabelValues("publish").Observe(time.Since(start).Seconds())
	return err
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
