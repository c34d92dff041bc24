// Package worker runs the document processing pool that drains the job queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/target/docpipe/internal/domain/model"
	"github.com/target/docpipe/internal/observability/metrics"
	"github.com/target/docpipe/internal/observability/statsd"
	"github.com/target/docpipe/internal/service"
)

// RunnerOptions configures the worker pool.
type RunnerOptions struct {
	Jobs     *service.JobService
	Pipeline *service.Pipeline
	Logger   *slog.Logger
	Metrics  statsd.Sink

	// Concurrency is the number of worker goroutines; defaults to 1.
	Concurrency int
}

// Runner claims pending jobs and drives each one through the pipeline.
// Claiming happens row by row, so multiple runners can share a queue.
type Runner struct {
	jobs     *service.JobService
	pipeline *service.Pipeline
	logger   *slog.Logger
	metrics  statsd.Sink
	workers  int
}

// NewRunner constructs a worker pool.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}
	if opts.Pipeline == nil {
		return nil, errors.New("Pipeline is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}

	return &Runner{
		jobs:     opts.Jobs,
		pipeline: opts.Pipeline,
		logger:   logger.With("component", "worker_runner"),
		metrics:  opts.Metrics,
		workers:  workers,
	}, nil
}

// MustNewRunner constructs a worker pool and panics on error.
func MustNewRunner(opts RunnerOptions) *Runner {
	runner, err := NewRunner(opts)
	if err != nil {
		panic(err) //nolint:forbidigo // fail fast on invalid startup configuration
	}
	return runner
}

// Run starts worker goroutines and processes jobs until the context is
// cancelled or a worker hits a fatal claim error.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting worker pool", "workers", r.workers)

	// Derive a cancellable context so the first fatal error stops all workers.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsub, notify := r.jobs.Subscribe()
	defer unsub()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, notify); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		job, err := r.jobs.ClaimNext(ctx)
		switch {
		case err == nil:
			if job != nil {
				r.processJob(ctx, job)
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForNotify(ctx, notify) {
				return nil
			}
		default:
			return fmt.Errorf("claim next: %w", err)
		}
	}
	return ctx.Err()
}

func (r *Runner) waitForNotify(ctx context.Context, notify <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	}
}

// processJob never returns an error: the pipeline settles the job row
// itself, so a processing failure is a job outcome, not a worker fault.
func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	start := time.Now()

	err := r.pipeline.Run(ctx, job)

	transition := "completed"
	result := metrics.ResultSuccess
	if err != nil {
		transition = "failed"
		result = metrics.ResultError
		r.logger.WarnContext(ctx, "job failed",
			"job_id", job.ID, "filename", job.Filename, "error", err)
	}

	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		Transition: transition,
		Result:     result,
		Duration:   time.Since(start),
		Err:        err,
	})
}
