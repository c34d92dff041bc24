// Package service implements the business logic of the extraction pipeline:
// job submission and dispatch, the stage executor, the commit guard, and the
// progress emitter.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/docpipe/internal/core"
	domainjob "github.com/target/docpipe/internal/domain/job"
	"github.com/target/docpipe/internal/domain/model"
	apperrors "github.com/target/docpipe/internal/errors"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo            core.JobRepository        // Required: job repository
	Logger          *slog.Logger              // Optional: structured logger
	Notifier        domainjob.Notifier        // Optional: custom job availability notifier
	NotifierOptions domainjob.NotifierOptions // Optional: configure default notifier behaviour
}

// JobService provides business logic for job submission and lifecycle queries.
// Submission is non-blocking: the pending row is the hand-off to the worker
// pool, and the pg notification is only a wakeup hint.
type JobService struct {
	repo     core.JobRepository
	notifier domainjob.Notifier
	logger   *slog.Logger
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}

	return &JobService{
		repo:     opts.Repo,
		notifier: notifier,
		logger:   logger,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Submit validates the request, persists the pending job, and wakes the worker
// pool. A failed wakeup is logged and swallowed: the row is already durable and
// the worker notifier's wait window re-polls pending jobs, so the job is
// delayed, never lost. The caller gets the accepted job back immediately; no
// pipeline work happens inline.
func (s *JobService) Submit(ctx context.Context, req *model.SubmitJobRequest) (*model.Job, error) {
	job, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}

	if notifyErr := s.repo.NotifyJobAdded(ctx, job.ID); notifyErr != nil {
		dispatchErr := apperrors.DispatchUnavailable(notifyErr, "job accepted but worker wakeup failed")
		if s.logger != nil {
			s.logger.WarnContext(ctx, "job dispatch notification failed; job stays pending until next poll",
				"job_id", job.ID,
				"error", dispatchErr,
			)
		}
	} else if s.logger != nil {
		s.logger.DebugContext(ctx, "job submitted",
			"job_id", job.ID,
			"filename", job.Filename,
			"auto_commit", job.AutoCommit,
		)
	}

	return job, nil
}

// GetByID returns the authoritative job record.
func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job by id %s: %w", id, err)
	}
	return job, nil
}

// ClaimNext claims the oldest pending job for a worker.
func (s *JobService) ClaimNext(ctx context.Context) (*model.Job, error) {
	job, err := s.repo.ClaimNext(ctx)
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("claim next job: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job claimed", "job_id", job.ID)
	}
	return job, nil
}

// Subscribe creates a subscription for job availability notifications.
// Returns an unsubscribe function and a channel that receives notifications.
func (s *JobService) Subscribe() (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe()
}

// MarkViewed records the first time the owner saw a terminal job.
func (s *JobService) MarkViewed(ctx context.Context, id string) error {
	if err := s.repo.MarkViewed(ctx, id); err != nil {
		return fmt.Errorf("mark job %s viewed: %w", id, err)
	}
	return nil
}

// ListByOwner returns the owner's jobs, newest first.
func (s *JobService) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.Job, error) {
	if ownerID == "" {
		return nil, apperrors.ValidationField("owner", "owner id is required")
	}
	jobs, err := s.repo.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs for owner %s: %w", ownerID, err)
	}
	return jobs, nil
}

// Stats returns job counts per state, optionally scoped to one owner.
func (s *JobService) Stats(ctx context.Context, ownerID *string) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return stats, nil
}

// StopAllListeners stops all active job notification listeners.
// This should be called during graceful shutdown to clean up goroutines.
func (s *JobService) StopAllListeners() {
	if s.logger != nil {
		s.logger.Info("stopping all job listeners")
	}

	if s.notifier != nil {
		s.notifier.StopAll()
	}
}
