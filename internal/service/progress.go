package service

import (
	"context"
	"log/slog"

	"github.com/target/docpipe/internal/core"
	"github.com/target/docpipe/internal/domain/model"
)

// stageDescriptions are the human-readable labels carried on stage events.
var stageDescriptions = map[string]string{
	model.StageFetch:    "Downloading document",
	model.StageExtract:  "Extracting fields",
	model.StageValidate: "Validating extraction",
	model.StageFinalize: "Saving invoice",
}

// ProgressEmitter publishes job progress to the event bus. Every emit is
// fire-and-forget: a failed publish is logged at Warn and dropped, because
// clients that miss an event recover by polling the job record.
type ProgressEmitter struct {
	publisher core.EventPublisher
	logger    *slog.Logger
}

// NewProgressEmitter constructs a ProgressEmitter. A nil publisher yields an
// emitter that only logs, which keeps workers functional when the bus is not
// configured.
func NewProgressEmitter(publisher core.EventPublisher, logger *slog.Logger) *ProgressEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressEmitter{
		publisher: publisher,
		logger:    logger.With("component", "progress_emitter"),
	}
}

// StageStart announces that a job entered a stage.
func (e *ProgressEmitter) StageStart(ctx context.Context, job *model.Job, stage string, progress int) {
	e.publish(ctx, model.NewTaskUpdate(job.ID, model.EventData{
		Type:        model.EventTypeStageStart,
		Stage:       stage,
		Progress:    progress,
		Description: stageDescriptions[stage],
	}))
}

// Progress reports intra-stage progress.
func (e *ProgressEmitter) Progress(ctx context.Context, job *model.Job, stage string, progress int) {
	e.publish(ctx, model.NewTaskUpdate(job.ID, model.EventData{
		Type:     model.EventTypeProgress,
		Stage:    stage,
		Progress: progress,
	}))
}

// StageComplete announces that a job finished a stage.
func (e *ProgressEmitter) StageComplete(ctx context.Context, job *model.Job, stage string, progress int) {
	e.publish(ctx, model.NewTaskUpdate(job.ID, model.EventData{
		Type:     model.EventTypeStageComplete,
		Stage:    stage,
		Progress: progress,
	}))
}

// Complete announces the terminal success of a job, and notifies the owner's
// personal room when the job has an owner.
func (e *ProgressEmitter) Complete(ctx context.Context, job *model.Job, result *model.JobResult) {
	e.publish(ctx, model.NewTaskUpdate(job.ID, model.EventData{
		Type:     model.EventTypeComplete,
		Progress: 100,
		Status:   model.JobStatusCompleted,
		Filename: job.Filename,
		Result:   result,
	}))

	if job.OwnerID != nil {
		e.publish(ctx, model.NewUserNotification(*job.OwnerID, model.EventData{
			Type:     model.EventTypeComplete,
			Status:   model.JobStatusCompleted,
			Filename: job.Filename,
			Message:  "Document processed: " + job.Filename,
		}))
	}
}

// Error announces the terminal failure of a job, and notifies the owner's
// personal room when the job has an owner.
func (e *ProgressEmitter) Error(ctx context.Context, job *model.Job, stage, errMsg string) {
	e.publish(ctx, model.NewTaskUpdate(job.ID, model.EventData{
		Type:     model.EventTypeError,
		Stage:    stage,
		Status:   model.JobStatusFailed,
		Filename: job.Filename,
		Error:    errMsg,
	}))

	if job.OwnerID != nil {
		e.publish(ctx, model.NewUserNotification(*job.OwnerID, model.EventData{
			Type:     model.EventTypeError,
			Status:   model.JobStatusFailed,
			Filename: job.Filename,
			Error:    errMsg,
			Message:  "Document processing failed: " + job.Filename,
		}))
	}
}

func (e *ProgressEmitter) publish(ctx context.Context, env model.Envelope) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, env); err != nil {
		e.logger.WarnContext(ctx, "event publish failed; clients fall back to polling",
			"event", env.Event,
			"type", env.Data.Type,
			"job_id", env.JobID,
			"error", err,
		)
	}
}
