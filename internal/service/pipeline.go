package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/target/docpipe/internal/core"
	"github.com/target/docpipe/internal/domain/model"
	apperrors "github.com/target/docpipe/internal/errors"
)

// Progress checkpoints per stage. Extraction maps the engine's fraction into
// its reserved range; everything else advances in fixed steps. Progress only
// moves forward.
const (
	progressFetchStart    = 0
	progressFetchDone     = 20
	progressExtractStart  = 30
	progressExtractDone   = 80
	progressValidateStart = 85
	progressValidateDone  = 90
	progressFinalizeStart = 90
	progressFinalizeDone  = 95
)

// defaultMaxFetchBytes caps document downloads at 25 MiB.
const defaultMaxFetchBytes = 25 << 20

// PipelineOptions groups dependencies for the Pipeline.
type PipelineOptions struct {
	Jobs          core.JobRepository // Required: job repository
	Extractor     core.Extractor     // Required: extraction engine client
	Commit        *CommitService     // Required: commit guard
	Emitter       *ProgressEmitter   // Required: progress event emitter
	Validator     *Validator         // Optional: defaults to the embedded schema
	HTTPClient    *http.Client       // Optional: client for URL source refs
	Logger        *slog.Logger       // Optional: structured logger
	MaxFetchBytes int64              // Optional: download size cap
}

// Pipeline executes the extraction stages for one claimed job. Stage failures
// settle the job as failed and never escape Run; a worker goroutine survives
// any job outcome.
type Pipeline struct {
	jobs          core.JobRepository
	extractor     core.Extractor
	commit        *CommitService
	emitter       *ProgressEmitter
	validator     *Validator
	httpClient    *http.Client
	logger        *slog.Logger
	maxFetchBytes int64
}

// NewPipeline constructs a new Pipeline.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Extractor == nil {
		return nil, errors.New("Extractor is required")
	}
	if opts.Commit == nil {
		return nil, errors.New("CommitService is required")
	}
	if opts.Emitter == nil {
		return nil, errors.New("ProgressEmitter is required")
	}

	validator := opts.Validator
	if validator == nil {
		var err error
		validator, err = NewValidator()
		if err != nil {
			return nil, fmt.Errorf("create validator: %w", err)
		}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	maxFetchBytes := opts.MaxFetchBytes
	if maxFetchBytes <= 0 {
		maxFetchBytes = defaultMaxFetchBytes
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "pipeline")
	} else {
		logger = slog.Default().With("component", "pipeline")
	}

	return &Pipeline{
		jobs:          opts.Jobs,
		extractor:     opts.Extractor,
		commit:        opts.Commit,
		emitter:       opts.Emitter,
		validator:     validator,
		httpClient:    httpClient,
		logger:        logger,
		maxFetchBytes: maxFetchBytes,
	}, nil
}

// MustNewPipeline constructs a new Pipeline and panics on error.
func MustNewPipeline(opts PipelineOptions) *Pipeline {
	p, err := NewPipeline(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create Pipeline: %v", err))
	}
	return p
}

// Run executes all stages for a running job and settles it as completed or
// failed. The returned error is for worker logging only; by the time Run
// returns the job record reflects the terminal outcome (unless even the
// terminal write failed, in which case the job stays running and is visible
// through its stale started_at).
func (p *Pipeline) Run(ctx context.Context, job *model.Job) error {
	result := &model.JobResult{Filename: job.Filename}

	// fetch
	p.enterStage(ctx, job, model.StageFetch, progressFetchStart)
	data, fetchErr := p.fetch(ctx, job.SourceRef)
	if fetchErr != nil {
		return p.failJob(ctx, job, model.StageFetch, apperrors.Fetch(fetchErr, "could not resolve source document"))
	}
	p.finishStage(ctx, job, model.StageFetch, progressFetchDone)

	// extract
	p.enterStage(ctx, job, model.StageExtract, progressExtractStart)
	extraction, extractErr := p.extractor.Extract(ctx, core.ExtractInput{
		Data:     data,
		Filename: job.Filename,
	}, func(fraction float64) {
		p.reportExtractProgress(ctx, job, fraction)
	})
	if extractErr != nil {
		return p.failJob(ctx, job, model.StageExtract, apperrors.Extraction(extractErr, "extraction engine failed"))
	}
	result.Extraction = extraction
	p.finishStage(ctx, job, model.StageExtract, progressExtractDone)

	// validate
	p.enterStage(ctx, job, model.StageValidate, progressValidateStart)
	report := p.validator.Validate(extraction)
	result.Validation = report
	result.RequiresReview = !report.Passed || extraction.Confidence < job.ConfidenceThreshold
	p.finishStage(ctx, job, model.StageValidate, progressValidateDone)

	// finalize
	p.enterStage(ctx, job, model.StageFinalize, progressFinalizeStart)
	if failErr := p.finalize(ctx, job, result); failErr != nil {
		return failErr
	}
	p.finishStage(ctx, job, model.StageFinalize, progressFinalizeDone)

	// done
	completed, err := p.jobs.Complete(ctx, job.ID, result)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if !completed {
		return apperrors.Conflictf("job %s left running state mid-pipeline", job.ID)
	}
	p.emitter.Complete(ctx, job, result)
	return nil
}

// finalize runs the commit decision. A duplicate is a normal completion with
// an annotation; only a hard persistence failure fails the job.
func (p *Pipeline) finalize(ctx context.Context, job *model.Job, result *model.JobResult) error {
	switch {
	case !job.AutoCommit:
		result.SkipReason = "auto-commit disabled"
		return nil
	case result.RequiresReview:
		if result.Validation != nil && !result.Validation.Passed {
			result.SkipReason = "validation flagged problems for review"
		} else {
			result.SkipReason = fmt.Sprintf("confidence %.2f below threshold %.2f",
				result.Extraction.Confidence, job.ConfidenceThreshold)
		}
		return nil
	}

	record, commitErr := p.commit.Commit(ctx, core.CommitInvoiceParams{
		Fields:     result.Extraction.Fields,
		Filename:   job.Filename,
		Confidence: result.Extraction.Confidence,
		OwnerID:    job.OwnerID,
	})
	switch {
	case commitErr == nil:
		result.Commit = &model.CommitRef{
			InvoiceID:     record.ID,
			InvoiceNumber: record.InvoiceNumber,
		}
		result.Committed = true
	case apperrors.IsDuplicate(commitErr):
		result.Duplicate = p.commit.BuildDuplicateNote(ctx, result.Extraction.Fields.InvoiceNumber, job.Filename, commitErr)
	default:
		return p.failJob(ctx, job, model.StageFinalize, commitErr)
	}
	return nil
}

func (p *Pipeline) fetch(ctx context.Context, sourceRef string) ([]byte, error) {
	if strings.HasPrefix(sourceRef, "http://") || strings.HasPrefix(sourceRef, "https://") {
		return p.fetchURL(ctx, sourceRef)
	}
	return decodeInline(sourceRef)
}

func (p *Pipeline) fetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download document: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			_ = closeErr
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download document: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read document body: %w", err)
	}
	if int64(len(data)) > p.maxFetchBytes {
		return nil, fmt.Errorf("document exceeds %d byte limit", p.maxFetchBytes)
	}
	if len(data) == 0 {
		return nil, errors.New("document body is empty")
	}
	return data, nil
}

// decodeInline decodes an inline base64 source ref, accepting an optional data
// URL prefix ("data:application/pdf;base64,...").
func decodeInline(sourceRef string) ([]byte, error) {
	payload := sourceRef
	if strings.HasPrefix(payload, "data:") {
		idx := strings.Index(payload, ",")
		if idx < 0 {
			return nil, errors.New("malformed data url in source ref")
		}
		payload = payload[idx+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode inline document: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("inline document is empty")
	}
	return data, nil
}

// reportExtractProgress maps the engine's [0,1] fraction into the extraction
// progress range and emits it.
func (p *Pipeline) reportExtractProgress(ctx context.Context, job *model.Job, fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	progress := progressExtractStart + int(fraction*float64(progressExtractDone-progressExtractStart))

	if _, err := p.jobs.SetProgress(ctx, job.ID, progress); err != nil {
		p.logger.WarnContext(ctx, "set progress failed", "job_id", job.ID, "error", err)
	}
	p.emitter.Progress(ctx, job, model.StageExtract, progress)
}

// enterStage records the stage transition before announcing it, so a client
// reacting to the event always reads a record at least as fresh.
func (p *Pipeline) enterStage(ctx context.Context, job *model.Job, stage string, progress int) {
	if _, err := p.jobs.SetStage(ctx, job.ID, stage, progress); err != nil {
		p.logger.WarnContext(ctx, "set stage failed", "job_id", job.ID, "stage", stage, "error", err)
	}
	p.emitter.StageStart(ctx, job, stage, progress)
}

func (p *Pipeline) finishStage(ctx context.Context, job *model.Job, stage string, progress int) {
	if _, err := p.jobs.SetProgress(ctx, job.ID, progress); err != nil {
		p.logger.WarnContext(ctx, "set progress failed", "job_id", job.ID, "stage", stage, "error", err)
	}
	p.emitter.StageComplete(ctx, job, stage, progress)
}

// failJob settles the job as failed. Progress stays wherever the pipeline
// stopped.
func (p *Pipeline) failJob(ctx context.Context, job *model.Job, stage string, cause error) error {
	failed, err := p.jobs.Fail(ctx, job.ID, cause.Error())
	if err != nil {
		return fmt.Errorf("fail job %s after %s error: %w", job.ID, stage, errors.Join(cause, err))
	}
	if !failed {
		return apperrors.Conflictf("job %s left running state before failure could be recorded", job.ID)
	}

	p.emitter.Error(ctx, job, stage, cause.Error())
	p.logger.WarnContext(ctx, "job failed",
		"job_id", job.ID,
		"stage", stage,
		"error", cause,
	)
	return cause
}
