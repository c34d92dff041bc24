package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/docpipe/internal/core"
	"github.com/target/docpipe/internal/domain/model"
	apperrors "github.com/target/docpipe/internal/errors"
)

// CommitServiceOptions groups dependencies for CommitService.
type CommitServiceOptions struct {
	Invoices core.InvoiceRepository // Required: invoice repository
	Jobs     core.JobRepository     // Required for Approve; optional otherwise
	Logger   *slog.Logger           // Optional: structured logger
}

// CommitService is the single entry point for turning an extraction into a
// durable invoice record. Duplicates are detected through the invoice_number
// unique index, never through a read-then-write check, so the outcome holds
// under concurrency: at most one commit succeeds per invoice number and every
// later attempt gets the same duplicate error.
type CommitService struct {
	invoices core.InvoiceRepository
	jobs     core.JobRepository
	logger   *slog.Logger
}

// NewCommitService constructs a new CommitService.
func NewCommitService(opts CommitServiceOptions) (*CommitService, error) {
	if opts.Invoices == nil {
		return nil, errors.New("InvoiceRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "commit_service")
	}

	return &CommitService{
		invoices: opts.Invoices,
		jobs:     opts.Jobs,
		logger:   logger,
	}, nil
}

// MustNewCommitService constructs a new CommitService and panics on error.
func MustNewCommitService(opts CommitServiceOptions) *CommitService {
	svc, err := NewCommitService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create CommitService: %v", err))
	}
	return svc
}

// Commit persists the extraction. Returns the new record, a Duplicate error
// when the invoice number is already taken, or a Persistence error on a hard
// storage failure.
func (s *CommitService) Commit(ctx context.Context, p core.CommitInvoiceParams) (*model.InvoiceRecord, error) {
	record, err := s.invoices.Commit(ctx, p)
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "invoice committed",
			"invoice_id", record.ID,
			"invoice_number", record.InvoiceNumber,
			"source_file", record.SourceFile,
		)
	}
	return record, nil
}

// Approve is the reviewer path: it commits the extraction of a completed,
// uncommitted job and attaches the commit reference to the job record. The
// guarded attach makes concurrent double-approval safe; the loser of the race
// gets a Conflict. A duplicate commit annotates the job and surfaces as a
// Duplicate error so the reviewer sees the explanation.
func (s *CommitService) Approve(ctx context.Context, jobID string) (*model.Job, error) {
	if s.jobs == nil {
		return nil, errors.New("JobRepository is required for approve")
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != model.JobStatusCompleted {
		return nil, apperrors.Conflictf("job %s is %s; only completed jobs can be approved", jobID, job.Status)
	}
	if job.Result == nil || job.Result.Extraction == nil {
		return nil, apperrors.Conflictf("job %s has no extraction to approve", jobID)
	}
	if job.Result.Committed {
		return nil, apperrors.Conflictf("job %s is already committed", jobID)
	}

	record, commitErr := s.Commit(ctx, core.CommitInvoiceParams{
		Fields:     job.Result.Extraction.Fields,
		Filename:   job.Filename,
		Confidence: job.Result.Extraction.Confidence,
		OwnerID:    job.OwnerID,
	})
	if commitErr != nil {
		if apperrors.IsDuplicate(commitErr) {
			s.annotateDuplicate(ctx, job, commitErr)
		}
		return nil, commitErr
	}

	attached, attachErr := s.jobs.AttachCommit(ctx, jobID, &model.CommitRef{
		InvoiceID:     record.ID,
		InvoiceNumber: record.InvoiceNumber,
	})
	if attachErr != nil {
		return nil, attachErr
	}
	if !attached {
		// Lost an attach race after winning the insert. The invoice exists, the
		// job already says committed; report the conflict.
		return nil, apperrors.Conflictf("job %s was committed concurrently", jobID)
	}

	return s.jobs.GetByID(ctx, jobID)
}

// BuildDuplicateNote assembles the result annotation for a duplicate commit,
// enriching it with the existing record when the lookup succeeds.
func (s *CommitService) BuildDuplicateNote(ctx context.Context, invoiceNumber, filename string, dupErr error) *model.DuplicateNote {
	note := &model.DuplicateNote{
		InvoiceNumber: invoiceNumber,
		Message:       dupErr.Error(),
	}
	if existing, lookupErr := s.invoices.GetByInvoiceNumber(ctx, invoiceNumber); lookupErr == nil {
		note.ExistingFilename = existing.SourceFile
		note.SameFile = existing.SourceFile == filename
	}
	return note
}

func (s *CommitService) annotateDuplicate(ctx context.Context, job *model.Job, dupErr error) {
	invoiceNumber := ""
	if job.Result != nil && job.Result.Extraction != nil {
		invoiceNumber = job.Result.Extraction.Fields.InvoiceNumber
	}

	note := s.BuildDuplicateNote(ctx, invoiceNumber, job.Filename, dupErr)

	if _, attachErr := s.jobs.AttachDuplicate(ctx, job.ID, note); attachErr != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "attach duplicate note failed",
			"job_id", job.ID,
			"error", attachErr,
		)
	}
}
