package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/target/docpipe/internal/core"
	"github.com/target/docpipe/internal/domain/model"
	apperrors "github.com/target/docpipe/internal/errors"
)

// stubJobRepo is an in-memory JobRepository that mirrors the SQL guards:
// stage and progress writes only land on running jobs, progress never moves
// backwards, and terminal transitions are compare-and-set.
type stubJobRepo struct {
	mu        sync.Mutex
	jobs      map[string]*model.Job
	notified  []string
	notifyErr error
	createErr error

	// progressLog records every progress value written, in order.
	progressLog []int
}

func newStubJobRepo() *stubJobRepo {
	return &stubJobRepo{jobs: map[string]*model.Job{}}
}

func (r *stubJobRepo) put(job *model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
}

func (r *stubJobRepo) get(id string) *model.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

func (r *stubJobRepo) Create(_ context.Context, req *model.SubmitJobRequest) (*model.Job, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:                  req.ID,
		OwnerID:             req.OwnerID,
		Filename:            req.Filename,
		SourceRef:           req.SourceRef,
		Status:              model.JobStatusPending,
		AutoCommit:          req.AutoCommit,
		ConfidenceThreshold: req.ConfidenceThreshold,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	r.put(job)
	return job, nil
}

func (r *stubJobRepo) NotifyJobAdded(_ context.Context, jobID string) error {
	if r.notifyErr != nil {
		return r.notifyErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, jobID)
	return nil
}

func (r *stubJobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	job := r.get(id)
	if job == nil {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	copied := *job
	return &copied, nil
}

func (r *stubJobRepo) ClaimNext(_ context.Context) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		if job.Status == model.JobStatusPending {
			job.Status = model.JobStatusRunning
			now := time.Now().UTC()
			job.StartedAt = &now
			copied := *job
			return &copied, nil
		}
	}
	return nil, model.ErrNoJobsAvailable
}

func (r *stubJobRepo) WaitForNotification(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *stubJobRepo) SetStage(_ context.Context, id, stage string, progress int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	if job == nil || job.Status != model.JobStatusRunning {
		return false, nil
	}
	job.CurrentStage = stage
	if progress > job.Progress {
		job.Progress = progress
	}
	r.progressLog = append(r.progressLog, job.Progress)
	return true, nil
}

func (r *stubJobRepo) SetProgress(_ context.Context, id string, progress int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	if job == nil || job.Status != model.JobStatusRunning {
		return false, nil
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	r.progressLog = append(r.progressLog, job.Progress)
	return true, nil
}

func (r *stubJobRepo) Complete(_ context.Context, id string, result *model.JobResult) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	if job == nil || job.Status != model.JobStatusRunning {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusCompleted
	job.Progress = 100
	job.CurrentStage = model.StageComplete
	job.Result = result
	job.CompletedAt = &now
	r.progressLog = append(r.progressLog, 100)
	return true, nil
}

func (r *stubJobRepo) Fail(_ context.Context, id, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	if job == nil || job.Status != model.JobStatusRunning {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = model.JobStatusFailed
	job.ErrorMessage = &errMsg
	job.CompletedAt = &now
	return true, nil
}

func (r *stubJobRepo) MarkViewed(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	if job == nil {
		return apperrors.NotFoundf("job %s not found", id)
	}
	if !job.Status.Terminal() {
		return apperrors.Conflictf("job %s is not finished; cannot mark viewed", id)
	}
	if job.ViewedAt == nil {
		now := time.Now().UTC()
		job.ViewedAt = &now
	}
	return nil
}

func (r *stubJobRepo) AttachCommit(_ context.Context, id string, ref *model.CommitRef) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	if job == nil || job.Status != model.JobStatusCompleted || job.Committed() {
		return false, nil
	}
	if job.Result == nil {
		job.Result = &model.JobResult{}
	}
	job.Result.Commit = ref
	job.Result.Committed = true
	return true, nil
}

func (r *stubJobRepo) AttachDuplicate(_ context.Context, id string, note *model.DuplicateNote) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	if job == nil || job.Status != model.JobStatusCompleted || job.Committed() {
		return false, nil
	}
	if job.Result == nil {
		job.Result = &model.JobResult{}
	}
	job.Result.Duplicate = note
	return true, nil
}

func (r *stubJobRepo) ListByOwner(_ context.Context, ownerID string, _ int) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Job
	for _, job := range r.jobs {
		if job.OwnerID != nil && *job.OwnerID == ownerID {
			copied := *job
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *stubJobRepo) Stats(_ context.Context, ownerID *string) (*model.JobStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s model.JobStats
	for _, job := range r.jobs {
		if ownerID != nil && (job.OwnerID == nil || *job.OwnerID != *ownerID) {
			continue
		}
		switch job.Status {
		case model.JobStatusPending:
			s.Pending++
		case model.JobStatusRunning:
			s.Running++
		case model.JobStatusCompleted:
			s.Completed++
			if job.ViewedAt == nil {
				s.UnreadCompleted++
			}
		case model.JobStatusFailed:
			s.Failed++
		}
	}
	return &s, nil
}

var _ core.JobRepository = (*stubJobRepo)(nil)

// stubInvoiceRepo enforces invoice number uniqueness the way the real
// repository does through its index, including the duplicate sub-case
// messages.
type stubInvoiceRepo struct {
	mu        sync.Mutex
	byNumber  map[string]*model.InvoiceRecord
	commitErr error
}

func newStubInvoiceRepo() *stubInvoiceRepo {
	return &stubInvoiceRepo{byNumber: map[string]*model.InvoiceRecord{}}
}

func (r *stubInvoiceRepo) Commit(_ context.Context, p core.CommitInvoiceParams) (*model.InvoiceRecord, error) {
	if r.commitErr != nil {
		return nil, r.commitErr
	}
	if p.Fields.InvoiceNumber == "" {
		return nil, apperrors.ValidationField("invoice_number", "invoice_number is required to commit")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byNumber[p.Fields.InvoiceNumber]; ok {
		if existing.SourceFile == p.Filename {
			return nil, apperrors.Duplicatef(
				"This file '%s' has already been processed. Invoice #%s exists in the system.",
				p.Filename, p.Fields.InvoiceNumber,
			)
		}
		return nil, apperrors.Duplicatef(
			"Invoice #%s already exists in the system (from file '%s'). Each invoice number must be unique.",
			p.Fields.InvoiceNumber, existing.SourceFile,
		)
	}

	record := &model.InvoiceRecord{
		ID:            uuid.NewString(),
		InvoiceNumber: p.Fields.InvoiceNumber,
		Subtotal:      p.Fields.Subtotal,
		TaxAmount:     p.Fields.TaxAmount,
		TotalAmount:   p.Fields.TotalAmount,
		SourceFile:    p.Filename,
		Confidence:    p.Confidence,
		CommittedBy:   p.OwnerID,
		LineItems:     p.Fields.LineItems,
		CreatedAt:     time.Now().UTC(),
	}
	r.byNumber[p.Fields.InvoiceNumber] = record
	return record, nil
}

func (r *stubInvoiceRepo) GetByInvoiceNumber(_ context.Context, invoiceNumber string) (*model.InvoiceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byNumber[invoiceNumber]
	if !ok {
		return nil, apperrors.NotFound("invoice not found")
	}
	copied := *record
	return &copied, nil
}

func (r *stubInvoiceRepo) GetByID(_ context.Context, id string) (*model.InvoiceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.byNumber {
		if record.ID == id {
			copied := *record
			return &copied, nil
		}
	}
	return nil, apperrors.NotFound("invoice not found")
}

var _ core.InvoiceRepository = (*stubInvoiceRepo)(nil)

// stubExtractor returns a canned result and optionally drives the progress
// callback first.
type stubExtractor struct {
	result    *model.ExtractionResult
	err       error
	fractions []float64
}

func (e *stubExtractor) Extract(_ context.Context, _ core.ExtractInput, progress core.ProgressFunc) (*model.ExtractionResult, error) {
	for _, f := range e.fractions {
		if progress != nil {
			progress(f)
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

var _ core.Extractor = (*stubExtractor)(nil)

// stubPublisher records published envelopes, optionally failing every publish.
type stubPublisher struct {
	mu         sync.Mutex
	events     []model.Envelope
	publishErr error
}

func (p *stubPublisher) Publish(_ context.Context, env model.Envelope) error {
	if p.publishErr != nil {
		return p.publishErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, env)
	return nil
}

func (p *stubPublisher) byType(t model.EventType) []model.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Envelope
	for _, env := range p.events {
		if env.Data.Type == t {
			out = append(out, env)
		}
	}
	return out
}

var _ core.EventPublisher = (*stubPublisher)(nil)

func goodExtraction(confidence float64) *model.ExtractionResult {
	return &model.ExtractionResult{
		Fields: model.InvoiceFields{
			InvoiceNumber: "INV-1001",
			InvoiceDate:   "2026-08-01",
			VendorName:    "Acme Corp",
			Subtotal:      90,
			TaxAmount:     10,
			TotalAmount:   100,
			LineItems: []model.InvoiceLineItem{
				{Description: "Widget", Quantity: 3, UnitPrice: 30, Amount: 90},
			},
		},
		Confidence: confidence,
		Engine:     "test",
	}
}

func runningJob(autoCommit bool, threshold float64) *model.Job {
	owner := uuid.NewString()
	now := time.Now().UTC()
	return &model.Job{
		ID:                  uuid.NewString(),
		OwnerID:             &owner,
		Filename:            "invoice.pdf",
		SourceRef:           inlineRef("fake pdf bytes"),
		Status:              model.JobStatusRunning,
		AutoCommit:          autoCommit,
		ConfidenceThreshold: threshold,
		CreatedAt:           now,
		UpdatedAt:           now,
		StartedAt:           &now,
	}
}

func inlineRef(content string) string {
	return fmt.Sprintf("data:application/pdf;base64,%s", base64Encode(content))
}

func base64Encode(content string) string {
	return base64.StdEncoding.EncodeToString([]byte(content))
}
