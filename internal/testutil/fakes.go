// Package testutil provides shared in-memory fakes for docpipe tests. The
// fakes mirror the SQL guards of the real repositories: stage and progress
// writes only land on running jobs, terminal transitions are compare-and-set,
// and invoice numbers are unique.
package testutil

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/target/docpipe/internal/core"
	"github.com/target/docpipe/internal/domain/model"
	apperrors "github.com/target/docpipe/internal/errors"
)

// FakeJobRepo is an in-memory core.JobRepository.
type FakeJobRepo struct {
	mu       sync.Mutex
	jobs     map[string]*model.Job
	order    []string
	notified []string

	CreateErr error
	NotifyErr error
	ClaimErr  error
}

var _ core.JobRepository = (*FakeJobRepo)(nil)

// NewFakeJobRepo constructs an empty fake.
func NewFakeJobRepo() *FakeJobRepo {
	return &FakeJobRepo{jobs: map[string]*model.Job{}}
}

// Put stores a job directly, bypassing Create.
func (r *FakeJobRepo) Put(job *model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		r.order = append(r.order, job.ID)
	}
	r.jobs[job.ID] = job
}

// Get returns the stored job or nil.
func (r *FakeJobRepo) Get(id string) *model.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	if job == nil {
		return nil
	}
	copied := *job
	return &copied
}

// Notified returns the job IDs passed to NotifyJobAdded, in order.
func (r *FakeJobRepo) Notified() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notified...)
}

func (r *FakeJobRepo) Create(_ context.Context, req *model.SubmitJobRequest) (*model.Job, error) {
	if r.CreateErr != nil {
		return nil, r.CreateErr
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
	r.Put(job)
	copied := *job
	return &copied, nil
}

func (r *FakeJobRepo) NotifyJobAdded(_ context.Context, jobID string) error {
	if r.NotifyErr != nil {
		return r.NotifyErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, jobID)
	return nil
}

func (r *FakeJobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	job := r.Get(id)
	if job == nil {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	return job, nil
}

func (r *FakeJobRepo) ClaimNext(context.Context) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ClaimErr != nil {
		return nil, r.ClaimErr
	}
	for _, id := range r.order {
		job := r.jobs[id]
		if job.Status == model.JobStatusPending {
			now := time.Now().UTC()
			job.Status = model.JobStatusRunning
			job.StartedAt = &now
			copied := *job
			return &copied, nil
		}
	}
	return nil, model.ErrNoJobsAvailable
}

func (r *FakeJobRepo) WaitForNotification(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *FakeJobRepo) SetStage(_ context.Context, id, stage string, progress int) (bool, error) {
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
	return true, nil
}

func (r *FakeJobRepo) SetProgress(_ context.Context, id string, progress int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	if job == nil || job.Status != model.JobStatusRunning {
		return false, nil
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	return true, nil
}

func (r *FakeJobRepo) Complete(_ context.Context, id string, result *model.JobResult) (bool, error) {
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
	return true, nil
}

func (r *FakeJobRepo) Fail(_ context.Context, id, errMsg string) (bool, error) {
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

func (r *FakeJobRepo) MarkViewed(_ context.Context, id string) error {
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

func (r *FakeJobRepo) AttachCommit(_ context.Context, id string, ref *model.CommitRef) (bool, error) {
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

func (r *FakeJobRepo) AttachDuplicate(_ context.Context, id string, note *model.DuplicateNote) (bool, error) {
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

func (r *FakeJobRepo) ListByOwner(_ context.Context, ownerID string, limit int) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Job
	for i := len(r.order) - 1; i >= 0; i-- {
		job := r.jobs[r.order[i]]
		if job.OwnerID == nil || *job.OwnerID != ownerID {
			continue
		}
		copied := *job
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *FakeJobRepo) Stats(_ context.Context, ownerID *string) (*model.JobStats, error) {
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

// FakeInvoiceRepo enforces invoice number uniqueness the way the real
// repository does through its index, including the duplicate sub-case
// messages.
type FakeInvoiceRepo struct {
	mu       sync.Mutex
	byNumber map[string]*model.InvoiceRecord

	CommitErr error
}

var _ core.InvoiceRepository = (*FakeInvoiceRepo)(nil)

// NewFakeInvoiceRepo constructs an empty fake.
func NewFakeInvoiceRepo() *FakeInvoiceRepo {
	return &FakeInvoiceRepo{byNumber: map[string]*model.InvoiceRecord{}}
}

func (r *FakeInvoiceRepo) Commit(_ context.Context, p core.CommitInvoiceParams) (*model.InvoiceRecord, error) {
	if r.CommitErr != nil {
		return nil, r.CommitErr
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
	copied := *record
	return &copied, nil
}

func (r *FakeInvoiceRepo) GetByInvoiceNumber(_ context.Context, invoiceNumber string) (*model.InvoiceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.byNumber[invoiceNumber]
	if !ok {
		return nil, apperrors.NotFound("invoice not found")
	}
	copied := *record
	return &copied, nil
}

func (r *FakeInvoiceRepo) GetByID(_ context.Context, id string) (*model.InvoiceRecord, error) {
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

// ManualNotifier is a job.Notifier whose delivery the test drives by hand.
type ManualNotifier struct {
	Ch      chan struct{}
	Stopped bool
}

// NewManualNotifier constructs a notifier with a buffered channel.
func NewManualNotifier() *ManualNotifier {
	return &ManualNotifier{Ch: make(chan struct{}, 1)}
}

// Subscribe returns the shared channel; the unsubscribe func is a no-op.
func (n *ManualNotifier) Subscribe() (func(), <-chan struct{}) {
	return func() {}, n.Ch
}

// StopAll records that listeners were stopped.
func (n *ManualNotifier) StopAll() { n.Stopped = true }

// InlineSourceRef encodes document content as an inline data URL source ref.
func InlineSourceRef(content string) string {
	return "data:application/pdf;base64," + base64.StdEncoding.EncodeToString([]byte(content))
}
