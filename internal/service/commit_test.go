package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/docpipe/internal/core"
	"github.com/target/docpipe/internal/domain/model"
	apperrors "github.com/target/docpipe/internal/errors"
)

func newCommitFixture(t *testing.T) (*CommitService, *stubJobRepo, *stubInvoiceRepo) {
	t.Helper()
	jobs := newStubJobRepo()
	invoices := newStubInvoiceRepo()
	svc, err := NewCommitService(CommitServiceOptions{Invoices: invoices, Jobs: jobs})
	require.NoError(t, err)
	return svc, jobs, invoices
}

func completedJob(extraction *model.ExtractionResult) *model.Job {
	job := runningJob(false, 0.8)
	job.Status = model.JobStatusCompleted
	job.Progress = 100
	job.Result = &model.JobResult{
		Filename:   job.Filename,
		Extraction: extraction,
	}
	return job
}

func TestCommit_SecondCallIsDeterministicDuplicate(t *testing.T) {
	svc, _, _ := newCommitFixture(t)

	params := core.CommitInvoiceParams{
		Fields:     goodExtraction(0.9).Fields,
		Filename:   "invoice.pdf",
		Confidence: 0.9,
	}

	record, err := svc.Commit(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "INV-1001", record.InvoiceNumber)

	// Same file, same key: the "already processed" sub-case, every time.
	for range 3 {
		_, err := svc.Commit(context.Background(), params)
		require.Error(t, err)
		assert.True(t, apperrors.IsDuplicate(err))
		assert.Contains(t, err.Error(), "has already been processed")
	}

	// Different file, same key: the collision sub-case.
	params.Filename = "other.pdf"
	_, err = svc.Commit(context.Background(), params)
	require.Error(t, err)
	assert.True(t, apperrors.IsDuplicate(err))
	assert.Contains(t, err.Error(), "from file 'invoice.pdf'")
	assert.Contains(t, err.Error(), "must be unique")
}

func TestCommit_MissingInvoiceNumberIsValidation(t *testing.T) {
	svc, _, _ := newCommitFixture(t)

	_, err := svc.Commit(context.Background(), core.CommitInvoiceParams{
		Fields:   model.InvoiceFields{TotalAmount: 10},
		Filename: "x.pdf",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestApprove_CommitsAndAttaches(t *testing.T) {
	svc, jobs, _ := newCommitFixture(t)

	job := completedJob(goodExtraction(0.7))
	jobs.put(job)

	approved, err := svc.Approve(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, approved.Result)
	assert.True(t, approved.Result.Committed)
	require.NotNil(t, approved.Result.Commit)
	assert.Equal(t, "INV-1001", approved.Result.Commit.InvoiceNumber)
}

func TestApprove_SecondApprovalConflicts(t *testing.T) {
	svc, jobs, _ := newCommitFixture(t)

	job := completedJob(goodExtraction(0.7))
	jobs.put(job)

	_, err := svc.Approve(context.Background(), job.ID)
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Contains(t, err.Error(), "already committed")
}

func TestApprove_DuplicateAnnotatesJob(t *testing.T) {
	svc, jobs, invoices := newCommitFixture(t)

	_, err := invoices.Commit(context.Background(), core.CommitInvoiceParams{
		Fields:   model.InvoiceFields{InvoiceNumber: "INV-1001", TotalAmount: 100},
		Filename: "earlier.pdf",
	})
	require.NoError(t, err)

	job := completedJob(goodExtraction(0.7))
	jobs.put(job)

	_, err = svc.Approve(context.Background(), job.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsDuplicate(err))

	refreshed := jobs.get(job.ID)
	require.NotNil(t, refreshed.Result.Duplicate)
	assert.Equal(t, "earlier.pdf", refreshed.Result.Duplicate.ExistingFilename)
	assert.False(t, refreshed.Result.Committed)
}

func TestApprove_StateGuards(t *testing.T) {
	svc, jobs, _ := newCommitFixture(t)

	tests := []struct {
		name    string
		mutate  func(*model.Job)
		wantMsg string
	}{
		{
			name:    "not completed",
			mutate:  func(j *model.Job) { j.Status = model.JobStatusRunning },
			wantMsg: "only completed jobs",
		},
		{
			name:    "no extraction",
			mutate:  func(j *model.Job) { j.Result = &model.JobResult{} },
			wantMsg: "no extraction",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := completedJob(goodExtraction(0.7))
			tt.mutate(job)
			jobs.put(job)

			_, err := svc.Approve(context.Background(), job.ID)
			require.Error(t, err)
			assert.True(t, apperrors.IsConflict(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}

	t.Run("unknown job", func(t *testing.T) {
		_, err := svc.Approve(context.Background(), uuid.NewString())
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}
