package httpx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/docpipe/internal/core"
	"github.com/target/docpipe/internal/domain/model"
	"github.com/target/docpipe/internal/service"
	"github.com/target/docpipe/internal/testutil"
)

type routerFixture struct {
	repo     *testutil.FakeJobRepo
	invoices *testutil.FakeInvoiceRepo
	server   *httptest.Server
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	repo := testutil.NewFakeJobRepo()
	invoices := testutil.NewFakeInvoiceRepo()

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:     repo,
		Notifier: testutil.NewManualNotifier(),
	})
	require.NoError(t, err)

	commit, err := service.NewCommitService(service.CommitServiceOptions{
		Invoices: invoices,
		Jobs:     repo,
	})
	require.NoError(t, err)

	server := httptest.NewServer(NewRouter(RouterServices{Jobs: jobs, Commit: commit}))
	t.Cleanup(server.Close)

	return &routerFixture{repo: repo, invoices: invoices, server: server}
}

func (f *routerFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// seedJob stores a job directly in the fake repository.
func seedJob(f *routerFixture, mutate func(*model.Job)) *model.Job {
	now := time.Now().UTC()
	job := &model.Job{
		ID:        uuid.NewString(),
		Filename:  "inv.pdf",
		SourceRef: testutil.InlineSourceRef("doc"),
		Status:    model.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if mutate != nil {
		mutate(job)
	}
	f.repo.Put(job)
	return job
}

func completedWithExtraction(invoiceNumber string) func(*model.Job) {
	return func(job *model.Job) {
		now := time.Now().UTC()
		job.Status = model.JobStatusCompleted
		job.Progress = 100
		job.CompletedAt = &now
		job.Result = &model.JobResult{
			Filename: job.Filename,
			Extraction: &model.ExtractionResult{
				Fields: model.InvoiceFields{
					InvoiceNumber: invoiceNumber,
					Subtotal:      90,
					TaxAmount:     10,
					TotalAmount:   100,
				},
				Confidence: 0.72,
			},
			RequiresReview: true,
			SkipReason:     "requires review",
		}
	}
}

func TestSubmit(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.do(t, http.MethodPost, "/api/jobs", model.SubmitJobRequest{
		SourceRef:  testutil.InlineSourceRef("doc"),
		Filename:   "inv.pdf",
		AutoCommit: true,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	job := decodeBody[model.Job](t, resp)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, "inv.pdf", job.Filename)

	assert.Equal(t, []string{job.ID}, f.repo.Notified())
}

func TestSubmit_InvalidJSON(t *testing.T) {
	f := newRouterFixture(t)

	req, err := http.NewRequest(
		http.MethodPost, f.server.URL+"/api/jobs", bytes.NewReader([]byte(`{"source_ref":`)),
	)
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "invalid_json", body["error"])
}

func TestSubmit_MissingSourceRef(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.do(t, http.MethodPost, "/api/jobs", model.SubmitJobRequest{Filename: "inv.pdf"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "validation", body["error"])
	assert.Contains(t, body["message"], "source_ref")
}

func TestGetJob(t *testing.T) {
	f := newRouterFixture(t)
	job := seedJob(f, nil)

	resp := f.do(t, http.MethodGet, "/api/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody[model.Job](t, resp)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, model.JobStatusPending, got.Status)
}

func TestGetJob_NotFound(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.do(t, http.MethodGet, "/api/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "not_found", body["error"])
}

func TestMarkViewed(t *testing.T) {
	f := newRouterFixture(t)
	job := seedJob(f, completedWithExtraction("INV-1"))

	resp := f.do(t, http.MethodPost, fmt.Sprintf("/api/jobs/%s/viewed", job.ID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	stored := f.repo.Get(job.ID)
	require.NotNil(t, stored.ViewedAt)

	// Acknowledging again keeps the original timestamp.
	first := *stored.ViewedAt
	resp = f.do(t, http.MethodPost, fmt.Sprintf("/api/jobs/%s/viewed", job.ID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, first, *f.repo.Get(job.ID).ViewedAt)
}

func TestMarkViewed_RunningJobConflicts(t *testing.T) {
	f := newRouterFixture(t)
	job := seedJob(f, func(j *model.Job) { j.Status = model.JobStatusRunning })

	resp := f.do(t, http.MethodPost, fmt.Sprintf("/api/jobs/%s/viewed", job.ID), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestApprove(t *testing.T) {
	f := newRouterFixture(t)
	job := seedJob(f, completedWithExtraction("INV-55"))

	resp := f.do(t, http.MethodPost, fmt.Sprintf("/api/jobs/%s/approve", job.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody[model.Job](t, resp)
	require.NotNil(t, got.Result)
	assert.True(t, got.Result.Committed)
	require.NotNil(t, got.Result.Commit)
	assert.Equal(t, "INV-55", got.Result.Commit.InvoiceNumber)

	record, err := f.invoices.GetByInvoiceNumber(t.Context(), "INV-55")
	require.NoError(t, err)
	assert.Equal(t, "inv.pdf", record.SourceFile)
}

func TestApprove_DuplicateInvoiceNumber(t *testing.T) {
	f := newRouterFixture(t)

	_, err := f.invoices.Commit(t.Context(), core.CommitInvoiceParams{
		Fields:   model.InvoiceFields{InvoiceNumber: "INV-55", TotalAmount: 50},
		Filename: "earlier.pdf",
	})
	require.NoError(t, err)

	job := seedJob(f, completedWithExtraction("INV-55"))

	resp := f.do(t, http.MethodPost, fmt.Sprintf("/api/jobs/%s/approve", job.ID), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "duplicate", body["error"])
	assert.Contains(t, body["message"], "INV-55")

	stored := f.repo.Get(job.ID)
	require.NotNil(t, stored.Result.Duplicate)
	assert.Equal(t, "earlier.pdf", stored.Result.Duplicate.ExistingFilename)
	assert.False(t, stored.Result.Committed)
}

func TestApprove_AlreadyCommitted(t *testing.T) {
	f := newRouterFixture(t)
	job := seedJob(f, func(j *model.Job) {
		completedWithExtraction("INV-7")(j)
		j.Result.Committed = true
		j.Result.Commit = &model.CommitRef{InvoiceID: uuid.NewString(), InvoiceNumber: "INV-7"}
	})

	resp := f.do(t, http.MethodPost, fmt.Sprintf("/api/jobs/%s/approve", job.ID), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListJobs(t *testing.T) {
	f := newRouterFixture(t)
	owner := "user-1"
	other := "user-2"
	seedJob(f, func(j *model.Job) { j.OwnerID = &owner })
	second := seedJob(f, func(j *model.Job) { j.OwnerID = &owner })
	seedJob(f, func(j *model.Job) { j.OwnerID = &other })

	resp := f.do(t, http.MethodGet, "/api/jobs?owner=user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	jobs := decodeBody[[]*model.Job](t, resp)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)

	resp = f.do(t, http.MethodGet, "/api/jobs?owner=user-1&limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]*model.Job](t, resp), 1)
}

func TestListJobs_MissingOwner(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.do(t, http.MethodGet, "/api/jobs", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStats(t *testing.T) {
	f := newRouterFixture(t)
	owner := "user-1"
	seedJob(f, func(j *model.Job) { j.OwnerID = &owner })
	seedJob(f, func(j *model.Job) {
		j.OwnerID = &owner
		completedWithExtraction("INV-1")(j)
	})
	seedJob(f, func(j *model.Job) { j.Status = model.JobStatusFailed })

	resp := f.do(t, http.MethodGet, "/api/jobs/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[model.JobStats](t, resp)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.UnreadCompleted)

	resp = f.do(t, http.MethodGet, "/api/jobs/stats?owner=user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats = decodeBody[model.JobStats](t, resp)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 0, stats.Failed)
}

func TestHealth(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
}
