// Package httpx provides the HTTP handlers for the docpipe job API.
package httpx

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/target/docpipe/internal/domain/model"
	"github.com/target/docpipe/internal/service"
)

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Jobs   *service.JobService
	Commit *service.CommitService
}

// Submit handles HTTP requests to submit a new extraction job. The job is
// accepted once the row is durable; processing happens asynchronously.
func (h *JobHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Jobs.Submit(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, job)
}

// Get handles HTTP requests to fetch the authoritative job record.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	job, err := h.Jobs.GetByID(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// MarkViewed handles HTTP requests to acknowledge a finished job.
func (h *JobHandlers) MarkViewed(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	if err := h.Jobs.MarkViewed(r.Context(), jobID); err != nil {
		WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Approve handles the reviewer commit path for jobs that finished in the
// requires-review state.
func (h *JobHandlers) Approve(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	job, err := h.Commit.Approve(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// List handles HTTP requests to list an owner's jobs, newest first.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	limit := parseIntQuery(r, "limit", 0)

	jobs, err := h.Jobs.ListByOwner(r.Context(), owner, limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// Stats handles HTTP requests to retrieve queue counters. The optional owner
// query scopes the counters to one submitter.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	var owner *string
	if v := r.URL.Query().Get("owner"); v != "" {
		owner = &v
	}

	stats, err := h.Jobs.Stats(r.Context(), owner)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

func parseIntQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
