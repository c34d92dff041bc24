// Package model defines the core data types for the docpipe extraction job system.
package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current status of an extraction job.
type JobStatus string

const (
	// JobStatusPending indicates a job is waiting to be claimed by a worker.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job has failed.
	JobStatusFailed JobStatus = "failed"
)

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning ||
		s == JobStatusCompleted || s == JobStatusFailed
}

// Terminal returns true once a job can no longer change status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Pipeline stage labels, in execution order. Stored in current_stage and carried
// on stage events.
const (
	StageFetch    = "fetch"
	StageExtract  = "llm_extraction"
	StageValidate = "validation"
	StageFinalize = "save"
	StageComplete = "complete"
)

// ErrNoJobsAvailable is returned when no pending jobs can be claimed.
var ErrNoJobsAvailable = errors.New("no jobs available")

// Job represents one unit of asynchronous extraction work. The id is assigned by
// the producer before dispatch so callers can subscribe to the job's room before
// any work starts.
type Job struct {
	ID                  string     `json:"id"`
	OwnerID             *string    `json:"owner_id,omitempty"`
	Filename            string     `json:"filename"`
	SourceRef           string     `json:"source_ref"`
	Status              JobStatus  `json:"status"`
	Progress            int        `json:"progress"`
	CurrentStage        string     `json:"current_stage,omitempty"`
	ErrorMessage        *string    `json:"error_message,omitempty"`
	Result              *JobResult `json:"result,omitempty"`
	AutoCommit          bool       `json:"auto_commit"`
	ConfidenceThreshold float64    `json:"confidence_threshold"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	ViewedAt            *time.Time `json:"viewed_at,omitempty"`
}

// Committed reports whether a commit record has been attached to the job result.
func (j *Job) Committed() bool {
	return j.Result != nil && j.Result.Committed
}

// DefaultConfidenceThreshold gates auto-commit when the producer does not supply
// a threshold.
const DefaultConfidenceThreshold = 0.8

// SubmitJobRequest represents a request to create and dispatch a new job.
type SubmitJobRequest struct {
	// ID is the producer-assigned job id. When empty, Validate fills in a fresh uuid.
	ID string `json:"id,omitempty"`
	// OwnerID is the submitting user, used for the personal notification room.
	OwnerID *string `json:"owner_id,omitempty"`
	// SourceRef is either an http(s) URL or inline base64 document bytes.
	SourceRef string `json:"source_ref"`
	Filename  string `json:"filename"`
	// AutoCommit requests automatic finalize when validation passes and
	// confidence clears the threshold.
	AutoCommit          bool    `json:"auto_commit"`
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
}

// Validate validates the request and normalizes defaults.
func (r *SubmitJobRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		r.ID = uuid.NewString()
	} else if _, err := uuid.Parse(r.ID); err != nil {
		return errors.New("job id must be a valid uuid")
	}
	if strings.TrimSpace(r.SourceRef) == "" {
		return errors.New("source_ref is required")
	}
	if strings.TrimSpace(r.Filename) == "" {
		return errors.New("filename is required")
	}
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		return errors.New("confidence_threshold must be between 0 and 1")
	}
	if r.ConfidenceThreshold == 0 {
		r.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if r.OwnerID != nil {
		if _, err := uuid.Parse(*r.OwnerID); err != nil {
			return errors.New("owner_id must be a valid uuid")
		}
	}
	return nil
}

// JobStats represents counts of jobs in each state plus the unread terminal jobs
// for the my-jobs view.
type JobStats struct {
	Pending         int `json:"pending"`
	Running         int `json:"running"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	UnreadCompleted int `json:"unread_completed"`
}
