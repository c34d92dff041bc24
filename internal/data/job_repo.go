// Package data implements PostgreSQL persistence for jobs and invoices over the
// pgx stdlib driver.
package data

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/target/docpipe/internal/data/pgxutil"
	"github.com/target/docpipe/internal/domain/model"
	"github.com/target/docpipe/internal/errors"
)

// jobNotifyChannel is the pg_notify channel workers LISTEN on for new jobs.
const jobNotifyChannel = "job_added"

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for extraction jobs.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  owner_id,
  filename,
  source_ref,
  status,
  progress,
  current_stage,
  error_message,
  result,
  auto_commit,
  confidence_threshold,
  created_at,
  updated_at,
  started_at,
  completed_at,
  viewed_at
`

// SQL used by ClaimNext to atomically move the oldest pending job to running.
const claimNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE status = 'pending'
    ORDER BY created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'running',
    started_at = COALESCE(j.started_at, $1),
    updated_at = $1
  FROM cte
  WHERE j.id = cte.id
  RETURNING ` + jobColumns

// Create inserts a new pending job row. Dispatch notification is a separate
// step (NotifyJobAdded) so a lost notify never loses the row.
func (r *JobRepo) Create(ctx context.Context, req *model.SubmitJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, stderrors.New("submit job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, errors.Validation(err.Error())
	}

	now := r.timeProvider.Now().UTC()
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, qerr := pgxConn.Query(ctx, `
      INSERT INTO jobs(id, owner_id, filename, source_ref, status, progress, auto_commit, confidence_threshold, created_at, updated_at)
      VALUES ($1, $2, $3, $4, 'pending', 0, $5, $6, $7, $7)
      RETURNING `+jobColumns,
			req.ID, req.OwnerID, req.Filename, req.SourceRef, req.AutoCommit, req.ConfidenceThreshold, now)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		var cerr error
		job, cerr = collectJobFromRows(rows)
		return cerr
	})
	if err != nil {
		return nil, errors.MapDBError(err)
	}
	return job, nil
}

// NotifyJobAdded wakes listening workers. Callers treat a failure as
// best-effort; the row already exists and the notifier wait window re-polls.
func (r *JobRepo) NotifyJobAdded(ctx context.Context, jobID string) error {
	if _, err := r.DB.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, jobNotifyChannel, jobID); err != nil {
		return fmt.Errorf("send job notification: %w", err)
	}
	return nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, qerr := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		var cerr error
		job, cerr = collectJobFromRows(rows)
		return cerr
	})
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFoundf("job %s not found", id)
	}
	if err != nil {
		return nil, errors.MapDBError(err)
	}
	return job, nil
}

// ClaimNext atomically claims the oldest pending job for processing. Returns
// model.ErrNoJobsAvailable when nothing is pending.
func (r *JobRepo) ClaimNext(ctx context.Context) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, claimNextUpdateSQL, r.timeProvider.Now().UTC())
			if qerr != nil {
				return fmt.Errorf("claim job: %w", qerr)
			}
			defer rows.Close()

			j, cerr := collectJobFromRows(rows)
			if stderrors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("claim job: %w", cerr)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		if stderrors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, errors.MapDBError(err)
	}
	return job, nil
}

// SetStage records the stage a running job just entered, advancing progress to
// the stage's floor. Progress never moves backwards. Returns false when the job
// is not running.
func (r *JobRepo) SetStage(ctx context.Context, id, stage string, progress int) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET current_stage = $2,
		    progress = GREATEST(progress, $3),
		    updated_at = $4
		WHERE id = $1 AND status = 'running'
	`, id, stage, progress, now)
	if err != nil {
		return false, errors.MapDBError(err)
	}
	return oneRowAffected(res)
}

// SetProgress advances a running job's progress. Values below the current
// progress are ignored, keeping progress monotonic. Returns false when the job
// is not running.
func (r *JobRepo) SetProgress(ctx context.Context, id string, progress int) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET progress = GREATEST(progress, $2),
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
	`, id, progress, now)
	if err != nil {
		return false, errors.MapDBError(err)
	}
	return oneRowAffected(res)
}

// Complete marks a running job as completed with its final result payload and
// progress pinned at 100. Returns false when the job is not running.
func (r *JobRepo) Complete(ctx context.Context, id string, result *model.JobResult) (bool, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("marshal job result: %w", err)
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    progress = 100,
		    current_stage = $2,
		    result = $3,
		    completed_at = $4,
		    updated_at = $4
		WHERE id = $1 AND status = 'running'
	`, id, model.StageComplete, payload, now)
	if err != nil {
		return false, errors.MapDBError(err)
	}
	return oneRowAffected(res)
}

// Fail marks a running job as failed with the given error message. Progress is
// left where the pipeline stopped. Returns false when the job is not running.
func (r *JobRepo) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    error_message = $2,
		    completed_at = $3,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
	`, id, errMsg, now)
	if err != nil {
		return false, errors.MapDBError(err)
	}
	return oneRowAffected(res)
}

// MarkViewed records the first time the owner saw a terminal job. Idempotent:
// repeat calls keep the original timestamp.
func (r *JobRepo) MarkViewed(ctx context.Context, id string) error {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET viewed_at = COALESCE(viewed_at, $2),
		    updated_at = $3
		WHERE id = $1 AND status IN ('completed', 'failed')
	`, id, now, now)
	if err != nil {
		return errors.MapDBError(err)
	}

	updated, err := oneRowAffected(res)
	if err != nil {
		return err
	}
	if updated {
		return nil
	}

	// 0 rows: unknown id or the job has not finished yet.
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return errors.Conflictf("job %s is not finished; cannot mark viewed", id)
}

// attachPatch merges a JSONB patch into a completed job's result exactly once.
// The committed flag in the existing result guards against double attachment.
func (r *JobRepo) attachPatch(ctx context.Context, id string, patch any) (bool, error) {
	payload, err := json.Marshal(patch)
	if err != nil {
		return false, fmt.Errorf("marshal result patch: %w", err)
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET result = COALESCE(result, '{}'::jsonb) || $2::jsonb,
		    updated_at = $3
		WHERE id = $1
		  AND status = 'completed'
		  AND COALESCE((result->>'committed')::boolean, false) = false
	`, id, payload, now)
	if err != nil {
		return false, errors.MapDBError(err)
	}
	return oneRowAffected(res)
}

// AttachCommit records a post-hoc commit on a completed, uncommitted job.
// Returns false when the job is missing, not completed, or already committed,
// which makes concurrent double-approval race-safe.
func (r *JobRepo) AttachCommit(ctx context.Context, id string, ref *model.CommitRef) (bool, error) {
	return r.attachPatch(ctx, id, struct {
		Commit    *model.CommitRef `json:"commit"`
		Committed bool             `json:"committed"`
	}{Commit: ref, Committed: true})
}

// AttachDuplicate annotates a completed, uncommitted job with a duplicate note.
func (r *JobRepo) AttachDuplicate(ctx context.Context, id string, note *model.DuplicateNote) (bool, error) {
	return r.attachPatch(ctx, id, struct {
		Duplicate *model.DuplicateNote `json:"duplicate"`
	}{Duplicate: note})
}

// ListByOwner returns the owner's jobs, newest first.
func (r *JobRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	var jobs []*model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, qerr := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE owner_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		`, ownerID, limit)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		for rows.Next() {
			job, serr := scanJobFromRow(rows)
			if serr != nil {
				return serr
			}
			jobs = append(jobs, job)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, errors.MapDBError(err)
	}
	return jobs, nil
}

// Stats returns job counts per state. When ownerID is non-nil the counts are
// scoped to that owner, including the unread completed count for the my-jobs
// badge.
func (r *JobRepo) Stats(ctx context.Context, ownerID *string) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending')   AS pending,
    count(*) FILTER (WHERE status = 'running')   AS running,
    count(*) FILTER (WHERE status = 'completed') AS completed,
    count(*) FILTER (WHERE status = 'failed')    AS failed,
    count(*) FILTER (WHERE status = 'completed' AND viewed_at IS NULL) AS unread_completed
  FROM jobs
  WHERE $1::text IS NULL OR owner_id = $1
  `, ownerID).Scan(
		&s.Pending,
		&s.Running,
		&s.Completed,
		&s.Failed,
		&s.UnreadCompleted,
	)
	if err != nil {
		return nil, errors.MapDBError(err)
	}
	return &s, nil
}

// WaitForNotification waits for a PostgreSQL notification indicating new jobs
// are available, or until ctx ends.
func (r *JobRepo) WaitForNotification(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			_ = cerr
		}
	}()

	quoted := pgx.Identifier{jobNotifyChannel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", jobNotifyChannel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return stderrors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

func oneRowAffected(res sql.Result) (bool, error) {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	result                           []byte
	ownerID, currentStage, errorMsg  sql.NullString
	startedAt, completedAt, viewedAt sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&d.ownerID,
		&job.Filename,
		&job.SourceRef,
		&job.Status,
		&job.Progress,
		&d.currentStage,
		&d.errorMsg,
		&d.result,
		&job.AutoCommit,
		&job.ConfidenceThreshold,
		&job.CreatedAt,
		&job.UpdatedAt,
		&d.startedAt,
		&d.completedAt,
		&d.viewedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) error {
	job.OwnerID = cloneNullableString(d.ownerID)
	job.ErrorMessage = cloneNullableString(d.errorMsg)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	job.ViewedAt = cloneNullableTime(d.viewedAt)
	if d.currentStage.Valid {
		job.CurrentStage = d.currentStage.String
	}
	if len(d.result) > 0 {
		var result model.JobResult
		if err := json.Unmarshal(d.result, &result); err != nil {
			return fmt.Errorf("unmarshal job result: %w", err)
		}
		job.Result = &result
	}
	return nil
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	if err := data.apply(job); err != nil {
		return nil, err
	}
	return job, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
