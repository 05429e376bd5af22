package maintenance

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/rich13/lifespan-beta-sub017/errors"
)

// Store handles persistence of maintenance jobs.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewStore creates a new job store. Logger may be nil for silent operation.
func NewStore(db *sql.DB, logger *zap.SugaredLogger) *Store {
	return &Store{db: db, logger: logger}
}

const jobSelectColumns = `id, handler_name, payload, status,
	progress_total, progress_processed, progress_created, progress_skipped, progress_errors,
	cancel_requested, error, created_at, started_at, completed_at, last_activity`

// CreateJob inserts a new job.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	payload := sql.NullString{String: string(job.Payload), Valid: len(job.Payload) > 0}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO maintenance_jobs (
			id, handler_name, payload, status,
			progress_total, progress_processed, progress_created, progress_skipped, progress_errors,
			cancel_requested, error, created_at, started_at, completed_at, last_activity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.HandlerName, payload, job.Status,
		job.Progress.Total, job.Progress.Processed, job.Progress.Created, job.Progress.Skipped, job.Progress.Errors,
		job.CancelRequested, job.Error, job.CreatedAt, job.StartedAt, job.CompletedAt, job.LastActivity,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	if s.logger != nil {
		s.logger.Infow("Enqueued maintenance job", "job_id", job.ID, "handler", job.HandlerName)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobSelectColumns+` FROM maintenance_jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// UpdateJob persists the job's current status and progress. Called after
// every chunk, so a crash loses at most one chunk of bookkeeping.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	payload := sql.NullString{String: string(job.Payload), Valid: len(job.Payload) > 0}

	result, err := s.db.ExecContext(ctx, `
		UPDATE maintenance_jobs
		SET payload = ?,
		    status = ?,
		    progress_total = ?,
		    progress_processed = ?,
		    progress_created = ?,
		    progress_skipped = ?,
		    progress_errors = ?,
		    error = ?,
		    started_at = ?,
		    completed_at = ?,
		    last_activity = ?
		WHERE id = ?`,
		payload, job.Status,
		job.Progress.Total, job.Progress.Processed, job.Progress.Created, job.Progress.Skipped, job.Progress.Errors,
		job.Error, job.StartedAt, job.CompletedAt, job.LastActivity,
		job.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job %s", job.ID)
	}
	return nil
}

// ClaimNext atomically moves the oldest queued job to running and returns it.
// Returns nil when no job is queued.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin claim transaction")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+jobSelectColumns+`
		FROM maintenance_jobs
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT 1`, StatusQueued)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim job")
	}

	job.Start()
	_, err = tx.ExecContext(ctx, `
		UPDATE maintenance_jobs
		SET status = ?, started_at = ?, last_activity = ?
		WHERE id = ?`,
		job.Status, job.StartedAt, job.LastActivity, job.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to mark job as running")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit claim")
	}
	return job, nil
}

// RequestCancel sets the cancellation flag on an active job. The worker polls
// the flag between chunks, so cancellation takes effect within one chunk.
func (s *Store) RequestCancel(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE maintenance_jobs
		SET cancel_requested = 1
		WHERE id = ? AND status IN (?, ?)`,
		id, StatusQueued, StatusRunning)
	if err != nil {
		return errors.Wrap(err, "failed to request cancellation")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrNotFound, "no active job %s", id)
	}

	if s.logger != nil {
		s.logger.Infow("Cancellation requested", "job_id", id)
	}
	return nil
}

// CancelRequested reads the cancellation flag for a job.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag bool
	err := s.db.QueryRowContext(ctx,
		`SELECT cancel_requested FROM maintenance_jobs WHERE id = ?`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to read cancellation flag")
	}
	return flag, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, status *Status, limit int) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM maintenance_jobs`
	var args []interface{}
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}
	return jobs, nil
}

// RecoverOrphans re-queues jobs left in running state by an ungraceful
// shutdown. Progress rows survive, so recovered jobs resume from their last
// persisted chunk. Returns the number of jobs re-queued.
func (s *Store) RecoverOrphans(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE maintenance_jobs
		SET status = ?, error = '', last_activity = ?
		WHERE status = ?`,
		StatusQueued, time.Now(), StatusRunning)
	if err != nil {
		return 0, errors.Wrap(err, "failed to recover orphaned jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

// CleanupOldJobs removes terminal jobs older than the given duration.
func (s *Store) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM maintenance_jobs
		WHERE status IN (?, ?, ?)
		  AND last_activity < ?`,
		StatusCompleted, StatusFailed, StatusCancelled, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scannable) (*Job, error) {
	var job Job
	var payload, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID, &job.HandlerName, &payload, &job.Status,
		&job.Progress.Total, &job.Progress.Processed, &job.Progress.Created,
		&job.Progress.Skipped, &job.Progress.Errors,
		&job.CancelRequested, &errMsg, &job.CreatedAt, &startedAt, &completedAt, &job.LastActivity,
	)
	if err != nil {
		return nil, err
	}

	if payload.Valid {
		job.Payload = []byte(payload.String)
	}
	job.Error = errMsg.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}
