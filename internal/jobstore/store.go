// Package jobstore persists delivery jobs in PostgreSQL.
package jobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stiffinWanjohi/courier/internal/domain"
)

const jobColumns = `id, report_id, status, method, destination, content_type, content,
	retry_count, error, message_id, created_at, updated_at, completed_at, next_attempt_at`

// Store provides persistence for delivery jobs.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new job store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create persists a new job.
func (s *Store) Create(ctx context.Context, job domain.DeliveryJob) (domain.DeliveryJob, error) {
	query := `
		INSERT INTO delivery_jobs (id, report_id, status, method, destination, content_type, content,
			retry_count, error, message_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + jobColumns

	return scanJob(s.pool.QueryRow(ctx, query,
		job.ID,
		job.ReportID,
		job.Status,
		job.Method,
		job.Destination,
		job.ContentType,
		job.Content,
		job.RetryCount,
		job.Error,
		job.MessageID,
		job.CreatedAt,
		job.UpdatedAt,
	))
}

// GetByID retrieves a job by ID.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (domain.DeliveryJob, error) {
	query := `SELECT ` + jobColumns + ` FROM delivery_jobs WHERE id = $1`

	job, err := scanJob(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DeliveryJob{}, domain.ErrJobNotFound
	}
	return job, err
}

// FetchPending returns up to limit PENDING jobs for method, oldest first.
// Jobs deferred into the future are left out until their next_attempt_at.
func (s *Store) FetchPending(ctx context.Context, method domain.DeliveryMethod, limit int) ([]domain.DeliveryJob, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT ` + jobColumns + `
		FROM delivery_jobs
		WHERE status = 'PENDING' AND method = $1
		AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, method, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending jobs: %w", err)
	}
	return scanJobs(rows)
}

// FetchStale returns PENDING jobs for method created before cutoff whose
// retry count has reached minRetryCount.
func (s *Store) FetchStale(ctx context.Context, method domain.DeliveryMethod, cutoff time.Time, minRetryCount int) ([]domain.DeliveryJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM delivery_jobs
		WHERE status = 'PENDING'
		AND method = $1
		AND created_at < $2
		AND retry_count >= $3
		ORDER BY created_at ASC
	`

	rows, err := s.pool.Query(ctx, query, method, cutoff, minRetryCount)
	if err != nil {
		return nil, fmt.Errorf("fetch stale jobs: %w", err)
	}
	return scanJobs(rows)
}

// Defer hides a PENDING job from FetchPending until the given time without
// touching its retry count. Deferring a terminal job returns ErrJobNotPending.
func (s *Store) Defer(ctx context.Context, id uuid.UUID, until time.Time) error {
	query := `
		UPDATE delivery_jobs
		SET next_attempt_at = $2
		WHERE id = $1 AND status = 'PENDING'
	`

	tag, err := s.pool.Exec(ctx, query, id, until)
	if err != nil {
		return fmt.Errorf("defer job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if err := s.requireExists(ctx, id); err != nil {
		return err
	}
	return domain.ErrJobNotPending
}

// MarkFailed moves a PENDING job to FAILED with the given reason.
// A job that is already terminal is left untouched and no error is returned.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE delivery_jobs
		SET status = 'FAILED', error = $2
		WHERE id = $1 AND status = 'PENDING'
	`

	tag, err := s.pool.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.requireExists(ctx, id)
	}
	return nil
}

// MarkCompleted records a successful delivery. Completing an already
// completed job is a no-op; completing a failed job returns ErrJobNotPending.
func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID, messageID string) error {
	query := `
		UPDATE delivery_jobs
		SET status = 'COMPLETED', message_id = $2, error = NULL, completed_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`

	tag, err := s.pool.Exec(ctx, query, id, messageID)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	job, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == domain.JobStatusCompleted {
		return nil
	}
	return domain.ErrJobNotPending
}

// RecordFailure increments the retry count of a PENDING job and stores the
// error. The job becomes FAILED once the new count reaches maxRetries.
func (s *Store) RecordFailure(ctx context.Context, id uuid.UUID, message string, maxRetries int) (domain.DeliveryJob, error) {
	query := `
		UPDATE delivery_jobs
		SET retry_count = retry_count + 1,
			error = $2,
			status = CASE WHEN retry_count + 1 >= $3 THEN 'FAILED' ELSE status END
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + jobColumns

	job, err := scanJob(s.pool.QueryRow(ctx, query, id, message, maxRetries))
	if errors.Is(err, pgx.ErrNoRows) {
		if err := s.requireExists(ctx, id); err != nil {
			return domain.DeliveryJob{}, err
		}
		return domain.DeliveryJob{}, domain.ErrJobNotPending
	}
	if err != nil {
		return domain.DeliveryJob{}, fmt.Errorf("record job failure: %w", err)
	}
	return job, nil
}

// Stats returns the number of jobs in each status.
func (s *Store) Stats(ctx context.Context) (domain.StatusCounts, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM delivery_jobs GROUP BY status`)
	if err != nil {
		return domain.StatusCounts{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	var counts domain.StatusCounts
	for rows.Next() {
		var status domain.JobStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return domain.StatusCounts{}, err
		}
		switch status {
		case domain.JobStatusPending:
			counts.Pending = n
		case domain.JobStatusCompleted:
			counts.Completed = n
		case domain.JobStatusFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

// CleanupTerminal deletes COMPLETED and FAILED jobs last updated before olderThan.
func (s *Store) CleanupTerminal(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		DELETE FROM delivery_jobs
		WHERE status IN ('COMPLETED', 'FAILED')
		AND updated_at < $1
	`

	tag, err := s.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("cleanup terminal jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) requireExists(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM delivery_jobs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrJobNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (domain.DeliveryJob, error) {
	var job domain.DeliveryJob
	err := row.Scan(
		&job.ID,
		&job.ReportID,
		&job.Status,
		&job.Method,
		&job.Destination,
		&job.ContentType,
		&job.Content,
		&job.RetryCount,
		&job.Error,
		&job.MessageID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
		&job.NextAttemptAt,
	)
	return job, err
}

func scanJobs(rows pgx.Rows) ([]domain.DeliveryJob, error) {
	defer rows.Close()

	var jobs []domain.DeliveryJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
