// Package audit keeps a record of every delivery attempt.
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stiffinWanjohi/courier/internal/domain"
)

// Store persists delivery attempts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new attempt store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert writes one attempt.
func (s *Store) Insert(ctx context.Context, attempt domain.DeliveryAttempt) error {
	query := `
		INSERT INTO delivery_attempts (id, job_id, outcome, method, message_id, error, duration_ms, attempted_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		attempt.ID,
		attempt.JobID,
		attempt.Outcome,
		attempt.Method,
		attempt.MessageID,
		attempt.Error,
		attempt.DurationMs,
		attempt.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery attempt: %w", err)
	}
	return nil
}

// ListByJob returns the attempts for a job, oldest first.
func (s *Store) ListByJob(ctx context.Context, jobID uuid.UUID) ([]domain.DeliveryAttempt, error) {
	query := `
		SELECT id, job_id, outcome, method, COALESCE(message_id, ''), COALESCE(error, ''), duration_ms, attempted_at
		FROM delivery_attempts
		WHERE job_id = $1
		ORDER BY attempted_at ASC
	`

	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.DeliveryAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func scanAttempt(row pgx.Row) (domain.DeliveryAttempt, error) {
	var a domain.DeliveryAttempt
	err := row.Scan(
		&a.ID,
		&a.JobID,
		&a.Outcome,
		&a.Method,
		&a.MessageID,
		&a.Error,
		&a.DurationMs,
		&a.AttemptedAt,
	)
	return a, err
}
