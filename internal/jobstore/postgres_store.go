package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InitSchema creates the jobs table. Safe to run on every startup.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id UUID PRIMARY KEY,
		kind TEXT NOT NULL,
		bot_id TEXT NOT NULL DEFAULT '',
		payload JSONB NOT NULL DEFAULT '{}'::jsonb,
		status TEXT NOT NULL DEFAULT 'QUEUED'
			CHECK (status IN ('QUEUED', 'RUNNING', 'RETRY', 'SUCCEEDED', 'FAILED')),
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 5,
		run_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_error TEXT NOT NULL DEFAULT '',
		locked_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs (run_at) WHERE status IN ('QUEUED', 'RETRY');
	CREATE INDEX IF NOT EXISTS idx_jobs_bot_pending ON jobs (bot_id, kind) WHERE status IN ('QUEUED', 'RETRY', 'RUNNING');
	CREATE INDEX IF NOT EXISTS idx_jobs_running ON jobs (locked_at) WHERE status = 'RUNNING';
	`
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to init jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, job *Job) error {
	normalize(job)

	query := `
		INSERT INTO jobs (id, kind, bot_id, payload, status, attempts, max_attempts, run_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRow(ctx, query,
		job.ID, job.Kind, job.BotID, job.Payload, job.Status, job.MaxAttempts, job.RunAt,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// Claim locks up to limit due jobs with SKIP LOCKED so concurrent workers
// never receive the same row, then marks them RUNNING in the same statement.
func (s *PostgresStore) Claim(ctx context.Context, limit int) ([]*Job, error) {
	query := `
		WITH due AS (
			SELECT id FROM jobs
			WHERE status IN ('QUEUED', 'RETRY') AND run_at <= NOW()
			ORDER BY run_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs
		SET status = 'RUNNING', attempts = jobs.attempts + 1, locked_at = NOW(), updated_at = NOW()
		FROM due
		WHERE jobs.id = due.id
		RETURNING jobs.id, jobs.kind, jobs.bot_id, jobs.payload, jobs.status, jobs.attempts,
			jobs.max_attempts, jobs.run_at, jobs.last_error, jobs.locked_at, jobs.finished_at,
			jobs.created_at, jobs.updated_at
	`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claimed job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed jobs: %w", err)
	}
	return jobs, nil
}

func (s *PostgresStore) MarkSucceeded(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = 'SUCCEEDED', locked_at = NULL, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'RUNNING'
	`
	if _, err := s.db.Exec(ctx, query, jobID); err != nil {
		return fmt.Errorf("failed to mark job succeeded: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	query := `
		UPDATE jobs
		SET status = CASE WHEN attempts >= max_attempts THEN 'FAILED' ELSE 'RETRY' END,
			run_at = CASE WHEN attempts >= max_attempts THEN run_at
				ELSE NOW() + make_interval(secs => LEAST($2::float8, $3::float8 * POWER(2, attempts - 1))) END,
			last_error = $4,
			locked_at = NULL,
			finished_at = CASE WHEN attempts >= max_attempts THEN NOW() ELSE finished_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = 'RUNNING'
	`
	_, err := s.db.Exec(ctx, query, jobID, BackoffCap.Seconds(), BackoffBase.Seconds(), errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*Job, error) {
	query := `
		SELECT id, kind, bot_id, payload, status, attempts, max_attempts, run_at,
			last_error, locked_at, finished_at, created_at, updated_at
		FROM jobs WHERE id = $1
	`
	j, err := scanJob(s.db.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) HasPending(ctx context.Context, botID string, kind Kind) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM jobs
			WHERE bot_id = $1 AND kind = $2 AND status IN ('QUEUED', 'RETRY', 'RUNNING')
		)
	`
	var pending bool
	if err := s.db.QueryRow(ctx, query, botID, kind).Scan(&pending); err != nil {
		return false, fmt.Errorf("failed to check pending jobs: %w", err)
	}
	return pending, nil
}

func (s *PostgresStore) RequeueStuck(ctx context.Context, lease time.Duration) (int, error) {
	query := `
		UPDATE jobs
		SET status = CASE WHEN attempts >= max_attempts THEN 'FAILED' ELSE 'RETRY' END,
			run_at = CASE WHEN attempts >= max_attempts THEN run_at
				ELSE NOW() + make_interval(secs => LEAST($2::float8, $3::float8 * POWER(2, attempts - 1))) END,
			last_error = 'worker lease expired',
			locked_at = NULL,
			finished_at = CASE WHEN attempts >= max_attempts THEN NOW() ELSE finished_at END,
			updated_at = NOW()
		WHERE status = 'RUNNING' AND locked_at < NOW() - make_interval(secs => $1::float8)
	`
	tag, err := s.db.Exec(ctx, query, lease.Seconds(), BackoffCap.Seconds(), BackoffBase.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stuck jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func normalize(job *Job) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	if job.RunAt.IsZero() {
		job.RunAt = time.Now().UTC()
	}
	if len(job.Payload) == 0 {
		job.Payload = json.RawMessage(`{}`)
	}
}

func scanJob(row pgx.Row) (*Job, error) {
	j := &Job{}
	err := row.Scan(
		&j.ID, &j.Kind, &j.BotID, &j.Payload, &j.Status, &j.Attempts,
		&j.MaxAttempts, &j.RunAt, &j.LastError, &j.LockedAt, &j.FinishedAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return j, nil
}
