// Package jobstore persists the durable job queue. Jobs move through a small
// status machine: QUEUED or RETRY rows become RUNNING when a worker claims
// them, and finish as SUCCEEDED, FAILED, or RETRY with a backed-off run time.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

type Kind string
type Status string

const (
	KindPublishPost  Kind = "bot.publish_post"
	KindInteractions Kind = "bot.interactions"
)

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusRetry     Status = "RETRY"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

const (
	DefaultMaxAttempts = 5

	BackoffBase = 30 * time.Second
	BackoffCap  = time.Hour
)

var ErrNotFound = errors.New("job not found")

type Job struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	BotID       string          `json:"bot_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	RunAt       time.Time       `json:"run_at"`
	LastError   string          `json:"last_error,omitempty"`
	LockedAt    *time.Time      `json:"locked_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Terminal reports whether the job can never run again.
func (j *Job) Terminal() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

type Store interface {
	// Create inserts the job, filling in ID, status, max attempts, and run
	// time when the caller left them zero.
	Create(ctx context.Context, job *Job) error

	// Claim atomically moves up to limit due jobs to RUNNING and returns
	// them. Each returned job is owned by exactly one caller; its attempt
	// counter has already been incremented and its lock timestamp set.
	Claim(ctx context.Context, limit int) ([]*Job, error)

	// MarkSucceeded finishes a RUNNING job. Unknown or already-finished jobs
	// are ignored.
	MarkSucceeded(ctx context.Context, jobID string) error

	// MarkFailed records a failed attempt on a RUNNING job. Jobs with
	// attempts left go to RETRY with a backed-off run time; exhausted jobs
	// go to FAILED. Unknown or already-finished jobs are ignored.
	MarkFailed(ctx context.Context, jobID, errMsg string) error

	Get(ctx context.Context, jobID string) (*Job, error)

	// HasPending reports whether the bot already has a live job of the given
	// kind (queued, retrying, or running).
	HasPending(ctx context.Context, botID string, kind Kind) (bool, error)

	// RequeueStuck returns RUNNING jobs whose worker lease expired to the
	// queue, failing those with no attempts left. It returns the number of
	// jobs touched.
	RequeueStuck(ctx context.Context, lease time.Duration) (int, error)
}

// Backoff returns the retry delay after the given attempt. The delay doubles
// from BackoffBase per attempt and never exceeds BackoffCap.
func Backoff(attempt int) time.Duration {
	d := BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= BackoffCap {
			return BackoffCap
		}
	}
	return d
}
