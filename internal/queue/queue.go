// Package queue drives the durable job lifecycle: enqueue with defaults,
// concurrent claim-and-dispatch workers, and the stuck-job reaper. All
// worker coordination lives in the store's atomic claim; workers share no
// in-process state.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vnmchuo/botfleet/internal/jobstore"
	"github.com/vnmchuo/botfleet/internal/metrics"
)

// Handler executes one claimed job. A nil return marks the job succeeded; an
// error or panic sends it through the retry state machine.
type Handler func(ctx context.Context, job *jobstore.Job) error

type Option func(*jobstore.Job)

// WithRunAt defers the job until the given time.
func WithRunAt(at time.Time) Option {
	return func(j *jobstore.Job) { j.RunAt = at }
}

// WithMaxAttempts overrides the default attempt cap.
func WithMaxAttempts(n int) Option {
	return func(j *jobstore.Job) { j.MaxAttempts = n }
}

type Queue struct {
	store    jobstore.Store
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[jobstore.Kind]Handler
}

func New(store jobstore.Store, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:    store,
		logger:   logger,
		handlers: make(map[jobstore.Kind]Handler),
	}
}

// Register binds a handler to a job kind.
func (q *Queue) Register(kind jobstore.Kind, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

func (q *Queue) handler(kind jobstore.Kind) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[kind]
	return h, ok
}

// Enqueue creates a QUEUED job due immediately unless an option says
// otherwise.
func (q *Queue) Enqueue(ctx context.Context, kind jobstore.Kind, botID string, payload any, opts ...Option) (*jobstore.Job, error) {
	job := &jobstore.Job{Kind: kind, BotID: botID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal job payload: %w", err)
		}
		job.Payload = data
	}
	for _, opt := range opts {
		opt(job)
	}

	if err := q.store.Create(ctx, job); err != nil {
		return nil, err
	}
	metrics.JobsEnqueued.WithLabelValues(string(kind)).Inc()
	q.logger.Info("job enqueued",
		"job_id", job.ID, "kind", string(kind), "bot_id", botID, "run_at", job.RunAt)
	return job, nil
}

// HasPending reports whether the bot already has a live job of the kind.
func (q *Queue) HasPending(ctx context.Context, botID string, kind jobstore.Kind) (bool, error) {
	return q.store.HasPending(ctx, botID, kind)
}

// Run starts workers polling for due jobs and blocks until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, workers, claimLimit int, poll time.Duration) {
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			q.runWorker(ctx, id, claimLimit, poll)
		}(i)
	}
	wg.Wait()
}

func (q *Queue) runWorker(ctx context.Context, id, claimLimit int, poll time.Duration) {
	logger := q.logger.With("worker", id)
	logger.Info("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopped")
			return
		case <-time.After(jitterPoll(poll)):
		}

		jobs, err := q.store.Claim(ctx, claimLimit)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("worker stopped")
				return
			}
			logger.Error("claim failed", "error", err)
			continue
		}
		for _, job := range jobs {
			q.Dispatch(ctx, job)
		}
	}
}

// Dispatch runs one claimed job's handler and settles the job's fate. The
// claimed row is already RUNNING; provider latency inside the handler never
// holds a queue lock.
func (q *Queue) Dispatch(ctx context.Context, job *jobstore.Job) {
	ctx, span := otel.Tracer("botfleet/queue").Start(ctx, "job.dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", job.ID),
		attribute.String("kind", string(job.Kind)),
		attribute.String("bot_id", job.BotID),
		attribute.Int("attempt", job.Attempts),
	)

	logger := q.logger.With("job_id", job.ID, "kind", string(job.Kind), "bot_id", job.BotID, "attempt", job.Attempts)
	start := time.Now()

	err := q.runHandler(ctx, job)
	metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		outcome := "retried"
		if job.Attempts >= job.MaxAttempts {
			outcome = "failed"
		}
		metrics.JobsProcessed.WithLabelValues(string(job.Kind), outcome).Inc()
		logger.Error("job attempt failed", "error", err, "outcome", outcome, "duration_ms", time.Since(start).Milliseconds())
		if markErr := q.store.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			logger.Error("failed to record job failure", "error", markErr)
		}
		return
	}

	metrics.JobsProcessed.WithLabelValues(string(job.Kind), "succeeded").Inc()
	logger.Info("job succeeded", "duration_ms", time.Since(start).Milliseconds())
	if markErr := q.store.MarkSucceeded(ctx, job.ID); markErr != nil {
		logger.Error("failed to record job success", "error", markErr)
	}
}

// runHandler converts missing handlers and panics into ordinary errors so a
// bad job cannot take a worker down.
func (q *Queue) runHandler(ctx context.Context, job *jobstore.Job) (err error) {
	h, ok := q.handler(job.Kind)
	if !ok {
		return fmt.Errorf("no handler registered for kind %q", job.Kind)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, job)
}

// ReapStuck returns jobs whose worker died mid-run to the queue.
func (q *Queue) ReapStuck(ctx context.Context, lease time.Duration) (int, error) {
	n, err := q.store.RequeueStuck(ctx, lease)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.JobsReaped.Add(float64(n))
		q.logger.Warn("requeued stuck jobs", "count", n, "lease", lease.String())
	}
	return n, nil
}

// jitterPoll spreads workers off a shared phase so they do not claim in
// lockstep.
func jitterPoll(poll time.Duration) time.Duration {
	if poll <= 0 {
		return time.Second
	}
	return poll/2 + time.Duration(rand.Int64N(int64(poll)))
}
