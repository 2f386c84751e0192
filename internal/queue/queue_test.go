package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vnmchuo/botfleet/internal/jobstore"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T) (*Queue, *jobstore.MemoryStore, *testClock) {
	t.Helper()
	clk := newTestClock()
	store := jobstore.NewMemoryStoreWithClock(clk.Now)
	return New(store, slog.Default()), store, clk
}

func TestEnqueueDefaults(t *testing.T) {
	q, store, _ := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, jobstore.KindPublishPost, "bot-1", jobstore.PublishPayload{MediaKind: "image"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if job.Status != jobstore.StatusQueued {
		t.Errorf("Expected QUEUED, got %s", job.Status)
	}
	if job.MaxAttempts != jobstore.DefaultMaxAttempts {
		t.Errorf("Expected %d max attempts, got %d", jobstore.DefaultMaxAttempts, job.MaxAttempts)
	}

	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	var payload jobstore.PublishPayload
	if err := jobstore.DecodePayload(got, &payload); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if payload.MediaKind != "image" {
		t.Errorf("Expected image payload, got %q", payload.MediaKind)
	}
}

func TestEnqueueOptions(t *testing.T) {
	q, _, clk := newTestQueue(t)
	ctx := context.Background()

	at := clk.Now().Add(time.Hour)
	job, err := q.Enqueue(ctx, jobstore.KindPublishPost, "bot-1", nil, WithRunAt(at), WithMaxAttempts(2))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if !job.RunAt.Equal(at) {
		t.Errorf("Expected run at %s, got %s", at, job.RunAt)
	}
	if job.MaxAttempts != 2 {
		t.Errorf("Expected 2 max attempts, got %d", job.MaxAttempts)
	}
}

// Walks a maxAttempts=3 job through three handler failures and checks the
// full state sequence: QUEUED, RUNNING, RETRY(30s), RUNNING, RETRY(60s),
// RUNNING, FAILED.
func TestRetryWalkToFailure(t *testing.T) {
	q, store, clk := newTestQueue(t)
	ctx := context.Background()

	calls := 0
	q.Register(jobstore.KindPublishPost, func(ctx context.Context, job *jobstore.Job) error {
		calls++
		return fmt.Errorf("provider down (call %d)", calls)
	})

	job, err := q.Enqueue(ctx, jobstore.KindPublishPost, "bot-1", nil, WithMaxAttempts(3))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	wantDelays := []time.Duration{30 * time.Second, 60 * time.Second}
	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := store.Claim(ctx, 10)
		if err != nil {
			t.Fatalf("Claim failed: %v", err)
		}
		if len(claimed) != 1 {
			t.Fatalf("attempt %d: expected 1 claimed job, got %d", attempt, len(claimed))
		}
		if claimed[0].Status != jobstore.StatusRunning || claimed[0].Attempts != attempt {
			t.Fatalf("attempt %d: expected RUNNING attempt %d, got %s attempt %d",
				attempt, attempt, claimed[0].Status, claimed[0].Attempts)
		}

		q.Dispatch(ctx, claimed[0])

		got, _ := store.Get(ctx, job.ID)
		if attempt < 3 {
			if got.Status != jobstore.StatusRetry {
				t.Fatalf("attempt %d: expected RETRY, got %s", attempt, got.Status)
			}
			delay := got.RunAt.Sub(clk.Now())
			if delay != wantDelays[attempt-1] {
				t.Errorf("attempt %d: expected %s backoff, got %s", attempt, wantDelays[attempt-1], delay)
			}
			clk.Advance(delay)
		} else {
			if got.Status != jobstore.StatusFailed {
				t.Fatalf("expected FAILED after final attempt, got %s", got.Status)
			}
			if got.LastError == "" {
				t.Error("Expected last error on failed job")
			}
		}
	}
	if calls != 3 {
		t.Errorf("Expected 3 handler calls, got %d", calls)
	}
}

func TestDispatchSuccess(t *testing.T) {
	q, store, _ := newTestQueue(t)
	ctx := context.Background()

	q.Register(jobstore.KindPublishPost, func(ctx context.Context, job *jobstore.Job) error {
		return nil
	})

	job, _ := q.Enqueue(ctx, jobstore.KindPublishPost, "bot-1", nil)
	claimed, _ := store.Claim(ctx, 1)
	q.Dispatch(ctx, claimed[0])

	got, _ := store.Get(ctx, job.ID)
	if got.Status != jobstore.StatusSucceeded {
		t.Errorf("Expected SUCCEEDED, got %s", got.Status)
	}
	if got.LockedAt != nil {
		t.Error("Expected lock cleared on success")
	}
}

func TestDispatchPanicRecovered(t *testing.T) {
	q, store, _ := newTestQueue(t)
	ctx := context.Background()

	q.Register(jobstore.KindPublishPost, func(ctx context.Context, job *jobstore.Job) error {
		panic("handler blew up")
	})

	job, _ := q.Enqueue(ctx, jobstore.KindPublishPost, "bot-1", nil)
	claimed, _ := store.Claim(ctx, 1)
	q.Dispatch(ctx, claimed[0])

	got, _ := store.Get(ctx, job.ID)
	if got.Status != jobstore.StatusRetry {
		t.Fatalf("Expected RETRY after panic, got %s", got.Status)
	}
	if got.LastError == "" {
		t.Error("Expected panic message recorded as last error")
	}
}

func TestDispatchUnknownKind(t *testing.T) {
	q, store, _ := newTestQueue(t)
	ctx := context.Background()

	job, _ := q.Enqueue(ctx, jobstore.Kind("nope"), "bot-1", nil, WithMaxAttempts(1))
	claimed, _ := store.Claim(ctx, 1)
	q.Dispatch(ctx, claimed[0])

	got, _ := store.Get(ctx, job.ID)
	if got.Status != jobstore.StatusFailed {
		t.Errorf("Expected FAILED for unregistered kind, got %s", got.Status)
	}
}

func TestRunProcessesJobs(t *testing.T) {
	store := jobstore.NewMemoryStore()
	q := New(store, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan string, 1)
	q.Register(jobstore.KindPublishPost, func(ctx context.Context, job *jobstore.Job) error {
		done <- job.ID
		return nil
	})

	job, err := q.Enqueue(ctx, jobstore.KindPublishPost, "bot-1", nil)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	go q.Run(ctx, 2, 5, 10*time.Millisecond)

	select {
	case id := <-done:
		if id != job.ID {
			t.Errorf("Expected job %s dispatched, got %s", job.ID, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Worker never picked up the job")
	}
	cancel()
}

func TestReapStuck(t *testing.T) {
	q, store, clk := newTestQueue(t)
	ctx := context.Background()

	job, _ := q.Enqueue(ctx, jobstore.KindPublishPost, "bot-1", nil)
	if _, err := store.Claim(ctx, 1); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	// Worker dies; the lock goes stale past the lease.
	clk.Advance(15 * time.Minute)

	n, err := q.ReapStuck(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("ReapStuck failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected 1 reaped job, got %d", n)
	}

	got, _ := store.Get(ctx, job.ID)
	if got.Status != jobstore.StatusRetry {
		t.Errorf("Expected RETRY after reap, got %s", got.Status)
	}
	if got.LastError != "worker lease expired" {
		t.Errorf("Expected lease-expiry error recorded, got %q", got.LastError)
	}
	if !got.RunAt.After(clk.Now()) {
		t.Errorf("Expected reaped job delayed by backoff, got run_at %v at %v", got.RunAt, clk.Now())
	}
}
