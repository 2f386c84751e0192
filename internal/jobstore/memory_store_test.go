package jobstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore() (*MemoryStore, *fakeClock) {
	s := NewMemoryStore()
	clk := newFakeClock()
	s.now = clk.Now
	return s, clk
}

func TestBackoffSchedule(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 240 * time.Second},
		{5, 480 * time.Second},
		{8, time.Hour},
		{100, time.Hour},
	}
	for _, tc := range cases {
		if got := Backoff(tc.attempt); got != tc.want {
			t.Errorf("Backoff(%d): expected %s, got %s", tc.attempt, tc.want, got)
		}
	}
}

func TestCreateDefaults(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	j := &Job{Kind: KindPublishPost, BotID: "bot-1"}
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if j.ID == "" {
		t.Error("Expected generated job ID")
	}
	if j.Status != StatusQueued {
		t.Errorf("Expected QUEUED, got %s", j.Status)
	}
	if j.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("Expected %d max attempts, got %d", DefaultMaxAttempts, j.MaxAttempts)
	}
	if string(j.Payload) != `{}` {
		t.Errorf("Expected empty payload object, got %s", j.Payload)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != j.ID || got.Status != StatusQueued {
		t.Errorf("Stored job mismatch: %+v", got)
	}
}

func TestClaimLifecycle(t *testing.T) {
	s, clk := newTestStore()
	ctx := context.Background()

	j := &Job{Kind: KindPublishPost, BotID: "bot-1", MaxAttempts: 3}
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// First claim runs the job immediately.
	claimed, err := s.Claim(ctx, 10)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("Expected 1 claimed job, got %d", len(claimed))
	}
	if claimed[0].Status != StatusRunning || claimed[0].Attempts != 1 {
		t.Errorf("Expected RUNNING attempt 1, got %s attempt %d", claimed[0].Status, claimed[0].Attempts)
	}
	if claimed[0].LockedAt == nil {
		t.Error("Expected lock timestamp on claimed job")
	}

	// First failure backs off 30s.
	if err := s.MarkFailed(ctx, j.ID, "provider down"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	got, _ := s.Get(ctx, j.ID)
	if got.Status != StatusRetry {
		t.Fatalf("Expected RETRY, got %s", got.Status)
	}
	if got.LockedAt != nil {
		t.Error("Expected lock cleared on RETRY")
	}
	if want := clk.Now().Add(30 * time.Second); !got.RunAt.Equal(want) {
		t.Errorf("Expected run at %s, got %s", want, got.RunAt)
	}
	if got.LastError != "provider down" {
		t.Errorf("Expected last error recorded, got %q", got.LastError)
	}

	// Not due yet.
	if claimed, _ := s.Claim(ctx, 10); len(claimed) != 0 {
		t.Fatalf("Expected no due jobs before backoff elapses, got %d", len(claimed))
	}

	// Second failure backs off 60s.
	clk.Advance(30 * time.Second)
	claimed, _ = s.Claim(ctx, 10)
	if len(claimed) != 1 || claimed[0].Attempts != 2 {
		t.Fatalf("Expected second attempt, got %+v", claimed)
	}
	s.MarkFailed(ctx, j.ID, "provider still down")
	got, _ = s.Get(ctx, j.ID)
	if want := clk.Now().Add(60 * time.Second); !got.RunAt.Equal(want) {
		t.Errorf("Expected run at %s, got %s", want, got.RunAt)
	}

	// Third failure exhausts the job.
	clk.Advance(60 * time.Second)
	claimed, _ = s.Claim(ctx, 10)
	if len(claimed) != 1 || claimed[0].Attempts != 3 {
		t.Fatalf("Expected third attempt, got %+v", claimed)
	}
	s.MarkFailed(ctx, j.ID, "gave up")
	got, _ = s.Get(ctx, j.ID)
	if got.Status != StatusFailed {
		t.Errorf("Expected FAILED after max attempts, got %s", got.Status)
	}
	if got.FinishedAt == nil {
		t.Error("Expected finished timestamp on terminal job")
	}

	// Terminal jobs never come back.
	clk.Advance(24 * time.Hour)
	if claimed, _ := s.Claim(ctx, 10); len(claimed) != 0 {
		t.Errorf("Expected no claims on FAILED job, got %d", len(claimed))
	}
}

func TestMarkSucceeded(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	j := &Job{Kind: KindPublishPost, BotID: "bot-1"}
	s.Create(ctx, j)
	s.Claim(ctx, 1)

	if err := s.MarkSucceeded(ctx, j.ID); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}
	got, _ := s.Get(ctx, j.ID)
	if got.Status != StatusSucceeded {
		t.Errorf("Expected SUCCEEDED, got %s", got.Status)
	}
	if got.FinishedAt == nil {
		t.Error("Expected finished timestamp")
	}
	if !got.Terminal() {
		t.Error("Expected terminal job")
	}
}

func TestMarkGuards(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	// Finishing a job nobody claimed is a no-op.
	j := &Job{Kind: KindPublishPost, BotID: "bot-1"}
	s.Create(ctx, j)
	if err := s.MarkSucceeded(ctx, j.ID); err != nil {
		t.Fatalf("MarkSucceeded failed: %v", err)
	}
	got, _ := s.Get(ctx, j.ID)
	if got.Status != StatusQueued {
		t.Errorf("Expected QUEUED unchanged, got %s", got.Status)
	}

	// Unknown job IDs are ignored.
	if err := s.MarkFailed(ctx, "no-such-job", "boom"); err != nil {
		t.Errorf("Expected no error for unknown job, got %v", err)
	}
	if err := s.MarkSucceeded(ctx, "no-such-job"); err != nil {
		t.Errorf("Expected no error for unknown job, got %v", err)
	}
}

func TestClaimOrderAndLimit(t *testing.T) {
	s, clk := newTestStore()
	ctx := context.Background()

	base := clk.Now()
	for i := 3; i >= 1; i-- {
		s.Create(ctx, &Job{
			ID:    fmt.Sprintf("job-%d", i),
			Kind:  KindPublishPost,
			RunAt: base.Add(-time.Duration(i) * time.Minute),
		})
	}

	claimed, err := s.Claim(ctx, 2)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("Expected 2 claimed jobs, got %d", len(claimed))
	}
	if claimed[0].ID != "job-3" || claimed[1].ID != "job-2" {
		t.Errorf("Expected oldest jobs first, got %s then %s", claimed[0].ID, claimed[1].ID)
	}
}

func TestClaimDisjoint(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	const total = 40
	for i := 0; i < total; i++ {
		s.Create(ctx, &Job{Kind: KindPublishPost, BotID: "bot-1"})
	}

	var wg sync.WaitGroup
	results := make(chan []*Job, total)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := s.Claim(ctx, 5)
				if err != nil || len(claimed) == 0 {
					return
				}
				results <- claimed
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]int)
	for batch := range results {
		for _, j := range batch {
			seen[j.ID]++
		}
	}
	if len(seen) != total {
		t.Errorf("Expected %d claimed jobs, got %d", total, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("Job %s claimed %d times", id, n)
		}
	}
}

func TestHasPending(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	pending, err := s.HasPending(ctx, "bot-1", KindPublishPost)
	if err != nil {
		t.Fatalf("HasPending failed: %v", err)
	}
	if pending {
		t.Error("Expected no pending jobs for empty store")
	}

	j := &Job{Kind: KindPublishPost, BotID: "bot-1"}
	s.Create(ctx, j)

	if pending, _ := s.HasPending(ctx, "bot-1", KindPublishPost); !pending {
		t.Error("Expected pending for queued job")
	}
	if pending, _ := s.HasPending(ctx, "bot-2", KindPublishPost); pending {
		t.Error("Expected no pending for other bot")
	}
	if pending, _ := s.HasPending(ctx, "bot-1", KindInteractions); pending {
		t.Error("Expected no pending for other kind")
	}

	// Running still counts as pending.
	s.Claim(ctx, 1)
	if pending, _ := s.HasPending(ctx, "bot-1", KindPublishPost); !pending {
		t.Error("Expected pending for running job")
	}

	// Finished does not.
	s.MarkSucceeded(ctx, j.ID)
	if pending, _ := s.HasPending(ctx, "bot-1", KindPublishPost); pending {
		t.Error("Expected no pending after success")
	}
}

func TestRequeueStuck(t *testing.T) {
	s, clk := newTestStore()
	ctx := context.Background()

	stale := &Job{Kind: KindPublishPost, BotID: "bot-1"}
	exhausted := &Job{Kind: KindPublishPost, BotID: "bot-2", MaxAttempts: 1}
	s.Create(ctx, stale)
	s.Create(ctx, exhausted)
	s.Claim(ctx, 2)

	// A fresh running job is left alone.
	clk.Advance(5 * time.Minute)
	fresh := &Job{Kind: KindPublishPost, BotID: "bot-3"}
	s.Create(ctx, fresh)
	s.Claim(ctx, 1)

	clk.Advance(6 * time.Minute)
	touched, err := s.RequeueStuck(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("RequeueStuck failed: %v", err)
	}
	if touched != 2 {
		t.Errorf("Expected 2 stuck jobs touched, got %d", touched)
	}

	got, _ := s.Get(ctx, stale.ID)
	if got.Status != StatusRetry {
		t.Errorf("Expected stale job requeued, got %s", got.Status)
	}
	if got.LastError != "worker lease expired" {
		t.Errorf("Expected lease error recorded, got %q", got.LastError)
	}
	// A lease expiry counts as a failed attempt, so the retry waits out
	// the same backoff as any other failure.
	wantRunAt := clk.Now().Add(Backoff(got.Attempts))
	if !got.RunAt.Equal(wantRunAt) {
		t.Errorf("Expected retry at %v, got %v", wantRunAt, got.RunAt)
	}

	got, _ = s.Get(ctx, exhausted.ID)
	if got.Status != StatusFailed {
		t.Errorf("Expected exhausted job failed, got %s", got.Status)
	}

	got, _ = s.Get(ctx, fresh.ID)
	if got.Status != StatusRunning {
		t.Errorf("Expected fresh job untouched, got %s", got.Status)
	}
}
