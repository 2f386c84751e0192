package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps jobs in a map. It mirrors the Postgres store's state
// machine and is used in tests and local development without a database.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job), now: time.Now}
}

// NewMemoryStoreWithClock uses now instead of time.Now, so tests can walk
// jobs through backoff windows without sleeping.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job), now: now}
}

func (s *MemoryStore) Create(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if job.RunAt.IsZero() {
		job.RunAt = now.UTC()
	}
	normalize(job)
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.ID] = clone(job)
	return nil
}

func (s *MemoryStore) Claim(ctx context.Context, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var due []*Job
	for _, j := range s.jobs {
		if (j.Status == StatusQueued || j.Status == StatusRetry) && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].RunAt.Before(due[k].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*Job, 0, len(due))
	for _, j := range due {
		j.Status = StatusRunning
		j.Attempts++
		locked := now
		j.LockedAt = &locked
		j.UpdatedAt = now
		claimed = append(claimed, clone(j))
	}
	return claimed, nil
}

func (s *MemoryStore) MarkSucceeded(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.Status != StatusRunning {
		return nil
	}
	now := s.now()
	j.Status = StatusSucceeded
	j.LockedAt = nil
	j.FinishedAt = &now
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, jobID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.Status != StatusRunning {
		return nil
	}
	now := s.now()
	j.LastError = errMsg
	j.LockedAt = nil
	j.UpdatedAt = now
	if j.Attempts >= j.MaxAttempts {
		j.Status = StatusFailed
		j.FinishedAt = &now
		return nil
	}
	j.Status = StatusRetry
	j.RunAt = now.Add(Backoff(j.Attempts))
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(j), nil
}

func (s *MemoryStore) HasPending(ctx context.Context, botID string, kind Kind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.BotID == botID && j.Kind == kind &&
			(j.Status == StatusQueued || j.Status == StatusRetry || j.Status == StatusRunning) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) RequeueStuck(ctx context.Context, lease time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-lease)
	touched := 0
	for _, j := range s.jobs {
		if j.Status != StatusRunning || j.LockedAt == nil || !j.LockedAt.Before(cutoff) {
			continue
		}
		j.LastError = "worker lease expired"
		j.LockedAt = nil
		j.UpdatedAt = now
		if j.Attempts >= j.MaxAttempts {
			j.Status = StatusFailed
			finished := now
			j.FinishedAt = &finished
		} else {
			j.Status = StatusRetry
			j.RunAt = now.Add(Backoff(j.Attempts))
		}
		touched++
	}
	return touched, nil
}

func clone(j *Job) *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append([]byte(nil), j.Payload...)
	}
	if j.LockedAt != nil {
		t := *j.LockedAt
		c.LockedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
