package budget

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger keeps spend totals in a map, keyed the same way as the Redis
// ledger. Used in tests and local development without Redis.
type MemoryLedger struct {
	mu    sync.Mutex
	spend map[string]int64
	now   func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{spend: make(map[string]int64), now: time.Now}
}

func (l *MemoryLedger) key(botID string) string {
	return botID + ":" + l.now().UTC().Format("2006-01-02")
}

func (l *MemoryLedger) SpentToday(ctx context.Context, botID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spend[l.key(botID)], nil
}

func (l *MemoryLedger) Add(ctx context.Context, botID string, cents int64) error {
	if cents <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spend[l.key(botID)] += cents
	return nil
}
