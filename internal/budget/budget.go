// Package budget tracks each bot's provider spend for the current day. The
// router reads the running total when it builds a budget decision; the
// telemetry observer writes successful call costs back. Totals live in Redis
// under per-day keys so they reset naturally at midnight UTC.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Ledger is the daily spend counter shared by the scheduler's handlers and
// the telemetry observer.
type Ledger interface {
	// SpentToday returns the bot's accumulated spend in cents for the
	// current UTC day.
	SpentToday(ctx context.Context, botID string) (int64, error)

	// Add credits cents of spend to the bot's total for the current UTC day.
	Add(ctx context.Context, botID string, cents int64) error
}

// keyTTL keeps yesterday's counter around briefly for inspection, then lets
// Redis drop it.
const keyTTL = 48 * time.Hour

type RedisLedger struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisLedger(rdb *redis.Client) *RedisLedger {
	return &RedisLedger{rdb: rdb, now: time.Now}
}

func (l *RedisLedger) key(botID string) string {
	return fmt.Sprintf("budget:spend:%s:%s", botID, l.now().UTC().Format("2006-01-02"))
}

func (l *RedisLedger) SpentToday(ctx context.Context, botID string) (int64, error) {
	cents, err := l.rdb.Get(ctx, l.key(botID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read spend ledger: %w", err)
	}
	return cents, nil
}

func (l *RedisLedger) Add(ctx context.Context, botID string, cents int64) error {
	if cents <= 0 {
		return nil
	}
	key := l.key(botID)
	if err := l.rdb.IncrBy(ctx, key, cents).Err(); err != nil {
		return fmt.Errorf("failed to add to spend ledger: %w", err)
	}
	if err := l.rdb.Expire(ctx, key, keyTTL).Err(); err != nil {
		return fmt.Errorf("failed to expire spend ledger key: %w", err)
	}
	return nil
}
