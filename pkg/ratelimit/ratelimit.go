// Package ratelimit caps how many capability calls each bot may make per
// minute, backed by Redis so the cap holds across worker processes.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter is a thin wrapper around github.com/vnmchuo/ratelimiter
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, defaultCPM int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(defaultCPM)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func (l *Limiter) Allow(ctx context.Context, botID string, calls int) (bool, error) {
	key := fmt.Sprintf("ratelimit:bot:%s", botID)
	res, err := l.store.AllowN(ctx, key, calls)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}
