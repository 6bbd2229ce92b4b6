package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter caps how many requests a user may enqueue per minute. It wraps
// github.com/vnmchuo/ratelimiter backed by Redis, so the budget is shared by
// every API replica.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, requestsPerMinute int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(requestsPerMinute)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func key(userID string) string {
	return fmt.Sprintf("ratelimit:user:%s", userID)
}

// Allow consumes one request from the user's budget.
func (l *Limiter) Allow(ctx context.Context, userID string) (bool, error) {
	res, err := l.store.Allow(ctx, key(userID))
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

// Status reports the user's current window without consuming from it.
func (l *Limiter) Status(ctx context.Context, userID string) (*extratelimit.Result, error) {
	return l.store.Status(ctx, key(userID))
}
