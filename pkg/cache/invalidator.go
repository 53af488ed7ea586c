package cache

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Invalidator drops entitlement snapshots from Redis without serving
// reads. It fits processes that mutate entitlements but never consult
// them, like the billing scheduler. L1 caches in other processes age out
// on their own short TTL.
type Invalidator struct {
	redis *redis.Client
}

// NewInvalidator creates a new Invalidator
func NewInvalidator(redisClient *redis.Client) *Invalidator {
	return &Invalidator{redis: redisClient}
}

// Invalidate drops the user's snapshot from Redis
func (i *Invalidator) Invalidate(ctx context.Context, userID int64) error {
	if err := i.redis.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate entitlement cache: %w", err)
	}
	return nil
}
