// Package quota computes storage entitlement and enforces upload checks.
//
// The effective limit is the per-user override when set, otherwise the plan
// default. Usage comes from the storage collaborator at check time: the
// check is read-then-decide and is intentionally not joined transactionally
// with the upload write that follows. A small over-quota race is an
// accepted product tolerance, not a correctness bug.
package quota

import (
	"context"
	"fmt"

	"github.com/rambozzang/ongo-sub007/pkg/clock"
	"github.com/rambozzang/ongo-sub007/pkg/plans"
	"github.com/rambozzang/ongo-sub007/pkg/subscription"
)

// SubscriptionReader provides the subscription snapshot the guard needs
type SubscriptionReader interface {
	GetByUser(userID int64) (*subscription.Subscription, error)
}

// UsageReader reports current storage consumption. Implemented by the
// external storage collaborator.
type UsageReader interface {
	CurrentUsageBytes(ctx context.Context, userID int64) (int64, error)
}

// Guard performs storage quota checks
type Guard struct {
	subs  SubscriptionReader
	usage UsageReader
	clock clock.Clock

	// accessUntilPeriodEnd keeps paid entitlement alive on a canceled
	// subscription until the current period ends.
	accessUntilPeriodEnd bool
}

// NewGuard creates a new Guard
func NewGuard(subs SubscriptionReader, usage UsageReader, clk clock.Clock, accessUntilPeriodEnd bool) *Guard {
	return &Guard{subs: subs, usage: usage, clock: clk, accessUntilPeriodEnd: accessUntilPeriodEnd}
}

// EffectiveStorageLimit returns the byte limit currently entitling the user
func (g *Guard) EffectiveStorageLimit(userID int64) (int64, error) {
	sub, err := g.subs.GetByUser(userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load subscription: %w", err)
	}
	return g.effectiveLimit(sub), nil
}

// CheckQuota verifies that additionalBytes can be stored without exceeding
// the effective limit. Does not reserve space.
func (g *Guard) CheckQuota(ctx context.Context, userID int64, additionalBytes int64) error {
	sub, err := g.subs.GetByUser(userID)
	if err != nil {
		return fmt.Errorf("failed to load subscription: %w", err)
	}
	limit := g.effectiveLimit(sub)

	used, err := g.usage.CurrentUsageBytes(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to read storage usage: %w", err)
	}

	if used+additionalBytes > limit {
		return &StorageQuotaExceededError{
			LimitBytes:    limit,
			UsedBytes:     used,
			RequiredBytes: additionalBytes,
		}
	}
	return nil
}

func (g *Guard) effectiveLimit(sub *subscription.Subscription) int64 {
	if sub.StorageOverrideBytes != nil {
		return *sub.StorageOverrideBytes
	}
	plan := sub.Plan
	if sub.Status == subscription.StatusCanceled {
		plan = plans.PlanFree
		if g.accessUntilPeriodEnd {
			if until := sub.EntitledUntil(); until != nil && g.clock.Now().Before(*until) {
				plan = sub.Plan
			}
		}
	}
	return plans.Get(plan).StorageLimitBytes
}

// StorageQuotaExceededError carries the numbers the caller needs to render
// an actionable message
type StorageQuotaExceededError struct {
	LimitBytes    int64 `json:"limit_bytes"`
	UsedBytes     int64 `json:"used_bytes"`
	RequiredBytes int64 `json:"required_bytes"`
}

func (e *StorageQuotaExceededError) Error() string {
	return fmt.Sprintf("storage quota exceeded: limit %d, used %d, required %d",
		e.LimitBytes, e.UsedBytes, e.RequiredBytes)
}

// IsStorageQuotaExceeded checks if an error is a quota exceeded error
func IsStorageQuotaExceeded(err error) bool {
	_, ok := err.(*StorageQuotaExceededError)
	return ok
}
