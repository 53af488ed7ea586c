package cache

import (
	"context"
	"time"

	"github.com/rambozzang/ongo-sub007/pkg/clock"
	"github.com/rambozzang/ongo-sub007/pkg/plans"
	"github.com/rambozzang/ongo-sub007/pkg/subscription"
)

// Snapshot is the denormalized entitlement view served to hot paths
type Snapshot struct {
	UserID            int64               `json:"user_id"`
	Plan              plans.PlanType      `json:"plan"`
	Status            subscription.Status `json:"status"`
	Cycle             plans.BillingCycle  `json:"billing_cycle"`
	StorageLimitBytes int64               `json:"storage_limit_bytes"`
	MaxUploadBytes    int64               `json:"max_upload_bytes"`
	CreditBalance     int64               `json:"credit_balance"`
	EntitledUntil     *time.Time          `json:"entitled_until,omitempty"`
	CachedAt          time.Time           `json:"cached_at"`
}

// SubscriptionReader loads the subscription record for a user
type SubscriptionReader interface {
	GetByUser(userID int64) (*subscription.Subscription, error)
}

// LimitReader resolves the effective storage limit for a user
type LimitReader interface {
	EffectiveStorageLimit(userID int64) (int64, error)
}

// BalanceReader reports the spendable credit balance for a user
type BalanceReader interface {
	Balance(userID int64) (int64, error)
}

// SnapshotBuilder assembles snapshots from the subscription, quota, and
// credit services
type SnapshotBuilder struct {
	subs    SubscriptionReader
	limits  LimitReader
	credits BalanceReader
	clock   clock.Clock
}

// NewSnapshotBuilder creates a new SnapshotBuilder
func NewSnapshotBuilder(subs SubscriptionReader, limits LimitReader, credits BalanceReader, clk clock.Clock) *SnapshotBuilder {
	return &SnapshotBuilder{subs: subs, limits: limits, credits: credits, clock: clk}
}

// LoadSnapshot builds a fresh snapshot for a user
func (b *SnapshotBuilder) LoadSnapshot(ctx context.Context, userID int64) (*Snapshot, error) {
	sub, err := b.subs.GetByUser(userID)
	if err != nil {
		return nil, err
	}
	limit, err := b.limits.EffectiveStorageLimit(userID)
	if err != nil {
		return nil, err
	}
	balance, err := b.credits.Balance(userID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		UserID:            userID,
		Plan:              sub.Plan,
		Status:            sub.Status,
		Cycle:             sub.Cycle,
		StorageLimitBytes: limit,
		MaxUploadBytes:    plans.Get(sub.Plan).MaxUploadSizeBytes,
		CreditBalance:     balance,
		EntitledUntil:     sub.EntitledUntil(),
		CachedAt:          b.clock.Now(),
	}, nil
}
