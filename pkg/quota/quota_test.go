package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rambozzang/ongo-sub007/pkg/clock"
	"github.com/rambozzang/ongo-sub007/pkg/plans"
	"github.com/rambozzang/ongo-sub007/pkg/subscription"
)

type mockSubs struct {
	sub *subscription.Subscription
	err error
}

func (m *mockSubs) GetByUser(userID int64) (*subscription.Subscription, error) {
	return m.sub, m.err
}

type mockUsage struct {
	bytes int64
	err   error
}

func (m *mockUsage) CurrentUsageBytes(ctx context.Context, userID int64) (int64, error) {
	return m.bytes, m.err
}

var quotaNow = time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)

func proSub() *subscription.Subscription {
	periodEnd := quotaNow.AddDate(0, 0, 10)
	return &subscription.Subscription{
		UserID:           1,
		Plan:             plans.PlanPro,
		Status:           subscription.StatusActive,
		CurrentPeriodEnd: &periodEnd,
	}
}

func TestEffectiveStorageLimit(t *testing.T) {
	proLimit := plans.Get(plans.PlanPro).StorageLimitBytes
	freeLimit := plans.Get(plans.PlanFree).StorageLimitBytes

	t.Run("plan default", func(t *testing.T) {
		g := NewGuard(&mockSubs{sub: proSub()}, &mockUsage{}, clock.NewMock(quotaNow), true)
		limit, err := g.EffectiveStorageLimit(1)
		require.NoError(t, err)
		assert.Equal(t, proLimit, limit)
	})

	t.Run("override wins over plan default", func(t *testing.T) {
		sub := proSub()
		override := int64(7 * 1024 * 1024 * 1024)
		sub.StorageOverrideBytes = &override

		g := NewGuard(&mockSubs{sub: sub}, &mockUsage{}, clock.NewMock(quotaNow), true)
		limit, err := g.EffectiveStorageLimit(1)
		require.NoError(t, err)
		assert.Equal(t, override, limit)
	})

	t.Run("canceled keeps paid limit until period end", func(t *testing.T) {
		sub := proSub()
		sub.Status = subscription.StatusCanceled

		g := NewGuard(&mockSubs{sub: sub}, &mockUsage{}, clock.NewMock(quotaNow), true)
		limit, err := g.EffectiveStorageLimit(1)
		require.NoError(t, err)
		assert.Equal(t, proLimit, limit)

		t.Run("drops to free after period end", func(t *testing.T) {
			g := NewGuard(&mockSubs{sub: sub}, &mockUsage{}, clock.NewMock(quotaNow.AddDate(0, 0, 11)), true)
			limit, err := g.EffectiveStorageLimit(1)
			require.NoError(t, err)
			assert.Equal(t, freeLimit, limit)
		})
	})

	t.Run("immediate cutoff policy", func(t *testing.T) {
		sub := proSub()
		sub.Status = subscription.StatusCanceled

		g := NewGuard(&mockSubs{sub: sub}, &mockUsage{}, clock.NewMock(quotaNow), false)
		limit, err := g.EffectiveStorageLimit(1)
		require.NoError(t, err)
		assert.Equal(t, freeLimit, limit)
	})
}

func TestCheckQuota(t *testing.T) {
	proLimit := plans.Get(plans.PlanPro).StorageLimitBytes

	t.Run("within limit", func(t *testing.T) {
		g := NewGuard(&mockSubs{sub: proSub()}, &mockUsage{bytes: proLimit - 100}, clock.NewMock(quotaNow), true)
		assert.NoError(t, g.CheckQuota(context.Background(), 1, 100))
	})

	t.Run("over limit carries the numbers", func(t *testing.T) {
		g := NewGuard(&mockSubs{sub: proSub()}, &mockUsage{bytes: proLimit - 100}, clock.NewMock(quotaNow), true)

		err := g.CheckQuota(context.Background(), 1, 101)
		require.Error(t, err)
		require.True(t, IsStorageQuotaExceeded(err))

		exceeded := err.(*StorageQuotaExceededError)
		assert.Equal(t, proLimit, exceeded.LimitBytes)
		assert.Equal(t, proLimit-100, exceeded.UsedBytes)
		assert.Equal(t, int64(101), exceeded.RequiredBytes)
	})

	t.Run("subscription load failure propagates", func(t *testing.T) {
		g := NewGuard(&mockSubs{err: subscription.ErrNotFound}, &mockUsage{}, clock.NewMock(quotaNow), true)
		err := g.CheckQuota(context.Background(), 1, 1)
		assert.ErrorIs(t, err, subscription.ErrNotFound)
	})
}
