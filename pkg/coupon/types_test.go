package coupon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rambozzang/ongo-sub007/pkg/plans"
)

func activeCoupon() *Coupon {
	return &Coupon{
		ID:             1,
		Code:           "LAUNCH30",
		DiscountType:   DiscountPercent,
		DiscountValue:  30,
		MaxUses:        100,
		MaxUsesPerUser: 1,
		ValidFrom:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil:     time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		Active:         true,
	}
}

func TestCouponDiscountCents(t *testing.T) {
	t.Run("percent rounds down", func(t *testing.T) {
		c := &Coupon{DiscountType: DiscountPercent, DiscountValue: 33}
		assert.Equal(t, int64(33), c.DiscountCents(101)) // 33.33 -> 33
	})

	t.Run("fixed clamps at price", func(t *testing.T) {
		c := &Coupon{DiscountType: DiscountFixed, DiscountValue: 5000}
		assert.Equal(t, int64(3000), c.DiscountCents(3000))
		assert.Equal(t, int64(5000), c.DiscountCents(10000))
	})
}

func TestCouponEligibleFor(t *testing.T) {
	c := activeCoupon()
	assert.True(t, c.EligibleFor(plans.PlanPro, plans.CycleMonthly), "empty filter matches all")

	c.Plans = []plans.PlanType{plans.PlanBusiness}
	assert.False(t, c.EligibleFor(plans.PlanPro, plans.CycleMonthly))
	assert.True(t, c.EligibleFor(plans.PlanBusiness, plans.CycleMonthly))

	c.Cycles = []plans.BillingCycle{plans.CycleYearly}
	assert.False(t, c.EligibleFor(plans.PlanBusiness, plans.CycleMonthly))
	assert.True(t, c.EligibleFor(plans.PlanBusiness, plans.CycleYearly))
}

func TestCouponCheck(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		mutate   func(*Coupon)
		userUses int
		reason   InvalidReason
	}{
		{"valid", func(c *Coupon) {}, 0, ""},
		{"inactive", func(c *Coupon) { c.Active = false }, 0, ReasonExpired},
		{"before window", func(c *Coupon) { c.ValidFrom = now.AddDate(0, 1, 0) }, 0, ReasonExpired},
		{"after window", func(c *Coupon) { c.ValidUntil = now.AddDate(0, -1, 0) }, 0, ReasonExpired},
		{"wrong plan", func(c *Coupon) { c.Plans = []plans.PlanType{plans.PlanBusiness} }, 0, ReasonIneligible},
		{"globally exhausted", func(c *Coupon) { c.UsedCount = c.MaxUses }, 0, ReasonExhausted},
		{"per-user cap hit", func(c *Coupon) {}, 1, ReasonPerUserLimit},
		{"unlimited global uses", func(c *Coupon) { c.MaxUses = 0; c.UsedCount = 10000 }, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := activeCoupon()
			tt.mutate(c)
			err := c.Check(now, plans.PlanPro, plans.CycleMonthly, tt.userUses)
			if tt.reason == "" {
				assert.Nil(t, err)
			} else {
				assert.NotNil(t, err)
				assert.Equal(t, tt.reason, err.Reason)
				assert.True(t, IsCouponInvalid(err))
			}
		})
	}
}
