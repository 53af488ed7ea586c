package plans

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBillingCycleAdvance(t *testing.T) {
	t.Run("monthly keeps the billing day", func(t *testing.T) {
		assert.Equal(t, date(2026, 9, 15), CycleMonthly.Advance(date(2026, 8, 15)))
		assert.Equal(t, date(2026, 9, 1), CycleMonthly.Advance(date(2026, 8, 1)))
	})

	t.Run("monthly clamps month-end anchors", func(t *testing.T) {
		// Jan 31 must not normalize into March.
		assert.Equal(t, date(2026, 2, 28), CycleMonthly.Advance(date(2026, 1, 31)))
		assert.Equal(t, date(2028, 2, 29), CycleMonthly.Advance(date(2028, 1, 31)))
		assert.Equal(t, date(2026, 9, 30), CycleMonthly.Advance(date(2026, 8, 31)))
		assert.Equal(t, date(2026, 2, 28), CycleMonthly.Advance(date(2026, 1, 30)))
	})

	t.Run("yearly clamps leap-day anchors", func(t *testing.T) {
		assert.Equal(t, date(2029, 2, 28), CycleYearly.Advance(date(2028, 2, 29)))
		assert.Equal(t, date(2027, 8, 15), CycleYearly.Advance(date(2026, 8, 15)))
	})

	t.Run("advance preserves the time of day", func(t *testing.T) {
		start := time.Date(2026, 1, 31, 9, 30, 0, 0, time.UTC)
		next := CycleMonthly.Advance(start)
		assert.Equal(t, time.Date(2026, 2, 28, 9, 30, 0, 0, time.UTC), next)
	})
}

func TestPricingPriceCents(t *testing.T) {
	pro := Get(PlanPro)
	assert.Equal(t, pro.MonthlyPriceCents, pro.PriceCents(CycleMonthly))
	assert.Equal(t, pro.YearlyPriceCents, pro.PriceCents(CycleYearly))
}

func TestPlanTypePaid(t *testing.T) {
	assert.False(t, PlanFree.Paid())
	assert.True(t, PlanPro.Paid())
	assert.True(t, PlanBusiness.Paid())
	assert.False(t, PlanType("platinum").Paid())
}
