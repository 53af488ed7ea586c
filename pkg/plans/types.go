package plans

import "time"

// PlanType represents a subscription plan tier
type PlanType string

const (
	PlanFree     PlanType = "free"
	PlanPro      PlanType = "pro"
	PlanBusiness PlanType = "business"
)

// Valid reports whether p is a known plan tier.
func (p PlanType) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanBusiness:
		return true
	}
	return false
}

// Paid reports whether p requires billing.
func (p PlanType) Paid() bool {
	return p.Valid() && p != PlanFree
}

// BillingCycle represents how often a subscription renews
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// Valid reports whether c is a known billing cycle.
func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleYearly
}

// Days returns the nominal cycle length in days, used for proration.
func (c BillingCycle) Days() int {
	if c == CycleYearly {
		return 365
	}
	return 30
}

// Advance returns start moved forward by one billing cycle. AddDate
// normalizes an overflowing day into the following month (Jan 31 plus one
// month lands in early March), which would drift the billing day across
// renewals; the result is clamped to the last day of the target month
// instead.
func (c BillingCycle) Advance(start time.Time) time.Time {
	years, months := 0, 1
	if c == CycleYearly {
		years, months = 1, 0
	}
	next := start.AddDate(years, months, 0)
	if next.Day() != start.Day() {
		next = next.AddDate(0, 0, -next.Day())
	}
	return next
}

// Pricing defines the price and entitlements of a plan
type Pricing struct {
	Plan               PlanType
	MonthlyPriceCents  int64
	YearlyPriceCents   int64
	StorageLimitBytes  int64
	MaxUploadSizeBytes int64
	MonthlyFreeCredits int64
	TrialDays          int
}

// PriceCents returns the price of the plan for the given cycle.
func (p Pricing) PriceCents(cycle BillingCycle) int64 {
	if cycle == CycleYearly {
		return p.YearlyPriceCents
	}
	return p.MonthlyPriceCents
}
