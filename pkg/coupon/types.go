package coupon

import (
	"fmt"
	"time"

	"github.com/rambozzang/ongo-sub007/pkg/plans"
)

// DiscountType represents how a coupon reduces a price
type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

// InvalidReason explains why a coupon failed validation
type InvalidReason string

const (
	ReasonExpired      InvalidReason = "EXPIRED"
	ReasonExhausted    InvalidReason = "EXHAUSTED"
	ReasonIneligible   InvalidReason = "INELIGIBLE"
	ReasonPerUserLimit InvalidReason = "PER_USER_LIMIT"
)

// Coupon is a globally administered discount code
type Coupon struct {
	ID             int64                `json:"id"`
	Code           string               `json:"code"`
	DiscountType   DiscountType         `json:"discount_type"`
	DiscountValue  int64                `json:"discount_value"`
	Plans          []plans.PlanType     `json:"plans,omitempty"`
	Cycles         []plans.BillingCycle `json:"cycles,omitempty"`
	MaxUses        int                  `json:"max_uses"`
	MaxUsesPerUser int                  `json:"max_uses_per_user"`
	ValidFrom      time.Time            `json:"valid_from"`
	ValidUntil     time.Time            `json:"valid_until"`
	UsedCount      int                  `json:"used_count"`
	Active         bool                 `json:"active"`
	CreatedAt      time.Time            `json:"created_at"`
}

// Usage records one successful application of a coupon. Rows are created
// exactly once per apply and never mutated.
type Usage struct {
	ID             int64     `json:"id"`
	CouponID       int64     `json:"coupon_id"`
	UserID         int64     `json:"user_id"`
	SubscriptionID int64     `json:"subscription_id"`
	DiscountCents  int64     `json:"discount_cents"`
	AppliedAt      time.Time `json:"applied_at"`
}

// Validation is the outcome of checking a coupon against a target purchase
type Validation struct {
	Valid         bool          `json:"valid"`
	DiscountCents int64         `json:"discount_cents,omitempty"`
	Reason        InvalidReason `json:"reason,omitempty"`
}

// DiscountCents computes the discount against a price. Percent discounts
// round down to the smallest currency unit; fixed discounts clamp at the
// price so the charge never goes negative.
func (c *Coupon) DiscountCents(priceCents int64) int64 {
	switch c.DiscountType {
	case DiscountPercent:
		return priceCents * c.DiscountValue / 100
	case DiscountFixed:
		if c.DiscountValue > priceCents {
			return priceCents
		}
		return c.DiscountValue
	}
	return 0
}

// EligibleFor reports whether the coupon applies to the plan and cycle.
// An empty filter matches everything.
func (c *Coupon) EligibleFor(plan plans.PlanType, cycle plans.BillingCycle) bool {
	if len(c.Plans) > 0 {
		found := false
		for _, p := range c.Plans {
			if p == plan {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.Cycles) > 0 {
		for _, cy := range c.Cycles {
			if cy == cycle {
				return true
			}
		}
		return false
	}
	return true
}

// Check validates the coupon for a purchase. userUses is the number of
// usage rows the user already holds. Returns nil when the coupon is valid.
func (c *Coupon) Check(now time.Time, plan plans.PlanType, cycle plans.BillingCycle, userUses int) *CouponInvalidError {
	if !c.Active || now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return &CouponInvalidError{Code: c.Code, Reason: ReasonExpired}
	}
	if !c.EligibleFor(plan, cycle) {
		return &CouponInvalidError{Code: c.Code, Reason: ReasonIneligible}
	}
	if c.MaxUses > 0 && c.UsedCount >= c.MaxUses {
		return &CouponInvalidError{Code: c.Code, Reason: ReasonExhausted}
	}
	if c.MaxUsesPerUser > 0 && userUses >= c.MaxUsesPerUser {
		return &CouponInvalidError{Code: c.Code, Reason: ReasonPerUserLimit}
	}
	return nil
}

// CouponInvalidError carries the specific rejection reason
type CouponInvalidError struct {
	Code   string
	Reason InvalidReason
}

func (e *CouponInvalidError) Error() string {
	return fmt.Sprintf("coupon %s invalid: %s", e.Code, e.Reason)
}

// IsCouponInvalid checks if an error is a coupon validation error
func IsCouponInvalid(err error) bool {
	_, ok := err.(*CouponInvalidError)
	return ok
}
