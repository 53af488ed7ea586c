package subscription

import (
	"fmt"
	"time"

	"github.com/rambozzang/ongo-sub007/pkg/plans"
)

// Status represents the lifecycle state of a subscription
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusPaused   Status = "paused"
	StatusCanceled Status = "canceled"
)

// validTransitions is the full state machine. CANCELED is terminal except
// for explicit reactivation back to ACTIVE.
var validTransitions = map[Status][]Status{
	StatusTrialing: {StatusActive, StatusCanceled},
	StatusActive:   {StatusActive, StatusPastDue, StatusPaused, StatusCanceled},
	StatusPastDue:  {StatusActive, StatusCanceled},
	StatusPaused:   {StatusActive, StatusCanceled},
	StatusCanceled: {StatusActive},
}

func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Subscription is the one-per-user billing record. It is never physically
// deleted; terminal states are soft.
type Subscription struct {
	ID                     int64               `json:"id"`
	UserID                 int64               `json:"user_id"`
	Plan                   plans.PlanType      `json:"plan"`
	Status                 Status              `json:"status"`
	PriceCents             int64               `json:"price_cents"`
	Cycle                  plans.BillingCycle  `json:"billing_cycle"`
	CurrentPeriodStart     *time.Time          `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time          `json:"current_period_end,omitempty"`
	NextBillingAt          *time.Time          `json:"next_billing_at,omitempty"`
	PendingPlan            *plans.PlanType     `json:"pending_plan,omitempty"`
	PendingCycle           *plans.BillingCycle `json:"pending_cycle,omitempty"`
	StorageOverrideBytes   *int64              `json:"storage_override_bytes,omitempty"`
	TrialStart             *time.Time          `json:"trial_start,omitempty"`
	TrialEnd               *time.Time          `json:"trial_end,omitempty"`
	TrialPlan              *plans.PlanType     `json:"trial_plan,omitempty"`
	PaymentMethodConfirmed bool                `json:"payment_method_confirmed"`
	CouponCode             string              `json:"coupon_code,omitempty"`
	PausedAt               *time.Time          `json:"paused_at,omitempty"`
	ResumeAt               *time.Time          `json:"resume_at,omitempty"`
	GraceExpiresAt         *time.Time          `json:"grace_expires_at,omitempty"`
	CanceledAt             *time.Time          `json:"canceled_at,omitempty"`
	Version                int64               `json:"-"`
	CreatedAt              time.Time           `json:"created_at"`
	UpdatedAt              time.Time           `json:"updated_at"`
}

// NewFree returns the signup-time subscription: free plan, active, no
// billing fields.
func NewFree(userID int64, now time.Time) *Subscription {
	return &Subscription{
		UserID:    userID,
		Plan:      plans.PlanFree,
		Status:    StatusActive,
		Cycle:     plans.CycleMonthly,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Subscription) transition(to Status) error {
	if !canTransition(s.Status, to) {
		return &InvalidStateTransitionError{From: s.Status, To: to}
	}
	s.Status = to
	return nil
}

// StartTrial moves a free account into a trial of a paid plan. The trial
// plan's entitlements apply for the window; no charge happens until the
// trial converts.
func (s *Subscription) StartTrial(plan plans.PlanType, cycle plans.BillingCycle, now time.Time) error {
	if !plan.Paid() {
		return fmt.Errorf("cannot trial plan %s", plan)
	}
	if s.TrialStart != nil {
		return fmt.Errorf("trial already used")
	}
	if err := s.transition(StatusTrialing); err != nil {
		return err
	}
	pricing := plans.Get(plan)
	end := now.AddDate(0, 0, pricing.TrialDays)
	s.Plan = plan
	s.Cycle = cycle
	s.PriceCents = pricing.PriceCents(cycle)
	s.TrialStart = &now
	s.TrialEnd = &end
	s.TrialPlan = &plan
	return nil
}

// ConvertTrial ends the trial window. With a confirmed payment method the
// paid plan activates and the first billing period opens immediately;
// otherwise the account lands on the free plan with billing fields cleared.
func (s *Subscription) ConvertTrial(now time.Time) error {
	if s.Status != StatusTrialing {
		return &InvalidStateTransitionError{From: s.Status, To: StatusActive}
	}
	s.Status = StatusActive
	s.TrialEnd = &now
	if !s.PaymentMethodConfirmed {
		s.Plan = plans.PlanFree
		s.PriceCents = 0
		s.clearBilling()
		return nil
	}
	s.openPeriod(now)
	return nil
}

// ConvertTrialDeclined activates the paid plan when the conversion charge
// was declined. The billing clock stays anchored on the trial end: the
// first period is still owed, so the past-due retry must key off it, and
// recovery must open that period rather than the one after it.
func (s *Subscription) ConvertTrialDeclined(now time.Time) error {
	if s.Status != StatusTrialing {
		return &InvalidStateTransitionError{From: s.Status, To: StatusActive}
	}
	owedFrom := now
	if s.TrialEnd != nil {
		owedFrom = *s.TrialEnd
	}
	start := owedFrom
	if s.TrialStart != nil {
		start = *s.TrialStart
	}
	s.Status = StatusActive
	s.PriceCents = plans.Get(s.Plan).PriceCents(s.Cycle)
	s.CurrentPeriodStart = &start
	s.CurrentPeriodEnd = &owedFrom
	s.NextBillingAt = &owedFrom
	return nil
}

// Renew advances an active subscription by one cycle, applying any pending
// plan change at the boundary.
func (s *Subscription) Renew(now time.Time) error {
	if s.Status != StatusActive {
		return &InvalidStateTransitionError{From: s.Status, To: StatusActive}
	}
	if s.PendingPlan != nil {
		s.Plan = *s.PendingPlan
		s.PendingPlan = nil
	}
	if s.PendingCycle != nil {
		s.Cycle = *s.PendingCycle
		s.PendingCycle = nil
	}
	if !s.Plan.Paid() {
		// Deferred downgrade to free: billing stops at the boundary.
		s.PriceCents = 0
		s.clearBilling()
		return nil
	}
	s.PriceCents = plans.Get(s.Plan).PriceCents(s.Cycle)

	// Advance from the scheduled period end, not from now, so a late
	// scheduler tick does not drift the cycle.
	start := now
	if s.CurrentPeriodEnd != nil {
		start = *s.CurrentPeriodEnd
	}
	end := s.Cycle.Advance(start)
	s.CurrentPeriodStart = &start
	s.CurrentPeriodEnd = &end
	s.NextBillingAt = &end
	s.GraceExpiresAt = nil
	return nil
}

// MarkPastDue records a definitive charge decline and starts the grace
// countdown.
func (s *Subscription) MarkPastDue(now time.Time, grace time.Duration) error {
	if err := s.transition(StatusPastDue); err != nil {
		return err
	}
	deadline := now.Add(grace)
	s.GraceExpiresAt = &deadline
	return nil
}

// RecoverFromPastDue applies a successful retry charge within the grace
// period: back to active with the period extended by one cycle.
func (s *Subscription) RecoverFromPastDue(now time.Time) error {
	if s.Status != StatusPastDue {
		return &InvalidStateTransitionError{From: s.Status, To: StatusActive}
	}
	s.Status = StatusActive
	s.GraceExpiresAt = nil
	return s.Renew(now)
}

// Pause suspends billing. resumeAt, when set, schedules an automatic
// resume; otherwise the user resumes manually.
func (s *Subscription) Pause(now time.Time, resumeAt *time.Time) error {
	if err := s.transition(StatusPaused); err != nil {
		return err
	}
	s.PausedAt = &now
	s.ResumeAt = resumeAt
	return nil
}

// Resume reactivates a paused subscription, shifting the billing schedule
// by the paused duration so the cycle length is preserved.
func (s *Subscription) Resume(now time.Time) error {
	if s.Status != StatusPaused || s.PausedAt == nil {
		return &InvalidStateTransitionError{From: s.Status, To: StatusActive}
	}
	shift := now.Sub(*s.PausedAt)
	if s.NextBillingAt != nil {
		t := s.NextBillingAt.Add(shift)
		s.NextBillingAt = &t
	}
	if s.CurrentPeriodEnd != nil {
		t := s.CurrentPeriodEnd.Add(shift)
		s.CurrentPeriodEnd = &t
	}
	s.Status = StatusActive
	s.PausedAt = nil
	s.ResumeAt = nil
	return nil
}

// Cancel flips the record to canceled immediately. Whether entitlement
// survives until period end is a policy decision made by the quota layer,
// not here: state clock and access clock are different clocks.
func (s *Subscription) Cancel(now time.Time) error {
	if err := s.transition(StatusCanceled); err != nil {
		return err
	}
	s.CanceledAt = &now
	s.NextBillingAt = nil
	s.GraceExpiresAt = nil
	s.PendingPlan = nil
	s.PendingCycle = nil
	return nil
}

// Reactivate returns a canceled subscription to the free plan. History
// stays on the record; billing fields are reset by the next plan change.
func (s *Subscription) Reactivate(now time.Time) error {
	if err := s.transition(StatusActive); err != nil {
		return err
	}
	s.Plan = plans.PlanFree
	s.PriceCents = 0
	s.CanceledAt = nil
	s.clearBilling()
	return nil
}

// ChangeQuote describes what a plan change will do when applied
type ChangeQuote struct {
	TargetPlan     plans.PlanType     `json:"target_plan"`
	TargetCycle    plans.BillingCycle `json:"target_cycle"`
	Immediate      bool               `json:"immediate"`
	ProrationCents int64              `json:"proration_cents"`
}

// QuoteChange classifies a plan change. Upgrades (higher price) take effect
// immediately with a prorated out-of-cycle charge; downgrades defer to the
// next renewal and are never refunded.
func (s *Subscription) QuoteChange(target plans.PlanType, cycle plans.BillingCycle, now time.Time) (*ChangeQuote, error) {
	if s.Status != StatusActive {
		return nil, &InvalidStateTransitionError{From: s.Status, To: s.Status}
	}
	if target == s.Plan && cycle == s.Cycle {
		return nil, fmt.Errorf("already on plan %s/%s", target, cycle)
	}
	newPrice := plans.Get(target).PriceCents(cycle)
	quote := &ChangeQuote{TargetPlan: target, TargetCycle: cycle}
	if newPrice > s.PriceCents {
		quote.Immediate = true
		quote.ProrationCents = prorate(newPrice, s.PriceCents, s.remainingDays(now), s.Cycle.Days())
	}
	return quote, nil
}

// ApplyChange executes a quoted plan change. The prorated charge, if any,
// must already have succeeded.
func (s *Subscription) ApplyChange(quote *ChangeQuote, now time.Time) error {
	if s.Status != StatusActive {
		return &InvalidStateTransitionError{From: s.Status, To: s.Status}
	}
	if !quote.Immediate {
		s.PendingPlan = &quote.TargetPlan
		s.PendingCycle = &quote.TargetCycle
		return nil
	}
	s.Plan = quote.TargetPlan
	s.Cycle = quote.TargetCycle
	s.PriceCents = plans.Get(quote.TargetPlan).PriceCents(quote.TargetCycle)
	s.PendingPlan = nil
	s.PendingCycle = nil
	if s.CurrentPeriodStart == nil {
		// Free tier had no billing period; the upgrade opens one.
		s.openPeriod(now)
	}
	return nil
}

func (s *Subscription) openPeriod(now time.Time) {
	pricing := plans.Get(s.Plan)
	s.PriceCents = pricing.PriceCents(s.Cycle)
	end := s.Cycle.Advance(now)
	s.CurrentPeriodStart = &now
	s.CurrentPeriodEnd = &end
	s.NextBillingAt = &end
}

func (s *Subscription) clearBilling() {
	s.CurrentPeriodStart = nil
	s.CurrentPeriodEnd = nil
	s.NextBillingAt = nil
	s.GraceExpiresAt = nil
	s.PendingPlan = nil
	s.PendingCycle = nil
	s.TrialPlan = nil
}

func (s *Subscription) remainingDays(now time.Time) int {
	if s.CurrentPeriodEnd == nil {
		return 0
	}
	remaining := int(s.CurrentPeriodEnd.Sub(now).Hours() / 24)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// prorate computes the out-of-cycle upgrade charge for the remaining part
// of the period.
func prorate(newPrice, oldPrice int64, remainingDays, cycleDays int) int64 {
	if cycleDays <= 0 || remainingDays <= 0 {
		return 0
	}
	return (newPrice - oldPrice) * int64(remainingDays) / int64(cycleDays)
}

// EntitledUntil returns the moment paid entitlement ends for a canceled
// subscription when end-of-period access is configured, or nil when access
// is open-ended.
func (s *Subscription) EntitledUntil() *time.Time {
	if s.Status == StatusCanceled {
		return s.CurrentPeriodEnd
	}
	return nil
}

// InvalidStateTransitionError indicates the state machine was driven out
// of order. This is a programming-contract violation: callers log it
// loudly instead of swallowing it.
type InvalidStateTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid subscription transition %s -> %s", e.From, e.To)
}

// IsInvalidStateTransition checks if an error is a state transition error
func IsInvalidStateTransition(err error) bool {
	_, ok := err.(*InvalidStateTransitionError)
	return ok
}
