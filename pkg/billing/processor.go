package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rambozzang/ongo-sub007/pkg/clock"
	"github.com/rambozzang/ongo-sub007/pkg/coupon"
	"github.com/rambozzang/ongo-sub007/pkg/observability"
	"github.com/rambozzang/ongo-sub007/pkg/plans"
	"github.com/rambozzang/ongo-sub007/pkg/subscription"
)

// SubscriptionStore is the slice of the subscription service the processor
// drives
type SubscriptionStore interface {
	Save(sub *subscription.Subscription) error
	ListDueForBilling(limit int) ([]*subscription.Subscription, error)
	ListTrialsEnding(limit int) ([]*subscription.Subscription, error)
	ListGraceExpired(limit int) ([]*subscription.Subscription, error)
	ListPastDueRetries(limit int) ([]*subscription.Subscription, error)
	ListDueResumes(limit int) ([]*subscription.Subscription, error)
	CountByStatus() (map[subscription.Status]int64, error)
}

// SnapshotInvalidator drops cached entitlement snapshots after a
// scheduler-driven state change. Without it a grace-expiry cancel or a
// deferred downgrade would keep serving the old entitlements until the
// cache TTL lapses.
type SnapshotInvalidator interface {
	Invalidate(ctx context.Context, userID int64) error
}

// CreditGranter grants renewal allowances and expires purchased batches
type CreditGranter interface {
	GrantFreeAllowance(userID int64, amount int64) error
	ExpireBatches() (int64, error)
}

// CouponValidator re-validates an attached coupon at renewal time
type CouponValidator interface {
	Validate(code string, userID int64, plan plans.PlanType, cycle plans.BillingCycle) (*coupon.Validation, error)
}

// Config holds processor tuning knobs
type Config struct {
	// GracePeriod is how long a past-due subscription keeps retrying
	// before the grace-expiry cancel.
	GracePeriod time.Duration
	// BatchLimit caps how many subscriptions each phase pulls per tick.
	BatchLimit int
	// Workers bounds per-phase concurrency.
	Workers int
}

func (c Config) withDefaults() Config {
	if c.GracePeriod <= 0 {
		c.GracePeriod = 7 * 24 * time.Hour
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 500
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	return c
}

// Processor runs the periodic billing tick. Each phase lists due work,
// fans out across a bounded worker pool, and persists results under the
// subscription version check so a second concurrent tick loses cleanly.
type Processor struct {
	subs        SubscriptionStore
	credits     CreditGranter
	coupons     CouponValidator
	attempts    AttemptStore
	gateway     PaymentGateway
	invalidator SnapshotInvalidator
	clock       clock.Clock
	logger      *observability.Logger
	metrics     *observability.Metrics
	config      Config
}

// NewProcessor creates a new Processor. invalidator may be nil when no
// cache is deployed.
func NewProcessor(
	subs SubscriptionStore,
	credits CreditGranter,
	coupons CouponValidator,
	attempts AttemptStore,
	gateway PaymentGateway,
	invalidator SnapshotInvalidator,
	clk clock.Clock,
	logger *observability.Logger,
	metrics *observability.Metrics,
	cfg Config,
) *Processor {
	return &Processor{
		subs:        subs,
		credits:     credits,
		coupons:     coupons,
		attempts:    attempts,
		gateway:     gateway,
		invalidator: invalidator,
		clock:       clk,
		logger:      logger,
		metrics:     metrics,
		config:      cfg.withDefaults(),
	}
}

// RunTick executes one full scheduler pass. Individual subscription
// failures are logged and counted but do not abort the tick; only listing
// failures bubble up.
func (p *Processor) RunTick(ctx context.Context) error {
	start := p.clock.Now()
	if p.metrics != nil {
		p.metrics.BillingTicksTotal.Inc()
		defer func() {
			p.metrics.BillingTickDuration.Observe(time.Since(start).Seconds())
		}()
	}

	phases := []struct {
		name string
		list func(int) ([]*subscription.Subscription, error)
		run  func(context.Context, *subscription.Subscription) error
	}{
		{"renewals", p.subs.ListDueForBilling, p.processRenewal},
		{"past_due_retries", p.subs.ListPastDueRetries, p.processRetry},
		{"trial_conversions", p.subs.ListTrialsEnding, p.processTrialEnd},
		{"grace_expirations", p.subs.ListGraceExpired, p.processGraceExpiry},
		{"scheduled_resumes", p.subs.ListDueResumes, p.processResume},
	}
	for _, phase := range phases {
		if err := p.runPhase(ctx, phase.name, phase.list, phase.run); err != nil {
			return fmt.Errorf("billing phase %s: %w", phase.name, err)
		}
	}

	expired, err := p.credits.ExpireBatches()
	if err != nil {
		return fmt.Errorf("credit expiry: %w", err)
	}
	if expired > 0 {
		p.logger.WithField("credits", expired).Info("expired lapsed credit batches")
		if p.metrics != nil {
			p.metrics.CreditBatchesExpired.Add(float64(expired))
		}
	}

	p.updateStatusGauge()
	return nil
}

// updateStatusGauge refreshes the per-status subscription gauge once per
// tick. Every status is written so a count that drops to zero does not
// linger at its last value.
func (p *Processor) updateStatusGauge() {
	if p.metrics == nil {
		return
	}
	counts, err := p.subs.CountByStatus()
	if err != nil {
		p.logger.WithError(err).Warn("failed to count subscriptions by status")
		return
	}
	for _, status := range []subscription.Status{
		subscription.StatusTrialing,
		subscription.StatusActive,
		subscription.StatusPastDue,
		subscription.StatusPaused,
		subscription.StatusCanceled,
	} {
		p.metrics.SubscriptionsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// invalidate drops the cached entitlement snapshot after a state change.
// Staleness never fails the billing work that caused it.
func (p *Processor) invalidate(ctx context.Context, userID int64) {
	if p.invalidator == nil {
		return
	}
	if err := p.invalidator.Invalidate(ctx, userID); err != nil {
		p.logger.WithError(err).WithUser(userID).Warn("failed to invalidate entitlement cache")
	}
}

func (p *Processor) runPhase(ctx context.Context, name string,
	list func(int) ([]*subscription.Subscription, error),
	run func(context.Context, *subscription.Subscription) error) error {

	due, err := list(p.config.BatchLimit)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	p.logger.WithFields(map[string]interface{}{"phase": name, "count": len(due)}).Info("processing billing phase")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Workers)
	for _, sub := range due {
		sub := sub
		g.Go(func() error {
			if err := run(gctx, sub); err != nil {
				// A version conflict means another worker already
				// advanced this record; everything else is logged and
				// left for the next tick.
				if !errors.Is(err, subscription.ErrVersionConflict) {
					p.logger.WithError(err).WithUser(sub.UserID).WithSubscription(sub.ID).
						Errorf("billing phase %s failed for subscription", name)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// processRenewal charges and advances one due subscription.
func (p *Processor) processRenewal(ctx context.Context, sub *subscription.Subscription) error {
	now := p.clock.Now()
	if sub.NextBillingAt == nil {
		return fmt.Errorf("subscription %d due for billing without next_billing_at", sub.ID)
	}
	periodStart := *sub.NextBillingAt

	// The charge prices the period being opened, so a pending plan change
	// is priced at its target, not at the outgoing plan.
	plan, cycle := sub.Plan, sub.Cycle
	if sub.PendingPlan != nil {
		plan = *sub.PendingPlan
	}
	if sub.PendingCycle != nil {
		cycle = *sub.PendingCycle
	}
	if !plan.Paid() {
		// Deferred downgrade to free: no charge, billing stops.
		if err := sub.Renew(now); err != nil {
			return err
		}
		if err := p.subs.Save(sub); err != nil {
			return err
		}
		p.invalidate(ctx, sub.UserID)
		return nil
	}

	amount := p.discountedPrice(sub, plan, cycle)
	attempt, err := p.attempts.Begin(sub.ID, sub.UserID, periodStart, amount)
	if err != nil {
		return err
	}

	if attempt.Status != AttemptSucceeded {
		if err := p.charge(ctx, sub, attempt, amount,
			fmt.Sprintf("renewal:%d:%s", sub.ID, periodStart.UTC().Format(time.RFC3339)),
			fmt.Sprintf("%s plan renewal", plan)); err != nil {
			return err
		}
	} else {
		// Charged on a previous tick that crashed before advancing the
		// record. Advance without charging again.
		p.logger.WithSubscription(sub.ID).Info("period already charged, advancing subscription")
		p.countCharge("skipped")
	}

	if err := sub.Renew(now); err != nil {
		return err
	}
	if err := p.subs.Save(sub); err != nil {
		return err
	}
	p.grantAllowance(sub)
	p.invalidate(ctx, sub.UserID)
	return nil
}

// processRetry re-attempts the declined charge for a past-due subscription
// still inside its grace window.
func (p *Processor) processRetry(ctx context.Context, sub *subscription.Subscription) error {
	now := p.clock.Now()
	if sub.NextBillingAt == nil {
		return fmt.Errorf("past-due subscription %d without next_billing_at", sub.ID)
	}
	periodStart := *sub.NextBillingAt

	plan, cycle := sub.Plan, sub.Cycle
	if sub.PendingPlan != nil {
		plan = *sub.PendingPlan
	}
	if sub.PendingCycle != nil {
		cycle = *sub.PendingCycle
	}
	amount := p.discountedPrice(sub, plan, cycle)

	attempt, err := p.attempts.Begin(sub.ID, sub.UserID, periodStart, amount)
	if err != nil {
		return err
	}
	if attempt.Status != AttemptSucceeded {
		if err := p.charge(ctx, sub, attempt, amount,
			fmt.Sprintf("renewal:%d:%s", sub.ID, periodStart.UTC().Format(time.RFC3339)),
			fmt.Sprintf("%s plan renewal retry", plan)); err != nil {
			return err
		}
	}

	if err := sub.RecoverFromPastDue(now); err != nil {
		return err
	}
	if err := p.subs.Save(sub); err != nil {
		return err
	}
	p.grantAllowance(sub)
	p.invalidate(ctx, sub.UserID)
	p.logger.WithUser(sub.UserID).WithSubscription(sub.ID).Info("past-due subscription recovered")
	return nil
}

// processTrialEnd converts an ended trial. With a confirmed payment method
// the first period is charged; without one the account lands on free.
func (p *Processor) processTrialEnd(ctx context.Context, sub *subscription.Subscription) error {
	now := p.clock.Now()

	if !sub.PaymentMethodConfirmed {
		if err := sub.ConvertTrial(now); err != nil {
			return err
		}
		if err := p.subs.Save(sub); err != nil {
			return err
		}
		p.invalidate(ctx, sub.UserID)
		p.logger.WithUser(sub.UserID).WithSubscription(sub.ID).Info("trial ended without payment method, moved to free")
		return nil
	}

	if sub.TrialEnd == nil {
		return fmt.Errorf("trialing subscription %d without trial_end", sub.ID)
	}
	amount := p.discountedPrice(sub, sub.Plan, sub.Cycle)
	attempt, err := p.attempts.Begin(sub.ID, sub.UserID, *sub.TrialEnd, amount)
	if err != nil {
		return err
	}

	charged := attempt.Status == AttemptSucceeded
	var declined *ChargeDeclinedError
	if !charged {
		err := p.charge(ctx, sub, attempt, amount,
			fmt.Sprintf("trial:%d:%s", sub.ID, sub.TrialEnd.UTC().Format(time.RFC3339)),
			fmt.Sprintf("%s plan trial conversion", sub.Plan))
		if err != nil && !errors.As(err, &declined) {
			return err
		}
	}

	if declined != nil {
		// The plan activates but the first period is still owed. The
		// billing clock stays on the trial end so the retry reuses the
		// failed attempt and recovery opens the unpaid period, not the
		// one after it; grace gives the user time to fix the card.
		if err := sub.ConvertTrialDeclined(now); err != nil {
			return err
		}
		if err := sub.MarkPastDue(now, p.config.GracePeriod); err != nil {
			return err
		}
	} else if err := sub.ConvertTrial(now); err != nil {
		return err
	}
	if err := p.subs.Save(sub); err != nil {
		return err
	}
	if declined == nil {
		p.grantAllowance(sub)
	}
	p.invalidate(ctx, sub.UserID)
	return nil
}

// processGraceExpiry cancels a past-due subscription whose grace window
// lapsed without a successful retry.
func (p *Processor) processGraceExpiry(ctx context.Context, sub *subscription.Subscription) error {
	if err := sub.Cancel(p.clock.Now()); err != nil {
		return err
	}
	if err := p.subs.Save(sub); err != nil {
		return err
	}
	p.invalidate(ctx, sub.UserID)
	p.logger.WithUser(sub.UserID).WithSubscription(sub.ID).Warn("grace period expired, subscription canceled")
	return nil
}

// processResume reactivates a paused subscription at its scheduled time.
func (p *Processor) processResume(ctx context.Context, sub *subscription.Subscription) error {
	if err := sub.Resume(p.clock.Now()); err != nil {
		return err
	}
	if err := p.subs.Save(sub); err != nil {
		return err
	}
	p.invalidate(ctx, sub.UserID)
	p.logger.WithUser(sub.UserID).WithSubscription(sub.ID).Info("paused subscription resumed on schedule")
	return nil
}

// ChargeUpgrade collects the prorated out-of-cycle charge for an immediate
// plan upgrade. The caller applies the change only after this succeeds.
func (p *Processor) ChargeUpgrade(ctx context.Context, sub *subscription.Subscription, quote *subscription.ChangeQuote) error {
	if quote.ProrationCents <= 0 {
		return nil
	}
	result, err := p.gateway.Charge(ctx, ChargeRequest{
		UserID:         sub.UserID,
		AmountCents:    quote.ProrationCents,
		IdempotencyKey: fmt.Sprintf("upgrade:%d:%s:%s", sub.ID, quote.TargetPlan, quote.TargetCycle),
		Description:    fmt.Sprintf("prorated upgrade to %s", quote.TargetPlan),
	})
	if err != nil {
		p.countCharge("transient_error")
		return fmt.Errorf("upgrade charge failed: %w", err)
	}
	if !result.Success {
		p.countCharge("declined")
		return &ChargeDeclinedError{UserID: sub.UserID, Reason: result.DeclineReason}
	}
	p.countCharge("succeeded")
	return nil
}

// charge runs one gateway call and settles the attempt row. A declined
// charge marks the subscription past due and returns ChargeDeclinedError;
// a gateway error leaves everything untouched for the next tick.
func (p *Processor) charge(ctx context.Context, sub *subscription.Subscription, attempt *Attempt, amount int64, idempotencyKey, description string) error {
	if amount <= 0 {
		// A 100% coupon can zero the charge; the period still advances.
		return p.attempts.MarkSucceeded(attempt.ID, "zero-amount")
	}

	result, err := p.gateway.Charge(ctx, ChargeRequest{
		UserID:         sub.UserID,
		AmountCents:    amount,
		IdempotencyKey: idempotencyKey,
		Description:    description,
	})
	if err != nil {
		p.countCharge("transient_error")
		return fmt.Errorf("gateway charge failed: %w", err)
	}
	if !result.Success {
		p.countCharge("declined")
		if markErr := p.attempts.MarkFailed(attempt.ID, result.DeclineReason); markErr != nil {
			return markErr
		}
		if sub.Status == subscription.StatusActive {
			if err := sub.MarkPastDue(p.clock.Now(), p.config.GracePeriod); err != nil {
				return err
			}
			if err := p.subs.Save(sub); err != nil {
				return err
			}
			p.invalidate(ctx, sub.UserID)
		}
		return &ChargeDeclinedError{UserID: sub.UserID, Reason: result.DeclineReason}
	}

	p.countCharge("succeeded")
	return p.attempts.MarkSucceeded(attempt.ID, result.TransactionRef)
}

// discountedPrice prices the next period, applying the attached coupon when
// it still validates. A coupon that went invalid since attachment logs and
// falls back to the full price.
func (p *Processor) discountedPrice(sub *subscription.Subscription, plan plans.PlanType, cycle plans.BillingCycle) int64 {
	price := plans.Get(plan).PriceCents(cycle)
	if sub.CouponCode == "" || p.coupons == nil {
		return price
	}
	v, err := p.coupons.Validate(sub.CouponCode, sub.UserID, plan, cycle)
	if err != nil {
		p.logger.WithError(err).WithUser(sub.UserID).
			Warnf("coupon %s validation failed at renewal, charging full price", sub.CouponCode)
		return price
	}
	if !v.Valid {
		p.logger.WithUser(sub.UserID).
			Warnf("coupon %s no longer valid at renewal (%s), charging full price", sub.CouponCode, v.Reason)
		return price
	}
	return price - v.DiscountCents
}

// grantAllowance resets the monthly free credit allowance for the period
// that just opened. The grant is idempotent per calendar month.
func (p *Processor) grantAllowance(sub *subscription.Subscription) {
	amount := plans.Get(sub.Plan).MonthlyFreeCredits
	if amount <= 0 {
		return
	}
	if err := p.credits.GrantFreeAllowance(sub.UserID, amount); err != nil {
		p.logger.WithError(err).WithUser(sub.UserID).Error("failed to grant renewal credit allowance")
		return
	}
	if p.metrics != nil {
		p.metrics.CreditGrantsTotal.WithLabelValues("allowance").Add(float64(amount))
	}
}

func (p *Processor) countCharge(outcome string) {
	if p.metrics != nil {
		p.metrics.ChargeAttemptsTotal.WithLabelValues(outcome).Inc()
	}
}
