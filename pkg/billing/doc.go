// Package billing drives recurring charges for subscriptions.
//
// # Overview
//
// This package implements the scheduler tick that renews due subscriptions,
// retries past-due charges inside the grace window, converts ended trials,
// cancels subscriptions whose grace expired, resumes scheduled pauses, and
// expires purchased credit batches.
//
// Charging is idempotent per billing period: every attempt is recorded in
// billing_attempts keyed by (subscription_id, period_start), so a crashed or
// duplicated tick can never double-charge a user.
//
// # Usage Example
//
// Run one tick:
//
//	processor := billing.NewProcessor(subs, credits, coupons, attempts, gateway,
//		invalidator, clk, logger, metrics, billing.Config{
//			GracePeriod: 7 * 24 * time.Hour,
//		})
//	if err := processor.RunTick(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Related Packages
//
//   - pkg/subscription: lifecycle state machine the processor drives
//   - pkg/credit: monthly allowance grants and batch expiry
//   - pkg/coupon: renewal-time discount re-validation
package billing
