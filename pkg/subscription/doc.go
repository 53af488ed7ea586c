// Package subscription implements the subscription lifecycle state machine.
//
// # States
//
// trialing -> active -> past_due -> canceled, with active <-> paused, and
// any billable state able to cancel directly. A signup lands on the free
// plan in active with no billing fields; a paid-plan trial lands in
// trialing.
//
// Transitions are pure methods on Subscription; persistence goes through
// PostgresService.Save, which carries an optimistic version check so two
// concurrent writers (user action vs scheduler worker) cannot both advance
// the same record.
//
// # Plan changes
//
// Upgrades apply immediately with a prorated out-of-cycle charge of
// (new - old) x remaining_days / cycle_days. Downgrades park in
// PendingPlan and take effect at the next renewal, never refunded.
//
// # Related Packages
//
//   - pkg/billing: drives renewals, trial conversion and grace expiry
//   - pkg/quota: reads plan and override to compute storage entitlement
package subscription
