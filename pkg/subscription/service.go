package subscription

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rambozzang/ongo-sub007/pkg/clock"
	"github.com/rambozzang/ongo-sub007/pkg/plans"
)

var (
	// ErrNotFound indicates the user has no subscription record
	ErrNotFound = errors.New("subscription not found")
	// ErrVersionConflict indicates a concurrent writer won the optimistic
	// version check; the caller should reload and retry.
	ErrVersionConflict = errors.New("subscription modified concurrently")
)

// Service defines the interface for subscription lifecycle operations
type Service interface {
	Create(userID int64) (*Subscription, error)
	GetByUser(userID int64) (*Subscription, error)
	StartTrial(userID int64, plan plans.PlanType, cycle plans.BillingCycle) (*Subscription, error)
	QuoteChange(userID int64, plan plans.PlanType, cycle plans.BillingCycle) (*ChangeQuote, error)
	ApplyChange(userID int64, quote *ChangeQuote) (*Subscription, error)
	Cancel(userID int64) (*Subscription, error)
	Pause(userID int64, resumeAt *time.Time) (*Subscription, error)
	Resume(userID int64) (*Subscription, error)
	Reactivate(userID int64) (*Subscription, error)
	ConfirmPaymentMethod(userID int64) error
	AttachCoupon(userID int64, code string) error
	SetStorageOverride(userID int64, limitBytes *int64) error

	// Scheduler-facing operations
	Save(sub *Subscription) error
	ListDueForBilling(limit int) ([]*Subscription, error)
	ListTrialsEnding(limit int) ([]*Subscription, error)
	ListGraceExpired(limit int) ([]*Subscription, error)
	ListPastDueRetries(limit int) ([]*Subscription, error)
	ListDueResumes(limit int) ([]*Subscription, error)
}

// PostgresService implements the subscription Service interface using
// PostgreSQL. Every transition is persisted with an optimistic version
// check so two scheduler workers cannot both advance the same record.
type PostgresService struct {
	db    *sql.DB
	clock clock.Clock
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB, clk clock.Clock) *PostgresService {
	return &PostgresService{db: db, clock: clk}
}

const subscriptionColumns = `id, user_id, plan, status, price_cents, billing_cycle,
	       current_period_start, current_period_end, next_billing_at,
	       pending_plan, pending_cycle, storage_override_bytes,
	       trial_start, trial_end, trial_plan, payment_method_confirmed, coupon_code,
	       paused_at, resume_at, grace_expires_at, canceled_at,
	       version, created_at, updated_at`

// Create inserts the signup-time record: free plan, active, no billing
// fields. One subscription per user.
func (s *PostgresService) Create(userID int64) (*Subscription, error) {
	now := s.clock.Now()
	sub := NewFree(userID, now)
	query := `
		INSERT INTO subscriptions (user_id, plan, status, price_cents, billing_cycle, version, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, 1, $5, $5)
		RETURNING id
	`
	err := s.db.QueryRow(query, userID, sub.Plan, sub.Status, sub.Cycle, now).Scan(&sub.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	sub.Version = 1
	return sub, nil
}

// GetByUser retrieves the subscription for a user
func (s *PostgresService) GetByUser(userID int64) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = $1`
	return scanSubscription(s.db.QueryRow(query, userID))
}

// StartTrial begins a paid-plan trial for the user
func (s *PostgresService) StartTrial(userID int64, plan plans.PlanType, cycle plans.BillingCycle) (*Subscription, error) {
	return s.mutate(userID, func(sub *Subscription) error {
		return sub.StartTrial(plan, cycle, s.clock.Now())
	})
}

// QuoteChange computes what changing plan would do without applying it
func (s *PostgresService) QuoteChange(userID int64, plan plans.PlanType, cycle plans.BillingCycle) (*ChangeQuote, error) {
	sub, err := s.GetByUser(userID)
	if err != nil {
		return nil, err
	}
	return sub.QuoteChange(plan, cycle, s.clock.Now())
}

// ApplyChange executes a quoted plan change. For immediate upgrades the
// caller must have collected the prorated charge first.
func (s *PostgresService) ApplyChange(userID int64, quote *ChangeQuote) (*Subscription, error) {
	return s.mutate(userID, func(sub *Subscription) error {
		return sub.ApplyChange(quote, s.clock.Now())
	})
}

// Cancel flips the subscription to canceled. The state changes now even if
// entitlement lasts until period end.
func (s *PostgresService) Cancel(userID int64) (*Subscription, error) {
	return s.mutate(userID, func(sub *Subscription) error {
		return sub.Cancel(s.clock.Now())
	})
}

// Pause suspends billing, optionally until a scheduled resume time
func (s *PostgresService) Pause(userID int64, resumeAt *time.Time) (*Subscription, error) {
	return s.mutate(userID, func(sub *Subscription) error {
		return sub.Pause(s.clock.Now(), resumeAt)
	})
}

// Resume reactivates a paused subscription immediately
func (s *PostgresService) Resume(userID int64) (*Subscription, error) {
	return s.mutate(userID, func(sub *Subscription) error {
		return sub.Resume(s.clock.Now())
	})
}

// Reactivate returns a canceled subscription to the free plan
func (s *PostgresService) Reactivate(userID int64) (*Subscription, error) {
	return s.mutate(userID, func(sub *Subscription) error {
		return sub.Reactivate(s.clock.Now())
	})
}

// ConfirmPaymentMethod marks the user as chargeable, which decides whether
// a trial converts to the paid plan or falls back to free.
func (s *PostgresService) ConfirmPaymentMethod(userID int64) error {
	query := `UPDATE subscriptions SET payment_method_confirmed = TRUE, updated_at = $1 WHERE user_id = $2`
	result, err := s.db.Exec(query, s.clock.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to confirm payment method: %w", err)
	}
	return requireRow(result)
}

// AttachCoupon stores a coupon code for re-validation at renewal
func (s *PostgresService) AttachCoupon(userID int64, code string) error {
	query := `UPDATE subscriptions SET coupon_code = $1, updated_at = $2 WHERE user_id = $3`
	result, err := s.db.Exec(query, code, s.clock.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to attach coupon: %w", err)
	}
	return requireRow(result)
}

// SetStorageOverride sets or clears the per-user storage quota override
func (s *PostgresService) SetStorageOverride(userID int64, limitBytes *int64) error {
	query := `UPDATE subscriptions SET storage_override_bytes = $1, updated_at = $2 WHERE user_id = $3`
	result, err := s.db.Exec(query, limitBytes, s.clock.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to set storage override: %w", err)
	}
	return requireRow(result)
}

// Save persists a mutated subscription with an optimistic version check.
// Returns ErrVersionConflict if a concurrent writer got there first.
func (s *PostgresService) Save(sub *Subscription) error {
	now := s.clock.Now()
	query := `
		UPDATE subscriptions
		SET plan = $1, status = $2, price_cents = $3, billing_cycle = $4,
		    current_period_start = $5, current_period_end = $6, next_billing_at = $7,
		    pending_plan = $8, pending_cycle = $9, storage_override_bytes = $10,
		    trial_start = $11, trial_end = $12, trial_plan = $13,
		    payment_method_confirmed = $14, coupon_code = $15,
		    paused_at = $16, resume_at = $17, grace_expires_at = $18, canceled_at = $19,
		    version = version + 1, updated_at = $20
		WHERE id = $21 AND version = $22
	`
	result, err := s.db.Exec(query,
		sub.Plan, sub.Status, sub.PriceCents, sub.Cycle,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.NextBillingAt,
		sub.PendingPlan, sub.PendingCycle, sub.StorageOverrideBytes,
		sub.TrialStart, sub.TrialEnd, sub.TrialPlan,
		sub.PaymentMethodConfirmed, sub.CouponCode,
		sub.PausedAt, sub.ResumeAt, sub.GraceExpiresAt, sub.CanceledAt,
		now, sub.ID, sub.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	sub.Version++
	sub.UpdatedAt = now
	return nil
}

// ListDueForBilling returns active subscriptions whose billing date has
// arrived
func (s *PostgresService) ListDueForBilling(limit int) ([]*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = $1 AND next_billing_at IS NOT NULL AND next_billing_at <= $2
		ORDER BY next_billing_at ASC
		LIMIT $3`
	return s.list(query, StatusActive, s.clock.Now(), limit)
}

// ListTrialsEnding returns trialing subscriptions whose window has closed
func (s *PostgresService) ListTrialsEnding(limit int) ([]*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = $1 AND trial_end IS NOT NULL AND trial_end <= $2
		ORDER BY trial_end ASC
		LIMIT $3`
	return s.list(query, StatusTrialing, s.clock.Now(), limit)
}

// ListGraceExpired returns past-due subscriptions whose grace period has
// lapsed without a successful charge
func (s *PostgresService) ListGraceExpired(limit int) ([]*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = $1 AND grace_expires_at IS NOT NULL AND grace_expires_at <= $2
		ORDER BY grace_expires_at ASC
		LIMIT $3`
	return s.list(query, StatusPastDue, s.clock.Now(), limit)
}

// ListPastDueRetries returns past-due subscriptions still inside their
// grace period, eligible for another charge attempt
func (s *PostgresService) ListPastDueRetries(limit int) ([]*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = $1 AND grace_expires_at IS NOT NULL AND grace_expires_at > $2
		ORDER BY grace_expires_at ASC
		LIMIT $3`
	return s.list(query, StatusPastDue, s.clock.Now(), limit)
}

// ListDueResumes returns paused subscriptions scheduled to resume
func (s *PostgresService) ListDueResumes(limit int) ([]*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE status = $1 AND resume_at IS NOT NULL AND resume_at <= $2
		ORDER BY resume_at ASC
		LIMIT $3`
	return s.list(query, StatusPaused, s.clock.Now(), limit)
}

// CountByStatus returns the number of subscriptions per lifecycle status,
// used to refresh the scheduler's status gauge.
func (s *PostgresService) CountByStatus() (map[Status]int64, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM subscriptions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int64)
	for rows.Next() {
		var status Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (s *PostgresService) list(query string, args ...any) ([]*Subscription, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// mutate loads, applies fn, and saves under the optimistic version check.
func (s *PostgresService) mutate(userID int64, fn func(*Subscription) error) (*Subscription, error) {
	sub, err := s.GetByUser(userID)
	if err != nil {
		return nil, err
	}
	if err := fn(sub); err != nil {
		return nil, err
	}
	if err := s.Save(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	sub := &Subscription{}
	var couponCode sql.NullString
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.Plan, &sub.Status, &sub.PriceCents, &sub.Cycle,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.NextBillingAt,
		&sub.PendingPlan, &sub.PendingCycle, &sub.StorageOverrideBytes,
		&sub.TrialStart, &sub.TrialEnd, &sub.TrialPlan,
		&sub.PaymentMethodConfirmed, &couponCode,
		&sub.PausedAt, &sub.ResumeAt, &sub.GraceExpiresAt, &sub.CanceledAt,
		&sub.Version, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	sub.CouponCode = couponCode.String
	return sub, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
