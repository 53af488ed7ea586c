package coupon

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rambozzang/ongo-sub007/pkg/clock"
	"github.com/rambozzang/ongo-sub007/pkg/plans"
)

// ErrNotFound indicates no coupon exists with the given code
var ErrNotFound = errors.New("coupon not found")

// Service defines the interface for coupon operations
type Service interface {
	GetCoupon(code string) (*Coupon, error)
	Validate(code string, userID int64, plan plans.PlanType, cycle plans.BillingCycle) (*Validation, error)
	Apply(code string, userID, subscriptionID int64) (*Usage, error)
}

// PostgresService implements the coupon Service interface using PostgreSQL
type PostgresService struct {
	db    *sql.DB
	clock clock.Clock
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB, clk clock.Clock) *PostgresService {
	return &PostgresService{db: db, clock: clk}
}

const couponColumns = `id, code, discount_type, discount_value, plan_filter, cycle_filter,
	       max_uses, max_uses_per_user, valid_from, valid_until, used_count, active, created_at`

// GetCoupon retrieves a coupon by code
func (s *PostgresService) GetCoupon(code string) (*Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`
	return scanCoupon(s.db.QueryRow(query, code))
}

// Validate checks a coupon against a target plan and cycle and computes the
// discount it would produce. It does not consume a use.
func (s *PostgresService) Validate(code string, userID int64, plan plans.PlanType, cycle plans.BillingCycle) (*Validation, error) {
	c, err := s.GetCoupon(code)
	if err != nil {
		return nil, err
	}

	userUses, err := s.countUserUsage(s.db.QueryRow(
		`SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`, c.ID, userID))
	if err != nil {
		return nil, err
	}

	if invalid := c.Check(s.clock.Now(), plan, cycle, userUses); invalid != nil {
		return &Validation{Valid: false, Reason: invalid.Reason}, nil
	}

	price := plans.Get(plan).PriceCents(cycle)
	return &Validation{Valid: true, DiscountCents: c.DiscountCents(price)}, nil
}

// Apply re-validates the coupon and, only if still valid, increments the
// used counter and writes one usage row as a single atomic unit. The
// guarded UPDATE closes the race between two concurrent applies both
// passing the max-uses check.
func (s *PostgresService) Apply(code string, userID, subscriptionID int64) (*Usage, error) {
	now := s.clock.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin apply: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1 FOR UPDATE`
	c, err := scanCoupon(tx.QueryRow(query, code))
	if err != nil {
		return nil, err
	}

	userUses, err := s.countUserUsage(tx.QueryRow(
		`SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`, c.ID, userID))
	if err != nil {
		return nil, err
	}

	plan, cycle, err := subscriptionTarget(tx, subscriptionID)
	if err != nil {
		return nil, err
	}

	if invalid := c.Check(now, plan, cycle, userUses); invalid != nil {
		return nil, invalid
	}

	increment := `
		UPDATE coupons
		SET used_count = used_count + 1
		WHERE id = $1 AND (max_uses = 0 OR used_count < max_uses)
	`
	result, err := tx.Exec(increment, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to increment coupon use: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, &CouponInvalidError{Code: code, Reason: ReasonExhausted}
	}

	usage := &Usage{
		CouponID:       c.ID,
		UserID:         userID,
		SubscriptionID: subscriptionID,
		DiscountCents:  c.DiscountCents(plans.Get(plan).PriceCents(cycle)),
		AppliedAt:      now,
	}
	insert := `
		INSERT INTO coupon_usages (coupon_id, user_id, subscription_id, discount_cents, applied_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err = tx.QueryRow(insert, usage.CouponID, usage.UserID, usage.SubscriptionID,
		usage.DiscountCents, usage.AppliedAt).Scan(&usage.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to record coupon usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit apply: %w", err)
	}
	return usage, nil
}

func (s *PostgresService) countUserUsage(row *sql.Row) (int, error) {
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count coupon usage: %w", err)
	}
	return count, nil
}

func subscriptionTarget(tx *sql.Tx, subscriptionID int64) (plans.PlanType, plans.BillingCycle, error) {
	var plan plans.PlanType
	var cycle plans.BillingCycle
	query := `SELECT plan, billing_cycle FROM subscriptions WHERE id = $1`
	if err := tx.QueryRow(query, subscriptionID).Scan(&plan, &cycle); err != nil {
		if err == sql.ErrNoRows {
			return "", "", fmt.Errorf("subscription not found")
		}
		return "", "", fmt.Errorf("failed to load subscription: %w", err)
	}
	return plan, cycle, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoupon(row rowScanner) (*Coupon, error) {
	c := &Coupon{}
	var planFilter, cycleFilter string
	err := row.Scan(
		&c.ID, &c.Code, &c.DiscountType, &c.DiscountValue, &planFilter, &cycleFilter,
		&c.MaxUses, &c.MaxUsesPerUser, &c.ValidFrom, &c.ValidUntil, &c.UsedCount,
		&c.Active, &c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	c.Plans = parsePlanFilter(planFilter)
	c.Cycles = parseCycleFilter(cycleFilter)
	return c, nil
}

func parsePlanFilter(filter string) []plans.PlanType {
	if filter == "" {
		return nil
	}
	var out []plans.PlanType
	for _, p := range strings.Split(filter, ",") {
		out = append(out, plans.PlanType(strings.TrimSpace(p)))
	}
	return out
}

func parseCycleFilter(filter string) []plans.BillingCycle {
	if filter == "" {
		return nil
	}
	var out []plans.BillingCycle
	for _, c := range strings.Split(filter, ",") {
		out = append(out, plans.BillingCycle(strings.TrimSpace(c)))
	}
	return out
}
