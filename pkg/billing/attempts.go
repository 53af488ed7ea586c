package billing

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rambozzang/ongo-sub007/pkg/clock"
)

// PostgresAttemptStore implements AttemptStore using PostgreSQL
type PostgresAttemptStore struct {
	db    *sql.DB
	clock clock.Clock
}

// NewPostgresAttemptStore creates a new PostgresAttemptStore
func NewPostgresAttemptStore(db *sql.DB, clk clock.Clock) *PostgresAttemptStore {
	return &PostgresAttemptStore{db: db, clock: clk}
}

const attemptColumns = `id, subscription_id, user_id, period_start, amount_cents,
		       status, attempts, transaction_ref, failure_reason, created_at, updated_at`

// Begin inserts a pending attempt for the period or returns the existing
// row. ON CONFLICT makes the insert race-safe across concurrent workers;
// the attempt counter bumps on every observation of an unsettled period.
func (s *PostgresAttemptStore) Begin(subscriptionID, userID int64, periodStart time.Time, amountCents int64) (*Attempt, error) {
	now := s.clock.Now()
	query := `
		INSERT INTO billing_attempts (subscription_id, user_id, period_start, amount_cents, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
		ON CONFLICT (subscription_id, period_start) DO UPDATE
		SET attempts = billing_attempts.attempts + CASE WHEN billing_attempts.status = 'succeeded' THEN 0 ELSE 1 END,
		    updated_at = EXCLUDED.updated_at
		RETURNING ` + attemptColumns
	return scanAttempt(s.db.QueryRow(query, subscriptionID, userID, periodStart, amountCents, AttemptPending, now))
}

// MarkSucceeded settles the attempt with the gateway transaction reference
func (s *PostgresAttemptStore) MarkSucceeded(id int64, transactionRef string) error {
	query := `UPDATE billing_attempts SET status = $1, transaction_ref = $2, failure_reason = NULL, updated_at = $3 WHERE id = $4`
	_, err := s.db.Exec(query, AttemptSucceeded, transactionRef, s.clock.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark attempt succeeded: %w", err)
	}
	return nil
}

// MarkFailed records a definitive decline. The row stays open for retries
// within the grace window.
func (s *PostgresAttemptStore) MarkFailed(id int64, reason string) error {
	query := `UPDATE billing_attempts SET status = $1, failure_reason = $2, updated_at = $3 WHERE id = $4`
	_, err := s.db.Exec(query, AttemptFailed, reason, s.clock.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark attempt failed: %w", err)
	}
	return nil
}

func scanAttempt(row *sql.Row) (*Attempt, error) {
	a := &Attempt{}
	var ref, reason sql.NullString
	err := row.Scan(
		&a.ID, &a.SubscriptionID, &a.UserID, &a.PeriodStart, &a.AmountCents,
		&a.Status, &a.Attempts, &ref, &reason, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan billing attempt: %w", err)
	}
	a.TransactionRef = ref.String
	a.FailureReason = reason.String
	return a, nil
}
