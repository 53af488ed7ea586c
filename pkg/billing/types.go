package billing

import (
	"context"
	"fmt"
	"time"
)

// AttemptStatus is the outcome of a recorded charge attempt
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
)

// Attempt is one row of the idempotency ledger. The pair
// (SubscriptionID, PeriodStart) is unique: a period is charged at most once
// no matter how many ticks observe it.
type Attempt struct {
	ID             int64         `json:"id"`
	SubscriptionID int64         `json:"subscription_id"`
	UserID         int64         `json:"user_id"`
	PeriodStart    time.Time     `json:"period_start"`
	AmountCents    int64         `json:"amount_cents"`
	Status         AttemptStatus `json:"status"`
	Attempts       int           `json:"attempts"`
	TransactionRef string        `json:"transaction_ref,omitempty"`
	FailureReason  string        `json:"failure_reason,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// AttemptStore persists charge attempts
type AttemptStore interface {
	// Begin returns the attempt for the period, creating a pending row on
	// first sight. Callers inspect Status to know whether the period was
	// already settled.
	Begin(subscriptionID, userID int64, periodStart time.Time, amountCents int64) (*Attempt, error)
	MarkSucceeded(id int64, transactionRef string) error
	MarkFailed(id int64, reason string) error
}

// ChargeRequest describes one payment to collect
type ChargeRequest struct {
	UserID         int64
	AmountCents    int64
	IdempotencyKey string
	Description    string
}

// ChargeResult is the gateway's answer to a charge request
type ChargeResult struct {
	Success        bool
	TransactionRef string
	// DeclineReason is set when the gateway definitively refused the
	// charge. Transport and gateway outages surface as errors instead.
	DeclineReason string
}

// PaymentGateway collects money. A returned error means the outcome is
// unknown and the charge should be retried later; a result with
// Success=false means the card was declined for good.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// ChargeDeclinedError indicates the gateway definitively refused a charge
type ChargeDeclinedError struct {
	UserID int64
	Reason string
}

func (e *ChargeDeclinedError) Error() string {
	return fmt.Sprintf("charge declined for user %d: %s", e.UserID, e.Reason)
}

// IsChargeDeclined checks if an error is a charge declined error
func IsChargeDeclined(err error) bool {
	_, ok := err.(*ChargeDeclinedError)
	return ok
}
