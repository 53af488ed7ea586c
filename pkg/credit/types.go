package credit

import (
	"fmt"
	"sort"
	"time"
)

// TransactionType represents the kind of ledger mutation
type TransactionType string

const (
	TransactionGrant  TransactionType = "grant"
	TransactionSpend  TransactionType = "spend"
	TransactionExpire TransactionType = "expire"
)

// Transaction is one append-only ledger log row. Rows are never updated or
// deleted.
type Transaction struct {
	ID           string          `json:"id"`
	UserID       int64           `json:"user_id"`
	Type         TransactionType `json:"type"`
	Amount       int64           `json:"amount"`
	BalanceAfter int64           `json:"balance_after"`
	Feature      string          `json:"feature,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Batch is one purchased block of credit with its own expiry
type Batch struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	InitialAmount int64     `json:"initial_amount"`
	Remaining     int64     `json:"remaining"`
	PriceCents    int64     `json:"price_cents"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Lapsed reports whether the batch has passed its expiry.
func (b Batch) Lapsed(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}

// Ledger is the in-memory view of one user's credit state
type Ledger struct {
	UserID            int64   `json:"user_id"`
	FreeRemaining     int64   `json:"free_remaining"`
	FreeGrantedPeriod string  `json:"free_granted_period"`
	Version           int64   `json:"-"`
	Batches           []Batch `json:"batches"`
}

// Balance returns free remainder plus all unexpired batch remainders.
func (l *Ledger) Balance(now time.Time) int64 {
	total := l.FreeRemaining
	for _, b := range l.Batches {
		if !b.Lapsed(now) {
			total += b.Remaining
		}
	}
	return total
}

// Deduction records how much of a spend came out of one source.
// BatchID zero means the free allowance.
type Deduction struct {
	BatchID int64
	Amount  int64
}

// ApplySpend deducts amount from the ledger: free allowance first, then
// batches soonest-expiring first. The ledger is mutated in place and the
// per-source deductions are returned so the caller can persist them.
// Returns *InsufficientCreditError when the balance cannot cover amount.
func (l *Ledger) ApplySpend(amount int64, now time.Time) ([]Deduction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("spend amount must be positive, got %d", amount)
	}
	balance := l.Balance(now)
	if amount > balance {
		return nil, &InsufficientCreditError{Balance: balance, Required: amount}
	}

	var deductions []Deduction
	remaining := amount

	if l.FreeRemaining > 0 {
		take := min64(l.FreeRemaining, remaining)
		l.FreeRemaining -= take
		remaining -= take
		deductions = append(deductions, Deduction{BatchID: 0, Amount: take})
	}

	if remaining > 0 {
		// Soonest-expiring first: unused purchased credit is lost at expiry,
		// so draining the earliest batch minimizes forfeiture.
		sort.SliceStable(l.Batches, func(i, j int) bool {
			return l.Batches[i].ExpiresAt.Before(l.Batches[j].ExpiresAt)
		})
		for i := range l.Batches {
			b := &l.Batches[i]
			if b.Lapsed(now) || b.Remaining <= 0 {
				continue
			}
			take := min64(b.Remaining, remaining)
			b.Remaining -= take
			remaining -= take
			deductions = append(deductions, Deduction{BatchID: b.ID, Amount: take})
			if remaining == 0 {
				break
			}
		}
	}
	return deductions, nil
}

// ApplyExpiry zeroes every lapsed batch that still holds credit and returns
// the per-batch forfeited amounts.
func (l *Ledger) ApplyExpiry(now time.Time) []Deduction {
	var forfeited []Deduction
	for i := range l.Batches {
		b := &l.Batches[i]
		if b.Lapsed(now) && b.Remaining > 0 {
			forfeited = append(forfeited, Deduction{BatchID: b.ID, Amount: b.Remaining})
			b.Remaining = 0
		}
	}
	return forfeited
}

// PeriodKey returns the grant-idempotency key for a point in time, one key
// per calendar month.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Package defines a purchasable credit block
type Package struct {
	Type       string
	Amount     int64
	PriceCents int64
	ExpiryDays int
}

// Packages returns the purchasable credit packages by type.
func Packages() map[string]Package {
	return map[string]Package{
		"starter": {Type: "starter", Amount: 500, PriceCents: 550000, ExpiryDays: 90},
		"creator": {Type: "creator", Amount: 2000, PriceCents: 1980000, ExpiryDays: 180},
		"studio":  {Type: "studio", Amount: 10000, PriceCents: 8900000, ExpiryDays: 365},
	}
}

// InsufficientCreditError is returned when a spend exceeds the balance
type InsufficientCreditError struct {
	Balance  int64 `json:"balance"`
	Required int64 `json:"required"`
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit: balance %d, required %d", e.Balance, e.Required)
}

// IsInsufficientCredit checks if an error is an insufficient credit error
func IsInsufficientCredit(err error) bool {
	_, ok := err.(*InsufficientCreditError)
	return ok
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
