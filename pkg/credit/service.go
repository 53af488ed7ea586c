package credit

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/rambozzang/ongo-sub007/pkg/clock"
)

// Service defines the interface for credit ledger operations
type Service interface {
	GetLedger(userID int64) (*Ledger, error)
	Balance(userID int64) (int64, error)
	Spend(userID int64, amount int64, feature string) (*Transaction, error)
	Purchase(userID int64, packageType, paymentRef string) (*Batch, error)
	GrantFreeAllowance(userID int64, amount int64) error
	ExpireBatches() (int64, error)
	ListTransactions(userID int64, limit int) ([]*Transaction, error)
}

// PostgresService implements the credit Service interface using PostgreSQL.
// All mutations on the same user are serialized through row-level locks on
// the ledger row, so two concurrent spends can never both pass the same
// balance check.
type PostgresService struct {
	db    *sql.DB
	clock clock.Clock
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB, clk clock.Clock) *PostgresService {
	return &PostgresService{db: db, clock: clk}
}

// GetLedger retrieves the full ledger for a user
func (s *PostgresService) GetLedger(userID int64) (*Ledger, error) {
	ledger := &Ledger{UserID: userID}
	query := `
		SELECT free_remaining, free_granted_period, version
		FROM credit_ledgers
		WHERE user_id = $1
	`
	err := s.db.QueryRow(query, userID).Scan(
		&ledger.FreeRemaining, &ledger.FreeGrantedPeriod, &ledger.Version,
	)
	if err == sql.ErrNoRows {
		// No ledger yet is a zero balance, not an error.
		return ledger, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}

	batches, err := s.listBatches(userID)
	if err != nil {
		return nil, err
	}
	ledger.Batches = batches
	return ledger, nil
}

// Balance returns the user's current spendable balance
func (s *PostgresService) Balance(userID int64) (int64, error) {
	ledger, err := s.GetLedger(userID)
	if err != nil {
		return 0, err
	}
	return ledger.Balance(s.clock.Now()), nil
}

// Spend deducts credits from the ledger, free allowance first and then
// purchased batches in expiry order, appending exactly one SPEND row.
func (s *PostgresService) Spend(userID int64, amount int64, feature string) (*Transaction, error) {
	now := s.clock.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin spend: %w", err)
	}
	defer tx.Rollback()

	ledger, err := s.lockLedger(tx, userID)
	if err != nil {
		return nil, err
	}

	deductions, err := ledger.ApplySpend(amount, now)
	if err != nil {
		return nil, err
	}

	update := `
		UPDATE credit_ledgers
		SET free_remaining = $1, version = version + 1, updated_at = $2
		WHERE user_id = $3
	`
	if _, err := tx.Exec(update, ledger.FreeRemaining, now, userID); err != nil {
		return nil, fmt.Errorf("failed to update ledger: %w", err)
	}

	for _, d := range deductions {
		if d.BatchID == 0 {
			continue
		}
		batchUpdate := `UPDATE credit_batches SET remaining = remaining - $1 WHERE id = $2`
		if _, err := tx.Exec(batchUpdate, d.Amount, d.BatchID); err != nil {
			return nil, fmt.Errorf("failed to update batch %d: %w", d.BatchID, err)
		}
	}

	txn := &Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         TransactionSpend,
		Amount:       amount,
		BalanceAfter: ledger.Balance(now),
		Feature:      feature,
		CreatedAt:    now,
	}
	if err := appendTransaction(tx, txn); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit spend: %w", err)
	}
	return txn, nil
}

// Purchase records a confirmed credit package purchase as one new batch
// plus one GRANT row.
func (s *PostgresService) Purchase(userID int64, packageType, paymentRef string) (*Batch, error) {
	pkg, ok := Packages()[packageType]
	if !ok {
		return nil, fmt.Errorf("unknown credit package: %s", packageType)
	}
	now := s.clock.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin purchase: %w", err)
	}
	defer tx.Rollback()

	ledger, err := s.lockLedger(tx, userID)
	if err != nil {
		return nil, err
	}

	batch := &Batch{
		UserID:        userID,
		InitialAmount: pkg.Amount,
		Remaining:     pkg.Amount,
		PriceCents:    pkg.PriceCents,
		ExpiresAt:     now.AddDate(0, 0, pkg.ExpiryDays),
		CreatedAt:     now,
	}
	insert := `
		INSERT INTO credit_batches (user_id, initial_amount, remaining, price_cents, payment_ref, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err = tx.QueryRow(insert, userID, batch.InitialAmount, batch.Remaining,
		batch.PriceCents, paymentRef, batch.ExpiresAt, batch.CreatedAt).Scan(&batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	txn := &Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         TransactionGrant,
		Amount:       pkg.Amount,
		BalanceAfter: ledger.Balance(now) + pkg.Amount,
		Feature:      "purchase:" + packageType,
		CreatedAt:    now,
	}
	if err := appendTransaction(tx, txn); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit purchase: %w", err)
	}
	return batch, nil
}

// GrantFreeAllowance resets the free allowance to amount for the current
// period. Idempotent per calendar month: a second grant in the same period
// is a no-op, mirroring the billing idempotency key.
func (s *PostgresService) GrantFreeAllowance(userID int64, amount int64) error {
	now := s.clock.Now()
	period := PeriodKey(now)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin grant: %w", err)
	}
	defer tx.Rollback()

	ledger, err := s.lockLedger(tx, userID)
	if err != nil {
		return err
	}
	if ledger.FreeGrantedPeriod == period {
		return nil
	}

	update := `
		UPDATE credit_ledgers
		SET free_remaining = $1, free_granted_period = $2, version = version + 1, updated_at = $3
		WHERE user_id = $4
	`
	if _, err := tx.Exec(update, amount, period, now, userID); err != nil {
		return fmt.Errorf("failed to grant allowance: %w", err)
	}

	ledger.FreeRemaining = amount
	txn := &Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Type:         TransactionGrant,
		Amount:       amount,
		BalanceAfter: ledger.Balance(now),
		Feature:      "monthly-allowance",
		CreatedAt:    now,
	}
	if err := appendTransaction(tx, txn); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit grant: %w", err)
	}
	return nil
}

// ExpireBatches zeroes every batch past its expiry that still holds credit
// and appends one EXPIRE row per forfeited batch. Returns the number of
// batches expired. This is the only balance decrease without a feature use.
func (s *PostgresService) ExpireBatches() (int64, error) {
	now := s.clock.Now()

	userQuery := `
		SELECT DISTINCT user_id
		FROM credit_batches
		WHERE expires_at <= $1 AND remaining > 0
	`
	rows, err := s.db.Query(userQuery, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list users with lapsed batches: %w", err)
	}
	defer rows.Close()

	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate users: %w", err)
	}

	var total int64
	for _, userID := range userIDs {
		n, err := s.expireUserBatches(userID)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *PostgresService) expireUserBatches(userID int64) (int64, error) {
	now := s.clock.Now()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin expiry: %w", err)
	}
	defer tx.Rollback()

	ledger, err := s.lockLedger(tx, userID)
	if err != nil {
		return 0, err
	}

	forfeited := ledger.ApplyExpiry(now)
	if len(forfeited) == 0 {
		return 0, nil
	}

	for _, f := range forfeited {
		zero := `UPDATE credit_batches SET remaining = 0 WHERE id = $1`
		if _, err := tx.Exec(zero, f.BatchID); err != nil {
			return 0, fmt.Errorf("failed to expire batch %d: %w", f.BatchID, err)
		}
		txn := &Transaction{
			ID:           uuid.NewString(),
			UserID:       userID,
			Type:         TransactionExpire,
			Amount:       f.Amount,
			BalanceAfter: ledger.Balance(now),
			CreatedAt:    now,
		}
		if err := appendTransaction(tx, txn); err != nil {
			return 0, err
		}
	}

	bump := `UPDATE credit_ledgers SET version = version + 1, updated_at = $1 WHERE user_id = $2`
	if _, err := tx.Exec(bump, now, userID); err != nil {
		return 0, fmt.Errorf("failed to bump ledger version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit expiry: %w", err)
	}
	return int64(len(forfeited)), nil
}

// ListTransactions returns the most recent ledger log rows for a user
func (s *PostgresService) ListTransactions(userID int64, limit int) ([]*Transaction, error) {
	query := `
		SELECT id, user_id, type, amount, balance_after, feature, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.Query(query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		txn := &Transaction{}
		var feature sql.NullString
		if err := rows.Scan(&txn.ID, &txn.UserID, &txn.Type, &txn.Amount,
			&txn.BalanceAfter, &feature, &txn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn.Feature = feature.String
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// lockLedger loads the ledger row and all live batches under FOR UPDATE,
// creating the ledger row on first touch.
func (s *PostgresService) lockLedger(tx *sql.Tx, userID int64) (*Ledger, error) {
	ledger := &Ledger{UserID: userID}
	query := `
		SELECT free_remaining, free_granted_period, version
		FROM credit_ledgers
		WHERE user_id = $1
		FOR UPDATE
	`
	err := tx.QueryRow(query, userID).Scan(
		&ledger.FreeRemaining, &ledger.FreeGrantedPeriod, &ledger.Version,
	)
	if err == sql.ErrNoRows {
		insert := `
			INSERT INTO credit_ledgers (user_id, free_remaining, free_granted_period, version)
			VALUES ($1, 0, '', 1)
		`
		if _, err := tx.Exec(insert, userID); err != nil {
			return nil, fmt.Errorf("failed to create ledger: %w", err)
		}
		ledger.Version = 1
	} else if err != nil {
		return nil, fmt.Errorf("failed to lock ledger: %w", err)
	}

	batchQuery := `
		SELECT id, user_id, initial_amount, remaining, price_cents, expires_at, created_at
		FROM credit_batches
		WHERE user_id = $1 AND remaining > 0
		ORDER BY expires_at ASC
		FOR UPDATE
	`
	rows, err := tx.Query(batchQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock batches: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.UserID, &b.InitialAmount, &b.Remaining,
			&b.PriceCents, &b.ExpiresAt, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		ledger.Batches = append(ledger.Batches, b)
	}
	return ledger, rows.Err()
}

func (s *PostgresService) listBatches(userID int64) ([]Batch, error) {
	query := `
		SELECT id, user_id, initial_amount, remaining, price_cents, expires_at, created_at
		FROM credit_batches
		WHERE user_id = $1 AND remaining > 0
		ORDER BY expires_at ASC
	`
	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.UserID, &b.InitialAmount, &b.Remaining,
			&b.PriceCents, &b.ExpiresAt, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func appendTransaction(tx *sql.Tx, txn *Transaction) error {
	insert := `
		INSERT INTO credit_transactions (id, user_id, type, amount, balance_after, feature, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	var feature any
	if txn.Feature != "" {
		feature = txn.Feature
	}
	if _, err := tx.Exec(insert, txn.ID, txn.UserID, txn.Type, txn.Amount,
		txn.BalanceAfter, feature, txn.CreatedAt); err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}
