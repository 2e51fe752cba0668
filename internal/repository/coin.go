package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"gamesync/internal/model"
	"gamesync/internal/tenant"
)

// CoinRepository handles the coin transaction ledger and user balances. The
// ledger is append-only; balances change only through ApplyDelta inside a
// locked transaction.
type CoinRepository struct {
	tenants *tenant.Registry
}

// NewCoinRepository creates a new CoinRepository instance.
func NewCoinRepository(tenants *tenant.Registry) *CoinRepository {
	return &CoinRepository{tenants: tenants}
}

// Begin opens a transaction on the tenant's pool.
func (r *CoinRepository) Begin(ctx context.Context, tenantID string) (pgx.Tx, error) {
	pool, err := r.tenants.Pool(tenantID)
	if err != nil {
		return nil, err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// GetTransactionByKey returns the ledger entry recorded under an
// idempotency key, or ErrNoRows.
func (r *CoinRepository) GetTransactionByKey(ctx context.Context, tenantID, key string) (*model.CoinTransaction, error) {
	pool, err := r.tenants.Pool(tenantID)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT id, user_id, amount, reason, idempotency_key, created_at
		FROM coin_transactions
		WHERE idempotency_key = $1
	`

	var tx model.CoinTransaction
	err = pool.QueryRow(ctx, query, key).Scan(
		&tx.ID,
		&tx.UserID,
		&tx.Amount,
		&tx.Reason,
		&tx.IdempotencyKey,
		&tx.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return &tx, nil
}

// InsertTransaction records one ledger entry. A unique violation on the
// idempotency key surfaces to the service, which maps it to
// ALREADY_PROCESSED.
func (r *CoinRepository) InsertTransaction(ctx context.Context, tx pgx.Tx, userID, amount int64, reason, idempotencyKey string) (*model.CoinTransaction, error) {
	const query = `
		INSERT INTO coin_transactions (user_id, amount, reason, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, user_id, amount, reason, idempotency_key, created_at
	`

	var entry model.CoinTransaction
	err := tx.QueryRow(ctx, query, userID, amount, reason, idempotencyKey).Scan(
		&entry.ID,
		&entry.UserID,
		&entry.Amount,
		&entry.Reason,
		&entry.IdempotencyKey,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

// LockBalance ensures the user's balance row exists and locks it for the
// rest of the transaction, returning the current balance.
func (r *CoinRepository) LockBalance(ctx context.Context, tx pgx.Tx, userID int64) (int64, error) {
	const ensure = `
		INSERT INTO user_balances (user_id, balance, updated_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, ensure, userID); err != nil {
		return 0, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	const query = `
		SELECT balance FROM user_balances
		WHERE user_id = $1
		FOR UPDATE
	`
	var balance int64
	if err := tx.QueryRow(ctx, query, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to lock balance: %w", err)
	}
	return balance, nil
}

// ApplyDelta adds amount to the locked balance. GREATEST clamps at zero as
// a defensive floor; the service pre-checks debits that would go negative
// and rolls back before reaching here.
func (r *CoinRepository) ApplyDelta(ctx context.Context, tx pgx.Tx, userID, amount int64) (int64, error) {
	const query = `
		UPDATE user_balances
		SET balance = GREATEST(0, balance + $2), updated_at = NOW()
		WHERE user_id = $1
		RETURNING balance
	`

	var balance int64
	if err := tx.QueryRow(ctx, query, userID, amount).Scan(&balance); err != nil {
		return 0, fmt.Errorf("failed to apply balance delta: %w", err)
	}
	return balance, nil
}

// GetBalance returns a user's current balance; a user without a row has
// balance zero.
func (r *CoinRepository) GetBalance(ctx context.Context, tenantID string, userID int64) (int64, error) {
	pool, err := r.tenants.Pool(tenantID)
	if err != nil {
		return 0, err
	}

	const query = `SELECT balance FROM user_balances WHERE user_id = $1`

	var balance int64
	err = pool.QueryRow(ctx, query, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// History retrieves a user's ledger entries, newest first.
func (r *CoinRepository) History(ctx context.Context, tenantID string, userID int64, limit int) ([]*model.CoinTransaction, error) {
	pool, err := r.tenants.Pool(tenantID)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT id, user_id, amount, reason, idempotency_key, created_at
		FROM coin_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var entries []*model.CoinTransaction
	for rows.Next() {
		var entry model.CoinTransaction
		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.Amount,
			&entry.Reason,
			&entry.IdempotencyKey,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return entries, nil
}

// TopBalances retrieves the top N users by balance for the leaderboard
// snapshot.
func (r *CoinRepository) TopBalances(ctx context.Context, tenantID string, limit int) ([]*model.UserBalance, error) {
	pool, err := r.tenants.Pool(tenantID)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT user_id, balance, updated_at
		FROM user_balances
		ORDER BY balance DESC, user_id
		LIMIT $1
	`

	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top balances: %w", err)
	}
	defer rows.Close()

	var balances []*model.UserBalance
	for rows.Next() {
		var ub model.UserBalance
		if err := rows.Scan(&ub.UserID, &ub.Balance, &ub.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, &ub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balances: %w", err)
	}

	return balances, nil
}
