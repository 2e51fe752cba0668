package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"gamesync/internal/model"
	"gamesync/internal/tenant"
)

// CodeSelector narrows which inventory rows a claim draws from.
type CodeSelector struct {
	CodeType string
	DayIndex *int
}

// AllowRepeat reports whether a user may claim more than once for this
// selector. Coupon codes are consumable inventory, each claim takes a
// distinct row; every other type is once per user for the campaign.
func (s CodeSelector) AllowRepeat() bool {
	return s.CodeType == model.CodeTypeCoupon
}

// RewardCodeRepository handles reward code inventory and claims.
type RewardCodeRepository struct {
	tenants *tenant.Registry
}

// NewRewardCodeRepository creates a new RewardCodeRepository instance.
func NewRewardCodeRepository(tenants *tenant.Registry) *RewardCodeRepository {
	return &RewardCodeRepository{tenants: tenants}
}

// FindClaim returns the code a user already claimed for a selector, if any.
func (r *RewardCodeRepository) FindClaim(ctx context.Context, tenantID string, gameID, userID int64, sel CodeSelector) (*model.RewardCode, error) {
	pool, err := r.tenants.Pool(tenantID)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT id, game_id, day_index, code, code_type, item_index, claimed_by, claimed_at, created_at
		FROM reward_codes
		WHERE game_id = $1 AND claimed_by = $2 AND code_type = $3
		  AND day_index IS NOT DISTINCT FROM $4
		ORDER BY claimed_at
		LIMIT 1
	`

	var rc model.RewardCode
	err = pool.QueryRow(ctx, query, gameID, userID, sel.CodeType, sel.DayIndex).Scan(
		&rc.ID,
		&rc.GameID,
		&rc.DayIndex,
		&rc.Code,
		&rc.CodeType,
		&rc.ItemIndex,
		&rc.ClaimedBy,
		&rc.ClaimedAt,
		&rc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("failed to find claim: %w", err)
	}

	return &rc, nil
}

// ClaimOne atomically allocates one unclaimed code matching the selector.
// Rows locked by concurrent claimants are skipped rather than waited on, so
// contention resolves without blocking. ErrNoRows means the pool is empty.
// A unique violation means this user already holds a claim for the selector
// (enforced by a partial unique index for non-coupon types); the service
// maps it to the already-claimed outcome.
func (r *RewardCodeRepository) ClaimOne(ctx context.Context, tenantID string, gameID, userID int64, sel CodeSelector) (*model.RewardCode, error) {
	pool, err := r.tenants.Pool(tenantID)
	if err != nil {
		return nil, err
	}

	const query = `
		UPDATE reward_codes
		SET claimed_by = $1, claimed_at = NOW()
		WHERE id = (
			SELECT id FROM reward_codes
			WHERE game_id = $2 AND code_type = $3
			  AND day_index IS NOT DISTINCT FROM $4
			  AND claimed_by IS NULL
			ORDER BY id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, game_id, day_index, code, code_type, item_index, claimed_by, claimed_at, created_at
	`

	var rc model.RewardCode
	err = pool.QueryRow(ctx, query, userID, gameID, sel.CodeType, sel.DayIndex).Scan(
		&rc.ID,
		&rc.GameID,
		&rc.DayIndex,
		&rc.Code,
		&rc.CodeType,
		&rc.ItemIndex,
		&rc.ClaimedBy,
		&rc.ClaimedAt,
		&rc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("failed to claim code: %w", err)
	}

	return &rc, nil
}

// InsertBatch bulk-loads codes before campaign start.
func (r *RewardCodeRepository) InsertBatch(ctx context.Context, tenantID string, codes []model.RewardCode) (int64, error) {
	pool, err := r.tenants.Pool(tenantID)
	if err != nil {
		return 0, err
	}

	rows := make([][]any, len(codes))
	for i, c := range codes {
		rows[i] = []any{c.GameID, c.DayIndex, c.Code, c.CodeType, c.ItemIndex}
	}

	copied, err := pool.CopyFrom(
		ctx,
		pgx.Identifier{"reward_codes"},
		[]string{"game_id", "day_index", "code", "code_type", "item_index"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk insert codes: %w", err)
	}
	return copied, nil
}

// CountUnclaimed returns remaining inventory per code type for a game.
func (r *RewardCodeRepository) CountUnclaimed(ctx context.Context, tenantID string, gameID int64) (map[string]int, error) {
	pool, err := r.tenants.Pool(tenantID)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT code_type, COUNT(*) FROM reward_codes
		WHERE game_id = $1 AND claimed_by IS NULL
		GROUP BY code_type
	`

	rows, err := pool.Query(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to count unclaimed codes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var codeType string
		var count int
		if err := rows.Scan(&codeType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan code count: %w", err)
		}
		counts[codeType] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating code counts: %w", err)
	}

	return counts, nil
}

// CountClaimed returns how many codes a game has handed out.
func (r *RewardCodeRepository) CountClaimed(ctx context.Context, tenantID string, gameID int64) (int, error) {
	pool, err := r.tenants.Pool(tenantID)
	if err != nil {
		return 0, err
	}

	const query = `
		SELECT COUNT(*) FROM reward_codes
		WHERE game_id = $1 AND claimed_by IS NOT NULL
	`

	var count int
	if err := pool.QueryRow(ctx, query, gameID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count claimed codes: %w", err)
	}
	return count, nil
}
