package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"gamesync/internal/model"
	"gamesync/internal/snapshot"
	"gamesync/internal/tenant"
)

// LeaderboardSize bounds the leaderboard snapshot document.
const LeaderboardSize = 10

// EntityRepository reads authoritative entity state for the snapshot
// engine. Game rows come from the games table; wallet and leaderboard
// entities are composed from the balance tables.
type EntityRepository struct {
	tenants *tenant.Registry
	codes   *RewardCodeRepository
	checkin *CheckinRepository
	coins   *CoinRepository
}

// NewEntityRepository creates a new EntityRepository instance.
func NewEntityRepository(tenants *tenant.Registry, codes *RewardCodeRepository, checkin *CheckinRepository, coins *CoinRepository) *EntityRepository {
	return &EntityRepository{
		tenants: tenants,
		codes:   codes,
		checkin: checkin,
		coins:   coins,
	}
}

var _ snapshot.Source = (*EntityRepository)(nil)

// FetchEntity returns the full document for an entity, or
// snapshot.ErrNotFound when the authoritative row does not exist.
func (r *EntityRepository) FetchEntity(ctx context.Context, tenantID string, ref model.EntityRef) (*model.EntityRow, error) {
	switch ref.Type {
	case model.TypeUserWallet:
		return r.fetchWallet(ctx, tenantID, ref)
	case model.TypeLeaderboard:
		return r.fetchLeaderboard(ctx, tenantID, ref)
	default:
		return r.fetchGame(ctx, tenantID, ref)
	}
}

// fetchGame reads a games row and augments its document with the live
// counts the projections retain.
func (r *EntityRepository) fetchGame(ctx context.Context, tenantID string, ref model.EntityRef) (*model.EntityRow, error) {
	pool, err := r.tenants.Pool(tenantID)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT data, updated_at FROM games
		WHERE id = $1 AND type = $2
	`

	var data map[string]any
	var updatedAt time.Time
	err = pool.QueryRow(ctx, query, ref.ID, string(ref.Type)).Scan(&data, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, snapshot.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch game %d: %w", ref.ID, err)
	}
	if data == nil {
		data = make(map[string]any)
	}

	switch ref.Type {
	case model.TypeCheckinCampaign:
		counts, err := r.codes.CountUnclaimed(ctx, tenantID, ref.ID)
		if err != nil {
			return nil, err
		}
		data["dailyCodesRemaining"] = counts[model.CodeTypeDaily]
		data["completeCodesRemaining"] = counts[model.CodeTypeComplete]

		checked, err := r.checkin.CountCheckedToday(ctx, tenantID, ref.ID, time.Now())
		if err != nil {
			return nil, err
		}
		data["checkedInToday"] = checked

	case model.TypeRewardGame:
		counts, err := r.codes.CountUnclaimed(ctx, tenantID, ref.ID)
		if err != nil {
			return nil, err
		}
		claimed, err := r.codes.CountClaimed(ctx, tenantID, ref.ID)
		if err != nil {
			return nil, err
		}
		total := claimed
		for _, c := range counts {
			total += c
		}
		data["totalCodes"] = total
		data["claimedCount"] = claimed
		data["couponRemaining"] = counts[model.CodeTypeCoupon]
	}

	return &model.EntityRow{Ref: ref, Data: data, UpdatedAt: updatedAt}, nil
}

// fetchWallet composes a wallet document. A user without a balance row has
// a zero wallet rather than no wallet, so subscribers see a consistent
// shape from first deposit onward.
func (r *EntityRepository) fetchWallet(ctx context.Context, tenantID string, ref model.EntityRef) (*model.EntityRow, error) {
	balance, err := r.coins.GetBalance(ctx, tenantID, ref.ID)
	if err != nil {
		return nil, err
	}

	return &model.EntityRow{
		Ref: ref,
		Data: map[string]any{
			"userId":  ref.ID,
			"balance": balance,
		},
		UpdatedAt: time.Now(),
	}, nil
}

func (r *EntityRepository) fetchLeaderboard(ctx context.Context, tenantID string, ref model.EntityRef) (*model.EntityRow, error) {
	top, err := r.coins.TopBalances(ctx, tenantID, LeaderboardSize)
	if err != nil {
		return nil, err
	}

	entries := make([]any, len(top))
	for i, ub := range top {
		entries[i] = map[string]any{
			"id":      ub.UserID,
			"balance": ub.Balance,
			"rank":    i + 1,
		}
	}

	return &model.EntityRow{
		Ref:       ref,
		Data:      map[string]any{"entries": entries},
		UpdatedAt: time.Now(),
	}, nil
}

// ActiveEntities lists the refs the periodic scheduler refreshes: every
// active game plus the tenant leaderboard. Wallets refresh on demand only.
func (r *EntityRepository) ActiveEntities(ctx context.Context, tenantID string) ([]model.EntityRef, error) {
	pool, err := r.tenants.Pool(tenantID)
	if err != nil {
		return nil, err
	}

	const query = `SELECT id, type FROM games WHERE active ORDER BY id`

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active games: %w", err)
	}
	defer rows.Close()

	var refs []model.EntityRef
	for rows.Next() {
		var id int64
		var entityType string
		if err := rows.Scan(&id, &entityType); err != nil {
			return nil, fmt.Errorf("failed to scan game ref: %w", err)
		}
		refs = append(refs, model.EntityRef{Type: model.EntityType(entityType), ID: id})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating game refs: %w", err)
	}

	refs = append(refs, model.EntityRef{Type: model.TypeLeaderboard, ID: 0})
	return refs, nil
}
