package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"gamesync/internal/model"
	"gamesync/internal/tenant"
)

// CheckinRepository handles check-in record persistence.
type CheckinRepository struct {
	tenants *tenant.Registry
}

// NewCheckinRepository creates a new CheckinRepository instance.
func NewCheckinRepository(tenants *tenant.Registry) *CheckinRepository {
	return &CheckinRepository{tenants: tenants}
}

// Begin opens a transaction on the tenant's pool.
func (r *CheckinRepository) Begin(ctx context.Context, tenantID string) (pgx.Tx, error) {
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

// ListForUpdate loads all of a user's records for a game with row locks, so
// two concurrent check-in attempts for the same user serialize instead of
// racing.
func (r *CheckinRepository) ListForUpdate(ctx context.Context, tx pgx.Tx, gameID, userID int64) ([]model.CheckinRecord, error) {
	const query = `
		SELECT id, game_id, user_id, day_index, checked, checkin_date, idempotency_key, created_at, updated_at
		FROM checkin_records
		WHERE game_id = $1 AND user_id = $2
		ORDER BY day_index
		FOR UPDATE
	`

	rows, err := tx.Query(ctx, query, gameID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock checkin records: %w", err)
	}
	defer rows.Close()

	var records []model.CheckinRecord
	for rows.Next() {
		var rec model.CheckinRecord
		err := rows.Scan(
			&rec.ID,
			&rec.GameID,
			&rec.UserID,
			&rec.DayIndex,
			&rec.Checked,
			&rec.CheckinDate,
			&rec.IdempotencyKey,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkin record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkin records: %w", err)
	}

	return records, nil
}

// Insert writes one checked record. Unique violations (idempotency key or
// day slot) surface to the service, which maps them to replay outcomes.
func (r *CheckinRepository) Insert(ctx context.Context, tx pgx.Tx, gameID, userID int64, dayIndex int, checkinDate time.Time, idempotencyKey string) (*model.CheckinRecord, error) {
	const query = `
		INSERT INTO checkin_records (game_id, user_id, day_index, checked, checkin_date, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $5, NOW(), NOW())
		RETURNING id, game_id, user_id, day_index, checked, checkin_date, idempotency_key, created_at, updated_at
	`

	var rec model.CheckinRecord
	err := tx.QueryRow(ctx, query, gameID, userID, dayIndex, checkinDate, idempotencyKey).Scan(
		&rec.ID,
		&rec.GameID,
		&rec.UserID,
		&rec.DayIndex,
		&rec.Checked,
		&rec.CheckinDate,
		&rec.IdempotencyKey,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert checkin record: %w", err)
	}

	return &rec, nil
}

// GetByIdempotencyKey returns the record created under a key, if any.
func (r *CheckinRepository) GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*model.CheckinRecord, error) {
	pool, err := r.tenants.Pool(tenantID)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT id, game_id, user_id, day_index, checked, checkin_date, idempotency_key, created_at, updated_at
		FROM checkin_records
		WHERE idempotency_key = $1
	`

	var rec model.CheckinRecord
	err = pool.QueryRow(ctx, query, key).Scan(
		&rec.ID,
		&rec.GameID,
		&rec.UserID,
		&rec.DayIndex,
		&rec.Checked,
		&rec.CheckinDate,
		&rec.IdempotencyKey,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("failed to get checkin by key: %w", err)
	}

	return &rec, nil
}

// Progress returns a user's checked days for a game, ordered by day index.
// Used for cold-start reads outside any transaction.
func (r *CheckinRepository) Progress(ctx context.Context, tenantID string, gameID, userID int64) ([]model.CheckinRecord, error) {
	pool, err := r.tenants.Pool(tenantID)
	if err != nil {
		return nil, err
	}

	const query = `
		SELECT id, game_id, user_id, day_index, checked, checkin_date, idempotency_key, created_at, updated_at
		FROM checkin_records
		WHERE game_id = $1 AND user_id = $2 AND checked
		ORDER BY day_index
	`

	rows, err := pool.Query(ctx, query, gameID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get checkin progress: %w", err)
	}
	defer rows.Close()

	var records []model.CheckinRecord
	for rows.Next() {
		var rec model.CheckinRecord
		err := rows.Scan(
			&rec.ID,
			&rec.GameID,
			&rec.UserID,
			&rec.DayIndex,
			&rec.Checked,
			&rec.CheckinDate,
			&rec.IdempotencyKey,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkin record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating checkin records: %w", err)
	}

	return records, nil
}

// CountCheckedToday returns how many users checked in on a date, feeding the
// campaign snapshot projection.
func (r *CheckinRepository) CountCheckedToday(ctx context.Context, tenantID string, gameID int64, date time.Time) (int, error) {
	pool, err := r.tenants.Pool(tenantID)
	if err != nil {
		return 0, err
	}

	const query = `
		SELECT COUNT(*) FROM checkin_records
		WHERE game_id = $1 AND checked AND checkin_date = $2::date
	`

	var count int
	if err := pool.QueryRow(ctx, query, gameID, date).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count checkins: %w", err)
	}
	return count, nil
}
