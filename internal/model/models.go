// Package model defines the data models for the game event sync core.
package model

import (
	"fmt"
	"time"
)

// EntityType identifies which projection a snapshot uses and which TTL
// applies to its cache entry.
type EntityType string

// Known entity types for snapshot projection.
const (
	TypeCheckinCampaign EntityType = "checkin_campaign"
	TypeRewardGame      EntityType = "reward_game"
	TypeLiveDraw        EntityType = "live_draw"
	TypeUserWallet      EntityType = "user_wallet"
	TypeLeaderboard     EntityType = "leaderboard"
)

// EntityRef identifies one broadcastable entity. Ids are only unique within
// a type (a game id and a user id may collide), so the pair travels together
// through cache keys and subscriptions.
type EntityRef struct {
	Type EntityType `json:"type"`
	ID   int64      `json:"id"`
}

// String renders the ref for cache keys and log fields.
func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%d", r.Type, r.ID)
}

// CheckinRecord represents one user's status for one day of a campaign.
type CheckinRecord struct {
	ID             int64     `db:"id"`
	GameID         int64     `db:"game_id"`
	UserID         int64     `db:"user_id"`
	DayIndex       int       `db:"day_index"`
	Checked        bool      `db:"checked"`
	CheckinDate    time.Time `db:"checkin_date"`
	IdempotencyKey string    `db:"idempotency_key"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// RewardCode is a single distributable code unit. A code is claimed by at
// most one user, exactly once.
type RewardCode struct {
	ID        int64      `db:"id"`
	GameID    int64      `db:"game_id"`
	DayIndex  *int       `db:"day_index"`
	Code      string     `db:"code"`
	CodeType  string     `db:"code_type"`
	ItemIndex *int       `db:"item_index"`
	ClaimedBy *int64     `db:"claimed_by"`
	ClaimedAt *time.Time `db:"claimed_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// Reward code types.
const (
	CodeTypeDaily    = "daily"
	CodeTypeComplete = "complete"
	CodeTypeCoupon   = "coupon"
)

// CoinTransaction is an idempotent balance-changing ledger entry. Rows are
// written once and never updated.
type CoinTransaction struct {
	ID             int64     `db:"id"`
	UserID         int64     `db:"user_id"`
	Amount         int64     `db:"amount"`
	Reason         string    `db:"reason"`
	IdempotencyKey string    `db:"idempotency_key"`
	CreatedAt      time.Time `db:"created_at"`
}

// UserBalance holds a user's current spendable balance. The balance never
// drops below zero.
type UserBalance struct {
	UserID    int64     `db:"user_id"`
	Balance   int64     `db:"balance"`
	UpdatedAt time.Time `db:"updated_at"`
}

// EntityRow is the authoritative database state for an entity, as read by
// the snapshot engine. Data carries the type-specific document.
type EntityRow struct {
	Ref       EntityRef
	Data      map[string]any
	UpdatedAt time.Time
}

// Snapshot is a reduced, broadcast-safe projection of an entity row.
type Snapshot struct {
	EntityID  int64          `json:"entityId"`
	Type      EntityType     `json:"type"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// CheckinStatus is the outcome of a check-in attempt.
type CheckinStatus string

// Check-in outcomes. OK and ALREADY are both successes from the caller's
// point of view; the rest are validation failures.
const (
	CheckinOK                  CheckinStatus = "OK"
	CheckinAlready             CheckinStatus = "ALREADY"
	CheckinInvalidDate         CheckinStatus = "INVALID_DATE"
	CheckinFutureDate          CheckinStatus = "FUTURE_DATE_NOT_ALLOWED"
	CheckinPrevNotChecked      CheckinStatus = "PREVIOUS_DAY_NOT_CHECKED"
	CheckinPrevCheckedToday    CheckinStatus = "PREVIOUS_DAY_CHECKED_IN_TODAY"
	CheckinAlreadyCheckedToday CheckinStatus = "ALREADY_CHECKED_IN_TODAY"
)

// ClaimStatus is the outcome of a reward code claim.
type ClaimStatus string

// Claim outcomes.
const (
	ClaimOK      ClaimStatus = "OK"
	ClaimAlready ClaimStatus = "ALREADY"
	ClaimEmpty   ClaimStatus = "EMPTY"
)

// AdjustStatus is the outcome of a coin balance adjustment.
type AdjustStatus string

// Adjustment outcomes.
const (
	AdjustOK                  AdjustStatus = "OK"
	AdjustAlreadyProcessed    AdjustStatus = "ALREADY_PROCESSED"
	AdjustInsufficientBalance AdjustStatus = "INSUFFICIENT_BALANCE"
)
