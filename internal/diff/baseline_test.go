package diff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamesync/internal/cache"
)

func newTestBaselines() *BaselineStore {
	kv := cache.New(nil, cache.NewMemory())
	return NewBaselineStore(kv, New(), time.Hour)
}

func TestBaselineStore_FirstSeenIsFullResend(t *testing.T) {
	ctx := context.Background()
	store := newTestBaselines()

	res, err := store.EntityDiff(ctx, "t1/checkin:1", map[string]any{"title": "launch", "totalDays": 7})
	require.NoError(t, err)
	assert.Equal(t, FullResend, res.Outcome)
	assert.Nil(t, res.Delta)
}

func TestBaselineStore_UnchangedStateIsNoChange(t *testing.T) {
	ctx := context.Background()
	store := newTestBaselines()

	doc := map[string]any{"title": "launch", "totalDays": 7}
	_, err := store.EntityDiff(ctx, "t1/checkin:1", doc)
	require.NoError(t, err)

	res, err := store.EntityDiff(ctx, "t1/checkin:1", doc)
	require.NoError(t, err)
	assert.Equal(t, NoChange, res.Outcome)
}

func TestBaselineStore_ChangedStateYieldsDelta(t *testing.T) {
	ctx := context.Background()
	store := newTestBaselines()

	_, err := store.EntityDiff(ctx, "t1/checkin:1", map[string]any{"title": "launch", "totalDays": 7})
	require.NoError(t, err)

	res, err := store.EntityDiff(ctx, "t1/checkin:1", map[string]any{"title": "launch", "totalDays": 10})
	require.NoError(t, err)
	require.Equal(t, Changed, res.Outcome)
	require.NotNil(t, res.Delta)
	assert.Equal(t, OpReplace, res.Delta["totalDays"].Op)
	assert.Nil(t, res.Delta["title"])
}

// Documents produced fresh in Go carry int values; baselines round-trip
// through JSON and come back as float64. The comparison must not flag that
// as a change.
func TestBaselineStore_ScalarTypesNormalized(t *testing.T) {
	ctx := context.Background()
	store := newTestBaselines()

	_, err := store.EntityDiff(ctx, "t1/wallet:42", map[string]any{"balance": int64(100)})
	require.NoError(t, err)

	res, err := store.EntityDiff(ctx, "t1/wallet:42", map[string]any{"balance": float64(100)})
	require.NoError(t, err)
	assert.Equal(t, NoChange, res.Outcome)
}

func TestBaselineStore_DropForcesFullResend(t *testing.T) {
	ctx := context.Background()
	store := newTestBaselines()

	doc := map[string]any{"balance": 50}
	_, err := store.EntityDiff(ctx, "t1/wallet:42", doc)
	require.NoError(t, err)

	store.Drop(ctx, "t1/wallet:42")

	res, err := store.EntityDiff(ctx, "t1/wallet:42", doc)
	require.NoError(t, err)
	assert.Equal(t, FullResend, res.Outcome)
}

func TestBaselineStore_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := newTestBaselines()

	doc := map[string]any{"v": 1}
	_, err := store.EntityDiff(ctx, "t1/reward:1", doc)
	require.NoError(t, err)

	res, err := store.EntityDiff(ctx, "t2/reward:1", doc)
	require.NoError(t, err)
	assert.Equal(t, FullResend, res.Outcome, "same entity under another tenant has its own baseline")
}
