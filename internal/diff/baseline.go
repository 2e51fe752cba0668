package diff

import (
	"context"
	"encoding/json"
	"time"

	"gamesync/internal/cache"
)

// Outcome is the three-way result every caller of EntityDiff branches on.
type Outcome int

// EntityDiff outcomes.
const (
	// FullResend means no baseline existed; the caller must send the
	// complete state this one time.
	FullResend Outcome = iota
	// NoChange means the new state equals the baseline; skip the broadcast.
	NoChange
	// Changed means Delta holds the patch to broadcast.
	Changed
)

// Result carries the outcome of a baseline comparison.
type Result struct {
	Outcome Outcome
	Delta   Delta
}

// BaselineStore keeps the last state actually sent to subscribers, per
// entity, and computes the patch against it. Baselines live in the cache
// and are disposable: losing one only forces a full resend.
type BaselineStore struct {
	cache  *cache.Cache
	differ *Differ
	ttl    time.Duration
}

// NewBaselineStore creates a baseline store. ttl bounds how long an idle
// entity keeps its baseline; zero means no expiry.
func NewBaselineStore(c *cache.Cache, differ *Differ, ttl time.Duration) *BaselineStore {
	return &BaselineStore{cache: c, differ: differ, ttl: ttl}
}

// EntityDiff compares next against the stored baseline for key. On
// FullResend and Changed the baseline is overwritten with next.
func (s *BaselineStore) EntityDiff(ctx context.Context, key string, next map[string]any) (Result, error) {
	normalized, err := Normalize(next)
	if err != nil {
		return Result{}, err
	}

	raw, ok := s.cache.Get(ctx, key)
	if !ok {
		if err := s.store(ctx, key, normalized); err != nil {
			return Result{}, err
		}
		return Result{Outcome: FullResend}, nil
	}

	var prev map[string]any
	if err := json.Unmarshal(raw, &prev); err != nil {
		// Corrupt baseline; treat as absent.
		if err := s.store(ctx, key, normalized); err != nil {
			return Result{}, err
		}
		return Result{Outcome: FullResend}, nil
	}

	delta := s.differ.Diff(prev, normalized)
	if delta == nil {
		return Result{Outcome: NoChange}, nil
	}

	if err := s.store(ctx, key, normalized); err != nil {
		return Result{}, err
	}
	return Result{Outcome: Changed, Delta: delta}, nil
}

// Drop discards the baseline for key, forcing the next broadcast to resend
// full state.
func (s *BaselineStore) Drop(ctx context.Context, key string) {
	s.cache.Delete(ctx, key)
}

func (s *BaselineStore) store(ctx context.Context, key string, doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	s.cache.Set(ctx, key, raw, s.ttl)
	return nil
}
