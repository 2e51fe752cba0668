package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"gamesync/internal/cache"
	"gamesync/internal/model"
	"gamesync/internal/pkg/retry"
)

// ErrNotFound is returned when the authoritative row does not exist. Absent
// entities are never cached.
var ErrNotFound = errors.New("entity not found")

// Source reads authoritative entity state from a tenant database. The
// repository layer implements it.
type Source interface {
	// FetchEntity returns the full document for an entity, or ErrNotFound.
	FetchEntity(ctx context.Context, tenantID string, ref model.EntityRef) (*model.EntityRow, error)
	// ActiveEntities lists the refs the periodic scheduler should refresh.
	ActiveEntities(ctx context.Context, tenantID string) ([]model.EntityRef, error)
}

// Engine produces and caches snapshots.
type Engine struct {
	registry      *Registry
	cache         *cache.Cache
	source        Source
	retry         *retry.Policy
	queryTimeout  time.Duration
	errorCooldown time.Duration
}

// NewEngine creates a snapshot engine. The retry policy covers transient
// fetch failures; errorCooldown rate-limits failure logging per entity.
func NewEngine(registry *Registry, c *cache.Cache, source Source, policy *retry.Policy, queryTimeout, errorCooldown time.Duration) *Engine {
	return &Engine{
		registry:      registry,
		cache:         c,
		source:        source,
		retry:         policy,
		queryTimeout:  queryTimeout,
		errorCooldown: errorCooldown,
	}
}

// Refresh queries the authoritative row, projects it and caches the result
// with the projection's TTL. Transient failures retry with backoff; a row
// that does not exist returns ErrNotFound and caches nothing.
func (e *Engine) Refresh(ctx context.Context, tenantID string, ref model.EntityRef) (*model.Snapshot, error) {
	var row *model.EntityRow
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		queryCtx, cancel := context.WithTimeout(ctx, e.queryTimeout)
		defer cancel()

		r, err := e.source.FetchEntity(queryCtx, tenantID, ref)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Absence is a final answer, not a transient fault.
				row = nil
				return nil
			}
			return err
		}
		row = r
		return nil
	})
	if err != nil {
		e.logRefreshError(ctx, tenantID, ref, err)
		return nil, fmt.Errorf("failed to refresh entity %s: %w", ref, err)
	}
	if row == nil {
		return nil, ErrNotFound
	}

	projection, ok := e.registry.Get(row.Ref.Type)
	if !ok {
		return nil, fmt.Errorf("no projection registered for type %q", row.Ref.Type)
	}

	snap := &model.Snapshot{
		EntityID:  row.Ref.ID,
		Type:      row.Ref.Type,
		Fields:    projection.Project(row),
		UpdatedAt: row.UpdatedAt,
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot %s: %w", ref, err)
	}
	e.cache.Set(ctx, cache.SnapshotKey(tenantID, ref), raw, projection.TTL)

	return snap, nil
}

// Get returns the cached snapshot if present and unexpired, refreshing
// synchronously otherwise.
func (e *Engine) Get(ctx context.Context, tenantID string, ref model.EntityRef) (*model.Snapshot, error) {
	if raw, ok := e.cache.Get(ctx, cache.SnapshotKey(tenantID, ref)); ok {
		var snap model.Snapshot
		if err := json.Unmarshal(raw, &snap); err == nil {
			return &snap, nil
		}
		// Corrupt entry; fall through to a refresh.
	}
	return e.Refresh(ctx, tenantID, ref)
}

// Invalidate drops the cached snapshot so the next Get hits the database.
func (e *Engine) Invalidate(ctx context.Context, tenantID string, ref model.EntityRef) {
	e.cache.Delete(ctx, cache.SnapshotKey(tenantID, ref))
}

// logRefreshError logs a refresh failure at most once per entity per
// cooldown window, using a short-TTL cache marker.
func (e *Engine) logRefreshError(ctx context.Context, tenantID string, ref model.EntityRef, err error) {
	markKey := cache.ErrMarkKey(tenantID, ref)
	if _, seen := e.cache.Get(ctx, markKey); seen {
		return
	}
	e.cache.Set(ctx, markKey, []byte("1"), e.errorCooldown)

	log.Error().
		Err(err).
		Str("tenant", tenantID).
		Str("entity", ref.String()).
		Msg("Snapshot refresh failed")
}
