// Package snapshot materializes compact, type-aware projections of entity
// rows into cache entries, reducing database load and broadcast payload
// size.
package snapshot

import (
	"fmt"
	"sync"
	"time"

	"gamesync/internal/model"
)

// Projection binds an entity type to its pure projection function and the
// TTL of the resulting cache entry. Registration is explicit; unknown types
// are a refresh error, never a silent default.
type Projection struct {
	Type    model.EntityType
	TTL     time.Duration
	Project func(row *model.EntityRow) map[string]any
}

// Registry manages projection registration and lookup by entity type.
type Registry struct {
	projections map[model.EntityType]Projection
	mu          sync.RWMutex
}

// NewRegistry creates an empty projection registry.
func NewRegistry() *Registry {
	return &Registry{
		projections: make(map[model.EntityType]Projection),
	}
}

// Register adds a projection to the registry.
// If a projection for the same type already exists, it will be replaced.
func (r *Registry) Register(p Projection) error {
	if p.Project == nil {
		return fmt.Errorf("cannot register nil projection")
	}
	if p.Type == "" {
		return fmt.Errorf("projection type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.projections[p.Type] = p
	return nil
}

// Get retrieves a projection by entity type.
// Returns the projection and true if found, a zero value and false otherwise.
func (r *Registry) Get(t model.EntityType) (Projection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projections[t]
	return p, ok
}

// Types returns all registered entity types.
func (r *Registry) Types() []model.EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]model.EntityType, 0, len(r.projections))
	for t := range r.projections {
		types = append(types, t)
	}
	return types
}

// NewDefaultRegistry registers the built-in projections. Each projection
// whitelists the small scalars and counts safe to broadcast; operator-only
// and heavy fields (full code lists, per-user histories, claim maps) never
// survive projection.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	// Check-in campaigns change slowly; date range and remaining code
	// counts are public, per-user histories are not.
	_ = r.Register(Projection{
		Type: model.TypeCheckinCampaign,
		TTL:  30 * time.Second,
		Project: func(row *model.EntityRow) map[string]any {
			return retain(row.Data,
				"title", "startDate", "endDate", "totalDays", "active",
				"checkedInToday", "dailyCodesRemaining", "completeCodesRemaining",
			)
		},
	})

	// Generic reward games expose cursor position and claim counts, never
	// the claim map or the code inventory.
	_ = r.Register(Projection{
		Type: model.TypeRewardGame,
		TTL:  30 * time.Second,
		Project: func(row *model.EntityRow) map[string]any {
			return retain(row.Data,
				"title", "cursor", "totalCodes", "claimedCount",
				"couponRemaining", "active",
			)
		},
	})

	// Live draws change every few seconds; short TTL keeps viewers close
	// to server truth between pushes.
	_ = r.Register(Projection{
		Type: model.TypeLiveDraw,
		TTL:  3 * time.Second,
		Project: func(row *model.EntityRow) map[string]any {
			return retain(row.Data, "title", "round", "state", "drawnNumbers")
		},
	})

	_ = r.Register(Projection{
		Type: model.TypeUserWallet,
		TTL:  10 * time.Second,
		Project: func(row *model.EntityRow) map[string]any {
			return retain(row.Data, "userId", "balance")
		},
	})

	_ = r.Register(Projection{
		Type: model.TypeLeaderboard,
		TTL:  15 * time.Second,
		Project: func(row *model.EntityRow) map[string]any {
			return retain(row.Data, "entries")
		},
	})

	return r
}

// retain copies only the named keys out of data.
func retain(data map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := data[k]; ok {
			out[k] = v
		}
	}
	return out
}
