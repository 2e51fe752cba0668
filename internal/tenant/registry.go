// Package tenant maps tenant identifiers to their isolated database pools.
// The registry is built once at boot and immutable afterwards; operations on
// different tenants never share a connection pool.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"gamesync/internal/config"
	"gamesync/internal/pkg/db"
)

// ErrUnknownTenant is returned for tenant ids not present at boot.
var ErrUnknownTenant = errors.New("unknown tenant")

// Registry holds one pool per tenant.
type Registry struct {
	pools map[string]*db.Pool
}

// NewRegistry connects every configured tenant. A tenant that fails to
// connect fails boot; partial registries are not allowed.
func NewRegistry(ctx context.Context, cfg *config.Config) (*Registry, error) {
	pools := make(map[string]*db.Pool, len(cfg.Tenants))
	for _, tc := range cfg.Tenants {
		pool, err := db.NewPool(ctx, &cfg.Database, tc.Database)
		if err != nil {
			for _, p := range pools {
				p.Close()
			}
			return nil, fmt.Errorf("failed to connect tenant %q: %w", tc.ID, err)
		}
		pools[tc.ID] = pool
		log.Info().Str("tenant", tc.ID).Str("database", tc.Database).Msg("Tenant pool ready")
	}
	return &Registry{pools: pools}, nil
}

// NewRegistryWithPools builds a registry from existing pools. Used by tests.
func NewRegistryWithPools(pools map[string]*db.Pool) *Registry {
	return &Registry{pools: pools}
}

// Pool returns the pool for a tenant.
func (r *Registry) Pool(tenantID string) (*db.Pool, error) {
	pool, ok := r.pools[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTenant, tenantID)
	}
	return pool, nil
}

// HealthCheck probes the tenant's pool within the given timeout.
func (r *Registry) HealthCheck(ctx context.Context, tenantID string, timeout time.Duration) error {
	pool, err := r.Pool(tenantID)
	if err != nil {
		return err
	}
	return pool.HealthCheck(ctx, timeout)
}

// IDs returns all registered tenant ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.pools))
	for id := range r.pools {
		ids = append(ids, id)
	}
	return ids
}

// Close closes every tenant pool.
func (r *Registry) Close() {
	for _, p := range r.pools {
		p.Close()
	}
}
