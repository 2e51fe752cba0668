package snapshot

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"gamesync/internal/config"
	"gamesync/internal/model"
)

// TenantProber enumerates tenants and probes their database health. The
// tenant registry implements it.
type TenantProber interface {
	IDs() []string
	HealthCheck(ctx context.Context, tenantID string, timeout time.Duration) error
}

// Scheduler periodically refreshes all active entities for every tenant, in
// small batches with an inter-batch delay so refresh traffic never saturates
// a tenant's connection pool. A pool health probe gates each tenant's batch
// per cycle.
type Scheduler struct {
	engine  *Engine
	source  Source
	tenants TenantProber
	cfg     config.SnapshotConfig
}

// NewScheduler creates a refresh scheduler. A batch size below 1 is raised
// to 1 so the batch loop always makes progress.
func NewScheduler(engine *Engine, source Source, tenants TenantProber, cfg config.SnapshotConfig) *Scheduler {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Scheduler{
		engine:  engine,
		source:  source,
		tenants: tenants,
		cfg:     cfg,
	}
}

// Run blocks, refreshing on the configured interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().
		Dur("interval", s.cfg.Interval).
		Int("batch_size", s.cfg.BatchSize).
		Msg("Snapshot scheduler started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Snapshot scheduler stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle refreshes every tenant once.
func (s *Scheduler) runCycle(ctx context.Context) {
	for _, tenantID := range s.tenants.IDs() {
		if ctx.Err() != nil {
			return
		}
		s.refreshTenant(ctx, tenantID)
	}
}

func (s *Scheduler) refreshTenant(ctx context.Context, tenantID string) {
	// Skip this tenant's cycle entirely when the pool is unhealthy; the
	// next cycle retries.
	if err := s.tenants.HealthCheck(ctx, tenantID, 2*time.Second); err != nil {
		log.Warn().Err(err).Str("tenant", tenantID).Msg("Pool unhealthy, skipping refresh cycle")
		return
	}

	refs, err := s.source.ActiveEntities(ctx, tenantID)
	if err != nil {
		log.Error().Err(err).Str("tenant", tenantID).Msg("Failed to list active entities")
		return
	}

	for start := 0; start < len(refs); start += s.cfg.BatchSize {
		if ctx.Err() != nil {
			return
		}

		end := start + s.cfg.BatchSize
		if end > len(refs) {
			end = len(refs)
		}
		s.refreshBatch(ctx, tenantID, refs[start:end])

		if end < len(refs) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.BatchDelay):
			}
		}
	}
}

func (s *Scheduler) refreshBatch(ctx context.Context, tenantID string, refs []model.EntityRef) {
	for _, ref := range refs {
		// Refresh failures are already logged (rate-limited) by the
		// engine; the scheduler just moves on.
		_, _ = s.engine.Refresh(ctx, tenantID, ref)
	}
}
