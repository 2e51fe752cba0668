// Package core wires the sync components together and exposes the
// operation surface the transport layer calls: mutations, snapshot reads
// and subscription management.
package core

import (
	"context"
	"time"

	"gamesync/internal/cache"
	"gamesync/internal/config"
	"gamesync/internal/diff"
	"gamesync/internal/hub"
	"gamesync/internal/model"
	"gamesync/internal/pkg/retry"
	"gamesync/internal/repository"
	"gamesync/internal/service"
	"gamesync/internal/snapshot"
	"gamesync/internal/tenant"
)

// Core bundles the engine, hub and mutation services for one process.
type Core struct {
	Checkin *service.CheckinService
	Rewards *service.RewardService
	Coins   *service.CoinService

	engine    *snapshot.Engine
	hub       *hub.Hub
	scheduler *snapshot.Scheduler
}

// New builds the full component graph on top of an existing tenant
// registry and cache.
func New(cfg *config.Config, tenants *tenant.Registry, kv *cache.Cache) *Core {
	checkinRepo := repository.NewCheckinRepository(tenants)
	codeRepo := repository.NewRewardCodeRepository(tenants)
	coinRepo := repository.NewCoinRepository(tenants)
	entityRepo := repository.NewEntityRepository(tenants, codeRepo, checkinRepo, coinRepo)

	policy := retry.New(cfg.Snapshot.MaxAttempts, retry.Linear(cfg.Snapshot.Backoff))
	engine := snapshot.NewEngine(
		snapshot.NewDefaultRegistry(),
		kv,
		entityRepo,
		policy,
		cfg.Database.QueryTimeout,
		cfg.Snapshot.ErrorCooldown,
	)

	baselines := diff.NewBaselineStore(kv, diff.New(), 24*time.Hour)
	broadcastHub := hub.New(engine, baselines)

	return &Core{
		Checkin:   service.NewCheckinService(checkinRepo, broadcastHub),
		Rewards:   service.NewRewardService(codeRepo, broadcastHub),
		Coins:     service.NewCoinService(coinRepo, broadcastHub),
		engine:    engine,
		hub:       broadcastHub,
		scheduler: snapshot.NewScheduler(engine, entityRepo, tenants, cfg.Snapshot),
	}
}

// Run blocks on the periodic snapshot scheduler until ctx is cancelled.
func (c *Core) Run(ctx context.Context) {
	c.scheduler.Run(ctx)
}

// GetSnapshot returns the current snapshot for an entity, refreshing if
// the cached one expired.
func (c *Core) GetSnapshot(ctx context.Context, tenantID string, ref model.EntityRef) (*model.Snapshot, error) {
	return c.engine.Get(ctx, tenantID, ref)
}

// Subscribe registers a channel for an entity's updates; the current
// snapshot is delivered immediately.
func (c *Core) Subscribe(ctx context.Context, tenantID string, ref model.EntityRef, ch hub.Channel) error {
	return c.hub.Subscribe(ctx, tenantID, ref, ch)
}

// Unsubscribe removes a channel from one entity's subscriber set.
func (c *Core) Unsubscribe(tenantID string, ref model.EntityRef, ch hub.Channel) {
	c.hub.Unsubscribe(tenantID, ref, ch)
}

// UnsubscribeAll removes a channel everywhere. Called on disconnect.
func (c *Core) UnsubscribeAll(ch hub.Channel) {
	c.hub.UnsubscribeAll(ch)
}
