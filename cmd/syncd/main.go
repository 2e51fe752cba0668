// Package main is the entry point for the game event sync daemon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gamesync/internal/cache"
	"gamesync/internal/config"
	"gamesync/internal/core"
	"gamesync/internal/pkg/db"
	"gamesync/internal/tenant"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Int("tenants", len(cfg.Tenants)).Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tenants, err := tenant.NewRegistry(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect tenant databases")
	}
	defer tenants.Close()

	for _, tenantID := range tenants.IDs() {
		pool, _ := tenants.Pool(tenantID)
		if err := runMigrations(ctx, pool); err != nil {
			log.Fatal().Err(err).Str("tenant", tenantID).Msg("Failed to run migrations")
		}
	}

	// The remote cache is optional: when unreachable at boot the process
	// runs on the in-process store alone.
	var remote cache.Store
	if cfg.Redis.Addr != "" {
		redisStore, err := cache.NewRedis(ctx, &cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unreachable, using in-process cache only")
		} else {
			remote = redisStore
			log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis cache connected")
		}
	}
	kv := cache.New(remote, cache.NewMemory())

	syncCore := core.New(cfg, tenants, kv)
	go syncCore.Run(ctx)

	log.Info().Msg("Sync core started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	cancel()
	log.Info().Msg("Sync core stopped gracefully")
}

// runMigrations applies the tenant schema.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: games table
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS games (
			id BIGSERIAL PRIMARY KEY,
			type VARCHAR(50) NOT NULL,
			data JSONB NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_games_active ON games(active);
	`)
	if err != nil {
		return err
	}

	// Migration 2: checkin_records table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS checkin_records (
			id BIGSERIAL PRIMARY KEY,
			game_id BIGINT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL,
			day_index INT NOT NULL,
			checked BOOLEAN NOT NULL DEFAULT FALSE,
			checkin_date DATE NOT NULL,
			idempotency_key VARCHAR(64) NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (game_id, user_id, day_index)
		);
		CREATE INDEX IF NOT EXISTS idx_checkin_user ON checkin_records(game_id, user_id);
	`)
	if err != nil {
		return err
	}

	// Migration 3: reward_codes table. The partial unique index enforces
	// one claim per user per selector for non-coupon types; coupon claims
	// may repeat.
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS reward_codes (
			id BIGSERIAL PRIMARY KEY,
			game_id BIGINT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			day_index INT,
			code VARCHAR(128) NOT NULL,
			code_type VARCHAR(20) NOT NULL,
			item_index INT,
			claimed_by BIGINT,
			claimed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_reward_codes_unclaimed
			ON reward_codes(game_id, code_type, day_index)
			WHERE claimed_by IS NULL;
		CREATE UNIQUE INDEX IF NOT EXISTS idx_reward_codes_one_claim
			ON reward_codes(game_id, code_type, COALESCE(day_index, -1), claimed_by)
			WHERE claimed_by IS NOT NULL AND code_type <> 'coupon';
	`)
	if err != nil {
		return err
	}

	// Migration 4: coin ledger and balances
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS coin_transactions (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			reason VARCHAR(100) NOT NULL,
			idempotency_key VARCHAR(64) NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_coin_tx_user_time ON coin_transactions(user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS user_balances (
			user_id BIGINT PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_user_balances_top ON user_balances(balance DESC);
	`)
	if err != nil {
		return err
	}

	log.Info().Msg("All migrations completed")
	return nil
}
