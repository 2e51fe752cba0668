// Package service provides the transactional mutation services: check-in
// sequencing, reward-code claiming and coin-balance adjustment. Each runs
// its state transition inside one database transaction with row locks, and
// notifies the broadcast hub after commit.
package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"gamesync/internal/model"
)

// Common errors for service operations.
var (
	ErrMissingIdempotencyKey = errors.New("missing idempotency key")
)

// Publisher pushes an entity's updated state to subscribers. The broadcast
// hub implements it; services call it only after a successful commit.
type Publisher interface {
	Publish(ctx context.Context, tenantID string, ref model.EntityRef) error
}

// publish notifies subscribers after a commit. Broadcast failures never
// undo a committed mutation; they are logged and dropped.
func publish(ctx context.Context, p Publisher, tenantID string, ref model.EntityRef) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, tenantID, ref); err != nil {
		log.Warn().
			Err(err).
			Str("tenant", tenantID).
			Str("entity", ref.String()).
			Msg("Post-commit publish failed")
	}
}
