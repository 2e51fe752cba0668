// Package hub maintains per-entity subscriber sets and delivers snapshot or
// patch payloads to them on mutation. Delivery is at-most-once and
// best-effort: a missed update is recovered by the next subscribe cold-start
// read, not retried.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"gamesync/internal/cache"
	"gamesync/internal/diff"
	"gamesync/internal/model"
	"gamesync/internal/pkg/lock"
	"gamesync/internal/snapshot"
)

// Message is one outbound push event. Exactly one of Full, Patch or Deleted
// is meaningful: Full on a subscriber's first delivery or when no diff
// baseline existed, Patch afterwards, Deleted when the entity is gone.
type Message struct {
	Entity  model.EntityRef `json:"entity"`
	Full    *model.Snapshot `json:"full,omitempty"`
	Patch   diff.Delta      `json:"patch,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}

// Channel is a connected client's transport handle. The WebSocket layer
// implements it outside this package; one channel can hold many
// subscriptions.
type Channel interface {
	ID() string
	Send(msg Message) error
}

// Hub owns the subscription registry for one process. Multiple hubs can
// coexist (each owns its registry), which keeps them testable in isolation.
type Hub struct {
	engine    *snapshot.Engine
	baselines *diff.BaselineStore
	locks     *lock.KeyedLock

	mu        sync.RWMutex
	subs      map[string]map[string]Channel  // entity key -> channel id -> channel
	byChannel map[string]map[string]struct{} // channel id -> entity keys
}

// New creates a hub.
func New(engine *snapshot.Engine, baselines *diff.BaselineStore) *Hub {
	return &Hub{
		engine:    engine,
		baselines: baselines,
		locks:     lock.NewKeyedLock(),
		subs:      make(map[string]map[string]Channel),
		byChannel: make(map[string]map[string]struct{}),
	}
}

// entityKey scopes a subscription by tenant and entity.
func entityKey(tenantID string, ref model.EntityRef) string {
	return tenantID + "/" + ref.String()
}

// Subscribe registers ch for an entity's updates and immediately sends the
// current snapshot, so a new subscriber never waits for the next mutation to
// see current state. A missing entity is answered with a deletion marker.
func (h *Hub) Subscribe(ctx context.Context, tenantID string, ref model.EntityRef, ch Channel) error {
	key := entityKey(tenantID, ref)

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[string]Channel)
	}
	h.subs[key][ch.ID()] = ch
	if h.byChannel[ch.ID()] == nil {
		h.byChannel[ch.ID()] = make(map[string]struct{})
	}
	h.byChannel[ch.ID()][key] = struct{}{}
	h.mu.Unlock()

	snap, err := h.engine.Get(ctx, tenantID, ref)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			return ch.Send(Message{Entity: ref, Deleted: true})
		}
		return fmt.Errorf("failed to read snapshot for %s: %w", ref, err)
	}
	return ch.Send(Message{Entity: ref, Full: snap})
}

// Unsubscribe removes ch from one entity's subscriber set.
func (h *Hub) Unsubscribe(tenantID string, ref model.EntityRef, ch Channel) {
	key := entityKey(tenantID, ref)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(key, ch.ID())
}

// UnsubscribeAll removes ch from every set it belongs to. Invoked on
// disconnect; cost is proportional to the channel's own subscriptions, not
// to the number of entities.
func (h *Hub) UnsubscribeAll(ch Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for key := range h.byChannel[ch.ID()] {
		h.removeLocked(key, ch.ID())
	}
}

func (h *Hub) removeLocked(key, channelID string) {
	if set, ok := h.subs[key]; ok {
		delete(set, channelID)
		if len(set) == 0 {
			delete(h.subs, key)
		}
	}
	if keys, ok := h.byChannel[channelID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(h.byChannel, channelID)
		}
	}
}

// SubscriberCount returns the number of channels subscribed to an entity.
func (h *Hub) SubscriberCount(tenantID string, ref model.EntityRef) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[entityKey(tenantID, ref)])
}

// Publish refreshes an entity's snapshot and pushes the change to current
// subscribers: the full snapshot when no baseline existed, a patch when the
// baseline differs, nothing when it does not. Concurrent publishes for the
// same entity serialize on a per-entity lock so the baseline never skips a
// state.
func (h *Hub) Publish(ctx context.Context, tenantID string, ref model.EntityRef) error {
	key := entityKey(tenantID, ref)

	return h.locks.WithLock(key, func() error {
		h.engine.Invalidate(ctx, tenantID, ref)

		snap, err := h.engine.Get(ctx, tenantID, ref)
		if err != nil {
			if errors.Is(err, snapshot.ErrNotFound) {
				h.baselines.Drop(ctx, cache.BaselineKey(tenantID, ref))
				h.broadcast(key, Message{Entity: ref, Deleted: true})
				return nil
			}
			return fmt.Errorf("failed to refresh %s for publish: %w", ref, err)
		}

		result, err := h.baselines.EntityDiff(ctx, cache.BaselineKey(tenantID, ref), snap.Fields)
		if err != nil {
			return fmt.Errorf("failed to diff %s: %w", ref, err)
		}

		switch result.Outcome {
		case diff.FullResend:
			h.broadcast(key, Message{Entity: ref, Full: snap})
		case diff.Changed:
			h.broadcast(key, Message{Entity: ref, Patch: result.Delta})
		case diff.NoChange:
			// Nothing to send.
		}
		return nil
	})
}

// broadcast delivers msg to the entity's current subscriber set. Send
// failures only log; disconnect cleanup happens via UnsubscribeAll.
func (h *Hub) broadcast(key string, msg Message) {
	h.mu.RLock()
	channels := make([]Channel, 0, len(h.subs[key]))
	for _, ch := range h.subs[key] {
		channels = append(channels, ch)
	}
	h.mu.RUnlock()

	for _, ch := range channels {
		if err := ch.Send(msg); err != nil {
			log.Debug().
				Err(err).
				Str("channel", ch.ID()).
				Str("entity", key).
				Msg("Broadcast send failed")
		}
	}
}
