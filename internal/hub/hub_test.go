package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamesync/internal/cache"
	"gamesync/internal/diff"
	"gamesync/internal/model"
	"gamesync/internal/pkg/retry"
	"gamesync/internal/snapshot"
)

// fakeChannel records delivered messages.
type fakeChannel struct {
	id string

	mu       sync.Mutex
	messages []Message
	sendErr  error
}

func newFakeChannel(id string) *fakeChannel {
	return &fakeChannel{id: id}
}

func (c *fakeChannel) ID() string { return c.id }

func (c *fakeChannel) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.messages = append(c.messages, msg)
	return nil
}

func (c *fakeChannel) received() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *fakeChannel) last(t *testing.T) Message {
	t.Helper()
	msgs := c.received()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

// memorySource is an in-memory snapshot.Source the hub tests mutate directly.
type memorySource struct {
	mu   sync.Mutex
	rows map[string]*model.EntityRow
}

func newMemorySource() *memorySource {
	return &memorySource{rows: make(map[string]*model.EntityRow)}
}

func (s *memorySource) put(tenantID string, row *model.EntityRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[tenantID+"/"+row.Ref.String()] = row
}

func (s *memorySource) remove(tenantID string, ref model.EntityRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, tenantID+"/"+ref.String())
}

func (s *memorySource) FetchEntity(_ context.Context, tenantID string, ref model.EntityRef) (*model.EntityRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[tenantID+"/"+ref.String()]
	if !ok {
		return nil, snapshot.ErrNotFound
	}
	return row, nil
}

func (s *memorySource) ActiveEntities(context.Context, string) ([]model.EntityRef, error) {
	return nil, nil
}

func newTestHub(source snapshot.Source) *Hub {
	kv := cache.New(nil, cache.NewMemory())
	policy := retry.New(1, retry.Constant(0))
	engine := snapshot.NewEngine(snapshot.NewDefaultRegistry(), kv, source, policy, time.Second, time.Minute)
	baselines := diff.NewBaselineStore(kv, diff.New(), time.Hour)
	return New(engine, baselines)
}

func drawRef(id int64) model.EntityRef {
	return model.EntityRef{Type: model.TypeLiveDraw, ID: id}
}

func drawRow(id int64, round int, state string) *model.EntityRow {
	return &model.EntityRow{
		Ref:  drawRef(id),
		Data: map[string]any{"title": "draw", "round": round, "state": state},
	}
}

func TestSubscribe_ColdStartDeliversFullSnapshot(t *testing.T) {
	ctx := context.Background()
	source := newMemorySource()
	source.put("t1", drawRow(1, 1, "open"))
	h := newTestHub(source)

	ch := newFakeChannel("client-1")
	require.NoError(t, h.Subscribe(ctx, "t1", drawRef(1), ch))

	msgs := ch.received()
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Full)
	assert.Equal(t, "draw", msgs[0].Full.Fields["title"])
	assert.Nil(t, msgs[0].Patch)
	assert.Equal(t, 1, h.SubscriberCount("t1", drawRef(1)))
}

func TestSubscribe_MissingEntitySendsDeletionMarker(t *testing.T) {
	ctx := context.Background()
	h := newTestHub(newMemorySource())

	ch := newFakeChannel("client-1")
	require.NoError(t, h.Subscribe(ctx, "t1", drawRef(404), ch))

	msg := ch.last(t)
	assert.True(t, msg.Deleted)
	assert.Nil(t, msg.Full)
	// The failed read does not undo the registration.
	assert.Equal(t, 1, h.SubscriberCount("t1", drawRef(404)))
}

func TestPublish_FirstIsFullThenPatches(t *testing.T) {
	ctx := context.Background()
	source := newMemorySource()
	source.put("t1", drawRow(1, 1, "open"))
	h := newTestHub(source)

	ch := newFakeChannel("client-1")
	require.NoError(t, h.Subscribe(ctx, "t1", drawRef(1), ch))

	// No baseline yet, so the first publish resends full state.
	require.NoError(t, h.Publish(ctx, "t1", drawRef(1)))
	msg := ch.last(t)
	require.NotNil(t, msg.Full)

	// The next mutation diffs against the stored baseline.
	source.put("t1", drawRow(1, 2, "open"))
	require.NoError(t, h.Publish(ctx, "t1", drawRef(1)))

	msg = ch.last(t)
	assert.Nil(t, msg.Full)
	require.NotNil(t, msg.Patch)
	require.NotNil(t, msg.Patch["round"])
	assert.Equal(t, diff.OpReplace, msg.Patch["round"].Op)
	assert.Nil(t, msg.Patch["state"], "unchanged fields stay out of the patch")
}

func TestPublish_NoChangeSendsNothing(t *testing.T) {
	ctx := context.Background()
	source := newMemorySource()
	source.put("t1", drawRow(1, 1, "open"))
	h := newTestHub(source)

	ch := newFakeChannel("client-1")
	require.NoError(t, h.Subscribe(ctx, "t1", drawRef(1), ch))

	require.NoError(t, h.Publish(ctx, "t1", drawRef(1)))
	delivered := len(ch.received())

	// Same state again: subscribers hear nothing.
	require.NoError(t, h.Publish(ctx, "t1", drawRef(1)))
	assert.Len(t, ch.received(), delivered)
}

func TestPublish_DeletedEntityBroadcastsMarkerAndDropsBaseline(t *testing.T) {
	ctx := context.Background()
	source := newMemorySource()
	source.put("t1", drawRow(1, 1, "open"))
	h := newTestHub(source)

	ch := newFakeChannel("client-1")
	require.NoError(t, h.Subscribe(ctx, "t1", drawRef(1), ch))
	require.NoError(t, h.Publish(ctx, "t1", drawRef(1)))

	source.remove("t1", drawRef(1))
	require.NoError(t, h.Publish(ctx, "t1", drawRef(1)))
	assert.True(t, ch.last(t).Deleted)

	// Recreation after deletion starts over with a full resend.
	source.put("t1", drawRow(1, 5, "open"))
	require.NoError(t, h.Publish(ctx, "t1", drawRef(1)))
	msg := ch.last(t)
	require.NotNil(t, msg.Full)
	assert.Nil(t, msg.Patch)
}

func TestPublish_ReachesAllSubscribersOfEntityOnly(t *testing.T) {
	ctx := context.Background()
	source := newMemorySource()
	source.put("t1", drawRow(1, 1, "open"))
	source.put("t1", drawRow(2, 1, "open"))
	h := newTestHub(source)

	sub1 := newFakeChannel("client-1")
	sub2 := newFakeChannel("client-2")
	other := newFakeChannel("client-3")
	require.NoError(t, h.Subscribe(ctx, "t1", drawRef(1), sub1))
	require.NoError(t, h.Subscribe(ctx, "t1", drawRef(1), sub2))
	require.NoError(t, h.Subscribe(ctx, "t1", drawRef(2), other))

	require.NoError(t, h.Publish(ctx, "t1", drawRef(1)))

	assert.Len(t, sub1.received(), 2, "cold-start plus publish")
	assert.Len(t, sub2.received(), 2)
	assert.Len(t, other.received(), 1, "unrelated entity's subscriber hears nothing")
}

func TestPublish_SendFailureDoesNotFailPublish(t *testing.T) {
	ctx := context.Background()
	source := newMemorySource()
	source.put("t1", drawRow(1, 1, "open"))
	h := newTestHub(source)

	broken := newFakeChannel("client-1")
	healthy := newFakeChannel("client-2")
	require.NoError(t, h.Subscribe(ctx, "t1", drawRef(1), broken))
	require.NoError(t, h.Subscribe(ctx, "t1", drawRef(1), healthy))

	broken.mu.Lock()
	broken.sendErr = errors.New("connection closed")
	broken.mu.Unlock()

	require.NoError(t, h.Publish(ctx, "t1", drawRef(1)))
	assert.Len(t, healthy.received(), 2, "healthy subscriber still gets the update")
}

func TestUnsubscribe_StopsDelivery(t *testing.T) {
	ctx := context.Background()
	source := newMemorySource()
	source.put("t1", drawRow(1, 1, "open"))
	h := newTestHub(source)

	ch := newFakeChannel("client-1")
	require.NoError(t, h.Subscribe(ctx, "t1", drawRef(1), ch))
	h.Unsubscribe("t1", drawRef(1), ch)

	require.NoError(t, h.Publish(ctx, "t1", drawRef(1)))
	assert.Len(t, ch.received(), 1, "only the cold-start message")
	assert.Equal(t, 0, h.SubscriberCount("t1", drawRef(1)))
}

func TestUnsubscribeAll_ClearsEverySubscription(t *testing.T) {
	ctx := context.Background()
	source := newMemorySource()
	source.put("t1", drawRow(1, 1, "open"))
	source.put("t1", drawRow(2, 1, "open"))
	h := newTestHub(source)

	ch := newFakeChannel("client-1")
	require.NoError(t, h.Subscribe(ctx, "t1", drawRef(1), ch))
	require.NoError(t, h.Subscribe(ctx, "t1", drawRef(2), ch))

	h.UnsubscribeAll(ch)

	assert.Equal(t, 0, h.SubscriberCount("t1", drawRef(1)))
	assert.Equal(t, 0, h.SubscriberCount("t1", drawRef(2)))

	require.NoError(t, h.Publish(ctx, "t1", drawRef(1)))
	assert.Len(t, ch.received(), 2, "no delivery after disconnect")
}

func TestPublish_ConcurrentSameEntitySerializes(t *testing.T) {
	ctx := context.Background()
	source := newMemorySource()
	source.put("t1", drawRow(1, 1, "open"))
	h := newTestHub(source)

	ch := newFakeChannel("client-1")
	require.NoError(t, h.Subscribe(ctx, "t1", drawRef(1), ch))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(round int) {
			defer wg.Done()
			source.put("t1", drawRow(1, round, "open"))
			_ = h.Publish(ctx, "t1", drawRef(1))
		}(i + 2)
	}
	wg.Wait()

	// Serialized publishes mean every delivered message is either the one
	// full resend or a patch computed against the previous delivery.
	full := 0
	for _, msg := range ch.received()[1:] {
		if msg.Full != nil {
			full++
		} else {
			require.NotNil(t, msg.Patch)
		}
	}
	assert.Equal(t, 1, full, "exactly one full resend establishes the baseline")
}
