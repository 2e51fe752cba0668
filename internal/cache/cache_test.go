package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// faultyStore fails every operation, simulating a remote backend outage.
type faultyStore struct {
	gets, sets, deletes int
}

func (f *faultyStore) Get(context.Context, string) ([]byte, bool, error) {
	f.gets++
	return nil, false, errors.New("connection refused")
}

func (f *faultyStore) Set(context.Context, string, []byte, time.Duration) error {
	f.sets++
	return errors.New("connection refused")
}

func (f *faultyStore) Delete(context.Context, string) error {
	f.deletes++
	return errors.New("connection refused")
}

func TestCache_LocalOnly(t *testing.T) {
	ctx := context.Background()
	c := New(nil, NewMemory())

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	c.Set(ctx, "k", []byte("v"), time.Minute)
	val, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), val)

	c.Delete(ctx, "k")
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCache_RemoteFailureDegradesToLocal(t *testing.T) {
	ctx := context.Background()
	remote := &faultyStore{}
	c := New(remote, NewMemory())

	// Set reaches the broken remote but still lands in the local store.
	c.Set(ctx, "k", []byte("v"), time.Minute)
	assert.Equal(t, 1, remote.sets)

	val, ok := c.Get(ctx, "k")
	require.True(t, ok, "value must survive a remote outage")
	assert.Equal(t, []byte("v"), val)
	assert.Equal(t, 1, remote.gets)
}

func TestCache_RemoteMissChecksLocal(t *testing.T) {
	ctx := context.Background()
	local := NewMemory()
	require.NoError(t, local.Set(ctx, "k", []byte("stale"), time.Minute))

	// Remote reports an authoritative miss; the local copy still answers.
	c := New(NewMemory(), local)
	val, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("stale"), val)
}

func TestCache_WrapCachesProducerResult(t *testing.T) {
	ctx := context.Background()
	c := New(nil, NewMemory())

	calls := 0
	producer := func(context.Context) ([]byte, error) {
		calls++
		return []byte("computed"), nil
	}

	val, err := c.Wrap(ctx, "k", time.Minute, producer)
	require.NoError(t, err)
	assert.Equal(t, []byte("computed"), val)

	val, err = c.Wrap(ctx, "k", time.Minute, producer)
	require.NoError(t, err)
	assert.Equal(t, []byte("computed"), val)
	assert.Equal(t, 1, calls, "second call must be served from cache")
}

func TestCache_WrapProducerErrorNotCached(t *testing.T) {
	ctx := context.Background()
	c := New(nil, NewMemory())

	wantErr := errors.New("backend down")
	_, err := c.Wrap(ctx, "k", time.Minute, func(context.Context) ([]byte, error) {
		return nil, wantErr
	})
	require.ErrorIs(t, err, wantErr)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}
