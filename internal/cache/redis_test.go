package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis_GetHit(t *testing.T) {
	client, mock := redismock.NewClientMock()
	r := NewRedisWithClient(client, 0)

	mock.ExpectGet("snap:t1:checkin:1").SetVal("cached")

	val, ok, err := r.Get(context.Background(), "snap:t1:checkin:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("cached"), val)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_GetMiss(t *testing.T) {
	client, mock := redismock.NewClientMock()
	r := NewRedisWithClient(client, 0)

	mock.ExpectGet("snap:t1:checkin:1").RedisNil()

	_, ok, err := r.Get(context.Background(), "snap:t1:checkin:1")
	require.NoError(t, err)
	assert.False(t, ok, "redis.Nil is an absence, not an error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_GetBackendError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	r := NewRedisWithClient(client, 0)

	mock.ExpectGet("k").SetErr(errors.New("READONLY"))

	_, ok, err := r.Get(context.Background(), "k")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestRedis_SetWithTTL(t *testing.T) {
	client, mock := redismock.NewClientMock()
	r := NewRedisWithClient(client, 0)

	mock.ExpectSet("k", []byte("v"), 30*time.Second).SetVal("OK")

	require.NoError(t, r.Set(context.Background(), "k", []byte("v"), 30*time.Second))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_Delete(t *testing.T) {
	client, mock := redismock.NewClientMock()
	r := NewRedisWithClient(client, 0)

	mock.ExpectDel("k").SetVal(1)

	require.NoError(t, r.Delete(context.Background(), "k"))
	require.NoError(t, mock.ExpectationsWereMet())
}
