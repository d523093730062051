package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMiniredisWrapper(t *testing.T) *RedisWrapper {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisWrapper(client, zaptest.NewLogger(t))
}

func TestRedisWrapperCommands(t *testing.T) {
	wrapper := newMiniredisWrapper(t)
	ctx := context.Background()

	require.NoError(t, wrapper.Ping(ctx).Err())
	require.NoError(t, wrapper.Set(ctx, "session:abc", "payload", time.Minute).Err())

	got := wrapper.Get(ctx, "session:abc")
	require.NoError(t, got.Err())
	assert.Equal(t, "payload", got.Val())

	keys := wrapper.Keys(ctx, "session:*")
	require.NoError(t, keys.Err())
	assert.Equal(t, []string{"session:abc"}, keys.Val())

	deleted := wrapper.Del(ctx, "session:abc")
	require.NoError(t, deleted.Err())
	assert.Equal(t, int64(1), deleted.Val())
}

func TestRedisWrapperNilIsNotAFailure(t *testing.T) {
	wrapper := newMiniredisWrapper(t)
	ctx := context.Background()

	// A missing key must never trip the breaker, however often it happens.
	for i := 0; i < 10; i++ {
		err := wrapper.Get(ctx, "session:missing").Err()
		assert.ErrorIs(t, err, redis.Nil)
	}
	assert.False(t, wrapper.IsCircuitBreakerOpen())
}

func TestRedisWrapperBreakerTrips(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { client.Close() })

	wrapper := NewRedisWrapper(client, zaptest.NewLogger(t))
	ctx := context.Background()

	// The Redis breaker opens after three consecutive failures.
	for i := 0; i < 3; i++ {
		require.Error(t, wrapper.Ping(ctx).Err())
	}
	assert.True(t, wrapper.IsCircuitBreakerOpen())

	err := wrapper.Get(ctx, "session:any").Err()
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}
