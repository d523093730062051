package circuitbreaker

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisWrapper guards the session store's Redis client. Commands keep the
// go-redis cmd return types so call sites read the same as unwrapped code;
// when the breaker rejects a command the cmd carries ErrCircuitBreakerOpen.
type RedisWrapper struct {
	client *redis.Client
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewRedisWrapper wraps a connected client.
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	cb := NewCircuitBreaker("redis", GetRedisConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("redis", "session-manager", cb)
	return &RedisWrapper{client: client, cb: cb, logger: logger}
}

// run executes a command through the breaker. cmdErr reports the command's
// own error; redis.Nil is a miss, not a failure, and must not trip the
// breaker.
func (rw *RedisWrapper) run(ctx context.Context, cmdErr func() error) error {
	err := rw.cb.Execute(ctx, func() error {
		if e := cmdErr(); e != nil && e != redis.Nil {
			return e
		}
		return nil
	})
	GlobalMetricsCollector.RecordRequest("redis", "session-manager", rw.cb.State(), err == nil)
	return err
}

// Ping checks connectivity through the breaker.
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var cmd *redis.StatusCmd
	if err := rw.run(ctx, func() error {
		cmd = rw.client.Ping(ctx)
		return cmd.Err()
	}); err != nil && cmd == nil {
		cmd = redis.NewStatusCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// Get reads a key through the breaker.
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var cmd *redis.StringCmd
	if err := rw.run(ctx, func() error {
		cmd = rw.client.Get(ctx, key)
		return cmd.Err()
	}); err != nil && cmd == nil {
		cmd = redis.NewStringCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// Set writes a key through the breaker.
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	var cmd *redis.StatusCmd
	if err := rw.run(ctx, func() error {
		cmd = rw.client.Set(ctx, key, value, expiration)
		return cmd.Err()
	}); err != nil && cmd == nil {
		cmd = redis.NewStatusCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// Del deletes keys through the breaker.
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var cmd *redis.IntCmd
	if err := rw.run(ctx, func() error {
		cmd = rw.client.Del(ctx, keys...)
		return cmd.Err()
	}); err != nil && cmd == nil {
		cmd = redis.NewIntCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// Keys scans for keys matching pattern through the breaker.
func (rw *RedisWrapper) Keys(ctx context.Context, pattern string) *redis.StringSliceCmd {
	var cmd *redis.StringSliceCmd
	if err := rw.run(ctx, func() error {
		cmd = rw.client.Keys(ctx, pattern)
		return cmd.Err()
	}); err != nil && cmd == nil {
		cmd = redis.NewStringSliceCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// Close closes the underlying client.
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// GetClient returns the raw client for commands the wrapper does not cover.
func (rw *RedisWrapper) GetClient() *redis.Client {
	return rw.client
}

// IsCircuitBreakerOpen reports whether commands are currently being rejected.
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
