package circuitbreaker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) (*RedisWrapper, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisWrapper(client, zap.NewNop()), mr
}

func TestRedisWrapperSetGet(t *testing.T) {
	rw, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, rw.Set(ctx, "k", "v", time.Minute).Err())
	val, err := rw.Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", val)
}

func TestRedisWrapperMissIsNotFailure(t *testing.T) {
	rw, _ := newTestRedis(t)
	ctx := context.Background()

	// Repeated misses must not trip the breaker
	for i := 0; i < 10; i++ {
		err := rw.Get(ctx, "absent").Err()
		assert.ErrorIs(t, err, redis.Nil)
	}
	assert.False(t, rw.IsCircuitBreakerOpen())
}

func TestRedisWrapperOpensOnServerLoss(t *testing.T) {
	rw, mr := newTestRedis(t)
	ctx := context.Background()

	mr.Close()
	for i := 0; i < 5; i++ {
		_ = rw.Ping(ctx).Err()
	}
	assert.True(t, rw.IsCircuitBreakerOpen())

	// Rejected fast while open
	err := rw.Get(ctx, "k").Err()
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}
