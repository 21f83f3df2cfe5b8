package xstate

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLocker(t *testing.T) {
	mr, client := setupRedis(t)
	locker, err := NewRedisLocker([]redis.UniversalClient{client}, WithLockExpiry(time.Minute), WithLockPrefix("lock:"))
	require.NoError(t, err)
	ctx := context.Background()

	unlock, err := locker.Acquire(ctx, "api.example.com/odata/orders")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:api.example.com/odata/orders"))

	// 另一个进程
	other, err := NewRedisLocker([]redis.UniversalClient{client}, WithLockPrefix("lock:"))
	require.NoError(t, err)
	_, err = other.Acquire(ctx, "api.example.com/odata/orders")
	require.ErrorIs(t, err, ErrLocked)

	unlockCustomers, err := other.Acquire(ctx, "api.example.com/odata/customers")
	require.NoError(t, err)
	require.NoError(t, unlockCustomers(ctx))

	require.NoError(t, unlock(ctx))
	assert.Error(t, unlock(ctx))

	unlock2, err := other.Acquire(ctx, "api.example.com/odata/orders")
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_Expiry(t *testing.T) {
	mr, client := setupRedis(t)
	locker, err := NewRedisLocker([]redis.UniversalClient{client}, WithLockExpiry(time.Hour))
	require.NoError(t, err)
	ctx := context.Background()

	// 持有者停止续期（续期间隔远大于测试时长），TTL 到期后锁被释放
	stale, err := locker.Acquire(ctx, "orders")
	require.NoError(t, err)
	mr.FastForward(2 * time.Hour)

	unlock, err := locker.Acquire(ctx, "orders")
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
	assert.Error(t, stale(ctx))
}

func TestRedisLocker_KeepAlive(t *testing.T) {
	mr, client := setupRedis(t)
	const expiry = 300 * time.Millisecond
	holder, err := NewRedisLocker([]redis.UniversalClient{client}, WithLockExpiry(expiry))
	require.NoError(t, err)
	other, err := NewRedisLocker([]redis.UniversalClient{client}, WithLockExpiry(expiry))
	require.NoError(t, err)
	ctx := context.Background()

	unlock, err := holder.Acquire(ctx, "orders")
	require.NoError(t, err)

	// 累计推进的时间超过 TTL，每轮之间至少续期一次
	for range 4 {
		time.Sleep(expiry * 2 / 3)
		mr.FastForward(expiry * 2 / 3)
	}
	assert.True(t, mr.Exists("xingest:lock:orders"))

	_, err = other.Acquire(ctx, "orders")
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("xingest:lock:orders"))

	unlock2, err := other.Acquire(ctx, "orders")
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_UnlockStopsKeepAlive(t *testing.T) {
	mr, client := setupRedis(t)
	const expiry = 150 * time.Millisecond
	locker, err := NewRedisLocker([]redis.UniversalClient{client}, WithLockExpiry(expiry))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())

	unlock, err := locker.Acquire(ctx, "orders")
	require.NoError(t, err)
	// 调用方上下文取消不影响续期，锁仍由 unlock 释放
	cancel()
	time.Sleep(expiry)
	mr.FastForward(expiry * 2 / 3)
	assert.True(t, mr.Exists("xingest:lock:orders"))

	require.NoError(t, unlock(context.Background()))
	assert.Error(t, unlock(context.Background()))
	assert.False(t, mr.Exists("xingest:lock:orders"))
}

func TestNewRedisLocker_Errors(t *testing.T) {
	_, err := NewRedisLocker(nil)
	assert.ErrorIs(t, err, ErrNilClient)
	_, err = NewRedisLocker([]redis.UniversalClient{nil})
	assert.ErrorIs(t, err, ErrNilClient)

	_, client := setupRedis(t)
	locker, err := NewRedisLocker([]redis.UniversalClient{client})
	require.NoError(t, err)
	_, err = locker.Acquire(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyKey)
}
