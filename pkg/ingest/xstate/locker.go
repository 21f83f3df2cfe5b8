package xstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	rsredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Locker 端点级互斥，unlock 必须调用。
type Locker interface {
	// Acquire 非阻塞获取锁，被占用时返回 ErrLocked。
	Acquire(ctx context.Context, key string) (unlock func(context.Context) error, err error)
}

// DefaultLockExpiry 锁的默认 TTL。持有期间每隔 TTL/3 续期一次，
// 持有者崩溃后锁在 TTL 后自动释放。
const DefaultLockExpiry = 10 * time.Minute

// LockerOption RedisLocker 配置项。
type LockerOption func(*RedisLocker)

// WithLockExpiry 设置锁 TTL
func WithLockExpiry(d time.Duration) LockerOption {
	return func(l *RedisLocker) {
		if d > 0 {
			l.expiry = d
		}
	}
}

// WithLockPrefix 设置锁键前缀
func WithLockPrefix(prefix string) LockerOption {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

var _ Locker = (*RedisLocker)(nil)

// RedisLocker 基于 redsync 的分布式锁，多个客户端时使用 Redlock。
type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	prefix string
}

// NewRedisLocker 创建锁。不关闭注入的客户端。
func NewRedisLocker(clients []redis.UniversalClient, opts ...LockerOption) (*RedisLocker, error) {
	if len(clients) == 0 {
		return nil, ErrNilClient
	}
	pools := make([]rsredis.Pool, 0, len(clients))
	for _, c := range clients {
		if c == nil {
			return nil, ErrNilClient
		}
		pools = append(pools, goredis.NewPool(c))
	}
	l := &RedisLocker{
		rs:     redsync.New(pools...),
		expiry: DefaultLockExpiry,
		prefix: "xingest:lock:",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Acquire 实现 Locker
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	key, err := validateKey(key)
	if err != nil {
		return nil, err
	}
	mutex := l.rs.NewMutex(l.prefix+key, redsync.WithExpiry(l.expiry), redsync.WithTries(1))
	if err := mutex.TryLockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, key)
		}
		return nil, fmt.Errorf("xstate: lock %s: %w", key, err)
	}

	stop := l.keepAlive(ctx, mutex)
	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(stop)
		ok, err := mutex.UnlockContext(ctx)
		if err != nil {
			return fmt.Errorf("xstate: unlock %s: %w", key, err)
		}
		if !ok {
			return fmt.Errorf("xstate: unlock %s: lock expired", key)
		}
		return nil
	}, nil
}

// keepAlive 在后台按 expiry/3 的间隔续期，直到返回的 stop 被调用。
// 续期失败不终止循环，锁若已被他人占有，unlock 时报告过期。
func (l *RedisLocker) keepAlive(ctx context.Context, mutex *redsync.Mutex) (stop func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	interval := max(l.expiry/3, time.Millisecond)
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = mutex.ExtendContext(ctx)
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
