package xstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisOption RedisStore 配置项。
type RedisOption func(*RedisStore)

// WithRedisPrefix 设置键前缀
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithTTL 设置过期时间，0 表示不过期。
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// RedisStore 以 JSON 字符串保存状态。
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore 创建 Redis 存储，默认前缀 "xingest:state:"。不关闭注入的客户端。
func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if rdb == nil {
		return nil, ErrNilClient
	}
	s := &RedisStore{rdb: rdb, prefix: "xingest:state:"}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load 实现 Store
func (s *RedisStore) Load(ctx context.Context, key string) (*State, error) {
	key, err := validateKey(key)
	if err != nil {
		return nil, err
	}
	data, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("xstate: redis get %s: %w", key, err)
	}
	return Unmarshal(data)
}

// Save 实现 Store
func (s *RedisStore) Save(ctx context.Context, key string, st *State) error {
	key, err := validateKey(key)
	if err != nil {
		return err
	}
	data, err := Marshal(st)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.prefix+key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("xstate: redis set %s: %w", key, err)
	}
	return nil
}

// Delete 实现 Store
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	key, err := validateKey(key)
	if err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("xstate: redis del %s: %w", key, err)
	}
	return nil
}
