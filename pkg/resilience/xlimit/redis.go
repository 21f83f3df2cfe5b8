package xlimit

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/omeyang/xingest/pkg/observability/xlog"
)

var _ Limiter = (*Redis)(nil)

// RedisOption Redis 限流器配置项。
type RedisOption func(*Redis)

// WithFallback Redis 出错时改用 fallback 判定。
func WithFallback(fallback Limiter) RedisOption {
	return func(r *Redis) {
		r.fallback = fallback
	}
}

// WithLogger 设置降级日志
func WithLogger(logger xlog.Logger) RedisOption {
	return func(r *Redis) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Redis 分布式限流器，同一 key 的所有进程共享预算。
type Redis struct {
	limiter  *redis_rate.Limiter
	key      string
	limit    redis_rate.Limit
	fallback Limiter
	logger   xlog.Logger
}

// NewRedis 创建分布式限流器。不关闭注入的客户端。
func NewRedis(rdb redis.UniversalClient, key string, rule Rule, opts ...RedisOption) (*Redis, error) {
	if rdb == nil {
		return nil, ErrNilClient
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrEmptyKey
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	r := &Redis{
		limiter: redis_rate.NewLimiter(rdb),
		key:     key,
		limit:   redis_rate.Limit{Rate: rule.Rate, Burst: rule.burst(), Period: rule.Period},
		logger:  xlog.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Key 返回限流键
func (r *Redis) Key() string { return r.key }

// Allow 取一个配额；Redis 出错且配置了 fallback 时由 fallback 判定。
func (r *Redis) Allow(ctx context.Context) (Result, error) {
	res, err := r.limiter.AllowN(ctx, r.key, r.limit, 1)
	if err != nil {
		if r.fallback == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, err
		}
		r.logger.Warn(ctx, "rate limiter falling back to local budget",
			xlog.Component("xlimit"), slog.String("key", r.key), xlog.Err(err))
		return r.fallback.Allow(ctx)
	}
	return Result{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// Wait 阻塞直到获得配额
func (r *Redis) Wait(ctx context.Context) error {
	return wait(ctx, r.Allow)
}

// Reset 清除该键的计数
func (r *Redis) Reset(ctx context.Context) error {
	return r.limiter.Reset(ctx, r.key)
}
