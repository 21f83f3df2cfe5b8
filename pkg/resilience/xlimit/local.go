package xlimit

import (
	"context"
	"sync"
	"time"
)

var _ Limiter = (*Local)(nil)

// Local 进程内令牌桶。
type Local struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	rate       float64 // 每秒补充的令牌数
	lastUpdate time.Time
	now        func() time.Time
}

// NewLocal 创建令牌桶，初始为满。
func NewLocal(rule Rule) (*Local, error) {
	return newLocal(rule, time.Now)
}

func newLocal(rule Rule, now func() time.Time) (*Local, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	capacity := float64(rule.burst())
	return &Local{
		tokens:     capacity,
		capacity:   capacity,
		rate:       float64(rule.Rate) / rule.Period.Seconds(),
		lastUpdate: now(),
		now:        now,
	}, nil
}

// Allow 取一个令牌
func (l *Local) Allow(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if elapsed := now.Sub(l.lastUpdate); elapsed > 0 {
		l.tokens = min(l.capacity, l.tokens+l.rate*elapsed.Seconds())
	}
	l.lastUpdate = now

	if l.tokens >= 1 {
		l.tokens--
		return Result{Allowed: true, Remaining: int(l.tokens)}, nil
	}
	deficit := 1 - l.tokens
	return Result{RetryAfter: time.Duration(deficit / l.rate * float64(time.Second))}, nil
}

// Wait 阻塞直到取得令牌
func (l *Local) Wait(ctx context.Context) error {
	return wait(ctx, l.Allow)
}
