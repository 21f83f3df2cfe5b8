package xlimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// 预定义错误
var (
	// ErrInvalidRule 限流规则无效
	ErrInvalidRule = errors.New("xlimit: invalid rule")
	// ErrNilClient Redis 客户端为 nil
	ErrNilClient = errors.New("xlimit: redis client is nil")
	// ErrEmptyKey 限流键为空
	ErrEmptyKey = errors.New("xlimit: empty key")
)

// minWait 被拒绝但后端未给出等待时长时的最小等待。
const minWait = 10 * time.Millisecond

// Rule 限流规则：每 Period 允许 Rate 次请求，突发容量 Burst（零值取 Rate）。
type Rule struct {
	Rate   int           `koanf:"rate"`
	Burst  int           `koanf:"burst"`
	Period time.Duration `koanf:"period"`
}

// PerSecond 每秒 n 次的规则。
func PerSecond(n int) Rule {
	return Rule{Rate: n, Burst: n, Period: time.Second}
}

// PerMinute 每分钟 n 次的规则。
func PerMinute(n int) Rule {
	return Rule{Rate: n, Burst: n, Period: time.Minute}
}

// Validate 检查规则。
func (r Rule) Validate() error {
	if r.Rate <= 0 || r.Period <= 0 || r.Burst < 0 {
		return fmt.Errorf("%w: rate=%d burst=%d period=%s", ErrInvalidRule, r.Rate, r.Burst, r.Period)
	}
	return nil
}

func (r Rule) burst() int {
	if r.Burst > 0 {
		return r.Burst
	}
	return r.Rate
}

// Result 一次 Allow 的结果。
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter 限流器，实现必须并发安全。
type Limiter interface {
	// Allow 尝试获取一个配额，不阻塞。
	Allow(ctx context.Context) (Result, error)
	// Wait 阻塞直到获得配额或 ctx 结束。
	Wait(ctx context.Context) error
}

// wait 循环调用 allow，按 RetryAfter 休眠，ctx 结束时返回其错误。
func wait(ctx context.Context, allow func(context.Context) (Result, error)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := allow(ctx)
		if err != nil {
			return err
		}
		if res.Allowed {
			return nil
		}
		d := max(res.RetryAfter, minWait)
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
