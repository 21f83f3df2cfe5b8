package xretry

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	"time"

	"github.com/omeyang/xingest/pkg/ingest/xfault"
)

// 默认策略参数。
const (
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultMaxAttempts = 5
	DefaultJitter      = 0.2
)

// Policy 重试策略：退避时长与重试资格。
// 创建后只读，可被多个并发的摄取流共享。
type Policy struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	jitter      float64
	random      func() float64
}

// PolicyOption 策略配置选项。
type PolicyOption func(*Policy)

// WithBaseDelay 设置首次重试的基准延迟。d <= 0 时忽略。
func WithBaseDelay(d time.Duration) PolicyOption {
	return func(p *Policy) {
		if d > 0 {
			p.baseDelay = d
		}
	}
}

// WithMaxDelay 设置延迟上限（抖动前）。d <= 0 时忽略。
func WithMaxDelay(d time.Duration) PolicyOption {
	return func(p *Policy) {
		if d > 0 {
			p.maxDelay = d
		}
	}
}

// WithMaxAttempts 设置单页最大尝试次数（包含首次）。n < 1 时忽略。
func WithMaxAttempts(n int) PolicyOption {
	return func(p *Policy) {
		if n >= 1 {
			p.maxAttempts = n
		}
	}
}

// WithJitter 设置抖动比例，取值被限制在 [0, 1]。
func WithJitter(j float64) PolicyOption {
	return func(p *Policy) {
		p.jitter = min(max(j, 0), 1)
	}
}

// NewPolicy 创建重试策略。
func NewPolicy(opts ...PolicyOption) *Policy {
	p := &Policy{
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		maxAttempts: DefaultMaxAttempts,
		jitter:      DefaultJitter,
		random:      randomFloat64,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.maxDelay < p.baseDelay {
		p.maxDelay = p.baseDelay
	}
	return p
}

// MaxAttempts 返回单页最大尝试次数。
func (p *Policy) MaxAttempts() int { return p.maxAttempts }

// BaseDelay 返回基准延迟。
func (p *Policy) BaseDelay() time.Duration { return p.baseDelay }

// MaxDelay 返回延迟上限。
func (p *Policy) MaxDelay() time.Duration { return p.maxDelay }

// Jitter 返回抖动比例。
func (p *Policy) Jitter() float64 { return p.jitter }

// ComputeDelay 返回第 attempt 次重试前的等待时长（attempt 从 0 开始）。
//
// delay = min(base*2^attempt, maxDelay) * (1 + U(-1,1)*jitter)
func (p *Policy) ComputeDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	// attempt 极大时 Pow 溢出为 +Inf，同样落到上限
	if math.IsNaN(delay) || math.IsInf(delay, 0) || delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}

	if p.jitter > 0 {
		delay *= 1 + (p.random()*2-1)*p.jitter
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

// ShouldRetry 判断某分类的失败在已经失败 attempt 次后是否还能重试。
func (p *Policy) ShouldRetry(category xfault.Category, attempt, maxAttempts int) bool {
	if !category.Retryable() {
		return false
	}
	return attempt < maxAttempts
}

const (
	floatBits  = 53
	floatScale = 1.0 / (1 << floatBits)
)

// randomFloat64 返回 [0, 1) 的随机数；crypto/rand 失败时返回 0.5（无抖动）。
func randomFloat64() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0.5
	}
	return float64(binary.LittleEndian.Uint64(buf[:])>>11) * floatScale
}
