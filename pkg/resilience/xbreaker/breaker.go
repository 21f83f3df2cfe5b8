package xbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/omeyang/xingest/pkg/ingest/xfault"
)

// 默认参数。
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
)

// Breaker 单个端点的熔断器。
//
// 状态转换由 gobreaker 负责；Breaker 额外维护连续失败次数（熔断时不清零）
// 和最近一次失败时间，保证 Open 状态下 FailureCount >= Threshold。
//
// generation 与 gobreaker 的代同步：每次状态变化加一。Attempt 记录放行时的代，
// 结束时代已变化说明结果已被 gobreaker 丢弃，计数同样不更新。
type Breaker struct {
	name            string
	threshold       uint32
	recoveryTimeout time.Duration
	onStateChange   func(name string, from, to State)
	now             func() time.Time

	cb         *gobreaker.TwoStepCircuitBreaker[any]
	generation atomic.Uint64

	// mu 串行化放行与结算，使 generation 的读取与 gobreaker 的状态一致。
	mu           sync.Mutex
	failureCount int
	lastFailure  time.Time
}

// BreakerOption 熔断器配置选项
type BreakerOption func(*Breaker)

// WithFailureThreshold 设置触发熔断的连续失败次数。n == 0 时忽略。
//
// 默认值：5
func WithFailureThreshold(n uint32) BreakerOption {
	return func(b *Breaker) {
		if n > 0 {
			b.threshold = n
		}
	}
}

// WithRecoveryTimeout 设置 Open 状态的冷却时长。d <= 0 时忽略。
//
// 默认值：60 秒
func WithRecoveryTimeout(d time.Duration) BreakerOption {
	return func(b *Breaker) {
		if d > 0 {
			b.recoveryTimeout = d
		}
	}
}

// WithOnStateChange 设置状态变化回调。回调在 gobreaker 内部锁中同步执行，不应阻塞，
// 也不应回调本 Breaker 的方法。
func WithOnStateChange(f func(name string, from, to State)) BreakerOption {
	return func(b *Breaker) {
		b.onStateChange = f
	}
}

// WithSnapshotClock 设置 Snapshot.LastFailure 使用的时钟，主要用于测试。
// 冷却计时由 gobreaker 按真实时间进行，不受此时钟影响。
func WithSnapshotClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBreaker 创建熔断器。name 用于日志、监控与持久化标识。
func NewBreaker(name string, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:            name,
		threshold:       DefaultFailureThreshold,
		recoveryTimeout: DefaultRecoveryTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.cb = gobreaker.NewTwoStepCircuitBreaker[any](b.buildSettings())
	return b
}

// buildSettings 构建 gobreaker 配置
func (b *Breaker) buildSettings() gobreaker.Settings {
	trip := NewConsecutiveFailures(b.threshold)
	st := gobreaker.Settings{
		Name:        b.name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     b.recoveryTimeout,
		ReadyToTrip: trip.ReadyToTrip,
		IsExcluded: func(err error) bool {
			return errors.Is(err, errReleased)
		},
	}
	// 在 gobreaker 内部锁中执行，不能获取 b.mu
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		b.generation.Add(1)
		if b.onStateChange != nil {
			b.onStateChange(name, from, to)
		}
	}
	return st
}

// errReleased 标记被释放的尝试，gobreaker 不计入任何计数。
var errReleased = errors.New("xbreaker: attempt released")

// Name 返回熔断器名称
func (b *Breaker) Name() string { return b.name }

// State 返回当前状态。冷却期结束后首次读取会触发 Open -> HalfOpen。
func (b *Breaker) State() State { return b.cb.State() }

// Threshold 返回失败阈值
func (b *Breaker) Threshold() int { return int(b.threshold) }

// RecoveryTimeout 返回冷却时长
func (b *Breaker) RecoveryTimeout() time.Duration { return b.recoveryTimeout }

// Allow 申请一次尝试。
//
// 返回的 Attempt 必须以 Success、Failure 或 Release 之一结束。
// 被拒绝时返回 *xfault.CircuitOpenError，且不会计入失败。
func (b *Breaker) Allow() (*Attempt, error) {
	b.mu.Lock()
	done, err := b.cb.Allow()
	gen := b.generation.Load()
	b.mu.Unlock()
	if err != nil {
		state := StateOpen
		if errors.Is(err, gobreaker.ErrTooManyRequests) {
			state = StateHalfOpen
		}
		return nil, &xfault.CircuitOpenError{
			Endpoint: b.name,
			State:    state.String(),
			Err:      err,
		}
	}
	return &Attempt{breaker: b, done: done, generation: gen}, nil
}

// Snapshot 熔断器的只读快照。
type Snapshot struct {
	Name            string        `json:"name"`
	State           string        `json:"state"`
	FailureCount    int           `json:"failure_count"`
	LastFailure     time.Time     `json:"last_failure,omitzero"`
	Threshold       int           `json:"threshold"`
	RecoveryTimeout time.Duration `json:"recovery_timeout"`
}

// Snapshot 返回当前快照
func (b *Breaker) Snapshot() Snapshot {
	state := b.cb.State()
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:            b.name,
		State:           state.String(),
		FailureCount:    b.failureCount,
		LastFailure:     b.lastFailure,
		Threshold:       int(b.threshold),
		RecoveryTimeout: b.recoveryTimeout,
	}
}

func (b *Breaker) recordSuccess(a *Attempt) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a.generation == b.generation.Load() {
		b.failureCount = 0
	}
	a.done(nil)
}

func (b *Breaker) recordFailure(a *Attempt, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a.generation == b.generation.Load() {
		b.failureCount++
		b.lastFailure = b.now()
	}
	a.done(err)
}

// Attempt 一次被放行的尝试。三个结束方法中只有第一次调用生效。
type Attempt struct {
	breaker    *Breaker
	done       func(error)
	generation uint64
	settled    atomic.Bool
}

// Success 记录成功：Closed 清零失败计数，HalfOpen 转为 Closed。
func (a *Attempt) Success() {
	if a == nil || !a.settled.CompareAndSwap(false, true) {
		return
	}
	a.breaker.recordSuccess(a)
}

// Failure 记录失败：Closed 累计失败并可能熔断，HalfOpen 重新打开。
func (a *Attempt) Failure() {
	a.FailureWith(errAttemptFailed)
}

var errAttemptFailed = errors.New("xbreaker: attempt failed")

// FailureWith 与 Failure 相同，err 会传给 gobreaker 用于判定。
func (a *Attempt) FailureWith(err error) {
	if a == nil || !a.settled.CompareAndSwap(false, true) {
		return
	}
	if err == nil {
		err = errAttemptFailed
	}
	a.breaker.recordFailure(a, err)
}

// Release 放弃本次尝试且不影响统计，用于调用方主动取消的请求。
// 半开状态下会归还试探名额。
func (a *Attempt) Release() {
	if a == nil || !a.settled.CompareAndSwap(false, true) {
		return
	}
	a.breaker.mu.Lock()
	defer a.breaker.mu.Unlock()
	a.done(errReleased)
}

// Settle 按 err 结束尝试：nil 记成功，context.Canceled 释放，其他记失败。
func (a *Attempt) Settle(err error) {
	switch {
	case err == nil:
		a.Success()
	case errors.Is(err, context.Canceled):
		a.Release()
	default:
		a.FailureWith(err)
	}
}
