package xretry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v5"

	"github.com/omeyang/xingest/pkg/ingest/xfault"
)

// RetryEvent 描述一次即将发生的重试。
type RetryEvent struct {
	// Attempt 已失败的次数（从 1 开始）。
	Attempt int
	// Category 上次失败的分类。
	Category xfault.Category
	// Delay 本次重试前的等待时长。
	Delay time.Duration
	// Err 上次失败的错误。
	Err error
}

// Retryer 按 Policy 执行带重试的操作。
// 每次 Do 调用的计数互相独立，Retryer 本身可并发使用。
type Retryer struct {
	policy   *Policy
	classify func(error) xfault.Category
	onRetry  func(ctx context.Context, ev RetryEvent)
}

// RetryerOption 执行器配置选项。
type RetryerOption func(*Retryer)

// WithClassifier 替换默认的 xfault.Classify。
func WithClassifier(fn func(error) xfault.Category) RetryerOption {
	return func(r *Retryer) {
		if fn != nil {
			r.classify = fn
		}
	}
}

// WithOnRetry 设置重试回调，在退避睡眠开始前同步调用。
func WithOnRetry(fn func(ctx context.Context, ev RetryEvent)) RetryerOption {
	return func(r *Retryer) {
		if fn != nil {
			r.onRetry = fn
		}
	}
}

// NewRetryer 创建执行器。policy 为 nil 时使用默认策略。
func NewRetryer(policy *Policy, opts ...RetryerOption) *Retryer {
	if policy == nil {
		policy = NewPolicy()
	}
	r := &Retryer{
		policy:   policy,
		classify: xfault.Classify,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Policy 返回执行器使用的策略。
func (r *Retryer) Policy() *Policy {
	return r.policy
}

// Do 执行 fn，失败时按策略重试。attempt 从 1 开始。
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	if fn == nil {
		return ErrNilFunc
	}
	_, err := DoWithResult(ctx, r, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}

// DoWithResult 执行有返回值的 fn，失败时按策略重试。
//
// 返回的错误有三种形态：
//   - ctx 被取消：错误链包含 ctx.Err()
//   - 重试耗尽：*ExhaustedError
//   - 不可重试（Client、熔断拒绝等）：最后一次的原始错误
func DoWithResult[T any](ctx context.Context, r *Retryer, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if r == nil {
		return zero, ErrNilRetryer
	}
	if ctx == nil {
		return zero, ErrNilContext
	}
	if fn == nil {
		return zero, ErrNilFunc
	}

	run := &runState{}
	maxAttempts := r.policy.MaxAttempts()

	opts := []Option{
		Context(ctx),
		UntilSucceeded(),
		LastErrorOnly(true),
		RetryIf(func(err error) bool {
			attempt, last := run.snapshot()
			if !IsRecoverable(err) || !IsRetryable(last) {
				return false
			}
			category := r.classify(last)
			if r.policy.ShouldRetry(category, attempt, maxAttempts) {
				return true
			}
			if category.Retryable() {
				run.markExhausted()
			}
			return false
		}),
		DelayType(func(n uint, _ error, _ DelayContext) time.Duration {
			// retry-go 的 n 从 1 开始，ComputeDelay 的 attempt 从 0 开始
			delay := r.policy.ComputeDelay(safeUintToInt(n) - 1)
			if r.onRetry != nil {
				attempt, last := run.snapshot()
				r.onRetry(ctx, RetryEvent{
					Attempt:  attempt,
					Category: r.classify(last),
					Delay:    delay,
					Err:      last,
				})
			}
			return delay
		}),
	}

	result, err := retry.NewWithData[T](opts...).Do(func() (T, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, Unrecoverable(ctxErr)
		}
		attempt := run.begin()
		v, err := fn(ctx, attempt)
		if err != nil {
			run.fail(err)
		}
		return v, err
	})
	if err == nil {
		return result, nil
	}

	attempts, last := run.snapshot()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if last != nil && !errors.Is(last, ctxErr) {
			return zero, fmt.Errorf("xretry: %w after %d attempts: %w", ctxErr, attempts, last)
		}
		return zero, ctxErr
	}
	if last == nil {
		last = err
	}
	if run.isExhausted() {
		return zero, &ExhaustedError{Attempts: attempts, Err: last}
	}
	return zero, last
}

// runState 一次 DoWithResult 调用的计数。
// retry-go 的回调与 fn 在同一 goroutine 顺序执行，锁只为防御 Retrier 被外部并发复用。
type runState struct {
	mu        sync.Mutex
	attempts  int
	last      error
	exhausted bool
}

func (s *runState) begin() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	return s.attempts
}

func (s *runState) fail(err error) {
	s.mu.Lock()
	s.last = err
	s.mu.Unlock()
}

func (s *runState) markExhausted() {
	s.mu.Lock()
	s.exhausted = true
	s.mu.Unlock()
}

func (s *runState) isExhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exhausted
}

func (s *runState) snapshot() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts, s.last
}

// safeUintToInt 将 retry-go 的 uint 计数转换为 int，超出范围时截断。
func safeUintToInt(n uint) int {
	if n > uint(math.MaxInt) {
		return math.MaxInt
	}
	return int(n)
}
