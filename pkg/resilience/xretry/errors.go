package xretry

import (
	"errors"
	"fmt"
)

// 参数校验错误。
var (
	// ErrNilContext 传入的 context 为 nil。
	ErrNilContext = errors.New("xretry: context cannot be nil")

	// ErrNilFunc 传入的操作函数为 nil。
	ErrNilFunc = errors.New("xretry: function cannot be nil")

	// ErrNilRetryer 传入的 Retryer 为 nil。
	ErrNilRetryer = errors.New("xretry: retryer cannot be nil")

	// ErrExhausted 重试次数耗尽。
	ErrExhausted = errors.New("xretry: retries exhausted")
)

// RetryableError 可自行声明是否可重试的错误。
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable 检查错误是否可重试。
//   - nil：不需要重试
//   - 错误链上实现了 RetryableError：以其 Retryable() 为准
//   - 其他：默认可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re RetryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return true
}

// ExhaustedError 在最大尝试次数内始终失败。
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("xretry: retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Is 让 errors.Is(err, ErrExhausted) 成立。
func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Retryable 耗尽后不再重试。
func (e *ExhaustedError) Retryable() bool { return false }
