package xbreaker

import (
	"github.com/sony/gobreaker/v2"
)

// 类型别名，调用方无需直接依赖 gobreaker。
type (
	// State 熔断器状态
	State = gobreaker.State

	// Counts 统计计数，用于熔断判定
	Counts = gobreaker.Counts
)

// 状态常量
const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// gobreaker 的拒绝错误，均被包装进 *xfault.CircuitOpenError。
var (
	// ErrOpenState 熔断器处于打开状态
	ErrOpenState = gobreaker.ErrOpenState

	// ErrTooManyRequests 半开状态下试探请求已被占用
	ErrTooManyRequests = gobreaker.ErrTooManyRequests
)
