package xlog

import (
	"fmt"
	"log/slog"
	"time"
)

// 标准字段名
const (
	KeyError      = "error"
	KeyDuration   = "duration"
	KeyComponent  = "component"
	KeyEndpoint   = "endpoint"
	KeyStream     = "stream"
	KeyRunID      = "run_id"
	KeyCategory   = "category"
	KeyAttempt    = "attempt"
	KeyDelay      = "delay"
	KeyStatusCode = "status_code"
	KeyCursor     = "cursor"
	KeySkip       = "skip"
	KeyCount      = "count"
	KeyState      = "state"
)

// Err 错误属性，nil 时返回空属性（slog 会忽略）。
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Duration 耗时，人类可读格式。
func Duration(d time.Duration) slog.Attr {
	return slog.String(KeyDuration, d.String())
}

// Delay 重试前的等待时长。
func Delay(d time.Duration) slog.Attr {
	return slog.String(KeyDelay, d.String())
}

// Component 组件名
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}

// Endpoint 端点键或 URL
func Endpoint(e string) slog.Attr {
	return slog.String(KeyEndpoint, e)
}

// Category 失败分类，接受任意 fmt.Stringer（如 xfault.Category）。
func Category(c fmt.Stringer) slog.Attr {
	return slog.String(KeyCategory, c.String())
}

// Attempt 第几次尝试
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// StatusCode HTTP 状态码
func StatusCode(code int) slog.Attr {
	return slog.Int(KeyStatusCode, code)
}

// Cursor 游标值
func Cursor(v any) slog.Attr {
	return slog.Any(KeyCursor, v)
}

// Skip 偏移量
func Skip(n int64) slog.Attr {
	return slog.Int64(KeySkip, n)
}

// Count 计数
func Count(n int64) slog.Attr {
	return slog.Int64(KeyCount, n)
}

// State 状态名
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}
