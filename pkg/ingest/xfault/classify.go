package xfault

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
)

// Classify 将任意错误映射到唯一的 Category。
//
// 规则按顺序匹配：
//  1. nil → CategoryNone
//  2. 已分类的 FetchError → 其分类
//  3. StatusError → 5xx/429 Server，其他 4xx Client，其余 Unknown
//  4. DecodeError → Unknown
//  5. 截止时间或 Timeout() 为 true 的 net.Error → Timeout
//  6. 连接拒绝/重置/DNS/意外 EOF 等连接层错误 → Network
//  7. 其他 → Unknown
func Classify(err error) Category {
	if err == nil {
		return CategoryNone
	}

	var fe *FetchError
	if errors.As(err, &fe) && fe.Category != CategoryNone {
		return fe.Category
	}

	var se *StatusError
	if errors.As(err, &se) {
		return classifyStatus(se.StatusCode)
	}

	var de *DecodeError
	if errors.As(err, &de) {
		return CategoryUnknown
	}

	if isTimeout(err) {
		return CategoryTimeout
	}
	if isNetwork(err) {
		return CategoryNetwork
	}
	return CategoryUnknown
}

// ClassifyStatus 按 HTTP 状态码分类；2xx/3xx 返回 None。
func ClassifyStatus(code int) Category {
	if code >= 200 && code < 400 {
		return CategoryNone
	}
	return classifyStatus(code)
}

func classifyStatus(code int) Category {
	switch {
	case code == http.StatusTooManyRequests:
		// 限流是瞬时状态，请求本身没有错
		return CategoryServer
	case code >= 500 && code <= 599:
		return CategoryServer
	case code >= 400 && code <= 499:
		return CategoryClient
	default:
		return CategoryUnknown
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isNetwork(err error) bool {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
