package xfault

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// maxBodySnippet StatusError 中保留的响应体片段上限（字节）。
const maxBodySnippet = 512

// StatusError 表示非 2xx 的 HTTP 响应。
type StatusError struct {
	StatusCode int
	Status     string
	// Body 响应体开头的一段，用于诊断错误的过滤语法等问题。
	Body string
}

// NewStatusError 创建 StatusError，body 会被截断到固定长度。
func NewStatusError(code int, status string, body []byte) *StatusError {
	if len(body) > maxBodySnippet {
		body = body[:maxBodySnippet]
	}
	return &StatusError{StatusCode: code, Status: status, Body: string(body)}
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return "xfault: unexpected status " + e.Status
	}
	return "xfault: unexpected status " + strconv.Itoa(e.StatusCode)
}

// Retryable 4xx（429 除外）不可重试。
func (e *StatusError) Retryable() bool {
	return classifyStatus(e.StatusCode).Retryable()
}

// DecodeError 表示响应体为空、不是 JSON 对象或缺少记录数组。
// 与合法的空页（value 为空数组）严格区分。
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xfault: decode payload: %s: %v", e.Reason, e.Err)
	}
	return "xfault: decode payload: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Retryable 解码错误按 Unknown 处理，允许有限次数的重试。
func (e *DecodeError) Retryable() bool { return true }

// CircuitOpenError 熔断器拒绝了本次尝试。
//
// 这不是一次新的依赖故障，只是冷却期内的拒绝，因此不计入失败次数，
// 也不应在同一页内重试。
type CircuitOpenError struct {
	Endpoint string
	// State 拒绝时熔断器所处状态（"open" 或 "half-open"）。
	State string
	Err   error
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("xfault: circuit %s for %s", e.State, e.Endpoint)
}

func (e *CircuitOpenError) Unwrap() error { return e.Err }

// Retryable 熔断拒绝不可在当前页内重试。
func (e *CircuitOpenError) Retryable() bool { return false }

// FetchError 一次页面抓取失败。
//
// 携带分类和完整的请求参数，Client 错误会原样交给调用方，便于定位错误的过滤条件。
type FetchError struct {
	Category   Category
	Endpoint   string
	URL        string
	Params     url.Values
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	target := e.URL
	if target == "" {
		target = e.Endpoint
	}
	return fmt.Sprintf("xfault: fetch %s (%s): %v", target, e.Category, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable 熔断拒绝优先；其余按分类判断。
func (e *FetchError) Retryable() bool {
	if IsCircuitOpen(e.Err) {
		return false
	}
	return e.Category.Retryable()
}

// IncompleteDatasetWarning 运行结束时抓取总数与期望总数不符。
//
// 数据源的总数并不可靠，所以这只是警告，不会让运行失败。
type IncompleteDatasetWarning struct {
	Endpoint string
	Expected int64
	Fetched  int64
}

func (w *IncompleteDatasetWarning) Error() string {
	return fmt.Sprintf("xfault: incomplete dataset for %s: expected %d records, fetched %d",
		w.Endpoint, w.Expected, w.Fetched)
}

// Retryable 警告不涉及重试。
func (w *IncompleteDatasetWarning) Retryable() bool { return false }

// IsCircuitOpen 检查错误链中是否有 CircuitOpenError。
func IsCircuitOpen(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}

// IsClient 检查错误是否属于不可重试的客户端错误。
func IsClient(err error) bool {
	return Classify(err) == CategoryClient
}

// IsIncomplete 检查错误是否是 IncompleteDatasetWarning。
func IsIncomplete(err error) bool {
	var w *IncompleteDatasetWarning
	return errors.As(err, &w)
}
