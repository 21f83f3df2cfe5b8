package xmetrics

import (
	"context"
	"strconv"
)

// Kind 观测跨度类型。
type Kind int

const (
	// KindInternal 内部操作，如一次完整的摄取运行。
	KindInternal Kind = iota
	// KindClient 对外调用，如 OData 请求、写入存储。
	KindClient
)

// String 返回可读名称
func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "Internal"
	case KindClient:
		return "Client"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Status 观测结果状态。
type Status string

const (
	// StatusOK 成功
	StatusOK Status = "ok"
	// StatusError 失败
	StatusError Status = "error"
	// StatusRejected 熔断拒绝，请求未发出。
	StatusRejected Status = "rejected"
)

// Attr 观测属性。
type Attr struct {
	Key   string
	Value any
}

// SpanOptions 创建跨度的参数。
type SpanOptions struct {
	Component string
	Operation string
	Kind      Kind
	Attrs     []Attr
}

// Result 跨度结束时的结果。
type Result struct {
	// Status 为空时根据 Err 推导。
	Status Status
	Err    error
	// Records 本次操作处理的记录数，累加到 xingest.records.total。
	Records int64
	Attrs   []Attr
}

// Span 一次观测跨度。
type Span interface {
	End(result Result)
}

// Observer 统一观测接口。
type Observer interface {
	Start(ctx context.Context, opts SpanOptions) (context.Context, Span)
}

// NoopObserver 空实现。
type NoopObserver struct{}

// Start 返回 ctx 和空跨度。
func (NoopObserver) Start(ctx context.Context, _ SpanOptions) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, NoopSpan{}
}

// NoopSpan 空跨度。
type NoopSpan struct{}

// End 空实现
func (NoopSpan) End(Result) {}

// Start 使用 observer 开始观测，保证返回非 nil 的 ctx 与 Span。
// observer 为 nil 或返回 nil Span 时使用 NoopSpan。
func Start(ctx context.Context, observer Observer, opts SpanOptions) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if observer == nil {
		return ctx, NoopSpan{}
	}
	retCtx, span := observer.Start(ctx, opts)
	if retCtx == nil {
		retCtx = ctx
	}
	if span == nil {
		span = NoopSpan{}
	}
	return retCtx, span
}
