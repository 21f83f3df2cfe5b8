package xlog

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNilHandler NewEnrichHandler 的 base 为 nil。
var ErrNilHandler = errors.New("xlog: base handler is nil")

type streamKey struct{}

type streamInfo struct {
	stream string
	runID  string
}

// WithStream 在 context 中记录当前摄取流与运行 ID。
func WithStream(ctx context.Context, stream, runID string) context.Context {
	return context.WithValue(ctx, streamKey{}, streamInfo{stream: stream, runID: runID})
}

// StreamFromContext 取出 WithStream 写入的信息。
func StreamFromContext(ctx context.Context) (stream, runID string, ok bool) {
	if ctx == nil {
		return "", "", false
	}
	info, ok := ctx.Value(streamKey{}).(streamInfo)
	return info.stream, info.runID, ok
}

// EnrichHandler 在输出前注入 context 中的 stream 与 run_id。
type EnrichHandler struct {
	base slog.Handler
}

// NewEnrichHandler 包装 base。
func NewEnrichHandler(base slog.Handler) (*EnrichHandler, error) {
	if base == nil {
		return nil, ErrNilHandler
	}
	return &EnrichHandler{base: base}, nil
}

// Enabled 委托给底层 handler
func (h *EnrichHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle 按 slog 约定先 Clone 再追加属性。
func (h *EnrichHandler) Handle(ctx context.Context, r slog.Record) error {
	if stream, runID, ok := StreamFromContext(ctx); ok {
		r = r.Clone()
		if stream != "" {
			r.AddAttrs(slog.String(KeyStream, stream))
		}
		if runID != "" {
			r.AddAttrs(slog.String(KeyRunID, runID))
		}
	}
	return h.base.Handle(ctx, r)
}

// WithAttrs 实现 slog.Handler
func (h *EnrichHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &EnrichHandler{base: h.base.WithAttrs(attrs)}
}

// WithGroup 实现 slog.Handler
func (h *EnrichHandler) WithGroup(name string) slog.Handler {
	return &EnrichHandler{base: h.base.WithGroup(name)}
}
