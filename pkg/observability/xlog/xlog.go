package xlog

import (
	"context"
	"log/slog"
)

// Logger 日志接口。所有方法强制传入 context，只接受 slog.Attr。
type Logger interface {
	Debug(ctx context.Context, msg string, attrs ...slog.Attr)
	Info(ctx context.Context, msg string, attrs ...slog.Attr)
	Warn(ctx context.Context, msg string, attrs ...slog.Attr)
	Error(ctx context.Context, msg string, attrs ...slog.Attr)

	// With 返回带额外属性的派生 Logger，与父级共享级别。
	With(attrs ...slog.Attr) Logger
}

// Leveler 动态级别控制，配置热更新时使用。
type Leveler interface {
	SetLevel(level Level)
	GetLevel() Level
	Enabled(ctx context.Context, level Level) bool
}

// LoggerWithLevel Build 的返回类型。
type LoggerWithLevel interface {
	Logger
	Leveler
}
