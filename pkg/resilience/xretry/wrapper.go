package xretry

import (
	retry "github.com/avast/retry-go/v5"
)

// 以下别名镜像 retry-go 中 Retryer 用到的部分，调用方无需直接依赖第三方包。
type (
	// Option retry-go 配置选项。
	Option = retry.Option

	// DelayContext 延迟计算所需的配置值。
	DelayContext = retry.DelayContext
)

var (
	// Context 设置上下文，退避睡眠会在 ctx 取消时立即返回。
	Context = retry.Context

	// UntilSucceeded 不设尝试次数上限，由 RetryIf 决定何时停止。
	UntilSucceeded = retry.UntilSucceeded

	// RetryIf 设置重试条件。
	RetryIf = retry.RetryIf

	// DelayType 设置延迟计算函数。
	DelayType = retry.DelayType

	// LastErrorOnly 只返回最后一个错误。
	LastErrorOnly = retry.LastErrorOnly

	// Unrecoverable 标记错误为不可恢复。
	Unrecoverable = retry.Unrecoverable

	// IsRecoverable 检查错误是否可恢复。
	IsRecoverable = retry.IsRecoverable
)
