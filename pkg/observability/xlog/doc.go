// Package xlog 基于 log/slog 的结构化日志，供摄取核心与命令行共用。
//
// # 创建 Logger
//
// Builder 模式，遇到第一个配置错误后后续 Set 被跳过，Build 时返回该错误：
//
//	logger, cleanup, err := xlog.New().
//	    SetLevelString("debug").
//	    SetFormat("json").
//	    SetRotation("/var/log/xingest/ingest.log", xlog.RotationOptions{MaxSizeMB: 100}).
//	    Build()
//	defer cleanup()
//
// 日志轮转基于 lumberjack。
//
// # 摄取上下文
//
// [WithStream] 把流名称与运行 ID 写入 context，EnrichHandler 在输出时自动注入
// stream、run_id 字段，同一次运行的日志可以直接按 run_id 聚合。
//
// # 全局 Logger
//
// [Default] 惰性创建（stderr、Info、text），[SetDefault] 替换。
// 库代码应通过选项注入 Logger，全局函数只用于命令行等简单场景。
package xlog
