package xpage

import (
	"errors"
	"fmt"

	"github.com/omeyang/xingest/pkg/ingest/xsink"
)

// 默认参数。
const (
	DefaultPageSize        = 1000
	DefaultEmptyBatchLimit = 3
)

// 错误定义
var (
	// ErrInvalidMode 不支持的分页模式。
	ErrInvalidMode = errors.New("xpage: invalid pagination mode")

	// ErrMissingCursorField 游标模式未配置游标字段。
	ErrMissingCursorField = errors.New("xpage: cursor field is required")

	// ErrMissingCursor 页中记录缺少游标字段，无法推进。
	ErrMissingCursor = errors.New("xpage: record missing cursor field")

	// ErrNoProgress 非空页没有任何记录大于当前游标（服务端忽略了过滤条件）。
	// 继续请求会原地打转。
	ErrNoProgress = errors.New("xpage: page did not advance cursor")

	// ErrUnsupportedCursor 游标值无法格式化为 OData 字面量。
	ErrUnsupportedCursor = errors.New("xpage: unsupported cursor value")

	// ErrTerminated 策略已结束。
	ErrTerminated = errors.New("xpage: strategy already terminated")
)

// Strategy 分页策略。一个策略只属于一个摄取流，不需要并发安全。
type Strategy interface {
	// Next 返回下一次请求的参数，不改变状态。
	Next() Request
	// Advance 用一个成功获取的页推进状态。返回错误时状态不变。
	Advance(records []xsink.Record) error
	// Terminated 是否已判定数据取完。
	Terminated() bool
	// Checkpoint 返回可持久化的进度。
	Checkpoint() Checkpoint
}

// Checkpoint 分页进度快照。
type Checkpoint struct {
	Mode         Mode  `json:"mode"`
	Cursor       any   `json:"cursor,omitempty"`
	HasCursor    bool  `json:"has_cursor,omitempty"`
	Skip         int64 `json:"skip,omitempty"`
	EmptyBatches int   `json:"empty_batches,omitempty"`
	Terminated   bool  `json:"terminated,omitempty"`
}

// Config 分页配置。
type Config struct {
	Mode            Mode
	CursorField     string
	PageSize        int
	EmptyBatchLimit int
	Filter          string
	OrderBy         string
	Select          []string
	Count           bool
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.EmptyBatchLimit <= 0 {
		c.EmptyBatchLimit = DefaultEmptyBatchLimit
	}
	return c
}

// New 按配置创建策略，cp 非 nil 时从其恢复进度。
func New(cfg Config, cp *Checkpoint) (Strategy, error) {
	switch cfg.Mode {
	case ModeCursor:
		return NewCursorStrategy(cfg, cp)
	case ModeOffset:
		return NewOffsetStrategy(cfg, cp)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, cfg.Mode)
	}
}
