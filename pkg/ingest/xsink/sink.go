package xsink

import (
	"context"
	"errors"
)

// Record 一条源记录。
type Record = map[string]any

// Sink 摄取结果的写入目标。实现必须并发安全。
type Sink interface {
	// Upsert 按 pkField 幂等写入，返回新增（此前不存在）的主键数量。
	Upsert(ctx context.Context, records []Record, pkField string) (int, error)

	// MaxKey 返回 field 的最大值，没有任何记录时 ok 为 false。
	// 用于冷启动时从已落地数据推导游标。
	MaxKey(ctx context.Context, field string) (key any, ok bool, err error)

	// Count 返回已落地的不同主键数量。
	Count(ctx context.Context) (int64, error)

	// Exists 批量检查主键是否已存在。keys 为 KeyString 规范化后的主键。
	Exists(ctx context.Context, pkField string, keys []string) (map[string]bool, error)
}

// 错误定义
var (
	// ErrMissingKey 记录缺少主键字段或主键为 null。
	ErrMissingKey = errors.New("xsink: record missing primary key")

	// ErrIncomparable 两个键类型不同，无法比较。
	ErrIncomparable = errors.New("xsink: keys are not comparable")

	// ErrPrimaryKeyMismatch 同一个 Sink 上使用了不同的主键字段。
	ErrPrimaryKeyMismatch = errors.New("xsink: primary key field mismatch")

	// ErrClosed Sink 已关闭。
	ErrClosed = errors.New("xsink: sink closed")

	// ErrNilClient 传入的客户端为 nil。
	ErrNilClient = errors.New("xsink: client cannot be nil")

	// ErrInvalidTable 表名不是合法标识符。
	ErrInvalidTable = errors.New("xsink: invalid table name")

	// ErrUnsupported Sink 不支持该查询，例如消息队列无法回读已发布的记录。
	ErrUnsupported = errors.New("xsink: operation not supported")
)

// PrimaryKey 取出记录的主键并规范化。
func PrimaryKey(r Record, pkField string) (string, error) {
	v, ok := r[pkField]
	if !ok || v == nil {
		return "", ErrMissingKey
	}
	key, ok := KeyString(v)
	if !ok {
		return "", ErrMissingKey
	}
	return key, nil
}
