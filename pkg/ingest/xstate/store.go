package xstate

import (
	"context"
	"errors"
	"strings"
)

// 错误定义
var (
	// ErrNotFound 键没有保存过状态。
	ErrNotFound = errors.New("xstate: state not found")
	// ErrNilState 保存 nil 状态。
	ErrNilState = errors.New("xstate: nil state")
	// ErrEmptyKey 键为空。
	ErrEmptyKey = errors.New("xstate: empty key")
	// ErrCorrupt 存储中的数据无法解析。
	ErrCorrupt = errors.New("xstate: corrupt state")
	// ErrNilClient 客户端为 nil。
	ErrNilClient = errors.New("xstate: nil client")
	// ErrLocked 锁被其他进程持有。
	ErrLocked = errors.New("xstate: stream is locked by another process")
)

// Store 状态存储，实现必须并发安全。
type Store interface {
	// Load 读取状态，不存在时返回 ErrNotFound。
	Load(ctx context.Context, key string) (*State, error)
	// Save 覆盖写入。
	Save(ctx context.Context, key string, s *State) error
	// Delete 删除，不存在不报错。
	Delete(ctx context.Context, key string) error
}

func validateKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrEmptyKey
	}
	return key, nil
}
