package xstate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var _ Store = (*FileStore)(nil)

// FileStore 每个键一个 JSON 文件。
type FileStore struct {
	dir string
}

// NewFileStore 创建文件存储，目录不存在时创建。
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("xstate: empty state directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("xstate: create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir 返回目录
func (f *FileStore) Dir() string { return f.dir }

// Path 返回键对应的文件路径
func (f *FileStore) Path(key string) string {
	return filepath.Join(f.dir, sanitize(key)+".json")
}

// Load 实现 Store
func (f *FileStore) Load(ctx context.Context, key string) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := validateKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("xstate: read %s: %w", key, err)
	}
	return Unmarshal(data)
}

// Save 写临时文件后 rename，崩溃时不会留下半个文件。
func (f *FileStore) Save(ctx context.Context, key string, s *State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := validateKey(key)
	if err != nil {
		return err
	}
	data, err := Marshal(s)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("xstate: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// rename 成功后文件已不存在
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("xstate: write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("xstate: sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("xstate: close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, f.Path(key)); err != nil {
		return fmt.Errorf("xstate: rename %s: %w", key, err)
	}
	return nil
}

// Delete 实现 Store
func (f *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := validateKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(f.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("xstate: delete %s: %w", key, err)
	}
	return nil
}

// sanitize 把键转换为安全的文件名。
func sanitize(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), ".")
	if name == "" {
		return "_"
	}
	return name
}
