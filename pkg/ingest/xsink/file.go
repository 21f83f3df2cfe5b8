package xsink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// maxLineBytes 单条记录 JSON 的最大长度。
const maxLineBytes = 16 << 20

// FileSink 以 JSON Lines 追加写入的 Sink。
//
// 打开时扫描已有文件重建主键索引；同一主键的重复写入追加新行，读取时以最后一行为准。
type FileSink struct {
	path    string
	pkField string

	mu     sync.Mutex
	file   *os.File
	index  map[string]struct{}
	closed bool
}

// OpenFileSink 打开（必要时创建）path 处的 JSON Lines 文件。
func OpenFileSink(path, pkField string) (*FileSink, error) {
	if pkField == "" {
		return nil, ErrMissingKey
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("xsink: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("xsink: open %s: %w", path, err)
	}
	s := &FileSink{
		path:    path,
		pkField: pkField,
		file:    f,
		index:   make(map[string]struct{}),
	}
	end, err := s.scan(func(r Record) error {
		k, err := PrimaryKey(r, pkField)
		if err != nil {
			return err
		}
		s.index[k] = struct{}{}
		return nil
	})
	if err == nil {
		err = s.dropTornTail(end)
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// dropTornTail 截掉 end 之后没有换行符结尾的残行，后续追加从完整行边界开始。
func (s *FileSink) dropTornTail(end int64) error {
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("xsink: stat %s: %w", s.path, err)
	}
	if info.Size() <= end {
		return nil
	}
	if err := s.file.Truncate(end); err != nil {
		return fmt.Errorf("xsink: truncate %s: %w", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("xsink: sync %s: %w", s.path, err)
	}
	return nil
}

// Path 返回文件路径
func (s *FileSink) Path() string { return s.path }

// Upsert 实现 Sink。整批编码后一次写入并 fsync。
func (s *FileSink) Upsert(ctx context.Context, records []Record, pkField string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if pkField != s.pkField {
		return 0, ErrPrimaryKeyMismatch
	}

	var buf bytes.Buffer
	keys := make([]string, len(records))
	for i, r := range records {
		k, err := PrimaryKey(r, pkField)
		if err != nil {
			return 0, err
		}
		keys[i] = k
		line, err := json.Marshal(r)
		if err != nil {
			return 0, fmt.Errorf("xsink: encode record %s: %w", k, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if _, err := s.file.Write(buf.Bytes()); err != nil {
		return 0, fmt.Errorf("xsink: write %s: %w", s.path, err)
	}
	if err := s.file.Sync(); err != nil {
		return 0, fmt.Errorf("xsink: sync %s: %w", s.path, err)
	}

	inserted := 0
	for _, k := range keys {
		if _, ok := s.index[k]; !ok {
			s.index[k] = struct{}{}
			inserted++
		}
	}
	return inserted, nil
}

// MaxKey 实现 Sink，扫描整个文件。
func (s *FileSink) MaxKey(ctx context.Context, field string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}

	var (
		best  any
		found bool
	)
	_, err := s.scan(func(r Record) error {
		v, ok := r[field]
		if !ok || v == nil {
			return nil
		}
		if !found {
			best, found = v, true
			return nil
		}
		c, err := CompareKeys(v, best)
		if err != nil {
			return err
		}
		if c > 0 {
			best = v
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return best, found, nil
}

// Count 实现 Sink。
func (s *FileSink) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.index)), nil
}

// Exists 实现 Sink。
func (s *FileSink) Exists(ctx context.Context, _ string, keys []string) (map[string]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := s.index[k]; ok {
			out[k] = true
		}
	}
	return out, nil
}

// Close 关闭文件，可重复调用。
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// scan 从头读取文件中的每条记录，返回最后一个完整行之后的偏移。
// 调用方持有锁（或处于构造阶段）。末尾不完整的行（进程在写入中途崩溃）被忽略。
func (s *FileSink) scan(fn func(Record) error) (int64, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return 0, fmt.Errorf("xsink: open %s: %w", s.path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64<<10)
	var end int64
	lineNo := 0
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// 没有换行符结尾的残行
			return end, nil
		}
		if err != nil {
			return end, fmt.Errorf("xsink: read %s: %w", s.path, err)
		}
		end += int64(len(line))
		lineNo++
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if len(line) > maxLineBytes {
			return end, fmt.Errorf("xsink: %s line %d exceeds %d bytes", s.path, lineNo, maxLineBytes)
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return end, fmt.Errorf("xsink: %s line %d: %w", s.path, lineNo, err)
		}
		if err := fn(rec); err != nil {
			return end, err
		}
	}
}

var _ Sink = (*FileSink)(nil)
