package xsink

import (
	"context"
	"maps"
	"sync"
)

// MemorySink 进程内存中的 Sink，按主键覆盖写入并保持首次写入顺序。
type MemorySink struct {
	mu      sync.RWMutex
	pkField string
	index   map[string]int
	records []Record
	writes  int
}

// NewMemorySink 创建内存 Sink。
func NewMemorySink() *MemorySink {
	return &MemorySink{index: make(map[string]int)}
}

// Upsert 实现 Sink。整批校验通过后才写入，任一记录缺少主键时不做任何修改。
func (s *MemorySink) Upsert(ctx context.Context, records []Record, pkField string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	keys := make([]string, len(records))
	for i, r := range records {
		k, err := PrimaryKey(r, pkField)
		if err != nil {
			return 0, err
		}
		keys[i] = k
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pkField != "" && s.pkField != pkField {
		return 0, ErrPrimaryKeyMismatch
	}
	s.pkField = pkField

	inserted := 0
	for i, r := range records {
		cp := maps.Clone(r)
		if pos, ok := s.index[keys[i]]; ok {
			s.records[pos] = cp
			continue
		}
		s.index[keys[i]] = len(s.records)
		s.records = append(s.records, cp)
		inserted++
	}
	s.writes++
	return inserted, nil
}

// MaxKey 实现 Sink。
func (s *MemorySink) MaxKey(ctx context.Context, field string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maxOf(s.records, field)
}

// Count 实现 Sink。
func (s *MemorySink) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

// Exists 实现 Sink。
func (s *MemorySink) Exists(ctx context.Context, _ string, keys []string) (map[string]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		if _, ok := s.index[k]; ok {
			out[k] = true
		}
	}
	return out, nil
}

// Records 返回按首次写入顺序排列的记录副本。
func (s *MemorySink) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = maps.Clone(r)
	}
	return out
}

// Writes 返回成功的 Upsert 调用次数。
func (s *MemorySink) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// maxOf 返回 records 中 field 的最大值，跳过缺失或 null 的字段。
func maxOf(records []Record, field string) (any, bool, error) {
	var (
		best  any
		found bool
	)
	for _, r := range records {
		v, ok := r[field]
		if !ok || v == nil {
			continue
		}
		if !found {
			best, found = v, true
			continue
		}
		c, err := CompareKeys(v, best)
		if err != nil {
			return nil, false, err
		}
		if c > 0 {
			best = v
		}
	}
	return best, found, nil
}

var _ Sink = (*MemorySink)(nil)
