package xpage

import (
	"github.com/omeyang/xingest/pkg/ingest/xsink"
)

// OffsetStrategy 基于 $skip 的偏移分页。
//
// 每个成功的页（包括空页）都把 skip 增加 PageSize；
// 连续空页达到 EmptyBatchLimit 才结束，非空页清零计数。
type OffsetStrategy struct {
	cfg          Config
	skip         int64
	emptyBatches int
}

// NewOffsetStrategy 创建偏移策略。
func NewOffsetStrategy(cfg Config, cp *Checkpoint) (*OffsetStrategy, error) {
	cfg = cfg.withDefaults()
	cfg.Mode = ModeOffset
	s := &OffsetStrategy{cfg: cfg}
	if cp != nil {
		s.skip = max(cp.Skip, 0)
		s.emptyBatches = max(cp.EmptyBatches, 0)
	}
	return s, nil
}

// Next 实现 Strategy。
func (s *OffsetStrategy) Next() Request {
	return Request{
		Mode:    ModeOffset,
		Top:     s.cfg.PageSize,
		Skip:    s.skip,
		Filter:  s.cfg.Filter,
		OrderBy: s.cfg.OrderBy,
		Select:  s.cfg.Select,
		Count:   s.cfg.Count,
	}
}

// Advance 实现 Strategy。
func (s *OffsetStrategy) Advance(records []xsink.Record) error {
	if s.Terminated() {
		return ErrTerminated
	}
	if len(records) == 0 {
		s.emptyBatches++
	} else {
		s.emptyBatches = 0
	}
	s.skip += int64(s.cfg.PageSize)
	return nil
}

// Terminated 实现 Strategy。
func (s *OffsetStrategy) Terminated() bool {
	return s.emptyBatches >= s.cfg.EmptyBatchLimit
}

// EmptyBatches 返回当前连续空页数。
func (s *OffsetStrategy) EmptyBatches() int { return s.emptyBatches }

// Checkpoint 实现 Strategy。
func (s *OffsetStrategy) Checkpoint() Checkpoint {
	return Checkpoint{
		Mode:         ModeOffset,
		Skip:         s.skip,
		EmptyBatches: s.emptyBatches,
		Terminated:   s.Terminated(),
	}
}

var _ Strategy = (*OffsetStrategy)(nil)
