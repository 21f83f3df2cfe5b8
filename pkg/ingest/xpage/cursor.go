package xpage

import (
	"fmt"

	"github.com/omeyang/xingest/pkg/ingest/xsink"
)

// CursorStrategy 基于单调字段的游标分页。
type CursorStrategy struct {
	cfg       Config
	cursor    any
	hasCursor bool
	done      bool
}

// NewCursorStrategy 创建游标策略。
func NewCursorStrategy(cfg Config, cp *Checkpoint) (*CursorStrategy, error) {
	cfg = cfg.withDefaults()
	cfg.Mode = ModeCursor
	if cfg.CursorField == "" {
		return nil, ErrMissingCursorField
	}
	s := &CursorStrategy{cfg: cfg}
	if cp != nil && cp.HasCursor {
		if _, err := Literal(cp.Cursor); err != nil {
			return nil, err
		}
		s.cursor = cp.Cursor
		s.hasCursor = true
	}
	return s, nil
}

// Next 实现 Strategy。
func (s *CursorStrategy) Next() Request {
	return Request{
		Mode:        ModeCursor,
		CursorField: s.cfg.CursorField,
		CursorValue: s.cursor,
		HasCursor:   s.hasCursor,
		Top:         s.cfg.PageSize,
		Filter:      s.cfg.Filter,
		Select:      s.cfg.Select,
		Count:       s.cfg.Count,
	}
}

// Advance 实现 Strategy：空页结束，非空页把游标推进到页内最大值。
func (s *CursorStrategy) Advance(records []xsink.Record) error {
	if s.done {
		return ErrTerminated
	}
	if len(records) == 0 {
		s.done = true
		return nil
	}

	var maxSeen any
	for i, r := range records {
		v, ok := r[s.cfg.CursorField]
		if !ok || v == nil {
			return fmt.Errorf("%w: %q at index %d", ErrMissingCursor, s.cfg.CursorField, i)
		}
		if maxSeen == nil {
			maxSeen = v
			continue
		}
		c, err := xsink.CompareKeys(v, maxSeen)
		if err != nil {
			return err
		}
		if c > 0 {
			maxSeen = v
		}
	}
	if _, err := Literal(maxSeen); err != nil {
		return err
	}

	if s.hasCursor {
		c, err := xsink.CompareKeys(maxSeen, s.cursor)
		if err != nil {
			return err
		}
		if c <= 0 {
			return fmt.Errorf("%w: max %v <= cursor %v", ErrNoProgress, maxSeen, s.cursor)
		}
	}
	s.cursor = maxSeen
	s.hasCursor = true
	return nil
}

// Terminated 实现 Strategy。
func (s *CursorStrategy) Terminated() bool { return s.done }

// Checkpoint 实现 Strategy。
func (s *CursorStrategy) Checkpoint() Checkpoint {
	return Checkpoint{
		Mode:       ModeCursor,
		Cursor:     s.cursor,
		HasCursor:  s.hasCursor,
		Terminated: s.done,
	}
}

var _ Strategy = (*CursorStrategy)(nil)
