package xingest

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/omeyang/xingest/pkg/ingest/xsink"
)

// DefaultDedupCacheSize 默认记住的主键数量。
const DefaultDedupCacheSize = 100_000

// dedup 本次运行的去重器。LRU 以 xxhash 为键、主键原文为值，哈希碰撞时比对原文。
type dedup struct {
	seen *lru.Cache[uint64, string]
}

func newDedup(size int) (*dedup, error) {
	if size <= 0 {
		return &dedup{}, nil
	}
	cache, err := lru.New[uint64, string](size)
	if err != nil {
		return nil, fmt.Errorf("xingest: create dedup cache: %w", err)
	}
	return &dedup{seen: cache}, nil
}

func (d *dedup) known(key string) bool {
	if d.seen == nil {
		return false
	}
	v, ok := d.seen.Get(xxhash.Sum64String(key))
	return ok && v == key
}

func (d *dedup) remember(keys []string) {
	if d.seen == nil {
		return
	}
	for _, k := range keys {
		d.seen.Add(xxhash.Sum64String(k), k)
	}
}

// filter 依次剔除页内重复、本次运行已写入的主键、Sink 中已存在的主键。
// 返回待写入的记录及其主键。
func (d *dedup) filter(ctx context.Context, sink xsink.Sink, pkField string, records []xsink.Record) ([]xsink.Record, []string, error) {
	fresh := make([]xsink.Record, 0, len(records))
	keys := make([]string, 0, len(records))
	inPage := make(map[string]struct{}, len(records))
	for i, r := range records {
		key, err := xsink.PrimaryKey(r, pkField)
		if err != nil {
			return nil, nil, fmt.Errorf("record %d: %w", i, err)
		}
		if _, dup := inPage[key]; dup {
			continue
		}
		inPage[key] = struct{}{}
		if d.known(key) {
			continue
		}
		fresh = append(fresh, r)
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, nil, nil
	}

	exists, err := sink.Exists(ctx, pkField, keys)
	if err != nil {
		return nil, nil, fmt.Errorf("check existing keys: %w", err)
	}
	if len(exists) == 0 {
		return fresh, keys, nil
	}
	outRecords := fresh[:0]
	outKeys := keys[:0]
	for i, k := range keys {
		if exists[k] {
			continue
		}
		outRecords = append(outRecords, fresh[i])
		outKeys = append(outKeys, k)
	}
	return outRecords, outKeys, nil
}
