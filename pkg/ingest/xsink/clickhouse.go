package xsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// clickhouseConn ClickHouseSink 用到的连接操作，driver.Conn 实现此接口。
type clickhouseConn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) driver.Row
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ClickHouseSink 写入 ReplacingMergeTree 表，按 pk 合并重复行。
//
// 表结构：
//
//	pk          String
//	payload     String          -- 记录的 JSON
//	ingested_at DateTime64(3)   -- 版本列，同 pk 保留最新
type ClickHouseSink struct {
	conn  clickhouseConn
	table string
	now   func() time.Time
}

// NewClickHouseSink 创建 ClickHouse Sink。table 可带库名前缀（db.table）。
func NewClickHouseSink(conn driver.Conn, table string) (*ClickHouseSink, error) {
	if conn == nil {
		return nil, ErrNilClient
	}
	return newClickHouseSink(conn, table)
}

func newClickHouseSink(conn clickhouseConn, table string) (*ClickHouseSink, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return &ClickHouseSink{conn: conn, table: table, now: time.Now}, nil
}

// EnsureTable 建表（已存在时不做修改）。
func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	pk String,
	payload String,
	ingested_at DateTime64(3)
) ENGINE = ReplacingMergeTree(ingested_at)
ORDER BY pk`, s.table)
	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("xsink: clickhouse create table %s: %w", s.table, err)
	}
	return nil
}

// Upsert 实现 Sink：整批一次 INSERT。新增数量基于写入前的 Exists 查询。
func (s *ClickHouseSink) Upsert(ctx context.Context, records []Record, pkField string) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	type row struct {
		pk      string
		payload string
	}
	rows := make([]row, 0, len(records))
	keys := make([]string, 0, len(records))
	for _, r := range records {
		k, err := PrimaryKey(r, pkField)
		if err != nil {
			return 0, err
		}
		payload, err := json.Marshal(r)
		if err != nil {
			return 0, fmt.Errorf("xsink: encode record %s: %w", k, err)
		}
		rows = append(rows, row{pk: k, payload: string(payload)})
		keys = append(keys, k)
	}

	existing, err := s.Exists(ctx, pkField, keys)
	if err != nil {
		return 0, err
	}

	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (pk, payload, ingested_at)", s.table))
	if err != nil {
		return 0, fmt.Errorf("xsink: clickhouse prepare batch: %w", err)
	}
	ts := s.now()
	for _, r := range rows {
		if err := batch.Append(r.pk, r.payload, ts); err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("xsink: clickhouse append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("xsink: clickhouse send: %w", err)
	}

	inserted := 0
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup || existing[k] {
			continue
		}
		seen[k] = struct{}{}
		inserted++
	}
	return inserted, nil
}

// MaxKey 实现 Sink：数值字段按数值降序，字符串字段按字典序降序。
func (s *ClickHouseSink) MaxKey(ctx context.Context, field string) (any, bool, error) {
	q := fmt.Sprintf(`SELECT JSONExtractRaw(payload, ?) AS v
FROM %s FINAL
WHERE JSONHas(payload, ?) AND JSONType(payload, ?) != 'Null'
ORDER BY JSONExtractFloat(payload, ?) DESC, JSONExtractString(payload, ?) DESC
LIMIT 1`, s.table)
	rows, err := s.conn.Query(ctx, q, field, field, field, field, field)
	if err != nil {
		return nil, false, fmt.Errorf("xsink: clickhouse max key: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	var raw string
	if err := rows.Scan(&raw); err != nil {
		return nil, false, fmt.Errorf("xsink: clickhouse max key scan: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false, fmt.Errorf("xsink: clickhouse max key decode: %w", err)
	}
	return v, v != nil, nil
}

// Count 实现 Sink。
func (s *ClickHouseSink) Count(ctx context.Context) (int64, error) {
	var n uint64
	if err := s.conn.QueryRow(ctx, fmt.Sprintf("SELECT uniqExact(pk) FROM %s", s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("xsink: clickhouse count: %w", err)
	}
	return int64(n), nil //nolint:gosec // 行数不会超过 int64
}

// Exists 实现 Sink。
func (s *ClickHouseSink) Exists(ctx context.Context, _ string, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := s.conn.Query(ctx, fmt.Sprintf("SELECT DISTINCT pk FROM %s WHERE pk IN (?)", s.table), keys)
	if err != nil {
		return nil, fmt.Errorf("xsink: clickhouse exists: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			return nil, fmt.Errorf("xsink: clickhouse exists scan: %w", err)
		}
		out[pk] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("xsink: clickhouse exists: %w", err)
	}
	return out, nil
}

var _ Sink = (*ClickHouseSink)(nil)
