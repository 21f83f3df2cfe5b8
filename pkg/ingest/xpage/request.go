package xpage

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Mode 分页模式。
type Mode string

const (
	ModeCursor Mode = "cursor"
	ModeOffset Mode = "offset"
)

// Valid 判断模式是否受支持。
func (m Mode) Valid() bool {
	return m == ModeCursor || m == ModeOffset
}

// Request 一次页面请求的参数，由策略生成，交给抓取器发送。
type Request struct {
	Mode        Mode
	CursorField string
	// CursorValue 游标模式下的下界（不含），HasCursor 为 false 时从头开始。
	CursorValue any
	HasCursor   bool
	Top         int
	Skip        int64
	Filter      string
	OrderBy     string
	Select      []string
	Count       bool
}

// Query 构建 OData 查询参数。
//
// 游标模式：$filter=(<基础过滤>) and <field> gt <literal>，$orderby=<field> asc。
// 偏移模式：$skip，基础过滤与配置的排序原样传递。
func Query(req Request) (url.Values, error) {
	q := url.Values{}
	q.Set("$format", "json")
	if req.Top > 0 {
		q.Set("$top", strconv.Itoa(req.Top))
	}

	switch req.Mode {
	case ModeCursor:
		if req.CursorField == "" {
			return nil, ErrMissingCursorField
		}
		filter := strings.TrimSpace(req.Filter)
		if req.HasCursor {
			lit, err := Literal(req.CursorValue)
			if err != nil {
				return nil, err
			}
			cond := req.CursorField + " gt " + lit
			if filter != "" {
				filter = "(" + filter + ") and " + cond
			} else {
				filter = cond
			}
		}
		if filter != "" {
			q.Set("$filter", filter)
		}
		q.Set("$orderby", req.CursorField+" asc")
	case ModeOffset:
		if req.Skip > 0 {
			q.Set("$skip", strconv.FormatInt(req.Skip, 10))
		}
		if f := strings.TrimSpace(req.Filter); f != "" {
			q.Set("$filter", f)
		}
		if req.OrderBy != "" {
			q.Set("$orderby", req.OrderBy)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}

	if len(req.Select) > 0 {
		q.Set("$select", strings.Join(req.Select, ","))
	}
	if req.Count {
		q.Set("$count", "true")
	}
	return q, nil
}

// Literal 将游标值格式化为 OData 字面量：数值原样，字符串单引号包裹且内部单引号加倍，
// 时间为 RFC 3339。
func Literal(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", nil
	case json.Number:
		if _, err := x.Float64(); err != nil {
			if !isBigNumber(x.String()) {
				return "", fmt.Errorf("%w: %q", ErrUnsupportedCursor, x.String())
			}
		}
		return x.String(), nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint32:
		return strconv.FormatUint(uint64(x), 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", fmt.Errorf("%w: %v", ErrUnsupportedCursor, x)
		}
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedCursor, v)
	}
}

// isBigNumber Float64 溢出时（超大整数）仍按数值字面量处理。
func isBigNumber(s string) bool {
	if s == "" {
		return false
	}
	start := 0
	if s[0] == '-' {
		start = 1
	}
	if start == len(s) {
		return false
	}
	for _, c := range s[start:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
