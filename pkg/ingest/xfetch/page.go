package xfetch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/omeyang/xingest/pkg/ingest/xfault"
	"github.com/omeyang/xingest/pkg/ingest/xsink"
)

// Page 一次成功抓取的结果。
type Page struct {
	Records []xsink.Record
	// Count 本页记录数
	Count    int
	NextLink string
	// Total 服务端报告的总数（@odata.count），未提供时为 nil。
	Total *int64
	URL   string
}

// decodePage 解析 OData JSON 载荷。value 为空数组是合法空页。
func decodePage(body []byte) (*Page, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, &xfault.DecodeError{Reason: "empty body"}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var envelope map[string]any
	if err := dec.Decode(&envelope); err != nil {
		return nil, &xfault.DecodeError{Reason: "malformed json", Err: err}
	}
	if envelope == nil {
		return nil, &xfault.DecodeError{Reason: "payload is not an object"}
	}
	if dec.More() {
		return nil, &xfault.DecodeError{Reason: "trailing data after payload"}
	}

	raw, ok := envelope["value"]
	if !ok {
		return nil, &xfault.DecodeError{Reason: `missing "value" array`}
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, &xfault.DecodeError{Reason: fmt.Sprintf(`"value" is %T, not an array`, raw)}
	}

	records := make([]xsink.Record, 0, len(items))
	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, &xfault.DecodeError{Reason: fmt.Sprintf("value[%d] is %T, not an object", i, item)}
		}
		records = append(records, rec)
	}

	page := &Page{Records: records, Count: len(records)}
	page.NextLink = firstString(envelope, "@odata.nextLink", "odata.nextLink")
	if total, ok := firstCount(envelope, "@odata.count", "odata.count"); ok {
		page.Total = &total
	}
	return page, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// firstCount 读取总数，OData v2/v3 以字符串返回，v4 以数字返回。
func firstCount(m map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil && n >= 0 {
				return n, true
			}
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
				return n, true
			}
		}
	}
	return 0, false
}
