package xfetch

import (
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidEndpoint 端点不是合法的绝对 URL。
var ErrInvalidEndpoint = errors.New("xfetch: invalid endpoint")

// EndpointKey 返回熔断器键：小写 host + path，去掉查询串、片段和末尾斜杠。
// 无法解析的端点原样小写返回。
func EndpointKey(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(raw), "/")
	}
	return strings.ToLower(u.Host) + strings.TrimRight(strings.ToLower(u.Path), "/")
}

// buildURL 将查询参数合并到端点已有的查询串上，params 优先。
func buildURL(endpoint string, params url.Values) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", errors.Join(ErrInvalidEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return "", ErrInvalidEndpoint
	}
	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	// OData 参数名带 $，Encode 会转义为 %24，服务端均可识别
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}
