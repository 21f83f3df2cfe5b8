package xfault

import "strconv"

// Category 故障分类。
type Category int

const (
	// CategoryNone 表示没有错误。
	CategoryNone Category = iota
	// CategoryNetwork 连接层故障（拒绝、重置、DNS）。
	CategoryNetwork
	// CategoryTimeout 超时。
	CategoryTimeout
	// CategoryServer 服务端故障（5xx）。
	CategoryServer
	// CategoryClient 客户端错误（4xx），请求本身不合法。
	CategoryClient
	// CategoryUnknown 解码失败或无法识别的错误。
	CategoryUnknown
)

// String 返回分类名称，用于日志和指标标签。
func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryNetwork:
		return "network"
	case CategoryTimeout:
		return "timeout"
	case CategoryServer:
		return "server"
	case CategoryClient:
		return "client"
	case CategoryUnknown:
		return "unknown"
	default:
		return "Category(" + strconv.Itoa(int(c)) + ")"
	}
}

// Retryable 报告该分类是否属于可重试的瞬时故障。
// Client 永远不可重试；None 没有可重试的对象。
func (c Category) Retryable() bool {
	switch c {
	case CategoryNetwork, CategoryTimeout, CategoryServer, CategoryUnknown:
		return true
	default:
		return false
	}
}

// Categories 返回除 None 之外的全部分类，顺序固定。
func Categories() []Category {
	return []Category{CategoryNetwork, CategoryTimeout, CategoryServer, CategoryClient, CategoryUnknown}
}
