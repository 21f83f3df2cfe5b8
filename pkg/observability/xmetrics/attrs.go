package xmetrics

import "time"

// String 字符串属性
func String(key, value string) Attr {
	return Attr{Key: key, Value: value}
}

// Bool 布尔属性
func Bool(key string, value bool) Attr {
	return Attr{Key: key, Value: value}
}

// Int 整数属性
func Int(key string, value int) Attr {
	return Attr{Key: key, Value: value}
}

// Int64 int64 属性
func Int64(key string, value int64) Attr {
	return Attr{Key: key, Value: value}
}

// Duration 时间间隔属性，以纳秒记录。
func Duration(key string, value time.Duration) Attr {
	return Attr{Key: key, Value: value}
}

// 摄取链路常用属性
const (
	AttrEndpoint = "xingest.endpoint"
	AttrStream   = "xingest.stream"
	AttrMode     = "xingest.mode"
	AttrCategory = "xingest.category"
)

// Endpoint 端点键
func Endpoint(key string) Attr { return String(AttrEndpoint, key) }

// Stream 流名称
func Stream(name string) Attr { return String(AttrStream, name) }
