// Package xconf 加载 YAML/JSON 配置文件，基于 koanf。
//
// 配置实例持有一个 koanf 快照：Reload 解析成功后原子替换快照，
// 解析失败时保留旧配置。Client() 返回的指针是调用时的快照，不随 Reload 变化。
//
// Unmarshal 使用 koanf 标签，字符串时长（"30s"）与实现了
// encoding.TextUnmarshaler 的类型（如 xlog.Level）会自动转换。
// WithStrict 开启后，配置中出现目标结构体没有的键会报错，用于发现拼写错误。
//
// Watch 监视文件所在目录，编辑器先删后建或 rename 写入都能触发重载，
// 多次连续写入在防抖窗口内只重载一次。
package xconf
