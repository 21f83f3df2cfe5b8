package xconf

import "github.com/knadh/koanf/v2"

// Format 配置文件格式。
type Format string

// 支持的格式。
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// Config 配置实例，所有方法并发安全。
type Config interface {
	// Client 返回当前的 koanf 快照。
	Client() *koanf.Koanf

	// Unmarshal 把 path 下的配置反序列化到 target，path 为空时取整个配置。
	Unmarshal(path string, target any) error

	// Reload 重新读取文件。失败时保留旧配置。
	Reload() error

	// Path 文件路径，从字节创建时为空。
	Path() string

	// Format 配置格式。
	Format() Format

	// Revision 成功加载的次数，首次加载为 1。
	Revision() uint64
}

// Decode 反序列化 path 下的配置到新的 T。
func Decode[T any](cfg Config, path string) (T, error) {
	var v T
	err := cfg.Unmarshal(path, &v)
	return v, err
}
