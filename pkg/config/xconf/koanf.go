package xconf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

type koanfConfig struct {
	k        atomic.Pointer[koanf.Koanf]
	revision atomic.Uint64
	reloadMu sync.Mutex

	path   string
	format Format
	opts   *Options
}

var _ Config = (*koanfConfig)(nil)

// New 从文件创建配置，格式由扩展名决定（.yaml/.yml/.json）。
func New(path string, opts ...Option) (Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrEmptyPath
	}
	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}
	c := newConfig(path, format, opts)
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewFromBytes 从字节创建配置。空数据得到空配置。
func NewFromBytes(data []byte, format Format, opts ...Option) (Config, error) {
	if !validFormat(format) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	c := newConfig("", format, opts)
	k, err := parse(data, format, c.opts.Delim)
	if err != nil {
		return nil, err
	}
	c.k.Store(k)
	c.revision.Add(1)
	return c, nil
}

func newConfig(path string, format Format, opts []Option) *koanfConfig {
	options := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return &koanfConfig{path: path, format: format, opts: options}
}

func (c *koanfConfig) Client() *koanf.Koanf { return c.k.Load() }

func (c *koanfConfig) Unmarshal(path string, target any) error {
	conf := koanf.UnmarshalConf{Tag: c.opts.Tag}
	if c.opts.Strict {
		conf.DecoderConfig = &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           target,
			TagName:          c.opts.Tag,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		}
	}
	if err := c.k.Load().UnmarshalWithConf(path, target, conf); err != nil {
		return fmt.Errorf("%w: %w", ErrUnmarshalFailed, err)
	}
	return nil
}

func (c *koanfConfig) Reload() error {
	if c.path == "" {
		return ErrNotWatchable
	}
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	k, err := parse(data, c.format, c.opts.Delim)
	if err != nil {
		return err
	}
	c.k.Store(k)
	c.revision.Add(1)
	return nil
}

func (c *koanfConfig) Path() string { return c.path }

func (c *koanfConfig) Format() Format { return c.format }

func (c *koanfConfig) Revision() uint64 { return c.revision.Load() }

func detectFormat(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, ext)
	}
}

func validFormat(format Format) bool {
	return format == FormatYAML || format == FormatJSON
}

// parse 解析为新的 koanf 实例。
func parse(data []byte, format Format, delim string) (*koanf.Koanf, error) {
	k := koanf.New(delim)
	if len(data) == 0 {
		return k, nil
	}
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return nil, ErrUnsupportedFormat
	}
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	return k, nil
}
