package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/omeyang/xingest/pkg/config/xconf"
	"github.com/omeyang/xingest/pkg/ingest/xingest"
	"github.com/omeyang/xingest/pkg/ingest/xpage"
	"github.com/omeyang/xingest/pkg/observability/xlog"
	"github.com/omeyang/xingest/pkg/resilience/xlimit"
)

// fileConfig 配置文件结构。
type fileConfig struct {
	Log    logConfig      `koanf:"log"`
	Ingest xingest.Config `koanf:"ingest"`
	HTTP   httpConfig     `koanf:"http"`
	Limit  limitConfig    `koanf:"limit"`
	Redis  redisConfig    `koanf:"redis"`
	Etcd   etcdConfig     `koanf:"etcd"`
	State  stateConfig    `koanf:"state"`
	Lock   lockConfig     `koanf:"lock"`

	Streams []streamConfig `koanf:"streams"`
}

type logConfig struct {
	Level    xlog.Level           `koanf:"level"`
	Format   string               `koanf:"format"`
	File     string               `koanf:"file"`
	Rotation xlog.RotationOptions `koanf:"rotation"`
}

type httpConfig struct {
	Headers      map[string]string `koanf:"headers"`
	MaxBodyBytes int64             `koanf:"max_body_bytes"`
}

// limitConfig 请求限流。Rate 为 0 时不限流；Shared 为 true 时经 Redis 在进程间共享配额。
type limitConfig struct {
	xlimit.Rule `koanf:",squash"`
	Shared      bool   `koanf:"shared"`
	Key         string `koanf:"key"`
}

type redisConfig struct {
	Addrs    []string `koanf:"addrs"`
	Password string   `koanf:"password"`
	DB       int      `koanf:"db"`
}

type etcdConfig struct {
	Endpoints   []string      `koanf:"endpoints"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
}

type stateConfig struct {
	// Type file、redis、etcd 或 none
	Type   string        `koanf:"type"`
	Dir    string        `koanf:"dir"`
	Prefix string        `koanf:"prefix"`
	TTL    time.Duration `koanf:"ttl"`
}

type lockConfig struct {
	Enabled bool          `koanf:"enabled"`
	Expiry  time.Duration `koanf:"expiry"`
}

type streamConfig struct {
	Name            string     `koanf:"name"`
	Endpoint        string     `koanf:"endpoint"`
	PrimaryKey      string     `koanf:"primary_key"`
	Mode            xpage.Mode `koanf:"mode"`
	CursorField     string     `koanf:"cursor_field"`
	Filter          string     `koanf:"filter"`
	OrderBy         string     `koanf:"order_by"`
	Select          []string   `koanf:"select"`
	PageSize        int        `koanf:"page_size"`
	EmptyBatchLimit int        `koanf:"empty_batch_limit"`
	ExpectedTotal   *int64     `koanf:"expected_total"`
	Count           bool       `koanf:"count"`
	SeedFromSink    bool       `koanf:"seed_from_sink"`
	Sink            sinkConfig `koanf:"sink"`
}

type sinkConfig struct {
	// Type memory、file、mongo、clickhouse、pulsar 或 kafka
	Type       string `koanf:"type"`
	Path       string `koanf:"path"`
	URI        string `koanf:"uri"`
	Database   string `koanf:"database"`
	Collection string `koanf:"collection"`
	Addr       string `koanf:"addr"`
	Username   string `koanf:"username"`
	Password   string `koanf:"password"`
	Table      string `koanf:"table"`
	// URL Pulsar 服务地址，Brokers Kafka bootstrap.servers
	URL     string `koanf:"url"`
	Brokers string `koanf:"brokers"`
	Topic   string `koanf:"topic"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Log:    logConfig{Level: xlog.LevelInfo, Format: "text"},
		Ingest: xingest.DefaultConfig(),
		Etcd:   etcdConfig{DialTimeout: 5 * time.Second},
		State:  stateConfig{Type: "file", Dir: ".xingest/state"},
		Lock:   lockConfig{Expiry: 10 * time.Minute},
		Limit:  limitConfig{Key: "xingest:limit"},
	}
}

// loadConfig 读取并校验配置文件。返回的 xconf.Config 用于 --watch。
func loadConfig(path string) (fileConfig, xconf.Config, error) {
	src, err := xconf.New(path, xconf.WithStrict(true))
	if err != nil {
		return fileConfig{}, nil, err
	}
	cfg, err := decodeConfig(src)
	return cfg, src, err
}

func decodeConfig(src xconf.Config) (fileConfig, error) {
	cfg := defaultFileConfig()
	if err := src.Unmarshal("", &cfg); err != nil {
		return fileConfig{}, err
	}
	if err := cfg.validate(); err != nil {
		return fileConfig{}, err
	}
	return cfg, nil
}

func (c fileConfig) validate() error {
	var errs []error
	if err := c.Ingest.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Limit.Rate > 0 {
		if err := c.Limit.Rule.Validate(); err != nil {
			errs = append(errs, err)
		}
		if c.Limit.Shared && len(c.Redis.Addrs) == 0 {
			errs = append(errs, errors.New("limit.shared requires redis.addrs"))
		}
	}
	switch c.State.Type {
	case "none", "file":
	case "redis":
		if len(c.Redis.Addrs) == 0 {
			errs = append(errs, errors.New("state.type redis requires redis.addrs"))
		}
	case "etcd":
		if len(c.Etcd.Endpoints) == 0 {
			errs = append(errs, errors.New("state.type etcd requires etcd.endpoints"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown state.type %q", c.State.Type))
	}
	if c.Lock.Enabled && len(c.Redis.Addrs) == 0 {
		errs = append(errs, errors.New("lock.enabled requires redis.addrs"))
	}

	seen := make(map[string]bool, len(c.Streams))
	for i, s := range c.Streams {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("streams[%d]: name is required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("streams[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
		switch s.Sink.Type {
		case "memory", "file", "mongo", "clickhouse":
		case "pulsar", "kafka":
			if s.Sink.Topic == "" {
				errs = append(errs, fmt.Errorf("stream %s: sink.topic is required for %s", name, s.Sink.Type))
			}
			if s.SeedFromSink {
				errs = append(errs, fmt.Errorf("stream %s: seed_from_sink is not supported by %s", name, s.Sink.Type))
			}
		default:
			errs = append(errs, fmt.Errorf("stream %s: unknown sink.type %q", name, s.Sink.Type))
		}
	}
	if len(errs) > 0 {
		return &usageError{err: errors.Join(errs...)}
	}
	return nil
}

// selectStreams 按名称过滤，names 为空时返回全部。
func (c fileConfig) selectStreams(names []string) ([]streamConfig, error) {
	if len(names) == 0 {
		return c.Streams, nil
	}
	out := make([]streamConfig, 0, len(names))
	for _, n := range names {
		i := slices.IndexFunc(c.Streams, func(s streamConfig) bool { return s.Name == n })
		if i < 0 {
			return nil, &usageError{err: fmt.Errorf("unknown stream %q", n)}
		}
		out = append(out, c.Streams[i])
	}
	return out, nil
}
