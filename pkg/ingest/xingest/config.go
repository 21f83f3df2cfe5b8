package xingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/omeyang/xingest/pkg/ingest/xpage"
	"github.com/omeyang/xingest/pkg/resilience/xbreaker"
	"github.com/omeyang/xingest/pkg/resilience/xretry"
)

// ErrInvalidConfig 配置校验失败。
var ErrInvalidConfig = errors.New("xingest: invalid config")

// Config 摄取参数，可由 xconf 从 YAML/JSON 加载。
type Config struct {
	// MaxRetries 单页最大尝试次数（包含首次）。
	MaxRetries     int           `koanf:"max_retries"`
	RetryBaseDelay time.Duration `koanf:"retry_base_delay"`
	RetryMaxDelay  time.Duration `koanf:"retry_max_delay"`
	RetryJitter    float64       `koanf:"retry_jitter"`

	FailureThreshold uint32        `koanf:"failure_threshold"`
	RecoveryTimeout  time.Duration `koanf:"recovery_timeout"`

	// PageSize 请求的 $top，服务端可能返回更少。
	PageSize                   int           `koanf:"page_size"`
	ConsecutiveEmptyBatchLimit int           `koanf:"consecutive_empty_batch_limit"`
	RequestTimeout             time.Duration `koanf:"request_timeout"`

	// DedupCacheSize 本次运行已见主键的 LRU 容量。
	DedupCacheSize int `koanf:"dedup_cache_size"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		MaxRetries:                 xretry.DefaultMaxAttempts,
		RetryBaseDelay:             xretry.DefaultBaseDelay,
		RetryMaxDelay:              xretry.DefaultMaxDelay,
		RetryJitter:                xretry.DefaultJitter,
		FailureThreshold:           xbreaker.DefaultFailureThreshold,
		RecoveryTimeout:            xbreaker.DefaultRecoveryTimeout,
		PageSize:                   xpage.DefaultPageSize,
		ConsecutiveEmptyBatchLimit: xpage.DefaultEmptyBatchLimit,
		RequestTimeout:             45 * time.Second,
		DedupCacheSize:             DefaultDedupCacheSize,
	}
}

// Validate 校验配置。
func (c Config) Validate() error {
	var errs []error
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 1, got %d", c.MaxRetries))
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		errs = append(errs, fmt.Errorf("retry delays must satisfy 0 < base <= max, got %s/%s",
			c.RetryBaseDelay, c.RetryMaxDelay))
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		errs = append(errs, fmt.Errorf("retry_jitter must be in [0,1], got %g", c.RetryJitter))
	}
	if c.FailureThreshold < 1 {
		errs = append(errs, errors.New("failure_threshold must be >= 1"))
	}
	if c.RecoveryTimeout <= 0 {
		errs = append(errs, errors.New("recovery_timeout must be positive"))
	}
	if c.PageSize < 1 {
		errs = append(errs, fmt.Errorf("page_size must be >= 1, got %d", c.PageSize))
	}
	if c.ConsecutiveEmptyBatchLimit < 1 {
		errs = append(errs, fmt.Errorf("consecutive_empty_batch_limit must be >= 1, got %d", c.ConsecutiveEmptyBatchLimit))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	if c.DedupCacheSize < 0 {
		errs = append(errs, errors.New("dedup_cache_size must be >= 0"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Policy 构建重试策略。
func (c Config) Policy() *xretry.Policy {
	return xretry.NewPolicy(
		xretry.WithMaxAttempts(c.MaxRetries),
		xretry.WithBaseDelay(c.RetryBaseDelay),
		xretry.WithMaxDelay(c.RetryMaxDelay),
		xretry.WithJitter(c.RetryJitter),
	)
}

// BreakerOptions 构建熔断器参数，传给 xbreaker.NewRegistry。
func (c Config) BreakerOptions(extra ...xbreaker.BreakerOption) []xbreaker.BreakerOption {
	opts := []xbreaker.BreakerOption{
		xbreaker.WithFailureThreshold(c.FailureThreshold),
		xbreaker.WithRecoveryTimeout(c.RecoveryTimeout),
	}
	return append(opts, extra...)
}
