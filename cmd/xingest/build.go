package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/omeyang/xingest/pkg/ingest/xfetch"
	"github.com/omeyang/xingest/pkg/ingest/xingest"
	"github.com/omeyang/xingest/pkg/ingest/xsink"
	"github.com/omeyang/xingest/pkg/ingest/xstate"
	"github.com/omeyang/xingest/pkg/observability/xlog"
	"github.com/omeyang/xingest/pkg/observability/xmetrics"
	"github.com/omeyang/xingest/pkg/resilience/xbreaker"
	"github.com/omeyang/xingest/pkg/resilience/xlimit"
)

const kafkaFlushTimeoutMs = 5000

// runtime 一次命令执行所需的全部依赖，Close 按创建的逆序释放。
type runtime struct {
	cfg      fileConfig
	logger   xlog.LoggerWithLevel
	registry *xbreaker.Registry
	store    xstate.Store
	orch     *xingest.Orchestrator

	rdb     redis.UniversalClient
	closers []func(context.Context) error
}

func (rt *runtime) onClose(fn func(context.Context) error) {
	rt.closers = append(rt.closers, fn)
}

// Close 释放所有资源
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func newLogger(cfg logConfig, stderr io.Writer) (xlog.LoggerWithLevel, func() error, error) {
	b := xlog.New().SetOutput(stderr).SetLevel(cfg.Level).SetFormat(cfg.Format)
	if cfg.File != "" {
		b = b.SetRotation(cfg.File, cfg.Rotation)
	}
	return b.Build()
}

// openBase 创建日志、Redis 客户端与状态存储，state 子命令只需要这些。
func openBase(ctx context.Context, cfg fileConfig, stderr io.Writer) (_ *runtime, err error) {
	logger, closeLog, err := newLogger(cfg.Log, stderr)
	if err != nil {
		return nil, &usageError{err: err}
	}
	rt := &runtime{cfg: cfg, logger: logger}
	rt.onClose(func(context.Context) error { return closeLog() })
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	if len(cfg.Redis.Addrs) > 0 {
		rt.rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.onClose(func(context.Context) error { return rt.rdb.Close() })
	}

	if rt.store, err = rt.openStore(); err != nil {
		return nil, err
	}
	return rt, nil
}

// openRuntime 在 openBase 之上创建熔断器、Fetcher 与编排器。流相关的 Sink 由 openJobs 创建。
func openRuntime(ctx context.Context, cfg fileConfig, stderr io.Writer) (_ *runtime, err error) {
	rt, err := openBase(ctx, cfg, stderr)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()
	logger := rt.logger

	rt.registry = xbreaker.NewRegistry(cfg.Ingest.BreakerOptions(
		xbreaker.WithOnStateChange(func(name string, from, to xbreaker.State) {
			logger.Warn(context.Background(), "circuit breaker state changed",
				xlog.Endpoint(name), xlog.State(from.String()+"->"+to.String()))
		}),
	)...)

	observer, err := xmetrics.NewOTelObserver()
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	rt.onClose(func(context.Context) error {
		transport.CloseIdleConnections()
		return nil
	})
	fetchOpts := []xfetch.Option{
		xfetch.WithHTTPClient(&http.Client{Transport: transport}),
		xfetch.WithRequestTimeout(cfg.Ingest.RequestTimeout),
		xfetch.WithObserver(observer),
		xfetch.WithLogger(logger),
	}
	if cfg.HTTP.MaxBodyBytes > 0 {
		fetchOpts = append(fetchOpts, xfetch.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes))
	}
	for k, v := range cfg.HTTP.Headers {
		fetchOpts = append(fetchOpts, xfetch.WithHeader(k, v))
	}
	limiter, err := rt.openLimiter()
	if err != nil {
		return nil, err
	}
	if limiter != nil {
		fetchOpts = append(fetchOpts, xfetch.WithLimiter(limiter))
	}
	fetcher, err := xfetch.New(rt.registry, fetchOpts...)
	if err != nil {
		return nil, err
	}

	orchOpts := []xingest.Option{
		xingest.WithConfig(cfg.Ingest),
		xingest.WithLogger(logger),
		xingest.WithObserver(observer),
	}
	if rt.store != nil {
		orchOpts = append(orchOpts, xingest.WithStore(rt.store))
	}
	if cfg.Lock.Enabled {
		locker, err := xstate.NewRedisLocker([]redis.UniversalClient{rt.rdb}, xstate.WithLockExpiry(cfg.Lock.Expiry))
		if err != nil {
			return nil, err
		}
		orchOpts = append(orchOpts, xingest.WithLocker(locker))
	}
	if rt.orch, err = xingest.New(fetcher, orchOpts...); err != nil {
		return nil, err
	}
	return rt, nil
}

// openStore 按 state.type 创建状态存储，none 返回 nil。
func (rt *runtime) openStore() (xstate.Store, error) {
	sc := rt.cfg.State
	switch sc.Type {
	case "none":
		return nil, nil
	case "file":
		return xstate.NewFileStore(sc.Dir)
	case "redis":
		opts := []xstate.RedisOption{xstate.WithTTL(sc.TTL)}
		if sc.Prefix != "" {
			opts = append(opts, xstate.WithRedisPrefix(sc.Prefix))
		}
		return xstate.NewRedisStore(rt.rdb, opts...)
	case "etcd":
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   rt.cfg.Etcd.Endpoints,
			DialTimeout: rt.cfg.Etcd.DialTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("connect etcd: %w", err)
		}
		rt.onClose(func(context.Context) error { return cli.Close() })
		return xstate.NewEtcdStore(cli, sc.Prefix)
	default:
		return nil, &usageError{err: fmt.Errorf("unknown state.type %q", sc.Type)}
	}
}

// openLimiter 本地令牌桶；shared 时外层包一层 Redis 全局配额，Redis 不可用时退回本地。
func (rt *runtime) openLimiter() (xfetch.Limiter, error) {
	lc := rt.cfg.Limit
	if lc.Rate <= 0 {
		return nil, nil
	}
	local, err := xlimit.NewLocal(lc.Rule)
	if err != nil {
		return nil, err
	}
	if !lc.Shared {
		return local, nil
	}
	return xlimit.NewRedis(rt.rdb, lc.Key, lc.Rule,
		xlimit.WithFallback(local), xlimit.WithLogger(rt.logger))
}

// openJobs 为每个流创建 Sink 并转换为 Job。
func (rt *runtime) openJobs(ctx context.Context, streams []streamConfig) ([]xingest.Job, error) {
	jobs := make([]xingest.Job, 0, len(streams))
	for _, s := range streams {
		sink, err := rt.openSink(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", s.Name, err)
		}
		jobs = append(jobs, xingest.Job{
			Name:            s.Name,
			Endpoint:        s.Endpoint,
			Sink:            sink,
			PrimaryKey:      s.PrimaryKey,
			Mode:            s.Mode,
			CursorField:     s.CursorField,
			Filter:          s.Filter,
			OrderBy:         s.OrderBy,
			Select:          s.Select,
			PageSize:        s.PageSize,
			EmptyBatchLimit: s.EmptyBatchLimit,
			ExpectedTotal:   s.ExpectedTotal,
			RequestCount:    s.Count,
			SeedFromSink:    s.SeedFromSink,
		})
	}
	return jobs, nil
}

func (rt *runtime) openSink(ctx context.Context, s streamConfig) (xsink.Sink, error) {
	sc := s.Sink
	switch sc.Type {
	case "memory":
		return xsink.NewMemorySink(), nil
	case "file":
		fs, err := xsink.OpenFileSink(sc.Path, s.PrimaryKey)
		if err != nil {
			return nil, err
		}
		rt.onClose(func(context.Context) error { return fs.Close() })
		return fs, nil
	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(sc.URI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		rt.onClose(client.Disconnect)
		return xsink.NewMongoSink(client.Database(sc.Database).Collection(sc.Collection))
	case "clickhouse":
		conn, err := clickhouse.Open(&clickhouse.Options{
			Addr: []string{sc.Addr},
			Auth: clickhouse.Auth{
				Database: sc.Database,
				Username: sc.Username,
				Password: sc.Password,
			},
			DialTimeout: 10 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("connect clickhouse: %w", err)
		}
		rt.onClose(func(context.Context) error { return conn.Close() })
		sink, err := xsink.NewClickHouseSink(conn, sc.Table)
		if err != nil {
			return nil, err
		}
		if err := sink.EnsureTable(ctx); err != nil {
			return nil, err
		}
		return sink, nil
	case "pulsar":
		client, err := pulsar.NewClient(pulsar.ClientOptions{URL: sc.URL})
		if err != nil {
			return nil, fmt.Errorf("connect pulsar: %w", err)
		}
		rt.onClose(func(context.Context) error {
			client.Close()
			return nil
		})
		producer, err := client.CreateProducer(pulsar.ProducerOptions{Topic: sc.Topic})
		if err != nil {
			return nil, fmt.Errorf("create pulsar producer: %w", err)
		}
		rt.onClose(func(context.Context) error {
			producer.Close()
			return nil
		})
		return xsink.NewPulsarSink(producer)
	case "kafka":
		producer, err := kafka.NewProducer(&kafka.ConfigMap{"bootstrap.servers": sc.Brokers})
		if err != nil {
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		rt.onClose(func(context.Context) error {
			defer producer.Close()
			if remaining := producer.Flush(kafkaFlushTimeoutMs); remaining > 0 {
				return fmt.Errorf("kafka: %d messages not delivered", remaining)
			}
			return nil
		})
		return xsink.NewKafkaSink(producer, sc.Topic)
	default:
		return nil, &usageError{err: fmt.Errorf("unknown sink.type %q", sc.Type)}
	}
}
