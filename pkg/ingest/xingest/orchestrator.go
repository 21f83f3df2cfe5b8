package xingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/omeyang/xingest/pkg/ingest/xfault"
	"github.com/omeyang/xingest/pkg/ingest/xfetch"
	"github.com/omeyang/xingest/pkg/ingest/xpage"
	"github.com/omeyang/xingest/pkg/ingest/xstate"
	"github.com/omeyang/xingest/pkg/observability/xlog"
	"github.com/omeyang/xingest/pkg/observability/xmetrics"
	"github.com/omeyang/xingest/pkg/resilience/xretry"
)

// PageFetcher 单次页面抓取，*xfetch.Fetcher 实现了它。
type PageFetcher interface {
	FetchPage(ctx context.Context, endpoint string, req xpage.Request) (*xfetch.Page, error)
}

var _ PageFetcher = (*xfetch.Fetcher)(nil)

// Option Orchestrator 配置项。
type Option func(*Orchestrator)

// WithConfig 使用 Config 的重试策略与分页默认值。
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
		o.policy = cfg.Policy()
	}
}

// WithPolicy 覆盖重试策略。
func WithPolicy(p *xretry.Policy) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.policy = p
		}
	}
}

// WithStore 设置状态存储，未设置时状态只存在于内存。
func WithStore(s xstate.Store) Option {
	return func(o *Orchestrator) {
		o.store = s
	}
}

// WithLocker 设置流级互斥锁。
func WithLocker(l xstate.Locker) Option {
	return func(o *Orchestrator) {
		o.locker = l
	}
}

// WithLogger 设置日志记录器
func WithLogger(l xlog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver 设置观测器
func WithObserver(obs xmetrics.Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithClock 设置时钟，测试用。
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithDedupCacheSize 设置去重 LRU 容量，0 表示只做页内与 Sink 去重。
func WithDedupCacheSize(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.cfg.DedupCacheSize = n
		}
	}
}

// Orchestrator 摄取编排器。可以并发运行不同的 Job，
// 同一个流的并发互斥由 Locker 负责。
type Orchestrator struct {
	fetcher  PageFetcher
	cfg      Config
	policy   *xretry.Policy
	store    xstate.Store
	locker   xstate.Locker
	logger   xlog.Logger
	observer xmetrics.Observer
	now      func() time.Time
}

// New 创建编排器。
func New(fetcher PageFetcher, opts ...Option) (*Orchestrator, error) {
	if fetcher == nil {
		return nil, ErrNilFetcher
	}
	cfg := DefaultConfig()
	o := &Orchestrator{
		fetcher:  fetcher,
		cfg:      cfg,
		policy:   cfg.Policy(),
		logger:   xlog.Discard(),
		observer: xmetrics.NoopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.logger = o.logger.With(xlog.Component("xingest"))
	return o, nil
}

// Config 返回生效的配置。
func (o *Orchestrator) Config() Config { return o.cfg }

// Result 一次运行的结果。
type Result struct {
	// State 结束时保存的状态。
	State *xstate.State
	// Warnings 非致命问题，目前只有 *xfault.IncompleteDatasetWarning。
	Warnings []error
	// Pages 本次运行接受的非空页数。
	Pages int
	// Fetched 本次运行新写入的记录数。
	Fetched int64
	// Duplicates 本次运行跳过的重复记录数。
	Duplicates int64
}

// run 一次 Run 调用的可变上下文，只在运行的 goroutine 中使用。
type run struct {
	job      Job
	key      string
	state    *xstate.State
	strategy xpage.Strategy
	seen     *dedup
	result   *Result

	received int64
	total    *int64
	lastReq  xpage.Request
}

// Run 执行一个流直到数据取完或失败。
//
// 失败时返回 *RunError，其中的 State 已持久化，可直接作为下一次的 Job.Resume。
// 结果总是非 nil（锁获取失败与参数错误除外）。
func (o *Orchestrator) Run(ctx context.Context, job Job) (_ *Result, err error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	key := job.Key()

	if o.locker != nil {
		unlock, lerr := o.locker.Acquire(ctx, key)
		if lerr != nil {
			return nil, fmt.Errorf("xingest: lock stream %s: %w", key, lerr)
		}
		defer func() {
			if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
				o.logger.Warn(ctx, "release stream lock failed", xlog.Endpoint(key), xlog.Err(uerr))
			}
		}()
	}

	r, err := o.prepare(ctx, job, key)
	if err != nil {
		return nil, err
	}

	ctx = xlog.WithStream(ctx, key, r.state.RunID)
	ctx, span := xmetrics.Start(ctx, o.observer, xmetrics.SpanOptions{
		Component: "xingest",
		Operation: "run",
		Kind:      xmetrics.KindInternal,
		Attrs: []xmetrics.Attr{
			xmetrics.Stream(key),
			xmetrics.Endpoint(xfetch.EndpointKey(job.Endpoint)),
			xmetrics.String(xmetrics.AttrMode, string(job.Mode)),
		},
	})
	defer func() {
		span.End(xmetrics.Result{
			Err:     err,
			Records: r.result.Fetched,
			Attrs:   []xmetrics.Attr{xmetrics.Int("pages", r.result.Pages)},
		})
	}()

	o.logger.Info(ctx, "stream started", xlog.Endpoint(job.Endpoint), slog.String("mode", string(job.Mode)),
		xlog.Cursor(r.state.LastCursor), xlog.Skip(r.state.LastSkip), xlog.Count(r.state.TotalFetched))

	if err := o.loop(ctx, r); err != nil {
		return r.result, o.fail(ctx, r, err)
	}
	return r.result, o.finish(ctx, r)
}

// prepare 加载状态并恢复分页策略。
func (o *Orchestrator) prepare(ctx context.Context, job Job, key string) (*run, error) {
	pageSize := job.PageSize
	if pageSize <= 0 {
		pageSize = o.cfg.PageSize
	}
	emptyLimit := job.EmptyBatchLimit
	if emptyLimit <= 0 {
		emptyLimit = o.cfg.ConsecutiveEmptyBatchLimit
	}

	state, err := o.loadState(ctx, job, key)
	if err != nil {
		return nil, err
	}
	if state.Status == xstate.StatusTerminated {
		o.reopen(state, pageSize)
	}

	strategy, err := xpage.New(xpage.Config{
		Mode:            job.Mode,
		CursorField:     job.CursorField,
		PageSize:        pageSize,
		EmptyBatchLimit: emptyLimit,
		Filter:          job.Filter,
		OrderBy:         job.OrderBy,
		Select:          job.Select,
		Count:           job.RequestCount,
	}, state.Checkpoint())
	if err != nil {
		return nil, fmt.Errorf("xingest: restore stream %s: %w", key, err)
	}

	seen, err := newDedup(o.cfg.DedupCacheSize)
	if err != nil {
		return nil, err
	}
	return &run{
		job:      job,
		key:      key,
		state:    state,
		strategy: strategy,
		seen:     seen,
		result:   &Result{State: state},
	}, nil
}

// loadState 依次尝试 Job.Resume、存储、Sink 推导，都没有时创建新状态。
func (o *Orchestrator) loadState(ctx context.Context, job Job, key string) (*xstate.State, error) {
	if job.Resume != nil {
		if job.Resume.Mode != job.Mode {
			return nil, fmt.Errorf("%w: %s != %s", ErrModeMismatch, job.Resume.Mode, job.Mode)
		}
		return job.Resume.Clone(), nil
	}

	if o.store != nil {
		state, err := o.store.Load(ctx, key)
		switch {
		case err == nil:
			if state.Mode != job.Mode {
				return nil, fmt.Errorf("%w: stored %s != %s", ErrModeMismatch, state.Mode, job.Mode)
			}
			return state, nil
		case !errors.Is(err, xstate.ErrNotFound):
			return nil, fmt.Errorf("xingest: load state %s: %w", key, err)
		}
	}

	state := xstate.New(job.Endpoint, job.Mode, o.now())
	if job.SeedFromSink && job.Mode == xpage.ModeCursor {
		maxKey, ok, err := job.Sink.MaxKey(ctx, job.CursorField)
		if err != nil {
			return nil, fmt.Errorf("xingest: seed cursor for %s: %w", key, err)
		}
		if ok {
			count, err := job.Sink.Count(ctx)
			if err != nil {
				return nil, fmt.Errorf("xingest: seed count for %s: %w", key, err)
			}
			state.LastCursor = maxKey
			state.HasCursor = true
			state.TotalFetched = count
			o.logger.Info(ctx, "cursor seeded from sink", xlog.Endpoint(key), xlog.Cursor(maxKey), xlog.Count(count))
		}
	}
	return state, nil
}

// reopen 让已结束的流继续拉取新数据。
// 偏移模式回退到最后一个非空页，该页可能未满，重复的记录由去重过滤。
func (o *Orchestrator) reopen(state *xstate.State, pageSize int) {
	if state.Mode == xpage.ModeOffset && state.ConsecutiveEmptyBatches > 0 {
		back := int64(state.ConsecutiveEmptyBatches+1) * int64(pageSize)
		state.LastSkip = max(state.LastSkip-back, 0)
		state.ConsecutiveEmptyBatches = 0
	}
	now := o.now()
	state.RunID = xstate.New(state.Endpoint, state.Mode, now).RunID
	state.StartedAt = now
	state.LastError = ""
	state.Transition(xstate.StatusIdle, now)
}

func (o *Orchestrator) loop(ctx context.Context, r *run) error {
	retryer := xretry.NewRetryer(o.policy, xretry.WithOnRetry(func(ctx context.Context, ev xretry.RetryEvent) {
		r.state.Retries++
		r.state.Transition(xstate.StatusRetrying, o.now())
		o.logger.Warn(ctx, "page fetch failed, retrying",
			xlog.Attempt(ev.Attempt), xlog.Category(ev.Category), xlog.Delay(ev.Delay),
			xlog.Cursor(r.state.LastCursor), xlog.Skip(r.state.LastSkip), xlog.Err(ev.Err))
		o.save(ctx, r)
	}))

	for !r.strategy.Terminated() {
		if err := ctx.Err(); err != nil {
			return err
		}
		req := r.strategy.Next()
		r.lastReq = req
		r.state.Transition(xstate.StatusFetching, o.now())

		page, err := xretry.DoWithResult(ctx, retryer, func(ctx context.Context, _ int) (*xfetch.Page, error) {
			r.state.Requests++
			return o.fetcher.FetchPage(ctx, r.job.Endpoint, req)
		})
		if err != nil {
			return err
		}
		if err := o.accept(ctx, r, page); err != nil {
			return err
		}
	}
	return nil
}

// accept 去重、写入并推进状态。只有写入成功后才修改游标与计数。
func (o *Orchestrator) accept(ctx context.Context, r *run, page *xfetch.Page) (err error) {
	r.state.Transition(xstate.StatusAccepting, o.now())
	ctx, span := xmetrics.Start(ctx, o.observer, xmetrics.SpanOptions{
		Component: "xingest",
		Operation: "accept_page",
		Kind:      xmetrics.KindInternal,
		Attrs:     []xmetrics.Attr{xmetrics.Stream(r.key)},
	})
	var inserted int
	defer func() {
		span.End(xmetrics.Result{Err: err, Records: int64(inserted)})
	}()

	if r.total == nil && page.Total != nil {
		total := *page.Total
		r.total = &total
	}

	fresh, keys, err := r.seen.filter(ctx, r.job.Sink, r.job.PrimaryKey, page.Records)
	if err != nil {
		return fmt.Errorf("xingest: dedup page: %w", err)
	}
	// 先推进策略：没有推进游标的页不能写入
	if err := r.strategy.Advance(page.Records); err != nil {
		return fmt.Errorf("xingest: advance pagination: %w", err)
	}
	if len(fresh) > 0 {
		inserted, err = r.job.Sink.Upsert(ctx, fresh, r.job.PrimaryKey)
		if err != nil {
			return fmt.Errorf("xingest: sink upsert: %w", err)
		}
	}
	r.seen.remember(keys)

	dups := int64(len(page.Records) - inserted)
	r.received += int64(len(page.Records))
	r.state.TotalFetched += int64(inserted)
	r.state.Duplicates += dups
	r.result.Fetched += int64(inserted)
	r.result.Duplicates += dups
	if len(page.Records) > 0 {
		r.state.Pages++
		r.result.Pages++
	}
	r.state.ApplyCheckpoint(r.strategy.Checkpoint())
	r.state.LastError = ""
	r.state.UpdatedAt = o.now()

	o.logger.Debug(ctx, "page accepted", xlog.Count(int64(inserted)),
		xlog.Cursor(r.state.LastCursor), xlog.Skip(r.state.LastSkip))
	if o.store != nil {
		if serr := o.store.Save(ctx, r.key, r.state.Clone()); serr != nil {
			return fmt.Errorf("xingest: save state: %w", serr)
		}
	}
	return nil
}

// finish 标记结束并做完整性检查。
func (o *Orchestrator) finish(ctx context.Context, r *run) error {
	r.state.Transition(xstate.StatusTerminated, o.now())
	if o.store != nil {
		if err := o.store.Save(ctx, r.key, r.state.Clone()); err != nil {
			return o.fail(ctx, r, fmt.Errorf("xingest: save state: %w", err))
		}
	}

	if w := o.completeness(r); w != nil {
		r.result.Warnings = append(r.result.Warnings, w)
		o.logger.Warn(ctx, "dataset may be incomplete", xlog.Err(w))
	}
	o.logger.Info(ctx, "stream terminated", xlog.Count(r.state.TotalFetched),
		xlog.Cursor(r.state.LastCursor), xlog.Skip(r.state.LastSkip))
	return nil
}

// completeness 比较期望总数与实际数量。
// 游标模式下 @odata.count 只统计游标之后的数据，与本次收到的记录数比较。
func (o *Orchestrator) completeness(r *run) error {
	var expected, fetched int64
	switch {
	case r.job.ExpectedTotal != nil:
		expected, fetched = *r.job.ExpectedTotal, r.state.TotalFetched
	case r.total != nil && r.job.Mode == xpage.ModeCursor:
		expected, fetched = *r.total, r.received
	case r.total != nil:
		expected, fetched = *r.total, r.state.TotalFetched
	default:
		return nil
	}
	if expected == fetched {
		return nil
	}
	return &xfault.IncompleteDatasetWarning{
		Endpoint: xfetch.EndpointKey(r.job.Endpoint),
		Expected: expected,
		Fetched:  fetched,
	}
}

// fail 标记失败并持久化可续跑状态。
func (o *Orchestrator) fail(ctx context.Context, r *run, cause error) error {
	r.state.LastError = cause.Error()
	r.state.Transition(xstate.StatusFailed, o.now())
	o.save(context.WithoutCancel(ctx), r)

	o.logger.Error(ctx, "stream failed", xlog.Category(xfault.Classify(cause)),
		xlog.Cursor(r.state.LastCursor), xlog.Skip(r.state.LastSkip), xlog.Count(r.state.TotalFetched),
		xlog.Err(cause))
	return &RunError{
		Stream:   r.key,
		Endpoint: r.job.Endpoint,
		Request:  r.lastReq,
		State:    r.state.Clone(),
		Err:      cause,
	}
}

// save 尽力保存，失败只记录日志。
func (o *Orchestrator) save(ctx context.Context, r *run) {
	if o.store == nil {
		return
	}
	if err := o.store.Save(ctx, r.key, r.state.Clone()); err != nil {
		o.logger.Warn(ctx, "save state failed", xlog.Err(err))
	}
}
