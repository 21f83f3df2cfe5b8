package xfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/omeyang/xingest/pkg/ingest/xfault"
	"github.com/omeyang/xingest/pkg/ingest/xpage"
	"github.com/omeyang/xingest/pkg/observability/xlog"
	"github.com/omeyang/xingest/pkg/observability/xmetrics"
	"github.com/omeyang/xingest/pkg/resilience/xbreaker"
)

const (
	// DefaultRequestTimeout 单次尝试的超时
	DefaultRequestTimeout = 45 * time.Second
	// DefaultMaxBodyBytes 响应体上限
	DefaultMaxBodyBytes int64 = 64 << 20

	userAgent = "xingest/1.0"
)

// ErrNilRegistry New 的 registry 为 nil。
var ErrNilRegistry = errors.New("xfetch: breaker registry is nil")

// Limiter 请求预算，xlimit.Local 与 xlimit.Redis 均满足。
type Limiter interface {
	Wait(ctx context.Context) error
}

// Option Fetcher 配置项。
type Option func(*Fetcher)

// WithHTTPClient 设置 HTTP 客户端，nil 忽略。
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithRequestTimeout 设置单次尝试超时，非正值忽略。
func WithRequestTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithHeader 为每个请求附加请求头，如鉴权。
func WithHeader(key, value string) Option {
	return func(f *Fetcher) {
		f.headers.Set(key, value)
	}
}

// WithLimiter 每次尝试前等待限流。
func WithLimiter(l Limiter) Option {
	return func(f *Fetcher) {
		f.limiter = l
	}
}

// WithObserver 设置观测器
func WithObserver(o xmetrics.Observer) Option {
	return func(f *Fetcher) {
		f.observer = o
	}
}

// WithLogger 设置日志
func WithLogger(l xlog.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithMaxBodyBytes 设置响应体上限，非正值忽略。
func WithMaxBodyBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

// Fetcher OData 页面抓取器，可被多个流并发使用。
type Fetcher struct {
	registry *xbreaker.Registry
	client   *http.Client
	timeout  time.Duration
	headers  http.Header
	limiter  Limiter
	observer xmetrics.Observer
	logger   xlog.Logger
	maxBody  int64
}

// New 创建抓取器。
func New(registry *xbreaker.Registry, opts ...Option) (*Fetcher, error) {
	if registry == nil {
		return nil, ErrNilRegistry
	}
	f := &Fetcher{
		registry: registry,
		client:   http.DefaultClient,
		timeout:  DefaultRequestTimeout,
		headers:  make(http.Header),
		observer: xmetrics.NoopObserver{},
		logger:   xlog.Discard(),
		maxBody:  DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.logger = f.logger.With(xlog.Component("xfetch"))
	return f, nil
}

// Registry 返回共享的熔断器注册表
func (f *Fetcher) Registry() *xbreaker.Registry { return f.registry }

// FetchPage 执行一次页面抓取。失败时返回 *xfault.FetchError。
func (f *Fetcher) FetchPage(ctx context.Context, endpoint string, req xpage.Request) (_ *Page, err error) {
	key := EndpointKey(endpoint)
	params, err := xpage.Query(req)
	if err != nil {
		return nil, &xfault.FetchError{Category: xfault.CategoryClient, Endpoint: key, Err: err}
	}
	target, err := buildURL(endpoint, params)
	if err != nil {
		return nil, &xfault.FetchError{Category: xfault.CategoryClient, Endpoint: key, Params: params, Err: err}
	}

	ctx, span := xmetrics.Start(ctx, f.observer, xmetrics.SpanOptions{
		Component: "xfetch",
		Operation: "fetch_page",
		Kind:      xmetrics.KindClient,
		Attrs:     []xmetrics.Attr{xmetrics.Endpoint(key), xmetrics.String(xmetrics.AttrMode, string(req.Mode))},
	})
	var records int64
	defer func() {
		result := xmetrics.Result{Err: err, Records: records}
		if xfault.IsCircuitOpen(err) {
			result.Status = xmetrics.StatusRejected
		}
		span.End(result)
	}()

	fail := func(cat xfault.Category, status int, cause error) error {
		return &xfault.FetchError{
			Category:   cat,
			Endpoint:   key,
			URL:        target,
			Params:     params,
			StatusCode: status,
			Err:        cause,
		}
	}

	if f.limiter != nil {
		if werr := f.limiter.Wait(ctx); werr != nil {
			return nil, fail(xfault.Classify(werr), 0, werr)
		}
	}

	attempt, aerr := f.registry.Allow(key)
	if aerr != nil {
		f.logger.Debug(ctx, "attempt refused by circuit breaker", xlog.Endpoint(key), xlog.Err(aerr))
		return nil, fail(xfault.CategoryUnknown, 0, aerr)
	}

	start := time.Now()
	body, status, derr := f.do(ctx, target)
	if derr == nil {
		var page *Page
		page, derr = decodePage(body)
		if derr == nil {
			attempt.Success()
			page.URL = target
			records = int64(page.Count)
			f.logger.Debug(ctx, "page fetched", xlog.Endpoint(key), xlog.Count(records),
				xlog.StatusCode(status), xlog.Duration(time.Since(start)))
			return page, nil
		}
	}

	if ctx.Err() != nil {
		// 调用方取消，不是端点的故障
		attempt.Release()
		return nil, fail(xfault.Classify(derr), status, derr)
	}
	cat := xfault.Classify(derr)
	attempt.FailureWith(derr)
	f.logger.Debug(ctx, "page fetch failed", xlog.Endpoint(key), xlog.Category(cat),
		xlog.StatusCode(status), xlog.Duration(time.Since(start)), xlog.Err(derr))
	return nil, fail(cat, status, derr)
}

// do 发送请求并读取响应体，非 2xx 返回 *xfault.StatusError。
func (f *Fetcher) do(ctx context.Context, target string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("xfetch: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, vs := range f.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug(ctx, "close response body", xlog.Err(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, xfault.NewStatusError(resp.StatusCode, resp.Status, body)
	}
	if int64(len(body)) > f.maxBody {
		return nil, resp.StatusCode, &xfault.DecodeError{
			Reason: fmt.Sprintf("body exceeds %d bytes", f.maxBody),
		}
	}
	return body, resp.StatusCode, nil
}

