package xingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omeyang/xingest/pkg/ingest/xfetch"
	"github.com/omeyang/xingest/pkg/ingest/xpage"
	"github.com/omeyang/xingest/pkg/ingest/xsink"
	"github.com/omeyang/xingest/pkg/observability/xmetrics"
	"github.com/omeyang/xingest/pkg/resilience/xbreaker"
	"github.com/omeyang/xingest/pkg/resilience/xretry"
)

var cursorFilter = regexp.MustCompile(`Id gt (\d+)`)

// odataServer 模拟 OData 端点：Id 从 1 到 total 单调递增，每页最多 pageCap 条。
type odataServer struct {
	total   atomic.Int32
	pageCap int
	// emptySkip 偏移模式下返回空页的 $skip
	emptySkip map[int64]bool
	// count 覆盖 @odata.count
	count *int64
	// fail 按请求序号（从 1 开始）返回错误状态码，0 表示正常响应
	fail func(n int32) int

	hits atomic.Int32
	srv  *httptest.Server
}

func newODataServer(t *testing.T, total, pageCap int) *odataServer {
	t.Helper()
	s := &odataServer{pageCap: pageCap}
	s.total.Store(int32(total))
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *odataServer) endpoint() string { return s.srv.URL + "/odata/Orders" }

func (s *odataServer) handle(w http.ResponseWriter, r *http.Request) {
	n := s.hits.Add(1)
	if s.fail != nil {
		if code := s.fail(n); code != 0 {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"error":{"message":"injected"}}`))
			return
		}
	}

	q := r.URL.Query()
	top, _ := strconv.Atoi(q.Get("$top"))
	if top <= 0 || top > s.pageCap {
		top = s.pageCap
	}
	skip, _ := strconv.ParseInt(q.Get("$skip"), 10, 64)
	after := 0
	if m := cursorFilter.FindStringSubmatch(q.Get("$filter")); m != nil {
		after, _ = strconv.Atoi(m[1])
	}

	total := int(s.total.Load())
	records := []map[string]any{}
	if !s.emptySkip[skip] {
		for id := after + int(skip) + 1; id <= total && len(records) < top; id++ {
			records = append(records, map[string]any{"Id": id, "Name": fmt.Sprintf("row-%d", id)})
		}
	}
	body := map[string]any{"value": records}
	if q.Get("$count") == "true" {
		c := int64(max(total-after, 0))
		if s.count != nil {
			c = *s.count
		}
		body["@odata.count"] = c
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// newFetcher 创建使用独立连接池的抓取器，测试结束时关闭空闲连接。
func newFetcher(t *testing.T, threshold uint32) (*xfetch.Fetcher, *xbreaker.Registry) {
	t.Helper()
	tr := &http.Transport{}
	t.Cleanup(tr.CloseIdleConnections)
	reg := xbreaker.NewRegistry(
		xbreaker.WithFailureThreshold(threshold),
		xbreaker.WithRecoveryTimeout(time.Hour),
	)
	f, err := xfetch.New(reg,
		xfetch.WithHTTPClient(&http.Client{Transport: tr}),
		xfetch.WithRequestTimeout(5*time.Second),
	)
	require.NoError(t, err)
	return f, reg
}

func fastPolicy(maxAttempts int) *xretry.Policy {
	return xretry.NewPolicy(
		xretry.WithMaxAttempts(maxAttempts),
		xretry.WithBaseDelay(time.Millisecond),
		xretry.WithMaxDelay(2*time.Millisecond),
		xretry.WithJitter(0),
	)
}

func newOrchestrator(t *testing.T, f PageFetcher, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(f, append([]Option{WithPolicy(fastPolicy(5))}, opts...)...)
	require.NoError(t, err)
	return o
}

func cursorJob(endpoint string, sink xsink.Sink) Job {
	return Job{
		Name:        "orders",
		Endpoint:    endpoint,
		Sink:        sink,
		PrimaryKey:  "Id",
		Mode:        xpage.ModeCursor,
		CursorField: "Id",
		PageSize:    1000,
	}
}

func offsetJob(endpoint string, sink xsink.Sink, pageSize, emptyLimit int) Job {
	return Job{
		Name:            "orders",
		Endpoint:        endpoint,
		Sink:            sink,
		PrimaryKey:      "Id",
		Mode:            xpage.ModeOffset,
		OrderBy:         "Id",
		PageSize:        pageSize,
		EmptyBatchLimit: emptyLimit,
	}
}

// sinkKeys 返回 Sink 中每个主键出现的次数。
func sinkKeys(t *testing.T, sink *xsink.MemorySink) map[string]int {
	t.Helper()
	out := make(map[string]int)
	for _, r := range sink.Records() {
		k, err := xsink.PrimaryKey(r, "Id")
		require.NoError(t, err)
		out[k]++
	}
	return out
}

// scriptedFetcher 按顺序返回预设的页，用完后返回空页。
type scriptedFetcher struct {
	mu    sync.Mutex
	pages [][]xsink.Record
	reqs  []xpage.Request
}

func (f *scriptedFetcher) FetchPage(_ context.Context, _ string, req xpage.Request) (*xfetch.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if len(f.pages) == 0 {
		return &xfetch.Page{Records: []xsink.Record{}}, nil
	}
	recs := f.pages[0]
	f.pages = f.pages[1:]
	return &xfetch.Page{Records: recs, Count: len(recs)}, nil
}

func ids(vals ...int) []xsink.Record {
	out := make([]xsink.Record, len(vals))
	for i, v := range vals {
		out[i] = xsink.Record{"Id": json.Number(strconv.Itoa(v))}
	}
	return out
}

type recordingObserver struct {
	mu    sync.Mutex
	spans map[string][]xmetrics.Result
}

func (o *recordingObserver) Start(ctx context.Context, opts xmetrics.SpanOptions) (context.Context, xmetrics.Span) {
	return ctx, &recordingSpan{o: o, name: opts.Component + "." + opts.Operation}
}

func (o *recordingObserver) results(name string) []xmetrics.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.spans[name]
}

type recordingSpan struct {
	o    *recordingObserver
	name string
}

func (s *recordingSpan) End(r xmetrics.Result) {
	s.o.mu.Lock()
	defer s.o.mu.Unlock()
	if s.o.spans == nil {
		s.o.spans = make(map[string][]xmetrics.Result)
	}
	s.o.spans[s.name] = append(s.o.spans[s.name], r)
}

// hookSink 在 Upsert 前后插入行为。
type hookSink struct {
	*xsink.MemorySink
	before func(call int) error
	after  func(call int)
	calls  int
}

func (s *hookSink) Upsert(ctx context.Context, records []xsink.Record, pk string) (int, error) {
	s.calls++
	if s.before != nil {
		if err := s.before(s.calls); err != nil {
			return 0, err
		}
	}
	n, err := s.MemorySink.Upsert(ctx, records, pk)
	if s.after != nil {
		s.after(s.calls)
	}
	return n, err
}

type fakeLocker struct {
	err      error
	acquired []string
	released atomic.Int32
}

func (l *fakeLocker) Acquire(_ context.Context, key string) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired = append(l.acquired, key)
	return func(context.Context) error {
		l.released.Add(1)
		return nil
	}, nil
}
