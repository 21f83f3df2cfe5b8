package xfetch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xingest/pkg/ingest/xfault"
	"github.com/omeyang/xingest/pkg/ingest/xpage"
	"github.com/omeyang/xingest/pkg/observability/xmetrics"
	"github.com/omeyang/xingest/pkg/resilience/xbreaker"
)

type recordingObserver struct {
	mu      sync.Mutex
	results []xmetrics.Result
}

func (o *recordingObserver) Start(ctx context.Context, _ xmetrics.SpanOptions) (context.Context, xmetrics.Span) {
	return ctx, &recordingSpan{o: o}
}

type recordingSpan struct{ o *recordingObserver }

func (s *recordingSpan) End(r xmetrics.Result) {
	s.o.mu.Lock()
	defer s.o.mu.Unlock()
	s.o.results = append(s.o.results, r)
}

type countingLimiter struct {
	calls atomic.Int32
	err   error
}

func (l *countingLimiter) Wait(context.Context) error {
	l.calls.Add(1)
	return l.err
}

func newFetcher(t *testing.T, threshold uint32, opts ...Option) (*Fetcher, *xbreaker.Registry) {
	t.Helper()
	reg := xbreaker.NewRegistry(
		xbreaker.WithFailureThreshold(threshold),
		xbreaker.WithRecoveryTimeout(time.Hour),
	)
	f, err := New(reg, opts...)
	require.NoError(t, err)
	return f, reg
}

func cursorRequest() xpage.Request {
	return xpage.Request{Mode: xpage.ModeCursor, CursorField: "Id", CursorValue: json.Number("200"), HasCursor: true, Top: 100}
}

func TestFetchPage_Success(t *testing.T) {
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("$filter") + "|" + r.URL.Query().Get("$orderby") + "|" + r.URL.Query().Get("$top")
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"@odata.count": 350, "value": [{"Id": 201, "Name": "a"}, {"Id": 202.5}],
			"@odata.nextLink": "https://next"}`))
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	limiter := &countingLimiter{}
	f, reg := newFetcher(t, 5, WithHeader("Authorization", "Bearer t"), WithLimiter(limiter), WithObserver(obs))

	page, err := f.FetchPage(context.Background(), srv.URL+"/odata/Orders", cursorRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, page.Count)
	assert.Equal(t, json.Number("201"), page.Records[0]["Id"])
	assert.Equal(t, json.Number("202.5"), page.Records[1]["Id"])
	require.NotNil(t, page.Total)
	assert.EqualValues(t, 350, *page.Total)
	assert.Equal(t, "https://next", page.NextLink)
	assert.Contains(t, page.URL, "/odata/Orders?")

	assert.Equal(t, "Id gt 200|Id asc|100", gotQuery)
	assert.Equal(t, "Bearer t", gotAuth)
	assert.EqualValues(t, 1, limiter.calls.Load())
	assert.Equal(t, "closed", reg.Get(EndpointKey(srv.URL+"/odata/Orders")).State().String())

	require.Len(t, obs.results, 1)
	assert.EqualValues(t, 2, obs.results[0].Records)
	assert.NoError(t, obs.results[0].Err)
}

func TestFetchPage_EmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"odata.count": "0", "value": []}`))
	}))
	defer srv.Close()

	f, _ := newFetcher(t, 5)
	page, err := f.FetchPage(context.Background(), srv.URL, xpage.Request{Mode: xpage.ModeOffset, Top: 10})
	require.NoError(t, err)
	assert.Zero(t, page.Count)
	assert.Empty(t, page.Records)
	require.NotNil(t, page.Total)
	assert.Zero(t, *page.Total)
}

func TestFetchPage_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		category xfault.Category
	}{
		{"server 503", http.StatusServiceUnavailable, "down", xfault.CategoryServer},
		{"throttled 429", http.StatusTooManyRequests, "", xfault.CategoryServer},
		{"client 400", http.StatusBadRequest, "invalid $filter", xfault.CategoryClient},
		{"empty body", http.StatusOK, "  ", xfault.CategoryUnknown},
		{"not json", http.StatusOK, "<html>", xfault.CategoryUnknown},
		{"array payload", http.StatusOK, "[1,2]", xfault.CategoryUnknown},
		{"null payload", http.StatusOK, "null", xfault.CategoryUnknown},
		{"missing value", http.StatusOK, `{"error": "x"}`, xfault.CategoryUnknown},
		{"value not array", http.StatusOK, `{"value": {}}`, xfault.CategoryUnknown},
		{"item not object", http.StatusOK, `{"value": [1]}`, xfault.CategoryUnknown},
		{"trailing data", http.StatusOK, `{"value": []} {}`, xfault.CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			f, reg := newFetcher(t, 5)
			_, err := f.FetchPage(context.Background(), srv.URL, xpage.Request{Mode: xpage.ModeOffset, Top: 10, Skip: 20})
			require.Error(t, err)

			var fe *xfault.FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.category, fe.Category)
			assert.Equal(t, tt.category, xfault.Classify(err))
			assert.Equal(t, "20", fe.Params.Get("$skip"))
			assert.Equal(t, tt.status, fe.StatusCode)
			assert.Equal(t, 1, reg.Get(EndpointKey(srv.URL)).Snapshot().FailureCount)
		})
	}
}

func TestFetchPage_ClientErrorKeepsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Invalid filter clause", http.StatusBadRequest)
	}))
	defer srv.Close()

	f, _ := newFetcher(t, 5)
	_, err := f.FetchPage(context.Background(), srv.URL, cursorRequest())
	var se *xfault.StatusError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Body, "Invalid filter clause")
	assert.True(t, xfault.IsClient(err))
}

func TestFetchPage_CircuitOpensAndRefuses(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	f, reg := newFetcher(t, 2, WithObserver(obs))
	req := xpage.Request{Mode: xpage.ModeOffset, Top: 10}

	for range 2 {
		_, err := f.FetchPage(context.Background(), srv.URL+"/odata/Items/", req)
		require.Error(t, err)
	}
	key := EndpointKey(srv.URL + "/odata/Items")
	assert.Equal(t, xbreaker.StateOpen, reg.Get(key).State())

	_, err := f.FetchPage(context.Background(), srv.URL+"/odata/Items", req)
	require.Error(t, err)
	assert.True(t, xfault.IsCircuitOpen(err))
	assert.False(t, xfault.IsClient(err))
	assert.EqualValues(t, 2, hits.Load())
	assert.Equal(t, 2, reg.Get(key).Snapshot().FailureCount)

	require.Len(t, obs.results, 3)
	assert.Equal(t, xmetrics.StatusRejected, obs.results[2].Status)
}

func TestFetchPage_CallerCancelDoesNotCount(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	f, reg := newFetcher(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := f.FetchPage(ctx, srv.URL, cursorRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	b := reg.Get(EndpointKey(srv.URL))
	assert.Equal(t, xbreaker.StateClosed, b.State())
	assert.Zero(t, b.Snapshot().FailureCount)
}

func TestFetchPage_AttemptTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	f, reg := newFetcher(t, 5, WithRequestTimeout(30*time.Millisecond))
	_, err := f.FetchPage(context.Background(), srv.URL, cursorRequest())
	require.Error(t, err)
	assert.Equal(t, xfault.CategoryTimeout, xfault.Classify(err))
	assert.Equal(t, 1, reg.Get(EndpointKey(srv.URL)).Snapshot().FailureCount)
}

func TestFetchPage_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f, _ := newFetcher(t, 5)
	_, err := f.FetchPage(context.Background(), url, cursorRequest())
	require.Error(t, err)
	assert.Equal(t, xfault.CategoryNetwork, xfault.Classify(err))
}

func TestFetchPage_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"value": [{"Id": 1}, {"Id": 2}, {"Id": 3}]}`))
	}))
	defer srv.Close()

	f, _ := newFetcher(t, 5, WithMaxBodyBytes(16))
	_, err := f.FetchPage(context.Background(), srv.URL, cursorRequest())
	var de *xfault.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Contains(t, de.Reason, "exceeds")
}

func TestFetchPage_LimiterError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	limiter := &countingLimiter{err: context.DeadlineExceeded}
	f, reg := newFetcher(t, 5, WithLimiter(limiter))
	_, err := f.FetchPage(context.Background(), srv.URL, cursorRequest())
	require.Error(t, err)
	assert.Equal(t, xfault.CategoryTimeout, xfault.Classify(err))
	assert.Zero(t, hits.Load())
	assert.Zero(t, reg.Len())
}

func TestFetchPage_InvalidRequest(t *testing.T) {
	f, _ := newFetcher(t, 5)

	_, err := f.FetchPage(context.Background(), "http://example.com/odata", xpage.Request{Mode: xpage.ModeCursor})
	assert.True(t, xfault.IsClient(err))
	assert.ErrorIs(t, err, xpage.ErrMissingCursorField)

	_, err = f.FetchPage(context.Background(), "ftp://example.com/odata", cursorRequest())
	assert.True(t, xfault.IsClient(err))
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilRegistry)

	reg := xbreaker.NewRegistry()
	f, err := New(reg, nil, WithHTTPClient(nil), WithRequestTimeout(-1), WithMaxBodyBytes(0), WithLogger(nil))
	require.NoError(t, err)
	assert.Same(t, reg, f.Registry())
	assert.Equal(t, DefaultRequestTimeout, f.timeout)
	assert.Equal(t, DefaultMaxBodyBytes, f.maxBody)
}

func TestFetchPage_SharedBreakerAcrossStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, reg := newFetcher(t, 4)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.FetchPage(context.Background(), srv.URL+"/odata/Orders?$expand=Lines", cursorRequest())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, xbreaker.StateOpen, reg.Get(EndpointKey(srv.URL+"/odata/Orders")).State())
}
