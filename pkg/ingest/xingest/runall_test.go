package xingest

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xingest/pkg/ingest/xfault"
	"github.com/omeyang/xingest/pkg/ingest/xfetch"
	"github.com/omeyang/xingest/pkg/ingest/xsink"
	"github.com/omeyang/xingest/pkg/ingest/xstate"
)

func TestRunAll(t *testing.T) {
	good := newODataServer(t, 350, 100)
	bad := newODataServer(t, 100, 100)
	bad.fail = func(int32) int { return http.StatusServiceUnavailable }

	f, reg := newFetcher(t, 3)
	o := newOrchestrator(t, f)

	goodJob := cursorJob(good.endpoint(), xsink.NewMemorySink())
	goodJob.Name = "good"
	badJob := cursorJob(bad.endpoint()+"/Bad", xsink.NewMemorySink())
	badJob.Name = "bad"

	results, err := RunAll(context.Background(), o, []Job{badJob, goodJob})
	require.Error(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "bad", results[0].Job.Name)
	require.Error(t, results[0].Err)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, "bad", runErr.Stream)
	assert.Equal(t, xstate.StatusFailed, results[0].Result.State.Status)

	require.NoError(t, results[1].Err)
	assert.Equal(t, xstate.StatusTerminated, results[1].Result.State.Status)
	assert.Equal(t, int64(350), results[1].Result.State.TotalFetched)

	// 两个端点各自一个熔断器，坏端点不影响好端点
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, 0, reg.Get(xfetch.EndpointKey(good.endpoint())).Snapshot().FailureCount)
	assert.True(t, xfault.IsCircuitOpen(results[0].Err) || xfault.Classify(results[0].Err) == xfault.CategoryServer)
}

func TestRunAll_Empty(t *testing.T) {
	o := newOrchestrator(t, &scriptedFetcher{})
	results, err := RunAll(context.Background(), o, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = RunAll(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNilOrchestrator)
}
