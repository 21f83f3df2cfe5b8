package xbreaker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contextCanceled() error { return context.Canceled }

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry(WithFailureThreshold(2))
	a := r.Get("host/a")
	assert.Same(t, a, r.Get("host/a"))
	assert.NotSame(t, a, r.Get("host/b"))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2, a.Threshold())
}

func TestRegistry_ConcurrentGet(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	seen := make([]*Breaker, 64)
	for i := range seen {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen[i] = r.Get("shared")
		}()
	}
	wg.Wait()
	for _, b := range seen {
		assert.Same(t, seen[0], b)
	}
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_IsolatesEndpoints(t *testing.T) {
	r := NewRegistry(WithFailureThreshold(2), WithRecoveryTimeout(time.Hour))
	r.RecordFailure("host/orders")
	r.RecordFailure("host/orders")

	_, err := r.Allow("host/orders")
	assert.Error(t, err)

	a, err := r.Allow("host/customers")
	require.NoError(t, err)
	a.Success()

	r.RecordSuccess("host/customers")
	assert.Equal(t, StateClosed, r.Get("host/customers").State())
}

func TestRegistry_RecordOnOpenBreakerIgnored(t *testing.T) {
	r := NewRegistry(WithFailureThreshold(1), WithRecoveryTimeout(time.Hour))
	r.RecordFailure("k")
	r.RecordFailure("k")
	r.RecordSuccess("k")
	snap := r.Get("k").Snapshot()
	assert.Equal(t, "open", snap.State)
	assert.Equal(t, 1, snap.FailureCount)
}

func TestRegistry_Snapshots(t *testing.T) {
	r := NewRegistry()
	for _, k := range []string{"c", "a", "b"} {
		r.Get(k)
	}
	snaps := r.Snapshots()
	require.Len(t, snaps, 3)
	var names []string
	for _, s := range snaps {
		names = append(names, s.Name)
		assert.Equal(t, "closed", s.State)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func BenchmarkRegistry_Allow(b *testing.B) {
	r := NewRegistry()
	keys := make([]string, 16)
	for i := range keys {
		keys[i] = fmt.Sprintf("host/entity%d", i)
	}
	b.ResetTimer()
	for i := 0; b.Loop(); i++ {
		a, err := r.Allow(keys[i%len(keys)])
		if err == nil {
			a.Success()
		}
	}
}
