package forward

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devguard/internal/audit"
	"devguard/internal/audit/metrics"
)

type fakeSink struct {
	mu   sync.Mutex
	got  []audit.Record
	err  error
	seen chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{seen: make(chan struct{}, 64)}
}

func (f *fakeSink) Forward(_ context.Context, rec audit.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen <- struct{}{}
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, rec)
	return nil
}

func (f *fakeSink) records() []audit.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]audit.Record(nil), f.got...)
}

func waitCalls(t *testing.T, f *fakeSink, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("sink saw %d of %d calls", i, n)
		}
	}
}

func TestNewRequiresSink(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestForwarder_DeliversInOrder(t *testing.T) {
	sink := newFakeSink()
	f, err := New(sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	for _, op := range []string{"workflow_start", "step_start", "workflow_complete"} {
		f.Export(audit.Record{Operation: op})
	}
	waitCalls(t, sink, 3)
	cancel()
	require.NoError(t, <-done)

	got := sink.records()
	require.Len(t, got, 3)
	assert.Equal(t, "workflow_start", got[0].Operation)
	assert.Equal(t, "workflow_complete", got[2].Operation)
}

func TestForwarder_DropsWhenBufferFull(t *testing.T) {
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	f, err := New(newFakeSink(), WithBufferSize(1), WithMetrics(m))
	require.NoError(t, err)

	f.Export(audit.Record{Operation: "a"})
	f.Export(audit.Record{Operation: "b"})

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ForwardDropped))
}

func TestForwarder_FlushesOnShutdown(t *testing.T) {
	sink := newFakeSink()
	f, err := New(sink)
	require.NoError(t, err)

	f.Export(audit.Record{Operation: "pending"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.Run(ctx))

	assert.Len(t, sink.records(), 1)
}

func TestForwarder_BreakerOpensAfterFailures(t *testing.T) {
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	sink := newFakeSink()
	sink.err = errors.New("broker down")
	f, err := New(sink, WithMetrics(m), WithBreaker(2, time.Hour))
	require.NoError(t, err)

	ctx := context.Background()
	f.send(ctx, audit.Record{Operation: "1"})
	f.send(ctx, audit.Record{Operation: "2"})
	f.send(ctx, audit.Record{Operation: "3"})

	assert.Len(t, sink.seen, 2, "third record is dropped without calling the sink")
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ForwardFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ForwardDropped))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ForwardBreakerOpen))
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newBreaker(1, time.Minute)
	b.now = func() time.Time { return now }

	assert.True(t, b.allow())
	assert.True(t, b.failure())
	assert.False(t, b.allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, b.allow(), "one trial call after cooldown")
	assert.False(t, b.allow(), "cooldown re-armed until the trial call reports")

	b.success()
	assert.False(t, b.isOpen())
	assert.True(t, b.allow())
}
