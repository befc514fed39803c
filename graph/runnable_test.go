package graph

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/health"
	"github.com/flexrobotics/roboflex/metric"
)

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunnable_StartStop(t *testing.T) {
	r := NewRunnable("loop", blockUntilDone)
	assert.Equal(t, StateIdle, r.State())

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, StateRunning, r.State())
	assert.True(t, r.Health().IsHealthy())

	err := r.Start(context.Background())
	require.Error(t, err)
	var le *errors.LifecycleError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "loop", le.Node)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	require.NoError(t, r.Stop())
	assert.Equal(t, StateStopped, r.State())
	assert.NoError(t, r.Err(), "cancellation is a clean stop")

	require.NoError(t, r.Stop(), "second stop is a no-op")
}

func TestRunnable_StopWhenIdle(t *testing.T) {
	r := NewRunnable("idle", blockUntilDone)
	require.NoError(t, r.Stop())
	assert.Equal(t, StateIdle, r.State())
	require.NoError(t, r.Wait())
}

func TestRunnable_Restart(t *testing.T) {
	var runs atomic.Int32
	r := NewRunnable("restart", func(ctx context.Context) error {
		runs.Add(1)
		return blockUntilDone(ctx)
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Start(context.Background()))
		require.NoError(t, r.Stop())
	}
	assert.Equal(t, int32(3), runs.Load())
	assert.Equal(t, StateStopped, r.State())
}

func TestRunnable_LoopReturnsOnItsOwn(t *testing.T) {
	boom := stderrors.New("sensor unplugged")
	r := NewRunnable("once", func(context.Context) error { return boom })

	require.NoError(t, r.Start(context.Background()))
	err := r.Wait()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateStopped, r.State())

	status := r.Health()
	assert.True(t, status.IsUnhealthy())
	require.NotNil(t, status.Metrics)
	assert.Equal(t, int64(1), status.Metrics.ErrorCount)

	// stopping a finished loop returns at once
	require.NoError(t, r.Stop())
}

func TestRunnable_PanicIsRecovered(t *testing.T) {
	r := NewRunnable("panicky", func(context.Context) error {
		panic("bad frame")
	})

	require.NoError(t, r.Start(context.Background()))
	err := r.Wait()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), "bad frame")
	assert.Equal(t, StateStopped, r.State())
}

func TestRunnable_RunInline(t *testing.T) {
	var r *Runnable
	r = NewRunnable("inline", func(ctx context.Context) error {
		assert.Equal(t, StateRunning, r.State())
		return r.Signal(ctx, "done")
	})
	sink := newRecorder("sink", nil)
	g := New()
	require.NoError(t, g.Connect(r, sink))

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, StateStopped, r.State())
}

func TestRunnable_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunnable("child", blockUntilDone)
	require.NoError(t, r.Start(ctx))

	cancel()
	done := make(chan error, 1)
	go func() { done <- r.Wait() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop ignored parent cancellation")
	}
	assert.Equal(t, StateStopped, r.State())
}

func TestGraph_StartAllStopAll(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	g := New(WithMetrics(registry))

	a := NewRunnable("a", blockUntilDone)
	b := NewRunnable("b", blockUntilDone)
	sink := NewBase("sink")
	require.NoError(t, g.Chain(a, b, sink))

	require.NoError(t, g.StartAll(context.Background()))
	assert.Equal(t, StateRunning, a.State())
	assert.Equal(t, StateRunning, b.State())

	nodeState := registry.CoreMetrics().NodeState
	assert.Equal(t, float64(StateRunning), testutil.ToFloat64(nodeState.WithLabelValues("a")))

	status := g.Health()
	assert.True(t, status.IsHealthy())
	assert.Len(t, status.Children, 2)

	require.NoError(t, g.StopAll())
	assert.Equal(t, StateStopped, a.State())
	assert.Equal(t, StateStopped, b.State())
	assert.Equal(t, float64(StateStopped), testutil.ToFloat64(nodeState.WithLabelValues("b")))
}

func TestGraph_StartAllRollsBack(t *testing.T) {
	g := New()
	first := NewRunnable("first", blockUntilDone)
	later := NewRunnable("later", blockUntilDone)
	require.NoError(t, g.Connect(first, later))

	// first is started last; make it fail by starting it already
	require.NoError(t, first.Start(context.Background()))
	defer first.Stop()

	err := g.StartAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
	assert.Equal(t, StateStopped, later.State(), "started nodes are stopped again")
}

func TestGraph_HealthDegradesOnFailure(t *testing.T) {
	g := New()
	ok := NewRunnable("ok", blockUntilDone)
	failing := NewRunnable("failing", func(context.Context) error {
		return stderrors.New("lost lidar")
	})
	require.NoError(t, g.Connect(ok, failing))
	require.NoError(t, g.StartAll(context.Background()))
	defer g.Close()

	require.Error(t, failing.Wait())
	status := g.Health()
	assert.False(t, status.IsHealthy())

	var names []string
	for _, c := range status.Children {
		names = append(names, c.Name)
		if c.Name == "failing" {
			assert.Equal(t, health.StateUnhealthy, c.State)
		}
	}
	assert.ElementsMatch(t, []string{"ok", "failing"}, names)
}
