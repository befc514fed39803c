package metric

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexrobotics/roboflex/errors"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})
	require.NoError(t, registry.RegisterCounter("camera", "test_counter", counter))
	counter.Inc()

	assert.True(t, gatheredNames(t, registry)["test_counter"])
}

func TestMetricsRegistry_RegisterVecs(t *testing.T) {
	registry := NewMetricsRegistry()

	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "cv_total", Help: "cv"}, []string{"k"})
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "gv", Help: "gv"}, []string{"k"})
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "hv", Help: "hv"}, []string{"k"})
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "h", Help: "h"})
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "g", Help: "g"})

	require.NoError(t, registry.RegisterCounterVec("imu", "cv", cv))
	require.NoError(t, registry.RegisterGaugeVec("imu", "gv", gv))
	require.NoError(t, registry.RegisterHistogramVec("imu", "hv", hv))
	require.NoError(t, registry.RegisterHistogram("imu", "h", h))
	require.NoError(t, registry.RegisterGauge("imu", "g", g))

	cv.WithLabelValues("a").Inc()
	gv.WithLabelValues("a").Set(1)
	hv.WithLabelValues("a").Observe(1)
	h.Observe(1)

	names := gatheredNames(t, registry)
	for _, n := range []string{"cv_total", "gv", "hv", "h", "g"} {
		assert.True(t, names[n], n)
	}
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	c1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "dup"})
	c2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_total", Help: "dup"})

	require.NoError(t, registry.RegisterCounter("motor", "dup", c1))

	err := registry.RegisterCounter("motor", "dup", c2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "already registered")

	// Different owner key but same prometheus name conflicts inside prometheus.
	err = registry.RegisterCounter("other", "dup", c2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "gone_total", Help: "gone"})
	require.NoError(t, registry.RegisterCounter("lidar", "gone", counter))

	assert.True(t, registry.Unregister("lidar", "gone"))
	assert.False(t, registry.Unregister("lidar", "gone"))
	assert.False(t, gatheredNames(t, registry)["gone_total"])

	// Re-registration after unregister is allowed.
	again := prometheus.NewCounter(prometheus.CounterOpts{Name: "gone_total", Help: "gone"})
	require.NoError(t, registry.RegisterCounter("lidar", "gone", again))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := prometheus.NewCounter(prometheus.CounterOpts{
				Name: fmt.Sprintf("concurrent_%d_total", i),
				Help: "concurrent",
			})
			errs <- registry.RegisterCounter(fmt.Sprintf("node-%d", i), "c", c)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestMetricsRegistry_CoreMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	core := registry.CoreMetrics()
	require.NotNil(t, core)

	core.RecordSignal("camera")
	core.RecordSignal("camera")
	core.RecordReceive("camera", 2*time.Millisecond)
	core.RecordReceiveError("camera", "invalid")
	core.RecordNodeState("camera", 1)
	core.RecordDecodeError("natsbus")
	core.RecordTransport("natsbus", "out", 128)
	core.RecordTransportError("natsbus", "publish")

	assert.Equal(t, 2.0, testutil.ToFloat64(core.SignalsTotal.WithLabelValues("camera")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.ReceiveErrors.WithLabelValues("camera", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.NodeState.WithLabelValues("camera")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.DecodeErrors.WithLabelValues("natsbus")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.TransportMessages.WithLabelValues("natsbus", "out")))
	assert.Equal(t, 128.0, testutil.ToFloat64(core.TransportBytes.WithLabelValues("natsbus", "out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(core.TransportErrors.WithLabelValues("natsbus", "publish")))

	names := gatheredNames(t, registry)
	assert.True(t, names["roboflex_graph_signals_total"])
	assert.True(t, names["roboflex_transport_bytes_total"])
	assert.True(t, names["go_goroutines"])
}

func TestMetrics_NilSafe(t *testing.T) {
	var registry *MetricsRegistry
	core := registry.CoreMetrics()
	assert.Nil(t, core)

	assert.NotPanics(t, func() {
		core.RecordSignal("x")
		core.RecordReceive("x", time.Second)
		core.RecordReceiveError("x", "fatal")
		core.RecordNodeState("x", 2)
		core.RecordDecodeError("x")
		core.RecordTransport("x", "in", 1)
		core.RecordTransportError("x", "read")
	})
}

func TestServer_Handler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordSignal("gen")

	srv := httptest.NewServer(NewServer("", "", registry).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `roboflex_graph_signals_total{node="gen"} 1`)

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_StartStop(t *testing.T) {
	s := NewServer("127.0.0.1:0", "/m", NewMetricsRegistry())
	require.NoError(t, s.Start())

	err := s.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	addr := s.Address()
	assert.True(t, strings.HasSuffix(addr, "/m"))

	resp, err := http.Get(addr)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}

func TestServer_StartWithoutRegistry(t *testing.T) {
	err := NewServer("127.0.0.1:0", "", nil).Start()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
