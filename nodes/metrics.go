package nodes

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flexrobotics/roboflex/graph"
	"github.com/flexrobotics/roboflex/message"
	"github.com/flexrobotics/roboflex/metric"
)

// Stat is a running summary of one measured quantity.
type Stat struct {
	Count int64
	Total float64
	Mean  float64
	Min   float64
	Max   float64
	m2    float64
}

// Variance returns the sample variance, or zero below two samples.
func (s Stat) Variance() float64 {
	if s.Count < 2 {
		return 0
	}
	return s.m2 / float64(s.Count-1)
}

func (s *Stat) record(v float64) {
	if s.Count == 0 {
		s.Min, s.Max = v, v
	}
	s.Count++
	s.Total += v
	delta := v - s.Mean
	s.Mean += delta / float64(s.Count)
	s.m2 += delta * (v - s.Mean)
	s.Min = math.Min(s.Min, v)
	s.Max = math.Max(s.Max, v)
}

// MetricsSnapshot summarises the traffic seen by a Metrics node since its
// last reset.
type MetricsSnapshot struct {
	Elapsed time.Duration
	// Bytes is the encoded message size.
	Bytes Stat
	// Interval is the time between consecutive messages, in seconds.
	Interval Stat
	// Latency is the age of a message when it arrived, in seconds.
	Latency Stat
	// Downstream is the time spent forwarding, in seconds.
	Downstream Stat
}

// Frequency returns the mean message rate in hertz.
func (s MetricsSnapshot) Frequency() float64 {
	if s.Interval.Mean == 0 {
		return 0
	}
	return 1 / s.Interval.Mean
}

// Metrics is a pass-through node that measures the messages flowing through
// it. Measurements are kept as running statistics and, when a registry is
// given, exported to prometheus.
type Metrics struct {
	*graph.Base

	messages   prometheus.Counter
	bytes      prometheus.Counter
	latency    prometheus.Histogram
	interval   prometheus.Histogram
	downstream prometheus.Histogram

	mu       sync.Mutex
	snap     MetricsSnapshot
	since    time.Time
	lastSeen time.Time
}

// NewMetrics creates a Metrics node. A nil registry disables the prometheus
// export.
func NewMetrics(name string, registry *metric.MetricsRegistry, opts ...graph.Option) (*Metrics, error) {
	m := &Metrics{Base: graph.NewBase(name, opts...), since: time.Now()}
	if registry == nil {
		return m, nil
	}

	labels := prometheus.Labels{"node": name}
	m.messages = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metric.Namespace, Subsystem: "node", Name: "messages_total",
		Help: "Messages observed by a metrics node", ConstLabels: labels,
	})
	m.bytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metric.Namespace, Subsystem: "node", Name: "message_bytes_total",
		Help: "Encoded bytes observed by a metrics node", ConstLabels: labels,
	})
	m.latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metric.Namespace, Subsystem: "node", Name: "message_latency_seconds",
		Help: "Age of a message when it reached a metrics node", ConstLabels: labels,
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
	m.interval = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metric.Namespace, Subsystem: "node", Name: "message_interval_seconds",
		Help: "Time between consecutive messages at a metrics node", ConstLabels: labels,
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	m.downstream = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metric.Namespace, Subsystem: "node", Name: "downstream_duration_seconds",
		Help: "Time spent forwarding a message downstream", ConstLabels: labels,
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	const owner = "nodes.Metrics"
	for key, c := range map[string]prometheus.Counter{"messages": m.messages, "bytes": m.bytes} {
		if err := registry.RegisterCounter(owner, name+"/"+key, c); err != nil {
			return nil, err
		}
	}
	for key, h := range map[string]prometheus.Histogram{
		"latency": m.latency, "interval": m.interval, "downstream": m.downstream,
	} {
		if err := registry.RegisterHistogram(owner, name+"/"+key, h); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Receive records the message and forwards it.
func (m *Metrics) Receive(ctx context.Context, msg *message.Message) error {
	now := time.Now()
	size := float64(msg.Size())
	age := now.Sub(msg.Timestamp()).Seconds()

	m.mu.Lock()
	m.snap.Bytes.record(size)
	m.snap.Latency.record(age)
	var gap float64
	hasGap := !m.lastSeen.IsZero()
	if hasGap {
		gap = now.Sub(m.lastSeen).Seconds()
		m.snap.Interval.record(gap)
	}
	m.lastSeen = now
	m.mu.Unlock()

	if m.messages != nil {
		m.messages.Inc()
		m.bytes.Add(size)
		m.latency.Observe(age)
		if hasGap {
			m.interval.Observe(gap)
		}
	}

	err := m.SignalMessage(ctx, msg)

	took := time.Since(now).Seconds()
	m.mu.Lock()
	m.snap.Downstream.record(took)
	m.mu.Unlock()
	if m.downstream != nil {
		m.downstream.Observe(took)
	}
	return err
}

// Snapshot returns the statistics gathered since the last reset.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snap
	s.Elapsed = time.Since(m.since)
	return s
}

// Reset clears the running statistics. Prometheus counters are not reset.
func (m *Metrics) Reset() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snap
	s.Elapsed = time.Since(m.since)
	m.snap = MetricsSnapshot{}
	m.since = time.Now()
	m.lastSeen = time.Time{}
	return s
}
