package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the runtime-wide metrics shared by every graph and
// transport adapter attached to one registry. Every Record method is safe on
// a nil receiver so callers can run without metrics.
type Metrics struct {
	// Graph runtime
	SignalsTotal    *prometheus.CounterVec
	ReceiveDuration *prometheus.HistogramVec
	ReceiveErrors   *prometheus.CounterVec
	NodeState       *prometheus.GaugeVec

	// Serialization
	DecodeErrors *prometheus.CounterVec

	// Transport adapters
	TransportMessages *prometheus.CounterVec
	TransportBytes    *prometheus.CounterVec
	TransportErrors   *prometheus.CounterVec
}

// NewMetrics creates the core metrics. They are registered by
// NewMetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		SignalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "graph",
				Name:      "signals_total",
				Help:      "Total number of messages signalled by a node",
			},
			[]string{"node"},
		),

		ReceiveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "graph",
				Name:      "receive_duration_seconds",
				Help:      "Time spent in a node's Receive, including its own downstream propagation",
				Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"node"},
		),

		ReceiveErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "graph",
				Name:      "receive_errors_total",
				Help:      "Total number of failed deliveries",
			},
			[]string{"node", "class"},
		),

		NodeState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "graph",
				Name:      "node_state",
				Help:      "Runnable node state (0=idle, 1=running, 2=stopped)",
			},
			[]string{"node"},
		),

		DecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "serialization",
				Name:      "decode_errors_total",
				Help:      "Total number of payloads that failed to decode",
			},
			[]string{"component"},
		),

		TransportMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "messages_total",
				Help:      "Messages moved by transport adapters",
			},
			[]string{"adapter", "direction"},
		),

		TransportBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "bytes_total",
				Help:      "Payload bytes moved by transport adapters",
			},
			[]string{"adapter", "direction"},
		),

		TransportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "errors_total",
				Help:      "Transport adapter errors",
			},
			[]string{"adapter", "kind"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.SignalsTotal,
		c.ReceiveDuration,
		c.ReceiveErrors,
		c.NodeState,
		c.DecodeErrors,
		c.TransportMessages,
		c.TransportBytes,
		c.TransportErrors,
	}
}

// RecordSignal increments the signal counter of a node
func (c *Metrics) RecordSignal(node string) {
	if c == nil {
		return
	}
	c.SignalsTotal.WithLabelValues(node).Inc()
}

// RecordReceive records the duration of one delivery
func (c *Metrics) RecordReceive(node string, d time.Duration) {
	if c == nil {
		return
	}
	c.ReceiveDuration.WithLabelValues(node).Observe(d.Seconds())
}

// RecordReceiveError counts a failed delivery by error class
func (c *Metrics) RecordReceiveError(node, class string) {
	if c == nil {
		return
	}
	c.ReceiveErrors.WithLabelValues(node, class).Inc()
}

// RecordNodeState updates the state gauge of a runnable node
func (c *Metrics) RecordNodeState(node string, state int) {
	if c == nil {
		return
	}
	c.NodeState.WithLabelValues(node).Set(float64(state))
}

// RecordDecodeError counts a payload that failed to decode
func (c *Metrics) RecordDecodeError(component string) {
	if c == nil {
		return
	}
	c.DecodeErrors.WithLabelValues(component).Inc()
}

// RecordTransport counts one message of size bytes in direction "in" or "out"
func (c *Metrics) RecordTransport(adapter, direction string, size int) {
	if c == nil {
		return
	}
	c.TransportMessages.WithLabelValues(adapter, direction).Inc()
	c.TransportBytes.WithLabelValues(adapter, direction).Add(float64(size))
}

// RecordTransportError counts a transport failure
func (c *Metrics) RecordTransportError(adapter, kind string) {
	if c == nil {
		return
	}
	c.TransportErrors.WithLabelValues(adapter, kind).Inc()
}
