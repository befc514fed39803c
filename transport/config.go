package transport

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/graph"
	"github.com/flexrobotics/roboflex/metric"
	"github.com/flexrobotics/roboflex/pkg/retry"
)

// Defaults shared by every adapter.
const (
	DefaultMaxQueued = 1000
	DefaultTimeout   = 10 * time.Millisecond
)

// Config configures a transport adapter node.
type Config struct {
	// MaxQueued bounds each queue; the oldest entry is dropped beyond it.
	MaxQueued int
	// Timeout is how long a loop waits for the next item before checking
	// for cancellation again.
	Timeout time.Duration
	// Retry governs sends and reconnects.
	Retry retry.Config
	// Registry receives queue and traffic metrics when set.
	Registry *metric.MetricsRegistry
	// TLS secures connections the adapter dials. Listening adapters take
	// theirs from the http.Server they are mounted on.
	TLS    *tls.Config
	Logger *slog.Logger
}

// DefaultConfig returns the defaults: 1000 queued items, a 10ms poll and a
// short retry suited to live sensor data.
func DefaultConfig() Config {
	return Config{
		MaxQueued: DefaultMaxQueued,
		Timeout:   DefaultTimeout,
		Retry:     errors.DefaultRetryConfig().ToRetryConfig(),
	}
}

// Normalize fills zero fields from DefaultConfig.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.MaxQueued <= 0 {
		c.MaxQueued = d.MaxQueued
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = d.Retry
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Metrics returns the shared transport metrics, or nil without a registry.
func (c Config) Metrics() *metric.Metrics {
	return c.Registry.CoreMetrics()
}

// NodeOptions prepends a logger derived from c.Logger to opts, so an
// explicit graph.WithLogger in opts still wins.
func (c Config) NodeOptions(kind, name string, opts []graph.Option) []graph.Option {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]graph.Option, 0, len(opts)+1)
	out = append(out, graph.WithLogger(logger.With("component", kind, "node", name)))
	return append(out, opts...)
}
