package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/pkg/tlsutil"
	"github.com/flexrobotics/roboflex/tensor"
)

// Transport names accepted by pipeline.transport.
const (
	TransportNATS      = "nats"
	TransportWebSocket = "websocket"
	TransportQueue     = "queue"
)

// Config is the complete configuration of a process.
type Config struct {
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	NATS      NATSConfig      `json:"nats" yaml:"nats"`
	WebSocket WebSocketConfig `json:"websocket" yaml:"websocket"`
	Pipeline  PipelineConfig  `json:"pipeline" yaml:"pipeline"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json or text
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
	Path    string `json:"path" yaml:"path"`
}

// NATSConfig describes the broker connection and the subject messages use.
type NATSConfig struct {
	URL           string   `json:"url" yaml:"url"`
	Subject       string   `json:"subject" yaml:"subject"`
	Name          string   `json:"name,omitempty" yaml:"name,omitempty"`
	Username      string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string   `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string   `json:"token,omitempty" yaml:"token,omitempty"`
	MaxReconnects int      `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	Timeout       Duration `json:"timeout" yaml:"timeout"`

	TLS tlsutil.ClientConfig `json:"tls" yaml:"tls"`
}

// WebSocketConfig holds the listen address for publishing and the URL
// subscribers dial. TLS secures the listener, ClientTLS the dialler.
type WebSocketConfig struct {
	Listen string `json:"listen" yaml:"listen"`
	Path   string `json:"path" yaml:"path"`
	URL    string `json:"url,omitempty" yaml:"url,omitempty"`

	TLS       tlsutil.ServerConfig `json:"tls" yaml:"tls"`
	ClientTLS tlsutil.ClientConfig `json:"client_tls" yaml:"client_tls"`
}

// PipelineConfig shapes the demo pipelines of the roboflex binary.
type PipelineConfig struct {
	Transport   string   `json:"transport" yaml:"transport"`
	FrequencyHz float64  `json:"frequency_hz" yaml:"frequency_hz"`
	Shape       []int    `json:"shape" yaml:"shape"`
	DType       string   `json:"dtype" yaml:"dtype"`
	MaxQueued   int      `json:"max_queued" yaml:"max_queued"`
	Timeout     Duration `json:"timeout" yaml:"timeout"`
	PrintEvery  int      `json:"print_every" yaml:"print_every"`
}

// Default returns a configuration that works against a local NATS server.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: false, Addr: ":9090", Path: "/metrics"},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Subject:       "roboflex.stream",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			Timeout:       Duration(5 * time.Second),
		},
		WebSocket: WebSocketConfig{Listen: ":8765", Path: "/stream"},
		Pipeline: PipelineConfig{
			Transport:   TransportNATS,
			FrequencyHz: 10,
			Shape:       []int{4, 4},
			DType:       "float32",
			MaxQueued:   1000,
			Timeout:     Duration(10 * time.Millisecond),
			PrintEvery:  1,
		},
	}
}

// Validate checks rules the schema cannot express. It normalizes the
// logging level and format to lower case.
func (c *Config) Validate() error {
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Logging.Format = strings.ToLower(c.Logging.Format)

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return invalid("logging.format %q must be json or text", c.Logging.Format)
	}
	if c.Metrics.Enabled {
		if c.Metrics.Addr == "" {
			return invalid("metrics.addr is required when metrics are enabled")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return invalid("metrics.path %q must start with /", c.Metrics.Path)
		}
	}

	switch c.Pipeline.Transport {
	case TransportNATS:
		if c.NATS.URL == "" {
			return invalid("nats.url is required for the nats transport")
		}
		if !isValidSubject(c.NATS.Subject) {
			return invalid("nats.subject %q is not a valid publish subject", c.NATS.Subject)
		}
		if err := c.NATS.TLS.Validate(); err != nil {
			return invalid("nats.%v", err)
		}
	case TransportWebSocket:
		if !strings.HasPrefix(c.WebSocket.Path, "/") {
			return invalid("websocket.path %q must start with /", c.WebSocket.Path)
		}
		if err := c.WebSocket.TLS.Validate(); err != nil {
			return invalid("websocket.%v", err)
		}
		if err := c.WebSocket.ClientTLS.Validate(); err != nil {
			return invalid("websocket.client_%v", err)
		}
	case TransportQueue:
	default:
		return invalid("pipeline.transport %q must be nats, websocket or queue", c.Pipeline.Transport)
	}

	if c.Pipeline.FrequencyHz <= 0 {
		return invalid("pipeline.frequency_hz must be positive")
	}
	for _, d := range c.Pipeline.Shape {
		if d < 0 {
			return invalid("pipeline.shape %v has a negative dimension", c.Pipeline.Shape)
		}
	}
	if _, err := tensor.ParseDType(c.Pipeline.DType); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "check pipeline.dtype")
	}
	if c.Pipeline.MaxQueued < 1 {
		return invalid("pipeline.max_queued must be at least 1")
	}
	if c.NATS.Username != "" && c.NATS.Token != "" {
		return invalid("nats.username and nats.token are mutually exclusive")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", "validate config")
}

// isValidSubject accepts dot-separated tokens without wildcards or spaces.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" || strings.ContainsAny(token, "*> \t\r\n") {
			return false
		}
	}
	return true
}

// SlogLevel maps Level onto a slog.Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, invalid("logging.level %q must be debug, info, warn or error", l.Level)
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return Default()
	}
	clone := *c
	clone.Pipeline.Shape = append([]int(nil), c.Pipeline.Shape...)
	clone.NATS.TLS.CAFiles = cloneStrings(c.NATS.TLS.CAFiles)
	clone.WebSocket.TLS.ClientCAFiles = cloneStrings(c.WebSocket.TLS.ClientCAFiles)
	clone.WebSocket.TLS.AllowedClientCNs = cloneStrings(c.WebSocket.TLS.AllowedClientCNs)
	clone.WebSocket.ClientTLS.CAFiles = cloneStrings(c.WebSocket.ClientTLS.CAFiles)
	return &clone
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

// String renders the configuration as indented JSON with secrets masked.
func (c *Config) String() string {
	redacted := c.Clone()
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "***"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(redacted, "", "  ")
	return string(data)
}
