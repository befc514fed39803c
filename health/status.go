// Package health reports the state of nodes, graphs and transport adapters.
package health

import (
	"regexp"
	"strings"
	"time"
)

// State is the coarse health of a node or graph.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?)://[^\s]+`)
	unixPathRegex   = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is a point-in-time health report. Children carries the reports of
// the nodes inside a graph.
type Status struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Children  []Status  `json:"children,omitempty"`
	Metrics   *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains activity counters attached to a Status.
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int64         `json:"error_count"`
	MessagesProcessed int64         `json:"messages_processed,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the state is healthy
func (s Status) IsHealthy() bool { return s.State == StateHealthy }

// IsDegraded returns true if the state is degraded
func (s Status) IsDegraded() bool { return s.State == StateDegraded }

// IsUnhealthy returns true if the state is unhealthy
func (s Status) IsUnhealthy() bool { return s.State == StateUnhealthy }

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(m *Metrics) Status {
	s.Metrics = m
	return s
}

// WithChild returns a copy of the status with child appended.
func (s Status) WithChild(child Status) Status {
	children := make([]Status, len(s.Children), len(s.Children)+1)
	copy(children, s.Children)
	s.Children = append(children, child)
	return s
}

// Sanitize strips URLs, paths, addresses and credentials from an error
// message before it is exposed in a health report.
func Sanitize(msg string) string {
	if msg == "" {
		return ""
	}
	out := urlRegex.ReplaceAllString(msg, "[URL]")
	out = unixPathRegex.ReplaceAllString(out, "[PATH]")
	out = ipAddrRegex.ReplaceAllString(out, "[IP]")
	out = portRegex.ReplaceAllString(out, "[PORT]")

	lower := strings.ToLower(out)
	for _, kw := range []string{"password", "token", "secret", "credential"} {
		if strings.Contains(lower, kw) {
			out = credentialRegex.ReplaceAllString(out, "[REDACTED]")
			break
		}
	}
	return out
}
