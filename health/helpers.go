package health

import (
	"sync"
	"time"
)

func newStatus(name string, state State, message string) Status {
	return Status{Name: name, State: state, Message: message, Timestamp: time.Now()}
}

// NewHealthy creates a new healthy status
func NewHealthy(name, message string) Status { return newStatus(name, StateHealthy, message) }

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(name, message string) Status { return newStatus(name, StateUnhealthy, message) }

// NewDegraded creates a new degraded status
func NewDegraded(name, message string) Status { return newStatus(name, StateDegraded, message) }

// Aggregate combines child reports: any unhealthy child makes the result
// unhealthy, otherwise any degraded child makes it degraded.
func Aggregate(name string, children []Status) Status {
	if len(children) == 0 {
		return NewHealthy(name, "no nodes")
	}

	var unhealthy, degraded int
	for _, c := range children {
		switch c.State {
		case StateUnhealthy:
			unhealthy++
		case StateDegraded:
			degraded++
		}
	}

	var s Status
	switch {
	case unhealthy > 0:
		s = NewUnhealthy(name, "one or more nodes are unhealthy")
	case degraded > 0:
		s = NewDegraded(name, "one or more nodes are degraded")
	default:
		s = NewHealthy(name, "all nodes healthy")
	}
	s.Children = append([]Status(nil), children...)
	return s
}

// Tracker accumulates activity and errors for a long-lived node. The zero
// value is not usable; call NewTracker.
type Tracker struct {
	name    string
	started time.Time

	mu           sync.Mutex
	processed    int64
	errors       int64
	lastErr      string
	lastActivity time.Time
}

// NewTracker creates a tracker whose uptime starts now.
func NewTracker(name string) *Tracker {
	return &Tracker{name: name, started: time.Now()}
}

// Reset restarts uptime and clears the last error. Counters are kept.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.started = time.Now()
	t.lastErr = ""
	t.mu.Unlock()
}

// Processed records one handled message.
func (t *Tracker) Processed() {
	t.mu.Lock()
	t.processed++
	t.lastActivity = time.Now()
	t.mu.Unlock()
}

// Error records a failure. A nil error clears the last error, marking
// recovery.
func (t *Tracker) Error(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		t.lastErr = ""
		return
	}
	t.errors++
	t.lastErr = err.Error()
}

// Status reports healthy unless the most recent recorded error has not been
// cleared, in which case the result is degraded when running and unhealthy
// otherwise.
func (t *Tracker) Status(running bool) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Status
	switch {
	case t.lastErr == "" && running:
		s = NewHealthy(t.name, "running")
	case t.lastErr == "":
		s = NewHealthy(t.name, "idle")
	case running:
		s = NewDegraded(t.name, Sanitize(t.lastErr))
	default:
		s = NewUnhealthy(t.name, Sanitize(t.lastErr))
	}
	return s.WithMetrics(&Metrics{
		Uptime:            time.Since(t.started),
		ErrorCount:        t.errors,
		MessagesProcessed: t.processed,
		LastActivity:      t.lastActivity,
	})
}
