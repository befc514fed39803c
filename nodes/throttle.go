package nodes

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/graph"
	"github.com/flexrobotics/roboflex/message"
)

// Throttle forwards at most hz messages per second and drops the rest. It
// never blocks the delivering goroutine.
type Throttle struct {
	*graph.Base
	limiter *rate.Limiter
	dropped atomic.Int64
}

// NewThrottle creates a Throttle allowing bursts of up to burst messages.
func NewThrottle(name string, hz float64, burst int, opts ...graph.Option) (*Throttle, error) {
	if err := validateRate(hz, burst); err != nil {
		return nil, err
	}
	return &Throttle{
		Base:    graph.NewBase(name, opts...),
		limiter: rate.NewLimiter(rate.Limit(hz), burst),
	}, nil
}

func validateRate(hz float64, burst int) error {
	if hz <= 0 || math.IsNaN(hz) || math.IsInf(hz, 0) || burst < 1 {
		return errors.WrapInvalid(fmt.Errorf("%w: rate %v burst %d", errors.ErrInvalidValue, hz, burst),
			"Throttle", "validateRate", "validate rate")
	}
	return nil
}

// SetRate changes the limit while messages flow.
func (t *Throttle) SetRate(hz float64) error {
	if err := validateRate(hz, t.limiter.Burst()); err != nil {
		return err
	}
	t.limiter.SetLimit(rate.Limit(hz))
	return nil
}

// Dropped returns how many messages were discarded.
func (t *Throttle) Dropped() int64 { return t.dropped.Load() }

// Receive implements graph.Node.
func (t *Throttle) Receive(ctx context.Context, m *message.Message) error {
	if !t.limiter.Allow() {
		t.dropped.Add(1)
		return nil
	}
	return t.SignalMessage(ctx, m)
}
