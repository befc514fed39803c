// Package queue hands messages between goroutines inside one process.
//
// A Bridge takes messages on the producer's goroutine and re-signals them on
// its own, so a slow consumer branch never stalls the producer. Messages are
// passed by pointer and never encoded.
package queue

import (
	"context"
	"time"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/graph"
	"github.com/flexrobotics/roboflex/message"
	"github.com/flexrobotics/roboflex/transport"
)

// Bridge is a runnable node that queues received messages and signals them
// downstream from its own goroutine. When MaxQueued messages are waiting
// the oldest is dropped.
type Bridge struct {
	*graph.Runnable

	q       *transport.Queue[*message.Message]
	timeout time.Duration
}

// NewBridge creates a bridge. Zero fields of cfg take transport defaults.
func NewBridge(name string, cfg transport.Config, opts ...graph.Option) (*Bridge, error) {
	cfg = cfg.Normalize()
	q, err := transport.NewQueue[*message.Message](name, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "NewBridge", "create queue")
	}
	b := &Bridge{q: q, timeout: cfg.Timeout}
	b.Runnable = graph.NewRunnable(name, b.loop, cfg.NodeOptions("bridge", name, opts)...)
	return b, nil
}

// Receive queues m. It does not forward on the caller's goroutine.
func (b *Bridge) Receive(_ context.Context, m *message.Message) error {
	return b.q.Push(m)
}

func (b *Bridge) loop(ctx context.Context) error {
	for {
		m, ok, err := b.q.Pop(ctx, b.timeout)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := b.SignalMessage(ctx, m); err != nil {
			b.Logger().Warn("downstream failed", "message", m.MessageName(), "error", err)
			b.Tracker().Error(err)
			continue
		}
		b.Tracker().Processed()
	}
}

// Len returns the number of waiting messages.
func (b *Bridge) Len() int { return b.q.Len() }

// Dropped returns how many messages overflow has discarded.
func (b *Bridge) Dropped() int64 { return b.q.Dropped() }
