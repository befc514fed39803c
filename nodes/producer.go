package nodes

import (
	"context"
	"sync"

	"github.com/flexrobotics/roboflex/graph"
	"github.com/flexrobotics/roboflex/message"
)

// Producer keeps only the latest received message and, on its own goroutine,
// signals the result of produce for it. When upstream is faster than produce,
// intermediate messages are skipped.
type Producer struct {
	*graph.Runnable

	produce MapFunc

	mu     sync.Mutex
	latest *message.Message
	fresh  chan struct{}
}

// NewProducer creates a Producer. A nil produce forwards the latest message
// unchanged.
func NewProducer(name string, produce MapFunc, opts ...graph.Option) *Producer {
	if produce == nil {
		produce = func(_ context.Context, m *message.Message) (*message.Message, error) { return m, nil }
	}
	p := &Producer{
		produce: produce,
		fresh:   make(chan struct{}, 1),
	}
	p.Runnable = graph.NewRunnable(name, p.loop, opts...)
	return p
}

// Receive stores m as the latest message and wakes the loop.
func (p *Producer) Receive(_ context.Context, m *message.Message) error {
	p.mu.Lock()
	p.latest = m
	p.mu.Unlock()

	select {
	case p.fresh <- struct{}{}:
	default:
	}
	return nil
}

// Latest returns the most recently received message.
func (p *Producer) Latest() *message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

func (p *Producer) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.fresh:
		}

		out, err := p.produce(ctx, p.Latest())
		if err == nil && out != nil {
			err = p.SignalMessage(ctx, out)
		}
		if err != nil {
			p.Logger().Warn("produce failed", "error", err)
			p.Tracker().Error(err)
			continue
		}
		p.Tracker().Processed()
	}
}
