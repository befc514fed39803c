package nodes

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/graph"
	"github.com/flexrobotics/roboflex/message"
)

// EveryN forwards the first message and then every n-th one after it.
type EveryN struct {
	*graph.Base
	n int

	mu    sync.Mutex
	count int
}

// NewEveryN creates an EveryN node. n must be at least 1.
func NewEveryN(name string, n int, opts ...graph.Option) (*EveryN, error) {
	if n < 1 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: n=%d", errors.ErrInvalidValue, n),
			"EveryN", "NewEveryN", "validate n")
	}
	return &EveryN{Base: graph.NewBase(name, opts...), n: n}, nil
}

// Receive implements graph.Node.
func (e *EveryN) Receive(ctx context.Context, m *message.Message) error {
	e.mu.Lock()
	forward := e.count == 0
	e.count = (e.count + 1) % e.n
	e.mu.Unlock()

	if !forward {
		return nil
	}
	return e.SignalMessage(ctx, m)
}

// LastOne remembers the most recent message and forwards every message.
type LastOne struct {
	*graph.Base

	mu   sync.Mutex
	last *message.Message
}

// NewLastOne creates a LastOne node.
func NewLastOne(name string, opts ...graph.Option) *LastOne {
	return &LastOne{Base: graph.NewBase(name, opts...)}
}

// Last returns the most recent message, or nil before the first one.
func (l *LastOne) Last() *message.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// Receive implements graph.Node.
func (l *LastOne) Receive(ctx context.Context, m *message.Message) error {
	l.mu.Lock()
	l.last = m
	l.mu.Unlock()
	return l.SignalMessage(ctx, m)
}

// Printer writes one line per message and forwards it.
type Printer struct {
	*graph.Base

	mu sync.Mutex
	w  io.Writer
}

// NewPrinter creates a Printer writing to w, or to stdout when w is nil.
func NewPrinter(name string, w io.Writer, opts ...graph.Option) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{Base: graph.NewBase(name, opts...), w: w}
}

// Receive implements graph.Node.
func (p *Printer) Receive(ctx context.Context, m *message.Message) error {
	p.mu.Lock()
	_, err := fmt.Fprintf(p.w, "%s %s\n", p.Name(), m)
	p.mu.Unlock()
	if err != nil {
		p.Logger().Warn("print failed", "error", err)
	}
	return p.SignalMessage(ctx, m)
}

// Take collects up to n messages and then ignores the rest.
type Take struct {
	*graph.Base
	n int

	mu   sync.Mutex
	msgs []*message.Message
	done chan struct{}
}

// NewTake creates a Take node collecting n messages.
func NewTake(name string, n int, opts ...graph.Option) *Take {
	t := &Take{Base: graph.NewBase(name, opts...), n: n, done: make(chan struct{})}
	if n <= 0 {
		close(t.done)
	}
	return t
}

// Receive implements graph.Node.
func (t *Take) Receive(_ context.Context, m *message.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.msgs) >= t.n {
		return nil
	}
	t.msgs = append(t.msgs, m)
	if len(t.msgs) == t.n {
		close(t.done)
	}
	return nil
}

// Done is closed once n messages have been collected.
func (t *Take) Done() <-chan struct{} { return t.done }

// Messages returns the messages collected so far.
func (t *Take) Messages() []*message.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*message.Message(nil), t.msgs...)
}

// TakeN connects a collector to from, waits until n messages arrived, the
// timeout elapsed or ctx ended, removes it from g and returns what it got. A
// timeout of zero waits for ctx only.
func TakeN(ctx context.Context, g *graph.Graph, from graph.Node, n int, timeout time.Duration) ([]*message.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	collector := NewTake("take", n)
	if err := g.Connect(from, collector); err != nil {
		return nil, err
	}
	defer func() { _ = g.Remove(collector) }()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-collector.Done():
	case <-expired:
	case <-ctx.Done():
		return collector.Messages(), ctx.Err()
	}
	return collector.Messages(), nil
}

// TakeOne returns the next message signalled by from, or nil when none
// arrived within timeout.
func TakeOne(ctx context.Context, g *graph.Graph, from graph.Node, timeout time.Duration) (*message.Message, error) {
	msgs, err := TakeN(ctx, g, from, 1, timeout)
	if len(msgs) == 0 {
		return nil, err
	}
	return msgs[0], err
}
