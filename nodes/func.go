package nodes

import (
	"context"
	"sync/atomic"

	"github.com/flexrobotics/roboflex/graph"
	"github.com/flexrobotics/roboflex/message"
)

// CallbackFunc observes a message.
type CallbackFunc func(ctx context.Context, m *message.Message) error

// Callback calls a function for every message and forwards the message
// unchanged when the function succeeds.
type Callback struct {
	*graph.Base
	fn CallbackFunc
}

// NewCallback creates a Callback node.
func NewCallback(name string, fn CallbackFunc, opts ...graph.Option) *Callback {
	return &Callback{Base: graph.NewBase(name, opts...), fn: fn}
}

// Receive implements graph.Node.
func (c *Callback) Receive(ctx context.Context, m *message.Message) error {
	if err := c.fn(ctx, m); err != nil {
		return err
	}
	return c.SignalMessage(ctx, m)
}

// Filter forwards the messages for which its predicate holds.
type Filter struct {
	*graph.Base
	keep func(*message.Message) bool
}

// NewFilter creates a Filter node.
func NewFilter(name string, keep func(*message.Message) bool, opts ...graph.Option) *Filter {
	return &Filter{Base: graph.NewBase(name, opts...), keep: keep}
}

// Receive implements graph.Node.
func (f *Filter) Receive(ctx context.Context, m *message.Message) error {
	if !f.keep(m) {
		return nil
	}
	return f.SignalMessage(ctx, m)
}

// FilterName forwards messages with a given message name. With pass-through
// enabled it forwards everything.
type FilterName struct {
	*graph.Base
	messageName string
	passthrough atomic.Bool
}

// NewFilterName creates a FilterName node with pass-through disabled.
func NewFilterName(name, messageName string, opts ...graph.Option) *FilterName {
	return &FilterName{Base: graph.NewBase(name, opts...), messageName: messageName}
}

// SetPassthrough toggles forwarding of every message. Safe while messages
// flow.
func (f *FilterName) SetPassthrough(on bool) { f.passthrough.Store(on) }

// Passthrough reports whether every message is forwarded.
func (f *FilterName) Passthrough() bool { return f.passthrough.Load() }

// Receive implements graph.Node.
func (f *FilterName) Receive(ctx context.Context, m *message.Message) error {
	if !f.passthrough.Load() && m.MessageName() != f.messageName {
		return nil
	}
	return f.SignalMessage(ctx, m)
}

// MapFunc turns one message into another. Returning a nil message drops it.
type MapFunc func(ctx context.Context, m *message.Message) (*message.Message, error)

// Map signals whatever its function returns.
type Map struct {
	*graph.Base
	fn MapFunc
}

// NewMap creates a Map node.
func NewMap(name string, fn MapFunc, opts ...graph.Option) *Map {
	return &Map{Base: graph.NewBase(name, opts...), fn: fn}
}

// Receive implements graph.Node.
func (mp *Map) Receive(ctx context.Context, m *message.Message) error {
	out, err := mp.fn(ctx, m)
	if err != nil || out == nil {
		return err
	}
	return mp.SignalMessage(ctx, out)
}

// Null discards every message. It is a convenient named sink.
type Null struct {
	*graph.Base
}

// NewNull creates a Null node.
func NewNull(name string, opts ...graph.Option) *Null {
	return &Null{Base: graph.NewBase(name, opts...)}
}
