package graph

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/flexrobotics/roboflex/message"
	"github.com/flexrobotics/roboflex/metric"
)

// DefaultModuleName is stamped on messages created by Signal unless a node
// overrides it.
const DefaultModuleName = "core"

// Node is the unit of computation. Implementations embed *Base, which
// supplies identity, signalling and no-op defaults for every method.
type Node interface {
	Name() string
	GUID() uuid.UUID
	// Receive handles one message delivered along an edge. Returning an
	// error stops propagation of that message.
	Receive(ctx context.Context, m *message.Message) error
	Start(ctx context.Context) error
	Stop() error

	core() *Base
}

// Option configures a node.
type Option func(*Base)

// WithLogger sets the node's logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Base) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithGUID overrides the random node identity.
func WithGUID(id uuid.UUID) Option {
	return func(b *Base) { b.guid = id }
}

// WithModuleName sets the module name stamped by Signal.
func WithModuleName(name string) Option {
	return func(b *Base) { b.moduleName = name }
}

// WithMessageName sets the message name stamped by Signal. It defaults to
// the node name.
func WithMessageName(name string) Option {
	return func(b *Base) { b.messageName = name }
}

// Base carries node identity and graph membership. Embed it by pointer.
type Base struct {
	name        string
	guid        uuid.UUID
	moduleName  string
	messageName string
	logger      *slog.Logger

	counter atomic.Int64

	mu     sync.Mutex
	graph  *Graph
	handle Handle
}

// NewBase creates the embeddable part of a node.
func NewBase(name string, opts ...Option) *Base {
	return newBase("node", name, opts...)
}

func newBase(kind, name string, opts ...Option) *Base {
	b := &Base{
		name:        name,
		guid:        uuid.New(),
		moduleName:  DefaultModuleName,
		messageName: name,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default().With("component", kind, "node", name)
	}
	return b
}

func (b *Base) core() *Base { return b }

// Name returns the node name. Names need not be unique.
func (b *Base) Name() string { return b.name }

// GUID returns the node identity stamped on every message it signals.
func (b *Base) GUID() uuid.UUID { return b.guid }

// Logger returns the node's structured logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// MessageCounter returns the number of messages this node has signalled.
func (b *Base) MessageCounter() int64 { return b.counter.Load() }

// Receive ignores the message.
func (b *Base) Receive(context.Context, *message.Message) error { return nil }

// Start does nothing for nodes without a goroutine.
func (b *Base) Start(context.Context) error { return nil }

// Stop does nothing for nodes without a goroutine.
func (b *Base) Stop() error { return nil }

// Signal wraps value in a new message and delivers it downstream.
func (b *Base) Signal(ctx context.Context, value any) error {
	return b.SignalMessage(ctx, message.New(b.moduleName, b.messageName, value))
}

// SignalMessage stamps m with this node's identity and next sequence number
// and delivers it to every target in registration order. The stamped copy
// shares m's content.
func (b *Base) SignalMessage(ctx context.Context, m *message.Message) error {
	seq := b.counter.Add(1) - 1
	stamped := m.WithSender(b.guid, b.name, seq)

	g, h := b.membership()
	if g == nil {
		return nil
	}
	return g.deliver(ctx, b, h, stamped)
}

func (b *Base) membership() (*Graph, Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.graph, b.handle
}

func (b *Base) coreMetrics() *metric.Metrics {
	g, _ := b.membership()
	if g == nil {
		return nil
	}
	return g.metrics
}
