package graph

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/health"
	"github.com/flexrobotics/roboflex/message"
	"github.com/flexrobotics/roboflex/metric"
)

// Handle addresses a node inside one Graph.
type Handle int

type entry struct {
	node    Node
	targets []Handle
}

// Graph owns the edges between nodes. It does not own the nodes themselves,
// but Close stops them.
type Graph struct {
	mu      sync.RWMutex
	entries []entry
	free    []Handle // slots of removed nodes, reused by Add
	closed  bool

	metrics *metric.Metrics
	logger  *slog.Logger
}

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithMetrics records signal, receive and node-state metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) GraphOption {
	return func(g *Graph) { g.metrics = registry.CoreMetrics() }
}

// WithGraphLogger sets the logger used for graph-level events.
func WithGraphLogger(l *slog.Logger) GraphOption {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates an empty graph.
func New(opts ...GraphOption) *Graph {
	g := &Graph{}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default().With("component", "graph")
	}
	return g
}

// Add inserts n if it is not already present and returns its handle.
func (g *Graph) Add(n Node) (Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addLocked(n)
}

func (g *Graph) addLocked(n Node) (Handle, error) {
	if g.closed {
		return 0, errors.WrapInvalid(errors.ErrGraphClosed, "Graph", "Add", "add node")
	}
	if n == nil {
		return 0, errors.WrapInvalid(errors.ErrNilNode, "Graph", "Add", "add node")
	}

	b := n.core()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.graph {
	case g:
		return b.handle, nil
	case nil:
	default:
		return 0, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrForeignNode, n.Name()),
			"Graph", "Add", "add node")
	}

	var h Handle
	if k := len(g.free); k > 0 {
		h = g.free[k-1]
		g.free = g.free[:k-1]
		g.entries[h] = entry{node: n}
	} else {
		h = Handle(len(g.entries))
		g.entries = append(g.entries, entry{node: n})
	}
	b.graph = g
	b.handle = h
	return h, nil
}

// Connect adds an edge source -> target, adding either node to the graph
// when needed. Repeated calls add duplicate edges.
func (g *Graph) Connect(source, target Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	from, err := g.addLocked(source)
	if err != nil {
		return err
	}
	to, err := g.addLocked(target)
	if err != nil {
		return err
	}
	g.entries[from].targets = append(g.entries[from].targets, to)
	return nil
}

// Chain connects each node to the next one.
func (g *Graph) Chain(nodes ...Node) error {
	for i := 1; i < len(nodes); i++ {
		if err := g.Connect(nodes[i-1], nodes[i]); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect removes every edge source -> target.
func (g *Graph) Disconnect(source, target Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	from, ok := g.lookupLocked(source)
	if !ok {
		return errors.WrapInvalid(errors.ErrUnknownNode, "Graph", "Disconnect", "find source")
	}
	to, ok := g.lookupLocked(target)
	if !ok {
		return errors.WrapInvalid(errors.ErrUnknownNode, "Graph", "Disconnect", "find target")
	}

	kept := g.entries[from].targets[:0]
	for _, t := range g.entries[from].targets {
		if t != to {
			kept = append(kept, t)
		}
	}
	g.entries[from].targets = kept
	return nil
}

// Remove drops n and every edge into or out of it, leaving n free to join
// another graph. Its handle may be given to a node added later. Remove does
// not stop n.
func (g *Graph) Remove(n Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.lookupLocked(n)
	if !ok {
		return errors.WrapInvalid(errors.ErrUnknownNode, "Graph", "Remove", "find node")
	}
	for i := range g.entries {
		kept := g.entries[i].targets[:0]
		for _, t := range g.entries[i].targets {
			if t != h {
				kept = append(kept, t)
			}
		}
		g.entries[i].targets = kept
	}
	g.entries[h] = entry{}
	g.free = append(g.free, h)

	b := n.core()
	b.mu.Lock()
	b.graph = nil
	b.mu.Unlock()
	return nil
}

func (g *Graph) lookupLocked(n Node) (Handle, bool) {
	if n == nil {
		return 0, false
	}
	b := n.core()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.graph != g {
		return 0, false
	}
	return b.handle, true
}

// Handle returns the handle of n.
func (g *Graph) Handle(n Node) (Handle, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lookupLocked(n)
}

// Node returns the node addressed by h.
func (g *Graph) Node(h Handle) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if h < 0 || int(h) >= len(g.entries) || g.entries[h].node == nil {
		return nil, false
	}
	return g.entries[h].node, true
}

// Targets returns the downstream nodes of n in edge-registration order,
// including duplicates.
func (g *Graph) Targets(n Node) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.lookupLocked(n)
	if !ok {
		return nil
	}
	return g.targetsLocked(h)
}

func (g *Graph) targetsLocked(h Handle) []Node {
	if int(h) >= len(g.entries) {
		return nil
	}
	ts := g.entries[h].targets
	out := make([]Node, len(ts))
	for i, t := range ts {
		out[i] = g.entries[t].node
	}
	return out
}

// Nodes returns every node in handle order.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.entries)-len(g.free))
	for _, e := range g.entries {
		if e.node != nil {
			out = append(out, e.node)
		}
	}
	return out
}

// Filter returns the nodes for which keep returns true.
func (g *Graph) Filter(keep func(Node) bool) []Node {
	var out []Node
	for _, n := range g.Nodes() {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

// Walk visits every node reachable from root once, depth-first in edge
// order, root first. A non-nil error from fn ends the walk.
func (g *Graph) Walk(root Node, fn func(Node) error) error {
	visited := make(map[Node]bool)
	var visit func(Node) error
	visit = func(n Node) error {
		if visited[n] {
			return nil
		}
		visited[n] = true
		if err := fn(n); err != nil {
			return err
		}
		for _, t := range g.Targets(n) {
			if err := visit(t); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(root)
}

// WalkConnections calls fn once for every distinct edge reachable from root.
func (g *Graph) WalkConnections(root Node, fn func(source, target Node) error) error {
	type edge struct{ from, to Node }
	seen := make(map[edge]bool)
	return g.Walk(root, func(n Node) error {
		for _, t := range g.Targets(n) {
			e := edge{n, t}
			if seen[e] {
				continue
			}
			seen[e] = true
			if err := fn(n, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// Render describes the graph as one line per node listing its targets.
func (g *Graph) Render() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var sb strings.Builder
	for i, e := range g.entries {
		if e.node == nil {
			continue
		}
		fmt.Fprintf(&sb, "[%d] %s", i, e.node.Name())
		if len(e.targets) > 0 {
			names := make([]string, len(e.targets))
			for j, t := range e.targets {
				names[j] = fmt.Sprintf("%s[%d]", g.entries[t].node.Name(), t)
			}
			sb.WriteString(" -> ")
			sb.WriteString(strings.Join(names, ", "))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// StartAll starts every node, last added first, so consumers are running
// before their producers. On failure, the nodes already started are stopped
// again.
func (g *Graph) StartAll(ctx context.Context) error {
	all := g.Nodes()
	for i := len(all) - 1; i >= 0; i-- {
		if err := all[i].Start(ctx); err != nil {
			for _, n := range all[i+1:] {
				if stopErr := n.Stop(); stopErr != nil {
					g.logger.Warn("stop after failed start", "node", n.Name(), "error", stopErr)
				}
			}
			return errors.Wrap(err, "Graph", "StartAll", fmt.Sprintf("start node %q", all[i].Name()))
		}
	}
	return nil
}

// StopAll stops every node concurrently and waits for all of them.
func (g *Graph) StopAll() error {
	var eg errgroup.Group
	for _, n := range g.Nodes() {
		n := n
		eg.Go(func() error {
			if err := n.Stop(); err != nil {
				return errors.Wrap(err, "Graph", "StopAll", fmt.Sprintf("stop node %q", n.Name()))
			}
			return nil
		})
	}
	return eg.Wait()
}

// Close stops every node, removes all edges and releases the nodes so they
// can join another graph. A closed graph accepts no new nodes.
func (g *Graph) Close() error {
	err := g.StopAll()

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.entries {
		if e.node == nil {
			continue
		}
		b := e.node.core()
		b.mu.Lock()
		if b.graph == g {
			b.graph = nil
		}
		b.mu.Unlock()
	}
	g.entries = nil
	g.free = nil
	g.closed = true
	return err
}

// Health aggregates the health of every node that reports one.
func (g *Graph) Health() health.Status {
	type reporter interface{ Health() health.Status }

	var children []health.Status
	for _, n := range g.Nodes() {
		if r, ok := n.(reporter); ok {
			children = append(children, r.Health())
		}
	}
	return health.Aggregate("graph", children)
}

func (g *Graph) deliver(ctx context.Context, sender *Base, from Handle, m *message.Message) error {
	g.mu.RLock()
	targets := g.targetsLocked(from)
	g.mu.RUnlock()

	g.metrics.RecordSignal(sender.name)

	for _, t := range targets {
		start := time.Now()
		err := t.Receive(ctx, m)
		g.metrics.RecordReceive(t.Name(), time.Since(start))
		if err == nil {
			continue
		}

		g.metrics.RecordReceiveError(t.Name(), errors.Classify(err).String())
		var inner *errors.ReceiveError
		if stderrors.As(err, &inner) {
			return err
		}
		g.logger.Debug("receive failed", "sender", sender.name, "receiver", t.Name(),
			"message", m.MessageName(), "error", err)
		return &errors.ReceiveError{
			Sender:      sender.name,
			Receiver:    t.Name(),
			MessageName: m.MessageName(),
			Err:         err,
		}
	}
	return nil
}
