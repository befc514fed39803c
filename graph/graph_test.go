package graph

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/message"
	"github.com/flexrobotics/roboflex/metric"
)

// recorder appends every received message and optionally reacts.
type recorder struct {
	*Base
	mu     sync.Mutex
	got    []*message.Message
	log    *[]string
	onRecv func(ctx context.Context, r *recorder, m *message.Message) error
}

func newRecorder(name string, log *[]string) *recorder {
	return &recorder{Base: NewBase(name), log: log}
}

func (r *recorder) Receive(ctx context.Context, m *message.Message) error {
	r.mu.Lock()
	r.got = append(r.got, m)
	if r.log != nil {
		*r.log = append(*r.log, r.Name())
	}
	r.mu.Unlock()
	if r.onRecv != nil {
		return r.onRecv(ctx, r, m)
	}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func forward(ctx context.Context, r *recorder, m *message.Message) error {
	return r.SignalMessage(ctx, m)
}

func TestSignal_FanOutInRegistrationOrder(t *testing.T) {
	var order []string
	g := New()
	src := NewBase("src")
	a, b, c := newRecorder("a", &order), newRecorder("b", &order), newRecorder("c", &order)

	require.NoError(t, g.Connect(src, b))
	require.NoError(t, g.Connect(src, a))
	require.NoError(t, g.Connect(src, c))

	require.NoError(t, src.Signal(context.Background(), map[string]any{"v": 1}))

	assert.Equal(t, []string{"b", "a", "c"}, order)
	for _, r := range []*recorder{a, b, c} {
		require.Equal(t, 1, r.count())
		m := r.got[0]
		assert.Same(t, m, a.got[0], "all targets see the same envelope")
		assert.Equal(t, "src", m.SenderName())
		assert.Equal(t, src.GUID(), m.SenderID())
		assert.Equal(t, int64(0), m.Sequence())
		assert.Equal(t, DefaultModuleName, m.ModuleName())
		assert.Equal(t, "src", m.MessageName())
	}
}

func TestSignal_DepthFirstChaining(t *testing.T) {
	var order []string
	g := New()
	src := NewBase("src")
	b, c, d := newRecorder("b", &order), newRecorder("c", &order), newRecorder("d", &order)
	b.onRecv = forward

	require.NoError(t, g.Connect(src, b))
	require.NoError(t, g.Connect(src, c))
	require.NoError(t, g.Connect(b, d))

	require.NoError(t, src.Signal(context.Background(), nil))
	assert.Equal(t, []string{"b", "d", "c"}, order)

	// forwarded copy is restamped by b, content shared
	assert.Equal(t, "b", d.got[0].SenderName())
	assert.Equal(t, "src", b.got[0].SenderName())
}

func TestSignal_SequenceAndCounter(t *testing.T) {
	g := New()
	src := NewBase("src", WithModuleName("imu"), WithMessageName("accel"))
	sink := newRecorder("sink", nil)
	require.NoError(t, g.Connect(src, sink))

	for i := 0; i < 5; i++ {
		require.NoError(t, src.Signal(context.Background(), i))
	}
	assert.Equal(t, int64(5), src.MessageCounter())
	for i, m := range sink.got {
		assert.Equal(t, int64(i), m.Sequence())
		assert.Equal(t, "imu", m.ModuleName())
		assert.Equal(t, "accel", m.MessageName())
		v, err := m.Value()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestSignal_WithoutGraph(t *testing.T) {
	n := NewBase("alone")
	require.NoError(t, n.Signal(context.Background(), "x"))
	assert.Equal(t, int64(1), n.MessageCounter())
}

func TestSignal_SelfLoopTerminates(t *testing.T) {
	g := New()
	n := newRecorder("loop", nil)
	require.NoError(t, g.Connect(n, n))

	require.NoError(t, n.Signal(context.Background(), nil))
	assert.Equal(t, 1, n.count())
}

func TestSignal_CycleEndsWhenReceiverStops(t *testing.T) {
	g := New()
	ping, pong := newRecorder("ping", nil), newRecorder("pong", nil)
	bounce := func(ctx context.Context, r *recorder, m *message.Message) error {
		if r.count() >= 3 {
			return nil
		}
		return r.SignalMessage(ctx, m)
	}
	ping.onRecv, pong.onRecv = bounce, bounce

	require.NoError(t, g.Connect(ping, pong))
	require.NoError(t, g.Connect(pong, ping))

	require.NoError(t, ping.Signal(context.Background(), nil))
	assert.Equal(t, 3, pong.count())
	assert.Equal(t, 2, ping.count())
}

func TestSignal_DuplicateEdges(t *testing.T) {
	g := New()
	src := NewBase("src")
	sink := newRecorder("sink", nil)
	require.NoError(t, g.Connect(src, sink))
	require.NoError(t, g.Connect(src, sink))

	require.NoError(t, src.Signal(context.Background(), nil))
	assert.Equal(t, 2, sink.count())
	assert.Len(t, g.Targets(src), 2)

	require.NoError(t, g.Disconnect(src, sink))
	assert.Empty(t, g.Targets(src))
}

func TestSignal_ReceiveErrorStopsAtFailingEdge(t *testing.T) {
	var order []string
	g := New()
	src := NewBase("src")
	a := newRecorder("a", &order)
	bad := newRecorder("bad", &order)
	c := newRecorder("c", &order)
	boom := stderrors.New("actuator offline")
	bad.onRecv = func(context.Context, *recorder, *message.Message) error { return boom }

	require.NoError(t, g.Chain(src, a))
	require.NoError(t, g.Connect(src, bad))
	require.NoError(t, g.Connect(src, c))

	err := src.Signal(context.Background(), nil)
	require.Error(t, err)

	var re *errors.ReceiveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "src", re.Sender)
	assert.Equal(t, "bad", re.Receiver)
	assert.Equal(t, "src", re.MessageName)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "bad"}, order, "edges after the failure are skipped")
}

func TestSignal_NestedReceiveErrorKeepsInnermostEdge(t *testing.T) {
	g := New()
	src := NewBase("src")
	mid := newRecorder("mid", nil)
	mid.onRecv = forward
	leaf := newRecorder("leaf", nil)
	leaf.onRecv = func(context.Context, *recorder, *message.Message) error {
		return errors.WrapInvalid(errors.ErrInvalidValue, "leaf", "Receive", "check value")
	}
	require.NoError(t, g.Chain(src, mid, leaf))

	err := src.Signal(context.Background(), nil)
	var re *errors.ReceiveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "mid", re.Sender)
	assert.Equal(t, "leaf", re.Receiver)
	assert.True(t, errors.IsInvalid(err))
}

func TestConnect_ReentrantDuringReceive(t *testing.T) {
	g := New()
	src := NewBase("src")
	late := newRecorder("late", nil)
	hook := newRecorder("hook", nil)
	hook.onRecv = func(context.Context, *recorder, *message.Message) error {
		return g.Connect(src, late)
	}
	require.NoError(t, g.Connect(src, hook))

	done := make(chan error, 1)
	go func() { done <- src.Signal(context.Background(), nil) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("deadlock on re-entrant connect")
	}

	// the snapshot taken before delivery did not include the new edge
	assert.Equal(t, 0, late.count())
	require.NoError(t, src.Signal(context.Background(), nil))
	assert.Equal(t, 1, late.count())
}

func TestMembership(t *testing.T) {
	g1, g2 := New(), New()
	a, b := NewBase("a"), NewBase("b")

	h, err := g1.Add(a)
	require.NoError(t, err)
	again, err := g1.Add(a)
	require.NoError(t, err)
	assert.Equal(t, h, again)

	err = g2.Connect(a, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrForeignNode)
	assert.True(t, errors.IsInvalid(err))

	_, err = g1.Add(nil)
	assert.ErrorIs(t, err, errors.ErrNilNode)

	err = g1.Disconnect(a, b)
	assert.ErrorIs(t, err, errors.ErrUnknownNode)

	n, ok := g1.Node(h)
	require.True(t, ok)
	assert.Same(t, a, n)
	_, ok = g1.Node(Handle(99))
	assert.False(t, ok)

	got, ok := g1.Handle(a)
	assert.True(t, ok)
	assert.Equal(t, h, got)
	_, ok = g1.Handle(b)
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	g := New()
	a, b, c := NewBase("a"), newRecorder("b", nil), newRecorder("c", nil)
	require.NoError(t, g.Chain(a, b, c))
	require.NoError(t, g.Connect(a, c))
	hb, _ := g.Handle(b)

	require.NoError(t, g.Remove(b))
	assert.ErrorIs(t, g.Remove(b), errors.ErrUnknownNode)
	assert.Equal(t, []Node{a, c}, g.Nodes())
	assert.Equal(t, []Node{c}, g.Targets(a))
	_, ok := g.Node(hb)
	assert.False(t, ok)
	assert.NotContains(t, g.Render(), "b[")

	require.NoError(t, a.Signal(context.Background(), nil))
	assert.Equal(t, 0, b.count())
	assert.Equal(t, 1, c.count())

	// the freed slot is reused and b may join again
	d := NewBase("d")
	hd, err := g.Add(d)
	require.NoError(t, err)
	assert.Equal(t, hb, hd)
	require.NoError(t, g.Connect(d, b))
	assert.Len(t, g.Nodes(), 4)
}

func TestClose_ReleasesNodes(t *testing.T) {
	g := New()
	a, b := NewBase("a"), newRecorder("b", nil)
	require.NoError(t, g.Connect(a, b))
	require.NoError(t, g.Close())

	_, err := g.Add(NewBase("c"))
	assert.ErrorIs(t, err, errors.ErrGraphClosed)

	// released nodes signal into nothing and may join a new graph
	require.NoError(t, a.Signal(context.Background(), nil))
	assert.Equal(t, 0, b.count())

	g2 := New()
	require.NoError(t, g2.Connect(a, b))
	require.NoError(t, a.Signal(context.Background(), nil))
	assert.Equal(t, 1, b.count())
}

func TestWalkAndRender(t *testing.T) {
	g := New()
	root, a, b, c := NewBase("root"), NewBase("a"), NewBase("b"), NewBase("c")
	require.NoError(t, g.Connect(root, a))
	require.NoError(t, g.Connect(root, b))
	require.NoError(t, g.Connect(a, c))
	require.NoError(t, g.Connect(b, c))
	require.NoError(t, g.Connect(c, root))

	var visited []string
	require.NoError(t, g.Walk(root, func(n Node) error {
		visited = append(visited, n.Name())
		return nil
	}))
	assert.Equal(t, []string{"root", "a", "c", "b"}, visited)

	var edges []string
	require.NoError(t, g.WalkConnections(root, func(s, d Node) error {
		edges = append(edges, s.Name()+">"+d.Name())
		return nil
	}))
	assert.ElementsMatch(t, []string{"root>a", "root>b", "a>c", "c>root", "b>c"}, edges)

	stop := stderrors.New("stop")
	err := g.Walk(root, func(n Node) error {
		if n.Name() == "a" {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)

	named := g.Filter(func(n Node) bool { return strings.HasPrefix(n.Name(), "r") })
	require.Len(t, named, 1)
	assert.Same(t, root, named[0])

	out := g.Render()
	assert.Contains(t, out, "[0] root -> a[1], b[2]")
	assert.Contains(t, out, "[3] c -> root[0]")
	assert.Len(t, g.Nodes(), 4)
}

func TestGraphMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	g := New(WithMetrics(registry))
	src := NewBase("src")
	bad := newRecorder("bad", nil)
	bad.onRecv = func(context.Context, *recorder, *message.Message) error {
		return errors.ErrInvalidData
	}
	require.NoError(t, g.Connect(src, bad))

	_ = src.Signal(context.Background(), nil)
	_ = src.Signal(context.Background(), nil)

	core := registry.CoreMetrics()
	assert.Equal(t, 2.0, testutil.ToFloat64(core.SignalsTotal.WithLabelValues("src")))
	assert.Equal(t, 2.0, testutil.ToFloat64(core.ReceiveErrors.WithLabelValues("bad", "invalid")))
}
