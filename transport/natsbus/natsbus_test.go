package natsbus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/graph"
	"github.com/flexrobotics/roboflex/message"
	"github.com/flexrobotics/roboflex/metric"
	"github.com/flexrobotics/roboflex/natsclient"
	"github.com/flexrobotics/roboflex/nodes"
	"github.com/flexrobotics/roboflex/transport"
)

// fakeBus routes published payloads to subscribers of the same subject.
type fakeBus struct {
	mu        sync.Mutex
	subs      map[*nats.Subscription]natsclient.Handler
	published int
	failures  []error
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[*nats.Subscription]natsclient.Handler)}
}

func (b *fakeBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	if len(b.failures) > 0 {
		err := b.failures[0]
		b.failures = b.failures[1:]
		b.mu.Unlock()
		return err
	}
	b.published++
	var handlers []natsclient.Handler
	for sub, h := range b.subs {
		if sub.Subject == subject {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(append([]byte(nil), data...))
	}
	return nil
}

func (b *fakeBus) Subscribe(subject string, handler natsclient.Handler) (*nats.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &nats.Subscription{Subject: subject}
	b.subs[sub] = handler
	return sub, nil
}

func (b *fakeBus) Unsubscribe(sub *nats.Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub)
	return nil
}

func (b *fakeBus) subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *fakeBus) publishedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published
}

func fastConfig(registry *metric.MetricsRegistry) transport.Config {
	cfg := transport.DefaultConfig()
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = 2 * time.Millisecond
	cfg.Registry = registry
	return cfg
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher("p", nil, "robot.arm", transport.Config{})
	assert.True(t, errors.IsInvalid(err))

	_, err = NewPublisher("p", newFakeBus(), "", transport.Config{})
	assert.True(t, errors.IsInvalid(err))

	_, err = NewSubscriber("s", nil, "robot.arm", transport.Config{})
	assert.True(t, errors.IsInvalid(err))

	_, err = NewSubscriber("s", newFakeBus(), "", transport.Config{})
	assert.True(t, errors.IsInvalid(err))
}

func TestPublishSubscribe_RoundTrip(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	bus := newFakeBus()
	ctx := context.Background()

	pub, err := NewPublisher("pub", bus, "robot.arm", fastConfig(registry))
	require.NoError(t, err)
	sub, err := NewSubscriber("sub", bus, "robot.arm", fastConfig(registry))
	require.NoError(t, err)

	g := graph.New()
	source := graph.NewBase("arm", graph.WithModuleName("robot"), graph.WithMessageName("joints"))
	require.NoError(t, g.Connect(source, pub))
	take := nodes.NewTake("take", 3)
	require.NoError(t, g.Connect(sub, take))

	require.NoError(t, sub.Start(ctx))
	defer func() { _ = sub.Stop() }()
	require.Eventually(t, func() bool { return bus.subscriptions() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, pub.Start(ctx))
	defer func() { _ = pub.Stop() }()

	for i := 0; i < 3; i++ {
		require.NoError(t, source.Signal(ctx, map[string]any{"joint": i, "name": "elbow"}))
	}

	select {
	case <-take.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("messages not delivered")
	}

	for i, m := range take.Messages() {
		assert.Equal(t, "robot", m.ModuleName())
		assert.Equal(t, "joints", m.MessageName())
		assert.Equal(t, "sub", m.SenderName())
		assert.Equal(t, int64(i), m.Sequence())

		joint, ok, err := m.Get("joint")
		require.NoError(t, err)
		require.True(t, ok)
		assert.EqualValues(t, i, joint)
	}

	core := registry.CoreMetrics()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(core.TransportMessages.WithLabelValues("nats", "out")) == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, 3.0, testutil.ToFloat64(core.TransportMessages.WithLabelValues("nats", "in")))
	assert.Greater(t, testutil.ToFloat64(core.TransportBytes.WithLabelValues("nats", "in")), 0.0)
}

func TestPublisher_ForwardsDownstream(t *testing.T) {
	bus := newFakeBus()
	pub, err := NewPublisher("pub", bus, "robot.arm", fastConfig(nil))
	require.NoError(t, err)

	after := nodes.NewLastOne("after")
	require.NoError(t, graph.New().Connect(pub, after))

	require.NoError(t, pub.Receive(context.Background(), message.New("robot", "joints", nil)))
	require.NotNil(t, after.Last())
	assert.Equal(t, "pub", after.Last().SenderName())
	assert.Equal(t, 1, pub.Len(), "queued until the sender runs")
}

func TestPublisher_RetriesTransientFailures(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	bus := newFakeBus()
	bus.failures = []error{
		errors.WrapTransient(natsclient.ErrNotConnected, "test", "Publish", "publish"),
		errors.WrapTransient(natsclient.ErrNotConnected, "test", "Publish", "publish"),
	}

	pub, err := NewPublisher("pub", bus, "robot.arm", fastConfig(registry))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, pub.Start(ctx))
	defer func() { _ = pub.Stop() }()

	require.NoError(t, pub.Receive(ctx, message.New("robot", "joints", nil)))
	require.Eventually(t, func() bool { return bus.publishedCount() == 1 }, time.Second, time.Millisecond)
	assert.True(t, pub.Health().IsHealthy())
	assert.Equal(t, 0.0, testutil.ToFloat64(registry.CoreMetrics().TransportErrors.WithLabelValues("nats", "publish")))
}

func TestPublisher_PermanentFailureIsCounted(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	bus := newFakeBus()
	bus.failures = []error{fmt.Errorf("%w: subject", errors.ErrInvalidConfig)}

	pub, err := NewPublisher("pub", bus, "robot.arm", fastConfig(registry))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, pub.Start(ctx))
	defer func() { _ = pub.Stop() }()

	require.NoError(t, pub.Receive(ctx, message.New("robot", "a", nil)))
	require.NoError(t, pub.Receive(ctx, message.New("robot", "b", nil)))

	require.Eventually(t, func() bool { return bus.publishedCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().TransportErrors.WithLabelValues("nats", "publish")))
	assert.True(t, pub.Health().IsDegraded())
	assert.Equal(t, graph.StateRunning, pub.State())
}

func TestSubscriber_UndecodablePayload(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	bus := newFakeBus()
	sub, err := NewSubscriber("sub", bus, "robot.arm", fastConfig(registry))
	require.NoError(t, err)
	take := nodes.NewTake("take", 1)
	require.NoError(t, graph.New().Connect(sub, take))

	ctx := context.Background()
	require.NoError(t, sub.Start(ctx))
	defer func() { _ = sub.Stop() }()
	require.Eventually(t, func() bool { return bus.subscriptions() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, bus.Publish("robot.arm", []byte("not a message")))
	good, err := message.New("robot", "ok", map[string]any{"x": 1.5}).Payload()
	require.NoError(t, err)
	require.NoError(t, bus.Publish("robot.arm", good))

	select {
	case <-take.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("valid message not delivered after a bad one")
	}
	assert.Equal(t, "ok", take.Messages()[0].MessageName())
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().DecodeErrors.WithLabelValues("sub")))
	assert.True(t, sub.Health().IsDegraded())
}

func TestSubscriber_StopUnsubscribes(t *testing.T) {
	bus := newFakeBus()
	sub, err := NewSubscriber("sub", bus, "robot.arm", fastConfig(nil))
	require.NoError(t, err)
	ctx := context.Background()

	for round := 0; round < 2; round++ {
		require.NoError(t, sub.Start(ctx))
		require.Eventually(t, func() bool { return bus.subscriptions() == 1 }, time.Second, time.Millisecond)
		require.NoError(t, sub.Stop())
		assert.Equal(t, 0, bus.subscriptions())
	}
}

type failingSubscribe struct{ *fakeBus }

func (failingSubscribe) Subscribe(string, natsclient.Handler) (*nats.Subscription, error) {
	return nil, errors.WrapTransient(natsclient.ErrNotConnected, "test", "Subscribe", "subscribe")
}

func TestSubscriber_SubscribeFailureStopsLoop(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	sub, err := NewSubscriber("sub", failingSubscribe{newFakeBus()}, "robot.arm", fastConfig(registry))
	require.NoError(t, err)

	require.NoError(t, sub.Start(context.Background()))
	err = sub.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, natsclient.ErrNotConnected)
	assert.Equal(t, graph.StateStopped, sub.State())
	assert.True(t, sub.Health().IsUnhealthy())
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.CoreMetrics().TransportErrors.WithLabelValues("nats", "subscribe")))
}
