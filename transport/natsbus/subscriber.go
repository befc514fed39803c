package natsbus

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/graph"
	"github.com/flexrobotics/roboflex/message"
	"github.com/flexrobotics/roboflex/metric"
	"github.com/flexrobotics/roboflex/natsclient"
	"github.com/flexrobotics/roboflex/pkg/retry"
	"github.com/flexrobotics/roboflex/transport"
)

// SubscribeConn is the part of *natsclient.Client a Subscriber uses.
type SubscribeConn interface {
	Subscribe(subject string, handler natsclient.Handler) (*nats.Subscription, error)
	Unsubscribe(sub *nats.Subscription) error
}

// Subscriber listens on a subject while running. Payloads are queued as
// they arrive on the NATS goroutine and decoded on the node's own goroutine,
// then signalled as messages of this node.
type Subscriber struct {
	*graph.Runnable

	conn    SubscribeConn
	subject string
	q       *transport.Queue[[]byte]
	timeout time.Duration
	retry   retry.Config
	metrics *metric.Metrics
}

// NewSubscriber creates a subscriber on subject. The subscription is made
// by Start and released by Stop.
func NewSubscriber(name string, conn SubscribeConn, subject string, cfg transport.Config, opts ...graph.Option) (*Subscriber, error) {
	if conn == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "Subscriber", "NewSubscriber", "validate connection")
	}
	if subject == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Subscriber", "NewSubscriber", "validate subject")
	}
	cfg = cfg.Normalize()
	q, err := transport.NewQueue[[]byte](name, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "Subscriber", "NewSubscriber", "create queue")
	}
	s := &Subscriber{
		conn:    conn,
		subject: subject,
		q:       q,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		metrics: cfg.Metrics(),
	}
	s.Runnable = graph.NewRunnable(name, s.loop, cfg.NodeOptions("nats-subscriber", name, opts)...)
	return s, nil
}

// Subject returns the subscribed subject.
func (s *Subscriber) Subject() string { return s.subject }

func (s *Subscriber) handle(data []byte) {
	s.metrics.RecordTransport(adapter, "in", len(data))
	if err := s.q.Push(data); err != nil {
		s.Logger().Debug("payload after close", "error", err)
	}
}

func (s *Subscriber) loop(ctx context.Context) error {
	var sub *nats.Subscription
	err := retry.Do(ctx, s.retry, func() error {
		var err error
		sub, err = s.conn.Subscribe(s.subject, s.handle)
		return err
	})
	if err != nil {
		s.metrics.RecordTransportError(adapter, "subscribe")
		return errors.Wrap(err, "Subscriber", "loop", "subscribe "+s.subject)
	}
	defer func() {
		if err := s.conn.Unsubscribe(sub); err != nil {
			s.Logger().Warn("unsubscribe failed", "subject", s.subject, "error", err)
		}
	}()
	s.Logger().Debug("subscribed", "subject", s.subject)

	for {
		data, ok, err := s.q.Pop(ctx, s.timeout)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		s.deliver(ctx, data)
	}
}

func (s *Subscriber) deliver(ctx context.Context, data []byte) {
	m, err := message.FromPayload(data)
	if err != nil {
		s.metrics.RecordDecodeError(s.Name())
		s.Logger().Warn("dropping undecodable payload", "subject", s.subject, "size", len(data), "error", err)
		s.Tracker().Error(err)
		return
	}
	if err := s.SignalMessage(ctx, m); err != nil {
		s.Logger().Warn("downstream failed", "message", m.MessageName(), "error", err)
		s.Tracker().Error(err)
		return
	}
	s.Tracker().Processed()
}

// Len returns the number of payloads waiting to be decoded.
func (s *Subscriber) Len() int { return s.q.Len() }

// Dropped returns how many payloads overflow has discarded.
func (s *Subscriber) Dropped() int64 { return s.q.Dropped() }
