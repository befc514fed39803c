package natsbus

import (
	"context"
	"time"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/graph"
	"github.com/flexrobotics/roboflex/message"
	"github.com/flexrobotics/roboflex/metric"
	"github.com/flexrobotics/roboflex/pkg/retry"
	"github.com/flexrobotics/roboflex/transport"
)

const adapter = "nats"

// PublishConn is the part of *natsclient.Client a Publisher uses.
type PublishConn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends every received message on a subject. Receive never waits
// for the network: payloads are queued and published by the node's own
// goroutine, so the node must be started.
type Publisher struct {
	*graph.Runnable

	conn    PublishConn
	subject string
	q       *transport.Queue[[]byte]
	timeout time.Duration
	retry   retry.Config
	metrics *metric.Metrics
}

// NewPublisher creates a publisher on subject.
func NewPublisher(name string, conn PublishConn, subject string, cfg transport.Config, opts ...graph.Option) (*Publisher, error) {
	if conn == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "Publisher", "NewPublisher", "validate connection")
	}
	if subject == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Publisher", "NewPublisher", "validate subject")
	}
	cfg = cfg.Normalize()
	q, err := transport.NewQueue[[]byte](name, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "Publisher", "NewPublisher", "create queue")
	}
	p := &Publisher{
		conn:    conn,
		subject: subject,
		q:       q,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		metrics: cfg.Metrics(),
	}
	p.Runnable = graph.NewRunnable(name, p.loop, cfg.NodeOptions("nats-publisher", name, opts)...)
	return p, nil
}

// Subject returns the subject messages are published on.
func (p *Publisher) Subject() string { return p.subject }

// Receive encodes m, queues the bytes and forwards m downstream.
func (p *Publisher) Receive(ctx context.Context, m *message.Message) error {
	payload, err := m.Payload()
	if err != nil {
		return err
	}
	if err := p.q.Push(payload); err != nil {
		return err
	}
	return p.SignalMessage(ctx, m)
}

func (p *Publisher) loop(ctx context.Context) error {
	for {
		payload, ok, err := p.q.Pop(ctx, p.timeout)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		err = retry.Do(ctx, p.retry, func() error {
			return p.conn.Publish(p.subject, payload)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.metrics.RecordTransportError(adapter, "publish")
			p.Logger().Warn("publish failed", "subject", p.subject, "error", err)
			p.Tracker().Error(err)
			continue
		}
		p.metrics.RecordTransport(adapter, "out", len(payload))
		p.Tracker().Processed()
	}
}

// Len returns the number of payloads waiting to be published.
func (p *Publisher) Len() int { return p.q.Len() }

// Dropped returns how many payloads overflow has discarded.
func (p *Publisher) Dropped() int64 { return p.q.Dropped() }
