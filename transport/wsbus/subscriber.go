package wsbus

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/graph"
	"github.com/flexrobotics/roboflex/message"
	"github.com/flexrobotics/roboflex/metric"
	"github.com/flexrobotics/roboflex/pkg/retry"
	"github.com/flexrobotics/roboflex/transport"
)

// Subscriber reads frames from a WebSocket publisher and signals them as its
// own messages. A dropped connection is redialled with the configured
// backoff; the loop fails once a redial exhausts its attempts.
type Subscriber struct {
	*graph.Runnable

	url     string
	header  http.Header
	dialer  *websocket.Dialer
	retry   retry.Config
	metrics *metric.Metrics
}

// NewSubscriber creates a subscriber for url (ws:// or wss://). header is
// sent with every handshake and may be nil.
func NewSubscriber(name, url string, header http.Header, cfg transport.Config, opts ...graph.Option) (*Subscriber, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Subscriber", "NewSubscriber", "validate url")
	}
	cfg = cfg.Normalize()
	s := &Subscriber{
		url:     url,
		header:  header,
		dialer:  &websocket.Dialer{HandshakeTimeout: 45 * time.Second, TLSClientConfig: cfg.TLS},
		retry:   cfg.Retry,
		metrics: cfg.Metrics(),
	}
	s.Runnable = graph.NewRunnable(name, s.loop, cfg.NodeOptions("ws-subscriber", name, opts)...)
	return s, nil
}

// URL returns the dialled address.
func (s *Subscriber) URL() string { return s.url }

func (s *Subscriber) loop(ctx context.Context) error {
	for {
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		s.Logger().Info("connected", "url", s.url)
		s.Tracker().Error(nil)

		err = s.session(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.metrics.RecordTransportError(adapter, "read")
		s.Logger().Warn("connection lost", "url", s.url, "error", err)
		s.Tracker().Error(err)
	}
}

func (s *Subscriber) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := retry.Do(ctx, s.retry, func() error {
		c, _, err := s.dialer.DialContext(ctx, s.url, s.header)
		if err != nil {
			s.metrics.RecordTransportError(adapter, "dial")
			return errors.WrapTransient(err, "Subscriber", "dial", "dial "+s.url)
		}
		conn = c
		return nil
	})
	return conn, err
}

// session reads frames until the connection fails or ctx ends.
func (s *Subscriber) session(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, closing, time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()
	defer conn.Close()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		s.metrics.RecordTransport(adapter, "in", len(data))
		s.deliver(ctx, data)
	}
}

func (s *Subscriber) deliver(ctx context.Context, data []byte) {
	m, err := message.FromPayload(data)
	if err != nil {
		s.metrics.RecordDecodeError(s.Name())
		s.Logger().Warn("dropping undecodable frame", "size", len(data), "error", err)
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
