package wsbus

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/flexrobotics/roboflex/errors"
	"github.com/flexrobotics/roboflex/graph"
	"github.com/flexrobotics/roboflex/message"
	"github.com/flexrobotics/roboflex/metric"
	"github.com/flexrobotics/roboflex/transport"
)

const (
	adapter = "websocket"

	writeWait = 10 * time.Second
)

type client struct {
	conn   *websocket.Conn
	q      *transport.Queue[[]byte]
	cancel context.CancelFunc
}

// Publisher serves connected WebSocket clients. It is a plain node: Receive
// runs on the caller's goroutine and only queues, and writes happen on one
// goroutine per client.
type Publisher struct {
	*graph.Base

	cfg      transport.Config
	upgrader websocket.Upgrader
	metrics  *metric.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewPublisher creates a publisher with no clients. Each client queue holds
// cfg.MaxQueued frames.
func NewPublisher(name string, cfg transport.Config, opts ...graph.Option) (*Publisher, error) {
	cfg = cfg.Normalize()
	p := &Publisher{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		metrics: cfg.Metrics(),
		clients: make(map[*client]struct{}),
	}
	p.Base = graph.NewBase(name, cfg.NodeOptions("ws-publisher", name, opts)...)
	return p, nil
}

// ServeHTTP upgrades the request and registers the connection as a client.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		http.Error(w, "publisher stopped", http.StatusServiceUnavailable)
		return
	}

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.metrics.RecordTransportError(adapter, "upgrade")
		p.Logger().Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	// Client queues stay out of the registry: their names would not be
	// unique across reconnects.
	qcfg := p.cfg
	qcfg.Registry = nil
	q, err := transport.NewQueue[[]byte](p.Name()+"/"+conn.RemoteAddr().String(), qcfg)
	if err != nil {
		_ = conn.Close()
		p.Logger().Error("create client queue", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{conn: conn, q: q, cancel: cancel}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		_ = conn.Close()
		return
	}
	p.clients[c] = struct{}{}
	p.wg.Add(1)
	p.mu.Unlock()

	p.Logger().Info("client connected", "remote", conn.RemoteAddr().String())
	go p.serve(ctx, c)
}

func (p *Publisher) serve(ctx context.Context, c *client) {
	defer p.wg.Done()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.read(c) })
	g.Go(func() error { return p.write(ctx, c) })
	err := g.Wait()

	p.mu.Lock()
	delete(p.clients, c)
	p.mu.Unlock()
	c.cancel()
	_ = c.q.Close()
	if n := c.q.Discard(); n > 0 {
		p.Logger().Debug("discarded undelivered frames", "remote", c.conn.RemoteAddr().String(), "frames", n)
	}

	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		p.Logger().Debug("client gone", "remote", c.conn.RemoteAddr().String(), "error", err)
		return
	}
	p.Logger().Info("client disconnected", "remote", c.conn.RemoteAddr().String())
}

// read discards inbound frames; it exists to process control frames and to
// notice when the peer goes away.
func (p *Publisher) read(c *client) error {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

func (p *Publisher) write(ctx context.Context, c *client) error {
	defer c.conn.Close()
	for {
		payload, ok, err := c.q.Pop(ctx, p.cfg.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = c.conn.WriteControl(websocket.CloseMessage, closing, time.Now().Add(time.Second))
				return nil
			}
			return err
		}
		if !ok {
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			p.metrics.RecordTransportError(adapter, "write")
			return errors.WrapTransient(err, "Publisher", "write", "write frame")
		}
		p.metrics.RecordTransport(adapter, "out", len(payload))
	}
}

// Receive encodes m, queues it for every connected client and forwards m
// downstream.
func (p *Publisher) Receive(ctx context.Context, m *message.Message) error {
	payload, err := m.Payload()
	if err != nil {
		return err
	}

	p.mu.Lock()
	for c := range p.clients {
		_ = c.q.Push(payload)
	}
	p.mu.Unlock()

	return p.SignalMessage(ctx, m)
}

// Clients returns the number of connected clients.
func (p *Publisher) Clients() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Dropped returns the frames dropped across the connected clients.
func (p *Publisher) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int64
	for c := range p.clients {
		n += c.q.Dropped()
	}
	return n
}

// Start accepts clients again after Stop.
func (p *Publisher) Start(context.Context) error {
	p.mu.Lock()
	p.closed = false
	p.mu.Unlock()
	return nil
}

// Stop disconnects every client, refuses new ones and waits for the client
// goroutines to finish.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	p.closed = true
	for c := range p.clients {
		c.cancel()
	}
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}
