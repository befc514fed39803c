package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/flexrobotics/roboflex/config"
	"github.com/flexrobotics/roboflex/graph"
	"github.com/flexrobotics/roboflex/message"
	"github.com/flexrobotics/roboflex/metric"
	"github.com/flexrobotics/roboflex/natsclient"
	"github.com/flexrobotics/roboflex/nodes"
	"github.com/flexrobotics/roboflex/pkg/retry"
	"github.com/flexrobotics/roboflex/pkg/timestamp"
	"github.com/flexrobotics/roboflex/tensor"
	"github.com/flexrobotics/roboflex/transport"
	"github.com/flexrobotics/roboflex/transport/natsbus"
	"github.com/flexrobotics/roboflex/transport/queue"
	"github.com/flexrobotics/roboflex/transport/wsbus"
)

const moduleName = "roboflex"

// pipeline is a wired graph plus the resources it borrows.
type pipeline struct {
	graph   *graph.Graph
	metrics *nodes.Metrics
	done    <-chan struct{} // closed when a bounded run has finished

	closers []func(context.Context) error
}

func (p *pipeline) addCloser(fn func(context.Context) error) {
	p.closers = append(p.closers, fn)
}

// close stops the graph, then releases resources in reverse order.
func (p *pipeline) close(ctx context.Context) error {
	var errs []error
	if err := p.graph.Close(); err != nil {
		errs = append(errs, err)
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close pipeline: %v", errs)
	}
	return nil
}

type pipelineDeps struct {
	cfg      *config.Config
	registry *metric.MetricsRegistry
	logger   *slog.Logger
	out      io.Writer
	count    int
}

func (d pipelineDeps) transportConfig() transport.Config {
	cfg := transport.DefaultConfig()
	cfg.MaxQueued = d.cfg.Pipeline.MaxQueued
	cfg.Timeout = d.cfg.Pipeline.Timeout.Std()
	cfg.Registry = d.registry
	cfg.Logger = d.logger
	return cfg
}

func buildPipeline(ctx context.Context, mode string, d pipelineDeps) (*pipeline, error) {
	switch mode {
	case modePublish:
		return buildPublisher(ctx, d)
	case modeSubscribe:
		return buildSubscriber(ctx, d)
	default:
		return nil, fmt.Errorf("mode %q builds no pipeline", mode)
	}
}

// tensorSource turns each clock tick into a message carrying a zeroed tensor
// of the configured shape and dtype.
func tensorSource(cfg config.PipelineConfig) (nodes.MapFunc, error) {
	dtype, err := tensor.ParseDType(cfg.DType)
	if err != nil {
		return nil, err
	}
	if _, err := tensor.New(dtype, cfg.Shape...); err != nil {
		return nil, err
	}
	var index int64
	return func(_ context.Context, _ *message.Message) (*message.Message, error) {
		frame, err := tensor.New(dtype, cfg.Shape...)
		if err != nil {
			return nil, err
		}
		value := map[string]any{
			"index": index,
			"frame": frame,
			"t":     timestamp.Now(),
		}
		index++
		return message.New(moduleName, "tensor", value), nil
	}, nil
}

func buildPublisher(ctx context.Context, d pipelineDeps) (*pipeline, error) {
	p := &pipeline{graph: graph.New(graph.WithMetrics(d.registry), graph.WithGraphLogger(d.logger))}

	clock, err := nodes.NewFrequencyGenerator("clock", d.cfg.Pipeline.FrequencyHz)
	if err != nil {
		return nil, err
	}
	produce, err := tensorSource(d.cfg.Pipeline)
	if err != nil {
		return nil, err
	}
	source := nodes.NewMap("tensor-source", produce)
	stats, err := nodes.NewMetrics("publish-metrics", d.registry)
	if err != nil {
		return nil, err
	}
	p.metrics = stats

	var sink graph.Node
	switch d.cfg.Pipeline.Transport {
	case config.TransportNATS:
		client, err := connectNATS(ctx, d)
		if err != nil {
			return nil, err
		}
		p.addCloser(client.Close)
		pub, err := natsbus.NewPublisher("nats-publisher", client, d.cfg.NATS.Subject, d.transportConfig())
		if err != nil {
			_ = p.close(ctx)
			return nil, err
		}
		sink = pub

	case config.TransportWebSocket:
		pub, err := wsbus.NewPublisher("ws-publisher", d.transportConfig())
		if err != nil {
			return nil, err
		}
		stop, err := serveWebSocket(d, pub)
		if err != nil {
			return nil, err
		}
		p.addCloser(stop)
		sink = pub

	case config.TransportQueue:
		bridge, err := queue.NewBridge("bridge", d.transportConfig())
		if err != nil {
			return nil, err
		}
		if err := attachPrinter(p.graph, bridge, d); err != nil {
			return nil, err
		}
		sink = bridge

	default:
		return nil, fmt.Errorf("unknown transport %q", d.cfg.Pipeline.Transport)
	}

	if err := p.graph.Chain(clock, source, stats, sink); err != nil {
		_ = p.close(ctx)
		return nil, err
	}
	return p, nil
}

func buildSubscriber(ctx context.Context, d pipelineDeps) (*pipeline, error) {
	p := &pipeline{graph: graph.New(graph.WithMetrics(d.registry), graph.WithGraphLogger(d.logger))}

	var source graph.Node
	switch d.cfg.Pipeline.Transport {
	case config.TransportNATS:
		client, err := connectNATS(ctx, d)
		if err != nil {
			return nil, err
		}
		p.addCloser(client.Close)
		sub, err := natsbus.NewSubscriber("nats-subscriber", client, d.cfg.NATS.Subject, d.transportConfig())
		if err != nil {
			_ = p.close(ctx)
			return nil, err
		}
		source = sub

	case config.TransportWebSocket:
		tcfg := d.transportConfig()
		tcfg.Retry = retry.Persistent()
		tlsCfg, err := d.cfg.WebSocket.ClientTLS.Load()
		if err != nil {
			return nil, err
		}
		tcfg.TLS = tlsCfg
		sub, err := wsbus.NewSubscriber("ws-subscriber", webSocketURL(d.cfg.WebSocket), nil, tcfg)
		if err != nil {
			return nil, err
		}
		source = sub

	default:
		return nil, fmt.Errorf("transport %q has no subscriber; use publish", d.cfg.Pipeline.Transport)
	}

	stats, err := nodes.NewMetrics("subscribe-metrics", d.registry)
	if err != nil {
		return nil, err
	}
	p.metrics = stats
	if err := p.graph.Connect(source, stats); err != nil {
		return nil, err
	}
	if err := attachPrinter(p.graph, stats, d); err != nil {
		return nil, err
	}

	if d.count > 0 {
		take := nodes.NewTake("count", d.count)
		if err := p.graph.Connect(source, take); err != nil {
			return nil, err
		}
		p.done = take.Done()
	}
	return p, nil
}

// attachPrinter prints every print_every-th message from n.
func attachPrinter(g *graph.Graph, n graph.Node, d pipelineDeps) error {
	every, err := nodes.NewEveryN("print-every", d.cfg.Pipeline.PrintEvery)
	if err != nil {
		return err
	}
	return g.Chain(n, every, nodes.NewPrinter("received", d.out))
}

func connectNATS(ctx context.Context, d pipelineDeps) (*natsclient.Client, error) {
	nc := d.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(d.logger.With("component", "natsclient")),
		natsclient.WithMaxReconnects(nc.MaxReconnects),
		natsclient.WithReconnectWait(nc.ReconnectWait.Std()),
		natsclient.WithTimeout(nc.Timeout.Std()),
		natsclient.WithMetrics(d.registry),
		natsclient.WithName(firstNonEmpty(nc.Name, appName)),
	}
	switch {
	case nc.Token != "":
		opts = append(opts, natsclient.WithToken(nc.Token))
	case nc.Username != "":
		opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
	}
	tlsCfg, err := nc.TLS.Load()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts = append(opts, natsclient.WithTLSConfig(tlsCfg))
	}

	client, err := natsclient.NewClient(nc.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	d.logger.Info("connecting to NATS", "url", nc.URL)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return client, nil
}

func serveWebSocket(d pipelineDeps, pub *wsbus.Publisher) (func(context.Context) error, error) {
	mux := http.NewServeMux()
	mux.Handle(d.cfg.WebSocket.Path, pub)

	tlsCfg, err := d.cfg.WebSocket.TLS.Load()
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", d.cfg.WebSocket.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", d.cfg.WebSocket.Listen, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			d.logger.Error("websocket server failed", "error", err)
		}
	}()
	d.logger.Info("serving websocket", "addr", ln.Addr().String(), "path", d.cfg.WebSocket.Path, "tls", tlsCfg != nil)
	return srv.Shutdown, nil
}

// webSocketURL returns the configured URL, or the local publisher address.
func webSocketURL(cfg config.WebSocketConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	scheme := "ws://"
	if cfg.TLS.Enabled {
		scheme = "wss://"
	}
	host := cfg.Listen
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return scheme + host + cfg.Path
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
