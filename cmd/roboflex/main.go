// Package main implements the roboflex command: it publishes generated
// tensor messages over NATS or WebSocket, subscribes and prints them, or
// validates a configuration.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/flexrobotics/roboflex/config"
	"github.com/flexrobotics/roboflex/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "roboflex"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cli.ShowHelp {
		return nil
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, stderr)
	slog.SetDefault(logger)

	if cli.Mode == modeValidate {
		logger.Info("Configuration is valid", "config_path", cli.ConfigPath)
		_, _ = fmt.Fprintln(stdout, cfg.String())
		return nil
	}

	logger.Info("Starting roboflex",
		"mode", cli.Mode,
		"transport", cfg.Pipeline.Transport,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath)

	registry := metric.NewMetricsRegistry()
	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry)
		if err := server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		logger.Info("Serving metrics", "address", server.Address())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
			defer cancel()
			_ = server.Stop(shutdownCtx)
		}()
	}

	p, err := buildPipeline(ctx, cli.Mode, pipelineDeps{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		out:      stdout,
		count:    cli.Count,
	})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	logger.Debug("Pipeline wired", "graph", p.graph.Render())

	return runPipeline(ctx, p, logger, cli)
}

// runPipeline starts the graph and blocks until ctx ends or a bounded run
// completes, then shuts down within the configured timeout.
func runPipeline(ctx context.Context, p *pipeline, logger *slog.Logger, cli *CLIConfig) error {
	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
		defer cancel()
		return p.close(shutdownCtx)
	}

	if err := p.graph.StartAll(context.WithoutCancel(ctx)); err != nil {
		_ = shutdown()
		return fmt.Errorf("start pipeline: %w", err)
	}
	logger.Info("roboflex started")

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case <-p.done:
		logger.Info("Requested message count reached", "count", cli.Count)
	}

	if p.metrics != nil {
		snap := p.metrics.Snapshot()
		logger.Info("Pipeline statistics",
			"messages", snap.Bytes.Count,
			"bytes", snap.Bytes.Total,
			"frequency_hz", snap.Frequency(),
			"health", p.graph.Health().State)
	}

	if err := shutdown(); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("roboflex shutdown complete")
	return nil
}

// loadConfig loads the file named on the command line and applies flag
// overrides on top of it.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logging.Format = cli.LogFormat
	}
	if cli.Transport != "" {
		cfg.Pipeline.Transport = cli.Transport
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
