package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// Modes selected by the first positional argument.
const (
	modePublish   = "publish"
	modeSubscribe = "subscribe"
	modeValidate  = "validate"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	Mode            string
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Transport       string
	Debug           bool
	Count           int
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
}

func parseFlags(args []string, output io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("ROBOFLEX_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: ROBOFLEX_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("ROBOFLEX_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: ROBOFLEX_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides the config file)")
	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text (overrides the config file)")
	fs.StringVar(&cfg.Transport, "transport", "",
		"Transport: nats, websocket, queue (overrides the config file)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("ROBOFLEX_DEBUG", false),
		"Enable debug logging (env: ROBOFLEX_DEBUG)")

	fs.IntVar(&cfg.Count, "count", 0,
		"subscribe: exit after this many messages, 0 to run until interrupted")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("ROBOFLEX_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: ROBOFLEX_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")

	fs.Usage = func() { printDetailedHelp(fs, output) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.Mode = fs.Arg(0)
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if cfg.ShowHelp {
		fs.Usage()
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	switch cfg.Mode {
	case modePublish, modeSubscribe, modeValidate:
	case "":
		return fmt.Errorf("missing mode: want %s, %s or %s", modePublish, modeSubscribe, modeValidate)
	default:
		return fmt.Errorf("unknown mode %q: want %s, %s or %s", cfg.Mode, modePublish, modeSubscribe, modeValidate)
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if cfg.Count < 0 {
		return fmt.Errorf("invalid count: %d", cfg.Count)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - robotics message graphs over NATS and WebSocket

Usage: %s [options] publish|subscribe|validate

Modes:
  publish    generate tensor messages at pipeline.frequency_hz and publish them
  subscribe  receive messages and print them
  validate   check the configuration and print it

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Publish a 480x640 camera-sized tensor over NATS
  %s --config=configs/camera.yaml publish

  # Print the first 10 messages received over WebSocket
  %s --transport=websocket --count=10 subscribe

  # In-process publish and print, no broker needed
  %s --transport=queue --log-format=text publish

Version: %s
Build: %s
`, appName, appName, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
