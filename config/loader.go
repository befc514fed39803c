package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/flexrobotics/roboflex/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ROBOFLEX"

// Loader merges configuration layers over the defaults.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{validation: true, envPrefix: EnvPrefix}
}

// AddLayer appends a file; later layers override earlier ones key by key.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation turns schema and rule validation on or off.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads a single file over the defaults.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, layers and environment overrides.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		layer, err := readLayer(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		merged = deepMerge(merged, layer)
	}

	document, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "encode merged config")
	}
	if l.validation {
		if err := ValidateDocument(document); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	dec := json.NewDecoder(bytes.NewReader(document))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Loader", "Load", "decode config")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Load reads a single configuration file. An empty path yields the
// defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	l := NewLoader()
	if path != "" {
		l.AddLayer(path)
	}
	return l.Load()
}

func readLayer(path string) (map[string]any, error) {
	data, format, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	layer := map[string]any{}
	switch format {
	case "json":
		if err := checkJSONDepth(data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &layer); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	case "yaml":
		if err := yaml.Unmarshal(data, &layer); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	}
	return layer, nil
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "toMap", "encode defaults")
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.WrapFatal(err, "Loader", "toMap", "decode defaults")
	}
	return out, nil
}

// deepMerge merges override into base. Nested maps merge key by key; any
// other value, lists included, replaces the base value. A nil value in
// override keeps the base value.
func deepMerge(base, override map[string]any) map[string]any {
	for k, v := range override {
		if v == nil {
			continue
		}
		if vm, ok := v.(map[string]any); ok {
			if bm, ok := base[k].(map[string]any); ok {
				base[k] = deepMerge(bm, vm)
				continue
			}
		}
		base[k] = v
	}
	return base
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"LOG_LEVEL", &cfg.Logging.Level},
		{"LOG_FORMAT", &cfg.Logging.Format},
		{"METRICS_ADDR", &cfg.Metrics.Addr},
		{"NATS_URL", &cfg.NATS.URL},
		{"NATS_SUBJECT", &cfg.NATS.Subject},
		{"NATS_USERNAME", &cfg.NATS.Username},
		{"NATS_PASSWORD", &cfg.NATS.Password},
		{"NATS_TOKEN", &cfg.NATS.Token},
		{"WS_LISTEN", &cfg.WebSocket.Listen},
		{"WS_URL", &cfg.WebSocket.URL},
		{"TRANSPORT", &cfg.Pipeline.Transport},
	}
	for _, s := range strs {
		val, ok, err := l.env(s.key)
		if err != nil {
			return err
		}
		if ok {
			*s.dst = val
		}
	}

	if val, ok, err := l.env("METRICS_ENABLED"); err != nil {
		return err
	} else if ok {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return l.envError("METRICS_ENABLED", err)
		}
		cfg.Metrics.Enabled = enabled
	}

	if val, ok, err := l.env("FREQUENCY_HZ"); err != nil {
		return err
	} else if ok {
		hz, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return l.envError("FREQUENCY_HZ", err)
		}
		cfg.Pipeline.FrequencyHz = hz
	}
	return nil
}

// env returns the override for key. Unset and empty variables are ignored.
func (l *Loader) env(key string) (string, bool, error) {
	val := os.Getenv(l.envPrefix + "_" + key)
	if val == "" {
		return "", false, nil
	}
	if err := checkEnvValue(val); err != nil {
		return "", false, l.envError(key, err)
	}
	return val, true, nil
}

func (l *Loader) envError(key string, err error) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s_%s: %v", errors.ErrInvalidConfig, l.envPrefix, key, err),
		"Loader", "applyEnvOverrides", "apply environment")
}
