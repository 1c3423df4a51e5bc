// Package config loads the sftpstreams process configuration from layered JSON
// or YAML files with environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/sftpstreams/component"
	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/pkg/tlsutil"
)

// DefaultEnvPrefix prefixes environment overrides, e.g. SFTPSTREAMS_NATS_URLS.
const DefaultEnvPrefix = "SFTPSTREAMS"

// Config is the complete process configuration
type Config struct {
	Version    string                               `json:"version"`
	NATS       NATSConfig                           `json:"nats"`
	Metrics    MetricsConfig                        `json:"metrics"`
	Components map[string]component.ComponentConfig `json:"components"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string `json:"urls,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`
	Name          string   `json:"name,omitempty"`

	TLS tlsutil.ClientConfig `json:"tls"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path,omitempty"`

	TLS tlsutil.ServerConfig `json:"tls"`
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if len(c.NATS.URLs) == 0 {
		return errors.WrapInvalid(fmt.Errorf("nats.urls: %w", errors.ErrMissingConfig), "Config", "Validate", "nats validation")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return errors.WrapInvalid(fmt.Errorf("metrics.port %d out of range: %w", c.Metrics.Port, errors.ErrInvalidConfig),
			"Config", "Validate", "metrics validation")
	}
	if err := c.NATS.TLS.Validate(); err != nil {
		return errors.Wrap(err, "Config", "Validate", "nats tls")
	}
	if err := c.Metrics.TLS.Validate(); err != nil {
		return errors.Wrap(err, "Config", "Validate", "metrics tls")
	}
	enabled := 0
	for name, cc := range c.Components {
		if err := component.ValidateComponentName(name); err != nil {
			return err
		}
		if cc.Name == "" {
			return errors.WrapInvalid(fmt.Errorf("components.%s.name: %w", name, errors.ErrMissingConfig),
				"Config", "Validate", "component validation")
		}
		if cc.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return errors.WrapInvalid(fmt.Errorf("no enabled components: %w", errors.ErrInvalidConfig),
			"Config", "Validate", "component validation")
	}
	return nil
}

// EnabledComponents returns the enabled entries of Components.
func (c *Config) EnabledComponents() map[string]component.ComponentConfig {
	out := make(map[string]component.ComponentConfig)
	for name, cc := range c.Components {
		if cc.Enabled {
			out[name] = cc
		}
	}
	return out
}

// String returns the config as JSON with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.NATS.Password != "" {
		masked.NATS.Password = "****"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "****"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix}
}

// AddLayer adds a configuration file layer. Later layers win.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment override prefix
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(defaults())
	if err != nil {
		return nil, err
	}

	for _, path := range l.layers {
		raw, err := loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		merged = deepMergeMaps(merged, raw)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "encode merged config")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode merged config")
	}

	l.applyEnvOverrides(&cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func defaults() *Config {
	return &Config{
		Version: "1.0.0",
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Metrics: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
	}
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	return m, json.Unmarshal(data, &m)
}

// loadRaw reads a JSON or YAML file (by extension) into a generic map.
func loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}
	return raw, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if bm, ok := base[k].(map[string]any); ok {
			if om, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(bm, om)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func (l *Loader) applyEnvOverrides(cfg *Config) {
	env := func(name string) string { return os.Getenv(l.envPrefix + "_" + name) }

	if val := env("NATS_URLS"); val != "" {
		cfg.NATS.URLs = strings.Split(val, ",")
	}
	if val := env("NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := env("NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := env("NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := env("METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
