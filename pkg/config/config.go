// Package config loads testfleet configuration from YAML files and the
// environment.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	fleeterrors "github.com/odvcencio/testfleet/pkg/errors"
)

// Default configuration values exported for documentation and validation
const (
	DefaultBind              = "127.0.0.1:9876"
	DefaultShutdownTimeout   = 5 * time.Second
	DefaultCaptureRate       = 20.0
	DefaultCaptureBurst      = 40
	DefaultPoolSize          = 10
	DefaultRunTimeout        = 2 * time.Hour
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatTimeout  = 30 * time.Second
	DefaultBusBackend        = BusBackendMemory
	DefaultBusName           = "testfleet"
	DefaultBusTimeout        = 30 * time.Second
	DefaultLoadTimeout       = 30 * time.Second
	DefaultBaselineStore     = BaselineStoreMemory
	DefaultBaselinePath      = "~/.testfleet/baselines.db"
	DefaultLogLevel          = "info"
)

const (
	BusBackendMemory = "memory"
	BusBackendNATS   = "nats"

	BaselineStoreMemory = "memory"
	BaselineStoreSQLite = "sqlite"
)

// Config is the complete testfleet configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Capture   CaptureConfig   `yaml:"capture"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Registry  RegistryConfig  `yaml:"registry"`
	Bus       BusConfig       `yaml:"bus"`
	Baselines BaselinesConfig `yaml:"baselines"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Bind string `yaml:"bind"`
	// URL is the address browsers use to reach the server. Optional.
	URL             string        `yaml:"url"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CaptureConfig rate limits HTTP capture requests. A zero rate disables limiting.
type CaptureConfig struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// DispatchConfig tunes the run dispatcher.
type DispatchConfig struct {
	PoolSize int           `yaml:"pool_size"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RegistryConfig controls heartbeat-based panic detection. A zero interval
// disables the watcher.
type RegistryConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
}

// BusConfig selects the message bus browsers connect to.
type BusConfig struct {
	Backend     string        `yaml:"backend"`
	URL         string        `yaml:"url"`
	Name        string        `yaml:"name"`
	Timeout     time.Duration `yaml:"timeout"`
	LoadTimeout time.Duration `yaml:"load_timeout"`
}

// BaselinesConfig selects where per-browser baselines are kept.
type BaselinesConfig struct {
	Store string `yaml:"store"`
	Path  string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// SampleRatio is the fraction of runs traced, 0 to 1.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Bind:            DefaultBind,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Capture: CaptureConfig{
			Rate:  DefaultCaptureRate,
			Burst: DefaultCaptureBurst,
		},
		Dispatch: DispatchConfig{
			PoolSize: DefaultPoolSize,
			Timeout:  DefaultRunTimeout,
		},
		Registry: RegistryConfig{
			HeartbeatInterval: DefaultHeartbeatInterval,
			HeartbeatTimeout:  DefaultHeartbeatTimeout,
		},
		Bus: BusConfig{
			Backend:     DefaultBusBackend,
			URL:         defaultNATSURL(),
			Name:        DefaultBusName,
			Timeout:     DefaultBusTimeout,
			LoadTimeout: DefaultLoadTimeout,
		},
		Baselines: BaselinesConfig{
			Store: DefaultBaselineStore,
			Path:  DefaultBaselinePath,
		},
		Logging: LoggingConfig{Level: DefaultLogLevel},
		Tracing: TracingConfig{SampleRatio: 1},
	}
}

func defaultNATSURL() string {
	return "nats://127.0.0.1:4222"
}

// BaselinePath returns the SQLite path with ~ expanded.
func (c *Config) BaselinePath() string {
	return expandHomeDir(c.Baselines.Path)
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Bind) == "" {
		return invalid("server.bind", c.Server.Bind, "must not be empty")
	}
	if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
		return invalid("server.bind", c.Server.Bind, "must be host:port")
	}
	if c.Server.URL != "" && !strings.HasPrefix(c.Server.URL, "http") {
		return invalid("server.url", c.Server.URL, "must start with http:// or https://")
	}
	if c.Capture.Rate < 0 {
		return invalid("capture.rate", c.Capture.Rate, "must not be negative")
	}
	if c.Capture.Rate > 0 && c.Capture.Burst < 1 {
		return invalid("capture.burst", c.Capture.Burst, "must be at least 1 when rate limiting is enabled")
	}
	if c.Dispatch.PoolSize < 1 {
		return invalid("dispatch.pool_size", c.Dispatch.PoolSize, "must be at least 1")
	}
	if c.Dispatch.Timeout <= 0 {
		return invalid("dispatch.timeout", c.Dispatch.Timeout, "must be positive")
	}
	if c.Registry.HeartbeatInterval < 0 {
		return invalid("registry.heartbeat_interval", c.Registry.HeartbeatInterval, "must not be negative")
	}
	if c.Registry.HeartbeatInterval > 0 && c.Registry.HeartbeatTimeout <= c.Registry.HeartbeatInterval {
		return invalid("registry.heartbeat_timeout", c.Registry.HeartbeatTimeout, "must exceed the heartbeat interval")
	}

	switch strings.ToLower(c.Bus.Backend) {
	case BusBackendMemory:
	case BusBackendNATS:
		if strings.TrimSpace(c.Bus.URL) == "" {
			return invalid("bus.url", c.Bus.URL, "required for the nats backend")
		}
	default:
		return invalid("bus.backend", c.Bus.Backend, "valid: memory, nats")
	}
	if c.Bus.LoadTimeout <= 0 {
		return invalid("bus.load_timeout", c.Bus.LoadTimeout, "must be positive")
	}

	switch strings.ToLower(c.Baselines.Store) {
	case BaselineStoreMemory:
	case BaselineStoreSQLite:
		if strings.TrimSpace(c.Baselines.Path) == "" {
			return invalid("baselines.path", c.Baselines.Path, "required for the sqlite store")
		}
	default:
		return invalid("baselines.store", c.Baselines.Store, "valid: memory, sqlite")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("logging.level", c.Logging.Level, "valid: debug, info, warn, error")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return invalid("tracing.sample_ratio", c.Tracing.SampleRatio, "must be between 0 and 1")
	}
	return nil
}

func invalid(field string, value any, reason string) error {
	return fleeterrors.New(fleeterrors.ErrCodeConfigInvalid, fmt.Sprintf("invalid %s: %s", field, reason)).
		WithContext("field", field).
		WithContext("value", value)
}
