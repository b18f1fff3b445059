package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/odvcencio/testfleet/pkg/config"
	fleeterrors "github.com/odvcencio/testfleet/pkg/errors"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(oldWD)
	})
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Dispatch.PoolSize != 10 {
		t.Fatalf("expected pool size 10, got %d", cfg.Dispatch.PoolSize)
	}
	if cfg.Dispatch.Timeout != 2*time.Hour {
		t.Fatalf("expected 2h run timeout, got %s", cfg.Dispatch.Timeout)
	}
	if cfg.Bus.Backend != config.BusBackendMemory || cfg.Baselines.Store != config.BaselineStoreMemory {
		t.Fatalf("expected in-process defaults, got bus=%s baselines=%s", cfg.Bus.Backend, cfg.Baselines.Store)
	}
}

func TestLoadHierarchy(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)

	writeFile(t, filepath.Join(home, ".testfleet", "config.yaml"), `
dispatch:
  pool_size: 4
  timeout: 10m
logging:
  level: debug
`)
	writeFile(t, filepath.Join(project, ".testfleet", "config.yaml"), `
dispatch:
  pool_size: 6
bus:
  backend: nats
  url: nats://fleet:4222
`)
	chdir(t, project)
	t.Setenv("TESTFLEET_LOG_LEVEL", "WARN")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}

	if cfg.Dispatch.PoolSize != 6 {
		t.Fatalf("expected project pool size override, got %d", cfg.Dispatch.PoolSize)
	}
	if cfg.Dispatch.Timeout != 10*time.Minute {
		t.Fatalf("expected user timeout override, got %s", cfg.Dispatch.Timeout)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected env log level override, got %s", cfg.Logging.Level)
	}
	if cfg.Bus.Backend != "nats" || cfg.Bus.URL != "nats://fleet:4222" {
		t.Fatalf("unexpected bus config: %+v", cfg.Bus)
	}
	if cfg.Registry.HeartbeatTimeout != config.DefaultHeartbeatTimeout {
		t.Fatalf("unset keys should keep defaults, got %s", cfg.Registry.HeartbeatTimeout)
	}
}

func TestLoadReadsConfigEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	chdir(t, t.TempDir())

	writeFile(t, filepath.Join(home, ".testfleet", "config.env"), `
# fleet overrides
export TESTFLEET_POOL_SIZE=3
TESTFLEET_BIND="0.0.0.0:7000"
`)
	t.Setenv("TESTFLEET_POOL_SIZE", "5")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}
	if cfg.Dispatch.PoolSize != 5 {
		t.Fatalf("process env should win over config.env, got %d", cfg.Dispatch.PoolSize)
	}
	if cfg.Server.Bind != "0.0.0.0:7000" {
		t.Fatalf("expected bind from config.env, got %s", cfg.Server.Bind)
	}
}

func TestLoadFromPath(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	writeFile(t, path, `
server:
  bind: 127.0.0.1:8080
  url: http://fleet.local:8080
  allowed_origins: ["fleet.local"]
baselines:
  store: sqlite
  path: /tmp/fleet.db
tracing:
  enabled: true
`)

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Server.Bind != "127.0.0.1:8080" || cfg.Server.URL != "http://fleet.local:8080" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "fleet.local" {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Baselines.Store != config.BaselineStoreSQLite || cfg.BaselinePath() != "/tmp/fleet.db" {
		t.Fatalf("unexpected baselines config: %+v", cfg.Baselines)
	}
	if !cfg.Tracing.Enabled {
		t.Fatalf("expected tracing enabled")
	}
}

func TestLoadFromPathErrors(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()

	_, err := config.LoadFromPath(filepath.Join(dir, "missing.yaml"))
	if !fleeterrors.IsCode(err, fleeterrors.ErrCodeConfigLoad) {
		t.Fatalf("expected CONFIG_LOAD, got %v", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "dispatch: [unclosed")
	_, err = config.LoadFromPath(bad)
	if !fleeterrors.IsCode(err, fleeterrors.ErrCodeConfigParse) {
		t.Fatalf("expected CONFIG_PARSE, got %v", err)
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	writeFile(t, invalid, "dispatch:\n  pool_size: 0\n")
	_, err = config.LoadFromPath(invalid)
	if !fleeterrors.IsCode(err, fleeterrors.ErrCodeConfigInvalid) {
		t.Fatalf("expected CONFIG_INVALID, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty bind", func(c *config.Config) { c.Server.Bind = "" }},
		{"bind without port", func(c *config.Config) { c.Server.Bind = "localhost" }},
		{"url scheme", func(c *config.Config) { c.Server.URL = "fleet.local:9876" }},
		{"negative rate", func(c *config.Config) { c.Capture.Rate = -1 }},
		{"zero burst", func(c *config.Config) { c.Capture.Burst = 0 }},
		{"zero pool", func(c *config.Config) { c.Dispatch.PoolSize = 0 }},
		{"zero timeout", func(c *config.Config) { c.Dispatch.Timeout = 0 }},
		{"heartbeat timeout below interval", func(c *config.Config) { c.Registry.HeartbeatTimeout = time.Second }},
		{"unknown bus", func(c *config.Config) { c.Bus.Backend = "kafka" }},
		{"nats without url", func(c *config.Config) { c.Bus.Backend = "nats"; c.Bus.URL = "" }},
		{"zero load timeout", func(c *config.Config) { c.Bus.LoadTimeout = 0 }},
		{"unknown store", func(c *config.Config) { c.Baselines.Store = "redis" }},
		{"sqlite without path", func(c *config.Config) { c.Baselines.Store = "sqlite"; c.Baselines.Path = "" }},
		{"log level", func(c *config.Config) { c.Logging.Level = "loud" }},
		{"sample ratio above one", func(c *config.Config) { c.Tracing.SampleRatio = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !fleeterrors.IsCode(err, fleeterrors.ErrCodeConfigInvalid) {
				t.Fatalf("expected CONFIG_INVALID, got %v", err)
			}
		})
	}

	cfg := config.DefaultConfig()
	cfg.Capture.Rate = 0
	cfg.Capture.Burst = 0
	cfg.Registry.HeartbeatInterval = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled limiter and watcher should validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	t.Setenv("TESTFLEET_TRACING", "on")
	t.Setenv("TESTFLEET_ALLOWED_ORIGINS", "a.local, b.local,,")
	t.Setenv("TESTFLEET_RUN_TIMEOUT", "90s")
	t.Setenv("TESTFLEET_POOL_SIZE", "not-a-number")
	t.Setenv("TESTFLEET_CAPTURE_RATE", "0")

	config.ApplyEnvOverrides(cfg)

	if !cfg.Tracing.Enabled {
		t.Fatalf("expected TESTFLEET_TRACING=on to enable tracing")
	}
	if len(cfg.Server.AllowedOrigins) != 2 {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Dispatch.Timeout != 90*time.Second {
		t.Fatalf("expected 90s timeout, got %s", cfg.Dispatch.Timeout)
	}
	if cfg.Dispatch.PoolSize != config.DefaultPoolSize {
		t.Fatalf("invalid pool size should be ignored, got %d", cfg.Dispatch.PoolSize)
	}
	if cfg.Capture.Rate != 0 {
		t.Fatalf("expected capture limiting disabled, got %f", cfg.Capture.Rate)
	}
}

func TestBaselinePathExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := config.DefaultConfig()
	want := filepath.Join(home, ".testfleet", "baselines.db")
	if got := cfg.BaselinePath(); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
