package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	fleeterrors "github.com/odvcencio/testfleet/pkg/errors"
)

// Load loads configuration from default locations with proper precedence:
// defaults, ~/.testfleet/config.yaml, ./.testfleet/config.yaml, then the
// environment.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".testfleet", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}

	projectConfigPath := filepath.Join(".", ".testfleet", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	applyEnvOverrides(cfg, configEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	if err := loadAndMerge(cfg, path); err != nil {
		if os.IsNotExist(err) {
			return nil, fleeterrors.Wrap(err, fleeterrors.ErrCodeConfigLoad, "config file not found").
				WithContext("path", path)
		}
		return nil, err
	}

	applyEnvOverrides(cfg, configEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies TESTFLEET_* variables to cfg.
func ApplyEnvOverrides(cfg *Config) {
	applyEnvOverrides(cfg, nil)
}

// loadAndMerge decodes the YAML file at path over cfg. Keys absent from the
// file keep their current values. A missing file returns the os error as is.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return fleeterrors.Wrap(err, fleeterrors.ErrCodeConfigLoad, "read config").WithContext("path", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fleeterrors.Wrap(err, fleeterrors.ErrCodeConfigParse, "parse config").WithContext("path", path)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides. Values from
// ~/.testfleet/config.env apply when the process environment lacks the key.
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	lookup := func(key string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(configEnv[key])
	}

	if v := lookup("TESTFLEET_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := lookup("TESTFLEET_URL"); v != "" {
		cfg.Server.URL = v
	}
	if v := lookup("TESTFLEET_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitCommaList(v)
	}
	if v := lookup("TESTFLEET_CAPTURE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Capture.Rate = f
		}
	}
	if v := lookup("TESTFLEET_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.PoolSize = n
		}
	}
	if v := lookup("TESTFLEET_RUN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Dispatch.Timeout = d
		}
	}
	if v := lookup("TESTFLEET_BUS_BACKEND"); v != "" {
		cfg.Bus.Backend = strings.ToLower(v)
	}
	if v := lookup("TESTFLEET_NATS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := lookup("TESTFLEET_BASELINE_STORE"); v != "" {
		cfg.Baselines.Store = strings.ToLower(v)
	}
	if v := lookup("TESTFLEET_BASELINE_PATH"); v != "" {
		cfg.Baselines.Path = v
	}
	if v := lookup("TESTFLEET_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if val, ok := parseBool(lookup("TESTFLEET_TRACING")); ok {
		cfg.Tracing.Enabled = val
	}
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseBool(val string) (bool, bool) {
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func loadConfigEnvVars() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(home, ".testfleet", "config.env"))
	if err != nil {
		return nil
	}

	vars := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		vars[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	return vars
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}
