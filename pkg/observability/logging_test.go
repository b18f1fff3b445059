package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for name, want := range cases {
		assert.Equal(t, want, ParseLevel(name), "level %q", name)
	}
}

func TestLogger_BrowserFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "registry", slog.LevelDebug)

	logger.WithRun("run-1").BrowserCaptured("b-1", "Firefox", "linux")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "browser captured", entry["msg"])
	assert.Equal(t, "registry", entry["component"])
	assert.Equal(t, "testfleet", entry["system"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "b-1", entry["browser_id"])
	assert.Equal(t, "Firefox", entry["user_agent"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "dispatch", slog.LevelInfo)

	logger.DeltaSent("b-1", 3)
	assert.Zero(t, buf.Len(), "debug output should be filtered at info level")

	logger.RunCompleted("run-1", 2, 0, true)
	assert.Contains(t, buf.String(), `"success":true`)
}
