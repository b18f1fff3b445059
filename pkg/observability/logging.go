package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Logger is a structured logger for testfleet components
type Logger struct {
	*slog.Logger
}

// NewLogger creates a JSON logger writing to stdout
func NewLogger(component string, level slog.Level) *Logger {
	return NewLoggerTo(os.Stdout, component, level)
}

// NewLoggerTo creates a JSON logger writing to w
func NewLoggerTo(w io.Writer, component string, level slog.Level) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With(
		slog.String("component", component),
		slog.String("system", "testfleet"),
	)
	return &Logger{Logger: logger}
}

// NopLogger discards everything. Used as the default when callers pass nil.
func NopLogger() *Logger {
	return NewLoggerTo(io.Discard, "nop", slog.LevelError+4)
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns a logger tagged with a different component name
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("component", name))}
}

// WithContext attaches trace and span ids when ctx carries a valid span.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return l
	}
	return &Logger{
		Logger: l.Logger.With(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		),
	}
}

// WithBrowser returns a logger with browser-specific fields
func (l *Logger) WithBrowser(browserID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("browser_id", browserID))}
}

// WithRun returns a logger with run-specific fields
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("run_id", runID))}
}

// BrowserCaptured logs a capture event
func (l *Logger) BrowserCaptured(browserID, userAgent, platform string) {
	l.Info("browser captured",
		slog.String("browser_id", browserID),
		slog.String("user_agent", userAgent),
		slog.String("platform", platform),
	)
}

// BrowserPanicked logs a browser becoming unreachable
func (l *Logger) BrowserPanicked(browserID, reason string) {
	l.Warn("browser panicked",
		slog.String("browser_id", browserID),
		slog.String("reason", reason),
	)
}

// ListenerFault logs a listener that panicked during notification
func (l *Logger) ListenerFault(event string, recovered any) {
	l.Error("listener fault",
		slog.String("event", event),
		slog.Any("panic", recovered),
	)
}

// DeltaSent logs an acknowledged delta
func (l *Logger) DeltaSent(browserID string, files int) {
	l.Debug("delta acknowledged",
		slog.String("browser_id", browserID),
		slog.Int("files", files),
	)
}

// RunCompleted logs the end of a dispatch
func (l *Logger) RunCompleted(runID string, browsers, failures int, success bool) {
	l.Info("run completed",
		slog.String("run_id", runID),
		slog.Int("browsers", browsers),
		slog.Int("failures", failures),
		slog.Bool("success", success),
	)
}
