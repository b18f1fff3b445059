package browser

import (
	"sync/atomic"

	"github.com/odvcencio/testfleet/pkg/observability"
)

// Metrics tracks registry counters. All methods are safe on a nil receiver.
type Metrics struct {
	Captures        atomic.Int64
	Panics          atomic.Int64
	HeartbeatPanics atomic.Int64
	Heartbeats      atomic.Int64
	ListenerFaults  atomic.Int64
	Captured        atomic.Int64
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordCapture counts a capture. fresh is false for a re-capture of a browser
// that was already in the eligible set.
func (m *Metrics) RecordCapture(fresh bool) {
	if m == nil {
		return
	}
	m.Captures.Add(1)
	observability.BrowserCaptures.Inc()
	if fresh {
		observability.BrowsersCaptured.Set(float64(m.Captured.Add(1)))
	}
}

// RecordPanic counts a browser leaving the eligible set.
func (m *Metrics) RecordPanic(reason PanicReason) {
	if m == nil {
		return
	}
	m.Panics.Add(1)
	if reason == ReasonHeartbeat {
		m.HeartbeatPanics.Add(1)
	}
	observability.BrowserPanics.WithLabelValues(string(reason)).Inc()
	observability.BrowsersCaptured.Set(float64(m.Captured.Add(-1)))
}

// RecordHeartbeat counts an accepted heartbeat.
func (m *Metrics) RecordHeartbeat() {
	if m == nil {
		return
	}
	m.Heartbeats.Add(1)
}

// RecordListenerFault counts a listener that panicked during notification.
func (m *Metrics) RecordListenerFault(event string) {
	if m == nil {
		return
	}
	m.ListenerFaults.Add(1)
	observability.ListenerFaults.WithLabelValues(event).Inc()
}

// RecordReset zeroes the captured gauge when the server stops.
func (m *Metrics) RecordReset() {
	if m == nil {
		return
	}
	m.Captured.Store(0)
	observability.BrowsersCaptured.Set(0)
}

// Snapshot returns a point-in-time copy of all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Captures:        m.Captures.Load(),
		Panics:          m.Panics.Load(),
		HeartbeatPanics: m.HeartbeatPanics.Load(),
		Heartbeats:      m.Heartbeats.Load(),
		ListenerFaults:  m.ListenerFaults.Load(),
		Captured:        m.Captured.Load(),
	}
}

// MetricsSnapshot is a point-in-time copy of registry metrics.
type MetricsSnapshot struct {
	Captures        int64 `json:"captures"`
	Panics          int64 `json:"panics"`
	HeartbeatPanics int64 `json:"heartbeatPanics"`
	Heartbeats      int64 `json:"heartbeats"`
	ListenerFaults  int64 `json:"listenerFaults"`
	Captured        int64 `json:"captured"`
}
