package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Browser lifecycle metrics
	BrowsersCaptured = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "testfleet",
			Subsystem: "browser",
			Name:      "captured",
			Help:      "Number of currently captured browsers",
		},
	)

	BrowserCaptures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "testfleet",
			Subsystem: "browser",
			Name:      "captures_total",
			Help:      "Total number of browser captures",
		},
	)

	BrowserPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testfleet",
			Subsystem: "browser",
			Name:      "panics_total",
			Help:      "Total number of browser panics",
		},
		[]string{"reason"}, // "explicit", "heartbeat"
	)

	ListenerFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testfleet",
			Subsystem: "listener",
			Name:      "faults_total",
			Help:      "Total number of listener notifications that panicked",
		},
		[]string{"event"},
	)

	// Synchronization metrics
	DeltaFiles = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "testfleet",
			Subsystem: "sync",
			Name:      "delta_files",
			Help:      "Number of files carried by each acknowledged delta",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512 files
		},
	)

	DeltaSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testfleet",
			Subsystem: "sync",
			Name:      "delta_sends_total",
			Help:      "Total number of delta sends by outcome",
		},
		[]string{"result"}, // "acked", "skipped", "fault"
	)

	// Dispatch metrics
	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testfleet",
			Subsystem: "dispatch",
			Name:      "runs_total",
			Help:      "Total number of dispatched runs by result",
		},
		[]string{"result"}, // "success", "failure", "no_browsers"
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "testfleet",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Wall time of a dispatch from snapshot to finalized report",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		},
	)

	BrowserOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testfleet",
			Subsystem: "dispatch",
			Name:      "browser_outcomes_total",
			Help:      "Per-browser run outcomes",
		},
		[]string{"status"},
	)

	TestResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testfleet",
			Subsystem: "dispatch",
			Name:      "test_results_total",
			Help:      "Total number of test results merged by result",
		},
		[]string{"result"},
	)

	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "testfleet",
			Subsystem: "dispatch",
			Name:      "runs_active",
			Help:      "Number of dispatches currently in flight",
		},
	)

	// Bus metrics
	BusRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "testfleet",
			Subsystem: "bus",
			Name:      "requests_total",
			Help:      "Request/reply round trips by outcome",
		},
		[]string{"backend", "result"}, // "ok", "timeout", "no_responders", "canceled", "error"
	)

	TelemetryDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "testfleet",
			Subsystem: "telemetry",
			Name:      "dropped_events_total",
			Help:      "Events a slow stream subscriber missed",
		},
	)
)
