package dispatch

import (
	"time"

	"github.com/odvcencio/testfleet/pkg/browser"
	"github.com/odvcencio/testfleet/pkg/fileset"
	"github.com/odvcencio/testfleet/pkg/transport"
)

// RunRequest asks every captured browser to load TestCase and run it.
type RunRequest struct {
	TestCase fileset.TestCase `json:"testCase"`
	// Filter restricts the run to matching tests; empty runs everything.
	Filter []string `json:"filter,omitempty"`
	// Timeout bounds the whole run. Zero uses the dispatcher default.
	Timeout time.Duration `json:"timeout,omitempty"`
	// DryRun loads the test case and collects each browser's test list
	// without running anything.
	DryRun bool `json:"dryRun,omitempty"`
}

// BrowserStatus is the per-browser progress within a run.
type BrowserStatus string

const (
	BrowserPending   BrowserStatus = "pending"
	BrowserLoading   BrowserStatus = "loading"
	BrowserRunning   BrowserStatus = "running"
	BrowserCompleted BrowserStatus = "completed"
	BrowserPanicked  BrowserStatus = "panicked"
	BrowserFaulted   BrowserStatus = "faulted"
	BrowserTimedOut  BrowserStatus = "timed_out"
)

// Terminal reports whether the browser is done with the run.
func (s BrowserStatus) Terminal() bool {
	switch s {
	case BrowserCompleted, BrowserPanicked, BrowserFaulted, BrowserTimedOut:
		return true
	default:
		return false
	}
}

// FailureKind classifies an entry in the run's failure list.
type FailureKind string

const (
	FailureTest       FailureKind = "test_failure"
	FailureTestError  FailureKind = "test_error"
	FailurePanic      FailureKind = "panic"
	FailureFault      FailureKind = "fault"
	FailureTimeout    FailureKind = "timeout"
	FailureNoBrowsers FailureKind = "no_browsers"
)

// Failure is one reason a run did not succeed.
type Failure struct {
	Kind      FailureKind `json:"kind"`
	BrowserID string      `json:"browserId,omitempty"`
	Browser   string      `json:"browser,omitempty"`
	// Test is the full test name; empty for browser-level failures.
	Test    string `json:"test,omitempty"`
	Message string `json:"message"`
}

// BrowserReport is one browser's part of a run.
type BrowserReport struct {
	Info     browser.Info           `json:"info"`
	Status   BrowserStatus          `json:"status"`
	Expected []string               `json:"expected,omitempty"`
	Results  []transport.TestResult `json:"results"`
	Logs     []transport.BrowserLog `json:"logs,omitempty"`
	Fault    string                 `json:"fault,omitempty"`
}

// RunReport is the aggregated outcome of a dispatch.
type RunReport struct {
	RunID      string                    `json:"runId"`
	State      RunState                  `json:"state"`
	StartedAt  time.Time                 `json:"startedAt"`
	FinishedAt time.Time                 `json:"finishedAt,omitempty"`
	Browsers   map[string]*BrowserReport `json:"browsers"`
	Failures   []Failure                 `json:"failures"`
	Success    bool                      `json:"success"`
	DryRun     bool                      `json:"dryRun,omitempty"`
}

// Passed counts passing results across all browsers.
func (r *RunReport) Passed() int {
	n := 0
	for _, b := range r.Browsers {
		for _, res := range b.Results {
			if res.Passed() {
				n++
			}
		}
	}
	return n
}

func (r *RunReport) clone() *RunReport {
	out := *r
	out.Browsers = make(map[string]*BrowserReport, len(r.Browsers))
	for id, b := range r.Browsers {
		cp := *b
		cp.Expected = append([]string(nil), b.Expected...)
		cp.Results = append([]transport.TestResult(nil), b.Results...)
		cp.Logs = append([]transport.BrowserLog(nil), b.Logs...)
		out.Browsers[id] = &cp
	}
	out.Failures = append([]Failure(nil), r.Failures...)
	return &out
}
