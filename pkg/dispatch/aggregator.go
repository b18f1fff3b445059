package dispatch

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/odvcencio/testfleet/pkg/browser"
	"github.com/odvcencio/testfleet/pkg/observability"
	"github.com/odvcencio/testfleet/pkg/transport"
)

// ResultListener observes results as they are merged. Listeners are called in
// registration order without the aggregator lock held; a panicking listener is
// logged and skipped.
type ResultListener interface {
	TestResult(runID string, info browser.Info, result transport.TestResult)
	RunComplete(report *RunReport)
}

// Aggregator is the single writer of a RunReport. Every merge runs in one
// critical section; merges that arrive after Finalize are dropped.
type Aggregator struct {
	mu        sync.Mutex
	report    *RunReport
	index     map[string]map[string]int // browser -> full test name -> Results index
	finalized bool

	listeners []ResultListener
	logger    *observability.Logger
	now       func() time.Time
}

// NewAggregator creates a pending report for runID covering browsers.
func NewAggregator(runID string, browsers []browser.Info, logger *observability.Logger, listeners ...ResultListener) *Aggregator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	a := &Aggregator{
		report: &RunReport{
			RunID:    runID,
			State:    RunPending,
			Browsers: make(map[string]*BrowserReport, len(browsers)),
		},
		index:     make(map[string]map[string]int, len(browsers)),
		listeners: listeners,
		logger:    logger,
		now:       time.Now,
	}
	a.report.StartedAt = a.now()
	for _, info := range browsers {
		a.report.Browsers[info.ID] = &BrowserReport{Info: info, Status: BrowserPending}
		a.index[info.ID] = make(map[string]int)
	}
	return a
}

// Start moves the run in flight. A rejected transition is logged and
// returned; the run state is left as it was.
func (a *Aggregator) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := transition(&a.report.State, RunPending, RunInFlight); err != nil {
		a.logger.Error("start run", "run_id", a.report.RunID, "error", err)
		return err
	}
	return nil
}

// SetDryRun marks the report as a dry run.
func (a *Aggregator) SetDryRun(dryRun bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.report.DryRun = dryRun
}

// browserLocked returns the browser's report if it can still accept merges.
func (a *Aggregator) browserLocked(id string) (*BrowserReport, bool) {
	if a.finalized {
		return nil, false
	}
	b, ok := a.report.Browsers[id]
	if !ok || b.Status.Terminal() {
		return nil, false
	}
	return b, true
}

// SetStatus records a non-terminal progress step.
func (a *Aggregator) SetStatus(browserID string, status BrowserStatus) {
	if status.Terminal() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.browserLocked(browserID); ok {
		b.Status = status
	}
}

// Expect records the tests a browser announced it will run.
func (a *Aggregator) Expect(browserID string, tests []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.browserLocked(browserID); ok {
		for _, name := range tests {
			if !slices.Contains(b.Expected, name) {
				b.Expected = append(b.Expected, name)
			}
		}
	}
}

// AddResult merges one test result. A repeated (browser, test) pair replaces
// the earlier result. It reports whether the result was accepted.
func (a *Aggregator) AddResult(browserID string, result transport.TestResult) bool {
	a.mu.Lock()
	b, ok := a.browserLocked(browserID)
	if !ok {
		a.mu.Unlock()
		return false
	}
	name := result.FullName()
	if i, seen := a.index[browserID][name]; seen {
		b.Results[i] = result
	} else {
		a.index[browserID][name] = len(b.Results)
		b.Results = append(b.Results, result)
	}
	switch result.Result {
	case transport.ResultFailed:
		a.failLocked(b, FailureTest, name, result.Message)
	case transport.ResultError:
		a.failLocked(b, FailureTestError, name, result.Message)
	}
	info := b.Info
	runID := a.report.RunID
	listeners := a.listeners
	a.mu.Unlock()

	observability.TestResults.WithLabelValues(string(result.Result)).Inc()
	for _, l := range listeners {
		a.invoke("test_result", func() { l.TestResult(runID, info, result) })
	}
	return true
}

// AddLog appends a browser console line.
func (a *Aggregator) AddLog(browserID string, entry transport.BrowserLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.browserLocked(browserID); ok {
		b.Logs = append(b.Logs, entry)
	}
}

// Complete marks a browser as having finished its run.
func (a *Aggregator) Complete(browserID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.browserLocked(browserID); ok {
		b.Status = BrowserCompleted
	}
}

// Panic marks a browser as lost mid-run. Every expected test without a result
// becomes a failure; with nothing expected yet a single browser-level failure
// is recorded.
func (a *Aggregator) Panic(browserID, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.browserLocked(browserID)
	if !ok {
		return
	}
	b.Status = BrowserPanicked
	b.Fault = reason

	outstanding := 0
	for _, name := range b.Expected {
		if _, done := a.index[browserID][name]; done {
			continue
		}
		outstanding++
		a.failLocked(b, FailurePanic, name, reason)
	}
	if outstanding == 0 {
		a.failLocked(b, FailurePanic, "", reason)
	}
}

// Fault marks a browser as failed for a communication or harness error.
func (a *Aggregator) Fault(browserID string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.browserLocked(browserID)
	if !ok {
		return
	}
	b.Status = BrowserFaulted
	b.Fault = err.Error()
	a.failLocked(b, FailureFault, "", b.Fault)
}

// Expire marks every browser that has not finished as timed out and returns
// how many it marked.
func (a *Aggregator) Expire(message string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return 0
	}
	n := 0
	for _, id := range a.sortedIDsLocked() {
		b := a.report.Browsers[id]
		if b.Status.Terminal() {
			continue
		}
		b.Status = BrowserTimedOut
		b.Fault = message
		a.failLocked(b, FailureTimeout, "", message)
		n++
	}
	return n
}

// Finalize completes the run and returns the final report. Later calls return
// the same report.
func (a *Aggregator) Finalize() *RunReport {
	a.mu.Lock()
	if a.finalized {
		out := a.report.clone()
		a.mu.Unlock()
		return out
	}
	from := a.report.State
	if err := transition(&a.report.State, from, RunCompleted); err != nil {
		a.logger.Error("finalize run", "run_id", a.report.RunID, "error", err)
		a.report.State = RunCompleted
	}
	a.finalized = true
	a.report.FinishedAt = a.now()
	a.report.Success = len(a.report.Browsers) > 0 && len(a.report.Failures) == 0
	for _, b := range a.report.Browsers {
		if !b.Status.Terminal() {
			a.report.Success = false
		}
		observability.BrowserOutcomes.WithLabelValues(string(b.Status)).Inc()
	}
	out := a.report.clone()
	listeners := a.listeners
	a.mu.Unlock()

	for _, l := range listeners {
		a.invoke("run_complete", func() { l.RunComplete(out.clone()) })
	}
	return out
}

// Fail records a run-level failure that is not tied to a browser.
func (a *Aggregator) Fail(kind FailureKind, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return
	}
	a.report.Failures = append(a.report.Failures, Failure{Kind: kind, Message: message})
}

// Snapshot returns a deep copy of the current report.
func (a *Aggregator) Snapshot() *RunReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.report.clone()
}

func (a *Aggregator) failLocked(b *BrowserReport, kind FailureKind, test, message string) {
	if message == "" {
		message = string(kind)
	}
	a.report.Failures = append(a.report.Failures, Failure{
		Kind:      kind,
		BrowserID: b.Info.ID,
		Browser:   b.Info.String(),
		Test:      test,
		Message:   message,
	})
}

func (a *Aggregator) sortedIDsLocked() []string {
	ids := make([]string, 0, len(a.report.Browsers))
	for id := range a.report.Browsers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (a *Aggregator) invoke(event string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.ListenerFaults.WithLabelValues(event).Inc()
			a.logger.ListenerFault(event, rec)
		}
	}()
	fn()
}

func timeoutMessage(d time.Duration) string {
	return fmt.Sprintf("run timed out after %s", d)
}
