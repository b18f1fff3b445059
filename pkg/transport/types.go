package transport

import (
	"time"

	"github.com/odvcencio/testfleet/pkg/fileset"
)

// ResponseType tags a message streamed back from a browser during a run.
type ResponseType string

const (
	// ResponseTestQuery lists the tests the browser is about to run.
	ResponseTestQuery ResponseType = "TEST_QUERY_RESULT"
	// ResponseTestResult carries one finished test.
	ResponseTestResult ResponseType = "TEST_RESULT"
	// ResponseLog carries console output captured in the browser.
	ResponseLog ResponseType = "LOG"
	// ResponseRunComplete ends a run stream normally.
	ResponseRunComplete ResponseType = "RUN_COMPLETE"
	// ResponseFault ends a run stream with a communication or harness error.
	ResponseFault ResponseType = "FAULT"
)

// Terminal reports whether t ends a run stream.
func (t ResponseType) Terminal() bool {
	return t == ResponseRunComplete || t == ResponseFault
}

// Result is the outcome of a single test.
type Result string

const (
	ResultPassed Result = "passed"
	ResultFailed Result = "failed"
	ResultError  Result = "error"
)

// TestResult is one test's outcome as reported by a browser.
type TestResult struct {
	TestCaseName string `json:"testCaseName"`
	TestName     string `json:"testName"`
	Result       Result `json:"result"`
	Message      string `json:"message,omitempty"`
	Log          string `json:"log,omitempty"`
	Stack        string `json:"stack,omitempty"`
	// Millis is the test wall time in milliseconds.
	Millis int64 `json:"time"`
}

// FullName is "<testCaseName>.<testName>", or just the test name when the
// case is unnamed.
func (r TestResult) FullName() string {
	if r.TestCaseName == "" {
		return r.TestName
	}
	return r.TestCaseName + "." + r.TestName
}

// Passed reports whether the test succeeded.
func (r TestResult) Passed() bool {
	return r.Result == ResultPassed
}

// BrowserLog is a console line captured in the browser.
type BrowserLog struct {
	Level   string `json:"level"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

// Response is one message in a run stream.
type Response struct {
	Type      ResponseType `json:"type"`
	BrowserID string       `json:"browserId,omitempty"`
	Tests     []string     `json:"tests,omitempty"`
	Result    *TestResult  `json:"result,omitempty"`
	Log       *BrowserLog  `json:"log,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// RunCommand tells a browser to run its loaded tests.
type RunCommand struct {
	RunID string `json:"runId"`
	// Filter restricts the run to tests whose full name matches an entry.
	Filter       []string      `json:"filter,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
	ReplySubject string        `json:"replySubject,omitempty"`
	// DryRun asks for the TEST_QUERY_RESULT list without running any test.
	DryRun bool `json:"dryRun,omitempty"`
}

// LoadRequest asks a browser to load a delta.
type LoadRequest struct {
	Delta fileset.Delta `json:"delta"`
}

// Ack answers a LoadRequest.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
