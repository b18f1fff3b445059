package bus

import "fmt"

const (
	// SubjectCapture carries browser.Info for browsers joining the fleet.
	SubjectCapture = "testfleet.capture"
	// SubjectHeartbeat carries browser.Info for browsers proving liveness.
	SubjectHeartbeat = "testfleet.heartbeat"
	// SubjectPanic carries browser.Info for browsers leaving the fleet.
	SubjectPanic = "testfleet.panic"
)

// LoadSubject is the request/reply subject a browser answers file loads on.
func LoadSubject(browserID string) string {
	return fmt.Sprintf("testfleet.browser.%s.load", browserID)
}

// RunSubject is the subject a browser receives run commands on.
func RunSubject(browserID string) string {
	return fmt.Sprintf("testfleet.browser.%s.run", browserID)
}

// ResponseSubject is where a browser streams responses for one run.
func ResponseSubject(runID, browserID string) string {
	return fmt.Sprintf("testfleet.run.%s.%s", runID, browserID)
}
