package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/testfleet/pkg/browser"
	"github.com/odvcencio/testfleet/pkg/dispatch"
	"github.com/odvcencio/testfleet/pkg/transport"
)

func TestForwarder_Lifecycle(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	ch, unsub := hub.Subscribe(nil)
	defer unsub()

	fwd := NewForwarder(hub)
	info := browser.Info{ID: "b1", UserAgent: "Firefox", Platform: "linux"}

	fwd.ServerStarted()
	fwd.BrowserCaptured(info)
	fwd.BrowserPanicked(info)
	fwd.ServerStopped()

	assert.Equal(t, EventServerStarted, receive(t, ch).Type)

	captured := receive(t, ch)
	assert.Equal(t, EventBrowserCaptured, captured.Type)
	assert.Equal(t, "b1", captured.BrowserID)
	assert.Equal(t, "Firefox", captured.Data["userAgent"])
	assert.Equal(t, "linux", captured.Data["platform"])

	assert.Equal(t, EventBrowserPanicked, receive(t, ch).Type)
	assert.Equal(t, EventServerStopped, receive(t, ch).Type)
}

func TestForwarder_Results(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	ch, unsub := hub.Subscribe(nil)
	defer unsub()

	fwd := NewForwarder(hub)
	fwd.TestResult("run1", browser.Info{ID: "b1"}, transport.TestResult{
		TestCaseName: "Suite",
		TestName:     "adds",
		Result:       transport.ResultFailed,
		Message:      "expected 2",
		Millis:       12,
	})

	ev := receive(t, ch)
	assert.Equal(t, EventTestResult, ev.Type)
	assert.Equal(t, "run1", ev.RunID)
	assert.Equal(t, "Suite.adds", ev.Data["test"])
	assert.Equal(t, "failed", ev.Data["result"])
	assert.Equal(t, "expected 2", ev.Data["message"])

	fwd.RunComplete(&dispatch.RunReport{
		RunID:   "run1",
		Success: false,
		Browsers: map[string]*dispatch.BrowserReport{
			"b1": {Info: browser.Info{ID: "b1"}, Status: dispatch.BrowserCompleted},
		},
		Failures: []dispatch.Failure{{Kind: dispatch.FailureTest, BrowserID: "b1"}},
	})

	done := receive(t, ch)
	assert.Equal(t, EventRunCompleted, done.Type)
	assert.Equal(t, false, done.Data["success"])
	assert.Equal(t, 1, done.Data["failures"])
	statuses, ok := done.Data["browsers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "completed", statuses["b1"])
}
