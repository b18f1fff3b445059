package telemetry

import (
	"github.com/odvcencio/testfleet/pkg/browser"
	"github.com/odvcencio/testfleet/pkg/dispatch"
	"github.com/odvcencio/testfleet/pkg/transport"
)

// Forwarder publishes registry lifecycle and dispatch results to a Hub. It
// is registered as both a browser.ServerListener and a dispatch.ResultListener.
type Forwarder struct {
	hub *Hub
}

// NewForwarder creates a Forwarder publishing to hub.
func NewForwarder(hub *Hub) *Forwarder {
	return &Forwarder{hub: hub}
}

func (f *Forwarder) ServerStarted() {
	f.hub.Publish(Event{Type: EventServerStarted})
}

func (f *Forwarder) ServerStopped() {
	f.hub.Publish(Event{Type: EventServerStopped})
}

func (f *Forwarder) BrowserCaptured(info browser.Info) {
	f.hub.Publish(Event{
		Type:      EventBrowserCaptured,
		BrowserID: info.ID,
		Data:      browserData(info),
	})
}

func (f *Forwarder) BrowserPanicked(info browser.Info) {
	f.hub.Publish(Event{
		Type:      EventBrowserPanicked,
		BrowserID: info.ID,
		Data:      browserData(info),
	})
}

func (f *Forwarder) TestResult(runID string, info browser.Info, result transport.TestResult) {
	data := map[string]any{
		"test":   result.FullName(),
		"result": string(result.Result),
		"timeMs": result.Millis,
	}
	if result.Message != "" {
		data["message"] = result.Message
	}
	f.hub.Publish(Event{
		Type:      EventTestResult,
		BrowserID: info.ID,
		RunID:     runID,
		Data:      data,
	})
}

func (f *Forwarder) RunComplete(report *dispatch.RunReport) {
	statuses := make(map[string]any, len(report.Browsers))
	for id, b := range report.Browsers {
		statuses[id] = string(b.Status)
	}
	f.hub.Publish(Event{
		Type:  EventRunCompleted,
		RunID: report.RunID,
		Data: map[string]any{
			"success":  report.Success,
			"failures": len(report.Failures),
			"passed":   report.Passed(),
			"browsers": statuses,
		},
	})
}

func browserData(info browser.Info) map[string]any {
	data := map[string]any{"userAgent": info.UserAgent}
	if info.Platform != "" {
		data["platform"] = info.Platform
	}
	return data
}

var (
	_ browser.ServerListener  = (*Forwarder)(nil)
	_ dispatch.ResultListener = (*Forwarder)(nil)
)
