package browser

import "time"

// State is the lifecycle state of a tracked browser.
type State string

const (
	StateUnregistered State = "unregistered"
	StateCaptured     State = "captured"
	StatePanicked     State = "panicked"
)

// Info identifies a browser as reported on capture.
type Info struct {
	ID        string `json:"id"`
	UserAgent string `json:"userAgent"`
	Platform  string `json:"platform,omitempty"`
}

// String renders the browser for logs and failure messages.
func (i Info) String() string {
	if i.UserAgent == "" {
		return i.ID
	}
	return i.UserAgent + " (" + i.ID + ")"
}

// Browser is the registry's view of a browser.
type Browser struct {
	Info          Info      `json:"info"`
	State         State     `json:"state"`
	CapturedAt    time.Time `json:"capturedAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
}

// ID returns the browser id.
func (b Browser) ID() string {
	return b.Info.ID
}

// PanicReason records why a browser left the eligible set.
type PanicReason string

const (
	ReasonExplicit  PanicReason = "explicit"
	ReasonHeartbeat PanicReason = "heartbeat"
)
