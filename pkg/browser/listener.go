package browser

//go:generate mockgen -package=browser -destination=mock_listener_test.go github.com/odvcencio/testfleet/pkg/browser ServerListener

// ServerListener observes the server lifecycle. Listeners are invoked in
// registration order; a listener that panics is logged and skipped.
type ServerListener interface {
	ServerStarted()
	ServerStopped()
	BrowserCaptured(info Info)
	BrowserPanicked(info Info)
}

// ListenerFuncs adapts optional callbacks to ServerListener.
type ListenerFuncs struct {
	OnServerStarted   func()
	OnServerStopped   func()
	OnBrowserCaptured func(Info)
	OnBrowserPanicked func(Info)
}

func (f ListenerFuncs) ServerStarted() {
	if f.OnServerStarted != nil {
		f.OnServerStarted()
	}
}

func (f ListenerFuncs) ServerStopped() {
	if f.OnServerStopped != nil {
		f.OnServerStopped()
	}
}

func (f ListenerFuncs) BrowserCaptured(info Info) {
	if f.OnBrowserCaptured != nil {
		f.OnBrowserCaptured(info)
	}
}

func (f ListenerFuncs) BrowserPanicked(info Info) {
	if f.OnBrowserPanicked != nil {
		f.OnBrowserPanicked(info)
	}
}
