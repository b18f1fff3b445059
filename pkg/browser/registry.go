package browser

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odvcencio/testfleet/pkg/observability"
)

// Registry tracks captured browsers and is the only writer of browser state.
// It is safe for concurrent use; listeners are always invoked without the
// registry lock held.
type Registry struct {
	mu       sync.RWMutex
	browsers map[string]*Browser
	started  bool

	listenerMu sync.RWMutex
	listeners  []ServerListener

	logger  *observability.Logger
	metrics *Metrics
	now     func() time.Time
	newID   func() string
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *observability.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithClock overrides time.Now, mainly for heartbeat tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty, stopped registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		browsers: make(map[string]*Browser),
		logger:   observability.NopLogger(),
		metrics:  NewMetrics(),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddListener appends a listener. Registration is additive and ordered.
func (r *Registry) AddListener(l ServerListener) {
	if l == nil {
		return
	}
	r.listenerMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenerMu.Unlock()
}

// Metrics returns the registry's metrics collector.
func (r *Registry) Metrics() *Metrics {
	return r.metrics
}

// Start opens the capture window and notifies ServerStarted.
func (r *Registry) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.logger.Info("server started")
	r.notify("server_started", func(l ServerListener) { l.ServerStarted() })
}

// Stop closes the capture window, drops every tracked browser and notifies
// ServerStopped. Dropped browsers do not receive individual panic events.
func (r *Registry) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.browsers = make(map[string]*Browser)
	r.mu.Unlock()

	r.metrics.RecordReset()
	r.logger.Info("server stopped")
	r.notify("server_stopped", func(l ServerListener) { l.ServerStopped() })
}

// Started reports whether the capture window is open.
func (r *Registry) Started() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.started
}

// Capture registers info as captured. An empty id is replaced with a new one.
// Capturing an id that is already tracked refreshes its capture time.
func (r *Registry) Capture(info Info) (Browser, error) {
	if info.ID == "" {
		info.ID = r.newID()
	}

	now := r.now()
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return Browser{}, notStarted("capture")
	}
	b, exists := r.browsers[info.ID]
	if !exists {
		b = &Browser{}
		r.browsers[info.ID] = b
	}
	b.Info = info
	b.State = StateCaptured
	b.CapturedAt = now
	b.LastHeartbeat = now
	snapshot := *b
	r.mu.Unlock()

	r.metrics.RecordCapture(!exists)
	r.logger.BrowserCaptured(info.ID, info.UserAgent, info.Platform)
	r.notify("browser_captured", func(l ServerListener) { l.BrowserCaptured(info) })
	return snapshot, nil
}

// Panic marks the browser unreachable and removes it from the eligible set.
// The browser must capture again to rejoin.
func (r *Registry) Panic(id string) error {
	return r.markPanicked(id, ReasonExplicit)
}

func (r *Registry) markPanicked(id string, reason PanicReason) error {
	r.mu.Lock()
	b, ok := r.browsers[id]
	if !ok {
		r.mu.Unlock()
		return unknownBrowser(id)
	}
	b.State = StatePanicked
	info := b.Info
	delete(r.browsers, id)
	r.mu.Unlock()

	r.metrics.RecordPanic(reason)
	r.logger.BrowserPanicked(id, string(reason))
	r.notify("browser_panicked", func(l ServerListener) { l.BrowserPanicked(info) })
	return nil
}

// Heartbeat records that the browser is still reachable.
func (r *Registry) Heartbeat(id string) error {
	now := r.now()
	r.mu.Lock()
	b, ok := r.browsers[id]
	if ok {
		b.LastHeartbeat = now
	}
	r.mu.Unlock()
	if !ok {
		return unknownBrowser(id)
	}
	r.metrics.RecordHeartbeat()
	return nil
}

// DetectSilent returns browsers whose last heartbeat is older than timeout.
func (r *Registry) DetectSilent(timeout time.Duration) []Info {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()

	var silent []Info
	for _, b := range r.browsers {
		if b.LastHeartbeat.Add(timeout).Before(now) {
			silent = append(silent, b.Info)
		}
	}
	sort.Slice(silent, func(i, j int) bool { return silent[i].ID < silent[j].ID })
	return silent
}

// PanicSilent panics every browser that missed its heartbeat window and
// returns the ids it removed.
func (r *Registry) PanicSilent(timeout time.Duration) []string {
	var removed []string
	for _, info := range r.DetectSilent(timeout) {
		// A concurrent Panic may have removed it already.
		if err := r.markPanicked(info.ID, ReasonHeartbeat); err == nil {
			removed = append(removed, info.ID)
		}
	}
	return removed
}

// WatchHeartbeats runs PanicSilent every interval until ctx is done.
func (r *Registry) WatchHeartbeats(ctx context.Context, interval, timeout time.Duration) {
	if interval <= 0 || timeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.PanicSilent(timeout)
		}
	}
}

// Count returns the number of captured browsers. It fails with ErrNotStarted
// before Start.
func (r *Registry) Count() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.started {
		return 0, notStarted("count")
	}
	return len(r.browsers), nil
}

// Browsers returns a snapshot of captured browsers ordered by capture time.
// The set may change as soon as the snapshot is returned.
func (r *Registry) Browsers() []Browser {
	r.mu.RLock()
	out := make([]Browser, 0, len(r.browsers))
	for _, b := range r.browsers {
		out = append(out, *b)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].CapturedAt.Before(out[j].CapturedAt)
		}
		return out[i].Info.ID < out[j].Info.ID
	})
	return out
}

// Get returns a captured browser by id.
func (r *Registry) Get(id string) (Browser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.browsers[id]
	if !ok {
		return Browser{}, false
	}
	return *b, true
}

// IsCaptured reports whether id is currently eligible for dispatch.
func (r *Registry) IsCaptured(id string) bool {
	_, ok := r.Get(id)
	return ok
}

func (r *Registry) notify(event string, fn func(ServerListener)) {
	r.listenerMu.RLock()
	listeners := make([]ServerListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.listenerMu.RUnlock()

	for _, l := range listeners {
		r.invoke(event, l, fn)
	}
}

func (r *Registry) invoke(event string, l ServerListener, fn func(ServerListener)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.RecordListenerFault(event)
			r.logger.ListenerFault(event, rec)
		}
	}()
	fn(l)
}
