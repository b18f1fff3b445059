// Package telemetry fans fleet lifecycle and result events out to live
// subscribers such as the websocket event stream.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/odvcencio/testfleet/pkg/observability"
)

// EventType identifies the kind of telemetry event.
type EventType string

const (
	EventServerStarted   EventType = "server.started"
	EventServerStopped   EventType = "server.stopped"
	EventBrowserCaptured EventType = "browser.captured"
	EventBrowserPanicked EventType = "browser.panicked"
	EventTestResult      EventType = "test.result"
	EventRunCompleted    EventType = "run.completed"
)

// Event is one fleet occurrence as seen by stream clients.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	BrowserID string         `json:"browserId,omitempty"`
	RunID     string         `json:"runId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Filter selects the events a subscriber receives. A nil Filter receives
// everything.
type Filter func(Event) bool

const subscriberBuffer = 64

type subscriber struct {
	events chan Event
	filter Filter
}

// Hub delivers every published event to each matching subscriber without
// blocking the publisher: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	closed  bool
	dropped atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Publish stamps event with the current time when it has none and delivers it.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		select {
		case sub.events <- event:
		default:
			h.dropped.Add(1)
			observability.TelemetryDropped.Inc()
		}
	}
}

// Dropped counts deliveries missed by slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Subscribe registers a subscriber and returns its event channel and an
// idempotent cancel func. After Close the channel is returned closed.
func (h *Hub) Subscribe(filter Filter) (<-chan Event, func()) {
	sub := &subscriber{events: make(chan Event, subscriberBuffer), filter: filter}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.events)
		return sub.events, func() {}
	}
	h.subs[sub] = struct{}{}
	return sub.events, func() { h.remove(sub) }
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.events)
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription; later publishes are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.events)
	}
	clear(h.subs)
}
