// Package capture turns browser announcements on the bus into registry
// updates.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/odvcencio/testfleet/pkg/browser"
	"github.com/odvcencio/testfleet/pkg/bus"
	"github.com/odvcencio/testfleet/pkg/observability"
)

// Tracker is the part of the registry the listener drives.
type Tracker interface {
	Capture(info browser.Info) (browser.Browser, error)
	Heartbeat(id string) error
	Panic(id string) error
}

// Listener subscribes to the capture, heartbeat and panic subjects.
type Listener struct {
	bus     bus.MessageBus
	tracker Tracker
	logger  *observability.Logger

	mu   sync.Mutex
	subs []bus.Subscription
}

// NewListener creates a Listener; call Start to begin consuming.
func NewListener(b bus.MessageBus, tracker Tracker, logger *observability.Logger) *Listener {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Listener{bus: b, tracker: tracker, logger: logger}
}

// Start subscribes to browser announcements. Subscriptions end with ctx or Stop.
func (l *Listener) Start(ctx context.Context) error {
	handlers := []struct {
		subject string
		handle  func(browser.Info) error
	}{
		{bus.SubjectCapture, l.handleCapture},
		{bus.SubjectHeartbeat, l.handleHeartbeat},
		{bus.SubjectPanic, l.handlePanic},
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, h := range handlers {
		sub, err := l.bus.Subscribe(ctx, h.subject, l.wrap(h.subject, h.handle))
		if err != nil {
			l.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		l.subs = append(l.subs, sub)
	}
	return nil
}

// Stop unsubscribes. It is safe to call more than once.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unsubscribeLocked()
}

func (l *Listener) unsubscribeLocked() {
	for _, sub := range l.subs {
		_ = sub.Unsubscribe()
	}
	l.subs = nil
}

func (l *Listener) wrap(subject string, handle func(browser.Info) error) bus.MessageHandler {
	return func(msg *bus.Message) []byte {
		var info browser.Info
		if err := json.Unmarshal(msg.Data, &info); err != nil {
			l.logger.Warn("malformed browser announcement",
				slog.String("subject", subject),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if err := handle(info); err != nil {
			level := slog.LevelWarn
			if browser.IsUnknownBrowser(err) {
				level = slog.LevelDebug
			}
			l.logger.Log(context.Background(), level, "browser announcement rejected",
				slog.String("subject", subject),
				slog.String("browser_id", info.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
}

func (l *Listener) handleCapture(info browser.Info) error {
	_, err := l.tracker.Capture(info)
	return err
}

func (l *Listener) handleHeartbeat(info browser.Info) error {
	if info.ID == "" {
		return errors.New("heartbeat without browser id")
	}
	return l.tracker.Heartbeat(info.ID)
}

func (l *Listener) handlePanic(info browser.Info) error {
	if info.ID == "" {
		return errors.New("panic without browser id")
	}
	return l.tracker.Panic(info.ID)
}
