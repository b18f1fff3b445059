package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/odvcencio/testfleet/pkg/telemetry"
)

const (
	wsPingInterval = 20 * time.Second
	wsPingTimeout  = 5 * time.Second
	wsWriteTimeout = 15 * time.Second
)

type wsConn interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
	Close(status websocket.StatusCode, reason string) error
}

// eventFilter selects events for one stream client. Empty fields match all.
type eventFilter struct {
	browserID string
	runID     string
}

func filterFromRequest(r *http.Request) eventFilter {
	q := r.URL.Query()
	return eventFilter{browserID: q.Get("browser"), runID: q.Get("run")}
}

func (f eventFilter) match(ev telemetry.Event) bool {
	if f.browserID != "" && ev.BrowserID != "" && ev.BrowserID != f.browserID {
		return false
	}
	if f.runID != "" && ev.RunID != f.runID {
		return false
	}
	return true
}

// writeLoop forwards events to conn until the stream ends or a write fails.
func writeLoop(ctx context.Context, conn wsConn, events <-chan telemetry.Event) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func startWSPing(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, wsPingTimeout)
				_ = conn.Ping(pingCtx)
				cancel()
			}
		}
	}()
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusNotFound, errNoEventStream)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn("event stream accept failed", slog.String("error", err.Error()))
		return
	}

	events, unsubscribe := s.hub.Subscribe(filterFromRequest(r).match)
	defer unsubscribe()

	// The stream is server to client only; CloseRead handles control frames
	// and cancels ctx once the client goes away.
	ctx := conn.CloseRead(r.Context())
	startWSPing(ctx, conn)

	err = writeLoop(ctx, conn, events)
	switch {
	case err == nil:
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	case ctx.Err() != nil:
		_ = conn.Close(websocket.StatusNormalClosure, "")
	default:
		s.logger.Debug("event stream write failed", slog.String("error", err.Error()))
		_ = conn.Close(websocket.StatusInternalError, "write failed")
	}
}
