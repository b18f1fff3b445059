package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/odvcencio/testfleet/pkg/bus"
	"github.com/odvcencio/testfleet/pkg/fileset"
)

const streamBuffer = 256

// BusTransport implements Transport over a bus.MessageBus. Loads are
// request/reply; a run publishes its command and streams responses from a
// per-run subject.
type BusTransport struct {
	bus         bus.MessageBus
	loadTimeout time.Duration
}

// NewBusTransport creates a transport over b. loadTimeout bounds a single
// load acknowledgment; zero uses the bus default.
func NewBusTransport(b bus.MessageBus, loadTimeout time.Duration) *BusTransport {
	return &BusTransport{bus: b, loadTimeout: loadTimeout}
}

func (t *BusTransport) Send(ctx context.Context, browserID string, delta fileset.Delta) error {
	payload, err := json.Marshal(LoadRequest{Delta: delta})
	if err != nil {
		return fmt.Errorf("encode load request: %w", err)
	}

	raw, err := t.bus.Request(ctx, bus.LoadSubject(browserID), payload, t.loadTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", ErrNoAck, err)
	}

	var ack Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		return fmt.Errorf("%w: decode ack: %w", ErrNoAck, err)
	}
	if !ack.OK {
		return fmt.Errorf("%w: %s", ErrLoadRejected, ack.Error)
	}
	return nil
}

func (t *BusTransport) IssueRun(ctx context.Context, browserID string, cmd RunCommand) (<-chan Response, error) {
	if cmd.ReplySubject == "" {
		cmd.ReplySubject = bus.ResponseSubject(cmd.RunID, browserID)
	}

	in := make(chan Response, streamBuffer)
	stop := make(chan struct{})

	sub, err := t.bus.Subscribe(ctx, cmd.ReplySubject, func(msg *bus.Message) []byte {
		resp := decodeResponse(msg.Data, browserID)
		select {
		case in <- resp:
		case <-stop:
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", cmd.ReplySubject, err)
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("encode run command: %w", err)
	}
	if err := t.bus.Publish(ctx, bus.RunSubject(browserID), payload); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("publish run command: %w", err)
	}

	out := make(chan Response)
	go func() {
		defer close(out)
		defer close(stop)
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case resp := <-in:
				select {
				case out <- resp:
				case <-ctx.Done():
					return
				}
				if resp.Type.Terminal() {
					return
				}
			}
		}
	}()
	return out, nil
}

func decodeResponse(data []byte, browserID string) Response {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{
			Type:      ResponseFault,
			BrowserID: browserID,
			Error:     fmt.Sprintf("malformed response: %v", err),
		}
	}
	if resp.BrowserID == "" {
		resp.BrowserID = browserID
	}
	if resp.Type == "" {
		resp.Type = ResponseFault
		resp.Error = "response without type"
	}
	return resp
}

// IsNoAck reports whether err means a load was not acknowledged.
func IsNoAck(err error) bool {
	return errors.Is(err, ErrNoAck) || errors.Is(err, ErrLoadRejected)
}

var _ Transport = (*BusTransport)(nil)
