// Package transport carries deltas and run commands to captured browsers and
// streams their responses back.
package transport

//go:generate mockgen -package=dispatch -destination=../dispatch/mock_transport_test.go github.com/odvcencio/testfleet/pkg/transport Transport

import (
	"context"
	"errors"

	"github.com/odvcencio/testfleet/pkg/fileset"
)

var (
	// ErrNoAck is returned when a browser did not acknowledge a load.
	ErrNoAck = errors.New("browser did not acknowledge load")

	// ErrLoadRejected is returned when a browser answered a load with an error.
	ErrLoadRejected = errors.New("browser rejected load")

	// ErrStreamClosed is reported when a run stream ends without RUN_COMPLETE.
	ErrStreamClosed = errors.New("run stream closed before completion")
)

// Transport talks to one browser at a time. Implementations must be safe for
// concurrent use across different browsers.
type Transport interface {
	// Send delivers delta and returns once the browser acknowledged it.
	Send(ctx context.Context, browserID string, delta fileset.Delta) error

	// IssueRun starts a run and returns its response stream. The channel is
	// closed after a terminal response or when ctx ends.
	IssueRun(ctx context.Context, browserID string, cmd RunCommand) (<-chan Response, error)
}
