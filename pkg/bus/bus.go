// Package bus carries messages between the server and captured browsers.
// MessageBus offers publish/subscribe and request/reply over NATS subjects;
// the NATS implementation is used across processes and MemoryBus inside one.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/odvcencio/testfleet/pkg/observability"
)

var (
	// ErrTimeout means a request got no reply in time.
	ErrTimeout = errors.New("bus: request timed out")

	// ErrNoResponders means nothing was subscribed to a request's subject.
	ErrNoResponders = errors.New("bus: no responders")

	// ErrClosed means the bus was already closed.
	ErrClosed = errors.New("bus: closed")
)

// DefaultRequestTimeout bounds a Request when the caller passes zero.
const DefaultRequestTimeout = 30 * time.Second

// MessageBus is safe for concurrent use.
type MessageBus interface {
	// Publish sends data to every subscriber of subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers handler for subject. A subscription handles one
	// message at a time in publish order. "*" matches one subject token and
	// ">" the rest, so "testfleet.browser.*.load" matches any browser id.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Request publishes data and waits for the first reply. A zero timeout
	// uses the bus default.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	Close() error
}

// MessageHandler handles one message. A non-nil return value is sent back
// when the message expects a reply.
type MessageHandler func(msg *Message) []byte

// Message is a delivered message.
type Message struct {
	Subject string
	Data    []byte
	ReplyTo string
}

// Subscription is an active Subscribe registration.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

type options struct {
	name    string
	timeout time.Duration
	logger  *observability.Logger
}

// Option configures a bus.
type Option func(*options)

// WithName sets the client name reported to the NATS server.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithRequestTimeout sets the default Request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger for connection events.
func WithLogger(logger *observability.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		name:    "testfleet",
		timeout: DefaultRequestTimeout,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func requestOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNoResponders):
		return "no_responders"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func observeRequest(backend string, err error) {
	observability.BusRequests.WithLabelValues(backend, requestOutcome(err)).Inc()
}
