package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus is a MessageBus on a NATS connection. It reconnects forever and
// logs connection changes.
type NATSBus struct {
	conn    *nats.Conn
	timeout time.Duration
	closed  atomic.Bool
}

// NewNATSBus connects to url; an empty url uses the NATS default.
func NewNATSBus(url string, opts ...Option) (*NATSBus, error) {
	o := newOptions(opts)
	if url == "" {
		url = nats.DefaultURL
	}
	log := o.logger

	conn, err := nats.Connect(url,
		nats.Name(o.name),
		nats.Timeout(o.timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("bus disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("bus reconnected", slog.String("url", c.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error("bus async error", slog.String("subject", subject), slog.Any("error", err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &NATSBus{conn: conn, timeout: o.timeout}, nil
}

func (b *NATSBus) Publish(_ context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.conn.Publish(subject, data)
}

func (b *NATSBus) Subscribe(_ context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		reply := handler(&Message{Subject: msg.Subject, Data: msg.Data, ReplyTo: msg.Reply})
		if reply != nil && msg.Reply != "" {
			_ = msg.Respond(reply)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	return natsSubscription{sub}, nil
}

func (b *NATSBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (reply []byte, err error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if timeout <= 0 {
		timeout = b.timeout
	}
	defer func() { observeRequest("nats", err) }()

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := b.conn.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		return nil, natsRequestError(ctx, err)
	}
	return msg.Data, nil
}

// natsRequestError maps NATS failures onto the bus sentinels. The caller's
// own cancellation wins over the request deadline.
func natsRequestError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		return ErrNoResponders
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	default:
		return err
	}
}

// Close drains in-flight messages, falling back to a hard close.
func (b *NATSBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s natsSubscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrBadSubscription) {
		return err
	}
	return nil
}

func (s natsSubscription) Subject() string { return s.sub.Subject }
