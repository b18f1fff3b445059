package bus

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// inboxDepth is how many undelivered messages a subscription holds before
// publishers block on it.
const inboxDepth = 1024

// MemoryBus is a MessageBus for a single process. Subjects and wildcards
// follow NATS rules. Publishing blocks while a subscriber's inbox is full,
// so result streams are never dropped.
type MemoryBus struct {
	timeout time.Duration

	mu     sync.RWMutex
	subs   []*memorySub
	closed atomic.Bool
}

// NewMemoryBus creates an empty bus. Only WithRequestTimeout applies.
func NewMemoryBus(opts ...Option) *MemoryBus {
	return &MemoryBus{timeout: newOptions(opts).timeout}
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.deliver(ctx, &Message{Subject: subject, Data: data})
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	sub := &memorySub{
		id:      ulid.Make().String(),
		subject: subject,
		tokens:  strings.Split(subject, "."),
		inbox:   make(chan *Message, inboxDepth),
		done:    make(chan struct{}),
		handler: handler,
		bus:     b,
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go sub.run(ctx)
	return sub, nil
}

func (b *MemoryBus) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (reply []byte, err error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if timeout <= 0 {
		timeout = b.timeout
	}
	defer func() { observeRequest("memory", err) }()

	replies := make(chan []byte, 1)
	inbox, err := b.Subscribe(ctx, "_INBOX."+ulid.Make().String(), func(msg *Message) []byte {
		select {
		case replies <- msg.Data:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer inbox.Unsubscribe()

	if !b.deliver(ctx, &Message{Subject: subject, Data: data, ReplyTo: inbox.Subject()}) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrNoResponders
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply = <-replies:
		return reply, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops every subscription. Closing twice returns ErrClosed.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

// deliver reports whether any live subscription matched msg.
func (b *MemoryBus) deliver(ctx context.Context, msg *Message) bool {
	tokens := strings.Split(msg.Subject, ".")
	b.mu.RLock()
	var targets []*memorySub
	for _, sub := range b.subs {
		if matchTokens(sub.tokens, tokens) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	delivered := false
	for _, sub := range targets {
		select {
		case sub.inbox <- msg:
			delivered = true
		case <-sub.done:
		case <-ctx.Done():
			return delivered
		}
	}
	return delivered
}

func (b *MemoryBus) remove(sub *memorySub) {
	b.mu.Lock()
	b.subs = slices.DeleteFunc(b.subs, func(s *memorySub) bool { return s == sub })
	b.mu.Unlock()
}

func (b *MemoryBus) subscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

type memorySub struct {
	id      string
	subject string
	tokens  []string
	inbox   chan *Message
	done    chan struct{}
	once    sync.Once
	handler MessageHandler
	bus     *MemoryBus
}

func (s *memorySub) stop() (stopped bool) {
	s.once.Do(func() {
		close(s.done)
		stopped = true
	})
	return stopped
}

func (s *memorySub) Unsubscribe() error {
	if s.stop() {
		s.bus.remove(s)
	}
	return nil
}

func (s *memorySub) Subject() string { return s.subject }

func (s *memorySub) run(ctx context.Context) {
	for {
		select {
		case msg := <-s.inbox:
			if reply := s.handler(msg); reply != nil && msg.ReplyTo != "" {
				_ = s.bus.Publish(ctx, msg.ReplyTo, reply)
			}
		case <-s.done:
			return
		case <-ctx.Done():
			_ = s.Unsubscribe()
			return
		}
	}
}

// matchSubject reports whether subject matches a NATS-style pattern.
func matchSubject(pattern, subject string) bool {
	return matchTokens(strings.Split(pattern, "."), strings.Split(subject, "."))
}

func matchTokens(pattern, subject []string) bool {
	for i, tok := range pattern {
		if tok == ">" {
			return len(subject) > i
		}
		if i >= len(subject) || (tok != "*" && tok != subject[i]) {
			return false
		}
	}
	return len(pattern) == len(subject)
}
