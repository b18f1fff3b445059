package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/odvcencio/testfleet/pkg/browser"
	"github.com/odvcencio/testfleet/pkg/bus"
	"github.com/odvcencio/testfleet/pkg/fileset"
)

// LoadFunc applies a delta on the browser side.
type LoadFunc func(ctx context.Context, delta fileset.Delta) error

// RunFunc executes a run, calling emit for every response except the
// terminal one. Returning an error ends the stream with a FAULT. For a dry
// run only TEST_QUERY_RESULT and LOG responses are forwarded.
type RunFunc func(ctx context.Context, cmd RunCommand, emit func(Response)) error

// Agent is the browser end of BusTransport. It answers loads and runs for a
// single browser id and can announce itself on the capture subjects.
type Agent struct {
	info browser.Info
	bus  bus.MessageBus
	load LoadFunc
	run  RunFunc

	mu     sync.Mutex
	subs   []bus.Subscription
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewAgent creates an agent for info. Nil funcs accept every load and
// complete every run immediately.
func NewAgent(b bus.MessageBus, info browser.Info, load LoadFunc, run RunFunc) *Agent {
	if load == nil {
		load = func(context.Context, fileset.Delta) error { return nil }
	}
	if run == nil {
		run = func(context.Context, RunCommand, func(Response)) error { return nil }
	}
	return &Agent{info: info, bus: b, load: load, run: run}
}

// Info returns the identity the agent announces.
func (a *Agent) Info() browser.Info {
	return a.info
}

// Listen subscribes to the agent's load and run subjects. Runs in progress
// are cancelled by Close. Close is final: a closed agent cannot listen again.
func (a *Agent) Listen(ctx context.Context) error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return bus.ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	loadSub, err := a.bus.Subscribe(ctx, bus.LoadSubject(a.info.ID), func(msg *bus.Message) []byte {
		return a.handleLoad(ctx, msg.Data)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe load: %w", err)
	}
	runSub, err := a.bus.Subscribe(ctx, bus.RunSubject(a.info.ID), func(msg *bus.Message) []byte {
		var cmd RunCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return nil
		}
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return nil
		}
		a.wg.Add(1)
		a.mu.Unlock()
		go func() {
			defer a.wg.Done()
			a.handleRun(ctx, cmd)
		}()
		return nil
	})
	if err != nil {
		_ = loadSub.Unsubscribe()
		cancel()
		return fmt.Errorf("subscribe run: %w", err)
	}

	a.mu.Lock()
	a.subs = append(a.subs, loadSub, runSub)
	prev := a.cancel
	a.cancel = func() {
		if prev != nil {
			prev()
		}
		cancel()
	}
	a.mu.Unlock()
	return nil
}

func (a *Agent) handleLoad(ctx context.Context, data []byte) []byte {
	var req LoadRequest
	var ack Ack
	if err := json.Unmarshal(data, &req); err != nil {
		ack.Error = fmt.Sprintf("malformed load request: %v", err)
	} else if err := a.load(ctx, req.Delta); err != nil {
		ack.Error = err.Error()
	} else {
		ack.OK = true
	}
	out, _ := json.Marshal(ack)
	return out
}

func (a *Agent) handleRun(ctx context.Context, cmd RunCommand) {
	if cmd.ReplySubject == "" {
		cmd.ReplySubject = bus.ResponseSubject(cmd.RunID, a.info.ID)
	}
	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	emit := func(resp Response) {
		if resp.Type.Terminal() {
			return
		}
		if cmd.DryRun && resp.Type != ResponseTestQuery && resp.Type != ResponseLog {
			return
		}
		a.publish(ctx, cmd.ReplySubject, resp)
	}

	final := Response{Type: ResponseRunComplete}
	if err := a.run(runCtx, cmd, emit); err != nil {
		final = Response{Type: ResponseFault, Error: err.Error()}
	}
	a.publish(ctx, cmd.ReplySubject, final)
}

func (a *Agent) publish(ctx context.Context, subject string, resp Response) {
	resp.BrowserID = a.info.ID
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = a.bus.Publish(ctx, subject, data)
}

// Capture announces the agent on the capture subject.
func (a *Agent) Capture(ctx context.Context) error {
	return a.announce(ctx, bus.SubjectCapture)
}

// Heartbeat reports liveness.
func (a *Agent) Heartbeat(ctx context.Context) error {
	return a.announce(ctx, bus.SubjectHeartbeat)
}

// Panic reports that the browser is going away.
func (a *Agent) Panic(ctx context.Context) error {
	return a.announce(ctx, bus.SubjectPanic)
}

// Beat sends heartbeats every interval until ctx ends.
func (a *Agent) Beat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = a.Heartbeat(ctx)
		}
	}
}

func (a *Agent) announce(ctx context.Context, subject string) error {
	data, err := json.Marshal(a.info)
	if err != nil {
		return err
	}
	return a.bus.Publish(ctx, subject, data)
}

// Close unsubscribes and waits for in-flight runs to finish. Run commands
// that arrive after Close are dropped.
func (a *Agent) Close() error {
	a.mu.Lock()
	a.closed = true
	subs := a.subs
	cancel := a.cancel
	a.subs = nil
	a.cancel = nil
	a.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
	return nil
}
