package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/testfleet/pkg/browser"
	"github.com/odvcencio/testfleet/pkg/bus"
	"github.com/odvcencio/testfleet/pkg/fileset"
)

func newBus(t *testing.T) *bus.MemoryBus {
	t.Helper()
	b := bus.NewMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func startAgent(t *testing.T, b bus.MessageBus, id string, load LoadFunc, run RunFunc) *Agent {
	t.Helper()
	agent := NewAgent(b, browser.Info{ID: id, UserAgent: "Agent/" + id}, load, run)
	require.NoError(t, agent.Listen(context.Background()))
	t.Cleanup(func() { _ = agent.Close() })
	return agent
}

func collect(t *testing.T, stream <-chan Response) []Response {
	t.Helper()
	var out []Response
	timeout := time.After(2 * time.Second)
	for {
		select {
		case resp, ok := <-stream:
			if !ok {
				return out
			}
			out = append(out, resp)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func TestBusTransport_SendAcknowledged(t *testing.T) {
	b := newBus(t)
	var got fileset.Delta
	startAgent(t, b, "b1", func(_ context.Context, d fileset.Delta) error {
		got = d
		return nil
	}, nil)

	tr := NewBusTransport(b, time.Second)
	delta := fileset.Delta{ID: "suite", Tests: []fileset.FileInfo{fileset.NewFileInfo("a_test.js", 1)}}

	require.NoError(t, tr.Send(context.Background(), "b1", delta))
	assert.Equal(t, delta, got)
}

func TestBusTransport_SendRejected(t *testing.T) {
	b := newBus(t)
	startAgent(t, b, "b1", func(context.Context, fileset.Delta) error {
		return errors.New("syntax error in a_test.js")
	}, nil)

	err := NewBusTransport(b, time.Second).Send(context.Background(), "b1", fileset.Delta{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLoadRejected)
	assert.True(t, IsNoAck(err))
	assert.Contains(t, err.Error(), "syntax error")
}

func TestBusTransport_SendNoBrowser(t *testing.T) {
	b := newBus(t)

	err := NewBusTransport(b, 50*time.Millisecond).Send(context.Background(), "ghost", fileset.Delta{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoAck)
	assert.ErrorIs(t, err, bus.ErrNoResponders)
}

func TestBusTransport_RunStream(t *testing.T) {
	b := newBus(t)
	startAgent(t, b, "b1", nil, func(_ context.Context, cmd RunCommand, emit func(Response)) error {
		emit(Response{Type: ResponseTestQuery, Tests: []string{"Suite.testA", "Suite.testB"}})
		emit(Response{Type: ResponseLog, Log: &BrowserLog{Level: "info", Source: "console", Message: "hi"}})
		emit(Response{Type: ResponseTestResult, Result: &TestResult{TestCaseName: "Suite", TestName: "testA", Result: ResultPassed}})
		emit(Response{Type: ResponseTestResult, Result: &TestResult{TestCaseName: "Suite", TestName: "testB", Result: ResultFailed, Message: "expected 1"}})
		return nil
	})

	tr := NewBusTransport(b, time.Second)
	stream, err := tr.IssueRun(context.Background(), "b1", RunCommand{RunID: "run1"})
	require.NoError(t, err)

	responses := collect(t, stream)
	require.Len(t, responses, 5)
	assert.Equal(t, ResponseTestQuery, responses[0].Type)
	assert.Equal(t, ResponseLog, responses[1].Type)
	assert.Equal(t, "Suite.testB", responses[3].Result.FullName())
	assert.Equal(t, ResponseRunComplete, responses[4].Type)
	for _, r := range responses {
		assert.Equal(t, "b1", r.BrowserID)
	}
}

func TestBusTransport_RunFault(t *testing.T) {
	b := newBus(t)
	startAgent(t, b, "b1", nil, func(context.Context, RunCommand, func(Response)) error {
		return errors.New("ReferenceError: x is not defined")
	})

	stream, err := NewBusTransport(b, time.Second).IssueRun(context.Background(), "b1", RunCommand{RunID: "run1"})
	require.NoError(t, err)

	responses := collect(t, stream)
	require.Len(t, responses, 1)
	assert.Equal(t, ResponseFault, responses[0].Type)
	assert.Contains(t, responses[0].Error, "ReferenceError")
}

func TestBusTransport_RunCancelledClosesStream(t *testing.T) {
	b := newBus(t)
	release := make(chan struct{})
	defer close(release)
	startAgent(t, b, "b1", nil, func(ctx context.Context, _ RunCommand, _ func(Response)) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := NewBusTransport(b, time.Second).IssueRun(ctx, "b1", RunCommand{RunID: "run1"})
	require.NoError(t, err)
	cancel()

	responses := collect(t, stream)
	for _, r := range responses {
		assert.NotEqual(t, ResponseRunComplete, r.Type)
	}
}

func TestBusTransport_DryRunForwardsOnlyTestQuery(t *testing.T) {
	b := newBus(t)
	var sawDryRun atomic.Bool
	startAgent(t, b, "b1", nil, func(_ context.Context, cmd RunCommand, emit func(Response)) error {
		sawDryRun.Store(cmd.DryRun)
		emit(Response{Type: ResponseTestQuery, Tests: []string{"Suite.testA"}})
		emit(Response{Type: ResponseTestResult, Result: &TestResult{TestCaseName: "Suite", TestName: "testA", Result: ResultPassed}})
		return nil
	})

	stream, err := NewBusTransport(b, time.Second).IssueRun(context.Background(), "b1", RunCommand{RunID: "run1", DryRun: true})
	require.NoError(t, err)

	responses := collect(t, stream)
	require.Len(t, responses, 2)
	assert.True(t, sawDryRun.Load())
	assert.Equal(t, ResponseTestQuery, responses[0].Type)
	assert.Equal(t, []string{"Suite.testA"}, responses[0].Tests)
	assert.Equal(t, ResponseRunComplete, responses[1].Type)
}

func TestAgent_CloseRacingRunCommands(t *testing.T) {
	b := newBus(t)
	var runs atomic.Int64
	agent := NewAgent(b, browser.Info{ID: "b1"}, nil, func(ctx context.Context, _ RunCommand, _ func(Response)) error {
		runs.Add(1)
		<-ctx.Done()
		return nil
	})
	require.NoError(t, agent.Listen(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = b.Publish(context.Background(), bus.RunSubject("b1"), []byte(`{"runId":"r"}`))
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, agent.Close())
	after := runs.Load()
	wg.Wait()
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, after, runs.Load(), "run started after Close returned")
	assert.ErrorIs(t, agent.Listen(context.Background()), bus.ErrClosed)
}

func TestBusTransport_MalformedResponseIsFault(t *testing.T) {
	b := newBus(t)
	_, err := b.Subscribe(context.Background(), bus.RunSubject("b1"), func(msg *bus.Message) []byte {
		_ = b.Publish(context.Background(), bus.ResponseSubject("run1", "b1"), []byte("{not json"))
		return nil
	})
	require.NoError(t, err)

	stream, err := NewBusTransport(b, time.Second).IssueRun(context.Background(), "b1", RunCommand{RunID: "run1"})
	require.NoError(t, err)

	responses := collect(t, stream)
	require.Len(t, responses, 1)
	assert.Equal(t, ResponseFault, responses[0].Type)
	assert.Equal(t, "b1", responses[0].BrowserID)
}

func TestAgent_AnnouncesOnCaptureSubjects(t *testing.T) {
	b := newBus(t)
	got := make(chan string, 3)
	for _, subject := range []string{bus.SubjectCapture, bus.SubjectHeartbeat, bus.SubjectPanic} {
		_, err := b.Subscribe(context.Background(), subject, func(msg *bus.Message) []byte {
			got <- msg.Subject
			return nil
		})
		require.NoError(t, err)
	}

	agent := NewAgent(b, browser.Info{ID: "b1"}, nil, nil)
	ctx := context.Background()
	require.NoError(t, agent.Capture(ctx))
	require.NoError(t, agent.Heartbeat(ctx))
	require.NoError(t, agent.Panic(ctx))

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case s := <-got:
			seen[s] = true
		case <-time.After(time.Second):
			t.Fatal("missing announcement")
		}
	}
	assert.Len(t, seen, 3)
}

func TestTestResult_FullName(t *testing.T) {
	assert.Equal(t, "Suite.testA", TestResult{TestCaseName: "Suite", TestName: "testA"}.FullName())
	assert.Equal(t, "testA", TestResult{TestName: "testA"}.FullName())
	assert.True(t, ResponseFault.Terminal())
	assert.False(t, ResponseLog.Terminal())
}
