// Package dispatch fans a test run out to every captured browser and
// aggregates their results into a single report.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/testfleet/pkg/browser"
	fleeterrors "github.com/odvcencio/testfleet/pkg/errors"
	"github.com/odvcencio/testfleet/pkg/fileset"
	"github.com/odvcencio/testfleet/pkg/observability"
	"github.com/odvcencio/testfleet/pkg/transport"
)

const (
	// DefaultPoolSize bounds concurrent per-browser tasks.
	DefaultPoolSize = 10
	// DefaultTimeout bounds a whole run.
	DefaultTimeout = 2 * time.Hour
)

var (
	// ErrNoBrowsers is returned when a run is requested with nobody captured.
	ErrNoBrowsers = errors.New("no captured browsers")

	// ErrBrowserPanicked is the cancellation cause for a browser that panicked mid-run.
	ErrBrowserPanicked = errors.New("browser panicked")

	// ErrRunTimeout is the cancellation cause for a run that hit its timeout.
	ErrRunTimeout = errors.New("run timed out")

	// ErrServerStopped is the cancellation cause for runs interrupted by shutdown.
	ErrServerStopped = errors.New("server stopped")
)

// BrowserSource provides the eligible browser set.
type BrowserSource interface {
	Count() (int, error)
	Browsers() []browser.Browser
	IsCaptured(id string) bool
}

// Planner computes and records per-browser deltas.
type Planner interface {
	Plan(ctx context.Context, browserID string, desired fileset.TestCase) (fileset.Delta, error)
	RecordApplied(ctx context.Context, browserID string, delta fileset.Delta) (fileset.TestCase, error)
}

// Config tunes a Dispatcher.
type Config struct {
	PoolSize int
	Timeout  time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *observability.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTracer overrides the tracer used for dispatch spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// Dispatcher runs a RunRequest against a snapshot of captured browsers on a
// fixed-size pool. It is a browser.ServerListener so panics cancel the
// affected browser's task.
type Dispatcher struct {
	browsers  BrowserSource
	planner   Planner
	transport transport.Transport
	cfg       Config
	logger    *observability.Logger
	tracer    trace.Tracer

	listenerMu sync.RWMutex
	listeners  []ResultListener

	taskMu  sync.Mutex
	tasks   map[string]map[uint64]context.CancelCauseFunc
	taskSeq atomic.Uint64
}

// NewDispatcher creates a Dispatcher. Zero config values use the defaults.
func NewDispatcher(browsers BrowserSource, planner Planner, t transport.Transport, cfg Config, opts ...Option) *Dispatcher {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	d := &Dispatcher{
		browsers:  browsers,
		planner:   planner,
		transport: t,
		cfg:       cfg,
		logger:    observability.NopLogger(),
		tracer:    observability.Tracer(),
		tasks:     make(map[string]map[uint64]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddResultListener appends a listener for every future run.
func (d *Dispatcher) AddResultListener(l ResultListener) {
	if l == nil {
		return
	}
	d.listenerMu.Lock()
	d.listeners = append(d.listeners, l)
	d.listenerMu.Unlock()
}

func (d *Dispatcher) resultListeners() []ResultListener {
	d.listenerMu.RLock()
	defer d.listenerMu.RUnlock()
	return append([]ResultListener(nil), d.listeners...)
}

// Dispatch loads req.TestCase into every captured browser, runs it and
// returns the aggregated report. A report is always returned; the error is
// non-nil only when the run could not reach any browser.
func (d *Dispatcher) Dispatch(ctx context.Context, req RunRequest) (*RunReport, error) {
	runID := ulid.Make().String()
	start := time.Now()
	logger := d.logger.WithRun(runID)

	ctx, span := d.tracer.Start(ctx, "dispatch.run",
		trace.WithAttributes(observability.AttrRunID.String(runID)))
	defer span.End()

	if _, err := d.browsers.Count(); err != nil {
		return d.refuse(span, runID, logger, err, "server has not been started")
	}
	snapshot := d.browsers.Browsers()
	if len(snapshot) == 0 {
		err := fleeterrors.Wrap(ErrNoBrowsers, fleeterrors.ErrCodeNoBrowsers, "no browsers are captured")
		return d.refuse(span, runID, logger, err, "no browsers are captured")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeoutCause(ctx, timeout, ErrRunTimeout)
	defer cancel()

	infos := make([]browser.Info, len(snapshot))
	for i, b := range snapshot {
		infos[i] = b.Info
	}
	agg := NewAggregator(runID, infos, logger, d.resultListeners()...)
	if err := agg.Start(); err != nil {
		span.RecordError(err)
	}
	agg.SetDryRun(req.DryRun)

	observability.ActiveRuns.Inc()
	defer observability.ActiveRuns.Dec()
	span.SetAttributes(observability.AttrBrowserCnt.Int(len(infos)))
	logger.Info("dispatching run", slog.Int("browsers", len(infos)), slog.Duration("timeout", timeout), slog.Bool("dry_run", req.DryRun))

	done := make(chan struct{})
	go func() {
		defer close(done)
		g := new(errgroup.Group)
		g.SetLimit(d.cfg.PoolSize)
		for _, info := range infos {
			if runCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				d.runBrowser(runCtx, agg, runID, info, req)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-runCtx.Done():
	}

	if runCtx.Err() != nil {
		cause := context.Cause(runCtx)
		msg := timeoutMessage(timeout)
		if !errors.Is(cause, ErrRunTimeout) {
			msg = "run cancelled: " + cause.Error()
		}
		if n := agg.Expire(msg); n > 0 {
			logger.Warn("run expired", slog.Int("outstanding", n), slog.String("reason", msg))
		}
	}

	report := agg.Finalize()
	d.finish(span, report, logger, start)
	return report, nil
}

func (d *Dispatcher) refuse(span trace.Span, runID string, logger *observability.Logger, err error, msg string) (*RunReport, error) {
	agg := NewAggregator(runID, nil, logger, d.resultListeners()...)
	agg.Fail(FailureNoBrowsers, msg)
	report := agg.Finalize()

	observability.Dispatches.WithLabelValues("no_browsers").Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	logger.Warn("run refused", slog.String("reason", msg))
	return report, err
}

func (d *Dispatcher) finish(span trace.Span, report *RunReport, logger *observability.Logger, start time.Time) {
	result := "success"
	if !report.Success {
		result = "failure"
		span.SetStatus(codes.Error, "run failed")
	}
	observability.Dispatches.WithLabelValues(result).Inc()
	observability.DispatchDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(observability.AttrRunFailures.Int(len(report.Failures)))
	logger.RunCompleted(report.RunID, len(report.Browsers), len(report.Failures), report.Success)
}

// runBrowser drives one browser through load and run. The delta is recorded
// as applied only after the browser acknowledged it, and the run command is
// issued only after that.
func (d *Dispatcher) runBrowser(runCtx context.Context, agg *Aggregator, runID string, info browser.Info, req RunRequest) {
	if runCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancelCause(runCtx)
	defer cancel(nil)
	token := d.track(info.ID, cancel)
	defer d.untrack(info.ID, token)

	ctx, span := d.tracer.Start(ctx, "dispatch.browser",
		trace.WithAttributes(
			observability.AttrRunID.String(runID),
			observability.AttrBrowserID.String(info.ID),
		))
	defer span.End()
	logger := d.logger.WithRun(runID).WithBrowser(info.ID)

	// Tracked before this check, so a panic either lands here or cancels ctx.
	if !d.browsers.IsCaptured(info.ID) {
		agg.Panic(info.ID, ErrBrowserPanicked.Error())
		span.SetAttributes(observability.AttrOutcome.String(string(BrowserPanicked)))
		return
	}

	agg.SetStatus(info.ID, BrowserLoading)
	delta, err := d.planner.Plan(ctx, info.ID, req.TestCase)
	if err != nil {
		d.fail(ctx, agg, span, info.ID, err)
		return
	}
	span.SetAttributes(observability.AttrDeltaFiles.Int(delta.Len()))

	if delta.IsEmpty() {
		observability.DeltaSends.WithLabelValues("skipped").Inc()
	} else {
		if err := d.transport.Send(ctx, info.ID, delta); err != nil {
			observability.DeltaSends.WithLabelValues("fault").Inc()
			d.fail(ctx, agg, span, info.ID, fleeterrors.Wrap(err, fleeterrors.ErrCodeBrowserFault, "load delta"))
			return
		}
		observability.DeltaSends.WithLabelValues("acked").Inc()
		if _, err := d.planner.RecordApplied(ctx, info.ID, delta); err != nil {
			d.fail(ctx, agg, span, info.ID, err)
			return
		}
	}

	if ctx.Err() != nil {
		d.fail(ctx, agg, span, info.ID, context.Cause(ctx))
		return
	}

	agg.SetStatus(info.ID, BrowserRunning)
	cmd := transport.RunCommand{RunID: runID, Filter: req.Filter, DryRun: req.DryRun}
	if deadline, ok := ctx.Deadline(); ok {
		cmd.Timeout = time.Until(deadline)
	}
	stream, err := d.transport.IssueRun(ctx, info.ID, cmd)
	if err != nil {
		d.fail(ctx, agg, span, info.ID, fleeterrors.Wrap(err, fleeterrors.ErrCodeBrowserFault, "issue run"))
		return
	}

	for {
		select {
		case <-ctx.Done():
			d.fail(ctx, agg, span, info.ID, context.Cause(ctx))
			return
		case resp, ok := <-stream:
			if !ok {
				d.fail(ctx, agg, span, info.ID, fleeterrors.Wrap(transport.ErrStreamClosed, fleeterrors.ErrCodeBrowserFault, "run stream"))
				return
			}
			if d.handle(agg, logger, info.ID, resp, req.DryRun) {
				span.SetAttributes(observability.AttrOutcome.String(string(BrowserCompleted)))
				return
			}
			if resp.Type == transport.ResponseFault {
				d.fail(ctx, agg, span, info.ID, fleeterrors.New(fleeterrors.ErrCodeBrowserFault, resp.Error))
				return
			}
		}
	}
}

// handle merges one response and reports whether the run completed normally.
// A dry run keeps only the announced test list.
func (d *Dispatcher) handle(agg *Aggregator, logger *observability.Logger, browserID string, resp transport.Response, dryRun bool) bool {
	switch resp.Type {
	case transport.ResponseTestQuery:
		agg.Expect(browserID, resp.Tests)
	case transport.ResponseTestResult:
		if dryRun {
			logger.Warn("result during dry run dropped", slog.String("test", resultName(resp.Result)))
			return false
		}
		if resp.Result != nil {
			agg.AddResult(browserID, *resp.Result)
		}
	case transport.ResponseLog:
		if resp.Log != nil {
			agg.AddLog(browserID, *resp.Log)
			logger.Debug("browser log",
				slog.String("level", resp.Log.Level),
				slog.String("source", resp.Log.Source),
				slog.String("message", resp.Log.Message),
			)
		}
	case transport.ResponseRunComplete:
		agg.Complete(browserID)
		return true
	case transport.ResponseFault:
	default:
		logger.Warn("unknown response type", slog.String("type", string(resp.Type)))
	}
	return false
}

func resultName(r *transport.TestResult) string {
	if r == nil {
		return ""
	}
	return r.FullName()
}

// fail classifies why a browser task stopped. Run-wide timeouts and
// cancellations are left for Dispatch to expire.
func (d *Dispatcher) fail(ctx context.Context, agg *Aggregator, span trace.Span, browserID string, err error) {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrBrowserPanicked):
		agg.Panic(browserID, ErrBrowserPanicked.Error())
		span.SetAttributes(observability.AttrOutcome.String(string(BrowserPanicked)))
	case ctx.Err() != nil && !errors.Is(cause, ErrServerStopped):
		span.SetAttributes(observability.AttrOutcome.String(string(BrowserTimedOut)))
	default:
		if errors.Is(cause, ErrServerStopped) {
			err = cause
		}
		agg.Fault(browserID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(observability.AttrOutcome.String(string(BrowserFaulted)))
	}
}

func (d *Dispatcher) track(browserID string, cancel context.CancelCauseFunc) uint64 {
	token := d.taskSeq.Add(1)
	d.taskMu.Lock()
	defer d.taskMu.Unlock()
	if d.tasks[browserID] == nil {
		d.tasks[browserID] = make(map[uint64]context.CancelCauseFunc)
	}
	d.tasks[browserID][token] = cancel
	return token
}

func (d *Dispatcher) untrack(browserID string, token uint64) {
	d.taskMu.Lock()
	defer d.taskMu.Unlock()
	delete(d.tasks[browserID], token)
	if len(d.tasks[browserID]) == 0 {
		delete(d.tasks, browserID)
	}
}

func (d *Dispatcher) cancelBrowser(browserID string, cause error) {
	d.taskMu.Lock()
	cancels := make([]context.CancelCauseFunc, 0, len(d.tasks[browserID]))
	for _, c := range d.tasks[browserID] {
		cancels = append(cancels, c)
	}
	d.taskMu.Unlock()

	for _, c := range cancels {
		c(cause)
	}
}

func (d *Dispatcher) ServerStarted() {}

// ServerStopped cancels every in-flight browser task.
func (d *Dispatcher) ServerStopped() {
	d.taskMu.Lock()
	ids := make([]string, 0, len(d.tasks))
	for id := range d.tasks {
		ids = append(ids, id)
	}
	d.taskMu.Unlock()

	for _, id := range ids {
		d.cancelBrowser(id, ErrServerStopped)
	}
}

func (d *Dispatcher) BrowserCaptured(browser.Info) {}

// BrowserPanicked cancels the browser's in-flight tasks; other browsers keep running.
func (d *Dispatcher) BrowserPanicked(info browser.Info) {
	d.cancelBrowser(info.ID, ErrBrowserPanicked)
}

var _ browser.ServerListener = (*Dispatcher)(nil)
