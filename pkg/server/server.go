// Package server exposes the fleet over HTTP: browser capture and liveness,
// run dispatch, the live event stream and Prometheus metrics.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"

	"github.com/odvcencio/testfleet/pkg/browser"
	"github.com/odvcencio/testfleet/pkg/dispatch"
	"github.com/odvcencio/testfleet/pkg/fileset"
	"github.com/odvcencio/testfleet/pkg/observability"
	"github.com/odvcencio/testfleet/pkg/telemetry"
)

var errNoEventStream = errors.New("event stream disabled")

// Config controls the HTTP listener.
type Config struct {
	BindAddress     string
	AllowedOrigins  []string
	CaptureRate     float64
	CaptureBurst    int
	ShutdownTimeout time.Duration
}

// Runner executes runs; *dispatch.Dispatcher implements it.
type Runner interface {
	Dispatch(ctx context.Context, req dispatch.RunRequest) (*dispatch.RunReport, error)
}

// BaselineReader exposes what a browser is known to have loaded.
type BaselineReader interface {
	Baseline(ctx context.Context, browserID string) (fileset.TestCase, bool, error)
}

// Deps are the components the server fronts. Hub and Baselines are optional.
type Deps struct {
	Registry  *browser.Registry
	Runner    Runner
	Baselines BaselineReader
	Hub       *telemetry.Hub
	Logger    *observability.Logger
}

// Server is the fleet's HTTP front end. It owns the registry lifecycle:
// Start starts the registry, Shutdown stops it.
type Server struct {
	cfg       Config
	registry  *browser.Registry
	runner    Runner
	baselines BaselineReader
	hub       *telemetry.Hub
	logger    *observability.Logger
	limiter   *rate.Limiter

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// New creates a Server. A zero CaptureRate disables capture rate limiting.
func New(cfg Config, deps Deps) *Server {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1:9876"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &Server{
		cfg:       cfg,
		registry:  deps.Registry,
		runner:    deps.Runner,
		baselines: deps.Baselines,
		hub:       deps.Hub,
		logger:    logger,
	}
	if cfg.CaptureRate > 0 {
		burst := cfg.CaptureBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.CaptureRate), burst)
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.logMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/events", s.handleEvents)

	r.With(rateLimit(s.limiter)).Post("/capture", s.handleCapture)
	r.Route("/browsers", func(r chi.Router) {
		r.Get("/", s.handleListBrowsers)
		r.Delete("/{browserID}", s.handlePanic)
		r.Post("/{browserID}/heartbeat", s.handleHeartbeat)
		r.Get("/{browserID}/baseline", s.handleBaseline)
	})
	r.Post("/runs", s.handleRun)
	return r
}

// Start starts the registry and serves until ctx ends or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.BindAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.BindAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// h2c keeps the websocket stream usable behind proxies that speak
	// HTTP/2 cleartext to the backend.
	handler := h2c.NewHandler(s.Handler(), &http2.Server{})
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.registry.Start()

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("serving testfleet", slog.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-serverErr:
		s.registry.Stop()
		return err
	}
}

// Addr returns the bound address once serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown stops the registry, which ends in-flight runs, then drains HTTP.
func (s *Server) Shutdown(ctx context.Context) error {
	s.registry.Stop()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("handler panic",
					slog.String("path", r.URL.Path),
					slog.Any("panic", rec),
				)
				respondError(w, http.StatusInternalServerError, fmt.Errorf("internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is required by the websocket upgrade on /events.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
