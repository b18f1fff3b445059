package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/odvcencio/testfleet/pkg/browser"
	"github.com/odvcencio/testfleet/pkg/bus"
	"github.com/odvcencio/testfleet/pkg/capture"
	"github.com/odvcencio/testfleet/pkg/config"
	"github.com/odvcencio/testfleet/pkg/dispatch"
	"github.com/odvcencio/testfleet/pkg/filesync"
	"github.com/odvcencio/testfleet/pkg/observability"
	"github.com/odvcencio/testfleet/pkg/server"
	"github.com/odvcencio/testfleet/pkg/storage"
	"github.com/odvcencio/testfleet/pkg/telemetry"
	"github.com/odvcencio/testfleet/pkg/transport"
)

var serveLoadConfigFn = loadConfig

func loadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func runServeCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file (default: ~/.testfleet and ./.testfleet)")
	logLevel := fs.String("log-level", "", "log level override: debug, info, warn, error")
	bind := fs.String("bind", "", "address to bind the HTTP server (overrides config)")
	if err := fs.Parse(args); err != nil {
		return withExitCode(err, exitConfig)
	}

	cfg, err := serveLoadConfigFn(*configPath)
	if err != nil {
		return withExitCode(err, exitConfig)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *bind != "" {
		cfg.Server.Bind = *bind
	}
	if err := cfg.Validate(); err != nil {
		return withExitCode(err, exitConfig)
	}

	logger := observability.NewLogger("testfleet", observability.ParseLevel(cfg.Logging.Level))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, logger)
	if err != nil {
		return withExitCode(err, exitStartup)
	}
	defer a.Close()

	return a.Run(ctx)
}

// app is the fully wired server process.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	tracing  *observability.TracerProvider
	bus      bus.MessageBus
	store    *storage.Store
	registry *browser.Registry
	syncer   *filesync.Synchronizer
	disp     *dispatch.Dispatcher
	hub      *telemetry.Hub
	capture  *capture.Listener
	server   *server.Server
}

func newApp(cfg *config.Config, logger *observability.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.Tracing.Enabled {
		if a.tracing, err = observability.NewTracerProvider("testfleet", version,
			observability.WithSampleRatio(cfg.Tracing.SampleRatio)); err != nil {
			return nil, err
		}
	}

	if a.bus, err = openBus(cfg.Bus, logger.Component("bus")); err != nil {
		return nil, err
	}

	var baselines filesync.BaselineStore
	switch cfg.Baselines.Store {
	case config.BaselineStoreSQLite:
		if a.store, err = storage.New(cfg.BaselinePath()); err != nil {
			return nil, fmt.Errorf("open baseline store: %w", err)
		}
		baselines = a.store
	default:
		baselines = filesync.NewMemoryStore()
	}

	a.registry = browser.NewRegistry(browser.WithLogger(logger.Component("registry")))
	a.syncer = filesync.NewSynchronizer(baselines, logger.Component("filesync"))
	a.disp = dispatch.NewDispatcher(
		a.registry,
		a.syncer,
		transport.NewBusTransport(a.bus, cfg.Bus.LoadTimeout),
		dispatch.Config{PoolSize: cfg.Dispatch.PoolSize, Timeout: cfg.Dispatch.Timeout},
		dispatch.WithLogger(logger.Component("dispatch")),
	)
	a.hub = telemetry.NewHub()
	fwd := telemetry.NewForwarder(a.hub)

	// Baselines reset before the dispatcher sees a panic so a re-capture
	// always starts from a full load.
	a.registry.AddListener(a.syncer)
	a.registry.AddListener(a.disp)
	a.registry.AddListener(fwd)
	a.disp.AddResultListener(fwd)

	a.capture = capture.NewListener(a.bus, a.registry, logger.Component("capture"))
	a.server = server.New(server.Config{
		BindAddress:     cfg.Server.Bind,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		CaptureRate:     cfg.Capture.Rate,
		CaptureBurst:    cfg.Capture.Burst,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, server.Deps{
		Registry:  a.registry,
		Runner:    a.disp,
		Baselines: a.syncer,
		Hub:       a.hub,
		Logger:    logger.Component("server"),
	})
	return a, nil
}

func openBus(cfg config.BusConfig, logger *observability.Logger) (bus.MessageBus, error) {
	opts := []bus.Option{
		bus.WithName(cfg.Name),
		bus.WithRequestTimeout(cfg.Timeout),
		bus.WithLogger(logger),
	}
	switch cfg.Backend {
	case config.BusBackendNATS:
		b, err := bus.NewNATSBus(cfg.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
		}
		return b, nil
	default:
		return bus.NewMemoryBus(opts...), nil
	}
}

// Run serves until ctx ends, then shuts the fleet down.
func (a *app) Run(ctx context.Context) error {
	if err := a.capture.Start(ctx); err != nil {
		return withExitCode(err, exitStartup)
	}
	defer a.capture.Stop()

	if interval := a.cfg.Registry.HeartbeatInterval; interval > 0 {
		go a.registry.WatchHeartbeats(ctx, interval, a.cfg.Registry.HeartbeatTimeout)
	}

	a.logger.Info("starting testfleet",
		slog.String("version", version),
		slog.String("bind", a.cfg.Server.Bind),
		slog.String("bus", a.cfg.Bus.Backend),
		slog.String("baselines", a.cfg.Baselines.Store),
	)
	if err := a.server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("testfleet stopped")
	return nil
}

// Close releases everything newApp opened. It is safe on a partly built app.
func (a *app) Close() {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.logger.Warn("close bus", slog.String("error", err.Error()))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close baseline store", slog.String("error", err.Error()))
		}
	}
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.tracing.Shutdown(ctx)
	}
}
