package telescribe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/telescribe/telescribe/pkg/broadcast"
	"github.com/telescribe/telescribe/pkg/delivery"
	"github.com/telescribe/telescribe/pkg/gateway"
	"github.com/telescribe/telescribe/pkg/logging"
	"github.com/telescribe/telescribe/pkg/metrics"
	"github.com/telescribe/telescribe/pkg/recognizer"
	"github.com/telescribe/telescribe/pkg/runner"
	"github.com/telescribe/telescribe/pkg/session"
)

// Engine owns every long-lived component of the relay and runs them under
// one lifecycle.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	observer metrics.Observer
	registry *recognizer.Registry
	router   *broadcast.Router
	hub      *gateway.Hub
	gateway  *gateway.Gateway
	sessions *session.Manager
	remote   *delivery.APIGateway
	runner   *runner.LifecycleRunner

	metricsFile *os.File
	drain       time.Duration
}

func NewEngine(ctx context.Context, cfg Config) (*Engine, error) {
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	e := &Engine{
		cfg:    cfg,
		logger: logger,
		drain:  10 * time.Second,
	}

	var err error
	if e.observer, err = e.buildObserver(); err != nil {
		return nil, err
	}

	e.registry = recognizer.NewRegistry()
	RegisterProviders(e.registry)
	if err := ValidateProviderSettings(cfg.Recognizer); err != nil {
		return nil, err
	}

	e.hub = gateway.NewHub(logging.NewComponentLogger(logger, "hub"))

	var deliverer broadcast.Deliverer
	var binder gateway.Binder
	var terminator session.Terminator
	switch strings.ToLower(strings.TrimSpace(cfg.Delivery.Mode)) {
	case DeliveryAPIGateway:
		e.remote, err = delivery.NewAPIGateway(ctx, delivery.Config{
			Endpoint: cfg.Delivery.Endpoint,
			Logger:   logging.NewComponentLogger(logger, "delivery"),
		})
		if err != nil {
			return nil, fmt.Errorf("delivery client: %w", err)
		}
		deliverer = hubFirstDeliverer{hub: e.hub, remote: e.remote}
		binder = e.remote
		terminator = e.remote
	default:
		deliverer = e.hub
	}

	e.router = broadcast.NewRouter(broadcast.RouterConfig{
		Deliverer: deliverer,
		Logger:    logging.NewComponentLogger(logger, "router"),
		Observer:  e.observer,
	})

	e.gateway = gateway.New(cfg.Gateway, gateway.Options{
		Router: e.router,
		Hub:    e.hub,
		Binder: binder,
		Logger: logging.NewComponentLogger(logger, "gateway"),
	})
	if terminator == nil {
		terminator = e.gateway
	}

	factory := func(ctx context.Context, rc recognizer.Config) (recognizer.Recognizer, error) {
		rc.Settings = cfg.Recognizer.Settings
		return e.registry.New(ctx, cfg.Recognizer.Provider, rc)
	}
	e.sessions = session.NewManager(func(id string) *session.Session {
		return session.New(session.Config{
			ID:               id,
			ConnectionID:     id,
			Factory:          factory,
			Router:           e.router,
			Terminator:       terminator,
			Logger:           logging.NewComponentLogger(logger, "session"),
			Observer:         e.observer,
			ReorderThreshold: cfg.Stream.ReorderThreshold,
			TargetRate:       cfg.Stream.TargetSampleRate,
			ScamInterval:     cfg.Stream.ScamInterval,
			InboxSize:        cfg.Stream.InboxSize,
			Language:         cfg.Stream.Language,
		})
	}, logging.NewComponentLogger(logger, "sessions"))
	e.gateway.SetSessionManager(e.sessions)

	return e, nil
}

func (e *Engine) buildObserver() (metrics.Observer, error) {
	switch strings.ToLower(strings.TrimSpace(e.cfg.Metrics.Sink)) {
	case "", "none":
		return metrics.NoopObserver{}, nil
	case "memory":
		return metrics.NewMemoryObserver(), nil
	case "jsonl":
		if e.cfg.Metrics.Path == "" {
			return metrics.NewJSONLObserver(os.Stdout), nil
		}
		f, err := os.OpenFile(e.cfg.Metrics.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("metrics sink: %w", err)
		}
		e.metricsFile = f
		return metrics.NewJSONLObserver(f), nil
	default:
		return nil, fmt.Errorf("metrics.sink must be one of [none, memory, jsonl], got %q", e.cfg.Metrics.Sink)
	}
}

// Run starts the gateway and blocks until the context is cancelled or Stop
// is called.
func (e *Engine) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.runner = runner.NewLifecycleRunner(e, runner.Hooks{
		OnStart: func() {
			_ = e.gateway.Start(runCtx)
			e.logger.Info("engine running",
				slog.String("environment", e.cfg.Environment),
				slog.String("recognizer", e.cfg.Recognizer.Provider),
				slog.String("delivery", e.cfg.Delivery.Mode))
		},
		OnStop: func() {
			e.logger.Info("engine stopped")
		},
	}, e.drain)
	return e.runner.Run(runCtx)
}

func (e *Engine) Stop() error {
	if e.runner == nil {
		return nil
	}
	return e.runner.Stop()
}

// Drain tears down the gateway and waits for in-flight sessions.
func (e *Engine) Drain() error {
	_ = e.gateway.Stop()
	e.sessions.Shutdown()
	if e.metricsFile != nil {
		_ = e.metricsFile.Close()
	}
	return nil
}

// Router exposes the broadcast router, mainly for tests and tooling.
func (e *Engine) Router() *broadcast.Router { return e.router }

// Sessions exposes the session manager.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// hubFirstDeliverer prefers a locally hosted websocket when the connection
// lives in this process, falling back to the remote management API.
type hubFirstDeliverer struct {
	hub    *gateway.Hub
	remote broadcast.Deliverer
}

func (d hubFirstDeliverer) Deliver(ctx context.Context, connectionID, text string) error {
	if d.hub.Has(connectionID) {
		return d.hub.Deliver(ctx, connectionID, text)
	}
	return d.remote.Deliver(ctx, connectionID, text)
}
