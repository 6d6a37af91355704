package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/chameleoncloud/doni/internal/api"
	"github.com/chameleoncloud/doni/internal/app/storage"
	"github.com/chameleoncloud/doni/internal/config"
	"github.com/chameleoncloud/doni/internal/events"
	"github.com/chameleoncloud/doni/internal/executor"
	"github.com/chameleoncloud/doni/internal/hwtype"
	"github.com/chameleoncloud/doni/internal/reconcile"
	"github.com/chameleoncloud/doni/internal/service"
	"github.com/chameleoncloud/doni/internal/state"
	"github.com/chameleoncloud/doni/internal/telemetry"
	"github.com/chameleoncloud/doni/internal/versions"
	"github.com/chameleoncloud/doni/internal/worker"
	"github.com/chameleoncloud/doni/internal/worker/builtin"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second

	reconcileTracerName = "github.com/chameleoncloud/doni/reconcile"
)

// DoniAppOptions is a function that configures the app builder
type DoniAppOptions func(*doniAppConfig) error

// doniAppConfig collects the builder inputs.
// It supports dependency injection for testing while providing sensible defaults for production
type doniAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	storageFactory storage.Factory
	workerRegistry *worker.Registry
	hardwareTypes  []hwtype.HardwareType
	emitters       []events.Emitter
	telemetry      *telemetry.Telemetry
	metrics        *telemetry.ReconcileMetrics

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

func baseConfig(opts ...DoniAppOptions) (*doniAppConfig, error) {
	cfg := &doniAppConfig{
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.address == "" {
		cfg.address = cfg.config.Server.GetAddress()
	}
	if cfg.workerRegistry == nil {
		cfg.workerRegistry = builtin.NewRegistry()
	}
	if cfg.hardwareTypes == nil {
		cfg.hardwareTypes = hwtype.BuiltinTypes()
	}

	return cfg, nil
}

// NewDoniApp builds every component from the configuration. Components that
// own resources are released again if a later step fails.
func NewDoniApp(
	ctx context.Context,
	opts ...DoniAppOptions,
) (*DoniApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	components := &AppComponents{}
	var cleanupNeeded = true
	defer func() {
		if cleanupNeeded {
			releaseComponents(context.Background(), components)
		}
	}()

	if cfg.telemetry == nil {
		components.Telemetry, err = telemetry.New(ctx, &cfg.config.Telemetry, versions.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		cfg.telemetry = components.Telemetry
	}

	cfg.metrics, err = telemetry.NewReconcileMetrics(cfg.telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create reconcile metrics: %w", err)
	}

	// Single decision point for memory, badger or database
	if cfg.storageFactory == nil {
		cfg.storageFactory, err = storage.NewStorageFactory(ctx, cfg.config)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}
	components.Storage = cfg.storageFactory

	types, err := buildTypeRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build workers: %w", err)
	}

	if err := buildStateComponents(ctx, cfg, components); err != nil {
		return nil, fmt.Errorf("failed to build state components: %w", err)
	}

	if err := buildReconcileComponents(cfg, components, types); err != nil {
		return nil, fmt.Errorf("failed to build reconcile components: %w", err)
	}

	components.HardwareService = service.New(components.Hardware, components.States, types,
		service.WithReadinessCheck(cfg.storageFactory.ReadinessCheck))

	httpServer, err := buildHTTPServer(ctx, cfg, components.HardwareService)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	cleanupNeeded = false

	return &DoniApp{
		config:     cfg.config,
		components: components,
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) DoniAppOptions {
	return func(cfg *doniAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address, overriding the configured one
func WithAddress(addr string) DoniAppOptions {
	return func(cfg *doniAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares, replacing the defaults
func WithMiddlewares(mw ...func(http.Handler) http.Handler) DoniAppOptions {
	return func(cfg *doniAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) DoniAppOptions {
	return func(cfg *doniAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithWorkerRegistry replaces the built-in worker registry
func WithWorkerRegistry(r *worker.Registry) DoniAppOptions {
	return func(cfg *doniAppConfig) error {
		if r == nil {
			return fmt.Errorf("worker registry cannot be nil")
		}
		cfg.workerRegistry = r
		return nil
	}
}

// WithHardwareTypes replaces the built-in hardware type definitions
func WithHardwareTypes(types ...hwtype.HardwareType) DoniAppOptions {
	return func(cfg *doniAppConfig) error {
		cfg.hardwareTypes = types
		return nil
	}
}

// WithEmitters adds transition event sinks next to the configured ones
func WithEmitters(em ...events.Emitter) DoniAppOptions {
	return func(cfg *doniAppConfig) error {
		cfg.emitters = append(cfg.emitters, em...)
		return nil
	}
}

// WithTelemetry uses already initialized providers. The app does not shut them down.
func WithTelemetry(t *telemetry.Telemetry) DoniAppOptions {
	return func(cfg *doniAppConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// buildTypeRegistry instantiates the enabled workers and compiles the
// enabled hardware types against them.
func buildTypeRegistry(b *doniAppConfig) (*hwtype.Registry, error) {
	names := builtin.EnabledNames(b.config)
	slog.Info("Initializing workers", "workers", names)

	workers, err := b.workerRegistry.Build(b.config, names)
	if err != nil {
		return nil, err
	}

	types, err := hwtype.NewRegistry(b.hardwareTypes, workers, b.config.HardwareTypes)
	if err != nil {
		return nil, fmt.Errorf("failed to build hardware type registry: %w", err)
	}
	slog.Info("Hardware types enabled", "hardware_types", types.Names())
	return types, nil
}

// buildStateComponents creates the stores and the state service with its
// transition observers.
func buildStateComponents(ctx context.Context, b *doniAppConfig, c *AppComponents) error {
	var err error
	c.Hardware, err = b.storageFactory.CreateHardwareStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to create hardware store: %w", err)
	}

	stateStore, err := b.storageFactory.CreateStateStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to create state store: %w", err)
	}

	emitters := append([]events.Emitter(nil), b.emitters...)
	if b.config.Events.Log {
		emitters = append(emitters, events.NewLogEmitter(slog.Default()))
	}
	if nc := b.config.Events.NATS; nc != nil {
		c.NATS, err = events.ConnectNATS(nc.URL, nc.GetSubjectPrefix(), b.config.Reconciler.GetProcessName())
		if err != nil {
			return err
		}
		emitters = append(emitters, c.NATS)
		slog.Info("NATS event sink enabled", "url", nc.URL, "subject_prefix", nc.GetSubjectPrefix())
	}

	var stateOpts []state.ServiceOption
	if len(emitters) > 0 {
		stateOpts = append(stateOpts, state.WithObserver(events.Observer(events.Multi(emitters))))
	}
	if metrics := b.metrics; metrics != nil {
		stateOpts = append(stateOpts, state.WithObserver(state.ObserverFunc(func(ctx context.Context, t state.Transition) {
			metrics.RecordTransition(ctx, t.WorkerType, string(t.From), string(t.To))
		})))
	}

	c.States = state.NewService(stateStore, policyFromConfig(b.config), stateOpts...)
	return nil
}

func policyFromConfig(cfg *config.Config) state.Policy {
	return state.Policy{
		LeaseTimeout:    cfg.Reconciler.GetLeaseTimeout(),
		RecheckInterval: cfg.Reconciler.GetRecheckInterval(),
		Backoff: state.BackoffPolicy{
			InitialInterval:     cfg.Backoff.GetInitialInterval(),
			Multiplier:          cfg.Backoff.GetMultiplier(),
			MaxInterval:         cfg.Backoff.GetMaxInterval(),
			RandomizationFactor: cfg.Backoff.GetRandomizationFactor(),
		},
	}
}

// buildReconcileComponents builds the executor and the coordinator feeding it
func buildReconcileComponents(b *doniAppConfig, c *AppComponents, types *hwtype.Registry) error {
	rc := &b.config.Reconciler
	c.Executor = executor.New(rc.GetWorkerPoolSize(), rc.GetInvocationTimeout())

	coordOpts := []reconcile.Option{
		reconcile.WithInterval(rc.GetCycleInterval(), rc.GetCycleJitter()),
		reconcile.WithRemovedRetention(rc.GetRemovedRetention()),
		reconcile.WithTracer(b.telemetry.Tracer(reconcileTracerName)),
	}

	if b.metrics != nil {
		coordOpts = append(coordOpts, reconcile.WithMetrics(b.metrics))
	}

	c.Coordinator = reconcile.New(c.Hardware, c.States, types, c.Executor, rc.GetProcessName(), coordOpts...)
	slog.Info("Reconcile components initialized",
		"owner", rc.GetProcessName(),
		"pool_size", rc.GetWorkerPoolSize())
	return nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *doniAppConfig,
	svc service.HardwareService,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	serverOpts := []api.ServerOption{
		api.WithAdminHeader(b.config.Server.GetAdminHeader()),
	}

	if b.telemetry != nil {
		httpMetrics, err := telemetry.NewHTTPMetrics(b.telemetry.MeterProvider())
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
		}
		// Metrics and tracing go first to capture all requests
		b.middlewares = append([]func(http.Handler) http.Handler{
			telemetry.TracingMiddleware(b.telemetry.TracerProvider()),
			httpMetrics.Middleware,
		}, b.middlewares...)

		if h := b.telemetry.MetricsHandler(); h != nil {
			serverOpts = append(serverOpts, api.WithMetricsHandler(h))
			slog.Info("Prometheus metrics endpoint enabled", "path", "/metrics")
		}
	}
	serverOpts = append(serverOpts, api.WithMiddlewares(b.middlewares...))

	router := api.NewServer(svc, serverOpts...)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
