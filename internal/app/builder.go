package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/inventory-mirror/internal/api"
	"github.com/stacklok/inventory-mirror/internal/app/storage"
	"github.com/stacklok/inventory-mirror/internal/config"
	"github.com/stacklok/inventory-mirror/internal/hierarchy"
	"github.com/stacklok/inventory-mirror/internal/lock"
	"github.com/stacklok/inventory-mirror/internal/resource"
	"github.com/stacklok/inventory-mirror/internal/retry"
	pkgsync "github.com/stacklok/inventory-mirror/internal/sync"
	"github.com/stacklok/inventory-mirror/internal/sync/coordinator"
	"github.com/stacklok/inventory-mirror/internal/telemetry"
	"github.com/stacklok/inventory-mirror/internal/upstream/oci"
)

const (
	defaultHTTPAddress    = ":8080"
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second

	instrumentationName = "github.com/stacklok/inventory-mirror"
)

// MirrorAppOptions is a function that configures the mirror app builder
type MirrorAppOptions func(*mirrorAppConfig) error

// mirrorAppConfig collects everything needed to build a MirrorApp.
// It supports dependency injection for testing while providing sensible defaults for production
type mirrorAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	storageFactory storage.Factory
	upstreamAPI    oci.API
	lister         hierarchy.Lister
	sources        []pkgsync.Source
	locker         lock.Locker

	// Run options
	kinds     []string
	usageDate string
	dryRun    bool

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler

	cleanups []func()
}

func baseConfig(opts ...MirrorAppOptions) (*mirrorAppConfig, error) {
	cfg := &mirrorAppConfig{
		address:        defaultHTTPAddress,
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

	return cfg, nil
}

// NewMirrorApp wires the mirror from its configuration
func NewMirrorApp(
	ctx context.Context,
	opts ...MirrorAppOptions,
) (*MirrorApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	// Storage factory is the single decision point for the mirror backend
	if cfg.storageFactory == nil {
		var factoryOpts []storage.Option
		factoryOpts = append(factoryOpts, storage.WithDryRun(cfg.dryRun))
		if cfg.tracerProvider != nil {
			factoryOpts = append(factoryOpts, storage.WithTracer(cfg.tracerProvider.Tracer(instrumentationName)))
		}
		cfg.storageFactory, err = storage.NewStorageFactory(ctx, cfg.config, factoryOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}
	cfg.cleanups = append(cfg.cleanups, cfg.storageFactory.Cleanup)

	// Ensure cleanup happens on error
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			cfg.cleanup()
		}
	}()

	components, err := buildSyncComponents(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	httpServer, err := buildHTTPServer(ctx, cfg, components)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)

	// Cleanup is now handled by the app, not in defer
	cleanupNeeded = false

	return &MirrorApp{
		config:     cfg.config,
		components: components,
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: sync.OnceFunc(func() {
			cancel()
			cfg.cleanup()
		}),
	}, nil
}

func (b *mirrorAppConfig) cleanup() {
	for i := len(b.cleanups) - 1; i >= 0; i-- {
		b.cleanups[i]()
	}
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
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

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithUpstreamAPI replaces the OCI SDK clients
func WithUpstreamAPI(api oci.API) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.upstreamAPI = api
		return nil
	}
}

// WithHierarchyLister replaces the compartment lister (for testing)
func WithHierarchyLister(l hierarchy.Lister) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.lister = l
		return nil
	}
}

// WithSources sets the sources to reconcile instead of the configured kinds.
// Together with WithHierarchyLister it bypasses the OCI catalog entirely.
func WithSources(sources ...pkgsync.Source) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.sources = sources
		return nil
	}
}

// WithLocker allows injecting a run lock instead of the configured Redis one
func WithLocker(l lock.Locker) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.locker = l
		return nil
	}
}

// WithKinds restricts the run to the named kinds. Kinds absent from the
// configuration are reconciled with their defaults.
func WithKinds(names ...string) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		for _, name := range names {
			if _, err := oci.KindByName(name); err != nil {
				return err
			}
		}
		cfg.kinds = names
		return nil
	}
}

// WithUsageDate pins the day reconciled by the daily cost kind (YYYY-MM-DD)
func WithUsageDate(date string) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		if date == "" {
			return nil
		}
		if _, err := time.Parse(oci.UsageDateLayout, date); err != nil {
			return fmt.Errorf("invalid usage date %q: expected YYYY-MM-DD", date)
		}
		cfg.usageDate = date
		return nil
	}
}

// WithDryRun reconciles into process memory and writes no history
func WithDryRun(dryRun bool) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.dryRun = dryRun
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for sync and HTTP metrics
func WithMeterProvider(mp metric.MeterProvider) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider
func WithTracerProvider(tp trace.TracerProvider) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler serves the Prometheus scrape handler on /metrics
func WithMetricsHandler(h http.Handler) MirrorAppOptions {
	return func(cfg *mirrorAppConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// selectedKinds returns the kind configurations of this run
func (b *mirrorAppConfig) selectedKinds() []config.KindConfig {
	var configured []config.KindConfig
	if b.config.Sync != nil {
		configured = b.config.Sync.Kinds
	}
	if len(b.kinds) == 0 {
		return configured
	}

	byName := make(map[string]config.KindConfig, len(configured))
	for _, kc := range configured {
		byName[kc.Name] = kc
	}
	selected := make([]config.KindConfig, 0, len(b.kinds))
	for _, name := range b.kinds {
		kc, ok := byName[name]
		if !ok {
			kc = config.KindConfig{Name: name}
		}
		selected = append(selected, kc)
	}
	return selected
}

// buildRetryPolicy creates the throttle retry policy shared by every upstream call
func buildRetryPolicy(rc *config.RetryConfig, metrics *telemetry.SyncMetrics) *retry.Policy {
	opts := []retry.Option{
		retry.WithRetryHook(func(ctx context.Context, _ int, _ error, _ time.Duration) {
			metrics.RecordThrottleRetry(ctx)
		}),
	}
	if rc != nil {
		opts = append(opts, retry.WithMaxAttempts(rc.GetMaxAttempts()))
		if initial, maxInterval := rc.GetInitialInterval(), rc.GetMaxInterval(); initial > 0 && maxInterval > 0 {
			opts = append(opts, retry.WithExponentialBackOff(initial, maxInterval))
		}
		if elapsed := rc.GetMaxElapsedTime(); elapsed > 0 {
			opts = append(opts, retry.WithMaxElapsedTime(elapsed))
		}
	}
	return retry.NewPolicy(opts...)
}

// buildUpstream creates the hierarchy lister and sources from the OCI catalog
func buildUpstream(ctx context.Context, b *mirrorAppConfig) (hierarchy.Lister, []pkgsync.Source, error) {
	if b.lister != nil && len(b.sources) > 0 {
		return b.lister, b.sources, nil
	}
	if len(b.config.Regions) == 0 {
		return nil, nil, fmt.Errorf("at least one region is required")
	}

	api := b.upstreamAPI
	if api == nil {
		clients, err := oci.NewClients(ctx, b.config.Upstream)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create OCI clients: %w", err)
		}
		api = clients
	}

	// The first configured region is the home region serving identity and usage
	catalog, err := oci.NewCatalog(api, oci.NewLimiter(b.config.Upstream),
		oci.WithHomeRegion(b.config.Regions[0]),
		oci.WithUsageDate(b.usageDate),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource catalog: %w", err)
	}

	lister := b.lister
	if lister == nil {
		lister, err = catalog.Lister(b.config.TenancyID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create compartment lister: %w", err)
		}
	}

	sources := b.sources
	if len(sources) == 0 {
		sources, err = catalog.Sources(b.selectedKinds())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create sources: %w", err)
		}
	}

	return lister, sources, nil
}

// buildLocker creates the Redis run lock when enabled. Dry runs never lock.
func buildLocker(b *mirrorAppConfig) (lock.Locker, error) {
	if b.locker != nil {
		return b.locker, nil
	}
	if b.dryRun || b.config.Lock == nil || !b.config.Lock.Enabled {
		return nil, nil
	}

	client, err := lock.NewRedisClient(b.config.Lock)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	b.cleanups = append(b.cleanups, func() {
		if err := client.Close(); err != nil {
			slog.Warn("Failed to close redis client", "error", err)
		}
	})

	slog.Info("Run lock enabled", "address", b.config.Lock.Address)
	return lock.NewRedisLocker(client, b.config.Lock.GetTTL(), b.config.Lock.GetKeyPrefix()), nil
}

// buildSyncComponents builds the runner, coordinator, and related components
func buildSyncComponents(
	ctx context.Context,
	b *mirrorAppConfig,
) (*AppComponents, error) {
	slog.Info("Initializing sync components")

	store, err := b.storageFactory.CreateStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create mirror store: %w", err)
	}

	history, err := b.storageFactory.CreateRunHistory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create run history: %w", err)
	}

	var syncMetrics *telemetry.SyncMetrics
	if b.meterProvider != nil {
		syncMetrics, err = telemetry.NewSyncMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create sync metrics: %w", err)
		}
		if syncMetrics != nil {
			slog.Info("Sync metrics enabled")
		}
	}

	lister, sources, err := buildUpstream(ctx, b)
	if err != nil {
		return nil, err
	}

	locker, err := buildLocker(b)
	if err != nil {
		return nil, err
	}

	runnerOpts := []pkgsync.RunnerOption{
		pkgsync.WithSources(sources...),
		pkgsync.WithRegions(b.config.Regions...),
		pkgsync.WithRetryPolicy(buildRetryPolicy(b.config.Retry, syncMetrics)),
		pkgsync.WithMetrics(syncMetrics),
		pkgsync.WithHistory(history),
		pkgsync.WithReportPersistence(b.storageFactory.ReportPersistence()),
		pkgsync.WithDryRun(b.dryRun),
	}
	if locker != nil {
		runnerOpts = append(runnerOpts, pkgsync.WithLocker(locker))
	}
	if b.tracerProvider != nil {
		runnerOpts = append(runnerOpts, pkgsync.WithTracer(b.tracerProvider.Tracer(instrumentationName)))
	}

	runner, err := pkgsync.NewRunner(store, lister, b.config.TenancyID, runnerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	syncCoordinator := coordinator.New(runner, b.config.GetSyncInterval())
	slog.Info("Sync components initialized successfully",
		"kinds", len(sources),
		"regions", b.config.Regions,
		"dry_run", b.dryRun)

	kinds := make([]resource.Kind, 0, len(sources))
	for _, src := range sources {
		kinds = append(kinds, src.Kind())
	}

	return &AppComponents{
		Runner:          runner,
		SyncCoordinator: syncCoordinator,
		Store:           store,
		History:         history,
		Kinds:           kinds,
	}, nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *mirrorAppConfig,
	components *AppComponents,
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

	if b.tracerProvider != nil {
		b.middlewares = append([]func(http.Handler) http.Handler{telemetry.TracingMiddleware(b.tracerProvider)}, b.middlewares...)
	}

	// Metrics go first so every request is counted
	if b.meterProvider != nil {
		apiMetrics, err := telemetry.NewAPIMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create API metrics: %w", err)
		}
		b.middlewares = append([]func(http.Handler) http.Handler{apiMetrics.Middleware}, b.middlewares...)
		slog.Info("API metrics middleware enabled")
	}

	router := api.NewServer(components.History, components.Store, b.config.TenancyID,
		api.WithMiddlewares(b.middlewares...),
		api.WithMetricsHandler(b.metricsHandler),
		api.WithMirror(components.Store, components.Kinds),
	)

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
