// Package storage provides factory functions for creating storage-dependent components.
// It implements the Abstract Factory pattern to ensure related components (mirror
// store, run history, report persistence) are created with compatible backends.
package storage

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/inventory-mirror/internal/config"
	"github.com/stacklok/inventory-mirror/internal/mirror"
	"github.com/stacklok/inventory-mirror/internal/status"
	"github.com/stacklok/inventory-mirror/internal/sync/state"
)

// Factory creates storage-dependent components as a family.
//
// The factory encapsulates the creation of:
// - Store: the mirror tables reconciled by each run
// - RunHistory: the reports of past runs
// - ReportPersistence: the latest report file, when history is file-based
//
// It also manages the lifecycle of storage resources (e.g., database connections).
type Factory interface {
	// CreateStore creates the mirror store
	CreateStore(ctx context.Context) (mirror.Store, error)

	// CreateRunHistory creates the run history
	CreateRunHistory(ctx context.Context) (state.RunHistory, error)

	// ReportPersistence returns the status file writer, or nil when run
	// reports are kept in the database
	ReportPersistence() status.ReportPersistence

	// Cleanup releases any resources held by this factory.
	// Should be called when the application shuts down.
	Cleanup()
}

// Option configures a storage factory
type Option func(*options)

type options struct {
	tracer trace.Tracer
	dryRun bool
}

// WithTracer sets the OpenTelemetry tracer for the mirror store.
// If not set, tracing will be disabled (no-op).
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// WithDryRun replaces the configured backend with process memory and writes
// no report files
func WithDryRun(dryRun bool) Option {
	return func(o *options) {
		o.dryRun = dryRun
	}
}

func (o *options) storeOptions(cfg *config.Config) []mirror.Option {
	opts := []mirror.Option{mirror.WithTablePrefix(cfg.GetTablePrefix())}
	if o.tracer != nil {
		opts = append(opts, mirror.WithTracer(o.tracer))
	}
	return opts
}

// NewStorageFactory creates a storage factory based on the configured mirror driver.
func NewStorageFactory(ctx context.Context, cfg *config.Config, opts ...Option) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.dryRun {
		return NewMemoryFactory(cfg, o)
	}

	switch cfg.GetMirrorDriver() {
	case config.DriverPostgres:
		return NewDatabaseFactory(ctx, cfg, o)
	case config.DriverMySQL:
		return NewMySQLFactory(ctx, cfg, o)
	case config.DriverMemory:
		return NewMemoryFactory(cfg, o)
	default:
		return nil, fmt.Errorf("unknown mirror driver: %s", cfg.GetMirrorDriver())
	}
}

// filePersistence returns the status file writer of cfg, or nil when history
// lives in the database
func filePersistence(cfg *config.Config) status.ReportPersistence {
	if cfg.GetHistoryStorage() != config.HistoryStorageFile {
		return nil
	}
	return status.NewFileReportPersistence(cfg.GetStatusDir())
}
