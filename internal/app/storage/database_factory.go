package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/inventory-mirror/internal/config"
	"github.com/stacklok/inventory-mirror/internal/db"
	"github.com/stacklok/inventory-mirror/internal/mirror"
	"github.com/stacklok/inventory-mirror/internal/status"
	"github.com/stacklok/inventory-mirror/internal/sync/state"
)

// DatabaseFactory creates PostgreSQL-backed storage components.
type DatabaseFactory struct {
	config      *config.Config
	opts        *options
	pool        *pgxpool.Pool
	persistence status.ReportPersistence
}

var _ Factory = (*DatabaseFactory)(nil)

// NewDatabaseFactory creates a new database-backed storage factory.
// It establishes a connection pool to the configured PostgreSQL database.
func NewDatabaseFactory(ctx context.Context, cfg *config.Config, o *options) (*DatabaseFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Database == nil {
		return nil, fmt.Errorf("database configuration is required for driver %s", config.DriverPostgres)
	}
	if o == nil {
		o = &options{}
	}

	slog.Info("Creating database-backed storage factory")

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	return &DatabaseFactory{
		config:      cfg,
		opts:        o,
		pool:        pool,
		persistence: filePersistence(cfg),
	}, nil
}

// CreateStore creates the PostgreSQL mirror store
func (d *DatabaseFactory) CreateStore(_ context.Context) (mirror.Store, error) {
	slog.Debug("Creating PostgreSQL mirror store")
	return mirror.NewPostgresStore(d.pool, d.opts.storeOptions(d.config)...)
}

// CreateRunHistory creates the run history, in the database unless file
// history was configured
func (d *DatabaseFactory) CreateRunHistory(_ context.Context) (state.RunHistory, error) {
	return state.NewRunHistory(d.config, d.persistence, d.pool)
}

// ReportPersistence implements Factory
func (d *DatabaseFactory) ReportPersistence() status.ReportPersistence {
	return d.persistence
}

// Cleanup closes the connection pool
func (d *DatabaseFactory) Cleanup() {
	if d.pool != nil {
		slog.Info("Closing database connection pool")
		d.pool.Close()
	}
}
