package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/stacklok/inventory-mirror/internal/config"
	"github.com/stacklok/inventory-mirror/internal/db"
	"github.com/stacklok/inventory-mirror/internal/mirror"
	"github.com/stacklok/inventory-mirror/internal/status"
	"github.com/stacklok/inventory-mirror/internal/sync/state"
)

// MySQLFactory creates MySQL-backed mirror tables with file-based run history.
type MySQLFactory struct {
	config      *config.Config
	opts        *options
	db          *sql.DB
	persistence status.ReportPersistence
}

var _ Factory = (*MySQLFactory)(nil)

// NewMySQLFactory creates a new MySQL storage factory and opens its connection
func NewMySQLFactory(ctx context.Context, cfg *config.Config, o *options) (*MySQLFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Database == nil {
		return nil, fmt.Errorf("database configuration is required for driver %s", config.DriverMySQL)
	}
	if o == nil {
		o = &options{}
	}

	slog.Info("Creating MySQL-backed storage factory")

	sqlDB, err := db.NewMySQL(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	return newMySQLFactory(cfg, o, sqlDB), nil
}

func newMySQLFactory(cfg *config.Config, o *options, sqlDB *sql.DB) *MySQLFactory {
	return &MySQLFactory{
		config:      cfg,
		opts:        o,
		db:          sqlDB,
		persistence: filePersistence(cfg),
	}
}

// CreateStore creates the MySQL mirror store
func (m *MySQLFactory) CreateStore(_ context.Context) (mirror.Store, error) {
	slog.Debug("Creating MySQL mirror store")
	return mirror.NewMySQLStore(m.db, m.opts.storeOptions(m.config)...)
}

// CreateRunHistory creates the file-based run history
func (m *MySQLFactory) CreateRunHistory(_ context.Context) (state.RunHistory, error) {
	return state.NewRunHistory(m.config, m.persistence, nil)
}

// ReportPersistence implements Factory
func (m *MySQLFactory) ReportPersistence() status.ReportPersistence {
	return m.persistence
}

// Cleanup closes the database handle
func (m *MySQLFactory) Cleanup() {
	if m.db != nil {
		slog.Info("Closing database connection")
		if err := m.db.Close(); err != nil {
			slog.Warn("Failed to close database connection", "error", err)
		}
	}
}
