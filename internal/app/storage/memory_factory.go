package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/stacklok/inventory-mirror/internal/config"
	"github.com/stacklok/inventory-mirror/internal/mirror"
	"github.com/stacklok/inventory-mirror/internal/status"
	"github.com/stacklok/inventory-mirror/internal/sync/state"
)

// MemoryFactory creates in-process storage components. Mirror rows live only
// as long as the process; run history is a bounded in-memory ring backed by
// the status file.
type MemoryFactory struct {
	config      *config.Config
	opts        *options
	store       *mirror.MemoryStore
	persistence status.ReportPersistence
}

var _ Factory = (*MemoryFactory)(nil)

// NewMemoryFactory creates a new in-memory storage factory. Outside dry runs it
// ensures the status directory exists.
func NewMemoryFactory(cfg *config.Config, o *options) (*MemoryFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if o == nil {
		o = &options{}
	}

	f := &MemoryFactory{
		config: cfg,
		opts:   o,
		store:  mirror.NewMemoryStore(o.storeOptions(cfg)...),
	}

	if !o.dryRun {
		statusDir := cfg.GetStatusDir()
		if err := os.MkdirAll(statusDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create status directory %s: %w", statusDir, err)
		}
		f.persistence = status.NewFileReportPersistence(statusDir)
	}

	slog.Info("Creating in-memory storage factory", "dry_run", o.dryRun)
	return f, nil
}

// CreateStore returns the shared in-memory store
func (f *MemoryFactory) CreateStore(_ context.Context) (mirror.Store, error) {
	return f.store, nil
}

// CreateRunHistory creates the in-memory run history
func (f *MemoryFactory) CreateRunHistory(_ context.Context) (state.RunHistory, error) {
	return state.NewFileRunHistory(f.persistence, state.MaxListLimit), nil
}

// ReportPersistence implements Factory
func (f *MemoryFactory) ReportPersistence() status.ReportPersistence {
	return f.persistence
}

// Cleanup is a no-op for memory storage
func (*MemoryFactory) Cleanup() {
	slog.Debug("Cleaning up memory storage factory (no-op)")
}
