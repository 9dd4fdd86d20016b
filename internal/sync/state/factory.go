package state

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/inventory-mirror/internal/config"
	"github.com/stacklok/inventory-mirror/internal/status"
)

// NewRunHistory creates a RunHistory based on the configured history storage.
//
// For database storage the history lives in the migrated sync_run and
// sync_scope_result tables, and pool must not be nil. For file storage the
// history is kept in memory and the latest report is read back through
// persistence after a restart.
func NewRunHistory(
	cfg *config.Config,
	persistence status.ReportPersistence,
	pool *pgxpool.Pool,
) (RunHistory, error) {
	switch cfg.GetHistoryStorage() {
	case config.HistoryStorageDatabase:
		if pool == nil {
			return nil, fmt.Errorf("database pool is required when history storage is database")
		}
		return NewDBRunHistory(pool), nil
	case config.HistoryStorageFile:
		return NewFileRunHistory(persistence, MaxListLimit), nil
	default:
		return nil, fmt.Errorf("unsupported history storage: %s", cfg.GetHistoryStorage())
	}
}
