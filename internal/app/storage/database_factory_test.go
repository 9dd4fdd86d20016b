package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/stacklok/inventory-mirror/database"
	"github.com/stacklok/inventory-mirror/internal/config"
	"github.com/stacklok/inventory-mirror/internal/status"
)

func TestDatabaseFactory(t *testing.T) {
	testPool, _, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	connCfg := testPool.Config().ConnConfig
	t.Setenv(config.DatabasePasswordEnv, connCfg.Password)

	ctx := context.Background()
	cfg := &config.Config{
		TenancyID: "ocid1.tenancy.oc1..acme",
		Database: &config.DatabaseConfig{
			Host:     connCfg.Host,
			Port:     int(connCfg.Port),
			User:     connCfg.User,
			Database: connCfg.Database,
			SSLMode:  "disable",
		},
	}

	f, err := NewStorageFactory(ctx, cfg, WithTracer(noop.NewTracerProvider().Tracer("test")))
	require.NoError(t, err)
	t.Cleanup(f.Cleanup)
	require.IsType(t, &DatabaseFactory{}, f)
	assert.Nil(t, f.ReportPersistence())

	store, err := f.CreateStore(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Ping(ctx))

	history, err := f.CreateRunHistory(ctx)
	require.NoError(t, err)

	_, err = history.Latest(ctx, cfg.TenancyID)
	require.ErrorIs(t, err, status.ErrNoReport)
}
