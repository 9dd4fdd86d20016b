package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/inventory-mirror/internal/config"
)

func TestNewStorageFactory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     func(dir string) *config.Config
		opts    []Option
		wantErr string
		check   func(t *testing.T, f Factory)
	}{
		{
			name:    "nil config",
			cfg:     func(string) *config.Config { return nil },
			wantErr: "config cannot be nil",
		},
		{
			name: "unknown driver",
			cfg: func(string) *config.Config {
				return &config.Config{Mirror: &config.MirrorConfig{Driver: "sqlite"}}
			},
			wantErr: "unknown mirror driver: sqlite",
		},
		{
			name: "postgres without database section",
			cfg: func(string) *config.Config {
				return &config.Config{}
			},
			wantErr: "database configuration is required",
		},
		{
			name: "mysql without database section",
			cfg: func(string) *config.Config {
				return &config.Config{Mirror: &config.MirrorConfig{Driver: config.DriverMySQL}}
			},
			wantErr: "database configuration is required",
		},
		{
			name: "memory driver",
			cfg: func(dir string) *config.Config {
				return &config.Config{
					Mirror:  &config.MirrorConfig{Driver: config.DriverMemory},
					History: &config.HistoryConfig{StatusDir: dir},
				}
			},
			check: func(t *testing.T, f Factory) {
				t.Helper()
				require.IsType(t, &MemoryFactory{}, f)
				assert.NotNil(t, f.ReportPersistence())
			},
		},
		{
			name: "dry run ignores the configured driver",
			cfg: func(string) *config.Config {
				return &config.Config{Mirror: &config.MirrorConfig{Driver: config.DriverPostgres}}
			},
			opts: []Option{WithDryRun(true)},
			check: func(t *testing.T, f Factory) {
				t.Helper()
				require.IsType(t, &MemoryFactory{}, f)
				assert.Nil(t, f.ReportPersistence())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := filepath.Join(t.TempDir(), "status")
			f, err := NewStorageFactory(ctx, tt.cfg(dir), tt.opts...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			t.Cleanup(f.Cleanup)
			tt.check(t, f)
		})
	}
}

func TestFilePersistence(t *testing.T) {
	t.Parallel()

	assert.Nil(t, filePersistence(&config.Config{}))
	assert.NotNil(t, filePersistence(&config.Config{History: &config.HistoryConfig{Storage: config.HistoryStorageFile}}))
	assert.NotNil(t, filePersistence(&config.Config{Mirror: &config.MirrorConfig{Driver: config.DriverMySQL}}))
}
