package oci

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/inventory-mirror/internal/config"
	"github.com/stacklok/inventory-mirror/internal/resource"
)

func TestNewCatalog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		api     API
		opts    []CatalogOption
		wantErr string
	}{
		{name: "valid", api: newFakeAPI(), opts: []CatalogOption{WithHomeRegion(testRegion)}},
		{name: "nil api", opts: []CatalogOption{WithHomeRegion(testRegion)}, wantErr: "api cannot be nil"},
		{name: "missing home region", api: newFakeAPI(), wantErr: "home region is required"},
		{name: "empty home region", api: newFakeAPI(), opts: []CatalogOption{WithHomeRegion("")}, wantErr: "cannot be empty"},
		{
			name:    "malformed usage date",
			api:     newFakeAPI(),
			opts:    []CatalogOption{WithHomeRegion(testRegion), WithUsageDate("15/03/2025")},
			wantErr: "usage date must be YYYY-MM-DD",
		},
		{
			name: "empty usage date is ignored",
			api:  newFakeAPI(),
			opts: []CatalogOption{WithHomeRegion(testRegion), WithUsageDate("")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := NewCatalog(tt.api, nil, tt.opts...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, c)
		})
	}
}

func TestCatalog_Sources(t *testing.T) {
	t.Parallel()

	c := newTestCatalog(newFakeAPI())

	t.Run("every kind has a source", func(t *testing.T) {
		t.Parallel()

		var configs []config.KindConfig
		for _, k := range Kinds() {
			configs = append(configs, config.KindConfig{Name: k.Name})
		}
		sources, err := c.Sources(configs)
		require.NoError(t, err)
		require.Len(t, sources, len(configs))
		for i, src := range sources {
			assert.Equal(t, configs[i].Name, src.Kind().Name)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		t.Parallel()

		_, err := c.Sources([]config.KindConfig{{Name: "instance"}, {Name: "bucket"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown resource kind "bucket"`)
	})

	t.Run("backup lookback defaults to two weeks", func(t *testing.T) {
		t.Parallel()

		src, err := c.Source(config.KindConfig{Name: KindDatabaseBackup})
		require.NoError(t, err)
		assert.Equal(t, DefaultBackupLookback, src.(*dbBackupSource).lookback)

		src, err = c.Source(config.KindConfig{Name: KindDatabaseBackup, Lookback: "48h"})
		require.NoError(t, err)
		assert.Equal(t, "48h0m0s", src.(*dbBackupSource).lookback.String())
	})
}

func TestCatalog_Lister(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	c := newTestCatalog(api)

	lister, err := c.Lister(testTenancy)
	require.NoError(t, err)
	assert.IsType(t, &Compartments{}, lister)
	assert.Equal(t, []string{"identity:" + testRegion}, api.regions)
}

func TestScopes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestCatalog(newFakeAPI())
	rc := testRunContext()

	t.Run("region scoped kinds have one scope", func(t *testing.T) {
		t.Parallel()

		src, err := c.Source(config.KindConfig{Name: KindInstance})
		require.NoError(t, err)
		scopes, err := src.Scopes(ctx, rc)
		require.NoError(t, err)
		assert.Equal(t, []resource.Scope{{TenancyID: testTenancy, Region: testRegion}}, scopes)
	})

	t.Run("parent scoped kinds have one scope per parent", func(t *testing.T) {
		t.Parallel()

		src, err := c.Source(config.KindConfig{Name: KindAutonomousDatabaseBackup, Parents: []string{"adb1", "adb2"}})
		require.NoError(t, err)
		scopes, err := src.Scopes(ctx, rc)
		require.NoError(t, err)
		assert.Equal(t, []resource.Scope{
			{TenancyID: testTenancy, Region: testRegion, ParentID: "adb1"},
			{TenancyID: testTenancy, Region: testRegion, ParentID: "adb2"},
		}, scopes)
	})

	t.Run("parent scoped kind without parents has no scopes", func(t *testing.T) {
		t.Parallel()

		src, err := c.Source(config.KindConfig{Name: KindDatabaseBackup})
		require.NoError(t, err)
		scopes, err := src.Scopes(ctx, rc)
		require.NoError(t, err)
		assert.Empty(t, scopes)
	})
}

func TestKindByName(t *testing.T) {
	t.Parallel()

	k, err := KindByName(KindFileSystemSnapshot)
	require.NoError(t, err)
	assert.Equal(t, "oci_fs_snapshot", k.Table)
	assert.False(t, k.ParentScoped)

	k, err = KindByName(KindDailyCost)
	require.NoError(t, err)
	assert.True(t, k.ParentScoped)

	_, err = KindByName("nope")
	assert.Error(t, err)

	tables := make(map[string]bool)
	for _, k := range Kinds() {
		assert.False(t, tables[k.Table], "duplicate table %s", k.Table)
		tables[k.Table] = true
		assert.NotEmpty(t, k.Schema, k.Name)
	}
	assert.Len(t, tables, 14)
}
