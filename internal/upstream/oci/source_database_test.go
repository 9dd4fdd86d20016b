package oci

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/inventory-mirror/internal/config"
	"github.com/stacklok/inventory-mirror/internal/retry"
)

func TestAutonomousDatabaseSource(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.database.adbs = map[string][]database.AutonomousDatabaseSummary{
		testTenancy: {
			{
				Id:                   common.String("adb-ecpu"),
				CompartmentId:        common.String(testTenancy),
				DisplayName:          common.String("orders"),
				DbName:               common.String("ORDERS"),
				LifecycleState:       database.AutonomousDatabaseSummaryLifecycleStateAvailable,
				DbWorkload:           database.AutonomousDatabaseSummaryDbWorkloadOltp,
				ComputeCount:         common.Float32(4),
				DataStorageSizeInTBs: common.Int(2),
				IsAutoScalingEnabled: common.Bool(true),
				TimeCreated:          sdkTimeAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
			},
			{
				Id:                   common.String("adb-ocpu"),
				CompartmentId:        common.String(testTenancy),
				CpuCoreCount:         common.Int(2),
				DataStorageSizeInGBs: common.Int(500),
				DataStorageSizeInTBs: common.Int(1),
			},
		},
		compB: {
			{Id: common.String("adb-unknown"), CompartmentId: common.String(compB)},
		},
	}

	src, err := newTestCatalog(api).Source(config.KindConfig{Name: KindAutonomousDatabase})
	require.NoError(t, err)

	records, err := fetchAll(context.Background(), src, testRunContext())
	require.NoError(t, err)
	require.Len(t, records, 3)

	ecpu := records["adb-ecpu"]
	assert.Equal(t, "orders", ecpu.DisplayName)
	assert.Equal(t, "AVAILABLE", ecpu.LifecycleState)
	require.NotNil(t, ecpu.TimeCreated)
	assert.Equal(t, "ECPU", ecpu.Attributes["compute_type"])
	assert.InDelta(t, 4.0, ecpu.Attributes["compute_count"], 0.001)
	assert.Equal(t, int64(2048), ecpu.Attributes["storage_gb"])
	assert.Equal(t, true, ecpu.Attributes["auto_scaling"])
	assert.Equal(t, "OLTP", ecpu.Attributes["workload"])
	assert.Equal(t, "ORDERS", ecpu.Attributes["db_name"])

	ocpu := records["adb-ocpu"]
	assert.Equal(t, "OCPU", ocpu.Attributes["compute_type"])
	assert.InDelta(t, 2.0, ocpu.Attributes["compute_count"], 0.001)
	assert.Equal(t, int64(500), ocpu.Attributes["storage_gb"])
	assert.Nil(t, ocpu.Attributes["db_name"])

	unknown := records["adb-unknown"]
	assert.Equal(t, "UNKNOWN", unknown.Attributes["compute_type"])
	assert.Nil(t, unknown.Attributes["compute_count"])
	assert.Nil(t, unknown.Attributes["storage_gb"])
	assert.Equal(t, compB, unknown.CompartmentID)

	for _, rec := range records {
		normalized, err := src.Kind().Normalize(rec.Attributes)
		require.NoError(t, err, rec.ID)
		assert.Len(t, normalized, len(src.Kind().Schema))
	}
}

func TestAutonomousDatabaseBackupSource(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 3, 14, 2, 0, 0, 0, time.UTC)
	backups := map[string][]database.AutonomousDatabaseBackupSummary{
		"adb1": {
			{
				Id:                common.String("bk1"),
				CompartmentId:     common.String(compA),
				DisplayName:       common.String("nightly"),
				Type:              database.AutonomousDatabaseBackupSummaryTypeIncremental,
				IsAutomatic:       common.Bool(true),
				LifecycleState:    database.AutonomousDatabaseBackupSummaryLifecycleStateActive,
				TimeStarted:       sdkTimeAt(started),
				TimeEnded:         sdkTimeAt(started.Add(time.Hour)),
				DatabaseSizeInTBs: common.Float32(0.5),
			},
		},
	}

	t.Run("labels backups with the database", func(t *testing.T) {
		t.Parallel()

		api := newFakeAPI()
		api.database.adbBackups = backups
		api.database.adb = func(string) (database.AutonomousDatabase, error) {
			return database.AutonomousDatabase{
				DbName:         common.String("ORDERS"),
				LifecycleState: database.AutonomousDatabaseLifecycleStateAvailable,
			}, nil
		}

		src, err := newTestCatalog(api).Source(config.KindConfig{Name: KindAutonomousDatabaseBackup, Parents: []string{"adb1"}})
		require.NoError(t, err)
		records, err := fetchAll(context.Background(), src, testRunContext())
		require.NoError(t, err)
		require.Len(t, records, 1)

		bk := records["bk1"]
		assert.Equal(t, "adb1", bk.Scope.ParentID)
		assert.Equal(t, "ORDERS", bk.Attributes["adb_name"])
		assert.Equal(t, "AVAILABLE", bk.Attributes["adb_state"])
		assert.Equal(t, "INCREMENTAL", bk.Attributes["backup_type"])
		assert.Equal(t, started, bk.Attributes["time_started"])
		assert.InDelta(t, 0.5, bk.Attributes["size_tb"], 0.001)
	})

	t.Run("missing database still lists backups", func(t *testing.T) {
		t.Parallel()

		api := newFakeAPI()
		api.database.adbBackups = backups

		src, err := newTestCatalog(api).Source(config.KindConfig{Name: KindAutonomousDatabaseBackup, Parents: []string{"adb1"}})
		require.NoError(t, err)
		records, err := fetchAll(context.Background(), src, testRunContext())
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Nil(t, records["bk1"].Attributes["adb_name"])
	})

	t.Run("lookup failure fails the scope", func(t *testing.T) {
		t.Parallel()

		api := newFakeAPI()
		api.database.adbBackups = backups
		api.database.adb = func(string) (database.AutonomousDatabase, error) {
			return database.AutonomousDatabase{}, serviceError{status: 401}
		}

		src, err := newTestCatalog(api).Source(config.KindConfig{Name: KindAutonomousDatabaseBackup, Parents: []string{"adb1"}})
		require.NoError(t, err)
		_, err = fetchAll(context.Background(), src, testRunContext())
		require.Error(t, err)
	})
}

func TestDBSystemSource(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.database.dbSystems = map[string][]database.DbSystemSummary{
		compA: {
			{
				Id:                   common.String("dbs1"),
				CompartmentId:        common.String(compA),
				DisplayName:          common.String("erp"),
				Shape:                common.String("VM.Standard2.4"),
				CpuCoreCount:         common.Int(4),
				DataStorageSizeInGBs: common.Int(256),
				NodeCount:            common.Int(2),
				LicenseModel:         database.DbSystemSummaryLicenseModelBringYourOwnLicense,
				DatabaseEdition:      database.DbSystemSummaryDatabaseEditionEnterpriseEdition,
				Version:              common.String("19.22.0.0"),
				LifecycleState:       database.DbSystemSummaryLifecycleStateAvailable,
			},
			{Id: common.String("dbs2"), CompartmentId: common.String(compA)},
		},
	}
	api.database.dbHomes = map[string][]database.DbHomeSummary{
		"dbs1": {{Id: common.String("home1")}, {Id: common.String("home2")}},
	}
	api.database.databases = map[string][]database.DatabaseSummary{
		"home1": {{DbName: common.String("ERP")}, {DbName: nil}},
		"home2": {{DbName: common.String("ERPDEV")}},
	}

	src, err := newTestCatalog(api).Source(config.KindConfig{Name: KindDBSystem})
	require.NoError(t, err)
	records, err := fetchAll(context.Background(), src, testRunContext())
	require.NoError(t, err)
	require.Len(t, records, 2)

	attrs := records["dbs1"].Attributes
	assert.Equal(t, "VM.Standard2.4", attrs["shape"])
	assert.Equal(t, int64(4), attrs["cpu_core_count"])
	assert.Equal(t, int64(256), attrs["storage_gb"])
	assert.Equal(t, int64(2), attrs["node_count"])
	assert.Equal(t, "BRING_YOUR_OWN_LICENSE", attrs["license_model"])
	assert.Equal(t, "ENTERPRISE_EDITION", attrs["edition"])
	assert.Nil(t, attrs["availability_domain"])
	assert.Equal(t, int64(2), attrs["db_home_count"])
	assert.Equal(t, []string{"ERP", "ERPDEV"}, attrs["db_name_list"])

	empty := records["dbs2"].Attributes
	assert.Equal(t, int64(0), empty["db_home_count"])
	assert.Nil(t, empty["db_name_list"])
	_, err = src.Kind().Normalize(empty)
	assert.NoError(t, err)
}

func TestDBSystemSource_DatabaseLookupFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{name: "service failure leaves the columns empty", err: serviceError{status: 500}},
		{name: "exhausted throttling fails the scope", err: serviceError{status: 429}, wantErr: retry.ErrThrottleExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := newFakeAPI()
			api.database.dbSystems = map[string][]database.DbSystemSummary{
				compA: {{Id: common.String("dbs1"), CompartmentId: common.String(compA)}},
			}
			api.database.dbHomesErr = tt.err

			src, err := newTestCatalog(api).Source(config.KindConfig{Name: KindDBSystem})
			require.NoError(t, err)
			records, err := fetchAll(context.Background(), src, throttledRunContext())
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Nil(t, records["dbs1"].Attributes["db_home_count"])
			assert.Nil(t, records["dbs1"].Attributes["db_name_list"])
		})
	}
}

func TestDatabaseBackupSource(t *testing.T) {
	t.Parallel()

	recent := runStart.Add(-24 * time.Hour)
	old := runStart.Add(-15 * 24 * time.Hour)
	backups := map[string][]database.BackupSummary{
		"db1": {
			{
				Id:                common.String("recent"),
				CompartmentId:     common.String(compA),
				Type:              database.BackupSummaryTypeFull,
				TimeStarted:       sdkTimeAt(recent),
				DatabaseSizeInGBs: common.Float64(1.5),
				LifecycleState:    database.BackupSummaryLifecycleStateActive,
			},
			{Id: common.String("old"), CompartmentId: common.String(compA), TimeStarted: sdkTimeAt(old)},
			{Id: common.String("running"), CompartmentId: common.String(compA)},
		},
	}

	tests := []struct {
		name     string
		db       func(string) (database.Database, error)
		lookback string
		wantName string
		wantIDs  []string
	}{
		{
			name:     "db name wins",
			db:       func(string) (database.Database, error) { return database.Database{DbName: common.String("ERP")}, nil },
			wantName: "ERP",
			wantIDs:  []string{"recent", "running"},
		},
		{
			name: "unique name when db name is empty",
			db: func(string) (database.Database, error) {
				return database.Database{DbName: common.String(""), DbUniqueName: common.String("ERP_fra1")}, nil
			},
			wantName: "ERP_fra1",
			wantIDs:  []string{"recent", "running"},
		},
		{
			name:     "database id when lookup fails",
			db:       func(string) (database.Database, error) { return database.Database{}, errors.New("boom") },
			wantName: "db1",
			wantIDs:  []string{"recent", "running"},
		},
		{
			name:     "longer lookback keeps old backups",
			db:       func(string) (database.Database, error) { return database.Database{DbName: common.String("ERP")}, nil },
			lookback: "720h",
			wantName: "ERP",
			wantIDs:  []string{"old", "recent", "running"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := newFakeAPI()
			api.database.backups = backups
			api.database.db = tt.db

			src, err := newTestCatalog(api).Source(config.KindConfig{
				Name:     KindDatabaseBackup,
				Parents:  []string{"db1"},
				Lookback: tt.lookback,
			})
			require.NoError(t, err)

			records, err := fetchAll(context.Background(), src, testRunContext())
			require.NoError(t, err)

			var ids []string
			for id, rec := range records {
				ids = append(ids, id)
				assert.Equal(t, tt.wantName, rec.Attributes["db_name"])
			}
			assert.ElementsMatch(t, tt.wantIDs, ids)

			require.Len(t, api.database.backupReqs, 1)
			assert.Equal(t, backupPageLimit, *api.database.backupReqs[0].Limit)

			assert.Equal(t, int64(1.5*bytesPerGB), records["recent"].Attributes["size_bytes"])
			assert.Equal(t, "FULL", records["recent"].Attributes["backup_type"])
		})
	}
}
