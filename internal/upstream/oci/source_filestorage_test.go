package oci

import (
	"context"
	"testing"
	"time"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/filestorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/inventory-mirror/internal/config"
	"github.com/stacklok/inventory-mirror/internal/upstream"
)

func fileStorageAPI() *fakeAPI {
	api := newFakeAPI()
	api.identity.ads = []string{testAD1, testAD2}
	api.fileStorage.fileSystems = map[[2]string][]filestorage.FileSystemSummary{
		{compA, testAD1}: {{
			Id:                 common.String("fs1"),
			CompartmentId:      common.String(compA),
			DisplayName:        common.String("shared"),
			AvailabilityDomain: common.String(testAD1),
			MeteredBytes:       common.Int64(8192),
			LifecycleState:     filestorage.FileSystemSummaryLifecycleStateActive,
		}},
		{compB, testAD2}: {{
			Id:            common.String("fs-gone"),
			CompartmentId: common.String(compB),
		}},
	}
	return api
}

func TestFileSystemSource(t *testing.T) {
	t.Parallel()

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	api := fileStorageAPI()
	api.fileStorage.snapshots = map[string][]filestorage.SnapshotSummary{
		"fs1": {
			{Id: common.String("s-old"), Name: common.String("mon"), TimeCreated: sdkTimeAt(day)},
			{
				Id:             common.String("s-new"),
				Name:           common.String("tue"),
				TimeCreated:    sdkTimeAt(day.Add(24 * time.Hour)),
				LifecycleState: filestorage.SnapshotSummaryLifecycleStateActive,
			},
		},
	}
	api.fileStorage.snapshotErr = map[string]error{"fs-gone": serviceError{status: 404}}

	src, err := newTestCatalog(api).Source(config.KindConfig{Name: KindFileSystem})
	require.NoError(t, err)
	records, err := fetchAll(context.Background(), src, testRunContext())
	require.NoError(t, err)
	require.Len(t, records, 2)

	fs := records["fs1"]
	assert.Equal(t, "shared", fs.DisplayName)
	assert.Equal(t, "ACTIVE", fs.LifecycleState)
	assert.Equal(t, int64(8192), fs.Attributes["metered_bytes"])
	assert.Equal(t, testAD1, fs.Attributes["availability_domain"])
	assert.Equal(t, "s-new", fs.Attributes["latest_snapshot_id"])
	assert.Equal(t, "tue", fs.Attributes["latest_snapshot_name"])
	assert.Equal(t, "ACTIVE", fs.Attributes["latest_snapshot_state"])
	assert.Equal(t, day.Add(24*time.Hour), fs.Attributes["latest_snapshot_time"])

	gone := records["fs-gone"]
	assert.Nil(t, gone.Attributes["latest_snapshot_id"])
	assert.Nil(t, gone.Attributes["latest_snapshot_time"])
	_, err = src.Kind().Normalize(gone.Attributes)
	assert.NoError(t, err)
}

func TestSnapshotSource(t *testing.T) {
	t.Parallel()

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	t.Run("flags the newest snapshot", func(t *testing.T) {
		t.Parallel()

		api := fileStorageAPI()
		api.fileStorage.snapshots = map[string][]filestorage.SnapshotSummary{
			"fs1": {
				{Id: common.String("s-old"), Name: common.String("mon"), TimeCreated: sdkTimeAt(day)},
				{Id: common.String("s-new"), Name: common.String("wed"), TimeCreated: sdkTimeAt(day.Add(48 * time.Hour))},
				{Id: common.String("s-mid"), Name: common.String("tue"), TimeCreated: sdkTimeAt(day.Add(24 * time.Hour))},
			},
		}
		api.fileStorage.snapshotErr = map[string]error{"fs-gone": serviceError{status: 404}}

		src, err := newTestCatalog(api).Source(config.KindConfig{Name: KindFileSystemSnapshot})
		require.NoError(t, err)
		records, err := fetchAll(context.Background(), src, testRunContext())
		require.NoError(t, err)
		require.Len(t, records, 3)

		assert.Equal(t, true, records["s-new"].Attributes["is_latest"])
		assert.Equal(t, false, records["s-old"].Attributes["is_latest"])
		assert.Equal(t, false, records["s-mid"].Attributes["is_latest"])
		for _, rec := range records {
			assert.Equal(t, "fs1", rec.Attributes["file_system_id"])
			assert.Equal(t, compA, rec.CompartmentID)
		}
		assert.Equal(t, "wed", records["s-new"].DisplayName)
	})

	t.Run("other snapshot failures fail the scope", func(t *testing.T) {
		t.Parallel()

		api := fileStorageAPI()
		api.fileStorage.snapshotErr = map[string]error{"fs1": serviceError{status: 500}}

		src, err := newTestCatalog(api).Source(config.KindConfig{Name: KindFileSystemSnapshot})
		require.NoError(t, err)
		_, err = fetchAll(context.Background(), src, testRunContext())
		require.Error(t, err)
		assert.Equal(t, upstream.ClassOther, upstream.ClassOf(err))
	})
}

func TestLatestSnapshot(t *testing.T) {
	t.Parallel()

	now := time.Now()
	assert.Equal(t, -1, latestSnapshot(nil))
	assert.Equal(t, -1, latestSnapshot([]filestorage.SnapshotSummary{{}}))
	assert.Equal(t, 1, latestSnapshot([]filestorage.SnapshotSummary{
		{},
		{TimeCreated: sdkTimeAt(now)},
		{TimeCreated: sdkTimeAt(now)},
	}))
}

func TestMountTargetSource(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.identity.ads = []string{testAD1}
	api.fileStorage.mountTargets = map[[2]string][]filestorage.MountTargetSummary{
		{compB, testAD1}: {{
			Id:             common.String("mt1"),
			CompartmentId:  common.String(compB),
			SubnetId:       common.String("subnet1"),
			ExportSetId:    common.String("es1"),
			PrivateIpIds:   []string{"ip1"},
			LifecycleState: filestorage.MountTargetSummaryLifecycleStateActive,
		}},
	}

	src, err := newTestCatalog(api).Source(config.KindConfig{Name: KindMountTarget})
	require.NoError(t, err)
	records, err := fetchAll(context.Background(), src, testRunContext())
	require.NoError(t, err)
	require.Len(t, records, 1)

	mt := records["mt1"]
	assert.Equal(t, "subnet1", mt.Attributes["subnet_id"])
	assert.Equal(t, "es1", mt.Attributes["export_set_id"])
	assert.Equal(t, []string{"ip1"}, mt.Attributes["private_ip_ids"])
	assert.Nil(t, mt.Attributes["availability_domain"])
}

func TestExportSource(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.identity.ads = []string{testAD1}
	api.fileStorage.mountTargets = map[[2]string][]filestorage.MountTargetSummary{
		{compA, testAD1}: {
			{Id: common.String("mt1"), CompartmentId: common.String(compA), ExportSetId: common.String("es1")},
			{Id: common.String("mt-bare"), CompartmentId: common.String(compA)},
		},
	}
	api.fileStorage.exports = map[string][]filestorage.ExportSummary{
		"es1": {
			{
				Id:             common.String("ex1"),
				ExportSetId:    common.String("es1"),
				FileSystemId:   common.String("fs1"),
				Path:           common.String("/shared"),
				LifecycleState: filestorage.ExportSummaryLifecycleStateActive,
			},
			{
				Id:           common.String("ex2"),
				ExportSetId:  common.String("es1"),
				FileSystemId: common.String("fs2"),
				Path:         common.String("/scratch"),
			},
		},
	}

	src, err := newTestCatalog(api).Source(config.KindConfig{Name: KindFileSystemExport})
	require.NoError(t, err)
	records, err := fetchAll(context.Background(), src, testRunContext())
	require.NoError(t, err)
	require.Len(t, records, 2)

	ex := records["ex1"]
	assert.Equal(t, "/shared", ex.DisplayName)
	assert.Equal(t, "ACTIVE", ex.LifecycleState)
	assert.Equal(t, compA, ex.CompartmentID)
	assert.Equal(t, "fs1", ex.Attributes["file_system_id"])
	assert.Equal(t, "mt1", ex.Attributes["mount_target_id"])
	assert.Equal(t, "es1", ex.Attributes["export_set_id"])
	assert.Equal(t, "/shared", ex.Attributes["path"])
	assert.Equal(t, "fs2", records["ex2"].Attributes["file_system_id"])

	for _, rec := range records {
		_, err := src.Kind().Normalize(rec.Attributes)
		assert.NoError(t, err)
	}
}
