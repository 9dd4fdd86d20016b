package oci

import (
	"context"
	"log/slog"
	"time"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/database"

	"github.com/stacklok/inventory-mirror/internal/resource"
	"github.com/stacklok/inventory-mirror/internal/retry"
	pkgsync "github.com/stacklok/inventory-mirror/internal/sync"
	"github.com/stacklok/inventory-mirror/internal/upstream"
)

const (
	computeTypeECPU    = "ECPU"
	computeTypeOCPU    = "OCPU"
	computeTypeUnknown = "UNKNOWN"

	backupPageLimit = 1000
	bytesPerGB      = 1024 * 1024 * 1024
)

type adbSource struct {
	base
}

func (s *adbSource) Fetch(ctx context.Context, rc *pkgsync.RunContext, _ resource.Scope, emit pkgsync.EmitFunc) error {
	client, err := s.catalog.api.Database(rc.Region)
	if err != nil {
		return err
	}

	return s.forEachCompartment(ctx, rc, func(compartmentID string) error {
		items, err := listPages(ctx, rc, s.catalog.limiter, "ListAutonomousDatabases",
			func(ctx context.Context, page *string) (database.ListAutonomousDatabasesResponse, error) {
				return client.ListAutonomousDatabases(ctx, database.ListAutonomousDatabasesRequest{
					CompartmentId: common.String(compartmentID),
					Page:          page,
				})
			},
			func(r database.ListAutonomousDatabasesResponse) ([]database.AutonomousDatabaseSummary, *string) {
				return r.Items, r.OpcNextPage
			})
		if err != nil {
			return err
		}

		for _, adb := range items {
			if err := emit(adbRecord(adb)); err != nil {
				return err
			}
		}
		return nil
	})
}

func adbRecord(adb database.AutonomousDatabaseSummary) resource.Record {
	computeType, computeCount := adbCompute(adb)
	return resource.Record{
		ID:             resource.Deref(adb.Id),
		CompartmentID:  resource.Deref(adb.CompartmentId),
		DisplayName:    resource.Deref(adb.DisplayName),
		LifecycleState: string(adb.LifecycleState),
		TimeCreated:    sdkTime(adb.TimeCreated),
		Attributes: resource.Attributes{
			"db_name":       resource.OptString(adb.DbName),
			"workload":      resource.OptEnum(adb.DbWorkload),
			"db_version":    resource.OptString(adb.DbVersion),
			"compute_type":  computeType,
			"compute_count": computeCount,
			"storage_gb":    adbStorageGB(adb),
			"auto_scaling":  resource.OptBool(adb.IsAutoScalingEnabled),
		},
	}
}

// adbCompute reports ECPU when an ECPU count is present, OCPU when only a core
// count is present, and UNKNOWN otherwise
func adbCompute(adb database.AutonomousDatabaseSummary) (string, any) {
	switch {
	case adb.ComputeCount != nil:
		return computeTypeECPU, float64(*adb.ComputeCount)
	case adb.CpuCoreCount != nil:
		return computeTypeOCPU, float64(*adb.CpuCoreCount)
	default:
		return computeTypeUnknown, nil
	}
}

func adbStorageGB(adb database.AutonomousDatabaseSummary) any {
	if adb.DataStorageSizeInGBs != nil {
		return int64(*adb.DataStorageSizeInGBs)
	}
	if adb.DataStorageSizeInTBs != nil {
		return int64(*adb.DataStorageSizeInTBs) * 1024
	}
	return nil
}

type adbBackupSource struct {
	parentBase
}

func (s *adbBackupSource) Fetch(
	ctx context.Context, rc *pkgsync.RunContext, scope resource.Scope, emit pkgsync.EmitFunc,
) error {
	client, err := s.catalog.api.Database(rc.Region)
	if err != nil {
		return err
	}

	var adbName, adbState any
	resp, err := retry.Do(ctx, rc.Policy, func(ctx context.Context) (database.GetAutonomousDatabaseResponse, error) {
		return call(ctx, s.catalog.limiter, "GetAutonomousDatabase",
			func(ctx context.Context) (database.GetAutonomousDatabaseResponse, error) {
				return client.GetAutonomousDatabase(ctx, database.GetAutonomousDatabaseRequest{
					AutonomousDatabaseId: common.String(scope.ParentID),
				})
			})
	})
	switch {
	case err == nil:
		adbName = resource.OptString(resp.DbName)
		adbState = resource.OptEnum(resp.LifecycleState)
	case upstream.IsNotFound(err):
		slog.WarnContext(ctx, "Autonomous database not found, listing its backups anyway",
			"autonomous_database_id", scope.ParentID)
	default:
		return err
	}

	items, err := listPages(ctx, rc, s.catalog.limiter, "ListAutonomousDatabaseBackups",
		func(ctx context.Context, page *string) (database.ListAutonomousDatabaseBackupsResponse, error) {
			return client.ListAutonomousDatabaseBackups(ctx, database.ListAutonomousDatabaseBackupsRequest{
				AutonomousDatabaseId: common.String(scope.ParentID),
				Page:                 page,
			})
		},
		func(r database.ListAutonomousDatabaseBackupsResponse) ([]database.AutonomousDatabaseBackupSummary, *string) {
			return r.Items, r.OpcNextPage
		})
	if err != nil {
		return err
	}

	for _, b := range items {
		rec := resource.Record{
			ID:             resource.Deref(b.Id),
			CompartmentID:  resource.Deref(b.CompartmentId),
			DisplayName:    resource.Deref(b.DisplayName),
			LifecycleState: string(b.LifecycleState),
			TimeCreated:    sdkTime(b.TimeStarted),
			Attributes: resource.Attributes{
				"adb_name":     adbName,
				"adb_state":    adbState,
				"backup_type":  resource.OptEnum(b.Type),
				"is_automatic": resource.OptBool(b.IsAutomatic),
				"time_started": optSDKTime(b.TimeStarted),
				"time_ended":   optSDKTime(b.TimeEnded),
				"size_tb":      resource.OptFloat32(b.DatabaseSizeInTBs),
			},
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
	return nil
}

type dbSystemSource struct {
	base
}

func (s *dbSystemSource) Fetch(ctx context.Context, rc *pkgsync.RunContext, _ resource.Scope, emit pkgsync.EmitFunc) error {
	client, err := s.catalog.api.Database(rc.Region)
	if err != nil {
		return err
	}

	return s.forEachCompartment(ctx, rc, func(compartmentID string) error {
		items, err := listPages(ctx, rc, s.catalog.limiter, "ListDbSystems",
			func(ctx context.Context, page *string) (database.ListDbSystemsResponse, error) {
				return client.ListDbSystems(ctx, database.ListDbSystemsRequest{
					CompartmentId: common.String(compartmentID),
					Page:          page,
				})
			},
			func(r database.ListDbSystemsResponse) ([]database.DbSystemSummary, *string) {
				return r.Items, r.OpcNextPage
			})
		if err != nil {
			return err
		}

		for _, sys := range items {
			homeCount, dbNames, err := s.databases(ctx, rc, client, compartmentID, sys.Id)
			if err != nil {
				return err
			}
			rec := resource.Record{
				ID:             resource.Deref(sys.Id),
				CompartmentID:  resource.Deref(sys.CompartmentId),
				DisplayName:    resource.Deref(sys.DisplayName),
				LifecycleState: string(sys.LifecycleState),
				TimeCreated:    sdkTime(sys.TimeCreated),
				Attributes: resource.Attributes{
					"shape":               resource.OptString(sys.Shape),
					"cpu_core_count":      resource.OptInt(sys.CpuCoreCount),
					"storage_gb":          resource.OptInt(sys.DataStorageSizeInGBs),
					"node_count":          resource.OptInt(sys.NodeCount),
					"license_model":       resource.OptEnum(sys.LicenseModel),
					"edition":             resource.OptEnum(sys.DatabaseEdition),
					"version":             resource.OptString(sys.Version),
					"availability_domain": resource.OptString(sys.AvailabilityDomain),
					"db_home_count":       homeCount,
					"db_name_list":        dbNames,
				},
			}
			if err := emit(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// databases counts the db homes of a system and collects the names of their
// databases. Lookup failures leave both columns empty unless they must fail
// the scope.
func (s *dbSystemSource) databases(
	ctx context.Context, rc *pkgsync.RunContext, client DatabaseAPI, compartmentID string, systemID *string,
) (any, any, error) {
	if systemID == nil {
		return nil, nil, nil
	}

	homes, err := listPages(ctx, rc, s.catalog.limiter, "ListDbHomes",
		func(ctx context.Context, page *string) (database.ListDbHomesResponse, error) {
			return client.ListDbHomes(ctx, database.ListDbHomesRequest{
				CompartmentId: common.String(compartmentID),
				DbSystemId:    systemID,
				Page:          page,
			})
		},
		func(r database.ListDbHomesResponse) ([]database.DbHomeSummary, *string) {
			return r.Items, r.OpcNextPage
		})
	if err != nil {
		return s.skipDatabases(ctx, *systemID, err)
	}

	var names []string
	for _, home := range homes {
		dbs, err := listPages(ctx, rc, s.catalog.limiter, "ListDatabases",
			func(ctx context.Context, page *string) (database.ListDatabasesResponse, error) {
				return client.ListDatabases(ctx, database.ListDatabasesRequest{
					CompartmentId: common.String(compartmentID),
					DbHomeId:      home.Id,
					Page:          page,
				})
			},
			func(r database.ListDatabasesResponse) ([]database.DatabaseSummary, *string) {
				return r.Items, r.OpcNextPage
			})
		if err != nil {
			return s.skipDatabases(ctx, *systemID, err)
		}
		for _, db := range dbs {
			if name := stringOr(db.DbName, ""); name != "" {
				names = append(names, name)
			}
		}
	}
	return int64(len(homes)), optStrings(names), nil
}

func (*dbSystemSource) skipDatabases(ctx context.Context, systemID string, err error) (any, any, error) {
	if lookupFailed(ctx, err) {
		return nil, nil, err
	}
	slog.WarnContext(ctx, "Failed to list db homes, leaving database names empty",
		"db_system_id", systemID,
		"error", err)
	return nil, nil, nil
}

type dbBackupSource struct {
	parentBase
	lookback time.Duration
}

func (s *dbBackupSource) Fetch(
	ctx context.Context, rc *pkgsync.RunContext, scope resource.Scope, emit pkgsync.EmitFunc,
) error {
	client, err := s.catalog.api.Database(rc.Region)
	if err != nil {
		return err
	}

	dbName, err := s.databaseName(ctx, rc, client, scope.ParentID)
	if err != nil {
		return err
	}

	items, err := listPages(ctx, rc, s.catalog.limiter, "ListBackups",
		func(ctx context.Context, page *string) (database.ListBackupsResponse, error) {
			return client.ListBackups(ctx, database.ListBackupsRequest{
				DatabaseId: common.String(scope.ParentID),
				Limit:      common.Int(backupPageLimit),
				Page:       page,
			})
		},
		func(r database.ListBackupsResponse) ([]database.BackupSummary, *string) {
			return r.Items, r.OpcNextPage
		})
	if err != nil {
		return err
	}

	cutoff := rc.StartedAt.Add(-s.lookback)
	for _, b := range items {
		if b.TimeStarted != nil && b.TimeStarted.Before(cutoff) {
			continue
		}

		var sizeBytes any
		if b.DatabaseSizeInGBs != nil {
			sizeBytes = int64(*b.DatabaseSizeInGBs * bytesPerGB)
		}

		rec := resource.Record{
			ID:             resource.Deref(b.Id),
			CompartmentID:  resource.Deref(b.CompartmentId),
			DisplayName:    resource.Deref(b.DisplayName),
			LifecycleState: string(b.LifecycleState),
			TimeCreated:    sdkTime(b.TimeStarted),
			Attributes: resource.Attributes{
				"db_name":             dbName,
				"backup_type":         resource.OptEnum(b.Type),
				"time_started":        optSDKTime(b.TimeStarted),
				"time_ended":          optSDKTime(b.TimeEnded),
				"size_bytes":          sizeBytes,
				"availability_domain": resource.OptString(b.AvailabilityDomain),
				"edition":             resource.OptEnum(b.DatabaseEdition),
				"version":             resource.OptString(b.Version),
			},
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
	return nil
}

// databaseName resolves the best available label of a database: its name, its
// unique name, or its id when neither is known or the lookup fails
func (s *dbBackupSource) databaseName(
	ctx context.Context, rc *pkgsync.RunContext, client DatabaseAPI, databaseID string,
) (string, error) {
	resp, err := retry.Do(ctx, rc.Policy, func(ctx context.Context) (database.GetDatabaseResponse, error) {
		return call(ctx, s.catalog.limiter, "GetDatabase", func(ctx context.Context) (database.GetDatabaseResponse, error) {
			return client.GetDatabase(ctx, database.GetDatabaseRequest{DatabaseId: common.String(databaseID)})
		})
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		slog.WarnContext(ctx, "Failed to look up database, labelling backups with its id",
			"database_id", databaseID,
			"error", err)
		return databaseID, nil
	}

	if name := stringOr(resp.DbName, ""); name != "" {
		return name, nil
	}
	return stringOr(resp.DbUniqueName, databaseID), nil
}
