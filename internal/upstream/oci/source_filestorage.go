package oci

import (
	"context"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/filestorage"

	"github.com/stacklok/inventory-mirror/internal/resource"
	pkgsync "github.com/stacklok/inventory-mirror/internal/sync"
)

// listFileSystems lists the file systems of every compartment and availability domain
func (b *base) listFileSystems(
	ctx context.Context, rc *pkgsync.RunContext, client FileStorageAPI,
) ([]filestorage.FileSystemSummary, error) {
	ads, err := b.availabilityDomains(ctx, rc)
	if err != nil {
		return nil, err
	}

	var all []filestorage.FileSystemSummary
	err = b.forEachCompartment(ctx, rc, func(compartmentID string) error {
		for _, ad := range ads {
			items, err := listPages(ctx, rc, b.catalog.limiter, "ListFileSystems",
				func(ctx context.Context, page *string) (filestorage.ListFileSystemsResponse, error) {
					return client.ListFileSystems(ctx, filestorage.ListFileSystemsRequest{
						CompartmentId:      common.String(compartmentID),
						AvailabilityDomain: common.String(ad),
						Page:               page,
					})
				},
				func(r filestorage.ListFileSystemsResponse) ([]filestorage.FileSystemSummary, *string) {
					return r.Items, r.OpcNextPage
				})
			if err != nil {
				return err
			}
			all = append(all, items...)
		}
		return nil
	})
	return all, err
}

// listSnapshots lists the snapshots of one file system. A file system deleted
// since it was listed has none.
func (b *base) listSnapshots(
	ctx context.Context, rc *pkgsync.RunContext, client FileStorageAPI, fsID string,
) ([]filestorage.SnapshotSummary, error) {
	return listPages(ctx, rc, b.catalog.limiter, "ListSnapshots",
		func(ctx context.Context, page *string) (filestorage.ListSnapshotsResponse, error) {
			return client.ListSnapshots(ctx, filestorage.ListSnapshotsRequest{
				FileSystemId: common.String(fsID),
				Page:         page,
			})
		},
		func(r filestorage.ListSnapshotsResponse) ([]filestorage.SnapshotSummary, *string) {
			return r.Items, r.OpcNextPage
		})
}

type fileSystemSource struct {
	base
}

func (s *fileSystemSource) Fetch(
	ctx context.Context, rc *pkgsync.RunContext, _ resource.Scope, emit pkgsync.EmitFunc,
) error {
	client, err := s.catalog.api.FileStorage(rc.Region)
	if err != nil {
		return err
	}
	fileSystems, err := s.listFileSystems(ctx, rc, client)
	if err != nil {
		return err
	}

	for _, fs := range fileSystems {
		snaps, err := s.listSnapshots(ctx, rc, client, resource.Deref(fs.Id))
		if err != nil {
			return err
		}
		var snapID, snapName, snapState, snapTime any
		if i := latestSnapshot(snaps); i >= 0 {
			snapID = resource.OptString(snaps[i].Id)
			snapName = resource.OptString(snaps[i].Name)
			snapState = resource.OptEnum(snaps[i].LifecycleState)
			snapTime = optSDKTime(snaps[i].TimeCreated)
		}

		rec := resource.Record{
			ID:             resource.Deref(fs.Id),
			CompartmentID:  resource.Deref(fs.CompartmentId),
			DisplayName:    resource.Deref(fs.DisplayName),
			LifecycleState: string(fs.LifecycleState),
			TimeCreated:    sdkTime(fs.TimeCreated),
			Attributes: resource.Attributes{
				"availability_domain":   resource.OptString(fs.AvailabilityDomain),
				"metered_bytes":         resource.OptInt64(fs.MeteredBytes),
				"latest_snapshot_id":    snapID,
				"latest_snapshot_name":  snapName,
				"latest_snapshot_state": snapState,
				"latest_snapshot_time":  snapTime,
			},
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
	return nil
}

// snapshotSource mirrors the snapshots of every file system in the region.
// A file system deleted between the two listings contributes no snapshots.
type snapshotSource struct {
	base
}

func (s *snapshotSource) Fetch(ctx context.Context, rc *pkgsync.RunContext, _ resource.Scope, emit pkgsync.EmitFunc) error {
	client, err := s.catalog.api.FileStorage(rc.Region)
	if err != nil {
		return err
	}
	fileSystems, err := s.listFileSystems(ctx, rc, client)
	if err != nil {
		return err
	}

	for _, fs := range fileSystems {
		fsID := resource.Deref(fs.Id)
		snaps, err := s.listSnapshots(ctx, rc, client, fsID)
		if err != nil {
			return err
		}

		latest := latestSnapshot(snaps)
		for i, snap := range snaps {
			rec := resource.Record{
				ID:             resource.Deref(snap.Id),
				CompartmentID:  resource.Deref(fs.CompartmentId),
				DisplayName:    resource.Deref(snap.Name),
				LifecycleState: string(snap.LifecycleState),
				TimeCreated:    sdkTime(snap.TimeCreated),
				Attributes: resource.Attributes{
					"file_system_id": fsID,
					"is_latest":      i == latest,
				},
			}
			if err := emit(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// latestSnapshot returns the index of the newest snapshot, or -1 when none has
// a creation time. The first of equally new snapshots wins.
func latestSnapshot(snaps []filestorage.SnapshotSummary) int {
	latest := -1
	for i, snap := range snaps {
		if snap.TimeCreated == nil {
			continue
		}
		if latest < 0 || snap.TimeCreated.After(snaps[latest].TimeCreated.Time) {
			latest = i
		}
	}
	return latest
}

// listMountTargets lists the mount targets of every compartment and availability domain
func (b *base) listMountTargets(
	ctx context.Context, rc *pkgsync.RunContext, client FileStorageAPI,
) ([]filestorage.MountTargetSummary, error) {
	ads, err := b.availabilityDomains(ctx, rc)
	if err != nil {
		return nil, err
	}

	var all []filestorage.MountTargetSummary
	err = b.forEachCompartment(ctx, rc, func(compartmentID string) error {
		for _, ad := range ads {
			items, err := listPages(ctx, rc, b.catalog.limiter, "ListMountTargets",
				func(ctx context.Context, page *string) (filestorage.ListMountTargetsResponse, error) {
					return client.ListMountTargets(ctx, filestorage.ListMountTargetsRequest{
						CompartmentId:      common.String(compartmentID),
						AvailabilityDomain: common.String(ad),
						Page:               page,
					})
				},
				func(r filestorage.ListMountTargetsResponse) ([]filestorage.MountTargetSummary, *string) {
					return r.Items, r.OpcNextPage
				})
			if err != nil {
				return err
			}
			all = append(all, items...)
		}
		return nil
	})
	return all, err
}

type mountTargetSource struct {
	base
}

func (s *mountTargetSource) Fetch(
	ctx context.Context, rc *pkgsync.RunContext, _ resource.Scope, emit pkgsync.EmitFunc,
) error {
	client, err := s.catalog.api.FileStorage(rc.Region)
	if err != nil {
		return err
	}
	mountTargets, err := s.listMountTargets(ctx, rc, client)
	if err != nil {
		return err
	}

	for _, mt := range mountTargets {
		rec := resource.Record{
			ID:             resource.Deref(mt.Id),
			CompartmentID:  resource.Deref(mt.CompartmentId),
			DisplayName:    resource.Deref(mt.DisplayName),
			LifecycleState: string(mt.LifecycleState),
			TimeCreated:    sdkTime(mt.TimeCreated),
			Attributes: resource.Attributes{
				"availability_domain": resource.OptString(mt.AvailabilityDomain),
				"subnet_id":           resource.OptString(mt.SubnetId),
				"export_set_id":       resource.OptString(mt.ExportSetId),
				"private_ip_ids":      optStrings(mt.PrivateIpIds),
			},
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
	return nil
}

// exportSource mirrors the exports of every mount target's export set
type exportSource struct {
	base
}

func (s *exportSource) Fetch(ctx context.Context, rc *pkgsync.RunContext, _ resource.Scope, emit pkgsync.EmitFunc) error {
	client, err := s.catalog.api.FileStorage(rc.Region)
	if err != nil {
		return err
	}
	mountTargets, err := s.listMountTargets(ctx, rc, client)
	if err != nil {
		return err
	}

	for _, mt := range mountTargets {
		if mt.ExportSetId == nil {
			continue
		}
		exports, err := listPages(ctx, rc, s.catalog.limiter, "ListExports",
			func(ctx context.Context, page *string) (filestorage.ListExportsResponse, error) {
				return client.ListExports(ctx, filestorage.ListExportsRequest{
					CompartmentId: mt.CompartmentId,
					ExportSetId:   mt.ExportSetId,
					Page:          page,
				})
			},
			func(r filestorage.ListExportsResponse) ([]filestorage.ExportSummary, *string) {
				return r.Items, r.OpcNextPage
			})
		if err != nil {
			return err
		}

		for _, ex := range exports {
			rec := resource.Record{
				ID:             resource.Deref(ex.Id),
				CompartmentID:  resource.Deref(mt.CompartmentId),
				DisplayName:    resource.Deref(ex.Path),
				LifecycleState: string(ex.LifecycleState),
				TimeCreated:    sdkTime(ex.TimeCreated),
				Attributes: resource.Attributes{
					"file_system_id":  resource.Deref(ex.FileSystemId),
					"mount_target_id": resource.Deref(mt.Id),
					"export_set_id":   resource.Deref(mt.ExportSetId),
					"path":            resource.OptString(ex.Path),
				},
			}
			if err := emit(rec); err != nil {
				return err
			}
		}
	}
	return nil
}
