package oci

import (
	"context"
	"log/slog"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/core"

	"github.com/stacklok/inventory-mirror/internal/resource"
	pkgsync "github.com/stacklok/inventory-mirror/internal/sync"
	"github.com/stacklok/inventory-mirror/internal/upstream"
)

// attachedStates are the attachment states mirrored as attached
var attachedStates = map[string]bool{
	"ATTACHING": true,
	"ATTACHED":  true,
}

// attachedVolume is a boot or block volume currently attached to an instance
type attachedVolume struct {
	volumeType      string
	attachmentID    string
	attachmentType  any
	attachmentState string
	device          any

	id            string
	compartmentID string
	displayName   string
	state         string
	created       *common.SDKTime
	sizeGB        *int64
}

// instanceVolumes resolves an instance and the volumes attached to it, boot
// volume first. An instance that no longer exists has no volumes.
func (b *base) instanceVolumes(
	ctx context.Context, rc *pkgsync.RunContext, instanceID string,
) (core.Instance, []attachedVolume, error) {
	compute, err := b.catalog.api.Compute(rc.Region)
	if err != nil {
		return core.Instance{}, nil, err
	}
	block, err := b.catalog.api.Blockstorage(rc.Region)
	if err != nil {
		return core.Instance{}, nil, err
	}

	resp, err := getOne(ctx, rc, b.catalog.limiter, "GetInstance", func(ctx context.Context) (core.GetInstanceResponse, error) {
		return compute.GetInstance(ctx, core.GetInstanceRequest{InstanceId: common.String(instanceID)})
	})
	if upstream.IsNotFound(err) {
		slog.WarnContext(ctx, "Instance not found, mirroring no attached volumes", "instance_id", instanceID)
		return core.Instance{}, nil, nil
	}
	if err != nil {
		return core.Instance{}, nil, err
	}
	inst := resp.Instance

	boots, err := listPages(ctx, rc, b.catalog.limiter, "ListBootVolumeAttachments",
		func(ctx context.Context, page *string) (core.ListBootVolumeAttachmentsResponse, error) {
			return compute.ListBootVolumeAttachments(ctx, core.ListBootVolumeAttachmentsRequest{
				AvailabilityDomain: inst.AvailabilityDomain,
				CompartmentId:      inst.CompartmentId,
				InstanceId:         common.String(instanceID),
				Page:               page,
			})
		},
		func(r core.ListBootVolumeAttachmentsResponse) ([]core.BootVolumeAttachment, *string) {
			return r.Items, r.OpcNextPage
		})
	if err != nil {
		return inst, nil, err
	}

	var volumes []attachedVolume
	for _, att := range boots {
		if !attachedStates[string(att.LifecycleState)] {
			continue
		}
		boot, err := getOne(ctx, rc, b.catalog.limiter, "GetBootVolume",
			func(ctx context.Context) (core.GetBootVolumeResponse, error) {
				return block.GetBootVolume(ctx, core.GetBootVolumeRequest{BootVolumeId: att.BootVolumeId})
			})
		if upstream.IsNotFound(err) {
			continue
		}
		if err != nil {
			return inst, nil, err
		}
		volumes = append(volumes, attachedVolume{
			volumeType:      volumeTypeBoot,
			attachmentID:    resource.Deref(att.Id),
			attachmentType:  volumeTypeBoot,
			attachmentState: string(att.LifecycleState),
			id:              resource.Deref(boot.Id),
			compartmentID:   resource.Deref(boot.CompartmentId),
			displayName:     resource.Deref(boot.DisplayName),
			state:           string(boot.LifecycleState),
			created:         boot.TimeCreated,
			sizeGB:          boot.SizeInGBs,
		})
	}

	blocks, err := listPages(ctx, rc, b.catalog.limiter, "ListVolumeAttachments",
		func(ctx context.Context, page *string) (core.ListVolumeAttachmentsResponse, error) {
			return compute.ListVolumeAttachments(ctx, core.ListVolumeAttachmentsRequest{
				CompartmentId: inst.CompartmentId,
				InstanceId:    common.String(instanceID),
				Page:          page,
			})
		},
		func(r core.ListVolumeAttachmentsResponse) ([]core.VolumeAttachment, *string) {
			return r.Items, r.OpcNextPage
		})
	if err != nil {
		return inst, nil, err
	}

	for _, att := range blocks {
		if att == nil || !attachedStates[string(att.GetLifecycleState())] {
			continue
		}
		vol, err := getOne(ctx, rc, b.catalog.limiter, "GetVolume", func(ctx context.Context) (core.GetVolumeResponse, error) {
			return block.GetVolume(ctx, core.GetVolumeRequest{VolumeId: att.GetVolumeId()})
		})
		if upstream.IsNotFound(err) {
			continue
		}
		if err != nil {
			return inst, nil, err
		}
		volumes = append(volumes, attachedVolume{
			volumeType:      volumeTypeBlock,
			attachmentID:    resource.Deref(att.GetId()),
			attachmentType:  attachmentType(att),
			attachmentState: string(att.GetLifecycleState()),
			device:          resource.OptString(att.GetDevice()),
			id:              resource.Deref(vol.Id),
			compartmentID:   resource.Deref(vol.CompartmentId),
			displayName:     resource.Deref(vol.DisplayName),
			state:           string(vol.LifecycleState),
			created:         vol.TimeCreated,
			sizeGB:          vol.SizeInGBs,
		})
	}
	return inst, volumes, nil
}

func attachmentType(att core.VolumeAttachment) any {
	switch att.(type) {
	case core.IScsiVolumeAttachment, *core.IScsiVolumeAttachment:
		return "iscsi"
	case core.ParavirtualizedVolumeAttachment, *core.ParavirtualizedVolumeAttachment:
		return "paravirtualized"
	case core.EmulatedVolumeAttachment, *core.EmulatedVolumeAttachment:
		return "emulated"
	}
	return nil
}

// volumeAttachmentSource mirrors the volumes attached to each configured instance
type volumeAttachmentSource struct {
	parentBase
}

func (s *volumeAttachmentSource) Fetch(
	ctx context.Context, rc *pkgsync.RunContext, scope resource.Scope, emit pkgsync.EmitFunc,
) error {
	inst, volumes, err := s.instanceVolumes(ctx, rc, scope.ParentID)
	if err != nil {
		return err
	}

	for _, v := range volumes {
		rec := resource.Record{
			ID:             v.id,
			CompartmentID:  v.compartmentID,
			DisplayName:    v.displayName,
			LifecycleState: v.state,
			TimeCreated:    sdkTime(v.created),
			Attributes: resource.Attributes{
				"instance_name":    resource.OptString(inst.DisplayName),
				"volume_type":      v.volumeType,
				"size_gb":          resource.OptInt64(v.sizeGB),
				"attachment_id":    v.attachmentID,
				"attachment_type":  v.attachmentType,
				"attachment_state": v.attachmentState,
				"device":           v.device,
			},
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
	return nil
}

// volumeBackupSource mirrors the backups of the volumes attached to each
// configured instance
type volumeBackupSource struct {
	parentBase
}

// volumeBackup is the common shape of boot and block volume backups
type volumeBackup struct {
	id            string
	compartmentID string
	displayName   string
	state         string
	backupType    any
	sizeGB        *int64
	created       *common.SDKTime
	expires       *common.SDKTime
}

func (s *volumeBackupSource) Fetch(
	ctx context.Context, rc *pkgsync.RunContext, scope resource.Scope, emit pkgsync.EmitFunc,
) error {
	_, volumes, err := s.instanceVolumes(ctx, rc, scope.ParentID)
	if err != nil {
		return err
	}
	block, err := s.catalog.api.Blockstorage(rc.Region)
	if err != nil {
		return err
	}

	for _, v := range volumes {
		backups, err := s.listBackups(ctx, rc, block, v)
		if err != nil {
			return err
		}

		latest := newestBackup(backups)
		for i, b := range backups {
			rec := resource.Record{
				ID:             b.id,
				CompartmentID:  b.compartmentID,
				DisplayName:    b.displayName,
				LifecycleState: b.state,
				TimeCreated:    sdkTime(b.created),
				Attributes: resource.Attributes{
					"volume_id":       v.id,
					"volume_type":     v.volumeType,
					"backup_type":     b.backupType,
					"size_gb":         resource.OptInt64(b.sizeGB),
					"expiration_time": optSDKTime(b.expires),
					"is_latest":       i == latest,
				},
			}
			if err := emit(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *volumeBackupSource) listBackups(
	ctx context.Context, rc *pkgsync.RunContext, block BlockstorageAPI, v attachedVolume,
) ([]volumeBackup, error) {
	if v.volumeType == volumeTypeBoot {
		items, err := listPages(ctx, rc, s.catalog.limiter, "ListBootVolumeBackups",
			func(ctx context.Context, page *string) (core.ListBootVolumeBackupsResponse, error) {
				return block.ListBootVolumeBackups(ctx, core.ListBootVolumeBackupsRequest{
					CompartmentId: common.String(v.compartmentID),
					BootVolumeId:  common.String(v.id),
					Page:          page,
				})
			},
			func(r core.ListBootVolumeBackupsResponse) ([]core.BootVolumeBackup, *string) {
				return r.Items, r.OpcNextPage
			})
		backups := make([]volumeBackup, 0, len(items))
		for _, b := range items {
			backups = append(backups, volumeBackup{
				id:            resource.Deref(b.Id),
				compartmentID: resource.Deref(b.CompartmentId),
				displayName:   resource.Deref(b.DisplayName),
				state:         string(b.LifecycleState),
				backupType:    resource.OptEnum(b.Type),
				sizeGB:        b.SizeInGBs,
				created:       b.TimeCreated,
				expires:       b.ExpirationTime,
			})
		}
		return backups, err
	}

	items, err := listPages(ctx, rc, s.catalog.limiter, "ListVolumeBackups",
		func(ctx context.Context, page *string) (core.ListVolumeBackupsResponse, error) {
			return block.ListVolumeBackups(ctx, core.ListVolumeBackupsRequest{
				CompartmentId: common.String(v.compartmentID),
				VolumeId:      common.String(v.id),
				Page:          page,
			})
		},
		func(r core.ListVolumeBackupsResponse) ([]core.VolumeBackup, *string) {
			return r.Items, r.OpcNextPage
		})
	backups := make([]volumeBackup, 0, len(items))
	for _, b := range items {
		backups = append(backups, volumeBackup{
			id:            resource.Deref(b.Id),
			compartmentID: resource.Deref(b.CompartmentId),
			displayName:   resource.Deref(b.DisplayName),
			state:         string(b.LifecycleState),
			backupType:    resource.OptEnum(b.Type),
			sizeGB:        b.SizeInGBs,
			created:       b.TimeCreated,
			expires:       b.ExpirationTime,
		})
	}
	return backups, err
}

// newestBackup returns the index of the newest backup, or -1 when none has a
// creation time
func newestBackup(backups []volumeBackup) int {
	latest := -1
	for i, b := range backups {
		if b.created == nil {
			continue
		}
		if latest < 0 || b.created.After(backups[latest].created.Time) {
			latest = i
		}
	}
	return latest
}
