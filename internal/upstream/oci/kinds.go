package oci

import (
	"fmt"
	"time"

	"github.com/stacklok/inventory-mirror/internal/resource"
)

// Kind names accepted in configuration
const (
	KindAutonomousDatabase       = "autonomous_database"
	KindAutonomousDatabaseBackup = "autonomous_database_backup"
	KindDBSystem                 = "db_system"
	KindDatabaseBackup           = "database_backup"
	KindInstance                 = "instance"
	KindVolume                   = "volume"
	KindVolumeAttachment         = "volume_attachment"
	KindVolumeBackup             = "volume_backup"
	KindLoadBalancer             = "load_balancer"
	KindFileSystem               = "file_system"
	KindFileSystemSnapshot       = "file_system_snapshot"
	KindMountTarget              = "mount_target"
	KindFileSystemExport         = "file_system_export"
	KindDailyCost                = "daily_cost"
)

// DefaultBackupLookback bounds database_backup when no lookback is configured
const DefaultBackupLookback = 14 * 24 * time.Hour

var kinds = []resource.Kind{
	{
		Name:        KindAutonomousDatabase,
		Table:       "oci_adb_inventory",
		Description: "Autonomous databases with compute model and storage",
		Schema: []resource.Field{
			{Name: "db_name", Type: resource.FieldString, Optional: true},
			{Name: "workload", Type: resource.FieldString, Optional: true},
			{Name: "db_version", Type: resource.FieldString, Optional: true},
			{Name: "compute_type", Type: resource.FieldString},
			{Name: "compute_count", Type: resource.FieldFloat, Optional: true},
			{Name: "storage_gb", Type: resource.FieldInt, Optional: true},
			{Name: "auto_scaling", Type: resource.FieldBool, Optional: true},
		},
	},
	{
		Name:         KindAutonomousDatabaseBackup,
		Table:        "oci_adb_backup",
		Description:  "Backups of the configured autonomous databases",
		ParentScoped: true,
		Schema: []resource.Field{
			{Name: "adb_name", Type: resource.FieldString, Optional: true},
			{Name: "adb_state", Type: resource.FieldString, Optional: true},
			{Name: "backup_type", Type: resource.FieldString, Optional: true},
			{Name: "is_automatic", Type: resource.FieldBool, Optional: true},
			{Name: "time_started", Type: resource.FieldTime, Optional: true},
			{Name: "time_ended", Type: resource.FieldTime, Optional: true},
			{Name: "size_tb", Type: resource.FieldFloat, Optional: true},
		},
	},
	{
		Name:        KindDBSystem,
		Table:       "oci_dbsystem_inventory",
		Description: "Base database systems",
		Schema: []resource.Field{
			{Name: "shape", Type: resource.FieldString, Optional: true},
			{Name: "cpu_core_count", Type: resource.FieldInt, Optional: true},
			{Name: "storage_gb", Type: resource.FieldInt, Optional: true},
			{Name: "node_count", Type: resource.FieldInt, Optional: true},
			{Name: "license_model", Type: resource.FieldString, Optional: true},
			{Name: "edition", Type: resource.FieldString, Optional: true},
			{Name: "version", Type: resource.FieldString, Optional: true},
			{Name: "availability_domain", Type: resource.FieldString, Optional: true},
			{Name: "db_home_count", Type: resource.FieldInt, Optional: true},
			{Name: "db_name_list", Type: resource.FieldStrings, Optional: true},
		},
	},
	{
		Name:         KindDatabaseBackup,
		Table:        "oci_dbcs_backup",
		Description:  "Recent backups of the configured base databases",
		ParentScoped: true,
		Schema: []resource.Field{
			{Name: "db_name", Type: resource.FieldString},
			{Name: "backup_type", Type: resource.FieldString, Optional: true},
			{Name: "time_started", Type: resource.FieldTime, Optional: true},
			{Name: "time_ended", Type: resource.FieldTime, Optional: true},
			{Name: "size_bytes", Type: resource.FieldInt, Optional: true},
			{Name: "availability_domain", Type: resource.FieldString, Optional: true},
			{Name: "edition", Type: resource.FieldString, Optional: true},
			{Name: "version", Type: resource.FieldString, Optional: true},
		},
	},
	{
		Name:        KindInstance,
		Table:       "oci_instance_inventory",
		Description: "Compute instances with shape configuration",
		Schema: []resource.Field{
			{Name: "shape", Type: resource.FieldString, Optional: true},
			{Name: "ocpus", Type: resource.FieldFloat, Optional: true},
			{Name: "memory_gb", Type: resource.FieldFloat, Optional: true},
			{Name: "availability_domain", Type: resource.FieldString, Optional: true},
			{Name: "fault_domain", Type: resource.FieldString, Optional: true},
			{Name: "primary_vnic_id", Type: resource.FieldString, Optional: true},
			{Name: "private_ips", Type: resource.FieldStrings, Optional: true},
			{Name: "public_ips", Type: resource.FieldStrings, Optional: true},
		},
	},
	{
		Name:        KindVolume,
		Table:       "oci_volume_inventory",
		Description: "Block and boot volumes",
		Schema: []resource.Field{
			{Name: "volume_type", Type: resource.FieldString},
			{Name: "size_gb", Type: resource.FieldInt, Optional: true},
			{Name: "vpus_per_gb", Type: resource.FieldInt, Optional: true},
			{Name: "availability_domain", Type: resource.FieldString, Optional: true},
		},
	},
	{
		Name:         KindVolumeAttachment,
		Table:        "oci_instance_volume",
		Description:  "Boot and block volumes attached to the configured instances",
		ParentScoped: true,
		Schema: []resource.Field{
			{Name: "instance_name", Type: resource.FieldString, Optional: true},
			{Name: "volume_type", Type: resource.FieldString},
			{Name: "size_gb", Type: resource.FieldInt, Optional: true},
			{Name: "attachment_id", Type: resource.FieldString},
			{Name: "attachment_type", Type: resource.FieldString, Optional: true},
			{Name: "attachment_state", Type: resource.FieldString},
			{Name: "device", Type: resource.FieldString, Optional: true},
		},
	},
	{
		Name:         KindVolumeBackup,
		Table:        "oci_volume_backup",
		Description:  "Backups of the volumes attached to the configured instances, flagging the newest per volume",
		ParentScoped: true,
		Schema: []resource.Field{
			{Name: "volume_id", Type: resource.FieldString},
			{Name: "volume_type", Type: resource.FieldString},
			{Name: "backup_type", Type: resource.FieldString, Optional: true},
			{Name: "size_gb", Type: resource.FieldInt, Optional: true},
			{Name: "expiration_time", Type: resource.FieldTime, Optional: true},
			{Name: "is_latest", Type: resource.FieldBool},
		},
	},
	{
		Name:        KindLoadBalancer,
		Table:       "oci_lb_inventory",
		Description: "Load balancers with addresses and subnets",
		Schema: []resource.Field{
			{Name: "shape", Type: resource.FieldString, Optional: true},
			{Name: "is_private", Type: resource.FieldBool, Optional: true},
			{Name: "ip_addresses", Type: resource.FieldStrings, Optional: true},
			{Name: "subnet_ids", Type: resource.FieldStrings, Optional: true},
			{Name: "ip_mode", Type: resource.FieldString, Optional: true},
			{Name: "reserved_ips", Type: resource.FieldStrings, Optional: true},
		},
	},
	{
		Name:        KindFileSystem,
		Table:       "oci_fs_inventory",
		Description: "File systems with metered size and newest snapshot",
		Schema: []resource.Field{
			{Name: "availability_domain", Type: resource.FieldString, Optional: true},
			{Name: "metered_bytes", Type: resource.FieldInt, Optional: true},
			{Name: "latest_snapshot_id", Type: resource.FieldString, Optional: true},
			{Name: "latest_snapshot_name", Type: resource.FieldString, Optional: true},
			{Name: "latest_snapshot_state", Type: resource.FieldString, Optional: true},
			{Name: "latest_snapshot_time", Type: resource.FieldTime, Optional: true},
		},
	},
	{
		Name:        KindFileSystemSnapshot,
		Table:       "oci_fs_snapshot",
		Description: "File system snapshots, flagging the newest per file system",
		Schema: []resource.Field{
			{Name: "file_system_id", Type: resource.FieldString},
			{Name: "is_latest", Type: resource.FieldBool},
		},
	},
	{
		Name:        KindMountTarget,
		Table:       "oci_mount_target_inventory",
		Description: "File storage mount targets",
		Schema: []resource.Field{
			{Name: "availability_domain", Type: resource.FieldString, Optional: true},
			{Name: "subnet_id", Type: resource.FieldString, Optional: true},
			{Name: "export_set_id", Type: resource.FieldString, Optional: true},
			{Name: "private_ip_ids", Type: resource.FieldStrings, Optional: true},
		},
	},
	{
		Name:        KindFileSystemExport,
		Table:       "oci_fs_export",
		Description: "Exports of every mount target's export set",
		Schema: []resource.Field{
			{Name: "file_system_id", Type: resource.FieldString},
			{Name: "mount_target_id", Type: resource.FieldString},
			{Name: "export_set_id", Type: resource.FieldString},
			{Name: "path", Type: resource.FieldString, Optional: true},
		},
	},
	{
		Name:         KindDailyCost,
		Table:        "oci_daily_cost",
		Description:  "Daily cost per service, keyed by usage date",
		ParentScoped: true,
		Schema: []resource.Field{
			{Name: "usage_date", Type: resource.FieldString},
			{Name: "service", Type: resource.FieldString},
			{Name: "computed_amount", Type: resource.FieldDecimal},
			{Name: "currency", Type: resource.FieldString, Optional: true},
		},
	},
}

// Kinds returns every supported resource kind
func Kinds() []resource.Kind {
	out := make([]resource.Kind, len(kinds))
	copy(out, kinds)
	return out
}

// KindByName looks up a supported kind
func KindByName(name string) (resource.Kind, error) {
	for _, k := range kinds {
		if k.Name == name {
			return k, nil
		}
	}
	return resource.Kind{}, fmt.Errorf("unknown resource kind %q", name)
}
