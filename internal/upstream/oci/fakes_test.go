package oci

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/core"
	"github.com/oracle/oci-go-sdk/v65/database"
	"github.com/oracle/oci-go-sdk/v65/filestorage"
	"github.com/oracle/oci-go-sdk/v65/identity"
	"github.com/oracle/oci-go-sdk/v65/loadbalancer"
	"github.com/oracle/oci-go-sdk/v65/usageapi"

	"github.com/stacklok/inventory-mirror/internal/hierarchy"
	"github.com/stacklok/inventory-mirror/internal/resource"
	"github.com/stacklok/inventory-mirror/internal/retry"
	pkgsync "github.com/stacklok/inventory-mirror/internal/sync"
)

const (
	testTenancy = "ocid1.tenancy.oc1..acme"
	testRegion  = "ap-seoul-1"
	compA       = "ocid1.compartment.oc1..a"
	compB       = "ocid1.compartment.oc1..b"
	testAD1     = "kIdk:AP-SEOUL-1-AD-1"
	testAD2     = "kIdk:AP-SEOUL-1-AD-2"
)

var runStart = time.Date(2025, 3, 15, 1, 0, 0, 0, time.UTC)

// serviceError satisfies common.ServiceError
type serviceError struct {
	status int
}

func (e serviceError) Error() string          { return fmt.Sprintf("service error %d", e.status) }
func (e serviceError) GetHTTPStatusCode() int { return e.status }
func (serviceError) GetMessage() string       { return "message" }
func (e serviceError) GetCode() string        { return fmt.Sprintf("Code%d", e.status) }
func (serviceError) GetOpcRequestID() string  { return "opc-request-id" }

var _ common.ServiceError = serviceError{}

type fakeAPI struct {
	identity     *fakeIdentity
	database     *fakeDatabase
	compute      *fakeCompute
	vnet         *fakeVirtualNetwork
	blockstorage *fakeBlockstorage
	loadBalancer *fakeLoadBalancer
	fileStorage  *fakeFileStorage
	usage        *fakeUsage

	regions []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		identity:     &fakeIdentity{},
		database:     &fakeDatabase{},
		compute:      &fakeCompute{},
		vnet:         &fakeVirtualNetwork{},
		blockstorage: &fakeBlockstorage{},
		loadBalancer: &fakeLoadBalancer{},
		fileStorage:  &fakeFileStorage{},
		usage:        &fakeUsage{},
	}
}

func (f *fakeAPI) Identity(region string) (IdentityAPI, error) {
	f.regions = append(f.regions, "identity:"+region)
	return f.identity, nil
}

func (f *fakeAPI) Database(string) (DatabaseAPI, error)             { return f.database, nil }
func (f *fakeAPI) Compute(string) (ComputeAPI, error)               { return f.compute, nil }
func (f *fakeAPI) VirtualNetwork(string) (VirtualNetworkAPI, error) { return f.vnet, nil }
func (f *fakeAPI) Blockstorage(string) (BlockstorageAPI, error)     { return f.blockstorage, nil }
func (f *fakeAPI) LoadBalancer(string) (LoadBalancerAPI, error)     { return f.loadBalancer, nil }
func (f *fakeAPI) FileStorage(string) (FileStorageAPI, error)       { return f.fileStorage, nil }

func (f *fakeAPI) Usage(region string) (UsageAPI, error) {
	f.regions = append(f.regions, "usage:"+region)
	return f.usage, nil
}

type fakeIdentity struct {
	tenancy      identity.Tenancy
	tenancyErr   error
	compartments func(req identity.ListCompartmentsRequest) (identity.ListCompartmentsResponse, error)
	ads          []string
}

func (f *fakeIdentity) GetTenancy(_ context.Context, _ identity.GetTenancyRequest) (identity.GetTenancyResponse, error) {
	return identity.GetTenancyResponse{Tenancy: f.tenancy}, f.tenancyErr
}

func (f *fakeIdentity) ListCompartments(
	_ context.Context, req identity.ListCompartmentsRequest,
) (identity.ListCompartmentsResponse, error) {
	if f.compartments == nil {
		return identity.ListCompartmentsResponse{}, nil
	}
	return f.compartments(req)
}

func (f *fakeIdentity) ListAvailabilityDomains(
	_ context.Context, _ identity.ListAvailabilityDomainsRequest,
) (identity.ListAvailabilityDomainsResponse, error) {
	var resp identity.ListAvailabilityDomainsResponse
	for _, ad := range f.ads {
		resp.Items = append(resp.Items, identity.AvailabilityDomain{Name: common.String(ad)})
	}
	return resp, nil
}

type fakeDatabase struct {
	adbs       map[string][]database.AutonomousDatabaseSummary
	adb        func(id string) (database.AutonomousDatabase, error)
	adbBackups map[string][]database.AutonomousDatabaseBackupSummary
	dbSystems  map[string][]database.DbSystemSummary
	db         func(id string) (database.Database, error)
	backups    map[string][]database.BackupSummary
	backupReqs []database.ListBackupsRequest
	// db homes keyed by db system, databases keyed by db home
	dbHomes    map[string][]database.DbHomeSummary
	dbHomesErr error
	databases  map[string][]database.DatabaseSummary
}

func (f *fakeDatabase) ListAutonomousDatabases(
	_ context.Context, req database.ListAutonomousDatabasesRequest,
) (database.ListAutonomousDatabasesResponse, error) {
	items := f.adbs[*req.CompartmentId]
	// Serve the first item on its own page to exercise pagination
	if req.Page == nil && len(items) > 1 {
		return database.ListAutonomousDatabasesResponse{Items: items[:1], OpcNextPage: common.String("p2")}, nil
	}
	if req.Page != nil {
		items = items[1:]
	}
	return database.ListAutonomousDatabasesResponse{Items: items}, nil
}

func (f *fakeDatabase) GetAutonomousDatabase(
	_ context.Context, req database.GetAutonomousDatabaseRequest,
) (database.GetAutonomousDatabaseResponse, error) {
	if f.adb == nil {
		return database.GetAutonomousDatabaseResponse{}, serviceError{status: 404}
	}
	adb, err := f.adb(*req.AutonomousDatabaseId)
	return database.GetAutonomousDatabaseResponse{AutonomousDatabase: adb}, err
}

func (f *fakeDatabase) ListAutonomousDatabaseBackups(
	_ context.Context, req database.ListAutonomousDatabaseBackupsRequest,
) (database.ListAutonomousDatabaseBackupsResponse, error) {
	return database.ListAutonomousDatabaseBackupsResponse{Items: f.adbBackups[*req.AutonomousDatabaseId]}, nil
}

func (f *fakeDatabase) ListDbSystems(
	_ context.Context, req database.ListDbSystemsRequest,
) (database.ListDbSystemsResponse, error) {
	return database.ListDbSystemsResponse{Items: f.dbSystems[*req.CompartmentId]}, nil
}

func (f *fakeDatabase) GetDatabase(_ context.Context, req database.GetDatabaseRequest) (database.GetDatabaseResponse, error) {
	if f.db == nil {
		return database.GetDatabaseResponse{}, serviceError{status: 404}
	}
	db, err := f.db(*req.DatabaseId)
	return database.GetDatabaseResponse{Database: db}, err
}

func (f *fakeDatabase) ListBackups(_ context.Context, req database.ListBackupsRequest) (database.ListBackupsResponse, error) {
	f.backupReqs = append(f.backupReqs, req)
	return database.ListBackupsResponse{Items: f.backups[*req.DatabaseId]}, nil
}

func (f *fakeDatabase) ListDbHomes(_ context.Context, req database.ListDbHomesRequest) (database.ListDbHomesResponse, error) {
	if f.dbHomesErr != nil {
		return database.ListDbHomesResponse{}, f.dbHomesErr
	}
	return database.ListDbHomesResponse{Items: f.dbHomes[*req.DbSystemId]}, nil
}

func (f *fakeDatabase) ListDatabases(
	_ context.Context, req database.ListDatabasesRequest,
) (database.ListDatabasesResponse, error) {
	return database.ListDatabasesResponse{Items: f.databases[*req.DbHomeId]}, nil
}

type fakeCompute struct {
	instances map[string][]core.Instance
	// the remaining maps are keyed by instance id
	instance          map[string]core.Instance
	vnicAttachments   map[string][]core.VnicAttachment
	volumeAttachments map[string][]core.VolumeAttachment
	bootAttachments   map[string][]core.BootVolumeAttachment
	bootAttachReqs    []core.ListBootVolumeAttachmentsRequest
}

func (f *fakeCompute) ListInstances(_ context.Context, req core.ListInstancesRequest) (core.ListInstancesResponse, error) {
	return core.ListInstancesResponse{Items: f.instances[*req.CompartmentId]}, nil
}

func (f *fakeCompute) GetInstance(_ context.Context, req core.GetInstanceRequest) (core.GetInstanceResponse, error) {
	inst, ok := f.instance[*req.InstanceId]
	if !ok {
		return core.GetInstanceResponse{}, serviceError{status: 404}
	}
	return core.GetInstanceResponse{Instance: inst}, nil
}

func (f *fakeCompute) ListVnicAttachments(
	_ context.Context, req core.ListVnicAttachmentsRequest,
) (core.ListVnicAttachmentsResponse, error) {
	return core.ListVnicAttachmentsResponse{Items: f.vnicAttachments[*req.InstanceId]}, nil
}

func (f *fakeCompute) ListVolumeAttachments(
	_ context.Context, req core.ListVolumeAttachmentsRequest,
) (core.ListVolumeAttachmentsResponse, error) {
	return core.ListVolumeAttachmentsResponse{Items: f.volumeAttachments[*req.InstanceId]}, nil
}

func (f *fakeCompute) ListBootVolumeAttachments(
	_ context.Context, req core.ListBootVolumeAttachmentsRequest,
) (core.ListBootVolumeAttachmentsResponse, error) {
	f.bootAttachReqs = append(f.bootAttachReqs, req)
	return core.ListBootVolumeAttachmentsResponse{Items: f.bootAttachments[*req.InstanceId]}, nil
}

type fakeVirtualNetwork struct {
	vnics map[string]core.Vnic
	err   error
}

func (f *fakeVirtualNetwork) GetVnic(_ context.Context, req core.GetVnicRequest) (core.GetVnicResponse, error) {
	if f.err != nil {
		return core.GetVnicResponse{}, f.err
	}
	vnic, ok := f.vnics[*req.VnicId]
	if !ok {
		return core.GetVnicResponse{}, serviceError{status: 404}
	}
	return core.GetVnicResponse{Vnic: vnic}, nil
}

type fakeBlockstorage struct {
	volumes map[string][]core.Volume
	// boot volumes keyed by compartment and availability domain
	boots map[[2]string][]core.BootVolume
	// single volumes and backups keyed by volume id
	volume      map[string]core.Volume
	bootVolume  map[string]core.BootVolume
	backups     map[string][]core.VolumeBackup
	bootBackups map[string][]core.BootVolumeBackup
}

func (f *fakeBlockstorage) ListVolumes(_ context.Context, req core.ListVolumesRequest) (core.ListVolumesResponse, error) {
	return core.ListVolumesResponse{Items: f.volumes[*req.CompartmentId]}, nil
}

func (f *fakeBlockstorage) ListBootVolumes(
	_ context.Context, req core.ListBootVolumesRequest,
) (core.ListBootVolumesResponse, error) {
	return core.ListBootVolumesResponse{Items: f.boots[[2]string{*req.CompartmentId, *req.AvailabilityDomain}]}, nil
}

func (f *fakeBlockstorage) GetVolume(_ context.Context, req core.GetVolumeRequest) (core.GetVolumeResponse, error) {
	v, ok := f.volume[*req.VolumeId]
	if !ok {
		return core.GetVolumeResponse{}, serviceError{status: 404}
	}
	return core.GetVolumeResponse{Volume: v}, nil
}

func (f *fakeBlockstorage) GetBootVolume(
	_ context.Context, req core.GetBootVolumeRequest,
) (core.GetBootVolumeResponse, error) {
	v, ok := f.bootVolume[*req.BootVolumeId]
	if !ok {
		return core.GetBootVolumeResponse{}, serviceError{status: 404}
	}
	return core.GetBootVolumeResponse{BootVolume: v}, nil
}

func (f *fakeBlockstorage) ListVolumeBackups(
	_ context.Context, req core.ListVolumeBackupsRequest,
) (core.ListVolumeBackupsResponse, error) {
	return core.ListVolumeBackupsResponse{Items: f.backups[*req.VolumeId]}, nil
}

func (f *fakeBlockstorage) ListBootVolumeBackups(
	_ context.Context, req core.ListBootVolumeBackupsRequest,
) (core.ListBootVolumeBackupsResponse, error) {
	return core.ListBootVolumeBackupsResponse{Items: f.bootBackups[*req.BootVolumeId]}, nil
}

type fakeLoadBalancer struct {
	lbs map[string][]loadbalancer.LoadBalancer
}

func (f *fakeLoadBalancer) ListLoadBalancers(
	_ context.Context, req loadbalancer.ListLoadBalancersRequest,
) (loadbalancer.ListLoadBalancersResponse, error) {
	return loadbalancer.ListLoadBalancersResponse{Items: f.lbs[*req.CompartmentId]}, nil
}

type fakeFileStorage struct {
	// file systems and mount targets keyed by compartment and availability domain
	fileSystems  map[[2]string][]filestorage.FileSystemSummary
	mountTargets map[[2]string][]filestorage.MountTargetSummary
	snapshots    map[string][]filestorage.SnapshotSummary
	snapshotErr  map[string]error
	// exports keyed by export set
	exports map[string][]filestorage.ExportSummary
}

func (f *fakeFileStorage) ListFileSystems(
	_ context.Context, req filestorage.ListFileSystemsRequest,
) (filestorage.ListFileSystemsResponse, error) {
	key := [2]string{*req.CompartmentId, *req.AvailabilityDomain}
	return filestorage.ListFileSystemsResponse{Items: f.fileSystems[key]}, nil
}

func (f *fakeFileStorage) ListSnapshots(
	_ context.Context, req filestorage.ListSnapshotsRequest,
) (filestorage.ListSnapshotsResponse, error) {
	if err := f.snapshotErr[*req.FileSystemId]; err != nil {
		return filestorage.ListSnapshotsResponse{}, err
	}
	return filestorage.ListSnapshotsResponse{Items: f.snapshots[*req.FileSystemId]}, nil
}

func (f *fakeFileStorage) ListMountTargets(
	_ context.Context, req filestorage.ListMountTargetsRequest,
) (filestorage.ListMountTargetsResponse, error) {
	key := [2]string{*req.CompartmentId, *req.AvailabilityDomain}
	return filestorage.ListMountTargetsResponse{Items: f.mountTargets[key]}, nil
}

func (f *fakeFileStorage) ListExports(
	_ context.Context, req filestorage.ListExportsRequest,
) (filestorage.ListExportsResponse, error) {
	return filestorage.ListExportsResponse{Items: f.exports[*req.ExportSetId]}, nil
}

type fakeUsage struct {
	items []usageapi.UsageSummary
	reqs  []usageapi.RequestSummarizedUsagesRequest
}

func (f *fakeUsage) RequestSummarizedUsages(
	_ context.Context, req usageapi.RequestSummarizedUsagesRequest,
) (usageapi.RequestSummarizedUsagesResponse, error) {
	f.reqs = append(f.reqs, req)
	return usageapi.RequestSummarizedUsagesResponse{
		UsageAggregation: usageapi.UsageAggregation{Items: f.items},
	}, nil
}

// testRunContext returns a run context over a tenancy holding compA and compB
func testRunContext() *pkgsync.RunContext {
	h := hierarchy.New(
		hierarchy.Node{ID: testTenancy, Name: "acme"},
		[]hierarchy.Node{
			{ID: compA, Name: "teamA", ParentID: testTenancy},
			{ID: compB, Name: "teamB", ParentID: testTenancy},
		},
	)
	return pkgsync.NewRunContext("run-1", runStart, testTenancy, h, nil).ForRegion(testRegion)
}

// throttledRunContext is testRunContext with a two-attempt retry policy that never sleeps
func throttledRunContext() *pkgsync.RunContext {
	rc := testRunContext()
	rc.Policy = retry.NewPolicy(
		retry.WithMaxAttempts(2),
		retry.WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
	return rc
}

func newTestCatalog(api API, opts ...CatalogOption) *Catalog {
	opts = append([]CatalogOption{WithHomeRegion(testRegion)}, opts...)
	c, err := NewCatalog(api, nil, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// fetchAll runs every scope of src and returns the emitted records by id
func fetchAll(ctx context.Context, src pkgsync.Source, rc *pkgsync.RunContext) (map[string]resource.Record, error) {
	scopes, err := src.Scopes(ctx, rc)
	if err != nil {
		return nil, err
	}
	out := make(map[string]resource.Record)
	for _, scope := range scopes {
		err := src.Fetch(ctx, rc, scope, func(rec resource.Record) error {
			rec.Scope = scope
			out[rec.ID] = rec
			return nil
		})
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func sdkTimeAt(t time.Time) *common.SDKTime {
	return &common.SDKTime{Time: t}
}
