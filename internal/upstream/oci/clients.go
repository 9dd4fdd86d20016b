// Package oci adapts the Oracle Cloud Infrastructure APIs to the mirror's
// hierarchy lister and per-kind sources.
package oci

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/common/auth"
	"github.com/oracle/oci-go-sdk/v65/core"
	"github.com/oracle/oci-go-sdk/v65/database"
	"github.com/oracle/oci-go-sdk/v65/filestorage"
	"github.com/oracle/oci-go-sdk/v65/identity"
	"github.com/oracle/oci-go-sdk/v65/loadbalancer"
	"github.com/oracle/oci-go-sdk/v65/usageapi"
	"golang.org/x/time/rate"

	"github.com/stacklok/inventory-mirror/internal/config"
)

// IdentityAPI is the subset of the identity client used by the mirror
type IdentityAPI interface {
	GetTenancy(ctx context.Context, req identity.GetTenancyRequest) (identity.GetTenancyResponse, error)
	ListCompartments(ctx context.Context, req identity.ListCompartmentsRequest) (identity.ListCompartmentsResponse, error)
	ListAvailabilityDomains(
		ctx context.Context, req identity.ListAvailabilityDomainsRequest,
	) (identity.ListAvailabilityDomainsResponse, error)
}

// DatabaseAPI is the subset of the database client used by the mirror
type DatabaseAPI interface {
	ListAutonomousDatabases(
		ctx context.Context, req database.ListAutonomousDatabasesRequest,
	) (database.ListAutonomousDatabasesResponse, error)
	GetAutonomousDatabase(
		ctx context.Context, req database.GetAutonomousDatabaseRequest,
	) (database.GetAutonomousDatabaseResponse, error)
	ListAutonomousDatabaseBackups(
		ctx context.Context, req database.ListAutonomousDatabaseBackupsRequest,
	) (database.ListAutonomousDatabaseBackupsResponse, error)
	ListDbSystems(ctx context.Context, req database.ListDbSystemsRequest) (database.ListDbSystemsResponse, error)
	GetDatabase(ctx context.Context, req database.GetDatabaseRequest) (database.GetDatabaseResponse, error)
	ListBackups(ctx context.Context, req database.ListBackupsRequest) (database.ListBackupsResponse, error)
	ListDbHomes(ctx context.Context, req database.ListDbHomesRequest) (database.ListDbHomesResponse, error)
	ListDatabases(ctx context.Context, req database.ListDatabasesRequest) (database.ListDatabasesResponse, error)
}

// ComputeAPI is the subset of the compute client used by the mirror
type ComputeAPI interface {
	ListInstances(ctx context.Context, req core.ListInstancesRequest) (core.ListInstancesResponse, error)
	GetInstance(ctx context.Context, req core.GetInstanceRequest) (core.GetInstanceResponse, error)
	ListVnicAttachments(ctx context.Context, req core.ListVnicAttachmentsRequest) (core.ListVnicAttachmentsResponse, error)
	ListVolumeAttachments(
		ctx context.Context, req core.ListVolumeAttachmentsRequest,
	) (core.ListVolumeAttachmentsResponse, error)
	ListBootVolumeAttachments(
		ctx context.Context, req core.ListBootVolumeAttachmentsRequest,
	) (core.ListBootVolumeAttachmentsResponse, error)
}

// VirtualNetworkAPI is the subset of the virtual network client used by the mirror
type VirtualNetworkAPI interface {
	GetVnic(ctx context.Context, req core.GetVnicRequest) (core.GetVnicResponse, error)
}

// BlockstorageAPI is the subset of the block storage client used by the mirror
type BlockstorageAPI interface {
	ListVolumes(ctx context.Context, req core.ListVolumesRequest) (core.ListVolumesResponse, error)
	ListBootVolumes(ctx context.Context, req core.ListBootVolumesRequest) (core.ListBootVolumesResponse, error)
	GetVolume(ctx context.Context, req core.GetVolumeRequest) (core.GetVolumeResponse, error)
	GetBootVolume(ctx context.Context, req core.GetBootVolumeRequest) (core.GetBootVolumeResponse, error)
	ListVolumeBackups(ctx context.Context, req core.ListVolumeBackupsRequest) (core.ListVolumeBackupsResponse, error)
	ListBootVolumeBackups(
		ctx context.Context, req core.ListBootVolumeBackupsRequest,
	) (core.ListBootVolumeBackupsResponse, error)
}

// LoadBalancerAPI is the subset of the load balancer client used by the mirror
type LoadBalancerAPI interface {
	ListLoadBalancers(
		ctx context.Context, req loadbalancer.ListLoadBalancersRequest,
	) (loadbalancer.ListLoadBalancersResponse, error)
}

// FileStorageAPI is the subset of the file storage client used by the mirror
type FileStorageAPI interface {
	ListFileSystems(ctx context.Context, req filestorage.ListFileSystemsRequest) (filestorage.ListFileSystemsResponse, error)
	ListSnapshots(ctx context.Context, req filestorage.ListSnapshotsRequest) (filestorage.ListSnapshotsResponse, error)
	ListMountTargets(
		ctx context.Context, req filestorage.ListMountTargetsRequest,
	) (filestorage.ListMountTargetsResponse, error)
	ListExports(ctx context.Context, req filestorage.ListExportsRequest) (filestorage.ListExportsResponse, error)
}

// UsageAPI is the subset of the usage client used by the mirror
type UsageAPI interface {
	RequestSummarizedUsages(
		ctx context.Context, req usageapi.RequestSummarizedUsagesRequest,
	) (usageapi.RequestSummarizedUsagesResponse, error)
}

// API hands out region-bound service clients
type API interface {
	Identity(region string) (IdentityAPI, error)
	Database(region string) (DatabaseAPI, error)
	Compute(region string) (ComputeAPI, error)
	VirtualNetwork(region string) (VirtualNetworkAPI, error)
	Blockstorage(region string) (BlockstorageAPI, error)
	LoadBalancer(region string) (LoadBalancerAPI, error)
	FileStorage(region string) (FileStorageAPI, error)
	Usage(region string) (UsageAPI, error)
}

// Clients builds SDK clients lazily and caches one per service and region
type Clients struct {
	provider common.ConfigurationProvider

	mu    gosync.Mutex
	cache map[clientKey]any
}

type clientKey struct {
	service string
	region  string
}

var _ API = (*Clients)(nil)

// NewClients resolves the configured credentials. No client is created until
// a service is requested.
func NewClients(ctx context.Context, cfg *config.UpstreamConfig) (*Clients, error) {
	provider, err := newConfigurationProvider(cfg)
	if err != nil {
		return nil, err
	}

	if tenancy, err := provider.TenancyOCID(); err == nil {
		slog.DebugContext(ctx, "OCI credentials resolved", "auth", cfg.GetAuth(), "tenancy", tenancy)
	}

	return &Clients{
		provider: provider,
		cache:    make(map[clientKey]any),
	}, nil
}

func newConfigurationProvider(cfg *config.UpstreamConfig) (common.ConfigurationProvider, error) {
	switch cfg.GetAuth() {
	case config.AuthInstancePrincipal:
		provider, err := auth.InstancePrincipalConfigurationProvider()
		if err != nil {
			return nil, fmt.Errorf("failed to create instance principal provider: %w", err)
		}
		return provider, nil
	case config.AuthConfigFile:
		profile := "DEFAULT"
		var path string
		if cfg != nil {
			path = cfg.ConfigFile
			if cfg.Profile != "" {
				profile = cfg.Profile
			}
		}
		provider := common.CustomProfileConfigProvider(path, profile)
		if ok, err := common.IsConfigurationProviderValid(provider); !ok {
			return nil, fmt.Errorf("invalid OCI config profile %s: %w", profile, err)
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unsupported upstream auth %q", cfg.GetAuth())
	}
}

// cached returns the client of service in region, building it on first use
func cached[T any](c *Clients, service, region string, build func(common.ConfigurationProvider) (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := clientKey{service: service, region: region}
	if existing, ok := c.cache[key]; ok {
		return existing.(T), nil
	}

	client, err := build(c.provider)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to create %s client for %s: %w", service, region, err)
	}
	c.cache[key] = client
	return client, nil
}

// Identity returns the identity client of region
func (c *Clients) Identity(region string) (IdentityAPI, error) {
	return cached(c, "identity", region, func(p common.ConfigurationProvider) (IdentityAPI, error) {
		client, err := identity.NewIdentityClientWithConfigurationProvider(p)
		if err != nil {
			return nil, err
		}
		client.SetRegion(region)
		return &client, nil
	})
}

// Database returns the database client of region
func (c *Clients) Database(region string) (DatabaseAPI, error) {
	return cached(c, "database", region, func(p common.ConfigurationProvider) (DatabaseAPI, error) {
		client, err := database.NewDatabaseClientWithConfigurationProvider(p)
		if err != nil {
			return nil, err
		}
		client.SetRegion(region)
		return &client, nil
	})
}

// Compute returns the compute client of region
func (c *Clients) Compute(region string) (ComputeAPI, error) {
	return cached(c, "compute", region, func(p common.ConfigurationProvider) (ComputeAPI, error) {
		client, err := core.NewComputeClientWithConfigurationProvider(p)
		if err != nil {
			return nil, err
		}
		client.SetRegion(region)
		return &client, nil
	})
}

// VirtualNetwork returns the virtual network client of region
func (c *Clients) VirtualNetwork(region string) (VirtualNetworkAPI, error) {
	return cached(c, "virtualnetwork", region, func(p common.ConfigurationProvider) (VirtualNetworkAPI, error) {
		client, err := core.NewVirtualNetworkClientWithConfigurationProvider(p)
		if err != nil {
			return nil, err
		}
		client.SetRegion(region)
		return &client, nil
	})
}

// Blockstorage returns the block storage client of region
func (c *Clients) Blockstorage(region string) (BlockstorageAPI, error) {
	return cached(c, "blockstorage", region, func(p common.ConfigurationProvider) (BlockstorageAPI, error) {
		client, err := core.NewBlockstorageClientWithConfigurationProvider(p)
		if err != nil {
			return nil, err
		}
		client.SetRegion(region)
		return &client, nil
	})
}

// LoadBalancer returns the load balancer client of region
func (c *Clients) LoadBalancer(region string) (LoadBalancerAPI, error) {
	return cached(c, "loadbalancer", region, func(p common.ConfigurationProvider) (LoadBalancerAPI, error) {
		client, err := loadbalancer.NewLoadBalancerClientWithConfigurationProvider(p)
		if err != nil {
			return nil, err
		}
		client.SetRegion(region)
		return &client, nil
	})
}

// FileStorage returns the file storage client of region
func (c *Clients) FileStorage(region string) (FileStorageAPI, error) {
	return cached(c, "filestorage", region, func(p common.ConfigurationProvider) (FileStorageAPI, error) {
		client, err := filestorage.NewFileStorageClientWithConfigurationProvider(p)
		if err != nil {
			return nil, err
		}
		client.SetRegion(region)
		return &client, nil
	})
}

// Usage returns the usage client of region
func (c *Clients) Usage(region string) (UsageAPI, error) {
	return cached(c, "usageapi", region, func(p common.ConfigurationProvider) (UsageAPI, error) {
		client, err := usageapi.NewUsageapiClientWithConfigurationProvider(p)
		if err != nil {
			return nil, err
		}
		client.SetRegion(region)
		return &client, nil
	})
}

// NewLimiter returns the request pacer shared by every source
func NewLimiter(cfg *config.UpstreamConfig) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(cfg.GetRequestsPerSecond()), cfg.GetBurst())
}
