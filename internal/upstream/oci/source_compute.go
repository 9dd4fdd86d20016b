package oci

import (
	"context"
	"log/slog"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/core"
	"github.com/oracle/oci-go-sdk/v65/loadbalancer"

	"github.com/stacklok/inventory-mirror/internal/resource"
	pkgsync "github.com/stacklok/inventory-mirror/internal/sync"
)

const (
	volumeTypeBlock = "block"
	volumeTypeBoot  = "boot"
)

type instanceSource struct {
	base
}

func (s *instanceSource) Fetch(ctx context.Context, rc *pkgsync.RunContext, _ resource.Scope, emit pkgsync.EmitFunc) error {
	client, err := s.catalog.api.Compute(rc.Region)
	if err != nil {
		return err
	}
	vnet, err := s.catalog.api.VirtualNetwork(rc.Region)
	if err != nil {
		return err
	}

	return s.forEachCompartment(ctx, rc, func(compartmentID string) error {
		items, err := listPages(ctx, rc, s.catalog.limiter, "ListInstances",
			func(ctx context.Context, page *string) (core.ListInstancesResponse, error) {
				return client.ListInstances(ctx, core.ListInstancesRequest{
					CompartmentId: common.String(compartmentID),
					Page:          page,
				})
			},
			func(r core.ListInstancesResponse) ([]core.Instance, *string) {
				return r.Items, r.OpcNextPage
			})
		if err != nil {
			return err
		}

		for _, inst := range items {
			var ocpus, memory any
			if inst.ShapeConfig != nil {
				ocpus = resource.OptFloat32(inst.ShapeConfig.Ocpus)
				memory = resource.OptFloat32(inst.ShapeConfig.MemoryInGBs)
			}
			nic, err := s.primaryVnic(ctx, rc, client, vnet, inst)
			if err != nil {
				return err
			}
			rec := resource.Record{
				ID:             resource.Deref(inst.Id),
				CompartmentID:  resource.Deref(inst.CompartmentId),
				DisplayName:    resource.Deref(inst.DisplayName),
				LifecycleState: string(inst.LifecycleState),
				TimeCreated:    sdkTime(inst.TimeCreated),
				Attributes: resource.Attributes{
					"shape":               resource.OptString(inst.Shape),
					"ocpus":               ocpus,
					"memory_gb":           memory,
					"availability_domain": resource.OptString(inst.AvailabilityDomain),
					"fault_domain":        resource.OptString(inst.FaultDomain),
					"primary_vnic_id":     nic.id,
					"private_ips":         nic.privateIPs,
					"public_ips":          nic.publicIPs,
				},
			}
			if err := emit(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// vnicAddresses holds the primary VNIC columns of an instance, nil when unknown
type vnicAddresses struct {
	id         any
	privateIPs any
	publicIPs  any
}

// primaryVnic looks up the first attached VNIC of a live instance. Lookup
// failures leave the columns empty unless they must fail the scope.
func (s *instanceSource) primaryVnic(
	ctx context.Context, rc *pkgsync.RunContext, compute ComputeAPI, vnet VirtualNetworkAPI, inst core.Instance,
) (vnicAddresses, error) {
	switch inst.LifecycleState {
	case core.InstanceLifecycleStateTerminating, core.InstanceLifecycleStateTerminated:
		return vnicAddresses{}, nil
	}
	if inst.Id == nil || inst.CompartmentId == nil {
		return vnicAddresses{}, nil
	}

	attachments, err := listPages(ctx, rc, s.catalog.limiter, "ListVnicAttachments",
		func(ctx context.Context, page *string) (core.ListVnicAttachmentsResponse, error) {
			return compute.ListVnicAttachments(ctx, core.ListVnicAttachmentsRequest{
				CompartmentId: inst.CompartmentId,
				InstanceId:    inst.Id,
				Page:          page,
			})
		},
		func(r core.ListVnicAttachmentsResponse) ([]core.VnicAttachment, *string) {
			return r.Items, r.OpcNextPage
		})
	if err != nil {
		return s.skipVnic(ctx, inst, err)
	}

	var vnicID *string
	for _, att := range attachments {
		if att.LifecycleState == core.VnicAttachmentLifecycleStateAttached && att.VnicId != nil {
			vnicID = att.VnicId
			break
		}
	}
	if vnicID == nil {
		return vnicAddresses{}, nil
	}

	resp, err := getOne(ctx, rc, s.catalog.limiter, "GetVnic", func(ctx context.Context) (core.GetVnicResponse, error) {
		return vnet.GetVnic(ctx, core.GetVnicRequest{VnicId: vnicID})
	})
	if err != nil {
		return s.skipVnic(ctx, inst, err)
	}

	var private, public []string
	if resp.PrivateIp != nil {
		private = append(private, *resp.PrivateIp)
	}
	if resp.PublicIp != nil {
		public = append(public, *resp.PublicIp)
	}
	return vnicAddresses{id: *vnicID, privateIPs: optStrings(private), publicIPs: optStrings(public)}, nil
}

func (*instanceSource) skipVnic(ctx context.Context, inst core.Instance, err error) (vnicAddresses, error) {
	if lookupFailed(ctx, err) {
		return vnicAddresses{}, err
	}
	slog.WarnContext(ctx, "Failed to look up primary VNIC, leaving addresses empty",
		"instance_id", resource.Deref(inst.Id),
		"error", err)
	return vnicAddresses{}, nil
}

// volumeSource mirrors block volumes per compartment and boot volumes per
// compartment and availability domain into one table
type volumeSource struct {
	base
}

func (s *volumeSource) Fetch(ctx context.Context, rc *pkgsync.RunContext, _ resource.Scope, emit pkgsync.EmitFunc) error {
	client, err := s.catalog.api.Blockstorage(rc.Region)
	if err != nil {
		return err
	}
	ads, err := s.availabilityDomains(ctx, rc)
	if err != nil {
		return err
	}

	return s.forEachCompartment(ctx, rc, func(compartmentID string) error {
		volumes, err := listPages(ctx, rc, s.catalog.limiter, "ListVolumes",
			func(ctx context.Context, page *string) (core.ListVolumesResponse, error) {
				return client.ListVolumes(ctx, core.ListVolumesRequest{
					CompartmentId: common.String(compartmentID),
					Page:          page,
				})
			},
			func(r core.ListVolumesResponse) ([]core.Volume, *string) {
				return r.Items, r.OpcNextPage
			})
		if err != nil {
			return err
		}
		for _, v := range volumes {
			rec := volumeRecord(volumeTypeBlock, v.Id, v.CompartmentId, v.DisplayName, string(v.LifecycleState),
				v.TimeCreated, v.SizeInGBs, v.VpusPerGB, v.AvailabilityDomain)
			if err := emit(rec); err != nil {
				return err
			}
		}

		for _, ad := range ads {
			boots, err := listPages(ctx, rc, s.catalog.limiter, "ListBootVolumes",
				func(ctx context.Context, page *string) (core.ListBootVolumesResponse, error) {
					return client.ListBootVolumes(ctx, core.ListBootVolumesRequest{
						CompartmentId:      common.String(compartmentID),
						AvailabilityDomain: common.String(ad),
						Page:               page,
					})
				},
				func(r core.ListBootVolumesResponse) ([]core.BootVolume, *string) {
					return r.Items, r.OpcNextPage
				})
			if err != nil {
				return err
			}
			for _, v := range boots {
				rec := volumeRecord(volumeTypeBoot, v.Id, v.CompartmentId, v.DisplayName, string(v.LifecycleState),
					v.TimeCreated, v.SizeInGBs, v.VpusPerGB, v.AvailabilityDomain)
				if err := emit(rec); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func volumeRecord(
	volumeType string,
	id, compartmentID, displayName *string,
	state string,
	created *common.SDKTime,
	sizeGB, vpusPerGB *int64,
	ad *string,
) resource.Record {
	return resource.Record{
		ID:             resource.Deref(id),
		CompartmentID:  resource.Deref(compartmentID),
		DisplayName:    resource.Deref(displayName),
		LifecycleState: state,
		TimeCreated:    sdkTime(created),
		Attributes: resource.Attributes{
			"volume_type":         volumeType,
			"size_gb":             resource.OptInt64(sizeGB),
			"vpus_per_gb":         resource.OptInt64(vpusPerGB),
			"availability_domain": resource.OptString(ad),
		},
	}
}

type loadBalancerSource struct {
	base
}

func (s *loadBalancerSource) Fetch(
	ctx context.Context, rc *pkgsync.RunContext, _ resource.Scope, emit pkgsync.EmitFunc,
) error {
	client, err := s.catalog.api.LoadBalancer(rc.Region)
	if err != nil {
		return err
	}

	return s.forEachCompartment(ctx, rc, func(compartmentID string) error {
		items, err := listPages(ctx, rc, s.catalog.limiter, "ListLoadBalancers",
			func(ctx context.Context, page *string) (loadbalancer.ListLoadBalancersResponse, error) {
				return client.ListLoadBalancers(ctx, loadbalancer.ListLoadBalancersRequest{
					CompartmentId: common.String(compartmentID),
					Page:          page,
				})
			},
			func(r loadbalancer.ListLoadBalancersResponse) ([]loadbalancer.LoadBalancer, *string) {
				return r.Items, r.OpcNextPage
			})
		if err != nil {
			return err
		}

		for _, lb := range items {
			var ips, reserved []string
			for _, ip := range lb.IpAddresses {
				if ip.IpAddress != nil {
					ips = append(ips, *ip.IpAddress)
				}
				if ip.ReservedIp != nil && ip.ReservedIp.Id != nil {
					reserved = append(reserved, *ip.ReservedIp.Id)
				}
			}
			rec := resource.Record{
				ID:             resource.Deref(lb.Id),
				CompartmentID:  resource.Deref(lb.CompartmentId),
				DisplayName:    resource.Deref(lb.DisplayName),
				LifecycleState: string(lb.LifecycleState),
				TimeCreated:    sdkTime(lb.TimeCreated),
				Attributes: resource.Attributes{
					"shape":        resource.OptString(lb.ShapeName),
					"is_private":   resource.OptBool(lb.IsPrivate),
					"ip_addresses": optStrings(ips),
					"subnet_ids":   optStrings(lb.SubnetIds),
					"ip_mode":      resource.OptEnum(lb.IpMode),
					"reserved_ips": optStrings(reserved),
				},
			}
			if err := emit(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func optStrings(values []string) any {
	if len(values) == 0 {
		return nil
	}
	return values
}
