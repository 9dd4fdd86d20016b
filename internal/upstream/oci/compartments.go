package oci

import (
	"context"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/identity"
	"golang.org/x/time/rate"

	"github.com/stacklok/inventory-mirror/internal/hierarchy"
)

// Compartments lists the compartment tree of a tenancy
type Compartments struct {
	client    IdentityAPI
	limiter   *rate.Limiter
	tenancyID string
}

var _ hierarchy.Lister = (*Compartments)(nil)

// NewCompartments creates a hierarchy lister over the identity client
func NewCompartments(client IdentityAPI, limiter *rate.Limiter, tenancyID string) *Compartments {
	return &Compartments{client: client, limiter: limiter, tenancyID: tenancyID}
}

// Root returns the tenancy itself
func (c *Compartments) Root(ctx context.Context) (hierarchy.Node, error) {
	resp, err := call(ctx, c.limiter, "GetTenancy", func(ctx context.Context) (identity.GetTenancyResponse, error) {
		return c.client.GetTenancy(ctx, identity.GetTenancyRequest{TenancyId: common.String(c.tenancyID)})
	})
	if err != nil {
		return hierarchy.Node{}, err
	}

	name := stringOr(resp.Name, c.tenancyID)
	return hierarchy.Node{ID: stringOr(resp.Id, c.tenancyID), Name: name}, nil
}

// ListNodes returns one page of the active compartments anywhere below the tenancy
func (c *Compartments) ListNodes(ctx context.Context, cursor string) ([]hierarchy.Node, string, error) {
	req := identity.ListCompartmentsRequest{
		CompartmentId:          common.String(c.tenancyID),
		CompartmentIdInSubtree: common.Bool(true),
		AccessLevel:            identity.ListCompartmentsAccessLevelAny,
		LifecycleState:         identity.CompartmentLifecycleStateActive,
		Page:                   pageToken(cursor),
	}
	resp, err := call(ctx, c.limiter, "ListCompartments",
		func(ctx context.Context) (identity.ListCompartmentsResponse, error) {
			return c.client.ListCompartments(ctx, req)
		})
	if err != nil {
		return nil, "", err
	}

	nodes := make([]hierarchy.Node, 0, len(resp.Items))
	for _, comp := range resp.Items {
		nodes = append(nodes, hierarchy.Node{
			ID:       stringOr(comp.Id, ""),
			Name:     stringOr(comp.Name, ""),
			ParentID: stringOr(comp.CompartmentId, ""),
		})
	}
	return nodes, stringOr(resp.OpcNextPage, ""), nil
}

func pageToken(cursor string) *string {
	if cursor == "" {
		return nil
	}
	return common.String(cursor)
}

func stringOr(p *string, fallback string) string {
	if p == nil || *p == "" {
		return fallback
	}
	return *p
}
