package sync

import (
	"context"
	"time"

	"github.com/stacklok/inventory-mirror/internal/hierarchy"
	"github.com/stacklok/inventory-mirror/internal/resource"
	"github.com/stacklok/inventory-mirror/internal/retry"
)

// EmitFunc hands one normalized record to the run. A non-nil error must be
// returned by Fetch unchanged.
type EmitFunc func(rec resource.Record) error

// Source lists one resource kind from upstream
type Source interface {
	// Kind describes the records produced by the source
	Kind() resource.Kind
	// Scopes enumerates the reconciliation scopes of the region in rc
	Scopes(ctx context.Context, rc *RunContext) ([]resource.Scope, error)
	// Fetch collects every record of scope and passes each one to emit
	Fetch(ctx context.Context, rc *RunContext, scope resource.Scope, emit EmitFunc) error
}

// RunContext carries the per-run state shared by every scope. It is created by
// the Runner and handed to sources explicitly.
type RunContext struct {
	RunID     string
	StartedAt time.Time
	TenancyID string
	Region    string
	Hierarchy *hierarchy.Hierarchy
	Policy    *retry.Policy

	seen *seenSets
}

type seenKey struct {
	kind  string
	scope resource.Scope
}

type seenSets struct {
	sets map[seenKey]map[string]struct{}
}

// NewRunContext creates the context of one run
func NewRunContext(
	runID string, startedAt time.Time, tenancyID string, h *hierarchy.Hierarchy, policy *retry.Policy,
) *RunContext {
	return &RunContext{
		RunID:     runID,
		StartedAt: startedAt,
		TenancyID: tenancyID,
		Hierarchy: h,
		Policy:    policy,
		seen:      &seenSets{sets: make(map[seenKey]map[string]struct{})},
	}
}

// ForRegion returns a copy of rc bound to region. Seen-sets are shared.
func (rc *RunContext) ForRegion(region string) *RunContext {
	c := *rc
	c.Region = region
	return &c
}

// RegionScope returns the tenancy and region scope of rc
func (rc *RunContext) RegionScope() resource.Scope {
	return resource.Scope{TenancyID: rc.TenancyID, Region: rc.Region}
}

// ParentScope returns the scope of parentID within the region of rc
func (rc *RunContext) ParentScope(parentID string) resource.Scope {
	return resource.Scope{TenancyID: rc.TenancyID, Region: rc.Region, ParentID: parentID}
}

// SeenSet returns the seen-set of kind and scope, creating it on first use
func (rc *RunContext) SeenSet(kind string, scope resource.Scope) map[string]struct{} {
	key := seenKey{kind: kind, scope: scope}
	set, ok := rc.seen.sets[key]
	if !ok {
		set = make(map[string]struct{})
		rc.seen.sets[key] = set
	}
	return set
}
