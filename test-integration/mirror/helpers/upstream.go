package helpers

import (
	"context"
	"fmt"
	"sync"

	"github.com/stacklok/inventory-mirror/internal/hierarchy"
	"github.com/stacklok/inventory-mirror/internal/resource"
	pkgsync "github.com/stacklok/inventory-mirror/internal/sync"
)

const (
	// TenancyID is the tenancy served by FakeUpstream
	TenancyID = "ocid1.tenancy.oc1..integration"
	// Region is the region used by the integration configs
	Region = "ap-seoul-1"
	// CompartmentID is the single child compartment of the tenancy
	CompartmentID = "ocid1.compartment.oc1..team"
)

// WidgetKind is the kind mirrored by FakeUpstream
var WidgetKind = resource.Kind{
	Name:        "widget",
	Table:       "widget_inventory",
	Description: "Integration test widgets",
}

// FakeUpstream serves a fixed compartment tree and a mutable set of widgets.
// It implements hierarchy.Lister and sync.Source.
type FakeUpstream struct {
	mu      sync.Mutex
	ids     []string
	failErr error
	fetches int
}

// NewFakeUpstream creates an upstream listing ids
func NewFakeUpstream(ids ...string) *FakeUpstream {
	return &FakeUpstream{ids: ids}
}

// SetIDs replaces the widgets returned by the next listing
func (u *FakeUpstream) SetIDs(ids ...string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ids = ids
}

// FailWith makes every following listing fail with err, nil restores it
func (u *FakeUpstream) FailWith(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failErr = err
}

// Fetches returns how many listings were served
func (u *FakeUpstream) Fetches() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.fetches
}

// Root implements hierarchy.Lister
func (*FakeUpstream) Root(context.Context) (hierarchy.Node, error) {
	return hierarchy.Node{ID: TenancyID, Name: "integration"}, nil
}

// ListNodes implements hierarchy.Lister
func (*FakeUpstream) ListNodes(context.Context, string) ([]hierarchy.Node, string, error) {
	return []hierarchy.Node{{ID: CompartmentID, Name: "team", ParentID: TenancyID}}, "", nil
}

// Kind implements sync.Source
func (*FakeUpstream) Kind() resource.Kind {
	return WidgetKind
}

// Scopes implements sync.Source
func (*FakeUpstream) Scopes(_ context.Context, rc *pkgsync.RunContext) ([]resource.Scope, error) {
	return []resource.Scope{rc.RegionScope()}, nil
}

// Fetch implements sync.Source
func (u *FakeUpstream) Fetch(
	_ context.Context, _ *pkgsync.RunContext, _ resource.Scope, emit pkgsync.EmitFunc,
) error {
	u.mu.Lock()
	u.fetches++
	ids := append([]string(nil), u.ids...)
	failErr := u.failErr
	u.mu.Unlock()

	if failErr != nil {
		return failErr
	}
	for _, id := range ids {
		rec := resource.Record{
			ID:             id,
			CompartmentID:  CompartmentID,
			DisplayName:    fmt.Sprintf("widget %s", id),
			LifecycleState: "AVAILABLE",
			Attributes:     map[string]any{"shape": "small"},
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
	return nil
}
