package app

import (
	"context"
	"sync"
	"time"

	"github.com/stacklok/inventory-mirror/internal/config"
	"github.com/stacklok/inventory-mirror/internal/hierarchy"
	"github.com/stacklok/inventory-mirror/internal/resource"
	pkgsync "github.com/stacklok/inventory-mirror/internal/sync"
)

const (
	testTenancy = "ocid1.tenancy.oc1..acme"
	testRegion  = "ap-seoul-1"
)

var testKind = resource.Kind{Name: "widget", Table: "widget_inventory", Description: "test widgets"}

// stubLister serves a root with a single child compartment
type stubLister struct{}

func (stubLister) Root(context.Context) (hierarchy.Node, error) {
	return hierarchy.Node{ID: testTenancy, Name: "acme"}, nil
}

func (stubLister) ListNodes(context.Context, string) ([]hierarchy.Node, string, error) {
	return []hierarchy.Node{{ID: "compA", Name: "teamA", ParentID: testTenancy}}, "", nil
}

// stubSource emits ids into the region scope
type stubSource struct {
	mu  sync.Mutex
	ids []string
}

func (*stubSource) Kind() resource.Kind {
	return testKind
}

func (*stubSource) Scopes(_ context.Context, rc *pkgsync.RunContext) ([]resource.Scope, error) {
	return []resource.Scope{rc.RegionScope()}, nil
}

func (s *stubSource) Fetch(_ context.Context, _ *pkgsync.RunContext, _ resource.Scope, emit pkgsync.EmitFunc) error {
	s.mu.Lock()
	ids := append([]string(nil), s.ids...)
	s.mu.Unlock()

	for _, id := range ids {
		if err := emit(resource.Record{ID: id, CompartmentID: "compA", DisplayName: id}); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubSource) setIDs(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = ids
}

// blockingCoordinator implements coordinator.Coordinator and runs until stopped
type blockingCoordinator struct {
	mu          sync.Mutex
	startCalled bool
	stopCalled  bool
	stop        chan struct{}
	once        sync.Once
}

func newBlockingCoordinator() *blockingCoordinator {
	return &blockingCoordinator{stop: make(chan struct{})}
}

func (c *blockingCoordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	c.startCalled = true
	c.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-c.stop:
	}
	return nil
}

func (c *blockingCoordinator) Stop() error {
	c.mu.Lock()
	c.stopCalled = true
	c.mu.Unlock()
	c.once.Do(func() { close(c.stop) })
	return nil
}

func (c *blockingCoordinator) wasStartCalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startCalled
}

func (c *blockingCoordinator) wasStopCalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopCalled
}

// testConfig returns a memory-backed configuration writing status files under dir
func testConfig(dir string) *config.Config {
	return &config.Config{
		TenancyID: testTenancy,
		Regions:   []string{testRegion},
		Sync:      &config.SyncConfig{Interval: "1h", Kinds: []config.KindConfig{{Name: "instance"}}},
		Mirror:    &config.MirrorConfig{Driver: config.DriverMemory},
		History:   &config.HistoryConfig{StatusDir: dir},
	}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
