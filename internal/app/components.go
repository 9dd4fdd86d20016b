package app

import (
	"github.com/stacklok/inventory-mirror/internal/mirror"
	"github.com/stacklok/inventory-mirror/internal/resource"
	pkgsync "github.com/stacklok/inventory-mirror/internal/sync"
	"github.com/stacklok/inventory-mirror/internal/sync/coordinator"
	"github.com/stacklok/inventory-mirror/internal/sync/state"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Runner performs synchronization runs
	Runner *pkgsync.Runner

	// SyncCoordinator schedules runs in the background
	SyncCoordinator coordinator.Coordinator

	// Store holds the mirror tables
	Store mirror.Store

	// History keeps the reports of past runs
	History state.RunHistory

	// Kinds lists the resource kinds reconciled by Runner
	Kinds []resource.Kind
}
