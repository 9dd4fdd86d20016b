// Package state keeps the history of synchronization runs.
package state

import (
	"context"

	"github.com/stacklok/inventory-mirror/internal/status"
)

const (
	// DefaultListLimit is the number of runs returned when no limit is requested
	DefaultListLimit = 20

	// MaxListLimit caps the number of runs returned by List
	MaxListLimit = 200
)

// RunHistory records finished runs and serves them back for inspection.
//
//go:generate mockgen -destination=mocks/mock_run_history.go -package=mocks -source=service.go RunHistory
type RunHistory interface {
	// Record stores a finished run. Recording the same run id again replaces it.
	Record(ctx context.Context, report *status.RunReport) error
	// Latest returns the most recently started run of the tenancy.
	// Returns status.ErrNoReport when no run has been recorded yet.
	Latest(ctx context.Context, tenancyID string) (*status.RunReport, error)
	// List returns up to limit runs, newest first. An empty tenancyID lists
	// runs of every tenancy.
	List(ctx context.Context, tenancyID string, limit int) ([]*status.RunReport, error)
}

// normalizeLimit clamps a requested list size to (0, MaxListLimit]
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
