package status

import (
	"time"

	"github.com/stacklok/inventory-mirror/internal/resource"
)

// SyncPhase represents the phase of a run or of a single scope
type SyncPhase string

const (
	// SyncPhaseSyncing means sync is currently in progress
	SyncPhaseSyncing SyncPhase = "Syncing"

	// SyncPhaseComplete means sync completed successfully
	SyncPhaseComplete SyncPhase = "Complete"

	// SyncPhaseFailed means sync failed
	SyncPhaseFailed SyncPhase = "Failed"

	// SyncPhaseSkipped means the scope was not processed because the run was cancelled
	SyncPhaseSkipped SyncPhase = "Skipped"
)

// ScopeResult is the outcome of reconciling one scope of one kind
type ScopeResult struct {
	// Kind is the resource kind name
	Kind string `json:"kind" yaml:"kind"`

	// Scope identifies the reconciled partition
	Scope resource.Scope `json:"scope" yaml:"scope"`

	Phase SyncPhase `json:"phase" yaml:"phase"`

	// Observed is the number of records returned by upstream
	Observed int `json:"observed" yaml:"observed"`

	// Upserted is the number of records written, which can trail Observed on failure
	Upserted int `json:"upserted" yaml:"upserted"`

	// Deleted is the number of rows removed by the sweep
	Deleted int64 `json:"deleted" yaml:"deleted"`

	// DurationMS is the wall time spent on the scope in milliseconds
	DurationMS int64 `json:"durationMs" yaml:"durationMs"`

	// Error carries the failure message of a failed scope
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Failed reports whether the scope did not reconcile
func (r ScopeResult) Failed() bool {
	return r.Phase == SyncPhaseFailed
}

// RunReport summarizes a full synchronization run
type RunReport struct {
	RunID     string `json:"runId" yaml:"runId"`
	TenancyID string `json:"tenancyId" yaml:"tenancyId"`

	// DryRun is set when the run reconciled into memory only
	DryRun bool `json:"dryRun,omitempty" yaml:"dryRun,omitempty"`

	Phase SyncPhase `json:"phase" yaml:"phase"`

	// Message provides additional information about the run outcome
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	StartedAt  time.Time  `json:"startedAt" yaml:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty" yaml:"finishedAt,omitempty"`

	// Scopes lists per-scope results in processing order
	Scopes []ScopeResult `json:"scopes" yaml:"scopes"`
}

// ScopesFailed returns the number of failed scopes
func (r *RunReport) ScopesFailed() int {
	n := 0
	for _, s := range r.Scopes {
		if s.Failed() {
			n++
		}
	}
	return n
}

// Totals sums the counters of every scope
func (r *RunReport) Totals() (observed, upserted int, deleted int64) {
	for _, s := range r.Scopes {
		observed += s.Observed
		upserted += s.Upserted
		deleted += s.Deleted
	}
	return observed, upserted, deleted
}

// Duration returns how long the run took, or zero while it is still in progress
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
