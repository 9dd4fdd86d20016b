package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/inventory-mirror/internal/hierarchy"
	"github.com/stacklok/inventory-mirror/internal/lock"
	"github.com/stacklok/inventory-mirror/internal/mirror"
	"github.com/stacklok/inventory-mirror/internal/otel"
	"github.com/stacklok/inventory-mirror/internal/resource"
	"github.com/stacklok/inventory-mirror/internal/retry"
	"github.com/stacklok/inventory-mirror/internal/status"
	"github.com/stacklok/inventory-mirror/internal/sync/state"
	"github.com/stacklok/inventory-mirror/internal/telemetry"
)

var (
	// ErrScopesFailed is returned when at least one scope failed to reconcile
	ErrScopesFailed = errors.New("one or more scopes failed")

	// ErrRunInProgress is returned when another process holds the run lock of the tenancy
	ErrRunInProgress = errors.New("a run for this tenancy is already in progress")
)

// StoreError is a fatal mirror store failure. It aborts the run.
type StoreError struct {
	Op    string
	Kind  string
	Scope resource.Scope
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("mirror %s failed for %s in %s: %v", e.Op, e.Kind, e.Scope.String(), e.Err)
}

// Unwrap returns the driver error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// ScopeError is a collection failure confined to one scope. The scope is not
// swept and the run moves on to the next one.
type ScopeError struct {
	Kind  string
	Scope resource.Scope
	Err   error
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("%s in %s: %v", e.Kind, e.Scope.String(), e.Err)
}

// Unwrap returns the upstream error
func (e *ScopeError) Unwrap() error {
	return e.Err
}

// Runner executes synchronization runs
type Runner struct {
	store     mirror.Store
	hierarchy hierarchy.Lister
	tenancyID string
	regions   []string
	sources   []Source
	dryRun    bool

	policy      *retry.Policy
	metrics     *telemetry.SyncMetrics
	tracer      trace.Tracer
	history     state.RunHistory
	persistence status.ReportPersistence
	locker      lock.Locker
	now         func() time.Time
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithSources sets the sources to reconcile, in processing order
func WithSources(sources ...Source) RunnerOption {
	return func(r *Runner) {
		r.sources = append(r.sources, sources...)
	}
}

// WithRegions sets the regions to reconcile, in processing order
func WithRegions(regions ...string) RunnerOption {
	return func(r *Runner) {
		r.regions = append(r.regions, regions...)
	}
}

// WithRetryPolicy sets the policy handed to sources through the RunContext
func WithRetryPolicy(policy *retry.Policy) RunnerOption {
	return func(r *Runner) {
		r.policy = policy
	}
}

// WithMetrics enables run and scope metrics
func WithMetrics(metrics *telemetry.SyncMetrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = metrics
	}
}

// WithTracer enables run and scope spans
func WithTracer(tracer trace.Tracer) RunnerOption {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

// WithHistory records every finished run
func WithHistory(history state.RunHistory) RunnerOption {
	return func(r *Runner) {
		r.history = history
	}
}

// WithReportPersistence saves every finished run as the latest report of its tenancy
func WithReportPersistence(persistence status.ReportPersistence) RunnerOption {
	return func(r *Runner) {
		r.persistence = persistence
	}
}

// WithLocker wraps every run in a lock keyed by tenancy
func WithLocker(locker lock.Locker) RunnerOption {
	return func(r *Runner) {
		r.locker = locker
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// WithDryRun marks reports as dry runs
func WithDryRun(dryRun bool) RunnerOption {
	return func(r *Runner) {
		r.dryRun = dryRun
	}
}

// NewRunner creates a Runner reconciling tenancyID into store. lister
// provides the organizational hierarchy loaded at the start of every run.
func NewRunner(store mirror.Store, lister hierarchy.Lister, tenancyID string, opts ...RunnerOption) (*Runner, error) {
	if store == nil {
		return nil, fmt.Errorf("mirror store is required")
	}
	if lister == nil {
		return nil, fmt.Errorf("hierarchy lister is required")
	}
	if tenancyID == "" {
		return nil, fmt.Errorf("tenancy id is required")
	}

	r := &Runner{
		store:     store,
		hierarchy: lister,
		tenancyID: tenancyID,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	if len(r.regions) == 0 {
		return nil, fmt.Errorf("at least one region is required")
	}
	if len(r.sources) == 0 {
		return nil, fmt.Errorf("at least one source is required")
	}

	return r, nil
}

// Kinds returns the kinds reconciled by the runner, in processing order
func (r *Runner) Kinds() []resource.Kind {
	kinds := make([]resource.Kind, len(r.sources))
	for i, src := range r.sources {
		kinds[i] = src.Kind()
	}
	return kinds
}

// TenancyID returns the tenancy reconciled by the runner
func (r *Runner) TenancyID() string {
	return r.tenancyID
}

// Run performs one full synchronization pass.
//
// The report is returned whenever the run started, including when it failed.
// The error is ErrScopesFailed joined with one *ScopeError per failed scope
// when some scopes failed, a *StoreError when the store failed, and
// ErrRunInProgress when the run lock is held elsewhere.
func (r *Runner) Run(ctx context.Context) (*status.RunReport, error) {
	if r.locker == nil {
		return r.run(ctx)
	}

	lease, err := r.locker.Obtain(ctx, r.tenancyID)
	if errors.Is(err, lock.ErrNotObtained) {
		return nil, ErrRunInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain run lock: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			slog.WarnContext(ctx, "Failed to release run lock", "tenancy_id", r.tenancyID, "error", err)
		}
	}()

	return r.run(ctx)
}

func (r *Runner) run(ctx context.Context) (*status.RunReport, error) {
	startedAt := r.now().UTC().Truncate(time.Second)
	rc := NewRunContext(uuid.NewString(), startedAt, r.tenancyID, nil, r.policy)

	ctx, span := otel.StartSpan(ctx, r.tracer, "sync.Run",
		trace.WithAttributes(
			otel.AttrRunID.String(rc.RunID),
			otel.AttrTenancy.String(r.tenancyID),
		))
	defer span.End()

	report := &status.RunReport{
		RunID:     rc.RunID,
		TenancyID: r.tenancyID,
		DryRun:    r.dryRun,
		Phase:     status.SyncPhaseSyncing,
		StartedAt: startedAt,
		Scopes:    []status.ScopeResult{},
	}

	slog.InfoContext(ctx, "Starting synchronization run",
		"run_id", rc.RunID,
		"tenancy_id", r.tenancyID,
		"regions", r.regions,
		"kinds", len(r.sources),
		"dry_run", r.dryRun)

	h, err := hierarchy.Load(ctx, r.policy, r.hierarchy)
	if err != nil {
		err = fmt.Errorf("failed to load hierarchy: %w", err)
		otel.RecordError(span, err)
		r.finish(ctx, report, status.SyncPhaseFailed, err.Error())
		return report, err
	}
	rc.Hierarchy = h

	var scopeErrs []error
	if err := r.reconcile(ctx, rc, report, &scopeErrs); err != nil {
		otel.RecordError(span, err)
		r.finish(ctx, report, status.SyncPhaseFailed, err.Error())
		return report, err
	}

	if failed := report.ScopesFailed(); failed > 0 {
		summary := fmt.Errorf("%w: %d of %d", ErrScopesFailed, failed, len(report.Scopes))
		otel.RecordError(span, summary)
		r.finish(ctx, report, status.SyncPhaseFailed, summary.Error())
		return report, errors.Join(append([]error{summary}, scopeErrs...)...)
	}

	r.finish(ctx, report, status.SyncPhaseComplete, "")
	return report, nil
}

// reconcile walks every region and source. It returns a non-nil error only
// for failures that end the run early.
func (r *Runner) reconcile(ctx context.Context, rc *RunContext, report *status.RunReport, scopeErrs *[]error) error {
	ensured := make(map[string]bool, len(r.sources))

	for _, region := range r.regions {
		regionRC := rc.ForRegion(region)

		for _, src := range r.sources {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("run cancelled: %w", err)
			}

			kind := src.Kind()
			if !ensured[kind.Name] {
				if err := r.store.EnsureTable(ctx, kind); err != nil {
					return &StoreError{Op: "ensure table", Kind: kind.Name, Scope: regionRC.RegionScope(), Err: err}
				}
				ensured[kind.Name] = true
			}

			if err := r.reconcileKind(ctx, regionRC, src, report, scopeErrs); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runner) reconcileKind(
	ctx context.Context, rc *RunContext, src Source, report *status.RunReport, scopeErrs *[]error,
) error {
	kind := src.Kind()

	scopes, err := src.Scopes(ctx, rc)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to enumerate scopes",
			"kind", kind.Name,
			"region", rc.Region,
			"error", err)
		r.metrics.RecordScopeDuration(ctx, kind.Name, rc.Region, 0, false)
		report.Scopes = append(report.Scopes, status.ScopeResult{
			Kind:  kind.Name,
			Scope: rc.RegionScope(),
			Phase: status.SyncPhaseFailed,
			Error: fmt.Sprintf("failed to enumerate scopes: %v", err),
		})
		*scopeErrs = append(*scopeErrs, &ScopeError{
			Kind:  kind.Name,
			Scope: rc.RegionScope(),
			Err:   fmt.Errorf("failed to enumerate scopes: %w", err),
		})
		return nil
	}

	for i, scope := range scopes {
		if ctx.Err() != nil {
			for _, skipped := range scopes[i:] {
				report.Scopes = append(report.Scopes, status.ScopeResult{
					Kind:  kind.Name,
					Scope: skipped,
					Phase: status.SyncPhaseSkipped,
				})
			}
			return fmt.Errorf("run cancelled: %w", ctx.Err())
		}

		result, err := r.reconcileScope(ctx, rc, src, scope)
		report.Scopes = append(report.Scopes, result)
		var scopeErr *ScopeError
		switch {
		case errors.As(err, &scopeErr):
			*scopeErrs = append(*scopeErrs, scopeErr)
		case err != nil:
			return err
		}
	}
	return nil
}

// reconcileScope runs mark-and-sweep for one scope. A *ScopeError means
// collection failed and nothing was swept; any other error is a fatal
// *StoreError.
func (r *Runner) reconcileScope(
	ctx context.Context, rc *RunContext, src Source, scope resource.Scope,
) (result status.ScopeResult, retErr error) {
	kind := src.Kind()
	start := r.now()

	ctx, span := otel.StartSpan(ctx, r.tracer, "sync.Scope",
		trace.WithAttributes(
			otel.AttrKind.String(kind.Name),
			otel.AttrRegion.String(scope.Region),
			otel.AttrParent.String(scope.ParentID),
		))
	defer span.End()

	result = status.ScopeResult{
		Kind:  kind.Name,
		Scope: scope,
		Phase: status.SyncPhaseSyncing,
	}
	defer func() {
		elapsed := r.now().Sub(start)
		result.DurationMS = elapsed.Milliseconds()
		r.metrics.RecordScopeDuration(ctx, kind.Name, scope.Region, elapsed, !result.Failed() && retErr == nil)
		r.metrics.RecordObserved(ctx, kind.Name, scope.Region, result.Observed)
		span.SetAttributes(
			otel.AttrResultCount.Int(result.Observed),
			otel.AttrDeleted.Int64(result.Deleted),
			attribute.String("scope.phase", string(result.Phase)),
		)
	}()

	seen := rc.SeenSet(kind.Name, scope)
	var storeErr *StoreError

	emit := func(rec resource.Record) error {
		result.Observed++
		rec.Scope = scope
		rec.ObservedAt = rc.StartedAt
		if rc.Hierarchy != nil && rec.CompartmentID != "" {
			rec.CompartmentPath = rc.Hierarchy.PathFor(rec.CompartmentID)
			if name := rc.Hierarchy.NameFor(rec.CompartmentID); name != "" {
				rec.CompartmentName = name
			}
		}
		if err := rec.Validate(); err != nil {
			return err
		}
		if len(kind.Schema) > 0 {
			attrs, err := kind.Normalize(rec.Attributes)
			if err != nil {
				return fmt.Errorf("record %s: %w", rec.ID, err)
			}
			rec.Attributes = attrs
		}

		if err := r.store.Upsert(ctx, kind, &rec); err != nil {
			storeErr = &StoreError{Op: "upsert", Kind: kind.Name, Scope: scope, Err: err}
			return storeErr
		}
		seen[rec.ID] = struct{}{}
		result.Upserted++
		return nil
	}

	if err := src.Fetch(ctx, rc, scope, emit); err != nil {
		if storeErr != nil {
			result.Phase = status.SyncPhaseFailed
			result.Error = storeErr.Error()
			otel.RecordError(span, storeErr)
			return result, storeErr
		}

		result.Phase = status.SyncPhaseFailed
		result.Error = err.Error()
		otel.RecordError(span, err)
		slog.ErrorContext(ctx, "Scope collection failed, skipping sweep",
			"kind", kind.Name,
			"scope", scope.String(),
			"upserted", result.Upserted,
			"error", err)
		return result, &ScopeError{Kind: kind.Name, Scope: scope, Err: err}
	}
	if storeErr != nil {
		// The source swallowed the failed upsert; the seen-set is incomplete
		result.Phase = status.SyncPhaseFailed
		result.Error = storeErr.Error()
		otel.RecordError(span, storeErr)
		return result, storeErr
	}

	deleted, err := r.store.Sweep(ctx, kind, scope, seen)
	if err != nil {
		storeErr = &StoreError{Op: "sweep", Kind: kind.Name, Scope: scope, Err: err}
		result.Phase = status.SyncPhaseFailed
		result.Error = storeErr.Error()
		otel.RecordError(span, storeErr)
		return result, storeErr
	}
	result.Deleted = deleted
	result.Phase = status.SyncPhaseComplete
	r.metrics.RecordDeleted(ctx, kind.Name, scope.Region, deleted)

	if len(seen) == 0 && deleted > 0 {
		slog.WarnContext(ctx, "Upstream returned no items, every mirrored row of the scope was deleted",
			"kind", kind.Name,
			"scope", scope.String(),
			"deleted", deleted)
	}

	slog.InfoContext(ctx, "Scope reconciled",
		"kind", kind.Name,
		"scope", scope.String(),
		"observed", result.Observed,
		"upserted", result.Upserted,
		"deleted", deleted)

	return result, nil
}

// finish completes the report and runs the reporting hooks. Hook failures are
// logged and never change the outcome of the run.
func (r *Runner) finish(ctx context.Context, report *status.RunReport, phase status.SyncPhase, message string) {
	finishedAt := r.now().UTC()
	report.FinishedAt = &finishedAt
	report.Phase = phase
	report.Message = message

	hookCtx := context.WithoutCancel(ctx)
	r.metrics.RecordRunDuration(hookCtx, report.Duration(), phase == status.SyncPhaseComplete)

	if r.history != nil {
		if err := r.history.Record(hookCtx, report); err != nil {
			slog.WarnContext(ctx, "Failed to record run history", "run_id", report.RunID, "error", err)
		}
	}
	if r.persistence != nil {
		if err := r.persistence.SaveReport(hookCtx, report); err != nil {
			slog.WarnContext(ctx, "Failed to save latest run report", "run_id", report.RunID, "error", err)
		}
	}

	observed, upserted, deleted := report.Totals()
	slog.InfoContext(ctx, "Synchronization run finished",
		"run_id", report.RunID,
		"phase", report.Phase,
		"scopes", len(report.Scopes),
		"scopes_failed", report.ScopesFailed(),
		"observed", observed,
		"upserted", upserted,
		"deleted", deleted,
		"duration", report.Duration())
}
