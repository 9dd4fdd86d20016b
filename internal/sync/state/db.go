package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/inventory-mirror/internal/resource"
	"github.com/stacklok/inventory-mirror/internal/status"
)

const upsertRunSQL = `
INSERT INTO sync_run (id, started_at, finished_at, phase, message, tenancy_id, dry_run, scopes_total, scopes_failed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    finished_at   = EXCLUDED.finished_at,
    phase         = EXCLUDED.phase,
    message       = EXCLUDED.message,
    scopes_total  = EXCLUDED.scopes_total,
    scopes_failed = EXCLUDED.scopes_failed`

const selectRunColumns = `id, started_at, finished_at, phase, message, tenancy_id, dry_run, scopes_total, scopes_failed`

var scopeResultColumns = []string{
	"run_id", "position", "kind", "tenancy_id", "region", "parent_id",
	"phase", "observed", "upserted", "deleted", "duration_ms", "error",
}

type dbRunHistory struct {
	pool *pgxpool.Pool
}

// NewDBRunHistory creates a run history stored in the sync_run tables
func NewDBRunHistory(pool *pgxpool.Pool) RunHistory {
	return &dbRunHistory{
		pool: pool,
	}
}

type runRow struct {
	ID           uuid.UUID  `db:"id"`
	StartedAt    time.Time  `db:"started_at"`
	FinishedAt   *time.Time `db:"finished_at"`
	Phase        string     `db:"phase"`
	Message      string     `db:"message"`
	TenancyID    string     `db:"tenancy_id"`
	DryRun       bool       `db:"dry_run"`
	ScopesTotal  int32      `db:"scopes_total"`
	ScopesFailed int32      `db:"scopes_failed"`
}

type scopeRow struct {
	RunID      uuid.UUID `db:"run_id"`
	Position   int32     `db:"position"`
	Kind       string    `db:"kind"`
	TenancyID  string    `db:"tenancy_id"`
	Region     string    `db:"region"`
	ParentID   string    `db:"parent_id"`
	Phase      string    `db:"phase"`
	Observed   int32     `db:"observed"`
	Upserted   int32     `db:"upserted"`
	Deleted    int64     `db:"deleted"`
	DurationMS int64     `db:"duration_ms"`
	Error      string    `db:"error"`
}

func (d *dbRunHistory) Record(ctx context.Context, report *status.RunReport) error {
	if report == nil {
		return fmt.Errorf("report is required")
	}
	runID, err := uuid.Parse(report.RunID)
	if err != nil {
		return fmt.Errorf("invalid run id %q: %w", report.RunID, err)
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	_, err = tx.Exec(ctx, upsertRunSQL,
		runID,
		report.StartedAt.UTC(),
		report.FinishedAt,
		string(report.Phase),
		report.Message,
		report.TenancyID,
		report.DryRun,
		len(report.Scopes),
		report.ScopesFailed(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", report.RunID, err)
	}

	// Scope results are replaced wholesale so that re-recording a run is idempotent
	if _, err := tx.Exec(ctx, `DELETE FROM sync_scope_result WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("failed to clear scope results of run %s: %w", report.RunID, err)
	}

	if len(report.Scopes) > 0 {
		rows := make([][]any, len(report.Scopes))
		for i, s := range report.Scopes {
			rows[i] = []any{
				runID,
				int32(i),
				s.Kind,
				s.Scope.TenancyID,
				s.Scope.Region,
				s.Scope.ParentID,
				string(s.Phase),
				int32(s.Observed),
				int32(s.Upserted),
				s.Deleted,
				s.DurationMS,
				s.Error,
			}
		}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"sync_scope_result"}, scopeResultColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to insert scope results of run %s: %w", report.RunID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", report.RunID, err)
	}
	return nil
}

func (d *dbRunHistory) Latest(ctx context.Context, tenancyID string) (*status.RunReport, error) {
	reports, err := d.list(ctx, tenancyID, 1)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, status.ErrNoReport
	}
	return reports[0], nil
}

func (d *dbRunHistory) List(ctx context.Context, tenancyID string, limit int) ([]*status.RunReport, error) {
	return d.list(ctx, tenancyID, normalizeLimit(limit))
}

func (d *dbRunHistory) list(ctx context.Context, tenancyID string, limit int) ([]*status.RunReport, error) {
	query := `SELECT ` + selectRunColumns + ` FROM sync_run
WHERE ($1 = '' OR tenancy_id = $1)
ORDER BY started_at DESC, id
LIMIT $2`

	rows, err := d.pool.Query(ctx, query, tenancyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, pgx.RowToStructByName[runRow])
	if err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}

	reports := make([]*status.RunReport, 0, len(runs))
	byID := make(map[uuid.UUID]*status.RunReport, len(runs))
	ids := make([]uuid.UUID, 0, len(runs))
	for _, r := range runs {
		report := runRowToReport(r)
		reports = append(reports, report)
		byID[r.ID] = report
		ids = append(ids, r.ID)
	}
	if len(ids) == 0 {
		return reports, nil
	}

	scopeRows, err := d.pool.Query(ctx, `SELECT `+strings.Join(scopeResultColumns, ", ")+` FROM sync_scope_result
WHERE run_id = ANY($1)
ORDER BY run_id, position`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query scope results: %w", err)
	}
	scopes, err := pgx.CollectRows(scopeRows, pgx.RowToStructByName[scopeRow])
	if err != nil {
		return nil, fmt.Errorf("failed to read scope results: %w", err)
	}

	for _, s := range scopes {
		report, ok := byID[s.RunID]
		if !ok {
			return nil, errors.New("scope result references an unknown run")
		}
		report.Scopes = append(report.Scopes, scopeRowToResult(s))
	}

	return reports, nil
}

func runRowToReport(r runRow) *status.RunReport {
	report := &status.RunReport{
		RunID:     r.ID.String(),
		TenancyID: r.TenancyID,
		DryRun:    r.DryRun,
		Phase:     status.SyncPhase(r.Phase),
		Message:   r.Message,
		StartedAt: r.StartedAt.UTC(),
		Scopes:    make([]status.ScopeResult, 0, r.ScopesTotal),
	}
	if r.FinishedAt != nil {
		finished := r.FinishedAt.UTC()
		report.FinishedAt = &finished
	}
	return report
}

func scopeRowToResult(s scopeRow) status.ScopeResult {
	return status.ScopeResult{
		Kind: s.Kind,
		Scope: resource.Scope{
			TenancyID: s.TenancyID,
			Region:    s.Region,
			ParentID:  s.ParentID,
		},
		Phase:      status.SyncPhase(s.Phase),
		Observed:   int(s.Observed),
		Upserted:   int(s.Upserted),
		Deleted:    s.Deleted,
		DurationMS: s.DurationMS,
		Error:      s.Error,
	}
}
