package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/inventory-mirror/internal/otel"
	"github.com/stacklok/inventory-mirror/internal/resource"
)

// Key columns are sized so the composite primary key fits InnoDB's 3072 byte limit under utf8mb4.
const mysqlCreateTable = "CREATE TABLE IF NOT EXISTS `%[1]s` (" +
	"tenancy_id VARCHAR(128) NOT NULL, " +
	"region VARCHAR(64) NOT NULL, " +
	"parent_id VARCHAR(191) NOT NULL DEFAULT '', " +
	"resource_id VARCHAR(191) NOT NULL, " +
	"compartment_id VARCHAR(255) NOT NULL DEFAULT '', " +
	"compartment_name VARCHAR(255) NOT NULL DEFAULT '', " +
	"compartment_path VARCHAR(512) NULL, " +
	"display_name VARCHAR(255) NOT NULL DEFAULT '', " +
	"lifecycle_state VARCHAR(64) NOT NULL DEFAULT '', " +
	"time_created DATETIME NULL, " +
	"attributes JSON NOT NULL, " +
	"last_refreshed_at DATETIME NOT NULL, " +
	"PRIMARY KEY (tenancy_id, region, parent_id, resource_id), " +
	"KEY `idx_%[1]s_lifecycle_state` (lifecycle_state), " +
	"KEY `idx_%[1]s_compartment_path` (compartment_path), " +
	"KEY `idx_%[1]s_display_name` (display_name), " +
	"KEY `idx_%[1]s_parent_id` (parent_id)" +
	") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"

// maxInlineIDs bounds the ids bound into a single statement. MySQL rejects
// prepared statements with more than 65535 placeholders.
const maxInlineIDs = 1000

// mysqlSeenTable stages the seen-set of sweeps too large for NOT IN
const mysqlSeenTable = "mirror_sweep_seen"

// mysqlStore implements Store on database/sql with the go-sql-driver/mysql driver
type mysqlStore struct {
	db          *sql.DB
	tablePrefix string
	tracer      trace.Tracer

	maxInlineIDs int
}

// NewMySQLStore creates a MySQL-backed reconciliation store.
// The connection must be opened with parseTime=true.
func NewMySQLStore(db *sql.DB, opts ...Option) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sql database is required")
	}
	o := applyOptions(opts)
	return &mysqlStore{
		db:           db,
		tablePrefix:  o.tablePrefix,
		tracer:       o.tracer,
		maxInlineIDs: maxInlineIDs,
	}, nil
}

// EnsureTable creates the mirror table with its indexes
func (s *mysqlStore) EnsureTable(ctx context.Context, kind resource.Kind) (retErr error) {
	name, err := tableName(s.tablePrefix, kind)
	if err != nil {
		return err
	}

	ctx, span := otel.StartSpan(ctx, s.tracer, "mirror.EnsureTable",
		trace.WithAttributes(otel.AttrKind.String(kind.Name), otel.AttrTable.String(name)))
	defer func() {
		otel.RecordError(span, retErr)
		span.End()
	}()

	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(mysqlCreateTable, name)); err != nil {
		return fmt.Errorf("failed to create mirror table %s: %w", name, err)
	}

	slog.DebugContext(ctx, "Mirror table ready", "table", name, "kind", kind.Name)
	return nil
}

// Upsert inserts rec or overwrites all business columns of the existing row
func (s *mysqlStore) Upsert(ctx context.Context, kind resource.Kind, rec *resource.Record) (retErr error) {
	if err := rec.Validate(); err != nil {
		return err
	}
	name, err := tableName(s.tablePrefix, kind)
	if err != nil {
		return err
	}

	ctx, span := otel.StartSpan(ctx, s.tracer, "mirror.Upsert",
		trace.WithAttributes(
			otel.AttrKind.String(kind.Name),
			otel.AttrTable.String(name),
			otel.AttrRegion.String(rec.Scope.Region),
			otel.AttrParent.String(rec.Scope.ParentID),
			otel.AttrResourceID.String(rec.ID),
		))
	defer func() {
		otel.RecordError(span, retErr)
		span.End()
	}()

	values, err := rowValues(rec)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, mysqlUpsertStatement(name), values...); err != nil {
		return fmt.Errorf("failed to upsert %s into %s: %w", rec.ID, name, err)
	}
	return nil
}

// Sweep deletes rows of scope that were not observed in this run
func (s *mysqlStore) Sweep(
	ctx context.Context,
	kind resource.Kind,
	scope resource.Scope,
	seen map[string]struct{},
) (deleted int64, retErr error) {
	name, err := tableName(s.tablePrefix, kind)
	if err != nil {
		return 0, err
	}

	ctx, span := otel.StartSpan(ctx, s.tracer, "mirror.Sweep",
		trace.WithAttributes(
			otel.AttrKind.String(kind.Name),
			otel.AttrTable.String(name),
			otel.AttrTenancy.String(scope.TenancyID),
			otel.AttrRegion.String(scope.Region),
			otel.AttrParent.String(scope.ParentID),
			otel.AttrResultCount.Int(len(seen)),
		))
	defer func() {
		span.SetAttributes(otel.AttrDeleted.Int64(deleted))
		otel.RecordError(span, retErr)
		span.End()
	}()

	if len(seen) > s.maxInlineIDs {
		return s.sweepStaged(ctx, name, scope, sortedIDs(seen))
	}

	query := fmt.Sprintf("DELETE FROM `%s` WHERE tenancy_id = ? AND region = ? AND parent_id = ?", name)
	args := []any{scope.TenancyID, scope.Region, scope.ParentID}

	if len(seen) > 0 {
		ids := sortedIDs(seen)
		query += " AND resource_id NOT IN (" + placeholders("?", len(ids)) + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep %s for scope %s: %w", name, scope.String(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read swept row count of %s: %w", name, err)
	}
	return affected, nil
}

// sweepStaged loads ids into a session temporary table in batches and deletes
// the unseen rows of scope with an anti-join. The transaction pins the
// connection that owns the temporary table.
func (s *mysqlStore) sweepStaged(ctx context.Context, name string, scope resource.Scope, ids []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin sweep of %s: %w", name, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// A temporary table left behind by an aborted sweep on this connection is reused
	stage := []string{
		"CREATE TEMPORARY TABLE IF NOT EXISTS `" + mysqlSeenTable + "` (" +
			"resource_id VARCHAR(191) NOT NULL PRIMARY KEY) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		"DELETE FROM `" + mysqlSeenTable + "`",
	}
	for _, stmt := range stage {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("failed to stage seen ids of %s: %w", name, err)
		}
	}

	for start := 0; start < len(ids); start += s.maxInlineIDs {
		batch := ids[start:min(start+s.maxInlineIDs, len(ids))]
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		query := "INSERT IGNORE INTO `" + mysqlSeenTable + "` (resource_id) VALUES " + placeholders("(?)", len(batch))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("failed to stage seen ids of %s: %w", name, err)
		}
	}

	result, err := tx.ExecContext(ctx, fmt.Sprintf(
		"DELETE t FROM `%s` AS t LEFT JOIN `%s` AS s ON s.resource_id = t.resource_id "+
			"WHERE t.tenancy_id = ? AND t.region = ? AND t.parent_id = ? AND s.resource_id IS NULL",
		name, mysqlSeenTable), scope.TenancyID, scope.Region, scope.ParentID)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep %s for scope %s: %w", name, scope.String(), err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read swept row count of %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, "DROP TEMPORARY TABLE `"+mysqlSeenTable+"`"); err != nil {
		return 0, fmt.Errorf("failed to drop staged ids of %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sweep of %s: %w", name, err)
	}
	return affected, nil
}

// ListIDs returns the mirrored ids of scope
func (s *mysqlStore) ListIDs(ctx context.Context, kind resource.Kind, scope resource.Scope) ([]string, error) {
	name, err := tableName(s.tablePrefix, kind)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT resource_id FROM `%s` WHERE tenancy_id = ? AND region = ? AND parent_id = ? ORDER BY resource_id", name),
		scope.TenancyID, scope.Region, scope.ParentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ids of %s: %w", name, err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to read ids of %s: %w", name, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ids of %s: %w", name, err)
	}
	return ids, nil
}

// Ping checks the database is reachable
func (s *mysqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func mysqlUpsertStatement(table string) string {
	updates := make([]string, 0, len(columns))
	for _, col := range columns {
		if isKeyColumn(col) {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", col, col))
	}

	return fmt.Sprintf(
		"INSERT INTO `%s` (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		table,
		strings.Join(columns, ", "),
		placeholders("?", len(columns)),
		strings.Join(updates, ", "),
	)
}

// placeholders joins n copies of p with commas
func placeholders(p string, n int) string {
	return strings.TrimSuffix(strings.Repeat(p+", ", n), ", ")
}
