package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/inventory-mirror/internal/otel"
	"github.com/stacklok/inventory-mirror/internal/resource"
)

const pgCreateTable = `CREATE TABLE IF NOT EXISTS %s (
	tenancy_id        TEXT        NOT NULL,
	region            TEXT        NOT NULL,
	parent_id         TEXT        NOT NULL DEFAULT '',
	resource_id       TEXT        NOT NULL,
	compartment_id    TEXT        NOT NULL DEFAULT '',
	compartment_name  TEXT        NOT NULL DEFAULT '',
	compartment_path  TEXT,
	display_name      TEXT        NOT NULL DEFAULT '',
	lifecycle_state   TEXT        NOT NULL DEFAULT '',
	time_created      TIMESTAMPTZ,
	attributes        JSONB       NOT NULL DEFAULT '{}'::jsonb,
	last_refreshed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenancy_id, region, parent_id, resource_id)
)`

// postgresStore implements Store on a pgx connection pool
type postgresStore struct {
	pool        *pgxpool.Pool
	tablePrefix string
	tracer      trace.Tracer
}

// NewPostgresStore creates a Postgres-backed reconciliation store
func NewPostgresStore(pool *pgxpool.Pool, opts ...Option) (Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	o := applyOptions(opts)
	return &postgresStore{
		pool:        pool,
		tablePrefix: o.tablePrefix,
		tracer:      o.tracer,
	}, nil
}

// EnsureTable creates the mirror table and its indexes in a single transaction
func (s *postgresStore) EnsureTable(ctx context.Context, kind resource.Kind) (retErr error) {
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	table := pgx.Identifier{name}.Sanitize()
	if _, err := tx.Exec(ctx, fmt.Sprintf(pgCreateTable, table)); err != nil {
		return fmt.Errorf("failed to create mirror table %s: %w", name, err)
	}
	for _, col := range indexedColumns {
		index := pgx.Identifier{name + "_" + col + "_idx"}.Sanitize()
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", index, table, col)
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index on %s.%s: %w", name, col, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.DebugContext(ctx, "Mirror table ready", "table", name, "kind", kind.Name)
	return nil
}

// Upsert inserts rec or overwrites all business columns of the existing row
func (s *postgresStore) Upsert(ctx context.Context, kind resource.Kind, rec *resource.Record) (retErr error) {
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

	if _, err := s.pool.Exec(ctx, pgUpsertStatement(name), values...); err != nil {
		return fmt.Errorf("failed to upsert %s into %s: %w", rec.ID, name, err)
	}
	return nil
}

// Sweep deletes rows of scope that were not observed in this run
func (s *postgresStore) Sweep(
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

	table := pgx.Identifier{name}.Sanitize()
	scopeFilter := "tenancy_id = $1 AND region = $2 AND parent_id = $3"

	var tag pgconn.CommandTag
	if len(seen) == 0 {
		// Nothing observed: the scope is empty upstream, so it is emptied here too
		tag, err = s.pool.Exec(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s", table, scopeFilter),
			scope.TenancyID, scope.Region, scope.ParentID)
	} else {
		tag, err = s.pool.Exec(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s AND resource_id <> ALL($4::text[])", table, scopeFilter),
			scope.TenancyID, scope.Region, scope.ParentID, sortedIDs(seen))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to sweep %s for scope %s: %w", name, scope.String(), err)
	}

	return tag.RowsAffected(), nil
}

// ListIDs returns the mirrored ids of scope
func (s *postgresStore) ListIDs(ctx context.Context, kind resource.Kind, scope resource.Scope) ([]string, error) {
	name, err := tableName(s.tablePrefix, kind)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT resource_id FROM %s
			WHERE tenancy_id = $1 AND region = $2 AND parent_id = $3
			ORDER BY resource_id`, pgx.Identifier{name}.Sanitize()),
		scope.TenancyID, scope.Region, scope.ParentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ids of %s: %w", name, err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read ids of %s: %w", name, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Ping checks the pool can reach the database
func (s *postgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func pgUpsertStatement(table string) string {
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col == "attributes" {
			// sent as JSON text, cast on the server
			placeholders[i] += "::jsonb"
		}
	}

	updates := make([]string, 0, len(columns))
	for _, col := range columns {
		if isKeyColumn(col) {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(keyColumns, ", "),
		strings.Join(updates, ", "),
	)
}

func isKeyColumn(col string) bool {
	for _, k := range keyColumns {
		if k == col {
			return true
		}
	}
	return false
}
