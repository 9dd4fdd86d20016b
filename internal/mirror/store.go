// Package mirror implements the reconciliation store: the mark-and-sweep
// engine that keeps one mirror table per resource kind in line with upstream.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/stacklok/inventory-mirror/internal/resource"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

// ErrInvalidTableName is returned when a kind's table name cannot be used as an identifier
var ErrInvalidTableName = errors.New("invalid mirror table name")

// Store persists observed records and removes the ones no longer present upstream.
//
// Rows only ever move between absent and present: Upsert creates or fully
// replaces a row, Sweep removes it. There is no soft delete.
type Store interface {
	// EnsureTable creates the mirror table for kind if it does not exist yet
	EnsureTable(ctx context.Context, kind resource.Kind) error

	// Upsert writes rec keyed by (scope, id), overwriting every business column
	// and setting last_refreshed_at to rec.ObservedAt. Repeating the call with
	// the same record has no further effect.
	Upsert(ctx context.Context, kind resource.Kind, rec *resource.Record) error

	// Sweep deletes every row whose scope equals scope exactly and whose id is
	// not in seen. An empty seen-set deletes every row of the scope. It returns
	// the number of rows deleted.
	Sweep(ctx context.Context, kind resource.Kind, scope resource.Scope, seen map[string]struct{}) (int64, error)

	// ListIDs returns the ids currently mirrored for scope, in ascending order
	ListIDs(ctx context.Context, kind resource.Kind, scope resource.Scope) ([]string, error)

	// Ping verifies the backing storage is reachable
	Ping(ctx context.Context) error
}

// Columns of every mirror table, in insert order
var columns = []string{
	"tenancy_id",
	"region",
	"parent_id",
	"resource_id",
	"compartment_id",
	"compartment_name",
	"compartment_path",
	"display_name",
	"lifecycle_state",
	"time_created",
	"attributes",
	"last_refreshed_at",
}

// keyColumns form the primary key of every mirror table
var keyColumns = []string{"tenancy_id", "region", "parent_id", "resource_id"}

// indexedColumns get a secondary index
var indexedColumns = []string{"lifecycle_state", "compartment_path", "display_name", "parent_id"}

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func tableName(prefix string, kind resource.Kind) (string, error) {
	name := kind.TableName(prefix)
	if !tableNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	return name, nil
}

// rowValues returns the column values of rec in the order of columns
func rowValues(rec *resource.Record) ([]any, error) {
	attrs, err := encodeAttributes(rec.Attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attributes of %s: %w", rec.ID, err)
	}

	var timeCreated any
	if rec.TimeCreated != nil {
		timeCreated = rec.TimeCreated.UTC()
	}

	return []any{
		rec.Scope.TenancyID,
		rec.Scope.Region,
		rec.Scope.ParentID,
		rec.ID,
		rec.CompartmentID,
		rec.CompartmentName,
		nilIfEmpty(rec.CompartmentPath),
		rec.DisplayName,
		rec.LifecycleState,
		timeCreated,
		attrs,
		rec.ObservedAt.UTC(),
	}, nil
}

func encodeAttributes(attrs resource.Attributes) (string, error) {
	if attrs == nil {
		return "{}", nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// sortedIDs returns the members of seen in ascending order
func sortedIDs(seen map[string]struct{}) []string {
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
