package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/inventory-mirror/internal/resource"
)

var testKind = resource.Kind{
	Name:  "autonomous_database",
	Table: "test_adb_inventory",
	Schema: []resource.Field{
		{Name: "db_name", Type: resource.FieldString, Optional: true},
		{Name: "compute_count", Type: resource.FieldFloat, Optional: true},
	},
}

func testRecord(id string, scope resource.Scope, observedAt time.Time) *resource.Record {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &resource.Record{
		ID:              id,
		Scope:           scope,
		CompartmentID:   "ocid1.compartment.oc1..c1",
		CompartmentName: "teamA",
		CompartmentPath: "acme > teamA",
		DisplayName:     "db-" + id,
		LifecycleState:  "AVAILABLE",
		TimeCreated:     &created,
		Attributes:      resource.Attributes{"db_name": "DB" + id, "compute_count": 2.0},
		ObservedAt:      observedAt,
	}
}

func seenSet(ids ...string) map[string]struct{} {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return seen
}

// testStoreConformance exercises the mark-and-sweep contract against any Store.
// Each subtest works in its own scope so implementations sharing a table stay isolated.
func testStoreConformance(t *testing.T, store Store) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, store.EnsureTable(ctx, testKind))
	require.NoError(t, store.EnsureTable(ctx, testKind), "EnsureTable must be repeatable")

	run1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	run2 := run1.Add(time.Hour)

	t.Run("sweep removes ids not observed", func(t *testing.T) {
		scope := resource.Scope{TenancyID: "t1", Region: "ap-seoul-1"}

		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, store.Upsert(ctx, testKind, testRecord(id, scope, run1)))
		}
		deleted, err := store.Sweep(ctx, testKind, scope, seenSet("a", "b", "c"))
		require.NoError(t, err)
		assert.Zero(t, deleted)

		for _, id := range []string{"a", "c"} {
			require.NoError(t, store.Upsert(ctx, testKind, testRecord(id, scope, run2)))
		}
		deleted, err = store.Sweep(ctx, testKind, scope, seenSet("a", "c"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		ids, err := store.ListIDs(ctx, testKind, scope)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, ids)
	})

	t.Run("empty seen set wipes the scope", func(t *testing.T) {
		scope := resource.Scope{TenancyID: "t2", Region: "ap-seoul-1"}

		for _, id := range []string{"x", "y"} {
			require.NoError(t, store.Upsert(ctx, testKind, testRecord(id, scope, run1)))
		}
		deleted, err := store.Sweep(ctx, testKind, scope, seenSet())
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		ids, err := store.ListIDs(ctx, testKind, scope)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("sweep never crosses scopes", func(t *testing.T) {
		seoul := resource.Scope{TenancyID: "t3", Region: "ap-seoul-1"}
		tokyo := resource.Scope{TenancyID: "t3", Region: "ap-tokyo-1"}
		parentA := resource.Scope{TenancyID: "t3", Region: "ap-seoul-1", ParentID: "db-a"}

		require.NoError(t, store.Upsert(ctx, testKind, testRecord("shared", seoul, run1)))
		require.NoError(t, store.Upsert(ctx, testKind, testRecord("shared", tokyo, run1)))
		require.NoError(t, store.Upsert(ctx, testKind, testRecord("shared", parentA, run1)))

		deleted, err := store.Sweep(ctx, testKind, seoul, seenSet())
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		ids, err := store.ListIDs(ctx, testKind, tokyo)
		require.NoError(t, err)
		assert.Equal(t, []string{"shared"}, ids)

		ids, err = store.ListIDs(ctx, testKind, parentA)
		require.NoError(t, err)
		assert.Equal(t, []string{"shared"}, ids)
	})

	t.Run("upsert is idempotent and replaces business columns", func(t *testing.T) {
		scope := resource.Scope{TenancyID: "t4", Region: "ap-seoul-1"}

		rec := testRecord("a", scope, run1)
		require.NoError(t, store.Upsert(ctx, testKind, rec))
		require.NoError(t, store.Upsert(ctx, testKind, rec))

		updated := testRecord("a", scope, run2)
		updated.LifecycleState = "STOPPED"
		updated.CompartmentPath = ""
		require.NoError(t, store.Upsert(ctx, testKind, updated))

		ids, err := store.ListIDs(ctx, testKind, scope)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids)
	})

	t.Run("invalid record is rejected", func(t *testing.T) {
		rec := testRecord("", resource.Scope{TenancyID: "t5", Region: "r"}, run1)
		err := store.Upsert(ctx, testKind, rec)
		assert.ErrorIs(t, err, resource.ErrInvalidRecord)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}
