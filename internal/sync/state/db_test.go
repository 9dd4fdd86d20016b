package state

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/inventory-mirror/database"
	"github.com/stacklok/inventory-mirror/internal/status"
)

func TestDBRunHistory(t *testing.T) {
	t.Parallel()

	pool, _, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	history := NewDBRunHistory(pool)

	t.Run("latest without runs", func(t *testing.T) {
		_, err := history.Latest(ctx, "nobody")
		require.ErrorIs(t, err, status.ErrNoReport)
	})

	first := testReport(uuid.NewString(), "acme", 0)
	second := testReport(uuid.NewString(), "acme", time.Hour)
	second.Scopes = second.Scopes[:1]
	other := testReport(uuid.NewString(), "globex", 2*time.Hour)
	other.DryRun = true

	for _, r := range []*status.RunReport{first, second, other} {
		require.NoError(t, history.Record(ctx, r))
	}

	t.Run("latest round trips the report", func(t *testing.T) {
		latest, err := history.Latest(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, second.RunID, latest.RunID)
		assert.Equal(t, second.StartedAt, latest.StartedAt)
		require.NotNil(t, latest.FinishedAt)
		assert.Equal(t, *second.FinishedAt, *latest.FinishedAt)
		assert.Equal(t, second.Scopes, latest.Scopes)
	})

	t.Run("list is newest first and keeps scope order", func(t *testing.T) {
		runs, err := history.List(ctx, "acme", 10)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, second.RunID, runs[0].RunID)
		assert.Equal(t, first.RunID, runs[1].RunID)
		assert.Equal(t, first.Scopes, runs[1].Scopes)
		assert.Equal(t, 1, runs[1].ScopesFailed())
	})

	t.Run("list across tenancies honours the limit", func(t *testing.T) {
		runs, err := history.List(ctx, "", 2)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, other.RunID, runs[0].RunID)
		assert.True(t, runs[0].DryRun)
	})

	t.Run("recording again replaces the run", func(t *testing.T) {
		updated := *first
		updated.Phase = status.SyncPhaseFailed
		updated.Message = "1 scope failed"
		updated.Scopes = nil
		require.NoError(t, history.Record(ctx, &updated))

		runs, err := history.List(ctx, "acme", 10)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, status.SyncPhaseFailed, runs[1].Phase)
		assert.Equal(t, "1 scope failed", runs[1].Message)
		assert.Empty(t, runs[1].Scopes)
	})

	t.Run("invalid run id", func(t *testing.T) {
		err := history.Record(ctx, testReport("not-a-uuid", "acme", 0))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid run id")
	})
}
