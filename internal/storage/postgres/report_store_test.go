package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/swarm/internal/report"
	"github.com/nexus-trading/swarm/internal/runner"
)

func testReport(id string, started time.Time) *report.Report {
	r := report.New(id, "Orca", 2, started)
	r.Finish([]runner.Outcome{
		{
			Account: "Abcd..wxyz", Address: "AbcdWxyz", Venue: "Orca",
			Status: runner.StateSuccess, Target: 2, Successful: 2, Attempts: 3,
			TxRefs: []string{"sig1", "sig2"}, StartedAt: started, FinishedAt: started.Add(time.Minute),
		},
		{
			Account: "Efgh..stuv", Address: "EfghStuv", Venue: "Orca",
			Status: runner.StateSkipped, Reason: "admission timeout",
			StartedAt: started, FinishedAt: started,
		},
	}, started.Add(2*time.Minute))
	return r
}

func TestReportStore_SaveAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewReportStore(pool)
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, testReport("run-1", started)))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "Orca", got.Venue)
	assert.Equal(t, 2, got.Concurrency)
	assert.Equal(t, report.Summary{Total: 2, Success: 1, Skipped: 1, Actions: 2}, got.Summary)
	require.Len(t, got.Outcomes, 2)
	assert.Equal(t, []string{"sig1", "sig2"}, got.Outcomes[0].TxRefs)
	assert.Equal(t, runner.StateSkipped, got.Outcomes[1].Status)
	assert.Equal(t, "admission timeout", got.Outcomes[1].Reason)
	assert.True(t, got.StartedAt.Equal(started))
}

func TestReportStore_Duplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewReportStore(pool)
	r := testReport("run-dup", time.Now().UTC())

	require.NoError(t, store.Save(ctx, r))
	assert.ErrorIs(t, store.Save(ctx, r), ErrDuplicateRun)
}

func TestReportStore_NotFoundAndRecent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewReportStore(pool)

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, testReport("old", base)))
	require.NoError(t, store.Save(ctx, testReport("new", base.Add(time.Hour))))

	ids, err := store.Recent(ctx, "Orca", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, ids)
}
