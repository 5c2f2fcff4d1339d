package store

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ag-res/reconcile/internal/diagnostics"
	"github.com/ag-res/reconcile/internal/distribute"
	"github.com/ag-res/reconcile/internal/materialize"
	"github.com/ag-res/reconcile/internal/reconcile"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTables() diagnostics.Tables {
	return diagnostics.Tables{
		RowDeltas: []diagnostics.RowDelta{
			{Region: "R1", Label: "A", Before: 100, After: 0},
			{Region: "R1", Label: "B", Before: 0, After: 20, GroundTruth: 40},
		},
		ScaleFactors: []distribute.ScaleFactor{{Region: "R1", Label: "B", Corrected: 20, Factor: 1, Mode: distribute.ModeNew}},
		TopUp:        []reconcile.TopUpRow{{Unit: "1|North", Region: "R1", Label: "B", Before: 20, Target: 40, After: 25}},
		Assignments:  []materialize.LogEntry{{SubRegionName: "North", Label: "B", Code: 146, Required: 10, Existing: 2, NewlyAssigned: 8, TotalAssigned: 10, Value: 1.5}},
		Conservation: []diagnostics.Conservation{{Stage: diagnostics.StageReconcile, Region: "R1", Expected: 100, Actual: 80}},
	}
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	version, dirty, err := s.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Re-running is a no-op.
	assert.NoError(t, s.MigrateUp(Migrations()))
}

func TestMigrateDownAndUp(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.MigrateDown(Migrations()))
	version, _, err := s.MigrateVersion(Migrations())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	_, err = s.Exec(`SELECT COUNT(*) FROM top_up`)
	assert.Error(t, err, "audit tables dropped")

	require.NoError(t, s.MigrateUp(Migrations()))
	_, err = s.Exec(`SELECT COUNT(*) FROM top_up`)
	assert.NoError(t, err)
}

func TestMigrate_NilFS(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.MigrateUp(nil))
}

func TestMigrate_CustomFS(t *testing.T) {
	s, err := OpenNoMigrate(filepath.Join(t.TempDir(), "custom.db"))
	require.NoError(t, err)
	defer s.Close()

	migrations := fstest.MapFS{
		"000001_t.up.sql":   {Data: []byte(`CREATE TABLE t (id INTEGER);`)},
		"000001_t.down.sql": {Data: []byte(`DROP TABLE t;`)},
	}
	require.NoError(t, s.MigrateUp(migrations))
	require.NoError(t, s.MigrateForce(migrations, 1))
	version, dirty, err := s.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	id, err := s.StartRun(ctx, 2021, 1<<63+5, `{"seed":1}`)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, s.SaveTables(ctx, id, sampleTables()))
	stats := diagnostics.RunStats{SensedBefore: 180, SensedAfter: 80, GroundTruth: 100, Zeroed: 1, ToppedUp: 1, Shortfalls: 1}
	require.NoError(t, s.FinishRun(ctx, id, StatusComplete, stats, 0))

	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	r := runs[0]
	assert.Equal(t, id, r.ID)
	assert.Equal(t, 2021, r.Year)
	assert.Equal(t, uint64(1<<63+5), r.Seed)
	assert.Equal(t, StatusComplete, r.Status)
	assert.False(t, r.StartedAt.IsZero())
	assert.False(t, r.FinishedAt.IsZero())
	assert.Equal(t, 180.0, r.Stats.SensedBefore)
	assert.Equal(t, -20.0, r.Stats.DiffAfter)

	deltas, err := s.RegionDeltas(ctx, id)
	require.NoError(t, err)
	require.Len(t, deltas, 2)
	assert.Equal(t, -100.0, deltas[0].Delta)
	assert.Equal(t, -20.0, deltas[1].DiffAfter)

	for table, want := range map[string]int{"scale_factors": 1, "top_up": 1, "assignments": 1, "conservation": 1} {
		n, err := s.CountRows(ctx, table, id)
		require.NoError(t, err)
		assert.Equal(t, want, n, table)
	}
	_, err = s.CountRows(ctx, "runs; DROP TABLE runs", id)
	assert.Error(t, err)
}

func TestSaveTables_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id, err := s.StartRun(ctx, 2021, 1, "")
	require.NoError(t, err)

	tab := sampleTables()
	tab.RowDeltas = append(tab.RowDeltas, tab.RowDeltas[0]) // duplicate key
	assert.Error(t, s.SaveTables(ctx, id, tab))

	n, err := s.CountRows(ctx, "region_deltas", id)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSaveTables_UnknownRun(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.SaveTables(context.Background(), "missing", sampleTables()), "foreign key")
}

func TestFinishRun_Unknown(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.FinishRun(context.Background(), "missing", StatusFailed, diagnostics.RunStats{}, 0))
}
