package diagnostics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ag-res/reconcile/internal/distribute"
	"github.com/ag-res/reconcile/internal/materialize"
	"github.com/ag-res/reconcile/internal/reconcile"
)

func scenario() (before, after []reconcile.Record, res reconcile.Result) {
	after = []reconcile.Record{
		{Region: "R1", Label: "A", SensedAcres: 100},
		{Region: "R1", Label: "B", GroundTruthAcres: 40},
		{Region: "R1", Label: "C", SensedAcres: 80, GroundTruthAcres: 60},
		{Region: "R2", Label: "A", SensedAcres: 5},
	}
	before = reconcile.Clone(after)
	res = reconcile.Reconcile(after, reconcile.DefaultOptions())
	return before, after, res
}

func TestRecordReconciliation(t *testing.T) {
	before, after, res := scenario()
	r := NewRecorder(0)
	r.RecordReconciliation(before, after, res)
	tab := r.Tables()

	require.Len(t, tab.RowDeltas, 4)
	b := tab.RowDeltas[1]
	assert.Equal(t, "B", b.Label)
	assert.InDelta(t, 20.0, b.Delta, 1e-9)
	assert.InDelta(t, -40.0, b.DiffBefore, 1e-9)
	assert.InDelta(t, -20.0, b.DiffAfter, 1e-9)

	require.Len(t, tab.Regions, 1, "R2 is skipped and unchanged")
	sum := tab.Regions[0]
	assert.Equal(t, "R1", sum.Region)
	assert.Equal(t, 3, sum.ChangedCategories)
	assert.InDelta(t, -100.0, sum.TotalDelta, 1e-9)
	assert.InDelta(t, 80.0/3, sum.MeanDiffBefore, 1e-9)
	assert.InDelta(t, -20.0/3, sum.MeanDiffAfter, 1e-9)

	require.Len(t, tab.Conservation, 1)
	c := tab.Conservation[0]
	assert.Equal(t, StageReconcile, c.Stage)
	assert.False(t, c.Within)
	assert.InDelta(t, -20.0, c.Deviation, 1e-9)
	assert.Len(t, tab.Deviations(), 1)

	st := tab.Stats
	assert.InDelta(t, 185.0, st.SensedBefore, 1e-9)
	assert.InDelta(t, 85.0, st.SensedAfter, 1e-9)
	assert.InDelta(t, 100.0, st.GroundTruth, 1e-9)
	assert.InDelta(t, 85.0, st.DiffBefore, 1e-9)
	assert.InDelta(t, -15.0, st.DiffAfter, 1e-9)
	assert.Equal(t, 1, st.Zeroed)
	assert.Equal(t, 1, st.Deficits)
	assert.Equal(t, 1, st.ToppedUp)
	assert.Equal(t, 1, st.Shortfalls)
}

func TestSummarize_SortsByChangedCategories(t *testing.T) {
	deltas := []RowDelta{
		{Region: "X", Label: "a", Delta: 1},
		{Region: "Y", Label: "a", Delta: 1},
		{Region: "Y", Label: "b", Delta: -1},
		{Region: "Z", Label: "a"},
	}
	got := summarize(deltas)
	require.Len(t, got, 2)
	assert.Equal(t, "Y", got[0].Region)
	assert.Equal(t, "X", got[1].Region)
}

func TestRecordDistribution_FlagsMismatch(t *testing.T) {
	res := distribute.Result{
		Rows: []distribute.SubRegionRecord{
			{SubRegionName: "N", Region: "R", Label: "Wheat", Acres: 30},
			{SubRegionName: "S", Region: "R", Label: "Wheat", Acres: 10},
			{SubRegionName: "N", Region: "R", Label: "Oats", Acres: 4},
		},
		Factors: []distribute.ScaleFactor{{Region: "R", Label: "Wheat", Factor: 2}},
	}
	corrected := []reconcile.Record{
		{Region: "R", Label: "Wheat", SensedAcres: 40},
		{Region: "R", Label: "Oats", SensedAcres: 5},
	}

	r := NewRecorder(1e-3)
	r.RecordDistribution(res, corrected)
	tab := r.Tables()

	assert.Len(t, tab.ScaleFactors, 1)
	require.Len(t, tab.Conservation, 2)
	assert.True(t, tab.Conservation[0].Within)
	dev := tab.Deviations()
	require.Len(t, dev, 1)
	assert.Equal(t, "Oats", dev[0].Label)
	assert.InDelta(t, -1.0, dev[0].Deviation, 1e-9)
}

func TestRecordTopUp_CopiesLedger(t *testing.T) {
	rows := []reconcile.TopUpRow{
		{Unit: "u", Label: "Wheat", Before: 5, Target: 8, After: 8, Taken: map[string]float64{"Other crops": 3}},
		{Unit: "u", Label: "Other crops", Before: 10, Target: 2, After: 7},
	}
	r := NewRecorder(0)
	r.RecordTopUp(rows)
	rows[0].Taken["Other crops"] = 99

	tab := r.Tables()
	require.Len(t, tab.TopUp, 2)
	assert.Equal(t, 3.0, tab.TopUp[0].Taken["Other crops"])
	assert.Empty(t, tab.Conservation)
}

func TestRecordAssignments(t *testing.T) {
	rep := materialize.Report{
		Processed: 2,
		Skipped:   []materialize.Skip{{SubRegion: "Far", Reason: "outside"}},
		Log: []materialize.LogEntry{
			{SubRegionName: "West", Required: 10, Existing: 4, NewlyAssigned: 6, TotalAssigned: 10},
			{SubRegionName: "West", Required: 5, Existing: 0, NewlyAssigned: 3, TotalAssigned: 3},
			// More matching pixels were preserved than required.
			{SubRegionName: "East", Required: 38, Existing: 40, NewlyAssigned: 0, TotalAssigned: 40},
		},
	}
	r := NewRecorder(0)
	r.RecordAssignments(rep)
	r.RecordUnmapped([]string{"Lost"})

	tab := r.Tables()
	st := tab.Stats
	if len(tab.Assignments) != 3 {
		t.Fatalf("got %d assignment rows, want 3", len(tab.Assignments))
	}
	if st.PixelsRequired != 53 {
		t.Errorf("PixelsRequired = %d, want 53", st.PixelsRequired)
	}
	if st.PixelsAssigned != 51 {
		t.Errorf("PixelsAssigned = %d, want 51 (preserved surplus is not counted)", st.PixelsAssigned)
	}
	if st.PixelsAssigned > st.PixelsRequired {
		t.Errorf("PixelsAssigned %d exceeds PixelsRequired %d", st.PixelsAssigned, st.PixelsRequired)
	}
	if st.PixelsUnderfill != 2 {
		t.Errorf("PixelsUnderfill = %d, want 2", st.PixelsUnderfill)
	}
	if st.PixelsRequired-st.PixelsAssigned != st.PixelsUnderfill {
		t.Errorf("required - assigned = %d, underfill = %d", st.PixelsRequired-st.PixelsAssigned, st.PixelsUnderfill)
	}
	if st.SkippedSubRegion != 1 {
		t.Errorf("SkippedSubRegion = %d, want 1", st.SkippedSubRegion)
	}
	if len(tab.Unmapped) != 1 || tab.Unmapped[0] != "Lost" || st.Unmapped != 1 {
		t.Errorf("unmapped = %v (%d), want [Lost] (1)", tab.Unmapped, st.Unmapped)
	}
}

func TestRecorder_FailureDoesNotPropagate(t *testing.T) {
	r := NewRecorder(0)
	assert.NotPanics(t, func() {
		r.guard("boom", func() { panic("bad input") })
	})
	r.RecordShares([]distribute.ShareAudit{{Region: "R", Label: "Wheat", SumShare: 1}})

	tab := r.Tables()
	assert.Equal(t, 1, tab.Failures)
	assert.Len(t, tab.ShareAudit, 1)
}

func TestRecorder_Concurrent(t *testing.T) {
	r := NewRecorder(0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordUnmapped([]string{"x"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, r.Tables().Stats.Unmapped)
}
