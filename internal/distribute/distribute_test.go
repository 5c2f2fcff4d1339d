package distribute

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ag-res/reconcile/internal/reconcile"
	"github.com/ag-res/reconcile/internal/units"
)

func row(id, name, region, label string, acres float64) SubRegionRecord {
	ha := units.AcresToHectares(acres)
	return SubRegionRecord{
		SubRegionID:   id,
		SubRegionName: name,
		Region:        region,
		Label:         label,
		Acres:         acres,
		Hectares:      ha,
		Pixels:        units.HectaresToPixels(ha),
	}
}

func sumAcres(rows []SubRegionRecord, region, label string) float64 {
	total := 0.0
	for _, r := range rows {
		if r.Region == region && r.Label == label {
			total += r.Acres
		}
	}
	return total
}

func TestDistribute_ScalesProportionally(t *testing.T) {
	rows := []SubRegionRecord{
		row("1", "North", "R", "Wheat", 30),
		row("2", "South", "R", "Wheat", 10),
	}
	corrected := []reconcile.Record{{Region: "R", Label: "Wheat", SensedAcres: 20}}

	res := Distribute(rows, corrected)

	require.Len(t, res.Rows, 2)
	assert.InDelta(t, 15.0, res.Rows[0].Acres, 1e-9)
	assert.InDelta(t, 5.0, res.Rows[1].Acres, 1e-9)
	assert.InDelta(t, units.AcresToHectares(15), res.Rows[0].Hectares, 1e-9)
	assert.InDelta(t, units.AcresToPixels(5), res.Rows[1].Pixels, 1e-6)

	require.Len(t, res.Factors, 1)
	assert.Equal(t, ModeScaled, res.Factors[0].Mode)
	assert.InDelta(t, 0.5, res.Factors[0].Factor, 1e-12)

	// input untouched
	assert.Equal(t, 30.0, rows[0].Acres)
}

func TestDistribute_ScaleIdempotence(t *testing.T) {
	rows := []SubRegionRecord{
		row("1", "North", "R", "Wheat", 30),
		row("2", "South", "R", "Wheat", 10),
		row("2", "South", "R", "Oats", 7),
	}
	corrected := []reconcile.Record{
		{Region: "R", Label: "Wheat", SensedAcres: 40},
		{Region: "R", Label: "Oats", SensedAcres: 7},
	}

	res := Distribute(rows, corrected)

	if diff := cmp.Diff(rows, res.Rows, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("unchanged totals altered rows (-want +got):\n%s", diff)
	}
}

func TestDistribute_MissingCorrectedKeepsScaleOne(t *testing.T) {
	rows := []SubRegionRecord{row("1", "North", "R", "Wheat", 30)}
	res := Distribute(rows, nil)
	assert.Equal(t, 30.0, res.Rows[0].Acres)
	assert.Equal(t, ModeUnchanged, res.Factors[0].Mode)
	assert.Equal(t, 1.0, res.Factors[0].Factor)
}

func TestDistribute_NewCategoryGoesToFirstSubRegion(t *testing.T) {
	rows := []SubRegionRecord{
		row("7", "Alpha", "R", "Wheat", 30),
		row("8", "Beta", "R", "Wheat", 10),
	}
	corrected := []reconcile.Record{
		{Region: "R", Label: "Wheat", SensedAcres: 40},
		{Region: "R", Label: "Flax", SensedAcres: 12},
		{Region: "Lonely", Label: "Oats", SensedAcres: 3},
	}

	res := Distribute(rows, corrected)

	require.Len(t, res.Rows, 4)
	assert.Equal(t, 2, res.Synthesized)

	flax := res.Rows[2]
	assert.Equal(t, "7", flax.SubRegionID)
	assert.Equal(t, "Alpha", flax.SubRegionName)
	assert.Equal(t, "Flax", flax.Label)
	assert.InDelta(t, 12.0, flax.Acres, 1e-9)
	assert.InDelta(t, 12*0.404686, flax.Hectares, 1e-9)
	assert.InDelta(t, 12*0.404686/0.09, flax.Pixels, 1e-6)

	lonely := res.Rows[3]
	assert.Equal(t, "", lonely.SubRegionID)
	assert.Equal(t, "Lonely", lonely.SubRegionName)
	assert.InDelta(t, 3.0, lonely.Acres, 1e-9)
}

func TestDistribute_NewCategoryExistingZeroRows(t *testing.T) {
	rows := []SubRegionRecord{
		row("1", "North", "R", "Flax", 0),
		row("2", "South", "R", "Flax", 0),
	}
	corrected := []reconcile.Record{{Region: "R", Label: "Flax", SensedAcres: 9}}

	res := Distribute(rows, corrected)

	assert.InDelta(t, 9.0, res.Rows[0].Acres, 1e-9)
	assert.Zero(t, res.Rows[1].Acres)
	assert.InDelta(t, 9.0, sumAcres(res.Rows, "R", "Flax"), 1e-9)
	assert.Equal(t, ModeNew, res.Factors[0].Mode)
}

func TestDistribute_ConservesCorrectedTotals(t *testing.T) {
	rows := []SubRegionRecord{
		row("1", "A", "R1", "Wheat", 13),
		row("2", "B", "R1", "Wheat", 29),
		row("3", "C", "R1", "Wheat", 1),
		row("1", "A", "R1", "Oats", 4),
		row("4", "D", "R2", "Oats", 4),
	}
	corrected := []reconcile.Record{
		{Region: "R1", Label: "Wheat", SensedAcres: 21.5},
		{Region: "R1", Label: "Oats", SensedAcres: 0},
		{Region: "R1", Label: "Barley", SensedAcres: 6},
		{Region: "R2", Label: "Oats", SensedAcres: 11},
	}

	res := Distribute(rows, corrected)
	for _, c := range corrected {
		assert.InDelta(t, c.SensedAcres, sumAcres(res.Rows, c.Region, c.Label), 1e-9, c.Region+"/"+c.Label)
	}
	assert.Len(t, DropEmpty(res.Rows), 5)
}

func TestAttach_SplitsUnmapped(t *testing.T) {
	lut := map[string]string{"North": "R1", "South": "R2"}
	regionOf := func(name string) (string, bool) {
		r, ok := lut[name]
		return r, ok
	}
	rows := []SubRegionRecord{
		{SubRegionName: "North", Label: "Wheat"},
		{SubRegionName: "Nowhere", Label: "Wheat"},
		{SubRegionName: "South", Label: "Oats"},
		{SubRegionName: "Nowhere", Label: "Oats"},
	}

	mapped, unmapped := Attach(rows, regionOf)

	require.Len(t, mapped, 2)
	assert.Equal(t, "R1", mapped[0].Region)
	assert.Equal(t, "R2", mapped[1].Region)
	assert.Equal(t, []string{"Nowhere"}, unmapped)
}

func TestToSensed(t *testing.T) {
	rows := []SubRegionRecord{row("1", "North", "R", "Wheat", 10)}
	got := ToSensed(rows)
	require.Len(t, got, 1)
	assert.Equal(t, reconcile.Sensed{Region: "R", Label: "Wheat", Pixels: rows[0].Pixels, Hectares: rows[0].Hectares, Acres: 10}, got[0])
}
