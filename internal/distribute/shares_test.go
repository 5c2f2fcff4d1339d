package distribute

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ag-res/reconcile/internal/reconcile"
)

func TestComputeShares(t *testing.T) {
	rows := []SubRegionRecord{
		{SubRegionID: "1", Region: "R", Label: "Wheat", Pixels: 75},
		{SubRegionID: "2", Region: "R", Label: "Wheat", Pixels: 25},
		{SubRegionID: "1", Region: "R", Label: "Oats", Pixels: 0},
	}

	shares := ComputeShares(rows)

	require.Len(t, shares, 3)
	assert.InDelta(t, 0.75, shares[0].Share, 1e-12)
	assert.InDelta(t, 0.25, shares[1].Share, 1e-12)
	assert.Equal(t, 100.0, shares[0].RegionPixels)
	assert.Zero(t, shares[2].Share)

	audit := Audit(shares)
	require.Len(t, audit, 2)
	assert.Equal(t, ShareAudit{Region: "R", Label: "Wheat", TotalPixels: 100, Rows: 2, SumShare: 1, Deviation: 0}, audit[0])
	assert.Equal(t, 1.0, audit[1].Deviation)
}

func TestTopUpRows_SubRegionLevel(t *testing.T) {
	shares := ComputeShares([]SubRegionRecord{
		{SubRegionID: "1", SubRegionName: "North", Region: "R", Label: "Wheat", Pixels: 60, Acres: 10},
		{SubRegionID: "2", SubRegionName: "South", Region: "R", Label: "Wheat", Pixels: 40, Acres: 5},
	})
	truth := []reconcile.Truth{{Region: "R", Label: "Wheat", Acres: 50}}

	rows := TopUpRows(shares, truth, reconcile.LevelSubRegion)

	require.Len(t, rows, 2)
	assert.Equal(t, "1|North", rows[0].Unit)
	assert.InDelta(t, 30.0, rows[0].Target, 1e-9)
	assert.InDelta(t, 20.0, rows[1].Target, 1e-9)
	assert.Equal(t, 5.0, rows[1].Before)
}

func TestTopUpRows_RegionLevel(t *testing.T) {
	shares := ComputeShares([]SubRegionRecord{
		{SubRegionID: "1", Region: "R", Label: "Wheat", Pixels: 60, Acres: 10},
		{SubRegionID: "2", Region: "R", Label: "Wheat", Pixels: 40, Acres: 5},
		{SubRegionID: "2", Region: "R", Label: "Other crops", Pixels: 40, Acres: 50},
	})
	truth := []reconcile.Truth{{Region: "R", Label: "Wheat", Acres: 25}}

	rows := TopUpRows(shares, truth, reconcile.LevelRegion)

	require.Len(t, rows, 2)
	assert.Equal(t, reconcile.TopUpRow{Unit: "R", Region: "R", Label: "Wheat", Before: 15, Target: 25}, rows[0])
	assert.Equal(t, 0.0, rows[1].Target)
}

func TestApplyTopUp_RegionLevelSpreadsByShare(t *testing.T) {
	shares := ComputeShares([]SubRegionRecord{
		{SubRegionID: "1", Region: "R", Label: "Wheat", Pixels: 60, Acres: 10},
		{SubRegionID: "2", Region: "R", Label: "Wheat", Pixels: 40, Acres: 5},
		{SubRegionID: "2", Region: "R", Label: "Other crops", Pixels: 40, Acres: 50},
	})
	truth := []reconcile.Truth{{Region: "R", Label: "Wheat", Acres: 25}}
	ledger := TopUpRows(shares, truth, reconcile.LevelRegion)
	reconcile.TopUp(ledger, reconcile.DefaultDonors)

	ApplyTopUp(shares, ledger, reconcile.LevelRegion)

	assert.InDelta(t, 16.0, shares[0].Acres, 1e-9)
	assert.InDelta(t, 9.0, shares[1].Acres, 1e-9)
	assert.InDelta(t, 40.0, shares[2].Acres, 1e-9)
}

func TestApplyTopUp_SubRegionLevel(t *testing.T) {
	shares := ComputeShares([]SubRegionRecord{
		{SubRegionID: "1", SubRegionName: "N", Region: "R", Label: "Wheat", Pixels: 10, Acres: 0},
		{SubRegionID: "1", SubRegionName: "N", Region: "R", Label: "Other crops", Pixels: 10, Acres: 20},
	})
	truth := []reconcile.Truth{{Region: "R", Label: "Wheat", Acres: 8}}
	ledger := TopUpRows(shares, truth, reconcile.LevelSubRegion)
	reconcile.TopUp(ledger, reconcile.DefaultDonors)

	ApplyTopUp(shares, ledger, reconcile.LevelSubRegion)

	assert.InDelta(t, 8.0, shares[0].Acres, 1e-9)
	assert.InDelta(t, 12.0, shares[1].Acres, 1e-9)
	assert.Greater(t, shares[0].Pixels, 0.0)
}
