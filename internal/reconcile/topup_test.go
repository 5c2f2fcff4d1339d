package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopUp_FixedDonorOrder(t *testing.T) {
	rows := []TopUpRow{
		{Unit: "M1", Label: "Wheat", Before: 10, Target: 50},
		{Unit: "M1", Label: "Canola/rapeseed", Before: 100, Target: 90},
		{Unit: "M1", Label: "Pasture/forages", Before: 30, Target: 10},
		{Unit: "M1", Label: "Other crops", Before: 15, Target: 0},
	}

	sum := TopUp(rows, DefaultDonors)

	wheat := rows[0]
	assert.InDelta(t, 50.0, wheat.After, 1e-9)
	assert.InDelta(t, 15.0, wheat.Taken["Other crops"], 1e-9)
	assert.InDelta(t, 20.0, wheat.Taken["Pasture/forages"], 1e-9)
	assert.InDelta(t, 5.0, wheat.Taken["Canola/rapeseed"], 1e-9)
	assert.Equal(t, StatusBalanced, wheat.Status())

	assert.InDelta(t, 95.0, rows[1].After, 1e-9)
	assert.InDelta(t, 10.0, rows[2].After, 1e-9)
	assert.InDelta(t, 0.0, rows[3].After, 1e-9)
	assert.Equal(t, StatusDonor, rows[1].Status())

	assert.Equal(t, 1, sum.Units)
	assert.Equal(t, 1, sum.Recipients)
	assert.InDelta(t, 40.0, sum.Moved, 1e-9)
	assert.InDelta(t, 0.0, sum.Unmet, 1e-9)
}

func TestTopUp_DonorsNeverBelowTarget(t *testing.T) {
	rows := []TopUpRow{
		{Unit: "M1", Label: "Barley", Before: 0, Target: 100},
		{Unit: "M1", Label: "Oats", Before: 0, Target: 100},
		{Unit: "M1", Label: "Other crops", Before: 60, Target: 20},
		{Unit: "M1", Label: "Pasture/forages", Before: 5, Target: 10},
	}

	sum := TopUp(rows, DefaultDonors)

	assert.InDelta(t, 40.0, rows[0].After, 1e-9)
	assert.InDelta(t, 0.0, rows[1].After, 1e-9)
	assert.InDelta(t, 20.0, rows[2].After, 1e-9)
	assert.InDelta(t, 5.0, rows[3].After, 1e-9)
	assert.Equal(t, StatusRecipient, rows[3].Status())
	assert.InDelta(t, 60.0+100.0+5.0, sum.Unmet, 1e-9)

	for _, r := range rows {
		if r.Before > r.Target {
			assert.GreaterOrEqual(t, r.After, r.Target, r.Label)
		}
	}
}

func TestTopUp_UnitsIsolated(t *testing.T) {
	rows := []TopUpRow{
		{Unit: "M1", Label: "Wheat", Before: 0, Target: 10},
		{Unit: "M2", Label: "Other crops", Before: 50, Target: 0},
	}
	TopUp(rows, DefaultDonors)
	assert.Equal(t, 0.0, rows[0].After)
	assert.Equal(t, 50.0, rows[1].After)
}

func TestTopUp_ConservesUnitTotal(t *testing.T) {
	rows := []TopUpRow{
		{Unit: "M1", Label: "Wheat", Before: 5, Target: 40},
		{Unit: "M1", Label: "Flax", Before: 2, Target: 9},
		{Unit: "M1", Label: "Other crops", Before: 30, Target: 1},
		{Unit: "M1", Label: "Canola/rapeseed", Before: 70, Target: 50},
	}
	before := 0.0
	for _, r := range rows {
		before += r.Before
	}
	TopUp(rows, DefaultDonors)
	after := 0.0
	for _, r := range rows {
		after += r.After
	}
	assert.InDelta(t, before, after, 1e-9)
}

func TestTopUp_CustomOrder(t *testing.T) {
	rows := []TopUpRow{
		{Unit: "R", Label: "Wheat", Before: 0, Target: 10},
		{Unit: "R", Label: "Other crops", Before: 10, Target: 0},
		{Unit: "R", Label: "Pasture/forages", Before: 10, Target: 0},
	}
	TopUp(rows, []string{"Pasture/forages", "Other crops"})
	require.NotNil(t, rows[0].Taken)
	assert.InDelta(t, 10.0, rows[0].Taken["Pasture/forages"], 1e-9)
	assert.Zero(t, rows[0].Taken["Other crops"])
}
