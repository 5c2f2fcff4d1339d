package materialize

import (
	"context"
	"testing"

	"github.com/ctessum/geom"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ag-res/reconcile/internal/geometry"
	"github.com/ag-res/reconcile/internal/raster"
)

const (
	codeWater  uint16 = 20
	codeWheat  uint16 = 146
	codeCanola uint16 = 153
	codeOther  uint16 = 100
)

var testGeo = raster.GeoTransform{OriginX: 0, OriginY: 10, PixelWidth: 1, PixelHeight: 1}

func rect(x0, y0, x1, y1 float64) geom.Polygon {
	return geom.Polygon{{
		{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}, {X: x0, Y: y0},
	}}
}

// testSource is a 10x10 grid: column 0 is water, row 9 is unclassified,
// columns 1-2 of rows 0-1 are wheat, everything else is "other".
func testSource() *raster.CategoryGrid {
	g := raster.NewCategoryGrid(10, 10, testGeo)
	for r := 0; r < 10; r++ {
		for c := 0; c < 10; c++ {
			switch {
			case r == 9:
				g.Set(c, r, raster.NoDataCode)
			case c == 0:
				g.Set(c, r, codeWater)
			case r < 2 && c < 3:
				g.Set(c, r, codeWheat)
			default:
				g.Set(c, r, codeOther)
			}
		}
	}
	return g
}

func testOptions(seed uint64) Options {
	return Options{
		Protected: NewCodeSet([]int{int(codeWater)}),
		Sentinel:  raster.NoDataValue,
		Samplers:  SeededSamplers(seed),
	}
}

func westEast() []geometry.SubRegion {
	return []geometry.SubRegion{
		{ID: "1", Name: "West", Geom: rect(0, 0, 5, 10)},
		{ID: "2", Name: "East", Geom: rect(5, 0, 10, 10)},
	}
}

func run(t *testing.T, opts Options, units []Unit) (raster.Pair, Report) {
	t.Helper()
	m, err := New(testSource(), opts)
	require.NoError(t, err)
	rep, err := m.Run(context.Background(), units)
	require.NoError(t, err)
	return m.Output(), rep
}

func countIn(g *raster.CategoryGrid, code uint16, x0, x1 int) int {
	n := 0
	for r := 0; r < g.Height; r++ {
		for c := x0; c < x1; c++ {
			if g.At(c, r) == code {
				n++
			}
		}
	}
	return n
}

func TestRun_PixelConservation(t *testing.T) {
	regions := westEast()
	units := []Unit{
		{Region: regions[0], Targets: []Target{
			{SubRegionID: "1", SubRegionName: "West", Label: "Spring wheat", Code: codeWheat, Required: 10, Value: 2.5},
			{SubRegionID: "1", SubRegionName: "West", Label: "Canola/rapeseed", Code: codeCanola, Required: 7, Value: 1.25},
		}},
		{Region: regions[1], Targets: []Target{
			{SubRegionID: "2", SubRegionName: "East", Label: "Canola/rapeseed", Code: codeCanola, Required: 12, Value: 1.25},
		}},
	}

	out, rep := run(t, testOptions(42), units)

	assert.Equal(t, 2, rep.Processed)
	require.Len(t, rep.Log, 3)
	assert.Equal(t, 10, countIn(out.Codes, codeWheat, 0, 5))
	assert.Equal(t, 7, countIn(out.Codes, codeCanola, 0, 5))
	assert.Equal(t, 12, countIn(out.Codes, codeCanola, 5, 10))

	wheat := rep.Log[0]
	assert.Equal(t, 4, wheat.Existing)
	assert.Equal(t, 6, wheat.NewlyAssigned)
	assert.Equal(t, 10, wheat.TotalAssigned)
	assert.Zero(t, wheat.Shortfall())

	for _, e := range rep.Log {
		assert.Equal(t, e.Existing+e.NewlyAssigned, e.TotalAssigned)
	}
}

func TestRun_ProtectedAndNoDataNeverOverwritten(t *testing.T) {
	regions := westEast()
	units := []Unit{
		{Region: regions[0], Targets: []Target{
			{SubRegionName: "West", Label: "Canola/rapeseed", Code: codeCanola, Required: 1000, Value: 1},
		}},
	}
	src := testSource()

	out, rep := run(t, testOptions(7), units)

	for r := 0; r < 10; r++ {
		for c := 0; c < 5; c++ {
			switch src.At(c, r) {
			case codeWater:
				assert.Equal(t, codeWater, out.Codes.At(c, r), "water at %d,%d", c, r)
				assert.Equal(t, raster.NoDataValue, out.Values.At(c, r))
			case raster.NoDataCode:
				assert.Equal(t, raster.NoDataCode, out.Codes.At(c, r), "nodata at %d,%d", c, r)
			}
		}
	}

	// 5 columns x 9 classified rows, minus 9 water pixels.
	require.Len(t, rep.Log, 1)
	assert.Equal(t, 36, rep.Log[0].NewlyAssigned)
	assert.Equal(t, 1000-36, rep.Log[0].Shortfall())
}

func TestRun_PreservesExistingPixelsWithTargetValue(t *testing.T) {
	regions := westEast()
	units := []Unit{{Region: regions[0], Targets: []Target{
		{SubRegionName: "West", Label: "Spring wheat", Code: codeWheat, Required: 2, Value: 3.5},
	}}}

	out, rep := run(t, testOptions(1), units)

	assert.Equal(t, 4, countIn(out.Codes, codeWheat, 0, 10))
	assert.Equal(t, float32(3.5), out.Values.At(1, 0))
	assert.Equal(t, float32(3.5), out.Values.At(2, 1))
	assert.Equal(t, float32(raster.NoDataValue), out.Values.At(3, 3))
	assert.Zero(t, rep.Log[0].NewlyAssigned)
}

func TestRun_WritesOnlyInsideMask(t *testing.T) {
	regions := westEast()
	units := []Unit{{Region: regions[0], Targets: []Target{
		{SubRegionName: "West", Label: "Canola/rapeseed", Code: codeCanola, Required: 5, Value: 1},
	}}}

	out, _ := run(t, testOptions(3), units)

	for r := 0; r < 10; r++ {
		for c := 5; c < 10; c++ {
			assert.Equal(t, raster.NoDataCode, out.Codes.At(c, r))
			assert.Equal(t, raster.NoDataValue, out.Values.At(c, r))
		}
	}
	// unchanged in-mask pixels carry the source code
	assert.Equal(t, codeWater, out.Codes.At(0, 4))
}

func TestRun_DeterministicAcrossWorkers(t *testing.T) {
	regions := westEast()
	units := []Unit{
		{Region: regions[0], Targets: []Target{{SubRegionID: "1", SubRegionName: "West", Label: "Canola/rapeseed", Code: codeCanola, Required: 9, Value: 1}}},
		{Region: regions[1], Targets: []Target{{SubRegionID: "2", SubRegionName: "East", Label: "Canola/rapeseed", Code: codeCanola, Required: 9, Value: 1}}},
	}

	seq, _ := run(t, testOptions(99), units)

	par := testOptions(99)
	par.Workers = 4
	got, _ := run(t, par, units)
	assert.Equal(t, seq.Codes.Data, got.Codes.Data)
	assert.Equal(t, seq.Values.Data, got.Values.Data)

	reversed := []Unit{units[1], units[0]}
	rev, _ := run(t, testOptions(99), reversed)
	assert.Equal(t, seq.Codes.Data, rev.Codes.Data)

	other, _ := run(t, testOptions(100), units)
	assert.NotEqual(t, seq.Codes.Data, other.Codes.Data)
}

type firstSampler struct{}

func (firstSampler) IntN(int) int { return 0 }

func TestRun_ExactSelectionWithScriptedSampler(t *testing.T) {
	opts := testOptions(0)
	opts.Samplers = func(string) Sampler { return firstSampler{} }
	regions := westEast()
	units := []Unit{{Region: regions[1], Targets: []Target{
		{SubRegionName: "East", Label: "Canola/rapeseed", Code: codeCanola, Required: 3, Value: 1},
	}}}

	out, _ := run(t, opts, units)

	// First three free pixels in row-major order within the east window.
	assert.Equal(t, codeCanola, out.Codes.At(5, 0))
	assert.Equal(t, codeCanola, out.Codes.At(6, 0))
	assert.Equal(t, codeCanola, out.Codes.At(7, 0))
	assert.Equal(t, codeOther, out.Codes.At(8, 0))
}

func TestRun_SkipsUnusableUnits(t *testing.T) {
	units := []Unit{
		{Region: geometry.SubRegion{Name: "Far", Geom: rect(50, 50, 60, 60)}, Targets: []Target{{SubRegionName: "Far", Code: codeWheat, Required: 1}}},
		{Region: geometry.SubRegion{Name: "Blank", Geom: rect(0, 0, 10, 1)}, Targets: []Target{{SubRegionName: "Blank", Code: codeWheat, Required: 1}}},
		{Region: geometry.SubRegion{Name: "Empty", Geom: rect(0, 0, 1, 1)}},
	}

	_, rep := run(t, testOptions(1), units)

	assert.Zero(t, rep.Processed)
	require.Len(t, rep.Skipped, 3)
	assert.Equal(t, "Far", rep.Skipped[0].SubRegion)
	assert.Equal(t, "Blank", rep.Skipped[1].SubRegion)
	assert.Equal(t, "no classified pixels in window", rep.Skipped[1].Reason)
}

func TestRun_ClampsNegativeValues(t *testing.T) {
	regions := westEast()
	units := []Unit{{Region: regions[0], Targets: []Target{
		{SubRegionName: "West", Label: "Spring wheat", Code: codeWheat, Required: 6, Value: -3},
	}}}

	out, _ := run(t, testOptions(1), units)
	assert.Equal(t, float32(0), out.Values.At(1, 0))
}

func TestRun_Cancelled(t *testing.T) {
	m, err := New(testSource(), testOptions(1))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	regions := westEast()
	_, err = m.Run(ctx, []Unit{{Region: regions[0], Targets: []Target{{Code: codeWheat, Required: 1}}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, testOptions(1))
	assert.Error(t, err)
	_, err = New(testSource(), Options{})
	assert.Error(t, err)
}

func TestUnits(t *testing.T) {
	targets := []Target{
		{SubRegionName: "East", Code: 1},
		{SubRegionName: "Nowhere", Code: 1},
		{SubRegionName: "East", Code: 2},
	}
	units, missing := Units(westEast(), targets)
	require.Len(t, units, 1)
	assert.Equal(t, "East", units[0].Region.Name)
	assert.Len(t, units[0].Targets, 2)
	assert.Equal(t, []string{"Nowhere"}, missing)
}

func TestUnits_Only(t *testing.T) {
	targets := []Target{
		{SubRegionName: "West", Code: 1},
		{SubRegionName: "East", Code: 2},
		{SubRegionName: "Nowhere", Code: 1},
	}
	tests := []struct {
		name        string
		only        []string
		wantUnits   []string
		wantMissing []string
	}{
		{"all", nil, []string{"West", "East"}, []string{"Nowhere"}},
		{"by name", []string{"East"}, []string{"East"}, nil},
		{"by id", []string{"1"}, []string{"West"}, nil},
		{"missing boundary kept", []string{"Nowhere"}, nil, []string{"Nowhere"}},
		{"no match", []string{"North"}, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			units, missing := Units(westEast(), targets, tt.only...)
			var names []string
			for _, u := range units {
				names = append(names, u.Region.Name)
			}
			if diff := cmp.Diff(tt.wantUnits, names); diff != "" {
				t.Errorf("units mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantMissing, missing); diff != "" {
				t.Errorf("missing mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSampleWithoutReplacement(t *testing.T) {
	pool := []int{0, 1, 2, 3, 4, 5, 6, 7}
	got := sampleWithoutReplacement(pool, 5, SeededSamplers(5)("x"))
	assert.Len(t, got, 5)
	seen := map[int]bool{}
	for _, v := range got {
		assert.False(t, seen[v])
		seen[v] = true
	}
	assert.Len(t, sampleWithoutReplacement([]int{1, 2}, 10, firstSampler{}), 2)
}

func TestCodeSet(t *testing.T) {
	s := NewCodeSet([]int{30, 10, -1, 70000})
	assert.True(t, s.Contains(10))
	assert.False(t, s.Contains(11))
	assert.Equal(t, []uint16{10, 30}, s.Codes())
}

func TestLogEntry_FulfilledAndShortfall(t *testing.T) {
	tests := []struct {
		name          string
		entry         LogEntry
		wantFulfilled int
		wantShortfall int
	}{
		{"exact", LogEntry{Required: 13, TotalAssigned: 13}, 13, 0},
		{"underfilled", LogEntry{Required: 10, TotalAssigned: 7}, 7, 3},
		{"preserved surplus", LogEntry{Required: 38, Existing: 40, TotalAssigned: 40}, 38, 0},
		{"nothing required", LogEntry{Required: 0, Existing: 2, TotalAssigned: 2}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.Fulfilled(); got != tt.wantFulfilled {
				t.Errorf("Fulfilled() = %d, want %d", got, tt.wantFulfilled)
			}
			if got := tt.entry.Shortfall(); got != tt.wantShortfall {
				t.Errorf("Shortfall() = %d, want %d", got, tt.wantShortfall)
			}
		})
	}
}
