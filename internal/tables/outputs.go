package tables

import (
	"fmt"
	"sort"

	"github.com/ag-res/reconcile/internal/diagnostics"
	"github.com/ag-res/reconcile/internal/distribute"
	"github.com/ag-res/reconcile/internal/fsutil"
	"github.com/ag-res/reconcile/internal/materialize"
	"github.com/ag-res/reconcile/internal/reconcile"
	"github.com/ag-res/reconcile/internal/targets"
)

// Target table columns.
const (
	colTargetAcres     = "aci_acres"
	colTargetHectares  = "aci_hectares"
	colTargetPixels    = "aci_pixels"
	colSurveyAcres     = "masc_acres"
	colYieldTotal      = "yield_tonnes_total"
	colBiomassTotal    = "biomass_tonnes_total"
	colNormYield       = "yield_tonnes_norm"
	colNormBiomass     = "biomass_tonnes_norm"
	colYieldPerPixel   = "yield_per_pixel"
	colBiomassPerPixel = "biomass_per_pixel"
)

// WriteReconciled writes the corrected region×category table.
func WriteReconciled(fsys fsutil.FileSystem, path string, records []reconcile.Record) error {
	header := []string{ColRegion, ColLabel, ColPixels, ColHectares, "acres_aci", "acres_masc", "acres_diff"}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.Region, r.Label,
			ftoa(r.SensedPixels), ftoa(r.SensedHectares), ftoa(r.SensedAcres),
			ftoa(r.GroundTruthAcres), ftoa(r.Surplus()),
		})
	}
	return writeTable(fsys, path, header, rows)
}

// WriteShares writes the distributed sub-region rows with their share of
// the region's pixels.
func WriteShares(fsys fsutil.FileSystem, path string, shares []distribute.Share) error {
	header := []string{ColSubRegionID, ColSubRegionName, ColRegion, ColCode, ColLabel, ColPixels, ColHectares, ColAcres, "rm_pixel_total", "rm_label_pct"}
	rows := make([][]string, 0, len(shares))
	for _, s := range shares {
		rows = append(rows, []string{
			s.SubRegionID, s.SubRegionName, s.Region, itoa(s.Code), s.Label,
			ftoa(s.Pixels), ftoa(s.Hectares), ftoa(s.Acres),
			ftoa(s.RegionPixels), ftoa(s.Share),
		})
	}
	return writeTable(fsys, path, header, rows)
}

// WriteShareAudit writes the per region×category share check.
func WriteShareAudit(fsys fsutil.FileSystem, path string, audit []distribute.ShareAudit) error {
	header := []string{ColRegion, ColLabel, "total_pixels", "rows", "sum_pct", "deviation"}
	rows := make([][]string, 0, len(audit))
	for _, a := range audit {
		rows = append(rows, []string{a.Region, a.Label, ftoa(a.TotalPixels), itoa(a.Rows), ftoa(a.SumShare), ftoa(a.Deviation)})
	}
	return writeTable(fsys, path, header, rows)
}

// WriteScaleFactors writes the distributor's per region×category factors.
func WriteScaleFactors(fsys fsutil.FileSystem, path string, factors []distribute.ScaleFactor) error {
	header := []string{ColRegion, ColLabel, "original_acres", "corrected_acres", "scale", "rows", "mode"}
	rows := make([][]string, 0, len(factors))
	for _, f := range factors {
		rows = append(rows, []string{f.Region, f.Label, ftoa(f.Original), ftoa(f.Corrected), ftoa(f.Factor), itoa(f.Rows), f.Mode})
	}
	return writeTable(fsys, path, header, rows)
}

// WriteTopUp writes the top-up ledger with one column per donor.
func WriteTopUp(fsys fsutil.FileSystem, path string, ledger []reconcile.TopUpRow, donors []string) error {
	header := []string{"unit", ColRegion, ColLabel, "aci_acres_before", "masc_acres", "aci_acres", "delta", "status"}
	for _, d := range donors {
		header = append(header, "from_"+d)
	}
	rows := make([][]string, 0, len(ledger))
	for _, r := range ledger {
		row := []string{r.Unit, r.Region, r.Label, ftoa(r.Before), ftoa(r.Target), ftoa(r.After), ftoa(r.Delta()), r.Status()}
		for _, d := range donors {
			row = append(row, ftoa(r.Taken[d]))
		}
		rows = append(rows, row)
	}
	return writeTable(fsys, path, header, rows)
}

// WriteTargets writes the per-pixel target table.
func WriteTargets(fsys fsutil.FileSystem, path string, rs []targets.Row) error {
	header := []string{
		ColSubRegionID, ColSubRegionName, ColRegion, ColLabel, ColCode,
		colTargetAcres, colTargetHectares, colTargetPixels, colSurveyAcres, ColYieldPerAcre,
		colYieldTotal, colBiomassTotal, colNormYield, colNormBiomass, colYieldPerPixel, colBiomassPerPixel,
	}
	rows := make([][]string, 0, len(rs))
	for _, r := range rs {
		rows = append(rows, []string{
			r.SubRegionID, r.SubRegionName, r.Region, r.Label, itoa(r.Code),
			ftoa(r.Acres), ftoa(r.Hectares), ftoa(r.Pixels), ftoa(r.SurveyAcres), ftoa(r.YieldPerAcre),
			ftoa(r.YieldTotal), ftoa(r.BiomassTotal), ftoa(r.NormYieldTotal), ftoa(r.NormBiomassTotal),
			ftoa(r.YieldPerPixel), ftoa(r.BiomassPerPixel),
		})
	}
	return writeTable(fsys, path, header, rows)
}

// WriteChangeDetail writes the rows reconciliation changed.
func WriteChangeDetail(fsys fsutil.FileSystem, path string, deltas []diagnostics.RowDelta) error {
	header := []string{ColRegion, ColLabel, "acres_aci_before", "acres_aci_after", "acres_masc", "acres_delta", "diff_before", "diff_after"}
	var rows [][]string
	for _, d := range deltas {
		if d.Delta == 0 {
			continue
		}
		rows = append(rows, []string{d.Region, d.Label, ftoa(d.Before), ftoa(d.After), ftoa(d.GroundTruth), ftoa(d.Delta), ftoa(d.DiffBefore), ftoa(d.DiffAfter)})
	}
	return writeTable(fsys, path, header, rows)
}

// WriteChangeSummary writes the per-region change summary.
func WriteChangeSummary(fsys fsutil.FileSystem, path string, regions []diagnostics.RegionSummary) error {
	header := []string{ColRegion, "labels_changed", "total_delta", "mean_diff_before", "mean_diff_after"}
	rows := make([][]string, 0, len(regions))
	for _, r := range regions {
		rows = append(rows, []string{r.Region, itoa(r.ChangedCategories), ftoa(r.TotalDelta), ftoa(r.MeanDiffBefore), ftoa(r.MeanDiffAfter)})
	}
	return writeTable(fsys, path, header, rows)
}

// WriteConservation writes every conservation check.
func WriteConservation(fsys fsutil.FileSystem, path string, checks []diagnostics.Conservation) error {
	header := []string{"stage", ColRegion, ColLabel, "expected", "actual", "deviation", "within_tolerance"}
	rows := make([][]string, 0, len(checks))
	for _, c := range checks {
		rows = append(rows, []string{c.Stage, c.Region, c.Label, ftoa(c.Expected), ftoa(c.Actual), ftoa(c.Deviation), btoa(c.Within)})
	}
	return writeTable(fsys, path, header, rows)
}

// WriteAssignments writes the materializer's assignment log followed by
// the skipped sub-regions.
func WriteAssignments(fsys fsutil.FileSystem, path string, log []materialize.LogEntry, skipped []materialize.Skip) error {
	header := []string{ColSubRegionID, ColSubRegionName, ColLabel, ColCode, "required", "existing", "newly_assigned", "total_assigned", "shortfall", "value", "skipped_reason"}
	rows := make([][]string, 0, len(log)+len(skipped))
	for _, e := range log {
		rows = append(rows, []string{
			e.SubRegionID, e.SubRegionName, e.Label, itoa(int(e.Code)),
			itoa(e.Required), itoa(e.Existing), itoa(e.NewlyAssigned), itoa(e.TotalAssigned), itoa(e.Shortfall()),
			ftoa(float64(e.Value)), "",
		})
	}
	for _, s := range skipped {
		rows = append(rows, []string{"", s.SubRegion, "", "", "", "", "", "", "", "", s.Reason})
	}
	return writeTable(fsys, path, header, rows)
}

// WriteUnmapped writes the sub-regions that had no region.
func WriteUnmapped(fsys fsutil.FileSystem, path string, names []string) error {
	rows := make([][]string, 0, len(names))
	for _, n := range names {
		rows = append(rows, []string{n})
	}
	return writeTable(fsys, path, []string{ColSubRegionName}, rows)
}

var statsHeader = []string{
	ColYear, "aci_total_before", "masc_total", "diff_before", "aci_total_after", "diff_after",
	"case1_removed", "case2_added", "shortfalls", "unmapped",
	"pixels_required", "pixels_assigned", "pixels_underfilled", "skipped_sub_regions",
}

// UpsertRunStats writes the run statistics for year into the stats table,
// replacing any earlier row for that year. Rows are kept sorted by year.
func UpsertRunStats(fsys fsutil.FileSystem, path string, year int, st diagnostics.RunStats) error {
	return upsertStats(fsys, path, year, func([]string) []string {
		return []string{
			itoa(year),
			ftoa(st.SensedBefore), ftoa(st.GroundTruth), ftoa(st.DiffBefore), ftoa(st.SensedAfter), ftoa(st.DiffAfter),
			itoa(st.Zeroed), itoa(st.ToppedUp), itoa(st.Shortfalls), itoa(st.Unmapped),
			itoa(st.PixelsRequired), itoa(st.PixelsAssigned), itoa(st.PixelsUnderfill), itoa(st.SkippedSubRegion),
		}
	})
}

// UpsertPixelStats updates only the pixel columns of year's stats row,
// keeping the acreage columns written by the reconcile stage. A missing row
// is added with the acreage columns empty.
func UpsertPixelStats(fsys fsutil.FileSystem, path string, year int, st diagnostics.RunStats) error {
	return upsertStats(fsys, path, year, func(old []string) []string {
		row := make([]string, len(statsHeader))
		copy(row, old)
		row[0] = itoa(year)
		n := len(row)
		row[n-4] = itoa(st.PixelsRequired)
		row[n-3] = itoa(st.PixelsAssigned)
		row[n-2] = itoa(st.PixelsUnderfill)
		row[n-1] = itoa(st.SkippedSubRegion)
		return row
	})
}

// upsertStats replaces year's row with fill(old), where old is the current
// row or nil.
func upsertStats(fsys fsutil.FileSystem, path string, year int, fill func(old []string) []string) error {
	type yearRow struct {
		year int
		row  []string
	}
	var (
		rows []yearRow
		old  []string
	)
	if fsys.Exists(path) {
		t, err := readTable(fsys, path)
		if err != nil {
			return err
		}
		if err := t.require(ColYear); err != nil {
			return err
		}
		for i := range t.rows {
			y, err := t.int(i, ColYear)
			if err != nil {
				return err
			}
			row := make([]string, len(statsHeader))
			for j, col := range statsHeader {
				row[j] = t.str(i, col)
			}
			if y == year {
				old = row
				continue
			}
			rows = append(rows, yearRow{y, row})
		}
	}
	rows = append(rows, yearRow{year, fill(old)})
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].year < rows[j].year })

	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = r.row
	}
	if err := writeTable(fsys, path, statsHeader, out); err != nil {
		return fmt.Errorf("run stats: %w", err)
	}
	return nil
}
