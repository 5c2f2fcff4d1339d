package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ag-res/reconcile/internal/fsutil"
)

// Layout resolves every input and output location of a run from a single
// root. It replaces process-wide path state: each stage receives the
// Layout it should use.
type Layout struct {
	Root string
}

// NewLayout returns a Layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

func (l Layout) yearDir(a, b string, year int) string {
	return filepath.Join(l.Root, a, b, strconv.Itoa(year))
}

// Raw is the directory holding the year's classified raster and survey download.
func (l Layout) Raw(year int) string { return l.yearDir("data", "raw", year) }

// Interim holds intermediate tables for the year.
func (l Layout) Interim(year int) string { return l.yearDir("data", "interim", year) }

// Processed holds final per-pixel target tables for the year.
func (l Layout) Processed(year int) string { return l.yearDir("data", "processed", year) }

// Reference holds year-independent lookup tables and boundaries.
func (l Layout) Reference() string { return filepath.Join(l.Root, "data", "reference") }

// Rasters holds the output grids for the year.
func (l Layout) Rasters(year int) string { return l.yearDir("outputs", "rasters", year) }

// Mapping holds cartographic exports for the year.
func (l Layout) Mapping(year int) string { return l.yearDir("outputs", "mapping", year) }

// Reports holds audit tables.
func (l Layout) Reports() string { return filepath.Join(l.Root, "outputs", "reports") }

// YearDirs lists the per-year directories a run writes into.
func (l Layout) YearDirs(year int) []string {
	return []string{
		l.Raw(year),
		l.Interim(year),
		l.Processed(year),
		l.Rasters(year),
		l.Mapping(year),
	}
}

// EnsureYear creates the per-year directories and the reports directory.
func (l Layout) EnsureYear(fsys fsutil.FileSystem, year int) error {
	dirs := append(l.YearDirs(year), l.Reports(), l.Reference())
	for _, dir := range dirs {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Input tables.

func (l Layout) SubRegionSummary(year int) string {
	return filepath.Join(l.Interim(year), fmt.Sprintf("aci_summary_%d.csv", year))
}

func (l Layout) SurveyImputed(year int) string {
	return filepath.Join(l.Interim(year), fmt.Sprintf("masc_imputed_%d.csv", year))
}

func (l Layout) SubRegionLUT() string { return filepath.Join(l.Reference(), "muni_rm_lut.csv") }
func (l Layout) CropLabelLUT() string { return filepath.Join(l.Reference(), "crop_label_lut.csv") }
func (l Layout) LabelCodeLUT() string {
	return filepath.Join(l.Reference(), "aci_crop_classifications_iac_classifications_des_cultures.csv")
}
func (l Layout) ResidueFactors() string { return filepath.Join(l.Reference(), "rpr_saf_masc_crop.csv") }
func (l Layout) SurveySummary() string  { return filepath.Join(l.Reference(), "masc_summary.csv") }
func (l Layout) SubRegionShapes() string {
	return filepath.Join(l.Reference(), "municipalities.shp")
}
func (l Layout) JurisdictionShape() string {
	return filepath.Join(l.Reference(), "provincial_boundary.shp")
}

// ClassifiedRasterPattern is the glob for versioned classified rasters.
func (l Layout) ClassifiedRasterPattern(year int) string {
	return filepath.Join(l.Raw(year), fmt.Sprintf("aci_%d_mb_v*.tif", year))
}

// Intermediate and output tables.

func (l Layout) ReconciledRegions(year int) string {
	return filepath.Join(l.Interim(year), fmt.Sprintf("aci_rm_reconciled_%d.csv", year))
}

func (l Layout) ReallocatedSummary(year int) string {
	return filepath.Join(l.Interim(year), fmt.Sprintf("aci_summary_reallocated_%d.csv", year))
}

func (l Layout) SharesTable(year int) string {
	return filepath.Join(l.Interim(year), fmt.Sprintf("aci_reallocated_with_pct_%d.csv", year))
}

func (l Layout) TopUpTable(year int) string {
	return filepath.Join(l.Interim(year), fmt.Sprintf("label_area_deltas_%d.csv", year))
}

func (l Layout) TargetsTable(year int) string {
	return filepath.Join(l.Processed(year), fmt.Sprintf("aci_pixel_targets_%d.csv", year))
}

func (l Layout) CodesRaster(year int) string {
	return filepath.Join(l.Rasters(year), fmt.Sprintf("biomass_codes_%d.tif", year))
}

func (l Layout) ValuesRaster(year int) string {
	return filepath.Join(l.Rasters(year), fmt.Sprintf("biomass_values_%d.bil", year))
}

// Audit reports.

func (l Layout) ReallocationDetail(year int) string {
	return filepath.Join(l.Reports(), "reallocation", fmt.Sprintf("aci_reallocation_changes_%d_detail.csv", year))
}

func (l Layout) ReallocationSummary(year int) string {
	return filepath.Join(l.Reports(), "reallocation", fmt.Sprintf("aci_reallocation_changes_%d_summary.csv", year))
}

func (l Layout) ReallocationStats() string {
	return filepath.Join(l.Reports(), "reallocation", "aci_reallocation_stats.csv")
}

func (l Layout) ScaleFactorReport(year int) string {
	return filepath.Join(l.Reports(), "reallocation", fmt.Sprintf("scale_factors_%d.csv", year))
}

func (l Layout) ShareAudit(year int) string {
	return filepath.Join(l.Reports(), "muni_rm_pct_summaries", fmt.Sprintf("aci_rm_label_pct_summary_%d.csv", year))
}

func (l Layout) UnmappedSubRegions() string {
	return filepath.Join(l.Reports(), "unmapped_munis.csv")
}

func (l Layout) AssignmentReport(year int) string {
	return filepath.Join(l.Reports(), "raster_build", fmt.Sprintf("raster_assignment_summary_%d.csv", year))
}

func (l Layout) ConservationReport(year int) string {
	return filepath.Join(l.Reports(), "reallocation", fmt.Sprintf("conservation_%d.csv", year))
}

// ReportDirs lists the report subdirectories.
func (l Layout) ReportDirs() []string {
	return []string{
		filepath.Join(l.Reports(), "reallocation"),
		filepath.Join(l.Reports(), "muni_rm_pct_summaries"),
		filepath.Join(l.Reports(), "raster_build"),
	}
}

// EnsureReports creates the report subdirectories.
func (l Layout) EnsureReports(fsys fsutil.FileSystem) error {
	for _, dir := range l.ReportDirs() {
		if err := fsys.MkdirAll(dir, os.FileMode(0o755)); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
