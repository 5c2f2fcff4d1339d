package tables

import (
	"fmt"

	"github.com/ag-res/reconcile/internal/distribute"
	"github.com/ag-res/reconcile/internal/fsutil"
	"github.com/ag-res/reconcile/internal/lookup"
	"github.com/ag-res/reconcile/internal/targets"
)

// Column names of the input tables.
const (
	ColSubRegionID   = "MUNI_NO"
	ColSubRegionName = "MUNI_NAME"
	ColCode          = "Code"
	ColPixels        = "pixel_count"
	ColHectares      = "hectares"
	ColAcres         = "acres"
	ColLabel         = "Label"
	ColRegionLUT     = "Risk Area / R.M."
	ColRegion        = "rm"
	ColYear          = "year"
	ColCrop          = "crop"
	ColCropLUT       = "Crop"
	ColYieldPerAcre  = "yield_per_acre"
	ColYield         = "yield"
	ColRPR           = "RPR"
	ColSAF           = "SAF"
	ColYieldTonnes   = "yield_tonnes"
)

// ReadSubRegionSummary reads the per sub-region pixel breakdown. Region is
// left empty for the caller to attach.
func ReadSubRegionSummary(fsys fsutil.FileSystem, path string) ([]distribute.SubRegionRecord, error) {
	t, err := readTable(fsys, path)
	if err != nil {
		return nil, err
	}
	if err := t.require(ColSubRegionName, ColPixels, ColHectares, ColAcres, ColLabel); err != nil {
		return nil, err
	}
	out := make([]distribute.SubRegionRecord, 0, len(t.rows))
	for i := range t.rows {
		r := distribute.SubRegionRecord{
			SubRegionID:   t.str(i, ColSubRegionID),
			SubRegionName: t.str(i, ColSubRegionName),
			Label:         t.str(i, ColLabel),
		}
		if t.has(ColCode) && t.str(i, ColCode) != "" {
			if r.Code, err = t.int(i, ColCode); err != nil {
				return nil, err
			}
		}
		if r.Pixels, err = t.zeroFloat(i, ColPixels); err != nil {
			return nil, err
		}
		if r.Hectares, err = t.zeroFloat(i, ColHectares); err != nil {
			return nil, err
		}
		if r.Acres, err = t.zeroFloat(i, ColAcres); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ReadSubRegionLUT reads the sub-region to region lookup.
func ReadSubRegionLUT(fsys fsutil.FileSystem, path string) ([]lookup.Entry, error) {
	t, err := readTable(fsys, path)
	if err != nil {
		return nil, err
	}
	if err := t.require(ColSubRegionName, ColRegionLUT); err != nil {
		return nil, err
	}
	out := make([]lookup.Entry, 0, len(t.rows))
	for i := range t.rows {
		out = append(out, lookup.Entry{
			SubRegion: t.str(i, ColSubRegionName),
			Region:    t.str(i, ColRegionLUT),
		})
	}
	return out, nil
}

// ReadSurvey reads the imputed survey. Empty yield cells read as NaN. When
// the table has a year column, only rows for year are kept.
func ReadSurvey(fsys fsutil.FileSystem, path string, year int) ([]targets.Survey, error) {
	t, err := readTable(fsys, path)
	if err != nil {
		return nil, err
	}
	if err := t.require(ColRegion, ColCrop, ColAcres); err != nil {
		return nil, err
	}
	out := make([]targets.Survey, 0, len(t.rows))
	for i := range t.rows {
		s := targets.Survey{Year: year, Region: t.str(i, ColRegion), Crop: t.str(i, ColCrop)}
		if t.has(ColYear) {
			if s.Year, err = t.int(i, ColYear); err != nil {
				return nil, err
			}
			if s.Year != year {
				continue
			}
		}
		if s.Acres, err = t.zeroFloat(i, ColAcres); err != nil {
			return nil, err
		}
		if s.YieldPerAcre, err = t.float(i, ColYieldPerAcre); err != nil {
			return nil, err
		}
		if s.Yield, err = t.zeroFloat(i, ColYield); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ReadCropLabels reads the survey crop to label lookup.
func ReadCropLabels(fsys fsutil.FileSystem, path string) ([]lookup.CropLabel, error) {
	t, err := readTable(fsys, path)
	if err != nil {
		return nil, err
	}
	if err := t.require(ColCropLUT, ColLabel); err != nil {
		return nil, err
	}
	out := make([]lookup.CropLabel, 0, len(t.rows))
	for i := range t.rows {
		out = append(out, lookup.CropLabel{Crop: t.str(i, ColCropLUT), Label: t.str(i, ColLabel)})
	}
	return out, nil
}

// ReadLabelCodes reads the label to raster code lookup.
func ReadLabelCodes(fsys fsutil.FileSystem, path string) ([]lookup.LabelCode, error) {
	t, err := readTable(fsys, path)
	if err != nil {
		return nil, err
	}
	if err := t.require(ColCode, ColLabel); err != nil {
		return nil, err
	}
	out := make([]lookup.LabelCode, 0, len(t.rows))
	for i := range t.rows {
		code, err := t.int(i, ColCode)
		if err != nil {
			return nil, err
		}
		out = append(out, lookup.LabelCode{Code: code, Label: t.str(i, ColLabel)})
	}
	return out, nil
}

// ReadResidueFactors reads the residue-to-product and sustainable
// availability factors. Missing factors read as 0 and are treated as 1
// downstream.
func ReadResidueFactors(fsys fsutil.FileSystem, path string) ([]targets.ResidueFactor, error) {
	t, err := readTable(fsys, path)
	if err != nil {
		return nil, err
	}
	if err := t.require(ColCrop, ColRPR, ColSAF); err != nil {
		return nil, err
	}
	out := make([]targets.ResidueFactor, 0, len(t.rows))
	for i := range t.rows {
		f := targets.ResidueFactor{Crop: t.str(i, ColCrop)}
		if f.RPR, err = t.zeroFloat(i, ColRPR); err != nil {
			return nil, err
		}
		if f.SAF, err = t.zeroFloat(i, ColSAF); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// ReadYieldTotal returns the survey summary's total yield in tonnes for
// year. ok is false when the year has no row or no value.
func ReadYieldTotal(fsys fsutil.FileSystem, path string, year int) (total float64, ok bool, err error) {
	t, err := readTable(fsys, path)
	if err != nil {
		return 0, false, err
	}
	if err := t.require(ColYear, ColYieldTonnes); err != nil {
		return 0, false, err
	}
	for i := range t.rows {
		y, err := t.int(i, ColYear)
		if err != nil {
			return 0, false, err
		}
		if y != year {
			continue
		}
		v, err := t.zeroFloat(i, ColYieldTonnes)
		if err != nil {
			return 0, false, err
		}
		return v, v > 0, nil
	}
	return 0, false, nil
}

// ReadTargets reads a pixel target table written by WriteTargets.
func ReadTargets(fsys fsutil.FileSystem, path string) ([]targets.Row, error) {
	t, err := readTable(fsys, path)
	if err != nil {
		return nil, err
	}
	if err := t.require(ColSubRegionName, ColLabel, ColCode, colTargetPixels, colYieldPerPixel, colBiomassPerPixel); err != nil {
		return nil, err
	}
	out := make([]targets.Row, 0, len(t.rows))
	for i := range t.rows {
		r := targets.Row{
			SubRegionID:   t.str(i, ColSubRegionID),
			SubRegionName: t.str(i, ColSubRegionName),
			Region:        t.str(i, ColRegion),
			Label:         t.str(i, ColLabel),
		}
		if r.Code, err = t.int(i, ColCode); err != nil {
			return nil, err
		}
		fields := []struct {
			col string
			dst *float64
		}{
			{colTargetAcres, &r.Acres},
			{colTargetHectares, &r.Hectares},
			{colTargetPixels, &r.Pixels},
			{colSurveyAcres, &r.SurveyAcres},
			{ColYieldPerAcre, &r.YieldPerAcre},
			{colYieldTotal, &r.YieldTotal},
			{colBiomassTotal, &r.BiomassTotal},
			{colNormYield, &r.NormYieldTotal},
			{colNormBiomass, &r.NormBiomassTotal},
			{colYieldPerPixel, &r.YieldPerPixel},
			{colBiomassPerPixel, &r.BiomassPerPixel},
		}
		for _, f := range fields {
			if *f.dst, err = t.zeroFloat(i, f.col); err != nil {
				return nil, fmt.Errorf("targets: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, nil
}
