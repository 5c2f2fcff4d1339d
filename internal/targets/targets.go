// Package targets turns distributed sub-region acreage and survey yields
// into per-pixel targets for the materializer.
//
// Each sub-region row gets its share of the region's survey acreage,
// yield and residue biomass. Missing yields and biomass are imputed from the
// label median, and the totals are normalized so they sum to the survey's
// ground truth before being divided by the row's pixel count.
package targets

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ag-res/reconcile/internal/distribute"
	"github.com/ag-res/reconcile/internal/lookup"
	"github.com/ag-res/reconcile/internal/materialize"
	"github.com/ag-res/reconcile/internal/units"
)

// Value kinds.
const (
	KindBiomass = "biomass"
	KindYield   = "yield"
)

// Survey is one survey line for a region and crop.
type Survey struct {
	Year         int
	Region       string
	Crop         string
	Acres        float64
	YieldPerAcre float64
	Yield        float64
}

// ResidueFactor converts crop yield to residue biomass: biomass = yield ×
// RPR × SAF.
type ResidueFactor struct {
	Crop string
	RPR  float64
	SAF  float64
}

// Row is the full per sub-region×category target calculation.
type Row struct {
	SubRegionID   string
	SubRegionName string
	Region        string
	Label         string
	Code          int

	Acres    float64
	Hectares float64
	Pixels   float64

	SurveyAcres  float64
	YieldPerAcre float64
	YieldTotal   float64
	BiomassTotal float64

	NormYieldTotal   float64
	NormBiomassTotal float64
	YieldPerPixel    float64
	BiomassPerPixel  float64
}

// Target converts the row to a materializer target using the given value
// kind.
func (r Row) Target(kind string) materialize.Target {
	v := r.BiomassPerPixel
	if kind == KindYield {
		v = r.YieldPerPixel
	}
	return materialize.Target{
		SubRegionID:   r.SubRegionID,
		SubRegionName: r.SubRegionName,
		Label:         r.Label,
		Code:          uint16(r.Code),
		Required:      int(math.Round(r.Pixels)),
		Value:         float32(v),
	}
}

// Inputs are the tables a target build reads.
type Inputs struct {
	Shares  []distribute.Share
	Survey  []Survey
	Labels  *lookup.LabelLUT
	Codes   *lookup.CodeLUT
	Residue []ResidueFactor

	// YieldTotal is the survey's ground truth yield for the year in tonnes.
	// Zero leaves yields unnormalized.
	YieldTotal float64
}

// Normalization records the factors applied to reach the ground truth.
type Normalization struct {
	YieldFactor   float64
	BiomassFactor float64
	YieldTotal    float64
	BiomassTotal  float64
	RowsIn        int
	Dropped       int
	MissingCode   int
}

type key struct{ region, label string }

type surveyGroup struct {
	acres        float64
	yieldPerAcre []float64
	yield        float64
	biomass      float64
}

// Build computes one Row per share row carrying acreage. Rows without a
// raster code for their label are dropped and counted.
func Build(in Inputs) ([]Row, Normalization, error) {
	if in.Labels == nil || in.Codes == nil {
		return nil, Normalization{}, fmt.Errorf("label and code tables are required")
	}

	residue := make(map[string]ResidueFactor, len(in.Residue))
	for _, f := range in.Residue {
		residue[f.Crop] = f
	}

	groups := make(map[key]*surveyGroup)
	biomassGT := 0.0
	unmappedCrops := make(map[string]bool)
	for _, s := range in.Survey {
		rpr, saf := 1.0, 1.0
		if f, ok := residue[s.Crop]; ok {
			rpr, saf = orOne(f.RPR), orOne(f.SAF)
		}
		biomass := s.Yield * rpr * saf
		biomassGT += finite(biomass)

		label, ok := in.Labels.Label(s.Crop)
		if !ok {
			unmappedCrops[s.Crop] = true
			continue
		}
		k := key{s.Region, label}
		g := groups[k]
		if g == nil {
			g = &surveyGroup{}
			groups[k] = g
		}
		g.acres += s.Acres
		if !math.IsNaN(s.YieldPerAcre) {
			g.yieldPerAcre = append(g.yieldPerAcre, s.YieldPerAcre)
		}
		g.yield += s.Yield
		g.biomass += biomass
	}
	if len(unmappedCrops) > 0 {
		opsf("%d survey crops have no label and were excluded", len(unmappedCrops))
	}

	var norm Normalization
	rows := make([]Row, 0, len(in.Shares))
	for _, s := range in.Shares {
		code, ok := in.Codes.Code(s.Label)
		if !ok {
			norm.MissingCode++
			tracef("no code for label %q (%s)", s.Label, s.SubRegionName)
			continue
		}
		r := Row{
			SubRegionID:   s.SubRegionID,
			SubRegionName: s.SubRegionName,
			Region:        s.Region,
			Label:         s.Label,
			Code:          code,
			Acres:         s.Acres,
			Hectares:      units.AcresToHectares(s.Acres),
		}
		r.Pixels = units.HectaresToPixels(r.Hectares)
		if g := groups[key{s.Region, s.Label}]; g != nil {
			r.SurveyAcres = g.acres * s.Share
			if len(g.yieldPerAcre) > 0 {
				r.YieldPerAcre = stat.Mean(g.yieldPerAcre, nil)
			}
			r.BiomassTotal = g.biomass * s.Share
		}
		rows = append(rows, r)
	}
	if norm.MissingCode > 0 {
		opsf("%d rows have a label without a raster code and were dropped", norm.MissingCode)
	}

	imputeByLabel(rows, func(r *Row) *float64 { return &r.YieldPerAcre })
	for i := range rows {
		rows[i].YieldTotal = rows[i].SurveyAcres * rows[i].YieldPerAcre
	}
	imputeByLabel(rows, func(r *Row) *float64 { return &r.BiomassTotal })

	kept := rows[:0]
	for _, r := range rows {
		if r.Acres == 0 && r.SurveyAcres == 0 {
			norm.Dropped++
			continue
		}
		r.YieldTotal = finite(r.YieldTotal)
		r.BiomassTotal = finite(r.BiomassTotal)
		kept = append(kept, r)
	}
	rows = kept
	norm.RowsIn = len(rows)
	if norm.Dropped > 0 {
		diagf("removed %d zero-acre rows before normalization", norm.Dropped)
	}

	yields := make([]float64, len(rows))
	biomass := make([]float64, len(rows))
	for i, r := range rows {
		yields[i] = r.YieldTotal
		biomass[i] = r.BiomassTotal
	}
	norm.YieldTotal = in.YieldTotal
	norm.BiomassTotal = biomassGT
	norm.YieldFactor = factor(in.YieldTotal, floats.Sum(yields))
	norm.BiomassFactor = factor(biomassGT, floats.Sum(biomass))

	for i := range rows {
		r := &rows[i]
		r.NormYieldTotal = r.YieldTotal * norm.YieldFactor
		r.NormBiomassTotal = r.BiomassTotal * norm.BiomassFactor
		r.YieldPerPixel = finite(r.NormYieldTotal / r.Pixels)
		r.BiomassPerPixel = finite(r.NormBiomassTotal / r.Pixels)
	}

	diagf("normalized %d rows: yield factor %.6f, biomass factor %.6f", len(rows), norm.YieldFactor, norm.BiomassFactor)
	return rows, norm, nil
}

// ToTargets converts rows to materializer targets, skipping rows that need
// no pixels.
func ToTargets(rows []Row, kind string) []materialize.Target {
	out := make([]materialize.Target, 0, len(rows))
	for _, r := range rows {
		if r.Code < 0 || r.Code > lookup.MaxCode {
			opsf("%s %s: code %d does not fit the category raster, row dropped", r.SubRegionName, r.Label, r.Code)
			continue
		}
		t := r.Target(kind)
		if t.Required <= 0 {
			continue
		}
		out = append(out, t)
	}
	return out
}

// imputeByLabel replaces zero or non-finite values with the median of the
// label's valid values, or the median over all valid values when the label
// has none.
func imputeByLabel(rows []Row, field func(*Row) *float64) {
	byLabel := make(map[string][]float64)
	var all []float64
	for i := range rows {
		v := *field(&rows[i])
		if valid(v) {
			byLabel[rows[i].Label] = append(byLabel[rows[i].Label], v)
			all = append(all, v)
		}
	}
	global := median(all)
	medians := make(map[string]float64, len(byLabel))
	for l, vs := range byLabel {
		medians[l] = median(vs)
	}

	for i := range rows {
		p := field(&rows[i])
		if valid(*p) {
			continue
		}
		if m, ok := medians[rows[i].Label]; ok {
			*p = m
		} else {
			*p = global
		}
	}
}

// median returns the middle value of xs, averaging the two middle values
// when the count is even. An empty slice gives 0.
func median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	return stat.Mean(s[(n-1)/2:n/2+1], nil)
}

func factor(truth, sum float64) float64 {
	if truth <= 0 || sum <= 0 {
		return 1
	}
	return truth / sum
}

func valid(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func finite(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}

func orOne(v float64) float64 {
	if v == 0 || math.IsNaN(v) {
		return 1
	}
	return v
}
