// Package distribute pushes region-level corrections back down to the
// sub-regions that make up each region.
package distribute

import (
	"github.com/ag-res/reconcile/internal/reconcile"
	"github.com/ag-res/reconcile/internal/units"
)

// SubRegionRecord is the sensed breakdown of one category within one
// sub-region.
type SubRegionRecord struct {
	SubRegionID   string
	SubRegionName string
	Region        string
	Label         string
	Code          int

	Pixels   float64
	Hectares float64
	Acres    float64
}

// Scaling modes recorded on a ScaleFactor.
const (
	ModeScaled    = "scaled"    // original > 0, rows multiplied by corrected/original
	ModeUnchanged = "unchanged" // no corrected total, factor 1
	ModeNew       = "new"       // original 0, corrected total placed on the first row
	ModeEmpty     = "empty"     // both totals 0
)

// ScaleFactor is the factor applied to every sub-region row of one
// region×category.
type ScaleFactor struct {
	Region    string
	Label     string
	Original  float64
	Corrected float64
	Factor    float64
	Rows      int
	Mode      string
}

// Result holds the distributed rows and how each region×category was scaled.
type Result struct {
	Rows        []SubRegionRecord
	Factors     []ScaleFactor
	Synthesized int
}

type key struct{ region, label string }

// Attach sets the region of each row using regionOf. Rows whose sub-region
// name has no region are left out of mapped; their distinct names are
// returned in first-seen order.
func Attach(rows []SubRegionRecord, regionOf func(name string) (string, bool)) (mapped []SubRegionRecord, unmapped []string) {
	seen := make(map[string]bool)
	for _, r := range rows {
		region, ok := regionOf(r.SubRegionName)
		if !ok || region == "" {
			if !seen[r.SubRegionName] {
				seen[r.SubRegionName] = true
				unmapped = append(unmapped, r.SubRegionName)
			}
			continue
		}
		r.Region = region
		mapped = append(mapped, r)
	}
	if len(unmapped) > 0 {
		opsf("%d sub-regions have no region and were excluded", len(unmapped))
	}
	return mapped, unmapped
}

// ToSensed collapses rows to the reconciler's sensed input.
func ToSensed(rows []SubRegionRecord) []reconcile.Sensed {
	out := make([]reconcile.Sensed, len(rows))
	for i, r := range rows {
		out[i] = reconcile.Sensed{
			Region:   r.Region,
			Label:    r.Label,
			Pixels:   r.Pixels,
			Hectares: r.Hectares,
			Acres:    r.Acres,
		}
	}
	return out
}

// Distribute rescales rows so each region×category sums to its corrected
// acreage. Rows are not modified; the result holds copies, with any
// synthesized rows appended after the originals.
//
// A region×category present in corrected but not in rows gets one row on
// the region's first sub-region (or on a row named after the region when it
// has none), and receives the whole corrected total.
func Distribute(rows []SubRegionRecord, corrected []reconcile.Record) Result {
	out := make([]SubRegionRecord, len(rows), len(rows)+len(corrected))
	copy(out, rows)

	firstOfRegion := make(map[string]int)
	groups := make(map[key][]int)
	var order []key
	for i, r := range out {
		if _, ok := firstOfRegion[r.Region]; !ok {
			firstOfRegion[r.Region] = i
		}
		k := key{r.Region, r.Label}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	target := make(map[key]float64, len(corrected))
	var synthesized int
	for _, c := range corrected {
		k := key{c.Region, c.Label}
		target[k] = c.SensedAcres
		if _, ok := groups[k]; ok {
			continue
		}
		row := SubRegionRecord{Region: c.Region, Label: c.Label, SubRegionName: c.Region}
		if fi, ok := firstOfRegion[c.Region]; ok {
			row.SubRegionID = out[fi].SubRegionID
			row.SubRegionName = out[fi].SubRegionName
		}
		out = append(out, row)
		groups[k] = []int{len(out) - 1}
		order = append(order, k)
		synthesized++
		tracef("synthesized %s/%s on %q", c.Region, c.Label, row.SubRegionName)
	}
	if synthesized > 0 {
		diagf("synthesized %d rows for categories new at region level", synthesized)
	}

	factors := make([]ScaleFactor, 0, len(order))
	for _, k := range order {
		idx := groups[k]
		orig := 0.0
		for _, i := range idx {
			orig += out[i].Acres
		}
		sf := ScaleFactor{Region: k.region, Label: k.label, Original: orig, Rows: len(idx)}

		corr, ok := target[k]
		switch {
		case !ok:
			sf.Corrected, sf.Factor, sf.Mode = orig, 1, ModeUnchanged
		case orig > 0:
			sf.Corrected, sf.Factor, sf.Mode = corr, corr/orig, ModeScaled
			for _, i := range idx {
				scale(&out[i], sf.Factor)
			}
		case corr > 0:
			sf.Corrected, sf.Mode = corr, ModeNew
			for n, i := range idx {
				if n == 0 {
					setAcres(&out[i], corr)
					continue
				}
				scale(&out[i], 0)
			}
		default:
			sf.Corrected, sf.Mode = 0, ModeEmpty
			for _, i := range idx {
				scale(&out[i], 0)
			}
		}
		factors = append(factors, sf)
	}

	return Result{Rows: out, Factors: factors, Synthesized: synthesized}
}

func scale(r *SubRegionRecord, f float64) {
	r.Pixels *= f
	r.Hectares *= f
	r.Acres *= f
}

func setAcres(r *SubRegionRecord, acres float64) {
	r.Acres = acres
	r.Hectares = units.AcresToHectares(acres)
	r.Pixels = units.HectaresToPixels(r.Hectares)
}

// DropEmpty returns the rows carrying any acreage.
func DropEmpty(rows []SubRegionRecord) []SubRegionRecord {
	out := rows[:0:0]
	for _, r := range rows {
		if r.Acres > 0 || r.Pixels > 0 {
			out = append(out, r)
		}
	}
	return out
}
