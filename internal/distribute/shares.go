package distribute

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/ag-res/reconcile/internal/reconcile"
)

// Share is a sub-region's fraction of its region's pixels for one category.
type Share struct {
	SubRegionRecord

	RegionPixels float64
	Share        float64
}

// ShareAudit checks that the shares of one region×category add up to one.
type ShareAudit struct {
	Region      string
	Label       string
	TotalPixels float64
	Rows        int
	SumShare    float64
	Deviation   float64
}

// ComputeShares returns one Share per row. A region×category with no pixels
// gives every row a share of zero.
func ComputeShares(rows []SubRegionRecord) []Share {
	totals := make(map[key]float64)
	for _, r := range rows {
		totals[key{r.Region, r.Label}] += r.Pixels
	}
	out := make([]Share, len(rows))
	for i, r := range rows {
		total := totals[key{r.Region, r.Label}]
		out[i] = Share{SubRegionRecord: r, RegionPixels: total}
		if total > 0 {
			out[i].Share = r.Pixels / total
		}
	}
	return out
}

// Audit summarises shares per region×category, in first-seen order.
func Audit(shares []Share) []ShareAudit {
	groups := make(map[key][]float64)
	var order []key
	first := make(map[key]float64)
	for _, s := range shares {
		k := key{s.Region, s.Label}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
			first[k] = s.RegionPixels
		}
		groups[k] = append(groups[k], s.Share)
	}

	out := make([]ShareAudit, 0, len(order))
	worst := 0.0
	for _, k := range order {
		sum := floats.Sum(groups[k])
		a := ShareAudit{
			Region:      k.region,
			Label:       k.label,
			TotalPixels: first[k],
			Rows:        len(groups[k]),
			SumShare:    sum,
			Deviation:   math.Abs(sum - 1),
		}
		if a.TotalPixels > 0 && a.Deviation > worst {
			worst = a.Deviation
		}
		out = append(out, a)
	}
	diagf("share audit: %d region×category groups, worst deviation %.2e", len(out), worst)
	return out
}

// TopUpRows builds the top-up ledger input at the given level. At sub-region
// level each share row is a unit with a target of its share of the region's
// ground truth. At region level rows are summed per region×category.
func TopUpRows(shares []Share, truth []reconcile.Truth, level string) []reconcile.TopUpRow {
	gt := make(map[key]float64)
	for _, t := range truth {
		gt[key{t.Region, t.Label}] += t.Acres
	}

	if level == reconcile.LevelRegion {
		byKey := make(map[key]int)
		var out []reconcile.TopUpRow
		for _, s := range shares {
			k := key{s.Region, s.Label}
			i, ok := byKey[k]
			if !ok {
				i = len(out)
				byKey[k] = i
				out = append(out, reconcile.TopUpRow{Unit: s.Region, Region: s.Region, Label: s.Label, Target: gt[k]})
			}
			out[i].Before += s.Acres
		}
		return out
	}

	out := make([]reconcile.TopUpRow, len(shares))
	for i, s := range shares {
		out[i] = reconcile.TopUpRow{
			Unit:   s.SubRegionID + "|" + s.SubRegionName,
			Region: s.Region,
			Label:  s.Label,
			Before: s.Acres,
			Target: gt[key{s.Region, s.Label}] * s.Share,
		}
	}
	return out
}

// ApplyTopUp moves the top-up outcome onto the share rows. At sub-region
// level rows take their ledger acreage directly; at region level each row
// takes its share of the region's change. Hectares and pixels follow the
// new acreage.
func ApplyTopUp(shares []Share, ledger []reconcile.TopUpRow, level string) {
	if level == reconcile.LevelRegion {
		delta := make(map[key]float64, len(ledger))
		for _, r := range ledger {
			delta[key{r.Region, r.Label}] = r.After - r.Before
		}
		seen := make(map[key]bool, len(ledger))
		for i := range shares {
			k := key{shares[i].Region, shares[i].Label}
			first := !seen[k]
			seen[k] = true
			d := delta[k]
			if d == 0 {
				continue
			}
			part := shares[i].Share
			if shares[i].RegionPixels == 0 && first {
				part = 1
			}
			setAcres(&shares[i].SubRegionRecord, math.Max(0, shares[i].Acres+part*d))
		}
		return
	}

	for i := range shares {
		if i >= len(ledger) {
			break
		}
		if ledger[i].After != shares[i].Acres {
			setAcres(&shares[i].SubRegionRecord, ledger[i].After)
		}
	}
}
