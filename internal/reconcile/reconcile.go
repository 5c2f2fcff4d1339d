package reconcile

import (
	"math"
	"sort"

	"github.com/ag-res/reconcile/internal/units"
)

// DefaultTolerance is the absolute acreage tolerance used when comparing a
// region's sensed total to its ground truth total.
const DefaultTolerance = 1e-3

// Options controls a reconciliation pass.
type Options struct {
	// Tolerance is the absolute acreage below which a region's sensed and
	// ground truth totals are considered equal.
	Tolerance float64
}

// DefaultOptions returns Options with the default tolerance.
func DefaultOptions() Options {
	return Options{Tolerance: DefaultTolerance}
}

func (o Options) tolerance() float64 {
	if o.Tolerance <= 0 {
		return DefaultTolerance
	}
	return o.Tolerance
}

// Transfer is one movement of acreage from a surplus category to a deficit
// category within a region.
type Transfer struct {
	Region string
	From   string
	To     string
	Acres  float64
}

// Shortfall is a deficit the region's donors could not cover.
type Shortfall struct {
	Region    string
	Label     string
	Requested float64
	Received  float64
	Unmet     float64
}

// Deviation is a region whose sensed total still differs from its ground
// truth total after reconciliation.
type Deviation struct {
	Region      string
	Sensed      float64
	GroundTruth float64
	Delta       float64
}

// Result summarises a reconciliation pass. The records themselves are
// corrected in place.
type Result struct {
	Zeroed     int
	ToppedUp   int
	Skipped    []string
	Transfers  []Transfer
	Shortfalls []Shortfall
	Deviations []Deviation
}

// Reconcile corrects records in place, one region at a time. Regions are
// processed in first-seen order and never share state.
//
// A region whose ground truth total is zero is left untouched. Otherwise
// sensed-only categories are zeroed, then categories with no sensed acreage
// but positive ground truth draw from the region's surplus categories,
// largest surplus first.
func Reconcile(records []Record, opts Options) Result {
	var res Result
	tol := opts.tolerance()

	regions, index := GroupByRegion(records)
	for _, region := range regions {
		idx := index[region]
		_, gt := Totals(records, idx)
		if gt <= 0 {
			opsf("region %q: ground truth total is zero, skipped", region)
			res.Skipped = append(res.Skipped, region)
			continue
		}

		res.Zeroed += zeroUnsurveyed(records, idx)
		transfers, shortfalls, topped := fillDeficits(records, idx)
		res.Transfers = append(res.Transfers, transfers...)
		res.Shortfalls = append(res.Shortfalls, shortfalls...)
		res.ToppedUp += topped

		sensed, gt := Totals(records, idx)
		if delta := sensed - gt; math.Abs(delta) > tol {
			res.Deviations = append(res.Deviations, Deviation{
				Region:      region,
				Sensed:      sensed,
				GroundTruth: gt,
				Delta:       delta,
			})
			diagf("region %q: sensed %.3f vs ground truth %.3f (delta %.3f)", region, sensed, gt, delta)
		}
	}

	diagf("reconciled %d regions: zeroed=%d topped_up=%d skipped=%d shortfalls=%d",
		len(regions), res.Zeroed, res.ToppedUp, len(res.Skipped), len(res.Shortfalls))
	return res
}

// zeroUnsurveyed clears sensed quantities for categories the survey reports
// as absent. It returns the number of rows cleared.
func zeroUnsurveyed(records []Record, idx []int) int {
	n := 0
	for _, i := range idx {
		r := &records[i]
		if r.SensedAcres > 0 && r.GroundTruthAcres == 0 {
			tracef("zero %s/%s (%.3f acres)", r.Region, r.Label, r.SensedAcres)
			r.zero()
			n++
		}
	}
	return n
}

type donor struct {
	i     int
	avail float64
}

// rankDonors returns the region's surplus rows by surplus descending, ties
// broken by label ascending.
func rankDonors(records []Record, idx []int) []donor {
	var donors []donor
	for _, i := range idx {
		if s := records[i].Surplus(); s > 0 {
			donors = append(donors, donor{i: i, avail: s})
		}
	}
	sort.SliceStable(donors, func(a, b int) bool {
		if donors[a].avail != donors[b].avail {
			return donors[a].avail > donors[b].avail
		}
		return records[donors[a].i].Label < records[donors[b].i].Label
	})
	return donors
}

// fillDeficits moves surplus acreage into deficit rows. Donors are drained
// in rank order through a single cursor, so a donor exhausted by one deficit
// is never revisited.
func fillDeficits(records []Record, idx []int) ([]Transfer, []Shortfall, int) {
	var deficits []int
	for _, i := range idx {
		if records[i].SensedAcres == 0 && records[i].GroundTruthAcres > 0 {
			deficits = append(deficits, i)
		}
	}
	if len(deficits) == 0 {
		return nil, nil, 0
	}

	donors := rankDonors(records, idx)
	var (
		transfers  []Transfer
		shortfalls []Shortfall
		topped     int
		cursor     int
		changed    = make(map[int]bool)
	)

	for _, di := range deficits {
		need := records[di].GroundTruthAcres
		received := 0.0
		for need > 0 && cursor < len(donors) {
			d := &donors[cursor]
			take := math.Min(d.avail, need)
			if take > 0 {
				records[d.i].SensedAcres = math.Max(0, records[d.i].SensedAcres-take)
				records[di].SensedAcres += take
				d.avail -= take
				need -= take
				received += take
				changed[d.i] = true
				transfers = append(transfers, Transfer{
					Region: records[di].Region,
					From:   records[d.i].Label,
					To:     records[di].Label,
					Acres:  take,
				})
				tracef("transfer %s: %s -> %s %.3f acres", records[di].Region, records[d.i].Label, records[di].Label, take)
			}
			if d.avail <= 0 {
				cursor++
			}
		}
		if received > 0 {
			topped++
			changed[di] = true
		}
		if need > 0 {
			shortfalls = append(shortfalls, Shortfall{
				Region:    records[di].Region,
				Label:     records[di].Label,
				Requested: records[di].GroundTruthAcres,
				Received:  received,
				Unmet:     need,
			})
			opsf("region %q: %s short %.3f acres after exhausting donors", records[di].Region, records[di].Label, need)
		}
	}

	for i := range changed {
		syncEquivalents(&records[i])
	}
	return transfers, shortfalls, topped
}

// syncEquivalents derives hectares and pixels from the row's acreage.
func syncEquivalents(r *Record) {
	r.SensedHectares = units.AcresToHectares(r.SensedAcres)
	r.SensedPixels = units.HectaresToPixels(r.SensedHectares)
}
