// Package diagnostics accumulates the audit tables of a run: before and
// after deltas, conservation checks, scale factors, share audits, the top-up
// ledger and the pixel assignment log.
//
// The recorder only reads what it is given. A failure inside a recording
// method is logged and counted; it never reaches the caller.
package diagnostics

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ag-res/reconcile/internal/distribute"
	"github.com/ag-res/reconcile/internal/materialize"
	"github.com/ag-res/reconcile/internal/reconcile"
)

// Conservation stages.
const (
	StageReconcile  = "reconcile"
	StageDistribute = "distribute"
	StageTopUp      = "top_up"
)

// RowDelta is the change to one region×category.
type RowDelta struct {
	Region      string
	Label       string
	Before      float64
	After       float64
	GroundTruth float64
	Delta       float64
	DiffBefore  float64
	DiffAfter   float64
}

// RegionSummary aggregates the changed rows of one region.
type RegionSummary struct {
	Region            string
	ChangedCategories int
	TotalDelta        float64
	MeanDiffBefore    float64
	MeanDiffAfter     float64
}

// Conservation compares an expected total with what a stage produced.
type Conservation struct {
	Stage     string
	Region    string
	Label     string
	Expected  float64
	Actual    float64
	Deviation float64
	Within    bool
}

// RunStats are the headline numbers of a run.
type RunStats struct {
	SensedBefore float64
	SensedAfter  float64
	GroundTruth  float64
	DiffBefore   float64
	DiffAfter    float64
	Zeroed       int
	Deficits     int
	ToppedUp     int
	Shortfalls   int
	Unmapped     int

	PixelsRequired   int
	PixelsAssigned   int
	PixelsUnderfill  int
	SkippedSubRegion int
}

// Tables is a copy of everything recorded so far.
type Tables struct {
	RowDeltas    []RowDelta
	Regions      []RegionSummary
	Conservation []Conservation
	ScaleFactors []distribute.ScaleFactor
	ShareAudit   []distribute.ShareAudit
	TopUp        []reconcile.TopUpRow
	Assignments  []materialize.LogEntry
	Skipped      []materialize.Skip
	Unmapped     []string
	Stats        RunStats
	Failures     int
}

// Recorder accumulates diagnostics for one run. It is safe for concurrent
// use.
type Recorder struct {
	tolerance float64

	mu sync.Mutex
	t  Tables
}

// NewRecorder returns a Recorder flagging conservation deviations above
// tolerance.
func NewRecorder(tolerance float64) *Recorder {
	if tolerance <= 0 {
		tolerance = reconcile.DefaultTolerance
	}
	return &Recorder{tolerance: tolerance}
}

// guard runs fn under the lock and turns a panic into a logged failure.
func (r *Recorder) guard(name string, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			r.t.Failures++
			opsf("recorder %s failed: %v", name, p)
		}
	}()
	fn()
}

// RecordReconciliation records row deltas, region summaries and the
// conservation of each region's ground truth. before must be a copy taken
// ahead of reconciliation.
func (r *Recorder) RecordReconciliation(before, after []reconcile.Record, res reconcile.Result) {
	r.guard("reconciliation", func() {
		prior := make(map[[2]string]reconcile.Record, len(before))
		for _, b := range before {
			prior[[2]string{b.Region, b.Label}] = b
		}

		var sb, sa, gt []float64
		deltas := make([]RowDelta, 0, len(after))
		for _, a := range after {
			b := prior[[2]string{a.Region, a.Label}]
			d := RowDelta{
				Region:      a.Region,
				Label:       a.Label,
				Before:      b.SensedAcres,
				After:       a.SensedAcres,
				GroundTruth: a.GroundTruthAcres,
			}
			d.Delta = d.After - d.Before
			d.DiffBefore = d.Before - d.GroundTruth
			d.DiffAfter = d.After - d.GroundTruth
			deltas = append(deltas, d)
			if d.Delta != 0 {
				tracef("%s/%s: %.4f -> %.4f (ground truth %.4f)", d.Region, d.Label, d.Before, d.After, d.GroundTruth)
			}

			sb = append(sb, b.SensedAcres)
			sa = append(sa, a.SensedAcres)
			gt = append(gt, a.GroundTruthAcres)
			if b.SensedAcres == 0 && b.GroundTruthAcres > 0 {
				r.t.Stats.Deficits++
			}
		}
		r.t.RowDeltas = append(r.t.RowDeltas, deltas...)
		r.t.Regions = append(r.t.Regions, summarize(deltas)...)

		skipped := make(map[string]bool, len(res.Skipped))
		for _, s := range res.Skipped {
			skipped[s] = true
		}
		regions, index := reconcile.GroupByRegion(after)
		for _, region := range regions {
			if skipped[region] {
				continue
			}
			sensed, truth := reconcile.Totals(after, index[region])
			r.t.Conservation = append(r.t.Conservation, r.check(StageReconcile, region, "", truth, sensed))
		}

		st := &r.t.Stats
		st.SensedBefore = floats.Sum(sb)
		st.SensedAfter = floats.Sum(sa)
		st.GroundTruth = floats.Sum(gt)
		st.DiffBefore = st.SensedBefore - st.GroundTruth
		st.DiffAfter = st.SensedAfter - st.GroundTruth
		st.Zeroed = res.Zeroed
		st.ToppedUp = res.ToppedUp
		st.Shortfalls = len(res.Shortfalls)
		diagf("reconciliation: sensed %.2f -> %.2f vs ground truth %.2f", st.SensedBefore, st.SensedAfter, st.GroundTruth)
	})
}

// summarize groups changed rows per region, most changed categories first.
func summarize(deltas []RowDelta) []RegionSummary {
	type acc struct {
		before, after []float64
		total         float64
	}
	groups := make(map[string]*acc)
	var order []string
	for _, d := range deltas {
		if d.Delta == 0 {
			continue
		}
		a := groups[d.Region]
		if a == nil {
			a = &acc{}
			groups[d.Region] = a
			order = append(order, d.Region)
		}
		a.before = append(a.before, d.DiffBefore)
		a.after = append(a.after, d.DiffAfter)
		a.total += d.Delta
	}
	out := make([]RegionSummary, 0, len(order))
	for _, region := range order {
		a := groups[region]
		out = append(out, RegionSummary{
			Region:            region,
			ChangedCategories: len(a.before),
			TotalDelta:        a.total,
			MeanDiffBefore:    stat.Mean(a.before, nil),
			MeanDiffAfter:     stat.Mean(a.after, nil),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChangedCategories > out[j].ChangedCategories })
	return out
}

// RecordDistribution records the scale factors and checks that each
// region×category of the distributed rows sums to its corrected total.
func (r *Recorder) RecordDistribution(res distribute.Result, corrected []reconcile.Record) {
	r.guard("distribution", func() {
		r.t.ScaleFactors = append(r.t.ScaleFactors, res.Factors...)

		sums := make(map[[2]string]float64)
		for _, row := range res.Rows {
			sums[[2]string{row.Region, row.Label}] += row.Acres
		}
		for _, c := range corrected {
			k := [2]string{c.Region, c.Label}
			r.t.Conservation = append(r.t.Conservation, r.check(StageDistribute, c.Region, c.Label, c.SensedAcres, sums[k]))
		}
	})
}

// RecordShares records the share audit.
func (r *Recorder) RecordShares(audit []distribute.ShareAudit) {
	r.guard("shares", func() {
		r.t.ShareAudit = append(r.t.ShareAudit, audit...)
	})
}

// RecordTopUp records the top-up ledger and checks each unit's total is
// unchanged by the transfers.
func (r *Recorder) RecordTopUp(rows []reconcile.TopUpRow) {
	r.guard("top-up", func() {
		type tot struct{ before, after float64 }
		units := make(map[string]*tot)
		var order []string
		for _, row := range rows {
			cp := row
			cp.Taken = make(map[string]float64, len(row.Taken))
			for k, v := range row.Taken {
				cp.Taken[k] = v
			}
			r.t.TopUp = append(r.t.TopUp, cp)

			u := units[row.Unit]
			if u == nil {
				u = &tot{}
				units[row.Unit] = u
				order = append(order, row.Unit)
			}
			u.before += row.Before
			u.after += row.After
		}
		for _, name := range order {
			u := units[name]
			c := r.check(StageTopUp, name, "", u.before, u.after)
			if !c.Within {
				r.t.Conservation = append(r.t.Conservation, c)
			}
		}
	})
}

// RecordAssignments records the materializer's log and skipped sub-regions.
func (r *Recorder) RecordAssignments(rep materialize.Report) {
	r.guard("assignments", func() {
		r.t.Assignments = append(r.t.Assignments, rep.Log...)
		r.t.Skipped = append(r.t.Skipped, rep.Skipped...)
		st := &r.t.Stats
		for _, e := range rep.Log {
			st.PixelsRequired += e.Required
			st.PixelsAssigned += e.Fulfilled()
			st.PixelsUnderfill += e.Shortfall()
		}
		st.SkippedSubRegion += len(rep.Skipped)
	})
}

// RecordUnmapped records sub-regions excluded for lack of a region.
func (r *Recorder) RecordUnmapped(names []string) {
	r.guard("unmapped", func() {
		r.t.Unmapped = append(r.t.Unmapped, names...)
		r.t.Stats.Unmapped += len(names)
	})
}

// Tables returns a copy of everything recorded.
func (r *Recorder) Tables() Tables {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.t
	t.RowDeltas = append([]RowDelta(nil), r.t.RowDeltas...)
	t.Regions = append([]RegionSummary(nil), r.t.Regions...)
	t.Conservation = append([]Conservation(nil), r.t.Conservation...)
	t.ScaleFactors = append([]distribute.ScaleFactor(nil), r.t.ScaleFactors...)
	t.ShareAudit = append([]distribute.ShareAudit(nil), r.t.ShareAudit...)
	t.TopUp = append([]reconcile.TopUpRow(nil), r.t.TopUp...)
	t.Assignments = append([]materialize.LogEntry(nil), r.t.Assignments...)
	t.Skipped = append([]materialize.Skip(nil), r.t.Skipped...)
	t.Unmapped = append([]string(nil), r.t.Unmapped...)
	return t
}

// Deviations returns the conservation checks outside tolerance.
func (t Tables) Deviations() []Conservation {
	var out []Conservation
	for _, c := range t.Conservation {
		if !c.Within {
			out = append(out, c)
		}
	}
	return out
}

func (r *Recorder) check(stage, region, label string, expected, actual float64) Conservation {
	c := Conservation{
		Stage:     stage,
		Region:    region,
		Label:     label,
		Expected:  expected,
		Actual:    actual,
		Deviation: actual - expected,
	}
	c.Within = math.Abs(c.Deviation) <= r.tolerance
	if !c.Within {
		diagf("%s: %s deviates by %.4f (expected %.4f, got %.4f)", stage, key(region, label), c.Deviation, expected, actual)
	}
	return c
}

func key(region, label string) string {
	if label == "" {
		return region
	}
	return fmt.Sprintf("%s/%s", region, label)
}
