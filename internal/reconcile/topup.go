package reconcile

import "math"

// Top-up levels.
const (
	LevelRegion    = "region"
	LevelSubRegion = "sub_region"
)

// DefaultDonors is the fixed order in which broad categories give up
// acreage to units still short of their target.
var DefaultDonors = []string{"Other crops", "Pasture/forages", "Canola/rapeseed"}

// Row status after top-up.
const (
	StatusDonor     = "donor"
	StatusRecipient = "recipient"
	StatusBalanced  = "balanced"
)

// TopUpRow is one unit×category line of the top-up ledger. Unit is a
// sub-region or a region depending on the configured level.
type TopUpRow struct {
	Unit   string
	Region string
	Label  string

	Before float64
	Target float64
	After  float64

	// Taken holds the acreage received from each donor label.
	Taken map[string]float64
}

// Delta is the acreage still missing after top-up; negative for a row
// holding more than its target.
func (r TopUpRow) Delta() float64 {
	return r.Target - r.After
}

// Status classifies the row after top-up.
func (r TopUpRow) Status() string {
	switch d := r.Delta(); {
	case d > 0:
		return StatusRecipient
	case d < 0:
		return StatusDonor
	default:
		return StatusBalanced
	}
}

// TopUpSummary counts the outcome of a top-up pass.
type TopUpSummary struct {
	Units      int
	Recipients int
	Moved      float64
	Unmet      float64
}

// TopUp lets rows below their target draw from the unit's donor categories
// in the given order. A donor gives at most its own excess over its target,
// so no donor is pushed below target. Recipients are fixed before any
// transfer and served in input order. Rows are updated in place; After
// starts from Before.
func TopUp(rows []TopUpRow, donors []string) TopUpSummary {
	var sum TopUpSummary

	units := make(map[string][]int)
	var order []string
	for i := range rows {
		rows[i].After = rows[i].Before
		if rows[i].Taken == nil {
			rows[i].Taken = make(map[string]float64, len(donors))
		}
		u := rows[i].Unit
		if _, ok := units[u]; !ok {
			order = append(order, u)
		}
		units[u] = append(units[u], i)
	}
	sum.Units = len(order)

	for _, u := range order {
		idx := units[u]
		byLabel := make(map[string]int, len(idx))
		for _, i := range idx {
			if _, ok := byLabel[rows[i].Label]; !ok {
				byLabel[rows[i].Label] = i
			}
		}

		var recipients []int
		for _, i := range idx {
			if rows[i].Target > rows[i].After {
				recipients = append(recipients, i)
			}
		}
		sum.Recipients += len(recipients)

		for _, ri := range recipients {
			need := rows[ri].Target - rows[ri].After
			for _, label := range donors {
				if need <= 0 {
					break
				}
				di, ok := byLabel[label]
				if !ok || di == ri {
					continue
				}
				give := math.Min(need, math.Max(0, rows[di].After-rows[di].Target))
				if give <= 0 {
					continue
				}
				rows[di].After -= give
				rows[ri].After += give
				rows[ri].Taken[label] += give
				need -= give
				sum.Moved += give
				tracef("top-up %s: %s <- %s %.3f acres", u, rows[ri].Label, label, give)
			}
			if need > 0 {
				sum.Unmet += need
			}
		}
	}

	diagf("top-up: units=%d recipients=%d moved=%.3f unmet=%.3f", sum.Units, sum.Recipients, sum.Moved, sum.Unmet)
	return sum
}
