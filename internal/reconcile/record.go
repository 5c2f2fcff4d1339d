package reconcile

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Record is the sensed and survey acreage for one region and one category.
// Region×Label is unique within a record set.
type Record struct {
	Region string
	Label  string

	// Sensed quantities, kept in step with each other.
	SensedAcres    float64
	SensedHectares float64
	SensedPixels   float64

	GroundTruthAcres float64
}

// Surplus is sensed minus ground truth acres; negative means a deficit.
func (r Record) Surplus() float64 {
	return r.SensedAcres - r.GroundTruthAcres
}

// zero clears all sensed quantities together.
func (r *Record) zero() {
	r.SensedAcres = 0
	r.SensedHectares = 0
	r.SensedPixels = 0
}

// Sensed is one sensed sub-region row collapsed onto its region.
type Sensed struct {
	Region   string
	Label    string
	Pixels   float64
	Hectares float64
	Acres    float64
}

// Truth is one survey row already mapped to a category label.
type Truth struct {
	Region string
	Label  string
	Acres  float64
}

type key struct{ region, label string }

// Aggregate sums sensed and survey rows to one Record per region×category.
// Categories present on only one side carry zero on the other. The result
// is sorted by region, then label.
func Aggregate(sensed []Sensed, truth []Truth) []Record {
	byKey := make(map[key]*Record)
	get := func(region, label string) *Record {
		k := key{region, label}
		r, ok := byKey[k]
		if !ok {
			r = &Record{Region: region, Label: label}
			byKey[k] = r
		}
		return r
	}

	for _, s := range sensed {
		r := get(s.Region, s.Label)
		r.SensedPixels += s.Pixels
		r.SensedHectares += s.Hectares
		r.SensedAcres += s.Acres
	}
	for _, t := range truth {
		get(t.Region, t.Label).GroundTruthAcres += t.Acres
	}

	out := make([]Record, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Region != out[j].Region {
			return out[i].Region < out[j].Region
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// GroupByRegion returns the indices of records per region, with regions in
// first-seen order.
func GroupByRegion(records []Record) (regions []string, index map[string][]int) {
	index = make(map[string][]int)
	for i, r := range records {
		if _, ok := index[r.Region]; !ok {
			regions = append(regions, r.Region)
		}
		index[r.Region] = append(index[r.Region], i)
	}
	return regions, index
}

// Totals returns the summed sensed and ground truth acres of the given rows.
func Totals(records []Record, idx []int) (sensed, truth float64) {
	s := make([]float64, len(idx))
	g := make([]float64, len(idx))
	for k, i := range idx {
		s[k] = records[i].SensedAcres
		g[k] = records[i].GroundTruthAcres
	}
	return floats.Sum(s), floats.Sum(g)
}

// Clone returns a copy of records.
func Clone(records []Record) []Record {
	return append([]Record(nil), records...)
}
