package materialize

import "sort"

// Target is the number of pixels a sub-region should carry for one
// category, and the value each of those pixels receives.
type Target struct {
	SubRegionID   string
	SubRegionName string
	Label         string
	Code          uint16
	Required      int
	Value         float32
}

// LogEntry records what the deficit fill did for one target.
type LogEntry struct {
	SubRegionID   string
	SubRegionName string
	Label         string
	Code          uint16
	Required      int
	Existing      int
	NewlyAssigned int
	TotalAssigned int
	Value         float32
}

// Fulfilled is how many of the required pixels hold the target. Preserved
// pixels beyond the requirement are not counted.
func (e LogEntry) Fulfilled() int {
	return min(e.TotalAssigned, e.Required)
}

// Shortfall is how many required pixels the fill could not place.
func (e LogEntry) Shortfall() int {
	if s := e.Required - e.TotalAssigned; s > 0 {
		return s
	}
	return 0
}

// CodeSet is an immutable set of raster codes.
type CodeSet struct {
	codes map[uint16]struct{}
}

// NewCodeSet returns a set holding codes. Values outside the uint16 range
// are ignored.
func NewCodeSet(codes []int) CodeSet {
	s := CodeSet{codes: make(map[uint16]struct{}, len(codes))}
	for _, c := range codes {
		if c < 0 || c > 0xFFFF {
			continue
		}
		s.codes[uint16(c)] = struct{}{}
	}
	return s
}

// Contains reports whether code is in the set.
func (s CodeSet) Contains(code uint16) bool {
	_, ok := s.codes[code]
	return ok
}

// Codes returns the members in ascending order.
func (s CodeSet) Codes() []uint16 {
	out := make([]uint16, 0, len(s.codes))
	for c := range s.codes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GroupBySubRegion splits targets per sub-region name, keeping input order
// within each group. Names are returned in first-seen order.
func GroupBySubRegion(targets []Target) ([]string, map[string][]Target) {
	groups := make(map[string][]Target)
	var names []string
	for _, t := range targets {
		if _, ok := groups[t.SubRegionName]; !ok {
			names = append(names, t.SubRegionName)
		}
		groups[t.SubRegionName] = append(groups[t.SubRegionName], t)
	}
	return names, groups
}
