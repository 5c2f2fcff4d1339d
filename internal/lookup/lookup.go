// Package lookup resolves names between the sensed, survey and raster
// vocabularies: sub-region to region, survey crop to category label, and
// category label to raster code.
package lookup

import (
	"sort"
	"strings"
)

// Entry is one row of the sub-region to region table.
type Entry struct {
	SubRegion string
	Region    string
}

// AmbiguityRules lists, for sub-regions whose region changed name or was
// merged, the candidate region names in preference order. The first
// candidate that appears in the survey wins.
var AmbiguityRules = map[string][]string{
	"MUNICIPALITY OF ROBLIN":                    {"HILLSBURG-ROBLIN-SHELL RIVER", "ROBLIN"},
	"MUNICIPALITY OF WESTLAKE-GLADSTONE":        {"WESTBOURNE", "GLADSTONE"},
	"MUNICIPALITY OF KILLARNEY-TURTLE MOUNTAIN": {"KILLARNEY-TURTLE MOUNTAIN", "TURTLE MOUNTAIN"},
}

// ResolveRegion returns the region for subRegion given the regions present
// in the survey. Sub-regions without a rule, or whose candidates are all
// absent, keep region.
func ResolveRegion(subRegion, region string, surveyed map[string]bool) string {
	for _, candidate := range AmbiguityRules[subRegion] {
		if surveyed[candidate] {
			return candidate
		}
	}
	return region
}

// RegionLUT maps sub-region names to region names.
type RegionLUT struct {
	byName map[string]string
}

// NewRegionLUT builds the table from entries, resolving ambiguous names
// against the surveyed regions. When a sub-region appears more than once the
// first entry wins.
func NewRegionLUT(entries []Entry, surveyed map[string]bool) *RegionLUT {
	l := &RegionLUT{byName: make(map[string]string, len(entries))}
	for _, e := range entries {
		name := strings.TrimSpace(e.SubRegion)
		if _, dup := l.byName[name]; dup {
			continue
		}
		l.byName[name] = ResolveRegion(name, strings.TrimSpace(e.Region), surveyed)
	}
	return l
}

// Region returns the region of a sub-region. Unknown sub-regions and
// sub-regions mapped to an empty name report false.
func (l *RegionLUT) Region(subRegion string) (string, bool) {
	r, ok := l.byName[strings.TrimSpace(subRegion)]
	return r, ok && r != ""
}

// Len returns the number of distinct sub-regions.
func (l *RegionLUT) Len() int { return len(l.byName) }

// Regions returns the distinct region names, sorted.
func (l *RegionLUT) Regions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range l.byName {
		if r != "" && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

// LabelLUT maps survey crop names to category labels.
type LabelLUT struct {
	byCrop map[string]string
}

// CropLabel is one row of the crop to label table.
type CropLabel struct {
	Crop  string
	Label string
}

// NewLabelLUT builds the crop table. The first row for a crop wins.
func NewLabelLUT(rows []CropLabel) *LabelLUT {
	l := &LabelLUT{byCrop: make(map[string]string, len(rows))}
	for _, r := range rows {
		crop := strings.TrimSpace(r.Crop)
		if _, dup := l.byCrop[crop]; dup {
			continue
		}
		l.byCrop[crop] = strings.TrimSpace(r.Label)
	}
	return l
}

// Label returns the category label for a survey crop.
func (l *LabelLUT) Label(crop string) (string, bool) {
	lbl, ok := l.byCrop[strings.TrimSpace(crop)]
	return lbl, ok && lbl != ""
}

// CodeLUT maps category labels to raster codes and back.
type CodeLUT struct {
	byLabel map[string]int
	byCode  map[int]string
}

// LabelCode is one row of the label to code table.
type LabelCode struct {
	Code  int
	Label string
}

// MaxCode is the largest code a uint16 category raster can hold.
const MaxCode = 0xFFFF

// NewCodeLUT builds the code table. Codes outside 0..MaxCode are dropped and
// later duplicates of a label or code are ignored.
func NewCodeLUT(rows []LabelCode) *CodeLUT {
	l := &CodeLUT{byLabel: make(map[string]int, len(rows)), byCode: make(map[int]string, len(rows))}
	for _, r := range rows {
		if r.Code < 0 || r.Code > MaxCode {
			continue
		}
		label := strings.TrimSpace(r.Label)
		if _, dup := l.byCode[r.Code]; !dup {
			l.byCode[r.Code] = label
		}
		if _, dup := l.byLabel[label]; !dup {
			l.byLabel[label] = r.Code
		}
	}
	return l
}

// Code returns the raster code of a category label.
func (l *CodeLUT) Code(label string) (int, bool) {
	c, ok := l.byLabel[strings.TrimSpace(label)]
	return c, ok
}

// Label returns the category label of a raster code.
func (l *CodeLUT) Label(code int) (string, bool) {
	lbl, ok := l.byCode[code]
	return lbl, ok
}
