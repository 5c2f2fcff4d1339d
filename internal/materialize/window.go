package materialize

// window is one sub-region's slice of the grids. Codes and values are
// row-major over the pixel window; mask marks pixels inside the boundary.
type window struct {
	codes    []uint16
	values   []float32
	mask     []bool
	assigned []bool
}

func newWindow(codes []uint16, values []float32, mask []bool) *window {
	return &window{codes: codes, values: values, mask: mask, assigned: make([]bool, len(codes))}
}

// preserve gives every in-mask pixel already carrying a target's code that
// target's value. The first target for a code sets the value.
func (w *window) preserve(targets []Target) {
	seen := make(map[uint16]bool, len(targets))
	for _, t := range targets {
		if seen[t.Code] {
			continue
		}
		seen[t.Code] = true
		for i, c := range w.codes {
			if w.mask[i] && c == t.Code {
				w.values[i] = t.Value
				w.assigned[i] = true
			}
		}
	}
}

func (w *window) count(code uint16) int {
	n := 0
	for i, c := range w.codes {
		if w.mask[i] && c == code {
			n++
		}
	}
	return n
}

// candidates lists in-mask pixels that are free to take a new code.
func (w *window) candidates(protected CodeSet, nodata uint16) []int {
	var out []int
	for i, c := range w.codes {
		if w.mask[i] && !w.assigned[i] && c != nodata && !protected.Contains(c) {
			out = append(out, i)
		}
	}
	return out
}

// fill tops up each target to its required count from the free pixels.
// Every target gets a log entry, including those needing no new pixels.
func (w *window) fill(targets []Target, protected CodeSet, nodata uint16, s Sampler) []LogEntry {
	log := make([]LogEntry, 0, len(targets))
	for _, t := range targets {
		e := LogEntry{
			SubRegionID:   t.SubRegionID,
			SubRegionName: t.SubRegionName,
			Label:         t.Label,
			Code:          t.Code,
			Required:      t.Required,
			Value:         t.Value,
		}
		e.Existing = w.count(t.Code)
		e.TotalAssigned = e.Existing

		if deficit := t.Required - e.Existing; deficit > 0 {
			pool := w.candidates(protected, nodata)
			for _, i := range sampleWithoutReplacement(pool, deficit, s) {
				w.codes[i] = t.Code
				w.values[i] = t.Value
				w.assigned[i] = true
				e.NewlyAssigned++
			}
			e.TotalAssigned += e.NewlyAssigned
			if e.NewlyAssigned < deficit {
				opsf("%s: %s short %d pixels (pool exhausted)", t.SubRegionName, t.Label, deficit-e.NewlyAssigned)
			}
		}
		tracef("%s: %s required=%d existing=%d new=%d", t.SubRegionName, t.Label, e.Required, e.Existing, e.NewlyAssigned)
		log = append(log, e)
	}
	return log
}

// clampValues sets negative values other than sentinel to zero.
func (w *window) clampValues(sentinel float32) {
	for i, v := range w.values {
		if v < 0 && v != sentinel {
			w.values[i] = 0
		}
	}
}
