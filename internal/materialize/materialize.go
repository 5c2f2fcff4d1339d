// Package materialize burns per sub-region targets onto the pixel grid.
//
// For each sub-region the classified pixels inside its boundary that already
// carry a target category keep their code and receive the target value.
// Categories still short of their required pixel count take additional
// pixels drawn uniformly, without replacement, from the sub-region's
// unassigned and unprotected pixels. Writes touch only the sub-region's own
// masked pixels.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ag-res/reconcile/internal/geometry"
	"github.com/ag-res/reconcile/internal/raster"
)

// Options configures a materialization run.
type Options struct {
	Protected CodeSet
	NoData    uint16
	Sentinel  float32

	// Workers bounds the sub-regions processed concurrently; values below 2
	// process sequentially.
	Workers int

	// Samplers supplies the random source per sub-region. Required.
	Samplers SamplerFactory
}

// Unit is one sub-region boundary, already clipped, with its targets.
type Unit struct {
	Region  geometry.SubRegion
	Targets []Target
}

// Skip records a sub-region that produced no pixels, and why.
type Skip struct {
	SubRegion string
	Reason    string
}

// Report is the outcome of a run.
type Report struct {
	Processed int
	Skipped   []Skip
	Log       []LogEntry
}

// Materializer writes targets into an output raster pair derived from a
// classified source grid.
type Materializer struct {
	src  *raster.CategoryGrid
	out  raster.Pair
	opts Options

	mu sync.Mutex // guards out
}

// New returns a Materializer reading src. The output pair starts unset.
func New(src *raster.CategoryGrid, opts Options) (*Materializer, error) {
	if src == nil {
		return nil, errors.New("materialize: source grid is required")
	}
	if opts.Samplers == nil {
		return nil, errors.New("materialize: sampler factory is required")
	}
	if opts.Sentinel == 0 {
		opts.Sentinel = raster.NoDataValue
	}
	return &Materializer{src: src, out: raster.NewPair(src), opts: opts}, nil
}

// Output returns the output grids.
func (m *Materializer) Output() raster.Pair { return m.out }

type unitResult struct {
	log  []LogEntry
	skip *Skip
}

// Run processes every unit. Geometric failures skip the unit; only context
// cancellation and grid write errors are returned. Log entries follow unit
// order regardless of worker count.
func (m *Materializer) Run(ctx context.Context, units []Unit) (Report, error) {
	results := make([]unitResult, len(units))

	g, gctx := errgroup.WithContext(ctx)
	if m.opts.Workers > 1 {
		g.SetLimit(m.opts.Workers)
	} else {
		g.SetLimit(1)
	}
	for i := range units {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := m.processUnit(units[i])
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	var rep Report
	for _, r := range results {
		if r.skip != nil {
			rep.Skipped = append(rep.Skipped, *r.skip)
			continue
		}
		rep.Processed++
		rep.Log = append(rep.Log, r.log...)
	}
	diagf("materialized %d sub-regions, skipped %d, %d log entries", rep.Processed, len(rep.Skipped), len(rep.Log))
	return rep, nil
}

func (m *Materializer) processUnit(u Unit) (unitResult, error) {
	name := u.Region.Name
	skip := func(reason string) (unitResult, error) {
		opsf("skipping %s: %s", name, reason)
		return unitResult{skip: &Skip{SubRegion: name, Reason: reason}}, nil
	}
	if len(u.Targets) == 0 {
		return skip("no targets")
	}
	if u.Region.Geom == nil {
		return skip("no geometry")
	}

	win, err := geometry.PixelWindow(u.Region.Geom.Bounds(), m.src.Geo, m.src.Width, m.src.Height)
	if errors.Is(err, geometry.ErrEmptyWindow) || errors.Is(err, geometry.ErrOutsideGrid) {
		return skip(err.Error())
	}
	if err != nil {
		return unitResult{}, err
	}

	codes, err := m.src.ReadWindow(win)
	if err != nil {
		return skip(err.Error())
	}
	if allEqual(codes, m.opts.NoData) {
		return skip("no classified pixels in window")
	}
	mask := geometry.Mask(u.Region.Geom, m.src.Geo, win)

	values := make([]float32, len(codes))
	for i := range values {
		values[i] = m.opts.Sentinel
	}

	w := newWindow(codes, values, mask)
	w.preserve(u.Targets)
	log := w.fill(u.Targets, m.opts.Protected, m.opts.NoData, m.opts.Samplers(samplerKey(u)))
	w.clampValues(m.opts.Sentinel)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.out.Codes.WriteWindow(win, w.codes, mask); err != nil {
		return unitResult{}, fmt.Errorf("write codes for %s: %w", name, err)
	}
	if err := m.out.Values.WriteWindow(win, w.values, mask); err != nil {
		return unitResult{}, fmt.Errorf("write values for %s: %w", name, err)
	}
	tracef("processed %s window %s: %d targets", name, win, len(u.Targets))
	return unitResult{log: log}, nil
}

func samplerKey(u Unit) string {
	if u.Region.ID != "" {
		return u.Region.ID
	}
	return u.Region.Name
}

func allEqual(codes []uint16, v uint16) bool {
	for _, c := range codes {
		if c != v {
			return false
		}
	}
	return true
}

// Units pairs boundaries with their targets by sub-region name. Targets
// whose sub-region has no boundary are returned by name. When only is given,
// sub-regions not named there (by name or id) are left out altogether.
func Units(regions []geometry.SubRegion, targets []Target, only ...string) (units []Unit, missing []string) {
	names, groups := GroupBySubRegion(targets)
	byName := make(map[string]geometry.SubRegion, len(regions))
	for _, r := range regions {
		if _, dup := byName[r.Name]; !dup {
			byName[r.Name] = r
		}
	}
	var keep map[string]bool
	if len(only) > 0 {
		keep = make(map[string]bool, len(only))
		for _, o := range only {
			keep[o] = true
		}
	}
	for _, n := range names {
		r, ok := byName[n]
		if keep != nil && !keep[n] && !(ok && r.ID != "" && keep[r.ID]) {
			continue
		}
		if !ok {
			missing = append(missing, n)
			continue
		}
		units = append(units, Unit{Region: r, Targets: groups[n]})
	}
	return units, missing
}
