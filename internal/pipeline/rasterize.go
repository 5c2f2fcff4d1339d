package pipeline

import (
	"context"
	"fmt"

	"github.com/ag-res/reconcile/internal/diagnostics"
	"github.com/ag-res/reconcile/internal/geometry"
	"github.com/ag-res/reconcile/internal/materialize"
	"github.com/ag-res/reconcile/internal/raster"
	"github.com/ag-res/reconcile/internal/tables"
	"github.com/ag-res/reconcile/internal/targets"
)

// Skip reasons added for sub-regions the materializer never sees.
const (
	ReasonNoBoundary    = "no boundary"
	ReasonOutsideBorder = "outside jurisdiction"
)

// Rasterize materializes the target table already written for year and
// records the pixel columns of the year's stats row. It returns the seed
// used along with the report.
func (p *Pipeline) Rasterize(ctx context.Context, year int) (materialize.Report, uint64, error) {
	rows, err := tables.ReadTargets(p.FS, p.Layout.TargetsTable(year))
	if err != nil {
		return materialize.Report{}, 0, fmt.Errorf("pixel targets: %w", err)
	}
	seed := p.Seed()
	rec := diagnostics.NewRecorder(p.Config.GetToleranceAcres())
	rep, err := p.rasterize(ctx, year, seed, rows, rec)
	if err != nil {
		return rep, seed, err
	}
	st := rec.Tables().Stats
	if err := tables.UpsertPixelStats(p.FS, p.Layout.ReallocationStats(), year, st); err != nil {
		return rep, seed, fmt.Errorf("write run stats: %w", err)
	}
	diagf("%d: %d of %d required pixels assigned", year, st.PixelsAssigned, st.PixelsRequired)
	return rep, seed, nil
}

// LoadSubRegions reads the sub-region boundaries in raster coordinates,
// clipped to the jurisdiction when its shapefile exists. Sub-regions lying
// outside the jurisdiction are returned by name.
func (p *Pipeline) LoadSubRegions() (regions []geometry.SubRegion, dropped []string, err error) {
	proj := p.Config.GetRasterProj()
	regions, err = geometry.LoadShapes(p.Layout.SubRegionShapes(), geometry.LoadOptions{
		NameField: p.Config.GetSubRegionField(),
		IDField:   p.Config.GetSubRegionIDField(),
		Proj:      proj,
	})
	if err != nil {
		return nil, nil, err
	}
	path := p.Layout.JurisdictionShape()
	if !p.FS.Exists(path) {
		diagf("no jurisdiction boundary at %s, sub-regions are not clipped", path)
		return regions, nil, nil
	}
	boundary, err := geometry.LoadBoundary(path, proj)
	if err != nil {
		return nil, nil, err
	}
	regions, dropped = geometry.ClipAll(regions, boundary)
	if len(dropped) > 0 {
		opsf("%d sub-regions lie outside the jurisdiction", len(dropped))
	}
	return regions, dropped, nil
}

func (p *Pipeline) rasterize(ctx context.Context, year int, seed uint64, rows []targets.Row, rec *diagnostics.Recorder) (materialize.Report, error) {
	srcPath, err := raster.LatestVersion(p.FS, p.Layout.ClassifiedRasterPattern(year))
	if err != nil {
		return materialize.Report{}, err
	}
	src, err := raster.ReadCategoryTIFF(p.FS, srcPath)
	if err != nil {
		return materialize.Report{}, err
	}
	diagf("source raster %s (%dx%d)", srcPath, src.Width, src.Height)

	regions, dropped, err := p.LoadSubRegions()
	if err != nil {
		return materialize.Report{}, err
	}
	only := p.Config.GetOnlySubRegions()
	units, missing := materialize.Units(regions, targets.ToTargets(rows, p.Config.GetValueKind()), only...)
	if len(only) > 0 {
		if len(units) == 0 && len(missing) == 0 {
			return materialize.Report{}, fmt.Errorf("no sub-region with targets matches %v", only)
		}
		opsf("materializing only %v", only)
	}

	m, err := materialize.New(src, materialize.Options{
		Protected: materialize.NewCodeSet(p.Config.GetProtectedCodes()),
		NoData:    p.Config.GetNoDataCode(),
		Sentinel:  p.Config.GetValueSentinel(),
		Workers:   p.Config.GetWorkers(),
		Samplers:  materialize.SeededSamplers(seed),
	})
	if err != nil {
		return materialize.Report{}, err
	}
	rep, err := m.Run(ctx, units)
	if err != nil {
		return rep, err
	}

	outside := make(map[string]bool, len(dropped))
	for _, name := range dropped {
		outside[name] = true
	}
	for _, name := range missing {
		reason := ReasonNoBoundary
		if outside[name] {
			reason = ReasonOutsideBorder
		}
		rep.Skipped = append(rep.Skipped, materialize.Skip{SubRegion: name, Reason: reason})
	}
	if len(missing) > 0 {
		opsf("%d sub-regions with targets were not materialized", len(missing))
	}
	rec.RecordAssignments(rep)

	out := m.Output()
	if err := p.FS.MkdirAll(p.Layout.Rasters(year), 0o755); err != nil {
		return rep, fmt.Errorf("create %s: %w", p.Layout.Rasters(year), err)
	}
	if err := raster.WriteCategoryTIFF(p.FS, p.Layout.CodesRaster(year), out.Codes); err != nil {
		return rep, err
	}
	if err := raster.WriteValueBIL(p.FS, p.Layout.ValuesRaster(year), out.Values); err != nil {
		return rep, err
	}
	if err := tables.WriteAssignments(p.FS, p.Layout.AssignmentReport(year), rep.Log, rep.Skipped); err != nil {
		return rep, fmt.Errorf("write assignment report: %w", err)
	}
	diagf("rasterized %d: %d sub-regions processed, %d skipped", year, rep.Processed, len(rep.Skipped))
	return rep, nil
}
