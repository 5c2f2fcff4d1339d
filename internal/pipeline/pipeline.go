// Package pipeline runs the stages of one year's reconciliation: region
// reconciliation, sub-region distribution and top-up, target building and
// pixel materialization, with the audit trail written alongside.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/ag-res/reconcile/internal/config"
	"github.com/ag-res/reconcile/internal/diagnostics"
	"github.com/ag-res/reconcile/internal/distribute"
	"github.com/ag-res/reconcile/internal/fsutil"
	"github.com/ag-res/reconcile/internal/lookup"
	"github.com/ag-res/reconcile/internal/materialize"
	"github.com/ag-res/reconcile/internal/monitoring"
	"github.com/ag-res/reconcile/internal/publish"
	"github.com/ag-res/reconcile/internal/raster"
	"github.com/ag-res/reconcile/internal/reconcile"
	"github.com/ag-res/reconcile/internal/store"
	"github.com/ag-res/reconcile/internal/tables"
	"github.com/ag-res/reconcile/internal/targets"
	"github.com/ag-res/reconcile/internal/timeutil"
)

// Pipeline holds what every stage of a run needs. Store and Publisher are
// optional.
type Pipeline struct {
	Config    *config.RunConfig
	Layout    config.Layout
	FS        fsutil.FileSystem
	Clock     timeutil.Clock
	Store     *store.Store
	Publisher publish.Publisher
}

// New returns a pipeline over the data root named by cfg.
func New(cfg *config.RunConfig, fsys fsutil.FileSystem) *Pipeline {
	if cfg == nil {
		cfg = config.EmptyRunConfig()
	}
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Pipeline{
		Config: cfg,
		Layout: config.NewLayout(cfg.GetDataRoot()),
		FS:     fsys,
		Clock:  timeutil.RealClock{},
	}
}

// Setup creates the directory layout for year.
func (p *Pipeline) Setup(year int) error {
	if err := p.Layout.EnsureYear(p.FS, year); err != nil {
		return err
	}
	if err := p.Layout.EnsureReports(p.FS); err != nil {
		return err
	}
	diagf("layout ready under %s for %d", p.Layout.Root, year)
	return nil
}

// Inputs are the tables read by the reconcile stage.
type Inputs struct {
	SubRegions []distribute.SubRegionRecord
	RegionLUT  []lookup.Entry
	Survey     []targets.Survey
	CropLabels []lookup.CropLabel
	LabelCodes []lookup.LabelCode
	Residue    []targets.ResidueFactor
	YieldTotal float64
}

// LoadInputs reads the reconcile stage's tables for year. The residue
// factors and survey summary are optional.
func (p *Pipeline) LoadInputs(year int) (Inputs, error) {
	var (
		in  Inputs
		err error
	)
	if in.SubRegions, err = tables.ReadSubRegionSummary(p.FS, p.Layout.SubRegionSummary(year)); err != nil {
		return in, fmt.Errorf("sub-region summary: %w", err)
	}
	if in.RegionLUT, err = tables.ReadSubRegionLUT(p.FS, p.Layout.SubRegionLUT()); err != nil {
		return in, fmt.Errorf("sub-region lookup: %w", err)
	}
	if in.Survey, err = tables.ReadSurvey(p.FS, p.Layout.SurveyImputed(year), year); err != nil {
		return in, fmt.Errorf("survey: %w", err)
	}
	if in.CropLabels, err = tables.ReadCropLabels(p.FS, p.Layout.CropLabelLUT()); err != nil {
		return in, fmt.Errorf("crop labels: %w", err)
	}
	if in.LabelCodes, err = tables.ReadLabelCodes(p.FS, p.Layout.LabelCodeLUT()); err != nil {
		return in, fmt.Errorf("label codes: %w", err)
	}

	if path := p.Layout.ResidueFactors(); p.FS.Exists(path) {
		if in.Residue, err = tables.ReadResidueFactors(p.FS, path); err != nil {
			return in, fmt.Errorf("residue factors: %w", err)
		}
	} else {
		opsf("no residue factors at %s, biomass uses factors of 1", path)
	}
	if path := p.Layout.SurveySummary(); p.FS.Exists(path) {
		total, ok, err := tables.ReadYieldTotal(p.FS, path, year)
		if err != nil {
			return in, fmt.Errorf("survey summary: %w", err)
		}
		if ok {
			in.YieldTotal = total
		} else {
			opsf("survey summary has no yield total for %d, yields are not normalized", year)
		}
	}

	diagf("loaded %d sub-region rows, %d survey rows for %d", len(in.SubRegions), len(in.Survey), year)
	return in, nil
}

// Outcome is what the reconcile stage produced.
type Outcome struct {
	Corrected   []reconcile.Record
	Result      reconcile.Result
	Distributed distribute.Result
	Shares      []distribute.Share
	Ledger      []reconcile.TopUpRow
	TopUp       reconcile.TopUpSummary
	Targets     []targets.Row
	Norm        targets.Normalization
}

// Reconcile runs the reconcile stage for year and writes its tables, the
// conservation report and the year's stats row.
func (p *Pipeline) Reconcile(ctx context.Context, year int) (*Outcome, diagnostics.Tables, error) {
	rec := diagnostics.NewRecorder(p.Config.GetToleranceAcres())
	out, err := p.reconcile(ctx, year, rec)
	if err != nil {
		return nil, rec.Tables(), err
	}
	tabs := rec.Tables()
	return out, tabs, p.writeRunReports(year, tabs)
}

func (p *Pipeline) reconcile(ctx context.Context, year int, rec *diagnostics.Recorder) (*Outcome, error) {
	in, err := p.LoadInputs(year)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	surveyed := make(map[string]bool)
	for _, s := range in.Survey {
		surveyed[s.Region] = true
	}
	regions := lookup.NewRegionLUT(in.RegionLUT, surveyed)
	mapped, unmapped := distribute.Attach(in.SubRegions, regions.Region)
	rec.RecordUnmapped(unmapped)

	labels := lookup.NewLabelLUT(in.CropLabels)
	truth := groundTruth(in.Survey, labels)

	out := &Outcome{}
	out.Corrected = reconcile.Aggregate(distribute.ToSensed(mapped), truth)
	before := reconcile.Clone(out.Corrected)
	out.Result = reconcile.Reconcile(out.Corrected, reconcile.Options{Tolerance: p.Config.GetToleranceAcres()})
	rec.RecordReconciliation(before, out.Corrected, out.Result)

	out.Distributed = distribute.Distribute(mapped, out.Corrected)
	rec.RecordDistribution(out.Distributed, out.Corrected)
	out.Shares = distribute.ComputeShares(distribute.DropEmpty(out.Distributed.Rows))
	rec.RecordShares(distribute.Audit(out.Shares))
	if err := tables.WriteShares(p.FS, p.Layout.ReallocatedSummary(year), out.Shares); err != nil {
		return nil, err
	}

	level := p.Config.GetTopUpLevel()
	donors := p.Config.GetDonorPriority()
	out.Ledger = distribute.TopUpRows(out.Shares, truth, level)
	out.TopUp = reconcile.TopUp(out.Ledger, donors)
	distribute.ApplyTopUp(out.Shares, out.Ledger, level)
	rec.RecordTopUp(out.Ledger)

	out.Targets, out.Norm, err = targets.Build(targets.Inputs{
		Shares:     out.Shares,
		Survey:     in.Survey,
		Labels:     labels,
		Codes:      lookup.NewCodeLUT(in.LabelCodes),
		Residue:    in.Residue,
		YieldTotal: in.YieldTotal,
	})
	if err != nil {
		return nil, fmt.Errorf("build targets: %w", err)
	}

	tabs := rec.Tables()
	writes := []struct {
		name  string
		write func() error
	}{
		{"reconciled regions", func() error {
			return tables.WriteReconciled(p.FS, p.Layout.ReconciledRegions(year), out.Corrected)
		}},
		{"shares", func() error { return tables.WriteShares(p.FS, p.Layout.SharesTable(year), out.Shares) }},
		{"top-up ledger", func() error { return tables.WriteTopUp(p.FS, p.Layout.TopUpTable(year), out.Ledger, donors) }},
		{"targets", func() error { return tables.WriteTargets(p.FS, p.Layout.TargetsTable(year), out.Targets) }},
		{"change detail", func() error {
			return tables.WriteChangeDetail(p.FS, p.Layout.ReallocationDetail(year), tabs.RowDeltas)
		}},
		{"change summary", func() error {
			return tables.WriteChangeSummary(p.FS, p.Layout.ReallocationSummary(year), tabs.Regions)
		}},
		{"scale factors", func() error {
			return tables.WriteScaleFactors(p.FS, p.Layout.ScaleFactorReport(year), tabs.ScaleFactors)
		}},
		{"share audit", func() error { return tables.WriteShareAudit(p.FS, p.Layout.ShareAudit(year), tabs.ShareAudit) }},
		{"unmapped sub-regions", func() error {
			return tables.WriteUnmapped(p.FS, p.Layout.UnmappedSubRegions(), tabs.Unmapped)
		}},
	}
	for _, w := range writes {
		if err := w.write(); err != nil {
			return nil, fmt.Errorf("write %s: %w", w.name, err)
		}
		tracef("wrote %s", w.name)
	}

	diagf("reconciled %d: %d records, zeroed=%d topped_up=%d shortfalls=%d, %d target rows",
		year, len(out.Corrected), out.Result.Zeroed, out.Result.ToppedUp, len(out.Result.Shortfalls), len(out.Targets))
	return out, nil
}

// groundTruth maps survey crops to labels. Crops without a label are left
// out.
func groundTruth(survey []targets.Survey, labels *lookup.LabelLUT) []reconcile.Truth {
	out := make([]reconcile.Truth, 0, len(survey))
	missing := make(map[string]bool)
	for _, s := range survey {
		label, ok := labels.Label(s.Crop)
		if !ok {
			if !missing[s.Crop] {
				missing[s.Crop] = true
				tracef("survey crop %q has no label", s.Crop)
			}
			continue
		}
		out = append(out, reconcile.Truth{Region: s.Region, Label: label, Acres: s.Acres})
	}
	if len(missing) > 0 {
		opsf("%d survey crops have no label and are excluded from ground truth", len(missing))
	}
	return out
}

// writeRunReports writes the conservation report and upserts the year's
// stats row.
func (p *Pipeline) writeRunReports(year int, tabs diagnostics.Tables) error {
	if err := tables.WriteConservation(p.FS, p.Layout.ConservationReport(year), tabs.Conservation); err != nil {
		return fmt.Errorf("write conservation report: %w", err)
	}
	if err := tables.UpsertRunStats(p.FS, p.Layout.ReallocationStats(), year, tabs.Stats); err != nil {
		return fmt.Errorf("write run stats: %w", err)
	}
	if dev := tabs.Deviations(); len(dev) > 0 {
		opsf("%d conservation checks outside tolerance for %d", len(dev), year)
	}
	return nil
}

// Result summarizes a full run.
type Result struct {
	RunID     string
	Year      int
	Seed      uint64
	Outcome   *Outcome
	Report    materialize.Report
	Tables    diagnostics.Tables
	Published []string
	// Started is when Run began; Stages holds the duration of each stage
	// that ran.
	Started time.Time
	Stages  []timeutil.StageDuration
}

// Seed returns the configured seed, or a freshly drawn one.
func (p *Pipeline) Seed() uint64 {
	if seed, ok := p.Config.GetSeed(); ok {
		return seed
	}
	seed := rand.Uint64()
	opsf("no seed configured, drew %d", seed)
	return seed
}

// Run executes every stage for year. With a store the run and its audit
// tables are recorded; with a publisher the artifacts are published.
func (p *Pipeline) Run(ctx context.Context, year int) (*Result, error) {
	clock := p.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	res := &Result{Year: year, Seed: p.Seed(), Started: clock.Now()}
	if err := p.Setup(year); err != nil {
		return nil, err
	}

	if p.Store != nil {
		cfgJSON, err := json.Marshal(p.Config)
		if err != nil {
			return nil, fmt.Errorf("encode config: %w", err)
		}
		if res.RunID, err = p.Store.StartRun(ctx, year, res.Seed, string(cfgJSON)); err != nil {
			return nil, err
		}
	} else {
		res.RunID = uuid.NewString()
	}
	monitoring.Logf("run %s: year %d, seed %d", res.RunID, year, res.Seed)

	stages := timeutil.NewStages(clock)
	defer func() { res.Stages = stages.Durations() }()

	rec := diagnostics.NewRecorder(p.Config.GetToleranceAcres())
	err := p.run(ctx, year, res, rec, stages)
	res.Tables = rec.Tables()
	if err != nil {
		p.finish(ctx, res.RunID, store.StatusFailed, res.Tables)
		return res, err
	}

	err = stages.Time("record", func() error {
		if err := p.writeRunReports(year, res.Tables); err != nil {
			return err
		}
		if p.Store == nil {
			return nil
		}
		return p.Store.SaveTables(ctx, res.RunID, res.Tables)
	})
	if err != nil {
		p.finish(ctx, res.RunID, store.StatusFailed, res.Tables)
		return res, err
	}
	if err := p.finish(ctx, res.RunID, store.StatusComplete, res.Tables); err != nil {
		return res, err
	}

	if p.Publisher != nil {
		err = stages.Time("publish", func() error {
			var err error
			res.Published, err = p.Publisher.Publish(ctx, year, res.RunID, p.Artifacts(year))
			return err
		})
		if err != nil {
			return res, fmt.Errorf("publish: %w", err)
		}
	}
	for _, d := range stages.Durations() {
		diagf("run %s: %s took %s", res.RunID, d.Stage, d.Duration)
	}
	monitoring.Logf("run %s complete in %s: %d pixels assigned of %d required, %d sub-regions skipped",
		res.RunID, stages.Total(), res.Tables.Stats.PixelsAssigned, res.Tables.Stats.PixelsRequired, res.Tables.Stats.SkippedSubRegion)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, year int, res *Result, rec *diagnostics.Recorder, stages *timeutil.Stages) error {
	err := stages.Time("reconcile", func() error {
		out, err := p.reconcile(ctx, year, rec)
		res.Outcome = out
		return err
	})
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = stages.Time("rasterize", func() error {
		var err error
		res.Report, err = p.rasterize(ctx, year, res.Seed, res.Outcome.Targets, rec)
		return err
	})
	if err != nil {
		return fmt.Errorf("rasterize: %w", err)
	}
	return nil
}

// finish marks the stored run finished. Without a store it does nothing.
func (p *Pipeline) finish(ctx context.Context, runID, status string, tabs diagnostics.Tables) error {
	if p.Store == nil {
		return nil
	}
	// A cancelled run is still marked.
	err := p.Store.FinishRun(context.WithoutCancel(ctx), runID, status, tabs.Stats, tabs.Failures)
	if err != nil {
		opsf("run %s: %v", runID, err)
	}
	return err
}

// Artifacts lists the files a run publishes for year.
func (p *Pipeline) Artifacts(year int) []publish.Artifact {
	l := p.Layout
	paths := []string{
		l.TargetsTable(year),
		l.CodesRaster(year),
		raster.WorldFilePath(l.CodesRaster(year)),
		l.ValuesRaster(year),
		raster.HeaderPath(l.ValuesRaster(year)),
		l.TopUpTable(year),
		l.ReallocationDetail(year),
		l.ReallocationSummary(year),
		l.ScaleFactorReport(year),
		l.ConservationReport(year),
		l.AssignmentReport(year),
	}
	out := make([]publish.Artifact, 0, len(paths))
	for _, path := range paths {
		if !p.FS.Exists(path) {
			tracef("artifact %s not present", path)
			continue
		}
		out = append(out, publish.Artifact{Path: path})
	}
	return out
}
