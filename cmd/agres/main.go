// Command agres reconciles classified land cover with survey acreage and
// burns the result into per-pixel category and value rasters.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ag-res/reconcile/internal/config"
	"github.com/ag-res/reconcile/internal/fsutil"
	"github.com/ag-res/reconcile/internal/monitoring"
	"github.com/ag-res/reconcile/internal/pipeline"
	"github.com/ag-res/reconcile/internal/publish"
	"github.com/ag-res/reconcile/internal/store"
	"github.com/ag-res/reconcile/internal/units"
	"github.com/ag-res/reconcile/internal/version"
)

const usage = `Usage: agres <command> [flags]

Commands:
  setup       Create the data and report directories for a year
  reconcile   Reconcile, distribute and top up; write the pixel targets
  rasterize   Materialize the pixel targets into the output rasters
  run         Every stage, recorded in the audit database
  migrate     Manage the audit database schema (agres migrate help)

Run 'agres <command> -h' for the flags of a command.
`

// options are the flags shared by every stage command.
type options struct {
	configPath string
	year       int
	logLevel   string
	dataRoot   string
	dbPath     string
	publishTo  string
	seed       uint64
	workers    int
	units      string
	subRegions string
}

func newFlagSet(name string, o *options) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "run configuration JSON (defaults apply when empty)")
	fs.IntVar(&o.year, "year", 0, "year to process")
	fs.StringVar(&o.logLevel, "log-level", monitoring.LevelOps, "log verbosity: quiet, ops, diag or trace")
	fs.StringVar(&o.dataRoot, "data-root", "", "override data_root")
	if name == "run" {
		fs.StringVar(&o.dbPath, "db", "", "override database_path")
		fs.StringVar(&o.publishTo, "publish", "", "override publish_to (directory or s3://bucket/prefix)")
	}
	if name == "run" || name == "reconcile" {
		fs.StringVar(&o.units, "units", units.Acres, "area units for the summary: "+units.GetValidUnitsString())
	}
	if name == "run" || name == "rasterize" {
		fs.Uint64Var(&o.seed, "seed", 0, "override the sampling seed (0 keeps the configured or drawn seed)")
		fs.IntVar(&o.workers, "workers", 0, "override the number of sub-regions processed at once")
		fs.StringVar(&o.subRegions, "sub-region", "", "materialize only these sub-regions (comma-separated names or ids)")
	}
	return fs
}

// parse reads the flags and builds the run configuration they select.
func parse(name string, args []string, stderr io.Writer) (*options, *config.RunConfig, error) {
	o := &options{}
	fs := newFlagSet(name, o)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if o.year <= 0 {
		return nil, nil, fmt.Errorf("%s: -year is required", name)
	}
	if o.units != "" && !units.IsValid(o.units) {
		return nil, nil, fmt.Errorf("%s: -units must be one of %s", name, units.GetValidUnitsString())
	}

	cfg := config.DefaultRunConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadRunConfig(o.configPath); err != nil {
			return nil, nil, err
		}
	}
	if o.dataRoot != "" {
		cfg.DataRoot = &o.dataRoot
	}
	if o.dbPath != "" {
		cfg.DatabasePath = &o.dbPath
	}
	if o.publishTo != "" {
		cfg.PublishTo = &o.publishTo
	}
	if o.seed != 0 {
		cfg.Seed = &o.seed
	}
	if o.workers != 0 {
		cfg.Workers = &o.workers
	}
	if o.subRegions != "" {
		cfg.OnlySubRegions = nil
		for _, name := range strings.Split(o.subRegions, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.OnlySubRegions = append(cfg.OnlySubRegions, name)
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	streams, err := monitoring.StreamsFor(o.logLevel, stderr)
	if err != nil {
		return nil, nil, err
	}
	pipeline.SetLogStreams(streams)
	return o, cfg, nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "-version", "--version", "version":
		fmt.Println(version.String())
		return
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	case "migrate":
		dbPath := config.DefaultRunConfig().GetDatabasePath()
		if env := os.Getenv("AGRES_DB"); env != "" {
			dbPath = env
		}
		if err := store.RunMigrateCommand(args, dbPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	case "setup", "reconcile", "rasterize", "run":
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	o, cfg, err := parse(cmd, args, os.Stderr)
	if err == flag.ErrHelp {
		return
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
	p := pipeline.New(cfg, fsutil.OSFileSystem{})

	switch cmd {
	case "setup":
		if err := p.Setup(o.year); err != nil {
			log.Fatalf("setup failed: %v", err)
		}
		log.Printf("layout ready under %s", p.Layout.Root)

	case "reconcile":
		out, tabs, err := p.Reconcile(ctx, o.year)
		if err != nil {
			log.Fatalf("reconcile failed: %v", err)
		}
		log.Printf("reconciled %d: %d regions changed, %d target rows, %d conservation deviations",
			o.year, len(tabs.Regions), len(out.Targets), len(tabs.Deviations()))
		logArea(o.units, tabs.Stats.SensedBefore, tabs.Stats.SensedAfter, tabs.Stats.GroundTruth)

	case "rasterize":
		rep, seed, err := p.Rasterize(ctx, o.year)
		if err != nil {
			log.Fatalf("rasterize failed: %v", err)
		}
		log.Printf("rasterized %d with seed %d: %d sub-regions, %d skipped",
			o.year, seed, rep.Processed, len(rep.Skipped))

	case "run":
		s, err := store.Open(cfg.GetDatabasePath())
		if err != nil {
			log.Fatalf("Failed to open audit database: %v", err)
		}
		defer s.Close()
		p.Store = s

		if dest := cfg.GetPublishTo(); dest != "" {
			p.Publisher, err = publish.New(ctx, dest, p.FS, publish.Options{
				Region:          cfg.GetS3Region(),
				Endpoint:        cfg.GetS3Endpoint(),
				AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
				SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
				PathStyle:       cfg.GetS3Endpoint() != "",
			})
			if err != nil {
				log.Fatalf("publisher: %v", err)
			}
		}

		res, err := p.Run(ctx, o.year)
		if err != nil {
			log.Fatalf("run failed: %v", err)
		}
		logArea(o.units, res.Tables.Stats.SensedBefore, res.Tables.Stats.SensedAfter, res.Tables.Stats.GroundTruth)
		log.Printf("run %s complete (seed %d), %d artifacts published", res.RunID, res.Seed, len(res.Published))
	}
}

// logArea reports the sensed and ground truth totals, given in acres, in u.
func logArea(u string, before, after, truth float64) {
	log.Printf("sensed %.2f -> %.2f %s, ground truth %.2f %s",
		units.ConvertArea(before, u), units.ConvertArea(after, u), u, units.ConvertArea(truth, u), u)
}
