package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/signalsfoundry/solar-placement/internal/api"
	"github.com/signalsfoundry/solar-placement/internal/audit"
	"github.com/signalsfoundry/solar-placement/internal/layoutfile"
	"github.com/signalsfoundry/solar-placement/internal/logging"
	"github.com/signalsfoundry/solar-placement/internal/placement"
	"github.com/signalsfoundry/solar-placement/internal/sampling"
	"github.com/signalsfoundry/solar-placement/internal/store"
	"github.com/signalsfoundry/solar-placement/internal/surface"
	"github.com/signalsfoundry/solar-placement/kb"
	"github.com/signalsfoundry/solar-placement/model"
)

type options struct {
	layoutPath     string
	shpPath        string
	segmentsPath   string
	dbPath         string
	exportPath     string
	audit          bool
	auditTolerance float64
	forceJSON      bool
	history        int
	cfg            placement.Config
}

var errUsage = errors.New("one of -layout or -shp is required")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log := logging.New(logging.EnvConfig("warn"))

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "placer: %v\n", err)
		os.Exit(2)
	}
	if !opts.forceJSON && !term.IsTerminal(int(os.Stdout.Fd())) {
		opts.forceJSON = true
	}

	if err := run(ctx, opts, os.Stdout, log); err != nil {
		fmt.Fprintf(os.Stderr, "placer: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	base, err := placement.ConfigFromEnv()
	if err != nil {
		return options{}, err
	}
	opts := options{cfg: base}

	fs := flag.NewFlagSet("placer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.layoutPath, "layout", "", "JSON layout document with segments and footprints")
	fs.StringVar(&opts.shpPath, "shp", "", "point shapefile of footprints (requires -segments)")
	fs.StringVar(&opts.segmentsPath, "segments", "", "JSON document supplying roof segments for -shp")
	fs.StringVar(&opts.dbPath, "db", "", "SQLite file to record the run in")
	fs.StringVar(&opts.exportPath, "export-shp", "", "write the placed footprints to this shapefile")
	fs.BoolVar(&opts.audit, "audit", false, "check the placed panels for overlaps")
	fs.Float64Var(&opts.auditTolerance, "audit-tolerance", audit.DefaultTolerance, "overlap depth ignored by -audit, metres")
	fs.BoolVar(&opts.forceJSON, "json", false, "print JSON even on a terminal")
	fs.IntVar(&opts.history, "history", 0, "with -db and no layout, list this many recent runs")
	fs.Float64Var(&opts.cfg.VisibilityOffsetMeters, "offset", base.VisibilityOffsetMeters, "visibility offset added above the surface, metres")
	fs.Float64Var(&opts.cfg.Panel.Width, "panel-width", base.Panel.Width, "panel width, metres")
	fs.Float64Var(&opts.cfg.Panel.Height, "panel-height", base.Panel.Height, "panel height (long edge), metres")
	fs.Float64Var(&opts.cfg.Panel.Thickness, "panel-thickness", base.Panel.Thickness, "panel thickness, metres")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.shpPath != "" && opts.segmentsPath == "" {
		return options{}, errors.New("-shp requires -segments")
	}
	return opts, nil
}

func run(ctx context.Context, opts options, stdout io.Writer, log logging.Logger) error {
	if opts.layoutPath == "" && opts.shpPath == "" {
		if opts.history > 0 && opts.dbPath != "" {
			return printHistory(ctx, opts, stdout, log)
		}
		return errUsage
	}

	layout, err := loadLayout(opts)
	if err != nil {
		return err
	}

	engineOpts := []placement.Option{placement.WithSettler(sampling.Immediate{})}
	if opts.dbPath != "" {
		st, err := store.Open(opts.dbPath, log)
		if err != nil {
			return err
		}
		defer st.Close()
		engineOpts = append(engineOpts, placement.WithRecorder(st))
	}

	cfg := opts.cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	engine := placement.NewEngine(surface.NewPlanar(layout.Segments), kb.NewPoseStore(), cfg, log, engineOpts...)
	res, err := engine.Generate(ctx, layout)
	if err != nil {
		return err
	}

	out := api.NewLayoutResult(res)
	if opts.audit {
		overlaps, err := audit.Overlaps(res.Panels, opts.auditTolerance)
		if err != nil {
			return err
		}
		out.Audited = true
		out.Overlaps = overlaps
	}

	if opts.exportPath != "" {
		placed := make([]model.PanelFootprint, 0, len(res.Panels))
		for _, p := range res.Panels {
			placed = append(placed, layout.Footprints[p.Index])
		}
		if err := layoutfile.WriteFootprints(opts.exportPath, placed); err != nil {
			return err
		}
	}

	if opts.forceJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	return printTable(stdout, out)
}

func loadLayout(opts options) (placement.Layout, error) {
	if opts.layoutPath != "" {
		return layoutfile.Load(opts.layoutPath)
	}
	roof, err := layoutfile.Load(opts.segmentsPath)
	if err != nil {
		return placement.Layout{}, err
	}
	footprints, err := layoutfile.LoadFootprints(opts.shpPath)
	if err != nil {
		return placement.Layout{}, err
	}
	layout := placement.Layout{Segments: roof.Segments, Footprints: footprints}
	if err := layout.Validate(); err != nil {
		return placement.Layout{}, err
	}
	return layout, nil
}

func printTable(w io.Writer, res *api.LayoutResult) error {
	fmt.Fprintf(w, "layout %s  generation %d  %s\n", res.LayoutID, res.Generation, res.Status)
	fmt.Fprintf(w, "clamped %d  fallback %d  estimated %d\n", res.Counts.Clamped, res.Counts.Fallback, res.Counts.Estimated)
	if res.HostError != "" {
		fmt.Fprintf(w, "surface query failed: %s\n", res.HostError)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tID\tSEGMENT\tSOURCE\tLAT\tLON\tHEIGHT_M")
	for _, p := range res.Panels {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%.7f\t%.7f\t%.3f\n",
			p.Index, p.FootprintID, p.SegmentIndex, p.HeightSource,
			p.Geodetic.LatitudeDeg, p.Geodetic.LongitudeDeg, p.Geodetic.HeightMeters)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, d := range res.Dropped {
		fmt.Fprintf(w, "dropped footprint %d (%s): %s\n", d.Index, d.ID, d.Reason)
	}
	if res.Audited {
		if len(res.Overlaps) == 0 {
			fmt.Fprintln(w, "audit: no overlapping panels")
		}
		for _, o := range res.Overlaps {
			fmt.Fprintf(w, "audit: panels %d and %d overlap by %.3f m\n", o.A, o.B, o.Depth)
		}
	}
	return nil
}

func printHistory(ctx context.Context, opts options, w io.Writer, log logging.Logger) error {
	st, err := store.Open(opts.dbPath, log)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.Runs(ctx, opts.history)
	if err != nil {
		return err
	}
	if opts.forceJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tGEN\tSTATUS\tPANELS\tCLAMPED\tFALLBACK\tESTIMATED\tDROPPED\tFINISHED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.ID, r.Generation, r.Status, r.PanelCount,
			r.Counts.Clamped, r.Counts.Fallback, r.Counts.Estimated, r.Dropped,
			r.FinishedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
