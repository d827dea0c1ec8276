package main

import (
	goerrors "errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nooga/shapevm/pkg/config"
	"github.com/nooga/shapevm/pkg/errors"
	"github.com/nooga/shapevm/pkg/vm"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	configFlag := flag.String("config", "", "Load runtime configuration from a .toml or .yaml file")
	scenarioFlag := flag.String("scenario", "all", "Comma-separated workloads to run (churn, shapes, hotcall, all)")
	iterationsFlag := flag.Int("iterations", 10000, "Iterations per workload")
	snapshotFlag := flag.String("snapshot", "", "Write a CBOR heap snapshot to this file after the run")
	verboseFlag := flag.Int("v", -1, "Log verbosity (overrides the configuration)")
	listFlag := flag.Bool("list", false, "List the available workloads and exit")
	parallelFlag := flag.Int("parallel", 1, "Run each workload on its own runtime with this many workers")

	flag.Parse()

	if *listFlag {
		for _, w := range workloads {
			fmt.Printf("%-8s %s\n", w.name, w.description)
		}
		return
	}

	cfg := config.Default()
	if *configFlag != "" {
		loaded, err := config.Load(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "shapevm: %v\n", err)
			os.Exit(64) // Exit code 64: command line usage error
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if *verboseFlag >= 0 {
		cfg.Log.Verbosity = *verboseFlag
	}
	configureLogging(cfg.Log)

	selected, err := findWorkloads(*scenarioFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shapevm: %v\n", err)
		os.Exit(64)
	}

	out := newReport(os.Stdout)
	if *parallelFlag > 1 {
		if !runParallel(out, cfg, selected, *iterationsFlag, *parallelFlag, *snapshotFlag) {
			os.Exit(70)
		}
		return
	}

	rt, err := vm.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shapevm: %v\n", err)
		os.Exit(64)
	}
	defer rt.Close()

	for _, w := range selected {
		start := time.Now()
		if err := w.run(rt, *iterationsFlag); err != nil {
			reportFailure(w.name, err)
			os.Exit(70) // Exit code 70: internal software error
		}
		out.workload(w.name, time.Since(start), *iterationsFlag)
	}
	out.stats(rt.Stats())

	if *snapshotFlag != "" {
		if err := writeSnapshot(rt.Snapshot(), *snapshotFlag); err != nil {
			fmt.Fprintf(os.Stderr, "shapevm: %v\n", err)
			os.Exit(74) // Exit code 74: I/O error
		}
		out.line("snapshot", *snapshotFlag)
	}
}

func configureLogging(cfg config.LogConfig) {
	if cfg.Path != "" {
		path := cfg.Path
		commonlog.Configure(cfg.Verbosity, &path)
		return
	}
	commonlog.Configure(cfg.Verbosity, nil)
}

func reportFailure(name string, err error) {
	var rerr *errors.RuntimeError
	switch {
	case goerrors.Is(err, errors.ErrHeapExhausted):
		fmt.Fprintf(os.Stderr, "shapevm: %s: heap exhausted: %v\n", name, err)
	case goerrors.As(err, &rerr):
		fmt.Fprintf(os.Stderr, "shapevm: %s: %v\n", name, rerr)
	default:
		fmt.Fprintf(os.Stderr, "shapevm: %s: %s error: %v\n", name, errors.KindOf(err), err)
	}
}

func writeSnapshot(snap *vm.Snapshot, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := snap.Encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// report prints aligned key/value lines, highlighting keys on a terminal.
type report struct {
	w     io.Writer
	p     *message.Printer
	color bool
}

func newReport(f *os.File) *report {
	return &report{
		w:     f,
		p:     message.NewPrinter(language.English),
		color: isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()),
	}
}

func (r *report) line(key string, value any) {
	if r.color {
		fmt.Fprintf(r.w, "\033[1;36m%-22s\033[0m %v\n", key, value)
		return
	}
	fmt.Fprintf(r.w, "%-22s %v\n", key, value)
}

func (r *report) count(n uint64) string { return r.p.Sprintf("%d", n) }

func (r *report) workload(name string, d time.Duration, iterations int) {
	r.line(name, r.p.Sprintf("%d iterations in %v", iterations, d.Round(time.Microsecond)))
}

func (r *report) stats(s vm.Stats) {
	r.line("collections", r.p.Sprintf("%d (%d explicit, %d triggered)", s.GC.Collections, s.GC.Explicit, s.GC.Triggered))
	r.line("gc pause", fmt.Sprintf("%v total, %v last", s.GC.TotalPause, s.GC.LastPause))
	r.line("freed", fmt.Sprintf("%s in %s cells", humanize.IBytes(s.GC.FreedBytes), r.count(s.GC.FreedCells)))
	r.line("heap", fmt.Sprintf("%s live in %s cells, threshold %s",
		humanize.IBytes(s.HeapBytes), r.count(uint64(s.HeapCells)), humanize.IBytes(s.GC.Threshold)))
	r.line("allocated", humanize.IBytes(s.TotalAllocated))
	r.line("shapes", fmt.Sprintf("%s live, %s created, %s reclaimed",
		r.count(uint64(s.Shapes)), r.count(s.ShapesCreated), r.count(s.GC.ReclaimedShapes)))
	r.line("dictionary objects", r.count(s.DictionaryObjects))
	r.line("strings", fmt.Sprintf("%s interned, %s hits", r.count(uint64(s.InternedStrings)), r.count(s.InternHits)))
	r.line("property cache", fmt.Sprintf("%.1f%% hits (%s mono, %s poly, %s mega)",
		s.Cache.HitRate(), r.count(s.Cache.MonomorphicHits), r.count(s.Cache.PolymorphicHits), r.count(s.Cache.MegamorphicOps)))
	r.line("call cache", fmt.Sprintf("%s hits, %s misses", r.count(s.Cache.CallHits), r.count(s.Cache.CallMisses)))
	r.line("inlining", fmt.Sprintf("%s compiled, %s executed, %s invalidated, %s guard failures",
		r.count(s.Inline.Compiled), r.count(s.Inline.Executed), r.count(s.Inline.Invalidated), r.count(s.Inline.GuardFailures)))
	r.line("calls", r.count(s.Calls))
}
