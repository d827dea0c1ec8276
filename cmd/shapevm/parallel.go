package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nooga/shapevm/pkg/config"
	"github.com/nooga/shapevm/pkg/pool"
	"github.com/nooga/shapevm/pkg/vm"
)

// runParallel runs every workload on a runtime of its own and reports each
// one separately. Snapshots go to snapshotPath.<workload>.
func runParallel(out *report, cfg *config.Config, selected []workload, iterations, workers int, snapshotPath string) bool {
	p := pool.New(workers, len(selected))
	if err := p.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "shapevm: %v\n", err)
		return false
	}
	for _, w := range selected {
		run := w.run
		job := &pool.Job{
			Name:     w.name,
			Config:   cfg,
			Run:      func(rt *vm.Runtime) error { return run(rt, iterations) },
			Snapshot: snapshotPath != "",
		}
		if err := p.Submit(job); err != nil {
			fmt.Fprintf(os.Stderr, "shapevm: %v\n", err)
			return false
		}
	}

	ok := true
	for range selected {
		r := <-p.Results()
		if r.Err != nil {
			reportFailure(r.Name, r.Err)
			ok = false
			continue
		}
		out.workload(r.Name, r.Duration, iterations)
		out.stats(r.Stats)
		if r.Snapshot != nil {
			path := snapshotPath + "." + r.Name
			if err := writeSnapshot(r.Snapshot, path); err != nil {
				fmt.Fprintf(os.Stderr, "shapevm: %v\n", err)
				ok = false
				continue
			}
			out.line("snapshot", path)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shapevm: %v\n", err)
		return false
	}
	s := p.Stats()
	out.line("pool", out.p.Sprintf("%d jobs on %d workers, %v average", s.TotalJobs, s.WorkerCount, s.AverageTime.Round(time.Microsecond)))
	return ok
}
