package vm

import (
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"

	"github.com/nooga/shapevm/pkg/config"
	"github.com/nooga/shapevm/pkg/errors"
)

// GCState is the collector's position in its cycle.
type GCState uint8

const (
	GCIdle GCState = iota
	GCMarking
	GCSweeping
)

func (s GCState) String() string {
	switch s {
	case GCMarking:
		return "marking"
	case GCSweeping:
		return "sweeping"
	default:
		return "idle"
	}
}

// GCStats accumulates collector activity.
type GCStats struct {
	Collections uint64
	Explicit    uint64 // requested through CollectNow
	Triggered   uint64 // started by allocation pressure

	FreedCells       uint64
	FreedBytes       uint64
	ReclaimedShapes  uint64
	ReclaimedStrings uint64
	RetiredArtifacts uint64

	LiveBytes uint64
	LiveCells int
	Threshold uint64

	LastPause  time.Duration
	TotalPause time.Duration
	LastRun    time.Time
}

// cycleStats is what one collection freed.
type cycleStats struct {
	cells   int
	bytes   uint64
	shapes  int
	strings int
	retired int
}

// marker is the gray stack of a marking phase. With onValue set it only
// reports the edges of the entry being traced, which is how snapshots walk
// the heap.
type marker struct {
	heap   *Heap
	shapes *ShapeGraph
	gray   []Ref

	onValue func(Value)
	onShape func(ShapeID)
}

func (m *marker) value(v Value) {
	if !v.isHeap() {
		return
	}
	if m.onValue != nil {
		m.onValue(v)
		return
	}
	m.ref(v.ref())
}

func (m *marker) ref(r Ref) {
	c := m.heap.cell(r)
	if c == nil || c.marked {
		return
	}
	c.marked = true
	m.gray = append(m.gray, r)
}

func (m *marker) shape(id ShapeID) {
	if m.onShape != nil {
		m.onShape(id)
		return
	}
	m.shapes.mark(id)
}

func (m *marker) drain() {
	for len(m.gray) > 0 {
		n := len(m.gray) - 1
		r := m.gray[n]
		m.gray = m.gray[:n]
		if e := m.heap.entry(r); e != nil {
			e.trace(m)
		}
	}
}

// Collector is a stop-the-world mark-sweep collector over the runtime's heap,
// shape graph, intern table and compiled artifacts.
type Collector struct {
	rt        *Runtime
	state     GCState
	providers []RootProvider

	threshold uint64
	limit     uint64
	growth    float64
	headroom  uint64

	stats GCStats
	log   commonlog.Logger
}

func newCollector(rt *Runtime, cfg config.HeapConfig, log commonlog.Logger) *Collector {
	c := &Collector{
		rt:        rt,
		threshold: uint64(cfg.InitialBudget),
		limit:     uint64(cfg.Limit),
		growth:    cfg.GrowthFactor,
		headroom:  uint64(cfg.MinHeadroom),
		log:       log,
	}
	if c.limit != 0 && c.threshold > c.limit {
		c.threshold = c.limit
	}
	c.providers = []RootProvider{stackRoots{rt}, handleRoots{rt}, globalRoots{rt}}
	return c
}

func (c *Collector) State() GCState { return c.state }

// Threshold is the accounted heap size at which the next allocation collects.
func (c *Collector) Threshold() uint64 { return c.threshold }

func (c *Collector) Stats() GCStats {
	s := c.stats
	s.Threshold = c.threshold
	return s
}

// allocate stores e in the heap, collecting first when the allocation would
// cross the threshold. An entry that still does not fit under the hard
// limit after a full collection is a fatal error; nothing live is touched.
func (rt *Runtime) allocate(e heapEntry, size uint64) (Ref, error) {
	c := rt.gc
	if c.state != GCIdle {
		panic(fmt.Sprintf("shapevm: allocation of %s during garbage collection (%s)", e.kind(), c.state))
	}
	if rt.closed {
		panic("shapevm: allocation on a closed runtime")
	}
	if rt.heap.used+size > c.threshold {
		c.collect(false, 0, e)
		if c.limit != 0 && rt.heap.used+size > c.limit {
			return 0, c.exhausted("allocating "+e.kind().String(), size)
		}
	}
	return rt.heap.insert(e, size), nil
}

// reserve accounts delta more bytes to the live cell self before its storage
// grows in place. Crossing the threshold collects first, with self and keep
// held as roots; growth that does not fit under the limit afterwards fails
// the same way allocate does and leaves the cell unchanged.
func (rt *Runtime) reserve(self Ref, delta uint64, keep ...Value) error {
	if delta == 0 {
		return nil
	}
	c := rt.gc
	if c.state != GCIdle {
		panic(fmt.Sprintf("shapevm: growth of %s during garbage collection (%s)", self, c.state))
	}
	if rt.heap.used+delta > c.threshold {
		scope := rt.OpenHandleScope()
		scope.Add(rt.cellValue(self))
		for _, v := range keep {
			scope.Add(v)
		}
		c.collect(false, 0, nil)
		scope.Close()
		if c.limit != 0 && rt.heap.used+delta > c.limit {
			return c.exhausted("growing "+self.String(), delta)
		}
	}
	rt.heap.adjust(self, int64(delta))
	return nil
}

// cellValue rebuilds a value for the occupied cell r.
func (rt *Runtime) cellValue(r Ref) Value {
	switch rt.heap.KindOf(r) {
	case EntryString:
		return heapValue(TypeString, r)
	case EntryClosure:
		return heapValue(TypeClosure, r)
	case EntryEnv:
		return heapValue(typeEnv, r)
	}
	return heapValue(TypeObject, r)
}

func (c *Collector) exhausted(what string, size uint64) error {
	used := c.rt.heap.used
	c.log.Errorf("heap exhausted: %s live, %s requested, limit %s",
		humanize.IBytes(used), humanize.IBytes(size), humanize.IBytes(c.limit))
	return (&errors.RuntimeError{
		Msg:   fmt.Sprintf("out of memory %s (%s live of %s)", what, humanize.IBytes(used), humanize.IBytes(c.limit)),
		Fatal: true,
	}).CausedBy(errors.ErrHeapExhausted)
}

// collect runs one full cycle. pending is an entry being allocated whose
// references are not yet reachable from any root.
func (c *Collector) collect(explicit bool, level int, pending heapEntry) cycleStats {
	rt := c.rt
	start := time.Now()
	before := rt.heap.used

	c.state = GCMarking
	rt.shapes.beginMark()
	m := &marker{heap: rt.heap, shapes: rt.shapes}
	for _, p := range c.providers {
		p.VisitRoots(m.value)
	}
	if pending != nil {
		pending.trace(m)
	}
	m.drain()

	c.state = GCSweeping
	cs := c.sweepHeap()
	cs.shapes = rt.shapes.sweep()
	cs.retired = rt.jit.sweep(rt.heap)
	if level >= 1 {
		dropped := rt.sites.compact(rt.shapes)
		rt.jit.purge()
		cells := rt.heap.compact()
		c.log.Debugf("compaction: %d cache entries, %d trailing cells dropped", dropped, cells)
	}

	live := rt.heap.used
	next := uint64(float64(live) * c.growth)
	if live+c.headroom > next {
		next = live + c.headroom
	}
	if c.limit != 0 && next > c.limit {
		next = c.limit
	}
	c.threshold = next
	c.state = GCIdle

	pause := time.Since(start)
	c.stats.Collections++
	if explicit {
		c.stats.Explicit++
	} else {
		c.stats.Triggered++
	}
	c.stats.FreedCells += uint64(cs.cells)
	c.stats.FreedBytes += cs.bytes
	c.stats.ReclaimedShapes += uint64(cs.shapes)
	c.stats.ReclaimedStrings += uint64(cs.strings)
	c.stats.RetiredArtifacts += uint64(cs.retired)
	c.stats.LiveBytes = live
	c.stats.LiveCells = rt.heap.live
	c.stats.LastPause = pause
	c.stats.TotalPause += pause
	c.stats.LastRun = start

	c.log.Debugf("collection %d (level %d, explicit %t): %s -> %s, freed %d cells, %d shapes, %d strings in %s; next at %s",
		c.stats.Collections, level, explicit,
		humanize.IBytes(before), humanize.IBytes(live),
		cs.cells, cs.shapes, cs.strings, pause, humanize.IBytes(c.threshold))
	return cs
}

// sweepHeap frees unmarked cells and clears the marks of survivors.
func (c *Collector) sweepHeap() cycleStats {
	h := c.rt.heap
	var cs cycleStats
	for idx := range h.cells {
		cell := &h.cells[idx]
		if cell.entry == nil {
			continue
		}
		if cell.marked {
			cell.marked = false
			continue
		}
		if s, ok := cell.entry.(*String); ok {
			c.rt.strings.remove(makeRef(idx, cell.gen), s.hash)
			cs.strings++
		}
		cs.cells++
		cs.bytes += cell.size
		h.release(idx)
	}
	return cs
}

// shrink lowers the threshold so the next allocation of more than n bytes
// collects. The threshold never exceeds the hard limit.
func (c *Collector) shrink(n uint64) {
	next := c.rt.heap.used + n
	if next < n {
		next = math.MaxUint64
	}
	if c.limit != 0 && next > c.limit {
		next = c.limit
	}
	c.threshold = next
	c.log.Debugf("heap budget shrunk to %s (%s headroom)", humanize.IBytes(c.threshold), humanize.IBytes(n))
}

// GCState returns the collector's current state.
func (rt *Runtime) GCState() GCState { return rt.gc.state }

// GCStats returns collector statistics.
func (rt *Runtime) GCStats() GCStats { return rt.gc.Stats() }
