// Package vm implements the object and heap runtime of a prototype-based
// scripting engine: shapes, objects, interned strings and closures, the
// mark-sweep collector that owns them, inline caches and the inlining
// compiler's invalidation protocol, and scope resolution.
//
// A Runtime is single-threaded. Values held only in Go variables are not
// roots; host code keeps them in a HandleScope or a Frame across allocations.
package vm

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/nooga/shapevm/pkg/config"
)

// runtimeStats are counters that belong to no single component.
type runtimeStats struct {
	calls             uint64
	dictionaryObjects uint64
}

// Runtime is one isolated instance: heap, shape graph, intern table,
// collector, call sites, compiler and realm.
type Runtime struct {
	id  uuid.UUID
	cfg *config.Config

	heap    *Heap
	shapes  *ShapeGraph
	strings *StringTable
	gc      *Collector
	sites   *SiteTable
	jit     *Compiler
	realm   *Realm

	frames   []*Frame
	handles  []Value
	maxDepth int

	stats   runtimeStats
	heapLog commonlog.Logger
	closed  bool
}

// New creates a runtime configured by cfg (config.Default() when nil).
func New(cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rt := &Runtime{
		id:       uuid.New(),
		cfg:      cfg,
		heap:     NewHeap(1024),
		shapes:   newShapeGraph(),
		strings:  newStringTable(nil),
		sites:    newSiteTable(cfg.Cache.MaxPolymorphic),
		realm:    newRealm(),
		maxDepth: MaxCallDepth,
		heapLog:  commonlog.GetLogger("shapevm.heap"),
	}
	rt.gc = newCollector(rt, cfg.Heap, commonlog.GetLogger("shapevm.gc"))
	jit, err := newCompiler(rt, cfg.Inline, commonlog.GetLogger("shapevm.jit"))
	if err != nil {
		return nil, err
	}
	rt.jit = jit
	if err := rt.initRealm(); err != nil {
		return nil, fmt.Errorf("shapevm: realm setup: %w", err)
	}
	rt.heapLog.Info("runtime created", "id", rt.id.String(), "budget", cfg.Heap.InitialBudget.String(), "limit", cfg.Heap.Limit.String())
	return rt, nil
}

// Close tears the runtime down. Every value it produced becomes invalid.
func (rt *Runtime) Close() error {
	if rt.closed {
		return nil
	}
	if len(rt.frames) > 0 {
		return fmt.Errorf("shapevm: Close with %d active frames", len(rt.frames))
	}
	rt.heapLog.Info("runtime closed", "id", rt.id.String(), "collections", rt.gc.stats.Collections)
	rt.closed = true
	rt.realm = newRealm()
	rt.handles = nil
	rt.gc.providers = nil
	rt.jit.artifacts = nil
	rt.jit.watchers = nil
	rt.heap = NewHeap(0)
	rt.strings = newStringTable(nil)
	return nil
}

// ID identifies the runtime in logs and snapshots.
func (rt *Runtime) ID() uuid.UUID { return rt.id }

func (rt *Runtime) Config() *config.Config { return rt.cfg }
func (rt *Runtime) Heap() *Heap            { return rt.heap }
func (rt *Runtime) Shapes() *ShapeGraph    { return rt.shapes }
func (rt *Runtime) Strings() *StringTable  { return rt.strings }
func (rt *Runtime) Sites() *SiteTable      { return rt.sites }
func (rt *Runtime) Collector() *Collector  { return rt.gc }

// SetMaxDepth changes the call depth limit.
func (rt *Runtime) SetMaxDepth(n int) {
	if n > 0 {
		rt.maxDepth = n
	}
}

// Stats is a point-in-time summary across components.
type Stats struct {
	GC                GCStats
	Cache             CacheStats
	Inline            InlineStats
	HeapCells         int
	HeapBytes         uint64
	TotalAllocated    uint64
	Shapes            int
	ShapesCreated     uint64
	InternedStrings   int
	InternHits        uint64
	DictionaryObjects uint64
	Calls             uint64
}

// Stats collects statistics from every component.
func (rt *Runtime) Stats() Stats {
	return Stats{
		GC:                rt.gc.Stats(),
		Cache:             rt.sites.Stats(),
		Inline:            rt.jit.Stats(),
		HeapCells:         rt.heap.Size(),
		HeapBytes:         rt.heap.Used(),
		TotalAllocated:    rt.heap.TotalAllocated(),
		Shapes:            rt.shapes.Live(),
		ShapesCreated:     rt.shapes.Created(),
		InternedStrings:   rt.strings.Len(),
		InternHits:        rt.strings.hits,
		DictionaryObjects: rt.stats.dictionaryObjects,
		Calls:             rt.stats.calls,
	}
}
