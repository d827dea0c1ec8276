package vm

import (
	"fmt"

	"github.com/dlclark/regexp2"
	"github.com/tliron/commonlog"

	"github.com/nooga/shapevm/pkg/config"
)

// DependencyKind tags an entry of an artifact's dependency list.
type DependencyKind uint8

const (
	// DepCallee: the call site's target is a specific closure.
	DepCallee DependencyKind = iota
	// DepBinding: the binding the callee was loaded from still holds it.
	DepBinding
)

func (k DependencyKind) String() string {
	if k == DepBinding {
		return "binding"
	}
	return "callee"
}

// Dependency is one identity a compiled artifact assumes fixed.
type Dependency struct {
	Kind   DependencyKind
	Callee Ref
	// Holder is the environment record or object owning the binding.
	Holder Ref
	Name   string
}

func (d Dependency) String() string {
	if d.Kind == DepBinding {
		return fmt.Sprintf("binding %s.%s = %s", d.Holder, d.Name, d.Callee)
	}
	return fmt.Sprintf("callee %s", d.Callee)
}

// Artifact is a call site compiled with its callee's body substituted in
// place. It runs only while valid and only for the callee it was compiled
// against.
type Artifact struct {
	id     int
	site   *Site
	callee Ref
	code   *Code
	deps   []Dependency

	valid         bool
	executions    uint64
	invalidatedBy string
}

func (a *Artifact) ID() int               { return a.id }
func (a *Artifact) Site() SiteID          { return a.site.id }
func (a *Artifact) Callee() Ref           { return a.callee }
func (a *Artifact) Code() *Code           { return a.code }
func (a *Artifact) Valid() bool           { return a.valid }
func (a *Artifact) Executions() uint64    { return a.executions }
func (a *Artifact) InvalidatedBy() string { return a.invalidatedBy }

// Dependencies returns the ordered dependency list.
func (a *Artifact) Dependencies() []Dependency {
	return append([]Dependency(nil), a.deps...)
}

// InlineStats counts compiler activity.
type InlineStats struct {
	Compiled      uint64
	Executed      uint64
	Invalidated   uint64
	GuardFailures uint64
	Rejected      uint64
	Retired       uint64
	Live          int
}

type bindingKey struct {
	holder Ref
	name   string
}

// Compiler promotes hot call sites and enforces the invalidation protocol:
// bindings an artifact depends on are watched and a change to a different
// identity retires the artifact at once, while the entry guard catches any
// callee change that did not go through a watched binding.
type Compiler struct {
	rt        *Runtime
	enabled   bool
	hot       int
	maxSize   int
	maxDeopts int
	exclude   *regexp2.Regexp

	artifacts []*Artifact
	watchers  map[bindingKey][]*Artifact
	nextID    int

	stats InlineStats
	log   commonlog.Logger
}

func newCompiler(rt *Runtime, cfg config.InlineConfig, log commonlog.Logger) (*Compiler, error) {
	c := &Compiler{
		rt:        rt,
		enabled:   cfg.Enabled,
		hot:       cfg.HotThreshold,
		maxSize:   cfg.MaxCalleeSize,
		maxDeopts: cfg.MaxDeopts,
		watchers:  make(map[bindingKey][]*Artifact),
		log:       log,
	}
	if cfg.Exclude != "" {
		re, err := regexp2.Compile(cfg.Exclude, regexp2.ECMAScript)
		if err != nil {
			return nil, fmt.Errorf("inline.exclude: %w", err)
		}
		c.exclude = re
	}
	return c, nil
}

// Stats returns a snapshot of the compiler counters.
func (c *Compiler) Stats() InlineStats {
	s := c.stats
	s.Live = len(c.artifacts)
	return s
}

// Artifacts returns the artifacts the compiler still tracks.
func (c *Compiler) Artifacts() []*Artifact {
	return append([]*Artifact(nil), c.artifacts...)
}

// rejectReason explains why code cannot be inlined, or returns "".
func (c *Compiler) rejectReason(code *Code) string {
	switch {
	case code.NoInline:
		return "marked NoInline"
	case code.Size > c.maxSize:
		return fmt.Sprintf("size %d exceeds %d", code.Size, c.maxSize)
	}
	if c.exclude != nil {
		if ok, err := c.exclude.MatchString(code.Name); err == nil && ok {
			return "excluded by name"
		}
	}
	return ""
}

// consider compiles s for callee once it has been hot long enough.
func (c *Compiler) consider(s *Site, callee Value, cl *Closure, ref *Reference) *Artifact {
	if !c.enabled || s.noCompile || s.call.streak < c.hot {
		return nil
	}
	r := callee.ref()
	if s.rejected == r {
		return nil
	}
	if reason := c.rejectReason(cl.code); reason != "" {
		s.rejected = r
		c.stats.Rejected++
		c.log.Debugf("site %d (%s): not inlining %s: %s", s.id, s.label, cl.code, reason)
		return nil
	}

	deps := []Dependency{{Kind: DepCallee, Callee: r}}
	if ref != nil {
		if holder := ref.Holder(); holder != 0 {
			deps = append(deps, Dependency{Kind: DepBinding, Callee: r, Holder: holder, Name: ref.name})
		}
	}
	c.nextID++
	a := &Artifact{
		id:     c.nextID,
		site:   s,
		callee: r,
		code:   cl.code,
		deps:   deps,
		valid:  true,
	}
	for _, d := range deps {
		if d.Kind == DepBinding {
			c.watch(d.Holder, d.Name, a)
		}
	}
	s.artifact = a
	s.rejected = 0
	c.artifacts = append(c.artifacts, a)
	c.stats.Compiled++
	c.log.Debugf("site %d (%s): inlined %s after %d calls (artifact %d, %d deps)", s.id, s.label, cl.code, s.call.streak, a.id, len(deps))
	return a
}

func (c *Compiler) watch(holder Ref, name string, a *Artifact) {
	key := bindingKey{holder: holder, name: name}
	c.watchers[key] = append(c.watchers[key], a)
	switch e := c.rt.heap.entry(holder).(type) {
	case *Object:
		e.watched = true
	case *Closure:
		e.watched = true
	case *Environment:
		e.watched = true
	}
}

// execute runs a valid artifact whose guard has been checked by the caller.
func (c *Compiler) execute(a *Artifact, callee, this Value, args []Value) (Value, error) {
	a.executions++
	c.stats.Executed++
	cl := c.rt.closureOf(callee)
	return c.rt.invoke(callee, a.code, cl.env, this, args, Undefined, true)
}

func (c *Compiler) guardFailed(a *Artifact) {
	c.stats.GuardFailures++
	c.invalidate(a, "guard: callee identity changed")
}

// invalidate retires a. The site falls back to generic calls and may be
// recompiled later unless it has been deoptimized too often.
func (c *Compiler) invalidate(a *Artifact, reason string) {
	if !a.valid {
		return
	}
	a.valid = false
	a.invalidatedBy = reason
	c.stats.Invalidated++
	s := a.site
	if s.artifact == a {
		s.artifact = nil
		s.deopts++
		if s.deopts >= c.maxDeopts {
			s.noCompile = true
			c.log.Infof("site %d (%s): giving up on inlining after %d invalidations", s.id, s.label, s.deopts)
		}
	}
	c.log.Debugf("artifact %d at site %d invalidated: %s", a.id, s.id, reason)
}

// bindingChanged is called for every write or delete of a watched binding.
// Artifacts whose assumed callee is no longer the binding's value are
// invalidated before anything can run them again.
func (c *Compiler) bindingChanged(holder Ref, name string, v Value, deleted bool) {
	key := bindingKey{holder: holder, name: name}
	list, ok := c.watchers[key]
	if !ok {
		return
	}
	kept := list[:0]
	for _, a := range list {
		if !a.valid {
			continue
		}
		switch {
		case deleted:
			c.invalidate(a, fmt.Sprintf("binding %q deleted", name))
		case v.typ != TypeClosure || v.ref() != a.callee:
			c.invalidate(a, fmt.Sprintf("binding %q redefined", name))
		default:
			kept = append(kept, a)
		}
	}
	if len(kept) == 0 {
		delete(c.watchers, key)
		return
	}
	c.watchers[key] = kept
}

// sweep runs after the heap sweep. Artifacts whose callee or binding holder
// was reclaimed are retired; invalid artifacts are dropped.
func (c *Compiler) sweep(h *Heap) int {
	retired := 0
	kept := c.artifacts[:0]
	for _, a := range c.artifacts {
		if a.valid && !c.depsAlive(h, a) {
			c.invalidate(a, "dependency collected")
			retired++
		}
		if a.valid {
			kept = append(kept, a)
		}
	}
	clear(c.artifacts[len(kept):])
	c.artifacts = kept
	c.stats.Retired += uint64(retired)
	for key := range c.watchers {
		if !h.Alive(key.holder) {
			delete(c.watchers, key)
		}
	}
	return retired
}

func (c *Compiler) depsAlive(h *Heap, a *Artifact) bool {
	for _, d := range a.deps {
		if !h.Alive(d.Callee) || (d.Kind == DepBinding && !h.Alive(d.Holder)) {
			return false
		}
	}
	return true
}

// purge drops invalid artifacts from the watcher lists.
func (c *Compiler) purge() {
	for key, list := range c.watchers {
		kept := list[:0]
		for _, a := range list {
			if a.valid {
				kept = append(kept, a)
			}
		}
		if len(kept) == 0 {
			delete(c.watchers, key)
		} else {
			clear(list[len(kept):])
			c.watchers[key] = kept
		}
	}
}

// bindingChanged forwards a property write or delete on a watched object.
func (rt *Runtime) bindingChanged(o *Object, self Ref, name string, v Value, deleted bool) {
	if o.watched {
		rt.jit.bindingChanged(self, name, v, deleted)
	}
}

// Compiler returns the runtime's inlining compiler.
func (rt *Runtime) Compiler() *Compiler { return rt.jit }
