package vm

import "fmt"

// SiteKind is the operation a call site performs.
type SiteKind uint8

const (
	SiteGet SiteKind = iota
	SiteSet
	SiteCall
)

func (k SiteKind) String() string {
	switch k {
	case SiteGet:
		return "get"
	case SiteSet:
		return "set"
	case SiteCall:
		return "call"
	default:
		return fmt.Sprintf("SiteKind(%d)", k)
	}
}

// SiteID identifies a call site. The zero ID is invalid.
type SiteID uint32

// Site is the per call-site record: a property cache for get/set sites, a
// callee cache and the current compiled artifact for call sites.
type Site struct {
	id    SiteID
	kind  SiteKind
	label string
	name  string // property name the cache was filled for

	prop PropInlineCache
	call CallInlineCache

	artifact *Artifact
	deopts   int
	// rejected is the last callee the compiler refused, so it is not
	// reconsidered on every call.
	rejected  Ref
	noCompile bool
}

func (s *Site) ID() SiteID                  { return s.id }
func (s *Site) Kind() SiteKind              { return s.kind }
func (s *Site) Label() string               { return s.label }
func (s *Site) Prop() *PropInlineCache      { return &s.prop }
func (s *Site) CallCache() *CallInlineCache { return &s.call }
func (s *Site) Deopts() int                 { return s.deopts }

// Artifact returns the compiled artifact installed at the site, or nil.
func (s *Site) Artifact() *Artifact { return s.artifact }

// SiteTable owns every call site of a runtime.
type SiteTable struct {
	sites   []*Site
	maxPoly int
	stats   CacheStats
}

func newSiteTable(maxPoly int) *SiteTable {
	return &SiteTable{maxPoly: maxPoly}
}

// New registers a call site. label is free-form (typically a source position).
func (t *SiteTable) New(kind SiteKind, label string) SiteID {
	id := SiteID(len(t.sites) + 1)
	t.sites = append(t.sites, &Site{
		id:    id,
		kind:  kind,
		label: label,
		prop:  newPropInlineCache(t.maxPoly),
	})
	return id
}

// Get returns the site for id, or nil.
func (t *SiteTable) Get(id SiteID) *Site {
	if id == 0 || int(id) > len(t.sites) {
		return nil
	}
	return t.sites[id-1]
}

func (t *SiteTable) Len() int { return len(t.sites) }

// Stats returns aggregated cache statistics.
func (t *SiteTable) Stats() CacheStats { return t.stats }

// Each calls fn for every site in registration order.
func (t *SiteTable) Each(fn func(*Site)) {
	for _, s := range t.sites {
		fn(s)
	}
}

func (t *SiteTable) site(id SiteID, kind SiteKind) (*Site, error) {
	s := t.Get(id)
	if s == nil {
		return nil, fmt.Errorf("shapevm: unknown call site %d", id)
	}
	if s.kind != kind {
		return nil, fmt.Errorf("shapevm: call site %d (%s) used as a %s site", id, s.kind, kind)
	}
	return s, nil
}

// compact drops cache entries for reclaimed shapes.
func (t *SiteTable) compact(g *ShapeGraph) int {
	dropped := 0
	for _, s := range t.sites {
		dropped += s.prop.compact(g)
	}
	return dropped
}

func (s *Site) bind(name string) {
	if s.name != name {
		s.prop.resetCache()
		s.name = name
	}
}

func (t *SiteTable) countLookup(state PropCacheState, hit bool) {
	if !hit {
		t.stats.TotalMisses++
		if state == CacheStateMegamorphic {
			t.stats.MegamorphicOps++
		}
		return
	}
	t.stats.TotalHits++
	if state == CacheStatePolymorphic {
		t.stats.PolymorphicHits++
	} else {
		t.stats.MonomorphicHits++
	}
}

// cacheable reports whether o's own named properties live in its shape slots.
func cacheable(o *Object) bool {
	return o.dict == nil && !o.isArray && o.primitive.typ != TypeString
}

// GetAt reads obj[name] through the site's inline cache. A cache hit reads the
// slot directly; a miss performs the full lookup and records own-property
// resolutions.
func (rt *Runtime) GetAt(id SiteID, obj Value, name string) (Value, error) {
	s, err := rt.sites.site(id, SiteGet)
	if err != nil {
		return Undefined, err
	}
	s.bind(name)
	o := rt.objectOf(obj)
	if o == nil {
		return rt.Get(obj, name)
	}
	if !cacheable(o) {
		rt.sites.stats.DictionaryOps++
		return rt.Get(obj, name)
	}
	state := s.prop.state
	if e, ok := s.prop.lookupInCache(o.shape); ok {
		rt.sites.countLookup(state, true)
		return o.slot(e.slot), nil
	}
	rt.sites.countLookup(state, false)
	if slot, _, ok := rt.shapes.PropertyOf(o.shape, name); ok {
		s.prop.updateCache(PropCacheEntry{shape: o.shape, slot: slot})
		return o.slot(slot), nil
	}
	return rt.Get(obj, name)
}

// SetAt assigns obj[name] through the site's inline cache. Cached entries
// cover in-place writes of writable properties and the transition that adds
// name to a given shape.
func (rt *Runtime) SetAt(id SiteID, obj Value, name string, v Value, strict bool) error {
	s, err := rt.sites.site(id, SiteSet)
	if err != nil {
		return err
	}
	s.bind(name)
	o := rt.objectOf(obj)
	if o == nil {
		return rt.SetProperty(obj, name, v, strict)
	}
	if !cacheable(o) {
		rt.sites.stats.DictionaryOps++
		return rt.SetProperty(obj, name, v, strict)
	}
	self := obj.ref()
	state := s.prop.state
	if e, ok := s.prop.lookupInCache(o.shape); ok {
		if e.next == 0 {
			rt.sites.countLookup(state, true)
			o.setSlot(e.slot, v)
			rt.bindingChanged(o, self, name, v, false)
			return nil
		}
		if o.extensible && rt.shapes.Get(e.next) != nil && !rt.inheritedReadOnly(o, name) {
			rt.sites.countLookup(state, true)
			if err := rt.growSlots(o, self, e.slot, v); err != nil {
				return err
			}
			next := e.next
			if rt.shapes.Get(next) == nil {
				// reclaimed by a collection the growth triggered
				next = rt.shapes.Transition(o.shape, name, AttrDefault)
			}
			o.shape = next
			o.setSlot(e.slot, v)
			return nil
		}
	}
	rt.sites.countLookup(state, false)

	before := o.shape
	if err := rt.SetProperty(obj, name, v, strict); err != nil {
		return err
	}
	if !cacheable(o) {
		return nil
	}
	if o.shape == before {
		if slot, attrs, ok := rt.shapes.PropertyOf(o.shape, name); ok && attrs.Writable() {
			s.prop.updateCache(PropCacheEntry{shape: before, slot: slot})
		}
		return nil
	}
	if next := rt.shapes.Get(o.shape); next != nil && next.parent == before && next.name == name {
		s.prop.updateCache(PropCacheEntry{shape: before, next: o.shape, slot: next.slot})
	}
	return nil
}

// inheritedReadOnly reports whether a prototype of o has a non-writable name.
// Lookup errors count as read-only so the caller takes the full path.
func (rt *Runtime) inheritedReadOnly(o *Object, name string) bool {
	p := rt.protoObject(o)
	if p == nil {
		return false
	}
	_, attrs, found, err := rt.lookup(p, name)
	return err != nil || (found && !attrs.Writable())
}

// CallAt calls callee through the site's call cache. Once the same callee
// has been seen often enough the site is compiled with the callee's body
// inlined; later calls run the artifact while its guard holds.
func (rt *Runtime) CallAt(id SiteID, callee, this Value, args ...Value) (Value, error) {
	s, err := rt.sites.site(id, SiteCall)
	if err != nil {
		return Undefined, err
	}
	return rt.callSite(s, callee, this, args, nil)
}

// CallBinding resolves name in env and calls it through the site. The binding
// becomes a dependency of any artifact compiled for the site, so rebinding
// the name invalidates it.
func (rt *Runtime) CallBinding(id SiteID, env Value, name string, this Value, args ...Value) (Value, error) {
	s, err := rt.sites.site(id, SiteCall)
	if err != nil {
		return Undefined, err
	}
	ref, err := rt.ResolveBinding(env, name)
	if err != nil {
		return Undefined, err
	}
	callee, err := rt.GetValue(ref)
	if err != nil {
		return Undefined, err
	}
	return rt.callSite(s, callee, this, args, &ref)
}

func (rt *Runtime) callSite(s *Site, callee, this Value, args []Value, ref *Reference) (Value, error) {
	if err := rt.GuardCallable(callee); err != nil {
		return Undefined, err
	}
	c := rt.closureOf(callee)
	r := callee.ref()
	if s.call.observe(r) {
		rt.sites.stats.CallHits++
	} else {
		rt.sites.stats.CallMisses++
	}
	rt.stats.calls++
	args = append([]Value(nil), args...)

	if a := s.artifact; a != nil && a.valid {
		if a.callee == r {
			return rt.jit.execute(a, callee, this, args)
		}
		rt.jit.guardFailed(a)
	}
	if s.artifact == nil {
		if a := rt.jit.consider(s, callee, c, ref); a != nil {
			return rt.jit.execute(a, callee, this, args)
		}
	}
	return rt.invoke(callee, c.code, c.env, this, args, Undefined, false)
}
