package vm

// RootProvider supplies values the collector must treat as reachable. The
// collector knows nothing else about frames, host code or the realm.
type RootProvider interface {
	// VisitRoots calls visit once for each root value.
	VisitRoots(visit func(Value))
}

// RootProviderFunc adapts a function to RootProvider.
type RootProviderFunc func(visit func(Value))

func (f RootProviderFunc) VisitRoots(visit func(Value)) { f(visit) }

// stackRoots exposes every active frame.
type stackRoots struct{ rt *Runtime }

func (s stackRoots) VisitRoots(visit func(Value)) {
	for _, fr := range s.rt.frames {
		fr.trace(visit)
	}
}

// handleRoots exposes the handle stack.
type handleRoots struct{ rt *Runtime }

func (h handleRoots) VisitRoots(visit func(Value)) {
	for _, v := range h.rt.handles {
		visit(v)
	}
}

// globalRoots exposes the realm: global object, global environment and the
// intrinsic prototypes.
type globalRoots struct{ rt *Runtime }

func (g globalRoots) VisitRoots(visit func(Value)) {
	if r := g.rt.realm; r != nil {
		r.visitRoots(visit)
	}
}

// AddRootProvider registers an embedder's root source. It is consulted by
// every collection until the runtime is closed.
func (rt *Runtime) AddRootProvider(p RootProvider) {
	rt.gc.providers = append(rt.gc.providers, p)
}

// HandleScope keeps values alive while host code holds them only in Go
// variables. Scopes nest; closing one releases everything added since it was
// opened, including values added to inner scopes that were never closed.
type HandleScope struct {
	rt   *Runtime
	base int
}

// OpenHandleScope starts a scope on the runtime's handle stack.
func (rt *Runtime) OpenHandleScope() *HandleScope {
	return &HandleScope{rt: rt, base: len(rt.handles)}
}

// Add roots v until the scope is closed and returns it.
func (s *HandleScope) Add(v Value) Value {
	if v.isHeap() {
		s.rt.handles = append(s.rt.handles, v)
	}
	return v
}

// Close releases the scope's handles.
func (s *HandleScope) Close() {
	if s.base > len(s.rt.handles) {
		return
	}
	clear(s.rt.handles[s.base:])
	s.rt.handles = s.rt.handles[:s.base]
}
