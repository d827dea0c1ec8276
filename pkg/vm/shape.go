package vm

import "fmt"

// PropertyAttributes is the attribute set of a data property.
type PropertyAttributes uint8

const (
	AttrWritable PropertyAttributes = 1 << iota
	AttrEnumerable
	AttrConfigurable

	AttrNone    PropertyAttributes = 0
	AttrDefault                    = AttrWritable | AttrEnumerable | AttrConfigurable
	// AttrHidden is used for runtime-installed methods: writable, configurable, not enumerable.
	AttrHidden = AttrWritable | AttrConfigurable
)

func (a PropertyAttributes) Writable() bool     { return a&AttrWritable != 0 }
func (a PropertyAttributes) Enumerable() bool   { return a&AttrEnumerable != 0 }
func (a PropertyAttributes) Configurable() bool { return a&AttrConfigurable != 0 }

func (a PropertyAttributes) String() string {
	b := []byte("---")
	if a.Writable() {
		b[0] = 'w'
	}
	if a.Enumerable() {
		b[1] = 'e'
	}
	if a.Configurable() {
		b[2] = 'c'
	}
	return string(b)
}

// ShapeID is a generational handle into the shape arena, laid out like Ref.
type ShapeID uint64

func makeShapeID(index int, gen uint32) ShapeID {
	return ShapeID(uint64(gen)<<32 | uint64(index+1))
}

func (id ShapeID) index() int  { return int(uint32(id)) - 1 }
func (id ShapeID) gen() uint32 { return uint32(id >> 32) }

func (id ShapeID) String() string {
	if id == 0 {
		return "shape<none>"
	}
	return fmt.Sprintf("shape#%d.%d", id.index(), id.gen())
}

type transitionKey struct {
	name  string
	attrs PropertyAttributes
}

// Shape is one node of the transition tree. It records a single property
// addition relative to its parent and is never modified once published;
// the lazily built lookup caches below are derived data.
type Shape struct {
	id     ShapeID
	parent ShapeID // 0 for the root and the dictionary sentinel
	name   string
	attrs  PropertyAttributes
	slot   int // slot of name; -1 for the root
	count  int // number of properties described by this shape

	transitions map[transitionKey]ShapeID

	keys  []PropertyRecord // insertion-ordered, built on demand
	table map[string]int   // name -> index into keys, built for long chains

	marked bool
	pinned bool
}

// PropertyRecord describes one property of a shape.
type PropertyRecord struct {
	Name  string
	Attrs PropertyAttributes
	Slot  int
}

func (s *Shape) ID() ShapeID               { return s.id }
func (s *Shape) Parent() ShapeID           { return s.parent }
func (s *Shape) Name() string              { return s.name }
func (s *Shape) Slot() int                 { return s.slot }
func (s *Shape) Count() int                { return s.count }
func (s *Shape) Attrs() PropertyAttributes { return s.attrs }

// tableThreshold is the property count from which PropertyOf builds a map
// instead of scanning the chain.
const tableThreshold = 8

// ShapeGraph owns every shape of a runtime.
type ShapeGraph struct {
	shapes   []*Shape
	gens     []uint32
	free     []int
	genFloor uint32

	root       ShapeID
	dictionary ShapeID

	created   uint64
	reclaimed uint64
}

func newShapeGraph() *ShapeGraph {
	g := &ShapeGraph{}
	g.root = g.add(&Shape{slot: -1, pinned: true})
	g.dictionary = g.add(&Shape{slot: -1, pinned: true})
	return g
}

func (g *ShapeGraph) add(s *Shape) ShapeID {
	var idx int
	if n := len(g.free); n > 0 {
		idx = g.free[n-1]
		g.free = g.free[:n-1]
	} else {
		g.shapes = append(g.shapes, nil)
		g.gens = append(g.gens, g.genFloor)
		idx = len(g.shapes) - 1
	}
	s.id = makeShapeID(idx, g.gens[idx])
	s.transitions = make(map[transitionKey]ShapeID)
	g.shapes[idx] = s
	g.created++
	return s.id
}

// Root returns the empty shape every fresh object starts from.
func (g *ShapeGraph) Root() ShapeID { return g.root }

// DictionaryShape returns the sentinel carried by dictionary-mode objects.
func (g *ShapeGraph) DictionaryShape() ShapeID { return g.dictionary }

// Get resolves id, returning nil for stale or unknown IDs.
func (g *ShapeGraph) Get(id ShapeID) *Shape {
	idx := id.index()
	if id == 0 || idx < 0 || idx >= len(g.shapes) {
		return nil
	}
	s := g.shapes[idx]
	if s == nil || g.gens[idx] != id.gen() {
		return nil
	}
	return s
}

func (g *ShapeGraph) mustGet(id ShapeID) *Shape {
	s := g.Get(id)
	if s == nil {
		panic(fmt.Sprintf("shapevm: use of dead %s", id))
	}
	return s
}

// Transition returns the child of from that adds (name, attrs), creating and
// registering it on first use. The result depends only on the arguments:
// identical histories from the same starting shape share a child, while
// equal property sets reached along different paths stay distinct. from
// must be live; a reclaimed ID panics, since there is no shape to extend.
func (g *ShapeGraph) Transition(from ShapeID, name string, attrs PropertyAttributes) ShapeID {
	parent := g.mustGet(from)
	if from == g.dictionary {
		panic("shapevm: transition from the dictionary sentinel")
	}
	key := transitionKey{name: name, attrs: attrs}
	if child, ok := parent.transitions[key]; ok {
		return child
	}
	child := &Shape{
		parent: from,
		name:   name,
		attrs:  attrs,
		slot:   parent.count,
		count:  parent.count + 1,
	}
	id := g.add(child)
	// add may have grown g.shapes; re-read parent through its ID.
	g.mustGet(from).transitions[key] = id
	return id
}

// LookupTransition returns an existing child without creating one.
func (g *ShapeGraph) LookupTransition(from ShapeID, name string, attrs PropertyAttributes) (ShapeID, bool) {
	parent := g.Get(from)
	if parent == nil {
		return 0, false
	}
	id, ok := parent.transitions[transitionKey{name: name, attrs: attrs}]
	return id, ok
}

// Keys returns the properties of id in insertion order, or nil when id has
// been reclaimed. The slice is shared and must not be modified.
func (g *ShapeGraph) Keys(id ShapeID) []PropertyRecord {
	s := g.Get(id)
	if s == nil {
		return nil
	}
	if s.keys != nil || s.count == 0 {
		return s.keys
	}
	keys := make([]PropertyRecord, s.count)
	for cur := s; cur.count > 0; cur = g.mustGet(cur.parent) {
		keys[cur.slot] = PropertyRecord{Name: cur.name, Attrs: cur.attrs, Slot: cur.slot}
	}
	s.keys = keys
	return keys
}

// PropertyOf returns the slot and attributes of name in shape id. A reclaimed
// id has no properties.
func (g *ShapeGraph) PropertyOf(id ShapeID, name string) (int, PropertyAttributes, bool) {
	s := g.Get(id)
	if s == nil {
		return -1, 0, false
	}
	if s.count >= tableThreshold {
		if s.table == nil {
			keys := g.Keys(id)
			s.table = make(map[string]int, len(keys))
			for i, k := range keys {
				s.table[k.Name] = i
			}
		}
		i, ok := s.table[name]
		if !ok {
			return -1, 0, false
		}
		k := s.keys[i]
		return k.Slot, k.Attrs, true
	}
	for cur := s; cur.count > 0; cur = g.mustGet(cur.parent) {
		if cur.name == name {
			return cur.slot, cur.attrs, true
		}
	}
	return -1, 0, false
}

// withoutProperty finds an existing shape equal to id minus name by replaying
// the later additions from name's parent with lookups only. It returns false
// when name is absent or any step of the replay was never created.
func (g *ShapeGraph) withoutProperty(id ShapeID, name string) (ShapeID, bool) {
	keys := g.Keys(id)
	at := -1
	for i, k := range keys {
		if k.Name == name {
			at = i
			break
		}
	}
	if at < 0 {
		return 0, false
	}
	// The shape that introduced name; its parent lacks it.
	cur := id
	for g.mustGet(cur).slot != at {
		cur = g.mustGet(cur).parent
	}
	cur = g.mustGet(cur).parent
	for _, k := range keys[at+1:] {
		next, ok := g.LookupTransition(cur, k.Name, k.Attrs)
		if !ok {
			return 0, false
		}
		cur = next
	}
	return cur, true
}

// withAttributes builds the shape that is id with name's attributes replaced,
// creating transitions as needed. Slot order is unchanged.
func (g *ShapeGraph) withAttributes(id ShapeID, name string, attrs PropertyAttributes) ShapeID {
	keys := g.Keys(id)
	at := -1
	for i, k := range keys {
		if k.Name == name {
			at = i
			break
		}
	}
	if at < 0 {
		panic("shapevm: withAttributes on missing property " + name)
	}
	cur := id
	for g.mustGet(cur).slot != at {
		cur = g.mustGet(cur).parent
	}
	cur = g.Transition(g.mustGet(cur).parent, name, attrs)
	for _, k := range keys[at+1:] {
		cur = g.Transition(cur, k.Name, k.Attrs)
	}
	return cur
}

// beginMark clears mark bits before a collection.
func (g *ShapeGraph) beginMark() {
	for _, s := range g.shapes {
		if s != nil {
			s.marked = s.pinned
		}
	}
}

// mark marks id and all of its ancestors.
func (g *ShapeGraph) mark(id ShapeID) {
	for s := g.Get(id); s != nil && !s.marked; s = g.Get(s.parent) {
		s.marked = true
	}
}

// sweep frees unmarked shapes and unlinks them from surviving parents.
func (g *ShapeGraph) sweep() int {
	freed := 0
	for idx, s := range g.shapes {
		if s == nil || s.marked {
			continue
		}
		if p := g.Get(s.parent); p != nil && p.marked {
			delete(p.transitions, transitionKey{name: s.name, attrs: s.attrs})
		}
		g.shapes[idx] = nil
		g.gens[idx]++
		g.free = append(g.free, idx)
		freed++
	}
	g.reclaimed += uint64(freed)
	return freed
}

// Live returns the number of shapes currently in the graph, sentinels included.
func (g *ShapeGraph) Live() int {
	return len(g.shapes) - len(g.free)
}

// Created returns how many shapes were ever created.
func (g *ShapeGraph) Created() uint64 { return g.created }

// Reclaimed returns how many shapes were freed by collections.
func (g *ShapeGraph) Reclaimed() uint64 { return g.reclaimed }

// each calls fn for every live shape.
func (g *ShapeGraph) each(fn func(*Shape)) {
	for _, s := range g.shapes {
		if s != nil {
			fn(s)
		}
	}
}
