package vm

import (
	"strconv"

	"github.com/nooga/shapevm/pkg/errors"
)

// InlineSlotCount is the number of property slots stored directly in an
// object; further properties go to the overflow slice.
const InlineSlotCount = 4

// Object is a dynamic object. While in shape mode its layout is described by
// shape and slot i holds the value of the shape's i-th property. An object in
// dictionary mode carries the dictionary sentinel shape and keeps its
// properties in dict; that conversion is per object and permanent.
type Object struct {
	shape    ShapeID
	inline   [InlineSlotCount]Value
	overflow []Value
	dict     *dictStore

	// elements is the indexed store of array objects.
	elements []Value
	isArray  bool

	proto     Value // Null or an object-like value
	primitive Value // boxed primitive, Undefined otherwise
	class     string

	extensible bool
	// watched is set while some compiled artifact depends on one of this
	// object's properties.
	watched bool
}

func (o *Object) kind() EntryKind { return EntryObject }

func (o *Object) trace(m *marker) {
	m.shape(o.shape)
	for i := range o.inline {
		m.value(o.inline[i])
	}
	for _, v := range o.overflow {
		m.value(v)
	}
	if o.dict != nil {
		for i := range o.dict.entries {
			if !o.dict.entries[i].deleted {
				m.value(o.dict.entries[i].value)
			}
		}
	}
	for _, v := range o.elements {
		m.value(v)
	}
	m.value(o.proto)
	m.value(o.primitive)
}

// Class returns the object's class tag ("Object", "Array", "Error", ...).
func (o *Object) Class() string { return o.class }

// Shape returns the current shape; dictionary-mode objects return the sentinel.
func (o *Object) Shape() ShapeID { return o.shape }

// IsDictionary reports whether the object left the shape graph.
func (o *Object) IsDictionary() bool { return o.dict != nil }

func (o *Object) IsArray() bool { return o.isArray }

func (o *Object) slot(i int) Value {
	if i < InlineSlotCount {
		return o.inline[i]
	}
	return o.overflow[i-InlineSlotCount]
}

func (o *Object) setSlot(i int, v Value) {
	if i < InlineSlotCount {
		o.inline[i] = v
		return
	}
	o.overflow[i-InlineSlotCount] = v
}

// truncateSlots drops every slot from n on.
func (o *Object) truncateSlots(n int) {
	for i := n; i < InlineSlotCount; i++ {
		o.inline[i] = Undefined
	}
	if n <= InlineSlotCount {
		o.overflow = o.overflow[:0]
	} else if n-InlineSlotCount < len(o.overflow) {
		clear(o.overflow[n-InlineSlotCount:])
		o.overflow = o.overflow[:n-InlineSlotCount]
	}
}

// dictEntry is one property of a dictionary-mode object.
type dictEntry struct {
	name    string
	value   Value
	attrs   PropertyAttributes
	deleted bool
}

// dictStore keeps insertion order while allowing deletion. Deleted entries are
// tombstoned and squeezed out once they outnumber the live ones.
type dictStore struct {
	entries []dictEntry
	index   map[string]int
	live    int
}

func newDictStore(capacity int) *dictStore {
	return &dictStore{
		entries: make([]dictEntry, 0, capacity),
		index:   make(map[string]int, capacity),
	}
}

func (d *dictStore) get(name string) (*dictEntry, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return &d.entries[i], true
}

func (d *dictStore) add(name string, v Value, attrs PropertyAttributes) {
	d.index[name] = len(d.entries)
	d.entries = append(d.entries, dictEntry{name: name, value: v, attrs: attrs})
	d.live++
}

func (d *dictStore) remove(name string) bool {
	i, ok := d.index[name]
	if !ok {
		return false
	}
	delete(d.index, name)
	d.entries[i] = dictEntry{deleted: true}
	d.live--
	if dead := len(d.entries) - d.live; dead > 8 && dead > d.live {
		d.squeeze()
	}
	return true
}

func (d *dictStore) squeeze() {
	kept := d.entries[:0]
	for _, e := range d.entries {
		if !e.deleted {
			d.index[e.name] = len(kept)
			kept = append(kept, e)
		}
	}
	clear(d.entries[len(kept):])
	d.entries = kept
}

// isArrayIndex reports whether name is a canonical array index and returns it.
func isArrayIndex(name string) (uint32, bool) {
	if name == "" || len(name) > 10 || (len(name) > 1 && name[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(name, 10, 32)
	if err != nil || n == 1<<32-1 {
		return 0, false
	}
	return uint32(n), true
}

// objectOf resolves an object-like value to its property store. Closures
// embed an Object, so they carry properties like any other object.
func (rt *Runtime) objectOf(v Value) *Object {
	switch v.typ {
	case TypeObject:
		o, _ := rt.heap.entry(v.ref()).(*Object)
		return o
	case TypeClosure:
		if c, _ := rt.heap.entry(v.ref()).(*Closure); c != nil {
			return &c.Object
		}
	}
	return nil
}

// Object returns the store behind an object-like value, or nil.
func (rt *Runtime) Object(v Value) *Object {
	return rt.objectOf(v)
}

func (rt *Runtime) checkProto(proto Value) error {
	if proto.IsNull() || (proto.IsObjectLike() && rt.objectOf(proto) != nil) {
		return nil
	}
	return errors.NewTypeError("Object prototype may only be an Object or null: %s", rt.Describe(proto))
}

func (rt *Runtime) newPlainObject(proto Value, class string) *Object {
	return &Object{
		shape:      rt.shapes.Root(),
		proto:      proto,
		primitive:  Undefined,
		class:      class,
		extensible: true,
	}
}

// NewObject allocates an empty object with the given prototype (an object or
// Null).
func (rt *Runtime) NewObject(proto Value) (Value, error) {
	if err := rt.checkProto(proto); err != nil {
		return Undefined, err
	}
	r, err := rt.allocate(rt.newPlainObject(proto, "Object"), objectBaseSize)
	if err != nil {
		return Undefined, err
	}
	return heapValue(TypeObject, r), nil
}

// NewPlainObject allocates an empty object inheriting from Object.prototype.
func (rt *Runtime) NewPlainObject() (Value, error) {
	return rt.NewObject(rt.realm.ObjectPrototype)
}

// AllocateWithShape allocates an object already laid out as shape. Every slot
// starts as Undefined.
func (rt *Runtime) AllocateWithShape(shape ShapeID, proto Value) (Value, error) {
	s := rt.shapes.Get(shape)
	if s == nil || shape == rt.shapes.DictionaryShape() {
		return Undefined, errors.NewTypeError("cannot allocate with %s", shape)
	}
	if err := rt.checkProto(proto); err != nil {
		return Undefined, err
	}
	o := rt.newPlainObject(proto, "Object")
	o.shape = shape
	if extra := s.count - InlineSlotCount; extra > 0 {
		o.overflow = make([]Value, extra)
	}
	r, err := rt.allocate(o, objectBaseSize+uint64(len(o.overflow))*valueSize)
	if err != nil {
		return Undefined, err
	}
	return heapValue(TypeObject, r), nil
}

// NewArray allocates an array object holding values.
func (rt *Runtime) NewArray(values ...Value) (Value, error) {
	o := rt.newPlainObject(rt.realm.ArrayPrototype, "Array")
	o.isArray = true
	o.elements = append(make([]Value, 0, len(values)), values...)
	r, err := rt.allocate(o, objectBaseSize+uint64(len(values))*valueSize)
	if err != nil {
		return Undefined, err
	}
	return heapValue(TypeObject, r), nil
}

// ArrayElements returns a copy of an array's elements.
func (rt *Runtime) ArrayElements(v Value) ([]Value, bool) {
	o := rt.objectOf(v)
	if o == nil || !o.isArray {
		return nil, false
	}
	return append([]Value(nil), o.elements...), true
}

// toDictionary moves o's properties into a dictionary store.
func (rt *Runtime) toDictionary(o *Object, self Ref, reason string, keep ...Value) error {
	if o.dict != nil {
		return nil
	}
	keys := rt.shapes.Keys(o.shape)
	delta := int64(len(keys))*dictEntrySize - int64(len(o.overflow))*valueSize
	if delta > 0 {
		if err := rt.reserve(self, uint64(delta), keep...); err != nil {
			return err
		}
	} else {
		rt.heap.adjust(self, delta)
	}
	d := newDictStore(len(keys) + 1)
	for _, k := range keys {
		d.add(k.Name, o.slot(k.Slot), k.Attrs)
	}
	o.truncateSlots(0)
	o.overflow = nil
	o.dict = d
	o.shape = rt.shapes.DictionaryShape()
	rt.stats.dictionaryObjects++
	rt.heapLog.Debugf("object %s switched to dictionary mode (%s, %d properties)", self, reason, len(keys))
	return nil
}

// growSlots makes room for slot index i. keep stays reachable if the
// growth collects.
func (rt *Runtime) growSlots(o *Object, self Ref, i int, keep ...Value) error {
	if i < InlineSlotCount {
		return nil
	}
	need := i - InlineSlotCount + 1
	if need <= len(o.overflow) {
		return nil
	}
	added := need - len(o.overflow)
	if err := rt.reserve(self, uint64(added)*valueSize, keep...); err != nil {
		return err
	}
	for len(o.overflow) < need {
		o.overflow = append(o.overflow, Undefined)
	}
	return nil
}
