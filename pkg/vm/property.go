package vm

import (
	"sort"
	"unicode/utf8"

	"github.com/nooga/shapevm/pkg/errors"
)

// dictEntrySize is the accounted size of one dictionary-mode property.
const dictEntrySize = 40

// ownProperty reads name from o itself.
func (rt *Runtime) ownProperty(o *Object, name string) (Value, PropertyAttributes, bool) {
	if o.isArray {
		if idx, ok := isArrayIndex(name); ok && int(idx) < len(o.elements) {
			return o.elements[idx], AttrDefault, true
		}
		if name == "length" {
			return IntegerValue(int32(len(o.elements))), AttrWritable, true
		}
	}
	if name == "length" && o.primitive.typ == TypeString {
		s, _ := rt.StringOf(o.primitive)
		return IntegerValue(int32(utf8.RuneCountInString(s))), AttrNone, true
	}
	if o.dict != nil {
		if e, ok := o.dict.get(name); ok {
			return e.value, e.attrs, true
		}
		return Undefined, 0, false
	}
	slot, attrs, ok := rt.shapes.PropertyOf(o.shape, name)
	if !ok {
		return Undefined, 0, false
	}
	return o.slot(slot), attrs, true
}

func (rt *Runtime) protoObject(o *Object) *Object {
	return rt.objectOf(o.proto)
}

// lookup finds name on o or its prototype chain. A cyclic chain is reported
// as a TypeError instead of looping; the tortoise advances every other step.
func (rt *Runtime) lookup(o *Object, name string) (Value, PropertyAttributes, bool, error) {
	slow := o
	for cur, steps := o, 0; cur != nil; steps++ {
		if v, attrs, ok := rt.ownProperty(cur, name); ok {
			return v, attrs, true, nil
		}
		cur = rt.protoObject(cur)
		if steps%2 == 1 {
			slow = rt.protoObject(slow)
		}
		if cur != nil && cur == slow {
			return Undefined, 0, false, errors.NewTypeError("Cyclic prototype chain while looking up '%s'", name)
		}
	}
	return Undefined, 0, false, nil
}

// primitiveProto returns the prototype used for property access on a primitive.
func (rt *Runtime) primitiveProto(v Value) Value {
	switch v.typ {
	case TypeString:
		return rt.realm.StringPrototype
	case TypeIntegerNumber, TypeFloatNumber:
		return rt.realm.NumberPrototype
	case TypeBoolean:
		return rt.realm.BooleanPrototype
	}
	return Null
}

// stringIndex returns the character of a string at an index-like name.
func (rt *Runtime) stringIndex(s, name string) (Value, bool, error) {
	idx, ok := isArrayIndex(name)
	if !ok {
		return Undefined, false, nil
	}
	i := 0
	for _, r := range s {
		if uint32(i) == idx {
			v, err := rt.NewString(string(r))
			return v, true, err
		}
		i++
	}
	return Undefined, false, nil
}

// Get reads a property, walking the prototype chain. Primitive bases use
// their wrapper prototypes; null and undefined raise a TypeError.
func (rt *Runtime) Get(base Value, name string) (Value, error) {
	if base.IsNullish() {
		return Undefined, errors.NewTypeError("Cannot read properties of %s (reading '%s')", base.TypeName(), name)
	}
	var o *Object
	if base.IsObjectLike() {
		o = rt.objectOf(base)
		if o == nil {
			return Undefined, errors.NewTypeError("stale reference %s", base.ref())
		}
		if o.primitive.typ == TypeString {
			s, _ := rt.StringOf(o.primitive)
			if v, ok, err := rt.stringIndex(s, name); ok || err != nil {
				return v, err
			}
		}
	} else {
		if base.typ == TypeString {
			s, _ := rt.StringOf(base)
			if name == "length" {
				return IntegerValue(int32(utf8.RuneCountInString(s))), nil
			}
			if v, ok, err := rt.stringIndex(s, name); ok || err != nil {
				return v, err
			}
		}
		o = rt.objectOf(rt.primitiveProto(base))
		if o == nil {
			return Undefined, nil
		}
	}
	v, _, _, err := rt.lookup(o, name)
	return v, err
}

// GetOwnProperty returns an own property and its attributes.
func (rt *Runtime) GetOwnProperty(obj Value, name string) (Value, PropertyAttributes, bool) {
	o := rt.objectOf(obj)
	if o == nil {
		return Undefined, 0, false
	}
	return rt.ownProperty(o, name)
}

// Set assigns a property with sloppy-mode semantics.
func (rt *Runtime) Set(base Value, name string, v Value) error {
	return rt.SetProperty(base, name, v, false)
}

// SetProperty assigns a property. An existing writable own property is
// written in place; otherwise the object transitions to a child shape. A
// failed assignment is silently ignored unless strict is set.
func (rt *Runtime) SetProperty(base Value, name string, v Value, strict bool) error {
	if base.IsNullish() {
		return errors.NewTypeError("Cannot set properties of %s (setting '%s')", base.TypeName(), name)
	}
	o := rt.objectOf(base)
	if o == nil {
		if strict {
			return errors.NewTypeError("Cannot create property '%s' on %s '%s'", name, base.TypeName(), rt.Describe(base))
		}
		return nil
	}
	self := base.ref()

	if o.isArray {
		if handled, err := rt.setArrayProperty(o, self, name, v); handled {
			return err
		}
	}

	if o.dict != nil {
		if e, ok := o.dict.get(name); ok {
			if !e.attrs.Writable() {
				return readOnly(name, strict)
			}
			e.value = v
			rt.bindingChanged(o, self, name, v, false)
			return nil
		}
	} else if slot, attrs, ok := rt.shapes.PropertyOf(o.shape, name); ok {
		if !attrs.Writable() {
			return readOnly(name, strict)
		}
		o.setSlot(slot, v)
		rt.bindingChanged(o, self, name, v, false)
		return nil
	}

	if _, attrs, ok := rt.ownProperty(o, name); ok && !attrs.Writable() {
		// length of a boxed string
		return readOnly(name, strict)
	}
	if p := rt.protoObject(o); p != nil {
		_, attrs, found, err := rt.lookup(p, name)
		if err != nil {
			return err
		}
		if found && !attrs.Writable() {
			return readOnly(name, strict)
		}
	}
	if !o.extensible {
		if strict {
			return errors.NewTypeError("Cannot add property %s, object is not extensible", name)
		}
		return nil
	}
	return rt.addProperty(o, self, name, v, AttrDefault)
}

func readOnly(name string, strict bool) error {
	if strict {
		return errors.NewTypeError("Cannot assign to read only property '%s' of object", name)
	}
	return nil
}

// setArrayProperty handles index and length writes on arrays. It reports
// false when name is an ordinary property.
func (rt *Runtime) setArrayProperty(o *Object, self Ref, name string, v Value) (bool, error) {
	if name == "length" {
		n := v.ToFloat()
		if n < 0 || n != float64(uint32(n)) {
			return true, errors.NewRangeError("Invalid array length")
		}
		return true, rt.resizeElements(o, self, int(n))
	}
	idx, ok := isArrayIndex(name)
	if !ok {
		return false, nil
	}
	if int(idx) >= len(o.elements) {
		if !o.extensible {
			return true, nil
		}
		if err := rt.resizeElements(o, self, int(idx)+1, v); err != nil {
			return true, err
		}
	}
	o.elements[idx] = v
	return true, nil
}

// resizeElements sets an array's element count. Growth is reserved against
// the heap budget before the store changes; keep stays reachable if that
// collects.
func (rt *Runtime) resizeElements(o *Object, self Ref, n int, keep ...Value) error {
	old := len(o.elements)
	switch {
	case n < old:
		clear(o.elements[n:])
		o.elements = o.elements[:n]
		rt.heap.adjust(self, -int64(old-n)*valueSize)
	case n > old:
		if err := rt.reserve(self, uint64(n-old)*valueSize, keep...); err != nil {
			return err
		}
		o.elements = append(o.elements, make([]Value, n-old)...)
		for i := old; i < n; i++ {
			o.elements[i] = Undefined
		}
	}
	return nil
}

// addProperty appends a new own property, converting o to dictionary mode
// when it would outgrow the shape graph.
func (rt *Runtime) addProperty(o *Object, self Ref, name string, v Value, attrs PropertyAttributes) error {
	if o.dict == nil {
		if s := rt.shapes.mustGet(o.shape); s.count+1 > rt.cfg.Shapes.DictionaryThreshold {
			if err := rt.toDictionary(o, self, "property count", v); err != nil {
				return err
			}
		}
	}
	if o.dict != nil {
		if err := rt.reserve(self, dictEntrySize, v); err != nil {
			return err
		}
		o.dict.add(name, v, attrs)
		return nil
	}
	slot := rt.shapes.mustGet(o.shape).count
	if err := rt.growSlots(o, self, slot, v); err != nil {
		return err
	}
	o.shape = rt.shapes.Transition(o.shape, name, attrs)
	o.setSlot(slot, v)
	return nil
}

// Delete removes an own property with sloppy-mode semantics.
func (rt *Runtime) Delete(base Value, name string) (bool, error) {
	return rt.DeleteProperty(base, name, false)
}

// DeleteProperty removes an own property. The object moves to its parent
// shape when name was the last addition, or to an existing shape lacking name;
// when no such shape exists this object alone switches to dictionary mode.
// Non-configurable properties are kept and false is returned (a TypeError
// when strict).
func (rt *Runtime) DeleteProperty(base Value, name string, strict bool) (bool, error) {
	if base.IsNullish() {
		return false, errors.NewTypeError("Cannot convert undefined or null to object")
	}
	o := rt.objectOf(base)
	if o == nil {
		if base.typ == TypeString {
			s, _ := rt.StringOf(base)
			if idx, ok := isArrayIndex(name); name == "length" || (ok && int(idx) < utf8.RuneCountInString(s)) {
				return nonConfigurable(name, strict)
			}
		}
		return true, nil
	}
	self := base.ref()

	if o.isArray {
		if name == "length" {
			return nonConfigurable(name, strict)
		}
		if idx, ok := isArrayIndex(name); ok {
			if int(idx) < len(o.elements) {
				o.elements[idx] = Undefined
			}
			return true, nil
		}
	}

	if o.dict != nil {
		e, ok := o.dict.get(name)
		if !ok {
			return true, nil
		}
		if !e.attrs.Configurable() {
			return nonConfigurable(name, strict)
		}
		o.dict.remove(name)
		rt.heap.adjust(self, -dictEntrySize)
		rt.bindingChanged(o, self, name, Undefined, true)
		return true, nil
	}

	slot, attrs, ok := rt.shapes.PropertyOf(o.shape, name)
	if !ok {
		if _, attrs, own := rt.ownProperty(o, name); own && !attrs.Configurable() {
			return nonConfigurable(name, strict)
		}
		return true, nil
	}
	if !attrs.Configurable() {
		return nonConfigurable(name, strict)
	}

	s := rt.shapes.mustGet(o.shape)
	switch {
	case s.name == name:
		o.shape = s.parent
		rt.shrinkSlots(o, self, s.slot)
	default:
		target, ok := rt.shapes.withoutProperty(o.shape, name)
		if !ok {
			if err := rt.toDictionary(o, self, "delete"); err != nil {
				return false, err
			}
			o.dict.remove(name)
			rt.heap.adjust(self, -dictEntrySize)
			break
		}
		for i := slot; i < s.count-1; i++ {
			o.setSlot(i, o.slot(i+1))
		}
		o.shape = target
		rt.shrinkSlots(o, self, s.count-1)
	}
	rt.bindingChanged(o, self, name, Undefined, true)
	return true, nil
}

func nonConfigurable(name string, strict bool) (bool, error) {
	if strict {
		return false, errors.NewTypeError("Cannot delete property '%s' of object", name)
	}
	return false, nil
}

func (rt *Runtime) shrinkSlots(o *Object, self Ref, to int) {
	before := len(o.overflow)
	o.truncateSlots(to)
	if removed := before - len(o.overflow); removed > 0 {
		rt.heap.adjust(self, -int64(removed)*valueSize)
	}
}

// DefineProperty creates or redefines an own data property with explicit
// attributes. Changing attributes moves the object to a new shape path built
// by replaying its history; existing shapes are never modified.
func (rt *Runtime) DefineProperty(obj Value, name string, v Value, attrs PropertyAttributes) error {
	o := rt.objectOf(obj)
	if o == nil {
		return errors.NewTypeError("Object.defineProperty called on non-object")
	}
	self := obj.ref()

	if o.isArray {
		if name == "length" {
			_, err := rt.setArrayProperty(o, self, name, v)
			return err
		}
		if _, ok := isArrayIndex(name); ok {
			if attrs != AttrDefault {
				return errors.NewTypeError("Cannot define array element %s with attributes %s", name, attrs)
			}
			_, err := rt.setArrayProperty(o, self, name, v)
			return err
		}
	}

	old, cur, exists := rt.ownProperty(o, name)
	if !exists {
		if !o.extensible {
			return errors.NewTypeError("Cannot define property %s, object is not extensible", name)
		}
		return rt.addProperty(o, self, name, v, attrs)
	}
	if !cur.Configurable() {
		relaxWritable := cur.Writable() && attrs == cur&^AttrWritable
		if attrs != cur && !relaxWritable {
			return errors.NewTypeError("Cannot redefine property: %s", name)
		}
		if !cur.Writable() && !v.Is(old) {
			return errors.NewTypeError("Cannot redefine property: %s", name)
		}
	}

	if o.dict != nil {
		e, ok := o.dict.get(name)
		if !ok {
			return errors.NewTypeError("Cannot redefine property: %s", name)
		}
		e.value, e.attrs = v, attrs
	} else {
		slot, _, ok := rt.shapes.PropertyOf(o.shape, name)
		if !ok {
			return errors.NewTypeError("Cannot redefine property: %s", name)
		}
		if attrs != cur {
			o.shape = rt.shapes.withAttributes(o.shape, name, attrs)
		}
		o.setSlot(slot, v)
	}
	rt.bindingChanged(o, self, name, v, false)
	return nil
}

// Has reports whether name is an own or inherited property of obj.
func (rt *Runtime) Has(obj Value, name string) (bool, error) {
	o := rt.objectOf(obj)
	if o == nil {
		return false, errors.NewTypeError("Cannot use 'in' operator to search for '%s' in %s", name, rt.Describe(obj))
	}
	if o.primitive.typ == TypeString {
		s, _ := rt.StringOf(o.primitive)
		if idx, ok := isArrayIndex(name); ok && int(idx) < utf8.RuneCountInString(s) {
			return true, nil
		}
	}
	_, _, found, err := rt.lookup(o, name)
	return found, err
}

// HasOwn reports whether name is an own property of obj.
func (rt *Runtime) HasOwn(obj Value, name string) bool {
	o := rt.objectOf(obj)
	if o == nil {
		return false
	}
	_, _, ok := rt.ownProperty(o, name)
	return ok
}

// ownRecords lists o's own properties with attributes: integer-like keys in
// ascending order first, then the others in insertion order.
func (rt *Runtime) ownRecords(o *Object) []PropertyRecord {
	var records []PropertyRecord
	if o.isArray {
		for i := range o.elements {
			records = append(records, PropertyRecord{Name: itoa(i), Attrs: AttrDefault, Slot: -1})
		}
	}
	if o.primitive.typ == TypeString {
		s, _ := rt.StringOf(o.primitive)
		for i, n := 0, utf8.RuneCountInString(s); i < n; i++ {
			records = append(records, PropertyRecord{Name: itoa(i), Attrs: AttrEnumerable, Slot: -1})
		}
	}

	var named []PropertyRecord
	if o.dict != nil {
		for _, e := range o.dict.entries {
			if !e.deleted {
				named = append(named, PropertyRecord{Name: e.name, Attrs: e.attrs, Slot: -1})
			}
		}
	} else {
		named = rt.shapes.Keys(o.shape)
	}

	var indexed, rest []PropertyRecord
	for _, r := range named {
		if _, ok := isArrayIndex(r.Name); ok {
			indexed = append(indexed, r)
		} else {
			rest = append(rest, r)
		}
	}
	sort.SliceStable(indexed, func(i, j int) bool {
		a, _ := isArrayIndex(indexed[i].Name)
		b, _ := isArrayIndex(indexed[j].Name)
		return a < b
	})
	records = append(records, indexed...)
	if o.isArray {
		records = append(records, PropertyRecord{Name: "length", Attrs: AttrWritable, Slot: -1})
	}
	if o.primitive.typ == TypeString {
		records = append(records, PropertyRecord{Name: "length", Attrs: AttrNone, Slot: -1})
	}
	return append(records, rest...)
}

// OwnKeys lists own property names. Non-enumerable properties are included
// only when includeNonEnumerable is set.
func (rt *Runtime) OwnKeys(obj Value, includeNonEnumerable bool) ([]string, error) {
	o := rt.objectOf(obj)
	if o == nil {
		return nil, errors.NewTypeError("Cannot convert %s to object", rt.Describe(obj))
	}
	records := rt.ownRecords(o)
	keys := make([]string, 0, len(records))
	for _, r := range records {
		if includeNonEnumerable || r.Attrs.Enumerable() {
			keys = append(keys, r.Name)
		}
	}
	return keys, nil
}

// ForIn returns the keys a for-in loop over v visits: enumerable own keys,
// then enumerable inherited keys, each name at most once. A name seen on a
// nearer object hides the same name further up even when the nearer
// property is not enumerable.
func (rt *Runtime) ForIn(v Value) ([]string, error) {
	if v.IsNullish() {
		return nil, nil
	}
	var start *Object
	var keys []string
	seen := make(map[string]struct{})
	if v.IsObjectLike() {
		start = rt.objectOf(v)
	} else {
		if v.typ == TypeString {
			s, _ := rt.StringOf(v)
			for i, n := 0, utf8.RuneCountInString(s); i < n; i++ {
				k := itoa(i)
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
			seen["length"] = struct{}{}
		}
		start = rt.objectOf(rt.primitiveProto(v))
	}
	slow := start
	for cur, steps := start, 0; cur != nil; steps++ {
		for _, r := range rt.ownRecords(cur) {
			if _, dup := seen[r.Name]; dup {
				continue
			}
			seen[r.Name] = struct{}{}
			if r.Attrs.Enumerable() {
				keys = append(keys, r.Name)
			}
		}
		cur = rt.protoObject(cur)
		if steps%2 == 1 {
			slow = rt.protoObject(slow)
		}
		if cur != nil && cur == slow {
			return nil, errors.NewTypeError("Cyclic prototype chain during for-in")
		}
	}
	return keys, nil
}

// GetPrototypeOf returns the prototype of v (for primitives, their wrapper's).
func (rt *Runtime) GetPrototypeOf(v Value) (Value, error) {
	if v.IsNullish() {
		return Undefined, errors.NewTypeError("Cannot convert undefined or null to object")
	}
	if o := rt.objectOf(v); o != nil {
		return o.proto, nil
	}
	return rt.primitiveProto(v), nil
}

// SetPrototypeOf replaces obj's prototype. Links that would close a cycle are
// rejected.
func (rt *Runtime) SetPrototypeOf(obj, proto Value) error {
	o := rt.objectOf(obj)
	if o == nil {
		return errors.NewTypeError("Object.setPrototypeOf called on non-object")
	}
	if err := rt.checkProto(proto); err != nil {
		return err
	}
	if o.proto.Is(proto) {
		return nil
	}
	if !o.extensible {
		return errors.NewTypeError("%s is not extensible", rt.Describe(obj))
	}
	visited := make(map[*Object]struct{})
	for p := rt.objectOf(proto); p != nil; p = rt.protoObject(p) {
		if p == o {
			return errors.NewTypeError("Cyclic __proto__ value")
		}
		if _, ok := visited[p]; ok {
			break
		}
		visited[p] = struct{}{}
	}
	o.proto = proto
	return nil
}

// PreventExtensions stops new properties from being added to obj.
func (rt *Runtime) PreventExtensions(obj Value) error {
	o := rt.objectOf(obj)
	if o == nil {
		return errors.NewTypeError("Object.preventExtensions called on non-object")
	}
	o.extensible = false
	return nil
}

func (rt *Runtime) IsExtensible(obj Value) bool {
	o := rt.objectOf(obj)
	return o != nil && o.extensible
}

func itoa(i int) string {
	if i >= 0 && i < len(smallInts) {
		return smallInts[i]
	}
	return formatNumber(float64(i))
}

var smallInts = func() []string {
	s := make([]string, 256)
	for i := range s {
		s[i] = formatNumber(float64(i))
	}
	return s
}()
