package vm

import (
	"github.com/nooga/shapevm/pkg/errors"
)

// CollectNow runs a full collection synchronously. Level 0 is a plain
// mark-sweep; level 1 and above also compact the call-site caches, drop
// retired artifacts and release trailing heap cells.
func (rt *Runtime) CollectNow(level int) {
	if rt.gc.state != GCIdle {
		panic("shapevm: CollectNow during garbage collection")
	}
	rt.gc.collect(true, level, nil)
}

// CollectionCount returns the number of completed collections.
func (rt *Runtime) CollectionCount() uint64 { return rt.gc.stats.Collections }

// ShrinkHeap lowers the allocation budget to the current usage plus bytes,
// so the next allocation larger than bytes collects first. The budget grows
// back normally after that collection.
func (rt *Runtime) ShrinkHeap(bytes uint64) { rt.gc.shrink(bytes) }

// StringHash returns the cached full-content hash of a string value.
func (rt *Runtime) StringHash(v Value) (uint64, error) {
	s := rt.stringEntry(v)
	if s == nil {
		return 0, errors.NewTypeError("stringHash expects a string, got %s", v.TypeName())
	}
	return s.hash, nil
}

// foldHash narrows a 64-bit hash to the 32 bits exposed to scripts.
func foldHash(h uint64) uint32 { return uint32(h ^ h>>32) }

// ToObject boxes primitives into wrapper objects; object-like values are
// returned unchanged.
func (rt *Runtime) ToObject(v Value) (Value, error) {
	var proto Value
	var class string
	switch v.typ {
	case TypeUndefined, TypeNull:
		return Undefined, errors.NewTypeError("Cannot convert undefined or null to object")
	case TypeObject, TypeClosure:
		return v, nil
	case TypeString:
		proto, class = rt.realm.StringPrototype, "String"
	case TypeIntegerNumber, TypeFloatNumber:
		proto, class = rt.realm.NumberPrototype, "Number"
	case TypeBoolean:
		proto, class = rt.realm.BooleanPrototype, "Boolean"
	default:
		return Undefined, errors.NewTypeError("Cannot convert %s to object", v.TypeName())
	}
	o := rt.newPlainObject(proto, class)
	o.primitive = v
	r, err := rt.allocate(o, objectBaseSize)
	if err != nil {
		return Undefined, err
	}
	return heapValue(TypeObject, r), nil
}

// PrimitiveValue returns the primitive boxed by a wrapper object.
func (rt *Runtime) PrimitiveValue(v Value) (Value, bool) {
	o := rt.objectOf(v)
	if o == nil || o.primitive.IsUndefined() {
		return Undefined, false
	}
	return o.primitive, true
}

type intrinsic struct {
	name  string
	arity int
	body  NativeFunc
}

func (rt *Runtime) intrinsics() []intrinsic {
	return []intrinsic{
		{"collectNow", 1, func(fr *Frame) (Value, error) {
			level := 0
			if a := fr.Arg(0); a.IsNumber() {
				level = int(a.ToFloat())
			}
			rt.CollectNow(level)
			return Undefined, nil
		}},
		{"getCollectionCount", 0, func(fr *Frame) (Value, error) {
			return NumberValue(float64(rt.CollectionCount())), nil
		}},
		{"shrinkHeap", 1, func(fr *Frame) (Value, error) {
			n := fr.Arg(0).ToFloat()
			if n != n || n < 0 {
				return Undefined, errors.NewRangeError("shrinkHeap expects a non-negative byte count")
			}
			rt.ShrinkHeap(uint64(n))
			return Undefined, nil
		}},
		{"stringHash", 1, func(fr *Frame) (Value, error) {
			h, err := rt.StringHash(fr.Arg(0))
			if err != nil {
				return Undefined, err
			}
			return NumberValue(float64(foldHash(h))), nil
		}},
		{"toObject", 1, func(fr *Frame) (Value, error) {
			return rt.ToObject(fr.Arg(0))
		}},
		{"isInt32Guarded", 1, func(fr *Frame) (Value, error) {
			return BooleanValue(IsInt32Guarded(fr.Arg(0))), nil
		}},
	}
}

// installIntrinsics defines the intrinsic functions as non-enumerable
// properties of the global object.
func (rt *Runtime) installIntrinsics() error {
	for _, in := range rt.intrinsics() {
		fn, err := rt.NewNativeFunction(in.name, in.arity, in.body)
		if err != nil {
			return err
		}
		if err := rt.DefineProperty(rt.realm.GlobalObject, in.name, fn, AttrHidden); err != nil {
			return err
		}
	}
	return nil
}
