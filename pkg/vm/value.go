package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type ValueType uint8

const (
	TypeUndefined ValueType = iota
	TypeNull

	TypeBoolean

	TypeIntegerNumber
	TypeFloatNumber

	// Heap-backed types. Their payload is a Ref into the runtime's heap.
	TypeString
	TypeObject
	TypeClosure

	// typeEnv marks environment records; never visible to managed code.
	typeEnv
)

// String returns a human-readable string representation of the ValueType
func (vt ValueType) String() string {
	switch vt {
	case TypeNull:
		return "null"
	case TypeUndefined:
		return "undefined"
	case TypeBoolean:
		return "boolean"
	case TypeFloatNumber, TypeIntegerNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeObject:
		return "object"
	case TypeClosure:
		return "closure"
	case typeEnv:
		return "environment"
	default:
		return "unknown"
	}
}

// Value is the tagged representation of every managed value. Primitive
// payloads are stored inline; heap-backed values store a generational Ref.
// A Value held only by Go code is not a root: keep it in a HandleScope or a
// Frame before the next allocation.
type Value struct {
	typ     ValueType
	payload uint64
}

var (
	Undefined = Value{typ: TypeUndefined}
	Null      = Value{typ: TypeNull}
	True      = Value{typ: TypeBoolean, payload: 1}
	False     = Value{typ: TypeBoolean, payload: 0}
	NaN       = Value{typ: TypeFloatNumber, payload: math.Float64bits(math.NaN())}
)

func NumberValue(value float64) Value {
	return Value{typ: TypeFloatNumber, payload: math.Float64bits(value)}
}

func IntegerValue(value int32) Value {
	return Value{typ: TypeIntegerNumber, payload: uint64(int64(value))}
}

func BooleanValue(value bool) Value {
	if value {
		return True
	}
	return False
}

func heapValue(typ ValueType, r Ref) Value {
	return Value{typ: typ, payload: uint64(r)}
}

func (v Value) Type() ValueType { return v.typ }

func (v Value) ref() Ref { return Ref(v.payload) }

// Ref returns the heap reference of a heap-backed value, or 0.
func (v Value) Ref() Ref {
	if !v.isHeap() {
		return 0
	}
	return Ref(v.payload)
}

func (v Value) isHeap() bool { return v.typ >= TypeString }

func (v Value) IsUndefined() bool { return v.typ == TypeUndefined }
func (v Value) IsNull() bool      { return v.typ == TypeNull }

// IsNullish reports whether v is null or undefined.
func (v Value) IsNullish() bool { return v.typ == TypeNull || v.typ == TypeUndefined }

func (v Value) IsNumber() bool {
	return v.typ == TypeFloatNumber || v.typ == TypeIntegerNumber
}

func (v Value) IsIntegerNumber() bool { return v.typ == TypeIntegerNumber }
func (v Value) IsFloatNumber() bool   { return v.typ == TypeFloatNumber }
func (v Value) IsBoolean() bool       { return v.typ == TypeBoolean }
func (v Value) IsString() bool        { return v.typ == TypeString }
func (v Value) IsObject() bool        { return v.typ == TypeObject }
func (v Value) IsCallable() bool      { return v.typ == TypeClosure }

// IsObjectLike reports whether v has object identity (objects and closures).
func (v Value) IsObjectLike() bool { return v.typ == TypeObject || v.typ == TypeClosure }

func (v Value) TypeName() string {
	switch v.typ {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeFloatNumber, TypeIntegerNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeClosure:
		return "function"
	case TypeObject:
		return "object"
	default:
		return fmt.Sprintf("<unknown type: %d>", v.typ)
	}
}

func (v Value) AsFloat() float64 {
	if v.typ != TypeFloatNumber {
		panic("value is not a float")
	}
	return math.Float64frombits(v.payload)
}

func (v Value) AsInteger() int32 {
	if v.typ != TypeIntegerNumber {
		panic("value is not an integer")
	}
	return int32(v.payload)
}

func (v Value) AsBoolean() bool {
	if v.typ != TypeBoolean {
		panic("value is not a boolean")
	}
	return v.payload == 1
}

// ToFloat converts a numeric or boolean value to float64. Other values are NaN
// here; string-to-number conversion belongs to the standard library layer.
func (v Value) ToFloat() float64 {
	switch v.typ {
	case TypeFloatNumber:
		return v.AsFloat()
	case TypeIntegerNumber:
		return float64(v.AsInteger())
	case TypeBoolean:
		if v.AsBoolean() {
			return 1
		}
		return 0
	case TypeNull:
		return 0
	default:
		return math.NaN()
	}
}

// formatNumber renders a float the way ECMAScript Number::toString does.
func formatNumber(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	if f == 0 {
		return "0"
	}
	absF := math.Abs(f)
	if absF < 1e-6 || absF >= 1e21 {
		return trimExponent(strconv.FormatFloat(f, 'e', -1, 64))
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// trimExponent drops the zero padding Go puts in exponents: "1e-07" -> "1e-7".
func trimExponent(s string) string {
	mant, exp, ok := strings.Cut(s, "e")
	if !ok || len(exp) < 2 {
		return s
	}
	digits := strings.TrimLeft(exp[1:], "0")
	if digits == "" {
		digits = "0"
	}
	return mant + "e" + exp[:1] + digits
}

// primitiveString converts a non-heap value to its string form.
func (v Value) primitiveString() string {
	switch v.typ {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeBoolean:
		if v.AsBoolean() {
			return "true"
		}
		return "false"
	case TypeIntegerNumber:
		return strconv.FormatInt(int64(v.AsInteger()), 10)
	case TypeFloatNumber:
		return formatNumber(v.AsFloat())
	default:
		return fmt.Sprintf("<%s #%d>", v.typ, Ref(v.payload).index())
	}
}

// Is compares two values with SameValue semantics for primitives and
// reference identity for heap values. Interned strings with equal content share
// one Ref, so identity is content equality within one runtime.
func (v Value) Is(other Value) bool {
	if v.IsNumber() && other.IsNumber() {
		a, b := v.ToFloat(), other.ToFloat()
		if math.IsNaN(a) && math.IsNaN(b) {
			return true
		}
		if a == 0 && b == 0 {
			return math.Signbit(a) == math.Signbit(b)
		}
		return a == b
	}
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case TypeUndefined, TypeNull:
		return true
	default:
		return v.payload == other.payload
	}
}
