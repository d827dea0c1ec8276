package vm

import (
	"math"

	"github.com/nooga/shapevm/pkg/errors"
)

// IsInt32Guarded reports whether v passes the int32 type guard used by
// integer fast paths: an integer-tagged number, or a float that is exactly a
// 32-bit integer. Negative zero fails the guard because the integer
// representation would lose its sign.
func IsInt32Guarded(v Value) bool {
	_, ok := GuardInt32(v)
	return ok
}

// GuardInt32 returns v as an int32 when it passes the guard.
func GuardInt32(v Value) (int32, bool) {
	switch v.typ {
	case TypeIntegerNumber:
		return v.AsInteger(), true
	case TypeFloatNumber:
		f := v.AsFloat()
		if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
			return 0, false
		}
		if f == 0 && math.Signbit(f) {
			return 0, false
		}
		return int32(f), true
	}
	return 0, false
}

// GuardCallable fails with a TypeError when v cannot be called.
func (rt *Runtime) GuardCallable(v Value) error {
	if rt.closureOf(v) == nil {
		return errors.NewTypeError("%s is not a function", rt.Describe(v))
	}
	return nil
}
