package memcore

import (
	"math"
	"math/bits"
	"reflect"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer
}

func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// BitWidth returns the number of bits required to represent count distinct
// index values (0 through count-1). It is never less than 1.
func BitWidth(count int) int {
	w := bits.Len(uint(count - 1))
	if w == 0 {
		w = 1
	}
	return w
}

// IndexWidth returns the in-block link width in bytes for a freelist of
// count blocks: the smallest unsigned integer that can hold count distinct
// offsets plus the reserved all-ones null sentinel.
func IndexWidth(count int) int {
	if count <= math.MaxUint8 {
		return 1
	}
	return 2
}

// CheckNoGoPointers verifies that values of type t can live inside slab
// memory that the garbage collector does not scan. Types containing Go
// pointers of any kind are rejected.
func CheckNoGoPointers(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Array:
		return CheckNoGoPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if err := CheckNoGoPointers(t.Field(i).Type); err != nil {
				return err
			}
		}
		return nil
	default:
		return cerrors.Newf("type %s contains Go pointers and cannot be placed in slab memory", t)
	}
}
