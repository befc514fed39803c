// Package tensor holds dense N-dimensional numeric arrays as raw
// little-endian bytes plus a shape and element type, with typed views that
// avoid copying whenever the host layout allows it.
package tensor

import (
	"fmt"
	"strconv"
	"unsafe"

	"github.com/flexrobotics/roboflex/errors"
)

// DType identifies the element type of a tensor. The numeric codes are part
// of the wire format and must not be reordered.
type DType int

const (
	Int8 DType = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Intptr
	Uintptr
	Float32
	Float64
	Complex64
	Complex128
	Float16
)

var dtypeNames = [...]string{
	Int8:       "int8",
	Int16:      "int16",
	Int32:      "int32",
	Int64:      "int64",
	Uint8:      "uint8",
	Uint16:     "uint16",
	Uint32:     "uint32",
	Uint64:     "uint64",
	Intptr:     "intp",
	Uintptr:    "uintp",
	Float32:    "float32",
	Float64:    "float64",
	Complex64:  "complex64",
	Complex128: "complex128",
	Float16:    "float16",
}

// Valid reports whether d is a known element type.
func (d DType) Valid() bool {
	return d >= Int8 && d <= Float16
}

// Size returns the width of one element in bytes, or 0 for an unknown type.
func (d DType) Size() int {
	switch d {
	case Int8, Uint8:
		return 1
	case Int16, Uint16, Float16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64, Complex64:
		return 8
	case Complex128:
		return 16
	case Intptr:
		return strconv.IntSize / 8
	case Uintptr:
		return int(unsafe.Sizeof(uintptr(0)))
	default:
		return 0
	}
}

// complexParts reports whether elements are pairs of floats, which matters
// when swapping byte order.
func (d DType) complexParts() bool {
	return d == Complex64 || d == Complex128
}

func (d DType) String() string {
	if d.Valid() {
		return dtypeNames[d]
	}
	return "dtype(" + strconv.Itoa(int(d)) + ")"
}

// ParseDType returns the element type named s, as printed by DType.String.
func ParseDType(s string) (DType, error) {
	for i, name := range dtypeNames {
		if name == s {
			return DType(i), nil
		}
	}
	return 0, errors.WrapInvalid(fmt.Errorf("%w: dtype %q", errors.ErrUnsupportedType, s),
		"tensor", "ParseDType", "parse dtype")
}

// Element lists the Go types that map onto a DType. int maps to Intptr and
// uintptr to Uintptr, matching numpy's index types.
type Element interface {
	int8 | int16 | int32 | int64 |
		uint8 | uint16 | uint32 | uint64 |
		int | uintptr |
		float32 | float64 |
		complex64 | complex128 |
		Half
}

// DTypeOf returns the element type corresponding to T.
func DTypeOf[T Element]() DType {
	var zero T
	switch any(zero).(type) {
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case int:
		return Intptr
	case uintptr:
		return Uintptr
	case float32:
		return Float32
	case float64:
		return Float64
	case complex64:
		return Complex64
	case complex128:
		return Complex128
	default:
		return Float16
	}
}
