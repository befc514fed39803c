package tensor

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"unsafe"

	"github.com/flexrobotics/roboflex/errors"
)

// Tensor is a dense row-major array. Data holds the elements in little-endian
// byte order and may alias a decoded payload buffer, so it must be treated as
// read-only unless the caller created it.
type Tensor struct {
	Shape []int
	DType DType
	Data  []byte
}

// New allocates a zero-filled tensor.
func New(dtype DType, shape ...int) (*Tensor, error) {
	t := &Tensor{Shape: append([]int(nil), shape...), DType: dtype}
	n, err := t.byteLen()
	if err != nil {
		return nil, err
	}
	t.Data = make([]byte, n)
	return t, nil
}

// FromBytes wraps data without copying after checking its length.
func FromBytes(dtype DType, data []byte, shape ...int) (*Tensor, error) {
	t := &Tensor{Shape: append([]int(nil), shape...), DType: dtype, Data: data}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// FromSlice builds a tensor over values. On little-endian hosts Data aliases
// values' backing array; elsewhere the bytes are copied and swapped. An empty
// shape means a one-dimensional tensor of len(values).
func FromSlice[T Element](values []T, shape ...int) (*Tensor, error) {
	if len(shape) == 0 {
		shape = []int{len(values)}
	}
	dtype := DTypeOf[T]()
	t := &Tensor{Shape: append([]int(nil), shape...), DType: dtype}
	n, err := t.elements()
	if err != nil {
		return nil, err
	}
	if n != len(values) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: shape %v holds %d elements, got %d", errors.ErrTensorMismatch, shape, n, len(values)),
			"tensor", "FromSlice", "build tensor")
	}
	t.Data = asBytes(values)
	if !littleEndian {
		t.Data = bytes.Clone(t.Data)
		swapOrder(t.Data, dtype)
	}
	return t, nil
}

// View returns the elements of t as a []T. The result aliases t.Data when the
// host is little-endian and the buffer is suitably aligned; otherwise it is a
// copy.
func View[T Element](t *Tensor) ([]T, error) {
	if t == nil {
		return nil, nil
	}
	if want := DTypeOf[T](); t.DType != want {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: tensor is %s, requested %s", errors.ErrTensorMismatch, t.DType, want),
			"tensor", "View", "view tensor")
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	size := t.DType.Size()
	n := len(t.Data) / size
	if n == 0 {
		return []T{}, nil
	}

	var zero T
	if littleEndian && uintptr(unsafe.Pointer(&t.Data[0]))%unsafe.Alignof(zero) == 0 {
		return unsafe.Slice((*T)(unsafe.Pointer(&t.Data[0])), n), nil
	}

	out := make([]T, n)
	dst := asBytes(out)
	copy(dst, t.Data)
	if !littleEndian {
		swapOrder(dst, t.DType)
	}
	return out, nil
}

// Len returns the number of elements, or 0 when the shape is invalid.
func (t *Tensor) Len() int {
	n, err := t.elements()
	if err != nil {
		return 0
	}
	return n
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Validate checks the dtype, the dimensions and that Data has exactly the
// number of bytes the shape requires. A rank-0 shape holds no elements.
func (t *Tensor) Validate() error {
	want, err := t.byteLen()
	if err != nil {
		return err
	}
	if len(t.Data) != want {
		return errors.WrapInvalid(
			fmt.Errorf("%w: shape %v of %s needs %d bytes, have %d",
				errors.ErrTensorMismatch, t.Shape, t.DType, want, len(t.Data)),
			"tensor", "Validate", "check data length")
	}
	return nil
}

// elements returns the product of the dimensions, failing on a negative
// dimension or a product that does not fit in an int.
func (t *Tensor) elements() (int, error) {
	if len(t.Shape) == 0 {
		return 0, nil
	}
	n := 1
	for i, d := range t.Shape {
		if d < 0 {
			return 0, errors.WrapInvalid(
				fmt.Errorf("%w: dimension %d is %d", errors.ErrTensorMismatch, i, d),
				"tensor", "Validate", "check shape")
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, errors.WrapInvalid(
				fmt.Errorf("%w: shape %v overflows", errors.ErrTensorMismatch, t.Shape),
				"tensor", "Validate", "check shape")
		}
		n *= d
	}
	return n, nil
}

func (t *Tensor) byteLen() (int, error) {
	if !t.DType.Valid() {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnsupportedType, t.DType),
			"tensor", "Validate", "check dtype")
	}
	n, err := t.elements()
	if err != nil {
		return 0, err
	}
	size := t.DType.Size()
	if n > math.MaxInt/size {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: shape %v of %s overflows", errors.ErrTensorMismatch, t.Shape, t.DType),
			"tensor", "Validate", "check shape")
	}
	return n * size, nil
}

// Equal reports whether both tensors have the same dtype, shape and bytes.
func (t *Tensor) Equal(o *Tensor) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.DType != o.DType || len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return bytes.Equal(t.Data, o.Data)
}

// Clone returns a deep copy that no longer aliases any payload buffer.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		DType: t.DType,
		Data:  bytes.Clone(t.Data),
	}
}

func (t *Tensor) String() string {
	if t == nil {
		return "Tensor(nil)"
	}
	dims := make([]string, len(t.Shape))
	for i, d := range t.Shape {
		dims[i] = fmt.Sprint(d)
	}
	return fmt.Sprintf("Tensor(%s, [%s], %d bytes)", t.DType, strings.Join(dims, " "), len(t.Data))
}
