package tensor

import "unsafe"

var littleEndian = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

func asBytes[T Element](values []T) []byte {
	if len(values) == 0 {
		return []byte{}
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&values[0])), len(values)*int(unsafe.Sizeof(zero)))
}

// swapOrder reverses the byte order of every element in place. Complex
// elements are swapped as two independent floats.
func swapOrder(data []byte, dtype DType) {
	width := dtype.Size()
	if dtype.complexParts() {
		width /= 2
	}
	if width <= 1 {
		return
	}
	for off := 0; off+width <= len(data); off += width {
		elem := data[off : off+width]
		for i, j := 0, width-1; i < j; i, j = i+1, j-1 {
			elem[i], elem[j] = elem[j], elem[i]
		}
	}
}
