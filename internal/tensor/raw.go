package tensor

import (
	"fmt"
	"unsafe"
)

// RawTensor is a dense row-major tensor backed by a byte buffer.
//
// Kernels never write into their inputs, so views created by Reshaped may
// share the buffer with the tensor they came from.
type RawTensor struct {
	data  []byte
	shape Shape
	dtype DataType
}

// NewRaw allocates a zero-filled tensor.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &RawTensor{
		data:  make([]byte, shape.NumElements()*dtype.Size()),
		shape: shape.Clone(),
		dtype: dtype,
	}, nil
}

// MustNew is NewRaw for kernels whose shapes were already checked.
func MustNew(shape Shape, dtype DataType) *RawTensor {
	t, err := NewRaw(shape, dtype)
	if err != nil {
		panic(err)
	}
	return t
}

// FromFloat32 copies data into a new float32 tensor.
func FromFloat32(data []float32, shape Shape) (*RawTensor, error) {
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v", len(data), shape)
	}
	t, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	copy(t.AsFloat32(), data)
	return t, nil
}

// FromInt64 copies data into a new int64 tensor.
func FromInt64(data []int64, shape Shape) (*RawTensor, error) {
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v", len(data), shape)
	}
	t, err := NewRaw(shape, Int64)
	if err != nil {
		return nil, err
	}
	copy(t.AsInt64(), data)
	return t, nil
}

// Full creates a float32 tensor filled with value.
func Full(shape Shape, value float32) (*RawTensor, error) {
	t, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	data := t.AsFloat32()
	for i := range data {
		data[i] = value
	}
	return t, nil
}

// ZerosLike allocates a zero tensor with the shape and dtype of t.
func ZerosLike(t *RawTensor) *RawTensor {
	return MustNew(t.shape, t.dtype)
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the buffer size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// Data returns the underlying bytes.
func (r *RawTensor) Data() []byte {
	return r.data
}

// AsFloat32 interprets the buffer as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	//nolint:gosec // zero-copy view, length bounded by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsInt64 interprets the buffer as []int64.
// Panics if the tensor's dtype is not Int64.
func (r *RawTensor) AsInt64() []int64 {
	if r.dtype != Int64 {
		panic(fmt.Sprintf("tensor dtype is %s, not int64", r.dtype))
	}
	//nolint:gosec // zero-copy view, length bounded by NumElements()
	return unsafe.Slice((*int64)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// AsUint8 returns the buffer as []uint8.
// Panics if the tensor's dtype is not Uint8.
func (r *RawTensor) AsUint8() []uint8 {
	if r.dtype != Uint8 {
		panic(fmt.Sprintf("tensor dtype is %s, not uint8", r.dtype))
	}
	return r.data
}

// Clone returns a deep copy.
func (r *RawTensor) Clone() *RawTensor {
	data := make([]byte, len(r.data))
	copy(data, r.data)
	return &RawTensor{data: data, shape: r.shape.Clone(), dtype: r.dtype}
}

// Reshaped returns a view with a new shape over the same buffer.
func (r *RawTensor) Reshaped(shape Shape) (*RawTensor, error) {
	if shape.NumElements() != r.NumElements() {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v (%d elements)",
			r.shape, r.NumElements(), shape, shape.NumElements())
	}
	return &RawTensor{data: r.data, shape: shape.Clone(), dtype: r.dtype}, nil
}

// Float32s returns a float32 copy of the elements, converting Int64 and Uint8.
func (r *RawTensor) Float32s() []float32 {
	out := make([]float32, r.NumElements())
	switch r.dtype {
	case Float32:
		copy(out, r.AsFloat32())
	case Int64:
		for i, v := range r.AsInt64() {
			out[i] = float32(v)
		}
	case Uint8:
		for i, v := range r.AsUint8() {
			out[i] = float32(v)
		}
	}
	return out
}

// Int64s returns an int64 copy of the elements, truncating floats.
func (r *RawTensor) Int64s() []int64 {
	out := make([]int64, r.NumElements())
	switch r.dtype {
	case Int64:
		copy(out, r.AsInt64())
	case Float32:
		for i, v := range r.AsFloat32() {
			out[i] = int64(v)
		}
	case Uint8:
		for i, v := range r.AsUint8() {
			out[i] = int64(v)
		}
	}
	return out
}

// String implements fmt.Stringer with shape and dtype only.
func (r *RawTensor) String() string {
	return fmt.Sprintf("RawTensor(%v, %s)", r.shape, r.dtype)
}
