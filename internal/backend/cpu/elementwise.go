package cpu

import (
	"fmt"

	"github.com/born-ml/saliency/internal/tensor"
)

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binary("add", a, b, func(x, y float32) float32 { return x + y })
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binary("sub", a, b, func(x, y float32) float32 { return x - y })
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binary("mul", a, b, func(x, y float32) float32 { return x * y })
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return binary("div", a, b, func(x, y float32) float32 { return x / y })
}

// MulScalar multiplies every element by s.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, s float32) *tensor.RawTensor {
	return unary("mulScalar", x, func(v float32) float32 { return v * s })
}

// AddScalar adds s to every element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, s float32) *tensor.RawTensor {
	return unary("addScalar", x, func(v float32) float32 { return v + s })
}

func unary(op string, x *tensor.RawTensor, f func(float32) float32) *tensor.RawTensor {
	mustFloat32(op, x)
	result := tensor.MustNew(x.Shape(), tensor.Float32)
	dst := result.AsFloat32()
	for i, v := range x.AsFloat32() {
		dst[i] = f(v)
	}
	return result
}

func binary(op string, a, b *tensor.RawTensor, f func(x, y float32) float32) *tensor.RawTensor {
	mustFloat32(op, a, b)

	outShape, stretched, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}

	result := tensor.MustNew(outShape, tensor.Float32)
	dst := result.AsFloat32()
	aData := a.AsFloat32()
	bData := b.AsFloat32()

	// Fast path: identical shapes.
	if !stretched {
		for i := range dst {
			dst[i] = f(aData[i], bData[i])
		}
		return result
	}

	// Fast path: one operand is a single value.
	if len(bData) == 1 {
		y := bData[0]
		for i := range dst {
			dst[i] = f(aData[i], y)
		}
		return result
	}

	aStrides := tensor.BroadcastStrides(a.Shape(), outShape)
	bStrides := tensor.BroadcastStrides(b.Shape(), outShape)
	coords := make([]int, len(outShape))
	aIdx, bIdx := 0, 0

	for i := range dst {
		dst[i] = f(aData[aIdx], bData[bIdx])

		// Advance the multi-index like an odometer, keeping both source
		// offsets in sync.
		for d := len(outShape) - 1; d >= 0; d-- {
			coords[d]++
			aIdx += aStrides[d]
			bIdx += bStrides[d]
			if coords[d] < outShape[d] {
				break
			}
			aIdx -= aStrides[d] * coords[d]
			bIdx -= bStrides[d] * coords[d]
			coords[d] = 0
		}
	}

	return result
}
