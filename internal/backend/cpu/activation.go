package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/saliency/internal/tensor"
)

// ReLU computes max(0, x) element-wise.
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	return unary("relu", x, func(v float32) float32 {
		if v > 0 {
			return v
		}
		return 0
	})
}

// Softmax computes a numerically stable softmax along axis.
func (cpu *CPUBackend) Softmax(x *tensor.RawTensor, axis int) *tensor.RawTensor {
	mustFloat32("softmax", x)
	shape := x.Shape()
	axis, err := tensor.NormalizeAxis(axis, len(shape))
	if err != nil {
		panic(fmt.Sprintf("softmax: %v", err))
	}

	outer, dim, inner := splitAxis(shape, axis)
	result := tensor.MustNew(shape, tensor.Float32)
	src := x.AsFloat32()
	dst := result.AsFloat32()

	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			base := o*dim*inner + i

			maxVal := float32(math.Inf(-1))
			for d := 0; d < dim; d++ {
				maxVal = max(maxVal, src[base+d*inner])
			}

			var sum float64
			for d := 0; d < dim; d++ {
				e := math.Exp(float64(src[base+d*inner] - maxVal))
				dst[base+d*inner] = float32(e)
				sum += e
			}
			for d := 0; d < dim; d++ {
				dst[base+d*inner] = float32(float64(dst[base+d*inner]) / sum)
			}
		}
	}

	return result
}

// splitAxis factors shape into (elements before axis, axis size, elements after axis).
func splitAxis(shape tensor.Shape, axis int) (outer, dim, inner int) {
	outer, inner = 1, 1
	for i := 0; i < axis; i++ {
		outer *= shape[i]
	}
	for i := axis + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[axis], inner
}
