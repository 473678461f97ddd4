package cpu

import (
	"fmt"

	"github.com/born-ml/saliency/internal/tensor"
)

// Sum reduces all elements to a scalar (shape []).
func (cpu *CPUBackend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	mustFloat32("sum", x)
	var sum float64
	for _, v := range x.AsFloat32() {
		sum += float64(v)
	}
	result := tensor.MustNew(tensor.Shape{}, tensor.Float32)
	result.AsFloat32()[0] = float32(sum)
	return result
}

// MaxDim takes the maximum along axis.
//
// The second result holds, per output element, the flat input offset of
// the first maximal element along axis.
func (cpu *CPUBackend) MaxDim(x *tensor.RawTensor, axis int, keepDim bool) (*tensor.RawTensor, []int) {
	mustFloat32("maxdim", x)
	shape := x.Shape()
	axis, err := tensor.NormalizeAxis(axis, len(shape))
	if err != nil {
		panic(fmt.Sprintf("maxdim: %v", err))
	}

	outShape := make(tensor.Shape, 0, len(shape))
	for i, d := range shape {
		switch {
		case i != axis:
			outShape = append(outShape, d)
		case keepDim:
			outShape = append(outShape, 1)
		}
	}

	outer, dim, inner := splitAxis(shape, axis)
	result := tensor.MustNew(outShape, tensor.Float32)
	indices := make([]int, outer*inner)
	src := x.AsFloat32()
	dst := result.AsFloat32()

	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			best := o*dim*inner + i
			for d := 1; d < dim; d++ {
				if idx := o*dim*inner + d*inner + i; src[idx] > src[best] {
					best = idx
				}
			}
			dst[o*inner+i] = src[best]
			indices[o*inner+i] = best
		}
	}

	return result, indices
}
