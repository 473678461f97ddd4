package cpu

import (
	"fmt"

	"github.com/born-ml/saliency/internal/tensor"
)

// Reshape returns a view of x with a new shape. No data is copied.
func (cpu *CPUBackend) Reshape(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	view, err := x.Reshaped(shape)
	if err != nil {
		panic(fmt.Sprintf("reshape: %v", err))
	}
	return view
}

// Transpose permutes the axes of x. With no axes the order is reversed.
func (cpu *CPUBackend) Transpose(x *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	mustFloat32("transpose", x)
	shape := x.Shape()
	rank := len(shape)

	if len(axes) == 0 {
		axes = make([]int, rank)
		for i := range axes {
			axes[i] = rank - 1 - i
		}
	}
	if len(axes) != rank {
		panic(fmt.Sprintf("transpose: %d axes for rank %d", len(axes), rank))
	}

	seen := make([]bool, rank)
	outShape := make(tensor.Shape, rank)
	// srcStrides[i] is the input stride of output axis i.
	inStrides := shape.ComputeStrides()
	srcStrides := make([]int, rank)
	for i, a := range axes {
		a, err := tensor.NormalizeAxis(a, rank)
		if err != nil || seen[a] {
			panic(fmt.Sprintf("transpose: invalid permutation %v", axes))
		}
		seen[a] = true
		outShape[i] = shape[a]
		srcStrides[i] = inStrides[a]
	}

	result := tensor.MustNew(outShape, tensor.Float32)
	src := x.AsFloat32()
	dst := result.AsFloat32()
	walk(outShape, srcStrides, func(i, s int) { dst[i] = src[s] })
	return result
}

// Pad pads x with value. pads uses the ONNX layout
// [begin_0, ..., begin_{r-1}, end_0, ..., end_{r-1}].
func (cpu *CPUBackend) Pad(x *tensor.RawTensor, pads []int, value float32) *tensor.RawTensor {
	mustFloat32("pad", x)
	shape := x.Shape()
	rank := len(shape)
	checkPads("pad", pads, rank)

	outShape := make(tensor.Shape, rank)
	for i := range shape {
		outShape[i] = shape[i] + pads[i] + pads[rank+i]
	}

	result := tensor.MustNew(outShape, tensor.Float32)
	dst := result.AsFloat32()
	if value != 0 {
		for i := range dst {
			dst[i] = value
		}
	}

	outStrides := outShape.ComputeStrides()
	offset := 0
	for i := range shape {
		offset += pads[i] * outStrides[i]
	}
	src := x.AsFloat32()
	walk(shape, outStrides, func(i, d int) { dst[offset+d] = src[i] })
	return result
}

// Crop removes the border Pad added: it is the adjoint of Pad for the same pads.
func (cpu *CPUBackend) Crop(x *tensor.RawTensor, pads []int) *tensor.RawTensor {
	mustFloat32("crop", x)
	shape := x.Shape()
	rank := len(shape)
	checkPads("crop", pads, rank)

	outShape := make(tensor.Shape, rank)
	for i := range shape {
		outShape[i] = shape[i] - pads[i] - pads[rank+i]
		if outShape[i] <= 0 {
			panic(fmt.Sprintf("crop: pads %v exceed shape %v", pads, shape))
		}
	}

	inStrides := shape.ComputeStrides()
	offset := 0
	for i := range shape {
		offset += pads[i] * inStrides[i]
	}

	result := tensor.MustNew(outShape, tensor.Float32)
	src := x.AsFloat32()
	dst := result.AsFloat32()
	walk(outShape, inStrides, func(i, s int) { dst[i] = src[offset+s] })
	return result
}

func checkPads(op string, pads []int, rank int) {
	if len(pads) != 2*rank {
		panic(fmt.Sprintf("%s: expected %d pads for rank %d, got %d", op, 2*rank, rank, len(pads)))
	}
	for _, p := range pads {
		if p < 0 {
			panic(fmt.Sprintf("%s: negative pads %v", op, pads))
		}
	}
}

// walk visits every element of shape in row-major order, calling f with the
// dense index and the matching offset under strides.
func walk(shape tensor.Shape, strides []int, f func(i, off int)) {
	n := shape.NumElements()
	if len(shape) == 0 {
		f(0, 0)
		return
	}
	coords := make([]int, len(shape))
	off := 0
	for i := 0; i < n; i++ {
		f(i, off)
		for d := len(shape) - 1; d >= 0; d-- {
			coords[d]++
			off += strides[d]
			if coords[d] < shape[d] {
				break
			}
			off -= strides[d] * coords[d]
			coords[d] = 0
		}
	}
}
