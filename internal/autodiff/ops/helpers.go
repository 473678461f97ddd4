package ops

import (
	"fmt"

	"github.com/born-ml/saliency/internal/tensor"
)

// reduceBroadcast sums grad down to targetShape, undoing the broadcasting
// of the forward pass.
//
//	Forward:  a[3,1] + b[3,4] -> c[3,4]
//	Backward: grad_c[3,4] -> grad_a[3,1] (summed along dim 1)
func reduceBroadcast(grad *tensor.RawTensor, targetShape tensor.Shape) *tensor.RawTensor {
	gradShape := grad.Shape()
	if gradShape.Equal(targetShape) {
		return grad
	}
	if gradShape.NumElements() == targetShape.NumElements() {
		// Only unit axes differ: [1,4] vs [4].
		view, err := grad.Reshaped(targetShape)
		if err != nil {
			panic(fmt.Sprintf("reduceBroadcast: %v", err))
		}
		return view
	}

	result := tensor.MustNew(targetShape, tensor.Float32)
	dst := result.AsFloat32()
	src := grad.AsFloat32()

	// Target strides inside the gradient's index space; broadcast axes get 0.
	strides := tensor.BroadcastStrides(targetShape, gradShape)
	coords := make([]int, len(gradShape))
	off := 0
	for _, v := range src {
		dst[off] += v
		for d := len(gradShape) - 1; d >= 0; d-- {
			coords[d]++
			off += strides[d]
			if coords[d] < gradShape[d] {
				break
			}
			off -= strides[d] * coords[d]
			coords[d] = 0
		}
	}
	return result
}

// mapFloat32 applies f element-wise over same-shaped tensors and returns a
// new tensor shaped like the first one.
func mapFloat32(f func(i int) float32, like *tensor.RawTensor) *tensor.RawTensor {
	result := tensor.MustNew(like.Shape(), tensor.Float32)
	dst := result.AsFloat32()
	for i := range dst {
		dst[i] = f(i)
	}
	return result
}

func wants(needs []bool, i int) bool {
	return i < len(needs) && needs[i]
}

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
