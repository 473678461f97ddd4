package ops

import "github.com/born-ml/saliency/internal/tensor"

// SoftmaxOp represents y = softmax(x) along axis.
//
// Backward: dx = y * (grad - Σ(grad * y)) with the sum taken along axis.
type SoftmaxOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
	axis   int
}

// NewSoftmaxOp creates a new SoftmaxOp. axis must already be normalized.
func NewSoftmaxOp(input, output *tensor.RawTensor, axis int) *SoftmaxOp {
	return &SoftmaxOp{input: input, output: output, axis: axis}
}

// Backward computes the softmax Jacobian-vector product.
func (op *SoftmaxOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend, _ []bool) []*tensor.RawTensor {
	outer, dim, inner := splitAxis(op.output.Shape(), op.axis)
	y := op.output.AsFloat32()
	g := outputGrad.AsFloat32()

	result := tensor.MustNew(op.input.Shape(), tensor.Float32)
	dst := result.AsFloat32()
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			base := o*dim*inner + i
			var dotp float32
			for d := 0; d < dim; d++ {
				idx := base + d*inner
				dotp += g[idx] * y[idx]
			}
			for d := 0; d < dim; d++ {
				idx := base + d*inner
				dst[idx] = y[idx] * (g[idx] - dotp)
			}
		}
	}
	return []*tensor.RawTensor{result}
}

// Inputs returns [x].
func (op *SoftmaxOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns softmax(x).
func (op *SoftmaxOp) Output() *tensor.RawTensor {
	return op.output
}
