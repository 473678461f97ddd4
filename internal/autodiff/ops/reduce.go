package ops

import "github.com/born-ml/saliency/internal/tensor"

// SumOp represents s = Σx. Every input element receives the scalar gradient.
type SumOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewSumOp creates a new SumOp.
func NewSumOp(input, output *tensor.RawTensor) *SumOp {
	return &SumOp{input: input, output: output}
}

// Backward broadcasts the scalar gradient to the input shape.
func (op *SumOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend, _ []bool) []*tensor.RawTensor {
	g := outputGrad.AsFloat32()[0]
	grad, err := tensor.Full(op.input.Shape(), g)
	if err != nil {
		panic(err)
	}
	return []*tensor.RawTensor{grad}
}

// Inputs returns [x].
func (op *SumOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns Σx.
func (op *SumOp) Output() *tensor.RawTensor {
	return op.output
}

// MaxDimOp represents a max reduction along one axis.
//
// The gradient flows only to the arg-max element of each reduced slice;
// ties resolve to the first occurrence, as in the forward kernel.
type MaxDimOp struct {
	input   *tensor.RawTensor
	output  *tensor.RawTensor
	indices []int
}

// NewMaxDimOp creates a new MaxDimOp from the forward kernel's indices.
func NewMaxDimOp(input, output *tensor.RawTensor, indices []int) *MaxDimOp {
	return &MaxDimOp{input: input, output: output, indices: indices}
}

// Backward scatters the gradient to the arg-max positions.
func (op *MaxDimOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend, _ []bool) []*tensor.RawTensor {
	result := tensor.MustNew(op.input.Shape(), tensor.Float32)
	dst := result.AsFloat32()
	for i, g := range outputGrad.AsFloat32() {
		dst[op.indices[i]] += g
	}
	return []*tensor.RawTensor{result}
}

// Inputs returns [x].
func (op *MaxDimOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the reduced tensor.
func (op *MaxDimOp) Output() *tensor.RawTensor {
	return op.output
}
