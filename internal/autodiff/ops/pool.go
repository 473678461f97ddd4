package ops

import "github.com/born-ml/saliency/internal/tensor"

// MaxPool2DOp records a 2D max pooling.
//
// The forward kernel returns the flat input offset of every selected
// maximum, so the backward pass is a scatter of the output gradient into
// those positions. Non-selected positions get zero gradient.
type MaxPool2DOp struct {
	input   *tensor.RawTensor
	output  *tensor.RawTensor
	indices []int
}

// NewMaxPool2DOp creates a new MaxPool2D operation.
func NewMaxPool2DOp(input, output *tensor.RawTensor, indices []int) *MaxPool2DOp {
	return &MaxPool2DOp{input: input, output: output, indices: indices}
}

// Inputs returns [input].
func (op *MaxPool2DOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the pooled tensor.
func (op *MaxPool2DOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward routes the gradient to the arg-max positions.
func (op *MaxPool2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend, _ []bool) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.MaxPool2DBackward(op.input, outputGrad, op.indices)}
}

// AvgPool2DOp records a 2D average pooling (GlobalAveragePool included).
type AvgPool2DOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
	params tensor.PoolParams
}

// NewAvgPool2DOp creates a new AvgPool2D operation.
func NewAvgPool2DOp(input, output *tensor.RawTensor, params tensor.PoolParams) *AvgPool2DOp {
	return &AvgPool2DOp{input: input, output: output, params: params}
}

// Inputs returns [input].
func (op *AvgPool2DOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the pooled tensor.
func (op *AvgPool2DOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward spreads the gradient evenly over each pooling window.
func (op *AvgPool2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend, _ []bool) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.AvgPool2DBackward(op.input, outputGrad, op.params)}
}
