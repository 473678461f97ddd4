package ops

import "github.com/born-ml/saliency/internal/tensor"

// ReshapeOp records a reshape. The gradient is reshaped back.
type ReshapeOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// NewReshapeOp creates a new ReshapeOp.
func NewReshapeOp(input, output *tensor.RawTensor) *ReshapeOp {
	return &ReshapeOp{input: input, output: output}
}

// Backward reshapes the gradient to the input shape.
func (op *ReshapeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend, _ []bool) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Reshape(outputGrad, op.input.Shape())}
}

// Inputs returns [x].
func (op *ReshapeOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the reshaped tensor.
func (op *ReshapeOp) Output() *tensor.RawTensor { return op.output }

// TransposeOp records an axis permutation. The gradient is permuted back
// with the inverse permutation.
type TransposeOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
	axes   []int
}

// NewTransposeOp creates a new TransposeOp. Empty axes means reversed order.
func NewTransposeOp(input, output *tensor.RawTensor, axes []int) *TransposeOp {
	rank := len(input.Shape())
	perm := make([]int, rank)
	if len(axes) == 0 {
		for i := range perm {
			perm[i] = rank - 1 - i
		}
	} else {
		for i, a := range axes {
			if a < 0 {
				a += rank
			}
			perm[i] = a
		}
	}
	return &TransposeOp{input: input, output: output, axes: perm}
}

// Backward applies the inverse permutation.
func (op *TransposeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend, _ []bool) []*tensor.RawTensor {
	inverse := make([]int, len(op.axes))
	for i, a := range op.axes {
		inverse[a] = i
	}
	return []*tensor.RawTensor{backend.Transpose(outputGrad, inverse...)}
}

// Inputs returns [x].
func (op *TransposeOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the transposed tensor.
func (op *TransposeOp) Output() *tensor.RawTensor { return op.output }

// PadOp records constant padding. The gradient is cropped back.
type PadOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
	pads   []int
}

// NewPadOp creates a new PadOp.
func NewPadOp(input, output *tensor.RawTensor, pads []int) *PadOp {
	return &PadOp{input: input, output: output, pads: append([]int(nil), pads...)}
}

// Backward crops the padded border off the gradient.
func (op *PadOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend, _ []bool) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Crop(outputGrad, op.pads)}
}

// Inputs returns [x].
func (op *PadOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the padded tensor.
func (op *PadOp) Output() *tensor.RawTensor { return op.output }

// CropOp records the removal of a border. The gradient is zero-padded back.
type CropOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
	pads   []int
}

// NewCropOp creates a new CropOp.
func NewCropOp(input, output *tensor.RawTensor, pads []int) *CropOp {
	return &CropOp{input: input, output: output, pads: append([]int(nil), pads...)}
}

// Backward zero-pads the gradient to the input shape.
func (op *CropOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend, _ []bool) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Pad(outputGrad, op.pads, 0)}
}

// Inputs returns [x].
func (op *CropOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns the cropped tensor.
func (op *CropOp) Output() *tensor.RawTensor { return op.output }
