// Package ops defines the differentiable operations recorded on the gradient tape.
//
// Each operation keeps references to its inputs and output from the forward
// pass and computes input gradients during the backward pass:
//   - AddOp, SubOp, MulOp, DivOp: element-wise with broadcasting
//   - MulScalarOp, AddScalarOp
//   - MatMulOp: d(A@B)/dA = grad@Bᵀ, d(A@B)/dB = Aᵀ@grad
//   - Conv2DOp, MaxPool2DOp, AvgPool2DOp
//   - ReLUOp: backward delegated to a pluggable ReLURule
//   - SoftmaxOp, SumOp, MaxDimOp
//   - ReshapeOp, TransposeOp, PadOp
package ops

import "github.com/born-ml/saliency/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	//
	// needs[i] reports whether input i wants a gradient. Entries that are
	// not needed may be nil, which lets the tape skip expensive kernels
	// such as the weight gradient of a frozen convolution.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend, needs []bool) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}

// Named is implemented by operations that report a kernel name, used in
// tape dumps and tests.
type Named interface {
	Name() string
}
