package ops

import "github.com/born-ml/saliency/internal/tensor"

// Conv2DOp records a 2D convolution for autodiff.
//
// Forward: output = Conv2D(input, kernel, params)
//
// Backward:
//   - d_input:  transposed convolution of d_output with the kernel
//   - d_kernel: correlation of the input with d_output
//
// Both are delegated to the backend. The kernel gradient is skipped when the
// kernel is frozen, which is the common case for pretrained weights.
type Conv2DOp struct {
	input  *tensor.RawTensor
	kernel *tensor.RawTensor
	output *tensor.RawTensor
	params tensor.ConvParams
}

// NewConv2DOp creates a new Conv2D operation.
func NewConv2DOp(input, kernel, output *tensor.RawTensor, params tensor.ConvParams) *Conv2DOp {
	return &Conv2DOp{
		input:  input,
		kernel: kernel,
		output: output,
		params: params,
	}
}

// Inputs returns [input, kernel].
func (op *Conv2DOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input, op.kernel}
}

// Output returns the convolution result.
func (op *Conv2DOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes gradients for Conv2D.
//
// Given outputGrad ∂L/∂output [N, M, OH, OW]:
//   - inputGrad:  ∂L/∂input  [N, C, H, W]
//   - kernelGrad: ∂L/∂kernel [M, C/G, KH, KW]
func (op *Conv2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend, needs []bool) []*tensor.RawTensor {
	grads := make([]*tensor.RawTensor, 2)
	if wants(needs, 0) {
		grads[0] = backend.Conv2DInputBackward(op.input, op.kernel, outputGrad, op.params)
	}
	if wants(needs, 1) {
		grads[1] = backend.Conv2DKernelBackward(op.input, op.kernel, outputGrad, op.params)
	}
	return grads
}
