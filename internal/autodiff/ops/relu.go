package ops

import "github.com/born-ml/saliency/internal/tensor"

// ReLURule computes the input gradient of a ReLU from the forward input,
// the forward output and the incoming gradient.
type ReLURule func(input, output, grad *tensor.RawTensor) *tensor.RawTensor

// StandardReLU is the true ReLU derivative: grad where the activation is positive.
func StandardReLU(_, output, grad *tensor.RawTensor) *tensor.RawTensor {
	y := output.AsFloat32()
	g := grad.AsFloat32()
	return mapFloat32(func(i int) float32 {
		if y[i] > 0 {
			return g[i]
		}
		return 0
	}, grad)
}

// GuidedReLU passes the gradient only where both the activation and the
// incoming gradient are positive (guided backpropagation).
func GuidedReLU(_, output, grad *tensor.RawTensor) *tensor.RawTensor {
	y := output.AsFloat32()
	g := grad.AsFloat32()
	return mapFloat32(func(i int) float32 {
		if y[i] > 0 && g[i] > 0 {
			return g[i]
		}
		return 0
	}, grad)
}

// DeconvReLU passes the gradient wherever it is positive, ignoring the
// forward activation (deconvolution).
func DeconvReLU(_, _, grad *tensor.RawTensor) *tensor.RawTensor {
	g := grad.AsFloat32()
	return mapFloat32(func(i int) float32 {
		if g[i] > 0 {
			return g[i]
		}
		return 0
	}, grad)
}

// ReLUOp represents output = max(0, x).
//
// The backward rule is captured when the op is recorded, so a gradient
// override active during the forward pass decides how this activation
// differentiates, regardless of when Backward runs.
type ReLUOp struct {
	input    *tensor.RawTensor
	output   *tensor.RawTensor
	rule     ReLURule
	ruleName string
}

// NewReLUOp creates a new ReLUOp using rule for the backward pass.
// A nil rule means StandardReLU.
func NewReLUOp(input, output *tensor.RawTensor, ruleName string, rule ReLURule) *ReLUOp {
	if rule == nil {
		rule = StandardReLU
	}
	return &ReLUOp{input: input, output: output, rule: rule, ruleName: ruleName}
}

// Backward applies the captured rule.
func (op *ReLUOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend, _ []bool) []*tensor.RawTensor {
	return []*tensor.RawTensor{op.rule(op.input, op.output, outputGrad)}
}

// Inputs returns [x].
func (op *ReLUOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns max(0, x).
func (op *ReLUOp) Output() *tensor.RawTensor {
	return op.output
}

// Name returns the name of the gradient rule captured at record time.
func (op *ReLUOp) Name() string {
	return op.ruleName
}
