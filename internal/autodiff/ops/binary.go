package ops

import "github.com/born-ml/saliency/internal/tensor"

// binaryOp holds the tensors shared by the element-wise binary operations.
type binaryOp struct {
	a, b   *tensor.RawTensor
	output *tensor.RawTensor
}

// Inputs returns [a, b].
func (op *binaryOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.a, op.b}
}

// Output returns the result tensor.
func (op *binaryOp) Output() *tensor.RawTensor {
	return op.output
}

// AddOp represents c = a + b. Both inputs receive the output gradient,
// reduced over broadcast axes.
type AddOp struct{ binaryOp }

// NewAddOp creates a new AddOp.
func NewAddOp(a, b, output *tensor.RawTensor) *AddOp {
	return &AddOp{binaryOp{a: a, b: b, output: output}}
}

// Backward computes gradients for a + b.
func (op *AddOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend, needs []bool) []*tensor.RawTensor {
	grads := make([]*tensor.RawTensor, 2)
	if wants(needs, 0) {
		grads[0] = reduceBroadcast(outputGrad, op.a.Shape())
	}
	if wants(needs, 1) {
		grads[1] = reduceBroadcast(outputGrad, op.b.Shape())
	}
	return grads
}

// SubOp represents c = a - b.
type SubOp struct{ binaryOp }

// NewSubOp creates a new SubOp.
func NewSubOp(a, b, output *tensor.RawTensor) *SubOp {
	return &SubOp{binaryOp{a: a, b: b, output: output}}
}

// Backward computes gradients for a - b.
func (op *SubOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend, needs []bool) []*tensor.RawTensor {
	grads := make([]*tensor.RawTensor, 2)
	if wants(needs, 0) {
		grads[0] = reduceBroadcast(outputGrad, op.a.Shape())
	}
	if wants(needs, 1) {
		grads[1] = reduceBroadcast(backend.MulScalar(outputGrad, -1), op.b.Shape())
	}
	return grads
}

// MulOp represents c = a * b: d/da = grad * b, d/db = grad * a.
type MulOp struct{ binaryOp }

// NewMulOp creates a new MulOp.
func NewMulOp(a, b, output *tensor.RawTensor) *MulOp {
	return &MulOp{binaryOp{a: a, b: b, output: output}}
}

// Backward computes gradients for a * b.
func (op *MulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend, needs []bool) []*tensor.RawTensor {
	grads := make([]*tensor.RawTensor, 2)
	if wants(needs, 0) {
		grads[0] = reduceBroadcast(backend.Mul(outputGrad, op.b), op.a.Shape())
	}
	if wants(needs, 1) {
		grads[1] = reduceBroadcast(backend.Mul(outputGrad, op.a), op.b.Shape())
	}
	return grads
}

// DivOp represents c = a / b: d/da = grad / b, d/db = -grad * c / b.
type DivOp struct{ binaryOp }

// NewDivOp creates a new DivOp.
func NewDivOp(a, b, output *tensor.RawTensor) *DivOp {
	return &DivOp{binaryOp{a: a, b: b, output: output}}
}

// Backward computes gradients for a / b.
func (op *DivOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend, needs []bool) []*tensor.RawTensor {
	grads := make([]*tensor.RawTensor, 2)
	if wants(needs, 0) {
		grads[0] = reduceBroadcast(backend.Div(outputGrad, op.b), op.a.Shape())
	}
	if wants(needs, 1) {
		g := backend.Div(backend.Mul(outputGrad, op.output), op.b)
		grads[1] = reduceBroadcast(backend.MulScalar(g, -1), op.b.Shape())
	}
	return grads
}

// MulScalarOp represents y = x * s for a constant s.
type MulScalarOp struct {
	input, output *tensor.RawTensor
	scalar        float32
}

// NewMulScalarOp creates a new MulScalarOp.
func NewMulScalarOp(input, output *tensor.RawTensor, scalar float32) *MulScalarOp {
	return &MulScalarOp{input: input, output: output, scalar: scalar}
}

// Backward returns grad * s.
func (op *MulScalarOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend, _ []bool) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.MulScalar(outputGrad, op.scalar)}
}

// Inputs returns [x].
func (op *MulScalarOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns x * s.
func (op *MulScalarOp) Output() *tensor.RawTensor { return op.output }

// AddScalarOp represents y = x + s; the gradient passes through unchanged.
type AddScalarOp struct {
	input, output *tensor.RawTensor
}

// NewAddScalarOp creates a new AddScalarOp.
func NewAddScalarOp(input, output *tensor.RawTensor) *AddScalarOp {
	return &AddScalarOp{input: input, output: output}
}

// Backward returns grad.
func (op *AddScalarOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend, _ []bool) []*tensor.RawTensor {
	return []*tensor.RawTensor{outputGrad}
}

// Inputs returns [x].
func (op *AddScalarOp) Inputs() []*tensor.RawTensor { return []*tensor.RawTensor{op.input} }

// Output returns x + s.
func (op *AddScalarOp) Output() *tensor.RawTensor { return op.output }
