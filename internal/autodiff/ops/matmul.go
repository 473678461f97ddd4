package ops

import "github.com/born-ml/saliency/internal/tensor"

// MatMulOp represents C = op(A) @ op(B) for 2D tensors, where op optionally
// transposes.
//
// Backward without transposes:
//   - dA = grad @ Bᵀ
//   - dB = Aᵀ @ grad
//
// The transposed variants follow by transposing both sides. All products go
// through MatMulTrans, so no operand is ever copied.
type MatMulOp struct {
	a, b           *tensor.RawTensor
	output         *tensor.RawTensor
	transA, transB bool
}

// NewMatMulOp creates a new MatMulOp for A @ B.
func NewMatMulOp(a, b, output *tensor.RawTensor) *MatMulOp {
	return &MatMulOp{a: a, b: b, output: output}
}

// NewMatMulTransOp creates a new MatMulOp for op(A) @ op(B).
func NewMatMulTransOp(a, b, output *tensor.RawTensor, transA, transB bool) *MatMulOp {
	return &MatMulOp{a: a, b: b, output: output, transA: transA, transB: transB}
}

// Backward computes gradients for op(A) @ op(B).
func (op *MatMulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend, needs []bool) []*tensor.RawTensor {
	grads := make([]*tensor.RawTensor, 2)
	if wants(needs, 0) {
		if op.transA {
			grads[0] = backend.MatMulTrans(op.b, outputGrad, op.transB, true)
		} else {
			grads[0] = backend.MatMulTrans(outputGrad, op.b, false, !op.transB)
		}
	}
	if wants(needs, 1) {
		if op.transB {
			grads[1] = backend.MatMulTrans(outputGrad, op.a, true, op.transA)
		} else {
			grads[1] = backend.MatMulTrans(op.a, outputGrad, !op.transA, false)
		}
	}
	return grads
}

// Inputs returns [A, B].
func (op *MatMulOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.a, op.b}
}

// Output returns the product.
func (op *MatMulOp) Output() *tensor.RawTensor {
	return op.output
}
