package operators

import (
	"fmt"

	"github.com/born-ml/saliency/internal/tensor"
)

// registerMathOps adds math operators to the registry.
func (r *Registry) registerMathOps() {
	r.Register("Add", binaryHandler("add", tensor.Backend.Add))
	r.Register("Sub", binaryHandler("sub", tensor.Backend.Sub))
	r.Register("Mul", binaryHandler("mul", tensor.Backend.Mul))
	r.Register("Div", binaryHandler("div", tensor.Backend.Div))
	r.Register("MatMul", handleMatMul)
	r.Register("Gemm", handleGemm)
}

func binaryHandler(op string, f func(tensor.Backend, *tensor.RawTensor, *tensor.RawTensor) *tensor.RawTensor) OpHandler {
	return func(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
		if err := requireInputs(op, inputs, 2); err != nil {
			return nil, err
		}
		if err := requireFloat(op, inputs[0], inputs[1]); err != nil {
			return nil, err
		}
		return single(f(ctx.Backend, inputs[0], inputs[1])), nil
	}
}

func handleMatMul(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("matMul", inputs, 2); err != nil {
		return nil, err
	}
	if err := requireFloat("matMul", inputs[0], inputs[1]); err != nil {
		return nil, err
	}
	a, b := inputs[0], inputs[1]
	if len(a.Shape()) != 2 || len(b.Shape()) != 2 {
		return nil, fmt.Errorf("matMul: only 2D operands supported, got %v @ %v", a.Shape(), b.Shape())
	}
	return single(ctx.Backend.MatMul(a, b)), nil
}

// handleGemm implements General Matrix Multiplication: Y = alpha*op(A)*op(B) + beta*C.
func handleGemm(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("gemm", inputs, 2); err != nil {
		return nil, err
	}
	if err := requireFloat("gemm", inputs...); err != nil {
		return nil, err
	}

	alpha := GetAttrFloat(node, "alpha", 1.0)
	beta := GetAttrFloat(node, "beta", 1.0)
	transA := GetAttrInt(node, "transA", 0) != 0
	transB := GetAttrInt(node, "transB", 0) != 0

	a, b := inputs[0], inputs[1]
	if len(a.Shape()) != 2 || len(b.Shape()) != 2 {
		return nil, fmt.Errorf("gemm: only 2D operands supported, got %v and %v", a.Shape(), b.Shape())
	}

	result := ctx.Backend.MatMulTrans(a, b, transA, transB)
	if alpha != 1 {
		result = ctx.Backend.MulScalar(result, alpha)
	}

	if len(inputs) > 2 && inputs[2] != nil && beta != 0 {
		c := inputs[2]
		if beta != 1 {
			c = ctx.Backend.MulScalar(c, beta)
		}
		result = ctx.Backend.Add(result, c)
	}

	return single(result), nil
}
