package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/saliency/internal/tensor"
)

// MatMul performs matrix multiplication: (M, K) @ (K, N) -> (M, N).
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.MatMulTrans(a, b, false, false)
}

// MatMulTrans computes op(a) @ op(b) for 2D tensors. The transposes are
// handled by BLAS, so large weight matrices are never copied.
func (cpu *CPUBackend) MatMulTrans(a, b *tensor.RawTensor, transA, transB bool) *tensor.RawTensor {
	mustFloat32("matmul", a, b)
	aShape := a.Shape()
	bShape := b.Shape()

	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape)))
	}

	m, k := aShape[0], aShape[1]
	tA := blas.NoTrans
	if transA {
		m, k = k, m
		tA = blas.Trans
	}
	kAlt, n := bShape[0], bShape[1]
	tB := blas.NoTrans
	if transB {
		kAlt, n = n, kAlt
		tB = blas.Trans
	}
	if k != kAlt {
		panic(fmt.Sprintf("matmul: shape mismatch %v (trans=%t) @ %v (trans=%t)", aShape, transA, bShape, transB))
	}

	result := tensor.MustNew(tensor.Shape{m, n}, tensor.Float32)
	gemm(tA, tB, m, n, k, a.AsFloat32(), b.AsFloat32(), 0, result.AsFloat32())
	return result
}

// gemm computes C = op(A) @ op(B) + beta*C for row-major dense matrices,
// where op(A) is m x k and op(B) is k x n.
func gemm(tA, tB blas.Transpose, m, n, k int, a, b []float32, beta float32, c []float32) {
	aRows, aCols := m, k
	if tA == blas.Trans {
		aRows, aCols = k, m
	}
	bRows, bCols := k, n
	if tB == blas.Trans {
		bRows, bCols = n, k
	}

	blas32.Gemm(tA, tB, 1,
		blas32.General{Rows: aRows, Cols: aCols, Stride: aCols, Data: a},
		blas32.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: b},
		beta,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c},
	)
}
