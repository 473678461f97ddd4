package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"

	"github.com/born-ml/saliency/internal/parallel"
	"github.com/born-ml/saliency/internal/tensor"
)

// Conv2DInputBackward computes the gradient of Conv2D with respect to its input.
//
// For each (batch, group): dcol = Wᵀ @ dout, then col2im scatters dcol back
// into the input layout.
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, p tensor.ConvParams) *tensor.RawTensor {
	mustFloat32("conv2d input backward", input, kernel, grad)
	g := newConvGeometry("conv2d input backward", input, kernel, p)
	checkConvGrad("conv2d input backward", g, grad)

	result := tensor.MustNew(input.Shape(), tensor.Float32)
	kData := kernel.AsFloat32()
	gData := grad.AsFloat32()
	rData := result.AsFloat32()

	// Every (batch, group) pair writes a disjoint slice of the result.
	parallel.ForPairs(g.n, g.group, cpu.par, func(n, grp int) {
		dcol := make([]float32, g.colRows*g.patch)
		kOff := grp * g.mg * g.colRows
		gOff := (n*g.m + grp*g.mg) * g.patch
		gemm(blas.Trans, blas.NoTrans, g.colRows, g.patch, g.mg,
			kData[kOff:kOff+g.mg*g.colRows],
			gData[gOff:gOff+g.mg*g.patch],
			0,
			dcol)
		g.col2im(dcol, rData, n, grp)
	})

	return result
}

// Conv2DKernelBackward computes the gradient of Conv2D with respect to its kernel.
//
// For each group: dW = Σₙ dout[n] @ col[n]ᵀ. Groups run in parallel, batches
// accumulate sequentially into the same group slice.
func (cpu *CPUBackend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, p tensor.ConvParams) *tensor.RawTensor {
	mustFloat32("conv2d kernel backward", input, kernel, grad)
	g := newConvGeometry("conv2d kernel backward", input, kernel, p)
	checkConvGrad("conv2d kernel backward", g, grad)

	result := tensor.MustNew(kernel.Shape(), tensor.Float32)
	inData := input.AsFloat32()
	gData := grad.AsFloat32()
	rData := result.AsFloat32()

	parallel.For(g.group, cpu.par, func(grp int) {
		col := make([]float32, g.colRows*g.patch)
		kOff := grp * g.mg * g.colRows
		dst := rData[kOff : kOff+g.mg*g.colRows]
		for n := 0; n < g.n; n++ {
			g.im2col(col, inData, n, grp)
			gOff := (n*g.m + grp*g.mg) * g.patch
			var beta float32
			if n > 0 {
				beta = 1
			}
			gemm(blas.NoTrans, blas.Trans, g.mg, g.colRows, g.patch,
				gData[gOff:gOff+g.mg*g.patch],
				col,
				beta,
				dst)
		}
	})

	return result
}

func checkConvGrad(op string, g convGeometry, grad *tensor.RawTensor) {
	want := tensor.Shape{g.n, g.m, g.oh, g.ow}
	if !grad.Shape().Equal(want) {
		panic(fmt.Sprintf("%s: grad shape %v, expected %v", op, grad.Shape(), want))
	}
}
