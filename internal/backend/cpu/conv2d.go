package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"

	"github.com/born-ml/saliency/internal/parallel"
	"github.com/born-ml/saliency/internal/tensor"
)

// convGeometry holds the derived sizes of one convolution.
type convGeometry struct {
	n, c, h, w     int // input
	m, kh, kw      int // kernel: out channels and spatial size
	oh, ow         int // output spatial size
	group, cg, mg  int // groups, in/out channels per group
	colRows, patch int // C/G*KH*KW rows and OH*OW columns of the im2col matrix
	p              tensor.ConvParams
}

func newConvGeometry(op string, input, kernel *tensor.RawTensor, p tensor.ConvParams) convGeometry {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	if len(inputShape) != 4 {
		panic(fmt.Sprintf("%s: input must be 4D [N,C,H,W], got %dD", op, len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("%s: kernel must be 4D [M,C/G,KH,KW], got %dD", op, len(kernelShape)))
	}
	if p.Group <= 0 {
		p.Group = 1
	}
	if p.Strides[0] <= 0 || p.Strides[1] <= 0 {
		p.Strides = [2]int{1, 1}
	}
	if p.Dilations[0] <= 0 || p.Dilations[1] <= 0 {
		p.Dilations = [2]int{1, 1}
	}

	g := convGeometry{
		n: inputShape[0], c: inputShape[1], h: inputShape[2], w: inputShape[3],
		m: kernelShape[0], kh: kernelShape[2], kw: kernelShape[3],
		group: p.Group,
		p:     p,
	}
	if g.c%g.group != 0 || g.m%g.group != 0 {
		panic(fmt.Sprintf("%s: channels %d / %d not divisible by group %d", op, g.c, g.m, g.group))
	}
	g.cg = g.c / g.group
	g.mg = g.m / g.group
	if kernelShape[1] != g.cg {
		panic(fmt.Sprintf("%s: input channels per group %d != kernel channels %d", op, g.cg, kernelShape[1]))
	}

	g.oh, g.ow = p.OutputSize(g.h, g.w, g.kh, g.kw)
	if g.oh <= 0 || g.ow <= 0 {
		panic(fmt.Sprintf("%s: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", op, g.oh, g.ow))
	}
	g.colRows = g.cg * g.kh * g.kw
	g.patch = g.oh * g.ow
	return g
}

// Conv2D performs grouped 2D convolution using im2col + GEMM.
//
// Input:  [N, C, H, W]
// Kernel: [M, C/G, KH, KW]
// Output: [N, M, OH, OW]
//
// For each (batch, group) the input patches are unrolled into a
// [C/G*KH*KW, OH*OW] matrix and multiplied by the group's kernel rows
// [M/G, C/G*KH*KW]. The product lands directly in the output, because the
// group's output channels are contiguous in NCHW. Depthwise convolution is
// the Group == C case.
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, p tensor.ConvParams) *tensor.RawTensor {
	mustFloat32("conv2d", input, kernel)
	g := newConvGeometry("conv2d", input, kernel, p)

	output := tensor.MustNew(tensor.Shape{g.n, g.m, g.oh, g.ow}, tensor.Float32)
	inData := input.AsFloat32()
	kData := kernel.AsFloat32()
	outData := output.AsFloat32()

	parallel.ForPairs(g.n, g.group, cpu.par, func(n, grp int) {
		col := make([]float32, g.colRows*g.patch)
		g.im2col(col, inData, n, grp)

		kOff := grp * g.mg * g.colRows
		oOff := (n*g.m + grp*g.mg) * g.patch
		gemm(blas.NoTrans, blas.NoTrans, g.mg, g.patch, g.colRows,
			kData[kOff:kOff+g.mg*g.colRows],
			col,
			0,
			outData[oOff:oOff+g.mg*g.patch])
	})

	return output
}

// im2col unrolls the patches of one (batch, group) slice of the input.
// Row r = (c*KH + kh)*KW + kw, column = oh*OW + ow. Padding reads as zero.
func (g *convGeometry) im2col(col, in []float32, n, grp int) {
	sh, sw := g.p.Strides[0], g.p.Strides[1]
	dh, dw := g.p.Dilations[0], g.p.Dilations[1]
	pt, pl := g.p.Pads[0], g.p.Pads[1]

	for c := 0; c < g.cg; c++ {
		plane := in[((n*g.c)+grp*g.cg+c)*g.h*g.w:]
		for kh := 0; kh < g.kh; kh++ {
			for kw := 0; kw < g.kw; kw++ {
				row := col[((c*g.kh+kh)*g.kw+kw)*g.patch:]
				for oh := 0; oh < g.oh; oh++ {
					ih := oh*sh - pt + kh*dh
					dst := row[oh*g.ow : (oh+1)*g.ow]
					if ih < 0 || ih >= g.h {
						for i := range dst {
							dst[i] = 0
						}
						continue
					}
					src := plane[ih*g.w : (ih+1)*g.w]
					for ow := range dst {
						iw := ow*sw - pl + kw*dw
						if iw >= 0 && iw < g.w {
							dst[ow] = src[iw]
						} else {
							dst[ow] = 0
						}
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it scatters-adds the columns back into
// one (batch, group) slice of the input gradient.
func (g *convGeometry) col2im(col, in []float32, n, grp int) {
	sh, sw := g.p.Strides[0], g.p.Strides[1]
	dh, dw := g.p.Dilations[0], g.p.Dilations[1]
	pt, pl := g.p.Pads[0], g.p.Pads[1]

	for c := 0; c < g.cg; c++ {
		plane := in[((n*g.c)+grp*g.cg+c)*g.h*g.w:]
		for kh := 0; kh < g.kh; kh++ {
			for kw := 0; kw < g.kw; kw++ {
				row := col[((c*g.kh+kh)*g.kw+kw)*g.patch:]
				for oh := 0; oh < g.oh; oh++ {
					ih := oh*sh - pt + kh*dh
					if ih < 0 || ih >= g.h {
						continue
					}
					src := row[oh*g.ow : (oh+1)*g.ow]
					dst := plane[ih*g.w : (ih+1)*g.w]
					for ow, v := range src {
						iw := ow*sw - pl + kw*dw
						if iw >= 0 && iw < g.w {
							dst[iw] += v
						}
					}
				}
			}
		}
	}
}
