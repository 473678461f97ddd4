package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/saliency/internal/parallel"
	"github.com/born-ml/saliency/internal/tensor"
)

// poolGeometry holds the derived sizes of one pooling call.
type poolGeometry struct {
	n, c, h, w int
	oh, ow     int
	p          tensor.PoolParams
}

func newPoolGeometry(op string, input *tensor.RawTensor, p tensor.PoolParams) poolGeometry {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("%s: input must be 4D [N,C,H,W], got %dD", op, len(shape)))
	}
	if p.Kernel[0] <= 0 || p.Kernel[1] <= 0 {
		panic(fmt.Sprintf("%s: invalid kernel %v", op, p.Kernel))
	}
	if p.Strides[0] <= 0 || p.Strides[1] <= 0 {
		p.Strides = p.Kernel
	}
	g := poolGeometry{n: shape[0], c: shape[1], h: shape[2], w: shape[3], p: p}
	g.oh, g.ow = p.OutputSize(g.h, g.w)
	if g.oh <= 0 || g.ow <= 0 {
		panic(fmt.Sprintf("%s: invalid output dimensions: out_h=%d, out_w=%d", op, g.oh, g.ow))
	}
	return g
}

// window returns the input rows [h0, h1) and columns [w0, w1) covered by
// output position (oh, ow), clipped to the unpadded input.
func (g *poolGeometry) window(oh, ow int) (h0, h1, w0, w1 int) {
	h0 = oh*g.p.Strides[0] - g.p.Pads[0]
	w0 = ow*g.p.Strides[1] - g.p.Pads[1]
	h1 = min(h0+g.p.Kernel[0], g.h)
	w1 = min(w0+g.p.Kernel[1], g.w)
	return max(h0, 0), h1, max(w0, 0), w1
}

// MaxPool2D performs 2D max pooling on NCHW input.
//
// The returned indices hold, for every output element, the flat input
// offset of the selected maximum (or -1 when the window covers padding
// only). MaxPool2DBackward routes gradients through them.
func (cpu *CPUBackend) MaxPool2D(input *tensor.RawTensor, p tensor.PoolParams) (*tensor.RawTensor, []int) {
	mustFloat32("maxpool2d", input)
	g := newPoolGeometry("maxpool2d", input, p)

	output := tensor.MustNew(tensor.Shape{g.n, g.c, g.oh, g.ow}, tensor.Float32)
	indices := make([]int, output.NumElements())
	in := input.AsFloat32()
	out := output.AsFloat32()

	parallel.ForPairs(g.n, g.c, cpu.par, func(n, c int) {
		base := (n*g.c + c) * g.h * g.w
		obase := (n*g.c + c) * g.oh * g.ow
		for oh := 0; oh < g.oh; oh++ {
			for ow := 0; ow < g.ow; ow++ {
				h0, h1, w0, w1 := g.window(oh, ow)
				best := float32(math.Inf(-1))
				bestIdx := -1
				for ih := h0; ih < h1; ih++ {
					for iw := w0; iw < w1; iw++ {
						idx := base + ih*g.w + iw
						if in[idx] > best || bestIdx < 0 {
							best = in[idx]
							bestIdx = idx
						}
					}
				}
				o := obase + oh*g.ow + ow
				if bestIdx < 0 {
					best = 0
				}
				out[o] = best
				indices[o] = bestIdx
			}
		}
	})

	return output, indices
}

// MaxPool2DBackward scatters grad into the positions recorded by MaxPool2D.
// Overlapping windows that select the same element accumulate.
func (cpu *CPUBackend) MaxPool2DBackward(input, grad *tensor.RawTensor, indices []int) *tensor.RawTensor {
	mustFloat32("maxpool2d backward", input, grad)
	if len(indices) != grad.NumElements() {
		panic(fmt.Sprintf("maxpool2d backward: %d indices for %d gradients", len(indices), grad.NumElements()))
	}

	result := tensor.MustNew(input.Shape(), tensor.Float32)
	dst := result.AsFloat32()
	for i, g := range grad.AsFloat32() {
		if idx := indices[i]; idx >= 0 {
			dst[idx] += g
		}
	}
	return result
}

// AvgPool2D performs 2D average pooling on NCHW input.
func (cpu *CPUBackend) AvgPool2D(input *tensor.RawTensor, p tensor.PoolParams) *tensor.RawTensor {
	mustFloat32("avgpool2d", input)
	g := newPoolGeometry("avgpool2d", input, p)

	output := tensor.MustNew(tensor.Shape{g.n, g.c, g.oh, g.ow}, tensor.Float32)
	in := input.AsFloat32()
	out := output.AsFloat32()

	parallel.ForPairs(g.n, g.c, cpu.par, func(n, c int) {
		base := (n*g.c + c) * g.h * g.w
		obase := (n*g.c + c) * g.oh * g.ow
		for oh := 0; oh < g.oh; oh++ {
			for ow := 0; ow < g.ow; ow++ {
				h0, h1, w0, w1 := g.window(oh, ow)
				var sum float32
				for ih := h0; ih < h1; ih++ {
					row := in[base+ih*g.w:]
					for iw := w0; iw < w1; iw++ {
						sum += row[iw]
					}
				}
				if d := g.divisor(oh, ow); d > 0 {
					out[obase+oh*g.ow+ow] = sum / float32(d)
				}
			}
		}
	})

	return output
}

// AvgPool2DBackward spreads each output gradient evenly over its window.
func (cpu *CPUBackend) AvgPool2DBackward(input, grad *tensor.RawTensor, p tensor.PoolParams) *tensor.RawTensor {
	mustFloat32("avgpool2d backward", input, grad)
	g := newPoolGeometry("avgpool2d backward", input, p)
	if want := (tensor.Shape{g.n, g.c, g.oh, g.ow}); !grad.Shape().Equal(want) {
		panic(fmt.Sprintf("avgpool2d backward: grad shape %v, expected %v", grad.Shape(), want))
	}

	result := tensor.MustNew(input.Shape(), tensor.Float32)
	gd := grad.AsFloat32()
	dst := result.AsFloat32()

	// Each (n, c) plane is written by exactly one worker.
	parallel.ForPairs(g.n, g.c, cpu.par, func(n, c int) {
		base := (n*g.c + c) * g.h * g.w
		obase := (n*g.c + c) * g.oh * g.ow
		for oh := 0; oh < g.oh; oh++ {
			for ow := 0; ow < g.ow; ow++ {
				d := g.divisor(oh, ow)
				if d == 0 {
					continue
				}
				share := gd[obase+oh*g.ow+ow] / float32(d)
				h0, h1, w0, w1 := g.window(oh, ow)
				for ih := h0; ih < h1; ih++ {
					row := dst[base+ih*g.w:]
					for iw := w0; iw < w1; iw++ {
						row[iw] += share
					}
				}
			}
		}
	})

	return result
}

// divisor is the element count averaged at (oh, ow). With CountIncludePad
// the window is clipped to the padded input, otherwise to the real input.
func (g *poolGeometry) divisor(oh, ow int) int {
	if !g.p.CountIncludePad {
		h0, h1, w0, w1 := g.window(oh, ow)
		return max(h1-h0, 0) * max(w1-w0, 0)
	}
	h0 := oh*g.p.Strides[0] - g.p.Pads[0]
	w0 := ow*g.p.Strides[1] - g.p.Pads[1]
	h1 := min(h0+g.p.Kernel[0], g.h+g.p.Pads[2])
	w1 := min(w0+g.p.Kernel[1], g.w+g.p.Pads[3])
	return max(h1-h0, 0) * max(w1-w0, 0)
}
