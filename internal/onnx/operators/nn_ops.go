package operators

import (
	"fmt"
	"math"

	"github.com/born-ml/saliency/internal/tensor"
)

// registerNNOps adds convolution, pooling, normalization and activation
// operators to the registry.
func (r *Registry) registerNNOps() {
	r.Register("Conv", handleConv)
	r.Register("MaxPool", handleMaxPool)
	r.Register("AveragePool", handleAveragePool)
	r.Register("GlobalAveragePool", handleGlobalAveragePool)
	r.Register("BatchNormalization", handleBatchNorm)
	r.Register("Relu", handleRelu)
	r.Register("Softmax", handleSoftmax)
}

func handleConv(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("conv", inputs, 2); err != nil {
		return nil, err
	}
	if err := requireFloat("conv", inputs...); err != nil {
		return nil, err
	}
	x, w := inputs[0], inputs[1]
	xs, ws := x.Shape(), w.Shape()
	if len(xs) != 4 || len(ws) != 4 {
		return nil, fmt.Errorf("conv: only 2D convolution supported, got input %v kernel %v", xs, ws)
	}

	p := tensor.DefaultConvParams()
	p.Group = int(GetAttrInt(node, "group", 1))
	if s := GetAttrInts(node, "strides"); len(s) == 2 {
		p.Strides = [2]int{int(s[0]), int(s[1])}
	}
	if d := GetAttrInts(node, "dilations"); len(d) == 2 {
		p.Dilations = [2]int{int(d[0]), int(d[1])}
	}
	if ks := GetAttrInts(node, "kernel_shape"); len(ks) == 2 && (int(ks[0]) != ws[2] || int(ks[1]) != ws[3]) {
		return nil, fmt.Errorf("conv: kernel_shape %v does not match weights %v", ks, ws)
	}

	pads, err := spatialPads(node, [2]int{xs[2], xs[3]}, [2]int{ws[2], ws[3]}, p.Strides, p.Dilations)
	if err != nil {
		return nil, fmt.Errorf("conv: %w", err)
	}
	p.Pads = pads

	y := ctx.Backend.Conv2D(x, w, p)

	if len(inputs) > 2 && inputs[2] != nil {
		bias, err := inputs[2].Reshaped(tensor.Shape{1, ws[0], 1, 1})
		if err != nil {
			return nil, fmt.Errorf("conv bias: %w", err)
		}
		y = ctx.Backend.Add(y, bias)
	}
	return single(y), nil
}

func poolParams(op string, node *Node, x *tensor.RawTensor) (tensor.PoolParams, error) {
	var p tensor.PoolParams
	xs := x.Shape()
	if len(xs) != 4 {
		return p, fmt.Errorf("%s: only 2D pooling supported, got input %v", op, xs)
	}
	ks := GetAttrInts(node, "kernel_shape")
	if len(ks) != 2 {
		return p, fmt.Errorf("%s: kernel_shape must have 2 values, got %v", op, ks)
	}
	p.Kernel = [2]int{int(ks[0]), int(ks[1])}
	p.Strides = [2]int{1, 1}
	if s := GetAttrInts(node, "strides"); len(s) == 2 {
		p.Strides = [2]int{int(s[0]), int(s[1])}
	}
	if d := GetAttrInts(node, "dilations"); len(d) == 2 && (d[0] != 1 || d[1] != 1) {
		return p, fmt.Errorf("%s: dilated pooling not supported", op)
	}
	p.CeilMode = GetAttrInt(node, "ceil_mode", 0) != 0

	pads, err := spatialPads(node, [2]int{xs[2], xs[3]}, p.Kernel, p.Strides, [2]int{1, 1})
	if err != nil {
		return p, fmt.Errorf("%s: %w", op, err)
	}
	p.Pads = pads
	return p, nil
}

func handleMaxPool(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("maxPool", inputs, 1); err != nil {
		return nil, err
	}
	p, err := poolParams("maxPool", node, inputs[0])
	if err != nil {
		return nil, err
	}
	y, _ := ctx.Backend.MaxPool2D(inputs[0], p)
	return single(y), nil
}

func handleAveragePool(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("averagePool", inputs, 1); err != nil {
		return nil, err
	}
	p, err := poolParams("averagePool", node, inputs[0])
	if err != nil {
		return nil, err
	}
	p.CountIncludePad = GetAttrInt(node, "count_include_pad", 0) != 0
	return single(ctx.Backend.AvgPool2D(inputs[0], p)), nil
}

func handleGlobalAveragePool(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("globalAveragePool", inputs, 1); err != nil {
		return nil, err
	}
	xs := inputs[0].Shape()
	if len(xs) != 4 {
		return nil, fmt.Errorf("globalAveragePool: expected 4D input, got %v", xs)
	}
	p := tensor.PoolParams{Kernel: [2]int{xs[2], xs[3]}, Strides: [2]int{1, 1}}
	return single(ctx.Backend.AvgPool2D(inputs[0], p)), nil
}

// handleBatchNorm implements inference-mode batch normalization as a
// per-channel affine transform:
//
//	y = x * scale/sqrt(var+eps) + (B - mean*scale/sqrt(var+eps))
//
// The folded coefficients are constants and are frozen.
func handleBatchNorm(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("batchNormalization", inputs, 5); err != nil {
		return nil, err
	}
	if err := requireFloat("batchNormalization", inputs...); err != nil {
		return nil, err
	}
	x := inputs[0]
	xs := x.Shape()
	if len(xs) < 2 {
		return nil, fmt.Errorf("batchNormalization: input rank %d < 2", len(xs))
	}
	c := xs[1]
	scale, bias := inputs[1].AsFloat32(), inputs[2].AsFloat32()
	mean, variance := inputs[3].AsFloat32(), inputs[4].AsFloat32()
	if len(scale) != c || len(bias) != c || len(mean) != c || len(variance) != c {
		return nil, fmt.Errorf("batchNormalization: parameters must have %d channels", c)
	}
	eps := GetAttrFloat(node, "epsilon", 1e-5)

	// [1, C, 1, ...] broadcasts over batch and spatial axes.
	coeffShape := make(tensor.Shape, len(xs))
	for i := range coeffShape {
		coeffShape[i] = 1
	}
	coeffShape[1] = c

	mul := tensor.MustNew(coeffShape, tensor.Float32)
	add := tensor.MustNew(coeffShape, tensor.Float32)
	md, ad := mul.AsFloat32(), add.AsFloat32()
	for i := 0; i < c; i++ {
		md[i] = scale[i] / float32(math.Sqrt(float64(variance[i])+float64(eps)))
		ad[i] = bias[i] - mean[i]*md[i]
	}
	return single(ctx.Backend.Add(ctx.Backend.Mul(x, mul), add)), nil
}

func handleRelu(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("relu", inputs, 1); err != nil {
		return nil, err
	}
	if err := requireFloat("relu", inputs[0]); err != nil {
		return nil, err
	}
	return single(ctx.Backend.ReLU(inputs[0])), nil
}

func handleSoftmax(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("softmax", inputs, 1); err != nil {
		return nil, err
	}
	if err := requireFloat("softmax", inputs[0]); err != nil {
		return nil, err
	}
	defaultAxis := int64(-1)
	if ctx.Opset > 0 && ctx.Opset < 13 {
		defaultAxis = 1
	}
	axis, err := tensor.NormalizeAxis(int(GetAttrInt(node, "axis", defaultAxis)), len(inputs[0].Shape()))
	if err != nil {
		return nil, fmt.Errorf("softmax: %w", err)
	}
	return single(ctx.Backend.Softmax(inputs[0], axis)), nil
}

// spatialPads resolves explicit pads or auto_pad into [top, left, bottom, right].
func spatialPads(node *Node, in, kernel, strides, dilations [2]int) ([4]int, error) {
	var pads [4]int
	switch autoPad := GetAttrString(node, "auto_pad", "NOTSET"); autoPad {
	case "NOTSET", "":
		p := GetAttrInts(node, "pads")
		switch len(p) {
		case 0:
		case 4:
			for i, v := range p {
				if v < 0 {
					return pads, fmt.Errorf("negative pads %v", p)
				}
				pads[i] = int(v)
			}
		default:
			return pads, fmt.Errorf("pads must have 4 values, got %v", p)
		}
	case "VALID":
	case "SAME_UPPER", "SAME_LOWER":
		for axis := 0; axis < 2; axis++ {
			out := (in[axis] + strides[axis] - 1) / strides[axis]
			span := (kernel[axis]-1)*dilations[axis] + 1
			total := max((out-1)*strides[axis]+span-in[axis], 0)
			small, big := total/2, total-total/2
			if autoPad == "SAME_UPPER" {
				pads[axis], pads[axis+2] = small, big
			} else {
				pads[axis], pads[axis+2] = big, small
			}
		}
	default:
		return pads, fmt.Errorf("unknown auto_pad %q", autoPad)
	}
	return pads, nil
}
