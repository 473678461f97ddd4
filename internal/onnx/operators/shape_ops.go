package operators

import (
	"fmt"
	"sort"

	"github.com/born-ml/saliency/internal/tensor"
)

// registerShapeOps adds shape manipulation operators to the registry.
func (r *Registry) registerShapeOps() {
	r.Register("Flatten", handleFlatten)
	r.Register("Reshape", handleReshape)
	r.Register("Transpose", handleTranspose)
	r.Register("Squeeze", handleSqueeze)
	r.Register("Unsqueeze", handleUnsqueeze)
	r.Register("Pad", handlePad)
}

func handleFlatten(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("flatten", inputs, 1); err != nil {
		return nil, err
	}
	shape := inputs[0].Shape()
	axis := int(GetAttrInt(node, "axis", 1))
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis > len(shape) {
		return nil, fmt.Errorf("flatten: axis %d out of range for rank %d", axis, len(shape))
	}
	outer := tensor.Shape(shape[:axis]).NumElements()
	return single(ctx.Backend.Reshape(inputs[0], tensor.Shape{outer, shape.NumElements() / outer})), nil
}

func handleReshape(ctx *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("reshape", inputs, 2); err != nil {
		return nil, err
	}
	if inputs[1].DType() != tensor.Int64 {
		return nil, fmt.Errorf("reshape: shape input must be int64, got %s", inputs[1].DType())
	}
	target, err := resolveShape(inputs[0].Shape(), inputs[1].AsInt64())
	if err != nil {
		return nil, fmt.Errorf("reshape: %w", err)
	}
	return single(ctx.Backend.Reshape(inputs[0], target)), nil
}

// resolveShape applies the ONNX Reshape rules: 0 copies the input
// dimension, -1 is inferred from the remaining elements.
func resolveShape(in tensor.Shape, spec []int64) (tensor.Shape, error) {
	out := make(tensor.Shape, len(spec))
	infer := -1
	known := 1
	for i, v := range spec {
		switch {
		case v == 0:
			if i >= len(in) {
				return nil, fmt.Errorf("dim %d: 0 refers past input rank %d", i, len(in))
			}
			out[i] = in[i]
		case v == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("more than one -1 in %v", spec)
			}
			infer = i
			continue
		case v < 0:
			return nil, fmt.Errorf("invalid dim %d in %v", v, spec)
		default:
			out[i] = int(v)
		}
		known *= out[i]
	}
	total := in.NumElements()
	if infer >= 0 {
		if known == 0 || total%known != 0 {
			return nil, fmt.Errorf("cannot infer -1 in %v for %d elements", spec, total)
		}
		out[infer] = total / known
	}
	if out.NumElements() != total {
		return nil, fmt.Errorf("cannot reshape %v to %v", in, out)
	}
	return out, nil
}

func handleTranspose(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("transpose", inputs, 1); err != nil {
		return nil, err
	}
	if err := requireFloat("transpose", inputs[0]); err != nil {
		return nil, err
	}
	perm := GetAttrInts(node, "perm")
	if len(perm) > 0 && len(perm) != len(inputs[0].Shape()) {
		return nil, fmt.Errorf("transpose: perm %v for rank %d", perm, len(inputs[0].Shape()))
	}
	return single(ctx.Backend.Transpose(inputs[0], toInts(perm)...)), nil
}

// axesOf reads axes from the second input (opset 13+) or the attribute.
func axesOf(node *Node, inputs []*tensor.RawTensor, rank int) ([]int, error) {
	var raw []int64
	if len(inputs) > 1 && inputs[1] != nil {
		raw = inputs[1].Int64s()
	} else {
		raw = GetAttrInts(node, "axes")
	}
	axes := make([]int, len(raw))
	for i, a := range raw {
		n, err := tensor.NormalizeAxis(int(a), rank)
		if err != nil {
			return nil, err
		}
		axes[i] = n
	}
	sort.Ints(axes)
	return axes, nil
}

func handleSqueeze(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("squeeze", inputs, 1); err != nil {
		return nil, err
	}
	shape := inputs[0].Shape()
	axes, err := axesOf(node, inputs, len(shape))
	if err != nil {
		return nil, fmt.Errorf("squeeze: %w", err)
	}

	drop := make(map[int]bool, len(axes))
	for _, a := range axes {
		if shape[a] != 1 {
			return nil, fmt.Errorf("squeeze: axis %d has size %d", a, shape[a])
		}
		drop[a] = true
	}
	out := make(tensor.Shape, 0, len(shape))
	for i, d := range shape {
		if drop[i] || (len(axes) == 0 && d == 1) {
			continue
		}
		out = append(out, d)
	}
	return single(ctx.Backend.Reshape(inputs[0], out)), nil
}

func handleUnsqueeze(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("unsqueeze", inputs, 1); err != nil {
		return nil, err
	}
	shape := inputs[0].Shape()
	axes, err := axesOf(node, inputs, len(shape)+len(GetAttrInts(node, "axes"))+inputLen(inputs, 1))
	if err != nil {
		return nil, fmt.Errorf("unsqueeze: %w", err)
	}

	out := make(tensor.Shape, 0, len(shape)+len(axes))
	src := 0
	for i := 0; i < len(shape)+len(axes); i++ {
		if len(axes) > 0 && axes[0] == i {
			out = append(out, 1)
			axes = axes[1:]
			continue
		}
		out = append(out, shape[src])
		src++
	}
	return single(ctx.Backend.Reshape(inputs[0], out)), nil
}

func inputLen(inputs []*tensor.RawTensor, i int) int {
	if len(inputs) > i && inputs[i] != nil {
		return inputs[i].NumElements()
	}
	return 0
}

func handlePad(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("pad", inputs, 1); err != nil {
		return nil, err
	}
	if err := requireFloat("pad", inputs[0]); err != nil {
		return nil, err
	}
	if mode := GetAttrString(node, "mode", "constant"); mode != "constant" {
		return nil, fmt.Errorf("pad: mode %q not supported", mode)
	}

	var pads []int64
	value := GetAttrFloat(node, "value", 0)
	if len(inputs) > 1 && inputs[1] != nil {
		pads = inputs[1].Int64s()
		if len(inputs) > 2 && inputs[2] != nil {
			value = inputs[2].Float32s()[0]
		}
	} else {
		pads = GetAttrInts(node, "pads")
	}

	rank := len(inputs[0].Shape())
	if len(pads) != 2*rank {
		return nil, fmt.Errorf("pad: expected %d pads for rank %d, got %v", 2*rank, rank, pads)
	}
	for _, p := range pads {
		if p < 0 {
			return nil, fmt.Errorf("pad: negative pads %v not supported", pads)
		}
	}
	return single(ctx.Backend.Pad(inputs[0], toInts(pads), value)), nil
}
