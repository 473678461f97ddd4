package operators

import (
	"fmt"

	"github.com/born-ml/saliency/internal/tensor"
)

// registerUtilityOps adds pass-through and constant operators.
func (r *Registry) registerUtilityOps() {
	r.Register("Identity", handleIdentity)
	r.Register("Dropout", handleIdentity) // inference: no-op
	r.Register("Constant", handleConstant)
}

func handleIdentity(_ *Context, _ *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if err := requireInputs("identity", inputs, 1); err != nil {
		return nil, err
	}
	return single(inputs[0]), nil
}

func handleConstant(ctx *Context, node *Node, _ []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	var (
		t   *tensor.RawTensor
		err error
	)
	switch {
	case HasAttr(node, "value"):
		t = node.attr("value").T
		if t == nil {
			return nil, fmt.Errorf("constant: value attribute carries no tensor")
		}
	case HasAttr(node, "value_float"):
		t, err = tensor.Full(tensor.Shape{}, GetAttrFloat(node, "value_float", 0))
	case HasAttr(node, "value_floats"):
		vs := node.attr("value_floats").Floats
		t, err = tensor.FromFloat32(vs, tensor.Shape{len(vs)})
	case HasAttr(node, "value_int"):
		t, err = tensor.FromInt64([]int64{GetAttrInt(node, "value_int", 0)}, tensor.Shape{})
	case HasAttr(node, "value_ints"):
		vs := GetAttrInts(node, "value_ints")
		t, err = tensor.FromInt64(vs, tensor.Shape{len(vs)})
	default:
		return nil, fmt.Errorf("constant: no supported value attribute")
	}
	if err != nil {
		return nil, fmt.Errorf("constant: %w", err)
	}
	return single(t), nil
}
