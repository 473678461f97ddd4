// Package operators maps ONNX operator types onto tensor.Backend kernels.
//
// Handlers only call Backend methods for anything that depends on the
// network input, so an autodiff backend records the full forward pass.
// Constants derived from weights (folded batch norm, reshaped biases) live
// for one run only and are never frozen; they cannot reach a gradient
// target.
package operators

import "github.com/born-ml/saliency/internal/tensor"

// Node represents an ONNX operation node.
// This is a local copy of the relevant fields from onnx.NodeProto
// to avoid import cycles between onnx and operators packages.
type Node struct {
	Name       string      // Node name (optional)
	OpType     string      // Operation type (e.g., "Conv", "MatMul", "Relu")
	Inputs     []string    // Input tensor names
	Outputs    []string    // Output tensor names
	Attributes []Attribute // Operation attributes
}

// Attribute represents a node attribute.
type Attribute struct {
	Name   string
	F      float32
	I      int64
	S      []byte
	T      *tensor.RawTensor // TENSOR value, already decoded
	Floats []float32
	Ints   []int64
}

func (n *Node) attr(name string) *Attribute {
	for i := range n.Attributes {
		if n.Attributes[i].Name == name {
			return &n.Attributes[i]
		}
	}
	return nil
}

// GetAttrInt returns an integer attribute or default value.
func GetAttrInt(node *Node, name string, defaultVal int64) int64 {
	if a := node.attr(name); a != nil {
		return a.I
	}
	return defaultVal
}

// GetAttrInts returns an integer array attribute, or nil.
func GetAttrInts(node *Node, name string) []int64 {
	if a := node.attr(name); a != nil {
		return a.Ints
	}
	return nil
}

// GetAttrFloat returns a float attribute or default value.
func GetAttrFloat(node *Node, name string, defaultVal float32) float32 {
	if a := node.attr(name); a != nil {
		return a.F
	}
	return defaultVal
}

// GetAttrString returns a string attribute or default value.
func GetAttrString(node *Node, name, defaultVal string) string {
	if a := node.attr(name); a != nil {
		return string(a.S)
	}
	return defaultVal
}

// HasAttr reports whether the node carries the attribute.
func HasAttr(node *Node, name string) bool {
	return node.attr(name) != nil
}

func toInts(vs []int64) []int {
	out := make([]int, len(vs))
	for i, v := range vs {
		out[i] = int(v)
	}
	return out
}
