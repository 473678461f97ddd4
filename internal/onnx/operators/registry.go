package operators

import (
	"errors"
	"fmt"
	"sort"

	"github.com/born-ml/saliency/internal/tensor"
)

// ErrUnsupportedOperator is returned for node types without a handler.
var ErrUnsupportedOperator = errors.New("unsupported operator")

// OpHandler processes an ONNX node and returns output tensors.
type OpHandler func(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error)

// Context provides the backend and graph-level settings to handlers.
type Context struct {
	Backend tensor.Backend
	Opset   int64
}

// Registry maps ONNX operator types to handler functions.
type Registry struct {
	handlers map[string]OpHandler
}

// NewRegistry creates a new operator registry with all supported operators.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]OpHandler),
	}

	r.registerMathOps()
	r.registerNNOps()
	r.registerShapeOps()
	r.registerUtilityOps()

	return r
}

// Register adds or replaces an operator handler.
func (r *Registry) Register(opType string, handler OpHandler) {
	r.handlers[opType] = handler
}

// Get returns the handler for an operator type.
func (r *Registry) Get(opType string) (OpHandler, bool) {
	h, ok := r.handlers[opType]
	return h, ok
}

// Execute runs an operator with the given inputs.
func (r *Registry) Execute(ctx *Context, node *Node, inputs []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	handler, ok := r.handlers[node.OpType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, node.OpType)
	}
	return handler(ctx, node, inputs)
}

// SupportedOps returns all supported operator types in sorted order.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func requireInputs(op string, inputs []*tensor.RawTensor, n int) error {
	if len(inputs) < n {
		return fmt.Errorf("%s requires %d inputs, got %d", op, n, len(inputs))
	}
	for i := 0; i < n; i++ {
		if inputs[i] == nil {
			return fmt.Errorf("%s: input %d is missing", op, i)
		}
	}
	return nil
}

func requireFloat(op string, inputs ...*tensor.RawTensor) error {
	for _, in := range inputs {
		if in != nil && in.DType() != tensor.Float32 {
			return fmt.Errorf("%s: unsupported dtype %s (float32 only)", op, in.DType())
		}
	}
	return nil
}

func single(t *tensor.RawTensor) []*tensor.RawTensor {
	return []*tensor.RawTensor{t}
}
