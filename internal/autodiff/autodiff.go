// Package autodiff implements automatic differentiation using the decorator pattern.
//
// AutodiffBackend wraps any tensor.Backend and records every kernel call on
// a GradientTape. Gradients are computed afterwards by walking the tape in
// reverse from an explicit root.
//
// Architecture:
//   - Decorator pattern: AutodiffBackend[B] wraps any Backend implementation
//   - GradientTape: records operations during the forward pass
//   - ops.Operation: each op implements its own backward pass
//   - GradientRegistry: named ReLU backward rules, switchable per scope
//
// Usage:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	y := backend.Mul(x, x) // y = x²
//	s := backend.Sum(y)
//	grads := backend.Gradients(s, x) // ds/dx = 2x
package autodiff

import (
	"github.com/born-ml/saliency/internal/autodiff/ops"
	"github.com/born-ml/saliency/internal/tensor"
)

// AutodiffBackend wraps a Backend and adds automatic differentiation.
// It implements the tensor.Backend interface and records operations in a
// GradientTape.
//
// Type parameter B must satisfy the tensor.Backend interface.
type AutodiffBackend[B tensor.Backend] struct {
	inner     B                   // Wrapped backend
	tape      *GradientTape       // Records operations for backpropagation
	registry  *GradientRegistry   // Named ReLU gradient rules
	overrides []map[string]string // Active gradient override scopes, innermost last
}

// Option configures an AutodiffBackend.
type Option func(*options)

type options struct {
	registry *GradientRegistry
}

// WithRegistry makes the backend resolve gradient overrides in r instead
// of a private registry.
func WithRegistry(r *GradientRegistry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// New creates a new AutodiffBackend wrapping the given backend.
func New[B tensor.Backend](backend B, opts ...Option) *AutodiffBackend[B] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = NewGradientRegistry()
	}
	return &AutodiffBackend[B]{
		inner:    backend,
		tape:     NewGradientTape(),
		registry: o.registry,
	}
}

// Tape returns the gradient tape for manual control.
func (b *AutodiffBackend[B]) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend for direct access.
func (b *AutodiffBackend[B]) Inner() B {
	return b.inner
}

// Registry returns the gradient rule registry.
func (b *AutodiffBackend[B]) Registry() *GradientRegistry {
	return b.registry
}

// Freeze marks tensors that never need gradients, typically model weights.
func (b *AutodiffBackend[B]) Freeze(ts ...*tensor.RawTensor) {
	b.tape.Freeze(ts...)
}

// Gradients computes d(root)/d(x) for every x in wrt from the recorded tape.
// Backward kernels run on the inner backend and are not recorded.
func (b *AutodiffBackend[B]) Gradients(root *tensor.RawTensor, wrt ...*tensor.RawTensor) []*tensor.RawTensor {
	return b.tape.Gradients(root, b.inner, wrt...)
}

// Name returns the backend name.
func (b *AutodiffBackend[B]) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

func (b *AutodiffBackend[B]) record(op ops.Operation) {
	if b.tape.IsRecording() {
		b.tape.Record(op)
	}
}

// Add performs element-wise addition and records the operation.
func (b *AutodiffBackend[B]) Add(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Add(a, c)
	b.record(ops.NewAddOp(a, c, result))
	return result
}

// Sub performs element-wise subtraction and records the operation.
func (b *AutodiffBackend[B]) Sub(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sub(a, c)
	b.record(ops.NewSubOp(a, c, result))
	return result
}

// Mul performs element-wise multiplication and records the operation.
func (b *AutodiffBackend[B]) Mul(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Mul(a, c)
	b.record(ops.NewMulOp(a, c, result))
	return result
}

// Div performs element-wise division and records the operation.
func (b *AutodiffBackend[B]) Div(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Div(a, c)
	b.record(ops.NewDivOp(a, c, result))
	return result
}

// MulScalar multiplies by a constant and records the operation.
func (b *AutodiffBackend[B]) MulScalar(x *tensor.RawTensor, s float32) *tensor.RawTensor {
	result := b.inner.MulScalar(x, s)
	b.record(ops.NewMulScalarOp(x, result, s))
	return result
}

// AddScalar adds a constant and records the operation.
func (b *AutodiffBackend[B]) AddScalar(x *tensor.RawTensor, s float32) *tensor.RawTensor {
	result := b.inner.AddScalar(x, s)
	b.record(ops.NewAddScalarOp(x, result))
	return result
}

// MatMul performs matrix multiplication and records the operation.
func (b *AutodiffBackend[B]) MatMul(a, c *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.MatMul(a, c)
	b.record(ops.NewMatMulOp(a, c, result))
	return result
}

// MatMulTrans performs op(a) @ op(c) and records the operation.
func (b *AutodiffBackend[B]) MatMulTrans(a, c *tensor.RawTensor, transA, transB bool) *tensor.RawTensor {
	result := b.inner.MatMulTrans(a, c, transA, transB)
	b.record(ops.NewMatMulTransOp(a, c, result, transA, transB))
	return result
}

// Conv2D performs 2D convolution and records the operation.
func (b *AutodiffBackend[B]) Conv2D(input, kernel *tensor.RawTensor, p tensor.ConvParams) *tensor.RawTensor {
	result := b.inner.Conv2D(input, kernel, p)
	b.record(ops.NewConv2DOp(input, kernel, result, p))
	return result
}

// Conv2DInputBackward delegates to the inner backend without recording.
func (b *AutodiffBackend[B]) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, p tensor.ConvParams) *tensor.RawTensor {
	return b.inner.Conv2DInputBackward(input, kernel, grad, p)
}

// Conv2DKernelBackward delegates to the inner backend without recording.
func (b *AutodiffBackend[B]) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, p tensor.ConvParams) *tensor.RawTensor {
	return b.inner.Conv2DKernelBackward(input, kernel, grad, p)
}

// MaxPool2D performs max pooling and records the operation.
func (b *AutodiffBackend[B]) MaxPool2D(input *tensor.RawTensor, p tensor.PoolParams) (*tensor.RawTensor, []int) {
	result, indices := b.inner.MaxPool2D(input, p)
	b.record(ops.NewMaxPool2DOp(input, result, indices))
	return result, indices
}

// MaxPool2DBackward delegates to the inner backend without recording.
func (b *AutodiffBackend[B]) MaxPool2DBackward(input, grad *tensor.RawTensor, indices []int) *tensor.RawTensor {
	return b.inner.MaxPool2DBackward(input, grad, indices)
}

// AvgPool2D performs average pooling and records the operation.
func (b *AutodiffBackend[B]) AvgPool2D(input *tensor.RawTensor, p tensor.PoolParams) *tensor.RawTensor {
	result := b.inner.AvgPool2D(input, p)
	b.record(ops.NewAvgPool2DOp(input, result, p))
	return result
}

// AvgPool2DBackward delegates to the inner backend without recording.
func (b *AutodiffBackend[B]) AvgPool2DBackward(input, grad *tensor.RawTensor, p tensor.PoolParams) *tensor.RawTensor {
	return b.inner.AvgPool2DBackward(input, grad, p)
}

// ReLU applies max(0, x) and records the operation with the gradient rule
// active for "Relu" at this moment (see WithGradientOverride).
func (b *AutodiffBackend[B]) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.ReLU(x)
	if b.tape.IsRecording() {
		name := b.activeRule(GradRelu)
		rule, _ := b.registry.Lookup(name)
		b.tape.Record(ops.NewReLUOp(x, result, name, rule))
	}
	return result
}

// Softmax applies softmax along axis and records the operation.
func (b *AutodiffBackend[B]) Softmax(x *tensor.RawTensor, axis int) *tensor.RawTensor {
	result := b.inner.Softmax(x, axis)
	if axis < 0 {
		axis += len(x.Shape())
	}
	b.record(ops.NewSoftmaxOp(x, result, axis))
	return result
}

// Sum reduces to a scalar and records the operation.
func (b *AutodiffBackend[B]) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	result := b.inner.Sum(x)
	b.record(ops.NewSumOp(x, result))
	return result
}

// MaxDim takes the maximum along axis and records the operation.
func (b *AutodiffBackend[B]) MaxDim(x *tensor.RawTensor, axis int, keepDim bool) (*tensor.RawTensor, []int) {
	result, indices := b.inner.MaxDim(x, axis, keepDim)
	b.record(ops.NewMaxDimOp(x, result, indices))
	return result, indices
}

// Reshape reshapes a tensor and records the operation.
//
// Reshape must be recorded even though it returns a view: the view is a
// distinct tensor, and without the op its gradient would never reach x.
func (b *AutodiffBackend[B]) Reshape(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	result := b.inner.Reshape(x, shape)
	b.record(ops.NewReshapeOp(x, result))
	return result
}

// Transpose permutes axes and records the operation.
func (b *AutodiffBackend[B]) Transpose(x *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	result := b.inner.Transpose(x, axes...)
	b.record(ops.NewTransposeOp(x, result, axes))
	return result
}

// Pad pads with a constant and records the operation.
func (b *AutodiffBackend[B]) Pad(x *tensor.RawTensor, pads []int, value float32) *tensor.RawTensor {
	result := b.inner.Pad(x, pads, value)
	b.record(ops.NewPadOp(x, result, pads))
	return result
}

// Crop removes a border and records the operation.
func (b *AutodiffBackend[B]) Crop(x *tensor.RawTensor, pads []int) *tensor.RawTensor {
	result := b.inner.Crop(x, pads)
	b.record(ops.NewCropOp(x, result, pads))
	return result
}
