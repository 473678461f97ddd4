package autodiff

import (
	"fmt"

	"github.com/born-ml/saliency/internal/autodiff/ops"
	"github.com/born-ml/saliency/internal/tensor"
)

// GradientTape records operations during the forward pass and computes
// gradients during the backward pass using reverse-mode automatic
// differentiation.
//
// Usage:
//
//	tape := NewGradientTape()
//	tape.StartRecording()
//	// ... perform operations ...
//	grads := tape.Gradients(loss, backend, x)
//
// A tape is not safe for concurrent use.
type GradientTape struct {
	operations []ops.Operation                // Recorded operations (in execution order)
	recording  bool                           // Whether tape is currently recording
	frozen     map[*tensor.RawTensor]struct{} // Tensors that never receive gradients
}

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return &GradientTape{
		operations: make([]ops.Operation, 0, 64),
		frozen:     make(map[*tensor.RawTensor]struct{}),
	}
}

// StartRecording enables operation recording.
func (t *GradientTape) StartRecording() {
	t.recording = true
}

// StopRecording disables operation recording.
func (t *GradientTape) StopRecording() {
	t.recording = false
}

// IsRecording returns true if the tape is currently recording operations.
func (t *GradientTape) IsRecording() bool {
	return t.recording
}

// Record adds an operation to the tape.
// Only records if the tape is currently recording.
func (t *GradientTape) Record(op ops.Operation) {
	if t.recording {
		t.operations = append(t.operations, op)
	}
}

// Clear removes all recorded operations. Recording state and frozen
// tensors are preserved.
func (t *GradientTape) Clear() {
	for i := range t.operations {
		t.operations[i] = nil
	}
	t.operations = t.operations[:0]
}

// Freeze marks tensors (weights, constants) that never need a gradient.
func (t *GradientTape) Freeze(ts ...*tensor.RawTensor) {
	for _, x := range ts {
		t.frozen[x] = struct{}{}
	}
}

// NumFrozen returns the number of frozen tensors.
func (t *GradientTape) NumFrozen() int {
	return len(t.frozen)
}

// IsFrozen reports whether x was frozen.
func (t *GradientTape) IsFrozen(x *tensor.RawTensor) bool {
	_, ok := t.frozen[x]
	return ok
}

// NumOps returns the number of recorded operations.
func (t *GradientTape) NumOps() int {
	return len(t.operations)
}

// Operations returns the recorded operations in execution order.
func (t *GradientTape) Operations() []ops.Operation {
	return t.operations
}

// Gradients computes d(root)/d(x) for every x in wrt.
//
// Algorithm:
//  1. Find the operation that produced root; later operations are ignored.
//  2. Mark every tensor that depends on a wrt tensor through non-frozen
//     inputs. Only those receive gradients, so weight gradients and
//     branches that cannot reach wrt are never computed.
//  3. Seed root with ones and walk the tape backwards, accumulating
//     gradients when a tensor is used more than once.
//
// A wrt tensor that root does not depend on gets a zero gradient.
func (t *GradientTape) Gradients(root *tensor.RawTensor, backend tensor.Backend, wrt ...*tensor.RawTensor) []*tensor.RawTensor {
	wasRecording := t.recording
	t.recording = false
	defer func() {
		t.recording = wasRecording
	}()

	rootIdx := -1
	for i := len(t.operations) - 1; i >= 0; i-- {
		if t.operations[i].Output() == root {
			rootIdx = i
			break
		}
	}

	live := make(map[*tensor.RawTensor]bool, len(wrt))
	for _, x := range wrt {
		live[x] = true
	}
	for i := 0; i <= rootIdx; i++ {
		op := t.operations[i]
		for _, in := range op.Inputs() {
			if live[in] && !t.IsFrozen(in) {
				live[op.Output()] = true
				break
			}
		}
	}

	grads := make(map[*tensor.RawTensor]*tensor.RawTensor)
	grads[root] = ones(root)

	for i := rootIdx; i >= 0; i-- {
		op := t.operations[i]
		outputGrad, ok := grads[op.Output()]
		if !ok {
			continue
		}

		inputs := op.Inputs()
		needs := make([]bool, len(inputs))
		needed := false
		for j, in := range inputs {
			needs[j] = live[in] && !t.IsFrozen(in)
			needed = needed || needs[j]
		}
		if !needed {
			continue
		}

		inputGrads := op.Backward(outputGrad, backend, needs)
		t.accumulate(inputs, needs, inputGrads, grads, backend)
	}

	result := make([]*tensor.RawTensor, len(wrt))
	for i, x := range wrt {
		if g, ok := grads[x]; ok {
			result[i] = g
		} else {
			result[i] = tensor.ZerosLike(x)
		}
	}
	return result
}

// accumulate adds inputGrads into grads for every input that wanted one.
func (t *GradientTape) accumulate(
	inputs []*tensor.RawTensor,
	needs []bool,
	inputGrads []*tensor.RawTensor,
	grads map[*tensor.RawTensor]*tensor.RawTensor,
	backend tensor.Backend,
) {
	for j, input := range inputs {
		if !needs[j] || j >= len(inputGrads) || inputGrads[j] == nil {
			continue
		}
		g := inputGrads[j]
		if !g.Shape().Equal(input.Shape()) {
			panic(fmt.Sprintf("autodiff: gradient shape %v does not match input shape %v", g.Shape(), input.Shape()))
		}
		if existing, ok := grads[input]; ok {
			grads[input] = backend.Add(existing, g)
		} else {
			grads[input] = g
		}
	}
}

func ones(like *tensor.RawTensor) *tensor.RawTensor {
	t, err := tensor.Full(like.Shape(), 1)
	if err != nil {
		panic(err)
	}
	return t
}
