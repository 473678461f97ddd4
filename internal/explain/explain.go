// Package explain computes visual explanations for image classifiers:
// Grad-CAM heatmaps, guided backpropagation and deconvolution saliency
// maps, and their Guided Grad-CAM fusion.
//
// All gradients come from an autodiff backend. The network is executed on
// that backend with a recording tape, so the same ONNX graph serves
// inference and every backward pass; guided and deconvolution saliency
// re-run the graph inside a gradient override scope.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	e := explain.New(model, backend, "block5_conv4", explain.Options{})
//	probs, _ := e.Predict(image)
//	cam, _ := e.GradCAM(image, explain.Argmax(probs))
//	guided, _ := e.GuidedBackprop(image)
package explain

import (
	"errors"
	"fmt"

	"github.com/born-ml/saliency/internal/autodiff"
	"github.com/born-ml/saliency/internal/onnx"
	"github.com/born-ml/saliency/internal/tensor"
)

// ErrClassOutOfRange is returned when a target class does not index the
// model output.
var ErrClassOutOfRange = errors.New("class index out of range")

// Backend is a differentiable tensor backend with scoped gradient overrides.
// *autodiff.AutodiffBackend satisfies it.
type Backend interface {
	tensor.Backend
	Tape() *autodiff.GradientTape
	Registry() *autodiff.GradientRegistry
	Gradients(root *tensor.RawTensor, wrt ...*tensor.RawTensor) []*tensor.RawTensor
	WithGradientOverride(mapping map[string]string, fn func() error) error
}

// Network is an executable classifier graph. *onnx.Model satisfies it.
type Network interface {
	InputName() string
	OutputNames() []string
	Run(backend tensor.Backend, inputs map[string]*tensor.RawTensor, opts onnx.RunOptions) (*onnx.Trace, error)
}

// Options describes tensor layouts.
type Options struct {
	// Image is the layout of the network input (NHWC for Keras exports).
	Image tensor.Layout
	// Layer is the layout of the target layer's activation. ONNX exports
	// convert Keras layers to NCHW internally.
	Layer tensor.Layout
}

// Explainer computes explanations for one network and target layer.
// An Explainer reuses its backend's tape and is not safe for concurrent use.
type Explainer struct {
	net     Network
	backend Backend
	layer   string
	opts    Options
}

// New creates an Explainer targeting layer.
func New(net Network, backend Backend, layer string, opts Options) *Explainer {
	return &Explainer{net: net, backend: backend, layer: layer, opts: opts}
}

// Layer returns the target layer name.
func (e *Explainer) Layer() string {
	return e.layer
}

// Predict runs the network without recording and returns the first output
// flattened to class scores.
func (e *Explainer) Predict(image *tensor.RawTensor) ([]float32, error) {
	tape := e.backend.Tape()
	tape.StopRecording()
	tape.Clear()

	trace, err := e.net.Run(e.backend, e.inputs(image), onnx.RunOptions{})
	if err != nil {
		return nil, err
	}
	out, err := e.output(trace)
	if err != nil {
		return nil, err
	}
	return append([]float32(nil), out.AsFloat32()...), nil
}

func (e *Explainer) inputs(image *tensor.RawTensor) map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{e.net.InputName(): image}
}

func (e *Explainer) output(trace *onnx.Trace) (*tensor.RawTensor, error) {
	names := e.net.OutputNames()
	if len(names) == 0 {
		return nil, fmt.Errorf("network has no outputs")
	}
	out, ok := trace.Output(names[0])
	if !ok {
		return nil, fmt.Errorf("output %s was not computed", names[0])
	}
	return out, nil
}

// Argmax returns the index of the largest score. Ties resolve to the first
// occurrence; an empty slice yields -1.
func Argmax(scores []float32) int {
	best := -1
	for i, v := range scores {
		if best < 0 || v > scores[best] {
			best = i
		}
	}
	return best
}
