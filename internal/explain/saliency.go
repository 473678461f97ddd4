package explain

import (
	"fmt"

	"github.com/born-ml/saliency/internal/autodiff"
	"github.com/born-ml/saliency/internal/onnx"
	"github.com/born-ml/saliency/internal/tensor"
)

// builtinRules registers the saliency gradient rules on demand.
var builtinRules = map[string]func(*autodiff.GradientRegistry) bool{
	autodiff.GradGuidedBackProp: autodiff.RegisterGuidedBackprop,
	autodiff.GradDeconvReLU:     autodiff.RegisterDeconvolution,
}

// GuidedBackprop returns the guided backpropagation saliency of the target
// layer with respect to image.
func (e *Explainer) GuidedBackprop(image *tensor.RawTensor) (*tensor.RawTensor, error) {
	return e.Saliency(image, autodiff.GradGuidedBackProp)
}

// Deconvolution returns the deconvnet saliency of the target layer with
// respect to image.
func (e *Explainer) Deconvolution(image *tensor.RawTensor) (*tensor.RawTensor, error) {
	return e.Saliency(image, autodiff.GradDeconvReLU)
}

// Saliency differentiates sum(max over channels) of the target layer with
// respect to the input, with every ReLU of the network using rule for its
// backward pass. The network is executed only up to the target layer. The
// result has the shape of image.
func (e *Explainer) Saliency(image *tensor.RawTensor, rule string) (*tensor.RawTensor, error) {
	reg := e.backend.Registry()
	if register, ok := builtinRules[rule]; ok && !reg.Has(rule) {
		register(reg)
	}

	tape := e.backend.Tape()
	tape.Clear()
	defer tape.Clear()

	var score *tensor.RawTensor
	err := e.backend.WithGradientOverride(map[string]string{autodiff.GradRelu: rule}, func() error {
		tape.StartRecording()
		defer tape.StopRecording()

		trace, err := e.net.Run(e.backend, e.inputs(image), onnx.RunOptions{
			Capture:   []string{e.layer},
			StopAfter: e.layer,
		})
		if err != nil {
			return err
		}
		act, _ := trace.Layer(e.layer)
		if _, _, _, _, err := e.opts.Layer.Dims(act.Shape()); err != nil {
			return fmt.Errorf("saliency layer %s: %w", e.layer, err)
		}

		peak, _ := e.backend.MaxDim(act, e.opts.Layer.ChannelAxis(), false)
		score = e.backend.Sum(peak)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s saliency: %w", rule, err)
	}

	return e.backend.Gradients(score, image)[0], nil
}
