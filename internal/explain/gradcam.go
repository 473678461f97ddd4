package explain

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/saliency/internal/imaging"
	"github.com/born-ml/saliency/internal/onnx"
	"github.com/born-ml/saliency/internal/tensor"
)

// l2Epsilon keeps L2Normalize finite for all-zero gradients.
const l2Epsilon = 1e-5

// CAM is a Grad-CAM result.
type CAM struct {
	Class int

	// Heatmap is at input resolution with values in [0,1].
	Heatmap *Heatmap

	// Coarse is the weighted activation sum at layer resolution, before
	// resizing, rectification and normalization.
	Coarse *Heatmap

	// Weights holds one importance weight per channel of the layer.
	Weights []float32
}

// L2Normalize divides g by its root mean square plus 1e-5. A zero input
// yields zeros.
func L2Normalize(g []float32) []float32 {
	out := make([]float32, len(g))
	if len(g) == 0 {
		return out
	}
	x := toFloat64(g)
	rms := math.Sqrt(floats.Dot(x, x) / float64(len(x)))
	floats.Scale(1/(rms+l2Epsilon), x)
	for i, v := range x {
		out[i] = float32(v)
	}
	return out
}

// GradCAM computes the class activation map of class at the target layer.
//
// The gradient of the class-selective loss with respect to the layer
// activation A is L2-normalized and averaged over space into channel
// weights w. The map 1 + sum_k w_k*A_k is resized to the input resolution,
// rectified and divided by its maximum. A map whose maximum is not positive
// stays all zeros.
func (e *Explainer) GradCAM(image *tensor.RawTensor, class int) (*CAM, error) {
	_, _, ih, iw, err := e.opts.Image.Dims(image.Shape())
	if err != nil {
		return nil, fmt.Errorf("grad-cam input: %w", err)
	}

	act, grad, err := e.layerGradient(image, class)
	if err != nil {
		return nil, err
	}

	shape := act.Shape()
	_, k, h, w, err := e.opts.Layer.Dims(shape)
	if err != nil {
		return nil, fmt.Errorf("grad-cam layer %s: %w", e.layer, err)
	}

	g := L2Normalize(grad.AsFloat32())
	a := act.AsFloat32()
	layout := e.opts.Layer

	weights := make([]float32, k)
	for c := 0; c < k; c++ {
		var sum float64
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				sum += float64(g[layout.Index(shape, 0, c, y, x)])
			}
		}
		weights[c] = float32(sum / float64(h*w))
	}

	coarse := NewHeatmap(h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float32(1)
			for c, wc := range weights {
				v += wc * a[layout.Index(shape, 0, c, y, x)]
			}
			coarse.Values[y*w+x] = v
		}
	}

	heat := &Heatmap{Height: ih, Width: iw, Values: imaging.ResizeBilinear(coarse.Values, h, w, ih, iw)}
	rectifyAndScale(heat)

	return &CAM{Class: class, Heatmap: heat, Coarse: coarse, Weights: weights}, nil
}

// layerGradient runs the network on a recording tape and returns the
// target layer activation and d(loss)/d(activation).
func (e *Explainer) layerGradient(image *tensor.RawTensor, class int) (act, grad *tensor.RawTensor, err error) {
	tape := e.backend.Tape()
	tape.Clear()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	trace, err := e.net.Run(e.backend, e.inputs(image), onnx.RunOptions{Capture: []string{e.layer}})
	if err != nil {
		return nil, nil, err
	}
	out, err := e.output(trace)
	if err != nil {
		return nil, nil, err
	}
	loss, err := ClassLoss(e.backend, out, class)
	if err != nil {
		return nil, nil, err
	}
	tape.StopRecording()

	act, _ = trace.Layer(e.layer)
	return act, e.backend.Gradients(loss, act)[0], nil
}

// rectifyAndScale clips negatives and divides by the maximum in place.
// A map without positive values becomes all zeros.
func rectifyAndScale(m *Heatmap) {
	for i, v := range m.Values {
		m.Values[i] = max(v, 0)
	}
	peak := m.Max()
	if peak <= 0 {
		return
	}
	for i := range m.Values {
		m.Values[i] /= peak
	}
}
