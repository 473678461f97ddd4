// Package classify runs image classifiers for inference only.
//
// Native executes an ONNX graph on a tensor backend; Runtime delegates to
// the onnxruntime shared library and serves as a reference predictor for
// checking the native executor on the same model file.
package classify

import (
	"fmt"

	"github.com/born-ml/saliency/internal/onnx"
	"github.com/born-ml/saliency/internal/tensor"
)

// Classifier maps a preprocessed image batch to class scores.
type Classifier interface {
	Predict(input *tensor.RawTensor) ([]float32, error)
	Close() error
}

// Native runs a parsed ONNX model on a tensor backend.
type Native struct {
	model   *onnx.Model
	backend tensor.Backend
}

// NewNative creates a classifier for model on backend.
func NewNative(model *onnx.Model, backend tensor.Backend) *Native {
	return &Native{model: model, backend: backend}
}

// Predict returns the flattened first output of the model.
func (n *Native) Predict(input *tensor.RawTensor) ([]float32, error) {
	out, err := n.model.Predict(n.backend, input)
	if err != nil {
		return nil, fmt.Errorf("native predict: %w", err)
	}
	return append([]float32(nil), out.Float32s()...), nil
}

// Close is a no-op.
func (n *Native) Close() error {
	return nil
}

// MaxAbsDiff returns the largest element-wise difference between two score
// vectors of equal length, e.g. native and onnxruntime outputs.
func MaxAbsDiff(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("score length mismatch: %d vs %d", len(a), len(b))
	}
	var d float32
	for i := range a {
		diff := a[i] - b[i]
		if diff < 0 {
			diff = -diff
		}
		d = max(d, diff)
	}
	return d, nil
}

var (
	_ Classifier = (*Native)(nil)
	_ Classifier = (*Runtime)(nil)
)
