package onnx_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/saliency/internal/autodiff"
	"github.com/born-ml/saliency/internal/backend/cpu"
	"github.com/born-ml/saliency/internal/onnx"
	"github.com/born-ml/saliency/internal/onnx/onnxtest"
	"github.com/born-ml/saliency/internal/tensor"
)

func testImage(t *testing.T) *tensor.RawTensor {
	t.Helper()
	n := onnxtest.ImageSize * onnxtest.ImageSize * 3
	x, err := tensor.FromFloat32(onnxtest.Weights(42, n, 100), tensor.Shape{1, onnxtest.ImageSize, onnxtest.ImageSize, 3})
	require.NoError(t, err)
	return x
}

func sum(xs []float32) float32 {
	var s float32
	for _, v := range xs {
		s += v
	}
	return s
}

func TestModelMetadata(t *testing.T) {
	model := onnxtest.TinyClassifier().MustLoad(t)

	assert.Equal(t, onnxtest.InputName, model.InputName())
	assert.Equal(t, []int{-1, 8, 8, 3}, model.InputShape())
	assert.Equal(t, []string{onnxtest.OutputName}, model.OutputNames())
	assert.Equal(t, int64(13), model.OpsetVersion())
	assert.Equal(t, "tiny_vgg", model.Name())
	assert.Equal(t, "onnxtest", model.Metadata()["producer_name"])
	assert.Equal(t, 4*3*9+4+6*4*9+6+5*6+5, model.NumParameters())
	assert.Len(t, model.Layers(), 10)
}

func TestPredict(t *testing.T) {
	for name, b := range map[string]*onnxtest.Builder{
		"vgg":      onnxtest.TinyClassifier(),
		"xception": onnxtest.TinyXception(),
	} {
		t.Run(name, func(t *testing.T) {
			model := b.MustLoad(t)
			probs, err := model.Predict(cpu.New(), testImage(t))
			require.NoError(t, err)

			assert.Equal(t, tensor.Shape{1, onnxtest.Classes}, probs.Shape())
			assert.InDelta(t, 1, sum(probs.AsFloat32()), 1e-5)
			for _, p := range probs.AsFloat32() {
				assert.Greater(t, p, float32(0))
			}
		})
	}
}

func TestResolveLayer(t *testing.T) {
	model := onnxtest.TinyClassifier().MustLoad(t)

	tests := []struct {
		query  string
		name   string
		opType string
	}{
		{"block_conv2", "block_conv2/Relu", "Relu"},
		{"conv1", "conv1/Relu", "Relu"},
		{"conv1/Conv2D", "conv1/Conv2D", "Conv"},
		{"block_conv2/BiasAdd:0", "block_conv2/Conv2D", "Conv"},
		{"pool", "pool/MaxPool", "MaxPool"},
		{"predictions", "predictions/Softmax", "Softmax"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			l, err := model.ResolveLayer(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.name, l.Name)
			assert.Equal(t, tt.opType, l.OpType)
		})
	}

	_, err := model.ResolveLayer("block5_conv4")
	assert.ErrorIs(t, err, onnx.ErrLayerNotFound)
}

func TestRunCapture(t *testing.T) {
	model := onnxtest.TinyClassifier().MustLoad(t)
	inputs := map[string]*tensor.RawTensor{model.InputName(): testImage(t)}

	trace, err := model.Run(cpu.New(), inputs, onnx.RunOptions{Capture: []string{"conv1", onnxtest.TinyLastConv}})
	require.NoError(t, err)

	conv1, ok := trace.Layer("conv1")
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{1, 4, 8, 8}, conv1.Shape())

	last, ok := trace.Layer(onnxtest.TinyLastConv)
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{1, 6, 8, 8}, last.Shape())
	for _, v := range last.AsFloat32() {
		assert.GreaterOrEqual(t, v, float32(0))
	}

	_, ok = trace.Output(onnxtest.OutputName)
	assert.True(t, ok)
}

func TestRunStopAfter(t *testing.T) {
	model := onnxtest.TinyClassifier().MustLoad(t)
	inputs := map[string]*tensor.RawTensor{model.InputName(): testImage(t)}

	trace, err := model.Run(cpu.New(), inputs, onnx.RunOptions{
		Capture:   []string{"conv1"},
		StopAfter: "conv1",
	})
	require.NoError(t, err)
	assert.Empty(t, trace.Outputs)
	_, ok := trace.Layer("conv1")
	assert.True(t, ok)

	_, err = model.Run(cpu.New(), inputs, onnx.RunOptions{
		Capture:   []string{onnxtest.TinyLastConv},
		StopAfter: "conv1",
	})
	assert.ErrorContains(t, err, "not computed")
}

func TestRunErrors(t *testing.T) {
	model := onnxtest.TinyClassifier().MustLoad(t)

	_, err := model.Run(cpu.New(), nil, onnx.RunOptions{})
	assert.ErrorContains(t, err, "missing input")

	inputs := map[string]*tensor.RawTensor{model.InputName(): testImage(t)}
	_, err = model.Run(cpu.New(), inputs, onnx.RunOptions{Capture: []string{"nope"}})
	assert.ErrorIs(t, err, onnx.ErrLayerNotFound)
}

func TestEdges(t *testing.T) {
	model := onnxtest.TinyClassifier().MustLoad(t)
	edges := model.Edges()

	assert.Contains(t, edges, onnx.Edge{From: onnxtest.InputName, To: "input_1/transpose", Tensor: onnxtest.InputName})
	assert.Contains(t, edges, onnx.Edge{From: "conv1/Relu", To: "block_conv2/Conv2D", Tensor: "conv1/Relu:0"})
	for _, e := range edges {
		assert.NotContains(t, e.Tensor, "kernel", "weights are not edges")
	}
	assert.Len(t, edges, 10)
}

func TestRunOnAutodiffBackend(t *testing.T) {
	model := onnxtest.TinyXception().MustLoad(t)
	x := testImage(t)

	plain, err := model.Predict(cpu.New(), x)
	require.NoError(t, err)

	ad := autodiff.New(cpu.New())
	ad.Tape().StartRecording()
	trace, err := model.Run(ad, map[string]*tensor.RawTensor{model.InputName(): x},
		onnx.RunOptions{Capture: []string{onnxtest.XceptionLastConv}})
	require.NoError(t, err)
	ad.Tape().StopRecording()

	probs, _ := trace.Output(onnxtest.OutputName)
	assert.InDeltaSlice(t, plain.AsFloat32(), probs.AsFloat32(), 1e-6)
	assert.Positive(t, ad.Tape().NumOps())

	// d(probs[0,2]) / d(activation) through the recorded graph.
	mask := tensor.MustNew(tensor.Shape{1, onnxtest.Classes}, tensor.Float32)
	mask.AsFloat32()[2] = 1
	ad.Tape().StartRecording()
	score := ad.Sum(ad.Mul(probs, mask))
	ad.Tape().StopRecording()

	act, _ := trace.Layer(onnxtest.XceptionLastConv)
	grads := ad.Gradients(score, act, x)
	assert.Equal(t, act.Shape(), grads[0].Shape())
	assert.Equal(t, x.Shape(), grads[1].Shape())

	nonZero := 0
	for _, v := range grads[1].AsFloat32() {
		if v != 0 {
			nonZero++
		}
	}
	assert.Positive(t, nonZero)
}

func TestRepeatedRunsFreezeOnlyInitializers(t *testing.T) {
	b := onnxtest.TinyXception()
	weights := len(b.Proto().Graph.Initializers)
	model := b.MustLoad(t)
	x := testImage(t)

	ad := autodiff.New(cpu.New())
	for i := 0; i < 20; i++ {
		ad.Tape().StartRecording()
		_, err := model.Run(ad, map[string]*tensor.RawTensor{model.InputName(): x},
			onnx.RunOptions{Capture: []string{onnxtest.XceptionLastConv}})
		require.NoError(t, err)
		ad.Tape().StopRecording()
		ad.Tape().Clear()

		require.Equal(t, weights, ad.Tape().NumFrozen(), "run %d", i)
	}
}
