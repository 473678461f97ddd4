package explain

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/saliency/internal/autodiff"
	"github.com/born-ml/saliency/internal/backend/cpu"
	"github.com/born-ml/saliency/internal/imaging"
	"github.com/born-ml/saliency/internal/onnx"
	"github.com/born-ml/saliency/internal/onnx/onnxtest"
	"github.com/born-ml/saliency/internal/tensor"
)

var keras = Options{Image: tensor.NHWC, Layer: tensor.NCHW}

func newBackend() *autodiff.AutodiffBackend[*cpu.CPUBackend] {
	return autodiff.New(cpu.New())
}

func randomImage(t *testing.T, seed int64) *tensor.RawTensor {
	t.Helper()
	n := onnxtest.ImageSize * onnxtest.ImageSize * 3
	x, err := tensor.FromFloat32(onnxtest.Weights(seed, n, 120), tensor.Shape{1, onnxtest.ImageSize, onnxtest.ImageSize, 3})
	require.NoError(t, err)
	return x
}

func uniformImage(t *testing.T) *tensor.RawTensor {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, onnxtest.ImageSize, onnxtest.ImageSize))
	for y := 0; y < onnxtest.ImageSize; y++ {
		for x := 0; x < onnxtest.ImageSize; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	x, err := imaging.Preprocess(img, imaging.Caffe, tensor.NHWC)
	require.NoError(t, err)
	return x
}

// reluNet is x [1,1,1,2] -> Relu ("act") with channels-first layouts.
func reluNet(t *testing.T) *onnx.Model {
	return onnxtest.NewBuilder("relu").
		Input("x", 1, 1, 1, 2).
		Output("act/Relu:0", 1, 1, 1, 2).
		Node("Relu", "act/Relu", []string{"x"}, []string{"act/Relu:0"}).
		MustLoad(t)
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, 2, Argmax([]float32{0.1, 0.2, 0.7}))
	assert.Equal(t, 1, Argmax([]float32{0.1, 0.45, 0.45}), "ties resolve to the first")
	assert.Equal(t, -1, Argmax(nil))
}

func TestL2Normalize(t *testing.T) {
	zeros := L2Normalize(make([]float32, 16))
	for _, v := range zeros {
		assert.False(t, math.IsNaN(float64(v)))
		assert.Zero(t, v)
	}

	// rms([3, 4]) = sqrt(12.5)
	got := L2Normalize([]float32{3, 4})
	rms := math.Sqrt(12.5) + 1e-5
	assert.InDeltaSlice(t, []float32{float32(3 / rms), float32(4 / rms)}, got, 1e-6)

	assert.Empty(t, L2Normalize(nil))
}

func TestClassLoss(t *testing.T) {
	b := newBackend()
	out, err := tensor.FromFloat32([]float32{0.2, 0.5, 0.3}, tensor.Shape{1, 3})
	require.NoError(t, err)

	b.Tape().StartRecording()
	loss, err := ClassLoss(b, out, 1)
	require.NoError(t, err)
	b.Tape().StopRecording()

	assert.Equal(t, []float32{0.5}, loss.AsFloat32())
	grad := b.Gradients(loss, out)[0]
	assert.Equal(t, []float32{0, 1, 0}, grad.AsFloat32(), "gradient is the one-hot mask")

	_, err = ClassLoss(b, out, 3)
	assert.ErrorIs(t, err, ErrClassOutOfRange)
	_, err = ClassLoss(b, out, -1)
	assert.ErrorIs(t, err, ErrClassOutOfRange)
}

func TestPredictIsStable(t *testing.T) {
	model := onnxtest.TinyClassifier().MustLoad(t)
	e := New(model, newBackend(), onnxtest.TinyLastConv, keras)
	x := randomImage(t, 1)

	first, err := e.Predict(x)
	require.NoError(t, err)
	require.Len(t, first, onnxtest.Classes)

	for i := 0; i < 3; i++ {
		again, err := e.Predict(x)
		require.NoError(t, err)
		assert.Equal(t, first, again)
		assert.Equal(t, Argmax(first), Argmax(again))
	}
	assert.Zero(t, e.backend.Tape().NumOps(), "prediction does not record")
}

func TestGradCAMRange(t *testing.T) {
	for name, tc := range map[string]struct {
		builder *onnxtest.Builder
		layer   string
		coarse  int
	}{
		"vgg":      {onnxtest.TinyClassifier(), onnxtest.TinyLastConv, 8},
		"xception": {onnxtest.TinyXception(), onnxtest.XceptionLastConv, 4},
	} {
		t.Run(name, func(t *testing.T) {
			model := tc.builder.MustLoad(t)
			e := New(model, newBackend(), tc.layer, keras)

			for seed := int64(1); seed <= 3; seed++ {
				x := randomImage(t, seed)
				probs, err := e.Predict(x)
				require.NoError(t, err)

				cam, err := e.GradCAM(x, Argmax(probs))
				require.NoError(t, err)

				assert.Equal(t, onnxtest.ImageSize, cam.Heatmap.Height)
				assert.Equal(t, onnxtest.ImageSize, cam.Heatmap.Width)
				assert.Len(t, cam.Heatmap.Values, onnxtest.ImageSize*onnxtest.ImageSize)
				assert.Equal(t, tc.coarse, cam.Coarse.Height)
				assert.Len(t, cam.Weights, 6)

				for _, v := range cam.Heatmap.Values {
					assert.False(t, math.IsNaN(float64(v)))
					assert.GreaterOrEqual(t, v, float32(0))
					assert.LessOrEqual(t, v, float32(1))
				}
			}
		})
	}
}

func TestGradCAMErrors(t *testing.T) {
	model := onnxtest.TinyClassifier().MustLoad(t)
	x := randomImage(t, 1)

	_, err := New(model, newBackend(), "block5_conv4", keras).GradCAM(x, 0)
	assert.ErrorIs(t, err, onnx.ErrLayerNotFound)

	_, err = New(model, newBackend(), onnxtest.TinyLastConv, keras).GradCAM(x, onnxtest.Classes)
	assert.ErrorIs(t, err, ErrClassOutOfRange)
}

func TestGradCAMLayerOffTheLossPath(t *testing.T) {
	// "side" feeds nothing, so its gradient is zero and every weight is 0:
	// the map is the ones initialisation, normalized to 1.
	model := onnxtest.NewBuilder("side").
		Input("x", 1, 1, 2, 2).
		Output("probs", 1, 1).
		Node("Relu", "side/Relu", []string{"x"}, []string{"side/Relu:0"}).
		Node("GlobalAveragePool", "gap", []string{"x"}, []string{"gap:0"}).
		Node("Flatten", "flatten", []string{"gap:0"}, []string{"flat:0"}).
		Node("Softmax", "probs/Softmax", []string{"flat:0"}, []string{"probs"}).
		MustLoad(t)

	x, err := tensor.FromFloat32([]float32{1, -2, 3, 4}, tensor.Shape{1, 1, 2, 2})
	require.NoError(t, err)

	cam, err := New(model, newBackend(), "side", Options{}).GradCAM(x, 0)
	require.NoError(t, err)
	assert.Equal(t, []float32{0}, cam.Weights)
	assert.Equal(t, []float32{1, 1, 1, 1}, cam.Heatmap.Values)
}

func TestRectifyAndScale(t *testing.T) {
	m := &Heatmap{Height: 1, Width: 3, Values: []float32{-1, -2, 0}}
	rectifyAndScale(m)
	assert.Equal(t, []float32{0, 0, 0}, m.Values, "no positive values: zeros, not NaN")

	m = &Heatmap{Height: 1, Width: 3, Values: []float32{-1, 2, 4}}
	rectifyAndScale(m)
	assert.Equal(t, []float32{0, 0.5, 1}, m.Values)
}

func TestSaliencyRules(t *testing.T) {
	x, err := tensor.FromFloat32([]float32{-1, 2}, tensor.Shape{1, 1, 1, 2})
	require.NoError(t, err)
	b := newBackend()
	e := New(reluNet(t), b, "act", Options{})

	guided, err := e.GuidedBackprop(x)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, guided.AsFloat32(), "guided: positive input and gradient")

	deconv, err := e.Deconvolution(x)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, deconv.AsFloat32(), "deconv: ignores the forward sign")

	standard, err := e.Saliency(x, autodiff.GradRelu)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, standard.AsFloat32())

	assert.Equal(t, autodiff.GradRelu, b.ActiveRule(autodiff.GradRelu), "override does not leak")
	assert.True(t, b.Registry().Has(autodiff.GradGuidedBackProp))
	assert.True(t, b.Registry().Has(autodiff.GradDeconvReLU))

	_, err = e.Saliency(x, "LeakyGuided")
	assert.ErrorIs(t, err, autodiff.ErrUnknownGradient)
}

func TestSaliencyRegistersOnce(t *testing.T) {
	reg := autodiff.NewGradientRegistry()
	b := autodiff.New(cpu.New(), autodiff.WithRegistry(reg))
	e := New(reluNet(t), b, "act", Options{})
	x, err := tensor.FromFloat32([]float32{1, 2}, tensor.Shape{1, 1, 1, 2})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := e.GuidedBackprop(x)
		require.NoError(t, err)
		_, err = e.Deconvolution(x)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{autodiff.GradDeconvReLU, autodiff.GradGuidedBackProp, autodiff.GradRelu}, reg.Names())
	assert.False(t, autodiff.RegisterGuidedBackprop(reg))
	assert.False(t, autodiff.RegisterDeconvolution(reg))
}

func TestSaliencyOnNetworks(t *testing.T) {
	model := onnxtest.TinyXception().MustLoad(t)
	b := newBackend()
	e := New(model, b, onnxtest.XceptionLastConv, keras)
	x := randomImage(t, 7)

	before, err := e.GradCAM(x, 1)
	require.NoError(t, err)

	guided, err := e.GuidedBackprop(x)
	require.NoError(t, err)
	assert.Equal(t, x.Shape(), guided.Shape())

	deconv, err := e.Deconvolution(x)
	require.NoError(t, err)
	assert.Equal(t, x.Shape(), deconv.Shape())

	// Grad-CAM after the override scopes is unchanged.
	after, err := e.GradCAM(x, 1)
	require.NoError(t, err)
	assert.Equal(t, before.Heatmap.Values, after.Heatmap.Values)
	assert.Equal(t, before.Weights, after.Weights)
}

func TestDeprocess(t *testing.T) {
	wild := []float32{-1e6, 3, 1e6, 0.5, -7, 42, 1e-9, 9e5, -3e5, 12, 0, 1}

	x, err := tensor.FromFloat32(wild, tensor.Shape{1, 2, 2, 3})
	require.NoError(t, err)
	img, err := Deprocess(x, tensor.NHWC)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Width)
	assert.Equal(t, 2, img.Height)
	assert.Equal(t, 3, img.Channels)
	assert.Len(t, img.Pix, 12)

	flat, err := tensor.Full(tensor.Shape{1, 2, 2, 3}, 5)
	require.NoError(t, err)
	img, err = Deprocess(flat, tensor.NHWC)
	require.NoError(t, err)
	for _, v := range img.Pix {
		assert.Equal(t, uint8(127), v, "constant input maps to mid-gray")
	}

	_, err = Deprocess(tensor.MustNew(tensor.Shape{4, 4}, tensor.Float32), tensor.NHWC)
	assert.Error(t, err)
}

func TestDeprocessChannelsFirst(t *testing.T) {
	// Channel 0 is large everywhere, channels 1 and 2 small.
	data := make([]float32, 3*2*2)
	for i := 0; i < 4; i++ {
		data[i] = 10
	}
	x, err := tensor.FromFloat32(data, tensor.Shape{1, 3, 2, 2})
	require.NoError(t, err)

	img, err := Deprocess(x, tensor.NCHW)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Width)
	for p := 0; p < 4; p++ {
		assert.Greater(t, img.Pix[3*p], img.Pix[3*p+1])
		assert.Equal(t, img.Pix[3*p+1], img.Pix[3*p+2])
	}
}

func TestGuidedGradCAM(t *testing.T) {
	s, err := tensor.FromFloat32([]float32{1, 2, 3, 4, 5, 6, 7, 8}, tensor.Shape{1, 1, 4, 2})
	require.NoError(t, err)
	heat := &Heatmap{Height: 1, Width: 4, Values: []float32{0, 0.5, 1, 0.25}}

	fused, err := GuidedGradCAM(s, heat, tensor.NHWC)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1.5, 2, 5, 6, 1.75, 2}, fused.AsFloat32())
	assert.Equal(t, float32(1), s.AsFloat32()[0], "input is not modified")

	_, err = GuidedGradCAM(s, NewHeatmap(2, 2), tensor.NHWC)
	assert.Error(t, err)
}

func TestComposite(t *testing.T) {
	x := uniformImage(t)
	heat := NewHeatmap(onnxtest.ImageSize, onnxtest.ImageSize)

	img, err := Composite(x, tensor.NHWC, heat, 80, true)
	require.NoError(t, err)
	assert.Equal(t, onnxtest.ImageSize, img.Width)
	assert.Equal(t, 3, img.Channels)

	_, err = Composite(x, tensor.NHWC, NewHeatmap(2, 2), 1, true)
	assert.Error(t, err)
}

func TestUniformImage(t *testing.T) {
	model := onnxtest.TinyClassifier().MustLoad(t)
	x := uniformImage(t)

	var classes []int
	var cams []*CAM
	for i := 0; i < 2; i++ {
		e := New(model, newBackend(), onnxtest.TinyLastConv, keras)
		probs, err := e.Predict(x)
		require.NoError(t, err)
		class := Argmax(probs)
		cam, err := e.GradCAM(x, class)
		require.NoError(t, err)
		classes = append(classes, class)
		cams = append(cams, cam)
	}
	assert.Equal(t, classes[0], classes[1], "deterministic arg-max")
	assert.Equal(t, cams[0].Heatmap.Values, cams[1].Heatmap.Values)

	// Away from the zero padding of the two 3x3 convolutions every position
	// sees the same input, so the heatmap is flat there.
	interior := NewHeatmap(4, 4)
	for y := 2; y < 6; y++ {
		for x := 2; x < 6; x++ {
			interior.Values[(y-2)*4+x-2] = cams[0].Heatmap.At(y, x)
		}
	}
	_, std := interior.MeanStd()
	assert.Less(t, std, 1e-5)
}

func TestHeatmap(t *testing.T) {
	m := &Heatmap{Height: 2, Width: 2, Values: []float32{1, 3, 3, 1}}
	assert.Equal(t, float32(3), m.At(0, 1))
	assert.Equal(t, float32(3), m.Max())
	mean, std := m.MeanStd()
	assert.InDelta(t, 2, mean, 1e-9)
	assert.InDelta(t, 1, std, 1e-9)
	assert.Zero(t, NewHeatmap(0, 0).Max())
}
