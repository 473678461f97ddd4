package autodiff_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/saliency/internal/autodiff"
	"github.com/born-ml/saliency/internal/autodiff/ops"
	"github.com/born-ml/saliency/internal/backend/cpu"
	"github.com/born-ml/saliency/internal/tensor"
)

var _ tensor.Backend = (*autodiff.AutodiffBackend[*cpu.CPUBackend])(nil)

func mustFloat(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	x, err := tensor.FromFloat32(data, shape)
	require.NoError(t, err)
	return x
}

func newBackend() *autodiff.AutodiffBackend[*cpu.CPUBackend] {
	backend := autodiff.New(cpu.New(cpu.WithWorkers(1)))
	backend.Tape().StartRecording()
	return backend
}

func TestName(t *testing.T) {
	assert.Equal(t, "Autodiff(CPU)", autodiff.New(cpu.New()).Name())
}

func TestTapeRecording(t *testing.T) {
	backend := autodiff.New(cpu.New())
	tape := backend.Tape()
	x := mustFloat(t, []float32{1, 2}, tensor.Shape{2})

	assert.False(t, tape.IsRecording())
	backend.Add(x, x)
	assert.Equal(t, 0, tape.NumOps())

	tape.StartRecording()
	backend.Add(x, x)
	backend.Mul(x, x)
	assert.Equal(t, 2, tape.NumOps())

	tape.Clear()
	assert.Equal(t, 0, tape.NumOps())
	assert.True(t, tape.IsRecording())
}

func TestGradientsSquare(t *testing.T) {
	backend := newBackend()
	x := mustFloat(t, []float32{1, -2, 3}, tensor.Shape{3})

	s := backend.Sum(backend.Mul(x, x))
	grads := backend.Gradients(s, x)
	assert.Equal(t, []float32{2, -4, 6}, grads[0].AsFloat32())
}

func TestGradientsBroadcastBias(t *testing.T) {
	backend := newBackend()
	x := mustFloat(t, []float32{1, 2, 3, 4, 5, 6}, tensor.Shape{2, 3})
	bias := mustFloat(t, []float32{0, 0, 0}, tensor.Shape{3})

	s := backend.Sum(backend.Add(x, bias))
	grads := backend.Gradients(s, x, bias)
	assert.Equal(t, []float32{1, 1, 1, 1, 1, 1}, grads[0].AsFloat32())
	assert.Equal(t, tensor.Shape{3}, grads[1].Shape())
	assert.Equal(t, []float32{2, 2, 2}, grads[1].AsFloat32())
}

func TestGradientsDivSub(t *testing.T) {
	backend := newBackend()
	a := mustFloat(t, []float32{6}, tensor.Shape{1})
	b := mustFloat(t, []float32{2}, tensor.Shape{1})

	// s = a/b - b
	s := backend.Sum(backend.Sub(backend.Div(a, b), b))
	grads := backend.Gradients(s, a, b)
	assert.InDelta(t, 0.5, grads[0].AsFloat32()[0], 1e-6)
	assert.InDelta(t, -6.0/4-1, grads[1].AsFloat32()[0], 1e-6)
}

func TestGradientsMatMul(t *testing.T) {
	backend := newBackend()
	a := mustFloat(t, []float32{1, 2}, tensor.Shape{1, 2})
	b := mustFloat(t, []float32{3, 4}, tensor.Shape{2, 1})

	s := backend.Sum(backend.MatMul(a, b))
	grads := backend.Gradients(s, a, b)
	assert.Equal(t, []float32{3, 4}, grads[0].AsFloat32())
	assert.Equal(t, []float32{1, 2}, grads[1].AsFloat32())
}

func TestGradientsMatMulTrans(t *testing.T) {
	backend := newBackend()
	a := mustFloat(t, []float32{1, 2}, tensor.Shape{2, 1}) // used as aᵀ [1,2]
	w := mustFloat(t, []float32{3, 4, 5, 6}, tensor.Shape{2, 2})

	// s = Σ aᵀ @ wᵀ = Σ_j Σ_k a_k w_jk
	s := backend.Sum(backend.MatMulTrans(a, w, true, true))
	grads := backend.Gradients(s, a, w)
	assert.Equal(t, tensor.Shape{2, 1}, grads[0].Shape())
	assert.Equal(t, []float32{3 + 5, 4 + 6}, grads[0].AsFloat32())
	assert.Equal(t, []float32{1, 2, 1, 2}, grads[1].AsFloat32())
}

func TestGradientsConvCountsWindows(t *testing.T) {
	backend := newBackend()
	x := mustFloat(t, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, tensor.Shape{1, 1, 3, 3})
	w := mustFloat(t, []float32{1, 1, 1, 1}, tensor.Shape{1, 1, 2, 2})
	backend.Freeze(w)

	s := backend.Sum(backend.Conv2D(x, w, tensor.DefaultConvParams()))
	grads := backend.Gradients(s, x, w)
	assert.Equal(t, []float32{
		1, 2, 1,
		2, 4, 2,
		1, 2, 1,
	}, grads[0].AsFloat32())

	// Frozen tensors never receive gradients.
	assert.Equal(t, []float32{0, 0, 0, 0}, grads[1].AsFloat32())
}

func TestGradientsPoolingAndMaxDim(t *testing.T) {
	backend := newBackend()
	x := mustFloat(t, []float32{
		1, 5,
		3, 2,
		// second channel
		4, 0,
		9, 1,
	}, tensor.Shape{1, 2, 2, 2})

	pooled, _ := backend.MaxPool2D(x, tensor.PoolParams{Kernel: [2]int{1, 2}, Strides: [2]int{1, 2}})
	maxed, _ := backend.MaxDim(pooled, 1, false) // [1,2,1]: max(5,4), max(3,9)
	s := backend.Sum(maxed)
	assert.Equal(t, float32(14), s.AsFloat32()[0])

	grads := backend.Gradients(s, x)
	assert.Equal(t, []float32{
		0, 1,
		0, 0,
		0, 0,
		1, 0,
	}, grads[0].AsFloat32())
}

func TestGradientsAvgPoolReshapeTranspose(t *testing.T) {
	backend := newBackend()
	x := mustFloat(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, tensor.Shape{1, 2, 2, 2})
	weights := mustFloat(t, []float32{1, 10}, tensor.Shape{1, 2})

	nchw := backend.Transpose(x, 0, 3, 1, 2)
	gap := backend.AvgPool2D(nchw, tensor.PoolParams{Kernel: [2]int{2, 2}, Strides: [2]int{1, 1}})
	flat := backend.Reshape(gap, tensor.Shape{1, 2})
	s := backend.Sum(backend.Mul(flat, weights))

	grads := backend.Gradients(s, x)
	// Channel c of every NHWC pixel receives weights[c] / 4.
	assert.Equal(t, []float32{0.25, 2.5, 0.25, 2.5, 0.25, 2.5, 0.25, 2.5}, grads[0].AsFloat32())
}

func TestGradientsSoftmaxSumIsZero(t *testing.T) {
	backend := newBackend()
	x := mustFloat(t, []float32{1, 2, 3}, tensor.Shape{1, 3})

	s := backend.Sum(backend.Softmax(x, -1))
	grads := backend.Gradients(s, x)
	for _, g := range grads[0].AsFloat32() {
		assert.InDelta(t, 0, g, 1e-6)
	}
}

func TestGradientsPadScalar(t *testing.T) {
	backend := newBackend()
	x := mustFloat(t, []float32{1, 2}, tensor.Shape{1, 2})

	padded := backend.Pad(x, []int{0, 1, 0, 1}, 0)
	s := backend.Sum(backend.AddScalar(backend.MulScalar(padded, 3), 1))
	grads := backend.Gradients(s, x)
	assert.Equal(t, []float32{3, 3}, grads[0].AsFloat32())
}

func TestGradientsUnreachedIsZero(t *testing.T) {
	backend := newBackend()
	x := mustFloat(t, []float32{1, 2}, tensor.Shape{2})
	unused := mustFloat(t, []float32{5, 5, 5}, tensor.Shape{3})

	s := backend.Sum(backend.Mul(x, x))
	grads := backend.Gradients(s, unused)
	assert.Equal(t, []float32{0, 0, 0}, grads[0].AsFloat32())
}

func TestGradientsStopAtRoot(t *testing.T) {
	backend := newBackend()
	x := mustFloat(t, []float32{1, 2}, tensor.Shape{2})

	mid := backend.Sum(backend.MulScalar(x, 2))
	backend.MulScalar(mid, 100) // recorded after the root, ignored

	grads := backend.Gradients(mid, x)
	assert.Equal(t, []float32{2, 2}, grads[0].AsFloat32())
}

func reluGrad(t *testing.T, mapping map[string]string) []float32 {
	t.Helper()
	backend := newBackend()
	autodiff.RegisterGuidedBackprop(backend.Registry())
	autodiff.RegisterDeconvolution(backend.Registry())

	x := mustFloat(t, []float32{-1, 2, 3}, tensor.Shape{3})
	m := mustFloat(t, []float32{1, -1, 1}, tensor.Shape{3})

	var s *tensor.RawTensor
	err := backend.WithGradientOverride(mapping, func() error {
		s = backend.Sum(backend.Mul(backend.ReLU(x), m))
		return nil
	})
	require.NoError(t, err)
	return backend.Gradients(s, x)[0].AsFloat32()
}

func TestReLUOverrideChangesGradient(t *testing.T) {
	assert.Equal(t, []float32{0, -1, 1}, reluGrad(t, map[string]string{}))
	assert.Equal(t, []float32{0, 0, 1}, reluGrad(t, map[string]string{"Relu": "GuidedBackProp"}))
	assert.Equal(t, []float32{1, 0, 1}, reluGrad(t, map[string]string{"Relu": "DeconvReLU"}))
}

func TestReLUCapturesRuleAtRecordTime(t *testing.T) {
	backend := newBackend()
	autodiff.RegisterGuidedBackprop(backend.Registry())
	x := mustFloat(t, []float32{1}, tensor.Shape{1})

	backend.ReLU(x)
	require.NoError(t, backend.WithGradientOverride(map[string]string{"Relu": "GuidedBackProp"}, func() error {
		backend.ReLU(x)
		return nil
	}))
	backend.ReLU(x)

	var names []string
	for _, op := range backend.Tape().Operations() {
		if named, ok := op.(ops.Named); ok {
			names = append(names, named.Name())
		}
	}
	assert.Equal(t, []string{"Relu", "GuidedBackProp", "Relu"}, names)
}
