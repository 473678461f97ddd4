package autodiff_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/saliency/internal/autodiff"
	"github.com/born-ml/saliency/internal/autodiff/ops"
	"github.com/born-ml/saliency/internal/backend/cpu"
	"github.com/born-ml/saliency/internal/tensor"
)

func TestRegistryDefaults(t *testing.T) {
	reg := autodiff.NewGradientRegistry()
	assert.True(t, reg.Has(autodiff.GradRelu))
	assert.False(t, reg.Has(autodiff.GradGuidedBackProp))
	assert.Equal(t, []string{"Relu"}, reg.Names())
}

func TestRegisterIsIdempotent(t *testing.T) {
	reg := autodiff.NewGradientRegistry()

	registered := 0
	for i := 0; i < 10; i++ {
		if autodiff.RegisterGuidedBackprop(reg) {
			registered++
		}
		if autodiff.RegisterDeconvolution(reg) {
			registered++
		}
	}
	assert.Equal(t, 2, registered)
	assert.Equal(t, []string{"DeconvReLU", "GuidedBackProp", "Relu"}, reg.Names())

	// A later Register under the same name keeps the first rule.
	assert.False(t, reg.Register(autodiff.GradGuidedBackProp, ops.DeconvReLU))
	rule, ok := reg.Lookup(autodiff.GradGuidedBackProp)
	require.True(t, ok)

	x := mustFloat(t, []float32{-1, 2}, tensor.Shape{2})
	y := mustFloat(t, []float32{0, 2}, tensor.Shape{2})
	g := mustFloat(t, []float32{1, 1}, tensor.Shape{2})
	assert.Equal(t, []float32{0, 1}, rule(x, y, g).AsFloat32())
}

func TestRegisterConcurrent(t *testing.T) {
	reg := autodiff.NewGradientRegistry()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		count int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reg.Register(autodiff.GradDeconvReLU, ops.DeconvReLU) {
				mu.Lock()
				count++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, count)
}

func TestReLURules(t *testing.T) {
	x := mustFloat(t, []float32{-2, -1, 1, 2}, tensor.Shape{4})
	y := mustFloat(t, []float32{0, 0, 1, 2}, tensor.Shape{4})
	g := mustFloat(t, []float32{1, -1, -1, 1}, tensor.Shape{4})

	assert.Equal(t, []float32{0, 0, -1, 1}, ops.StandardReLU(x, y, g).AsFloat32())
	assert.Equal(t, []float32{0, 0, 0, 1}, ops.GuidedReLU(x, y, g).AsFloat32())
	assert.Equal(t, []float32{1, 0, 0, 1}, ops.DeconvReLU(x, y, g).AsFloat32())
}

func TestGradientOverrideScope(t *testing.T) {
	backend := autodiff.New(cpu.New())
	autodiff.RegisterGuidedBackprop(backend.Registry())
	autodiff.RegisterDeconvolution(backend.Registry())

	assert.Equal(t, "Relu", backend.ActiveRule("Relu"))

	err := backend.WithGradientOverride(map[string]string{"Relu": "GuidedBackProp"}, func() error {
		assert.Equal(t, "GuidedBackProp", backend.ActiveRule("Relu"))

		inner := backend.WithGradientOverride(map[string]string{"Relu": "DeconvReLU"}, func() error {
			assert.Equal(t, "DeconvReLU", backend.ActiveRule("Relu"))
			return nil
		})
		require.NoError(t, inner)

		assert.Equal(t, "GuidedBackProp", backend.ActiveRule("Relu"))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Relu", backend.ActiveRule("Relu"))
}

func TestGradientOverrideRestoresOnPanic(t *testing.T) {
	backend := autodiff.New(cpu.New())
	autodiff.RegisterGuidedBackprop(backend.Registry())

	assert.Panics(t, func() {
		_ = backend.WithGradientOverride(map[string]string{"Relu": "GuidedBackProp"}, func() error {
			panic("boom")
		})
	})
	assert.Equal(t, "Relu", backend.ActiveRule("Relu"))
}

func TestGradientOverrideUnknownRule(t *testing.T) {
	backend := autodiff.New(cpu.New())

	called := false
	err := backend.WithGradientOverride(map[string]string{"Relu": "GuidedBackProp"}, func() error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, autodiff.ErrUnknownGradient))
	assert.False(t, called)
}

func TestGradientOverrideReturnsFnError(t *testing.T) {
	backend := autodiff.New(cpu.New())
	want := errors.New("run failed")
	err := backend.WithGradientOverride(map[string]string{"Relu": "Relu"}, func() error { return want })
	assert.ErrorIs(t, err, want)
}

func TestSharedRegistry(t *testing.T) {
	reg := autodiff.NewGradientRegistry()
	a := autodiff.New(cpu.New(), autodiff.WithRegistry(reg))
	b := autodiff.New(cpu.New(), autodiff.WithRegistry(reg))

	autodiff.RegisterGuidedBackprop(a.Registry())
	assert.Same(t, a.Registry(), b.Registry())
	assert.False(t, autodiff.RegisterGuidedBackprop(b.Registry()))
}
