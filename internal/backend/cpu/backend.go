// Package cpu implements tensor.Backend in pure Go.
//
// Matrix products (including the im2col form of convolution) go through
// gonum's blas32; loops over batch and convolution groups are split with
// internal/parallel.
package cpu

import (
	"fmt"

	"github.com/born-ml/saliency/internal/parallel"
	"github.com/born-ml/saliency/internal/tensor"
)

// CPUBackend implements tensor operations on the CPU.
type CPUBackend struct {
	par parallel.Config
}

// Option configures a CPUBackend.
type Option func(*CPUBackend)

// WithWorkers sets the number of goroutines used by parallel kernels.
// Zero or less uses one per CPU.
func WithWorkers(n int) Option {
	return func(cpu *CPUBackend) {
		cpu.par = parallel.NewConfig(n)
	}
}

// New creates a CPU backend.
func New(opts ...Option) *CPUBackend {
	cpu := &CPUBackend{par: parallel.NewConfig(0)}
	for _, opt := range opts {
		opt(cpu)
	}
	return cpu
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Workers returns the configured parallelism.
func (cpu *CPUBackend) Workers() int {
	return cpu.par.Workers
}

func mustFloat32(op string, ts ...*tensor.RawTensor) {
	for _, t := range ts {
		if t.DType() != tensor.Float32 {
			panic(fmt.Sprintf("%s: unsupported dtype %s (float32 only)", op, t.DType()))
		}
	}
}

var _ tensor.Backend = (*CPUBackend)(nil)
