package classify

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/born-ml/saliency/internal/tensor"
)

// RuntimeOptions describes the model file and its I/O for onnxruntime.
type RuntimeOptions struct {
	// Library is the path to the onnxruntime shared library. Empty uses
	// the platform default lookup.
	Library     string
	ModelPath   string
	InputName   string
	OutputName  string
	InputShape  []int64
	OutputShape []int64
}

// The onnxruntime environment is process wide; sessions share it.
var (
	envMu   sync.Mutex
	envRefs int

	initEnvironment    = func() error { return ort.InitializeEnvironment() }
	destroyEnvironment = func() error { return ort.DestroyEnvironment() }
)

func acquireEnvironment(library string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if library != "" {
			ort.SetSharedLibraryPath(library)
		}
		if err := initEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs > 0 {
		return nil
	}
	return destroyEnvironment()
}

// Runtime predicts with an onnxruntime session bound to fixed input and
// output tensors. It is not safe for concurrent use.
type Runtime struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	closed  bool
}

// NewRuntime opens a session for opts.ModelPath.
func NewRuntime(opts RuntimeOptions) (*Runtime, error) {
	if opts.InputName == "" || opts.OutputName == "" {
		return nil, fmt.Errorf("runtime: input and output names are required")
	}
	if err := acquireEnvironment(opts.Library); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(opts.InputShape...))
	if err != nil {
		_ = releaseEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(opts.OutputShape...))
	if err != nil {
		_ = input.Destroy()
		_ = releaseEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{opts.InputName}, []string{opts.OutputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		_ = input.Destroy()
		_ = output.Destroy()
		_ = releaseEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Runtime{session: session, input: input, output: output}, nil
}

// Predict copies input into the session and runs it.
func (r *Runtime) Predict(input *tensor.RawTensor) ([]float32, error) {
	dst := r.input.GetData()
	src := input.Float32s()
	if len(src) != len(dst) {
		return nil, fmt.Errorf("runtime: input has %d elements, session expects %d", len(src), len(dst))
	}
	copy(dst, src)

	if err := r.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return append([]float32(nil), r.output.GetData()...), nil
}

// Close releases the session, its tensors and the shared environment.
// Closing twice is a no-op.
func (r *Runtime) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	if r.session != nil {
		_ = r.session.Destroy()
		r.session = nil
	}
	if r.input != nil {
		_ = r.input.Destroy()
		r.input = nil
	}
	if r.output != nil {
		_ = r.output.Destroy()
		r.output = nil
	}
	return releaseEnvironment()
}

// StaticShape replaces unknown dimensions (-1) with 1.
func StaticShape(dims []int) []int64 {
	out := make([]int64, len(dims))
	for i, d := range dims {
		if d <= 0 {
			d = 1
		}
		out[i] = int64(d)
	}
	return out
}
