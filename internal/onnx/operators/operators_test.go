package operators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/saliency/internal/backend/cpu"
	"github.com/born-ml/saliency/internal/tensor"
)

func newCtx() *Context {
	return &Context{Backend: cpu.New(), Opset: 13}
}

func mustTensor(t *testing.T, data []float32, shape ...int) *tensor.RawTensor {
	t.Helper()
	x, err := tensor.FromFloat32(data, shape)
	require.NoError(t, err)
	return x
}

func mustInts(t *testing.T, data ...int64) *tensor.RawTensor {
	t.Helper()
	x, err := tensor.FromInt64(data, tensor.Shape{len(data)})
	require.NoError(t, err)
	return x
}

func run(t *testing.T, op string, node *Node, inputs ...*tensor.RawTensor) *tensor.RawTensor {
	t.Helper()
	node.OpType = op
	out, err := NewRegistry().Execute(newCtx(), node, inputs)
	require.NoError(t, err)
	require.Len(t, out, 1)
	return out[0]
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	_, err := r.Execute(newCtx(), &Node{OpType: "LSTM"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedOperator)

	ops := r.SupportedOps()
	assert.IsIncreasing(t, ops)
	assert.Contains(t, ops, "Conv")

	r.Register("Swish", handleIdentity)
	_, ok := r.Get("Swish")
	assert.True(t, ok)
}

func TestMissingInputs(t *testing.T) {
	_, err := NewRegistry().Execute(newCtx(), &Node{OpType: "Add"}, []*tensor.RawTensor{nil, nil})
	assert.ErrorContains(t, err, "missing")

	_, err = NewRegistry().Execute(newCtx(), &Node{OpType: "Conv"}, nil)
	assert.ErrorContains(t, err, "requires 2 inputs")
}

func TestGemm(t *testing.T) {
	a := mustTensor(t, []float32{1, 2, 3, 4}, 2, 2)
	b := mustTensor(t, []float32{1, 0, 1, 1}, 2, 2) // transposed: [[1,1],[0,1]]
	c := mustTensor(t, []float32{10, 20}, 2)

	node := &Node{Attributes: []Attribute{
		{Name: "alpha", F: 2},
		{Name: "beta", F: 0.5},
		{Name: "transB", I: 1},
	}}
	y := run(t, "Gemm", node, a, b, c)

	// 2 * A @ B^T + 0.5 * C
	// A @ B^T = [[1, 3], [3, 7]]
	assert.Equal(t, []float32{7, 16, 11, 24}, y.AsFloat32())
}

func TestMatMulRejectsBatched(t *testing.T) {
	a := mustTensor(t, make([]float32, 8), 2, 2, 2)
	_, err := NewRegistry().Execute(newCtx(), &Node{OpType: "MatMul"}, []*tensor.RawTensor{a, a})
	assert.ErrorContains(t, err, "2D")
}

func TestConvWithBias(t *testing.T) {
	x := mustTensor(t, []float32{1, 2, 3, 4}, 1, 1, 2, 2)
	w := mustTensor(t, []float32{1, 1, 1, 1}, 1, 1, 2, 2)
	bias := mustTensor(t, []float32{0.5}, 1)

	y := run(t, "Conv", &Node{}, x, w, bias)
	assert.Equal(t, tensor.Shape{1, 1, 1, 1}, y.Shape())
	assert.Equal(t, []float32{10.5}, y.AsFloat32())

	same := run(t, "Conv", &Node{Attributes: []Attribute{{Name: "auto_pad", S: []byte("SAME_UPPER")}}}, x, w)
	assert.Equal(t, tensor.Shape{1, 1, 2, 2}, same.Shape())
	assert.Equal(t, []float32{10, 6, 7, 4}, same.AsFloat32())
}

func TestSpatialPads(t *testing.T) {
	tests := []struct {
		name    string
		attrs   []Attribute
		in      int
		kernel  int
		stride  int
		want    [4]int
		wantErr bool
	}{
		{"explicit", []Attribute{{Name: "pads", Ints: []int64{1, 2, 3, 4}}}, 8, 3, 1, [4]int{1, 2, 3, 4}, false},
		{"valid", []Attribute{{Name: "auto_pad", S: []byte("VALID")}}, 8, 3, 1, [4]int{}, false},
		{"same upper strided", []Attribute{{Name: "auto_pad", S: []byte("SAME_UPPER")}}, 224, 3, 2, [4]int{0, 0, 1, 1}, false},
		{"same lower strided", []Attribute{{Name: "auto_pad", S: []byte("SAME_LOWER")}}, 224, 3, 2, [4]int{1, 1, 0, 0}, false},
		{"same 3x3", []Attribute{{Name: "auto_pad", S: []byte("SAME_UPPER")}}, 224, 3, 1, [4]int{1, 1, 1, 1}, false},
		{"bad pads", []Attribute{{Name: "pads", Ints: []int64{1, 1}}}, 8, 3, 1, [4]int{}, true},
		{"unknown", []Attribute{{Name: "auto_pad", S: []byte("REFLECT")}}, 8, 3, 1, [4]int{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := spatialPads(&Node{Attributes: tt.attrs},
				[2]int{tt.in, tt.in}, [2]int{tt.kernel, tt.kernel}, [2]int{tt.stride, tt.stride}, [2]int{1, 1})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPooling(t *testing.T) {
	x := mustTensor(t, []float32{
		1, 2, 5, 6,
		3, 4, 7, 8,
		-1, -2, 0, 0,
		-3, -4, 0, 4,
	}, 1, 1, 4, 4)
	node := &Node{Attributes: []Attribute{
		{Name: "kernel_shape", Ints: []int64{2, 2}},
		{Name: "strides", Ints: []int64{2, 2}},
	}}

	maxed := run(t, "MaxPool", node, x)
	assert.Equal(t, []float32{4, 8, -1, 4}, maxed.AsFloat32())

	avg := run(t, "AveragePool", &Node{Attributes: node.Attributes}, x)
	assert.Equal(t, []float32{2.5, 6.5, -2.5, 1}, avg.AsFloat32())

	gap := run(t, "GlobalAveragePool", &Node{}, x)
	assert.Equal(t, tensor.Shape{1, 1, 1, 1}, gap.Shape())
	assert.InDelta(t, 1.875, gap.AsFloat32()[0], 1e-6)

	_, err := NewRegistry().Execute(newCtx(), &Node{OpType: "MaxPool"}, []*tensor.RawTensor{x})
	assert.ErrorContains(t, err, "kernel_shape")
}

func TestBatchNormalization(t *testing.T) {
	x := mustTensor(t, []float32{1, 2, 3, 4}, 1, 2, 1, 2)
	scale := mustTensor(t, []float32{2, 1}, 2)
	bias := mustTensor(t, []float32{0, 1}, 2)
	mean := mustTensor(t, []float32{1, 0}, 2)
	variance := mustTensor(t, []float32{4, 1}, 2)

	node := &Node{Attributes: []Attribute{{Name: "epsilon", F: 0}}}
	y := run(t, "BatchNormalization", node, x, scale, bias, mean, variance)

	// channel 0: (x-1)*2/2, channel 1: x+1
	assert.InDeltaSlice(t, []float32{0, 1, 4, 5}, y.AsFloat32(), 1e-6)
}

func TestSoftmaxAxis(t *testing.T) {
	x := mustTensor(t, []float32{0, 0, 1, 1}, 2, 2)

	byRow := run(t, "Softmax", &Node{}, x)
	assert.InDeltaSlice(t, []float32{0.5, 0.5, 0.5, 0.5}, byRow.AsFloat32(), 1e-6)

	byCol := run(t, "Softmax", &Node{Attributes: []Attribute{{Name: "axis", I: 0}}}, x)
	assert.InDelta(t, 1, byCol.AsFloat32()[0]+byCol.AsFloat32()[2], 1e-6)
	assert.Less(t, byCol.AsFloat32()[0], byCol.AsFloat32()[2])
}

func TestRelu(t *testing.T) {
	y := run(t, "Relu", &Node{}, mustTensor(t, []float32{-1, 0, 2}, 3))
	assert.Equal(t, []float32{0, 0, 2}, y.AsFloat32())
}

func TestResolveShape(t *testing.T) {
	tests := []struct {
		name    string
		in      tensor.Shape
		spec    []int64
		want    tensor.Shape
		wantErr bool
	}{
		{"infer", tensor.Shape{1, 512, 7, 7}, []int64{-1, 25088}, tensor.Shape{1, 25088}, false},
		{"copy dim", tensor.Shape{2, 3, 4}, []int64{0, -1}, tensor.Shape{2, 12}, false},
		{"explicit", tensor.Shape{6}, []int64{2, 3}, tensor.Shape{2, 3}, false},
		{"two infers", tensor.Shape{6}, []int64{-1, -1}, nil, true},
		{"mismatch", tensor.Shape{6}, []int64{4, 2}, nil, true},
		{"indivisible", tensor.Shape{7}, []int64{2, -1}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveShape(tt.in, tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShapeOps(t *testing.T) {
	x := mustTensor(t, []float32{1, 2, 3, 4, 5, 6}, 1, 2, 3, 1)

	flat := run(t, "Flatten", &Node{}, x)
	assert.Equal(t, tensor.Shape{1, 6}, flat.Shape())

	reshaped := run(t, "Reshape", &Node{}, x, mustInts(t, 0, -1))
	assert.Equal(t, tensor.Shape{1, 6}, reshaped.Shape())

	squeezed := run(t, "Squeeze", &Node{}, x)
	assert.Equal(t, tensor.Shape{2, 3}, squeezed.Shape())

	squeezedAxis := run(t, "Squeeze", &Node{}, x, mustInts(t, -1))
	assert.Equal(t, tensor.Shape{1, 2, 3}, squeezedAxis.Shape())

	unsqueezed := run(t, "Unsqueeze", &Node{Attributes: []Attribute{{Name: "axes", Ints: []int64{0, 3}}}}, squeezed)
	assert.Equal(t, tensor.Shape{1, 2, 3, 1}, unsqueezed.Shape())

	nchw := run(t, "Transpose", &Node{Attributes: []Attribute{{Name: "perm", Ints: []int64{0, 3, 1, 2}}}}, x)
	assert.Equal(t, tensor.Shape{1, 1, 2, 3}, nchw.Shape())
	assert.Equal(t, x.AsFloat32(), nchw.AsFloat32())

	_, err := NewRegistry().Execute(newCtx(), &Node{OpType: "Squeeze"}, []*tensor.RawTensor{x, mustInts(t, 1)})
	assert.ErrorContains(t, err, "size 2")
}

func TestPad(t *testing.T) {
	x := mustTensor(t, []float32{1, 2}, 1, 2)

	fromInputs := run(t, "Pad", &Node{}, x, mustInts(t, 0, 1, 0, 0), mustTensor(t, []float32{9}))
	assert.Equal(t, tensor.Shape{1, 3}, fromInputs.Shape())
	assert.Equal(t, []float32{9, 1, 2}, fromInputs.AsFloat32())

	fromAttrs := run(t, "Pad", &Node{Attributes: []Attribute{{Name: "pads", Ints: []int64{1, 0, 0, 0}}}}, x)
	assert.Equal(t, []float32{0, 0, 1, 2}, fromAttrs.AsFloat32())

	_, err := NewRegistry().Execute(newCtx(), &Node{OpType: "Pad", Attributes: []Attribute{
		{Name: "mode", S: []byte("reflect")},
	}}, []*tensor.RawTensor{x})
	assert.ErrorContains(t, err, "reflect")
}

func TestConstantAndIdentity(t *testing.T) {
	value := mustTensor(t, []float32{3, 4}, 2)
	c := run(t, "Constant", &Node{Attributes: []Attribute{{Name: "value", T: value}}})
	assert.Same(t, value, c)

	f := run(t, "Constant", &Node{Attributes: []Attribute{{Name: "value_float", F: 1.5}}})
	assert.Equal(t, tensor.Shape{}, f.Shape())
	assert.Equal(t, []float32{1.5}, f.AsFloat32())

	ints := run(t, "Constant", &Node{Attributes: []Attribute{{Name: "value_ints", Ints: []int64{1, -1}}}})
	assert.Equal(t, []int64{1, -1}, ints.AsInt64())

	x := mustTensor(t, []float32{1}, 1)
	assert.Same(t, x, run(t, "Dropout", &Node{}, x))
	assert.Same(t, x, run(t, "Identity", &Node{}, x))
}

func TestBinaryOps(t *testing.T) {
	a := mustTensor(t, []float32{4, 6}, 2)
	b := mustTensor(t, []float32{2}, 1)

	assert.Equal(t, []float32{6, 8}, run(t, "Add", &Node{}, a, b).AsFloat32())
	assert.Equal(t, []float32{2, 4}, run(t, "Sub", &Node{}, a, b).AsFloat32())
	assert.Equal(t, []float32{8, 12}, run(t, "Mul", &Node{}, a, b).AsFloat32())
	assert.Equal(t, []float32{2, 3}, run(t, "Div", &Node{}, a, b).AsFloat32())
}
