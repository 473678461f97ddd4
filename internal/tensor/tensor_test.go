package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Shape
		want      Shape
		stretched bool
		wantErr   bool
	}{
		{"equal", Shape{2, 3}, Shape{2, 3}, Shape{2, 3}, false, false},
		{"column", Shape{3, 1}, Shape{3, 5}, Shape{3, 5}, true, false},
		{"channel bias", Shape{1, 4, 1, 1}, Shape{2, 4, 5, 5}, Shape{2, 4, 5, 5}, true, false},
		{"rank mismatch", Shape{5}, Shape{2, 5}, Shape{2, 5}, true, false},
		{"incompatible", Shape{3, 4}, Shape{3, 5}, nil, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, stretched, err := BroadcastShapes(tt.a, tt.b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.stretched, stretched)
		})
	}
}

func TestBroadcastStrides(t *testing.T) {
	assert.Equal(t, []int{0, 1, 0, 0}, BroadcastStrides(Shape{1, 4, 1, 1}, Shape{2, 4, 5, 5}))
	assert.Equal(t, []int{0, 1}, BroadcastStrides(Shape{5}, Shape{2, 5}))
	assert.Equal(t, []int{3, 1}, BroadcastStrides(Shape{2, 3}, Shape{2, 3}))
}

func TestShapeSqueeze(t *testing.T) {
	assert.Equal(t, Shape{224, 224, 3}, Shape{1, 224, 224, 3}.Squeeze())
	assert.Equal(t, Shape{3, 4}, Shape{1, 1, 3, 4}.Squeeze())
	assert.Equal(t, Shape{1}, Shape{1, 1}.Squeeze())
	assert.Equal(t, Shape{4, 1}, Shape{4, 1}.Squeeze())
}

func TestNormalizeAxis(t *testing.T) {
	axis, err := NormalizeAxis(-1, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, axis)

	_, err = NormalizeAxis(4, 4)
	assert.Error(t, err)
}

func TestRawTensorViews(t *testing.T) {
	x, err := FromFloat32([]float32{1, 2, 3, 4, 5, 6}, Shape{2, 3})
	require.NoError(t, err)

	view, err := x.Reshaped(Shape{3, 2})
	require.NoError(t, err)
	assert.Equal(t, Shape{3, 2}, view.Shape())
	assert.Equal(t, x.AsFloat32(), view.AsFloat32())

	_, err = x.Reshaped(Shape{4, 2})
	assert.Error(t, err)

	clone := x.Clone()
	clone.AsFloat32()[0] = 42
	assert.Equal(t, float32(1), x.AsFloat32()[0])
}

func TestRawTensorScalar(t *testing.T) {
	s, err := Full(Shape{}, 2.5)
	require.NoError(t, err)
	assert.Equal(t, 1, s.NumElements())
	assert.Equal(t, []float32{2.5}, s.AsFloat32())
}

func TestRawTensorConversions(t *testing.T) {
	x, err := FromInt64([]int64{1, -1, 7}, Shape{3})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, -1, 7}, x.Float32s())
	assert.Equal(t, []int64{1, -1, 7}, x.Int64s())
	assert.Panics(t, func() { x.AsFloat32() })

	_, err = FromFloat32([]float32{1, 2}, Shape{3})
	assert.Error(t, err)
}

func TestConvParamsOutputSize(t *testing.T) {
	p := DefaultConvParams()
	p.Pads = [4]int{1, 1, 1, 1}
	oh, ow := p.OutputSize(224, 224, 3, 3)
	assert.Equal(t, 224, oh)
	assert.Equal(t, 224, ow)

	p = DefaultConvParams()
	p.Strides = [2]int{2, 2}
	oh, ow = p.OutputSize(299, 299, 3, 3)
	assert.Equal(t, 149, oh)
	assert.Equal(t, 149, ow)
}

func TestPoolParamsOutputSize(t *testing.T) {
	p := PoolParams{Kernel: [2]int{2, 2}, Strides: [2]int{2, 2}}
	oh, ow := p.OutputSize(7, 8)
	assert.Equal(t, 3, oh)
	assert.Equal(t, 4, ow)

	p.CeilMode = true
	oh, _ = p.OutputSize(7, 8)
	assert.Equal(t, 4, oh)
}

func TestLayout(t *testing.T) {
	l, err := ParseLayout("channels_last")
	require.NoError(t, err)
	assert.Equal(t, NHWC, l)
	assert.Equal(t, 3, l.ChannelAxis())

	_, c, h, w, err := l.Dims(Shape{1, 7, 5, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7, 5}, []int{c, h, w})

	// [1,2,2,3]: element (c=2, y=1, x=0) sits at ((0*2+1)*2+0)*3+2.
	assert.Equal(t, 8, NHWC.Index(Shape{1, 2, 2, 3}, 0, 2, 1, 0))
	assert.Equal(t, 10, NCHW.Index(Shape{1, 3, 2, 2}, 0, 2, 1, 0))

	_, err = ParseLayout("hwc")
	assert.Error(t, err)
	_, _, _, _, err = NCHW.Dims(Shape{3, 4})
	assert.Error(t, err)
}
