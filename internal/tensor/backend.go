package tensor

// Backend defines the kernels the autodiff tape and the ONNX executor run on.
//
// Kernels allocate their results and never modify their inputs. Shape
// mismatches are programmer errors and panic.
type Backend interface {
	// Element-wise binary operations with NumPy broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// Scalar operations.
	MulScalar(x *RawTensor, s float32) *RawTensor
	AddScalar(x *RawTensor, s float32) *RawTensor

	// MatMul multiplies 2D tensors: [M, K] @ [K, N] -> [M, N].
	MatMul(a, b *RawTensor) *RawTensor
	// MatMulTrans computes op(a) @ op(b), where op transposes when the
	// matching flag is set, without materializing the transpose.
	MatMulTrans(a, b *RawTensor, transA, transB bool) *RawTensor

	// Convolution and pooling on NCHW tensors.
	Conv2D(input, kernel *RawTensor, p ConvParams) *RawTensor
	Conv2DInputBackward(input, kernel, grad *RawTensor, p ConvParams) *RawTensor
	Conv2DKernelBackward(input, kernel, grad *RawTensor, p ConvParams) *RawTensor
	MaxPool2D(input *RawTensor, p PoolParams) (*RawTensor, []int)
	MaxPool2DBackward(input, grad *RawTensor, indices []int) *RawTensor
	AvgPool2D(input *RawTensor, p PoolParams) *RawTensor
	AvgPool2DBackward(input, grad *RawTensor, p PoolParams) *RawTensor

	// Activations.
	ReLU(x *RawTensor) *RawTensor
	Softmax(x *RawTensor, axis int) *RawTensor

	// Reductions.
	Sum(x *RawTensor) *RawTensor
	MaxDim(x *RawTensor, axis int, keepDim bool) (*RawTensor, []int)

	// Shape operations.
	Reshape(x *RawTensor, shape Shape) *RawTensor
	Transpose(x *RawTensor, axes ...int) *RawTensor
	Pad(x *RawTensor, pads []int, value float32) *RawTensor
	Crop(x *RawTensor, pads []int) *RawTensor

	Name() string
}

// ConvParams configures a 2D convolution over NCHW input with an
// [M, C/Group, KH, KW] kernel.
type ConvParams struct {
	Strides   [2]int // H, W
	Pads      [4]int // top, left, bottom, right
	Dilations [2]int // H, W
	Group     int
}

// DefaultConvParams is a stride-1, unpadded, undilated, single-group conv.
func DefaultConvParams() ConvParams {
	return ConvParams{Strides: [2]int{1, 1}, Dilations: [2]int{1, 1}, Group: 1}
}

// OutputSize returns the spatial output size for an h x w input and a
// kh x kw kernel.
func (p ConvParams) OutputSize(h, w, kh, kw int) (int, int) {
	oh := (h+p.Pads[0]+p.Pads[2]-p.Dilations[0]*(kh-1)-1)/p.Strides[0] + 1
	ow := (w+p.Pads[1]+p.Pads[3]-p.Dilations[1]*(kw-1)-1)/p.Strides[1] + 1
	return oh, ow
}

// PoolParams configures 2D max or average pooling over NCHW input.
type PoolParams struct {
	Kernel          [2]int
	Strides         [2]int
	Pads            [4]int // top, left, bottom, right
	CeilMode        bool
	CountIncludePad bool
}

// OutputSize returns the spatial output size for an h x w input.
func (p PoolParams) OutputSize(h, w int) (int, int) {
	return poolDim(h, p.Kernel[0], p.Strides[0], p.Pads[0]+p.Pads[2], p.CeilMode),
		poolDim(w, p.Kernel[1], p.Strides[1], p.Pads[1]+p.Pads[3], p.CeilMode)
}

func poolDim(in, k, s, pad int, ceil bool) int {
	span := in + pad - k
	if ceil {
		return (span+s-1)/s + 1
	}
	return span/s + 1
}
