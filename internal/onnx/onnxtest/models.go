package onnxtest

// Dimensions of the tiny models.
const (
	ImageSize = 8
	Classes   = 5

	// InputName is the NHWC image input of both tiny models.
	InputName = "input_1"
	// OutputName is the softmax output of both tiny models.
	OutputName = "predictions"
)

// Layer names addressable with Model.ResolveLayer.
const (
	TinyLastConv     = "block_conv2"
	XceptionLastConv = "block14_sepconv2_act"
)

// TinyClassifier is a VGG-style network:
//
//	NHWC input -> Transpose -> conv1 3x3 -> Relu -> block_conv2 3x3 -> Relu
//	-> MaxPool 2x2 -> GlobalAveragePool -> Flatten -> Gemm -> Softmax
func TinyClassifier() *Builder {
	const c1, c2 = 4, 6
	b := NewBuilder("tiny_vgg").
		Input(InputName, -1, ImageSize, ImageSize, 3).
		Output(OutputName, -1, Classes)

	b.Weight("conv1/kernel", Weights(1, c1*3*3*3, 0.01), c1, 3, 3, 3).
		Weight("conv1/bias", Fill(c1, 0.1), c1).
		Weight("block_conv2/kernel", Weights(2, c2*c1*3*3, 0.5), c2, c1, 3, 3).
		Weight("block_conv2/bias", Fill(c2, 0.05), c2).
		Weight("predictions/kernel", Weights(3, Classes*c2, 1), Classes, c2).
		Weight("predictions/bias", Weights(4, Classes, 0.1), Classes)

	b.Node("Transpose", "input_1/transpose", []string{InputName}, []string{"input_1/transpose:0"},
		Ints("perm", 0, 3, 1, 2)).
		Node("Conv", "conv1/Conv2D", []string{"input_1/transpose:0", "conv1/kernel", "conv1/bias"},
			[]string{"conv1/BiasAdd:0"}, Ints("kernel_shape", 3, 3), Ints("pads", 1, 1, 1, 1)).
		Node("Relu", "conv1/Relu", []string{"conv1/BiasAdd:0"}, []string{"conv1/Relu:0"}).
		Node("Conv", "block_conv2/Conv2D", []string{"conv1/Relu:0", "block_conv2/kernel", "block_conv2/bias"},
			[]string{"block_conv2/BiasAdd:0"}, Ints("kernel_shape", 3, 3), String("auto_pad", "SAME_UPPER")).
		Node("Relu", "block_conv2/Relu", []string{"block_conv2/BiasAdd:0"}, []string{"block_conv2/Relu:0"}).
		Node("MaxPool", "pool/MaxPool", []string{"block_conv2/Relu:0"}, []string{"pool/MaxPool:0"},
			Ints("kernel_shape", 2, 2), Ints("strides", 2, 2)).
		Node("GlobalAveragePool", "gap/Mean", []string{"pool/MaxPool:0"}, []string{"gap/Mean:0"}).
		Node("Flatten", "flatten/Reshape", []string{"gap/Mean:0"}, []string{"flatten/Reshape:0"}).
		Node("Gemm", "predictions/MatMul", []string{"flatten/Reshape:0", "predictions/kernel", "predictions/bias"},
			[]string{"predictions/BiasAdd:0"}, Int("transB", 1)).
		Node("Softmax", "predictions/Softmax", []string{"predictions/BiasAdd:0"}, []string{OutputName},
			Int("axis", 1))
	return b
}

// TinyXception is an Xception-style network with batch normalization and
// a separable convolution:
//
//	NHWC input -> Transpose -> block1_conv1 3x3/2 SAME -> BatchNorm -> Relu
//	-> depthwise 3x3 -> pointwise 1x1 -> BatchNorm -> Relu (block14_sepconv2_act)
//	-> GlobalAveragePool -> Reshape -> MatMul -> Add -> Softmax
func TinyXception() *Builder {
	const c1, c2 = 4, 6
	b := NewBuilder("tiny_xception").
		Input(InputName, -1, ImageSize, ImageSize, 3).
		Output(OutputName, -1, Classes)

	b.Weight("block1_conv1/kernel", Weights(11, c1*3*3*3, 0.01), c1, 3, 3, 3).
		Weight("block1_conv1_bn/gamma", Fill(c1, 1), c1).
		Weight("block1_conv1_bn/beta", Fill(c1, 0.1), c1).
		Weight("block1_conv1_bn/mean", Fill(c1, 0.01), c1).
		Weight("block1_conv1_bn/var", Fill(c1, 0.5), c1).
		Weight("block14_sepconv2/depthwise", Weights(12, c1*3*3, 0.5), c1, 1, 3, 3).
		Weight("block14_sepconv2/pointwise", Weights(13, c2*c1, 0.5), c2, c1, 1, 1).
		Weight("block14_sepconv2_bn/gamma", Fill(c2, 1), c2).
		Weight("block14_sepconv2_bn/beta", Fill(c2, 0.1), c2).
		Weight("block14_sepconv2_bn/mean", Fill(c2, 0), c2).
		Weight("block14_sepconv2_bn/var", Fill(c2, 1), c2).
		Int64s("flatten/shape", []int64{-1, c2}, 2).
		Weight("predictions/kernel", Weights(14, c2*Classes, 1), c2, Classes).
		Weight("predictions/bias", Weights(15, Classes, 0.1), Classes)

	b.Node("Transpose", "input_1/transpose", []string{InputName}, []string{"input_1/transpose:0"},
		Ints("perm", 0, 3, 1, 2)).
		Node("Conv", "block1_conv1/Conv2D", []string{"input_1/transpose:0", "block1_conv1/kernel"},
			[]string{"block1_conv1/Conv2D:0"}, Ints("strides", 2, 2), String("auto_pad", "SAME_UPPER")).
		Node("BatchNormalization", "block1_conv1_bn/FusedBatchNormV3",
			[]string{"block1_conv1/Conv2D:0", "block1_conv1_bn/gamma", "block1_conv1_bn/beta",
				"block1_conv1_bn/mean", "block1_conv1_bn/var"},
			[]string{"block1_conv1_bn/FusedBatchNormV3:0"}, Float("epsilon", 1e-3)).
		Node("Relu", "block1_conv1_act/Relu", []string{"block1_conv1_bn/FusedBatchNormV3:0"},
			[]string{"block1_conv1_act/Relu:0"}).
		Node("Conv", "block14_sepconv2/separable_conv2d/depthwise",
			[]string{"block1_conv1_act/Relu:0", "block14_sepconv2/depthwise"},
			[]string{"block14_sepconv2/depthwise:0"}, Int("group", c1), Ints("pads", 1, 1, 1, 1)).
		Node("Conv", "block14_sepconv2/separable_conv2d",
			[]string{"block14_sepconv2/depthwise:0", "block14_sepconv2/pointwise"},
			[]string{"block14_sepconv2/separable_conv2d:0"}).
		Node("BatchNormalization", "block14_sepconv2_bn/FusedBatchNormV3",
			[]string{"block14_sepconv2/separable_conv2d:0", "block14_sepconv2_bn/gamma", "block14_sepconv2_bn/beta",
				"block14_sepconv2_bn/mean", "block14_sepconv2_bn/var"},
			[]string{"block14_sepconv2_bn/FusedBatchNormV3:0"}, Float("epsilon", 1e-3)).
		Node("Relu", "block14_sepconv2_act/Relu", []string{"block14_sepconv2_bn/FusedBatchNormV3:0"},
			[]string{"block14_sepconv2_act/Relu:0"}).
		Node("GlobalAveragePool", "avg_pool/Mean", []string{"block14_sepconv2_act/Relu:0"}, []string{"avg_pool/Mean:0"}).
		Node("Reshape", "avg_pool/Reshape", []string{"avg_pool/Mean:0", "flatten/shape"}, []string{"avg_pool/Reshape:0"}).
		Node("MatMul", "predictions/MatMul", []string{"avg_pool/Reshape:0", "predictions/kernel"},
			[]string{"predictions/MatMul:0"}).
		Node("Add", "predictions/BiasAdd", []string{"predictions/MatMul:0", "predictions/bias"},
			[]string{"predictions/BiasAdd:0"}).
		Node("Softmax", "predictions/Softmax", []string{"predictions/BiasAdd:0"}, []string{OutputName})
	return b
}
