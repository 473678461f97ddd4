package imaging

import (
	"fmt"
	"image"

	"github.com/born-ml/saliency/internal/tensor"
)

// Mode selects the input normalization of a Keras application model.
type Mode string

// Preprocessing modes, as in keras.applications.imagenet_utils.
const (
	// Caffe converts RGB to BGR and subtracts the ImageNet channel means
	// (VGG16/19, ResNet50).
	Caffe Mode = "caffe"
	// TF scales pixels to [-1, 1] (Xception, Inception).
	TF Mode = "tf"
	// Torch scales to [0, 1] and normalizes with ImageNet mean and std.
	Torch Mode = "torch"
)

var (
	caffeMeanBGR = [3]float32{103.939, 116.779, 123.68}
	torchMean    = [3]float32{0.485, 0.456, 0.406}
	torchStd     = [3]float32{0.229, 0.224, 0.225}
)

// ParseMode validates a preprocessing mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Caffe, TF, Torch:
		return m, nil
	}
	return "", fmt.Errorf("unknown preprocessing mode %q", s)
}

// BGR reports whether the mode feeds the network BGR pixels.
func (m Mode) BGR() bool {
	return m == Caffe
}

// Preprocess converts img into a [1,H,W,3] (NHWC) or [1,3,H,W] (NCHW)
// float32 tensor normalized for mode.
func Preprocess(img image.Image, mode Mode, layout tensor.Layout) (*tensor.RawTensor, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	shape := tensor.Shape{1, h, w, 3}
	if layout == tensor.NCHW {
		shape = tensor.Shape{1, 3, h, w}
	}
	out, err := tensor.NewRaw(shape, tensor.Float32)
	if err != nil {
		return nil, err
	}
	data := out.AsFloat32()

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			px := [3]float32{float32(r >> 8), float32(g >> 8), float32(bl >> 8)}

			switch mode {
			case Caffe:
				px[0], px[2] = px[2], px[0]
				for c := range px {
					px[c] -= caffeMeanBGR[c]
				}
			case TF:
				for c := range px {
					px[c] = px[c]/127.5 - 1
				}
			case Torch:
				for c := range px {
					px[c] = (px[c]/255 - torchMean[c]) / torchStd[c]
				}
			default:
				return nil, fmt.Errorf("unknown preprocessing mode %q", mode)
			}

			for c, v := range px {
				data[layout.Index(shape, 0, c, y, x)] = v
			}
		}
	}
	return out, nil
}

// Display recovers a viewable HWC image from a preprocessed tensor: values
// are shifted so the minimum is 0 and clipped at 255. Channels keep the
// tensor's order.
func Display(x *tensor.RawTensor, layout tensor.Layout) (*Float, error) {
	_, c, h, w, err := layout.Dims(x.Shape())
	if err != nil {
		return nil, err
	}
	src := x.AsFloat32()

	lo := src[0]
	for _, v := range src {
		lo = min(lo, v)
	}

	img := NewFloat(w, h, c)
	for y := 0; y < h; y++ {
		for xx := 0; xx < w; xx++ {
			for ch := 0; ch < c; ch++ {
				img.Pix[(y*w+xx)*c+ch] = min(src[layout.Index(x.Shape(), 0, ch, y, xx)]-lo, 255)
			}
		}
	}
	return img, nil
}
