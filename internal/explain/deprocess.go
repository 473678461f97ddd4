package explain

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/saliency/internal/imaging"
	"github.com/born-ml/saliency/internal/tensor"
)

// Deprocess turns a gradient tensor shaped like the input image into an
// 8-bit image: center on zero, scale to a standard deviation of 0.1, shift
// to 0.5, clip to [0,1] and scale to [0,255]. Leading singleton axes are
// dropped; channels-first data is transposed to HWC.
func Deprocess(x *tensor.RawTensor, layout tensor.Layout) (*imaging.Image, error) {
	shape := x.Shape()
	for len(shape) > 3 && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("deprocess: expected an image-shaped tensor, got %v", x.Shape())
	}

	v := toFloat64(x.Float32s())
	mean, std := stat.PopMeanStdDev(v, nil)
	for i, f := range v {
		f = (f-mean)/(std+l2Epsilon)*0.1 + 0.5
		v[i] = min(max(f, 0), 1) * 255
	}

	h, w, c := shape[0], shape[1], shape[2]
	if layout == tensor.NCHW {
		c, h, w = shape[0], shape[1], shape[2]
	}
	img := imaging.NewImage(w, h, c)
	for y := 0; y < h; y++ {
		for xx := 0; xx < w; xx++ {
			for ch := 0; ch < c; ch++ {
				src := (y*w+xx)*c + ch
				if layout == tensor.NCHW {
					src = (ch*h+y)*w + xx
				}
				img.Pix[(y*w+xx)*c+ch] = uint8(min(max(v[src], 0), 255))
			}
		}
	}
	return img, nil
}
