package explain

import (
	"fmt"

	"github.com/born-ml/saliency/internal/imaging"
	"github.com/born-ml/saliency/internal/tensor"
)

// GuidedGradCAM multiplies a saliency tensor by the heatmap, broadcast over
// channels. The result is deprocessed for display like any saliency map.
func GuidedGradCAM(saliency *tensor.RawTensor, heat *Heatmap, layout tensor.Layout) (*tensor.RawTensor, error) {
	shape := saliency.Shape()
	n, c, h, w, err := layout.Dims(shape)
	if err != nil {
		return nil, fmt.Errorf("guided grad-cam: %w", err)
	}
	if h != heat.Height || w != heat.Width {
		return nil, fmt.Errorf("guided grad-cam: heatmap %dx%d does not match saliency %dx%d",
			heat.Height, heat.Width, h, w)
	}

	out := saliency.Clone()
	data := out.AsFloat32()
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					data[layout.Index(shape, b, ch, y, x)] *= heat.Values[y*w+x]
				}
			}
		}
	}
	return out, nil
}

// Composite draws the heatmap in JET colors over the preprocessed input:
// jet/divisor + display, rescaled to a peak of 255. bgr gives the channel
// order of image, which the result keeps.
func Composite(image *tensor.RawTensor, layout tensor.Layout, heat *Heatmap, divisor float32, bgr bool) (*imaging.Image, error) {
	display, err := imaging.Display(image, layout)
	if err != nil {
		return nil, fmt.Errorf("composite: %w", err)
	}
	if display.Height != heat.Height || display.Width != heat.Width {
		return nil, fmt.Errorf("composite: heatmap %dx%d does not match image %dx%d",
			heat.Height, heat.Width, display.Height, display.Width)
	}
	return imaging.Overlay(display, heat.Values, divisor, bgr)
}
