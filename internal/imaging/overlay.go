package imaging

import "fmt"

// Overlay blends a [0,1] heatmap over a display image:
//
//	out = jet(uint8(255*heat)) / divisor + display
//	out = 255 * out / max(out)
//
// heat must have one value per display pixel. The JET colors use the same
// channel order as display (bgr).
func Overlay(display *Float, heat []float32, divisor float32, bgr bool) (*Image, error) {
	n := display.Width * display.Height
	if len(heat) != n {
		return nil, fmt.Errorf("overlay: heatmap has %d values for a %dx%d image", len(heat), display.Width, display.Height)
	}
	if display.Channels != 3 {
		return nil, fmt.Errorf("overlay: display image must have 3 channels, got %d", display.Channels)
	}
	if divisor <= 0 {
		return nil, fmt.Errorf("overlay: divisor must be positive, got %g", divisor)
	}

	out := NewFloat(display.Width, display.Height, 3)
	var peak float32
	for i, h := range heat {
		jet := JetInOrder(uint8(255*clamp01(h)), bgr)
		for c := 0; c < 3; c++ {
			v := float32(jet[c])/divisor + display.Pix[3*i+c]
			out.Pix[3*i+c] = v
			peak = max(peak, v)
		}
	}
	if peak > 0 {
		scale := 255 / peak
		for i := range out.Pix {
			out.Pix[i] *= scale
		}
	}
	return out.Quantize(), nil
}

func clamp01(v float32) float32 {
	return min(max(v, 0), 1)
}
