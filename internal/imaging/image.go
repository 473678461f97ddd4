package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
)

// JPEGQuality matches the OpenCV imwrite default.
const JPEGQuality = 95

// Image is an interleaved HWC 8-bit image with 1 or 3 channels.
type Image struct {
	Width, Height, Channels int
	Pix                     []uint8
}

// NewImage allocates a black image.
func NewImage(w, h, c int) *Image {
	return &Image{Width: w, Height: h, Channels: c, Pix: make([]uint8, w*h*c)}
}

// Float is an interleaved HWC float32 image used for intermediate
// compositing.
type Float struct {
	Width, Height, Channels int
	Pix                     []float32
}

// NewFloat allocates a zero float image.
func NewFloat(w, h, c int) *Float {
	return &Float{Width: w, Height: h, Channels: c, Pix: make([]float32, w*h*c)}
}

// Quantize rounds to the nearest integer and saturates to [0, 255].
func (f *Float) Quantize() *Image {
	img := NewImage(f.Width, f.Height, f.Channels)
	for i, v := range f.Pix {
		img.Pix[i] = saturate(v)
	}
	return img
}

func saturate(v float32) uint8 {
	switch {
	case math.IsNaN(float64(v)) || v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.RoundToEven(float64(v)))
}

// WriteJPEG encodes img to path, creating parent directories. When bgr is
// set the pixels are in BGR order and are swapped to RGB on the way out.
func WriteJPEG(path string, img *Image, bgr bool) error {
	rgba, err := img.toStd(bgr)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	//nolint:gosec // G304: output path comes from the user's configuration
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := jpeg.Encode(f, rgba, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

func (img *Image) toStd(bgr bool) (image.Image, error) {
	rect := image.Rect(0, 0, img.Width, img.Height)
	switch img.Channels {
	case 1:
		gray := image.NewGray(rect)
		copy(gray.Pix, img.Pix)
		return gray, nil
	case 3:
		rgba := image.NewRGBA(rect)
		for i := 0; i < img.Width*img.Height; i++ {
			p := img.Pix[3*i : 3*i+3]
			c := color.RGBA{R: p[0], G: p[1], B: p[2], A: 255}
			if bgr {
				c.R, c.B = c.B, c.R
			}
			rgba.Pix[4*i], rgba.Pix[4*i+1], rgba.Pix[4*i+2], rgba.Pix[4*i+3] = c.R, c.G, c.B, c.A
		}
		return rgba, nil
	}
	return nil, fmt.Errorf("cannot encode %d-channel image", img.Channels)
}
