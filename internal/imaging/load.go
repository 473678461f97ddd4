// Package imaging reads input photos, converts them into network input
// tensors and writes visualizations back to disk.
//
// Pixel buffers that leave the package are interleaved HWC uint8. Their
// channel order is the pipeline's working order: BGR for caffe
// preprocessing, RGB otherwise.
package imaging

import (
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"

	"github.com/nfnt/resize"
)

// Load decodes a JPEG or PNG file and resizes it to width x height with
// nearest-neighbour sampling, the default of Keras load_img.
//
//nolint:gosec // G304: image path comes from the user's configuration
func Load(path string, width, height int) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return Resize(img, width, height), nil
}

// Resize returns img scaled to width x height. It is a no-op when the size
// already matches.
func Resize(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	return resize.Resize(uint(width), uint(height), img, resize.NearestNeighbor)
}
