package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/saliency/internal/config"
	"github.com/born-ml/saliency/internal/onnx/onnxtest"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"saliency"}, args...))
	return out.String(), err
}

func writeModel(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "tiny.onnx")
	require.NoError(t, os.WriteFile(path, onnxtest.TinyClassifier().Bytes(), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "saliency "+version+"\n", out)
}

func TestOps(t *testing.T) {
	out, err := run(t, "ops")
	require.NoError(t, err)
	assert.Contains(t, out, "Conv\n")
	assert.Contains(t, out, "Relu\n")
}

func TestLayers(t *testing.T) {
	model := writeModel(t, t.TempDir())

	out, err := run(t, "layers", "--plain", model)
	require.NoError(t, err)
	assert.Contains(t, out, "4\tblock_conv2/Relu\tRelu\tblock_conv2/Relu:0\n")

	out, err = run(t, "layers", "--model", model)
	require.NoError(t, err)
	assert.Contains(t, out, "block_conv2/Relu")
	assert.Contains(t, out, "10 layers")

	_, err = run(t, "layers")
	assert.Error(t, err)
}

func TestExplain(t *testing.T) {
	dir := t.TempDir()
	model := writeModel(t, dir)

	img := image.NewRGBA(image.Rect(0, 0, onnxtest.ImageSize, onnxtest.ImageSize))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	img.Set(0, 0, color.RGBA{A: 255})
	imagePath := filepath.Join(dir, "input.png")
	f, err := os.Create(imagePath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	cfgPath := filepath.Join(dir, "saliency.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("profile: vgg19\ninput_size: 8\nlayer: conv1\n"), 0o600))

	outDir := filepath.Join(dir, "out")
	out, err := run(t, "explain", "--config", cfgPath, "--model", model, "--image", imagePath,
		"--layer", onnxtest.TinyLastConv, "--out", outDir, "--class", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "class 1 class_1 (layer block_conv2/Relu)")
	for _, kind := range []string{"gradcam", "guided_backprop", "guided_gradcam", "deconvolved"} {
		assert.FileExists(t, filepath.Join(outDir, kind+".jpg"))
	}
}

func TestExplainInvalidFlags(t *testing.T) {
	_, err := run(t, "explain", "--profile", "resnet")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
