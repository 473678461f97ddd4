package pipeline

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/saliency/internal/config"
	"github.com/born-ml/saliency/internal/labels"
	"github.com/born-ml/saliency/internal/onnx/onnxtest"
)

func writeFixtures(t *testing.T, b *onnxtest.Builder) (modelPath, imagePath string) {
	t.Helper()
	dir := t.TempDir()

	modelPath = filepath.Join(dir, "tiny.onnx")
	require.NoError(t, os.WriteFile(modelPath, b.Bytes(), 0o600))

	img := image.NewRGBA(image.Rect(0, 0, onnxtest.ImageSize, onnxtest.ImageSize))
	for y := 0; y < onnxtest.ImageSize; y++ {
		for x := 0; x < onnxtest.ImageSize; x++ {
			img.Set(x, y, color.RGBA{R: uint8(30 * x), G: uint8(30 * y), B: 128, A: 255})
		}
	}
	imagePath = filepath.Join(dir, "input.png")
	f, err := os.Create(imagePath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return modelPath, imagePath
}

func testConfig(t *testing.T, profile string, b *onnxtest.Builder, layer string) *config.Config {
	t.Helper()
	cfg, err := config.Default(profile)
	require.NoError(t, err)
	cfg.Model, cfg.Image = writeFixtures(t, b)
	cfg.OutputDir = t.TempDir()
	cfg.Layer = layer
	cfg.InputSize = onnxtest.ImageSize
	cfg.Threads = 2
	return cfg
}

func TestRunWritesArtifacts(t *testing.T) {
	tests := []struct {
		name    string
		profile string
		model   *onnxtest.Builder
		layer   string
		suffix  string
	}{
		{"vgg", "vgg19", onnxtest.TinyClassifier(), onnxtest.TinyLastConv, ""},
		{"xception", "xception", onnxtest.TinyXception(), onnxtest.XceptionLastConv, "_xception"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, tt.profile, tt.model, tt.layer)
			logger, hook := test.NewNullLogger()
			logger.SetLevel(logrus.DebugLevel)

			res, err := Run(context.Background(), cfg, logger)
			require.NoError(t, err)

			assert.NotEmpty(t, res.RunID)
			assert.Len(t, res.Predictions, 3)
			assert.Equal(t, res.Predictions[0].Index, res.Class.Index)
			assert.Equal(t, tt.layer+"/Relu", res.Layer)

			require.Len(t, res.Artifacts, len(Kinds))
			for _, kind := range Kinds {
				path := res.Artifacts[kind]
				assert.Equal(t, filepath.Join(cfg.OutputDir, kind+tt.suffix+".jpg"), path)

				f, err := os.Open(path)
				require.NoError(t, err)
				img, err := jpeg.Decode(f)
				require.NoError(t, f.Close())
				require.NoError(t, err)
				assert.Equal(t, image.Rect(0, 0, onnxtest.ImageSize, onnxtest.ImageSize), img.Bounds())
			}

			h := res.CAM.Heatmap
			assert.Equal(t, onnxtest.ImageSize, h.Height)
			assert.Equal(t, onnxtest.ImageSize, h.Width)
			for _, v := range h.Values {
				assert.GreaterOrEqual(t, v, float32(0))
				assert.LessOrEqual(t, v, float32(1))
			}

			if cfg.Diagram {
				assert.FileExists(t, res.Diagram)
			} else {
				assert.Empty(t, res.Diagram)
			}

			require.NotEmpty(t, hook.Entries)
			for _, e := range hook.Entries {
				assert.Equal(t, res.RunID, e.Data["run_id"])
			}
			last := hook.LastEntry()
			assert.Equal(t, "run finished", last.Message)
			assert.Equal(t, res.Layer, last.Data["layer"])
			assert.Equal(t, res.Class.Index, last.Data["class"])
		})
	}
}

func TestRunWithLabelsAndClass(t *testing.T) {
	cfg := testConfig(t, "vgg19", onnxtest.TinyClassifier(), onnxtest.TinyLastConv)
	cfg.Labels = filepath.Join(t.TempDir(), "labels.json")
	require.NoError(t, os.WriteFile(cfg.Labels,
		[]byte(`{"0":["n0","zero"],"1":["n1","one"],"2":["n2","two"],"3":["n3","three"],"4":["n4","four"]}`), 0o600))
	cfg.Class = 2
	cfg.TopK = 0

	logger, _ := test.NewNullLogger()
	res, err := Run(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, "two", res.Class.Name)
	assert.Equal(t, 2, res.CAM.Class)
	assert.Len(t, res.Predictions, onnxtest.Classes)
}

func TestRunErrors(t *testing.T) {
	logger, _ := test.NewNullLogger()

	t.Run("class out of range", func(t *testing.T) {
		cfg := testConfig(t, "vgg19", onnxtest.TinyClassifier(), onnxtest.TinyLastConv)
		cfg.Class = onnxtest.Classes
		_, err := Run(context.Background(), cfg, logger)
		assert.ErrorContains(t, err, "class index out of range")
	})

	t.Run("unknown layer", func(t *testing.T) {
		cfg := testConfig(t, "vgg19", onnxtest.TinyClassifier(), "block9_conv9")
		_, err := Run(context.Background(), cfg, logger)
		assert.ErrorContains(t, err, "load")
	})

	t.Run("missing image", func(t *testing.T) {
		cfg := testConfig(t, "vgg19", onnxtest.TinyClassifier(), onnxtest.TinyLastConv)
		cfg.Image = filepath.Join(t.TempDir(), "missing.jpg")
		_, err := Run(context.Background(), cfg, logger)
		assert.Error(t, err)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t, "vgg19", onnxtest.TinyClassifier(), onnxtest.TinyLastConv)
		cfg.InputSize = 0
		_, err := Run(context.Background(), cfg, logger)
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("canceled", func(t *testing.T) {
		cfg := testConfig(t, "vgg19", onnxtest.TinyClassifier(), onnxtest.TinyLastConv)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Run(ctx, cfg, logger)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLogPredictionsCapped(t *testing.T) {
	logger, hook := test.NewNullLogger()

	preds := make([]labels.Prediction, 1000)
	for i := range preds {
		preds[i] = labels.Prediction{Class: labels.Class{Index: i}, Score: 0.001}
	}
	logPredictions(logger, preds)

	require.Len(t, hook.Entries, maxLoggedPredictions)
	assert.Equal(t, maxLoggedPredictions, hook.LastEntry().Data["rank"])
}

func TestCompareScores(t *testing.T) {
	tests := []struct {
		name      string
		native    []float32
		reference []float32
		level     logrus.Level
		diff      float32
	}{
		{"agree", []float32{0.1, 0.9}, []float32{0.15, 0.85}, logrus.InfoLevel, 0.05},
		{"differ", []float32{0.6, 0.4}, []float32{0.4, 0.6}, logrus.WarnLevel, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			compareScores(logger, tt.native, tt.reference)

			e := hook.LastEntry()
			require.NotNil(t, e)
			assert.Equal(t, tt.level, e.Level)
			assert.InDelta(t, tt.diff, e.Data["max_abs_diff"], 1e-6)
		})
	}

	logger, hook := test.NewNullLogger()
	compareScores(logger, []float32{1}, []float32{1, 2})
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.NotContains(t, hook.LastEntry().Data, "max_abs_diff")
}
