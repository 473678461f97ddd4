// Package config loads run settings from YAML. A named profile (vgg19,
// xception) supplies defaults; values present in the file override them.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/saliency/internal/imaging"
	"github.com/born-ml/saliency/internal/tensor"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Predictors.
const (
	PredictorNative      = "native"
	PredictorOnnxRuntime = "onnxruntime"
)

// Config holds the settings of one explanation run.
type Config struct {
	Profile   string `yaml:"profile"`
	Model     string `yaml:"model"`
	Image     string `yaml:"image"`
	Labels    string `yaml:"labels"`
	OutputDir string `yaml:"output_dir"`

	// Layer is the convolutional layer Grad-CAM and saliency target.
	Layer string `yaml:"layer"`
	// Class is the explained class; negative means the predicted one.
	Class int `yaml:"class"`
	TopK  int `yaml:"top_k"`

	InputSize   int    `yaml:"input_size"`
	Preprocess  string `yaml:"preprocess"`
	DataFormat  string `yaml:"data_format"`
	LayerFormat string `yaml:"layer_format"`

	OverlayDivisor float32 `yaml:"overlay_divisor"`
	ArtifactPrefix string  `yaml:"artifact_prefix"`
	ArtifactSuffix string  `yaml:"artifact_suffix"`
	Diagram        bool    `yaml:"diagram"`

	Threads            int    `yaml:"threads"`
	Predictor          string `yaml:"predictor"`
	OnnxRuntimeLibrary string `yaml:"onnxruntime_library"`
}

var profiles = map[string]Config{
	"vgg19": {
		Profile:        "vgg19",
		Model:          "models/vgg19.onnx",
		Image:          "input/input.jpg",
		OutputDir:      "input",
		Layer:          "block5_conv4",
		Class:          -1,
		TopK:           3,
		InputSize:      224,
		Preprocess:     string(imaging.Caffe),
		DataFormat:     "channels_last",
		LayerFormat:    "nchw",
		OverlayDivisor: 1,
		Predictor:      PredictorNative,
	},
	"xception": {
		Profile:        "xception",
		Model:          "models/xception.onnx",
		Image:          "input/input.jpg",
		OutputDir:      "input",
		Layer:          "block14_sepconv2_act",
		Class:          -1,
		TopK:           3,
		InputSize:      299,
		Preprocess:     string(imaging.TF),
		DataFormat:     "channels_last",
		LayerFormat:    "nchw",
		OverlayDivisor: 80,
		ArtifactSuffix: "_xception",
		Diagram:        true,
		Predictor:      PredictorNative,
	},
}

// DefaultProfile is used when a file names no profile.
const DefaultProfile = "vgg19"

// Profiles returns the known profile names, sorted.
func Profiles() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns the defaults of a profile.
func Default(profile string) (*Config, error) {
	if profile == "" {
		profile = DefaultProfile
	}
	p, ok := profiles[profile]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown profile %q (want one of %s)",
			profile, strings.Join(Profiles(), ", "))
	}
	return &p, nil
}

// Load reads a YAML file, applies its profile defaults and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: user supplied config path
	if err != nil {
		return nil, errors.Wrap(err, "could not read config")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var head struct {
		Profile string `yaml:"profile"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, "could not parse config")
	}
	cfg, err := Default(head.Profile)
	if err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "could not parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerations, sizes and required paths.
func (c *Config) Validate() error {
	if _, ok := profiles[c.Profile]; !ok {
		return errors.Wrapf(ErrInvalidConfig, "unknown profile %q", c.Profile)
	}
	if c.Model == "" {
		return errors.Wrap(ErrInvalidConfig, "model is required")
	}
	if c.Image == "" {
		return errors.Wrap(ErrInvalidConfig, "image is required")
	}
	if c.Layer == "" {
		return errors.Wrap(ErrInvalidConfig, "layer is required")
	}
	if c.InputSize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "input_size must be positive, got %d", c.InputSize)
	}
	if c.OverlayDivisor <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "overlay_divisor must be positive, got %g", c.OverlayDivisor)
	}
	if c.Threads < 0 {
		return errors.Wrapf(ErrInvalidConfig, "threads must not be negative, got %d", c.Threads)
	}
	if c.TopK < 0 {
		return errors.Wrapf(ErrInvalidConfig, "top_k must not be negative, got %d", c.TopK)
	}
	if _, err := imaging.ParseMode(c.Preprocess); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if _, err := tensor.ParseLayout(c.DataFormat); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "data_format: %v", err)
	}
	if _, err := tensor.ParseLayout(c.LayerFormat); err != nil {
		return errors.Wrapf(ErrInvalidConfig, "layer_format: %v", err)
	}
	switch c.Predictor {
	case PredictorNative, PredictorOnnxRuntime:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown predictor %q", c.Predictor)
	}
	return nil
}

// Mode returns the preprocessing mode. The config must be valid.
func (c *Config) Mode() imaging.Mode {
	m, _ := imaging.ParseMode(c.Preprocess)
	return m
}

// ImageLayout returns the layout of the network input.
func (c *Config) ImageLayout() tensor.Layout {
	l, _ := tensor.ParseLayout(c.DataFormat)
	return l
}

// ActivationLayout returns the layout of the target layer's output.
func (c *Config) ActivationLayout() tensor.Layout {
	l, _ := tensor.ParseLayout(c.LayerFormat)
	return l
}

// ArtifactPath returns where the artifact of the given kind is written,
// e.g. input/gradcam_xception.jpg.
func (c *Config) ArtifactPath(kind string) string {
	return filepath.Join(c.OutputDir, c.ArtifactPrefix+kind+c.ArtifactSuffix+".jpg")
}

// DiagramPath returns where the architecture diagram is written.
func (c *Config) DiagramPath() string {
	base := strings.TrimSuffix(filepath.Base(c.Model), filepath.Ext(c.Model))
	return filepath.Join(c.OutputDir, base+".dot")
}
