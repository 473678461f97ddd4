// Package saliency explains the decisions of ONNX image classifiers.
//
// It computes Grad-CAM heatmaps, guided backpropagation and deconvolution
// saliency maps, and their Guided Grad-CAM fusion, for networks such as
// VGG19 and Xception exported from Keras.
//
// Example:
//
//	cfg, err := saliency.DefaultConfig("xception")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.Model = "models/xception.onnx"
//	cfg.Image = "input/cat.jpg"
//
//	res, err := saliency.Run(context.Background(), cfg, logrus.StandardLogger())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Class.Name, res.Artifacts[saliency.KindGradCAM])
package saliency

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/born-ml/saliency/internal/autodiff"
	"github.com/born-ml/saliency/internal/backend/cpu"
	"github.com/born-ml/saliency/internal/config"
	"github.com/born-ml/saliency/internal/explain"
	"github.com/born-ml/saliency/internal/onnx"
	"github.com/born-ml/saliency/internal/pipeline"
)

// Config holds the settings of one run.
type Config = config.Config

// Result summarizes a run.
type Result = pipeline.Result

// Explainer computes explanations for one model and target layer.
type Explainer = explain.Explainer

// Options describes tensor layouts of an Explainer.
type Options = explain.Options

// CAM is a Grad-CAM result.
type CAM = explain.CAM

// Artifact kinds written by Run.
const (
	KindGradCAM        = pipeline.KindGradCAM
	KindGuidedBackprop = pipeline.KindGuidedBackprop
	KindGuidedGradCAM  = pipeline.KindGuidedGradCAM
	KindDeconvolution  = pipeline.KindDeconvolution
)

// ErrInvalidConfig is wrapped by config validation failures.
var ErrInvalidConfig = config.ErrInvalidConfig

// DefaultConfig returns the defaults of a profile ("vgg19" or "xception").
func DefaultConfig(profile string) (*Config, error) {
	return config.Default(profile)
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Run classifies cfg.Image and writes the explanation maps.
func Run(ctx context.Context, cfg *Config, log logrus.FieldLogger) (*Result, error) {
	return pipeline.Run(ctx, cfg, log)
}

// NewExplainer loads an ONNX model and returns an Explainer for layer that
// runs on the CPU.
func NewExplainer(modelPath, layer string, opts Options) (*Explainer, error) {
	model, err := onnx.Load(modelPath)
	if err != nil {
		return nil, err
	}
	if _, err := model.ResolveLayer(layer); err != nil {
		return nil, err
	}
	return explain.New(model, autodiff.New(cpu.New()), layer, opts), nil
}
