// Package pipeline runs one explanation end to end: load the model and
// image, classify, compute Grad-CAM, guided backpropagation, Guided
// Grad-CAM and deconvolution maps, and write them as JPEG files.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/born-ml/saliency/internal/archviz"
	"github.com/born-ml/saliency/internal/autodiff"
	"github.com/born-ml/saliency/internal/backend/cpu"
	"github.com/born-ml/saliency/internal/classify"
	"github.com/born-ml/saliency/internal/config"
	"github.com/born-ml/saliency/internal/explain"
	"github.com/born-ml/saliency/internal/imaging"
	"github.com/born-ml/saliency/internal/labels"
	"github.com/born-ml/saliency/internal/onnx"
	"github.com/born-ml/saliency/internal/tensor"
)

// Artifact kinds, used in output file names.
const (
	KindGradCAM        = "gradcam"
	KindGuidedBackprop = "guided_backprop"
	KindGuidedGradCAM  = "guided_gradcam"
	KindDeconvolution  = "deconvolved"
)

// Kinds lists the artifacts of a run in the order they are written.
var Kinds = []string{KindGradCAM, KindGuidedBackprop, KindGuidedGradCAM, KindDeconvolution}

// Result summarizes a run.
type Result struct {
	RunID string

	// Layer is the resolved graph node of the target layer.
	Layer string
	Class labels.Class
	// Predictions are the top scoring classes, best first.
	Predictions []labels.Prediction
	CAM         *explain.CAM

	// Artifacts maps each kind to the written file.
	Artifacts map[string]string
	// Diagram is the architecture diagram path, empty when disabled.
	Diagram  string
	Duration time.Duration
}

// maxLoggedPredictions caps the predictions logged per run; Result keeps
// all of them.
const maxLoggedPredictions = 5

type run struct {
	cfg    *config.Config
	log    logrus.FieldLogger
	model  *onnx.Model
	cpu    *cpu.CPUBackend
	grad   *autodiff.AutodiffBackend[*cpu.CPUBackend]
	labels *labels.Labels
	input  *tensor.RawTensor
	scores []float32
	res    *Result
}

// Run executes the pipeline described by cfg. The context is checked
// between stages.
func Run(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	id := uuid.New().String()
	r := &run{
		cfg: cfg,
		log: log.WithFields(logrus.Fields{"run_id": id, "model": cfg.Model}),
		res: &Result{RunID: id, Artifacts: make(map[string]string, len(Kinds))},
	}

	stages := []struct {
		name string
		fn   func() error
	}{
		{"load", r.load},
		{"classify", r.classify},
		{"explain", r.explain},
	}
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := time.Now()
		if err := s.fn(); err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		r.log.WithField("elapsed", time.Since(t)).Debugf("stage %s done", s.name)
	}

	r.res.Duration = time.Since(start)
	r.log.WithField("elapsed", r.res.Duration).Info("run finished")
	return r.res, nil
}

func (r *run) load() error {
	cfg := r.cfg
	model, err := onnx.Load(cfg.Model)
	if err != nil {
		return err
	}
	r.model = model

	layer, err := model.ResolveLayer(cfg.Layer)
	if err != nil {
		return err
	}
	r.res.Layer = layer.Name
	r.log = r.log.WithField("layer", layer.Name)
	r.log.WithFields(logrus.Fields{
		"op":         layer.OpType,
		"nodes":      len(model.Layers()),
		"parameters": model.NumParameters(),
	}).Info("model loaded")

	if cfg.Diagram {
		path := cfg.DiagramPath()
		if err := archviz.WriteFile(path, model, archviz.Options{Highlight: layer.Name}); err != nil {
			return err
		}
		r.res.Diagram = path
		r.log.WithField("path", path).Info("architecture diagram written")
	}

	if cfg.Labels != "" {
		if r.labels, err = labels.Load(cfg.Labels); err != nil {
			return err
		}
	}

	img, err := imaging.Load(cfg.Image, cfg.InputSize, cfg.InputSize)
	if err != nil {
		return err
	}
	if r.input, err = imaging.Preprocess(img, cfg.Mode(), cfg.ImageLayout()); err != nil {
		return err
	}
	r.log.WithField("shape", r.input.Shape()).Debug("image preprocessed")

	r.cpu = cpu.New(cpu.WithWorkers(cfg.Threads))
	r.grad = autodiff.New(r.cpu)
	return nil
}

func (r *run) classifier() (classify.Classifier, error) {
	if r.cfg.Predictor != config.PredictorOnnxRuntime {
		return classify.NewNative(r.model, r.cpu), nil
	}
	out := r.model.OutputNames()
	if len(out) == 0 {
		return nil, fmt.Errorf("model has no outputs")
	}
	sample, err := r.model.Predict(r.cpu, r.input)
	if err != nil {
		return nil, err
	}
	return classify.NewRuntime(classify.RuntimeOptions{
		Library:     r.cfg.OnnxRuntimeLibrary,
		ModelPath:   r.cfg.Model,
		InputName:   r.model.InputName(),
		OutputName:  out[0],
		InputShape:  classify.StaticShape(r.input.Shape()),
		OutputShape: classify.StaticShape(sample.Shape()),
	})
}

func (r *run) classify() error {
	c, err := r.classifier()
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			r.log.WithError(err).Warn("could not close classifier")
		}
	}()

	scores, err := c.Predict(r.input)
	if err != nil {
		return err
	}
	r.scores = scores
	r.res.Predictions = r.labels.Decode(scores, r.cfg.TopK)

	class := r.cfg.Class
	if class < 0 {
		class = explain.Argmax(scores)
	}
	if class >= len(scores) {
		return fmt.Errorf("class %d of %d: %w", class, len(scores), explain.ErrClassOutOfRange)
	}
	r.res.Class = r.labels.Class(class)
	r.log = r.log.WithField("class", class)

	logPredictions(r.log, r.res.Predictions)
	return nil
}

func logPredictions(log logrus.FieldLogger, preds []labels.Prediction) {
	for i, p := range preds {
		if i == maxLoggedPredictions {
			log.Debugf("%d more predictions not logged", len(preds)-i)
			return
		}
		log.WithFields(logrus.Fields{"rank": i + 1, "wnid": p.WNID}).Infof("predicted %s", p)
	}
}

func (r *run) explain() error {
	cfg := r.cfg
	bgr := cfg.Mode().BGR()
	layout := cfg.ImageLayout()
	e := explain.New(r.model, r.grad, cfg.Layer, explain.Options{
		Image: layout,
		Layer: cfg.ActivationLayout(),
	})

	if cfg.Predictor == config.PredictorOnnxRuntime {
		r.crossCheck(e)
	}

	cam, err := e.GradCAM(r.input, r.res.Class.Index)
	if err != nil {
		return err
	}
	r.res.CAM = cam
	mean, std := cam.Heatmap.MeanStd()
	r.log.WithFields(logrus.Fields{
		"coarse": fmt.Sprintf("%dx%d", cam.Coarse.Height, cam.Coarse.Width),
		"mean":   mean,
		"std":    std,
	}).Debug("grad-cam computed")

	composite, err := explain.Composite(r.input, layout, cam.Heatmap, cfg.OverlayDivisor, bgr)
	if err != nil {
		return err
	}
	if err := r.write(KindGradCAM, composite); err != nil {
		return err
	}

	guided, err := e.GuidedBackprop(r.input)
	if err != nil {
		return err
	}
	if err := r.writeSaliency(KindGuidedBackprop, guided); err != nil {
		return err
	}

	fused, err := explain.GuidedGradCAM(guided, cam.Heatmap, layout)
	if err != nil {
		return err
	}
	if err := r.writeSaliency(KindGuidedGradCAM, fused); err != nil {
		return err
	}

	deconv, err := e.Deconvolution(r.input)
	if err != nil {
		return err
	}
	return r.writeSaliency(KindDeconvolution, deconv)
}

// crossCheck compares the native executor's scores with the reference
// predictor's. Disagreement is logged, not fatal.
func (r *run) crossCheck(e *explain.Explainer) {
	native, err := e.Predict(r.input)
	if err != nil {
		r.log.WithError(err).Warn("native prediction failed")
		return
	}
	compareScores(r.log, native, r.scores)
}

// compareScores logs the deviation between native and reference scores
// and whether their top classes agree.
func compareScores(log logrus.FieldLogger, native, reference []float32) {
	diff, err := classify.MaxAbsDiff(native, reference)
	if err != nil {
		log.WithError(err).Warn("cannot compare native and onnxruntime scores")
		return
	}
	log = log.WithField("max_abs_diff", diff)
	if got, want := explain.Argmax(native), explain.Argmax(reference); got != want {
		log.WithFields(logrus.Fields{"native_class": got, "onnxruntime_class": want}).
			Warn("native and onnxruntime predictions differ")
		return
	}
	log.Info("native and onnxruntime predictions agree")
}

func (r *run) writeSaliency(kind string, x *tensor.RawTensor) error {
	img, err := explain.Deprocess(x, r.cfg.ImageLayout())
	if err != nil {
		return err
	}
	return r.write(kind, img)
}

func (r *run) write(kind string, img *imaging.Image) error {
	path := r.cfg.ArtifactPath(kind)
	if err := imaging.WriteJPEG(path, img, r.cfg.Mode().BGR()); err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}
	r.res.Artifacts[kind] = path
	r.log.WithFields(logrus.Fields{"kind": kind, "path": path}).Info("artifact written")
	return nil
}
