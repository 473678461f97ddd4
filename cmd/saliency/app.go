package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/born-ml/saliency/internal/config"
	"github.com/born-ml/saliency/internal/onnx"
	"github.com/born-ml/saliency/internal/pipeline"
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "saliency"
	app.Usage = "Grad-CAM and saliency maps for ONNX image classifiers"
	app.Version = version
	app.HideVersion = true

	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "verbose,v", Usage: "Enable debug logging"},
		cli.BoolFlag{Name: "log-json", Usage: "Log as JSON"},
	}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("verbose") {
			logrus.SetLevel(logrus.DebugLevel)
		}
		if c.GlobalBool("log-json") {
			logrus.SetFormatter(&logrus.JSONFormatter{})
		}
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:  "explain",
			Usage: "Classify an image and write the explanation maps",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config,c", Usage: "YAML config file"},
				cli.StringFlag{Name: "profile,p", Usage: "Profile when no config file is given: " + strings.Join(config.Profiles(), ", ")},
				cli.StringFlag{Name: "image,i", Usage: "Input image (JPEG or PNG)"},
				cli.StringFlag{Name: "model,m", Usage: "ONNX model"},
				cli.StringFlag{Name: "layer,l", Usage: "Target convolutional layer"},
				cli.StringFlag{Name: "labels", Usage: "ImageNet class index JSON"},
				cli.StringFlag{Name: "out,o", Usage: "Output directory"},
				cli.IntFlag{Name: "class", Value: -1, Usage: "Explained class, -1 for the predicted one"},
				cli.StringFlag{Name: "predictor", Usage: "native or onnxruntime"},
			},
			Action: explainAction,
		},
		{
			Name:      "layers",
			Usage:     "List the addressable layers of a model",
			ArgsUsage: "[model.onnx]",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "model,m", Usage: "ONNX model"},
				cli.BoolFlag{Name: "plain", Usage: "Render pure text instead of table"},
			},
			Action: layersAction,
		},
		{
			Name:  "ops",
			Usage: "List the supported ONNX operators",
			Action: func(c *cli.Context) error {
				for _, op := range onnx.ListSupportedOps() {
					fmt.Fprintln(c.App.Writer, op)
				}
				return nil
			},
		},
		{
			Name:  "version",
			Usage: "Show version",
			Action: func(c *cli.Context) error {
				fmt.Fprintf(c.App.Writer, "saliency %s\n", version)
				return nil
			},
		},
	}
	return app
}

// loadConfig reads the config file, or the profile defaults without one,
// and applies the command line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.Default(c.String("profile"))
	}
	if err != nil {
		return nil, err
	}

	for flag, field := range map[string]*string{
		"image":     &cfg.Image,
		"model":     &cfg.Model,
		"layer":     &cfg.Layer,
		"labels":    &cfg.Labels,
		"out":       &cfg.OutputDir,
		"predictor": &cfg.Predictor,
	} {
		if c.IsSet(flag) {
			*field = c.String(flag)
		}
	}
	if c.IsSet("class") {
		cfg.Class = c.Int("class")
	}
	return cfg, cfg.Validate()
}

func explainAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := pipeline.Run(ctx, cfg, logrus.StandardLogger())
	if err != nil {
		return err
	}
	return printResult(c.App.Writer, res)
}

func printResult(w io.Writer, res *pipeline.Result) error {
	fmt.Fprintf(w, "class %d %s (layer %s)\n", res.Class.Index, res.Class.Name, res.Layer)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Artifact", "Path"})
	table.SetBorder(false)
	for _, kind := range pipeline.Kinds {
		table.Append([]string{kind, res.Artifacts[kind]})
	}
	if res.Diagram != "" {
		table.Append([]string{"diagram", res.Diagram})
	}
	table.Render()
	return nil
}

func layersAction(c *cli.Context) error {
	path := c.String("model")
	if path == "" {
		path = c.Args().First()
	}
	if path == "" {
		return fmt.Errorf("missing model: pass --model or a path")
	}
	model, err := onnx.Load(path, onnx.LoadOptions{StrictMode: false})
	if err != nil {
		return err
	}
	return printLayers(c.App.Writer, model, c.Bool("plain"))
}

func printLayers(w io.Writer, model *onnx.Model, plain bool) error {
	layers := model.Layers()
	if plain {
		for _, l := range layers {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", l.Index, l.Name, l.OpType, l.Output)
		}
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Layer", "Op", "Output"})
	table.SetCaption(true, fmt.Sprintf("%d layers, %d parameters, opset %d",
		len(layers), model.NumParameters(), model.OpsetVersion()))
	table.SetBorder(false)
	for _, l := range layers {
		table.Append([]string{fmt.Sprint(l.Index), l.Name, l.OpType, l.Output})
	}
	table.Render()
	return nil
}
