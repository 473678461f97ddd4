// Command saliency explains image classifier decisions with Grad-CAM,
// guided backpropagation, Guided Grad-CAM and deconvolution maps.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

const version = "v0.1.0"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.WithError(err).Error("saliency failed")
		os.Exit(1)
	}
}
