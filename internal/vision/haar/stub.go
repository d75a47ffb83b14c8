//go:build !gocv

// Package haar detects frontal faces with an OpenCV Haar cascade.
//
// This build has no OpenCV; Load always fails so the Detector starts disabled.
package haar

import (
	"errors"

	"github.com/your-org/photovault/internal/config"
	"github.com/your-org/photovault/internal/vision"
)

const CascadeFile = "haarcascade_frontalface_default.xml"

var ErrNotCompiled = errors.New("haar engine not compiled in (build with -tags gocv)")

func Load(config.DetectionConfig) (vision.Engine, error) {
	return nil, ErrNotCompiled
}
