//go:build gocv

// Package haar detects frontal faces with an OpenCV Haar cascade.
package haar

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/your-org/photovault/internal/config"
	"github.com/your-org/photovault/internal/vision"
)

// CascadeFile is looked up inside the models directory.
const CascadeFile = "haarcascade_frontalface_default.xml"

// ErrNotCompiled is returned by Load when the binary was built without OpenCV.
var ErrNotCompiled = errors.New("haar engine not compiled in (build with -tags gocv)")

// Engine holds one classifier per concurrent detection. A CascadeClassifier
// must not be used from two goroutines at once.
type Engine struct {
	pool chan *gocv.CascadeClassifier
	all  []*gocv.CascadeClassifier
}

// Load reads the cascade from cfg.ModelsDir and prepares cfg.MaxConcurrent
// classifiers.
func Load(cfg config.DetectionConfig) (vision.Engine, error) {
	path := filepath.Join(cfg.ModelsDir, CascadeFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("haar cascade: %w", err)
	}

	n := max(cfg.MaxConcurrent, 1)
	e := &Engine{pool: make(chan *gocv.CascadeClassifier, n)}
	for i := 0; i < n; i++ {
		c := gocv.NewCascadeClassifier()
		if !c.Load(path) {
			c.Close()
			e.Close()
			return nil, fmt.Errorf("load haar cascade %s", path)
		}
		e.all = append(e.all, &c)
		e.pool <- &c
	}
	return e, nil
}

func (e *Engine) Name() string { return config.EngineHaar }

func (e *Engine) Detect(img image.Image, p vision.Params) ([]vision.Candidate, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	gocv.EqualizeHist(gray, &gray)

	c := <-e.pool
	defer func() { e.pool <- c }()

	rects := c.DetectMultiScaleWithParams(gray, p.ScaleFactor, p.MinNeighbors, 0,
		image.Pt(p.MinSize, p.MinSize), image.Pt(0, 0))

	faces := make([]vision.Candidate, 0, len(rects))
	for _, r := range rects {
		faces = append(faces, vision.Candidate{
			X:          r.Min.X,
			Y:          r.Min.Y,
			Width:      r.Dx(),
			Height:     r.Dy(),
			Confidence: vision.NominalConfidence,
		})
	}
	return faces, nil
}

func (e *Engine) Close() error {
	for _, c := range e.all {
		c.Close()
	}
	e.all = nil
	return nil
}
