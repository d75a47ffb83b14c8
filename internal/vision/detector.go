// Package vision locates face rectangles in stored photos.
//
// A Detector wraps one detection Engine. The engine is loaded exactly once
// when the Detector is built; if loading fails the Detector stays disabled
// for its whole lifetime and every call returns no faces.
package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/your-org/photovault/internal/config"
	"github.com/your-org/photovault/internal/models"
	"github.com/your-org/photovault/internal/observability"
)

// NominalConfidence is reported for engines that do not score their
// detections (Haar cascades only answer yes/no per window).
const NominalConfidence = 0.8

var (
	ErrUnavailable = errors.New("face detection unavailable")
	ErrUndecodable = errors.New("image cannot be decoded")
	ErrTimeout     = errors.New("face detection timed out")
)

// Candidate is one face found by an engine.
type Candidate struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

// Rect returns the geometry of the candidate.
func (c Candidate) Rect() models.Rect {
	return models.Rect{X: c.X, Y: c.Y, Width: c.Width, Height: c.Height}
}

// Params tune the multi-scale search.
type Params struct {
	ScaleFactor  float64 // step between search scales
	MinNeighbors int     // overlapping hits needed for a positive
	MinSize      int     // smallest face side in pixels
	Threshold    float64 // minimum score for engines that produce one
}

// ParamsFromConfig extracts the search parameters from the detection config.
func ParamsFromConfig(cfg config.DetectionConfig) Params {
	return Params{
		ScaleFactor:  cfg.ScaleFactor,
		MinNeighbors: cfg.MinNeighbors,
		MinSize:      cfg.MinSize,
		Threshold:    cfg.Threshold,
	}
}

// Engine is a loaded face detection backend.
type Engine interface {
	Name() string
	Detect(img image.Image, p Params) ([]Candidate, error)
	Close() error
}

// Loader loads an engine. It is called once per Detector.
type Loader func() (Engine, error)

// Files is the read side of the photo blob store.
type Files interface {
	Exists(ctx context.Context, path string) (bool, error)
	Get(ctx context.Context, path string) ([]byte, error)
}

type Detector struct {
	engine  Engine
	loadErr error
	files   Files
	params  Params
	timeout time.Duration
	sem     *semaphore.Weighted
}

// NewDetector loads the engine through load. A nil loader or a load error
// yields a Detector that reports Available() == false.
func NewDetector(files Files, cfg config.DetectionConfig, load Loader) *Detector {
	d := &Detector{
		files:   files,
		params:  ParamsFromConfig(cfg),
		timeout: cfg.Timeout,
		sem:     semaphore.NewWeighted(int64(max(cfg.MaxConcurrent, 1))),
	}

	switch {
	case load == nil:
		d.loadErr = errors.New("no detection engine configured")
	default:
		engine, err := load()
		if err == nil && engine == nil {
			err = errors.New("engine loader returned no engine")
		}
		if err != nil {
			d.loadErr = err
		} else {
			d.engine = engine
		}
	}

	if d.loadErr != nil {
		slog.Warn("face detection disabled", "engine", cfg.Engine, "error", d.loadErr)
		observability.DetectionAvailable.Set(0)
	} else {
		slog.Info("face detection is available", "engine", d.engine.Name())
		observability.DetectionAvailable.Set(1)
	}
	return d
}

// Available reports whether the detection engine loaded.
func (d *Detector) Available() bool {
	return d.engine != nil
}

// LoadError returns why the engine is unavailable, or nil.
func (d *Detector) LoadError() error {
	return d.loadErr
}

func (d *Detector) Close() error {
	if d.engine == nil {
		return nil
	}
	return d.engine.Close()
}

// DetectFaces returns the faces found in the photo at path. It never fails:
// an unavailable engine, an unreadable file, or a timeout all yield an empty
// result and a log entry.
func (d *Detector) DetectFaces(ctx context.Context, path string) []Candidate {
	faces, err := d.Detect(ctx, path)
	if err != nil {
		if !errors.Is(err, ErrUnavailable) {
			slog.Warn("could not detect faces", "path", path, "error", err)
		}
		return []Candidate{}
	}
	return faces
}

// Detect is DetectFaces with the failure reason preserved. Errors wrap
// ErrUnavailable, ErrUndecodable, ErrTimeout, or the blob read error.
func (d *Detector) Detect(ctx context.Context, path string) ([]Candidate, error) {
	if d.engine == nil {
		return nil, ErrUnavailable
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	data, err := d.files.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", path, err)
	}

	img, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUndecodable, path, err)
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: waiting for a detection slot", ErrTimeout)
	}

	type result struct {
		faces []Candidate
		err   error
	}
	done := make(chan result, 1)
	start := time.Now()

	// The engine call cannot be interrupted. On timeout it keeps its slot
	// until it returns, so abandoned runs still count against the limit.
	go func() {
		defer d.sem.Release(1)
		faces, err := d.engine.Detect(img, d.params)
		done <- result{faces: faces, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, time.Since(start).Round(time.Millisecond), path)
	case res := <-done:
		observability.DetectionDuration.WithLabelValues(d.engine.Name()).Observe(time.Since(start).Seconds())
		if res.err != nil {
			return nil, fmt.Errorf("detect faces in %s: %w", path, res.err)
		}
		faces := clampCandidates(res.faces, img.Bounds())
		observability.FacesDetected.Add(float64(len(faces)))
		slog.Debug("detected faces", "path", path, "count", len(faces), "engine", d.engine.Name())
		return faces, nil
	}
}

// clampCandidates moves candidates into image coordinates (origin top-left)
// and drops empty rectangles.
func clampCandidates(in []Candidate, bounds image.Rectangle) []Candidate {
	out := make([]Candidate, 0, len(in))
	w, h := bounds.Dx(), bounds.Dy()
	for _, c := range in {
		x1, y1 := max(c.X, 0), max(c.Y, 0)
		x2, y2 := min(c.X+c.Width, w), min(c.Y+c.Height, h)
		if x2 <= x1 || y2 <= y1 {
			continue
		}
		c.X, c.Y, c.Width, c.Height = x1, y1, x2-x1, y2-y1
		out = append(out, c)
	}
	return out
}
