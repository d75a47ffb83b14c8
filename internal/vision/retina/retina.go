// Package retina detects faces with the RetinaFace det_10g ONNX model.
package retina

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/photovault/internal/config"
	"github.com/your-org/photovault/internal/vision"
)

// ModelFile is looked up inside the models directory.
const ModelFile = "det_10g.onnx"

const (
	inputSize    = 640
	nmsThreshold = 0.4
)

// det_10g output names, grouped as scores, boxes, landmarks per stride.
// Landmarks are bound so the session runs but are not decoded.
var outputs = []struct {
	name string
	rows int64
	cols int64
}{
	{"448", 12800, 1}, {"471", 3200, 1}, {"494", 800, 1},
	{"451", 12800, 4}, {"474", 3200, 4}, {"497", 800, 4},
	{"454", 12800, 10}, {"477", 3200, 10}, {"500", 800, 10},
}

var (
	envOnce sync.Once
	envErr  error
)

// Engine owns one ONNX session. Runs are serialized because the session
// shares its input and output tensors.
type Engine struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outs    []*ort.Tensor[float32]
}

// Load initializes onnxruntime and opens cfg.ModelsDir/det_10g.onnx.
func Load(cfg config.DetectionConfig) (vision.Engine, error) {
	path := filepath.Join(cfg.ModelsDir, ModelFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("retinaface model: %w", err)
	}

	envOnce.Do(func() {
		lib := cfg.RuntimeLib
		if lib == "" {
			lib = defaultLibPath()
		}
		ort.SetSharedLibraryPath(lib)
		envErr = ort.InitializeEnvironment()
	})
	if envErr != nil {
		return nil, fmt.Errorf("init onnx runtime: %w", envErr)
	}

	e := &Engine{}
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, inputSize, inputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	e.input = input

	names := make([]string, len(outputs))
	values := make([]ort.Value, len(outputs))
	for i, o := range outputs {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(o.rows, o.cols))
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("create output tensor %s: %w", o.name, err)
		}
		names[i] = o.name
		values[i] = t
		e.outs = append(e.outs, t)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{"input.1"}, names,
		[]ort.Value{input}, values, nil)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	e.session = session
	return e, nil
}

func (e *Engine) Name() string { return config.EngineRetinaFace }

func (e *Engine) Detect(img image.Image, p vision.Params) ([]vision.Candidate, error) {
	b := img.Bounds()
	data := imageToCHW(img, inputSize, inputSize)

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.input.GetData(), data)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	var boxes []box
	for i, stride := range strides {
		boxes = append(boxes, decodeStride(
			e.outs[i].GetData(), e.outs[i+3].GetData(),
			stride, inputSize, b.Dx(), b.Dy(), float32(p.Threshold))...)
	}
	return toCandidates(nms(boxes, nmsThreshold), p.MinSize), nil
}

func (e *Engine) Close() error {
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
	}
	if e.input != nil {
		e.input.Destroy()
		e.input = nil
	}
	for _, t := range e.outs {
		t.Destroy()
	}
	e.outs = nil
	return nil
}

func defaultLibPath() string {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
