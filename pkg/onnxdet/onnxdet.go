// Package onnxdet is an ONNX Runtime implementation of detect.Detector, for
// YOLOv8-style detection models. It produces box detections only - models
// with mask heads are reduced to their boxes here.
package onnxdet

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tiledetect/pkg/detect"
	ort "github.com/yalue/onnxruntime_go"
)

// Options for loading a model
type Options struct {
	ModelPath   string // Path to the .onnx file
	ConfigPath  string // Path to the model's JSON config. Default: ModelPath with a .json extension.
	LibraryPath string // Path to the onnxruntime shared library. Empty uses the system default.
	Threads     int    // Intra-op threads (0 = NumCPU)
}

// Model is a loaded ONNX detection model
type Model struct {
	cfg     *detect.ModelConfig
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	anchors int
	log     logs.Log
}

var ortInitialized bool

// Load initializes the ONNX Runtime environment (once) and loads a model.
// The model config JSON carries the input size and class names, in the same
// format we use for our other model formats.
func Load(logger logs.Log, opts Options) (*Model, error) {
	if !ortInitialized {
		if opts.LibraryPath != "" {
			ort.SetSharedLibraryPath(opts.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("Failed to initialize onnxruntime: %w", err)
		}
		ortInitialized = true
	}
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = strings.TrimSuffix(opts.ModelPath, filepath.Ext(opts.ModelPath)) + ".json"
	}
	cfg, err := detect.LoadModelConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("Failed to load model config: %w", err)
	}
	if len(cfg.Classes) == 0 {
		return nil, fmt.Errorf("Model config %v has no classes", configPath)
	}

	sessionOptions, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer sessionOptions.Destroy()
	threads := opts.Threads
	if threads == 0 {
		threads = runtime.NumCPU()
	}
	sessionOptions.SetIntraOpNumThreads(threads)

	// YOLOv8 heads predict at strides 8, 16 and 32
	anchors := (cfg.Width/8)*(cfg.Height/8) + (cfg.Width/16)*(cfg.Height/16) + (cfg.Width/32)*(cfg.Height/32)

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(cfg.Height), int64(cfg.Width)))
	if err != nil {
		return nil, err
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+len(cfg.Classes)), int64(anchors)))
	if err != nil {
		inputTensor.Destroy()
		return nil, err
	}
	session, err := ort.NewAdvancedSession(
		opts.ModelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		sessionOptions,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("Failed to create onnxruntime session: %w", err)
	}
	logger.Infof("Loaded ONNX model %v (%vx%v, %v classes, %v anchors)", opts.ModelPath, cfg.Width, cfg.Height, len(cfg.Classes), anchors)
	return &Model{
		cfg:     cfg,
		session: session,
		input:   inputTensor,
		output:  outputTensor,
		anchors: anchors,
		log:     logger,
	}, nil
}

func (m *Model) Close() {
	if m.session != nil {
		m.session.Destroy()
	}
	if m.input != nil {
		m.input.Destroy()
	}
	if m.output != nil {
		m.output.Destroy()
	}
}

func (m *Model) Config() *detect.ModelConfig {
	return m.cfg
}

// Detect runs the model on each tile of the batch in turn. The session holds
// a single input tensor, so tiles within a batch run sequentially - callers
// see one synchronous call per batch either way.
func (m *Model) Detect(batch []detect.ImageCrop, params *detect.DetectionParams) ([][]detect.RawDetection, error) {
	out := make([][]detect.RawDetection, 0, len(batch))
	for _, crop := range batch {
		dets, err := m.detectOne(crop, params)
		if err != nil {
			return nil, err
		}
		out = append(out, dets)
	}
	return out, nil
}

func (m *Model) detectOne(crop detect.ImageCrop, params *detect.DetectionParams) ([]detect.RawDetection, error) {
	sx, sy := m.prepareInput(crop)
	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("Inference failed: %w", err)
	}
	return m.decode(m.output.GetData(), sx, sy, params), nil
}

// prepareInput packs the crop into the input tensor (NCHW, [0,1]).
// A crop no larger than the model input is placed top-left with black
// padding, so boxes map back 1:1. A larger crop is resized, and the returned
// factors map model-input pixels back to crop pixels.
func (m *Model) prepareInput(crop detect.ImageCrop) (sx, sy float32) {
	src := crop.ToCimg()
	sx, sy = 1, 1
	if src.Width > m.cfg.Width || src.Height > m.cfg.Height {
		w := min(m.cfg.Width, src.Width)
		h := min(m.cfg.Height, src.Height)
		sx = float32(src.Width) / float32(w)
		sy = float32(src.Height) / float32(h)
		src = cimg.ResizeNew(src, w, h, nil)
	}
	data := m.input.GetData()
	for i := range data {
		data[i] = 0
	}
	plane := m.cfg.Width * m.cfg.Height
	for y := 0; y < src.Height; y++ {
		row := src.Pixels[y*src.Stride:]
		base := y * m.cfg.Width
		for x := 0; x < src.Width; x++ {
			data[base+x] = float32(row[x*3+0]) / 255
			data[plane+base+x] = float32(row[x*3+1]) / 255
			data[2*plane+base+x] = float32(row[x*3+2]) / 255
		}
	}
	return sx, sy
}

// decode converts the raw [4+nc, anchors] output into tile-local detections,
// with per-tile box NMS (the cross-tile consolidation happens downstream)
func (m *Model) decode(pred []float32, sx, sy float32, params *detect.DetectionParams) []detect.RawDetection {
	scoreThreshold := params.ScoreThreshold
	if scoreThreshold == 0 {
		scoreThreshold = detect.DefaultScoreThreshold
	}
	iouThreshold := params.IouThreshold
	if iouThreshold == 0 {
		iouThreshold = detect.DefaultIouThreshold
	}
	n := m.anchors
	nc := len(m.cfg.Classes)
	raw := []detect.RawDetection{}
	for i := 0; i < n; i++ {
		bestClass := 0
		bestScore := float32(0)
		for c := 0; c < nc; c++ {
			if s := pred[(4+c)*n+i]; s > bestScore {
				bestScore = s
				bestClass = c
			}
		}
		if bestScore < scoreThreshold {
			continue
		}
		cx := pred[0*n+i]
		cy := pred[1*n+i]
		w := pred[2*n+i]
		h := pred[3*n+i]
		raw = append(raw, detect.RawDetection{
			Box: detect.Rect{
				X1: (cx - w/2) * sx,
				Y1: (cy - h/2) * sy,
				X2: (cx + w/2) * sx,
				Y2: (cy + h/2) * sy,
			},
			Score: bestScore,
			Class: bestClass,
		})
	}
	return nmsBoxes(raw, iouThreshold)
}

// nmsBoxes is plain greedy box NMS, class-aware
func nmsBoxes(dets []detect.RawDetection, iouThreshold float32) []detect.RawDetection {
	sort.SliceStable(dets, func(a, b int) bool {
		return dets[a].Score > dets[b].Score
	})
	keep := make([]detect.RawDetection, 0, len(dets))
	for _, d := range dets {
		suppressed := false
		for _, k := range keep {
			if k.Class == d.Class && d.Box.IOU(k.Box) >= iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			keep = append(keep, d)
		}
	}
	return keep
}
