// Package detect runs an object detector over arbitrarily large images by
// splitting them into overlapping tiles at one or more scales, and fusing
// the per-tile results into a single de-duplicated set of detections in
// full-image coordinates.
//
// The detector itself is an external collaborator, consumed through the
// Detector interface. Production and stub implementations are
// interchangeable.
package detect

import (
	"encoding/json"
	"os"
)

// Precision is the numeric precision that a detector runs at
type Precision string

const (
	PrecisionFP32 Precision = "fp32"
	PrecisionFP16 Precision = "fp16"
	PrecisionINT8 Precision = "int8"
)

// DetectionParams are passed to the detector on every inference call
type DetectionParams struct {
	ScoreThreshold float32 // Discard detections below this confidence. Zero value will use the default.
	IouThreshold   float32 // Detector-internal NMS threshold. Zero value will use the default.
}

func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ScoreThreshold: DefaultScoreThreshold,
		IouThreshold:   DefaultIouThreshold,
	}
}

// ModelConfig describes a detector model
type ModelConfig struct {
	Architecture string    `json:"architecture"` // eg "yolov8-seg"
	Width        int       `json:"width"`        // Input width, eg 1024
	Height       int       `json:"height"`       // Input height, eg 1024
	Classes      []string  `json:"classes"`      // eg ["insect"]
	Precision    Precision `json:"precision,omitempty"`
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	if err := json.Unmarshal(b, config); err != nil {
		return nil, err
	}
	return config, nil
}

// RawDetection is one detector output for one tile, in tile-local pixels.
// Contour is optional - a detector that produces only boxes leaves it nil.
type RawDetection struct {
	Box     Rect    `json:"box"`
	Score   float32 `json:"score"`
	Class   int     `json:"class"`
	Contour Polygon `json:"contour,omitempty"`
}

// Detection is a RawDetection remapped into full-image pixels, tagged with
// the pyramid scale that produced it.
type Detection struct {
	Box     Rect    `json:"box"`
	Score   float32 `json:"score"`
	Class   int     `json:"class"`
	Contour Polygon `json:"contour,omitempty"`
	Scale   float32 `json:"scale"`
}

// Detector is given a batch of image tiles, and returns zero or more
// detected objects per tile, in tile-local pixel coordinates.
//
// The returned outer slice must have one entry per input tile, in order.
// An empty inner slice is a normal result (nothing found in that tile).
// Implementations are stateless across calls, from the pipeline's
// perspective.
type Detector interface {
	// Close releases the detector's resources. You MUST call this when
	// finished, because implementations typically own native objects.
	Close()

	// Detect runs one inference call over a batch of tiles.
	Detect(batch []ImageCrop, params *DetectionParams) ([][]RawDetection, error)

	// Config returns the model's configuration. Callers assume it remains
	// constant once the detector has been created.
	Config() *ModelConfig
}
