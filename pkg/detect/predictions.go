package detect

import (
	"encoding/json"
	"os"

	"github.com/bmharper/cimg/v2"
)

// Predictions is the fused, serializable detection set for one image.
// It is produced by the Predictor and treated as read-only afterwards.
//
// Invariants on Detections after fusion: pairwise same-class IoU below the
// configured threshold, every box inside the image bounds, and detections
// identified by index (which crop filenames rely on).
type Predictions struct {
	Image       *cimg.Image // Source image. Nil when loaded from a metadata record.
	ImagePath   string      // Path the image was loaded from
	Identifier  string      // Caller-supplied run identifier, used in artifact filenames
	ImageWidth  int
	ImageHeight int
	Detections  []Detection

	// Outlines are decimated to at most this many vertices when serialized.
	// Zero means no cap. The Predictor fills this in from its config.
	MaxMaskVertices int
}

func (p *Predictions) Len() int {
	return len(p.Detections)
}

// Record is the persisted form of a Predictions object
type Record struct {
	Image      RecordImage       `json:"image"`
	Identifier string            `json:"identifier"`
	Detections []RecordDetection `json:"detections"`
}

type RecordImage struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type RecordDetection struct {
	Box     [4]float32 `json:"box"` // x1,y1,x2,y2
	Score   float32    `json:"score"`
	Class   int        `json:"class"`
	Contour []Vertex   `json:"contour"`
	Scale   float32    `json:"scale"`
}

// Serialize builds the metadata record. Outlines longer than
// MaxMaskVertices are decimated; vertex positions are otherwise preserved
// exactly, so a deserialized outline's centroid matches the original.
func (p *Predictions) Serialize() *Record {
	rec := &Record{
		Image:      RecordImage{Width: p.ImageWidth, Height: p.ImageHeight},
		Identifier: p.Identifier,
		Detections: make([]RecordDetection, 0, len(p.Detections)),
	}
	for _, d := range p.Detections {
		contour := d.Contour
		if p.MaxMaskVertices > 0 {
			contour = contour.Decimate(p.MaxMaskVertices)
		}
		rec.Detections = append(rec.Detections, RecordDetection{
			Box:     [4]float32{d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2},
			Score:   d.Score,
			Class:   d.Class,
			Contour: contour,
			Scale:   d.Scale,
		})
	}
	return rec
}

// PredictionsFromRecord is the inverse of Serialize. The resulting object
// has no Image attached, so it can be saved as metadata but not as crops or
// overview until a caller assigns one.
func PredictionsFromRecord(rec *Record) *Predictions {
	p := &Predictions{
		Identifier:  rec.Identifier,
		ImageWidth:  rec.Image.Width,
		ImageHeight: rec.Image.Height,
		Detections:  make([]Detection, 0, len(rec.Detections)),
	}
	for _, d := range rec.Detections {
		p.Detections = append(p.Detections, Detection{
			Box:     Rect{X1: d.Box[0], Y1: d.Box[1], X2: d.Box[2], Y2: d.Box[3]},
			Score:   d.Score,
			Class:   d.Class,
			Contour: Polygon(d.Contour),
			Scale:   d.Scale,
		})
	}
	return p
}

// LoadPredictions reads a metadata record written by Save.
// A missing or corrupt file is surfaced as an error, not retried.
func LoadPredictions(filename string) (*Predictions, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	rec := &Record{}
	if err := json.Unmarshal(b, rec); err != nil {
		return nil, err
	}
	return PredictionsFromRecord(rec), nil
}
