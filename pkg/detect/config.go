package detect

import "fmt"

// Default thresholds. These match the values we've found to work well for
// dense scenes of small objects.
const (
	DefaultScoreThreshold = 0.2
	DefaultIouThreshold   = 0.25
	DefaultTileSize       = 1024
	DefaultTileOverlap    = 384
	DefaultEdgeMargin     = 64
	DefaultScaleIncrement = 2.0 / 3.0
)

// PassOrder controls the direction of the scale pyramid. The final
// consolidation pass pools detections from all scales, so the order does not
// change the fused result, only the sequence of detector invocations.
type PassOrder int

const (
	CoarseToFine PassOrder = iota // largest downscale first (default)
	FineToCoarse                  // full resolution first
)

// PyramidConfig is the immutable configuration for one pipeline run.
// Construct it once (DefaultPyramidConfig), adjust fields, and pass it in.
// No component mutates it.
type PyramidConfig struct {
	ScoreThreshold  float32   // Discard detections scoring below this. Detectors are expected to pre-filter, but we re-filter defensively.
	IouThreshold    float32   // Two same-class detections with IoU >= this are considered duplicates
	TileSize        int       // Target tile edge length, in pixels
	MinTileOverlap  int       // Minimum overlap between adjacent tiles, in pixels
	EdgeCaseMargin  int       // Detections within this many pixels of a tile's interior edge are distrusted as truncated
	MinObjectSize   float32   // Minimum box area, in square pixels (full-image space)
	MaxObjectSize   float32   // Maximum box area, in square pixels
	MaxMaskVertices int       // Outlines are decimated to at most this many vertices on serialization
	PreferPolygons  bool      // Use polygon outlines for IoU during consolidation, when both candidates have one
	BatchSize       int       // Number of tiles submitted to the detector per inference call
	ScaleIncrement  float32   // Multiplier between successive pyramid scales, in (0,1)
	ScaleBefore     float32   // Pre-downscale applied to every pass, in (0,1]. Saved crops are still cut from the original image.
	SingleScale     bool      // Run exactly one pass, at the scale that fits the image's smaller dimension to TileSize
	MaxPasses       int       // Cap on the number of pyramid passes (0 = no cap)
	ScaleScoreBonus float32   // Score bonus per unit of scale, biasing consolidation toward finer scales
	Order           PassOrder // Direction of the pyramid
	SpatialIndexNMS bool      // Use a spatial index to limit IoU comparisons during consolidation. Result is identical to the all-pairs path.
}

// DefaultPyramidConfig returns the configuration we use in production.
func DefaultPyramidConfig() PyramidConfig {
	return PyramidConfig{
		ScoreThreshold:  DefaultScoreThreshold,
		IouThreshold:    DefaultIouThreshold,
		TileSize:        DefaultTileSize,
		MinTileOverlap:  DefaultTileOverlap,
		EdgeCaseMargin:  DefaultEdgeMargin,
		MinObjectSize:   16,
		MaxObjectSize:   1e8,
		MaxMaskVertices: 1024,
		PreferPolygons:  true,
		BatchSize:       1,
		ScaleIncrement:  DefaultScaleIncrement,
		ScaleBefore:     1,
		ScaleScoreBonus: 0.001,
		SpatialIndexNMS: true,
	}
}

// Validate returns ErrInvalidConfig (wrapped, with details) if the config is
// malformed. Called at pipeline construction, so a bad config fails before
// any inference runs.
func (c *PyramidConfig) Validate() error {
	if c.TileSize <= 0 {
		return fmt.Errorf("%w: tile size %v must be positive", ErrInvalidConfig, c.TileSize)
	}
	if c.MinTileOverlap < 0 {
		return fmt.Errorf("%w: minimum tile overlap %v must not be negative", ErrInvalidConfig, c.MinTileOverlap)
	}
	if c.TileSize <= c.MinTileOverlap {
		return fmt.Errorf("%w: tile size %v must exceed minimum overlap %v", ErrInvalidConfig, c.TileSize, c.MinTileOverlap)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("%w: score threshold %v outside [0,1]", ErrInvalidConfig, c.ScoreThreshold)
	}
	if c.IouThreshold <= 0 || c.IouThreshold > 1 {
		return fmt.Errorf("%w: IoU threshold %v outside (0,1]", ErrInvalidConfig, c.IouThreshold)
	}
	if c.EdgeCaseMargin < 0 {
		return fmt.Errorf("%w: edge case margin %v must not be negative", ErrInvalidConfig, c.EdgeCaseMargin)
	}
	if c.MinObjectSize < 0 || c.MaxObjectSize < c.MinObjectSize {
		return fmt.Errorf("%w: object size range [%v,%v] is malformed", ErrInvalidConfig, c.MinObjectSize, c.MaxObjectSize)
	}
	if c.MaxMaskVertices < 3 {
		return fmt.Errorf("%w: max mask vertices %v must be at least 3", ErrInvalidConfig, c.MaxMaskVertices)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch size %v must be at least 1", ErrInvalidConfig, c.BatchSize)
	}
	if c.ScaleIncrement <= 0 || c.ScaleIncrement >= 1 {
		return fmt.Errorf("%w: scale increment %v outside (0,1)", ErrInvalidConfig, c.ScaleIncrement)
	}
	if c.ScaleBefore <= 0 || c.ScaleBefore > 1 {
		return fmt.Errorf("%w: scale before %v outside (0,1]", ErrInvalidConfig, c.ScaleBefore)
	}
	if c.MaxPasses < 0 {
		return fmt.Errorf("%w: max passes %v must not be negative", ErrInvalidConfig, c.MaxPasses)
	}
	return nil
}
