package detect

import (
	"fmt"
	"math"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/tiledetect/pkg/perfstats"
)

// Predictor drives the whole pipeline for one image at a time: pyramid of
// scale passes, tiling, batched inference, coordinate remapping, and
// consolidation.
//
// A Predictor owns no shared mutable state across images, so independent
// Predictors may run concurrently. One image's prediction is a single
// logical thread of control - the only blocking point is the synchronous
// inference call per batch. Fanning one image's prediction across multiple
// devices is not supported (ErrMultiDevice).
type Predictor struct {
	model Detector
	cfg   PyramidConfig
	log   logs.Log
}

// RunOptions are per-image options
type RunOptions struct {
	// Devices the caller would like inference to run on. The pipeline
	// supports at most one; requesting more is rejected, not degraded.
	Devices []string
}

// NewPredictor validates the config and returns a Predictor.
// The Predictor does not own the model - the caller closes it.
func NewPredictor(logger logs.Log, model Detector, cfg PyramidConfig) (*Predictor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Predictor{
		model: model,
		cfg:   cfg,
		log:   logger,
	}, nil
}

func (p *Predictor) Config() *PyramidConfig {
	return &p.cfg
}

// PyramidPredictions runs the full pyramid over one image and returns the
// fused detection set. On detector failure the whole image is aborted: no
// partial result is returned, and the error wraps ErrDetector.
func (p *Predictor) PyramidPredictions(img *cimg.Image, imagePath string) (*Predictions, error) {
	return p.PyramidPredictionsWithOptions(img, imagePath, RunOptions{})
}

func (p *Predictor) PyramidPredictionsWithOptions(img *cimg.Image, imagePath string, opts RunOptions) (*Predictions, error) {
	if len(opts.Devices) > 1 {
		return nil, fmt.Errorf("%w: %v devices requested", ErrMultiDevice, len(opts.Devices))
	}
	scales := p.ScalePlan(img.Width, img.Height)
	all := []Detection{}
	inferTime := perfstats.TimeAccumulator{}
	for i, scale := range scales {
		dets, err := p.scalePass(img, scale, &inferTime)
		if err != nil {
			return nil, err
		}
		p.log.Debugf("Pass %v/%v at scale %.4f: %v detections", i+1, len(scales), scale, len(dets))
		all = append(all, dets...)
	}
	fused := all
	if len(scales) > 1 {
		fused = Consolidate(all, &p.cfg)
	}
	p.log.Infof("%v: %v detections after fusing %v scale passes (%v tiles, %.1f ms/tile inference)",
		imagePath, len(fused), len(scales), inferTime.Samples, inferTime.Average().Seconds()*1000)
	return &Predictions{
		Image:           img,
		ImagePath:       imagePath,
		ImageWidth:      img.Width,
		ImageHeight:     img.Height,
		Detections:      fused,
		MaxMaskVertices: p.cfg.MaxMaskVertices,
	}, nil
}

// ScalePlan returns the pyramid scales for an image of the given size, in
// the order the passes will run.
//
// SingleScale uses exactly one pass, at the scale that fits the image's
// smaller dimension to TileSize (the whole image becomes roughly one tile).
// Otherwise the ladder starts at full resolution and multiplies by
// ScaleIncrement until the scaled image fits a single tile in both
// dimensions, or MaxPasses is reached. The default order runs coarsest
// first; Order flips that.
func (p *Predictor) ScalePlan(imageWidth, imageHeight int) []float32 {
	if p.cfg.SingleScale {
		return []float32{p.fitScale(imageWidth, imageHeight)}
	}
	scales := []float32{}
	s := float32(1)
	for {
		scales = append(scales, s)
		sw, sh := scaledDims(imageWidth, imageHeight, s*p.cfg.ScaleBefore)
		if sw <= p.cfg.TileSize && sh <= p.cfg.TileSize {
			break
		}
		if p.cfg.MaxPasses > 0 && len(scales) >= p.cfg.MaxPasses {
			break
		}
		s *= p.cfg.ScaleIncrement
	}
	if p.cfg.Order == CoarseToFine {
		for i, j := 0, len(scales)-1; i < j; i, j = i+1, j-1 {
			scales[i], scales[j] = scales[j], scales[i]
		}
	}
	return scales
}

// fitScale is the scale at which the image's smaller dimension matches
// TileSize. We never upscale, so it is clamped to 1.
func (p *Predictor) fitScale(imageWidth, imageHeight int) float32 {
	minDim := float32(min(imageWidth, imageHeight)) * p.cfg.ScaleBefore
	if minDim <= float32(p.cfg.TileSize) {
		return 1
	}
	return float32(p.cfg.TileSize) / minDim
}

// scalePass runs one full tiling-and-inference sweep at a fixed scale, and
// returns detections in full-image coordinates, consolidated within the
// scale. Tiles and raw detections do not outlive the pass.
func (p *Predictor) scalePass(img *cimg.Image, scale float32, inferTime *perfstats.TimeAccumulator) ([]Detection, error) {
	eff := scale * p.cfg.ScaleBefore
	sw, sh := scaledDims(img.Width, img.Height, eff)
	scaled := img
	if sw != img.Width || sh != img.Height {
		scaled = cimg.ResizeNew(img, sw, sh, nil)
	}
	tiling, err := MakeTiling(sw, sh, p.cfg.TileSize, p.cfg.MinTileOverlap)
	if err != nil {
		return nil, err
	}
	whole := WholeImageCimg(scaled)
	tiles := tiling.Tiles(eff)
	params := &DetectionParams{
		ScoreThreshold: p.cfg.ScoreThreshold,
		IouThreshold:   p.cfg.IouThreshold,
	}
	dets := []Detection{}
	for start := 0; start < len(tiles); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(tiles))
		batch := make([]ImageCrop, 0, end-start)
		for _, t := range tiles[start:end] {
			batch = append(batch, whole.Crop(t.X, t.Y, t.X+t.Width, t.Y+t.Height))
		}
		inferStart := time.Now()
		results, err := p.model.Detect(batch, params)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDetector, err)
		}
		elapsed := time.Since(inferStart)
		for range batch {
			inferTime.AddSample(elapsed / time.Duration(len(batch)))
		}
		if len(results) != len(batch) {
			return nil, fmt.Errorf("%w: %v result lists returned for a batch of %v tiles", ErrDetector, len(results), len(batch))
		}
		for k, raw := range results {
			dets = append(dets, mapTileDetections(raw, tiles[start+k], sw, sh, img.Width, img.Height, &p.cfg)...)
		}
	}
	return Consolidate(dets, &p.cfg), nil
}

func scaledDims(width, height int, scale float32) (int, int) {
	sw := int(math.Round(float64(width) * float64(scale)))
	sh := int(math.Round(float64(height) * float64(scale)))
	return max(1, sw), max(1, sh)
}
