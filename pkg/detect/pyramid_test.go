package detect

import (
	"errors"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

// stubDetector returns canned detections for every tile it is given, and
// records the tiles it saw
type stubDetector struct {
	perTile  []RawDetection
	fail     error
	nCalls   int
	nTiles   int
	sawSizes [][2]int
}

func (s *stubDetector) Close() {}

func (s *stubDetector) Detect(batch []ImageCrop, params *DetectionParams) ([][]RawDetection, error) {
	s.nCalls++
	s.nTiles += len(batch)
	if s.fail != nil {
		return nil, s.fail
	}
	out := make([][]RawDetection, len(batch))
	for i, crop := range batch {
		s.sawSizes = append(s.sawSizes, [2]int{crop.CropWidth, crop.CropHeight})
		out[i] = s.perTile
	}
	return out, nil
}

func (s *stubDetector) Config() *ModelConfig {
	return &ModelConfig{Architecture: "stub", Width: 1024, Height: 1024, Classes: []string{"object"}}
}

func testImage(t *testing.T, width, height int) *cimg.Image {
	img := cimg.NewImage(width, height, cimg.PixelFormatRGB)
	require.NotNil(t, img)
	return img
}

func testConfig() PyramidConfig {
	cfg := DefaultPyramidConfig()
	cfg.TileSize = 256
	cfg.MinTileOverlap = 96
	cfg.EdgeCaseMargin = 16
	cfg.MinObjectSize = 1
	return cfg
}

func TestPredictorSingleTile(t *testing.T) {
	// Image fits in one tile: one pass, one tile, detections pass through
	// with only the score filter applied
	cfg := testConfig()
	det := &stubDetector{
		perTile: []RawDetection{
			{Box: Rect{X1: 50, Y1: 60, X2: 90, Y2: 110}, Score: 0.8, Class: 0},
		},
	}
	predictor, err := NewPredictor(logs.NewTestingLog(t), det, cfg)
	require.Nil(t, err)

	img := testImage(t, 200, 150)
	preds, err := predictor.PyramidPredictions(img, "test.jpg")
	require.Nil(t, err)
	require.Equal(t, 1, det.nCalls)
	require.Equal(t, 1, det.nTiles)
	require.Equal(t, [2]int{200, 150}, det.sawSizes[0])
	require.Equal(t, 1, preds.Len())
	require.Equal(t, Rect{X1: 50, Y1: 60, X2: 90, Y2: 110}, preds.Detections[0].Box)
	require.Equal(t, 200, preds.ImageWidth)
	require.Equal(t, 150, preds.ImageHeight)
	require.Equal(t, "test.jpg", preds.ImagePath)
}

func TestScalePlan(t *testing.T) {
	cfg := testConfig()
	cfg.ScaleIncrement = 0.5
	predictor, err := NewPredictor(nil, &stubDetector{}, cfg)
	require.Nil(t, err)

	// 1000px wide: passes at 1, 0.5, 0.25 (1000*0.25=250 <= 256 stops the
	// ladder). Default order runs coarsest first.
	scales := predictor.ScalePlan(1000, 800)
	require.Equal(t, []float32{0.25, 0.5, 1}, scales)

	cfg.Order = FineToCoarse
	predictor, err = NewPredictor(nil, &stubDetector{}, cfg)
	require.Nil(t, err)
	scales = predictor.ScalePlan(1000, 800)
	require.Equal(t, []float32{1, 0.5, 0.25}, scales)

	// An image that already fits one tile gets exactly one pass
	scales = predictor.ScalePlan(256, 200)
	require.Equal(t, []float32{1}, scales)
}

func TestScalePlanSingleScale(t *testing.T) {
	cfg := testConfig()
	cfg.SingleScale = true
	predictor, err := NewPredictor(nil, &stubDetector{}, cfg)
	require.Nil(t, err)

	// Smaller dimension 800 fits to 256: scale 0.32
	scales := predictor.ScalePlan(1000, 800)
	require.Equal(t, 1, len(scales))
	require.InDelta(t, 256.0/800.0, float64(scales[0]), 1e-5)

	// Small images are never upscaled
	scales = predictor.ScalePlan(200, 100)
	require.Equal(t, []float32{1}, scales)
}

func TestScalePlanMaxPasses(t *testing.T) {
	cfg := testConfig()
	cfg.ScaleIncrement = 0.5
	cfg.MaxPasses = 2
	predictor, err := NewPredictor(nil, &stubDetector{}, cfg)
	require.Nil(t, err)
	scales := predictor.ScalePlan(10000, 10000)
	require.Equal(t, 2, len(scales))
}

func TestScalePlanPassCount(t *testing.T) {
	// A smaller scale increment shrinks the image faster, so the ladder has
	// fewer rungs
	coarse := testConfig()
	coarse.ScaleIncrement = 0.3
	fine := testConfig()
	fine.ScaleIncrement = 0.9
	pc, err := NewPredictor(nil, &stubDetector{}, coarse)
	require.Nil(t, err)
	pf, err := NewPredictor(nil, &stubDetector{}, fine)
	require.Nil(t, err)
	require.Less(t, len(pc.ScalePlan(5000, 5000)), len(pf.ScalePlan(5000, 5000)))
}

func TestPredictorDetectorError(t *testing.T) {
	cfg := testConfig()
	boom := errors.New("inference backend exploded")
	det := &stubDetector{fail: boom}
	predictor, err := NewPredictor(logs.NewTestingLog(t), det, cfg)
	require.Nil(t, err)

	img := testImage(t, 1000, 800)
	preds, err := predictor.PyramidPredictions(img, "test.jpg")
	require.Nil(t, preds)
	require.ErrorIs(t, err, ErrDetector)
	// The whole image is aborted on first failure
	require.Equal(t, 1, det.nCalls)
}

func TestPredictorMultiDevice(t *testing.T) {
	cfg := testConfig()
	predictor, err := NewPredictor(logs.NewTestingLog(t), &stubDetector{}, cfg)
	require.Nil(t, err)

	img := testImage(t, 200, 150)
	_, err = predictor.PyramidPredictionsWithOptions(img, "test.jpg", RunOptions{Devices: []string{"cuda:0", "cuda:1"}})
	require.ErrorIs(t, err, ErrMultiDevice)

	// Zero or one device is fine
	_, err = predictor.PyramidPredictionsWithOptions(img, "test.jpg", RunOptions{Devices: []string{"cuda:0"}})
	require.Nil(t, err)
}

func TestPredictorInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.TileSize = 100
	cfg.MinTileOverlap = 100
	_, err := NewPredictor(nil, &stubDetector{}, cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig()
	cfg.ScaleIncrement = 1.5
	_, err = NewPredictor(nil, &stubDetector{}, cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)

	cfg = testConfig()
	cfg.IouThreshold = 0
	_, err = NewPredictor(nil, &stubDetector{}, cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPredictorBatching(t *testing.T) {
	cfg := testConfig()
	cfg.SingleScale = false
	cfg.BatchSize = 4
	det := &stubDetector{}
	predictor, err := NewPredictor(logs.NewTestingLog(t), det, cfg)
	require.Nil(t, err)

	img := testImage(t, 1000, 800)
	_, err = predictor.PyramidPredictions(img, "test.jpg")
	require.Nil(t, err)
	// Every tile of every pass went through the detector, in batches of at
	// most BatchSize
	total := 0
	for _, s := range predictor.ScalePlan(1000, 800) {
		sw, sh := scaledDims(1000, 800, s)
		tiling, err := MakeTiling(sw, sh, cfg.TileSize, cfg.MinTileOverlap)
		require.Nil(t, err)
		total += tiling.NumTiles()
	}
	require.Equal(t, total, det.nTiles)
	require.GreaterOrEqual(t, det.nCalls, (total+3)/4)
}

func TestPredictorFusesAcrossScales(t *testing.T) {
	// A detection covering the whole of every tile maps to (nearly) the
	// whole image from every tile and every pass, so everything must fuse
	// down to a single detection
	cfg := testConfig()
	cfg.EdgeCaseMargin = 0
	det := &stubDetector{
		perTile: []RawDetection{
			{Box: Rect{X1: 0, Y1: 0, X2: 256, Y2: 100}, Score: 0.9, Class: 0},
		},
	}
	predictor, err := NewPredictor(logs.NewTestingLog(t), det, cfg)
	require.Nil(t, err)

	img := testImage(t, 300, 100)
	require.Equal(t, 2, len(predictor.ScalePlan(300, 100)))
	preds, err := predictor.PyramidPredictions(img, "test.jpg")
	require.Nil(t, err)
	require.Equal(t, 1, preds.Len())
	// The winner comes from the finer pass
	require.Equal(t, float32(1), preds.Detections[0].Scale)
}
