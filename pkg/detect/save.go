package detect

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmharper/cimg/v2"
	"github.com/fogleman/gg"
)

// SaveOptions select which artifacts Save writes
type SaveOptions struct {
	Crops     bool // One image crop per detection, under crops/
	MaskCrops bool // Apply the outline as an alpha mask to each crop (PNG instead of JPEG)
	Overview  bool // One overview image with every outline drawn over the source
	Metadata  bool // The serialized metadata record (JSON)
	Quality   int  // JPEG quality (0 = default 90)
}

// Colors used for overview outlines, cycled by class
var overviewPalette = [][3]float64{
	{0.91, 0.26, 0.21},
	{0.26, 0.65, 0.96},
	{0.30, 0.69, 0.31},
	{1.00, 0.76, 0.03},
	{0.61, 0.15, 0.69},
	{0.00, 0.74, 0.83},
}

// Save writes the selected artifacts into outputDir:
//
//	<outputDir>/crops/<index>.jpg|png
//	<outputDir>/overview_<image-basename>_UUID_<identifier>.jpg
//	<outputDir>/metadata_<image-basename>_UUID_<identifier>.json
//
// The identifier keeps concurrent runs from colliding on filenames.
// Returns the directory written to, or "" if nothing was saved (eg zero
// detections in crops-only mode). IO errors are returned to the caller, not
// retried.
func (p *Predictions) Save(outputDir string, opts SaveOptions) (string, error) {
	willWrite := opts.Overview || opts.Metadata || (opts.Crops && len(p.Detections) != 0)
	if !willWrite {
		return "", nil
	}
	if (opts.Crops && len(p.Detections) != 0 || opts.Overview) && p.Image == nil {
		return "", errors.New("No source image attached to predictions")
	}
	if err := os.MkdirAll(outputDir, 0775); err != nil {
		return "", err
	}
	quality := opts.Quality
	if quality == 0 {
		quality = 90
	}
	if opts.Crops && len(p.Detections) != 0 {
		if err := p.saveCrops(outputDir, opts.MaskCrops, quality); err != nil {
			return "", err
		}
	}
	if opts.Overview {
		fn := filepath.Join(outputDir, fmt.Sprintf("overview_%v_UUID_%v.jpg", p.imageBasename(), p.Identifier))
		if err := p.saveOverview(fn, quality); err != nil {
			return "", err
		}
	}
	if opts.Metadata {
		fn := filepath.Join(outputDir, fmt.Sprintf("metadata_%v_UUID_%v.json", p.imageBasename(), p.Identifier))
		b, err := json.MarshalIndent(p.Serialize(), "", "  ")
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(fn, b, 0664); err != nil {
			return "", err
		}
	}
	return outputDir, nil
}

func (p *Predictions) imageBasename() string {
	if p.ImagePath == "" {
		return "image"
	}
	base := filepath.Base(p.ImagePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// saveCrops writes one crop per detection, named by detection index.
// Crops are cut from the original full-resolution image, regardless of which
// pyramid scale produced the detection.
func (p *Predictions) saveCrops(outputDir string, mask bool, quality int) error {
	cropDir := filepath.Join(outputDir, "crops")
	if err := os.MkdirAll(cropDir, 0775); err != nil {
		return err
	}
	whole := WholeImageCimg(p.Image)
	for i, det := range p.Detections {
		x1, y1, x2, y2 := cropPixelRect(det.Box, p.ImageWidth, p.ImageHeight)
		crop := whole.Crop(x1, y1, x2, y2).ToCimg()
		if mask && det.Contour != nil {
			dc := gg.NewContext(crop.Width, crop.Height)
			polygonPath(dc, det.Contour.Offset(float32(-x1), float32(-y1)))
			dc.Clip()
			dc.DrawImage(toRGBA(crop), 0, 0)
			if err := dc.SavePNG(filepath.Join(cropDir, fmt.Sprintf("%v.png", i))); err != nil {
				return err
			}
		} else {
			fn := filepath.Join(cropDir, fmt.Sprintf("%v.jpg", i))
			if err := crop.WriteJPEG(fn, cimg.MakeCompressParams(cimg.Sampling444, quality, 0), 0664); err != nil {
				return err
			}
		}
	}
	return nil
}

// saveOverview draws every detection's outline (or box, if there is no
// outline) over the source image. Zero detections produce a clean copy of
// the source image.
func (p *Predictions) saveOverview(filename string, quality int) error {
	dc := gg.NewContextForImage(toRGBA(p.Image))
	dc.SetLineWidth(2)
	for _, det := range p.Detections {
		c := overviewPalette[det.Class%len(overviewPalette)]
		dc.SetRGB(c[0], c[1], c[2])
		if det.Contour != nil {
			polygonPath(dc, det.Contour)
		} else {
			dc.DrawRectangle(float64(det.Box.X1), float64(det.Box.Y1), float64(det.Box.Width()), float64(det.Box.Height()))
		}
		dc.Stroke()
	}
	out, err := rgbFromImage(dc.Image())
	if err != nil {
		return err
	}
	return out.WriteJPEG(filename, cimg.MakeCompressParams(cimg.Sampling444, quality, 0), 0664)
}

func polygonPath(dc *gg.Context, poly Polygon) {
	for i, v := range poly {
		if i == 0 {
			dc.MoveTo(float64(v.X()), float64(v.Y()))
		} else {
			dc.LineTo(float64(v.X()), float64(v.Y()))
		}
	}
	dc.ClosePath()
}

// cropPixelRect converts a detection box to integer pixel bounds, rounded
// outward and clamped to the image, never smaller than 1x1
func cropPixelRect(box Rect, imageWidth, imageHeight int) (x1, y1, x2, y2 int) {
	x1 = max(0, int(math.Floor(float64(box.X1))))
	y1 = max(0, int(math.Floor(float64(box.Y1))))
	x2 = min(imageWidth, int(math.Ceil(float64(box.X2))))
	y2 = min(imageHeight, int(math.Ceil(float64(box.Y2))))
	if x2 <= x1 {
		x2 = min(imageWidth, x1+1)
	}
	if y2 <= y1 {
		y2 = min(imageHeight, y1+1)
	}
	return
}

// toRGBA expands a 24-bit RGB cimg image into an image.RGBA for drawing
func toRGBA(img *cimg.Image) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		src := img.Pixels[y*img.Stride : y*img.Stride+img.Width*3]
		dst := out.Pix[y*out.Stride : y*out.Stride+img.Width*4]
		for x := 0; x < img.Width; x++ {
			dst[x*4+0] = src[x*3+0]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+2]
			dst[x*4+3] = 255
		}
	}
	return out
}

// rgbFromImage packs a drawing context's output back into 24-bit RGB
func rgbFromImage(img image.Image) (*cimg.Image, error) {
	rgba, ok := img.(*image.RGBA)
	if !ok {
		return nil, fmt.Errorf("Unexpected image type %T from drawing context", img)
	}
	w := rgba.Rect.Dx()
	h := rgba.Rect.Dy()
	out := cimg.NewImage(w, h, cimg.PixelFormatRGB)
	for y := 0; y < h; y++ {
		src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+w*4]
		dst := out.Pixels[y*out.Stride : y*out.Stride+w*3]
		for x := 0; x < w; x++ {
			dst[x*3+0] = src[x*4+0]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return out, nil
}
