package detect

import (
	"github.com/bmharper/cimg/v2"
)

// ImageCrop is a rectangular window into an image.
// The pixels are not copied - a crop references the original image's buffer,
// so crops are cheap and tiles can share one backing image per scale pass.
// To create an ImageCrop, start with WholeImage(), and then use Crop() to
// get a sub-crop.
type ImageCrop struct {
	NChan       int    // Number of channels (eg 3 for RGB)
	Pixels      []byte // The whole image
	ImageWidth  int    // The width of the original image, held in Pixels
	ImageHeight int    // The height of the original image, held in Pixels
	CropX       int    // Origin of crop X
	CropY       int    // Origin of crop Y
	CropWidth   int    // The width of this crop
	CropHeight  int    // The height of this crop
}

// Return a 'crop' of the entire image
func WholeImage(nchan int, pixels []byte, width, height int) ImageCrop {
	return ImageCrop{
		NChan:       nchan,
		Pixels:      pixels,
		ImageWidth:  width,
		ImageHeight: height,
		CropX:       0,
		CropY:       0,
		CropWidth:   width,
		CropHeight:  height,
	}
}

// WholeImageCimg wraps a cimg image without copying pixels
func WholeImageCimg(img *cimg.Image) ImageCrop {
	return WholeImage(img.NChan(), img.Pixels, img.Width, img.Height)
}

func (c ImageCrop) Stride() int {
	return c.ImageWidth * c.NChan
}

// Return a crop of the crop (new crop is relative to existing).
// If any parameter is out of bounds, we panic
func (c ImageCrop) Crop(x1, y1, x2, y2 int) ImageCrop {
	nc := ImageCrop{
		NChan:       c.NChan,
		Pixels:      c.Pixels,
		ImageWidth:  c.ImageWidth,
		ImageHeight: c.ImageHeight,
		CropX:       c.CropX + x1,
		CropY:       c.CropY + y1,
		CropWidth:   x2 - x1,
		CropHeight:  y2 - y1,
	}
	if nc.CropX < 0 || nc.CropY < 0 || nc.CropWidth < 0 || nc.CropHeight < 0 || nc.CropX+nc.CropWidth > c.ImageWidth || nc.CropY+nc.CropHeight > c.ImageHeight {
		panic("Crop out of bounds")
	}
	return nc
}

// ToCimg materializes the crop as a packed standalone image (pixels copied)
func (c ImageCrop) ToCimg() *cimg.Image {
	whole := cimg.WrapImage(c.ImageWidth, c.ImageHeight, cimg.PixelFormatRGB, c.Pixels)
	out := cimg.NewImage(c.CropWidth, c.CropHeight, cimg.PixelFormatRGB)
	out.CopyImageRect(whole, c.CropX, c.CropY, c.CropX+c.CropWidth, c.CropY+c.CropHeight, 0, 0)
	return out
}
