package detect

import (
	"fmt"
	"math"
)

// Tile is one rectangular region of a (possibly resized) image, fed whole to
// the detector. Coordinates are in the resized image's pixel space.
type Tile struct {
	X      int     // Origin X
	Y      int     // Origin Y
	Width  int     // Tile width (TileSize, except clipped at image borders)
	Height int     // Tile height
	Scale  float32 // Effective scale of the image this tile was cut from
}

// Tiling is the covering grid of tiles for an image at one scale.
// Guarantees, for tileSize > minOverlap >= 0:
//   - every tile is at most tileSize on each axis
//   - adjacent tiles overlap by at least minOverlap pixels
//   - the union of the tiles covers the image exactly, with no gaps
type Tiling struct {
	ImageWidth  int
	ImageHeight int
	TileWidth   int
	TileHeight  int
	X           []int // Tile origins along X, ascending
	Y           []int // Tile origins along Y, ascending
}

// MakeTiling computes the covering grid for an image of the given size.
// Fails with ErrInvalidConfig if tileSize <= minOverlap, because then each
// step forward is non-positive and the grid cannot make progress.
func MakeTiling(imageWidth, imageHeight, tileSize, minOverlap int) (Tiling, error) {
	if imageWidth <= 0 || imageHeight <= 0 {
		return Tiling{}, fmt.Errorf("%w: image size %vx%v must be positive", ErrInvalidConfig, imageWidth, imageHeight)
	}
	if minOverlap < 0 {
		return Tiling{}, fmt.Errorf("%w: minimum tile overlap %v must not be negative", ErrInvalidConfig, minOverlap)
	}
	if tileSize <= minOverlap {
		return Tiling{}, fmt.Errorf("%w: tile size %v must exceed minimum overlap %v", ErrInvalidConfig, tileSize, minOverlap)
	}
	t := Tiling{
		ImageWidth:  imageWidth,
		ImageHeight: imageHeight,
		TileWidth:   min(tileSize, imageWidth),
		TileHeight:  min(tileSize, imageHeight),
		X:           tileOrigins(imageWidth, tileSize, minOverlap),
		Y:           tileOrigins(imageHeight, tileSize, minOverlap),
	}
	return t, nil
}

// tileOrigins places ceil((dim-overlap)/(tileSize-overlap)) tiles along one
// axis and spreads the leftover slack evenly, so the overlap is >= the
// minimum everywhere (it may be more, never less).
//
// Rounding cannot break the guarantee: the ideal step is
// (dim-tileSize)/(n-1) <= tileSize-overlap, and the difference of two
// rounded multiples of a step s is at most ceil(s), which is still
// <= tileSize-overlap since both are integers.
func tileOrigins(dim, tileSize, overlap int) []int {
	if dim <= tileSize {
		return []int{0}
	}
	n := (dim - overlap + tileSize - overlap - 1) / (tileSize - overlap)
	step := float64(dim-tileSize) / float64(n-1)
	origins := make([]int, n)
	for i := 1; i < n; i++ {
		p := int(math.Round(step * float64(i)))
		origins[i] = min(p, dim-tileSize)
	}
	return origins
}

func (t *Tiling) NumX() int {
	return len(t.X)
}

func (t *Tiling) NumY() int {
	return len(t.Y)
}

func (t *Tiling) NumTiles() int {
	return len(t.X) * len(t.Y)
}

// IsSingle is true when the whole image fits in one tile
func (t *Tiling) IsSingle() bool {
	return t.NumTiles() == 1
}

// TileAt returns the tile at grid position (tx, ty)
func (t *Tiling) TileAt(tx, ty int, scale float32) Tile {
	return Tile{
		X:      t.X[tx],
		Y:      t.Y[ty],
		Width:  t.TileWidth,
		Height: t.TileHeight,
		Scale:  scale,
	}
}

// Tiles returns all tiles in row-major order. The order is deterministic,
// which downstream consolidation relies on for reproducibility.
func (t *Tiling) Tiles(scale float32) []Tile {
	tiles := make([]Tile, 0, t.NumTiles())
	for ty := 0; ty < t.NumY(); ty++ {
		for tx := 0; tx < t.NumX(); tx++ {
			tiles = append(tiles, t.TileAt(tx, ty, scale))
		}
	}
	return tiles
}
