package detect

import (
	"github.com/chewxy/math32"
)

type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

func (p Point) Distance(b Point) float32 {
	return math32.Sqrt((p.X-b.X)*(p.X-b.X) + (p.Y-b.Y)*(p.Y-b.Y))
}

// Rect is an axis-aligned box in pixels. X2/Y2 are exclusive.
type Rect struct {
	X1 float32 `json:"x1"`
	Y1 float32 `json:"y1"`
	X2 float32 `json:"x2"`
	Y2 float32 `json:"y2"`
}

func (r Rect) Width() float32 {
	return r.X2 - r.X1
}

func (r Rect) Height() float32 {
	return r.Y2 - r.Y1
}

func (r Rect) Area() float32 {
	return max(0, r.Width()) * max(0, r.Height())
}

func (r Rect) IsEmpty() bool {
	return r.X2 <= r.X1 || r.Y2 <= r.Y1
}

func (r Rect) Intersection(b Rect) Rect {
	return Rect{
		X1: max(r.X1, b.X1),
		Y1: max(r.Y1, b.Y1),
		X2: min(r.X2, b.X2),
		Y2: min(r.Y2, b.Y2),
	}
}

func (r Rect) Union(b Rect) Rect {
	return Rect{
		X1: min(r.X1, b.X1),
		Y1: min(r.Y1, b.Y1),
		X2: max(r.X2, b.X2),
		Y2: max(r.Y2, b.Y2),
	}
}

// Intersection over Union
func (r Rect) IOU(b Rect) float32 {
	intersection := r.Intersection(b).Area()
	union := r.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func (r Rect) Center() Point {
	return Point{
		X: (r.X1 + r.X2) / 2,
		Y: (r.Y1 + r.Y2) / 2,
	}
}

func (r Rect) Offset(dx, dy float32) Rect {
	return Rect{X1: r.X1 + dx, Y1: r.Y1 + dy, X2: r.X2 + dx, Y2: r.Y2 + dy}
}

func (r Rect) Scaled(s float32) Rect {
	return Rect{X1: r.X1 * s, Y1: r.Y1 * s, X2: r.X2 * s, Y2: r.Y2 * s}
}
