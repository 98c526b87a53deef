package detect

import (
	"sort"

	"github.com/chewxy/math32"
)

// Vertex is a single polygon vertex. It marshals to JSON as [x,y], which is
// the contour format used in our metadata records.
type Vertex [2]float32

func (v Vertex) X() float32 { return v[0] }
func (v Vertex) Y() float32 { return v[1] }

// Polygon is a closed outline. Vertices are in pixels, wound in either
// direction, with an implicit edge from the last vertex back to the first.
type Polygon []Vertex

// Area via the shoelace formula
func (p Polygon) Area() float32 {
	if len(p) < 3 {
		return 0
	}
	sum := float32(0)
	for i := 0; i < len(p); i++ {
		j := (i + 1) % len(p)
		sum += p[i].X()*p[j].Y() - p[j].X()*p[i].Y()
	}
	return math32.Abs(sum) / 2
}

// Centroid is the mean of the vertices (not the area centroid). This matches
// how we compare outlines for round-trip fidelity.
func (p Polygon) Centroid() Point {
	if len(p) == 0 {
		return Point{}
	}
	sx, sy := float32(0), float32(0)
	for _, v := range p {
		sx += v.X()
		sy += v.Y()
	}
	n := float32(len(p))
	return Point{X: sx / n, Y: sy / n}
}

func (p Polygon) Bounds() Rect {
	if len(p) == 0 {
		return Rect{}
	}
	r := Rect{X1: p[0].X(), Y1: p[0].Y(), X2: p[0].X(), Y2: p[0].Y()}
	for _, v := range p[1:] {
		r.X1 = min(r.X1, v.X())
		r.Y1 = min(r.Y1, v.Y())
		r.X2 = max(r.X2, v.X())
		r.Y2 = max(r.Y2, v.Y())
	}
	return r
}

func (p Polygon) Offset(dx, dy float32) Polygon {
	out := make(Polygon, len(p))
	for i, v := range p {
		out[i] = Vertex{v.X() + dx, v.Y() + dy}
	}
	return out
}

func (p Polygon) Scaled(s float32) Polygon {
	out := make(Polygon, len(p))
	for i, v := range p {
		out[i] = Vertex{v.X() * s, v.Y() * s}
	}
	return out
}

// IsDegenerate is true if the polygon cannot enclose any area.
func (p Polygon) IsDegenerate() bool {
	return len(p) < 3 || p.Area() == 0
}

// Decimate returns a polygon with at most maxVertices vertices, by uniform
// vertex decimation. The first vertex is always retained.
func (p Polygon) Decimate(maxVertices int) Polygon {
	if maxVertices < 3 || len(p) <= maxVertices {
		return p
	}
	out := make(Polygon, maxVertices)
	stride := float64(len(p)) / float64(maxVertices)
	for i := 0; i < maxVertices; i++ {
		out[i] = p[int(float64(i)*stride)]
	}
	return out
}

// IOU computes intersection-over-union of two polygon outlines by scanline
// integration at pixel-row resolution. This is the mask overlap, evaluated at
// row centers, so it agrees with a rasterized comparison of the two outlines.
func (p Polygon) IOU(b Polygon) float32 {
	if p.IsDegenerate() || b.IsDegenerate() {
		return 0
	}
	bounds := p.Bounds().Union(b.Bounds())
	if bounds.IsEmpty() {
		return 0
	}
	// Quick reject: outlines whose boxes don't overlap can't overlap either
	if p.Bounds().Intersection(b.Bounds()).IsEmpty() {
		return 0
	}
	y0 := math32.Floor(bounds.Y1)
	y1 := math32.Ceil(bounds.Y2)
	intersection := float32(0)
	union := float32(0)
	var spansA, spansB []float32
	for y := y0 + 0.5; y < y1; y++ {
		spansA = p.rowCrossings(y, spansA[:0])
		spansB = b.rowCrossings(y, spansB[:0])
		lenA := spanLength(spansA)
		lenB := spanLength(spansB)
		inter := spanIntersection(spansA, spansB)
		intersection += inter
		union += lenA + lenB - inter
	}
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// rowCrossings returns the sorted x coordinates where the horizontal line at
// y crosses the polygon's edges. Crossings come in pairs (even-odd fill).
func (p Polygon) rowCrossings(y float32, buf []float32) []float32 {
	n := len(p)
	for i := 0; i < n; i++ {
		a := p[i]
		b := p[(i+1)%n]
		if (a.Y() <= y) == (b.Y() <= y) {
			continue
		}
		x := a.X() + (y-a.Y())*(b.X()-a.X())/(b.Y()-a.Y())
		buf = append(buf, x)
	}
	sort.Slice(buf, func(i, j int) bool { return buf[i] < buf[j] })
	return buf
}

func spanLength(spans []float32) float32 {
	total := float32(0)
	for i := 0; i+1 < len(spans); i += 2 {
		total += spans[i+1] - spans[i]
	}
	return total
}

func spanIntersection(a, b []float32) float32 {
	total := float32(0)
	for i := 0; i+1 < len(a); i += 2 {
		for j := 0; j+1 < len(b); j += 2 {
			lo := max(a[i], b[j])
			hi := min(a[i+1], b[j+1])
			if hi > lo {
				total += hi - lo
			}
		}
	}
	return total
}
