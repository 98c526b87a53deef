package detect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIOU(t *testing.T) {
	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
	if a.IOU(b) != 0.25/(0.75+1) {
		t.Errorf("IOU is %v, not 0.25", a.IOU(b))
	}
	require.Equal(t, float32(1), a.IOU(a))
	require.Equal(t, float32(0), a.IOU(Rect{X1: 20, Y1: 20, X2: 30, Y2: 30}))
	// Degenerate rects have zero IOU with anything, including themselves
	empty := Rect{X1: 3, Y1: 3, X2: 3, Y2: 7}
	require.Equal(t, float32(0), empty.IOU(empty))
}

func TestRectOps(t *testing.T) {
	r := Rect{X1: 1, Y1: 2, X2: 5, Y2: 10}
	require.Equal(t, float32(4), r.Width())
	require.Equal(t, float32(8), r.Height())
	require.Equal(t, float32(32), r.Area())
	require.Equal(t, Point{X: 3, Y: 6}, r.Center())
	require.Equal(t, Rect{X1: 3, Y1: 5, X2: 7, Y2: 13}, r.Offset(2, 3))
	require.Equal(t, Rect{X1: 2, Y1: 4, X2: 10, Y2: 20}, r.Scaled(2))
	require.False(t, r.IsEmpty())
	require.True(t, Rect{X1: 5, Y1: 0, X2: 5, Y2: 10}.IsEmpty())

	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := Rect{X1: 5, Y1: -5, X2: 15, Y2: 5}
	require.Equal(t, Rect{X1: 5, Y1: 0, X2: 10, Y2: 5}, a.Intersection(b))
	require.Equal(t, Rect{X1: 0, Y1: -5, X2: 15, Y2: 10}, a.Union(b))
}

func TestPolygonArea(t *testing.T) {
	square := Polygon{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	require.Equal(t, float32(100), square.Area())
	// Winding direction doesn't matter
	reversed := Polygon{{0, 10}, {10, 10}, {10, 0}, {0, 0}}
	require.Equal(t, float32(100), reversed.Area())
	triangle := Polygon{{0, 0}, {10, 0}, {0, 10}}
	require.Equal(t, float32(50), triangle.Area())
	require.Equal(t, float32(0), Polygon{{0, 0}, {10, 10}}.Area())
}

func TestPolygonCentroid(t *testing.T) {
	square := Polygon{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	require.Equal(t, Point{X: 5, Y: 5}, square.Centroid())
	require.Equal(t, Point{}, Polygon{}.Centroid())
}

func TestPolygonBounds(t *testing.T) {
	p := Polygon{{3, 7}, {-2, 4}, {9, 1}}
	require.Equal(t, Rect{X1: -2, Y1: 1, X2: 9, Y2: 7}, p.Bounds())
}

func TestPolygonDegenerate(t *testing.T) {
	require.True(t, Polygon{}.IsDegenerate())
	require.True(t, Polygon{{0, 0}, {5, 5}}.IsDegenerate())
	// Collinear vertices enclose no area
	require.True(t, Polygon{{0, 0}, {5, 5}, {10, 10}}.IsDegenerate())
	require.False(t, Polygon{{0, 0}, {10, 0}, {0, 10}}.IsDegenerate())
}

func TestPolygonDecimate(t *testing.T) {
	p := make(Polygon, 100)
	for i := range p {
		p[i] = Vertex{float32(i), float32(i * 2)}
	}
	d := p.Decimate(10)
	require.Equal(t, 10, len(d))
	require.Equal(t, p[0], d[0])
	// A short polygon is returned unchanged
	short := Polygon{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	require.Equal(t, short, short.Decimate(10))
	// Decimating below a triangle is refused
	require.Equal(t, 100, len(p.Decimate(2)))
}

func TestPolygonIOU(t *testing.T) {
	a := Polygon{{0, 0}, {100, 0}, {100, 100}, {0, 100}}

	// Identical squares
	require.InDelta(t, 1.0, a.IOU(a), 0.01)

	// Half-overlapping squares: intersection 50x100, union 150x100
	b := Polygon{{50, 0}, {150, 0}, {150, 100}, {50, 100}}
	require.InDelta(t, 1.0/3.0, a.IOU(b), 0.02)

	// Disjoint squares
	c := Polygon{{200, 0}, {300, 0}, {300, 100}, {200, 100}}
	require.Equal(t, float32(0), a.IOU(c))

	// Degenerate input
	require.Equal(t, float32(0), a.IOU(Polygon{{0, 0}, {1, 1}}))

	// Polygon IoU agrees with box IoU on axis-aligned rectangles
	ra := Rect{X1: 0, Y1: 0, X2: 100, Y2: 100}
	rb := Rect{X1: 30, Y1: 40, X2: 130, Y2: 90}
	pb := Polygon{{30, 40}, {130, 40}, {130, 90}, {30, 90}}
	require.InDelta(t, float64(ra.IOU(rb)), float64(a.IOU(pb)), 0.02)
}

func TestVertexJSON(t *testing.T) {
	v := Vertex{3.5, 7}
	require.Equal(t, float32(3.5), v.X())
	require.Equal(t, float32(7), v.Y())
}
