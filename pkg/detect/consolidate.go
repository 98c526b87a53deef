package detect

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
)

// Consolidate merges overlapping detections from different tiles (and
// different scales) into one de-duplicated set: in the output, no two
// detections of the same class have IoU >= IouThreshold.
//
// This is greedy NMS, generalized to polygon outlines when PreferPolygons is
// set and both candidates carry one. Detections are visited in a
// deterministic order: descending score (plus the per-scale bonus), with
// ties broken by finer scale, then larger box area, then insertion order.
// The scale bonus and tie-break prefer detections from finer pyramid passes,
// which see less downsampling-induced outline distortion.
//
// The spatial-index path limits IoU comparisons to candidates whose boxes
// overlap. A positive IoU (box or polygon) requires the boxes to intersect,
// so the index query is a superset of every pair the all-pairs path would
// suppress on, and the two paths produce identical output.
func Consolidate(input []Detection, cfg *PyramidConfig) []Detection {
	if len(input) <= 1 {
		out := make([]Detection, len(input))
		copy(out, input)
		return out
	}
	order := consolidationOrder(input, cfg)
	var keep []int
	if cfg.SpatialIndexNMS {
		keep = consolidateIndexed(input, order, cfg)
	} else {
		keep = consolidatePlain(input, order, cfg)
	}
	out := make([]Detection, 0, len(keep))
	for _, i := range keep {
		out = append(out, input[i])
	}
	return out
}

// consolidationOrder returns indices into input, sorted by descending
// adjusted score. The sort is stable, so equal keys preserve insertion
// order, which makes the whole pipeline reproducible.
func consolidationOrder(input []Detection, cfg *PyramidConfig) []int {
	order := make([]int, len(input))
	for i := range order {
		order[i] = i
	}
	adjusted := func(d *Detection) float32 {
		return d.Score + cfg.ScaleScoreBonus*d.Scale
	}
	sort.SliceStable(order, func(a, b int) bool {
		da, db := &input[order[a]], &input[order[b]]
		sa, sb := adjusted(da), adjusted(db)
		if sa != sb {
			return sa > sb
		}
		if da.Scale != db.Scale {
			return da.Scale > db.Scale
		}
		return da.Box.Area() > db.Box.Area()
	})
	return order
}

func detectionIoU(a, b *Detection, cfg *PyramidConfig) float32 {
	if cfg.PreferPolygons && a.Contour != nil && b.Contour != nil {
		return a.Contour.IOU(b.Contour)
	}
	return a.Box.IOU(b.Box)
}

// consolidatePlain is the all-pairs reference path
func consolidatePlain(input []Detection, order []int, cfg *PyramidConfig) []int {
	keep := make([]int, 0, len(order))
	for _, i := range order {
		d := &input[i]
		suppressed := false
		for _, j := range keep {
			k := &input[j]
			if k.Class != d.Class {
				continue
			}
			if detectionIoU(d, k, cfg) >= cfg.IouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			keep = append(keep, i)
		}
	}
	return keep
}

// consolidateIndexed produces the same result as consolidatePlain, but only
// compares spatially nearby candidates, via a flatbush index over the boxes.
func consolidateIndexed(input []Detection, order []int, cfg *PyramidConfig) []int {
	fb := flatbush.NewFlatbush[float32]()
	fb.Reserve(len(order))
	for _, i := range order {
		b := input[i].Box
		fb.Add(b.X1, b.Y1, b.X2, b.Y2)
	}
	fb.Finish()

	// accepted is indexed by position in 'order', matching the index layout
	accepted := make([]bool, len(order))
	keep := make([]int, 0, len(order))
	for pos, i := range order {
		d := &input[i]
		suppressed := false
		for j := range fb.Search(d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2) {
			if !accepted[j] {
				continue
			}
			k := &input[order[j]]
			if k.Class != d.Class {
				continue
			}
			if detectionIoU(d, k, cfg) >= cfg.IouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			accepted[pos] = true
			keep = append(keep, i)
		}
	}
	return keep
}
