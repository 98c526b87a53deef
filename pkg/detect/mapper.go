package detect

// mapTileDetections converts one tile's raw detector output into full-image
// coordinates, applying the edge-margin, size, score and degeneracy filters.
//
// Edge-margin policy: a detection whose box comes within EdgeCaseMargin
// pixels of a tile edge that is interior to the image is assumed truncated
// by tiling, and dropped. The overlapping neighbor tile sees the same object
// away from its own edge, and contributes it there. An edge of the tile that
// lies on the true image boundary never disqualifies a detection - that
// object cannot be captured more completely anywhere else.
func mapTileDetections(raw []RawDetection, tile Tile, scaledWidth, scaledHeight, imageWidth, imageHeight int, cfg *PyramidConfig) []Detection {
	out := make([]Detection, 0, len(raw))
	margin := float32(cfg.EdgeCaseMargin)
	scale := tile.Scale
	for _, r := range raw {
		// Defensive re-filter. The adapter contract says detections arrive
		// pre-filtered, but we don't rely on it.
		if r.Score < cfg.ScoreThreshold {
			continue
		}
		if r.Box.IsEmpty() {
			continue
		}
		if r.Contour != nil && r.Contour.IsDegenerate() {
			continue
		}
		// Edge-case margin, in tile-local pixels
		if tile.X > 0 && r.Box.X1 < margin {
			continue
		}
		if tile.X+tile.Width < scaledWidth && r.Box.X2 > float32(tile.Width)-margin {
			continue
		}
		if tile.Y > 0 && r.Box.Y1 < margin {
			continue
		}
		if tile.Y+tile.Height < scaledHeight && r.Box.Y2 > float32(tile.Height)-margin {
			continue
		}
		// Remap to full-image pixels
		box := r.Box.Offset(float32(tile.X), float32(tile.Y)).Scaled(1 / scale)
		box = box.Intersection(Rect{X1: 0, Y1: 0, X2: float32(imageWidth), Y2: float32(imageHeight)})
		if box.IsEmpty() {
			continue
		}
		if area := box.Area(); area < cfg.MinObjectSize || area > cfg.MaxObjectSize {
			continue
		}
		var contour Polygon
		if r.Contour != nil {
			contour = r.Contour.Offset(float32(tile.X), float32(tile.Y)).Scaled(1 / scale)
		}
		out = append(out, Detection{
			Box:     box,
			Score:   r.Score,
			Class:   r.Class,
			Contour: contour,
			Scale:   scale,
		})
	}
	return out
}
