package dataset

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
)

// CropMargin is the default number of pixels a crop extends past the outermost joints.
const CropMargin = 100

// SquareCrop returns the square region around points, grown by margin pixels on every side. The shorter side of the
// padded bounding box is grown on both ends to match the longer one, the far end taking any odd pixel;
// coordinates are truncated toward zero.
// An empty rectangle is returned for no points.
func SquareCrop(points []r2.Point, margin float64) image.Rectangle {
	if len(points) == 0 {
		return image.Rectangle{}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	x1, y1 := int(minX-margin), int(minY-margin)
	x2, y2 := int(maxX+margin), int(maxY+margin)

	w, h := x2-x1, y2-y1
	side := w
	if h > side {
		side = h
	}
	x1 -= (side - w) / 2
	y1 -= (side - h) / 2
	return image.Rect(x1, y1, x1+side, y1+side)
}
