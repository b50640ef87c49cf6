package watermark

import (
	"image"
	"math"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
)

// Place returns the top-left corner of a w x h box on a W x H page.
// Diagonal placement is handled by the rotation path; for boxes it means center.
func Place(pos constants.Position, pageW, pageH, w, h int) image.Point {
	switch pos {
	case constants.PositionTopLeft:
		return image.Pt(Margin, Margin)
	case constants.PositionTopRight:
		return image.Pt(pageW-w-Margin, Margin)
	case constants.PositionBottomLeft:
		return image.Pt(Margin, pageH-h-Margin)
	case constants.PositionBottomRight:
		return image.Pt(pageW-w-Margin, pageH-h-Margin)
	default:
		return image.Pt((pageW-w)/2, (pageH-h)/2)
	}
}

// rotatedBounds is the size of the axis-aligned box enclosing a w x h box
// rotated by theta radians.
func rotatedBounds(w, h, theta float64) (float64, float64) {
	sin, cos := math.Abs(math.Sin(theta)), math.Abs(math.Cos(theta))
	return w*cos + h*sin, w*sin + h*cos
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
