package watermark

import (
	"fmt"
	"image"
	"math"
	"unicode/utf8"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
)

// Font size bounds in points. Faces are built at 72 DPI so points equal pixels.
const (
	minTextSize     = 10
	maxTextSize     = 200
	minDiagonalSize = 50
	maxDiagonalSize = 500
)

// TextSize is int(W / len(text)) clamped to [10, 200].
func TextSize(pageW, n int) int {
	if n < 1 {
		n = 1
	}
	return clamp(pageW/n, minTextSize, maxTextSize)
}

// DiagonalSize is int(sqrt(W^2 + H^2) / len(text)) clamped to [50, 500].
func DiagonalSize(pageW, pageH, n int) int {
	if n < 1 {
		n = 1
	}
	diag := math.Sqrt(float64(pageW*pageW + pageH*pageH))
	return clamp(int(diag/float64(n)), minDiagonalSize, maxDiagonalSize)
}

func (c *Compositor) face(size int) (font.Face, error) {
	return opentype.NewFace(c.font, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

// inkBox is the pixel-aligned ink rectangle of s relative to a baseline origin.
func inkBox(face font.Face, s string) image.Rectangle {
	b, _ := font.BoundString(face, s)
	return image.Rect(b.Min.X.Floor(), b.Min.Y.Floor(), b.Max.X.Ceil(), b.Max.Y.Ceil())
}

// renderText draws s so that the top-left of its ink box lands on at.
func renderText(dst draw.Image, face font.Face, s string, src image.Image, at image.Point) {
	ink := inkBox(face, s)
	d := font.Drawer{
		Dst:  dst,
		Src:  src,
		Face: face,
		Dot:  fixed.P(at.X-ink.Min.X, at.Y-ink.Min.Y),
	}
	d.DrawString(s)
}

func (c *Compositor) drawText(overlay *image.RGBA) error {
	w, h := overlay.Rect.Dx(), overlay.Rect.Dy()
	n := utf8.RuneCountInString(c.spec.Text)
	fill := c.spec.Color
	fill.A = c.spec.Alpha()
	src := image.NewUniform(fill)

	if c.spec.Position == constants.PositionDiagonal {
		face, err := c.face(DiagonalSize(w, h, n))
		if err != nil {
			return fmt.Errorf("diagonal face: %w", err)
		}
		defer func() { _ = face.Close() }()
		c.drawDiagonal(overlay, face, src)
		return nil
	}

	face, err := c.face(TextSize(w, n))
	if err != nil {
		return fmt.Errorf("text face: %w", err)
	}
	defer func() { _ = face.Close() }()
	ink := inkBox(face, c.spec.Text)
	at := Place(c.spec.Position, w, h, ink.Dx(), ink.Dy())
	renderText(overlay, face, c.spec.Text, src, at)
	return nil
}

// drawDiagonal renders the text onto its own canvas and maps it into the
// overlay with a single affine transform: a 45 degree counter-clockwise
// rotation about the text center, which lands on the page center.
func (c *Compositor) drawDiagonal(overlay *image.RGBA, face font.Face, src image.Image) {
	canvas := textCanvas(face, c.spec.Text, src)
	w, h := overlay.Rect.Dx(), overlay.Rect.Dy()
	m := diagonalTransform(canvas.Rect.Dx(), canvas.Rect.Dy(), w, h)
	draw.BiLinear.Transform(overlay, m, canvas, canvas.Rect, draw.Over, nil)

	bw, bh := rotatedBounds(float64(canvas.Rect.Dx()), float64(canvas.Rect.Dy()), math.Pi/4)
	c.logger.Debug("placed diagonal watermark",
		"page_width", w, "page_height", h,
		"text_width", canvas.Rect.Dx(), "text_height", canvas.Rect.Dy(),
		"rotated_width", int(math.Ceil(bw)), "rotated_height", int(math.Ceil(bh)))
}

// textCanvas is a transparent canvas holding exactly the ink of s plus a one
// pixel border.
func textCanvas(face font.Face, s string, src image.Image) *image.RGBA {
	ink := inkBox(face, s)
	canvas := image.NewRGBA(image.Rect(0, 0, ink.Dx()+2, ink.Dy()+2))
	renderText(canvas, face, s, src, image.Pt(1, 1))
	return canvas
}

// diagonalTransform maps canvas coordinates to page coordinates.
func diagonalTransform(tw, th, pageW, pageH int) f64.Aff3 {
	sin, cos := math.Sincos(math.Pi / 4)
	tcx, tcy := float64(tw)/2, float64(th)/2
	cx, cy := float64(pageW)/2, float64(pageH)/2
	return f64.Aff3{
		cos, sin, cx - (cos*tcx + sin*tcy),
		-sin, cos, cy - (-sin*tcx + cos*tcy),
	}
}
