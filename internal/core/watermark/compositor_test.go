package watermark

import (
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/draw"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
)

func textSpec(text string, t int, pos constants.Position) entity.WatermarkSpec {
	return entity.WatermarkSpec{
		Text:         text,
		Transparency: t,
		Position:     pos,
		Color:        color.NRGBA{R: 0xff, A: 0xff},
	}
}

func newCompositor(t *testing.T, spec entity.WatermarkSpec) *Compositor {
	t.Helper()
	c, err := New(spec, "", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

// inkBounds is the bounding box of pixels with non-zero alpha.
func inkBounds(img *image.RGBA) image.Rectangle {
	var r image.Rectangle
	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		for x := img.Rect.Min.X; x < img.Rect.Max.X; x++ {
			if img.RGBAAt(x, y).A == 0 {
				continue
			}
			r = r.Union(image.Rect(x, y, x+1, y+1))
		}
	}
	return r
}

func maxAlpha(img *image.RGBA) uint8 {
	var m uint8
	for i := 3; i < len(img.Pix); i += 4 {
		m = max(m, img.Pix[i])
	}
	return m
}

func TestPlace(t *testing.T) {
	const W, H, w, h = 1000, 800, 200, 100
	tests := []struct {
		pos  constants.Position
		want image.Point
	}{
		{constants.PositionCenter, image.Pt(400, 350)},
		{constants.PositionTopLeft, image.Pt(10, 10)},
		{constants.PositionTopRight, image.Pt(790, 10)},
		{constants.PositionBottomLeft, image.Pt(10, 690)},
		{constants.PositionBottomRight, image.Pt(790, 690)},
		{constants.PositionDiagonal, image.Pt(400, 350)},
	}
	for _, tt := range tests {
		if got := Place(tt.pos, W, H, w, h); got != tt.want {
			t.Errorf("Place(%s) = %v, want %v", tt.pos, got, tt.want)
		}
	}
}

func TestTextSizes(t *testing.T) {
	tests := []struct {
		name string
		got  int
		want int
	}{
		{"regular", TextSize(1240, 12), 103},
		{"regular floor", TextSize(50, 12), 10},
		{"regular ceiling", TextSize(5000, 2), 200},
		{"diagonal", DiagonalSize(1240, 1754, 12), 179},
		{"diagonal floor", DiagonalSize(300, 400, 100), 50},
		{"diagonal ceiling", DiagonalSize(3000, 4000, 1), 500},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestOverlay_TextAlpha(t *testing.T) {
	for _, tr := range []int{0, 1, 33, 50, 99, 100} {
		spec := textSpec("HI", tr, constants.PositionCenter)
		c := newCompositor(t, spec)
		got := int(maxAlpha(c.Overlay(1000, 600)))
		want := int(math.Round(255 * float64(tr) / 100))
		// glyph interiors may rasterize one step below full coverage
		if got > want || got < want-1 || (tr == 0 && got != 0) {
			t.Errorf("transparency %d: max alpha = %d, want %d", tr, got, want)
		}
	}
}

func TestOverlay_TextPositions(t *testing.T) {
	const W, H = 1200, 900
	for _, pos := range []constants.Position{
		constants.PositionCenter,
		constants.PositionTopLeft,
		constants.PositionTopRight,
		constants.PositionBottomLeft,
		constants.PositionBottomRight,
	} {
		c := newCompositor(t, textSpec("DRAFT", 100, pos))
		face, err := c.face(TextSize(W, 5))
		if err != nil {
			t.Fatalf("face: %v", err)
		}
		ink := inkBox(face, "DRAFT")
		want := Place(pos, W, H, ink.Dx(), ink.Dy())
		_ = face.Close()

		got := inkBounds(c.Overlay(W, H))
		if got.Empty() {
			t.Fatalf("%s: nothing drawn", pos)
		}
		if abs(got.Min.X-want.X) > 1 || abs(got.Min.Y-want.Y) > 1 {
			t.Errorf("%s: ink top-left = %v, want %v", pos, got.Min, want)
		}
		if got.Max.X > want.X+ink.Dx()+1 || got.Max.Y > want.Y+ink.Dy()+1 {
			t.Errorf("%s: ink %v exceeds box at %v size %dx%d", pos, got, want, ink.Dx(), ink.Dy())
		}
	}
}

func TestTextCanvas_NeverClipsDiagonalText(t *testing.T) {
	const W, H = 400, 300
	c := newCompositor(t, textSpec("x", 100, constants.PositionDiagonal))
	src := image.NewUniform(color.NRGBA{A: 0xff})

	for n := 1; n <= 200; n++ {
		text := strings.Repeat("Wg", n)[:n]
		face, err := c.face(DiagonalSize(W, H, n))
		if err != nil {
			t.Fatalf("face: %v", err)
		}
		canvas := textCanvas(face, text, src)

		// render again with generous padding; nothing may fall outside the canvas area.
		const pad = 8
		ink := inkBox(face, text)
		wide := image.NewRGBA(image.Rect(0, 0, ink.Dx()+2*pad, ink.Dy()+2*pad))
		renderText(wide, face, text, src, image.Pt(pad, pad))
		_ = face.Close()

		inside := image.Rect(pad-1, pad-1, pad-1+canvas.Rect.Dx(), pad-1+canvas.Rect.Dy())
		if got := inkBounds(wide); !got.In(inside) {
			t.Fatalf("len %d: ink %v not inside canvas area %v", n, got, inside)
		}

		// the conceptual canvas is at least twice the page and grows with the text
		cw, ch := max(2*W, canvas.Rect.Dx()), max(2*H, canvas.Rect.Dy())
		rw, rh := rotatedBounds(float64(canvas.Rect.Dx()), float64(canvas.Rect.Dy()), math.Pi/4)
		cbw, cbh := rotatedBounds(float64(cw), float64(ch), math.Pi/4)
		if rw > cbw || rh > cbh {
			t.Fatalf("len %d: rotated text %.0fx%.0f exceeds rotated canvas %.0fx%.0f", n, rw, rh, cbw, cbh)
		}
	}
}

func TestDiagonalTransform_CentersOnPage(t *testing.T) {
	const tw, th, W, H = 600, 80, 1240, 1754
	m := diagonalTransform(tw, th, W, H)
	apply := func(x, y float64) (float64, float64) {
		return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
	}

	cx, cy := apply(tw/2, th/2)
	if math.Abs(cx-W/2) > 1e-9 || math.Abs(cy-H/2) > 1e-9 {
		t.Fatalf("text center maps to (%f, %f), want (%d, %d)", cx, cy, W/2, H/2)
	}
	// the right edge of the text rises toward the top right corner
	rx, ry := apply(tw, th/2)
	if rx <= cx || ry >= cy {
		t.Fatalf("rotation is not counter-clockwise: right edge at (%f, %f)", rx, ry)
	}

	minX, minY, maxX, maxY := math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)
	for _, p := range [][2]float64{{0, 0}, {tw, 0}, {0, th}, {tw, th}} {
		x, y := apply(p[0], p[1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	bw, bh := rotatedBounds(tw, th, math.Pi/4)
	if math.Abs((maxX-minX)-bw) > 1e-6 || math.Abs((maxY-minY)-bh) > 1e-6 {
		t.Fatalf("transformed extent %fx%f, want %fx%f", maxX-minX, maxY-minY, bw, bh)
	}
}

func TestOverlay_Diagonal(t *testing.T) {
	const W, H = 800, 600
	c := newCompositor(t, textSpec("CONFIDENTIAL", 100, constants.PositionDiagonal))
	overlay := c.Overlay(W, H)
	got := inkBounds(overlay)
	if got.Empty() {
		t.Fatal("nothing drawn")
	}
	if got.Min.X <= 0 || got.Min.Y <= 0 || got.Max.X >= W || got.Max.Y >= H {
		t.Fatalf("diagonal ink %v touches the page edge", got)
	}

	// the ink stays inside the rotated box of the text canvas centered on the page
	face, err := c.face(DiagonalSize(W, H, len("CONFIDENTIAL")))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = face.Close() }()
	canvas := textCanvas(face, "CONFIDENTIAL", image.NewUniform(color.Black))
	bw, bh := rotatedBounds(float64(canvas.Rect.Dx()), float64(canvas.Rect.Dy()), math.Pi/4)
	box := image.Rect(
		int(math.Floor((W-bw)/2))-1, int(math.Floor((H-bh)/2))-1,
		int(math.Ceil((W+bw)/2))+1, int(math.Ceil((H+bh)/2))+1,
	)
	if !got.In(box) {
		t.Errorf("diagonal ink %v falls outside the rotated canvas box %v", got, box)
	}
}

func TestDiagonalTransform_SolidCanvas(t *testing.T) {
	const tw, th, W, H = 300, 60, 800, 600
	canvas := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.Draw(canvas, canvas.Rect, image.NewUniform(color.Black), image.Point{}, draw.Src)
	overlay := image.NewRGBA(image.Rect(0, 0, W, H))
	draw.BiLinear.Transform(overlay, diagonalTransform(tw, th, W, H), canvas, canvas.Rect, draw.Over, nil)

	got := inkBounds(overlay)
	bw, bh := rotatedBounds(tw, th, math.Pi/4)
	if math.Abs(float64(got.Dx())-bw) > 3 || math.Abs(float64(got.Dy())-bh) > 3 {
		t.Errorf("rotated extent %dx%d, want about %.0fx%.0f", got.Dx(), got.Dy(), bw, bh)
	}
	midX, midY := (got.Min.X+got.Max.X)/2, (got.Min.Y+got.Max.Y)/2
	if abs(midX-W/2) > 2 || abs(midY-H/2) > 2 {
		t.Errorf("rotated canvas centered at (%d, %d), want (%d, %d)", midX, midY, W/2, H/2)
	}
}

func TestScaleToFit(t *testing.T) {
	tests := []struct {
		W, H, ww, wh int
		want         image.Point
	}{
		{1000, 800, 200, 100, image.Pt(1000, 500)},
		{100, 100, 300, 50, image.Pt(100, 16)},
		{1240, 1754, 512, 512, image.Pt(1240, 1240)},
		{100, 100, 0, 10, image.Point{}},
	}
	for _, tt := range tests {
		if got := ScaleToFit(tt.W, tt.H, tt.ww, tt.wh); got != tt.want {
			t.Errorf("ScaleToFit(%d,%d,%d,%d) = %v, want %v", tt.W, tt.H, tt.ww, tt.wh, got, tt.want)
		}
	}
	for W := 50; W < 2000; W += 97 {
		for ww := 1; ww < 3000; ww += 211 {
			got := ScaleToFit(W, 1000, ww, 333)
			if got.X > W || got.Y > 1000 {
				t.Fatalf("ScaleToFit(%d,1000,%d,333) = %v exceeds page", W, ww, got)
			}
		}
	}
}

func writePNG(t *testing.T, w, h int, c color.Color) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	path := filepath.Join(t.TempDir(), "mark.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer func() { _ = f.Close() }()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func TestOverlay_Image(t *testing.T) {
	path := writePNG(t, 20, 10, color.NRGBA{B: 0xff, A: 0xff})

	for _, tc := range []struct {
		transparency int
		want         uint8
	}{{100, 255}, {50, 128}} {
		c := newCompositor(t, entity.WatermarkSpec{
			ImagePath:    path,
			Transparency: tc.transparency,
			Position:     constants.PositionCenter,
		})
		overlay := c.Overlay(100, 100)

		// scaled to 100x50 and centered vertically
		if got := inkBounds(overlay); got != image.Rect(0, 25, 100, 75) {
			t.Fatalf("image placed at %v, want (0,25)-(100,75)", got)
		}
		px := overlay.RGBAAt(50, 50)
		if d := int(px.A) - int(tc.want); d < -1 || d > 1 {
			t.Errorf("transparency %d: alpha = %d, want %d", tc.transparency, px.A, tc.want)
		}
		if px.R != 0 || px.B == 0 {
			t.Errorf("unexpected color %v", px)
		}
	}
}

func TestApply_Opaque(t *testing.T) {
	page := image.NewNRGBA(image.Rect(0, 0, 300, 200))
	page.Set(5, 5, color.NRGBA{G: 0xff, A: 0xff})

	c := newCompositor(t, textSpec("SAMPLE", 50, constants.PositionBottomRight))
	out := c.Apply(page)
	if out.Rect != image.Rect(0, 0, 300, 200) {
		t.Fatalf("bounds = %v", out.Rect)
	}
	for i := 3; i < len(out.Pix); i += 4 {
		if out.Pix[i] != 0xff {
			t.Fatalf("pixel %d has alpha %d", i/4, out.Pix[i])
		}
	}
	if got := out.RGBAAt(5, 5); got != (color.RGBA{G: 0xff, A: 0xff}) {
		t.Errorf("page content not preserved: %v", got)
	}
	if got := out.RGBAAt(150, 0); got != (color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}) {
		t.Errorf("transparent page pixel should become white, got %v", got)
	}
}

func TestApply_NoWatermark(t *testing.T) {
	page := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for i := range page.Pix {
		page.Pix[i] = 0xff
	}
	page.SetRGBA(3, 4, color.RGBA{R: 9, G: 8, B: 7, A: 0xff})

	c := newCompositor(t, entity.WatermarkSpec{})
	out := c.Apply(page)
	for i := range out.Pix {
		if out.Pix[i] != page.Pix[i] {
			t.Fatalf("byte %d changed: %d -> %d", i, page.Pix[i], out.Pix[i])
		}
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := New(entity.WatermarkSpec{ImagePath: filepath.Join(t.TempDir(), "missing.png")}, "", nil)
	if common.CodeOf(err) != common.CodeConfig {
		t.Errorf("missing image: expected config error, got %v", err)
	}
	_, err = New(entity.WatermarkSpec{Text: "x"}, filepath.Join(t.TempDir(), "missing.ttf"), nil)
	if common.CodeOf(err) != common.CodeConfig {
		t.Errorf("missing font: expected config error, got %v", err)
	}
	bad := filepath.Join(t.TempDir(), "bad.ttf")
	if err := os.WriteFile(bad, []byte("not a font"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = New(entity.WatermarkSpec{Text: "x"}, bad, nil)
	if common.CodeOf(err) != common.CodeConfig {
		t.Errorf("bad font: expected config error, got %v", err)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
