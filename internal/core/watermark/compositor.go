// Package watermark composites text and image watermarks onto rasterized pages.
//
// A Compositor is built once per job. Building it loads the font and decodes the
// watermark image; after that Apply does no I/O.
package watermark

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	_ "golang.org/x/image/webp"

	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
)

// Margin is the inset, in pixels, of the four corner positions.
const Margin = 10

type Compositor struct {
	spec   entity.WatermarkSpec
	font   *opentype.Font
	mark   image.Image // decoded watermark image, nil when none
	logger *slog.Logger

	mu      sync.Mutex
	overlay *image.RGBA // overlay for the most recent page size
}

// New loads fontPath (Go Regular when empty) and decodes spec.ImagePath, if any.
func New(spec entity.WatermarkSpec, fontPath string, logger *slog.Logger) (*Compositor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Compositor{spec: spec, logger: logger}

	if spec.Text != "" {
		data := goregular.TTF
		if fontPath != "" {
			b, err := os.ReadFile(fontPath)
			if err != nil {
				return nil, common.NewAppError(common.CodeConfig, "read font "+fontPath, err)
			}
			data = b
		}
		f, err := opentype.Parse(data)
		if err != nil {
			return nil, common.NewAppError(common.CodeConfig, "parse font", err)
		}
		c.font = f
	}

	if spec.ImagePath != "" {
		img, err := decodeImage(spec.ImagePath)
		if err != nil {
			return nil, common.NewAppError(common.CodeConfig, "decode watermark image "+spec.ImagePath, err)
		}
		c.mark = img
		logger.Debug("loaded watermark image", "path", spec.ImagePath,
			"width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	}
	return c, nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%s image has no pixels", format)
	}
	return img, nil
}

// Apply composites the watermark onto page and returns an opaque RGBA copy.
// The page itself is not modified.
func (c *Compositor) Apply(page image.Image) *image.RGBA {
	b := page.Bounds()
	r := image.Rect(0, 0, b.Dx(), b.Dy())

	out := image.NewRGBA(r)
	draw.Draw(out, r, image.White, image.Point{}, draw.Src)
	draw.Draw(out, r, page, b.Min, draw.Over)
	if c.spec.Enabled() {
		draw.Draw(out, r, c.Overlay(b.Dx(), b.Dy()), image.Point{}, draw.Over)
	}
	return out
}

// Overlay returns the transparent watermark layer for a W x H page. The last
// layer is cached since pages within a document usually share a size.
func (c *Compositor) Overlay(w, h int) *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overlay != nil && c.overlay.Rect.Dx() == w && c.overlay.Rect.Dy() == h {
		return c.overlay
	}

	overlay := image.NewRGBA(image.Rect(0, 0, w, h))
	if c.spec.Text != "" && c.font != nil {
		if err := c.drawText(overlay); err != nil {
			c.logger.Warn("failed to draw text watermark", "error", err)
		}
	}
	if c.mark != nil {
		c.drawImage(overlay)
	}
	c.overlay = overlay
	return overlay
}

func (c *Compositor) drawImage(overlay *image.RGBA) {
	w, h := overlay.Rect.Dx(), overlay.Rect.Dy()
	mb := c.mark.Bounds()
	size := ScaleToFit(w, h, mb.Dx(), mb.Dy())
	if size.X == 0 || size.Y == 0 {
		return
	}

	scaled := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.CatmullRom.Scale(scaled, scaled.Rect, c.mark, mb, draw.Src, nil)

	at := Place(c.spec.Position, w, h, size.X, size.Y)
	mask := image.NewUniform(color.Alpha{A: c.spec.Alpha()})
	draw.DrawMask(overlay, image.Rectangle{Min: at, Max: at.Add(size)}, scaled, image.Point{}, mask, image.Point{}, draw.Over)
}

// ScaleToFit returns the largest (w, h) with the watermark's aspect ratio that
// fits a W x H page: s = min(W/ww, H/wh).
func ScaleToFit(pageW, pageH, ww, wh int) image.Point {
	if ww <= 0 || wh <= 0 {
		return image.Point{}
	}
	s := min(float64(pageW)/float64(ww), float64(pageH)/float64(wh))
	return image.Pt(int(float64(ww)*s), int(float64(wh)*s))
}
