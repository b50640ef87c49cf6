// Package render rasterizes PDF documents into ordered page images.
package render

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/pdf-watermarker/constants"
	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/runner"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
)

// Rasterizer opens a PDF as a sequence of pages rendered at dpi.
type Rasterizer interface {
	Open(ctx context.Context, path string, dpi int) (PageSource, error)
}

// PageSource yields pages in document order. It is finite and not restartable:
// Next returns io.EOF once every page has been produced. Close releases any
// temporaries and may be called at any point.
type PageSource interface {
	Len() int
	Next() (entity.PageBuffer, error)
	Close() error
}

type Config struct {
	Engine   string // "pdftoppm" (default) | "mupdf"
	Pdftoppm string // binary name or absolute path; if empty -> "pdftoppm"
	TmpDir   string // parent for per-document scratch dirs; empty -> os.TempDir()
}

// New returns the rasterizer for cfg.Engine.
func New(cfg Config, logger *slog.Logger) (Rasterizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Engine {
	case "", "pdftoppm":
		return NewPdftoppm(cfg, runner.Exec{}, logger), nil
	case "mupdf":
		return NewMuPDF(logger), nil
	default:
		return nil, common.NewAppError(common.CodeConfig, fmt.Sprintf("unknown render engine %q", cfg.Engine), common.ErrInvalidInput)
	}
}

func checkDPI(path string, dpi int) error {
	if dpi < constants.MinDPI || dpi > constants.MaxDPI {
		return common.RenderError(path, fmt.Errorf("dpi %d outside [%d, %d]", dpi, constants.MinDPI, constants.MaxDPI))
	}
	return nil
}
