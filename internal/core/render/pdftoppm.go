package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/core/runner"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
)

// Pdftoppm renders through poppler's pdftoppm into a scratch directory of PNGs,
// then decodes them one at a time.
type Pdftoppm struct {
	bin    string
	tmpDir string
	runner runner.Runner
	logger *slog.Logger
}

func NewPdftoppm(cfg Config, r runner.Runner, logger *slog.Logger) *Pdftoppm {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	return &Pdftoppm{bin: cfg.Pdftoppm, tmpDir: cfg.TmpDir, runner: r, logger: logger}
}

func (p *Pdftoppm) Open(ctx context.Context, path string, dpi int) (PageSource, error) {
	if err := checkDPI(path, dpi); err != nil {
		return nil, err
	}
	tmpDir, err := os.MkdirTemp(p.tmpDir, "wm-render-*")
	if err != nil {
		return nil, common.IOError("create render dir for", path, err)
	}
	cleanup := func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			p.logger.Warn("failed to remove render dir", "dir", tmpDir, "error", err)
		}
	}

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 150 -png <in.pdf> <tmp/page>
	_, errb, err := p.runner.Run(ctx, p.bin, p.logger, "-r", strconv.Itoa(dpi), "-png", path, prefix)
	if err != nil {
		cleanup()
		return nil, common.RenderError(path, fmt.Errorf("pdftoppm: %w: %s", err, runner.Truncate(strings.TrimSpace(string(errb)), 2<<10)))
	}

	// collect generated pngs (page-1.png or zero padded page-01.png, ...)
	matches, _ := filepath.Glob(prefix + "-*.png")
	if len(matches) == 0 {
		cleanup()
		return nil, common.RenderError(path, errors.New("pdftoppm produced no images"))
	}
	sort.Slice(matches, func(i, j int) bool {
		return pageNumber(matches[i]) < pageNumber(matches[j])
	})

	p.logger.Debug("rasterized document", "path", path, "dpi", dpi, "pages", len(matches))
	return &pngPages{path: path, files: matches, cleanup: cleanup}, nil
}

func pageNumber(file string) int {
	base := strings.TrimSuffix(filepath.Base(file), ".png")
	i := strings.LastIndexByte(base, '-')
	n, err := strconv.Atoi(base[i+1:])
	if err != nil {
		return -1
	}
	return n
}

type pngPages struct {
	path    string
	files   []string
	next    int
	cleanup func()
	closed  bool
}

func (s *pngPages) Len() int { return len(s.files) }

func (s *pngPages) Next() (entity.PageBuffer, error) {
	if s.closed || s.next >= len(s.files) {
		return entity.PageBuffer{}, io.EOF
	}
	idx := s.next
	s.next++
	img, err := decodePNG(s.files[idx])
	if err != nil {
		return entity.PageBuffer{}, common.RenderError(s.path, fmt.Errorf("decode page %d: %w", idx+1, err))
	}
	// the PNG is no longer needed once decoded
	_ = os.Remove(s.files[idx])
	return entity.PageBuffer{Index: idx, Image: img}, nil
}

func (s *pngPages) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cleanup()
	return nil
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	return png.Decode(f)
}
