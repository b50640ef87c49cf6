package render

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/gen2brain/go-fitz"

	"github.com/joseph-ayodele/pdf-watermarker/internal/common"
	"github.com/joseph-ayodele/pdf-watermarker/internal/entity"
)

// MuPDF renders in-process through go-fitz, one page per Next call.
type MuPDF struct {
	logger *slog.Logger
}

func NewMuPDF(logger *slog.Logger) *MuPDF {
	if logger == nil {
		logger = slog.Default()
	}
	return &MuPDF{logger: logger}
}

func (m *MuPDF) Open(_ context.Context, path string, dpi int) (PageSource, error) {
	if err := checkDPI(path, dpi); err != nil {
		return nil, err
	}
	doc, err := fitz.New(path)
	if err != nil {
		return nil, common.RenderError(path, fmt.Errorf("mupdf open: %w", err))
	}
	n := doc.NumPage()
	if n == 0 {
		_ = doc.Close()
		return nil, common.RenderError(path, fmt.Errorf("mupdf: document has no pages"))
	}
	m.logger.Debug("opened document", "path", path, "dpi", dpi, "pages", n)
	return &fitzPages{path: path, doc: doc, pages: n, dpi: float64(dpi)}, nil
}

type fitzPages struct {
	path   string
	doc    *fitz.Document
	pages  int
	next   int
	dpi    float64
	closed bool
}

func (s *fitzPages) Len() int { return s.pages }

func (s *fitzPages) Next() (entity.PageBuffer, error) {
	if s.closed || s.next >= s.pages {
		return entity.PageBuffer{}, io.EOF
	}
	idx := s.next
	s.next++
	img, err := s.doc.ImageDPI(idx, s.dpi)
	if err != nil {
		return entity.PageBuffer{}, common.RenderError(s.path, fmt.Errorf("mupdf page %d: %w", idx+1, err))
	}
	return entity.PageBuffer{Index: idx, Image: img}, nil
}

func (s *fitzPages) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.doc.Close()
}
